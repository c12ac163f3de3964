package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"

	"github.com/lwkgo/ctwallet/network"
)

// daemonConfig is walletrpcd's command-line and config-file surface,
// parsed with jessevdk/go-flags the way lnd's own lncfg.Config is --
// one struct, `long`/`description` tags, defaults set before parsing.
type daemonConfig struct {
	Network string `long:"network" description:"liquid, liquidtestnet, or elementsregtest" default:"liquid"`
	RegtestPolicyAsset string `long:"regtest_policy_asset" description:"policy asset id hex, required when network=elementsregtest"`

	Descriptor string `long:"descriptor" description:"CT descriptor string this daemon watches" required:"true"`
	DataDir    string `long:"datadir" description:"directory for the journal/snapshot persister" default:"~/.ctwallet"`

	Backend     string `long:"backend" description:"electrum, esplora, or waterfalls" default:"electrum"`
	BackendAddr string `long:"backend_addr" description:"backend address/base URL" required:"true"`
	BackendTLS  bool   `long:"backend_tls" description:"use TLS when dialing an electrum backend"`

	GRPCListen    string `long:"grpc_listen" default:"localhost:10019"`
	RESTListen    string `long:"rest_listen" default:"localhost:8449"`
	MetricsListen string `long:"metrics_listen" description:"empty disables the metrics listener"`

	TLSDomain string `long:"tls_domain" description:"public hostname to request an ACME cert for; empty uses a self-signed local cert"`
	ACMEEmail string `long:"acme_email"`

	SyncInterval time.Duration `long:"sync_interval" default:"30s"`

	SealSecretHex string `long:"seal_secret_hex" description:"hex secret sealing persisted state at rest; empty disables encryption"`
}

func loadConfig() (*daemonConfig, error) {
	cfg := &daemonConfig{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	dir, err := expandHome(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("walletrpcd: expand datadir: %w", err)
	}
	cfg.DataDir = dir

	return cfg, nil
}

func expandHome(path string) (string, error) {
	if len(path) < 2 || path[:2] != "~/" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[2:]), nil
}

// networkParams resolves cfg.Network into the descriptor-parsing
// (chaincfg.Params, for BIP32 xpub/tpub version bytes) and address-
// encoding (network.Params, for HRP/prefix constants) pair.
func (cfg *daemonConfig) networkParams() (*chaincfg.Params, network.Params, error) {
	switch cfg.Network {
	case "liquid":
		return &chaincfg.MainNetParams, network.ParamsFor(network.Liquid), nil
	case "liquidtestnet":
		return &chaincfg.TestNet3Params, network.ParamsFor(network.LiquidTestnet), nil
	case "elementsregtest":
		if cfg.RegtestPolicyAsset == "" {
			return nil, network.Params{}, fmt.Errorf("walletrpcd: --regtest_policy_asset is required for elementsregtest")
		}
		return &chaincfg.RegressionNetParams, network.ElementsRegtestParams(cfg.RegtestPolicyAsset), nil
	default:
		return nil, network.Params{}, fmt.Errorf("walletrpcd: unknown network %q", cfg.Network)
	}
}
