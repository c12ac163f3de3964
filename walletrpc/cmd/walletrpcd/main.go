// Command walletrpcd runs the watch-only wallet engine as a long-
// lived daemon: it parses a descriptor, scans a chosen chain backend,
// persists state, and serves the wallet facade over gRPC and REST.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lwkgo/ctwallet/chain"
	"github.com/lwkgo/ctwallet/chain/electrum"
	"github.com/lwkgo/ctwallet/chain/esplora"
	"github.com/lwkgo/ctwallet/chain/waterfalls"
	"github.com/lwkgo/ctwallet/descriptor"
	"github.com/lwkgo/ctwallet/log"
	"github.com/lwkgo/ctwallet/persist"
	"github.com/lwkgo/ctwallet/walletrpc/server"
	"github.com/lwkgo/ctwallet/wollet"
)

var mainLog = log.NewSubLogger("MAIN")

func main() {
	if err := run(); err != nil {
		mainLog.Errorf("%v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	chainParams, netParams, err := cfg.networkParams()
	if err != nil {
		return err
	}

	desc, err := descriptor.Parse(cfg.Descriptor, chainParams)
	if err != nil {
		return fmt.Errorf("walletrpcd: parse descriptor: %w", err)
	}

	backend, err := buildBackend(cfg)
	if err != nil {
		return err
	}
	if closer, ok := backend.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	persister, err := buildPersister(cfg)
	if err != nil {
		return err
	}
	defer persister.Close()

	w, err := wollet.New(wollet.Config{
		Descriptor: desc,
		Network:    netParams,
		Persister:  persister,
		Primitives: unimplementedPrimitives{},
	})
	if err != nil {
		return fmt.Errorf("walletrpcd: construct wallet: %w", err)
	}

	srv, err := server.New(server.Config{
		GRPCListenAddr:    cfg.GRPCListen,
		RESTListenAddr:    cfg.RESTListen,
		MetricsListenAddr: cfg.MetricsListen,
		TLSCertPath:       filepath.Join(cfg.DataDir, "tls.cert"),
		TLSKeyPath:        filepath.Join(cfg.DataDir, "tls.key"),
		TLSAutoGenerate:   true,
		TLSDomain:         cfg.TLSDomain,
		ACMEEmail:         cfg.ACMEEmail,
		MacaroonPath:      filepath.Join(cfg.DataDir, "admin.macaroon"),
		Descriptor:        desc,
		Network:           netParams,
		ChainParams:       chainParams,
		Persister:         persister,
		Primitives:        unimplementedPrimitives{},
		Backend:           backend,
		SyncInterval:      cfg.SyncInterval,
	}, w)
	if err != nil {
		return fmt.Errorf("walletrpcd: construct server: %w", err)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("walletrpcd: start server: %w", err)
	}

	macHex, err := srv.MacaroonHex()
	if err != nil {
		return fmt.Errorf("walletrpcd: read admin macaroon: %w", err)
	}
	mainLog.Infof("admin macaroon (also written to %s): %s", filepath.Join(cfg.DataDir, "admin.macaroon"), macHex)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	mainLog.Infof("shutting down")
	return srv.Stop()
}

func buildBackend(cfg *daemonConfig) (chain.Backend, error) {
	switch cfg.Backend {
	case "electrum":
		return electrum.Dial(electrum.DefaultConfig(cfg.BackendAddr, cfg.BackendTLS))
	case "esplora":
		return esplora.New(esplora.DefaultConfig(cfg.BackendAddr)), nil
	case "waterfalls":
		return waterfalls.New(waterfalls.DefaultConfig(cfg.BackendAddr)), nil
	default:
		return nil, fmt.Errorf("walletrpcd: unknown backend %q", cfg.Backend)
	}
}

func buildPersister(cfg *daemonConfig) (persist.Persister, error) {
	var sealer persist.Sealer
	if cfg.SealSecretHex != "" {
		secret, err := hex.DecodeString(cfg.SealSecretHex)
		if err != nil {
			return nil, fmt.Errorf("walletrpcd: decode seal_secret_hex: %w", err)
		}
		sealer, err = persist.NewHKDFSealer(secret)
		if err != nil {
			return nil, fmt.Errorf("walletrpcd: init sealer: %w", err)
		}
	}
	return persist.NewFilePersister(cfg.DataDir, sealer)
}
