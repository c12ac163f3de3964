// Package server implements the wallet engine's ambient external
// collaborator layer: a gRPC server (Prometheus-instrumented) serving
// only the health service, and a plain-Go RPCServer that wraps a
// wollet.Wollet and is reachable over REST/JSON through grpc-gateway's
// non-codegen HandlePath API, behind TLS and macaroon authentication.
//
// Grounded on lightweight-wallet/server/config.go's Config+Server+New
// wiring shape (a single Config struct, a Server holding every
// collaborator it stitches together, a New that wires them in
// dependency order) and on client/client.go's top-level assembly
// style, generalised from the stub component wiring both files show
// to an actually-listening network server.
package server

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/lwkgo/ctwallet/chain"
	"github.com/lwkgo/ctwallet/descriptor"
	"github.com/lwkgo/ctwallet/network"
	"github.com/lwkgo/ctwallet/persist"
	"github.com/lwkgo/ctwallet/scan"
	"github.com/lwkgo/ctwallet/unblind"
)

// Config is the Server's construction-time configuration.
type Config struct {
	// GRPCListenAddr is the address the gRPC listener binds to, e.g.
	// "localhost:10019".
	GRPCListenAddr string

	// RESTListenAddr is the address the REST/JSON gateway binds to. A
	// a mux at this address can share the server process's TLS
	// material, reusing the lnd-style "gRPC and REST on two ports,
	// one cert" layout.
	RESTListenAddr string

	// MetricsListenAddr, if non-empty, exposes Prometheus metrics over
	// plain HTTP (no TLS, no auth -- intended for a private scrape
	// network only).
	MetricsListenAddr string

	// TLSCertPath/TLSKeyPath locate the server's TLS material. If
	// TLSAutoGenerate is set and no pair exists at these paths yet, a
	// self-signed pair is generated and written there.
	TLSCertPath     string
	TLSKeyPath      string
	TLSAutoGenerate bool

	// TLSDomain, if non-empty, requests an ACME-managed certificate
	// for this public domain instead of the self-signed pair --
	// the deployment shape where the REST gateway sits behind a real
	// hostname rather than being reached over localhost/LAN.
	TLSDomain string
	// ACMEEmail is the contact address CertMagic's ACME issuer
	// registers the account under.
	ACMEEmail string

	// MacaroonPath locates the admin macaroon. If the file does not
	// exist, one is baked and written there on startup.
	MacaroonPath string

	// Descriptor is the watch-only descriptor this server serves.
	Descriptor *descriptor.WolletDescriptor
	// Network carries address-encoding parameters for Descriptor.
	Network network.Params
	// ChainParams is the btcsuite-shaped network parameters Descriptor
	// was parsed against, needed again here for nothing but passing
	// through to any component that still wants *chaincfg.Params.
	ChainParams *chaincfg.Params

	// Persister is optional; nil disables durability across restarts.
	Persister persist.Persister
	// Primitives is the confidential-transaction cryptography the
	// unblinder consumes.
	Primitives unblind.Primitives

	// Backend is the blockchain backend the sync loop scans against.
	Backend chain.Backend
	// ScanConfig configures the scan engine's gap-limit batching.
	ScanConfig scan.Config
	// SyncInterval is how often the background loop runs a scan round
	// once the initial full scan completes.
	SyncInterval time.Duration
}

// DefaultSyncInterval matches the cadence client/client.go's own
// notification-driven reconciliation loop settles on once polling
// (rather than push notifications) drives it.
const DefaultSyncInterval = 30 * time.Second
