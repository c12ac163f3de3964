package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/lightningnetwork/lnd/cert"
)

// selfSignedCertValidity matches lnd's own default autogenerated
// cert lifetime for a local/LAN daemon with no real hostname to
// prove possession of.
const selfSignedCertValidity = 14 * 30 * 24 * time.Hour

// tlsConfig builds the *tls.Config the gRPC and REST listeners share,
// choosing between two genuinely different TLS stories depending on
// Config.TLSDomain:
//
//   - empty (the default, local/LAN deployment): a self-signed pair
//     via lnd/cert, generated on first run and reused afterwards. No
//     certificate authority will vouch for this cert; clients pin it
//     by fingerprint, the same trust model lnd's own lndconnect QR
//     codes rely on.
//   - set (a public-hostname deployment): an ACME-issued, auto-
//     renewing certificate via certmagic, the same mechanism
//     aperture's reverse proxy uses for the LSAT-gated services it
//     fronts.
func tlsConfig(cfg Config) (*tls.Config, error) {
	if cfg.TLSDomain != "" {
		return acmeTLSConfig(cfg)
	}
	return selfSignedTLSConfig(cfg)
}

func acmeTLSConfig(cfg Config) (*tls.Config, error) {
	magic := certmagic.NewDefault()
	magic.Storage = &certmagic.FileStorage{Path: cfg.TLSCertPath}
	if cfg.ACMEEmail != "" {
		certmagic.DefaultACME.Email = cfg.ACMEEmail
	}

	if err := magic.ManageSync(context.Background(), []string{cfg.TLSDomain}); err != nil {
		return nil, fmt.Errorf("walletrpc: acquire acme certificate for %s: %w", cfg.TLSDomain, err)
	}
	return magic.TLSConfig(), nil
}

func selfSignedTLSConfig(cfg Config) (*tls.Config, error) {
	if !cfg.TLSAutoGenerate {
		certData, _, err := cert.LoadCert(cfg.TLSCertPath, cfg.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("walletrpc: load tls cert: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{certData}}, nil
	}

	if _, err := os.Stat(cfg.TLSCertPath); err == nil {
		certData, _, err := cert.LoadCert(cfg.TLSCertPath, cfg.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("walletrpc: load existing tls cert: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{certData}}, nil
	}

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	hosts := []string{"localhost", host}
	ips := []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")}

	certBytes, keyBytes, err := cert.GenCertPair(
		"ctwallet autogenerated cert", hosts, ips, nil, false,
		selfSignedCertValidity,
	)
	if err != nil {
		return nil, fmt.Errorf("walletrpc: generate self-signed cert: %w", err)
	}

	if err := cert.WriteCertPair(cfg.TLSCertPath, cfg.TLSKeyPath, certBytes, keyBytes); err != nil {
		return nil, fmt.Errorf("walletrpc: write self-signed cert: %w", err)
	}

	parsed, err := tls.X509KeyPair(certBytes, keyBytes)
	if err != nil {
		return nil, fmt.Errorf("walletrpc: parse generated cert: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{parsed}}, nil
}
