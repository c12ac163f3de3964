package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	macaroon "gopkg.in/macaroon.v2"
)

const (
	macaroonLocation   = "ctwallet"
	macaroonRootKeyLen = 32
)

// caveatPrefix marks the one first-party caveat this server attaches:
// an expiry, "expiry=<unix seconds>". A single-process watch-only
// server has no third-party service to discharge a caveat against, so
// the bakery/discharge machinery macaroon-bakery.v2 and aperture
// provide goes unused here; see DESIGN.md's dropped-dependency notes.
const caveatPrefix = "expiry="

// MacaroonService bakes, persists, and verifies the single admin
// macaroon this server's RPCs are gated behind. Grounded on the
// gopkg.in/macaroon.v2 root-key/caveat model directly, rather than
// macaroon-bakery.v2's multi-service discharge flow, which this
// single-process server has no use for.
type MacaroonService struct {
	rootKey []byte
	mac     *macaroon.Macaroon
}

// rootKeySuffix names the sidecar file NewMacaroonService stores the
// root key in, next to the baked macaroon itself at path -- the root
// key never appears inside the macaroon's own wire encoding, so it
// needs separate, more tightly held storage (0600, same as lnd's
// macaroons.db key entry, just flat-file instead of a kvdb bucket).
const rootKeySuffix = ".key"

// NewMacaroonService loads the admin macaroon and its root key from
// path and path+".key", baking and writing a fresh pair (with an
// expiry caveat ttl out, or none if ttl is zero) if they do not exist
// yet.
func NewMacaroonService(path string, ttl time.Duration) (*MacaroonService, error) {
	keyPath := path + rootKeySuffix

	rootKey, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("walletrpc: read macaroon file: %w", err)
		}
		var mac macaroon.Macaroon
		if err := mac.UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("walletrpc: unmarshal macaroon: %w", err)
		}
		return &MacaroonService{rootKey: rootKey, mac: &mac}, nil

	case os.IsNotExist(err):
		return bakeMacaroonService(path, keyPath, ttl)

	default:
		return nil, fmt.Errorf("walletrpc: read macaroon root key: %w", err)
	}
}

func bakeMacaroonService(path, keyPath string, ttl time.Duration) (*MacaroonService, error) {
	rootKey := make([]byte, macaroonRootKeyLen)
	if _, err := rand.Read(rootKey); err != nil {
		return nil, fmt.Errorf("walletrpc: generate macaroon root key: %w", err)
	}

	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("walletrpc: generate macaroon id: %w", err)
	}

	mac, err := macaroon.New(rootKey, id, macaroonLocation, macaroon.LatestVersion)
	if err != nil {
		return nil, fmt.Errorf("walletrpc: bake macaroon: %w", err)
	}

	if ttl > 0 {
		if err := mac.AddFirstPartyCaveat([]byte(fmt.Sprintf("%s%d", caveatPrefix, time.Now().Add(ttl).Unix()))); err != nil {
			return nil, fmt.Errorf("walletrpc: add expiry caveat: %w", err)
		}
	}

	raw, err := mac.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("walletrpc: marshal macaroon: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("walletrpc: create macaroon directory: %w", err)
	}
	if err := os.WriteFile(keyPath, rootKey, 0o600); err != nil {
		return nil, fmt.Errorf("walletrpc: write macaroon root key: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("walletrpc: write macaroon: %w", err)
	}

	return &MacaroonService{rootKey: rootKey, mac: mac}, nil
}

// Hex returns the admin macaroon's wire encoding as hex, the form a
// CLI client stores and sends back as an authorization header.
func (m *MacaroonService) Hex() (string, error) {
	raw, err := m.mac.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("walletrpc: marshal macaroon: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Verify checks a hex-encoded macaroon presented by a caller against
// the root key and any expiry caveat. Returns nil if valid.
func (m *MacaroonService) Verify(hexMac string) error {
	raw, err := hex.DecodeString(strings.TrimSpace(hexMac))
	if err != nil {
		return fmt.Errorf("walletrpc: invalid macaroon encoding: %w", err)
	}

	var presented macaroon.Macaroon
	if err := presented.UnmarshalBinary(raw); err != nil {
		return fmt.Errorf("walletrpc: invalid macaroon: %w", err)
	}

	return presented.Verify(m.rootKey, checkCaveat, nil)
}

// checkCaveat validates the one caveat kind this server attaches.
func checkCaveat(caveat []byte) error {
	s := string(caveat)
	if !strings.HasPrefix(s, caveatPrefix) {
		return fmt.Errorf("walletrpc: unrecognised caveat %q", s)
	}
	var expiry int64
	if _, err := fmt.Sscanf(strings.TrimPrefix(s, caveatPrefix), "%d", &expiry); err != nil {
		return fmt.Errorf("walletrpc: malformed expiry caveat %q", s)
	}
	if time.Now().Unix() > expiry {
		return fmt.Errorf("walletrpc: macaroon expired")
	}
	return nil
}
