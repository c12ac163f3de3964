package persist

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/lwkgo/ctwallet/werror"
)

const hkdfInfo = "ctwallet/persist/sealed-store/v1"

// HKDFSealer is the default Sealer: a ChaCha20-Poly1305 AEAD keyed by
// an HKDF-SHA256 key derived from the caller-supplied secret. This
// wallet is watch-only and holds no mnemonic, so the secret a caller
// passes is the descriptor's Slip77 master blinding seed
// (descriptor.BlindingKey.Slip77Seed) or equivalent wallet-identifying
// key material -- updates persisted under one wallet secret stay
// unreadable to a session holding a different one, regardless of what
// that secret actually is.
//
// Each Seal call draws a fresh random nonce and prepends it to the
// ciphertext; Open reads it back off the front. Grounded on the
// keyring package's secret-handling discipline (never persist secret
// material in cleartext) generalised from key storage to payload
// encryption.
type HKDFSealer struct {
	aead cipher.AEAD
}

// NewHKDFSealer derives a 256-bit AEAD key from secret via
// HKDF-SHA256 and returns a Sealer backed by it. secret should be
// wallet-identifying key material that two different wallets will
// never share -- this module passes the descriptor's Slip77 master
// blinding seed.
func NewHKDFSealer(secret []byte) (*HKDFSealer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("persist: sealer secret must not be empty")
	}

	kdf := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("persist: derive sealing key: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("persist: construct aead: %w", err)
	}

	return &HKDFSealer{aead: aead}, nil
}

// Seal encrypts plaintext, returning nonce||ciphertext||tag.
func (s *HKDFSealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("persist: generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)
	return sealed, nil
}

// Open reverses Seal. A key mismatch (sealed under a different
// wallet secret) or corrupted payload both surface as
// werror.PersistError{Kind: PersistCryptoKeyMismatch} -- the AEAD tag
// check cannot itself tell the two apart, and a caller should treat
// "wrong key" and "tampered data" the same way: refuse to load.
func (s *HKDFSealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < s.aead.NonceSize() {
		return nil, werror.Wrap(&werror.PersistError{
			Kind: werror.PersistCryptoKeyMismatch,
			Err:  fmt.Errorf("sealed payload too short"),
		})
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, werror.Wrap(&werror.PersistError{
			Kind: werror.PersistCryptoKeyMismatch,
			Err:  err,
		})
	}
	return plaintext, nil
}
