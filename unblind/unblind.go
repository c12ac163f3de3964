// Package unblind implements the unblinder. It does
// not implement confidential-transaction cryptography itself --
// range proofs, surjection proofs, and ECDH nonce derivation are
// consumed through the Primitives interface, exactly the way
// lightweight-wallet/proofconfig/config.go wraps proof.BaseVerifier
// instead of reimplementing proof verification. A real deployment
// plugs in a primitives implementation backed by libsecp256k1-zkp (or
// an equivalent); this package only owns the wallet-facing contract
// around it (key-variant trial order, the cannot-unblind tolerance
// set, reunblind on key-material change).
package unblind

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/lwkgo/ctwallet/chaintypes"
)

// Secrets is what a successful unblind recovers.
type Secrets struct {
	Asset        chaintypes.AssetID
	Value        uint64
	AssetBlinder [32]byte
	ValueBlinder [32]byte
}

// ConfidentialOutput is the raw on-chain material an unblind attempt
// is performed against.
type ConfidentialOutput struct {
	Script          []byte
	AssetCommitment [33]byte
	ValueCommitment [33]byte
	Nonce           [33]byte // ephemeral pubkey carried in the output
	RangeProof      []byte
	SurjectionProof []byte
}

// Primitives is the confidential-transaction cryptography this
// package consumes rather than implements. A conforming implementation
// wraps libsecp256k1-zkp (or the Go equivalent a deployment chooses).
type Primitives interface {
	// ECDHNonce derives the shared nonce used to unblind a range
	// proof, given our blinding private key and the output's
	// ephemeral public nonce.
	ECDHNonce(blindingPriv *btcec.PrivateKey, outputNonce [33]byte) ([32]byte, error)

	// UnblindRangeproof recovers (value, valueBlinder, asset,
	// assetBlinder) from a range proof given the ECDH nonce and the
	// output's commitments/script. Returns an error if the proof does
	// not decrypt (wrong key) or does not verify (corrupt/malicious).
	UnblindRangeproof(
		nonce [32]byte, out ConfidentialOutput,
	) (value uint64, valueBlinder [32]byte, asset chaintypes.AssetID, assetBlinder [32]byte, err error)
}

// Sentinel failures.
var (
	// ErrNotForUs means the output's script does not belong to this
	// descriptor at all -- the unblinder was never going to succeed.
	ErrNotForUs = errors.New("unblind: output script not owned by this descriptor")

	// ErrProofInvalid means a blinding-key variant decrypted the
	// nonce but the range proof did not verify against it -- almost
	// always a sign the sender used the wrong key, not that the chain
	// data is corrupt.
	ErrProofInvalid = errors.New("unblind: range proof failed to verify under any key variant")

	// ErrExplicit means the output is not confidential at all; the
	// caller should read asset/value directly instead of unblinding.
	ErrExplicit = errors.New("unblind: output is explicit, not confidential")
)

// BlindingKeySource supplies candidate blinding private keys to try,
// in order, for a given script. A descriptor normally has exactly one
// variant; a caller-replaced blinding pubkey is
// handled by UnblindWith instead, which bypasses key discovery
// entirely.
type BlindingKeySource interface {
	BlindingKeysFor(script []byte) []*btcec.PrivateKey
}

// Unblinder recovers confidential-output secrets for a descriptor.
type Unblinder struct {
	keys  BlindingKeySource
	prim  Primitives
}

// New returns an Unblinder using prim for the underlying
// cryptography and keys to discover candidate blinding keys per
// script.
func New(keys BlindingKeySource, prim Primitives) *Unblinder {
	return &Unblinder{keys: keys, prim: prim}
}

// Unblind attempts every blinding-key variant the descriptor offers
// for out.Script, in order. An output that is ours
// by script but fails every variant should be recorded by the caller
// in a "cannot-unblind" set rather than rejecting the whole
// transaction (a sender may simply have used the wrong key).
func (u *Unblinder) Unblind(out ConfidentialOutput) (Secrets, error) {
	candidates := u.keys.BlindingKeysFor(out.Script)
	if len(candidates) == 0 {
		return Secrets{}, ErrNotForUs
	}

	var lastErr error
	for _, priv := range candidates {
		secrets, err := u.unblindWithKey(priv, out)
		if err == nil {
			return secrets, nil
		}
		lastErr = err
	}
	return Secrets{}, fmt.Errorf("%w: %v", ErrProofInvalid, lastErr)
}

// UnblindWith attempts a single caller-supplied blinding private key,
// bypassing descriptor-driven key discovery. Used when the wallet's
// own address had its blinding pubkey replaced by a
// counterparty-supplied key.
func (u *Unblinder) UnblindWith(priv *btcec.PrivateKey, out ConfidentialOutput) (Secrets, error) {
	return u.unblindWithKey(priv, out)
}

func (u *Unblinder) unblindWithKey(priv *btcec.PrivateKey, out ConfidentialOutput) (Secrets, error) {
	nonce, err := u.prim.ECDHNonce(priv, out.Nonce)
	if err != nil {
		return Secrets{}, err
	}
	value, valueBf, asset, assetBf, err := u.prim.UnblindRangeproof(nonce, out)
	if err != nil {
		return Secrets{}, err
	}
	return Secrets{
		Asset:        asset,
		Value:        value,
		AssetBlinder: assetBf,
		ValueBlinder: valueBf,
	}, nil
}

// Reunblind reattempts unblinding every cached confidential txo in
// outputs after the caller's key material has changed (e.g.
// a new blinding key was imported). It returns the subset that newly
// succeeded, keyed by outpoint.
func (u *Unblinder) Reunblind(outputs map[chaintypes.OutPoint]ConfidentialOutput) map[chaintypes.OutPoint]Secrets {
	recovered := make(map[chaintypes.OutPoint]Secrets)
	for op, out := range outputs {
		if secrets, err := u.Unblind(out); err == nil {
			recovered[op] = secrets
		}
	}
	return recovered
}
