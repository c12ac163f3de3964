// Package signer implements the external-signer transport a watch-only
// wallet needs: this module never holds private keys or produces
// signatures itself, so everything here is plumbing that hands a
// PartiallySigned-eligible pset.Pset to something else that can sign,
// and folds the signatures
// it returns back in via pset.Pset.AddPartialSig.
//
// Grounded on lightweight-wallet/wallet/btcwallet/psbt.go's
// FundPsbt/SignPsbt/SignAndFinalizePsbt split: that package draws the
// same fund/sign/finalize boundary this module draws between
// txbuilder, signer, and pset.Combine/Finalize, generalised from "the
// wallet's own keys sign" to "an external collaborator signs".
package signer

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/lwkgo/ctwallet/elementstx"
	"github.com/lwkgo/ctwallet/pset"
)

// Signer hands p to an external signer and returns a copy with every
// signature the signer could produce attached via AddPartialSig.
// Inputs the signer holds no key for are left untouched -- // state machine expects a pset to pass through possibly several
// signers before Combine.
type Signer interface {
	SignPset(ctx context.Context, p *pset.Pset) (*pset.Pset, error)
}

// Sighasher computes the Elements segwit signature hash for one
// input of a transaction. Out of scope for this module to implement:
// Elements' sighash algorithm commits to the input's asset/value
// commitments, the same confidential-transaction primitive territory
// unblind.Primitives and txbuilder.Blinder already sit outside of
// (-goals: "does not re-derive cryptographic primitives
// of the underlying chain"). Consumed, not implemented, by
// SoftwareSigner.
type Sighasher interface {
	SighashForInput(tx *elementstx.Transaction, index int, prevouts []*elementstx.TxOut) ([32]byte, error)
}

// SoftwareSigner is a test/development stub: it holds real private
// keys in memory and signs with them directly, standing in for the
// hardware or remote signer a production deployment would use. Never
// meant for production key custody -- see LndSigner for a transport
// that keeps keys off this process entirely.
type SoftwareSigner struct {
	sighasher Sighasher
	// keys is keyed by the hex-encoded compressed pubkey (pset.Input's
	// PartialSigs map is keyed by the raw compressed pubkey bytes).
	keys map[string]*btcec.PrivateKey
}

// NewSoftwareSigner builds a signer holding keys, matched against
// each input's WitnessUtxo script by pay-to-witness-pubkey-hash.
func NewSoftwareSigner(sighasher Sighasher, keys []*btcec.PrivateKey) *SoftwareSigner {
	s := &SoftwareSigner{sighasher: sighasher, keys: make(map[string]*btcec.PrivateKey, len(keys))}
	for _, k := range keys {
		s.keys[hex.EncodeToString(k.PubKey().SerializeCompressed())] = k
	}
	return s
}

// SignPset signs every input whose WitnessUtxo script is a P2WPKH
// output for one of this signer's keys.
func (s *SoftwareSigner) SignPset(_ context.Context, p *pset.Pset) (*pset.Pset, error) {
	prevouts := make([]*elementstx.TxOut, len(p.Inputs))
	for i, in := range p.Inputs {
		prevouts[i] = in.WitnessUtxo
	}

	signed := *p
	signed.Inputs = make([]pset.Input, len(p.Inputs))
	copy(signed.Inputs, p.Inputs)

	for i, in := range p.Inputs {
		if in.WitnessUtxo == nil {
			continue
		}
		privKey, pubkey := s.matchP2WPKH(in.WitnessUtxo.Script)
		if privKey == nil {
			continue
		}

		sighash, err := s.sighasher.SighashForInput(p.Tx, i, prevouts)
		if err != nil {
			return nil, fmt.Errorf("signer: sighash for input %d: %w", i, err)
		}

		sig := ecdsa.Sign(privKey, sighash[:])
		sigBytes := append(sig.Serialize(), byte(elementsSighashAll))

		if err := signed.AddPartialSig(i, pubkey, sigBytes); err != nil {
			return nil, fmt.Errorf("signer: attach signature for input %d: %w", i, err)
		}
	}

	return &signed, nil
}

// elementsSighashAll mirrors Bitcoin's SIGHASH_ALL (0x01); Elements
// reuses the same sighash-type byte convention.
const elementsSighashAll = 0x01

// matchP2WPKH returns the held private key and serialized pubkey
// whose hash matches script, if script is a standard
// OP_0 <20-byte-hash> P2WPKH output.
func (s *SoftwareSigner) matchP2WPKH(script []byte) (*btcec.PrivateKey, []byte) {
	if len(script) != 22 || script[0] != 0x00 || script[1] != 0x14 {
		return nil, nil
	}
	want := script[2:]
	for _, k := range s.keys {
		pub := k.PubKey().SerializeCompressed()
		if bytesEqual(btcutil.Hash160(pub), want) {
			return k, pub
		}
	}
	return nil, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
