package signer

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/keychain"

	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/pset"
)

// LndSigner is the remote-signer transport: an
// external lnd node's signrpc.Signer acts as the hardware-device
// collaborator the core hands a pset to, grounded directly on
// itest/swap_test.go's construction of a signrpc.SignDescriptor
// (KeyLocator + WitnessScript + Output + Sighash + InputIndex) and the
// call to Signer.SignOutputRaw -- here reached through lndclient's
// higher-level SignerClient wrapper instead of the raw gRPC client.
//
// Scope: only inputs with an explicit (non-confidential) WitnessUtxo
// and a caller-resolved KeyDescriptor can be signed this way. lnd's
// signer computes a BIP143-style sighash over the raw transaction
// bytes it is given; it has no notion of Elements' asset/value
// commitments, so a confidential input's true sighash cannot be
// reproduced by handing it a plain wire.MsgTx. Wiring a
// commitment-aware remote signer is out of scope here the same way
// the CT primitives themselves are (-goals) -- this
// transport covers the explicit-output paths LiquiDEX and burns
// already use (BuildMakerPset, add_explicit_recipient), not a general
// confidential-input signer.
type LndSigner struct {
	client lndclient.SignerClient
	// keyDescs resolves a pset input's DerivationPath to the
	// KeyDescriptor (locator plus pubkey) lnd's signer needs; the
	// descriptor's keyorigin fingerprint/path has no fixed mapping to
	// lnd's (family, index) keychain, so the caller supplies it
	// explicitly per wallet.
	keyDescs map[chaintypes.Chain]map[uint32]keychain.KeyDescriptor
}

// NewLndSigner builds a remote-signer transport over an already
// connected lndclient.SignerClient.
func NewLndSigner(client lndclient.SignerClient, keyDescs map[chaintypes.Chain]map[uint32]keychain.KeyDescriptor) *LndSigner {
	return &LndSigner{client: client, keyDescs: keyDescs}
}

// SignPset signs every eligible explicit-output input by shipping a
// minimal single-input placeholder transaction to the remote signer,
// one SignOutputRaw call per input -- lndclient's SignOutputRaw
// signature takes one shared *wire.MsgTx for all its SignDescriptors,
// but each Elements input's sighash pre-image differs in ways a
// Bitcoin wire.MsgTx cannot represent, so batching across inputs would
// silently reuse the wrong digest for all but one of them.
func (s *LndSigner) SignPset(ctx context.Context, p *pset.Pset) (*pset.Pset, error) {
	signed := *p
	signed.Inputs = make([]pset.Input, len(p.Inputs))
	copy(signed.Inputs, p.Inputs)

	for i, in := range p.Inputs {
		if in.WitnessUtxo == nil || in.WitnessUtxo.Confidential || in.DerivationPath == nil {
			continue
		}
		keyDesc, ok := s.keyDescs[in.DerivationPath.Chain][in.DerivationPath.Index]
		if !ok {
			continue
		}

		var value uint64
		if v := in.WitnessUtxo.Value; len(v) == 9 && v[0] == 0x01 {
			for _, b := range v[1:] {
				value = value<<8 | uint64(b)
			}
		}
		shadowTx, err := placeholderTx(p.Tx, i, value)
		if err != nil {
			return nil, fmt.Errorf("signer: build placeholder tx for input %d: %w", i, err)
		}

		sigs, err := s.client.SignOutputRaw(ctx, shadowTx, []*lndclient.SignDescriptor{
			{
				KeyDesc:       keyDesc,
				Output:        shadowTx.TxOut[0],
				HashType:      txscript.SigHashAll,
				InputIndex:    0,
				WitnessScript: in.WitnessUtxo.Script,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("signer: remote sign input %d: %w", i, err)
		}
		if len(sigs) != 1 {
			return nil, fmt.Errorf("signer: expected exactly one signature for input %d, got %d", i, len(sigs))
		}

		if keyDesc.PubKey == nil {
			return nil, fmt.Errorf("signer: no pubkey resolved for input %d", i)
		}

		if err := signed.AddPartialSig(i, keyDesc.PubKey.SerializeCompressed(), sigs[0]); err != nil {
			return nil, fmt.Errorf("signer: attach remote signature for input %d: %w", i, err)
		}
	}

	return &signed, nil
}

// placeholderTx builds a minimal one-input-one-output Bitcoin wire tx
// for lnd's signer to compute a sighash against: its input spends
// (txid of the Elements transaction itself, index), not Elements input
// i's real prevout, and its output carries the spent value --
// everything else about the real Elements transaction (its other
// inputs/outputs, its confidential commitments) is invisible to it.
func placeholderTx(tx interface{ Txid() (chainhash.Hash, error) }, index int, value uint64) (*wire.MsgTx, error) {
	txid, err := tx.Txid()
	if err != nil {
		return nil, err
	}

	shadow := wire.NewMsgTx(2)
	shadow.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: txid, Index: uint32(index)}})
	shadow.AddTxOut(&wire.TxOut{Value: int64(value)})
	return shadow, nil
}
