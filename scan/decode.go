package scan

import (
	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/elementstx"
	"github.com/lwkgo/ctwallet/store"
	"github.com/lwkgo/ctwallet/unblind"
)

// toStoreTransaction converts an already-decoded Elements transaction
// into the store's minimal Transaction shape. The full decoded form
// (asset/value commitments, nonce, proofs) is kept only transiently by
// the caller to build unblind.ConfidentialOutput values; the store
// itself only needs script/spentness/explicit-amount data.
func toStoreTransaction(txid chaintypes.Txid, raw []byte, decoded *elementstx.Transaction) *store.Transaction {
	tx := &store.Transaction{
		Txid:    txid,
		Raw:     raw,
		Inputs:  make([]chaintypes.OutPoint, len(decoded.Inputs)),
		Outputs: make([]store.TxOut, len(decoded.Outputs)),
	}

	for i, in := range decoded.Inputs {
		tx.Inputs[i] = chaintypes.OutPoint{
			Hash:  in.PreviousOutPoint.Hash,
			Index: in.PreviousOutPoint.Index,
		}
	}

	for i, out := range decoded.Outputs {
		txOut := store.TxOut{Script: out.Script, Confidential: out.Confidential}
		if !out.Confidential {
			asset, value, ok := explicitAssetValue(out)
			if ok {
				txOut.Asset = asset
				txOut.Value = value
			}
		}
		tx.Outputs[i] = txOut
	}

	return tx
}

// explicitAssetValue decodes an unconfidential output's asset id and
// satoshi value from their one-byte-prefixed wire encodings.
func explicitAssetValue(out elementstx.TxOut) (chaintypes.AssetID, uint64, bool) {
	var asset chaintypes.AssetID
	if len(out.Asset) != 33 || out.Asset[0] != 0x01 {
		return asset, 0, false
	}
	// on-chain asset ids are stored reversed relative to their
	// display-order hex form, matching txid/blockhash conventions.
	for i, b := range out.Asset[1:] {
		asset[len(asset)-1-i] = b
	}

	if len(out.Value) != 9 || out.Value[0] != 0x01 {
		return asset, 0, false
	}
	var value uint64
	for _, b := range out.Value[1:] {
		value = value<<8 | uint64(b)
	}
	return asset, value, true
}

// ToStoreTransaction exposes toStoreTransaction to callers outside
// this package -- specifically walletrpc/server's RPCServer, which
// needs to turn a client-submitted raw transaction into a
// store.Transaction before handing it to wollet.Wollet.ApplyTransaction,
// the same conversion a scan round applies to everything it fetches.
func ToStoreTransaction(txid chaintypes.Txid, raw []byte, decoded *elementstx.Transaction) *store.Transaction {
	return toStoreTransaction(txid, raw, decoded)
}

// ConfidentialOutputFor exposes confidentialOutputFor to callers
// outside this package -- specifically wollet.Wollet.Reunblind, which
// re-decodes a cached tx's raw bytes to rebuild the commitment fields
// needed to retry an output that previously landed in the
// cannot-unblind set.
func ConfidentialOutputFor(out elementstx.TxOut) unblind.ConfidentialOutput {
	return confidentialOutputFor(out)
}

// confidentialOutputFor converts a decoded Elements output's wire
// commitment fields into the unblind package's ConfidentialOutput
// shape. Only called for outputs already known to be confidential.
func confidentialOutputFor(out elementstx.TxOut) unblind.ConfidentialOutput {
	co := unblind.ConfidentialOutput{
		Script:          out.Script,
		RangeProof:      out.RangeProof,
		SurjectionProof: out.SurjectionProof,
	}
	copy(co.AssetCommitment[:], out.Asset)
	copy(co.ValueCommitment[:], out.Value)
	copy(co.Nonce[:], out.Nonce)
	return co
}
