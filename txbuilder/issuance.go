package txbuilder

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/lwkgo/ctwallet/chaintypes"
)

// deriveIssuanceIDs computes the new asset id and reissuance token id
// for an issuance anchored at outpoint, approximating Elements'
// GenerateAssetEntropy/CalculateAsset/CalculateReissuanceToken: the
// entropy ties the new asset to a specific, never-reusable outpoint so
// two issuances can never collide; the asset and token ids are each a
// distinct double-SHA256 tagged hash of that entropy. A contract (the
// issuance's metadata JSON) is folded in by its own hash so two
// issuances from the same outpoint with different contracts would
// still be distinguishable -- not reachable in practice since an
// outpoint can only be spent once, but it mirrors the real protocol's
// contract-hash field.
func deriveIssuanceIDs(outpoint chaintypes.OutPoint, contract []byte) (assetID, tokenID chaintypes.AssetID) {
	var contractHash chainhash.Hash
	if len(contract) > 0 {
		contractHash = chainhash.DoubleHashH(contract)
	}

	var buf bytes.Buffer
	buf.Write(outpoint.Hash[:])
	_ = binary.Write(&buf, binary.LittleEndian, outpoint.Index)
	buf.Write(contractHash[:])
	entropy := chainhash.DoubleHashH(buf.Bytes())

	assetTag := append(append([]byte{}, entropy[:]...), make([]byte, 32)...)
	assetID = chaintypes.AssetID(chainhash.DoubleHashH(assetTag))

	tokenTag := append(append([]byte{}, entropy[:]...), append([]byte{0x01}, make([]byte, 31)...)...)
	tokenID = chaintypes.AssetID(chainhash.DoubleHashH(tokenTag))

	return assetID, tokenID
}
