package electrum

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/lwkgo/ctwallet/chaintypes"
)

// electrumScriptHash computes Electrum's scripthash addressing scheme:
// sha256(script), byte-reversed, matching chain/esplora's
// sha256Reversed (same convention, independently grounded since
// Electrum defines it directly in its protocol docs).
func electrumScriptHash(script []byte) []byte {
	sum := sha256.Sum256(script)
	out := make([]byte, len(sum))
	for i, b := range sum {
		out[len(sum)-1-i] = b
	}
	return out
}

func reverseInto(dst, src []byte) {
	for i, j := 0, len(src)-1; j >= 0; i, j = i+1, j-1 {
		dst[i] = src[j]
	}
}

// parseHeaderHex decodes an 80-byte Elements/Bitcoin-style block
// header hex string into its hash and timestamp. The hash is the
// double-SHA256 of the raw header bytes, byte-reversed to display
// order; the timestamp sits at byte offset 68 (version(4) ||
// prevhash(32) || merkleroot(32) = 68, 4-byte little-endian).
func parseHeaderHex(headerHex string) (chaintypes.BlockHash, uint32, error) {
	var hash chaintypes.BlockHash
	raw, err := hex.DecodeString(headerHex)
	if err != nil {
		return hash, 0, fmt.Errorf("decode header hex: %w", err)
	}
	if len(raw) < 72 {
		return hash, 0, fmt.Errorf("header too short: %d bytes", len(raw))
	}

	first := sha256.Sum256(raw)
	second := sha256.Sum256(first[:])
	reverseInto(hash[:], second[:])

	ts := binary.LittleEndian.Uint32(raw[68:72])
	return hash, ts, nil
}
