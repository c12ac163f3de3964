package esplora

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/lwkgo/ctwallet/chaintypes"
)

// chainhashFromHex parses a display-order (reversed) hex hash string,
// matching the convention used by chainhash.Hash and by every block
// explorer API in the example pack.
func chainhashFromHex(s string) (chaintypes.Txid, error) {
	var h chaintypes.Txid
	b, err := hex.DecodeString(trimNewline(s))
	if err != nil {
		return h, err
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	copy(h[:], b)
	return h, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// sha256Reversed computes the scripthash Electrum-style addressing
// scheme reuses: sha256(script), byte-reversed.
func sha256Reversed(script []byte) []byte {
	sum := sha256.Sum256(script)
	out := make([]byte, len(sum))
	for i, b := range sum {
		out[len(sum)-1-i] = b
	}
	return out
}

func newHexBody(rawTx []byte) io.Reader {
	return bytes.NewBufferString(hex.EncodeToString(rawTx))
}
