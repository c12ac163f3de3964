package waterfalls

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/lwkgo/ctwallet/chaintypes"
)

func hashFromHex(s string) (chaintypes.Txid, error) {
	var h chaintypes.Txid
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	copy(h[:], b)
	return h, nil
}

func sha256Reversed(script []byte) []byte {
	sum := sha256.Sum256(script)
	out := make([]byte, len(sum))
	for i, b := range sum {
		out[len(sum)-1-i] = b
	}
	return out
}

func hexBody(rawTx []byte) io.Reader {
	return bytes.NewBufferString(hex.EncodeToString(rawTx))
}
