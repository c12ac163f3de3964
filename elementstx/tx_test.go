package elementstx

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecode_ExplicitRoundTrip(t *testing.T) {
	t.Parallel()

	tx := &Transaction{
		Version: 2,
		Inputs: []TxIn{
			{
				PreviousOutPoint: OutPoint{Hash: hashOf(0xaa), Index: 1},
				SignatureScript:  []byte{},
				Sequence:         0xffffffff,
			},
		},
		Outputs: []TxOut{
			{
				Asset:  explicitAsset(0x11),
				Value:  explicitValue(50_000),
				Nonce:  []byte{0x00},
				Script: []byte{0x00, 0x14, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20},
			},
		},
		LockTime: 0,
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, tx))

	decoded, err := Decode(buf.Bytes())
	require.NoError(t, err)

	require.Equal(t, tx.Version, decoded.Version)
	require.Len(t, decoded.Inputs, 1)
	require.Equal(t, tx.Inputs[0].PreviousOutPoint.Hash, decoded.Inputs[0].PreviousOutPoint.Hash)
	require.Equal(t, tx.Inputs[0].PreviousOutPoint.Index, decoded.Inputs[0].PreviousOutPoint.Index)
	require.Len(t, decoded.Outputs, 1)
	require.Equal(t, tx.Outputs[0].Asset, decoded.Outputs[0].Asset)
	require.Equal(t, tx.Outputs[0].Value, decoded.Outputs[0].Value)
	require.False(t, decoded.Outputs[0].Confidential)
}

func TestDecode_ConfidentialOutputFlagged(t *testing.T) {
	t.Parallel()

	tx := &Transaction{
		Version: 2,
		Outputs: []TxOut{
			{
				Asset:  confidentialBlob(0x0a, 0x22),
				Value:  confidentialBlob(0x08, 0x33),
				Nonce:  confidentialBlob(0x02, 0x44),
				Script: []byte{0x00, 0x14, 1, 2, 3},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, tx))

	decoded, err := Decode(buf.Bytes())
	require.NoError(t, err)
	require.True(t, decoded.Outputs[0].Confidential)
}

func TestDecode_WitnessRoundTrip(t *testing.T) {
	t.Parallel()

	tx := &Transaction{
		Version: 2,
		Inputs: []TxIn{
			{
				PreviousOutPoint: OutPoint{Hash: hashOf(0xbb), Index: 0},
				SignatureScript:  []byte{},
				Sequence:         0xffffffff,
				Witness: [][]byte{
					{0x30, 0x44, 0x02},
					{0x02, 0x11, 0x22},
				},
			},
		},
		Outputs: []TxOut{
			{
				Asset:           explicitAsset(0x11),
				Value:           explicitValue(1000),
				Nonce:           []byte{0x00},
				Script:          []byte{0x00, 0x14},
				SurjectionProof: []byte{},
				RangeProof:      []byte{},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, tx))

	decoded, err := Decode(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, decoded.Inputs[0].Witness, 2)
	require.Equal(t, tx.Inputs[0].Witness[0], []byte(decoded.Inputs[0].Witness[0]))
}

func TestTxid_DoesNotVaryWithWitness(t *testing.T) {
	t.Parallel()

	base := &Transaction{
		Version: 2,
		Inputs: []TxIn{
			{PreviousOutPoint: OutPoint{Hash: hashOf(0xcc), Index: 0}, SignatureScript: []byte{}, Sequence: 0},
		},
		Outputs: []TxOut{
			{Asset: explicitAsset(0x11), Value: explicitValue(1), Nonce: []byte{0x00}, Script: []byte{0x00}},
		},
	}
	withWitness := *base
	withWitness.Inputs = []TxIn{
		{
			PreviousOutPoint: base.Inputs[0].PreviousOutPoint,
			SignatureScript:  []byte{},
			Sequence:         0,
			Witness:          [][]byte{{0x01}},
		},
	}

	id1, err := base.Txid()
	require.NoError(t, err)
	id2, err := withWitness.Txid()
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func hashOf(b byte) (h [32]byte) {
	for i := range h {
		h[i] = b
	}
	return h
}

func explicitAsset(b byte) []byte {
	out := make([]byte, 33)
	out[0] = 0x01
	for i := 1; i < 33; i++ {
		out[i] = b
	}
	return out
}

func explicitValue(v uint64) []byte {
	out := make([]byte, 9)
	out[0] = 0x01
	for i := 0; i < 8; i++ {
		out[8-i] = byte(v)
		v >>= 8
	}
	return out
}

func confidentialBlob(prefix, b byte) []byte {
	out := make([]byte, 33)
	out[0] = prefix
	for i := 1; i < 33; i++ {
		out[i] = b
	}
	return out
}
