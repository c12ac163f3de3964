package pset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lwkgo/ctwallet/elementstx"
)

func sampleTx() *elementstx.Transaction {
	return &elementstx.Transaction{
		Version: 2,
		Inputs: []elementstx.TxIn{
			{SignatureScript: []byte{}, Sequence: 0xffffffff},
		},
		Outputs: []elementstx.TxOut{
			{
				Asset:  make([]byte, 33),
				Value:  make([]byte, 9),
				Nonce:  []byte{0x00},
				Script: []byte{0x00, 0x14},
			},
		},
	}
}

func TestNewUnsigned_InitialisesAlignedSideRecords(t *testing.T) {
	t.Parallel()

	p := NewUnsigned(sampleTx())
	require.Equal(t, StateUnsigned, p.State)
	require.Len(t, p.Inputs, 1)
	require.Len(t, p.Outputs, 1)
}

func TestAddPartialSig_AdvancesState(t *testing.T) {
	t.Parallel()

	p := NewUnsigned(sampleTx())
	require.NoError(t, p.AddPartialSig(0, []byte("pub"), []byte("sig")))
	require.Equal(t, StatePartiallySigned, p.State)
}

func TestFinalize_FailsWithoutAnySatisfier(t *testing.T) {
	t.Parallel()

	p := NewUnsigned(sampleTx())
	_, err := Finalize(p)
	require.Error(t, err)
}

func TestFinalize_SucceedsWithPartialSig(t *testing.T) {
	t.Parallel()

	p := NewUnsigned(sampleTx())
	require.NoError(t, p.AddPartialSig(0, []byte("pub"), []byte("sig")))

	finalised, err := Finalize(p)
	require.NoError(t, err)
	require.Equal(t, StateFinalised, finalised.State)

	tx, err := ExtractTransaction(finalised)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("sig")}, [][]byte(tx.Inputs[0].Witness))
}

func TestCombine_MergesSignaturesAcrossTemplate(t *testing.T) {
	t.Parallel()

	tx := sampleTx()
	a := NewUnsigned(tx)
	b := NewUnsigned(tx)
	require.NoError(t, a.AddPartialSig(0, []byte("signer-a"), []byte("sig-a")))
	require.NoError(t, b.AddPartialSig(0, []byte("signer-b"), []byte("sig-b")))

	combined, err := Combine(a, b)
	require.NoError(t, err)
	require.Len(t, combined.Inputs[0].PartialSigs, 2)
}

func TestCombine_RejectsMismatchedTemplates(t *testing.T) {
	t.Parallel()

	a := NewUnsigned(sampleTx())
	otherTx := sampleTx()
	otherTx.LockTime = 500_000
	b := NewUnsigned(otherTx)

	_, err := Combine(a, b)
	require.Error(t, err)
}

func TestSerializeDeserialize_RoundTrip(t *testing.T) {
	t.Parallel()

	p := NewUnsigned(sampleTx())
	require.NoError(t, p.AddPartialSig(0, []byte("pub"), []byte("sig")))

	raw, err := Serialize(p)
	require.NoError(t, err)

	decoded, err := Deserialize(raw)
	require.NoError(t, err)
	require.Equal(t, p.State, decoded.State)
	require.Equal(t, p.Version, decoded.Version)
	require.Len(t, decoded.Inputs, 1)
	require.Equal(t, []byte("sig"), decoded.Inputs[0].PartialSigs["pub"])
}

func TestExtractNonces_SkipsUnblindedInputs(t *testing.T) {
	t.Parallel()

	p := NewUnsigned(sampleTx())
	p.Inputs[0].ValueBlinder = [32]byte{1, 2, 3}

	nonces := ExtractNonces(p)
	require.Len(t, nonces, 1)
	require.NotEmpty(t, nonces[0])
}

func TestNewAmp0Pset_RejectsNonceCountMismatch(t *testing.T) {
	t.Parallel()

	p := NewUnsigned(sampleTx())
	_, err := NewAmp0Pset(p, []string{"a", "b"})
	require.Error(t, err)
}
