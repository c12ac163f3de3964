package signer

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"

	"github.com/lwkgo/ctwallet/elementstx"
	"github.com/lwkgo/ctwallet/pset"
)

type fakeSighasher struct {
	calls int
	hash  [32]byte
	err   error
}

func (f *fakeSighasher) SighashForInput(_ *elementstx.Transaction, _ int, _ []*elementstx.TxOut) ([32]byte, error) {
	f.calls++
	return f.hash, f.err
}

func p2wpkhScript(priv *btcec.PrivateKey) []byte {
	hash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	script := make([]byte, 0, 22)
	script = append(script, 0x00, 0x14)
	script = append(script, hash...)
	return script
}

func testPsetWithInputs(scripts ...[]byte) *pset.Pset {
	tx := &elementstx.Transaction{
		Inputs:  make([]elementstx.TxIn, len(scripts)),
		Outputs: []elementstx.TxOut{{Script: []byte{0xa9, 0x14}}},
	}
	p := pset.NewUnsigned(tx)
	for i, s := range scripts {
		p.Inputs[i].WitnessUtxo = &elementstx.TxOut{Script: s, Value: []byte{0x01, 0x00}}
	}
	return p
}

func TestSoftwareSignerSignsOnlyInputsItHoldsKeysFor(t *testing.T) {
	t.Parallel()

	owned, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	foreign, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	p := testPsetWithInputs(p2wpkhScript(owned), p2wpkhScript(foreign))
	sighasher := &fakeSighasher{hash: [32]byte{0xaa}}
	signer := NewSoftwareSigner(sighasher, []*btcec.PrivateKey{owned})

	signed, err := signer.SignPset(context.Background(), p)
	require.NoError(t, err)

	require.Equal(t, pset.StatePartiallySigned, signed.State)
	require.Len(t, signed.Inputs[0].PartialSigs, 1)
	require.Empty(t, signed.Inputs[1].PartialSigs)
	require.Equal(t, 1, sighasher.calls)

	pubkeyHex := owned.PubKey().SerializeCompressed()
	sig, ok := signed.Inputs[0].PartialSigs[string(pubkeyHex)]
	require.True(t, ok)
	require.Equal(t, byte(elementsSighashAll), sig[len(sig)-1])
}

func TestSoftwareSignerSkipsInputsWithoutWitnessUtxo(t *testing.T) {
	t.Parallel()

	owned, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	tx := &elementstx.Transaction{Inputs: make([]elementstx.TxIn, 1)}
	p := pset.NewUnsigned(tx)

	sighasher := &fakeSighasher{}
	signer := NewSoftwareSigner(sighasher, []*btcec.PrivateKey{owned})

	signed, err := signer.SignPset(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, pset.StateUnsigned, signed.State)
	require.Equal(t, 0, sighasher.calls)
}

func TestSoftwareSignerPropagatesSighasherError(t *testing.T) {
	t.Parallel()

	owned, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	p := testPsetWithInputs(p2wpkhScript(owned))
	sighasher := &fakeSighasher{err: assertErr}
	signer := NewSoftwareSigner(sighasher, []*btcec.PrivateKey{owned})

	_, err = signer.SignPset(context.Background(), p)
	require.Error(t, err)
}

func TestMatchP2WPKHRejectsNonStandardScripts(t *testing.T) {
	t.Parallel()

	owned, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	signer := NewSoftwareSigner(&fakeSighasher{}, []*btcec.PrivateKey{owned})

	privKey, pubkey := signer.matchP2WPKH([]byte{0xa9, 0x14, 0x01})
	require.Nil(t, privKey)
	require.Nil(t, pubkey)
}

var assertErr = &testSighashError{}

type testSighashError struct{}

func (*testSighashError) Error() string { return "sighash unavailable" }
