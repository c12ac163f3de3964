package signer

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/keychain"
	"github.com/stretchr/testify/require"

	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/elementstx"
	"github.com/lwkgo/ctwallet/pset"
)

// fakeSignerClient embeds the real interface so it satisfies
// lndclient.SignerClient without stubbing every method; only
// SignOutputRaw is actually exercised by LndSigner.
type fakeSignerClient struct {
	lndclient.SignerClient
	calls int
	sig   []byte
	err   error

	lastTx   *wire.MsgTx
	lastDesc []*lndclient.SignDescriptor
}

func (f *fakeSignerClient) SignOutputRaw(_ context.Context, tx *wire.MsgTx, descs []*lndclient.SignDescriptor) ([][]byte, error) {
	f.calls++
	f.lastTx = tx
	f.lastDesc = descs
	if f.err != nil {
		return nil, f.err
	}
	return [][]byte{f.sig}, nil
}

func testKeyDesc(t *testing.T) keychain.KeyDescriptor {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return keychain.KeyDescriptor{
		KeyLocator: keychain.KeyLocator{Family: 0, Index: 7},
		PubKey:     priv.PubKey(),
	}
}

func testPsetWithOneExplicitInput(keyDesc keychain.KeyDescriptor, chain chaintypes.Chain, index uint32) *pset.Pset {
	tx := &elementstx.Transaction{
		Inputs:  make([]elementstx.TxIn, 1),
		Outputs: []elementstx.TxOut{{Script: []byte{0xa9, 0x14}}},
	}
	p := pset.NewUnsigned(tx)
	p.Inputs[0].WitnessUtxo = &elementstx.TxOut{
		Script: []byte{0x00, 0x14, 0x01, 0x02},
		Value:  []byte{0x01, 0xf4},
	}
	p.Inputs[0].DerivationPath = &pset.DerivationPath{Chain: chain, Index: index}
	return p
}

func TestLndSignerSignsEligibleExplicitInput(t *testing.T) {
	t.Parallel()

	keyDesc := testKeyDesc(t)
	p := testPsetWithOneExplicitInput(keyDesc, chaintypes.ChainExternal, 7)

	client := &fakeSignerClient{sig: []byte{0x30, 0x01, 0x02}}
	s := NewLndSigner(client, map[chaintypes.Chain]map[uint32]keychain.KeyDescriptor{
		chaintypes.ChainExternal: {7: keyDesc},
	})

	signed, err := s.SignPset(context.Background(), p)
	require.NoError(t, err)

	require.Equal(t, 1, client.calls)
	require.Equal(t, pset.StatePartiallySigned, signed.State)

	sig, ok := signed.Inputs[0].PartialSigs[string(keyDesc.PubKey.SerializeCompressed())]
	require.True(t, ok)
	require.Equal(t, client.sig, sig)

	require.Len(t, client.lastDesc, 1)
	require.Equal(t, keyDesc, client.lastDesc[0].KeyDesc)
}

func TestLndSignerSkipsConfidentialInputs(t *testing.T) {
	t.Parallel()

	keyDesc := testKeyDesc(t)
	p := testPsetWithOneExplicitInput(keyDesc, chaintypes.ChainExternal, 7)
	p.Inputs[0].WitnessUtxo.Confidential = true

	client := &fakeSignerClient{sig: []byte{0x30}}
	s := NewLndSigner(client, map[chaintypes.Chain]map[uint32]keychain.KeyDescriptor{
		chaintypes.ChainExternal: {7: keyDesc},
	})

	signed, err := s.SignPset(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, 0, client.calls)
	require.Equal(t, pset.StateUnsigned, signed.State)
}

func TestLndSignerSkipsInputsWithNoMatchingKeyDesc(t *testing.T) {
	t.Parallel()

	keyDesc := testKeyDesc(t)
	p := testPsetWithOneExplicitInput(keyDesc, chaintypes.ChainExternal, 9)

	client := &fakeSignerClient{sig: []byte{0x30}}
	s := NewLndSigner(client, map[chaintypes.Chain]map[uint32]keychain.KeyDescriptor{
		chaintypes.ChainExternal: {7: keyDesc},
	})

	signed, err := s.SignPset(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, 0, client.calls)
	require.Equal(t, pset.StateUnsigned, signed.State)
}

func TestLndSignerPropagatesRemoteSignError(t *testing.T) {
	t.Parallel()

	keyDesc := testKeyDesc(t)
	p := testPsetWithOneExplicitInput(keyDesc, chaintypes.ChainExternal, 7)

	client := &fakeSignerClient{err: errRemoteSignFailed}
	s := NewLndSigner(client, map[chaintypes.Chain]map[uint32]keychain.KeyDescriptor{
		chaintypes.ChainExternal: {7: keyDesc},
	})

	_, err := s.SignPset(context.Background(), p)
	require.Error(t, err)
}

var errRemoteSignFailed = &testSighashError{}
