package unblind

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/lwkgo/ctwallet/chaintypes"
)

// fakePrimitives treats the "nonce" as the blinding private key's
// serialized bytes truncated to 32 bytes, and unblinding succeeds only
// when that nonce equals expectedKey -- good enough to exercise
// the wallet-facing contract without real secp256k1-zkp.
type fakePrimitives struct {
	expectedKey [32]byte
	asset       chaintypes.AssetID
	value       uint64
}

func (f *fakePrimitives) ECDHNonce(priv *btcec.PrivateKey, _ [33]byte) ([32]byte, error) {
	var out [32]byte
	b := priv.Serialize()
	copy(out[:], b)
	return out, nil
}

func (f *fakePrimitives) UnblindRangeproof(
	nonce [32]byte, out ConfidentialOutput,
) (uint64, [32]byte, chaintypes.AssetID, [32]byte, error) {
	if nonce != f.expectedKey {
		return 0, [32]byte{}, chaintypes.AssetID{}, [32]byte{}, errors.New("wrong key")
	}
	return f.value, [32]byte{1}, f.asset, [32]byte{2}, nil
}

type fakeKeySource struct {
	keys []*btcec.PrivateKey
}

func (f *fakeKeySource) BlindingKeysFor(script []byte) []*btcec.PrivateKey {
	if len(script) == 0 {
		return nil
	}
	return f.keys
}

func TestUnblind_SucceedsWithCorrectKey(t *testing.T) {
	t.Parallel()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var expected [32]byte
	copy(expected[:], priv.Serialize())

	asset := chaintypes.AssetID{0xaa}
	prim := &fakePrimitives{expectedKey: expected, asset: asset, value: 1000}
	keys := &fakeKeySource{keys: []*btcec.PrivateKey{priv}}
	u := New(keys, prim)

	secrets, err := u.Unblind(ConfidentialOutput{Script: []byte{0x01}})
	require.NoError(t, err)
	require.Equal(t, asset, secrets.Asset)
	require.Equal(t, uint64(1000), secrets.Value)
}

func TestUnblind_NotForUs(t *testing.T) {
	t.Parallel()

	prim := &fakePrimitives{}
	keys := &fakeKeySource{}
	u := New(keys, prim)

	_, err := u.Unblind(ConfidentialOutput{Script: []byte{0x01}})
	require.ErrorIs(t, err, ErrNotForUs)
}

func TestUnblind_WrongKeyFailsCleanly(t *testing.T) {
	t.Parallel()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	wrongPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var expected [32]byte
	copy(expected[:], priv.Serialize())

	prim := &fakePrimitives{expectedKey: expected}
	keys := &fakeKeySource{keys: []*btcec.PrivateKey{wrongPriv}}
	u := New(keys, prim)

	_, err = u.Unblind(ConfidentialOutput{Script: []byte{0x01}})
	require.ErrorIs(t, err, ErrProofInvalid)
}

func TestUnblindWith_BypassesKeyDiscovery(t *testing.T) {
	t.Parallel()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	var expected [32]byte
	copy(expected[:], priv.Serialize())

	asset := chaintypes.AssetID{0xbb}
	prim := &fakePrimitives{expectedKey: expected, asset: asset, value: 42}
	u := New(&fakeKeySource{}, prim)

	secrets, err := u.UnblindWith(priv, ConfidentialOutput{Script: []byte{0x01}})
	require.NoError(t, err)
	require.Equal(t, uint64(42), secrets.Value)
}
