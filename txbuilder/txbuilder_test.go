package txbuilder

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/descriptor"
	"github.com/lwkgo/ctwallet/werror"
)

func testDescriptor(t *testing.T) *descriptor.WolletDescriptor {
	t.Helper()
	master, err := hdkeychain.NewMaster([]byte("txbuilder test seed, not for production use"), &chaincfg.MainNetParams)
	require.NoError(t, err)

	seed := strings.Repeat("ab", 32)
	s := "ct(slip77(" + seed + "),elwpkh(" + master.String() + "/0/*))"
	d, err := descriptor.Parse(s, &chaincfg.MainNetParams)
	require.NoError(t, err)
	return d
}

func testAsset(b byte) chaintypes.AssetID {
	var a chaintypes.AssetID
	a[0] = b
	return a
}

type fakeBlinder struct{ calls int }

func (f *fakeBlinder) BlindOutput(req BlindRequest) (BlindedOutput, error) {
	f.calls++
	out := BlindedOutput{
		RangeProof:      []byte{0x01},
		SurjectionProof: []byte{0x01},
	}
	out.AssetCommitment[0] = 0x0a
	out.ValueCommitment[0] = 0x08
	out.EphemeralPubkey[0] = 0x02
	out.AssetBlinder[0] = byte(f.calls)
	out.ValueBlinder[0] = byte(f.calls + 1)
	return out, nil
}

type fakeChangeIndexer struct {
	next map[chaintypes.Chain]uint32
}

func newFakeChangeIndexer() *fakeChangeIndexer {
	return &fakeChangeIndexer{next: make(map[chaintypes.Chain]uint32)}
}

func (f *fakeChangeIndexer) NextIndex(chain chaintypes.Chain) uint32 {
	idx := f.next[chain]
	f.next[chain]++
	return idx
}

type fakeBlindingKeys struct{ key *btcec.PrivateKey }

func newFakeBlindingKeys(t *testing.T) fakeBlindingKeys {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return fakeBlindingKeys{key: key}
}

func (f fakeBlindingKeys) BlindingKeysFor(script []byte) []*btcec.PrivateKey {
	return []*btcec.PrivateKey{f.key}
}

func newTestBuilder(t *testing.T, pool []WalletUtxo) *Builder {
	t.Helper()
	d := testDescriptor(t)
	policyAsset := testAsset(0xff)
	return New(d, policyAsset, &fakeBlinder{}, newFakeBlindingKeys(t), newFakeChangeIndexer(), pool)
}

func TestAddRecipientRequiresBlindingPubkey(t *testing.T) {
	t.Parallel()
	b := newTestBuilder(t, nil)
	b.AddRecipient(Recipient{Script: []byte{0x00}, Asset: b.policyAsset, Value: 1000})

	_, err := b.Finish()
	require.Error(t, err)
	require.True(t, errors.Is(err, werror.ErrInvalidRecipient))
}

func TestIssueAssetAmountTooLarge(t *testing.T) {
	t.Parallel()
	b := newTestBuilder(t, nil)
	b.IssueAsset(IssuanceRequest{AssetAmount: maxAssetAmount + 1, AssetReceiver: Recipient{BlindingPubkey: []byte{0x02}}})

	_, err := b.Finish()
	require.Error(t, err)
	require.True(t, errors.Is(err, werror.ErrIssuanceAmountTooLarge))
}

func TestFinishExplicitSendInsufficientFunds(t *testing.T) {
	t.Parallel()
	policyAsset := testAsset(0xff)
	pool := []WalletUtxo{{
		OutPoint: chaintypes.OutPoint{Index: 0}, Asset: policyAsset, Value: 1000,
		Chain: chaintypes.ChainExternal,
	}}
	b := newTestBuilder(t, pool)
	b.policyAsset = policyAsset
	b.AddExplicitRecipient(Recipient{Script: []byte{0x00}, Asset: policyAsset, Value: 5000})

	_, err := b.Finish()
	require.Error(t, err)
	var insufficient *werror.InsufficientFunds
	require.True(t, errors.As(err, &insufficient))
}

func TestFinishConfidentialSendWithChangeAndFee(t *testing.T) {
	t.Parallel()
	policyAsset := testAsset(0xff)
	pool := []WalletUtxo{{
		OutPoint: chaintypes.OutPoint{Index: 0}, Asset: policyAsset, Value: 100_000,
		Chain: chaintypes.ChainExternal, Confidential: true,
	}}
	b := newTestBuilder(t, pool)
	b.policyAsset = policyAsset
	b.AddRecipient(Recipient{Script: []byte{0x51}, BlindingPubkey: []byte{0x03}, Asset: policyAsset, Value: 50_000})

	p, err := b.Finish()
	require.NoError(t, err)
	require.NotNil(t, p)

	// recipient + change + fee
	require.Len(t, p.Outputs, 3)
	require.True(t, p.Outputs[2].IsFee)
	require.False(t, p.Outputs[0].IsFee)
	require.False(t, p.Outputs[1].IsFee)

	// the fee output is always explicit.
	feeOut := p.Tx.Outputs[2]
	require.Equal(t, byte(0x01), feeOut.Value[0])
	feeValue := binary.BigEndian.Uint64(feeOut.Value[1:])
	require.Greater(t, feeValue, uint64(0))
	require.Len(t, p.Tx.Inputs, 1)
}

func TestFinishDrainLBTCWallet(t *testing.T) {
	t.Parallel()
	policyAsset := testAsset(0xff)
	pool := []WalletUtxo{{
		OutPoint: chaintypes.OutPoint{Index: 0}, Asset: policyAsset, Value: 100_000,
		Chain: chaintypes.ChainExternal,
	}}
	b := newTestBuilder(t, pool)
	b.policyAsset = policyAsset
	b.DrainLBTCTo([]byte{0x51}, nil)

	p, err := b.Finish()
	require.NoError(t, err)
	require.Len(t, p.Outputs, 2) // drain + fee
}

func TestFinishIssuanceDerivesDistinctAssetID(t *testing.T) {
	t.Parallel()
	policyAsset := testAsset(0xff)
	anchor := WalletUtxo{OutPoint: chaintypes.OutPoint{Index: 1}, Asset: policyAsset, Value: 10_000, Chain: chaintypes.ChainExternal}
	pool := []WalletUtxo{anchor}

	b := newTestBuilder(t, pool)
	b.policyAsset = policyAsset
	b.IssueAsset(IssuanceRequest{
		AssetAmount:   1_000_000,
		AssetReceiver: Recipient{Script: []byte{0x51}, BlindingPubkey: []byte{0x03}},
		AnchorUtxo:    &anchor,
	})

	p, err := b.Finish()
	require.NoError(t, err)
	require.Len(t, p.Tx.Inputs, 1)
	require.True(t, p.Tx.Inputs[0].PreviousOutPoint.HasIssuance)
	require.NotNil(t, p.Inputs[0].Issuance)
	require.NotEqual(t, policyAsset, p.Inputs[0].Issuance.AssetID)
}

func TestFinishReissuanceReturnsTokenChange(t *testing.T) {
	t.Parallel()
	policyAsset := testAsset(0xff)
	tokenUtxo := WalletUtxo{OutPoint: chaintypes.OutPoint{Index: 2}, Asset: testAsset(0x07), Value: 1, Chain: chaintypes.ChainExternal}
	feeFunding := WalletUtxo{OutPoint: chaintypes.OutPoint{Index: 5}, Asset: policyAsset, Value: 5000, Chain: chaintypes.ChainExternal}
	pool := []WalletUtxo{tokenUtxo, feeFunding}

	b := newTestBuilder(t, pool)
	b.policyAsset = policyAsset
	b.ReissueAsset(ReissuanceRequest{
		AssetID:       testAsset(0x01),
		TokenID:       testAsset(0x07),
		AssetAmount:   500,
		TokenUtxo:     tokenUtxo,
		AssetReceiver: Recipient{Script: []byte{0x51}}, // explicit
	})

	p, err := b.Finish()
	require.NoError(t, err)
	require.NotEmpty(t, p.Outputs)
}

func TestLiquidexTakeSpendsProposalInputAndOutput(t *testing.T) {
	t.Parallel()
	policyAsset := testAsset(0xff)
	dealAsset := testAsset(0x22)

	pool := []WalletUtxo{{
		OutPoint: chaintypes.OutPoint{Index: 3}, Asset: policyAsset, Value: 10_000,
		Chain: chaintypes.ChainExternal,
	}}
	b := newTestBuilder(t, pool)
	b.policyAsset = policyAsset
	b.LiquidexTake(LiquidexTakeRequest{
		ProposalInput: ExternalUtxo{
			OutPoint: chaintypes.OutPoint{Index: 9}, Asset: dealAsset, Value: 1000,
		},
		ProposalOutput: Recipient{Script: []byte{0x51}, Asset: dealAsset, Value: 1000},
	})

	p, err := b.Finish()
	require.NoError(t, err)
	require.Len(t, p.Tx.Inputs, 2) // the taker's funding input + the maker's proposal input
}

func TestDeriveIssuanceIDsIsDeterministicAndOutpointBound(t *testing.T) {
	t.Parallel()
	op1 := chaintypes.OutPoint{Index: 0}
	op2 := chaintypes.OutPoint{Index: 1}

	asset1, token1 := deriveIssuanceIDs(op1, nil)
	asset1Again, token1Again := deriveIssuanceIDs(op1, nil)
	require.Equal(t, asset1, asset1Again)
	require.Equal(t, token1, token1Again)
	require.NotEqual(t, asset1, token1)

	asset2, _ := deriveIssuanceIDs(op2, nil)
	require.NotEqual(t, asset1, asset2)

	assetWithContract, _ := deriveIssuanceIDs(op1, []byte(`{"name":"test"}`))
	require.NotEqual(t, asset1, assetWithContract)
}

func TestEncodeExplicitRoundTrips(t *testing.T) {
	t.Parallel()
	var asset chaintypes.AssetID
	for i := range asset {
		asset[i] = byte(i)
	}

	assetBytes, valueBytes := encodeExplicit(asset, 123_456_789)
	require.Equal(t, byte(0x01), assetBytes[0])
	require.Equal(t, byte(0x01), valueBytes[0])
	require.Equal(t, uint64(123_456_789), binary.BigEndian.Uint64(valueBytes[1:]))

	var recovered chaintypes.AssetID
	for i := 0; i < 32; i++ {
		recovered[31-i] = assetBytes[1+i]
	}
	require.Equal(t, asset, recovered)
}

func TestAssetLedgerPreservesFirstSeenOrder(t *testing.T) {
	t.Parallel()
	l := newAssetLedger()
	a, b, c := testAsset(1), testAsset(2), testAsset(3)
	l.add(b, 10)
	l.add(a, 5)
	l.add(b, 1)
	l.add(c, 7)

	require.Equal(t, []chaintypes.AssetID{b, a, c}, l.order)
	require.Equal(t, uint64(11), l.values[b])
	require.Equal(t, uint64(5), l.values[a])
	require.Equal(t, uint64(7), l.values[c])
}
