package scan

import (
	"bytes"
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/lwkgo/ctwallet/chain"
	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/descriptor"
	"github.com/lwkgo/ctwallet/elementstx"
	"github.com/lwkgo/ctwallet/store"
	"github.com/lwkgo/ctwallet/unblind"
)

func testDescriptor(t *testing.T) *descriptor.WolletDescriptor {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = 7
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	neutered, err := master.Neuter()
	require.NoError(t, err)

	desc := "ct(slip77(" +
		"9c8e000000000000000000000000000000000000000000000000000000007023" +
		"),elwpkh(" + neutered.String() + "/*))"
	d, err := descriptor.Parse(desc, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	return d
}

// fakeBackend is an in-memory chain.Backend: a script has history iff
// its entry in activeScripts is true, and every active script shares one canned
// transaction so tests can assert on GetTransactions/unblind wiring.
type fakeBackend struct {
	activeScripts map[string]bool
	rawTx         []byte
	txid          chaintypes.Txid
}

var _ chain.Backend = (*fakeBackend)(nil)

func (f *fakeBackend) Capabilities() chain.CapabilitySet { return chain.NewCapabilitySet() }

func (f *fakeBackend) Tip(ctx context.Context) (chaintypes.Tip, error) {
	return chaintypes.Tip{Height: 100}, nil
}

func (f *fakeBackend) GetScriptsHistory(ctx context.Context, scripts [][]byte) ([][]chaintypes.HistoryEntry, error) {
	out := make([][]chaintypes.HistoryEntry, len(scripts))
	for i, script := range scripts {
		if f.activeScripts[string(script)] {
			out[i] = []chaintypes.HistoryEntry{{Txid: f.txid}}
		}
	}
	return out, nil
}

func (f *fakeBackend) GetTransactions(ctx context.Context, txids []chaintypes.Txid) ([][]byte, error) {
	out := make([][]byte, len(txids))
	for i := range txids {
		out[i] = f.rawTx
	}
	return out, nil
}

func (f *fakeBackend) GetHeaders(ctx context.Context, heights []chaintypes.Height, hints map[chaintypes.Height]chaintypes.BlockHash) ([]chaintypes.Header, error) {
	return nil, nil
}

func (f *fakeBackend) Broadcast(ctx context.Context, rawTx []byte) (chaintypes.Txid, error) {
	return chaintypes.Txid{}, nil
}

type noopPrimitives struct{}

func (noopPrimitives) ECDHNonce(priv *btcec.PrivateKey, outputNonce [33]byte) ([32]byte, error) {
	return [32]byte{}, unblind.ErrProofInvalid
}

func (noopPrimitives) UnblindRangeproof(nonce [32]byte, out unblind.ConfidentialOutput) (uint64, [32]byte, chaintypes.AssetID, [32]byte, error) {
	return 0, [32]byte{}, chaintypes.AssetID{}, [32]byte{}, unblind.ErrProofInvalid
}

type noopKeySource struct{}

func (noopKeySource) BlindingKeysFor(script []byte) []*btcec.PrivateKey { return nil }

func encodedExplicitTx(t *testing.T) ([]byte, chaintypes.Txid) {
	t.Helper()
	tx := &elementstx.Transaction{
		Version: 2,
		Inputs: []elementstx.TxIn{
			{SignatureScript: []byte{}, Sequence: 0xffffffff},
		},
		Outputs: []elementstx.TxOut{
			{
				Asset:  explicitAssetBytes(0x11),
				Value:  explicitValueBytes(10_000),
				Nonce:  []byte{0x00},
				Script: []byte{0x00, 0x14, 1, 2, 3},
			},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, elementstx.Encode(&buf, tx))
	txid, err := tx.Txid()
	require.NoError(t, err)
	return buf.Bytes(), txid
}

func explicitAssetBytes(b byte) []byte {
	out := make([]byte, 33)
	out[0] = 0x01
	for i := 1; i < 33; i++ {
		out[i] = b
	}
	return out
}

func explicitValueBytes(v uint64) []byte {
	out := make([]byte, 9)
	out[0] = 0x01
	for i := 0; i < 8; i++ {
		out[8-i] = byte(v)
		v >>= 8
	}
	return out
}

func TestFullScan_FindsActivityWithinFirstBatch(t *testing.T) {
	t.Parallel()

	d := testDescriptor(t)
	rawTx, txid := encodedExplicitTx(t)

	_, script, err := d.Derive(chaintypes.ChainExternal, 3)
	require.NoError(t, err)

	backend := &fakeBackend{
		activeScripts: map[string]bool{string(script): true},
		rawTx:         rawTx,
		txid:          txid,
	}
	u := unblind.New(noopKeySource{}, noopPrimitives{})
	engine := New(backend, d, u, Config{BatchSize: 5})

	snap := store.New()
	update, warnings, err := engine.FullScan(context.Background(), snap)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.NotEmpty(t, update.NewScripts)
	require.NotEmpty(t, update.NewTxs)
	require.Equal(t, txid, update.NewTxs[0].Txid)
}

func TestFullScan_NoActivityYieldsTipOnlyUpdate(t *testing.T) {
	t.Parallel()

	d := testDescriptor(t)
	backend := &fakeBackend{activeScripts: map[string]bool{}}
	u := unblind.New(noopKeySource{}, noopPrimitives{})
	engine := New(backend, d, u, Config{BatchSize: 5})

	snap := store.New()
	update, _, err := engine.FullScan(context.Background(), snap)
	require.NoError(t, err)
	require.True(t, update.IsTipOnly())
}

func TestFullScan_StopsAfterGapLimitExhausted(t *testing.T) {
	t.Parallel()

	d := testDescriptor(t)
	rawTx, txid := encodedExplicitTx(t)

	// Activity only at index 0; a batch size of 3 means the engine
	// should still stop after scanning past it with no further hits.
	_, script0, err := d.Derive(chaintypes.ChainExternal, 0)
	require.NoError(t, err)

	backend := &fakeBackend{
		activeScripts: map[string]bool{string(script0): true},
		rawTx:         rawTx,
		txid:          txid,
	}
	u := unblind.New(noopKeySource{}, noopPrimitives{})
	engine := New(backend, d, u, Config{BatchSize: 3})

	snap := store.New()
	update, _, err := engine.FullScan(context.Background(), snap)
	require.NoError(t, err)
	require.Len(t, update.NewScripts, 1)
}

func TestFullScanToIndex_CoversRequestedIndexEvenWithoutActivity(t *testing.T) {
	t.Parallel()

	d := testDescriptor(t)
	backend := &fakeBackend{activeScripts: map[string]bool{}}
	u := unblind.New(noopKeySource{}, noopPrimitives{})
	engine := New(backend, d, u, Config{BatchSize: 5})

	snap := store.New()
	update, _, err := engine.FullScanToIndex(context.Background(), snap, 12)
	require.NoError(t, err)
	require.True(t, update.IsTipOnly())
}
