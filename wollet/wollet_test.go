package wollet

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/hdkeychain"
	"github.com/stretchr/testify/require"

	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/descriptor"
	"github.com/lwkgo/ctwallet/network"
	"github.com/lwkgo/ctwallet/store"
	"github.com/lwkgo/ctwallet/unblind"
	"github.com/lwkgo/ctwallet/werror"
)

type stubPrimitives struct{}

func (stubPrimitives) ECDHNonce(*btcec.PrivateKey, [33]byte) ([32]byte, error) {
	return [32]byte{}, nil
}

func (stubPrimitives) UnblindRangeproof(
	[32]byte, unblind.ConfidentialOutput,
) (uint64, [32]byte, chaintypes.AssetID, [32]byte, error) {
	return 0, [32]byte{}, chaintypes.AssetID{}, [32]byte{}, nil
}

func testDescriptor(t *testing.T, seedByte byte) *descriptor.WolletDescriptor {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = seedByte
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	neutered, err := master.Neuter()
	require.NoError(t, err)

	desc := "ct(slip77(" +
		"9c8e000000000000000000000000000000000000000000000000000000007023" +
		"),elwpkh(" + neutered.String() + "/<0;1>/*))"
	d, err := descriptor.Parse(desc, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	return d
}

func testWollet(t *testing.T) *Wollet {
	t.Helper()
	w, err := New(Config{
		Descriptor: testDescriptor(t, 7),
		Network:    network.ParamsFor(network.LiquidTestnet),
		Primitives: stubPrimitives{},
	})
	require.NoError(t, err)
	return w
}

func TestAddressDefaultsToNextUnusedExternal(t *testing.T) {
	t.Parallel()
	w := testWollet(t)

	addr1, chain, idx1, err := w.Address(nil)
	require.NoError(t, err)
	require.Equal(t, chaintypes.ChainExternal, chain)
	require.Equal(t, uint32(0), idx1)
	require.NotEmpty(t, addr1)

	// deriving a specific later index does not move last_unused itself;
	// only an applied update carrying a NewScript does.
	addr2, _, idx2, err := w.Address(uint32Ptr(5))
	require.NoError(t, err)
	require.Equal(t, uint32(5), idx2)
	require.NotEqual(t, addr1, addr2)
}

func uint32Ptr(v uint32) *uint32 { return &v }

func TestApplyUpdateRejectsStaleBase(t *testing.T) {
	t.Parallel()
	w := testWollet(t)

	stale := &store.Update{
		BaseStatus: store.Status{0xff}, // wrong on purpose
		NewTxs: []*store.Transaction{{
			Txid: chainhash.Hash{0x01},
		}},
	}

	err := w.ApplyUpdate(stale)
	require.Error(t, err)
	var staleErr *werror.UpdateOnStaleStatus
	require.ErrorAs(t, err, &staleErr)
}

func TestApplyUpdateAcceptsTipOnlyRegardlessOfBase(t *testing.T) {
	t.Parallel()
	w := testWollet(t)

	tipOnly := &store.Update{
		BaseStatus: store.Status{0xff},
		NewTip:     chaintypes.Tip{Height: 100, Hash: chainhash.Hash{0x02}},
	}
	require.NoError(t, w.ApplyUpdate(tipOnly))
	require.Equal(t, chaintypes.Height(100), w.Store().Tip().Height)
}

func TestApplyUpdateAcceptsMatchingBaseAndJournalsToPersister(t *testing.T) {
	t.Parallel()
	w := testWollet(t)
	journal := &recordingPersister{}
	w.persister = journal

	base := w.Store().Status()
	txid := chainhash.Hash{0x03}
	u := &store.Update{
		BaseStatus: base,
		NewScripts: []store.NewScript{{Chain: chaintypes.ChainExternal, Index: 0, Script: []byte{0x00, 0x14, 0xaa}}},
		NewTxs: []*store.Transaction{{
			Txid:    txid,
			Outputs: []store.TxOut{{Script: []byte{0x00, 0x14, 0xaa}, Asset: chaintypes.AssetID{0x11}, Value: 1000}},
		}},
	}
	require.NoError(t, w.ApplyUpdate(u))
	require.Len(t, journal.appended, 1)

	bal := w.Balance()
	require.Equal(t, uint64(1000), bal[chaintypes.AssetID{0x11}])
}

type recordingPersister struct {
	appended []*store.Update
}

func (r *recordingPersister) Append(u *store.Update) error {
	r.appended = append(r.appended, u)
	return nil
}
func (r *recordingPersister) SnapshotAll(string, *store.Update) error { return nil }
func (r *recordingPersister) LoadAll() (string, []*store.Update, error) {
	return "", nil, werror.ErrNoWalletPersisted
}
func (r *recordingPersister) Close() error { return nil }

func TestUtxosExcludesSpentAndUnownedOutputs(t *testing.T) {
	t.Parallel()
	w := testWollet(t)

	ownedScript := []byte{0x00, 0x14, 0xbb}
	txid1 := chainhash.Hash{0x04}
	txid2 := chainhash.Hash{0x05}

	base := w.Store().Status()
	require.NoError(t, w.ApplyUpdate(&store.Update{
		BaseStatus: base,
		NewScripts: []store.NewScript{{Chain: chaintypes.ChainExternal, Index: 0, Script: ownedScript}},
		NewTxs: []*store.Transaction{{
			Txid:    txid1,
			Outputs: []store.TxOut{{Script: ownedScript, Asset: chaintypes.AssetID{0x22}, Value: 500}},
		}},
	}))

	utxos := w.Utxos()
	require.Len(t, utxos, 1)
	require.Equal(t, uint64(500), utxos[0].Value)

	// spend it in a second tx
	base2 := w.Store().Status()
	require.NoError(t, w.ApplyUpdate(&store.Update{
		BaseStatus: base2,
		NewTxs: []*store.Transaction{{
			Txid:   txid2,
			Inputs: []chaintypes.OutPoint{{Hash: txid1, Index: 0}},
		}},
	}))

	require.Empty(t, w.Utxos())
	require.Len(t, w.Txos(), 1) // still present in the full txo view
}

func TestApplyTransactionIsIdempotent(t *testing.T) {
	t.Parallel()
	w := testWollet(t)

	tx := &store.Transaction{
		Txid:    chainhash.Hash{0x09},
		Outputs: []store.TxOut{{Script: []byte{0x00, 0x14, 0xcc}, Asset: chaintypes.AssetID{0x33}, Value: 42}},
	}

	bal1, err := w.ApplyTransaction(tx)
	require.NoError(t, err)
	require.Equal(t, int64(42), bal1[chaintypes.AssetID{0x33}])

	bal2, err := w.ApplyTransaction(tx)
	require.NoError(t, err)
	require.Empty(t, bal2)
}

func TestTransactionsSortedNewestFirstWithTxidTiebreak(t *testing.T) {
	t.Parallel()
	w := testWollet(t)

	confirmed100 := chainhash.Hash{0xa1}
	confirmed200 := chainhash.Hash{0xa2}
	mempool := chainhash.Hash{0xa3}

	h100 := chaintypes.Height(100)
	h200 := chaintypes.Height(200)

	base := w.Store().Status()
	require.NoError(t, w.ApplyUpdate(&store.Update{
		BaseStatus: base,
		NewTxs: []*store.Transaction{
			{Txid: confirmed100},
			{Txid: confirmed200},
			{Txid: mempool},
		},
		Heights: []store.HeightEntry{
			{Txid: confirmed100, Height: &h100},
			{Txid: confirmed200, Height: &h200},
			{Txid: mempool, Height: nil},
		},
	}))

	txs := w.Transactions()
	require.Len(t, txs, 3)
	require.Equal(t, mempool, txs[0].Txid)
	require.Equal(t, confirmed200, txs[1].Txid)
	require.Equal(t, confirmed100, txs[2].Txid)
}

func TestTransactionReturnsUnknownForZeroBalanceTx(t *testing.T) {
	t.Parallel()
	w := testWollet(t)

	txid := chainhash.Hash{0xb1}
	require.NoError(t, w.ApplyUpdate(&store.Update{
		BaseStatus: w.Store().Status(),
		NewTxs:     []*store.Transaction{{Txid: txid}},
	}))

	wtx, ok := w.Transaction(txid)
	require.True(t, ok)
	require.Equal(t, TxUnknown, wtx.Type)

	_, ok = w.Transaction(chainhash.Hash{0xff})
	require.False(t, ok)
}
