package persist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/store"
	"github.com/lwkgo/ctwallet/werror"
)

func testAsset(b byte) chaintypes.AssetID {
	var a chaintypes.AssetID
	a[0] = b
	return a
}

func sampleUpdate(txid byte) *store.Update {
	var hash [32]byte
	hash[0] = txid
	var tipHash [32]byte
	tipHash[0] = 0xff

	return &store.Update{
		Version: 2,
		NewTip:  chaintypes.Tip{Height: 10, Hash: tipHash},
		NewTxs: []*store.Transaction{
			{
				Txid: hash,
				Raw:  []byte{0x01, 0x02, 0x03},
				Outputs: []store.TxOut{
					{Script: []byte{0xa9, 0x14}, Value: 1000, Asset: testAsset(7)},
				},
			},
		},
		NewScripts: []store.NewScript{
			{Chain: chaintypes.ChainExternal, Index: 0, Script: []byte{0x00, 0x14}},
		},
		Timestamps: []store.TimestampEntry{{Height: 10, Timestamp: 1700000000}},
		Unblinded: map[chaintypes.OutPoint]store.Unblinded{
			{Hash: hash, Index: 0}: {Asset: testAsset(7), Value: 1000},
		},
	}
}

func TestFilePersisterAppendAndLoadRoundTrips(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	p, err := NewFilePersister(dir, nil)
	require.NoError(t, err)

	require.NoError(t, p.Append(sampleUpdate(1)))
	require.NoError(t, p.Append(sampleUpdate(2)))

	descriptor := "ct(slip77(ab),elwpkh(xpub.../0/*))"
	require.NoError(t, p.SnapshotAll(descriptor, sampleUpdate(3)))

	require.NoError(t, p.Append(sampleUpdate(4)))

	got, updates, err := p.LoadAll()
	require.NoError(t, err)
	require.Equal(t, descriptor, got)
	require.Len(t, updates, 2) // snapshot + the one journal entry appended after it

	require.Equal(t, chaintypes.Height(10), updates[0].NewTip.Height)
	require.Equal(t, testAsset(7), updates[1].NewTxs[0].Outputs[0].Asset)
}

func TestFilePersisterLoadAllWithNothingPersistedReturnsSentinel(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	p, err := NewFilePersister(dir, nil)
	require.NoError(t, err)

	_, _, err = p.LoadAll()
	require.ErrorIs(t, err, werror.ErrNoWalletPersisted)
}

func TestFilePersisterReopenSeesPriorJournal(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	p1, err := NewFilePersister(dir, nil)
	require.NoError(t, err)
	require.NoError(t, p1.Append(sampleUpdate(1)))
	require.NoError(t, p1.Append(sampleUpdate(2)))

	p2, err := NewFilePersister(dir, nil)
	require.NoError(t, err)

	_, updates, err := p2.LoadAll()
	require.NoError(t, err)
	require.Len(t, updates, 2)

	// A fresh persister must continue numbering after the existing
	// journal, not collide with it.
	require.NoError(t, p2.Append(sampleUpdate(3)))
	_, updates, err = p2.LoadAll()
	require.NoError(t, err)
	require.Len(t, updates, 3)
}

func TestFilePersisterSealedRoundTripsAndRejectsWrongKey(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	sealerA, err := NewHKDFSealer([]byte("wallet-a-secret"))
	require.NoError(t, err)
	sealerB, err := NewHKDFSealer([]byte("wallet-b-secret"))
	require.NoError(t, err)

	p, err := NewFilePersister(dir, sealerA)
	require.NoError(t, err)
	require.NoError(t, p.SnapshotAll("descriptor-a", sampleUpdate(1)))
	require.NoError(t, p.Append(sampleUpdate(2)))

	reopened, err := NewFilePersister(dir, sealerA)
	require.NoError(t, err)
	got, updates, err := reopened.LoadAll()
	require.NoError(t, err)
	require.Equal(t, "descriptor-a", got)
	require.Len(t, updates, 2)

	wrongKey, err := NewFilePersister(dir, sealerB)
	require.NoError(t, err)
	_, _, err = wrongKey.LoadAll()
	require.Error(t, err)
}

func TestFilePersisterCleartextCannotBeLoadedBySealedPersister(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	p, err := NewFilePersister(dir, nil)
	require.NoError(t, err)
	require.NoError(t, p.SnapshotAll("plain-descriptor", sampleUpdate(1)))

	sealer, err := NewHKDFSealer([]byte("some-secret"))
	require.NoError(t, err)
	sealed, err := NewFilePersister(dir, sealer)
	require.NoError(t, err)

	_, _, err = sealed.LoadAll()
	require.Error(t, err)
}

func TestWriteAtomicLeavesNoTempFileBehind(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "foo")

	require.NoError(t, writeAtomic(path, []byte("hello")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "leftover temp file %s", e.Name())
	}
}

func TestSqlitePersisterAppendAndLoadRoundTrips(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	p, err := NewSqlitePersister(filepath.Join(dir, "wallet.sqlite"), nil)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Append(sampleUpdate(1)))
	require.NoError(t, p.SnapshotAll("descriptor", sampleUpdate(2)))
	require.NoError(t, p.Append(sampleUpdate(3)))

	got, updates, err := p.LoadAll()
	require.NoError(t, err)
	require.Equal(t, "descriptor", got)
	require.Len(t, updates, 2)
}

func TestSqlitePersisterLoadAllWithNothingPersistedReturnsSentinel(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	p, err := NewSqlitePersister(filepath.Join(dir, "wallet.sqlite"), nil)
	require.NoError(t, err)
	defer p.Close()

	_, _, err = p.LoadAll()
	require.Error(t, err)
}

func TestSqlitePersisterSealedKeyIsolation(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "wallet.sqlite")

	sealerA, err := NewHKDFSealer([]byte("wallet-a-secret"))
	require.NoError(t, err)
	sealerB, err := NewHKDFSealer([]byte("wallet-b-secret"))
	require.NoError(t, err)

	p, err := NewSqlitePersister(path, sealerA)
	require.NoError(t, err)
	require.NoError(t, p.SnapshotAll("descriptor", sampleUpdate(1)))
	require.NoError(t, p.Close())

	wrongKey, err := NewSqlitePersister(path, sealerB)
	require.NoError(t, err)
	defer wrongKey.Close()

	_, _, err = wrongKey.LoadAll()
	require.Error(t, err)
}

func TestStoreLoadSnapshotThenApplyUpdateReplaysPersistedState(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	p, err := NewFilePersister(dir, nil)
	require.NoError(t, err)

	u1 := sampleUpdate(1)
	require.NoError(t, p.SnapshotAll("descriptor", u1))

	_, updates, err := p.LoadAll()
	require.NoError(t, err)
	require.Len(t, updates, 1)

	s := store.New()
	s.LoadSnapshot(updates[0])

	_, ok := s.Transaction(chaintypes.Txid{0: 1})
	require.True(t, ok)
}
