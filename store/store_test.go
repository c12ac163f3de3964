package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/werror"
)

func txid(b byte) chaintypes.Txid {
	var h chaintypes.Txid
	h[0] = b
	return h
}

func TestApplyUpdate_TipOnlyAlwaysApplies(t *testing.T) {
	t.Parallel()

	s := New()
	staleStatus := Status{0xff}

	u := &Update{
		BaseStatus: staleStatus,
		NewTip:     chaintypes.Tip{Height: 10, Hash: txid(1)},
	}
	require.True(t, u.IsTipOnly())
	require.NoError(t, s.ApplyUpdate(u))
	require.Equal(t, chaintypes.Height(10), s.Tip().Height)
}

func TestApplyUpdate_RejectsStaleNonTipOnly(t *testing.T) {
	t.Parallel()

	s := New()
	u := &Update{
		BaseStatus: Status{0xde, 0xad},
		NewScripts: []NewScript{{Chain: chaintypes.ChainExternal, Index: 0, Script: []byte{1, 2, 3}}},
	}
	err := s.ApplyUpdate(u)
	require.Error(t, err)

	var stale *werror.UpdateOnStaleStatus
	require.True(t, errors.As(err, &stale))
}

func TestApplyUpdate_SucceedsAgainstCurrentStatus(t *testing.T) {
	t.Parallel()

	s := New()
	status := s.Status()

	u := &Update{
		BaseStatus: status,
		NewScripts: []NewScript{{Chain: chaintypes.ChainExternal, Index: 0, Script: []byte{9, 9, 9}}},
	}
	require.NoError(t, s.ApplyUpdate(u))

	script, ok := s.ScriptAt(chaintypes.ChainExternal, 0)
	require.True(t, ok)
	require.Equal(t, []byte{9, 9, 9}, script)
	require.Equal(t, uint32(1), s.LastUnused(chaintypes.ChainExternal))
}

func TestApplyUpdate_DeterministicStatusAfterApply(t *testing.T) {
	t.Parallel()

	s1, s2 := New(), New()
	base := s1.Status()
	require.Equal(t, base, s2.Status())

	u := &Update{
		BaseStatus: base,
		NewTxs: []*Transaction{{
			Txid:    txid(7),
			Outputs: []TxOut{{Value: 100, Asset: chaintypes.AssetID{1}}},
		}},
		Heights: []HeightEntry{{Txid: txid(7), Height: heightPtr(5)}},
	}

	require.NoError(t, s1.ApplyUpdate(u))
	require.NoError(t, s2.ApplyUpdate(u))
	require.Equal(t, s1.Status(), s2.Status())
}

func TestApplyTransaction_Idempotent(t *testing.T) {
	t.Parallel()

	s := New()
	tx := &Transaction{
		Txid:    txid(3),
		Outputs: []TxOut{{Value: 500, Asset: chaintypes.AssetID{2}}},
	}

	bal1, err := s.ApplyTransaction(tx)
	require.NoError(t, err)
	require.Equal(t, int64(500), bal1[chaintypes.AssetID{2}])

	bal2, err := s.ApplyTransaction(tx)
	require.NoError(t, err)
	require.Empty(t, bal2, "reapplying the same tx should be a no-op")
}

func TestBalance_SumsUnspentOutputs(t *testing.T) {
	t.Parallel()

	s := New()
	asset := chaintypes.AssetID{5}
	status := s.Status()
	u := &Update{
		BaseStatus: status,
		NewScripts: []NewScript{{Chain: chaintypes.ChainExternal, Index: 0, Script: []byte{0x51}}},
		NewTxs: []*Transaction{{
			Txid:    txid(1),
			Outputs: []TxOut{{Script: []byte{0x51}, Value: 1000, Asset: asset}},
		}},
	}
	require.NoError(t, s.ApplyUpdate(u))
	require.Equal(t, uint64(1000), s.Balance()[asset])

	spend := &Update{
		BaseStatus: s.Status(),
		NewTxs: []*Transaction{{
			Txid:    txid(2),
			Inputs:  []chaintypes.OutPoint{{Hash: txid(1), Index: 0}},
			Outputs: []TxOut{{Script: []byte{0x51}, Value: 990, Asset: asset}},
		}},
	}
	require.NoError(t, s.ApplyUpdate(spend))
	require.Equal(t, uint64(990), s.Balance()[asset])
}

func heightPtr(h chaintypes.Height) *chaintypes.Height { return &h }
