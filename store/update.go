package store

import (
	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/werror"
)

// NewScript is a newly derived (chain, index) -> script pair carried
// by an Update.
type NewScript struct {
	Chain  chaintypes.Chain
	Index  uint32
	Script []byte
}

// HeightEntry is a txid->height insertion or deletion carried by an
// Update. A nil Height with Delete == false records "seen in mempool,
// parents possibly unconfirmed"; Delete == true
// reorgs a previously confirmed tx back out.
type HeightEntry struct {
	Txid   chaintypes.Txid
	Height *chaintypes.Height
	Delete bool
}

// TimestampEntry is a (height, timestamp) pair carried by an Update.
type TimestampEntry struct {
	Height    chaintypes.Height
	Timestamp uint32
}

// Update is the immutable delta the scan engine produces. It is "tip
// only" when NewTxs, NewScripts, Timestamps, Heights and Unblinded are
// all empty -- such an update is exempt from the staleness check.
type Update struct {
	// BaseStatus is the store status this update was computed against.
	BaseStatus Status

	NewTxs     []*Transaction
	Heights    []HeightEntry
	Timestamps []TimestampEntry
	NewScripts []NewScript
	Unblinded  map[chaintypes.OutPoint]Unblinded

	// CannotUnblind records outpoints the scan engine recognised as
	// wallet-owned by script but failed to unblind under every
	// blinding-key variant the descriptor offers. A later Reunblind
	// (after key material changes, or a sender using a different
	// variant than first tried) clears an entry the same way a
	// successful Unblinded entry does.
	CannotUnblind []chaintypes.OutPoint

	NewTip chaintypes.Tip

	// Version is the wire serialisation version this update was built
	// for; see pset's sibling concept. V1 and V2 both
	// deserialise into the same in-memory Update.
	Version int
}

// IsTipOnly reports whether this update carries nothing but a new tip.
func (u *Update) IsTipOnly() bool {
	return len(u.NewTxs) == 0 && len(u.NewScripts) == 0 && len(u.Timestamps) == 0 &&
		len(u.Heights) == 0 && len(u.Unblinded) == 0
}

// ApplyUpdate merges u into the store. It fails with
// werror.UpdateOnStaleStatus unless u.BaseStatus matches the store's
// current status or u is tip-only. The apply is
// all-or-nothing: either every field is merged, or none is.
func (s *Store) ApplyUpdate(u *Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.statusLocked()
	if !u.IsTipOnly() && u.BaseStatus != current {
		return &werror.UpdateOnStaleStatus{
			UpdateBase:   hexStatus(u.BaseStatus),
			WalletStatus: hexStatus(current),
		}
	}

	s.mergeLocked(u)
	return nil
}

// LoadSnapshot merges u into the store unconditionally, skipping the
// staleness check ApplyUpdate performs. Only meant for replaying a
// persister's snapshot_all/journal at process startup, before the
// store is exposed to any concurrent scan -- a loaded snapshot is by
// definition the store's own prior state, not a delta that could have
// raced a concurrent writer.
func (s *Store) LoadSnapshot(u *Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeLocked(u)
}

func (s *Store) mergeLocked(u *Update) {
	for _, ns := range u.NewScripts {
		k := scriptKey{ns.Chain, ns.Index}
		s.scripts[k] = string(ns.Script)
		s.paths[string(ns.Script)] = k
		if ns.Index+1 > s.lastUnused[ns.Chain] {
			s.lastUnused[ns.Chain] = ns.Index + 1
		}
	}

	for _, tx := range u.NewTxs {
		s.allTxs[tx.Txid] = tx
		for _, in := range tx.Inputs {
			s.spent[in] = struct{}{}
		}
	}

	for _, he := range u.Heights {
		if he.Delete {
			delete(s.heights, he.Txid)
			continue
		}
		s.heights[he.Txid] = he.Height
	}

	for _, te := range u.Timestamps {
		s.timestamps[te.Height] = te.Timestamp
	}

	for op, secret := range u.Unblinded {
		s.unblinded[op] = secret
		delete(s.cannotUnblind, op)
	}

	for _, op := range u.CannotUnblind {
		if _, already := s.unblinded[op]; already {
			continue
		}
		s.cannotUnblind[op] = struct{}{}
	}

	if u.NewTip.Height >= s.tip.Height {
		s.tip = u.NewTip
	}
}

// FullSnapshot captures the entire current store state as a single
// Update whose BaseStatus is the zero Status: loading it into a fresh
// Store with LoadSnapshot reproduces this store's state exactly
// (ApplyUpdate rejects a non-tip-only snapshot as stale, since a fresh
// Store's status is not the zero Status). cannotUnblind is not
// captured -- it is a pure retry-avoidance cache, never a
// correctness-bearing fact, so losing it across a restart only costs
// a few wasted unblind attempts.
func (s *Store) FullSnapshot() *Update {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := &Update{
		NewTip:    s.tip,
		Unblinded: make(map[chaintypes.OutPoint]Unblinded, len(s.unblinded)),
		Version:   2,
	}

	for k, script := range s.scripts {
		u.NewScripts = append(u.NewScripts, NewScript{Chain: k.Chain, Index: k.Index, Script: []byte(script)})
	}
	for txid, tx := range s.allTxs {
		u.NewTxs = append(u.NewTxs, tx)
		if h, ok := s.heights[txid]; ok {
			u.Heights = append(u.Heights, HeightEntry{Txid: txid, Height: h})
		}
	}
	for height, ts := range s.timestamps {
		u.Timestamps = append(u.Timestamps, TimestampEntry{Height: height, Timestamp: ts})
	}
	for op, secret := range s.unblinded {
		u.Unblinded[op] = secret
	}

	return u
}

func hexStatus(s Status) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(s)*2)
	for i, b := range s {
		out[i*2] = hexdigits[b>>4]
		out[i*2+1] = hexdigits[b&0xf]
	}
	return string(out)
}

// SignedBalance is the per-asset delta an optimistic apply produces.
type SignedBalance map[chaintypes.AssetID]int64

// ApplyTransaction optimistically folds tx into the store so a caller
// sees the pending spend immediately, ahead of the next scan.
// Idempotent: applying the same tx twice is a no-op the second time.
// Advances the store status, so any in-flight scan whose base status
// predates this call will fail to re-apply and must re-scan.
func (s *Store) ApplyTransaction(tx *Transaction) (SignedBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, already := s.allTxs[tx.Txid]; already {
		return SignedBalance{}, nil
	}

	balance := make(SignedBalance)
	for _, in := range tx.Inputs {
		prevTx, ok := s.allTxs[in.Hash]
		if !ok || int(in.Index) >= len(prevTx.Outputs) {
			continue
		}
		out := prevTx.Outputs[in.Index]
		if out.Confidential {
			if secret, ok := s.unblinded[in]; ok {
				balance[secret.Asset] -= int64(secret.Value)
			}
		} else {
			balance[out.Asset] -= int64(out.Value)
		}
		s.spent[in] = struct{}{}
	}

	for i, out := range tx.Outputs {
		op := chaintypes.OutPoint{Hash: tx.Txid, Index: uint32(i)}
		if out.Confidential {
			if secret, ok := s.unblinded[op]; ok {
				balance[secret.Asset] += int64(secret.Value)
			}
		} else {
			balance[out.Asset] += int64(out.Value)
		}
	}

	s.allTxs[tx.Txid] = tx
	// height left unset: nil means "seen in mempool", consistent with
	// an about-to-be-broadcast tx that has not yet been mined.
	s.heights[tx.Txid] = nil

	return balance, nil
}
