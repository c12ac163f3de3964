// Package store implements the in-memory derived state: the
// Script<->(Chain,Index) maps, per-chain last-used
// counters, transaction/height/timestamp/unblinded caches, and the
// chain tip. It is mutated only through ApplyUpdate, ApplyTransaction,
// LoadSnapshot and RecordUnblinded, each of which takes the single
// writer lock; every
// other method takes only a read lock and observes a consistent
// snapshot.
//
// Concurrency pattern grounded on
// lightweight-wallet/wallet/btcwallet/utxo_locks.go's
// sync.RWMutex-guarded map style, generalised from one map to the
// full derived-state record this wallet needs.
package store

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/unblind"
)

// Transaction is the minimal Elements transaction shape the store
// needs to keep: the raw bytes plus decoded inputs/outputs enough to
// compute balances and spentness. A "dummy" transaction (Degraded ==
// true) carries no output detail, per the UtxoOnly backend capability.
type Transaction struct {
	Txid     chaintypes.Txid
	Raw      []byte
	Inputs   []chaintypes.OutPoint
	Outputs  []TxOut
	Degraded bool
}

// TxOut is one output of a stored Transaction: its script, its
// explicit value and asset, and whether it is confidential. Secrets
// recovered by unblinding a confidential output are not kept here but
// in the Store's unblinded map, keyed by outpoint.
type TxOut struct {
	Script  []byte
	Value   uint64 // explicit value, only meaningful if Confidential == false
	Asset   chaintypes.AssetID
	Confidential bool
}

// Unblinded is the recovered secret for a confidential output we own.
type Unblinded = unblind.Secrets

// Store is the in-memory derived wallet state.
type Store struct {
	mu sync.RWMutex

	paths   map[string]scriptKey           // script -> (chain, index)
	scripts map[scriptKey]string           // (chain, index) -> script
	lastUnused map[chaintypes.Chain]uint32

	allTxs     map[chaintypes.Txid]*Transaction
	heights    map[chaintypes.Txid]*chaintypes.Height
	timestamps map[chaintypes.Height]uint32
	unblinded  map[chaintypes.OutPoint]Unblinded
	cannotUnblind map[chaintypes.OutPoint]struct{}

	spent map[chaintypes.OutPoint]struct{}

	tip chaintypes.Tip
}

type scriptKey struct {
	Chain chaintypes.Chain
	Index uint32
}

// New returns an empty store.
func New() *Store {
	return &Store{
		paths:         make(map[string]scriptKey),
		scripts:       make(map[scriptKey]string),
		lastUnused:    make(map[chaintypes.Chain]uint32),
		allTxs:        make(map[chaintypes.Txid]*Transaction),
		heights:       make(map[chaintypes.Txid]*chaintypes.Height),
		timestamps:    make(map[chaintypes.Height]uint32),
		unblinded:     make(map[chaintypes.OutPoint]Unblinded),
		cannotUnblind: make(map[chaintypes.OutPoint]struct{}),
		spent:         make(map[chaintypes.OutPoint]struct{}),
	}
}

// LastUnused returns the next-to-derive index for chain.
func (s *Store) LastUnused(chain chaintypes.Chain) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUnused[chain]
}

// ScriptAt returns the script registered at (chain, index), if any.
func (s *Store) ScriptAt(chain chaintypes.Chain, index uint32) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	script, ok := s.scripts[scriptKey{chain, index}]
	return []byte(script), ok
}

// PathOf returns the (chain, index) a script was derived at, if known
// to the store.
func (s *Store) PathOf(script []byte) (chaintypes.Chain, uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.paths[string(script)]
	return k.Chain, k.Index, ok
}

// Tip returns the store's current view of the chain tip.
func (s *Store) Tip() chaintypes.Tip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tip
}

// Transaction returns the stored transaction for txid, if any.
func (s *Store) Transaction(txid chaintypes.Txid) (*Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.allTxs[txid]
	return tx, ok
}

// AllTxids returns every txid the store knows about.
func (s *Store) AllTxids() []chaintypes.Txid {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chaintypes.Txid, 0, len(s.allTxs))
	for id := range s.allTxs {
		out = append(out, id)
	}
	return out
}

// HeightOf returns the confirmation height of txid, or (nil, false)
// if the tx is unknown. A known-but-unconfirmed tx returns (nil, true).
func (s *Store) HeightOf(txid chaintypes.Txid) (*chaintypes.Height, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.heights[txid]
	return h, ok
}

// Unblind returns the recovered secret for outpoint, if the store has
// one cached.
func (s *Store) Unblind(op chaintypes.OutPoint) (Unblinded, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.unblinded[op]
	return u, ok
}

// IsSpent reports whether outpoint is consumed by a known input.
// is_spent is derived from tx inputs, never stored persistently.
func (s *Store) IsSpent(op chaintypes.OutPoint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.spent[op]
	return ok
}

// CannotUnblindSet returns every outpoint the wallet owns by script
// but could not unblind under any blinding-key variant tried so far.
func (s *Store) CannotUnblindSet() []chaintypes.OutPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chaintypes.OutPoint, 0, len(s.cannotUnblind))
	for op := range s.cannotUnblind {
		out = append(out, op)
	}
	return out
}

// RecordUnblinded directly sets the cached secret for op, clearing any
// cannot-unblind record for it. Used by Reunblind to apply a
// successful retry outside the ApplyUpdate/LoadSnapshot path.
func (s *Store) RecordUnblinded(op chaintypes.OutPoint, secret Unblinded) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unblinded[op] = secret
	delete(s.cannotUnblind, op)
}

// Status is a deterministic digest of (tip, last_unused, txid-height
// set), used by Update.BaseStatus / Wollet.ApplyUpdate to detect a
// stale update.
type Status [32]byte

// Status computes the store's current status hash.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *Store) statusLocked() Status {
	h := sha256.New()

	var tipBuf [4]byte
	binary.LittleEndian.PutUint32(tipBuf[:], uint32(s.tip.Height))
	h.Write(tipBuf[:])
	h.Write(s.tip.Hash[:])

	for _, chain := range []chaintypes.Chain{chaintypes.ChainExternal, chaintypes.ChainInternal} {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], s.lastUnused[chain])
		h.Write(b[:])
	}

	// Sorted-by-hash iteration would be needed for a cross-process
	// deterministic digest of set membership; instead each (txid,
	// height) entry is hashed on its own and the digests are XORed
	// together, which is order-independent and avoids an explicit sort
	// on every status computation.
	var txSum [32]byte
	for txid, height := range s.heights {
		entry := sha256.New()
		entry.Write(txid[:])
		if height != nil {
			var hb [4]byte
			binary.LittleEndian.PutUint32(hb[:], uint32(*height))
			entry.Write(hb[:])
		}
		digest := entry.Sum(nil)
		for i := range txSum {
			txSum[i] ^= digest[i]
		}
	}
	h.Write(txSum[:])

	var out Status
	copy(out[:], h.Sum(nil))
	return out
}

// Balance sums the value of every unspent, unblinded-or-explicit txo
// the wallet owns, per asset.
func (s *Store) Balance() map[chaintypes.AssetID]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[chaintypes.AssetID]uint64)
	for txid, tx := range s.allTxs {
		for i, o := range tx.Outputs {
			op := chaintypes.OutPoint{Hash: txid, Index: uint32(i)}
			if _, spent := s.spent[op]; spent {
				continue
			}
			if _, owned := s.paths[string(o.Script)]; !owned {
				continue
			}
			if o.Confidential {
				secret, ok := s.unblinded[op]
				if !ok {
					continue
				}
				out[secret.Asset] += secret.Value
			} else {
				out[o.Asset] += o.Value
			}
		}
	}
	return out
}
