// Package chain defines the backend adapter contract: the minimum
// surface a blockchain backend must implement so
// the scan engine can drive it to completion without knowing which
// concrete backend it is talking to. Three adapters are shipped
// (electrum, esplora, waterfalls); everything here is protocol-
// agnostic plumbing shared by all three, grounded on
// lightweight-wallet/chain/mempool's client/cache/retry pattern.
package chain

import (
	"context"

	"github.com/lwkgo/ctwallet/chaintypes"
)

// Capability is one optional feature a backend may advertise.
type Capability int

const (
	// CapWaterfalls means a single request returns histories for a
	// slab of scripts keyed by an encrypted descriptor, short-
	// circuiting the per-script history loop step 2.
	CapWaterfalls Capability = iota
	// CapUtxoOnly means the backend returns only unspent outputs
	// rather than full history; resulting WalletTx entries are
	// recorded in degraded (dummy) form.
	CapUtxoOnly
)

// CapabilitySet is the set of capabilities a backend advertises.
type CapabilitySet map[Capability]struct{}

// Has reports whether c is present in the set.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// NewCapabilitySet builds a CapabilitySet from a list of capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Backend is the minimum surface a new blockchain backend must
// implement.
type Backend interface {
	// Tip returns the backend's current view of the chain tip.
	Tip(ctx context.Context) (chaintypes.Tip, error)

	// GetScriptsHistory returns, for each script in scripts, the list
	// of (txid, height, timestamp) entries touching it. The outer
	// slice is positionally aligned with scripts.
	GetScriptsHistory(ctx context.Context, scripts [][]byte) ([][]chaintypes.HistoryEntry, error)

	// GetTransactions returns the raw transaction bytes for each
	// txid, in the same order as txids.
	GetTransactions(ctx context.Context, txids []chaintypes.Txid) ([][]byte, error)

	// GetHeaders returns block headers for the requested heights.
	// hashHints, when non-nil, lets a pull-based backend skip a
	// height->hash lookup round trip it would otherwise need.
	GetHeaders(ctx context.Context, heights []chaintypes.Height, hashHints map[chaintypes.Height]chaintypes.BlockHash) ([]chaintypes.Header, error)

	// Broadcast submits a raw transaction and returns its txid.
	Broadcast(ctx context.Context, rawTx []byte) (chaintypes.Txid, error)

	// Capabilities reports which optional features this backend
	// implements.
	Capabilities() CapabilitySet
}

// WaterfallsBackend is implemented additionally by backends
// advertising CapWaterfalls: a single bulk call replacing per-script
// history fetches.
type WaterfallsBackend interface {
	Backend

	// GetWaterfallsHistory returns histories for every script
	// belonging to encryptedDescriptor in one round trip.
	GetWaterfallsHistory(ctx context.Context, encryptedDescriptor string) (map[string][]chaintypes.HistoryEntry, error)
}
