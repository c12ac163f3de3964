// Package chaintypes holds the wire-level value types shared by the
// store, scan engine, backend adapters, and PSET model: asset ids,
// outpoints, headers and histories. None of these types implement
// confidential-transaction cryptography themselves (see unblind's
// ctcrypto interface) -- they are the plain data shapes that
// cryptography operates on.
package chaintypes

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// AssetID is the 32-byte Elements asset identifier.
type AssetID [32]byte

// ParseAssetID parses a hex-encoded, display-order asset id.
func ParseAssetID(s string) (AssetID, error) {
	var id AssetID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse asset id: %w", err)
	}
	if len(b) != 32 {
		return id, fmt.Errorf("parse asset id: want 32 bytes, got %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

func (a AssetID) String() string {
	return hex.EncodeToString(a[:])
}

// Txid is a transaction id, sharing representation with Bitcoin's
// double-SHA256 txid (Elements reuses the same hash construction).
type Txid = chainhash.Hash

// BlockHash is a block's identifying hash.
type BlockHash = chainhash.Hash

// OutPoint identifies a transaction output. wire.OutPoint is reused
// verbatim: it is exactly the (Hash, Index) pair the data model
// calls for, and mempool/chain_bridge.go and
// wallet/btcwallet/utxo_locks.go both key maps by it already.
type OutPoint = wire.OutPoint

// Height is a block height. Zero is a valid height (genesis); a scan
// result with "no height" uses a pointer or a sentinel, not zero,
// since height 0 and "unconfirmed" must be distinguishable.
type Height uint32

// Header is the minimal block header data the store needs: height,
// hash, and timestamp. Elements headers carry additional
// dynafed/signed-block fields the wallet engine has no use for.
type Header struct {
	Height    Height
	Hash      BlockHash
	Timestamp uint32
}

// HistoryEntry is one row of a script's on-chain history as returned
// by a backend adapter: a txid, and the confirmation height/hash/
// timestamp if known. An unconfirmed entry has Height == nil.
type HistoryEntry struct {
	Txid      Txid
	Height    *Height
	BlockHash *BlockHash
	Timestamp *uint32
}

// Tip is the backend's (or store's) notion of the current chain tip.
type Tip struct {
	Height    Height
	Hash      BlockHash
	Timestamp *uint32
}

// Chain distinguishes the external and internal (change) derivation
// branches of a descriptor.
type Chain int

const (
	ChainExternal Chain = iota
	ChainInternal
)

func (c Chain) String() string {
	if c == ChainInternal {
		return "internal"
	}
	return "external"
}
