// Package scan implements the scan engine (component
// D): full_scan and full_scan_to_index walk a descriptor's external
// and internal chains in gap-limit batches against a chain.Backend,
// returning an immutable store.Update the caller applies with
// store.Store.ApplyUpdate. Cooperative cancellation is via the
// standard context.Context already threaded through chain.Backend.
//
// Grounded on lightweight-wallet/chain/mempool/notifications.go's
// polling-loop shape (generalised from "poll until confirmed" to
// "batch until gap limit exhausted") and on
// original_source/lwk_wollet/src/blockchain/mod.rs's full_scan
// gap-limit algorithm: derive BatchSize scripts, fetch their
// histories, and keep deriving further batches until an entire batch
// comes back with no activity at all on either chain.
package scan

import (
	"context"
	"errors"
	"fmt"

	"github.com/lwkgo/ctwallet/chain"
	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/descriptor"
	"github.com/lwkgo/ctwallet/elementstx"
	"github.com/lwkgo/ctwallet/log"
	"github.com/lwkgo/ctwallet/store"
	"github.com/lwkgo/ctwallet/unblind"
)

var scanLog = log.NewSubLogger(log.TagScan)

// DefaultBatchSize is the number of addresses derived and queried per
// round on each chain, matching the usual BIP44-style gap-limit
// convention.
const DefaultBatchSize = 20

// Config configures an Engine.
type Config struct {
	BatchSize uint32
}

// DefaultConfig returns a Config with DefaultBatchSize.
func DefaultConfig() Config {
	return Config{BatchSize: DefaultBatchSize}
}

// ScanWarning is a non-fatal condition surfaced by a scan: the scan
// still completed and its Update is still valid, but something the
// caller asked for (e.g. a waterfalls bulk scan) was silently
// downgraded.
type ScanWarning struct {
	Message string
}

func (w *ScanWarning) Error() string { return w.Message }

// Engine runs scans against a single backend and descriptor.
type Engine struct {
	backend    chain.Backend
	descriptor *descriptor.WolletDescriptor
	unblinder  *unblind.Unblinder
	cfg        Config
}

// New returns an Engine scanning backend for the scripts derived from
// d, unblinding confidential outputs with u.
func New(backend chain.Backend, d *descriptor.WolletDescriptor, u *unblind.Unblinder, cfg Config) *Engine {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Engine{backend: backend, descriptor: d, unblinder: u, cfg: cfg}
}

// FullScan walks both chains from the store's current last-used index
// until the gap limit is exhausted on each, returning an Update ready
// for store.Store.ApplyUpdate. It always returns a non-nil Update on
// success; when nothing new was found beyond a refreshed tip, that
// Update is tip-only (see store.Update.IsTipOnly).
func (e *Engine) FullScan(ctx context.Context, snapshot *store.Store) (*store.Update, []*ScanWarning, error) {
	return e.scanFrom(ctx, snapshot, nil)
}

// FullScanToIndex behaves like FullScan but guarantees every index up
// to (and including) minIndex on each chain is derived and queried
// even if the gap limit would otherwise have stopped earlier --
// needed after importing a descriptor at a known non-zero index.
func (e *Engine) FullScanToIndex(ctx context.Context, snapshot *store.Store, minIndex uint32) (*store.Update, []*ScanWarning, error) {
	return e.scanFrom(ctx, snapshot, &minIndex)
}

func (e *Engine) scanFrom(ctx context.Context, snapshot *store.Store, minIndex *uint32) (*store.Update, []*ScanWarning, error) {
	var warnings []*ScanWarning

	if e.descriptor.IsElip151() {
		if _, ok := e.backend.(chain.WaterfallsBackend); ok {
			warnings = append(warnings, &ScanWarning{
				Message: "waterfalls backend selected but descriptor uses elip151 blinding; falling back to per-script scan",
			})
		}
	}

	update := &store.Update{
		BaseStatus: snapshot.Status(),
		Unblinded:  make(map[chaintypes.OutPoint]store.Unblinded),
	}

	for _, ch := range []chaintypes.Chain{chaintypes.ChainExternal, chaintypes.ChainInternal} {
		if err := e.scanChain(ctx, snapshot, ch, minIndex, update); err != nil {
			return nil, warnings, fmt.Errorf("scan %s chain: %w", ch, err)
		}
	}

	tip, err := e.backend.Tip(ctx)
	if err != nil {
		return nil, warnings, fmt.Errorf("get tip: %w", err)
	}
	update.NewTip = tip

	if err := e.fetchAndUnblind(ctx, update); err != nil {
		return nil, warnings, err
	}

	return update, warnings, nil
}

// scanChain runs the gap-limit batching loop for one chain, deriving
// scripts from the store's current last-used index and appending
// NewScript/Heights entries to update as activity is found.
func (e *Engine) scanChain(ctx context.Context, snapshot *store.Store, ch chaintypes.Chain, minIndex *uint32, update *store.Update) error {
	start := snapshot.LastUnused(ch)
	index := start
	highestSeen := start

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batchScripts := make([][]byte, 0, e.cfg.BatchSize)
		batchIndices := make([]uint32, 0, e.cfg.BatchSize)
		for i := uint32(0); i < e.cfg.BatchSize; i++ {
			idx := index + i
			_, script, err := e.descriptor.Derive(ch, idx)
			if err != nil {
				return fmt.Errorf("derive %s/%d: %w", ch, idx, err)
			}
			batchScripts = append(batchScripts, script)
			batchIndices = append(batchIndices, idx)
		}

		histories, err := e.backend.GetScriptsHistory(ctx, batchScripts)
		if err != nil {
			return fmt.Errorf("get histories for %s batch starting at %d: %w", ch, index, err)
		}

		anyActivity := false
		for i, history := range histories {
			if len(history) == 0 {
				continue
			}
			anyActivity = true
			idx := batchIndices[i]
			update.NewScripts = append(update.NewScripts, store.NewScript{
				Chain: ch, Index: idx, Script: batchScripts[i],
			})
			if idx+1 > highestSeen {
				highestSeen = idx + 1
			}

			for _, entry := range history {
				update.Heights = append(update.Heights, store.HeightEntry{
					Txid: entry.Txid, Height: entry.Height,
				})
				if entry.Height != nil && entry.Timestamp != nil {
					update.Timestamps = append(update.Timestamps, store.TimestampEntry{
						Height: *entry.Height, Timestamp: *entry.Timestamp,
					})
				}
			}
		}

		scanLog.Debugf("scan %s batch [%d,%d): activity=%v", ch, index, index+e.cfg.BatchSize, anyActivity)

		index += e.cfg.BatchSize

		belowMin := minIndex != nil && index <= *minIndex
		if !anyActivity && !belowMin {
			break
		}
	}

	if highestSeen > start {
		scanLog.Infof("%s chain: advanced last-used from %d to %d", ch, start, highestSeen)
	}

	return nil
}

// fetchAndUnblind retrieves the full raw transactions for every new
// history entry the scan found, decodes their outputs, and attempts
// to unblind any confidential ones belonging to the wallet. Explicit
// (unconfidential) outputs and unrecognised scripts are recorded
// as-is. An output that is genuinely not ours (unblind.ErrNotForUs --
// the descriptor has no candidate blinding key for its script at all)
// is simply omitted from the update; one that is ours by script but
// failed every key variant tried is appended to update.CannotUnblind
// so the wallet can retry it later via Wollet.Reunblind instead of
// losing track of it.
func (e *Engine) fetchAndUnblind(ctx context.Context, update *store.Update) error {
	txids := make([]chaintypes.Txid, 0, len(update.Heights))
	seen := make(map[chaintypes.Txid]struct{})
	for _, he := range update.Heights {
		if _, ok := seen[he.Txid]; ok {
			continue
		}
		seen[he.Txid] = struct{}{}
		txids = append(txids, he.Txid)
	}
	if len(txids) == 0 {
		return nil
	}

	raws, err := e.backend.GetTransactions(ctx, txids)
	if err != nil {
		return fmt.Errorf("get transactions: %w", err)
	}

	for i, txid := range txids {
		decoded, err := elementstx.Decode(raws[i])
		if err != nil {
			return fmt.Errorf("decode tx %s: %w", txid, err)
		}
		tx := toStoreTransaction(txid, raws[i], decoded)
		update.NewTxs = append(update.NewTxs, tx)

		for idx, out := range decoded.Outputs {
			if !out.Confidential {
				continue
			}
			op := chaintypes.OutPoint{Hash: txid, Index: uint32(idx)}
			secrets, err := e.unblinder.Unblind(confidentialOutputFor(out))
			if err != nil {
				// ErrNotForUs means the descriptor has no candidate
				// blinding key for this script at all -- genuinely not
				// ours, not a retry candidate. Anything else means a
				// key variant exists but none of them verified, which
				// is exactly the cannot-unblind tolerance case.
				if !errors.Is(err, unblind.ErrNotForUs) {
					update.CannotUnblind = append(update.CannotUnblind, op)
				}
				continue
			}
			update.Unblinded[op] = secrets
		}
	}

	return nil
}
