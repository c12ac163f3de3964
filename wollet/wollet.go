// Package wollet implements the facade: the single
// object a caller holds that ties descriptor, network parameters,
// store, persister, and unblinder together and exposes address
// derivation, balance/utxo/transaction views, pset analysis, and the
// two store-mutating entry points (apply_update, apply_transaction).
//
// Grounded on lightweight-wallet/wallet/btcwallet/wallet.go's
// Config+New+mutex-guarded struct shape for the type itself, and on
// client/client.go's top-level wiring style for how the facade stitches
// its collaborators together without owning their internals.
package wollet

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/lwkgo/ctwallet/address"
	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/descriptor"
	"github.com/lwkgo/ctwallet/elementstx"
	"github.com/lwkgo/ctwallet/log"
	"github.com/lwkgo/ctwallet/network"
	"github.com/lwkgo/ctwallet/persist"
	"github.com/lwkgo/ctwallet/pset"
	"github.com/lwkgo/ctwallet/scan"
	"github.com/lwkgo/ctwallet/store"
	"github.com/lwkgo/ctwallet/unblind"
	"github.com/lwkgo/ctwallet/werror"
)

var walletLog = log.NewSubLogger(log.TagWollet)

// Config is the Wollet's immutable construction-time configuration.
type Config struct {
	// Descriptor is the parsed confidential descriptor this wallet is
	// watch-only over.
	Descriptor *descriptor.WolletDescriptor

	// Network carries the address-encoding parameters (HRP/prefix
	// constants) for Descriptor.ChainParams()'s chain.
	Network network.Params

	// Persister is optional; nil means no durability across restarts.
	Persister persist.Persister

	// Primitives is the confidential-transaction cryptography the
	// unblinder consumes; see unblind.Primitives' doc comment for why
	// this package does not implement it directly.
	Primitives unblind.Primitives
}

func (c Config) Validate() error {
	if c.Descriptor == nil {
		return fmt.Errorf("wollet: descriptor is required")
	}
	if c.Primitives == nil {
		return fmt.Errorf("wollet: primitives implementation is required")
	}
	return nil
}

// Wollet is the wallet engine's top-level facade. All exported
// methods are safe for concurrent use.
type Wollet struct {
	mu sync.RWMutex

	descriptor *descriptor.WolletDescriptor
	net        network.Params
	persister  persist.Persister

	store     *store.Store
	unblinder *unblind.Unblinder
}

// New constructs a Wollet, replaying persisted state if cfg.Persister
// is set and already holds a snapshot for this wallet. A persister
// that has never been written to (werror.ErrNoWalletPersisted) is not
// an error here -- it is the ordinary first-run case, and New starts
// from an empty store exactly as it would with no persister at all.
func New(cfg Config) (*Wollet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, werror.Wrap(err)
	}

	w := &Wollet{
		descriptor: cfg.Descriptor,
		net:        cfg.Network,
		persister:  cfg.Persister,
		store:      store.New(),
		unblinder:  unblind.New(cfg.Descriptor, cfg.Primitives),
	}

	if cfg.Persister == nil {
		return w, nil
	}

	_, updates, err := cfg.Persister.LoadAll()
	if err != nil {
		if errors.Is(err, werror.ErrNoWalletPersisted) {
			return w, nil
		}
		return nil, werror.Wrap(fmt.Errorf("wollet: load persisted state: %w", err))
	}
	for _, u := range updates {
		w.store.LoadSnapshot(u)
	}
	walletLog.Debugf("replayed %d persisted update(s) from journal", len(updates))
	return w, nil
}

// Descriptor returns the watched descriptor.
func (w *Wollet) Descriptor() *descriptor.WolletDescriptor { return w.descriptor }

// Store returns the underlying derived-state store, for callers (the
// scan engine, the RPC server's sync loop) that drive apply_update
// themselves but still need read access to last_unused/status between
// rounds.
func (w *Wollet) Store() *store.Store { return w.store }

// Unblinder returns the wallet's unblinder, for the scan engine to use
// when deciding per-output secrets during a scan round.
func (w *Wollet) Unblinder() *unblind.Unblinder { return w.unblinder }

// Address derives and encodes the address at index on the external
// chain, or the next unused external address if index is nil.
func (w *Wollet) Address(index *uint32) (addr string, chain chaintypes.Chain, idx uint32, err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	chain = chaintypes.ChainExternal
	if index != nil {
		idx = *index
	} else {
		idx = w.store.LastUnused(chain)
	}

	_, script, err := w.descriptor.Derive(chain, idx)
	if err != nil {
		return "", chain, idx, werror.Wrap(err)
	}

	pub, err := w.descriptor.BlindingPubkeyFor(script)
	if err != nil {
		return "", chain, idx, werror.Wrap(err)
	}

	encoded, err := address.Encode(w.net, script, pub)
	if err != nil {
		return "", chain, idx, werror.Wrap(err)
	}
	return encoded, chain, idx, nil
}

// Balance sums unspent, unblinded-or-explicit txo values per asset.
func (w *Wollet) Balance() map[chaintypes.AssetID]uint64 {
	return w.store.Balance()
}

// Utxo is one unspent output the wallet owns, with its secrets if
// known.
type Utxo struct {
	OutPoint     chaintypes.OutPoint
	Script       []byte
	Chain        chaintypes.Chain
	Index        uint32
	Asset        chaintypes.AssetID
	Value        uint64
	Confidential bool
	Height       *chaintypes.Height
}

// Txos returns every output the wallet owns, spent or not.
func (w *Wollet) Txos() []Utxo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.txosLocked(func(Utxo) bool { return true })
}

// Utxos returns every unspent output the wallet owns.
func (w *Wollet) Utxos() []Utxo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.txosLocked(func(u Utxo) bool { return !w.store.IsSpent(u.OutPoint) })
}

// ExplicitUtxos returns every unspent, non-confidential output the
// wallet owns.
func (w *Wollet) ExplicitUtxos() []Utxo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.txosLocked(func(u Utxo) bool {
		return !u.Confidential && !w.store.IsSpent(u.OutPoint)
	})
}

func (w *Wollet) txosLocked(keep func(Utxo) bool) []Utxo {
	var out []Utxo
	for _, txid := range w.store.AllTxids() {
		tx, ok := w.store.Transaction(txid)
		if !ok {
			continue
		}
		for i, o := range tx.Outputs {
			chain, index, owned := w.store.PathOf(o.Script)
			if !owned {
				continue
			}
			op := chaintypes.OutPoint{Hash: txid, Index: uint32(i)}

			u := Utxo{
				OutPoint:     op,
				Script:       o.Script,
				Chain:        chain,
				Index:        index,
				Confidential: o.Confidential,
				Height:       heightOf(w.store, txid),
			}
			if o.Confidential {
				secret, ok := w.store.Unblind(op)
				if !ok {
					continue // not yet unblindable; excluded rather than reported with zero value
				}
				u.Asset, u.Value = secret.Asset, secret.Value
			} else {
				u.Asset, u.Value = o.Asset, o.Value
			}

			if keep(u) {
				out = append(out, u)
			}
		}
	}
	return out
}

func heightOf(s *store.Store, txid chaintypes.Txid) *chaintypes.Height {
	h, ok := s.HeightOf(txid)
	if !ok {
		return nil
	}
	return h
}

// TxType classifies a WalletTx from the wallet's point of view.
type TxType int

const (
	TxUnknown TxType = iota
	TxIncoming
	TxOutgoing
	TxBurn
	TxIssuance
	TxReissuance
)

// WalletTx is a stored transaction viewed through this wallet: its
// net balance effect per asset, fee, confirmation state, and the
// owned in/outputs (nil entries mark ones the wallet does not
// recognise).
type WalletTx struct {
	Txid      chaintypes.Txid
	Raw       []byte
	Balance   map[chaintypes.AssetID]int64
	Fee       uint64
	Height    *chaintypes.Height
	Type      TxType
	Inputs    []*Utxo
	Outputs   []*Utxo

	// Degraded marks a dummy transaction recorded from a UtxoOnly
	// backend's unspent-output listing rather than from full history:
	// outpoint and value are known, everything else (script, inputs,
	// fee, raw bytes) is absent.
	Degraded bool
}

// Transactions returns every stored transaction as a WalletTx, sorted
// newest-first within each height tier (unconfirmed first, then by
// height descending), stable tie-break by txid.
func (w *Wollet) Transactions() []WalletTx {
	w.mu.RLock()
	defer w.mu.RUnlock()

	txids := w.store.AllTxids()
	out := make([]WalletTx, 0, len(txids))
	for _, txid := range txids {
		wtx, ok := w.walletTxLocked(txid)
		if ok {
			out = append(out, wtx)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		hi, hj := out[i].Height, out[j].Height
		switch {
		case hi == nil && hj == nil:
			return out[i].Txid.String() < out[j].Txid.String()
		case hi == nil:
			return true // unconfirmed sorts first
		case hj == nil:
			return false
		case *hi != *hj:
			return *hi > *hj // higher (more recent) height first
		default:
			return out[i].Txid.String() < out[j].Txid.String()
		}
	})
	return out
}

// Transaction returns a wallet view of txid, even if its net balance
// across every asset is zero (such a tx carries Type == TxUnknown).
func (w *Wollet) Transaction(txid chaintypes.Txid) (WalletTx, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.walletTxLocked(txid)
}

func (w *Wollet) walletTxLocked(txid chaintypes.Txid) (WalletTx, bool) {
	tx, ok := w.store.Transaction(txid)
	if !ok {
		return WalletTx{}, false
	}

	wtx := WalletTx{
		Txid:     txid,
		Raw:      tx.Raw,
		Balance:  make(map[chaintypes.AssetID]int64),
		Height:   heightOf(w.store, txid),
		Inputs:   make([]*Utxo, len(tx.Inputs)),
		Outputs:  make([]*Utxo, len(tx.Outputs)),
		Degraded: tx.Degraded,
	}

	if tx.Degraded {
		// a UtxoOnly backend never reported this tx's inputs or its
		// other outputs, so there is nothing to walk or classify.
		wtx.Type = TxUnknown
		return wtx, true
	}

	var sawIncoming, sawOutgoing bool

	for i, in := range tx.Inputs {
		prevTx, ok := w.store.Transaction(in.Hash)
		if !ok || int(in.Index) >= len(prevTx.Outputs) {
			continue
		}
		prevOut := prevTx.Outputs[in.Index]
		chain, index, owned := w.store.PathOf(prevOut.Script)
		if !owned {
			continue
		}

		u := &Utxo{OutPoint: in, Script: prevOut.Script, Chain: chain, Index: index, Confidential: prevOut.Confidential}
		if prevOut.Confidential {
			secret, ok := w.store.Unblind(in)
			if !ok {
				continue
			}
			u.Asset, u.Value = secret.Asset, secret.Value
		} else {
			u.Asset, u.Value = prevOut.Asset, prevOut.Value
		}
		wtx.Inputs[i] = u
		wtx.Balance[u.Asset] -= int64(u.Value)
		sawOutgoing = true
	}

	for i, o := range tx.Outputs {
		if len(o.Script) == 0 {
			// the fee output: empty scriptPubKey is Elements' wire
			// convention, always an explicit policy-asset value.
			wtx.Fee = o.Value
			continue
		}

		chain, index, owned := w.store.PathOf(o.Script)
		if !owned {
			continue
		}
		op := chaintypes.OutPoint{Hash: txid, Index: uint32(i)}
		u := &Utxo{OutPoint: op, Script: o.Script, Chain: chain, Index: index, Confidential: o.Confidential, Height: wtx.Height}
		if o.Confidential {
			secret, ok := w.store.Unblind(op)
			if !ok {
				continue
			}
			u.Asset, u.Value = secret.Asset, secret.Value
		} else {
			u.Asset, u.Value = o.Asset, o.Value
		}
		wtx.Outputs[i] = u
		wtx.Balance[u.Asset] += int64(u.Value)
		sawIncoming = true
	}

	switch {
	case sawOutgoing && !sawIncoming:
		wtx.Type = TxOutgoing
	case sawIncoming && !sawOutgoing:
		wtx.Type = TxIncoming
	case sawIncoming && sawOutgoing:
		wtx.Type = TxOutgoing
	default:
		wtx.Type = TxUnknown
	}

	if decoded, err := elementstx.Decode(tx.Raw); err == nil {
		if tag, ok := classifyByContent(decoded); ok {
			wtx.Type = tag
		}
	}
	return wtx, true
}

// classifyByContent inspects a decoded tx's own issuance/burn markers,
// which take priority over the plain incoming/outgoing inference above
// since issuance, reissuance, and burn are distinguished from an
// ordinary send or receive.
func classifyByContent(tx *elementstx.Transaction) (TxType, bool) {
	for _, in := range tx.Inputs {
		if in.Issuance == nil {
			continue
		}
		if in.Issuance.AssetBlindingNonce != ([32]byte{}) {
			return TxReissuance, true
		}
		return TxIssuance, true
	}
	for _, out := range tx.Outputs {
		if len(out.Script) > 0 && out.Script[0] == 0x6a {
			return TxBurn, true
		}
	}
	return TxUnknown, false
}

// PsetDetails is the read-only analysis get_details produces: the net
// balance effect of applying pset to this wallet, and the fee, derived
// purely from the descriptor and local store (no chain lookups).
type PsetDetails struct {
	Balance map[chaintypes.AssetID]int64
	Fee     uint64
}

// GetDetails analyses p without mutating any wallet state. It fails if
// an input the wallet should recognise has no WitnessUtxo attached, or
// if a confidential input/output the wallet owns has no recorded
// unblinding secret -- both mean the caller handed back a pset this
// wallet cannot fully interpret yet.
func (w *Wollet) GetDetails(p *pset.Pset) (PsetDetails, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	details := PsetDetails{Balance: make(map[chaintypes.AssetID]int64)}

	for i, in := range p.Inputs {
		utxo := in.WitnessUtxo
		if utxo == nil {
			continue // not ours to account for; the builder always attaches WitnessUtxo for wallet-owned inputs
		}
		_, _, owned := w.store.PathOf(utxo.Script)
		if !owned {
			continue
		}

		op := prevOutPointOf(p, i)
		asset, value, err := w.explicitOrUnblindedLocked(utxo, op)
		if err != nil {
			return PsetDetails{}, werror.Wrap(err)
		}
		details.Balance[asset] -= int64(value)
	}

	for i, out := range p.Outputs {
		script := p.Tx.Outputs[i].Script
		if len(script) == 0 {
			if out.Value != nil {
				details.Fee = *out.Value
			}
			continue
		}
		_, _, owned := w.store.PathOf(script)
		if !owned {
			continue
		}

		if out.Asset != nil && out.Value != nil {
			// the builder retained plaintext secrets for this output
			// (e.g. change it just derived); no need to consult the
			// store at all.
			details.Balance[*out.Asset] += int64(*out.Value)
			continue
		}

		op := chaintypes.OutPoint{Hash: mustTxid(p), Index: uint32(i)}
		secret, ok := w.store.Unblind(op)
		if !ok {
			return PsetDetails{}, werror.Wrap(fmt.Errorf("%w: output %d", werror.ErrInternalInconsistency, i))
		}
		details.Balance[secret.Asset] += int64(secret.Value)
	}

	return details, nil
}

func prevOutPointOf(p *pset.Pset, inputIndex int) chaintypes.OutPoint {
	prev := p.Tx.Inputs[inputIndex].PreviousOutPoint
	return chaintypes.OutPoint{Hash: prev.Hash, Index: prev.Index}
}

func mustTxid(p *pset.Pset) chaintypes.Txid {
	txid, err := p.Tx.Txid()
	if err != nil {
		return chaintypes.Txid{}
	}
	return txid
}

func (w *Wollet) explicitOrUnblindedLocked(utxo *elementstx.TxOut, op chaintypes.OutPoint) (chaintypes.AssetID, uint64, error) {
	if !utxo.Confidential {
		asset, value, err := decodeExplicit(utxo)
		if err != nil {
			return chaintypes.AssetID{}, 0, err
		}
		return asset, value, nil
	}
	secret, ok := w.store.Unblind(op)
	if !ok {
		return chaintypes.AssetID{}, 0, fmt.Errorf("%w: input %s has no recorded unblinding secret", werror.ErrInternalInconsistency, op)
	}
	return secret.Asset, secret.Value, nil
}

func decodeExplicit(utxo *elementstx.TxOut) (chaintypes.AssetID, uint64, error) {
	if len(utxo.Asset) != 33 || utxo.Asset[0] != 0x01 {
		return chaintypes.AssetID{}, 0, fmt.Errorf("%w: explicit asset field malformed", werror.ErrInternalInconsistency)
	}
	var asset chaintypes.AssetID
	for i := 0; i < 32; i++ {
		asset[31-i] = utxo.Asset[1+i]
	}

	if len(utxo.Value) != 9 || utxo.Value[0] != 0x01 {
		return chaintypes.AssetID{}, 0, fmt.Errorf("%w: explicit value field malformed", werror.ErrInternalInconsistency)
	}
	value := uint64(0)
	for _, b := range utxo.Value[1:] {
		value = value<<8 | uint64(b)
	}
	return asset, value, nil
}

// ApplyUpdate merges u into the store. Fails with
// werror.UpdateOnStaleStatus unless u is tip-only or was computed
// against the store's current status -- the caller should re-run the
// scan and retry. On success, if a persister is attached, the update
// is journaled so it survives a restart.
func (w *Wollet) ApplyUpdate(u *store.Update) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.store.ApplyUpdate(u); err != nil {
		return err
	}
	if w.persister != nil {
		if err := w.persister.Append(u); err != nil {
			return werror.Wrap(fmt.Errorf("wollet: journal update: %w", err))
		}
	}
	return nil
}

// ApplyTransaction optimistically folds an about-to-be-broadcast tx
// into the store so that callers see the pending state immediately.
// Idempotent; superseded cleanly once a later scan
// reports the tx's canonical height via ApplyUpdate.
func (w *Wollet) ApplyTransaction(tx *store.Transaction) (store.SignedBalance, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.store.ApplyTransaction(tx)
}

// Reunblind reattempts unblinding every outpoint the scan engine
// parked in the store's cannot-unblind set -- e.g. after the
// descriptor gained a new blinding-key variant. It returns the
// outpoints that newly succeeded; those are moved out of the
// cannot-unblind set and into the store's unblinded cache as a side
// effect.
func (w *Wollet) Reunblind() ([]chaintypes.OutPoint, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending := w.store.CannotUnblindSet()
	if len(pending) == 0 {
		return nil, nil
	}

	outputs := make(map[chaintypes.OutPoint]unblind.ConfidentialOutput, len(pending))
	for _, op := range pending {
		co, ok, err := w.confidentialOutputAtLocked(op)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		outputs[op] = co
	}

	recovered := w.unblinder.Reunblind(outputs)
	newly := make([]chaintypes.OutPoint, 0, len(recovered))
	for op, secret := range recovered {
		w.store.RecordUnblinded(op, secret)
		newly = append(newly, op)
	}
	return newly, nil
}

// ReunblindWith retries a single cached confidential output with a
// caller-supplied blinding private key, bypassing descriptor-driven
// key discovery entirely -- the case where the output's blinding
// pubkey was replaced by a counterparty (an ExternalUtxo whose
// blinding key the wallet never derived itself).
func (w *Wollet) ReunblindWith(priv *btcec.PrivateKey, op chaintypes.OutPoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	co, ok, err := w.confidentialOutputAtLocked(op)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("wollet: reunblind %s: output not known or not confidential", op)
	}

	secret, err := w.unblinder.UnblindWith(priv, co)
	if err != nil {
		return werror.Wrap(fmt.Errorf("wollet: unblind %s with supplied key: %w", op, err))
	}
	w.store.RecordUnblinded(op, secret)
	return nil
}

// confidentialOutputAtLocked re-decodes op's owning transaction's raw
// bytes to rebuild the commitment fields an unblind retry needs --
// store.TxOut only keeps the plaintext asset/value once an output is
// already unblinded, not the blinded wire fields, so a retry has
// nowhere else to read them from. Requires w.mu already held.
func (w *Wollet) confidentialOutputAtLocked(op chaintypes.OutPoint) (unblind.ConfidentialOutput, bool, error) {
	tx, ok := w.store.Transaction(op.Hash)
	if !ok || tx.Degraded || int(op.Index) >= len(tx.Outputs) {
		return unblind.ConfidentialOutput{}, false, nil
	}
	if !tx.Outputs[op.Index].Confidential {
		return unblind.ConfidentialOutput{}, false, nil
	}

	decoded, err := elementstx.Decode(tx.Raw)
	if err != nil {
		return unblind.ConfidentialOutput{}, false, werror.Wrap(fmt.Errorf("wollet: decode %s for reunblind: %w", op.Hash, err))
	}
	if int(op.Index) >= len(decoded.Outputs) {
		return unblind.ConfidentialOutput{}, false, nil
	}
	return scan.ConfidentialOutputFor(decoded.Outputs[op.Index]), true, nil
}

// Combine merges signatures and metadata across psets descending from
// a common template. Stateless with respect to the
// wallet; delegates straight to the pset package.
func (w *Wollet) Combine(psets ...*pset.Pset) (*pset.Pset, error) {
	return pset.Combine(psets...)
}

// Finalize assembles witnesses and extracts the broadcastable
// transaction. Stateless with respect to the
// wallet; delegates straight to the pset package.
func (w *Wollet) Finalize(p *pset.Pset) (*elementstx.Transaction, error) {
	finalised, err := pset.Finalize(p)
	if err != nil {
		return nil, werror.Wrap(err)
	}
	return pset.ExtractTransaction(finalised)
}
