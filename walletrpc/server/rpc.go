package server

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/elementstx"
	"github.com/lwkgo/ctwallet/log"
	"github.com/lwkgo/ctwallet/pset"
	"github.com/lwkgo/ctwallet/scan"
	"github.com/lwkgo/ctwallet/store"
	"github.com/lwkgo/ctwallet/wollet"
)

var rpcLog = log.NewSubLogger(log.TagRPC)

// RPCServer is the plain-Go method surface a Wollet exposes to the
// network: every method here takes and returns ordinary Go values
// (JSON-friendly structs, hex/base64 strings rather than raw byte
// slices) so the REST handlers in rest.go can expose it directly. No
// gRPC service exposes these methods; the gRPC server in server.go
// serves only the health service.
type RPCServer struct {
	w    *wollet.Wollet
	gate syncGate
}

// NewRPCServer wraps w.
func NewRPCServer(w *wollet.Wollet) *RPCServer {
	return &RPCServer{w: w}
}

// ApplyUpdate folds a scan engine's Update into the wallet, serialised
// against any concurrent RPCServer.ApplyTransaction call. Called by
// the background sync loop in server.go, not exposed over the
// network directly -- a scan Update isn't something a remote caller
// constructs.
func (s *RPCServer) ApplyUpdate(u *store.Update) error {
	return s.gate.do(func() error {
		return s.w.ApplyUpdate(u)
	})
}

// AddressReply is the JSON shape of an address() call.
type AddressReply struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
	Index   uint32 `json:"index"`
}

// Address derives (or re-derives, if index is non-nil) a confidential
// address.
func (s *RPCServer) Address(index *uint32) (*AddressReply, error) {
	addr, chain, idx, err := s.w.Address(index)
	if err != nil {
		return nil, err
	}
	return &AddressReply{Address: addr, Chain: chain.String(), Index: idx}, nil
}

// BalanceReply maps asset id (hex) to its total unspent value.
type BalanceReply struct {
	Balance map[string]uint64 `json:"balance"`
}

// Balance returns the wallet's per-asset unspent balance.
func (s *RPCServer) Balance() *BalanceReply {
	bal := s.w.Balance()
	out := make(map[string]uint64, len(bal))
	for asset, value := range bal {
		out[asset.String()] = value
	}
	return &BalanceReply{Balance: out}
}

// UtxoReply is the JSON shape of one wollet.Utxo.
type UtxoReply struct {
	Txid         string  `json:"txid"`
	Vout         uint32  `json:"vout"`
	Script       string  `json:"script"`
	Chain        string  `json:"chain"`
	Index        uint32  `json:"index"`
	Asset        string  `json:"asset"`
	Value        uint64  `json:"value"`
	Confidential bool    `json:"confidential"`
	Height       *uint32 `json:"height,omitempty"`
}

func utxoReplyOf(u wollet.Utxo) UtxoReply {
	r := UtxoReply{
		Txid: u.OutPoint.Hash.String(), Vout: u.OutPoint.Index,
		Script: hex.EncodeToString(u.Script), Chain: u.Chain.String(),
		Index: u.Index, Asset: u.Asset.String(), Value: u.Value,
		Confidential: u.Confidential,
	}
	if u.Height != nil {
		h := uint32(*u.Height)
		r.Height = &h
	}
	return r
}

// Utxos returns every unspent output the wallet owns.
func (s *RPCServer) Utxos() []UtxoReply {
	utxos := s.w.Utxos()
	out := make([]UtxoReply, len(utxos))
	for i, u := range utxos {
		out[i] = utxoReplyOf(u)
	}
	return out
}

// ExplicitUtxos returns every unspent, non-confidential output.
func (s *RPCServer) ExplicitUtxos() []UtxoReply {
	utxos := s.w.ExplicitUtxos()
	out := make([]UtxoReply, len(utxos))
	for i, u := range utxos {
		out[i] = utxoReplyOf(u)
	}
	return out
}

// WalletTxReply is the JSON shape of one wollet.WalletTx.
type WalletTxReply struct {
	Txid     string           `json:"txid"`
	Raw      string           `json:"raw,omitempty"`
	Balance  map[string]int64 `json:"balance"`
	Fee      uint64           `json:"fee"`
	Height   *uint32          `json:"height,omitempty"`
	Type     string           `json:"type"`
	Degraded bool             `json:"degraded"`
}

func txTypeString(t wollet.TxType) string {
	switch t {
	case wollet.TxIncoming:
		return "incoming"
	case wollet.TxOutgoing:
		return "outgoing"
	case wollet.TxBurn:
		return "burn"
	case wollet.TxIssuance:
		return "issuance"
	case wollet.TxReissuance:
		return "reissuance"
	default:
		return "unknown"
	}
}

func walletTxReplyOf(tx wollet.WalletTx) WalletTxReply {
	r := WalletTxReply{
		Txid: tx.Txid.String(), Raw: hex.EncodeToString(tx.Raw),
		Balance: make(map[string]int64, len(tx.Balance)),
		Fee:     tx.Fee, Type: txTypeString(tx.Type), Degraded: tx.Degraded,
	}
	for asset, delta := range tx.Balance {
		r.Balance[asset.String()] = delta
	}
	if tx.Height != nil {
		h := uint32(*tx.Height)
		r.Height = &h
	}
	return r
}

// Transactions returns every stored transaction, newest-first.
func (s *RPCServer) Transactions() []WalletTxReply {
	txs := s.w.Transactions()
	out := make([]WalletTxReply, len(txs))
	for i, tx := range txs {
		out[i] = walletTxReplyOf(tx)
	}
	return out
}

// Transaction returns a single stored transaction by its hex txid.
func (s *RPCServer) Transaction(txidHex string) (*WalletTxReply, error) {
	txid, err := hashFromHex(txidHex)
	if err != nil {
		return nil, fmt.Errorf("walletrpc: invalid txid: %w", err)
	}
	tx, ok := s.w.Transaction(txid)
	if !ok {
		return nil, fmt.Errorf("walletrpc: transaction %s not found", txidHex)
	}
	r := walletTxReplyOf(tx)
	return &r, nil
}

// PsetDetailsReply is the JSON shape of a get_details call.
type PsetDetailsReply struct {
	Balance map[string]int64 `json:"balance"`
	Fee     uint64           `json:"fee"`
}

// GetDetails analyses a base64-encoded PSET without mutating wallet
// state.
func (s *RPCServer) GetDetails(psetB64 string) (*PsetDetailsReply, error) {
	p, err := decodePsetB64(psetB64)
	if err != nil {
		return nil, err
	}
	details, err := s.w.GetDetails(p)
	if err != nil {
		return nil, err
	}
	out := &PsetDetailsReply{Balance: make(map[string]int64, len(details.Balance)), Fee: details.Fee}
	for asset, delta := range details.Balance {
		out.Balance[asset.String()] = delta
	}
	return out, nil
}

// CombineRequest carries the base64-encoded PSETs to merge.
type CombineRequest struct {
	Psets []string `json:"psets"`
}

// PsetReply carries a single base64-encoded PSET.
type PsetReply struct {
	Pset string `json:"pset"`
}

// Combine merges signatures and metadata across PSETs descending from
// a common template.
func (s *RPCServer) Combine(req CombineRequest) (*PsetReply, error) {
	psets := make([]*pset.Pset, len(req.Psets))
	for i, encoded := range req.Psets {
		p, err := decodePsetB64(encoded)
		if err != nil {
			return nil, fmt.Errorf("walletrpc: pset %d: %w", i, err)
		}
		psets[i] = p
	}
	combined, err := s.w.Combine(psets...)
	if err != nil {
		return nil, err
	}
	return encodePsetB64(combined)
}

// RawTxReply carries a hex-encoded raw transaction.
type RawTxReply struct {
	Txid string `json:"txid"`
	Raw  string `json:"raw"`
}

// Finalize assembles witnesses and extracts the broadcastable
// transaction from a base64-encoded PSET.
func (s *RPCServer) Finalize(psetB64 string) (*RawTxReply, error) {
	p, err := decodePsetB64(psetB64)
	if err != nil {
		return nil, err
	}
	tx, err := s.w.Finalize(p)
	if err != nil {
		return nil, err
	}
	txid, err := tx.Txid()
	if err != nil {
		return nil, fmt.Errorf("walletrpc: compute txid: %w", err)
	}
	var buf bytes.Buffer
	if err := elementstx.Encode(&buf, tx); err != nil {
		return nil, fmt.Errorf("walletrpc: encode finalized transaction: %w", err)
	}
	return &RawTxReply{Txid: txid.String(), Raw: hex.EncodeToString(buf.Bytes())}, nil
}

// BroadcastRequest carries a hex-encoded raw transaction a caller is
// about to (or just did) broadcast.
type BroadcastRequest struct {
	Raw string `json:"raw"`
}

// SignedBalanceReply maps asset id (hex) to the net value delta a
// transaction moves.
type SignedBalanceReply struct {
	Txid    string           `json:"txid"`
	Balance map[string]int64 `json:"balance"`
}

// ApplyTransaction folds a raw, possibly-not-yet-confirmed transaction
// into the store immediately, so callers see its effect on balance
// and utxo set without waiting for the next scan round to pick it up
// from the backend. Serialised against the background sync loop's own
// ApplyUpdate calls via the server's gate, matching the single-writer
// discipline store.Store already enforces one level down.
func (s *RPCServer) ApplyTransaction(req BroadcastRequest) (*SignedBalanceReply, error) {
	raw, err := hex.DecodeString(req.Raw)
	if err != nil {
		return nil, fmt.Errorf("walletrpc: invalid raw transaction hex: %w", err)
	}
	decoded, err := elementstx.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("walletrpc: decode raw transaction: %w", err)
	}
	txid, err := decoded.Txid()
	if err != nil {
		return nil, fmt.Errorf("walletrpc: compute txid: %w", err)
	}
	tx := scan.ToStoreTransaction(txid, raw, decoded)

	var balance store.SignedBalance
	err = s.gate.do(func() error {
		var applyErr error
		balance, applyErr = s.w.ApplyTransaction(tx)
		return applyErr
	})
	if err != nil {
		return nil, err
	}

	rpcLog.Infof("applied transaction %s via rpc, %d asset deltas", txid, len(balance))

	out := &SignedBalanceReply{Txid: txid.String(), Balance: make(map[string]int64, len(balance))}
	for asset, delta := range balance {
		out.Balance[asset.String()] = delta
	}
	return out, nil
}

// ReunblindReply lists outpoints newly recovered by a Reunblind call.
type ReunblindReply struct {
	Recovered []string `json:"recovered"`
}

// Reunblind retries every outpoint the scan engine parked in the
// cannot-unblind set.
func (s *RPCServer) Reunblind() (*ReunblindReply, error) {
	ops, err := s.w.Reunblind()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = outPointString(op)
	}
	return &ReunblindReply{Recovered: out}, nil
}

func outPointString(op chaintypes.OutPoint) string {
	return fmt.Sprintf("%s:%d", op.Hash.String(), op.Index)
}

// ReunblindWithRequest names a single cached output and supplies the
// blinding private key to retry it with, bypassing descriptor-driven
// key discovery -- the case of an ExternalUtxo whose blinding pubkey
// a counterparty replaced before handing it to this wallet.
type ReunblindWithRequest struct {
	Txid        string `json:"txid"`
	Vout        uint32 `json:"vout"`
	BlindingKey string `json:"blinding_key"`
}

// ReunblindWith retries a single cached confidential output with a
// caller-supplied blinding private key.
func (s *RPCServer) ReunblindWith(req ReunblindWithRequest) error {
	txid, err := hashFromHex(req.Txid)
	if err != nil {
		return fmt.Errorf("walletrpc: invalid txid: %w", err)
	}
	keyBytes, err := hex.DecodeString(req.BlindingKey)
	if err != nil || len(keyBytes) != 32 {
		return fmt.Errorf("walletrpc: blinding_key must be 32 raw bytes hex")
	}
	priv, _ := btcec.PrivKeyFromBytes(keyBytes)
	op := chaintypes.OutPoint{Hash: txid, Index: req.Vout}
	return s.w.ReunblindWith(priv, op)
}

func hashFromHex(s string) (chaintypes.Txid, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return chaintypes.Txid{}, fmt.Errorf("want 32 raw bytes, got %q", s)
	}
	var h chaintypes.Txid
	copy(h[:], b)
	return h, nil
}

func decodePsetB64(encoded string) (*pset.Pset, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("walletrpc: invalid base64 pset: %w", err)
	}
	p, err := pset.Deserialize(raw)
	if err != nil {
		return nil, fmt.Errorf("walletrpc: deserialize pset: %w", err)
	}
	return p, nil
}

func encodePsetB64(p *pset.Pset) (*PsetReply, error) {
	raw, err := pset.Serialize(p)
	if err != nil {
		return nil, fmt.Errorf("walletrpc: serialize pset: %w", err)
	}
	return &PsetReply{Pset: base64.StdEncoding.EncodeToString(raw)}, nil
}

// syncGate keeps concurrent ApplyTransaction callers (a broadcast
// just issued by a taker, say) from racing the background scan's own
// ApplyUpdate -- both funnel through this mutex before touching the
// wollet, mirroring the single-writer discipline store.Store already
// enforces internally, one level up.
type syncGate struct {
	mu sync.Mutex
}

func (g *syncGate) do(f func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return f()
}

