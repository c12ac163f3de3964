// Package waterfalls implements the bulk-history backend adapter:
// one HTTP round trip returns scripts' histories
// for every address controlled by a descriptor, keyed by its
// encrypted form, instead of the per-script loop chain/esplora and
// chain/electrum are stuck with. Grounded structurally on
// chain/esplora's Client (same HTTPClient, same retry ladder) and on
// original_source/lwk_wollet/src/clients/asyncr/waterfalls.rs for the
// encrypted-descriptor request shape and the elip151 incompatibility.
package waterfalls

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/lwkgo/ctwallet/chain"
	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/descriptor"
)

// ErrElip151Unsupported is returned by CheckSupported when the
// descriptor's blinding key is elip151: the waterfalls server
// convention for doing bulk lookups against an encrypted descriptor
// does not extend to elip151 blinding. The scan engine does not see
// this error: it checks the descriptor's IsElip151 itself, emits a
// non-fatal ScanWarning for an elip151 descriptor, and scans per script.
var ErrElip151Unsupported = errors.New("waterfalls: descriptor uses elip151 blinding, bulk lookup unsupported")

// Config configures a Client.
type Config struct {
	BaseURL       string
	RatePerSecond float64
	Burst         int
}

// DefaultConfig returns a Config pointed at a caller-supplied
// waterfalls server.
func DefaultConfig(baseURL string) Config {
	return Config{BaseURL: baseURL, RatePerSecond: 5, Burst: 2}
}

// Client is a chain.WaterfallsBackend talking to a waterfalls server.
// It also satisfies plain chain.Backend, falling back to the same
// per-script endpoints esplora uses, since a waterfalls deployment is
// conventionally layered directly on top of an Esplora instance.
type Client struct {
	cfg  Config
	http *chain.HTTPClient
}

// New returns a new waterfalls Client.
func New(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: chain.NewHTTPClient(cfg.BaseURL, cfg.RatePerSecond, cfg.Burst, chain.DefaultRetryConfig()),
	}
}

var (
	_ chain.Backend           = (*Client)(nil)
	_ chain.WaterfallsBackend = (*Client)(nil)
)

func (c *Client) Capabilities() chain.CapabilitySet {
	return chain.NewCapabilitySet(chain.CapWaterfalls)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(ctx, req)
}

type waterfallsEntry struct {
	TxID   string `json:"txid"`
	Height *int64 `json:"height"`
}

// GetWaterfallsHistory fetches every script's history belonging to
// encryptedDescriptor in one round trip, keyed by the script's
// Elements address string (the waterfalls wire convention; the
// descriptor package's own derivation is only used by the caller to
// map those keys back to chain indices).
func (c *Client) GetWaterfallsHistory(ctx context.Context, encryptedDescriptor string) (map[string][]chaintypes.HistoryEntry, error) {
	q := url.Values{}
	q.Set("descriptor", encryptedDescriptor)

	body, err := c.get(ctx, "/v1/waterfalls?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("waterfalls fetch: %w", err)
	}

	var raw struct {
		Txs map[string][]waterfallsEntry `json:"txs_seen"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode waterfalls response: %w", err)
	}

	out := make(map[string][]chaintypes.HistoryEntry, len(raw.Txs))
	for key, entries := range raw.Txs {
		histories := make([]chaintypes.HistoryEntry, 0, len(entries))
		for _, e := range entries {
			txidBytes, err := hex.DecodeString(e.TxID)
			if err != nil {
				return nil, err
			}
			var txid chaintypes.Txid
			for i, j := 0, len(txidBytes)-1; i < j; i, j = i+1, j-1 {
				txidBytes[i], txidBytes[j] = txidBytes[j], txidBytes[i]
			}
			copy(txid[:], txidBytes)

			he := chaintypes.HistoryEntry{Txid: txid}
			if e.Height != nil {
				h := chaintypes.Height(*e.Height)
				he.Height = &h
			}
			histories = append(histories, he)
		}
		out[key] = histories
	}
	return out, nil
}

// CheckSupported returns ErrElip151Unsupported if d cannot be served
// by a waterfalls bulk lookup. The scan engine calls neither this nor
// GetWaterfallsHistory; it fetches history per script on every backend.
func CheckSupported(d *descriptor.WolletDescriptor) error {
	if d.IsElip151() {
		return ErrElip151Unsupported
	}
	return nil
}

func (c *Client) Tip(ctx context.Context) (chaintypes.Tip, error) {
	return esploraTip(ctx, c)
}

func (c *Client) GetScriptsHistory(ctx context.Context, scripts [][]byte) ([][]chaintypes.HistoryEntry, error) {
	return esploraScriptsHistory(ctx, c, scripts)
}

func (c *Client) GetTransactions(ctx context.Context, txids []chaintypes.Txid) ([][]byte, error) {
	return esploraTransactions(ctx, c, txids)
}

func (c *Client) GetHeaders(ctx context.Context, heights []chaintypes.Height, hints map[chaintypes.Height]chaintypes.BlockHash) ([]chaintypes.Header, error) {
	return esploraHeaders(ctx, c, heights, hints)
}

func (c *Client) Broadcast(ctx context.Context, rawTx []byte) (chaintypes.Txid, error) {
	return esploraBroadcast(ctx, c, rawTx)
}
