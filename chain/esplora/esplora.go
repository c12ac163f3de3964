// Package esplora implements the pull-based Esplora backend adapter,
// grounded on
// lightweight-wallet/chain/mempool/client.go and client_bridge.go
// (the JSON response shapes and CurrentHeight/GetBlock/
// BroadcastTransaction methods) and on
// original_source/lwk_wollet/src/clients/asyncr/esplora.rs for the
// scripthash-history endpoint shape and response semantics.
package esplora

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lwkgo/ctwallet/chain"
	"github.com/lwkgo/ctwallet/chaintypes"
)

// Config configures a Client.
type Config struct {
	BaseURL       string
	RatePerSecond float64
	Burst         int
}

// DefaultConfig returns a Config pointed at a caller-supplied Esplora
// instance (no public default URL is baked in -- -goals
// explicitly avoid binding to a specific network transport).
func DefaultConfig(baseURL string) Config {
	return Config{BaseURL: baseURL, RatePerSecond: 10, Burst: 5}
}

// Client is a chain.Backend talking to an Esplora-style HTTP API.
type Client struct {
	cfg  Config
	http *chain.HTTPClient
}

// New returns a new esplora Client.
func New(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: chain.NewHTTPClient(cfg.BaseURL, cfg.RatePerSecond, cfg.Burst, chain.DefaultRetryConfig()),
	}
}

var _ chain.Backend = (*Client)(nil)

func (c *Client) Capabilities() chain.CapabilitySet {
	return chain.NewCapabilitySet()
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(ctx, req)
}

type blockSummary struct {
	ID        string `json:"id"`
	Height    uint32 `json:"height"`
	Timestamp uint32 `json:"timestamp"`
}

func (c *Client) Tip(ctx context.Context) (chaintypes.Tip, error) {
	heightBytes, err := c.get(ctx, "/blocks/tip/height")
	if err != nil {
		return chaintypes.Tip{}, fmt.Errorf("get tip height: %w", err)
	}
	var height uint32
	if _, err := fmt.Sscanf(string(heightBytes), "%d", &height); err != nil {
		return chaintypes.Tip{}, fmt.Errorf("parse tip height: %w", err)
	}

	hashBytes, err := c.get(ctx, "/blocks/tip/hash")
	if err != nil {
		return chaintypes.Tip{}, fmt.Errorf("get tip hash: %w", err)
	}
	hash, err := chainhashFromHex(string(hashBytes))
	if err != nil {
		return chaintypes.Tip{}, err
	}

	return chaintypes.Tip{Height: chaintypes.Height(height), Hash: hash}, nil
}

type scriptHistoryEntry struct {
	TxID   string `json:"txid"`
	Status struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight uint32 `json:"block_height"`
		BlockHash   string `json:"block_hash"`
		BlockTime   uint32 `json:"block_time"`
	} `json:"status"`
}

// GetScriptsHistory queries "/scripthash/{hash}/txs" per script.
// Esplora has no bulk endpoint; waterfalls exists specifically to
// short-circuit this loop for compatible descriptors (see
// chain/waterfalls and step 2).
func (c *Client) GetScriptsHistory(ctx context.Context, scripts [][]byte) ([][]chaintypes.HistoryEntry, error) {
	out := make([][]chaintypes.HistoryEntry, len(scripts))
	for i, script := range scripts {
		scriptHash := sha256Reversed(script)
		body, err := c.get(ctx, "/scripthash/"+hex.EncodeToString(scriptHash)+"/txs")
		if err != nil {
			return nil, fmt.Errorf("get history for script %d: %w", i, err)
		}

		var entries []scriptHistoryEntry
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, fmt.Errorf("decode history for script %d: %w", i, err)
		}

		histories := make([]chaintypes.HistoryEntry, 0, len(entries))
		for _, e := range entries {
			txid, err := chainhashFromHex(e.TxID)
			if err != nil {
				return nil, err
			}
			he := chaintypes.HistoryEntry{Txid: txid}
			if e.Status.Confirmed {
				h := chaintypes.Height(e.Status.BlockHeight)
				he.Height = &h
				if bh, err := chainhashFromHex(e.Status.BlockHash); err == nil {
					he.BlockHash = &bh
				}
				ts := e.Status.BlockTime
				he.Timestamp = &ts
			}
			histories = append(histories, he)
		}
		out[i] = histories
	}
	return out, nil
}

func (c *Client) GetTransactions(ctx context.Context, txids []chaintypes.Txid) ([][]byte, error) {
	out := make([][]byte, len(txids))
	for i, id := range txids {
		body, err := c.get(ctx, "/tx/"+id.String()+"/raw")
		if err != nil {
			return nil, fmt.Errorf("get tx %s: %w", id, err)
		}
		out[i] = body
	}
	return out, nil
}

func (c *Client) GetHeaders(ctx context.Context, heights []chaintypes.Height, hints map[chaintypes.Height]chaintypes.BlockHash) ([]chaintypes.Header, error) {
	out := make([]chaintypes.Header, len(heights))
	for i, height := range heights {
		var hash chaintypes.BlockHash
		if h, ok := hints[height]; ok {
			hash = h
		} else {
			body, err := c.get(ctx, fmt.Sprintf("/block-height/%d", height))
			if err != nil {
				return nil, fmt.Errorf("get block hash at %d: %w", height, err)
			}
			h, err := chainhashFromHex(string(body))
			if err != nil {
				return nil, err
			}
			hash = h
		}

		body, err := c.get(ctx, "/block/"+hash.String())
		if err != nil {
			return nil, fmt.Errorf("get block %s: %w", hash, err)
		}
		var summary blockSummary
		if err := json.Unmarshal(body, &summary); err != nil {
			return nil, fmt.Errorf("decode block %s: %w", hash, err)
		}
		out[i] = chaintypes.Header{Height: height, Hash: hash, Timestamp: summary.Timestamp}
	}
	return out, nil
}

func (c *Client) Broadcast(ctx context.Context, rawTx []byte) (chaintypes.Txid, error) {
	req, err := http.NewRequest(http.MethodPost, c.cfg.BaseURL+"/tx", newHexBody(rawTx))
	if err != nil {
		return chaintypes.Txid{}, err
	}
	req.Header.Set("Content-Type", "text/plain")
	body, err := c.http.Do(ctx, req)
	if err != nil {
		return chaintypes.Txid{}, fmt.Errorf("broadcast: %w", err)
	}
	return chainhashFromHex(string(body))
}
