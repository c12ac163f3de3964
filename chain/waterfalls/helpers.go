package waterfalls

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lwkgo/ctwallet/chaintypes"
)

// The functions below are the plain-Esplora fallback paths: a
// waterfalls deployment is conventionally layered directly on top of
// an Esplora instance and exposes the same per-script/per-tx/per-block
// endpoints alongside its bulk /v1/waterfalls route, so chain.Backend
// is satisfied the same way chain/esplora.Client satisfies it.

func esploraTip(ctx context.Context, c *Client) (chaintypes.Tip, error) {
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
	hash, err := hashFromHex(string(hashBytes))
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

func esploraScriptsHistory(ctx context.Context, c *Client, scripts [][]byte) ([][]chaintypes.HistoryEntry, error) {
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
			txid, err := hashFromHex(e.TxID)
			if err != nil {
				return nil, err
			}
			he := chaintypes.HistoryEntry{Txid: txid}
			if e.Status.Confirmed {
				h := chaintypes.Height(e.Status.BlockHeight)
				he.Height = &h
				if bh, err := hashFromHex(e.Status.BlockHash); err == nil {
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

func esploraTransactions(ctx context.Context, c *Client, txids []chaintypes.Txid) ([][]byte, error) {
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

type blockSummary struct {
	Timestamp uint32 `json:"timestamp"`
}

func esploraHeaders(ctx context.Context, c *Client, heights []chaintypes.Height, hints map[chaintypes.Height]chaintypes.BlockHash) ([]chaintypes.Header, error) {
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
			h, err := hashFromHex(string(body))
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

func esploraBroadcast(ctx context.Context, c *Client, rawTx []byte) (chaintypes.Txid, error) {
	req, err := http.NewRequest(http.MethodPost, c.cfg.BaseURL+"/tx", hexBody(rawTx))
	if err != nil {
		return chaintypes.Txid{}, err
	}
	req.Header.Set("Content-Type", "text/plain")
	body, err := c.http.Do(ctx, req)
	if err != nil {
		return chaintypes.Txid{}, fmt.Errorf("broadcast: %w", err)
	}
	return hashFromHex(string(body))
}
