package persist

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/store"
)

// The wire* types below are the on-disk JSON shape of store.Update and
// its nested types: every fixed-size byte array/slice is hex-encoded,
// matching the convention liquidex.TxOutSecrets already establishes
// for this module's JSON payloads.

type updateWire struct {
	BaseStatus string              `json:"base_status"`
	NewTxs     []wireTransaction   `json:"new_txs,omitempty"`
	Heights    []wireHeightEntry   `json:"heights,omitempty"`
	Timestamps []wireTimestamp     `json:"timestamps,omitempty"`
	NewScripts []wireNewScript     `json:"new_scripts,omitempty"`
	Unblinded  []wireUnblindEntry  `json:"unblinded,omitempty"`
	NewTip     wireTip             `json:"new_tip"`
	Version    int                 `json:"version"`
}

type wireTransaction struct {
	Txid     string          `json:"txid"`
	Raw      string          `json:"raw"`
	Inputs   []wireOutPoint  `json:"inputs,omitempty"`
	Outputs  []wireTxOut     `json:"outputs,omitempty"`
	Degraded bool            `json:"degraded"`
}

type wireTxOut struct {
	Script       string `json:"script"`
	Value        uint64 `json:"value"`
	Asset        string `json:"asset"`
	Confidential bool   `json:"confidential"`
}

type wireOutPoint struct {
	Hash  string `json:"hash"`
	Index uint32 `json:"index"`
}

type wireHeightEntry struct {
	Txid   string `json:"txid"`
	Height *uint32 `json:"height,omitempty"`
	Delete bool   `json:"delete,omitempty"`
}

type wireTimestamp struct {
	Height    uint32 `json:"height"`
	Timestamp uint32 `json:"timestamp"`
}

type wireNewScript struct {
	Chain  int    `json:"chain"`
	Index  uint32 `json:"index"`
	Script string `json:"script"`
}

type wireUnblindEntry struct {
	OutPoint     wireOutPoint `json:"outpoint"`
	Asset        string       `json:"asset"`
	Value        uint64       `json:"value"`
	AssetBlinder string       `json:"asset_blinder"`
	ValueBlinder string       `json:"value_blinder"`
}

type wireTip struct {
	Height    uint32  `json:"height"`
	Hash      string  `json:"hash"`
	Timestamp *uint32 `json:"timestamp,omitempty"`
}

func updateWireFrom(u *store.Update) []byte {
	w := updateWire{
		BaseStatus: hex.EncodeToString(u.BaseStatus[:]),
		Version:    u.Version,
		NewTip: wireTip{
			Height:    uint32(u.NewTip.Height),
			Hash:      hex.EncodeToString(u.NewTip.Hash[:]),
			Timestamp: u.NewTip.Timestamp,
		},
	}

	for _, tx := range u.NewTxs {
		wt := wireTransaction{
			Txid:     hex.EncodeToString(tx.Txid[:]),
			Raw:      hex.EncodeToString(tx.Raw),
			Degraded: tx.Degraded,
		}
		for _, in := range tx.Inputs {
			wt.Inputs = append(wt.Inputs, wireOutPoint{Hash: hex.EncodeToString(in.Hash[:]), Index: in.Index})
		}
		for _, out := range tx.Outputs {
			wt.Outputs = append(wt.Outputs, wireTxOut{
				Script: hex.EncodeToString(out.Script), Value: out.Value,
				Asset: out.Asset.String(), Confidential: out.Confidential,
			})
		}
		w.NewTxs = append(w.NewTxs, wt)
	}

	for _, he := range u.Heights {
		entry := wireHeightEntry{Txid: hex.EncodeToString(he.Txid[:]), Delete: he.Delete}
		if he.Height != nil {
			h := uint32(*he.Height)
			entry.Height = &h
		}
		w.Heights = append(w.Heights, entry)
	}

	for _, te := range u.Timestamps {
		w.Timestamps = append(w.Timestamps, wireTimestamp{Height: uint32(te.Height), Timestamp: te.Timestamp})
	}

	for _, ns := range u.NewScripts {
		w.NewScripts = append(w.NewScripts, wireNewScript{Chain: int(ns.Chain), Index: ns.Index, Script: hex.EncodeToString(ns.Script)})
	}

	for op, secret := range u.Unblinded {
		w.Unblinded = append(w.Unblinded, wireUnblindEntry{
			OutPoint:     wireOutPoint{Hash: hex.EncodeToString(op.Hash[:]), Index: op.Index},
			Asset:        secret.Asset.String(),
			Value:        secret.Value,
			AssetBlinder: hex.EncodeToString(secret.AssetBlinder[:]),
			ValueBlinder: hex.EncodeToString(secret.ValueBlinder[:]),
		})
	}

	data, err := json.Marshal(w)
	if err != nil {
		// w is built entirely from this package's own types with no
		// cyclic or unmarshalable fields; a failure here is a
		// programming error, not a runtime condition callers recover
		// from.
		panic(fmt.Sprintf("persist: marshal update: %v", err))
	}
	return data
}

func (w updateWire) toUpdate() (*store.Update, error) {
	u := &store.Update{Version: w.Version}

	baseStatus, err := hex.DecodeString(w.BaseStatus)
	if err != nil || len(baseStatus) != 32 {
		return nil, fmt.Errorf("invalid base_status")
	}
	copy(u.BaseStatus[:], baseStatus)

	tipHash, err := hashFromHex(w.NewTip.Hash)
	if err != nil {
		return nil, fmt.Errorf("invalid new_tip.hash: %w", err)
	}
	u.NewTip = chaintypes.Tip{Height: chaintypes.Height(w.NewTip.Height), Hash: tipHash, Timestamp: w.NewTip.Timestamp}

	for _, wt := range w.NewTxs {
		txid, err := hashFromHex(wt.Txid)
		if err != nil {
			return nil, fmt.Errorf("invalid tx txid: %w", err)
		}
		raw, err := hex.DecodeString(wt.Raw)
		if err != nil {
			return nil, fmt.Errorf("invalid tx raw: %w", err)
		}
		tx := &store.Transaction{Txid: txid, Raw: raw, Degraded: wt.Degraded}
		for _, in := range wt.Inputs {
			h, err := hashFromHex(in.Hash)
			if err != nil {
				return nil, fmt.Errorf("invalid tx input hash: %w", err)
			}
			tx.Inputs = append(tx.Inputs, chaintypes.OutPoint{Hash: h, Index: in.Index})
		}
		for _, out := range wt.Outputs {
			script, err := hex.DecodeString(out.Script)
			if err != nil {
				return nil, fmt.Errorf("invalid tx output script: %w", err)
			}
			asset, err := chaintypes.ParseAssetID(out.Asset)
			if err != nil {
				return nil, fmt.Errorf("invalid tx output asset: %w", err)
			}
			tx.Outputs = append(tx.Outputs, store.TxOut{Script: script, Value: out.Value, Asset: asset, Confidential: out.Confidential})
		}
		u.NewTxs = append(u.NewTxs, tx)
	}

	for _, wh := range w.Heights {
		txid, err := hashFromHex(wh.Txid)
		if err != nil {
			return nil, fmt.Errorf("invalid height entry txid: %w", err)
		}
		entry := store.HeightEntry{Txid: txid, Delete: wh.Delete}
		if wh.Height != nil {
			h := chaintypes.Height(*wh.Height)
			entry.Height = &h
		}
		u.Heights = append(u.Heights, entry)
	}

	for _, wt := range w.Timestamps {
		u.Timestamps = append(u.Timestamps, store.TimestampEntry{Height: chaintypes.Height(wt.Height), Timestamp: wt.Timestamp})
	}

	for _, ws := range w.NewScripts {
		script, err := hex.DecodeString(ws.Script)
		if err != nil {
			return nil, fmt.Errorf("invalid new_script script: %w", err)
		}
		u.NewScripts = append(u.NewScripts, store.NewScript{Chain: chaintypes.Chain(ws.Chain), Index: ws.Index, Script: script})
	}

	if len(w.Unblinded) > 0 {
		u.Unblinded = make(map[chaintypes.OutPoint]store.Unblinded, len(w.Unblinded))
		for _, we := range w.Unblinded {
			h, err := hashFromHex(we.OutPoint.Hash)
			if err != nil {
				return nil, fmt.Errorf("invalid unblinded outpoint hash: %w", err)
			}
			asset, err := chaintypes.ParseAssetID(we.Asset)
			if err != nil {
				return nil, fmt.Errorf("invalid unblinded asset: %w", err)
			}
			abf, err := hex.DecodeString(we.AssetBlinder)
			if err != nil || len(abf) != 32 {
				return nil, fmt.Errorf("invalid unblinded asset_blinder")
			}
			vbf, err := hex.DecodeString(we.ValueBlinder)
			if err != nil || len(vbf) != 32 {
				return nil, fmt.Errorf("invalid unblinded value_blinder")
			}
			secret := store.Unblinded{Asset: asset, Value: we.Value}
			copy(secret.AssetBlinder[:], abf)
			copy(secret.ValueBlinder[:], vbf)
			u.Unblinded[chaintypes.OutPoint{Hash: h, Index: we.OutPoint.Index}] = secret
		}
	}

	return u, nil
}

func hashFromHex(s string) (chainhash.Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != chainhash.HashSize {
		return chainhash.Hash{}, fmt.Errorf("want %d raw bytes, got %q", chainhash.HashSize, s)
	}
	var h chainhash.Hash
	copy(h[:], b)
	return h, nil
}
