// Package elementstx decodes and encodes the raw Elements-flavoured transaction
// wire format: the confidential-asset/value commitment fields, the
// per-tx witness flag byte Elements uses in place of Bitcoin's
// marker+flag pair, and the optional per-input issuance block. No
// Elements-native Go library exists in the ecosystem this module draws
// from, so this package is written directly against the public
// Elements wire-format description, reusing btcd/wire only for the
// varint helpers it already exports (ReadVarInt/WriteVarInt), the same
// way chainhash.Hash is reused for txids elsewhere in this module.
//
// This package handles structure only: Decode and Encode convert
// between raw bytes and these types, but it does not interpret
// commitments or proofs (see the unblind package for that). The pset
// package embeds these types as its transaction payload.
package elementstx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	witnessFlag uint8 = 1

	// outpoint index high bits, matching Elements' reuse of the
	// 4-byte input index field to also carry issuance/pegin markers.
	outpointIndexMask      = 0x3fffffff
	outpointIssuanceFlag   = 1 << 31
	outpointPeginFlag      = 1 << 30
)

// OutPoint is a transaction input's prevout, plus the issuance/pegin
// markers Elements packs into the index field's high bits.
type OutPoint struct {
	Hash           chainhash.Hash
	Index          uint32
	HasIssuance    bool
	HasPegin       bool
}

// Issuance is the optional asset-issuance payload carried by an input
// whose OutPoint.HasIssuance is set. Amount/InflationKeys are
// either explicit (8-byte) or confidential (32-byte commitment) blobs,
// left undecoded here; see pset's issuance-aware builder for the
// commitment interpretation.
type Issuance struct {
	AssetBlindingNonce [32]byte
	AssetEntropy       [32]byte
	Amount             []byte
	InflationKeys      []byte
}

// TxIn is one transaction input.
type TxIn struct {
	PreviousOutPoint OutPoint
	Issuance         *Issuance
	SignatureScript  []byte
	Sequence         uint32
	Witness          wire.TxWitness
}

// TxOut is one transaction output. Asset/Value/Nonce are the raw
// commitment (or explicit-value) blobs as they appear on the wire:
// a one-byte prefix followed by nothing when the field is null,
// otherwise by 32 bytes for Asset and Nonce, and by 8 (explicit) or
// 32 (confidential) bytes for Value. Confidential
// reports whether Value is a confidential (blinded) commitment.
type TxOut struct {
	Asset           []byte
	Value           []byte
	Nonce           []byte
	Script          []byte
	Confidential    bool
	SurjectionProof []byte
	RangeProof      []byte
}

// Transaction is a decoded Elements transaction.
type Transaction struct {
	Version  uint32
	Inputs   []TxIn
	Outputs  []TxOut
	LockTime uint32
}

// Txid computes the transaction's txid: double-SHA256 of the
// non-witness serialisation, matching Bitcoin's txid/wtxid split.
func (tx *Transaction) Txid() (chainhash.Hash, error) {
	var buf bytes.Buffer
	if err := encode(&buf, tx, false); err != nil {
		return chainhash.Hash{}, err
	}
	return chainhash.DoubleHashH(buf.Bytes()), nil
}

// Decode parses raw Elements transaction bytes.
func Decode(raw []byte) (*Transaction, error) {
	r := bytes.NewReader(raw)

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}

	var flag [1]byte
	if _, err := io.ReadFull(r, flag[:]); err != nil {
		return nil, fmt.Errorf("read witness flag: %w", err)
	}
	hasWitness := flag[0]&witnessFlag != 0

	numIn, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, fmt.Errorf("read input count: %w", err)
	}
	inputs := make([]TxIn, numIn)
	for i := range inputs {
		in, err := decodeTxIn(r)
		if err != nil {
			return nil, fmt.Errorf("read input %d: %w", i, err)
		}
		inputs[i] = *in
	}

	numOut, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, fmt.Errorf("read output count: %w", err)
	}
	outputs := make([]TxOut, numOut)
	for i := range outputs {
		out, err := decodeTxOut(r)
		if err != nil {
			return nil, fmt.Errorf("read output %d: %w", i, err)
		}
		outputs[i] = *out
	}

	var lockTime uint32
	if err := binary.Read(r, binary.LittleEndian, &lockTime); err != nil {
		return nil, fmt.Errorf("read locktime: %w", err)
	}

	if hasWitness {
		for i := range inputs {
			if err := decodeInputWitness(r, &inputs[i]); err != nil {
				return nil, fmt.Errorf("read input witness %d: %w", i, err)
			}
		}
		for i := range outputs {
			if err := decodeOutputWitness(r, &outputs[i]); err != nil {
				return nil, fmt.Errorf("read output witness %d: %w", i, err)
			}
		}
	}

	return &Transaction{Version: version, Inputs: inputs, Outputs: outputs, LockTime: lockTime}, nil
}

func decodeTxIn(r io.Reader) (*TxIn, error) {
	var hash chainhash.Hash
	if _, err := io.ReadFull(r, hash[:]); err != nil {
		return nil, err
	}
	var rawIndex uint32
	if err := binary.Read(r, binary.LittleEndian, &rawIndex); err != nil {
		return nil, err
	}

	op := OutPoint{
		Hash:        hash,
		Index:       rawIndex & outpointIndexMask,
		HasIssuance: rawIndex&outpointIssuanceFlag != 0,
		HasPegin:    rawIndex&outpointPeginFlag != 0,
	}

	var issuance *Issuance
	if op.HasIssuance {
		iss := &Issuance{}
		if _, err := io.ReadFull(r, iss.AssetBlindingNonce[:]); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(r, iss.AssetEntropy[:]); err != nil {
			return nil, err
		}
		amount, err := readConfidentialValue(r)
		if err != nil {
			return nil, err
		}
		iss.Amount = amount
		inflation, err := readConfidentialValue(r)
		if err != nil {
			return nil, err
		}
		iss.InflationKeys = inflation
		issuance = iss
	}

	script, err := readVarBytes(r)
	if err != nil {
		return nil, err
	}

	var seq uint32
	if err := binary.Read(r, binary.LittleEndian, &seq); err != nil {
		return nil, err
	}

	return &TxIn{PreviousOutPoint: op, Issuance: issuance, SignatureScript: script, Sequence: seq}, nil
}

func decodeTxOut(r io.Reader) (*TxOut, error) {
	asset, err := readFixedPrefixed(r, 32)
	if err != nil {
		return nil, fmt.Errorf("asset: %w", err)
	}
	value, err := readConfidentialValue(r)
	if err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}
	nonce, err := readFixedPrefixed(r, 32)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	script, err := readVarBytes(r)
	if err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}

	confidential := len(value) > 0 && (value[0] == 0x08 || value[0] == 0x09)
	return &TxOut{Asset: asset, Value: value, Nonce: nonce, Script: script, Confidential: confidential}, nil
}

// readConfidentialValue reads a one-byte prefix followed by 0 (null),
// 8 (explicit, prefix 0x01), or 32 (confidential commitment, prefix
// 0x08/0x09) bytes.
func readConfidentialValue(r io.Reader) ([]byte, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	switch prefix[0] {
	case 0x00:
		return prefix[:], nil
	case 0x01:
		buf := make([]byte, 9)
		buf[0] = prefix[0]
		if _, err := io.ReadFull(r, buf[1:]); err != nil {
			return nil, err
		}
		return buf, nil
	default:
		buf := make([]byte, 33)
		buf[0] = prefix[0]
		if _, err := io.ReadFull(r, buf[1:]); err != nil {
			return nil, err
		}
		return buf, nil
	}
}

// readFixedPrefixed reads a one-byte prefix followed by 0 or n bytes,
// used by the asset and nonce fields (nonce may be entirely absent,
// prefix 0x00).
func readFixedPrefixed(r io.Reader, n int) ([]byte, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	if prefix[0] == 0x00 {
		return prefix[:], nil
	}
	buf := make([]byte, 1+n)
	buf[0] = prefix[0]
	if _, err := io.ReadFull(r, buf[1:]); err != nil {
		return nil, err
	}
	return buf, nil
}

func readVarBytes(r io.Reader) ([]byte, error) {
	n, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func decodeInputWitness(r io.Reader, in *TxIn) error {
	if in.Issuance != nil {
		if _, err := readVarBytes(r); err != nil { // issuance amount rangeproof
			return err
		}
		if _, err := readVarBytes(r); err != nil { // inflation keys rangeproof
			return err
		}
	}
	witness, err := readWitnessStack(r)
	if err != nil {
		return err
	}
	in.Witness = witness
	// pegin witness stack, present only when HasPegin; read and discard
	// since this module does not construct peg-in transactions.
	if in.PreviousOutPoint.HasPegin {
		if _, err := readWitnessStack(r); err != nil {
			return err
		}
	}
	return nil
}

func decodeOutputWitness(r io.Reader, out *TxOut) error {
	surjection, err := readVarBytes(r)
	if err != nil {
		return err
	}
	rangeproof, err := readVarBytes(r)
	if err != nil {
		return err
	}
	out.SurjectionProof = surjection
	out.RangeProof = rangeproof
	return nil
}

func readWitnessStack(r io.Reader) (wire.TxWitness, error) {
	n, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	stack := make(wire.TxWitness, n)
	for i := range stack {
		item, err := readVarBytes(r)
		if err != nil {
			return nil, err
		}
		stack[i] = item
	}
	return stack, nil
}
