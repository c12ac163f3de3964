package pset

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/lwkgo/ctwallet/elementstx"
)

// magic identifies a PSET frame, analogous to PSBT's 0x70736274ff
// magic bytes but distinct since this is not a Bitcoin PSBT.
var magic = [5]byte{'p', 's', 'e', 't', 0xff}

// Serialize writes p's canonical wire form: magic, a version byte (1
// or 2), the underlying Elements transaction, then the per-input/
// output side records. The version byte is the only difference
// between a V1 and a V2 frame: both carry the same JSON side records.
func Serialize(p *Pset) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(byte(p.Version))

	var txBuf bytes.Buffer
	if err := elementstx.Encode(&txBuf, p.Tx); err != nil {
		return nil, fmt.Errorf("pset: encode tx: %w", err)
	}
	if err := writeSection(&buf, txBuf.Bytes()); err != nil {
		return nil, err
	}

	sideBytes, err := json.Marshal(sideRecords{
		State:   p.State,
		Inputs:  p.Inputs,
		Outputs: p.Outputs,
	})
	if err != nil {
		return nil, fmt.Errorf("pset: marshal side records: %w", err)
	}
	if err := writeSection(&buf, sideBytes); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// sideRecords is the JSON-encoded metadata section: everything the
// raw Elements transaction bytes don't carry (signer state, blinding
// factors not yet folded into the tx, derivation paths). Kept as JSON
// rather than a second binary TLV encoding since it is never consumed
// by anything outside this module's own Deserialize.
type sideRecords struct {
	State   State
	Inputs  []Input
	Outputs []Output
}

func writeSection(buf *bytes.Buffer, section []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(section)))
	buf.Write(lenBuf[:])
	_, err := buf.Write(section)
	return err
}

// Deserialize parses a frame produced by Serialize, from either a V1
// or V2 writer.
func Deserialize(raw []byte) (*Pset, error) {
	if len(raw) < len(magic)+1 {
		return nil, fmt.Errorf("pset: frame too short")
	}
	if !bytes.Equal(raw[:len(magic)], magic[:]) {
		return nil, fmt.Errorf("pset: bad magic")
	}
	version := int(raw[len(magic)])
	if version != 1 && version != 2 {
		return nil, fmt.Errorf("pset: unsupported version %d", version)
	}
	cursor := len(magic) + 1

	txBytes, cursor, err := readSection(raw, cursor)
	if err != nil {
		return nil, fmt.Errorf("pset: read tx section: %w", err)
	}
	tx, err := elementstx.Decode(txBytes)
	if err != nil {
		return nil, fmt.Errorf("pset: decode tx: %w", err)
	}

	sideBytes, _, err := readSection(raw, cursor)
	if err != nil {
		return nil, fmt.Errorf("pset: read side-records section: %w", err)
	}
	var side sideRecords
	if err := json.Unmarshal(sideBytes, &side); err != nil {
		return nil, fmt.Errorf("pset: unmarshal side records: %w", err)
	}

	return &Pset{
		State:   side.State,
		Tx:      tx,
		Inputs:  side.Inputs,
		Outputs: side.Outputs,
		Version: version,
	}, nil
}

func readSection(raw []byte, cursor int) ([]byte, int, error) {
	if cursor+4 > len(raw) {
		return nil, 0, fmt.Errorf("truncated length prefix")
	}
	n := int(binary.LittleEndian.Uint32(raw[cursor : cursor+4]))
	cursor += 4
	if cursor+n > len(raw) {
		return nil, 0, fmt.Errorf("truncated section")
	}
	return raw[cursor : cursor+n], cursor + n, nil
}
