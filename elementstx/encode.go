package elementstx

import (
	"encoding/binary"
	"io"

	"github.com/btcsuite/btcd/wire"
)

// Encode serialises tx, including witness data when present. Used by
// pset finalisation to produce the broadcastable raw transaction.
func Encode(w io.Writer, tx *Transaction) error {
	return encode(w, tx, true)
}

func encode(w io.Writer, tx *Transaction, includeWitness bool) error {
	if err := binary.Write(w, binary.LittleEndian, tx.Version); err != nil {
		return err
	}

	hasWitness := includeWitness && txHasWitness(tx)
	var flag byte
	if hasWitness {
		flag = witnessFlag
	}
	if _, err := w.Write([]byte{flag}); err != nil {
		return err
	}

	if err := wire.WriteVarInt(w, 0, uint64(len(tx.Inputs))); err != nil {
		return err
	}
	for i := range tx.Inputs {
		if err := encodeTxIn(w, &tx.Inputs[i]); err != nil {
			return err
		}
	}

	if err := wire.WriteVarInt(w, 0, uint64(len(tx.Outputs))); err != nil {
		return err
	}
	for i := range tx.Outputs {
		if err := encodeTxOut(w, &tx.Outputs[i]); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, tx.LockTime); err != nil {
		return err
	}

	if hasWitness {
		for i := range tx.Inputs {
			if err := encodeInputWitness(w, &tx.Inputs[i]); err != nil {
				return err
			}
		}
		for i := range tx.Outputs {
			if err := encodeOutputWitness(w, &tx.Outputs[i]); err != nil {
				return err
			}
		}
	}

	return nil
}

func txHasWitness(tx *Transaction) bool {
	for _, in := range tx.Inputs {
		if len(in.Witness) > 0 {
			return true
		}
	}
	for _, out := range tx.Outputs {
		if len(out.SurjectionProof) > 0 || len(out.RangeProof) > 0 {
			return true
		}
	}
	return false
}

func encodeTxIn(w io.Writer, in *TxIn) error {
	if _, err := w.Write(in.PreviousOutPoint.Hash[:]); err != nil {
		return err
	}
	idx := in.PreviousOutPoint.Index
	if in.PreviousOutPoint.HasIssuance {
		idx |= outpointIssuanceFlag
	}
	if in.PreviousOutPoint.HasPegin {
		idx |= outpointPeginFlag
	}
	if err := binary.Write(w, binary.LittleEndian, idx); err != nil {
		return err
	}

	if in.Issuance != nil {
		if _, err := w.Write(in.Issuance.AssetBlindingNonce[:]); err != nil {
			return err
		}
		if _, err := w.Write(in.Issuance.AssetEntropy[:]); err != nil {
			return err
		}
		if err := writeBytesRaw(w, in.Issuance.Amount); err != nil {
			return err
		}
		if err := writeBytesRaw(w, in.Issuance.InflationKeys); err != nil {
			return err
		}
	}

	if err := writeVarBytes(w, in.SignatureScript); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, in.Sequence)
}

func encodeTxOut(w io.Writer, out *TxOut) error {
	if err := writeBytesRaw(w, out.Asset); err != nil {
		return err
	}
	if err := writeBytesRaw(w, out.Value); err != nil {
		return err
	}
	if err := writeBytesRaw(w, out.Nonce); err != nil {
		return err
	}
	return writeVarBytes(w, out.Script)
}

// writeBytesRaw writes a field already carrying its own one-byte
// prefix (asset/value/nonce), falling back to a null byte if unset.
func writeBytesRaw(w io.Writer, b []byte) error {
	if len(b) == 0 {
		_, err := w.Write([]byte{0x00})
		return err
	}
	_, err := w.Write(b)
	return err
}

func writeVarBytes(w io.Writer, b []byte) error {
	if err := wire.WriteVarInt(w, 0, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func encodeInputWitness(w io.Writer, in *TxIn) error {
	if in.Issuance != nil {
		if err := writeVarBytes(w, nil); err != nil { // issuance amount rangeproof
			return err
		}
		if err := writeVarBytes(w, nil); err != nil { // inflation keys rangeproof
			return err
		}
	}
	if err := writeWitnessStack(w, in.Witness); err != nil {
		return err
	}
	if in.PreviousOutPoint.HasPegin {
		if err := writeWitnessStack(w, nil); err != nil {
			return err
		}
	}
	return nil
}

func encodeOutputWitness(w io.Writer, out *TxOut) error {
	if err := writeVarBytes(w, out.SurjectionProof); err != nil {
		return err
	}
	return writeVarBytes(w, out.RangeProof)
}

func writeWitnessStack(w io.Writer, stack wire.TxWitness) error {
	if err := wire.WriteVarInt(w, 0, uint64(len(stack))); err != nil {
		return err
	}
	for _, item := range stack {
		if err := writeVarBytes(w, item); err != nil {
			return err
		}
	}
	return nil
}
