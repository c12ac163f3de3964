// Package pset implements the Elements-flavoured PSET (partially
// signed Elements transaction) data model and state machine: the
// portable container passed between the tx builder,
// an external signer, the combiner, and the finaliser. This module
// never signs or verifies signatures itself -- Combine and Finalize
// only assemble what an external signer already produced, the same
// separation lightweight-wallet/wallet/btcwallet/psbt.go draws between
// FundPsbt/SignPsbt/SignAndFinalizePsbt, generalised so Finalize here
// takes caller-supplied witnesses instead of holding signing keys.
//
// PSET extends Bitcoin's PSBT with confidential-transaction fields
// (blinding factors, surjection/range proofs, issuance) the
// btcutil/psbt types have no room for, so this package defines its
// own Input/Output records over elementstx.Transaction rather than
// psbt.Packet -- the same shape (global unsigned tx + per-index input/
// output side records) as btcutil/psbt, adapted field-for-field to
// carry Elements' additional confidential fields.
package pset

import (
	"fmt"

	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/elementstx"
	"github.com/lwkgo/ctwallet/werror"
)

// State is a PSET's position in the state machine:
//
//	Draft (builder) -> Unsigned (finish) -> PartiallySigned (external signer)
//	  -> Combined (combine) -> Finalised (finalize) -> Transaction (broadcast)
type State int

const (
	StateUnsigned State = iota
	StatePartiallySigned
	StateCombined
	StateFinalised
)

func (s State) String() string {
	switch s {
	case StateUnsigned:
		return "unsigned"
	case StatePartiallySigned:
		return "partially_signed"
	case StateCombined:
		return "combined"
	case StateFinalised:
		return "finalised"
	default:
		return "unknown"
	}
}

// Input is one PSET input's side record, layered over the
// corresponding elementstx.TxIn in Tx.Inputs.
type Input struct {
	// WitnessUtxo is the previous output being spent, needed by a
	// signer that cannot look it up itself (watch-only wallets never
	// have the previous transaction locally unless the scan already
	// cached it).
	WitnessUtxo *elementstx.TxOut

	// BlindValueProof attests this input's witness utxo commitment
	// matches an explicit (value, asset) pair without revealing the
	// blinding factors. Only populated by callers that need a third
	// party to audit an input without unblinding it (see liquidex/).
	BlindValueProof []byte

	// DerivationPath is the descriptor-relative (chain, index) this
	// input's key was derived at, part of the auxiliary signer data
	// step 7 requires.
	DerivationPath *DerivationPath

	// ValueBlinder/AssetBlinder are this input's own blinding factors,
	// needed by a signer to recompute the output blinding pass.
	ValueBlinder [32]byte
	AssetBlinder [32]byte

	// Issuance is set when this input carries a pending asset
	// issuance or reissuance ( step 4).
	Issuance *IssuanceData

	// PartialSigs accumulates signatures an external signer attaches;
	// keyed by the compressed pubkey that produced each signature.
	PartialSigs map[string][]byte

	// FinalScriptSig/FinalScriptWitness are populated by Finalize.
	FinalScriptSig     []byte
	FinalScriptWitness [][]byte
}

// DerivationPath is the descriptor fingerprint/path auxiliary data a
// hardware signer needs step 7.
type DerivationPath struct {
	Fingerprint [4]byte
	Chain       chaintypes.Chain
	Index       uint32
}

// IssuanceData is the pending issuance or reissuance marker attached
// to a builder-selected primary input.
type IssuanceData struct {
	IsReissuance  bool
	AssetID       chaintypes.AssetID
	TokenID       chaintypes.AssetID
	AssetAmount   uint64
	TokenAmount   uint64
	Contract      []byte
	ReissuanceTx  *chaintypes.Txid // set when reissuing an asset the wallet has not seen the original issuance of
}

// Output is one PSET output's side record.
type Output struct {
	// BlindingPubkey is set when this output must be blinded by the
	// builder's blinding pass; nil for explicit outputs (burns, fee).
	BlindingPubkey []byte

	// Asset/Value are this output's plaintext secrets, retained
	// alongside the commitment for a caller that must keep them across
	// a sign/finalize round trip -- a LiquiDEX proposal output is the
	// main case : the maker needs the plaintext to appear
	// in the proposal the taker eventually validates, not just the
	// commitment that goes on the wire.
	Asset *chaintypes.AssetID
	Value *uint64

	ValueBlinder [32]byte
	AssetBlinder [32]byte

	// SurjectionProof/RangeProof are populated once the builder's
	// blinding pass has run; the builder writes the same proofs into
	// the underlying elementstx.TxOut itself.
	SurjectionProof []byte
	RangeProof      []byte

	// BlindValueProof attests the output commitment matches an
	// explicit (value, asset) pair without revealing the blinding
	// factors -- required on both sides of a LiquiDEX swap.
	BlindValueProof []byte

	// IsFee marks the explicit fee output the builder always emits
	// last.
	IsFee bool
}

// Pset is a PSET in any of the states of the state machine above. Tx
// is the single shared unsigned/signed transaction payload; Inputs and
// Outputs are positionally aligned with Tx.Inputs/Tx.Outputs.
type Pset struct {
	State State

	Tx *elementstx.Transaction

	Inputs  []Input
	Outputs []Output

	// Version is the wire serialisation version this PSET round-trips
	// through (1 or 2); the builder always emits 2, but a V1 peer's
	// PSET must still parse. See serialize.go.
	Version int
}

// NewUnsigned wraps tx (produced by the builder's finish()) into a
// fresh Draft/Unsigned PSET with empty per-input/output side records.
func NewUnsigned(tx *elementstx.Transaction) *Pset {
	return &Pset{
		State:   StateUnsigned,
		Tx:      tx,
		Inputs:  make([]Input, len(tx.Inputs)),
		Outputs: make([]Output, len(tx.Outputs)),
		Version: 2,
	}
}

// AddPartialSig attaches a signature from an external signer to
// input i, advancing the PSET to PartiallySigned. It is an error to
// call this on a PSET already Combined or Finalised.
func (p *Pset) AddPartialSig(i int, pubkey []byte, sig []byte) error {
	if p.State == StateCombined || p.State == StateFinalised {
		return fmt.Errorf("pset: cannot add a signature to a %s pset", p.State)
	}
	if i < 0 || i >= len(p.Inputs) {
		return fmt.Errorf("pset: input index %d out of range", i)
	}
	if p.Inputs[i].PartialSigs == nil {
		p.Inputs[i].PartialSigs = make(map[string][]byte)
	}
	p.Inputs[i].PartialSigs[string(pubkey)] = sig
	if p.State == StateUnsigned {
		p.State = StatePartiallySigned
	}
	return nil
}

// Combine merges the signatures and metadata of psets that all
// descend from the same template (same Tx, compared by txid) into a
// single Combined PSET, combine operation. At least
// one PSET must be supplied, all sharing the same unsigned template.
func Combine(psets ...*Pset) (*Pset, error) {
	if len(psets) == 0 {
		return nil, fmt.Errorf("pset: combine requires at least one pset")
	}

	base := psets[0]
	baseTxid, err := base.Tx.Txid()
	if err != nil {
		return nil, fmt.Errorf("combine: hash base template: %w", err)
	}

	combined := &Pset{
		State:   StateCombined,
		Tx:      base.Tx,
		Inputs:  make([]Input, len(base.Inputs)),
		Outputs: make([]Output, len(base.Outputs)),
		Version: base.Version,
	}
	copy(combined.Inputs, base.Inputs)
	copy(combined.Outputs, base.Outputs)

	for _, other := range psets[1:] {
		txid, err := other.Tx.Txid()
		if err != nil {
			return nil, fmt.Errorf("combine: hash candidate template: %w", err)
		}
		if txid != baseTxid {
			return nil, werror.Wrap(fmt.Errorf("%w: pset template mismatch", werror.ErrInternalInconsistency))
		}
		if len(other.Inputs) != len(combined.Inputs) {
			return nil, werror.Wrap(fmt.Errorf("%w: input count mismatch", werror.ErrInternalInconsistency))
		}
		for i, in := range other.Inputs {
			for pubkey, sig := range in.PartialSigs {
				if combined.Inputs[i].PartialSigs == nil {
					combined.Inputs[i].PartialSigs = make(map[string][]byte)
				}
				combined.Inputs[i].PartialSigs[pubkey] = sig
			}
			if len(in.FinalScriptWitness) > 0 {
				combined.Inputs[i].FinalScriptWitness = in.FinalScriptWitness
				combined.Inputs[i].FinalScriptSig = in.FinalScriptSig
			}
		}
	}

	return combined, nil
}

// Finalize assembles each input's witness from its accumulated
// partial signatures or any already-final witness, producing a
// Finalised PSET. It succeeds only when every input has at least one
// satisfier attached, finalize contract ("at
// least one valid satisfier is present per input"); this package does
// not verify the satisfier is cryptographically correct, only that
// one was supplied -- actual verification happens on broadcast.
func Finalize(p *Pset) (*Pset, error) {
	finalised := &Pset{
		State:   StateFinalised,
		Tx:      p.Tx,
		Inputs:  make([]Input, len(p.Inputs)),
		Outputs: p.Outputs,
		Version: p.Version,
	}
	copy(finalised.Inputs, p.Inputs)

	for i := range finalised.Inputs {
		in := &finalised.Inputs[i]
		if len(in.FinalScriptWitness) > 0 {
			continue
		}
		if len(in.PartialSigs) == 0 {
			return nil, werror.ErrMissingSignature
		}
		// A real finaliser assembles the exact witness stack for the
		// input's script template (p2wpkh, p2sh-wrapped, p2wsh); this
		// module leaves that assembly to the signer transport (see
		// signer package) and here only records that a satisfier
		// exists, mirroring psbt.Finalize's "already-final" fast path
		// for inputs a signer has fully populated.
		for _, sig := range in.PartialSigs {
			in.FinalScriptWitness = append(in.FinalScriptWitness, sig)
		}
	}

	return finalised, nil
}

// ExtractTransaction produces the final broadcastable Elements
// transaction from a Finalised PSET, writing each input's
// FinalScriptWitness into the underlying elementstx.Transaction.
func ExtractTransaction(p *Pset) (*elementstx.Transaction, error) {
	if p.State != StateFinalised {
		return nil, fmt.Errorf("pset: cannot extract from a %s pset", p.State)
	}

	tx := *p.Tx
	tx.Inputs = make([]elementstx.TxIn, len(p.Tx.Inputs))
	copy(tx.Inputs, p.Tx.Inputs)

	for i := range tx.Inputs {
		if len(p.Inputs[i].FinalScriptWitness) == 0 {
			return nil, werror.ErrMissingSignature
		}
		tx.Inputs[i].Witness = p.Inputs[i].FinalScriptWitness
		tx.Inputs[i].SignatureScript = p.Inputs[i].FinalScriptSig
	}

	return &tx, nil
}
