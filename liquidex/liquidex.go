// Package liquidex implements the LiquiDEX swap-proposal format:
// a maker gives up one owned input in exchange for one
// output it wants back, packaged as a small, independently-shareable
// JSON document. The proposal's underlying PSET is deliberately
// unbalanced (no change, no fee output) -- original_source/lwk_wollet's
// liquidex.rs is explicit that the maker's fragment "cannot be
// broadcast" on its own; only a taker completing it with
// txbuilder.Builder.LiquidexTake produces a real transaction. This
// package therefore assembles the maker's fragment itself rather than
// routing it through the balanced-build algorithm in txbuilder.
package liquidex

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/elementstx"
	"github.com/lwkgo/ctwallet/pset"
	"github.com/lwkgo/ctwallet/txbuilder"
	"github.com/lwkgo/ctwallet/werror"
)

// Verifier checks a LiquidexTxOutSecrets claim against a confidential
// output's commitments without learning the blinding factors,
// mirroring LiquidexTxOutSecrets::verify's call into
// secp256k1_zkp::RangeProof::blind_value_proof_verify. Consumed rather
// than implemented here for the same reason unblind.Primitives and
// txbuilder.Blinder are: this package owns the proposal's shape and
// validation sequence, not the zero-knowledge math underneath it.
type Verifier interface {
	// AssetCommitmentFor recomputes the asset commitment for
	// (asset, assetBlinder), used to check it matches the commitment
	// actually carried on a txout.
	AssetCommitmentFor(asset chaintypes.AssetID, assetBlinder [32]byte) ([33]byte, error)
	// VerifyBlindValueProof checks that proof attests value against
	// assetCommitment/valueCommitment.
	VerifyBlindValueProof(proof []byte, value uint64, assetCommitment, valueCommitment []byte) bool
}

// ProofGenerator produces a blind-value proof for secrets the caller
// already knows in full (its own maker input, or an output it just
// blinded), the inverse of Verifier -- also consumed rather than
// implemented.
type ProofGenerator interface {
	BlindValueProof(asset chaintypes.AssetID, assetBlinder [32]byte, value uint64, valueBlinder [32]byte) ([]byte, error)
}

// TxOutSecrets is a claim about one txout's plaintext (asset, value),
// provable against its commitment via BlindValueProof without
// unblinding it -- the wire shape of both the proposal's single input
// and its single output.
type TxOutSecrets struct {
	Asset           chaintypes.AssetID
	AssetBlinder    [32]byte
	Satoshi         uint64
	BlindValueProof []byte
}

type txOutSecretsWire struct {
	Asset           string `json:"asset"`
	AssetBlinder    string `json:"asset_blinder"`
	Satoshi         uint64 `json:"satoshi"`
	BlindValueProof string `json:"blind_value_proof,omitempty"`
}

func (s TxOutSecrets) MarshalJSON() ([]byte, error) {
	return json.Marshal(txOutSecretsWire{
		Asset:           s.Asset.String(),
		AssetBlinder:    hex.EncodeToString(s.AssetBlinder[:]),
		Satoshi:         s.Satoshi,
		BlindValueProof: hex.EncodeToString(s.BlindValueProof),
	})
}

func (s *TxOutSecrets) UnmarshalJSON(data []byte) error {
	var w txOutSecretsWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	asset, err := chaintypes.ParseAssetID(w.Asset)
	if err != nil {
		return fmt.Errorf("liquidex: parse asset: %w", err)
	}
	abf, err := hex.DecodeString(w.AssetBlinder)
	if err != nil || len(abf) != 32 {
		return fmt.Errorf("liquidex: invalid asset_blinder")
	}
	proof, err := hex.DecodeString(w.BlindValueProof)
	if err != nil {
		return fmt.Errorf("liquidex: invalid blind_value_proof: %w", err)
	}
	s.Asset = asset
	copy(s.AssetBlinder[:], abf)
	s.Satoshi = w.Satoshi
	s.BlindValueProof = proof
	return nil
}

// verify checks secrets against txout's actual commitments, the Go
// mirror of LiquidexTxOutSecrets::verify.
func (s TxOutSecrets) verify(txout *elementstx.TxOut, v Verifier) bool {
	if len(s.BlindValueProof) == 0 || txout == nil || !txout.Confidential {
		return false
	}
	assetCommitment, err := v.AssetCommitmentFor(s.Asset, s.AssetBlinder)
	if err != nil {
		return false
	}
	if !bytesEqual(assetCommitment[:], txout.Asset) {
		return false
	}
	return v.VerifyBlindValueProof(s.BlindValueProof, s.Satoshi, assetCommitment[:], txout.Value)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AssetAmount is an (asset, amount) pair, the shape exposed by a
// Validated proposal's Input()/Output() accessors.
type AssetAmount struct {
	Asset  chaintypes.AssetID
	Amount uint64
}

// Proposal is an unvalidated LiquiDEX proposal, as received from a
// counterparty or read off disk. Go has no phantom types, so the
// Rust Unvalidated/Validated marker becomes two distinct Go types:
// only ValidatedProposal exposes ToPset, keeping "only a validated
// proposal can reach a taker's builder" enforced by the type system
// rather than by convention.
type Proposal struct {
	version int
	tx      string // hex-encoded serialized elementstx.Transaction
	inputs  []TxOutSecrets
	outputs []TxOutSecrets
	// scalars carries the Amp0 global scalar list some proposals
	// attach; this module's Amp0 support (pset.ExtractNonces/
	// NewAmp0Pset) is a separate side path from ordinary LiquiDEX
	// swaps, so these are round-tripped but never interpreted here.
	scalars [][32]byte
}

type proposalWire struct {
	Version int            `json:"version"`
	Tx      string         `json:"tx"`
	Inputs  []TxOutSecrets `json:"inputs"`
	Outputs []TxOutSecrets `json:"outputs"`
	Scalars []string       `json:"scalars"`
}

func (p *Proposal) MarshalJSON() ([]byte, error) {
	scalars := make([]string, len(p.scalars))
	for i, s := range p.scalars {
		scalars[i] = hex.EncodeToString(s[:])
	}
	return json.Marshal(proposalWire{
		Version: p.version, Tx: p.tx,
		Inputs: p.inputs, Outputs: p.outputs, Scalars: scalars,
	})
}

// ParseProposal parses a proposal received as JSON, e.g. over a
// counterparty channel or from disk. It performs no cryptographic
// validation; call Validate or InsecureValidate before trusting it.
func ParseProposal(data []byte) (*Proposal, error) {
	var w proposalWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("liquidex: parse proposal: %w", err)
	}
	scalars := make([][32]byte, len(w.Scalars))
	for i, s := range w.Scalars {
		b, err := hex.DecodeString(s)
		if err != nil || len(b) != 32 {
			return nil, fmt.Errorf("liquidex: invalid scalar at index %d", i)
		}
		copy(scalars[i][:], b)
	}
	return &Proposal{version: w.Version, tx: w.Tx, inputs: w.Inputs, outputs: w.Outputs, scalars: scalars}, nil
}

func (p *Proposal) transaction() (*elementstx.Transaction, error) {
	raw, err := hex.DecodeString(p.tx)
	if err != nil {
		return nil, fmt.Errorf("liquidex: decode tx hex: %w", err)
	}
	return elementstx.Decode(raw)
}

// NeededTx returns the txid of the transaction the proposal's input
// spends, which the caller must fetch (from its own store or a
// backend) before calling Validate.
func (p *Proposal) NeededTx() (chaintypes.Txid, error) {
	op, err := p.previousOutpoint()
	if err != nil {
		return chaintypes.Txid{}, err
	}
	return op.Hash, nil
}

func (p *Proposal) previousOutpoint() (chaintypes.OutPoint, error) {
	tx, err := p.transaction()
	if err != nil {
		return chaintypes.OutPoint{}, err
	}
	if len(tx.Inputs) != 1 {
		return chaintypes.OutPoint{}, werror.Wrap(&werror.LiquidexError{Kind: werror.LiquidexUnexpectedInputs})
	}
	return chaintypes.OutPoint{Hash: tx.Inputs[0].PreviousOutPoint.Hash, Index: tx.Inputs[0].PreviousOutPoint.Index}, nil
}

// Validate checks both the proposal's output (against the embedded
// transaction) and its input (against previousTx, the transaction the
// input outpoint actually spends -- the caller fetches this from a
// backend using NeededTx). This is the full-security path.
func (p *Proposal) Validate(previousTx *elementstx.Transaction, v Verifier) (*ValidatedProposal, error) {
	if _, _, err := p.verifyOutput(v); err != nil {
		return nil, err
	}
	if _, _, err := p.verifyInput(previousTx, v); err != nil {
		return nil, err
	}
	return p.validated(), nil
}

// InsecureValidate checks only the proposal's output, skipping the
// input check that requires fetching previousTx. A taker accepting a
// proposal validated this way is trusting that the input outpoint is
// genuinely unspent and carries the claimed secrets; 
// flags this as the reduced-security path.
func (p *Proposal) InsecureValidate(v Verifier) (*ValidatedProposal, error) {
	if _, _, err := p.verifyOutput(v); err != nil {
		return nil, err
	}
	return p.validated(), nil
}

func (p *Proposal) validated() *ValidatedProposal {
	return &ValidatedProposal{version: p.version, tx: p.tx, inputs: p.inputs, outputs: p.outputs, scalars: p.scalars}
}

func (p *Proposal) verifyOutput(v Verifier) (uint64, chaintypes.AssetID, error) {
	if len(p.outputs) != 1 {
		return 0, chaintypes.AssetID{}, werror.Wrap(&werror.LiquidexError{Kind: werror.LiquidexUnexpectedOutputs})
	}
	tx, err := p.transaction()
	if err != nil {
		return 0, chaintypes.AssetID{}, err
	}
	if len(tx.Outputs) != 1 {
		return 0, chaintypes.AssetID{}, werror.Wrap(&werror.LiquidexError{Kind: werror.LiquidexUnexpectedOutputs})
	}
	out := p.outputs[0]
	if !out.verify(&tx.Outputs[0], v) {
		return 0, chaintypes.AssetID{}, werror.Wrap(&werror.LiquidexError{Kind: werror.LiquidexVerificationFailed})
	}
	return out.Satoshi, out.Asset, nil
}

func (p *Proposal) verifyInput(previousTx *elementstx.Transaction, v Verifier) (uint64, chaintypes.AssetID, error) {
	if len(p.inputs) != 1 {
		return 0, chaintypes.AssetID{}, werror.Wrap(&werror.LiquidexError{Kind: werror.LiquidexUnexpectedInputs})
	}
	in := p.inputs[0]
	if previousTx != nil {
		prevOutpoint, err := p.previousOutpoint()
		if err != nil {
			return 0, chaintypes.AssetID{}, err
		}
		txid, err := previousTx.Txid()
		if err != nil {
			return 0, chaintypes.AssetID{}, fmt.Errorf("liquidex: hash previous tx: %w", err)
		}
		if txid != prevOutpoint.Hash || int(prevOutpoint.Index) >= len(previousTx.Outputs) {
			return 0, chaintypes.AssetID{}, werror.Wrap(&werror.LiquidexError{Kind: werror.LiquidexVerificationFailed})
		}
		if !in.verify(&previousTx.Outputs[prevOutpoint.Index], v) {
			return 0, chaintypes.AssetID{}, werror.Wrap(&werror.LiquidexError{Kind: werror.LiquidexVerificationFailed})
		}
	}
	return in.Satoshi, in.Asset, nil
}

// ValidatedProposal is a Proposal that has passed Validate or
// InsecureValidate. Only this type can produce a pset a taker's
// builder consumes.
type ValidatedProposal struct {
	version int
	tx      string
	inputs  []TxOutSecrets
	outputs []TxOutSecrets
	scalars [][32]byte
}

// Input returns the (asset, amount) the maker is giving up.
func (p *ValidatedProposal) Input() AssetAmount {
	return AssetAmount{Asset: p.inputs[0].Asset, Amount: p.inputs[0].Satoshi}
}

// Output returns the (asset, amount) the maker wants in return.
func (p *ValidatedProposal) Output() AssetAmount {
	return AssetAmount{Asset: p.outputs[0].Asset, Amount: p.outputs[0].Satoshi}
}

// ToPset reconstructs the maker's unbalanced pset fragment, ready to
// be fed into a taker's txbuilder.LiquidexTake via ExternalUtxo/
// Recipient built from Input()/Output() and the embedded transaction.
func (p *ValidatedProposal) ToPset() (*pset.Pset, error) {
	tx, err := (&Proposal{tx: p.tx}).transaction()
	if err != nil {
		return nil, err
	}
	if len(tx.Inputs) != 1 {
		return nil, werror.Wrap(&werror.LiquidexError{Kind: werror.LiquidexUnexpectedInputs})
	}
	if len(tx.Outputs) != 1 {
		return nil, werror.Wrap(&werror.LiquidexError{Kind: werror.LiquidexUnexpectedOutputs})
	}
	if len(tx.Inputs[0].Witness) == 0 && len(tx.Inputs[0].SignatureScript) == 0 {
		return nil, werror.Wrap(&werror.LiquidexError{Kind: werror.LiquidexMissingSignature})
	}

	out := pset.NewUnsigned(tx)
	out.State = pset.StateFinalised

	in := p.inputs[0]
	assetBytes, valueBytes := encodeExplicit(in.Asset, in.Satoshi)
	out.Inputs[0] = pset.Input{
		WitnessUtxo:     &elementstx.TxOut{Asset: assetBytes, Value: valueBytes},
		AssetBlinder:    in.AssetBlinder,
		BlindValueProof: in.BlindValueProof,
		FinalScriptSig:  tx.Inputs[0].SignatureScript,
	}
	if len(tx.Inputs[0].Witness) > 0 {
		out.Inputs[0].FinalScriptWitness = tx.Inputs[0].Witness
	}

	o := p.outputs[0]
	outAsset := o.Asset
	outValue := o.Satoshi
	out.Outputs[0] = pset.Output{
		Asset: &outAsset, Value: &outValue,
		AssetBlinder:    o.AssetBlinder,
		BlindValueProof: o.BlindValueProof,
	}

	return out, nil
}

// MakeRequest is a maker's give/want pair for one LiquiDEX proposal.
type MakeRequest struct {
	// Input is the wallet-owned utxo being given away.
	Input txbuilder.WalletUtxo
	// Want is the asset/amount/destination the maker wants in return.
	Want txbuilder.Recipient
}

// BuildMakerPset assembles the maker's one-input/one-output unbalanced
// fragment: no change, no fee. The result is Unsigned and must go
// through an external signer (see signer/) and pset.Finalize before
// Propose can turn it into a shareable Proposal.
func BuildMakerPset(req MakeRequest, blinder txbuilder.Blinder, proofGen ProofGenerator) (*pset.Pset, error) {
	tx := &elementstx.Transaction{
		Version: 2,
		Inputs: []elementstx.TxIn{{
			PreviousOutPoint: elementstx.OutPoint{Hash: req.Input.OutPoint.Hash, Index: req.Input.OutPoint.Index},
			Sequence:         0xffffffff,
		}},
	}

	inputProof, err := proofGen.BlindValueProof(req.Input.Asset, req.Input.AssetBlinder, req.Input.Value, req.Input.ValueBlinder)
	if err != nil {
		return nil, werror.Wrap(fmt.Errorf("%w: maker input: %v", werror.ErrCannotBlind, err))
	}

	var txOut elementstx.TxOut
	var pOut pset.Output
	wantAsset, wantValue := req.Want.Asset, req.Want.Value

	if req.Want.BlindingPubkey != nil {
		blinded, err := blinder.BlindOutput(txbuilder.BlindRequest{
			Asset: wantAsset, Value: wantValue, BlindingPubkey: req.Want.BlindingPubkey,
			InputAssets: []chaintypes.AssetID{req.Input.Asset}, InputABFs: [][32]byte{req.Input.AssetBlinder},
			LastValueBlinder: true,
		})
		if err != nil {
			return nil, werror.Wrap(fmt.Errorf("%w: maker output: %v", werror.ErrCannotBlind, err))
		}
		outputProof, err := proofGen.BlindValueProof(wantAsset, blinded.AssetBlinder, wantValue, blinded.ValueBlinder)
		if err != nil {
			return nil, werror.Wrap(fmt.Errorf("%w: maker output proof: %v", werror.ErrCannotBlind, err))
		}
		txOut = elementstx.TxOut{
			Asset: blinded.AssetCommitment[:], Value: blinded.ValueCommitment[:],
			Nonce: blinded.EphemeralPubkey[:], Script: req.Want.Script,
			Confidential: true, SurjectionProof: blinded.SurjectionProof, RangeProof: blinded.RangeProof,
		}
		pOut = pset.Output{
			BlindingPubkey: req.Want.BlindingPubkey,
			Asset:          &wantAsset, Value: &wantValue,
			AssetBlinder: blinded.AssetBlinder, ValueBlinder: blinded.ValueBlinder,
			SurjectionProof: blinded.SurjectionProof, RangeProof: blinded.RangeProof,
			BlindValueProof: outputProof,
		}
	} else {
		assetBytes, valueBytes := encodeExplicit(wantAsset, wantValue)
		txOut = elementstx.TxOut{Asset: assetBytes, Value: valueBytes, Nonce: []byte{0x00}, Script: req.Want.Script}
		pOut = pset.Output{Asset: &wantAsset, Value: &wantValue}
	}
	tx.Outputs = []elementstx.TxOut{txOut}

	p := pset.NewUnsigned(tx)
	assetBytes, valueBytes := encodeExplicit(req.Input.Asset, req.Input.Value)
	p.Inputs[0] = pset.Input{
		WitnessUtxo:     &elementstx.TxOut{Asset: assetBytes, Value: valueBytes, Script: req.Input.Script},
		DerivationPath:  &pset.DerivationPath{Chain: req.Input.Chain, Index: req.Input.Index},
		AssetBlinder:    req.Input.AssetBlinder,
		ValueBlinder:    req.Input.ValueBlinder,
		BlindValueProof: inputProof,
	}
	p.Outputs[0] = pOut

	return p, nil
}

// Propose extracts a shareable Proposal from a finalised maker pset
// built by BuildMakerPset (and signed by an external signer in
// between), the Go mirror of LiquidexProposal::from_pset.
func Propose(p *pset.Pset) (*Proposal, error) {
	if p.State != pset.StateFinalised {
		return nil, fmt.Errorf("liquidex: propose requires a finalised pset, got %s", p.State)
	}
	if len(p.Tx.Inputs) != 1 {
		return nil, werror.Wrap(&werror.LiquidexError{Kind: werror.LiquidexUnexpectedInputs})
	}
	if len(p.Tx.Outputs) != 1 {
		return nil, werror.Wrap(&werror.LiquidexError{Kind: werror.LiquidexUnexpectedOutputs})
	}

	in := p.Inputs[0]
	if len(in.FinalScriptSig) == 0 && len(in.FinalScriptWitness) == 0 {
		return nil, werror.Wrap(&werror.LiquidexError{Kind: werror.LiquidexMissingSignature})
	}
	if in.WitnessUtxo == nil {
		return nil, werror.Wrap(&werror.LiquidexError{Kind: werror.LiquidexInputMissingAsset})
	}
	if len(in.BlindValueProof) == 0 {
		return nil, werror.Wrap(&werror.LiquidexError{Kind: werror.LiquidexInputMissingBlindValueProof})
	}
	inAsset, inValue := decodeExplicit(in.WitnessUtxo.Asset, in.WitnessUtxo.Value)

	out := p.Outputs[0]
	if out.Asset == nil {
		return nil, werror.Wrap(&werror.LiquidexError{Kind: werror.LiquidexOutputMissingAsset})
	}
	if out.Value == nil {
		return nil, werror.Wrap(&werror.LiquidexError{Kind: werror.LiquidexOutputMissingAmount})
	}
	if len(out.BlindValueProof) == 0 {
		return nil, werror.Wrap(&werror.LiquidexError{Kind: werror.LiquidexOutputMissingBlindValueProof})
	}

	tx := *p.Tx
	tx.Inputs = []elementstx.TxIn{p.Tx.Inputs[0]}
	tx.Inputs[0].Witness = in.FinalScriptWitness
	tx.Inputs[0].SignatureScript = in.FinalScriptSig
	var buf bytes.Buffer
	if err := elementstx.Encode(&buf, &tx); err != nil {
		return nil, fmt.Errorf("liquidex: serialise maker tx: %w", err)
	}

	return &Proposal{
		version: 1,
		tx:      hex.EncodeToString(buf.Bytes()),
		inputs: []TxOutSecrets{{
			Asset: inAsset, AssetBlinder: in.AssetBlinder, Satoshi: inValue, BlindValueProof: in.BlindValueProof,
		}},
		outputs: []TxOutSecrets{{
			Asset: *out.Asset, AssetBlinder: out.AssetBlinder, Satoshi: *out.Value, BlindValueProof: out.BlindValueProof,
		}},
	}, nil
}

// encodeExplicit mirrors txbuilder's unexported helper of the same
// name: a one-byte-prefixed, reversed-order wire encoding of an
// explicit asset/value pair.
func encodeExplicit(asset chaintypes.AssetID, value uint64) (assetBytes, valueBytes []byte) {
	assetBytes = make([]byte, 33)
	assetBytes[0] = 0x01
	for i := 0; i < 32; i++ {
		assetBytes[1+i] = asset[31-i]
	}
	valueBytes = make([]byte, 9)
	valueBytes[0] = 0x01
	valueBytes[1] = byte(value >> 56)
	valueBytes[2] = byte(value >> 48)
	valueBytes[3] = byte(value >> 40)
	valueBytes[4] = byte(value >> 32)
	valueBytes[5] = byte(value >> 24)
	valueBytes[6] = byte(value >> 16)
	valueBytes[7] = byte(value >> 8)
	valueBytes[8] = byte(value)
	return assetBytes, valueBytes
}

func decodeExplicit(assetBytes, valueBytes []byte) (chaintypes.AssetID, uint64) {
	var asset chaintypes.AssetID
	if len(assetBytes) == 33 {
		for i := 0; i < 32; i++ {
			asset[31-i] = assetBytes[1+i]
		}
	}
	var value uint64
	if len(valueBytes) == 9 {
		for i := 0; i < 8; i++ {
			value = value<<8 | uint64(valueBytes[1+i])
		}
	}
	return asset, value
}
