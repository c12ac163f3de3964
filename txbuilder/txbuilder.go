// Package txbuilder implements the confidential transaction builder:
// a configuration-enumeration builder (fee_rate,
// add_recipient, issue_asset, ...) that produces an Unsigned pset.Pset
// ready to hand to an external signer.
//
// Grounded on lightweight-wallet/wallet/btcwallet/psbt.go's FundPsbt
// (coin selection against a candidate utxo set, change-output
// insertion, fee estimation from an assembled tx's size), generalised
// from btcwallet's single-asset, wallet-held-key model to per-asset
// coin selection with no signing capability of its own -- this module
// produces a pset.Pset and stops there, the same hand-off boundary
// pset.Finalize already draws between "assemble" and "sign".
//
// Like unblind.Primitives, the actual blinding-factor algebra,
// range-proof and surjection-proof generation are consumed through the
// Blinder interface rather than implemented here; this package only
// owns the wallet-facing contract around it (which outputs need
// blinding, in what order, with which change-output placement).
package txbuilder

import (
	"fmt"

	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/descriptor"
	"github.com/lwkgo/ctwallet/elementstx"
	"github.com/lwkgo/ctwallet/store"
	"github.com/lwkgo/ctwallet/unblind"
	"github.com/lwkgo/ctwallet/werror"
)

// dustLimit is the minimum change-output value worth emitting; below
// this, change is folded into the fee rather than creating an
// uneconomical output, mirroring the dust-limit check FundPsbt's
// change-output logic performs for the wallet's own outputs.
const dustLimit = 546

// maxAssetAmount is the hard ceiling on any single issuance or
// reissuance amount, step 8: the sum can never exceed
// Bitcoin's own 21e6 BTC supply cap expressed in satoshi units, since
// every Elements asset shares that same 8-decimal unit system.
const maxAssetAmount = 21_000_000 * 1e8

// Recipient is one output the caller wants the transaction to pay.
// BlindingPubkey is nil for an explicit (unconfidential) output; this
// is the shape an address-decoding layer above this package produces
// (confidential addresses carry a blinding pubkey, unconfidential ones
// don't), so this package never parses address strings itself.
type Recipient struct {
	Script         []byte
	BlindingPubkey []byte
	Asset          chaintypes.AssetID
	Value          uint64
}

// WalletUtxo is one unspent, known-to-us output, already unblinded if
// it was confidential. The wallet facade builds the candidate pool
// with WalletUtxosFrom; a caller wanting exact input selection (fee
// bumps, RBF-style replacements) can instead pass a curated subset to
// SetWalletUtxos.
type WalletUtxo struct {
	OutPoint chaintypes.OutPoint
	Chain    chaintypes.Chain
	Index    uint32
	Script   []byte
	Asset    chaintypes.AssetID
	Value    uint64

	AssetBlinder [32]byte
	ValueBlinder [32]byte
	Confidential bool
}

// ExternalUtxo is a utxo the wallet does not own itself but has been
// told to spend: a counterparty's LiquiDEX input, or a utxo supplied
// by a co-signer in a multi-party construction. Its previous output is
// supplied directly since a watch-only wallet for a foreign descriptor
// has no way to look it up.
type ExternalUtxo struct {
	OutPoint    chaintypes.OutPoint
	Asset       chaintypes.AssetID
	Value       uint64
	WitnessUtxo *elementstx.TxOut
}

// IssuanceRequest is one issue_asset configuration call. AnchorUtxo, if
// set, is the specific wallet utxo whose outpoint the new asset's
// entropy is derived from; left nil, the builder picks the first
// available utxo in its pool not already anchoring another issuance in
// the same call. AssetReceiver.Asset/TokenReceiver.Asset are ignored on
// input and overwritten with the derived ids.
type IssuanceRequest struct {
	AssetAmount   uint64
	TokenAmount   uint64 // 0 means no reissuance token is minted
	Contract      []byte
	AssetReceiver Recipient
	TokenReceiver *Recipient
	Blinded       bool
	AnchorUtxo    *WalletUtxo
}

// ReissuanceRequest is one reissue_asset configuration call. TokenUtxo
// is the wallet-owned utxo carrying the reissuance token from the
// original issuance, consumed as this transaction's reissuance input.
// EntropyTx is the original issuance transaction, needed to recompute
// the issuance entropy when the wallet has not itself seen it in its
// own history (: "missing_issuance.. unless issuance_tx
// is supplied explicitly").
type ReissuanceRequest struct {
	AssetID       chaintypes.AssetID
	TokenID       chaintypes.AssetID
	AssetAmount   uint64
	TokenUtxo     WalletUtxo
	EntropyTx     *chaintypes.Txid
	AssetReceiver Recipient
}

// LiquidexTakeRequest completes a maker's proposal fragment: the
// proposal's single input is spent as an external utxo, and its single
// output (paying the maker the agreed want amount) is carried through
// unchanged.
type LiquidexTakeRequest struct {
	ProposalInput  ExternalUtxo
	ProposalOutput Recipient
}

// Blinder is the confidential-transaction blinding math this package
// consumes rather than implements, exactly the way unblind.Primitives
// is consumed by the unblinder instead of reimplementing range-proof
// verification. A conforming implementation wraps libsecp256k1-zkp (or
// the Go equivalent a deployment chooses).
type Blinder interface {
	// BlindOutput computes the commitments and proofs for one
	// confidential output, given every input's (asset, asset-blinder)
	// pair (needed for the surjection-proof domain) and every other
	// already-blinded output's asset-blinder (needed so the final
	// output's value-blinder can be solved for to balance the
	// per-asset blinding-factor sum, step 5).
	BlindOutput(req BlindRequest) (BlindedOutput, error)
}

// BlindRequest is the input to one Blinder.BlindOutput call.
type BlindRequest struct {
	Asset          chaintypes.AssetID
	Value          uint64
	BlindingPubkey []byte
	InputAssets    []chaintypes.AssetID
	InputABFs      [][32]byte
	// LastValueBlinder, when true, asks the implementation to solve
	// for the value-blinder that zeroes the asset's blinding-factor
	// sum rather than choosing one at random -- required for exactly
	// one output per asset ( step 5).
	LastValueBlinder bool
}

// BlindedOutput is what a successful BlindOutput call produces.
type BlindedOutput struct {
	AssetCommitment [33]byte
	ValueCommitment [33]byte
	EphemeralPubkey [33]byte
	RangeProof      []byte
	SurjectionProof []byte
	AssetBlinder    [32]byte
	ValueBlinder    [32]byte
}

// ChangeIndexer reserves the next unused derivation index on a chain
// for a new change address, the same role Wollet.ApplyUpdate's
// last_unused bookkeeping plays for incoming scan activity -- except
// here the reservation happens for an address the builder is about to
// spend *to*, before any scan ever observes it.
type ChangeIndexer interface {
	NextIndex(chain chaintypes.Chain) uint32
}

// WalletUtxosFrom builds the candidate coin-selection pool from a
// store snapshot: every unspent output the store knows the secrets
// for (explicit outputs, or confidential outputs already unblinded).
// A confidential output the store could never unblind is excluded --
// it cannot be proven to carry a particular asset/value, so it cannot
// be safely selected as an input (see werror.ErrDegradedUTXO).
func WalletUtxosFrom(s *store.Store) []WalletUtxo {
	var out []WalletUtxo
	for _, txid := range s.AllTxids() {
		tx, ok := s.Transaction(txid)
		if !ok || tx.Degraded {
			continue
		}
		for i, o := range tx.Outputs {
			op := chaintypes.OutPoint{Hash: txid, Index: uint32(i)}
			if s.IsSpent(op) {
				continue
			}

			u := WalletUtxo{OutPoint: op, Script: o.Script, Confidential: o.Confidential}
			if o.Confidential {
				secrets, ok := s.Unblind(op)
				if !ok {
					continue
				}
				u.Asset, u.Value = secrets.Asset, secrets.Value
				u.AssetBlinder, u.ValueBlinder = secrets.AssetBlinder, secrets.ValueBlinder
			} else {
				u.Asset, u.Value = o.Asset, o.Value
			}
			if chain, index, ok := s.PathOf(o.Script); ok {
				u.Chain, u.Index = chain, index
			}
			out = append(out, u)
		}
	}
	return out
}

// Builder accumulates a build configuration via its Add*/Set*/fluent
// methods, none of which can fail visibly -- invalid configuration is
// recorded and surfaced from Finish, the same deferred-error style
// txscript.ScriptBuilder uses for its Add* chain.
type Builder struct {
	descriptor    *descriptor.WolletDescriptor
	policyAsset   chaintypes.AssetID
	blinder       Blinder
	blindingKeys  unblind.BlindingKeySource
	changeIndexer ChangeIndexer

	feeRateSatPerVbyte uint64
	ctDiscount         bool

	recipients    []Recipient
	burns         []Recipient
	issuances     []IssuanceRequest
	reissuances   []ReissuanceRequest
	liquidexTakes []LiquidexTakeRequest

	walletUtxos   []WalletUtxo
	externalUtxos []ExternalUtxo

	drainLbtcWallet bool
	drainLbtcTo     *Recipient

	err error
}

// New starts a builder for descriptor d, whose policyAsset is the
// network's native (L-BTC) asset id and whose candidate wallet-utxo
// pool defaults to every utxo the caller's store snapshot reports. The
// default fee rate is 1 sat/vbyte.
func New(
	d *descriptor.WolletDescriptor,
	policyAsset chaintypes.AssetID,
	blinder Blinder,
	blindingKeys unblind.BlindingKeySource,
	changeIndexer ChangeIndexer,
	pool []WalletUtxo,
) *Builder {
	return &Builder{
		descriptor:         d,
		policyAsset:        policyAsset,
		blinder:            blinder,
		blindingKeys:       blindingKeys,
		changeIndexer:      changeIndexer,
		feeRateSatPerVbyte: 1,
		walletUtxos:        pool,
	}
}

// FeeRate sets the fee rate in sat/vbyte (non-discounted units; see
// EnableCTDiscount).
func (b *Builder) FeeRate(satPerVbyte uint64) *Builder {
	b.feeRateSatPerVbyte = satPerVbyte
	return b
}

// AddRecipient adds a confidential output. r.BlindingPubkey must be
// set; use AddExplicitRecipient for an unconfidential one.
func (b *Builder) AddRecipient(r Recipient) *Builder {
	if b.err == nil && len(r.BlindingPubkey) == 0 {
		b.err = fmt.Errorf("%w: confidential recipient missing blinding pubkey", werror.ErrInvalidRecipient)
	}
	b.recipients = append(b.recipients, r)
	return b
}

// AddLBTCRecipient is sugar for AddRecipient against the policy asset.
func (b *Builder) AddLBTCRecipient(script, blindingPubkey []byte, value uint64) *Builder {
	return b.AddRecipient(Recipient{
		Script: script, BlindingPubkey: blindingPubkey,
		Asset: b.policyAsset, Value: value,
	})
}

// AddExplicitRecipient adds an unconfidential output; any
// BlindingPubkey on r is ignored.
func (b *Builder) AddExplicitRecipient(r Recipient) *Builder {
	r.BlindingPubkey = nil
	b.recipients = append(b.recipients, r)
	return b
}

// AddBurn adds a provably-unspendable OP_RETURN output for asset,
// always explicit (burning confidentially would hide the burn's
// effect on supply from anyone auditing the asset, defeating the
// point).
func (b *Builder) AddBurn(asset chaintypes.AssetID, value uint64) *Builder {
	b.burns = append(b.burns, Recipient{Script: opReturnScript(), Asset: asset, Value: value})
	return b
}

// IssueAsset adds an issue_asset configuration call.
func (b *Builder) IssueAsset(req IssuanceRequest) *Builder {
	if b.err == nil && (req.AssetAmount > maxAssetAmount || req.TokenAmount > maxAssetAmount) {
		b.err = werror.ErrIssuanceAmountTooLarge
	}
	b.issuances = append(b.issuances, req)
	return b
}

// ReissueAsset adds a reissue_asset configuration call.
func (b *Builder) ReissueAsset(req ReissuanceRequest) *Builder {
	if b.err == nil && req.AssetAmount > maxAssetAmount {
		b.err = werror.ErrIssuanceAmountTooLarge
	}
	b.reissuances = append(b.reissuances, req)
	return b
}

// LiquidexTake adds a liquidex_take configuration call. Constructing a
// liquidex_make proposal is not a Builder configuration option in this
// module: a maker's proposal is an intentionally unbalanced one-input/
// one-output fragment (no fee, no change), which the liquidex package
// assembles directly rather than through this balanced-transaction
// algorithm -- see liquidex.Propose.
func (b *Builder) LiquidexTake(req LiquidexTakeRequest) *Builder {
	b.liquidexTakes = append(b.liquidexTakes, req)
	return b
}

// SetWalletUtxos restricts coin selection to exactly this subset of
// the wallet's known utxos, overriding the default pool New() was
// constructed with.
func (b *Builder) SetWalletUtxos(utxos []WalletUtxo) *Builder {
	b.walletUtxos = utxos
	return b
}

// AddExternalUtxos adds utxos the builder may spend but does not own.
func (b *Builder) AddExternalUtxos(utxos ...ExternalUtxo) *Builder {
	b.externalUtxos = append(b.externalUtxos, utxos...)
	return b
}

// DrainLBTCWallet sends every selected policy-asset input's value,
// less the fee, to a single change output instead of computing change
// normally -- used to empty a wallet.
func (b *Builder) DrainLBTCWallet() *Builder {
	b.drainLbtcWallet = true
	return b
}

// DrainLBTCTo is DrainLBTCWallet, but the drained value goes to an
// external recipient instead of a wallet-owned change address.
func (b *Builder) DrainLBTCTo(script, blindingPubkey []byte) *Builder {
	b.drainLbtcWallet = true
	b.drainLbtcTo = &Recipient{Script: script, BlindingPubkey: blindingPubkey, Asset: b.policyAsset}
	return b
}

// EnableCTDiscount applies Elements' discounted-vsize fee schedule
// (confidential range/surjection proof bytes are weighted down since
// they are witness data), "ct_discount"
// option. Off by default, matching a conservative fee estimate.
func (b *Builder) EnableCTDiscount() *Builder {
	b.ctDiscount = true
	return b
}

// DisableCTDiscount reverts to the standard (non-discounted) fee
// schedule.
func (b *Builder) DisableCTDiscount() *Builder {
	b.ctDiscount = false
	return b
}

func opReturnScript() []byte {
	return []byte{0x6a}
}
