package txbuilder

import (
	"encoding/binary"
	"fmt"

	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/descriptor"
	"github.com/lwkgo/ctwallet/elementstx"
	"github.com/lwkgo/ctwallet/pset"
	"github.com/lwkgo/ctwallet/werror"
)

// plannedOutput is one output the build algorithm will eventually
// emit, tracked before the blinding pass has run.
type plannedOutput struct {
	recipient Recipient
	isChange  bool
	isFee     bool
}

// issuanceInput pairs a selected anchor/token utxo with the pending
// issuance data it carries.
type issuanceInput struct {
	utxo     WalletUtxo
	issuance *pset.IssuanceData
}

// Finish runs the 8-step build algorithm against the
// builder's accumulated configuration and returns an Unsigned
// pset.Pset ready for an external signer.
func (b *Builder) Finish() (*pset.Pset, error) {
	if b.err != nil {
		return nil, werror.Wrap(b.err)
	}

	var outs []plannedOutput
	demand := newAssetLedger()

	// step 1: recipients, burns, issuance/reissuance receivers, and
	// liquidex-take's fixed output all become per-asset output demand.
	for _, r := range b.recipients {
		if r.Value == 0 {
			return nil, werror.Wrap(&werror.InvalidAmount{Reason: "recipient value is zero"})
		}
		demand.add(r.Asset, r.Value)
		outs = append(outs, plannedOutput{recipient: r})
	}
	for _, r := range b.burns {
		if r.Value == 0 {
			return nil, werror.Wrap(&werror.InvalidAmount{Reason: "burn value is zero"})
		}
		demand.add(r.Asset, r.Value)
		outs = append(outs, plannedOutput{recipient: r})
	}
	for _, req := range b.liquidexTakes {
		demand.add(req.ProposalOutput.Asset, req.ProposalOutput.Value)
		outs = append(outs, plannedOutput{recipient: req.ProposalOutput})
	}

	// step 4 (done early, since later steps need the derived ids):
	// issuance/reissuance asset-id derivation, and the anchor/token
	// utxo each one spends. An issuance mints its own supply -- the
	// asset/token amount is added to both demand and supply here so
	// the generic per-asset coin-selection loop below never tries to
	// find existing utxos for an asset that does not exist until this
	// very transaction confirms.
	usedAnchors := make(map[chaintypes.OutPoint]bool)
	var issuanceInputs []issuanceInput
	supply := newAssetLedger()

	for _, req := range b.issuances {
		anchor := req.AnchorUtxo
		if anchor == nil {
			anchor = firstUnusedUtxo(b.walletUtxos, usedAnchors)
		}
		if anchor == nil {
			return nil, werror.ErrMissingWalletUtxo
		}
		usedAnchors[anchor.OutPoint] = true

		assetID, tokenID := deriveIssuanceIDs(anchor.OutPoint, req.Contract)

		assetOut := req.AssetReceiver
		assetOut.Asset, assetOut.Value = assetID, req.AssetAmount
		demand.add(assetID, req.AssetAmount)
		supply.add(assetID, req.AssetAmount)
		outs = append(outs, plannedOutput{recipient: assetOut})

		if req.TokenAmount > 0 {
			if req.TokenReceiver == nil {
				return nil, werror.Wrap(&werror.InvalidContract{
					Field: "token_receiver", Reason: "token_amount > 0 requires a token receiver",
				})
			}
			tokenOut := *req.TokenReceiver
			tokenOut.Asset, tokenOut.Value = tokenID, req.TokenAmount
			demand.add(tokenID, req.TokenAmount)
			supply.add(tokenID, req.TokenAmount)
			outs = append(outs, plannedOutput{recipient: tokenOut})
		}

		issuanceInputs = append(issuanceInputs, issuanceInput{
			utxo: *anchor,
			issuance: &pset.IssuanceData{
				AssetID: assetID, TokenID: tokenID,
				AssetAmount: req.AssetAmount, TokenAmount: req.TokenAmount,
				Contract: req.Contract,
			},
		})
	}

	for _, req := range b.reissuances {
		demand.add(req.AssetID, req.AssetAmount)
		supply.add(req.AssetID, req.AssetAmount)
		assetOut := req.AssetReceiver
		assetOut.Asset, assetOut.Value = req.AssetID, req.AssetAmount
		outs = append(outs, plannedOutput{recipient: assetOut})

		issuanceInputs = append(issuanceInputs, issuanceInput{
			utxo: req.TokenUtxo,
			issuance: &pset.IssuanceData{
				IsReissuance: true,
				AssetID:      req.AssetID, TokenID: req.TokenID,
				AssetAmount:  req.AssetAmount,
				ReissuanceTx: req.EntropyTx,
			},
		})
	}

	// step 2/3: per-asset input supply, greedy coin selection, change.
	var selectedWallet []WalletUtxo
	var selectedExternal []ExternalUtxo

	for _, ii := range issuanceInputs {
		selectedWallet = append(selectedWallet, ii.utxo)
		supply.add(ii.utxo.Asset, ii.utxo.Value)
		demand.add(ii.utxo.Asset, 0) // ensure its change is considered even if otherwise undemanded
	}
	for _, req := range b.liquidexTakes {
		selectedExternal = append(selectedExternal, req.ProposalInput)
		supply.add(req.ProposalInput.Asset, req.ProposalInput.Value)
	}
	for _, u := range b.externalUtxos {
		selectedExternal = append(selectedExternal, u)
		supply.add(u.Asset, u.Value)
	}

	usedPool := make(map[chaintypes.OutPoint]bool)
	for _, u := range selectedWallet {
		usedPool[u.OutPoint] = true
	}

	for _, asset := range demand.order {
		if asset == b.policyAsset {
			continue // handled below, once the fee is known
		}
		need, have := demand.values[asset], supply.values[asset]
		for have < need {
			u, ok := takeNext(b.walletUtxos, usedPool, asset)
			if !ok {
				return nil, werror.Wrap(&werror.InsufficientFunds{Asset: asset.String(), Needed: need, Have: have})
			}
			selectedWallet = append(selectedWallet, u)
			have += u.Value
		}
		// Unlike the policy asset, a non-policy asset has no fee output
		// to fold leftover value into, so any change is emitted
		// regardless of size; the dust limit is a fee-economics concept
		// specific to the asset the network actually prices relay in.
		if change := have - need; change > 0 {
			out, err := b.changeOutput(asset, change)
			if err != nil {
				return nil, err
			}
			outs = append(outs, out)
		}
	}

	// policy asset: selection, fee estimation, change/drain.
	policyDemand, policyHave := demand.values[b.policyAsset], supply.values[b.policyAsset]
	estFee := b.estimateFee(len(selectedWallet)+len(selectedExternal), len(outs)+2)
	for policyHave < policyDemand+estFee {
		u, ok := takeNext(b.walletUtxos, usedPool, b.policyAsset)
		if !ok {
			return nil, werror.Wrap(&werror.InsufficientFunds{
				Asset: b.policyAsset.String(), Needed: policyDemand + estFee, Have: policyHave,
			})
		}
		selectedWallet = append(selectedWallet, u)
		policyHave += u.Value
		estFee = b.estimateFee(len(selectedWallet)+len(selectedExternal), len(outs)+2)
	}

	remaining := policyHave - policyDemand
	var feeValue uint64

	switch {
	case b.drainLbtcWallet:
		actualFee := b.estimateFee(len(selectedWallet)+len(selectedExternal), len(outs)+2)
		drain := b.drainLbtcTo
		if drain == nil {
			out, err := b.changeOutput(b.policyAsset, 0)
			if err != nil {
				return nil, err
			}
			drain = &out.recipient
		}
		drain.Value = remaining - actualFee
		outs = append(outs, plannedOutput{recipient: *drain, isChange: true})
		feeValue = actualFee

	case remaining-estFee >= dustLimit:
		actualFee := b.estimateFee(len(selectedWallet)+len(selectedExternal), len(outs)+2)
		out, err := b.changeOutput(b.policyAsset, remaining-actualFee)
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
		feeValue = actualFee

	default:
		// Change would be uneconomical; the entire remainder folds
		// into the fee, matching dustLimit's meaning in the per-asset
		// loop above.
		feeValue = remaining
	}
	outs = append(outs, plannedOutput{recipient: Recipient{Asset: b.policyAsset, Value: feeValue}, isFee: true})

	// step 5: blind every confidential output; explicit outputs
	// (burns, fee, explicit recipients) are emitted verbatim.
	lastConfidentialIdx := make(map[chaintypes.AssetID]int)
	for i, o := range outs {
		if o.recipient.BlindingPubkey != nil {
			lastConfidentialIdx[o.recipient.Asset] = i
		}
	}

	inputAssets := make([]chaintypes.AssetID, 0, len(selectedWallet)+len(selectedExternal))
	inputABFs := make([][32]byte, 0, cap(inputAssets))
	for _, u := range selectedWallet {
		inputAssets = append(inputAssets, u.Asset)
		inputABFs = append(inputABFs, u.AssetBlinder)
	}
	for _, u := range selectedExternal {
		inputAssets = append(inputAssets, u.Asset)
		inputABFs = append(inputABFs, [32]byte{})
	}

	txOutputs := make([]elementstx.TxOut, len(outs))
	psetOutputs := make([]pset.Output, len(outs))
	for i, o := range outs {
		if o.recipient.BlindingPubkey != nil {
			blinded, err := b.blinder.BlindOutput(BlindRequest{
				Asset: o.recipient.Asset, Value: o.recipient.Value,
				BlindingPubkey:   o.recipient.BlindingPubkey,
				InputAssets:      inputAssets,
				InputABFs:        inputABFs,
				LastValueBlinder: lastConfidentialIdx[o.recipient.Asset] == i,
			})
			if err != nil {
				return nil, werror.Wrap(fmt.Errorf("%w: %v", werror.ErrCannotBlind, err))
			}
			txOutputs[i] = elementstx.TxOut{
				Asset: blinded.AssetCommitment[:], Value: blinded.ValueCommitment[:],
				Nonce: blinded.EphemeralPubkey[:], Script: o.recipient.Script,
				Confidential: true,
				SurjectionProof: blinded.SurjectionProof, RangeProof: blinded.RangeProof,
			}
			psetOutputs[i] = pset.Output{
				BlindingPubkey:  o.recipient.BlindingPubkey,
				AssetBlinder:    blinded.AssetBlinder,
				ValueBlinder:    blinded.ValueBlinder,
				SurjectionProof: blinded.SurjectionProof,
				RangeProof:      blinded.RangeProof,
				IsFee:           o.isFee,
			}
		} else {
			assetBytes, valueBytes := encodeExplicit(o.recipient.Asset, o.recipient.Value)
			txOutputs[i] = elementstx.TxOut{Asset: assetBytes, Value: valueBytes, Nonce: []byte{0x00}, Script: o.recipient.Script}
			psetOutputs[i] = pset.Output{IsFee: o.isFee}
		}
	}

	// step 7: assemble inputs with their signer auxiliary data
	// (derivation path, previous txout, blinding factors).
	issuanceByOutpoint := make(map[chaintypes.OutPoint]*pset.IssuanceData)
	for _, ii := range issuanceInputs {
		issuanceByOutpoint[ii.utxo.OutPoint] = ii.issuance
	}
	fpExternal := fingerprintFor(b.descriptor, chaintypes.ChainExternal)
	fpInternal := fingerprintFor(b.descriptor, chaintypes.ChainInternal)

	txInputs := make([]elementstx.TxIn, 0, len(selectedWallet)+len(selectedExternal))
	psetInputs := make([]pset.Input, 0, cap(txInputs))

	for _, u := range selectedWallet {
		iss := issuanceByOutpoint[u.OutPoint]
		txInputs = append(txInputs, elementstx.TxIn{
			PreviousOutPoint: elementstx.OutPoint{Hash: u.OutPoint.Hash, Index: u.OutPoint.Index, HasIssuance: iss != nil},
			Sequence:         0xffffffff,
		})
		assetBytes, valueBytes := encodeExplicit(u.Asset, u.Value)
		fp := fpExternal
		if u.Chain == chaintypes.ChainInternal {
			fp = fpInternal
		}
		// WitnessUtxo is reconstructed from the recovered secrets as an
		// explicit output. A signer that needs the original confidential
		// commitment bytes for its sighash (rather than the recovered
		// plaintext amount) should be fed the scan engine's cached raw
		// txout instead of this reconstruction.
		psetInputs = append(psetInputs, pset.Input{
			WitnessUtxo:    &elementstx.TxOut{Asset: assetBytes, Value: valueBytes, Script: u.Script},
			DerivationPath: &pset.DerivationPath{Fingerprint: fp, Chain: u.Chain, Index: u.Index},
			ValueBlinder:   u.ValueBlinder, AssetBlinder: u.AssetBlinder,
			Issuance: iss,
		})
	}
	for _, u := range selectedExternal {
		txInputs = append(txInputs, elementstx.TxIn{
			PreviousOutPoint: elementstx.OutPoint{Hash: u.OutPoint.Hash, Index: u.OutPoint.Index},
			Sequence:         0xffffffff,
		})
		psetInputs = append(psetInputs, pset.Input{WitnessUtxo: u.WitnessUtxo})
	}

	tx := &elementstx.Transaction{Version: 2, Inputs: txInputs, Outputs: txOutputs}
	p := pset.NewUnsigned(tx)
	copy(p.Inputs, psetInputs)
	copy(p.Outputs, psetOutputs)
	return p, nil
}

// FinishForAmp0 is Finish, followed by the Amp0 nonce-export side path
// (green-backed AMP0 wallets need the value-blinders
// exported alongside the pset so the AMP server can co-sign).
func (b *Builder) FinishForAmp0() (*pset.Amp0Pset, error) {
	p, err := b.Finish()
	if err != nil {
		return nil, err
	}
	return pset.NewAmp0Pset(p, pset.ExtractNonces(p))
}

// changeOutput derives the next change address on the wallet's change
// chain (falling back to the external chain for a single-path
// descriptor with no dedicated change branch) and wraps it as a
// wallet-owned planned output.
func (b *Builder) changeOutput(asset chaintypes.AssetID, value uint64) (plannedOutput, error) {
	chain := b.changeChain()
	index := b.changeIndexer.NextIndex(chain)

	_, script, err := b.descriptor.Derive(chain, index)
	if err != nil {
		return plannedOutput{}, werror.Wrap(fmt.Errorf("derive change address: %w", err))
	}
	candidates := b.blindingKeys.BlindingKeysFor(script)
	if len(candidates) == 0 {
		return plannedOutput{}, werror.ErrCannotBlind
	}
	blindingPubkey := candidates[0].PubKey().SerializeCompressed()

	return plannedOutput{
		recipient: Recipient{Script: script, BlindingPubkey: blindingPubkey, Asset: asset, Value: value},
		isChange:  true,
	}, nil
}

func (b *Builder) changeChain() chaintypes.Chain {
	for _, sd := range b.descriptor.SingleDescriptors() {
		if sd.Chain == chaintypes.ChainInternal {
			return chaintypes.ChainInternal
		}
	}
	return chaintypes.ChainExternal
}

// estimateFee approximates the assembled transaction's vsize from its
// input/output counts. Not protocol-exact (a real implementation would
// size the actual range/surjection proofs once generated), but stable
// across the two calls Finish makes per build, so the declared
// dust/change decision and the final fee output never disagree.
func (b *Builder) estimateFee(numInputs, numOutputs int) uint64 {
	const (
		baseOverhead                = 11
		confidentialOutputBaseVsize = 33 + 9 + 33 + 1 + 35
		proofVsize                  = 370
		proofVsizeDiscounted        = 50
	)
	inputVsize := uint64(41) + uint64(b.descriptor.MaxWeightToSatisfy())/4
	outputVsize := uint64(confidentialOutputBaseVsize)
	if b.ctDiscount {
		outputVsize += proofVsizeDiscounted
	} else {
		outputVsize += proofVsize
	}
	vsize := uint64(baseOverhead) + uint64(numInputs)*inputVsize + uint64(numOutputs)*outputVsize
	return vsize * b.feeRateSatPerVbyte
}

func fingerprintFor(d *descriptor.WolletDescriptor, chain chaintypes.Chain) [4]byte {
	var fp [4]byte
	for _, sd := range d.SingleDescriptors() {
		if sd.Chain == chain {
			binary.BigEndian.PutUint32(fp[:], sd.BranchKey.ParentFingerprint())
			return fp
		}
	}
	return fp
}

func takeNext(pool []WalletUtxo, used map[chaintypes.OutPoint]bool, asset chaintypes.AssetID) (WalletUtxo, bool) {
	for _, u := range pool {
		if used[u.OutPoint] || u.Asset != asset {
			continue
		}
		used[u.OutPoint] = true
		return u, true
	}
	return WalletUtxo{}, false
}

func firstUnusedUtxo(pool []WalletUtxo, used map[chaintypes.OutPoint]bool) *WalletUtxo {
	for i := range pool {
		if !used[pool[i].OutPoint] {
			return &pool[i]
		}
	}
	return nil
}

// encodeExplicit produces the wire-encoded (one-byte-prefixed)
// asset/value fields for an unconfidential output, the encode-side
// mirror of scan/decode.go's explicitAssetValue.
func encodeExplicit(asset chaintypes.AssetID, value uint64) (assetBytes, valueBytes []byte) {
	assetBytes = make([]byte, 33)
	assetBytes[0] = 0x01
	for i := 0; i < 32; i++ {
		assetBytes[1+i] = asset[31-i]
	}

	valueBytes = make([]byte, 9)
	valueBytes[0] = 0x01
	binary.BigEndian.PutUint64(valueBytes[1:], value)
	return assetBytes, valueBytes
}

// assetLedger accumulates per-asset totals while remembering first-
// seen order, so change/demand iteration is deterministic without
// needing to sort asset ids by byte value on every call.
type assetLedger struct {
	order  []chaintypes.AssetID
	values map[chaintypes.AssetID]uint64
}

func newAssetLedger() *assetLedger {
	return &assetLedger{values: make(map[chaintypes.AssetID]uint64)}
}

func (l *assetLedger) add(asset chaintypes.AssetID, value uint64) {
	if _, ok := l.values[asset]; !ok {
		l.order = append(l.order, asset)
	}
	l.values[asset] += value
}
