package liquidex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/elementstx"
	"github.com/lwkgo/ctwallet/pset"
	"github.com/lwkgo/ctwallet/txbuilder"
	"github.com/lwkgo/ctwallet/werror"
)

func testAsset(b byte) chaintypes.AssetID {
	var a chaintypes.AssetID
	a[0] = b
	return a
}

type fakeBlinder struct{ calls int }

func (f *fakeBlinder) BlindOutput(req txbuilder.BlindRequest) (txbuilder.BlindedOutput, error) {
	f.calls++
	out := txbuilder.BlindedOutput{RangeProof: []byte{0x01}, SurjectionProof: []byte{0x01}}
	out.AssetCommitment[0] = 0x0a
	out.ValueCommitment[0] = 0x08
	out.EphemeralPubkey[0] = 0x02
	out.AssetBlinder[0] = byte(f.calls)
	out.ValueBlinder[0] = byte(f.calls + 1)
	return out, nil
}

type fakeProofGenerator struct{ calls int }

func (f *fakeProofGenerator) BlindValueProof(asset chaintypes.AssetID, assetBlinder [32]byte, value uint64, valueBlinder [32]byte) ([]byte, error) {
	f.calls++
	return []byte{0xab, byte(f.calls)}, nil
}

type fakeVerifier struct {
	commitment [33]byte
	ok         bool
}

func (f *fakeVerifier) AssetCommitmentFor(asset chaintypes.AssetID, assetBlinder [32]byte) ([33]byte, error) {
	return f.commitment, nil
}

func (f *fakeVerifier) VerifyBlindValueProof(proof []byte, value uint64, assetCommitment, valueCommitment []byte) bool {
	return f.ok
}

func makeRequestFixture() MakeRequest {
	dealAsset := testAsset(0x22)
	return MakeRequest{
		Input: txbuilder.WalletUtxo{
			OutPoint: chaintypes.OutPoint{Index: 0},
			Chain:    chaintypes.ChainExternal,
			Script:   []byte{0x51},
			Asset:    dealAsset,
			Value:    1000,
		},
		Want: txbuilder.Recipient{
			Script: []byte{0x52},
			Asset:  testAsset(0x33),
			Value:  2000,
		},
	}
}

func TestBuildMakerPsetIsUnbalancedSingleInputOutput(t *testing.T) {
	t.Parallel()
	p, err := BuildMakerPset(makeRequestFixture(), &fakeBlinder{}, &fakeProofGenerator{})
	require.NoError(t, err)
	require.Len(t, p.Tx.Inputs, 1)
	require.Len(t, p.Tx.Outputs, 1)
	require.Equal(t, pset.StateUnsigned, p.State)
	require.NotEmpty(t, p.Inputs[0].BlindValueProof)
}

func TestBuildMakerPsetBlindsConfidentialWant(t *testing.T) {
	t.Parallel()
	req := makeRequestFixture()
	req.Want.BlindingPubkey = []byte{0x03}

	p, err := BuildMakerPset(req, &fakeBlinder{}, &fakeProofGenerator{})
	require.NoError(t, err)
	require.True(t, p.Tx.Outputs[0].Confidential)
	require.NotEmpty(t, p.Outputs[0].BlindValueProof)
	require.NotNil(t, p.Outputs[0].Asset)
	require.NotNil(t, p.Outputs[0].Value)
}

func signedMakerPset(t *testing.T) *pset.Pset {
	t.Helper()
	req := makeRequestFixture()
	req.Want.BlindingPubkey = []byte{0x03}
	p, err := BuildMakerPset(req, &fakeBlinder{}, &fakeProofGenerator{})
	require.NoError(t, err)
	p.Inputs[0].FinalScriptWitness = [][]byte{{0x01, 0x02}}
	p.State = pset.StateFinalised
	return p
}

func TestProposeRequiresFinalisedPset(t *testing.T) {
	t.Parallel()
	p, err := BuildMakerPset(makeRequestFixture(), &fakeBlinder{}, &fakeProofGenerator{})
	require.NoError(t, err)

	_, err = Propose(p)
	require.Error(t, err)
}

func TestProposeRequiresSignature(t *testing.T) {
	t.Parallel()
	p := signedMakerPset(t)
	p.Inputs[0].FinalScriptWitness = nil

	_, err := Propose(p)
	require.Error(t, err)
	var liqErr *werror.LiquidexError
	require.ErrorAs(t, err, &liqErr)
	require.Equal(t, werror.LiquidexMissingSignature, liqErr.Kind)
}

func TestProposeRoundTripsThroughJSON(t *testing.T) {
	t.Parallel()
	p := signedMakerPset(t)

	proposal, err := Propose(p)
	require.NoError(t, err)

	encoded, err := proposal.MarshalJSON()
	require.NoError(t, err)

	decoded, err := ParseProposal(encoded)
	require.NoError(t, err)
	require.Equal(t, proposal.tx, decoded.tx)
	require.Equal(t, proposal.inputs, decoded.inputs)
	require.Equal(t, proposal.outputs, decoded.outputs)
}

func TestInsecureValidateAcceptsMatchingCommitment(t *testing.T) {
	t.Parallel()
	p := signedMakerPset(t)
	proposal, err := Propose(p)
	require.NoError(t, err)

	v := &fakeVerifier{commitment: [33]byte{0x0a}, ok: true}
	validated, err := proposal.InsecureValidate(v)
	require.NoError(t, err)
	require.Equal(t, proposal.outputs[0].Asset, validated.Output().Asset)
	require.Equal(t, proposal.outputs[0].Satoshi, validated.Output().Amount)
	require.Equal(t, proposal.inputs[0].Asset, validated.Input().Asset)
}

func TestInsecureValidateRejectsFailedProof(t *testing.T) {
	t.Parallel()
	p := signedMakerPset(t)
	proposal, err := Propose(p)
	require.NoError(t, err)

	v := &fakeVerifier{ok: false}
	_, err = proposal.InsecureValidate(v)
	require.Error(t, err)
	var liqErr *werror.LiquidexError
	require.ErrorAs(t, err, &liqErr)
	require.Equal(t, werror.LiquidexVerificationFailed, liqErr.Kind)
}

func TestValidatedProposalToPsetIsFinalisedWithPlaintextSecrets(t *testing.T) {
	t.Parallel()
	p := signedMakerPset(t)
	proposal, err := Propose(p)
	require.NoError(t, err)

	validated, err := proposal.InsecureValidate(&fakeVerifier{commitment: [33]byte{0x0a}, ok: true})
	require.NoError(t, err)

	out, err := validated.ToPset()
	require.NoError(t, err)
	require.Equal(t, pset.StateFinalised, out.State)
	require.NotNil(t, out.Outputs[0].Asset)
	require.Equal(t, validated.Output().Asset, *out.Outputs[0].Asset)
	require.NotEmpty(t, out.Inputs[0].FinalScriptWitness)
}

func TestNeededTxReturnsInputOutpointTxid(t *testing.T) {
	t.Parallel()
	p := signedMakerPset(t)
	proposal, err := Propose(p)
	require.NoError(t, err)

	txid, err := proposal.NeededTx()
	require.NoError(t, err)
	require.Equal(t, chaintypes.Txid{}, txid) // fixture's input outpoint uses the zero hash
}

func TestEncodeDecodeExplicitRoundTrips(t *testing.T) {
	t.Parallel()
	asset := testAsset(0x09)
	assetBytes, valueBytes := encodeExplicit(asset, 42_000)

	gotAsset, gotValue := decodeExplicit(assetBytes, valueBytes)
	require.Equal(t, asset, gotAsset)
	require.Equal(t, uint64(42_000), gotValue)
}

func TestValidateChecksPreviousOutpointTxid(t *testing.T) {
	t.Parallel()
	p := signedMakerPset(t)
	proposal, err := Propose(p)
	require.NoError(t, err)

	wrongPrevTx := &elementstx.Transaction{
		Version: 2,
		Outputs: []elementstx.TxOut{{Asset: []byte{0x01}, Value: []byte{0x01}}},
	}
	_, err = proposal.Validate(wrongPrevTx, &fakeVerifier{commitment: [33]byte{0x0a}, ok: true})
	require.Error(t, err)
}
