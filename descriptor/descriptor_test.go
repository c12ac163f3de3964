package descriptor

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/lwkgo/ctwallet/chaintypes"
)

func testXpub(t *testing.T, seedByte byte) string {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = seedByte
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	neutered, err := master.Neuter()
	require.NoError(t, err)
	return neutered.String()
}

func TestParse_Slip77Wpkh(t *testing.T) {
	t.Parallel()

	xpub := testXpub(t, 1)
	desc := "ct(slip77(" +
		"9c8e000000000000000000000000000000000000000000000000000000007023" +
		"),elwpkh(" + xpub + "/<0;1>/*))"

	d, err := Parse(desc, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	require.Equal(t, BlindingSlip77, d.Blinding.Kind)
	require.Equal(t, TemplateP2WPKH, d.Template)
	require.True(t, d.IsSegwit())
	require.False(t, d.IsElip151())
	require.NotNil(t, d.Internal, "multipath descriptor must have an internal chain")

	singles := d.SingleDescriptors()
	require.Len(t, singles, 2)
	require.Equal(t, chaintypes.ChainExternal, singles[0].Chain)
	require.Equal(t, chaintypes.ChainInternal, singles[1].Chain)
}

func TestParse_Elip151NoMultipath(t *testing.T) {
	t.Parallel()

	xpub := testXpub(t, 2)
	desc := "ct(elip151,elwpkh(" + xpub + "/*))"

	d, err := Parse(desc, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	require.True(t, d.IsElip151())
	require.Nil(t, d.Internal)
	require.Len(t, d.SingleDescriptors(), 1)
}

func TestParse_RejectsBarePubkeyBlinding(t *testing.T) {
	t.Parallel()

	xpub := testXpub(t, 3)
	desc := "ct(" + xpub + ",elwpkh(" + xpub + "/*))"

	_, err := Parse(desc, &chaincfg.TestNet3Params)
	require.Error(t, err)
}

func TestDerive_IsInjective(t *testing.T) {
	t.Parallel()

	xpub := testXpub(t, 4)
	desc := "ct(elip151,elwpkh(" + xpub + "/*))"
	d, err := Parse(desc, &chaincfg.TestNet3Params)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := uint32(0); i < 50; i++ {
		_, script, err := d.Derive(chaintypes.ChainExternal, i)
		require.NoError(t, err)
		key := string(script)
		require.False(t, seen[key], "script repeated at index %d", i)
		seen[key] = true
	}
}

func TestDerive_Deterministic(t *testing.T) {
	t.Parallel()

	xpub := testXpub(t, 5)
	desc := "ct(elip151,elwpkh(" + xpub + "/*))"
	d, err := Parse(desc, &chaincfg.TestNet3Params)
	require.NoError(t, err)

	_, script1, err := d.Derive(chaintypes.ChainExternal, 7)
	require.NoError(t, err)
	_, script2, err := d.Derive(chaintypes.ChainExternal, 7)
	require.NoError(t, err)
	require.Equal(t, script1, script2)
}

func TestParse_ShWpkhTemplate(t *testing.T) {
	t.Parallel()

	xpub := testXpub(t, 6)
	desc := "ct(elip151,elsh(wpkh(" + xpub + "/*)))"
	d, err := Parse(desc, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	require.Equal(t, TemplateP2SHWrappedP2WPKH, d.Template)
	require.True(t, d.IsSegwit())
}
