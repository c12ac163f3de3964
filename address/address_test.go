package address

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/lwkgo/ctwallet/network"
)

func testBlindingPubkey(t *testing.T) *btcec.PublicKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv.PubKey()
}

func TestEncodeDecodeRoundTrip_SegwitConfidential(t *testing.T) {
	t.Parallel()

	net := network.ParamsFor(network.Liquid)
	script := []byte{0x00, 0x14}
	script = append(script, make([]byte, 20)...)
	script[5] = 0xab

	blindingPubkey := testBlindingPubkey(t)

	addr, err := Encode(net, script, blindingPubkey)
	require.NoError(t, err)
	require.NotEmpty(t, addr)

	decoded, err := Decode(addr, net)
	require.NoError(t, err)
	require.Equal(t, script, decoded.Script)
	require.True(t, decoded.Confidential())
	require.Equal(t, blindingPubkey.SerializeCompressed(), decoded.BlindingPubkey.SerializeCompressed())
}

func TestEncodeDecodeRoundTrip_SegwitUnconfidential(t *testing.T) {
	t.Parallel()

	net := network.ParamsFor(network.Liquid)
	script := []byte{0x00, 0x20}
	script = append(script, make([]byte, 32)...)
	script[10] = 0xcd

	addr, err := Encode(net, script, nil)
	require.NoError(t, err)

	decoded, err := Decode(addr, net)
	require.NoError(t, err)
	require.Equal(t, script, decoded.Script)
	require.False(t, decoded.Confidential())
}

func TestEncodeDecodeRoundTrip_P2SHConfidential(t *testing.T) {
	t.Parallel()

	net := network.ParamsFor(network.Liquid)
	hash := make([]byte, 20)
	hash[3] = 0xef
	script := append([]byte{0xa9, 0x14}, hash...)
	script = append(script, 0x87)

	blindingPubkey := testBlindingPubkey(t)

	addr, err := Encode(net, script, blindingPubkey)
	require.NoError(t, err)

	decoded, err := Decode(addr, net)
	require.NoError(t, err)
	require.Equal(t, script, decoded.Script)
	require.True(t, decoded.Confidential())
}

func TestEncodeDecodeRoundTrip_P2PKHUnconfidential(t *testing.T) {
	t.Parallel()

	net := network.ParamsFor(network.Liquid)
	hash := make([]byte, 20)
	hash[7] = 0x11
	script := append([]byte{0x76, 0xa9, 0x14}, hash...)
	script = append(script, 0x88, 0xac)

	addr, err := Encode(net, script, nil)
	require.NoError(t, err)

	decoded, err := Decode(addr, net)
	require.NoError(t, err)
	require.Equal(t, script, decoded.Script)
	require.False(t, decoded.Confidential())
}

func TestEncodeRejectsUnrecognisedScript(t *testing.T) {
	t.Parallel()

	net := network.ParamsFor(network.Liquid)
	_, err := Encode(net, []byte{0x6a, 0x00}, nil) // OP_RETURN
	require.Error(t, err)
}

func TestDecodeRejectsAddressFromDifferentNetwork(t *testing.T) {
	t.Parallel()

	mainnet := network.ParamsFor(network.Liquid)
	testnet := network.ParamsFor(network.LiquidTestnet)

	script := []byte{0x00, 0x14}
	script = append(script, make([]byte, 20)...)

	addr, err := Encode(mainnet, script, nil)
	require.NoError(t, err)

	_, err = Decode(addr, testnet)
	require.Error(t, err)
}

func TestBlech32ChecksumRejectsCorruption(t *testing.T) {
	t.Parallel()

	encoded, err := blech32Encode("lq", []byte{0, 1, 2, 3, 4, 5})
	require.NoError(t, err)

	corrupted := []byte(encoded)
	last := corrupted[len(corrupted)-1]
	if last == 'q' {
		corrupted[len(corrupted)-1] = 'p'
	} else {
		corrupted[len(corrupted)-1] = 'q'
	}

	_, _, err = blech32Decode(string(corrupted))
	require.Error(t, err)
}
