// Package network defines the closed enumeration of chains this
// wallet engine can address, grounded on chaincfg.Params the way the
// teacher selects network parameters in client.New.
package network

// Network is the closed set of Elements-style chains the descriptor
// model and address codec understand.
type Network int

const (
	Liquid Network = iota
	LiquidTestnet
	ElementsRegtest
)

// Params carries the per-network constants the descriptor and address
// codec need: the policy (native) asset id and the address prefixes.
type Params struct {
	Name           string
	PolicyAssetHex string
	Bech32HRP      string
	Blech32HRP     string
	P2PKHPrefix    byte
	P2SHPrefix     byte
	ConfidentialPrefix byte
}

var (
	liquidParams = Params{
		Name:               "liquidv1",
		PolicyAssetHex:     "6f0279e9ed041c3d710a9f57d0c02928416460c4b722ae3457a11eec381c526d",
		Bech32HRP:          "ex",
		Blech32HRP:         "lq",
		P2PKHPrefix:        0x39,
		P2SHPrefix:         0x27,
		ConfidentialPrefix: 0x0c,
	}
	liquidTestnetParams = Params{
		Name:               "liquidtestnet",
		PolicyAssetHex:     "144c654344aa716d6f3abcc1ca90e5641e4e2a7f633bc09fe3baf64585819a49",
		Bech32HRP:          "tex",
		Blech32HRP:         "tlq",
		P2PKHPrefix:        0x24,
		P2SHPrefix:         0x13,
		ConfidentialPrefix: 0x04,
	}
)

// ElementsRegtestParams builds the Params for a regtest chain whose
// policy asset was chosen at genesis, since regtest has no fixed
// policy asset id.
func ElementsRegtestParams(policyAssetHex string) Params {
	return Params{
		Name:               "elementsregtest",
		PolicyAssetHex:     policyAssetHex,
		Bech32HRP:          "ert",
		Blech32HRP:         "el",
		P2PKHPrefix:        0xeb,
		P2SHPrefix:         0x4b,
		ConfidentialPrefix: 0x04,
	}
}

// ParamsFor returns the fixed Params for Liquid and LiquidTestnet.
// ElementsRegtest must use ElementsRegtestParams directly since its
// policy asset is chain-specific.
func ParamsFor(n Network) Params {
	switch n {
	case Liquid:
		return liquidParams
	case LiquidTestnet:
		return liquidTestnetParams
	default:
		return Params{}
	}
}

func (n Network) String() string {
	switch n {
	case Liquid:
		return "liquid"
	case LiquidTestnet:
		return "liquid-testnet"
	case ElementsRegtest:
		return "elements-regtest"
	default:
		return "unknown"
	}
}
