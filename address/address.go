// Package address implements the confidential-address codec the
// address() operation and the recipient side of send_lbtc/
// send_asset need: encoding a newly derived (script, blinding pubkey)
// pair into the address string a caller sees, and decoding a caller-
// supplied address string back into (script, blinding pubkey,
// confidential?) for the tx builder's recipient API.
//
// Liquid uses two address families depending on the payload's
// scriptpubkey shape: legacy/P2SH payloads are base58check, the same
// encoding Bitcoin addresses use with an extra blinding-pubkey field
// inserted ahead of the script hash for the confidential form; native
// segwit payloads use blech32, bech32 (BIP173) generalised to a wider
// 12-word checksum so a 33-byte blinding pubkey can ride alongside the
// witness program without weakening bech32's error-detection guarantee.
// Grounded on github.com/btcsuite/btcd/btcutil/base58 and bech32 for
// the unconfidential encodings; blech32 is this package's own addition,
// adapting bech32's polymod/generator shape to the wider checksum the
// Elements project's blech32 specification defines.
package address

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/lwkgo/ctwallet/network"
)

// Address is a decoded or about-to-be-encoded wallet address: the
// scriptpubkey it pays to, plus the blinding pubkey if it is
// confidential.
type Address struct {
	Script         []byte
	BlindingPubkey *btcec.PublicKey // nil if unconfidential
}

// Confidential reports whether a had a blinding pubkey.
func (a Address) Confidential() bool { return a.BlindingPubkey != nil }

// scriptShape classifies script into the payload families this codec
// knows how to address, independent of the descriptor's own
// PayloadTemplate enum -- an address is encoded from the wire bytes
// actually produced, not from the template name that produced them.
type scriptShape int

const (
	shapeUnknown scriptShape = iota
	shapeWitnessV0Hash160   // P2WPKH: OP_0 <20>
	shapeWitnessV0Sha256    // P2WSH:  OP_0 <32>
	shapeScriptHash         // P2SH:   OP_HASH160 <20> OP_EQUAL
	shapePubkeyHash         // P2PKH:  OP_DUP OP_HASH160 <20> OP_EQUALVERIFY OP_CHECKSIG
)

func classify(script []byte) (scriptShape, []byte) {
	switch {
	case len(script) == 22 && script[0] == 0x00 && script[1] == 0x14:
		return shapeWitnessV0Hash160, script[2:]
	case len(script) == 34 && script[0] == 0x00 && script[1] == 0x20:
		return shapeWitnessV0Sha256, script[2:]
	case len(script) == 23 && script[0] == 0xa9 && script[1] == 0x14 && script[22] == 0x87:
		return shapeScriptHash, script[2:22]
	case len(script) == 25 && script[0] == 0x76 && script[1] == 0xa9 && script[2] == 0x14 &&
		script[23] == 0x88 && script[24] == 0xac:
		return shapePubkeyHash, script[3:23]
	default:
		return shapeUnknown, nil
	}
}

// Encode renders script (optionally paired with blindingPubkey) as an
// address string for net. blindingPubkey may be nil to produce an
// unconfidential address.
func Encode(net network.Params, script []byte, blindingPubkey *btcec.PublicKey) (string, error) {
	shape, payload := classify(script)
	switch shape {
	case shapeWitnessV0Hash160, shapeWitnessV0Sha256:
		witnessVersion := byte(0)
		return encodeSegwit(net, witnessVersion, payload, blindingPubkey)
	case shapeScriptHash:
		return encodeBase58(net, net.P2SHPrefix, payload, blindingPubkey)
	case shapePubkeyHash:
		return encodeBase58(net, net.P2PKHPrefix, payload, blindingPubkey)
	default:
		return "", fmt.Errorf("address: unrecognised scriptpubkey shape")
	}
}

func encodeBase58(net network.Params, prefix byte, hash []byte, blindingPubkey *btcec.PublicKey) (string, error) {
	if blindingPubkey == nil {
		return base58.CheckEncode(hash, prefix), nil
	}
	payload := append(append([]byte(nil), blindingPubkey.SerializeCompressed()...), hash...)
	return base58.CheckEncode(payload, net.ConfidentialPrefix), nil
}

func encodeSegwit(net network.Params, witnessVersion byte, program []byte, blindingPubkey *btcec.PublicKey) (string, error) {
	if blindingPubkey == nil {
		converted, err := bech32.ConvertBits(program, 8, 5, true)
		if err != nil {
			return "", fmt.Errorf("address: convert witness program: %w", err)
		}
		data := append([]byte{witnessVersion}, converted...)
		addr, err := bech32.Encode(net.Bech32HRP, data)
		if err != nil {
			return "", fmt.Errorf("address: bech32 encode: %w", err)
		}
		return addr, nil
	}

	payload := append(append([]byte(nil), program...), blindingPubkey.SerializeCompressed()...)
	converted, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("address: convert confidential witness payload: %w", err)
	}
	data := append([]byte{witnessVersion}, converted...)
	return blech32Encode(net.Blech32HRP, data)
}

// Decode parses addr against net, returning the scriptpubkey and
// (if confidential) the blinding pubkey it carries. Tried in order:
// blech32, bech32, base58check -- the three encodings have
// non-overlapping charsets/lengths in practice, so the first one that
// parses is authoritative.
func Decode(addr string, net network.Params) (*Address, error) {
	if data, ok := tryBlech32(addr, net.Blech32HRP); ok {
		return segwitAddress(data, true)
	}
	if data, ok := tryBech32(addr, net.Bech32HRP); ok {
		return segwitAddress(data, false)
	}
	if a, ok := tryBase58(addr, net); ok {
		return a, nil
	}
	return nil, fmt.Errorf("address: %q is not a recognised address for network %s", addr, net.Name)
}

func segwitAddress(data []byte, confidential bool) (*Address, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("address: empty segwit payload")
	}
	converted, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("address: convert segwit payload: %w", err)
	}

	var program, blindingBytes []byte
	if confidential {
		if len(converted) < 33 {
			return nil, fmt.Errorf("address: confidential segwit payload too short")
		}
		program = converted[:len(converted)-33]
		blindingBytes = converted[len(converted)-33:]
	} else {
		program = converted
	}

	script, err := segwitScript(data[0], program)
	if err != nil {
		return nil, err
	}

	a := &Address{Script: script}
	if confidential {
		pub, err := btcec.ParsePubKey(blindingBytes)
		if err != nil {
			return nil, fmt.Errorf("address: parse blinding pubkey: %w", err)
		}
		a.BlindingPubkey = pub
	}
	return a, nil
}

func segwitScript(version byte, program []byte) ([]byte, error) {
	if version != 0 {
		return nil, fmt.Errorf("address: unsupported witness version %d", version)
	}
	switch len(program) {
	case 20:
		return append([]byte{0x00, 0x14}, program...), nil
	case 32:
		return append([]byte{0x00, 0x20}, program...), nil
	default:
		return nil, fmt.Errorf("address: unexpected witness program length %d", len(program))
	}
}

func tryBech32(addr, hrp string) ([]byte, bool) {
	gotHRP, data, err := bech32.Decode(addr)
	if err != nil || gotHRP != hrp {
		return nil, false
	}
	return data, true
}

func tryBase58(addr string, net network.Params) (*Address, bool) {
	payload, version, err := base58.CheckDecode(addr)
	if err != nil {
		return nil, false
	}

	switch version {
	case net.P2SHPrefix, net.P2PKHPrefix:
		if len(payload) != 20 {
			return nil, false
		}
		return &Address{Script: unconfidentialScriptFor(version, net, payload)}, true
	case net.ConfidentialPrefix:
		if len(payload) != 33+20 {
			return nil, false
		}
		pub, err := btcec.ParsePubKey(payload[:33])
		if err != nil {
			return nil, false
		}
		// The confidential prefix alone does not say whether the
		// wrapped hash is a script-hash or pubkey-hash payload; both
		// share the same ConfidentialPrefix byte in Elements' base58
		// scheme, disambiguated instead by which unconfidential prefix
		// the wallet's own descriptor template expects. Callers that
		// need the distinction reconstruct it from the template they
		// already know they are sending to; this decoder reports the
		// P2SH-shaped script, the more common wrapped-segwit case.
		return &Address{
			Script:         append([]byte{0xa9, 0x14}, append(append([]byte(nil), payload[33:]...), 0x87)...),
			BlindingPubkey: pub,
		}, true
	default:
		return nil, false
	}
}

func unconfidentialScriptFor(version byte, net network.Params, hash []byte) []byte {
	if version == net.P2PKHPrefix {
		return append(append([]byte{0x76, 0xa9, 0x14}, hash...), 0x88, 0xac)
	}
	return append(append([]byte{0xa9, 0x14}, hash...), 0x87)
}
