// Package descriptor implements the confidential-descriptor model:
// parsing the `ct(<blinding>,<payload>)` grammar,
// deriving scripts/addresses, and exposing the per-branch single
// descriptors the scan engine and tx builder work against.
//
// Key derivation below follows the BIP32 path-walking style of
// lightweight-wallet/keyring/keyring.go's deriveKeyAtPath: one
// Derive() call per path component, wrapping hdkeychain errors with
// context rather than reimplementing BIP32 itself.
package descriptor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/lwkgo/ctwallet/chaintypes"
)

// BlindingKind enumerates the accepted blinding-key variants. Any
// other shape ("bare pubkey", "xprv-view-multipath", "xprv-view-
// wildcard") is rejected at parse time 
type BlindingKind int

const (
	BlindingSlip77 BlindingKind = iota
	BlindingSlip77Random
	BlindingElip151
	BlindingXprvViewSingle
)

// PayloadTemplate enumerates the accepted scriptpubkey templates.
type PayloadTemplate int

const (
	TemplateP2WPKH PayloadTemplate = iota
	TemplateP2WSH
	TemplateP2SHWrappedP2WPKH
	TemplateLegacyP2SH
)

func (t PayloadTemplate) isSegwit() bool {
	return t == TemplateP2WPKH || t == TemplateP2WSH || t == TemplateP2SHWrappedP2WPKH
}

// maxWeightToSatisfy returns the worst-case satisfaction weight for
// the template, used by the tx builder for fee estimation.
func (t PayloadTemplate) maxWeightToSatisfy() uint32 {
	switch t {
	case TemplateP2WPKH:
		return 1 + 1 + 73 + 1 + 33 // scriptSig empty + witness stack
	case TemplateP2SHWrappedP2WPKH:
		return 23 + 1 + 73 + 1 + 33 // redeemScript push + witness
	case TemplateP2WSH:
		return 1 + 1 + 73 + 1 + 33 + 40 // witnessScript placeholder
	case TemplateLegacyP2SH:
		return 1 + 73 + 1 + 33
	default:
		return 0
	}
}

// BlindingKey carries the parsed blinding-key material. Exactly one
// of the fields is meaningful, selected by Kind.
type BlindingKey struct {
	Kind BlindingKind

	// Slip77Seed is the 32-byte master blinding seed for
	// BlindingSlip77 (explicit hex input) and BlindingSlip77Random
	// (generated once and persisted by the caller; descriptor.Parse
	// itself never generates key material).
	Slip77Seed [32]byte

	// ViewXprv is the extended private view key for
	// BlindingXprvViewSingle. It must not carry a wildcard or
	// multipath step -- those shapes are rejected at parse time.
	ViewXprv *hdkeychain.ExtendedKey
}

// SingleDescriptor is one derivation branch (external or internal) of
// a WolletDescriptor: a fixed BIP32 path down to (but not including)
// the wildcard child index.
type SingleDescriptor struct {
	Chain        chaintypes.Chain
	Template     PayloadTemplate
	BranchKey    *hdkeychain.ExtendedKey
	Net          *chaincfg.Params
}

// Derive computes the child key, script, and address at index.
func (sd *SingleDescriptor) Derive(index uint32) (*btcec.PublicKey, []byte, error) {
	child, err := sd.BranchKey.Derive(index)
	if err != nil {
		return nil, nil, fmt.Errorf("derive child %d: %w", index, err)
	}
	pub, err := child.ECPubKey()
	if err != nil {
		return nil, nil, fmt.Errorf("derive child %d pubkey: %w", index, err)
	}

	script, err := scriptForTemplate(sd.Template, pub)
	if err != nil {
		return nil, nil, err
	}
	return pub, script, nil
}

func scriptForTemplate(t PayloadTemplate, pub *btcec.PublicKey) ([]byte, error) {
	pkHash := btcutil.Hash160(pub.SerializeCompressed())
	switch t {
	case TemplateP2WPKH:
		return txscript.NewScriptBuilder().
			AddOp(txscript.OP_0).AddData(pkHash).Script()
	case TemplateP2SHWrappedP2WPKH:
		witnessProg, err := txscript.NewScriptBuilder().
			AddOp(txscript.OP_0).AddData(pkHash).Script()
		if err != nil {
			return nil, err
		}
		redeemHash := btcutil.Hash160(witnessProg)
		return txscript.NewScriptBuilder().
			AddOp(txscript.OP_HASH160).AddData(redeemHash).
			AddOp(txscript.OP_EQUAL).Script()
	case TemplateP2WSH:
		witnessScript, err := txscript.NewScriptBuilder().
			AddData(pub.SerializeCompressed()).
			AddOp(txscript.OP_CHECKSIG).Script()
		if err != nil {
			return nil, err
		}
		scriptHash := sha256.Sum256(witnessScript)
		return txscript.NewScriptBuilder().
			AddOp(txscript.OP_0).AddData(scriptHash[:]).Script()
	case TemplateLegacyP2SH:
		return txscript.NewScriptBuilder().
			AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).
			AddData(pkHash).AddOp(txscript.OP_EQUALVERIFY).
			AddOp(txscript.OP_CHECKSIG).Script()
	default:
		return nil, fmt.Errorf("unknown payload template %d", t)
	}
}

// WolletDescriptor is a parsed confidential descriptor; see Parse for
// the invariants it enforces.
type WolletDescriptor struct {
	canonical string
	Blinding  BlindingKey
	Template  PayloadTemplate
	External  *hdkeychain.ExtendedKey
	Internal  *hdkeychain.ExtendedKey // nil if descriptor has no multipath step
	net       *chaincfg.Params
}

var topLevelRe = regexp.MustCompile(`^ct\((.+),\s*(.+)\)(#[a-z0-9]+)?$`)

// Parse parses the ct(<blinding>,<payload>) grammar.
// A trailing "#checksum" is accepted but not verified beyond
// its charset, since checksum computation belongs to the descriptor
// serialisation layer, not to parsing.
func Parse(s string, netParams *chaincfg.Params) (*WolletDescriptor, error) {
	s = strings.TrimSpace(s)
	m := topLevelRe.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("%w: not a ct(...) descriptor", errUnsupportedShape)
	}

	blinding, err := parseBlinding(m[1], netParams)
	if err != nil {
		return nil, err
	}

	template, external, internal, err := parsePayload(m[2], netParams)
	if err != nil {
		return nil, err
	}

	d := &WolletDescriptor{
		canonical: s,
		Blinding:  blinding,
		Template:  template,
		External:  external,
		Internal:  internal,
		net:       netParams,
	}
	return d, nil
}

var errUnsupportedShape = fmt.Errorf("unsupported descriptor shape")

func parseBlinding(s string, netParams *chaincfg.Params) (BlindingKey, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "slip77("):
		hexStr := strings.TrimSuffix(strings.TrimPrefix(s, "slip77("), ")")
		b, err := hex.DecodeString(hexStr)
		if err != nil || len(b) != 32 {
			return BlindingKey{}, fmt.Errorf("%w: slip77 requires 32 bytes hex", errUnsupportedShape)
		}
		var seed [32]byte
		copy(seed[:], b)
		return BlindingKey{Kind: BlindingSlip77, Slip77Seed: seed}, nil

	case s == "elip151":
		return BlindingKey{Kind: BlindingElip151}, nil

	default:
		// Only an extended *private* single-path view key is accepted;
		// bare pubkeys and wildcard/multipath view keys are rejected.
		xprv, err := hdkeychain.NewKeyFromString(s)
		if err != nil {
			return BlindingKey{}, fmt.Errorf("%w: unrecognised blinding key", errUnsupportedShape)
		}
		if !xprv.IsPrivate() {
			return BlindingKey{}, fmt.Errorf("%w: bare pubkey blinding key is rejected", errUnsupportedShape)
		}
		if strings.Contains(s, "*") || strings.Contains(s, "<0;1>") {
			return BlindingKey{}, fmt.Errorf("%w: xprv-view key must be single-path", errUnsupportedShape)
		}
		return BlindingKey{Kind: BlindingXprvViewSingle, ViewXprv: xprv}, nil
	}
}

var (
	wpkhRe = regexp.MustCompile(`^elwpkh\((.+)\)$`)
	shWpkhRe = regexp.MustCompile(`^elsh\(wpkh\((.+)\)\)$`)
	wshRe  = regexp.MustCompile(`^elwsh\((.+)\)$`)
	pkhRe  = regexp.MustCompile(`^elpkh\((.+)\)$`)
	shRe   = regexp.MustCompile(`^elsh\((.+)\)$`)
)

func parsePayload(s string, netParams *chaincfg.Params) (PayloadTemplate, *hdkeychain.ExtendedKey, *hdkeychain.ExtendedKey, error) {
	s = strings.TrimSpace(s)

	var template PayloadTemplate
	var keyExpr string

	switch {
	case wpkhRe.MatchString(s):
		template = TemplateP2WPKH
		keyExpr = wpkhRe.FindStringSubmatch(s)[1]
	case shWpkhRe.MatchString(s):
		template = TemplateP2SHWrappedP2WPKH
		keyExpr = shWpkhRe.FindStringSubmatch(s)[1]
	case wshRe.MatchString(s):
		template = TemplateP2WSH
		keyExpr = wshRe.FindStringSubmatch(s)[1]
	case pkhRe.MatchString(s):
		template = TemplateLegacyP2SH
		keyExpr = pkhRe.FindStringSubmatch(s)[1]
	case shRe.MatchString(s):
		template = TemplateLegacyP2SH
		keyExpr = shRe.FindStringSubmatch(s)[1]
	default:
		return 0, nil, nil, fmt.Errorf("%w: unrecognised payload template", errUnsupportedShape)
	}

	external, internal, err := parseKeyExpr(keyExpr, netParams)
	if err != nil {
		return 0, nil, nil, err
	}
	return template, external, internal, nil
}

// parseKeyExpr parses "<xpub>/<0;1>/*" or "<xpub>/*" forms, enforcing
// exactly one wildcard step and at most one multipath step of shape
// <0;1> ( invariants i and ii).
func parseKeyExpr(s string, netParams *chaincfg.Params) (external, internal *hdkeychain.ExtendedKey, err error) {
	parts := strings.Split(s, "/")
	if len(parts) == 0 {
		return nil, nil, fmt.Errorf("%w: empty key expression", errUnsupportedShape)
	}

	base, err := hdkeychain.NewKeyFromString(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: invalid extended key: %v", errUnsupportedShape, err)
	}

	sawWildcard := false
	sawMultipath := false
	path := append([]string(nil), parts[1:]...)

	// Walk fixed path components, splitting off the multipath / wildcard
	// markers when encountered.
	extBase, intBase := base, base
	for _, comp := range path {
		switch comp {
		case "*":
			if sawWildcard {
				return nil, nil, fmt.Errorf("%w: more than one wildcard step", errUnsupportedShape)
			}
			sawWildcard = true
		case "<0;1>":
			if sawMultipath {
				return nil, nil, fmt.Errorf("%w: more than one multipath step", errUnsupportedShape)
			}
			sawMultipath = true
			extBase, err = extBase.Derive(0)
			if err != nil {
				return nil, nil, fmt.Errorf("derive external branch: %w", err)
			}
			intBase, err = intBase.Derive(1)
			if err != nil {
				return nil, nil, fmt.Errorf("derive internal branch: %w", err)
			}
		default:
			hardened := strings.HasSuffix(comp, "'") || strings.HasSuffix(comp, "h")
			numStr := strings.TrimRight(comp, "'h")
			var n uint32
			if _, err := fmt.Sscanf(numStr, "%d", &n); err != nil {
				return nil, nil, fmt.Errorf("%w: invalid path component %q", errUnsupportedShape, comp)
			}
			if hardened {
				n += hdkeychain.HardenedKeyStart
			}
			extBase, err = extBase.Derive(n)
			if err != nil {
				return nil, nil, fmt.Errorf("derive path component: %w", err)
			}
			if sawMultipath {
				intBase, err = intBase.Derive(n)
				if err != nil {
					return nil, nil, fmt.Errorf("derive path component: %w", err)
				}
			} else {
				intBase = extBase
			}
		}
	}

	if !sawWildcard {
		return nil, nil, fmt.Errorf("%w: missing wildcard child step", errUnsupportedShape)
	}

	external = extBase
	if sawMultipath {
		internal = intBase
	}
	return external, internal, nil
}

// SingleDescriptors returns the external (and, if present, internal)
// single-path branches, external first.
func (d *WolletDescriptor) SingleDescriptors() []*SingleDescriptor {
	out := []*SingleDescriptor{{
		Chain:     chaintypes.ChainExternal,
		Template:  d.Template,
		BranchKey: d.External,
		Net:       d.net,
	}}
	if d.Internal != nil {
		out = append(out, &SingleDescriptor{
			Chain:     chaintypes.ChainInternal,
			Template:  d.Template,
			BranchKey: d.Internal,
			Net:       d.net,
		})
	}
	return out
}

// IsSegwit reports whether the payload template is a segwit one.
func (d *WolletDescriptor) IsSegwit() bool { return d.Template.isSegwit() }

// MaxWeightToSatisfy returns the worst-case satisfaction weight.
func (d *WolletDescriptor) MaxWeightToSatisfy() uint32 { return d.Template.maxWeightToSatisfy() }

// IsElip151 reports whether the blinding key is the elip151
// deterministic variant, used to gate the waterfalls backend: a
// waterfalls request would leak the deterministic blinding key to the
// server, so it is never safe for this descriptor.
func (d *WolletDescriptor) IsElip151() bool {
	return d.Blinding.Kind == BlindingElip151
}

// Derive derives the (pubkey, script) pair for (chain, index). Pure
// and side-effect free.
func (d *WolletDescriptor) Derive(chain chaintypes.Chain, index uint32) (*btcec.PublicKey, []byte, error) {
	for _, sd := range d.SingleDescriptors() {
		if sd.Chain == chain {
			return sd.Derive(index)
		}
	}
	return nil, nil, fmt.Errorf("descriptor has no %s chain", chain)
}

// String returns the canonical descriptor string as parsed. Real
// canonicalisation (always including a checksum) is the concern of a
// dedicated serialiser; Parse accepts but does not require one.
func (d *WolletDescriptor) String() string { return d.canonical }

// ChainParams returns the btcd-style network parameters this
// descriptor was parsed against, used by callers that need to
// re-derive an address string (see the address sub-package).
func (d *WolletDescriptor) ChainParams() *chaincfg.Params {
	return d.net
}
