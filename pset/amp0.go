package pset

import (
	"encoding/hex"
	"fmt"
)

// Amp0Pset wraps a PSET together with one hex string per input, as
// returned by ExtractNonces, re-attached after signing.
type Amp0Pset struct {
	Pset   *Pset
	Nonces []string // hex-encoded, one per input in Tx.Inputs order
}

// ExtractNonces returns each input's value blinding factor
// (ValueBlinder), hex-encoded in input order. Inputs with no recorded
// ValueBlinder (unblinded/explicit inputs) carry an empty string. ECDH
// nonces are not recorded on pset inputs and are not exported.
func ExtractNonces(p *Pset) []string {
	nonces := make([]string, len(p.Inputs))
	for i, in := range p.Inputs {
		if in.ValueBlinder == ([32]byte{}) {
			continue
		}
		nonces[i] = hex.EncodeToString(in.ValueBlinder[:])
	}
	return nonces
}

// NewAmp0Pset re-attaches nonces to p, cross-checking the count
// matches the number of inputs.
func NewAmp0Pset(p *Pset, nonces []string) (*Amp0Pset, error) {
	if len(nonces) != len(p.Inputs) {
		return nil, fmt.Errorf("pset: amp0 nonce count %d does not match input count %d", len(nonces), len(p.Inputs))
	}
	return &Amp0Pset{Pset: p, Nonces: nonces}, nil
}
