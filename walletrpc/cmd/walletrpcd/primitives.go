package main

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/lwkgo/ctwallet/chaintypes"
	"github.com/lwkgo/ctwallet/unblind"
)

// unimplementedPrimitives satisfies unblind.Primitives without
// performing any confidential-transaction cryptography: every call
// fails. It lets the daemon start, serve explicit-output balances,
// and build unsigned PSETs against a network with no confidential
// outputs yet (e.g. a fresh regtest before any blinded send), while
// making unmistakably clear at the one call site where it matters
// that no libsecp256k1-zkp binding has been wired in. A production
// deployment must replace this with a real Primitives implementation;
// see unblind.Primitives' doc comment for what it needs to do.
type unimplementedPrimitives struct{}

func (unimplementedPrimitives) ECDHNonce(*btcec.PrivateKey, [33]byte) ([32]byte, error) {
	return [32]byte{}, fmt.Errorf("walletrpcd: no confidential-transaction primitives configured; " +
		"this build cannot unblind outputs or build blinded PSETs")
}

func (unimplementedPrimitives) UnblindRangeproof([32]byte, unblind.ConfidentialOutput) (uint64, [32]byte, chaintypes.AssetID, [32]byte, error) {
	return 0, [32]byte{}, chaintypes.AssetID{}, [32]byte{}, fmt.Errorf(
		"walletrpcd: no confidential-transaction primitives configured; " +
			"this build cannot unblind outputs or build blinded PSETs")
}
