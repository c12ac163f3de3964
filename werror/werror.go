// Package werror defines the kinded error taxonomy shared across the
// wallet engine. Errors carry kinds, not strings: every exported type
// here implements error and can be recovered with errors.As by a
// caller that needs to branch on the failure, while fmt.Errorf("%w")
// call sites still get a readable message and, where useful, a stack
// trace via github.com/go-errors/errors.
package werror

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Wrap attaches a stack trace to err the first time it crosses a
// package boundary that a caller is likely to log. Cheap to call
// repeatedly; go-errors/errors.Wrap is a no-op on an already-wrapped
// error.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, 1)
}

// InsufficientFunds is returned by the tx builder when the selected
// inputs (wallet utxos plus any external utxos) do not cover the
// requested outputs for a given asset.
type InsufficientFunds struct {
	Asset  string
	Needed uint64
	Have   uint64
}

func (e *InsufficientFunds) Error() string {
	return fmt.Sprintf(
		"insufficient funds for asset %s: needed %d, have %d",
		e.Asset, e.Needed, e.Have,
	)
}

// InvalidAmount is returned when a caller-supplied amount is zero,
// negative, or otherwise cannot be satisfied by the asset's unit.
type InvalidAmount struct {
	Reason string
}

func (e *InvalidAmount) Error() string {
	return "invalid amount: " + e.Reason
}

// InvalidContract is returned when an issuance contract fails field
// validation (e.g. malformed JSON, wrong hash length).
type InvalidContract struct {
	Field  string
	Reason string
}

func (e *InvalidContract) Error() string {
	return fmt.Sprintf("invalid contract field %q: %s", e.Field, e.Reason)
}

// UpdateOnStaleStatus is returned by Wollet.ApplyUpdate when the
// update's base status no longer matches the store's current status
// and the update is not tip-only. The caller should re-scan.
type UpdateOnStaleStatus struct {
	UpdateBase    string
	WalletStatus  string
}

func (e *UpdateOnStaleStatus) Error() string {
	return fmt.Sprintf(
		"update computed against stale status %s, wallet is at %s",
		e.UpdateBase, e.WalletStatus,
	)
}

// BackendErrorCause classifies whether a BackendError is worth
// retrying automatically.
type BackendErrorCause int

const (
	// CauseTransient covers HTTP 429/503-class failures already
	// handled by the backend's own retry ladder; surfaced only once
	// the ladder is exhausted.
	CauseTransient BackendErrorCause = iota
	// CausePermanent covers anything else: 4xx other than 429, decode
	// failures, connection refused after the ladder gave up, etc.
	CausePermanent
)

// BackendError wraps a failure from a blockchain backend adapter.
type BackendError struct {
	Attempt int
	Cause   BackendErrorCause
	Err     error
}

func (e *BackendError) Error() string {
	kind := "permanent"
	if e.Cause == CauseTransient {
		kind = "transient"
	}
	return fmt.Sprintf("backend error (%s, attempt %d): %v", kind, e.Attempt, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// LiquidexKind enumerates the LiquiDEX proposal failure taxonomy,
// grounded directly on original_source/lwk_wollet's LiquidexError
// variants.
type LiquidexKind int

const (
	LiquidexUnexpectedInputs LiquidexKind = iota
	LiquidexUnexpectedOutputs
	LiquidexUnexpectedScalars
	LiquidexMissingSignature
	LiquidexInputMissingAsset
	LiquidexInputMissingAbf
	LiquidexInputMissingAmount
	LiquidexInputMissingBlindValueProof
	LiquidexOutputMissingAsset
	LiquidexOutputMissingAbf
	LiquidexOutputMissingAmount
	LiquidexOutputMissingBlindValueProof
	LiquidexVerificationFailed
)

var liquidexKindText = map[LiquidexKind]string{
	LiquidexUnexpectedInputs:             "unexpected number of inputs",
	LiquidexUnexpectedOutputs:            "unexpected number of outputs",
	LiquidexUnexpectedScalars:            "unexpected number of scalars",
	LiquidexMissingSignature:             "missing signature on the single input",
	LiquidexInputMissingAsset:            "input missing asset secret",
	LiquidexInputMissingAbf:              "input missing asset blinder",
	LiquidexInputMissingAmount:           "input missing amount secret",
	LiquidexInputMissingBlindValueProof:  "input missing blind value proof",
	LiquidexOutputMissingAsset:           "output missing asset secret",
	LiquidexOutputMissingAbf:             "output missing asset blinder",
	LiquidexOutputMissingAmount:          "output missing amount secret",
	LiquidexOutputMissingBlindValueProof: "output missing blind value proof",
	LiquidexVerificationFailed:           "range or surjection proof verification failed",
}

// LiquidexError wraps one LiquidexKind failure.
type LiquidexError struct {
	Kind LiquidexKind
}

func (e *LiquidexError) Error() string {
	return "liquidex: " + liquidexKindText[e.Kind]
}

// PersistKind enumerates the persister failure taxonomy.
type PersistKind int

const (
	PersistIO PersistKind = iota
	PersistCorrupt
	PersistCryptoKeyMismatch
)

// PersistError wraps one PersistKind failure.
type PersistError struct {
	Kind PersistKind
	Err  error
}

func (e *PersistError) Error() string {
	var kind string
	switch e.Kind {
	case PersistIO:
		kind = "io"
	case PersistCorrupt:
		kind = "corrupt"
	case PersistCryptoKeyMismatch:
		kind = "crypto-key-mismatch"
	}
	if e.Err != nil {
		return fmt.Sprintf("persist error (%s): %v", kind, e.Err)
	}
	return fmt.Sprintf("persist error (%s)", kind)
}

func (e *PersistError) Unwrap() error { return e.Err }

// ErrNoWalletPersisted is returned by a persister's LoadAll when
// nothing (no descriptor, no snapshot, no journal entry) has ever been
// persisted for the requested store -- a
// first-run condition, not a corruption or I/O failure.
var ErrNoWalletPersisted = fmt.Errorf("no wallet state persisted yet")

// Simple sentinel-style errors for conditions that do not need
// structured fields.
var (
	ErrInvalidRecipient            = fmt.Errorf("invalid recipient")
	ErrNotConfidentialAddress      = fmt.Errorf("recipient address is not confidential")
	ErrNotExplicitAddress          = fmt.Errorf("recipient address is confidential, explicit required")
	ErrMissingIssuance             = fmt.Errorf("original issuance not found in store; pass issuance_tx")
	ErrMissingWalletUtxo           = fmt.Errorf("referenced wallet utxo not found")
	ErrMissingSignature            = fmt.Errorf("input has no valid satisfier")
	ErrIssuanceAmountTooLarge      = fmt.Errorf("issuance amount exceeds 21_000_000 * 1e8")
	ErrCannotBlind                 = fmt.Errorf("cannot blind output: missing blinding pubkey or proof material")
	ErrInternalInconsistency       = fmt.Errorf("internal inconsistency")
	ErrDegradedUTXO                = fmt.Errorf("utxo only known in degraded (utxo-only backend) form, cannot be spent")
	ErrUnsupportedDescriptorShape  = fmt.Errorf("unsupported descriptor shape")
)
