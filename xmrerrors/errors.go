// Package xmrerrors defines the error kinds the gateway core
// distinguishes, per the propagation policy in the design doc: transient
// RPC and protocol-parse errors are retried next tick, storage errors are
// scoped to the invoice or call that triggered them, and a small set of
// fatal scan conditions abandon the current tick with an error, which
// the gateway logs before scanning again on the next tick.
package xmrerrors

import "errors"

// Sentinel errors identifying a class of failure. Wrap these with
// fmt.Errorf("...: %w", ErrX) and test with errors.Is.
var (
	// ErrTransientRPC covers network errors, timeouts, and malformed
	// responses from the daemon. The current scan tick is abandoned and
	// retried on the next tick.
	ErrTransientRPC = errors.New("transient rpc error")

	// ErrProtocolParse covers hex decoding, serialization, and missing
	// JSON fields in daemon responses.
	ErrProtocolParse = errors.New("protocol parse error")

	// ErrStorage covers backend-specific storage failures.
	ErrStorage = errors.New("storage error")

	// ErrAuth covers unauthorized, unsupported-challenge, and
	// malformed-challenge digest authentication failures.
	ErrAuth = errors.New("authentication error")

	// ErrFatalScan covers amount-unblinding failure, unsupported output
	// target types, and output indices that overflow a byte. These
	// should not occur for correctly formed transactions paying a
	// subaddress the gateway owns; Scan returns them and the current
	// tick is abandoned.
	ErrFatalScan = errors.New("fatal scan error")

	// ErrAlreadyRunning is returned by Gateway.Run when the scanner is
	// already running.
	ErrAlreadyRunning = errors.New("gateway already running")

	// ErrNotRunning is returned by Gateway.Stop when the scanner is not
	// running.
	ErrNotRunning = errors.New("gateway not running")

	// ErrScanningThreadPanic is surfaced through Gateway.Status when the
	// scanner goroutine panicked.
	ErrScanningThreadPanic = errors.New("scanning thread panicked")
)

// UnsupportedOutputTarget reports a transaction output whose target type
// is neither to-key nor to-tagged-key.
type UnsupportedOutputTarget struct {
	Kind string
}

func (e *UnsupportedOutputTarget) Error() string {
	return "unsupported output target type: " + e.Kind
}

func (e *UnsupportedOutputTarget) Unwrap() error { return ErrFatalScan }

// OutputIndexOverflow reports an output index that does not fit in a
// byte.
type OutputIndexOverflow struct {
	Index int
}

func (e *OutputIndexOverflow) Error() string {
	return "output index overflows u8"
}

func (e *OutputIndexOverflow) Unwrap() error { return ErrFatalScan }

// UnblindFailure reports a failure to unblind the amount of an output
// known to belong to a tracked subaddress.
type UnblindFailure struct {
	Major, Minor uint32
}

func (e *UnblindFailure) Error() string {
	return "failed to unblind amount for owned output"
}

func (e *UnblindFailure) Unwrap() error { return ErrFatalScan }
