// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package chainweave

import "errors"

// ErrorKind is a stable machine-readable error code. New coded errors are
// created with NewError, but an ErrorKind is itself an error, so sentinel
// comparisons with errors.Is work against both.
type ErrorKind string

// Error satisfies the error interface.
func (k ErrorKind) Error() string {
	return string(k)
}

// Error codes shared by the bridge and swap orchestrators. They are the only
// codes surfaced across the library boundary; everything else is wrapped as
// ErrUnexpected.
const (
	ErrNoAvailableTokens       = ErrorKind("NO_AVAILABLE_TOKENS")
	ErrTokenNotAvailable       = ErrorKind("TOKEN_NOT_AVAILABLE")
	ErrPairTokenNotFound       = ErrorKind("PAIR_TOKEN_NOT_FOUND")
	ErrAccountNotCompatible    = ErrorKind("ACCOUNT_NOT_COMPATIBLE_WITH_TOKEN")
	ErrAmountBelowMinimum      = ErrorKind("AMOUNT_BELOW_MINIMUM")
	ErrAmountAboveMaximum      = ErrorKind("AMOUNT_ABOVE_MAXIMUM")
	ErrInsufficientFeeBalance  = ErrorKind("INSUFFICIENT_FEE_TOKEN_BALANCE")
	ErrBridgeNotReady          = ErrorKind("BRIDGE_NOT_READY")
	ErrSwapNotReady            = ErrorKind("SWAP_NOT_READY")
	ErrTimeout                 = ErrorKind("TIMEOUT")
	ErrUnexpected              = ErrorKind("UNEXPECTED_ERROR")
)

// Error pairs an ErrorKind with human-readable detail and, optionally, an
// underlying cause.
type Error struct {
	kind   ErrorKind
	detail string
	cause  error
}

// NewError creates a coded Error.
func NewError(kind ErrorKind, detail string) *Error {
	return &Error{kind: kind, detail: detail}
}

// WrapError creates a coded Error that preserves the underlying cause for
// errors.Is / errors.As inspection.
func WrapError(kind ErrorKind, detail string, cause error) *Error {
	return &Error{kind: kind, detail: detail, cause: cause}
}

// Kind returns the stable code.
func (e *Error) Kind() ErrorKind {
	return e.kind
}

// Error satisfies the error interface, combining the code with the details.
func (e *Error) Error() string {
	if e.detail == "" {
		return string(e.kind)
	}
	return string(e.kind) + ": " + e.detail
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports kind equality, so errors.Is(err, ErrAmountBelowMinimum) matches
// a coded Error regardless of its detail or cause.
func (e *Error) Is(target error) bool {
	kind, ok := target.(ErrorKind)
	return ok && kind == e.kind
}

// Normalize converts an arbitrary error into a coded *Error. Coded errors
// pass through untouched, a bare ErrorKind gains an empty detail, and
// anything else is wrapped as ErrUnexpected with the original preserved as
// the cause.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}
	var kind ErrorKind
	if errors.As(err, &kind) {
		return NewError(kind, "")
	}
	return WrapError(ErrUnexpected, "an unexpected error occurred", err)
}
