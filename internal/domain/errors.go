package domain

import "errors"

// Market error kinds. Every rejected marketplace operation unwraps to exactly
// one of these.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidState = errors.New("invalid state")
	ErrInvalidValue = errors.New("invalid value")
	ErrNotApproved  = errors.New("marketplace not approved")
	ErrReentrant    = errors.New("reentrant call")
)

// Infrastructure errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrLockHeld          = errors.New("lock already held")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTransferFailed    = errors.New("transfer failed")
)

// MarketError is returned by every marketplace operation that rejects a call.
// Kind is one of the market error kinds above; Reason is a short, stable
// description suitable for returning to the caller.
type MarketError struct {
	Kind   error
	Op     string
	Reason string
}

func (e *MarketError) Error() string {
	if e.Op == "" {
		return e.Kind.Error() + ": " + e.Reason
	}
	return e.Op + ": " + e.Kind.Error() + ": " + e.Reason
}

func (e *MarketError) Unwrap() error { return e.Kind }

// Code returns a machine-readable code for the error kind.
func (e *MarketError) Code() string {
	return ErrorCode(e.Kind)
}

// ErrorCode maps an error (or anything wrapping one of the market kinds) to
// its code string. Unknown errors map to "internal".
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	case errors.Is(err, ErrNotApproved):
		return "not_approved"
	case errors.Is(err, ErrReentrant):
		return "reentrant"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrLockHeld):
		return "busy"
	default:
		return "internal"
	}
}

// Reject builds a *MarketError for op.
func Reject(op string, kind error, reason string) error {
	return &MarketError{Kind: kind, Op: op, Reason: reason}
}
