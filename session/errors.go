package session

import (
	"errors"
	"fmt"
)

// Failure codes surfaced to clients in failed.code / failedCode.
const (
	CodeInternalError    = "INTERNAL_ERROR"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeInvalidTarget    = "INVALID_TARGET"
	CodeInvalidAmount    = "INVALID_AMOUNT"
	CodeAmountTooLow     = "AMOUNT_TOO_LOW"
	CodeRateLimited      = "RATE_LIMITED"
	CodeConcurrencyLimit = "CONCURRENCY_LIMIT"
	CodeDeniedAddress    = "DENIED_ADDRESS"
	CodeNotClaimable     = "NOT_CLAIMABLE"
	CodeSessionTimeout   = "SESSION_TIMEOUT"
	CodeClaimQueueError  = "CLAIM_QUEUE_ERROR"
)

// FaucetError is an anticipated domain failure. It is reported to clients as
// a FAILED result carrying Code and Reason, never as a transport error.
type FaucetError struct {
	Code   string
	Reason string
}

// NewFaucetError builds a FaucetError with a formatted reason.
func NewFaucetError(code, format string, args ...any) *FaucetError {
	return &FaucetError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

func (e *FaucetError) Error() string {
	return e.Code + ": " + e.Reason
}

// AsFaucetError unwraps err into a FaucetError.
func AsFaucetError(err error) (*FaucetError, bool) {
	var fe *FaucetError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsFaucetError reports whether err carries a FaucetError.
func IsFaucetError(err error) bool {
	_, ok := AsFaucetError(err)
	return ok
}

// ToFaucetError returns err as a FaucetError, mapping unexpected errors to
// INTERNAL_ERROR with the given context prefix.
func ToFaucetError(err error, context string) *FaucetError {
	if fe, ok := AsFaucetError(err); ok {
		return fe
	}
	return NewFaucetError(CodeInternalError, "%s: %v", context, err)
}

// Lookup and state errors.
var (
	// ErrSessionNotFound indicates the session id is unknown or expired.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidTransition indicates a status change outside the state machine.
	ErrInvalidTransition = errors.New("invalid session status transition")

	// ErrTaskNotFound indicates the blocking task is not pending on the session.
	ErrTaskNotFound = errors.New("blocking task not found")
)

// Immutability errors.
var (
	// ErrDropAmountSet indicates the drop amount was already fixed.
	ErrDropAmountSet = errors.New("drop amount already set")

	// ErrTargetSet indicates the target address was already fixed.
	ErrTargetSet = errors.New("target address already set")

	// ErrReservedDataKey indicates a module tried to write a built-in data key.
	ErrReservedDataKey = errors.New("data key is reserved")
)
