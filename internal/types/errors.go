package types

import (
	"errors"
	"fmt"
)

// ErrorKind groups ledger errors by how a caller should react to them.
type ErrorKind int

const (
	// KindValidation errors are caller-correctable and not retryable as-is.
	KindValidation ErrorKind = iota + 1
	// KindAuthorization errors mean the caller lacks the required role.
	KindAuthorization
	// KindResource errors may clear later (a pool top-up) but are never retried internally.
	KindResource
	// KindNotFound errors report lookups of records that do not exist.
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindResource:
		return "resource"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a classified ledger failure. Two errors match under errors.Is when
// their codes match, so wrapped copies carrying extra detail still compare
// equal to the package sentinels.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Withf returns a copy of e with formatted detail appended to the message.
func (e *Error) Withf(format string, args ...any) *Error {
	return &Error{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: e.Message + ": " + fmt.Sprintf(format, args...),
	}
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrAmountMismatch  = newError(KindValidation, "AMOUNT_MISMATCH", "payment does not equal order price")
	ErrOrderExpired    = newError(KindValidation, "ORDER_EXPIRED", "order expired")
	ErrDuplicateOrder  = newError(KindValidation, "DUPLICATE_ORDER", "order already funded")
	ErrBuyerMismatch   = newError(KindValidation, "BUYER_MISMATCH", "buyer does not match")
	ErrInvalidState    = newError(KindValidation, "INVALID_STATE", "invalid escrow state")
	ErrNotFunded       = newError(KindValidation, "NOT_FUNDED", "escrow not funded")
	ErrNotYetExpired   = newError(KindValidation, "NOT_YET_EXPIRED", "order has not expired")
	ErrNotSettled      = newError(KindValidation, "NOT_SETTLED", "escrow not settled")
	ErrSubjectRevoked  = newError(KindValidation, "SUBJECT_REVOKED", "subject commitment revoked")
	ErrFeeTooHigh      = newError(KindValidation, "FEE_TOO_HIGH", "fee exceeds ceiling")
	ErrAlreadyRevoked  = newError(KindValidation, "ALREADY_REVOKED", "subject already revoked")
	ErrAlreadyRefunded = newError(KindValidation, "ALREADY_REFUNDED", "sale already refunded")
	ErrInvalidInput    = newError(KindValidation, "INVALID_INPUT", "invalid input")

	ErrUnauthorized = newError(KindAuthorization, "UNAUTHORIZED", "caller lacks required role")

	ErrInsufficientBalance     = newError(KindResource, "INSUFFICIENT_BALANCE", "insufficient balance")
	ErrInsufficientPoolBalance = newError(KindResource, "INSUFFICIENT_POOL_BALANCE", "insufficient protection pool balance")

	ErrNotFound = newError(KindNotFound, "NOT_FOUND", "record not found")
)

// KindOf returns the kind of a classified error, or 0 for unclassified errors.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return 0
}
