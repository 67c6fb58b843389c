package matcherrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers (HTTP layer, tests) can react without
// string matching.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindTransaction Kind = "transaction_failure"
	KindConflict    Kind = "conflict"
)

// Error is the error type returned by the ledger, history and achievement
// packages. Two errors are considered equal by errors.Is when their kinds match.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Sentinels for errors.Is checks.
var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrTransaction = &Error{Kind: KindTransaction}
	ErrConflict    = &Error{Kind: KindConflict}
)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New returns an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validationf formats a validation error.
func Validationf(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// NotFoundf formats a not-found error.
func NotFoundf(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
