/*
errors.go - Closed error-code enum returned by every studio operation

PURPOSE:
  The presentation layer only ever needs to know WHICH rule failed. Every
  failure leaving this package is a *Error carrying one ErrorCode from a
  closed set, so handlers can switch on it without string matching.

ERROR CATEGORIES:
  Client errors (never retried automatically):
    ClassFull, InsufficientBalance, NoActiveSubscription,
    CancellationWindowClosed, AlreadyTerminal, InvalidTransition,
    AnnualFeeAlreadyPaid, AlreadyBooked, ClassStarted, InvalidArgument
  Not-found errors:
    NotFound
  Concurrency:
    Conflict - the bounded internal retry gave up

USAGE:
  if errors.Is(err, studio.ErrClassFull) { ... }
  switch studio.CodeOf(err) { case studio.CodeNotFound: ... }
*/
package studio

import (
	"errors"
	"fmt"

	"github.com/amg/studio-ledger/generic"
)

type ErrorCode string

const (
	CodeNotFound                 ErrorCode = "NotFound"
	CodeClassFull                ErrorCode = "ClassFull"
	CodeNoActiveSubscription     ErrorCode = "NoActiveSubscription"
	CodeInsufficientBalance      ErrorCode = "InsufficientBalance"
	CodeCancellationWindowClosed ErrorCode = "CancellationWindowClosed"
	CodeAlreadyTerminal          ErrorCode = "AlreadyTerminal"
	CodeInvalidTransition        ErrorCode = "InvalidTransition"
	CodeAnnualFeeAlreadyPaid     ErrorCode = "AnnualFeeAlreadyPaid"
	CodeAlreadyBooked            ErrorCode = "AlreadyBooked"
	CodeClassStarted             ErrorCode = "ClassStarted"
	CodeInvalidArgument          ErrorCode = "InvalidArgument"
	CodeConflict                 ErrorCode = "Conflict"
)

// Error is the only error type returned across the studio boundary.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so the sentinels below work
// with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrNotFound                 = &Error{Code: CodeNotFound}
	ErrClassFull                = &Error{Code: CodeClassFull}
	ErrNoActiveSubscription     = &Error{Code: CodeNoActiveSubscription}
	ErrInsufficientBalance      = &Error{Code: CodeInsufficientBalance}
	ErrCancellationWindowClosed = &Error{Code: CodeCancellationWindowClosed}
	ErrAlreadyTerminal          = &Error{Code: CodeAlreadyTerminal}
	ErrInvalidTransition        = &Error{Code: CodeInvalidTransition}
	ErrAnnualFeeAlreadyPaid     = &Error{Code: CodeAnnualFeeAlreadyPaid}
	ErrAlreadyBooked            = &Error{Code: CodeAlreadyBooked}
	ErrClassStarted             = &Error{Code: CodeClassStarted}
	ErrInvalidArgument          = &Error{Code: CodeInvalidArgument}
	ErrConflict                 = &Error{Code: CodeConflict}
)

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func notFound(kind string, id any, err error) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %v not found", kind, id), Err: err}
}

// CodeOf extracts the ErrorCode of err. Store-level sentinels are mapped
// too; anything else yields "".
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	switch {
	case generic.IsNotFound(err):
		return CodeNotFound
	case generic.IsRetryable(err):
		return CodeConflict
	}
	return ""
}

// IsClientError returns true for business-rule violations the caller
// should surface to the user rather than retry.
func IsClientError(err error) bool {
	switch CodeOf(err) {
	case CodeClassFull, CodeInsufficientBalance, CodeNoActiveSubscription,
		CodeCancellationWindowClosed, CodeAlreadyTerminal, CodeInvalidTransition,
		CodeAnnualFeeAlreadyPaid, CodeAlreadyBooked, CodeClassStarted, CodeInvalidArgument:
		return true
	}
	return false
}

// IsPermanent reports rejections that will never succeed for the same
// booking no matter how often they are retried.
func IsPermanent(err error) bool {
	switch CodeOf(err) {
	case CodeCancellationWindowClosed, CodeAlreadyTerminal, CodeClassStarted:
		return true
	}
	return false
}
