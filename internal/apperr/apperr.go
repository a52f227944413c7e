// Package apperr defines the coded errors shared by the chat client and the
// reference query backend.
package apperr

import (
	"errors"
)

// Code categorizes an error for handling.
type Code string

const (
	CodeMalformedFrame   Code = "MALFORMED_FRAME"
	CodeIDCollision      Code = "ID_COLLISION"
	CodeNotFound         Code = "NOT_FOUND"
	CodeMalformedHistory Code = "MALFORMED_HISTORY"
	CodeNetworkFailure   Code = "NETWORK_FAILURE"
	CodeTimeout          Code = "TIMEOUT"
	CodeFinalized        Code = "FINALIZED"
	CodeEmptyInput       Code = "EMPTY_INPUT"
	CodeBusy             Code = "BUSY"
)

// Error is a coded error. Two errors match under errors.Is when their codes
// are equal, so callers compare against the sentinels below.
type Error struct {
	Code    Code
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinel errors for errors.Is checks.
var (
	ErrMalformedFrame   = &Error{Code: CodeMalformedFrame}
	ErrIDCollision      = &Error{Code: CodeIDCollision}
	ErrNotFound         = &Error{Code: CodeNotFound}
	ErrMalformedHistory = &Error{Code: CodeMalformedHistory}
	ErrNetworkFailure   = &Error{Code: CodeNetworkFailure}
	ErrTimeout          = &Error{Code: CodeTimeout}
	ErrFinalized        = &Error{Code: CodeFinalized}
	ErrEmptyInput       = &Error{Code: CodeEmptyInput}
	ErrBusy             = &Error{Code: CodeBusy}
)

// New creates a coded error.
func New(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Wrap creates a coded error around a cause.
func Wrap(code Code, op string, cause error) *Error {
	return &Error{Code: code, Op: op, Cause: cause}
}

// CodeOf returns the code of the first coded error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
