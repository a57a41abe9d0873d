package netd

import (
	"errors"
	"fmt"
)

// Code represents the high-level error taxonomy shared by the dispatcher
// and the socket façade.
type Code string

const (
	CodeNotFound       Code = "not found"
	CodeInvalidArgs    Code = "invalid arguments"
	CodeWouldBlock     Code = "would block"
	CodeTimeout        Code = "timeout"
	CodeNotSupported   Code = "not supported"
	CodeNotInitialized Code = "not initialized"
	CodeIO             Code = "I/O error"
	CodeInternal       Code = "internal error"

	// codeSuccessNoReply is the internal dispatch sentinel that tells the
	// event loop a notification was handled and must not be replied to.
	// It never escapes to a caller as a returned error value.
	codeSuccessNoReply Code = "success-no-reply"
)

// Error is a structured netd error with an operation tag, a taxonomy
// code, and an optionally wrapped inner error.
type Error struct {
	Op    string
	Code  Code
	Badge uint64 // socket badge, 0 if not applicable
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op == "" {
		return fmt.Sprintf("netd: %s", msg)
	}
	if e.Badge != 0 {
		return fmt.Sprintf("netd: %s: op=%s badge=%d", msg, e.Op, e.Badge)
	}
	return fmt.Sprintf("netd: %s: op=%s", msg, e.Op)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// NewError creates a structured error carrying the given operation and code.
func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewSocketError creates a structured error tagged with the socket badge
// that caused it.
func NewSocketError(op string, badge uint64, code Code, msg string) *Error {
	return &Error{Op: op, Badge: badge, Code: code, Msg: msg}
}

// WrapError wraps an existing error with netd context, preserving the
// inner error's code when it is already a structured *Error.
func WrapError(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var inner *Error
	if errors.As(err, &inner) {
		return &Error{Op: op, Badge: inner.Badge, Code: inner.Code, Msg: inner.Msg, Inner: inner.Inner}
	}
	return &Error{Op: op, Code: CodeIO, Msg: err.Error(), Inner: err}
}

// IsCode reports whether err is a structured *Error with the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// successNoReply is the sentinel error value the dispatcher returns for a
// handled notification; the event loop recognizes it and skips the reply.
var successNoReply = &Error{Code: codeSuccessNoReply, Msg: "handled, no reply"}

// isSuccessNoReply reports whether err is the dispatch sentinel.
func isSuccessNoReply(err error) bool {
	return IsCode(err, codeSuccessNoReply)
}
