package core

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error kind.
type Code string

const (
	CodeLocked         Code = "LOCKED"
	CodeConnect        Code = "CONNECT_ERROR"
	CodeCollect        Code = "COLLECT_ERROR"
	CodeCollectPartial Code = "COLLECT_PARTIAL"
	CodePersist        Code = "PERSIST_ERROR"
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeCancelled      Code = "CANCELLED"
	CodeNotFound       Code = "NOT_FOUND"
	CodeInternal       Code = "INTERNAL"
)

// Reason is the short lowercase form stored on failed sync records.
func (c Code) Reason() string {
	switch c {
	case CodeLocked:
		return "locked"
	case CodeConnect:
		return "connect_error"
	case CodeCollect:
		return "collect_error"
	case CodePersist:
		return "persist_error"
	case CodeCancelled:
		return "cancelled"
	case CodeValidation:
		return "validation_error"
	}
	return "internal_error"
}

// Error carries a Code alongside the failing operation.
type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with a code. A nil err yields nil.
func E(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

func Errorf(code Code, op string, format string, args ...any) error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf returns the first Code found in the chain, or CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

var (
	ErrNotFound = &Error{Code: CodeNotFound, Msg: "not found"}
)
