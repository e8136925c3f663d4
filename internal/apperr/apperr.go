// Package apperr carries the error kinds workflow boundaries branch on.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindAuthentication
	KindConfiguration
	KindExternalService
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuthentication:
		return "authentication"
	case KindConfiguration:
		return "configuration"
	case KindExternalService:
		return "external_service"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(k Kind, op, format string, args ...any) *Error {
	return &Error{Kind: k, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Validation(op, format string, args ...any) error {
	return newErr(KindValidation, op, format, args...)
}

func NotFound(op, format string, args ...any) error {
	return newErr(KindNotFound, op, format, args...)
}

func Authentication(op string, err error) error {
	return &Error{Kind: KindAuthentication, Op: op, Msg: "credential refresh failed", Err: err}
}

func Configuration(op, format string, args ...any) error {
	return newErr(KindConfiguration, op, format, args...)
}

func ExternalService(op string, err error) error {
	return &Error{Kind: KindExternalService, Op: op, Msg: "external call failed", Err: err}
}

func Conflict(op, format string, args ...any) error {
	return newErr(KindConflict, op, format, args...)
}

// KindOf returns the kind of the first *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
