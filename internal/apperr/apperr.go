// Package apperr defines the error taxonomy surfaced by the auth core.
//
// Every failure leaving the service layer is an *Error carrying a Kind. The
// HTTP layer maps the Kind to a status code; only Internal errors hide their
// message from the caller.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	InvalidInput
	Conflict
	InvalidCredentials
	Unauthenticated
	Forbidden
	NotFound
	TooManyRequests
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case Conflict:
		return "conflict"
	case InvalidCredentials:
		return "invalid_credentials"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case TooManyRequests:
		return "too_many_requests"
	default:
		return "internal_error"
	}
}

// Error is a typed, operational failure. Code is a stable machine-readable
// reason (e.g. "token_expired"); it defaults to the Kind's name.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Reason returns Code, falling back to the Kind name.
func (e *Error) Reason() string {
	if e.Code != "" {
		return e.Code
	}
	return e.Kind.String()
}

func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WithCode(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap records err as the cause. Use it for Internal failures so operators
// get the detail while callers only see message.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the Kind of the first *Error in err's chain. Errors that are
// not *Error are Internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Internal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidInput:
		return http.StatusBadRequest
	case Conflict:
		return http.StatusConflict
	case InvalidCredentials, Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case TooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
