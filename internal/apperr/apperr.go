package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the messaging error taxonomy.
type Kind string

const (
	// KindValidation: empty or oversized body. Rejected before any network call.
	KindValidation Kind = "VALIDATION"
	// KindAuthorization: the resolver or the store said no. Rendered as a
	// locked or read-only state, never silently dropped.
	KindAuthorization Kind = "AUTHORIZATION"
	// KindTransientIO: fetch, insert, delete, lookup or transport failure.
	// Not retried automatically; local state is left unchanged.
	KindTransientIO Kind = "TRANSIENT_IO"
	// KindNotFound: the target no longer exists.
	KindNotFound Kind = "NOT_FOUND"
)

// Error carries a Kind and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the kind onto a response code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindTransientIO:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Authorization(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func TransientIO(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindTransientIO, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
