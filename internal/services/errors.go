package services

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a service error. Handlers map kinds to HTTP statuses.
type Kind string

const (
	KindUnauthorized      Kind = "unauthorized"
	KindInvalidInput      Kind = "invalid_input"
	KindRateLimitExceeded Kind = "rate_limit_exceeded"
	KindVersionConflict   Kind = "version_conflict"
	KindNotFound          Kind = "not_found"
	KindUpstream          Kind = "upstream_error"
	KindInternal          Kind = "internal_error"
)

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrUnauthorized    = &Error{Kind: KindUnauthorized, Message: "Unauthorized"}
	ErrInvalidInput    = &Error{Kind: KindInvalidInput, Message: "Invalid input"}
	ErrRateLimited     = &Error{Kind: KindRateLimitExceeded, Message: "Rate limit exceeded"}
	ErrVersionConflict = &Error{Kind: KindVersionConflict, Message: "Lead was modified by another request"}
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "Not found"}
	ErrUpstream        = &Error{Kind: KindUpstream, Message: "Upstream service failed"}
	ErrInternal        = &Error{Kind: KindInternal, Message: "Internal Server Error"}
)

// FieldError describes one rejected input field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the error type returned by every service operation
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	for _, f := range e.Fields {
		fmt.Fprintf(&b, "; %s: %s", f.Field, f.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func invalidField(field, msg string) *Error {
	return &Error{
		Kind:    KindInvalidInput,
		Message: "Validation failed",
		Fields:  []FieldError{{Field: field, Message: msg}},
	}
}

func internal(msg string, err error) *Error {
	return newError(KindInternal, msg, err)
}

// KindOf reports the kind of err. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// FieldsOf returns the field-level details carried by err, if any
func FieldsOf(err error) []FieldError {
	var se *Error
	if errors.As(err, &se) {
		return se.Fields
	}
	return nil
}
