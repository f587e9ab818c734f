// Package apperr defines the error taxonomy shared by the upload,
// pipeline, and library components. Every boundary-facing failure is
// classified into one of these kinds so handlers can map it to a stable
// message and status code without inspecting internals.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and status mapping.
type Kind int

const (
	// Validation covers bad or missing request fields. Always
	// user-correctable; the message is surfaced verbatim.
	Validation Kind = iota
	// NotFound covers absent or not-owned projects, documents, and items.
	NotFound
	// Capacity covers per-role document count caps.
	Capacity
	// Integrity covers chunk-count mismatches and oversized assemblies.
	Integrity
	// Provider covers inference and rendering dependency failures.
	// Considered transient; the stage executor may retry once.
	Provider
	// Persistence covers record-store write failures. Fatal to the current
	// operation, never swallowed.
	Persistence
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Capacity:
		return "capacity"
	case Integrity:
		return "integrity"
	case Provider:
		return "provider"
	case Persistence:
		return "persistence"
	}
	return "unknown"
}

// Error is a classified error carrying a caller-safe message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error under a caller-safe message.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or Persistence when err carries no
// classification (an unclassified failure is treated as fatal).
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Persistence
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// Message returns the caller-safe message for err. Internal detail from
// wrapped errors is kept out of it.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Msg
	}
	return "internal error"
}

// HTTPStatus maps an error to the response status its kind calls for.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Capacity:
		return http.StatusConflict
	case Integrity:
		return http.StatusBadRequest
	case Provider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
