package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable tag returned to callers. Internal detail never leaks
// through these; unexpected failures map to KindInternal and are logged
// server-side.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindForbidden        Kind = "forbidden"
	KindValidationFailed Kind = "validation_failed"
	KindConflict         Kind = "conflict"
	KindInternal         Kind = "internal"
)

// Error is a kind-tagged error returned synchronously by every operation.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is match on kind, so callers can compare against the
// sentinel constructors without caring about the message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NotFound(msg string) error { return New(KindNotFound, msg) }

func Forbidden(msg string) error { return New(KindForbidden, msg) }

func Validation(msg string) error { return New(KindValidationFailed, msg) }

func Conflict(msg string) error { return New(KindConflict, msg) }

func Internal(cause error) error { return Wrap(KindInternal, "internal error", cause) }

// KindOf extracts the kind tag, defaulting to KindInternal for errors
// that did not come from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// HTTPStatus maps a kind to its response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindValidationFailed:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show callers. Internal errors
// are reported generically.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal error"
}
