package apperr

import "errors"

// Kind is the transport-independent failure taxonomy. The HTTP layer maps a
// Kind to a status code; services never reference status codes directly.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindOriginRejected  Kind = "origin_rejected"
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindQuotaExceeded   Kind = "quota_exceeded"
	KindConflict        Kind = "conflict"
	KindUnavailable     Kind = "unavailable"
	KindInternal        Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Unauthenticated(message string) *Error { return New(KindUnauthenticated, message) }

func OriginRejected(message string) *Error { return New(KindOriginRejected, message) }

// NotFound is deliberately also used for credential mismatches so a caller
// holding a stale token cannot distinguish "wrong token" from "no such
// session".
func NotFound(message string) *Error { return New(KindNotFound, message) }

func Forbidden(message string) *Error { return New(KindForbidden, message) }

func QuotaExceeded(message string) *Error { return New(KindQuotaExceeded, message) }

func Conflict(message string) *Error { return New(KindConflict, message) }

func Unavailable(message string) *Error { return New(KindUnavailable, message) }

// Internal wraps an unexpected failure (typically a transaction abort). The
// cause is kept for logs but never surfaced to callers.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", cause: err}
}

// KindOf classifies any error. Non-taxonomy errors classify as internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
