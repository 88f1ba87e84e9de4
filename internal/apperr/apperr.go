// Package apperr defines the stable error taxonomy shared across the
// gateway's layers. Every boundary (HTTP handlers, the lifecycle service,
// the status hub) converts downstream errors into one of these kinds so
// clients get a programmatically-branchable string and operators get the
// original cause in logs, never in the response body.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable, lowercase-hyphenated identifier for an error class.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindAuth            Kind = "auth"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not-found"
	KindConflict        Kind = "conflict"
	KindRateLimited     Kind = "rate-limited"
	KindQuota           Kind = "quota"
	KindDispatch        Kind = "dispatch"
	KindDependency      Kind = "dependency"
	KindPayloadTooLarge Kind = "payload-too-large"
	KindInternal        Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindValidation:      http.StatusBadRequest,
	KindAuth:            http.StatusUnauthorized,
	KindForbidden:       http.StatusForbidden,
	KindNotFound:        http.StatusNotFound,
	KindConflict:        http.StatusConflict,
	KindRateLimited:     http.StatusTooManyRequests,
	KindQuota:           http.StatusPaymentRequired,
	KindDispatch:        http.StatusServiceUnavailable,
	KindDependency:      http.StatusServiceUnavailable,
	KindPayloadTooLarge: http.StatusRequestEntityTooLarge,
	KindInternal:        http.StatusInternalServerError,
}

// Origin identifies which downstream collaborator produced a dependency
// error, so logs can be filtered without leaking detail to clients.
type Origin string

const (
	OriginDB          Origin = "db"
	OriginCache       Origin = "cache"
	OriginBroker      Origin = "broker"
	OriginObjectStore Origin = "object-store"
)

// Error is the boundary error type. Cause is never rendered to clients.
type Error struct {
	Kind          Kind
	Origin        Origin
	CorrelationID string
	Cause         error
	msg           string
}

func (e *Error) Error() string {
	if e.msg != "" {
		return e.msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code the error maps to.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an Error of the given kind with a client-safe message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Wrap attaches a kind and origin to a downstream error without leaking
// its text to clients; msg is what the client sees.
func Wrap(kind Kind, origin Origin, msg string, cause error) *Error {
	return &Error{Kind: kind, Origin: origin, Cause: cause, msg: msg}
}

// Dependency wraps a downstream failure as a 503 "dependency" error.
func Dependency(origin Origin, cause error) *Error {
	return &Error{Kind: KindDependency, Origin: origin, Cause: cause, msg: "a downstream dependency is unavailable"}
}

// As extracts an *Error from err, returning nil if err is not one (or
// does not wrap one).
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// KindOf returns the Kind of err, defaulting to KindInternal if err is
// not an *Error.
func KindOf(err error) Kind {
	if e := As(err); e != nil {
		return e.Kind
	}
	return KindInternal
}
