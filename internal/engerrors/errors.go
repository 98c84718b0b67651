// Package engerrors defines the typed error kinds surfaced across the
// memory & context engine, mirroring the abstract kinds the engine's
// components agree to propagate: InvalidInput, NotFound, Unavailable,
// GatewayError, StorageError, Internal.
package engerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error for HTTP status mapping and logging.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindNotFound     Kind = "not_found"
	KindUnavailable  Kind = "unavailable"
	KindGateway      Kind = "gateway_error"
	KindStorage      Kind = "storage_error"
	KindInternal     Kind = "internal"
)

// StorageKind further specializes KindStorage per §4.1/§7.
type StorageKind string

const (
	StorageNotFound StorageKind = "not_found"
	StorageConflict StorageKind = "conflict"
	StorageCorrupt  StorageKind = "corrupt"
	StorageBusy     StorageKind = "busy"
)

// Error is the engine's wrapped-error type. Op names the operation that
// failed (e.g. "store.AppendMessage"); Subject optionally names the
// entity involved (a session id, snapshot id, etc).
type Error struct {
	Kind    Kind
	Op      string
	Subject string
	Storage StorageKind
	Err     error
}

func (e *Error) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Subject, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, engerrors.NotFoundSentinel) work when both
// sides are *Error with matching Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func newErr(kind Kind, op, subject string, err error) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

func InvalidInput(op, subject string, err error) *Error { return newErr(KindInvalidInput, op, subject, err) }
func NotFound(op, subject string, err error) *Error     { return newErr(KindNotFound, op, subject, err) }
func Unavailable(op, subject string, err error) *Error  { return newErr(KindUnavailable, op, subject, err) }
func Gateway(op, subject string, err error) *Error      { return newErr(KindGateway, op, subject, err) }
func Internal(op, subject string, err error) *Error     { return newErr(KindInternal, op, subject, err) }

func Storage(op, subject string, kind StorageKind, err error) *Error {
	e := newErr(KindStorage, op, subject, err)
	e.Storage = kind
	return e
}

// sentinel values usable with errors.Is for kind-only matching.
var (
	NotFoundSentinel    = &Error{Kind: KindNotFound}
	InvalidInputSentinel = &Error{Kind: KindInvalidInput}
	UnavailableSentinel = &Error{Kind: KindUnavailable}
	GatewaySentinel     = &Error{Kind: KindGateway}
	StorageSentinel     = &Error{Kind: KindStorage}
	InternalSentinel    = &Error{Kind: KindInternal}
)

// KindOf returns the Kind of err if it (or something it wraps) is an
// *Error, else KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
