package core

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure. The HTTP layer maps each kind to a
// status; everything else rolls back and surfaces the message.
type Kind string

const (
	KindValidation          Kind = "VALIDATION"
	KindTenant              Kind = "TENANT"
	KindState               Kind = "STATE"
	KindImbalance           Kind = "IMBALANCE"
	KindPeriodClosed        Kind = "PERIOD_CLOSED"
	KindIdempotencyConflict Kind = "IDEMPOTENCY_CONFLICT"
	KindIntegrity           Kind = "INTEGRITY"
	KindResource            Kind = "RESOURCE"
	KindNotFound            Kind = "NOT_FOUND"
)

// Error is the single error shape returned by core operations.
type Error struct {
	Kind    Kind
	Message string
	err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.err
}

// E builds a domain error from a kind and a formatted message.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error while keeping its chain.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), err: err}
}

// KindOf extracts the kind from an error chain. Unclassified errors are
// treated as RESOURCE (infrastructure) failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindResource
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
