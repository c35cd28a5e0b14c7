// Package tenant carries the per-request tenant id. Every repository read or
// write against a tenant-scoped table must resolve the id from the request
// context; writes without a resolvable tenant are refused upstream.
package tenant

import (
	"context"
	"errors"
)

type contextKey string

const tenantKey contextKey = "tenant_id"

// ErrMissing is returned when a context carries no tenant id.
var ErrMissing = errors.New("no tenant in request context")

// WithID returns a child context tagged with the tenant id.
func WithID(ctx context.Context, companyID int) context.Context {
	return context.WithValue(ctx, tenantKey, companyID)
}

// FromContext extracts the tenant id, failing with ErrMissing when absent.
func FromContext(ctx context.Context) (int, error) {
	id, ok := ctx.Value(tenantKey).(int)
	if !ok || id <= 0 {
		return 0, ErrMissing
	}
	return id, nil
}

// MustFromContext is FromContext for call sites that have already passed the
// auth middleware; it panics on a missing tenant, which the HTTP recoverer
// surfaces as a 500.
func MustFromContext(ctx context.Context) int {
	id, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return id
}
