// Package corrid carries a correlation id through a context.Context, so
// log lines and broker events emitted while handling one schedule/job
// cycle can be tied back together.
package corrid

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// New generates a random correlation id.
func New() string {
	return uuid.NewString()
}

// WithCorrelationID returns a copy of ctx carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the correlation id from ctx, or "" if absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
