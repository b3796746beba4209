// Package requestid carries the per-request correlation ID through contexts
// and log lines.
package requestid

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Header is the HTTP header a client may use to supply its own ID.
const Header = "X-Request-ID"

type ctxKey struct{}

// WithRequestID returns a context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from ctx, or generates a new one.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// New generates a request ID and returns the enriched context and the ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}

// Resolve keeps a client-supplied ID when it parses as a UUID and generates
// a fresh one otherwise.
func Resolve(ctx context.Context, supplied string) (context.Context, string) {
	supplied = strings.TrimSpace(supplied)
	if _, err := uuid.Parse(supplied); err == nil {
		return WithRequestID(ctx, supplied), supplied
	}
	return New(ctx)
}
