// Package reqid tags every gateway request with a random id so log lines,
// trace spans, and metrics emitted across the resolver pipeline can be
// correlated back to the HTTP request that caused them.
package reqid

import (
	"context"
	"math/rand"
)

type key struct{}

// NewContext derives a context carrying a fresh request id and returns both.
func NewContext(parent context.Context) (context.Context, int64) {
	id := rand.Int63()
	return context.WithValue(parent, key{}, id), id
}

// FromContext reports the request id stored in ctx, if any.
func FromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(key{}).(int64)
	return id, ok
}
