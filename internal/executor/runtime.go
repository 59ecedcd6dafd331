package executor

import (
	"context"

	"github.com/weavegql/weave/internal/dynamic"
)

// Runtime defines the host integration surface for field resolution, batching,
// and leaf-value serialization used by the Executor.
//
// General contract
//   - The Executor performs a breadth-first execution. At each depth it drains
//     all synchronous fields first via ResolveSync, then calls
//     BatchResolveAsync ONCE with all async tasks collected at that depth. The
//     next depth does not begin until BatchResolveAsync returns and those
//     results are completed.
//   - The Executor guarantees that ResolveSync is never invoked for fields
//     marked async, and BatchResolveAsync is only invoked when there is at
//     least one async field at the current depth.
//   - Errors returned from any method are converted into located GraphQL
//     errors. If the field's return type is Non-Null, the Executor propagates
//     the null up to the nearest nullable ancestor per the GraphQL spec.
//   - Implementations should be stateless or otherwise concurrency-safe; the
//     Executor may call these methods concurrently for different operations.
//   - Implementations must not mutate source or args values.
//
// Partial success and determinism
//   - BatchResolveAsync must return one AsyncResolveResult per task. Each
//     result is independent; failures in one do not affect others.
//   - Results MUST be returned in the same order as the input tasks
//     (results[i] corresponds to tasks[i]).
//
// Cancellation
//   - The Executor filters out tasks whose response paths were nullified by a
//     Non-Null violation, so BatchResolveAsync receives only live tasks.
type Runtime interface {
	// ResolveSync resolves a synchronous field value immediately.
	//
	// Called only for fields classified as sync. Return (nil, nil) to produce
	// a GraphQL null for nullable fields.
	ResolveSync(ctx context.Context, objectType string, field string, source dynamic.Value, args *dynamic.Record) (dynamic.Value, error)

	// BatchResolveAsync resolves one execution depth of async field tasks.
	//
	// The Executor calls this exactly once per depth with all async tasks
	// collected at that depth (after draining sync paths). Implementations may
	// further batch or group by (objectType, field) or backend-specific keys.
	BatchResolveAsync(ctx context.Context, tasks []AsyncResolveTask) []AsyncResolveResult

	// SerializeLeafValue serializes a scalar or enum value. For enums, return
	// the symbolic name as a string; for custom scalars, apply any
	// runtime-defined encoding.
	SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value dynamic.Value) (dynamic.Value, error)
}

type AsyncResolveTask struct {
	// ObjectType is the parent object type name for the field.
	ObjectType string
	// Field is the field name to resolve.
	Field string
	// Source is the parent object value (nil for root fields).
	Source dynamic.Value
	// Args are the field arguments, coerced per the schema.
	Args *dynamic.Record
}

type AsyncResolveResult struct {
	// Value is the resolved raw value prior to completion, or nil on error.
	Value dynamic.Value
	// Error contains a failure specific to this element; other elements in
	// the same batch are unaffected.
	Error error
}
