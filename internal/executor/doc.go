// Package executor implements a breadth-first, batch-friendly GraphQL executor
// with explicit runtime hooks for synchronous resolution, depth-wise batching
// of asynchronous work, and leaf serialization.
//
// # Overview
//
// The executor follows a level-by-level (BFS) execution model designed to:
//   - Expand synchronous fields (projections and pure expressions) immediately
//     without adding batch depth.
//   - Collect asynchronous fields (resolvers that reach upstream I/O)
//     encountered at the current depth and resolve them in a single call to
//     Runtime.BatchResolveAsync.
//   - Complete values according to the GraphQL specification (lists, leafs,
//     objects), including Non-Null null-propagation rules.
//   - Accumulate located errors while allowing partial success.
//
// # Execution Model
//
// The executor models work in three conceptual sets:
//   - Frontier: the currently reachable synchronous work; it expands downward
//     immediately and does not increment depth.
//   - PendingTasks: asynchronous field resolutions discovered while expanding
//     this depth; they are batched and executed exactly once per depth.
//   - ResultStore: a mutable response tree of ordered records where completed
//     values are written at their response paths. Record key order follows the
//     query's field order; async completions overwrite placeholders in place.
//
// A field is classified by its blueprint definition: fields whose resolver
// expression reaches an EndpointCall are asynchronous; projection fields and
// pure expressions are synchronous. See blueprint.Field.IsAsync.
//
// BFS loop (per depth):
//
//	A. Sync expansion
//	   - Sync fields call Runtime.ResolveSync and complete immediately. Object
//	     results keep expanding synchronously; depth does not increase.
//	   - Async fields enqueue an AsyncResolveTask without executing.
//
//	B. Batch execution
//	   - If there are async tasks at this depth, call Runtime.BatchResolveAsync
//	     exactly once with all of them (after filtering out any paths nullified
//	     by prior Non-Null violations). The runtime returns one result per
//	     task, in the same order.
//
//	C. Non-Null propagation and pruning
//	   - A Non-Null violation at path p sets the nearest nullable ancestor to
//	     null and marks that ancestor path as a tombstone. Queued tasks under
//	     that path are dropped. Errors are recorded as located errors.
//
//	D. Advance depth with the async tasks discovered during completion.
//
// A core invariant is preserved: for a query with asynchronous depth d,
// BatchResolveAsync is invoked exactly d times. Purely synchronous descents do
// not increase d.
//
// # Errors and Partial Success
//
// Errors are accumulated as located GraphQL errors (message + path). For a
// Non-Null field, a null result or error propagates to the nearest nullable
// ancestor; otherwise the field becomes null and execution continues. Batch
// results are independent, enabling partial success within a single batch.
//
// Fragments are flattened at collection time; type conditions match by exact
// name since the runtime schema has no abstract types.
package executor
