package executor

import (
	"context"
	"sync"

	"github.com/weavegql/weave/internal/dynamic"
)

// MockResolver resolves a single item; MockRuntime adapts it for batched calls in tests.
type MockResolver func(ctx context.Context, source dynamic.Value, args *dynamic.Record) (dynamic.Value, error)

// CallKind identifies whether a call was from ResolveSync or BatchResolveAsync.
const (
	CallKindSync  = "sync"
	CallKindAsync = "async"
)

// NewMockValueResolver returns a MockResolver that always returns the provided value.
func NewMockValueResolver(val dynamic.Value) MockResolver {
	return func(ctx context.Context, source dynamic.Value, args *dynamic.Record) (dynamic.Value, error) {
		return val, nil
	}
}

// NewMockErrorResolver returns a MockResolver that always returns the provided error.
func NewMockErrorResolver(err error) MockResolver {
	return func(ctx context.Context, source dynamic.Value, args *dynamic.Record) (dynamic.Value, error) {
		return nil, err
	}
}

// Call is a single task-level invocation record. Async calls share the same
// BatchID within a flush; sync calls carry BatchID 0.
type Call struct {
	Kind       string
	ObjectType string
	Field      string
	BatchID    int
}

// MockRuntime implements Runtime with a resolver registry and a call log.
type MockRuntime struct {
	mu        sync.Mutex
	resolvers map[string]MockResolver
	calls     []Call
	batchSeq  int

	serializer func(val dynamic.Value, typeName string) (dynamic.Value, error)
}

// NewMockRuntime creates a MockRuntime with the provided resolvers. Keys are
// of the form "ObjectType.Field".
func NewMockRuntime(resolvers map[string]MockResolver) *MockRuntime {
	m := &MockRuntime{
		resolvers: make(map[string]MockResolver),
		serializer: func(val dynamic.Value, typeName string) (dynamic.Value, error) {
			return val, nil
		},
	}
	for k, v := range resolvers {
		m.resolvers[k] = v
	}
	return m
}

// SetResolver registers or updates a resolver for the given object type and field.
func (m *MockRuntime) SetResolver(objectType, field string, resolver MockResolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolvers[objectType+"."+field] = resolver
}

// SetSerializer overrides leaf serialization.
func (m *MockRuntime) SetSerializer(f func(val dynamic.Value, typeName string) (dynamic.Value, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serializer = f
}

// ResolveSync implements Runtime.
func (m *MockRuntime) ResolveSync(ctx context.Context, objectType string, field string, source dynamic.Value, args *dynamic.Record) (dynamic.Value, error) {
	key := objectType + "." + field

	m.mu.Lock()
	r := m.resolvers[key]
	m.calls = append(m.calls, Call{Kind: CallKindSync, ObjectType: objectType, Field: field})
	m.mu.Unlock()

	if r == nil {
		return nil, nil
	}
	return r(ctx, source, args)
}

// BatchResolveAsync implements Runtime with stable, order-preserving grouping
// by (objectType, field).
func (m *MockRuntime) BatchResolveAsync(ctx context.Context, tasks []AsyncResolveTask) []AsyncResolveResult {
	if len(tasks) == 0 {
		return nil
	}

	m.mu.Lock()
	m.batchSeq++
	batchID := m.batchSeq
	m.mu.Unlock()

	results := make([]AsyncResolveResult, len(tasks))
	for i, task := range tasks {
		key := task.ObjectType + "." + task.Field

		m.mu.Lock()
		r := m.resolvers[key]
		m.calls = append(m.calls, Call{Kind: CallKindAsync, ObjectType: task.ObjectType, Field: task.Field, BatchID: batchID})
		m.mu.Unlock()

		if r == nil {
			results[i] = AsyncResolveResult{}
			continue
		}
		val, err := r(ctx, task.Source, task.Args)
		results[i] = AsyncResolveResult{Value: val, Error: err}
	}
	return results
}

// SerializeLeafValue implements Runtime.
func (m *MockRuntime) SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value dynamic.Value) (dynamic.Value, error) {
	m.mu.Lock()
	s := m.serializer
	m.mu.Unlock()
	if s == nil {
		return value, nil
	}
	return s(value, scalarOrEnumTypeName)
}

// GetCalls returns a copy of the recorded calls in order.
func (m *MockRuntime) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// BatchCount returns how many BatchResolveAsync flushes happened.
func (m *MockRuntime) BatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchSeq
}

// Reset clears recorded calls and counters (resolvers remain).
func (m *MockRuntime) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.batchSeq = 0
}
