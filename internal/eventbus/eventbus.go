// Package eventbus fans gateway lifecycle events out to in-process
// subscribers. The HTTP layer, the data loader, and the upstream client
// publish; metrics and tracing subscribe. Publishing with no bus installed
// is a no-op, so instrumentation stays optional.
package eventbus

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
)

// Handler processes events of type T.
type Handler[T any] func(context.Context, T)

// Bus dispatches events to handlers keyed by the event's dynamic type.
type Bus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type][]any // Handler[T] stored type-erased
}

func New() *Bus { return &Bus{handlers: make(map[reflect.Type][]any)} }

func (b *Bus) subscribe(t reflect.Type, h any) (unsubscribe func()) {
	b.mu.Lock()
	b.handlers[t] = append(b.handlers[t], h)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[t]
		for i, fn := range hs {
			if reflect.ValueOf(fn).Pointer() == reflect.ValueOf(h).Pointer() {
				hs = append(hs[:i], hs[i+1:]...)
				break
			}
		}
		if len(hs) == 0 {
			delete(b.handlers, t)
		} else {
			b.handlers[t] = hs
		}
	}
}

// emit runs every handler registered for e's type. Handlers run on the
// publisher's goroutine; the list is snapshotted so a handler may
// unsubscribe itself.
func (b *Bus) emit(ctx context.Context, e any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	hs := b.handlers[reflect.TypeOf(e)]
	if len(hs) == 0 {
		b.mu.RUnlock()
		return
	}
	snapshot := append([]any(nil), hs...)
	b.mu.RUnlock()
	for _, fn := range snapshot {
		fn.(func(context.Context, any))(ctx, e)
	}
}

var active atomic.Pointer[Bus]

// Use installs the process-wide bus. Passing nil disables event publishing.
func Use(b *Bus) { active.Store(b) }

// Subscribe registers h with the installed bus.
func Subscribe[T any](h Handler[T]) (unsubscribe func()) {
	if b := active.Load(); b != nil {
		t := reflect.TypeOf((*T)(nil)).Elem()
		wrapped := func(ctx context.Context, v any) { h(ctx, v.(T)) }
		return b.subscribe(t, wrapped)
	}
	return func() {}
}

// Publish sends e through the installed bus.
func Publish[T any](ctx context.Context, e T) {
	if b := active.Load(); b != nil {
		b.emit(ctx, e)
	}
}
