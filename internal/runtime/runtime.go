// Package runtime implements executor.Runtime on top of a compiled blueprint:
// it builds per-field resolver contexts, evaluates resolver expressions, and
// routes upstream calls through the per-request data loader.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jensneuse/abstractlogger"

	"github.com/weavegql/weave/internal/blueprint"
	"github.com/weavegql/weave/internal/dataloader"
	"github.com/weavegql/weave/internal/dynamic"
	"github.com/weavegql/weave/internal/endpoint"
	"github.com/weavegql/weave/internal/executor"
	"github.com/weavegql/weave/internal/expr"
	"github.com/weavegql/weave/internal/httpcache"
	"github.com/weavegql/weave/internal/steps"
	"github.com/weavegql/weave/internal/upstream"
)

// Host is the long-lived per-blueprint state shared by every request.
type Host struct {
	bp     *blueprint.Blueprint
	client dataloader.Doer
	cache  *httpcache.Cache
	log    abstractlogger.Logger
}

// Option configures a Host.
type Option func(*Host)

func WithLogger(log abstractlogger.Logger) Option {
	return func(h *Host) { h.log = log }
}

// WithClient overrides the upstream client, mainly for tests.
func WithClient(client dataloader.Doer) Option {
	return func(h *Host) { h.client = client }
}

func NewHost(bp *blueprint.Blueprint, cache *httpcache.Cache, opts ...Option) *Host {
	h := &Host{
		bp:    bp,
		cache: cache,
		log:   abstractlogger.Noop{},
	}
	for _, o := range opts {
		o(h)
	}
	if h.client == nil {
		opts := []upstream.Option{upstream.WithLogger(h.log)}
		if bp.Server.Timeout > 0 {
			opts = append(opts, upstream.WithTimeout(bp.Server.Timeout))
		}
		h.client = upstream.NewClient(opts...)
	}
	if !bp.Upstream.HTTPCache && !bp.HasCacheHints() {
		h.cache = nil
	} else if h.cache == nil {
		h.cache, _ = httpcache.New(defaultCacheSize)
	}
	return h
}

const defaultCacheSize = 1024

// Blueprint returns the compiled schema this host serves.
func (h *Host) Blueprint() *blueprint.Blueprint { return h.bp }

// ForRequest builds the per-request runtime: a fresh data loader scoped to
// ctx, an evaluator wired to it, and the step plan. The loader's dedup cache
// lives exactly as long as the returned runtime.
func (h *Host) ForRequest(ctx context.Context, headers http.Header) *Runtime {
	loader := dataloader.New(ctx, h.client, h.cache, dataloader.Options{
		Delay:              h.bp.Upstream.Batch.Delay,
		MaxSize:            h.bp.Upstream.Batch.MaxSize,
		FingerprintHeaders: h.bp.Upstream.Batch.Headers,
	})
	eval := &expr.Evaluator{Caller: &loaderCaller{loader: loader}, Log: h.log}
	r := &Runtime{
		host:    h,
		eval:    eval,
		plan:    steps.NewGenerator(h.bp, eval).Build(),
		headers: allowedHeaders(headers, h.bp.Upstream.AllowedHeaders),
		vars:    varsRecord(h.bp.Vars),
		parents: map[*dynamic.Record]*dynamic.Record{},
	}
	return r
}

// Runtime is the per-request executor.Runtime implementation.
type Runtime struct {
	host    *Host
	eval    *expr.Evaluator
	plan    *steps.Plan
	headers *dynamic.Record
	vars    *dynamic.Record

	mu sync.Mutex
	// parents links resolved record values back to the context that produced
	// them so child resolvers can template against grand-parents.
	parents map[*dynamic.Record]*dynamic.Record
}

var _ executor.Runtime = (*Runtime)(nil)

// loaderCaller adapts the data loader to the evaluator's Caller interface.
type loaderCaller struct {
	loader *dataloader.Loader
}

func (c *loaderCaller) Call(ctx context.Context, req endpoint.Request) (dynamic.Value, error) {
	return c.loader.Call(ctx, req)
}

func (c *loaderCaller) CallBatched(ctx context.Context, req endpoint.Request, group expr.Group) (dynamic.Value, error) {
	return c.loader.CallBatched(ctx, req, group)
}

// ResolveSync resolves projection and pure-expression fields immediately.
func (r *Runtime) ResolveSync(ctx context.Context, objectType, field string, source dynamic.Value, args *dynamic.Record) (dynamic.Value, error) {
	return r.resolve(ctx, objectType, field, source, args)
}

// BatchResolveAsync resolves one depth of async tasks concurrently. The data
// loader's dedup map and batch windows do the coalescing; this method only
// fans out. Each task fails independently.
func (r *Runtime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	results := make([]executor.AsyncResolveResult, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task executor.AsyncResolveTask) {
			defer wg.Done()
			v, err := r.resolve(ctx, task.ObjectType, task.Field, task.Source, task.Args)
			results[i] = executor.AsyncResolveResult{Value: v, Error: err}
		}(i, task)
	}
	wg.Wait()
	return results
}

func (r *Runtime) resolve(ctx context.Context, objectType, field string, source dynamic.Value, args *dynamic.Record) (dynamic.Value, error) {
	step, ok := r.plan.FieldStep(objectType, field)
	if !ok {
		return nil, fmt.Errorf("runtime: no step for %s.%s", objectType, field)
	}
	in := r.buildContext(source, args)
	v, err := steps.Execute(ctx, step, in)
	if err != nil {
		return nil, err
	}
	r.remember(v, in)
	return v, nil
}

// buildContext assembles the resolver input record. The context is created
// per field invocation and dropped when the field completes.
func (r *Runtime) buildContext(source dynamic.Value, args *dynamic.Record) *dynamic.Record {
	in := dynamic.NewRecord()
	if source == nil {
		in.Set("value", dynamic.Null{})
	} else {
		in.Set("value", source)
	}
	if args == nil {
		args = dynamic.NewRecord()
	}
	in.Set("args", args)
	in.Set("parent", r.parentContext(source))
	in.Set("headers", r.headers)
	in.Set("vars", r.vars)
	return in
}

func (r *Runtime) parentContext(source dynamic.Value) dynamic.Value {
	rec, ok := source.(*dynamic.Record)
	if !ok {
		return dynamic.Null{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.parents[rec]; ok {
		return p
	}
	return dynamic.Null{}
}

// remember links record results (and record list elements) to their context.
func (r *Runtime) remember(v dynamic.Value, ctxRec *dynamic.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch t := v.(type) {
	case *dynamic.Record:
		r.parents[t] = ctxRec
	case dynamic.List:
		for _, item := range t {
			if rec, ok := item.(*dynamic.Record); ok {
				r.parents[rec] = ctxRec
			}
		}
	}
}

// SerializeLeafValue coerces scalars and validates enum membership.
func (r *Runtime) SerializeLeafValue(ctx context.Context, name string, value dynamic.Value) (dynamic.Value, error) {
	switch name {
	case "Int":
		switch v := value.(type) {
		case dynamic.Int:
			return v, nil
		case dynamic.Float:
			return dynamic.Int(int64(v)), nil
		case dynamic.String:
			if iv, err := strconv.ParseInt(string(v), 10, 64); err == nil {
				return dynamic.Int(iv), nil
			}
		}
		return nil, fmt.Errorf("cannot serialize %s as Int", value.Kind())
	case "Float":
		switch v := value.(type) {
		case dynamic.Float:
			return v, nil
		case dynamic.Int:
			return dynamic.Float(float64(v)), nil
		}
		return nil, fmt.Errorf("cannot serialize %s as Float", value.Kind())
	case "String", "ID":
		switch v := value.(type) {
		case dynamic.String:
			return v, nil
		case dynamic.Int:
			return dynamic.String(strconv.FormatInt(int64(v), 10)), nil
		case dynamic.Float:
			return dynamic.String(dynamic.Text(v)), nil
		case dynamic.Bool:
			return dynamic.String(strconv.FormatBool(bool(v))), nil
		}
		return nil, fmt.Errorf("cannot serialize %s as %s", value.Kind(), name)
	case "Boolean":
		if v, ok := value.(dynamic.Bool); ok {
			return v, nil
		}
		return nil, fmt.Errorf("cannot serialize %s as Boolean", value.Kind())
	case "JSON":
		return value, nil
	}

	if t, ok := r.host.bp.Types[name]; ok && t.Kind == blueprint.KindEnum {
		s, ok := value.(dynamic.String)
		if !ok {
			return nil, fmt.Errorf("cannot serialize %s as enum %s", value.Kind(), name)
		}
		for _, ev := range t.EnumValues {
			if ev == string(s) {
				return s, nil
			}
		}
		return nil, fmt.Errorf("value %q is not a member of enum %s", string(s), name)
	}

	// Custom scalars pass through unchanged.
	return value, nil
}

// allowedHeaders keys the whitelisted headers lowercase; templates address
// them as {{headers.authorization}} and record lookup is case-sensitive.
func allowedHeaders(h http.Header, allowed []string) *dynamic.Record {
	out := dynamic.NewRecord()
	if h == nil {
		return out
	}
	for _, name := range allowed {
		if v := h.Get(name); v != "" {
			out.Set(strings.ToLower(name), dynamic.String(v))
		}
	}
	return out
}

func varsRecord(vars map[string]string) *dynamic.Record {
	out := dynamic.NewRecord()
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out.Set(k, dynamic.String(vars[k]))
	}
	return out
}
