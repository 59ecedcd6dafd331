// Package dataloader is the per-request dedup and batching layer in front of
// the upstream client. It guarantees at most one in-flight physical call per
// request fingerprint and coalesces batchable calls that arrive within a
// window into a single upstream call.
package dataloader

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/weavegql/weave/internal/dynamic"
	"github.com/weavegql/weave/internal/endpoint"
	"github.com/weavegql/weave/internal/eventbus"
	"github.com/weavegql/weave/internal/events"
	"github.com/weavegql/weave/internal/expr"
	"github.com/weavegql/weave/internal/httpcache"
	"github.com/weavegql/weave/internal/upstream"
)

// BatchError is a failed batched upstream call, delivered verbatim to every
// logical caller that shared the window.
type BatchError struct {
	URL  string
	Size int
	Err  error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch of %d to %s failed: %v", e.Size, e.URL, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Doer issues physical upstream calls. *upstream.Client implements it.
type Doer interface {
	Do(ctx context.Context, req endpoint.Request) (*upstream.Response, error)
}

// Options configure batching for a request's loader.
type Options struct {
	// Delay is how long a batch window stays open after its first arrival.
	Delay time.Duration
	// MaxSize closes a window early when reached. 0 means unbounded.
	MaxSize int
	// FingerprintHeaders restricts which request headers participate in the
	// dedup fingerprint. Empty means all.
	FingerprintHeaders []string
}

// Loader lives for exactly one inbound GraphQL request.
type Loader struct {
	client Doer
	cache  *httpcache.Cache
	opts   Options

	// root is the request-scoped context: when the inbound request is
	// cancelled, pending windows and upstream calls go down with it.
	root context.Context

	mu       sync.Mutex
	inflight map[uint64]*call
	windows  map[uint64]*window
}

type call struct {
	done  chan struct{}
	value dynamic.Value
	err   error
}

type window struct {
	key     uint64
	group   expr.Group
	opened  time.Time
	timer   *time.Timer
	entries []*windowEntry
	flushed bool
}

type windowEntry struct {
	req  endpoint.Request
	done chan struct{}

	value dynamic.Value
	err   error
}

// New returns a loader scoped to ctx. Drop the loader when the request ends;
// resolved calls stay memoized until then.
func New(ctx context.Context, client Doer, cache *httpcache.Cache, opts Options) *Loader {
	if opts.Delay <= 0 {
		opts.Delay = time.Millisecond
	}
	return &Loader{
		client:   client,
		cache:    cache,
		opts:     opts,
		root:     ctx,
		inflight: map[uint64]*call{},
		windows:  map[uint64]*window{},
	}
}

// Call deduplicates by fingerprint: the first caller issues the request,
// every later caller with the same fingerprint awaits the same result.
func (l *Loader) Call(ctx context.Context, req endpoint.Request) (dynamic.Value, error) {
	if body, ok := l.cache.Get(req.Method, req.URL); ok {
		eventbus.Publish(ctx, events.CacheLookup{URL: req.URL, Hit: true})
		return decodeBody(req.URL, body)
	}
	if req.Method == http.MethodGet {
		eventbus.Publish(ctx, events.CacheLookup{URL: req.URL, Hit: false})
	}

	fp := l.fingerprint(req)

	l.mu.Lock()
	if c, ok := l.inflight[fp]; ok {
		l.mu.Unlock()
		eventbus.Publish(ctx, events.DedupJoin{Method: req.Method, URL: req.URL})
		select {
		case <-c.done:
			return c.value, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c := &call{done: make(chan struct{})}
	l.inflight[fp] = c
	l.mu.Unlock()

	c.value, c.err = l.issue(ctx, req)
	close(c.done)
	return c.value, c.err
}

func (l *Loader) issue(ctx context.Context, req endpoint.Request) (dynamic.Value, error) {
	resp, err := l.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.CacheTTL > 0 {
		l.cache.PutFor(req.Method, req.URL, resp.Body, req.CacheTTL)
	} else {
		l.cache.Put(req.Method, req.URL, resp.Header, resp.Body)
	}
	return decodeBody(req.URL, resp.Body)
}

// CallBatched places the request in the batch window matching its endpoint
// shape and returns this caller's share of the grouped response.
func (l *Loader) CallBatched(ctx context.Context, req endpoint.Request, group expr.Group) (dynamic.Value, error) {
	key := l.windowKey(req, group)
	entry := &windowEntry{req: req, done: make(chan struct{})}

	l.mu.Lock()
	w, ok := l.windows[key]
	if !ok {
		w = &window{key: key, group: group, opened: time.Now()}
		w.timer = time.AfterFunc(l.opts.Delay, func() { l.flush(w, false) })
		l.windows[key] = w
	}
	w.entries = append(w.entries, entry)
	full := l.opts.MaxSize > 0 && len(w.entries) >= l.opts.MaxSize
	l.mu.Unlock()

	if full {
		l.flush(w, true)
	}

	select {
	case <-entry.done:
		return entry.value, entry.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flush closes the window, issues the one physical call, and distributes the
// result. Safe to race between the timer and the maxSize path.
func (l *Loader) flush(w *window, maxHit bool) {
	l.mu.Lock()
	if w.flushed {
		l.mu.Unlock()
		return
	}
	w.flushed = true
	w.timer.Stop()
	delete(l.windows, w.key)
	entries := w.entries
	l.mu.Unlock()

	eventbus.Publish(l.root, events.BatchWindowClose{
		URL:    entries[0].req.URL,
		Size:   len(entries),
		MaxHit: maxHit,
		Waited: time.Since(w.opened),
	})

	if w.group.Key != "" {
		l.flushQueryGroup(w, entries)
	} else {
		l.flushBodyBatch(w, entries)
	}
	for _, e := range entries {
		close(e.done)
	}
}

// flushQueryGroup merges the group-key query values of every caller into one
// request and attributes response rows back by the batchKey field. Upstream
// ordering is irrelevant: distribution indexes, it never zips.
func (l *Loader) flushQueryGroup(w *window, entries []*windowEntry) {
	merged, err := mergeGroupRequests(entries, w.group.Key)
	if err != nil {
		failAll(entries, &BatchError{URL: entries[0].req.URL, Size: len(entries), Err: err})
		return
	}

	eventbus.Publish(l.root, events.UpstreamStart{Method: merged.Method, URL: merged.URL, Batched: true, Size: len(entries)})
	resp, err := l.client.Do(l.root, merged)
	if err != nil {
		failAll(entries, &BatchError{URL: merged.URL, Size: len(entries), Err: err})
		return
	}

	body, err := dynamic.DecodeJSON(resp.Body)
	if err != nil {
		failAll(entries, &BatchError{URL: merged.URL, Size: len(entries), Err: err})
		return
	}
	rows, ok := body.(dynamic.List)
	if !ok {
		failAll(entries, &BatchError{URL: merged.URL, Size: len(entries), Err: fmt.Errorf("batched response is not an array")})
		return
	}

	index := map[string]dynamic.List{}
	for _, row := range rows {
		keyVal, ok := dynamic.Path(row, w.group.BatchKey)
		if !ok {
			continue
		}
		k := dynamic.Text(keyVal)
		index[k] = append(index[k], row)
	}

	for _, e := range entries {
		id, err := groupValue(e.req, w.group.Key)
		if err != nil {
			e.err = &BatchError{URL: merged.URL, Size: len(entries), Err: err}
			continue
		}
		matches := index[id]
		switch {
		case w.group.ExpectList:
			e.value = matches
			if matches == nil {
				e.value = dynamic.List{}
			}
		case len(matches) > 0:
			e.value = matches[0]
		default:
			e.value = dynamic.Null{}
		}
	}
}

// flushBodyBatch concatenates caller bodies into one JSON array and
// distributes the response array by position. An arity mismatch fails the
// whole batch.
func (l *Loader) flushBodyBatch(w *window, entries []*windowEntry) {
	first := entries[0].req
	var sb strings.Builder
	sb.WriteByte('[')
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte(',')
		}
		if len(e.req.Body) == 0 {
			sb.WriteString("null")
		} else {
			sb.Write(e.req.Body)
		}
	}
	sb.WriteByte(']')

	merged := endpoint.Request{Method: first.Method, URL: first.URL, Header: cloneHeader(first.Header), Body: []byte(sb.String())}
	merged.Header.Set("Content-Length", fmt.Sprint(len(merged.Body)))

	eventbus.Publish(l.root, events.UpstreamStart{Method: merged.Method, URL: merged.URL, Batched: true, Size: len(entries)})
	resp, err := l.client.Do(l.root, merged)
	if err != nil {
		failAll(entries, &BatchError{URL: merged.URL, Size: len(entries), Err: err})
		return
	}
	body, err := dynamic.DecodeJSON(resp.Body)
	if err != nil {
		failAll(entries, &BatchError{URL: merged.URL, Size: len(entries), Err: err})
		return
	}
	rows, ok := body.(dynamic.List)
	if !ok || len(rows) != len(entries) {
		failAll(entries, &BatchError{URL: merged.URL, Size: len(entries), Err: fmt.Errorf("batched response arity mismatch: sent %d, got %d", len(entries), lenOrMinusOne(body))})
		return
	}
	for i, e := range entries {
		e.value = rows[i]
	}
}

func lenOrMinusOne(v dynamic.Value) int {
	if rows, ok := v.(dynamic.List); ok {
		return len(rows)
	}
	return -1
}

func failAll(entries []*windowEntry, err error) {
	for _, e := range entries {
		e.err = err
	}
}

// mergeGroupRequests builds the single physical request: the first caller's
// request with the group-key values of every caller appended to the query.
func mergeGroupRequests(entries []*windowEntry, groupKey string) (endpoint.Request, error) {
	first := entries[0].req
	u, err := url.Parse(first.URL)
	if err != nil {
		return endpoint.Request{}, err
	}
	q := u.Query()
	q.Del(groupKey)
	for _, e := range entries {
		id, err := groupValue(e.req, groupKey)
		if err != nil {
			return endpoint.Request{}, err
		}
		q.Add(groupKey, id)
	}
	u.RawQuery = encodeQueryStable(q, groupKey)
	return endpoint.Request{Method: first.Method, URL: u.String(), Header: cloneHeader(first.Header), Body: first.Body}, nil
}

// encodeQueryStable keeps the repeated group parameter ordered by arrival
// instead of url.Values' alphabetical encoding of everything.
func encodeQueryStable(q url.Values, groupKey string) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		for _, v := range q[k] {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

func groupValue(req endpoint.Request, groupKey string) (string, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return "", err
	}
	v := u.Query().Get(groupKey)
	if v == "" {
		return "", fmt.Errorf("missing group key %q in query", groupKey)
	}
	return v, nil
}

func cloneHeader(h http.Header) http.Header {
	out := http.Header{}
	for k, vs := range h {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	return out
}

// fingerprint canonicalizes (method, url, filtered headers, body).
func (l *Loader) fingerprint(req endpoint.Request) uint64 {
	h := xxhash.New()
	h.WriteString(req.Method)
	h.WriteString("\n")
	h.WriteString(req.URL)
	h.WriteString("\n")
	for _, kv := range canonicalHeaders(req.Header, l.opts.FingerprintHeaders) {
		h.WriteString(kv)
		h.WriteString("\n")
	}
	h.Write(req.Body)
	return h.Sum64()
}

// windowKey canonicalizes the endpoint shape shared by a batch window:
// method, URL without the group parameter, headers.
func (l *Loader) windowKey(req endpoint.Request, group expr.Group) uint64 {
	h := xxhash.New()
	h.WriteString(req.Method)
	h.WriteString("\n")
	if u, err := url.Parse(req.URL); err == nil {
		q := u.Query()
		q.Del(group.Key)
		u.RawQuery = q.Encode()
		h.WriteString(u.String())
	} else {
		h.WriteString(req.URL)
	}
	h.WriteString("\n")
	for _, kv := range canonicalHeaders(req.Header, l.opts.FingerprintHeaders) {
		h.WriteString(kv)
		h.WriteString("\n")
	}
	return h.Sum64()
}

func canonicalHeaders(h http.Header, allowed []string) []string {
	filter := map[string]struct{}{}
	for _, a := range allowed {
		filter[strings.ToLower(a)] = struct{}{}
	}
	var out []string
	for k, vs := range h {
		lk := strings.ToLower(k)
		if lk == "content-length" {
			continue
		}
		if len(filter) > 0 {
			if _, ok := filter[lk]; !ok {
				continue
			}
		}
		out = append(out, lk+":"+strings.Join(vs, ","))
	}
	sort.Strings(out)
	return out
}

func decodeBody(url string, body []byte) (dynamic.Value, error) {
	if len(body) == 0 {
		return dynamic.Null{}, nil
	}
	v, err := dynamic.DecodeJSON(body)
	if err != nil {
		return nil, &upstream.Error{URL: url, Err: fmt.Errorf("malformed JSON body: %w", err)}
	}
	return v, nil
}
