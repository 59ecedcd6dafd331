// Package server is the gateway's HTTP surface: the GraphQL endpoint for the
// default schema, digest-addressed endpoints for published schemas, and the
// admin API that publishes, lists, and drops schemas at runtime.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jensneuse/abstractlogger"

	"github.com/weavegql/weave/internal/blueprint"
	"github.com/weavegql/weave/internal/config"
	"github.com/weavegql/weave/internal/dynamic"
	"github.com/weavegql/weave/internal/eventbus"
	"github.com/weavegql/weave/internal/events"
	"github.com/weavegql/weave/internal/executor"
	"github.com/weavegql/weave/internal/httpcache"
	"github.com/weavegql/weave/internal/language"
	"github.com/weavegql/weave/internal/registry"
	"github.com/weavegql/weave/internal/reqid"
	"github.com/weavegql/weave/internal/runtime"
)

// Handler serves /graphql, /graphql/{digest}, and the /schemas admin API.
type Handler struct {
	opt         Options
	reg         *registry.Registry
	defaultHost *runtime.Host

	mu    sync.Mutex
	hosts map[string]*runtime.Host
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// CacheSize bounds each published schema's HTTP cache.
	CacheSize int

	// Logger receives request-level diagnostics.
	Logger abstractlogger.Logger

	// HostOptions apply to hosts built for published schemas, mainly for tests.
	HostOptions []runtime.Option
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option       { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                       { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option          { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCacheSize(n int) Option               { return func(o *Options) { o.CacheSize = n } }
func WithLogger(l abstractlogger.Logger) Option { return func(o *Options) { o.Logger = l } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithHostOptions(opts ...runtime.Option) Option {
	return func(o *Options) { o.HostOptions = opts }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates the gateway handler. defaultHost serves /graphql and may be nil
// when the gateway runs registry-only; reg backs /graphql/{digest} and the
// admin API and may be nil when publishing is disabled.
func New(defaultHost *runtime.Host, reg *registry.Registry, opts ...Option) (*Handler, error) {
	op := Options{Timeout: 10 * time.Second, CacheSize: 1024, Logger: abstractlogger.Noop{}}
	for _, f := range opts {
		f(&op)
	}
	if defaultHost == nil && reg == nil {
		return nil, fmt.Errorf("server: nothing to serve")
	}
	return &Handler{opt: op, reg: reg, defaultHost: defaultHost, hosts: map[string]*runtime.Host{}}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, _ = reqid.NewContext(ctx)
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}
	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	switch {
	case r.URL.Path == "/graphql":
		if h.defaultHost == nil {
			status = http.StatusNotFound
			h.writeError(w, status, "no default schema")
			return
		}
		status = h.serveGraphQL(ctx, w, r, h.defaultHost)
	case strings.HasPrefix(r.URL.Path, "/graphql/"):
		hex := strings.TrimPrefix(r.URL.Path, "/graphql/")
		host := h.hostFor(hex)
		if host == nil {
			status = http.StatusNotFound
			h.writeError(w, status, fmt.Sprintf("no schema published under %q", hex))
			return
		}
		status = h.serveGraphQL(ctx, w, r, host)
	case r.URL.Path == "/schemas" || strings.HasPrefix(r.URL.Path, "/schemas/"):
		if h.reg == nil {
			status = http.StatusNotFound
			h.writeError(w, status, "schema publishing is disabled")
			return
		}
		status = h.serveAdmin(w, r)
	default:
		status = http.StatusNotFound
		h.writeError(w, status, "not found")
	}
}

// ------------------ GraphQL endpoint ------------------

func (h *Handler) serveGraphQL(ctx context.Context, w http.ResponseWriter, r *http.Request, host *runtime.Host) int {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return http.StatusMethodNotAllowed
	}

	req, batch, perr := parseRequest(r, h.opt.MaxBodyBytes)
	if perr != nil {
		status := http.StatusBadRequest
		if perr.Error() == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		h.writeError(w, status, perr.Error())
		return status
	}

	if batch != nil {
		out := make([]any, len(batch))
		for i := range batch {
			out[i] = h.executeOne(ctx, host, r.Header, batch[i])
		}
		h.writeJSON(w, http.StatusOK, out)
		return http.StatusOK
	}

	h.writeJSON(w, http.StatusOK, h.executeOne(ctx, host, r.Header, req))
	return http.StatusOK
}

func (h *Handler) executeOne(ctx context.Context, host *runtime.Host, headers http.Header, req GraphQLRequest) any {
	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		return &executor.ExecutionResult{Errors: []executor.GraphQLError{{Message: err.Error()}}}
	}

	opDef := doc.Operations.ForName(req.OperationName)
	if opDef == nil && len(doc.Operations) == 1 {
		opDef = doc.Operations[0]
	}
	opType := ""
	if opDef != nil {
		opType = string(opDef.Operation)
	}

	variables := make(map[string]dynamic.Value, len(req.Variables))
	for k, v := range req.Variables {
		variables[k] = dynamic.FromAny(v)
	}

	rt := host.ForRequest(ctx, headers)
	exec := executor.NewExecutor(rt, host.Blueprint())

	start := time.Now()
	eventbus.Publish(ctx, events.GraphQLStart{Query: req.Query, OperationName: req.OperationName, OperationType: opType})
	result := exec.ExecuteRequest(ctx, doc, req.OperationName, variables, nil)
	errs := make([]error, len(result.Errors))
	for i := range result.Errors {
		errs[i] = result.Errors[i]
	}
	eventbus.Publish(ctx, events.GraphQLFinish{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: opType,
		Errors:        errs,
		Duration:      time.Since(start),
	})
	return result
}

// hostFor lazily builds the per-schema host behind /graphql/{digest}. Hosts
// outlive requests so the HTTP cache and upstream client are reused.
func (h *Handler) hostFor(hex string) *runtime.Host {
	if h.reg == nil {
		return nil
	}
	entry := h.reg.Get(hex)
	if entry == nil {
		h.mu.Lock()
		delete(h.hosts, hex)
		h.mu.Unlock()
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if host, ok := h.hosts[hex]; ok {
		return host
	}
	var cache *httpcache.Cache
	if entry.Blueprint.Upstream.HTTPCache {
		cache, _ = httpcache.New(h.opt.CacheSize)
	}
	opts := append([]runtime.Option{runtime.WithLogger(h.opt.Logger)}, h.opt.HostOptions...)
	host := runtime.NewHost(entry.Blueprint, cache, opts...)
	h.hosts[hex] = host
	return host
}

// ------------------ Admin API ------------------

func (h *Handler) serveAdmin(w http.ResponseWriter, r *http.Request) int {
	rest := strings.TrimPrefix(r.URL.Path, "/schemas")
	rest = strings.TrimPrefix(rest, "/")

	switch {
	case rest == "" && r.Method == http.MethodPut:
		return h.publishSchema(w, r)
	case rest == "" && r.Method == http.MethodGet:
		entries := h.reg.List()
		digests := make([]blueprint.Digest, len(entries))
		for i, e := range entries {
			digests[i] = e.Digest
		}
		h.writeJSON(w, http.StatusOK, digests)
		return http.StatusOK
	case rest != "" && r.Method == http.MethodGet:
		entry := h.reg.Get(rest)
		if entry == nil {
			h.writeError(w, http.StatusNotFound, "schema not found")
			return http.StatusNotFound
		}
		h.writeJSON(w, http.StatusOK, entry.Digest)
		return http.StatusOK
	case rest != "" && r.Method == http.MethodDelete:
		if !h.reg.Drop(rest) {
			h.writeError(w, http.StatusNotFound, "schema not found")
			return http.StatusNotFound
		}
		h.mu.Lock()
		delete(h.hosts, rest)
		h.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
		return http.StatusNoContent
	}
	h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return http.StatusMethodNotAllowed
}

func (h *Handler) publishSchema(w http.ResponseWriter, r *http.Request) int {
	reader := io.Reader(r.Body)
	if h.opt.MaxBodyBytes > 0 {
		reader = io.LimitReader(r.Body, h.opt.MaxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read body")
		return http.StatusBadRequest
	}
	defer r.Body.Close()
	if h.opt.MaxBodyBytes > 0 && int64(len(body)) > h.opt.MaxBodyBytes {
		h.writeError(w, http.StatusRequestEntityTooLarge, errBodyTooLargeMessage)
		return http.StatusRequestEntityTooLarge
	}

	cfg, err := config.Decode(body, formatForContentType(r.Header.Get("Content-Type")))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return http.StatusBadRequest
	}
	bp, err := config.Compile(cfg)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return http.StatusBadRequest
	}
	digest, err := h.reg.Put(bp)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return http.StatusInternalServerError
	}
	h.writeJSON(w, http.StatusOK, digest)
	return http.StatusOK
}

func formatForContentType(ct string) config.Format {
	switch {
	case strings.HasPrefix(ct, "application/graphql"):
		return config.FormatSDL
	case strings.HasPrefix(ct, "application/yaml"), strings.HasPrefix(ct, "text/yaml"):
		return config.FormatYAML
	}
	return config.FormatJSON
}

// ------------------ Request parsing ------------------

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

func parseRequest(r *http.Request, maxBody int64) (GraphQLRequest, []GraphQLRequest, error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return GraphQLRequest{}, nil, fmt.Errorf("missing 'query'")
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return GraphQLRequest{}, nil, fmt.Errorf("invalid 'variables' JSON")
			}
		}
		op := r.URL.Query().Get("operationName")
		return GraphQLRequest{Query: q, Variables: vars, OperationName: op}, nil, nil
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return GraphQLRequest{}, nil, fmt.Errorf("unsupported Content-Type")
	}

	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return GraphQLRequest{}, nil, fmt.Errorf("failed to read body")
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return GraphQLRequest{}, nil, errors.New(errBodyTooLargeMessage)
	}

	// A JSON array is an HTTP-level batch of requests.
	if len(body) > 0 && body[0] == '[' {
		var arr []GraphQLRequest
		if err := json.Unmarshal(body, &arr); err != nil {
			return GraphQLRequest{}, nil, fmt.Errorf("invalid JSON")
		}
		if len(arr) == 0 {
			return GraphQLRequest{}, nil, fmt.Errorf("empty batch")
		}
		return GraphQLRequest{}, arr, nil
	}

	var req GraphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return GraphQLRequest{}, nil, fmt.Errorf("invalid JSON")
	}
	if req.Query == "" {
		return GraphQLRequest{}, nil, fmt.Errorf("missing 'query'")
	}
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}
	return req, nil, nil
}

// ------------------ Response formatting ------------------

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{
		"errors": []map[string]any{{"message": message}},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if h.opt.Pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
