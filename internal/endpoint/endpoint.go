// Package endpoint models a templated upstream HTTP call. An Endpoint is the
// static description from configuration; Evaluate substitutes its mustache
// templates against a dynamic input to produce a concrete Request.
package endpoint

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/weavegql/weave/internal/dynamic"
	"github.com/weavegql/weave/internal/mustache"
)

type Endpoint struct {
	Method string
	Scheme string
	Host   string
	Port   int

	// Path, query values, and header values may contain mustache expressions.
	Path    string
	Query   []Param
	Headers []Param

	// BodyPath projects a sub-value of the input as the request body.
	// BodyTemplate is a JSON-shaped template rendered against the input.
	// When neither is set, the whole input is the body.
	BodyPath     []string
	BodyTemplate dynamic.Value

	Input  dynamic.Schema
	Output dynamic.Schema

	// CacheMaxAge forces responses of this endpoint into the HTTP cache for
	// the given duration, regardless of response headers.
	CacheMaxAge time.Duration
}

type Param struct {
	Key   string
	Value string
}

// Request is a fully evaluated upstream call description.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	// CacheTTL is the forced cache lifetime carried over from the endpoint.
	CacheTTL time.Duration
}

// New returns a GET endpoint for the given host/path with defaults applied.
func New(scheme, host string, port int, path string) *Endpoint {
	return &Endpoint{Method: http.MethodGet, Scheme: scheme, Host: host, Port: port, Path: path}
}

// BaseURL reports scheme://host[:port] with default ports elided.
func (e *Endpoint) BaseURL() string {
	scheme := e.Scheme
	if scheme == "" {
		scheme = "http"
	}
	hostport := e.Host
	if e.Port > 0 && !isDefaultPort(scheme, e.Port) {
		hostport = e.Host + ":" + strconv.Itoa(e.Port)
	}
	return scheme + "://" + hostport
}

func isDefaultPort(scheme string, port int) bool {
	return (scheme == "http" && port == 80) || (scheme == "https" && port == 443)
}

// Evaluate substitutes templates against input and builds the Request.
func (e *Endpoint) Evaluate(input dynamic.Value) (Request, error) {
	method := e.Method
	if method == "" {
		method = http.MethodGet
	}

	path := mustache.Parse(e.Path).Evaluate(input)
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	u := e.BaseURL() + path
	if len(e.Query) > 0 {
		var qs []string
		for _, p := range e.Query {
			v := mustache.Parse(p.Value).Evaluate(input)
			qs = append(qs, url.QueryEscape(p.Key)+"="+url.QueryEscape(v))
		}
		u += "?" + strings.Join(qs, "&")
	}

	header := http.Header{}
	for _, h := range e.Headers {
		header.Set(h.Key, mustache.Parse(h.Value).Evaluate(input))
	}

	var body []byte
	if method != http.MethodGet && method != http.MethodDelete {
		b, err := e.evaluateBody(input)
		if err != nil {
			return Request{}, err
		}
		body = b
	}
	if len(body) > 0 {
		header.Set("Content-Length", strconv.Itoa(len(body)))
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", "application/json")
		}
	}

	return Request{Method: method, URL: u, Header: header, Body: body, CacheTTL: e.CacheMaxAge}, nil
}

func (e *Endpoint) evaluateBody(input dynamic.Value) ([]byte, error) {
	switch {
	case len(e.BodyPath) > 0:
		sub, ok := dynamic.Path(input, e.BodyPath)
		if !ok {
			sub = dynamic.Null{}
		}
		return dynamic.EncodeJSON(sub)
	case e.BodyTemplate != nil:
		return dynamic.EncodeJSON(mustache.EvaluateValue(e.BodyTemplate, input))
	case input == nil:
		return nil, nil
	default:
		return dynamic.EncodeJSON(input)
	}
}

// Validate reports obviously broken endpoint descriptions at compile time.
func (e *Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("endpoint: host is required")
	}
	if e.Scheme != "" && e.Scheme != "http" && e.Scheme != "https" {
		return fmt.Errorf("endpoint: unsupported scheme %q", e.Scheme)
	}
	switch e.Method {
	case "", http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
	default:
		return fmt.Errorf("endpoint: unsupported method %q", e.Method)
	}
	return nil
}
