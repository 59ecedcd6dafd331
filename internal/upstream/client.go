// Package upstream issues the physical HTTP calls produced by endpoint
// evaluation. It owns decompression, error classification, and per-call
// events; dedup and batching live in the data loader above it.
package upstream

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jensneuse/abstractlogger"

	"github.com/weavegql/weave/internal/endpoint"
	"github.com/weavegql/weave/internal/eventbus"
	"github.com/weavegql/weave/internal/events"
)

// Error is an upstream failure: connection errors, timeouts, or non-2xx
// status codes.
type Error struct {
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("upstream %s: status %d", e.URL, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// Response is a completed upstream call.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

type Client struct {
	http *http.Client
	log  abstractlogger.Logger
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func WithLogger(l abstractlogger.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 1024,
			},
		},
		log: abstractlogger.Noop{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do issues the request and returns the decompressed body. Non-2xx statuses
// and transport failures return *Error.
func (c *Client) Do(ctx context.Context, req endpoint.Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, &Error{URL: req.URL, Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	start := time.Now()
	eventbus.Publish(ctx, events.UpstreamStart{Method: req.Method, URL: req.URL})

	resp, err := c.http.Do(httpReq)
	if err != nil {
		eventbus.Publish(ctx, events.UpstreamFinish{Method: req.Method, URL: req.URL, Err: err, Duration: time.Since(start)})
		return nil, &Error{URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	reader, err := bodyReader(resp)
	if err != nil {
		eventbus.Publish(ctx, events.UpstreamFinish{Method: req.Method, URL: req.URL, Status: resp.StatusCode, Err: err, Duration: time.Since(start)})
		return nil, &Error{URL: req.URL, Err: err}
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		eventbus.Publish(ctx, events.UpstreamFinish{Method: req.Method, URL: req.URL, Status: resp.StatusCode, Err: err, Duration: time.Since(start)})
		return nil, &Error{URL: req.URL, Err: err}
	}

	eventbus.Publish(ctx, events.UpstreamFinish{Method: req.Method, URL: req.URL, Status: resp.StatusCode, Duration: time.Since(start)})
	c.log.Debug("upstream call",
		abstractlogger.String("method", req.Method),
		abstractlogger.String("url", req.URL),
		abstractlogger.Int("status", resp.StatusCode),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{URL: req.URL, Status: resp.StatusCode}
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func bodyReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		return flate.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}
