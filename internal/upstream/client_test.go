package upstream

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weavegql/weave/internal/endpoint"
)

func TestDo_JSONAcceptAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Accept"))
		require.Equal(t, "1", r.Header.Get("X-Token"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient()
	hdr := http.Header{}
	hdr.Set("X-Token", "1")
	resp, err := c.Do(context.Background(), endpoint.Request{Method: http.MethodGet, URL: srv.URL, Header: hdr})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestDo_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient().Do(context.Background(), endpoint.Request{Method: http.MethodGet, URL: srv.URL})
	var ue *Error
	require.ErrorAs(t, err, &ue)
	require.Equal(t, http.StatusBadGateway, ue.Status)
}

func TestDo_GzipResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte(`{"compressed":true}`))
		gz.Close()
	}))
	defer srv.Close()

	// Disable the transport's transparent decompression so ours is exercised.
	c := NewClient(WithHTTPClient(&http.Client{Transport: &http.Transport{DisableCompression: true}}))
	resp, err := c.Do(context.Background(), endpoint.Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	require.JSONEq(t, `{"compressed":true}`, string(resp.Body))
}

func TestDo_ConnectionRefused(t *testing.T) {
	_, err := NewClient().Do(context.Background(), endpoint.Request{Method: http.MethodGet, URL: "http://127.0.0.1:1/x"})
	var ue *Error
	require.ErrorAs(t, err, &ue)
}
