package dataloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/weavegql/weave/internal/dynamic"
	"github.com/weavegql/weave/internal/endpoint"
	"github.com/weavegql/weave/internal/expr"
	"github.com/weavegql/weave/internal/httpcache"
	"github.com/weavegql/weave/internal/upstream"
)

type countingUpstream struct {
	srv   *httptest.Server
	calls atomic.Int64

	mu   sync.Mutex
	urls []string
}

func newCountingUpstream(t *testing.T, handler http.HandlerFunc) *countingUpstream {
	t.Helper()
	cu := &countingUpstream{}
	cu.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cu.calls.Add(1)
		cu.mu.Lock()
		cu.urls = append(cu.urls, r.URL.String())
		cu.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(cu.srv.Close)
	return cu
}

func get(u string) endpoint.Request {
	return endpoint.Request{Method: http.MethodGet, URL: u, Header: http.Header{}}
}

func newLoader(cu *countingUpstream, cache *httpcache.Cache, opts Options) *Loader {
	return New(context.Background(), upstream.NewClient(), cache, opts)
}

func TestCall_DedupSingleUpstreamCall(t *testing.T) {
	cu := newCountingUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte(`{"id":1}`))
	})
	l := newLoader(cu, nil, Options{})

	var g errgroup.Group
	results := make([]dynamic.Value, 5)
	for i := 0; i < 5; i++ {
		i := i
		g.Go(func() error {
			v, err := l.Call(context.Background(), get(cu.srv.URL+"/users/1"))
			results[i] = v
			return err
		})
	}
	require.NoError(t, g.Wait())
	require.EqualValues(t, 1, cu.calls.Load())
	for _, v := range results {
		require.True(t, dynamic.Equal(v, dynamic.RecordOf("id", dynamic.Int(1))))
	}
}

func TestCall_DistinctFingerprintsAreSeparate(t *testing.T) {
	cu := newCountingUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	l := newLoader(cu, nil, Options{})

	_, err := l.Call(context.Background(), get(cu.srv.URL+"/a"))
	require.NoError(t, err)
	_, err = l.Call(context.Background(), get(cu.srv.URL+"/b"))
	require.NoError(t, err)
	require.EqualValues(t, 2, cu.calls.Load())
}

func TestCall_MemoizedForRequestLifetime(t *testing.T) {
	cu := newCountingUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"n":1}`))
	})
	l := newLoader(cu, nil, Options{})

	for i := 0; i < 3; i++ {
		_, err := l.Call(context.Background(), get(cu.srv.URL+"/same"))
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, cu.calls.Load())
}

func TestCall_CacheShortCircuitsDedup(t *testing.T) {
	cu := newCountingUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=60")
		w.Write([]byte(`{"cached":true}`))
	})
	cache, err := httpcache.New(8)
	require.NoError(t, err)

	// Two separate requests (two loaders), one upstream call.
	l1 := New(context.Background(), upstream.NewClient(), cache, Options{})
	_, err = l1.Call(context.Background(), get(cu.srv.URL+"/x"))
	require.NoError(t, err)

	l2 := New(context.Background(), upstream.NewClient(), cache, Options{})
	v, err := l2.Call(context.Background(), get(cu.srv.URL+"/x"))
	require.NoError(t, err)
	require.True(t, dynamic.Equal(v, dynamic.RecordOf("cached", dynamic.Bool(true))))
	require.EqualValues(t, 1, cu.calls.Load())
}

func TestCallBatched_GroupByCoalesces(t *testing.T) {
	cu := newCountingUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, []string{"1", "2"}, r.URL.Query()["fooId"])
		// Upstream reorders; distribution must index, not zip.
		w.Write([]byte(`[{"fooId":2,"id":20},{"fooId":1,"id":10}]`))
	})
	l := newLoader(cu, nil, Options{Delay: 10 * time.Millisecond})
	group := expr.Group{Key: "fooId", BatchKey: []string{"fooId"}}

	var g errgroup.Group
	var v1, v2 dynamic.Value
	g.Go(func() error {
		v, err := l.CallBatched(context.Background(), get(cu.srv.URL+"/bars?fooId=1"), group)
		v1 = v
		return err
	})
	g.Go(func() error {
		time.Sleep(2 * time.Millisecond)
		v, err := l.CallBatched(context.Background(), get(cu.srv.URL+"/bars?fooId=2"), group)
		v2 = v
		return err
	})
	require.NoError(t, g.Wait())
	require.EqualValues(t, 1, cu.calls.Load())
	require.True(t, dynamic.Equal(v1, dynamic.RecordOf("fooId", dynamic.Int(1), "id", dynamic.Int(10))))
	require.True(t, dynamic.Equal(v2, dynamic.RecordOf("fooId", dynamic.Int(2), "id", dynamic.Int(20))))
}

func TestCallBatched_NoMatchIsNull(t *testing.T) {
	cu := newCountingUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"fooId":1,"id":10}]`))
	})
	l := newLoader(cu, nil, Options{Delay: 5 * time.Millisecond})
	group := expr.Group{Key: "fooId", BatchKey: []string{"fooId"}}

	var g errgroup.Group
	var v1, v2 dynamic.Value
	g.Go(func() error {
		v, err := l.CallBatched(context.Background(), get(cu.srv.URL+"/bars?fooId=1"), group)
		v1 = v
		return err
	})
	g.Go(func() error {
		v, err := l.CallBatched(context.Background(), get(cu.srv.URL+"/bars?fooId=9"), group)
		v2 = v
		return err
	})
	require.NoError(t, g.Wait())
	require.True(t, dynamic.Equal(v1, dynamic.RecordOf("fooId", dynamic.Int(1), "id", dynamic.Int(10))))
	require.True(t, dynamic.Equal(v2, dynamic.Null{}))
}

func TestCallBatched_ExpectListGetsAllRows(t *testing.T) {
	cu := newCountingUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"userId":1,"id":"a"},{"userId":1,"id":"b"}]`))
	})
	l := newLoader(cu, nil, Options{Delay: 5 * time.Millisecond})
	group := expr.Group{Key: "userId", BatchKey: []string{"userId"}, ExpectList: true}

	v, err := l.CallBatched(context.Background(), get(cu.srv.URL+"/posts?userId=1"), group)
	require.NoError(t, err)
	list, ok := v.(dynamic.List)
	require.True(t, ok)
	require.Len(t, list, 2)
}

func TestCallBatched_MaxSizeClosesEarly(t *testing.T) {
	cu := newCountingUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"k":1},{"k":2}]`))
	})
	// Delay long enough that only maxSize can close the window in time.
	l := newLoader(cu, nil, Options{Delay: 10 * time.Second, MaxSize: 2})
	group := expr.Group{Key: "k", BatchKey: []string{"k"}}

	start := time.Now()
	var g errgroup.Group
	g.Go(func() error {
		_, err := l.CallBatched(context.Background(), get(cu.srv.URL+"/x?k=1"), group)
		return err
	})
	g.Go(func() error {
		_, err := l.CallBatched(context.Background(), get(cu.srv.URL+"/x?k=2"), group)
		return err
	})
	require.NoError(t, g.Wait())
	require.Less(t, time.Since(start), 5*time.Second)
	require.EqualValues(t, 1, cu.calls.Load())
}

func TestCallBatched_FailureFailsWholeWindow(t *testing.T) {
	cu := newCountingUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	})
	l := newLoader(cu, nil, Options{Delay: 5 * time.Millisecond})
	group := expr.Group{Key: "k", BatchKey: []string{"k"}}

	var g errgroup.Group
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		g.Go(func() error {
			_, err := l.CallBatched(context.Background(), get(cu.srv.URL+"/x?k="+string(rune('1'+i))), group)
			errs[i] = err
			return nil
		})
	}
	require.NoError(t, g.Wait())
	for _, err := range errs {
		var be *BatchError
		require.ErrorAs(t, err, &be)
		require.Equal(t, 2, be.Size)
	}
}

func TestCallBatched_BodyBatchPositional(t *testing.T) {
	cu := newCountingUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"data":{"post":{"id":3}}},{"data":{"post":{"id":5}}}]`))
	})
	l := newLoader(cu, nil, Options{Delay: 10 * time.Millisecond})
	group := expr.Group{} // no query group: body-array batching

	mk := func(id string) endpoint.Request {
		return endpoint.Request{
			Method: http.MethodPost,
			URL:    cu.srv.URL + "/graphql",
			Header: http.Header{},
			Body:   []byte(`{"query":"query{post(id:` + id + `){id}}"}`),
		}
	}

	var g errgroup.Group
	var v1, v2 dynamic.Value
	g.Go(func() error {
		v, err := l.CallBatched(context.Background(), mk("3"), group)
		v1 = v
		return err
	})
	g.Go(func() error {
		time.Sleep(2 * time.Millisecond)
		v, err := l.CallBatched(context.Background(), mk("5"), group)
		v2 = v
		return err
	})
	require.NoError(t, g.Wait())
	require.EqualValues(t, 1, cu.calls.Load())

	id1, _ := dynamic.Path(v1, []string{"data", "post", "id"})
	id2, _ := dynamic.Path(v2, []string{"data", "post", "id"})
	require.Equal(t, dynamic.Int(3), id1)
	require.Equal(t, dynamic.Int(5), id2)
}

func TestCallBatched_BodyBatchArityMismatchFailsAll(t *testing.T) {
	cu := newCountingUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"only":"one"}]`))
	})
	l := newLoader(cu, nil, Options{Delay: 10 * time.Millisecond})

	mk := func(id string) endpoint.Request {
		return endpoint.Request{Method: http.MethodPost, URL: cu.srv.URL + "/graphql", Header: http.Header{}, Body: []byte(`{"id":` + id + `}`)}
	}

	var g errgroup.Group
	errs := make([]error, 2)
	g.Go(func() error {
		_, err := l.CallBatched(context.Background(), mk("1"), expr.Group{})
		errs[0] = err
		return nil
	})
	g.Go(func() error {
		time.Sleep(2 * time.Millisecond)
		_, err := l.CallBatched(context.Background(), mk("2"), expr.Group{})
		errs[1] = err
		return nil
	})
	require.NoError(t, g.Wait())
	for _, err := range errs {
		var be *BatchError
		require.ErrorAs(t, err, &be)
	}
}

func TestCallBatched_CallerCancellation(t *testing.T) {
	cu := newCountingUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	l := newLoader(cu, nil, Options{Delay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.CallBatched(ctx, get(cu.srv.URL+"/x?k=1"), expr.Group{Key: "k", BatchKey: []string{"k"}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestMergeGroupRequests_GroupValuesInArrivalOrder(t *testing.T) {
	entries := []*windowEntry{
		{req: get("http://x/bars?fooId=2&page=1")},
		{req: get("http://x/bars?fooId=1&page=1")},
	}
	merged, err := mergeGroupRequests(entries, "fooId")
	require.NoError(t, err)
	u, err := url.Parse(merged.URL)
	require.NoError(t, err)
	require.Equal(t, []string{"2", "1"}, u.Query()["fooId"])
	require.Equal(t, "1", u.Query().Get("page"))
}
