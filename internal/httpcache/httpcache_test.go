package httpcache

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func header(pairs ...string) http.Header {
	h := http.Header{}
	for i := 0; i < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

func TestTTL_Table(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	later := now.Add(1000 * time.Second).UTC().Format(http.TimeFormat)
	past := now.Add(-10 * time.Second).UTC().Format(http.TimeFormat)

	cases := []struct {
		name    string
		h       http.Header
		want    time.Duration
		cached  bool
	}{
		{"max-age", header("Cache-Control", "max-age=1000"), 1000 * time.Second, true},
		{"max-age private", header("Cache-Control", "max-age=1000, private"), 0, false},
		{"no-store", header("Cache-Control", "no-store, max-age=1000"), 0, false},
		{"max-age zero", header("Cache-Control", "max-age=0"), 0, false},
		{"expires only", header("Expires", later), 1000 * time.Second, true},
		{"expires -1", header("Expires", "-1"), 0, false},
		{"expires past", header("Expires", past), 0, false},
		{"both present", header("Cache-Control", "max-age=30", "Expires", later), 30 * time.Second, true},
		{"nothing", header(), 0, false},
		{"unrelated cc falls back to expires", header("Cache-Control", "public", "Expires", later), 1000 * time.Second, true},
	}
	for _, tc := range cases {
		ttl, ok := TTL(tc.h, now)
		require.Equal(t, tc.cached, ok, tc.name)
		if tc.cached {
			require.Equal(t, tc.want, ttl, tc.name)
		}
	}
}

func TestCache_PutGet(t *testing.T) {
	c, err := New(8)
	require.NoError(t, err)

	c.Put(http.MethodGet, "http://x/users/1", header("Cache-Control", "max-age=60"), []byte(`{"id":1}`))
	body, ok := c.Get(http.MethodGet, "http://x/users/1")
	require.True(t, ok)
	require.Equal(t, `{"id":1}`, string(body))

	_, ok = c.Get(http.MethodGet, "http://x/users/2")
	require.False(t, ok)
}

func TestCache_OnlyGET(t *testing.T) {
	c, err := New(8)
	require.NoError(t, err)

	c.Put(http.MethodPost, "http://x/users", header("Cache-Control", "max-age=60"), []byte("{}"))
	_, ok := c.Get(http.MethodPost, "http://x/users")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestCache_UncacheableNotStored(t *testing.T) {
	c, err := New(8)
	require.NoError(t, err)

	c.Put(http.MethodGet, "http://x/a", header("Cache-Control", "private, max-age=60"), []byte("{}"))
	c.Put(http.MethodGet, "http://x/b", header(), []byte("{}"))
	require.Equal(t, 0, c.Len())
}

func TestCache_LazyExpiry(t *testing.T) {
	c, err := New(8)
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Put(http.MethodGet, "http://x/a", header("Cache-Control", "max-age=10"), []byte("{}"))
	_, ok := c.Get(http.MethodGet, "http://x/a")
	require.True(t, ok)

	now = now.Add(11 * time.Second)
	_, ok = c.Get(http.MethodGet, "http://x/a")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}
