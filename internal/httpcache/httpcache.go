// Package httpcache is the process-wide TTL cache for upstream GET responses.
// TTLs derive from Cache-Control/Expires per RFC 7234; entries expire lazily
// on read. The cache sits in front of the data loader: a hit short-circuits
// fingerprint deduplication.
package httpcache

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const DefaultSize = 1024

type Cache struct {
	store *lru.Cache
	now   func() time.Time
}

type entry struct {
	body    []byte
	expires time.Time
}

func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	store, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{store: store, now: time.Now}, nil
}

// Get returns the cached body for (method, url). Expired entries are evicted
// on the way out.
func (c *Cache) Get(method, url string) ([]byte, bool) {
	if c == nil || method != http.MethodGet {
		return nil, false
	}
	v, ok := c.store.Get(cacheKey(method, url))
	if !ok {
		return nil, false
	}
	e := v.(entry)
	if c.now().After(e.expires) {
		c.store.Remove(cacheKey(method, url))
		return nil, false
	}
	return e.body, true
}

// Put stores a successful GET response if its headers allow caching.
// Failures are never stored; callers only pass 2xx responses.
func (c *Cache) Put(method, url string, header http.Header, body []byte) {
	if c == nil || method != http.MethodGet {
		return
	}
	ttl, ok := TTL(header, c.now())
	if !ok {
		return
	}
	c.store.Add(cacheKey(method, url), entry{body: body, expires: c.now().Add(ttl)})
}

// PutFor stores a GET response with an explicit lifetime, overriding whatever
// the response headers would have allowed.
func (c *Cache) PutFor(method, url string, body []byte, ttl time.Duration) {
	if c == nil || method != http.MethodGet || ttl <= 0 {
		return
	}
	c.store.Add(cacheKey(method, url), entry{body: body, expires: c.now().Add(ttl)})
}

func (c *Cache) Len() int { return c.store.Len() }

func cacheKey(method, url string) string { return method + " " + url }

// TTL derives the freshness lifetime from response headers:
//
//	Cache-Control max-age=N without private/no-store  -> N seconds
//	otherwise Expires: <HTTP-date>                    -> expires - now
//	Expires: -1, max-age=0, private, no-store         -> not cacheable
//
// Cache-Control max-age wins over Expires when both are present.
func TTL(header http.Header, now time.Time) (time.Duration, bool) {
	cc := header.Get("Cache-Control")
	if cc != "" {
		directives := parseCacheControl(cc)
		if _, ok := directives["private"]; ok {
			return 0, false
		}
		if _, ok := directives["no-store"]; ok {
			return 0, false
		}
		if _, ok := directives["no-cache"]; ok {
			return 0, false
		}
		if raw, ok := directives["max-age"]; ok {
			secs, err := strconv.Atoi(raw)
			if err != nil || secs <= 0 {
				return 0, false
			}
			return time.Duration(secs) * time.Second, true
		}
	}

	exp := header.Get("Expires")
	if exp == "" || exp == "-1" || exp == "0" {
		return 0, false
	}
	t, err := http.ParseTime(exp)
	if err != nil {
		return 0, false
	}
	ttl := t.Sub(now)
	if ttl <= 0 {
		return 0, false
	}
	return ttl, true
}

func parseCacheControl(v string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, '='); i >= 0 {
			out[strings.ToLower(part[:i])] = strings.Trim(part[i+1:], `" `)
		} else {
			out[strings.ToLower(part)] = ""
		}
	}
	return out
}
