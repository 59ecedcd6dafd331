// Package registry is the in-memory blueprint store behind the admin API.
// Blueprints are content-addressed: the key is the digest of the canonical
// encoding, so publishing the same schema twice is a no-op.
package registry

import (
	"sort"
	"sync"

	"github.com/weavegql/weave/internal/blueprint"
)

// Entry pairs a published blueprint with its digest.
type Entry struct {
	Digest    blueprint.Digest
	Blueprint *blueprint.Blueprint
}

type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func New() *Registry {
	return &Registry{entries: map[string]*Entry{}}
}

// Put publishes a blueprint and returns its digest. Re-publishing an already
// stored blueprint returns the existing digest.
func (r *Registry) Put(bp *blueprint.Blueprint) (blueprint.Digest, error) {
	digest, err := blueprint.ComputeDigest(bp)
	if err != nil {
		return blueprint.Digest{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[digest.Hex]; !ok {
		r.entries[digest.Hex] = &Entry{Digest: digest, Blueprint: bp}
	}
	return digest, nil
}

// Get returns the blueprint stored under the digest hex, or nil.
func (r *Registry) Get(hex string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[hex]
}

// Drop removes the blueprint stored under the digest hex and reports whether
// it was present.
func (r *Registry) Drop(hex string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[hex]
	delete(r.entries, hex)
	return ok
}

// List returns every stored entry ordered by digest hex.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Digest.Hex < out[j].Digest.Hex })
	return out
}

// Len reports the number of stored blueprints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
