package events

import "time"

// UpstreamStart is emitted before an upstream HTTP call leaves the process.
type UpstreamStart struct {
	Method string
	URL    string
	// Batched reports whether the call left through a batch window.
	Batched bool
	// Size is the number of logical callers behind this physical call.
	Size int
}

// UpstreamFinish is emitted after an upstream HTTP call completes.
type UpstreamFinish struct {
	Method   string
	URL      string
	Status   int
	Err      error
	Duration time.Duration
}

// CacheLookup is emitted on every HTTP cache probe.
type CacheLookup struct {
	URL string
	Hit bool
}

// BatchWindowClose is emitted when a batch window flushes, either because its
// delay elapsed or because it reached maxSize.
type BatchWindowClose struct {
	URL     string
	Size    int
	MaxHit  bool
	Waited  time.Duration
}

// DedupJoin is emitted when a logical call joins an already in-flight
// physical call instead of issuing its own.
type DedupJoin struct {
	Method string
	URL    string
}
