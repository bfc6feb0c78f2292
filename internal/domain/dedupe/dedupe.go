// Package dedupe defines the interface for message idempotency tracking.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper records seen message IDs to ensure at-most-once processing.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord removes an ID from the seen set, allowing a retry. Use when
	// a message was recorded but processing it failed.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// defaultMaxSize bounds the seen set when no option overrides it.
const defaultMaxSize = 100_000

// ringDeduper implements Deduper with a map for lookup and a fixed ring
// of ids for FIFO eviction. When the set is full the oldest recorded id
// is forgotten first, matching stream order: a duplicate of a recent
// message is far more likely than a replay of an ancient one.
//
// maxSize <= 0 selects unbounded mode: map only, no eviction.
type ringDeduper struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	ring    []string
	next    int
	maxSize int
	size    atomic.Int64
}

// NewRingDeduper creates a deduper with configuration options.
func NewRingDeduper(opts ...Option) Deduper {
	d := &ringDeduper{
		maxSize: defaultMaxSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]struct{})
	if d.maxSize > 0 {
		d.ring = make([]string, d.maxSize)
	}
	return d
}

func (d *ringDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; exists {
		return true
	}

	if d.maxSize > 0 {
		// evict whatever occupies the slot about to be reused
		if old := d.ring[d.next]; old != "" {
			delete(d.seen, old)
			d.size.Add(-1)
		}
		d.ring[d.next] = id
		d.next = (d.next + 1) % d.maxSize
	}
	d.seen[id] = struct{}{}
	d.size.Add(1)
	return false
}

func (d *ringDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; !exists {
		return
	}
	delete(d.seen, id)
	d.size.Add(-1)
	// clear the ring slot so eviction never double-decrements
	for i, v := range d.ring {
		if v == id {
			d.ring[i] = ""
			break
		}
	}
}

func (d *ringDeduper) Size() int64 {
	return d.size.Load()
}
