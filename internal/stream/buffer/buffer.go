// Package buffer provides a thread-safe, bounded, age-limited event buffer
// with ring eviction semantics.
//
// All mutating and reading operations are serialized by a single mutex.
// Reads return copies, so callers iterate without holding the lock. Every
// insert is assigned a strictly increasing sequence id under the lock,
// giving a total order across producer goroutines.
package buffer

import (
	"sync"
	"time"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/pkg/metrics"
)

// Default buffer configuration constants.
const (
	defaultMaxSize = 1000
)

// Entry is a buffered event plus its buffer-assigned ordering metadata.
type Entry struct {
	SequenceID int64
	Timestamp  time.Time
	Event      model.StreamEvent
}

// Stats is a point-in-time summary of buffer activity.
type Stats struct {
	Size          int
	Capacity      int
	TotalInserted int64
	TotalEvicted  int64
	NextSequence  int64
}

// Buffer is a bounded, age-limited event ring.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	maxSize int
	maxAge  time.Duration // 0 = no age limit

	nextSeq       int64
	totalInserted int64
	totalEvicted  int64

	met *metrics.Manager
	now func() time.Time
}

// Option applies a configuration option to the Buffer.
type Option func(*Buffer)

// WithMaxSize bounds the number of retained events.
func WithMaxSize(size int) Option {
	return func(b *Buffer) {
		if size > 0 {
			b.maxSize = size
		}
	}
}

// WithMaxAge bounds the age of retained events. Expired entries are swept
// lazily on insert.
func WithMaxAge(age time.Duration) Option {
	return func(b *Buffer) {
		if age > 0 {
			b.maxAge = age
		}
	}
}

// WithMetrics sets the metrics manager the buffer records into.
func WithMetrics(m *metrics.Manager) Option {
	return func(b *Buffer) {
		b.met = m
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a buffer with configuration options.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		maxSize: defaultMaxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.entries = make([]Entry, 0, b.maxSize)
	if b.met != nil {
		b.met.UpdateBufferCapacity(b.maxSize)
		b.met.UpdateBufferSize(0)
		b.met.UpdateBufferUtilization(0)
	}
	return b
}

// Add inserts one event and returns its sequence id.
func (b *Buffer) Add(e model.StreamEvent) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.add(e)
}

// AddBatch inserts events in order and returns their sequence ids.
func (b *Buffer) AddBatch(events []model.StreamEvent) []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]int64, len(events))
	for i, e := range events {
		ids[i] = b.add(e)
	}
	return ids
}

// add performs the insert. Must be called with b.mu held.
func (b *Buffer) add(e model.StreamEvent) int64 {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = b.now()
	}

	b.sweepExpired()

	// ring semantics: evict oldest when full
	for len(b.entries) >= b.maxSize {
		b.entries = b.entries[1:]
		b.totalEvicted++
		if b.met != nil {
			b.met.RecordBufferEviction()
		}
	}

	b.nextSeq++
	b.totalInserted++
	b.entries = append(b.entries, Entry{SequenceID: b.nextSeq, Timestamp: ts, Event: e})

	if b.met != nil {
		b.met.UpdateBufferSize(len(b.entries))
		b.met.UpdateBufferUtilization(float64(len(b.entries)) / float64(b.maxSize))
	}
	return b.nextSeq
}

// sweepExpired drops entries older than maxAge from the front. Must be
// called with b.mu held.
func (b *Buffer) sweepExpired() {
	if b.maxAge <= 0 {
		return
	}
	cutoff := b.now().Add(-b.maxAge)
	i := 0
	for i < len(b.entries) && b.entries[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.totalEvicted += int64(i)
		b.entries = b.entries[i:]
		if b.met != nil {
			for n := 0; n < i; n++ {
				b.met.RecordBufferEviction()
			}
		}
	}
}

// GetRecent returns up to n most recent entries, oldest first.
func (b *Buffer) GetRecent(n int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || len(b.entries) == 0 {
		return nil
	}
	if n > len(b.entries) {
		n = len(b.entries)
	}
	out := make([]Entry, n)
	copy(out, b.entries[len(b.entries)-n:])
	return out
}

// GetByType returns all retained entries of the given event type.
func (b *Buffer) GetByType(t model.EventType) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Entry
	for _, e := range b.entries {
		if e.Event.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// GetWindow returns entries whose timestamps fall inside the trailing
// window.
func (b *Buffer) GetWindow(window time.Duration) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-window)
	var out []Entry
	for _, e := range b.entries {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the current number of retained entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Clear drops all retained entries. Sequence ids keep increasing.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = b.entries[:0]
	if b.met != nil {
		b.met.UpdateBufferSize(0)
		b.met.UpdateBufferUtilization(0)
	}
}

// Stats returns a point-in-time summary.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Size:          len(b.entries),
		Capacity:      b.maxSize,
		TotalInserted: b.totalInserted,
		TotalEvicted:  b.totalEvicted,
		NextSequence:  b.nextSeq + 1,
	}
}
