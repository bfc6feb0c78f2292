// Package dedupe defines the interface for message idempotency tracking.
package dedupe

// Option applies a configuration option to the ring deduper.
type Option func(*ringDeduper)

// WithMaxSize sets the maximum number of IDs to keep in memory.
// If maxSize > 0: bounded mode with FIFO eviction.
// If maxSize <= 0: unbounded mode (no eviction, no size limit).
func WithMaxSize(maxSize int) Option {
	return func(d *ringDeduper) {
		d.maxSize = maxSize
	}
}
