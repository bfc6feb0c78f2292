package sim

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrNotInitialized is returned by read operations before the first
	// observation arrives.
	ErrNotInitialized = errors.New("simulator not initialized")

	// ErrMissingScores is returned when a score update event carries no
	// usable score fields.
	ErrMissingScores = errors.New("event missing score fields")

	// ErrUnsupportedEvent is returned for event types the simulator does
	// not consume.
	ErrUnsupportedEvent = errors.New("unsupported event type")
)
