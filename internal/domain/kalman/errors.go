package kalman

import "errors"

// Sentinel kinds for filter errors.
var (
	// ErrNotInitialized is returned by operations that have no auto-init
	// path, such as PredictFinalScore on a fresh filter. Caller bug.
	ErrNotInitialized = errors.New("kalman filter not initialized")

	// ErrInvalidConfidence is returned for confidence levels outside (0, 1).
	ErrInvalidConfidence = errors.New("confidence must be in (0, 1)")
)
