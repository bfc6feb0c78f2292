package connectors

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by connectors and the manager.
var (
	// ErrAlreadyConnected is returned by Connect on a live connector.
	ErrAlreadyConnected = errors.New("connector already connected")

	// ErrNotConnected is returned by operations requiring a live
	// connection.
	ErrNotConnected = errors.New("connector not connected")

	// ErrConnectorExists is returned when adding a duplicate name to a
	// manager.
	ErrConnectorExists = errors.New("connector already registered")

	// ErrConnectorNotFound is returned when a manager lookup misses.
	ErrConnectorNotFound = errors.New("connector not found")

	// ErrReconnectExhausted is returned after all reconnect attempts
	// fail.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// TransientError wraps a failure that a retry may resolve, such as a
// dial timeout or a dropped read. Callers distinguish it from permanent
// failures with IsTransient.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. Returns nil for a nil err.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
