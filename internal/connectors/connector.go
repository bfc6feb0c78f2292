// Package connectors defines the ingestion contract for live game telemetry
// plus the concrete source adapters.
//
// Every connector owns one receive goroutine and a bounded message queue.
// Registered callbacks run synchronously, in registration order, on the
// connector's own goroutine; a failing callback is isolated and logged,
// never propagated. Queue inserts shed on a full queue instead of blocking
// the receive loop.
package connectors

import (
	"context"
	"time"

	"github.com/okian/courtside/internal/domain/model"
)

// Status is the connector lifecycle state.
type Status int

// Connector states.
const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
	StatusReconnecting
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Default connector configuration constants.
const (
	defaultReconnectAttempts = 3
	defaultReconnectDelay    = 5 * time.Second
	defaultTimeout           = 30 * time.Second
	defaultBufferSize        = 1000
	defaultPollInterval      = 2 * time.Second

	// joinTimeout bounds how long Disconnect waits for the receive
	// goroutine before abandoning the join.
	joinTimeout = 5 * time.Second
)

// Config is per-connector construction-time configuration.
type Config struct {
	Endpoint          string
	AuthToken         string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Timeout           time.Duration
	BufferSize        int
	PollInterval      time.Duration // REST polling cadence
}

// withDefaults fills zero fields with defaults.
func (c Config) withDefaults() Config {
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = defaultReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	return c
}

// Callback consumes one message on the connector's receive goroutine.
type Callback func(msg model.DataMessage)

// Stats is a point-in-time connector activity summary.
type Stats struct {
	Status            Status
	MessagesReceived  int64
	MessagesDropped   int64
	Errors            int64
	ReconnectAttempts int64
	LastMessageAt     time.Time
}

// Connector is the ingestion contract implemented by all source adapters.
type Connector interface {
	// Name identifies the connector within a manager.
	Name() string

	// Connect establishes the source connection and starts the receive
	// loop. Transient dial failures are retried internally up to the
	// configured attempts; the returned error reports final failure.
	Connect(ctx context.Context) error

	// Disconnect stops the receive loop and joins it with a bounded
	// timeout. Safe to call repeatedly.
	Disconnect()

	// Status returns the current lifecycle state.
	Status() Status

	// RegisterCallback appends a consumer run for every message, in
	// registration order, on the connector's receive goroutine.
	RegisterCallback(cb Callback)

	// GetMessage pulls one queued message, waiting up to timeout.
	GetMessage(timeout time.Duration) (model.DataMessage, bool)

	// Stats returns current counters.
	Stats() Stats
}
