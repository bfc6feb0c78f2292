// Package config defines process configuration and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load(ctx) layers defaults, an optional YAML file, and env vars.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"context"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// OpsAddr configures the operational HTTP listen address serving
	// health and metrics, e.g. ":9090".
	OpsAddr string `koanf:"ops_addr"`

	// HistorySize bounds the in-memory prediction history.
	HistorySize int `koanf:"history_size"`

	// DedupeSize bounds the message-id deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	Connector ConnectorConfig `koanf:"connector"`
	Kalman    KalmanConfig    `koanf:"kalman"`
	Simulator SimulatorConfig `koanf:"simulator"`
}

// Connector modes.
const (
	ModeMock      = "mock"
	ModeWebSocket = "websocket"
	ModeREST      = "rest"
)

// ConnectorConfig configures the telemetry source.
type ConnectorConfig struct {
	// Mode selects the source adapter: mock, websocket, or rest.
	Mode string `koanf:"mode"`

	// Endpoint is the feed URL; unused in mock mode.
	Endpoint string `koanf:"endpoint"`

	// AuthToken is sent as a bearer token when non-empty.
	AuthToken string `koanf:"auth_token"`

	// ReconnectAttempts bounds the reconnect cycle after a drop.
	ReconnectAttempts int `koanf:"reconnect_attempts"`

	// ReconnectDelayS is the fixed delay between attempts, in seconds.
	ReconnectDelayS float64 `koanf:"reconnect_delay_s"`

	// TimeoutS bounds dials and HTTP requests, in seconds.
	TimeoutS float64 `koanf:"timeout_s"`

	// BufferSize bounds the per-connector message queue.
	BufferSize int `koanf:"buffer_size"`

	// PollIntervalS is the REST polling cadence, in seconds.
	PollIntervalS float64 `koanf:"poll_interval_s"`

	// MockRateHz is the synthetic feed rate in mock mode.
	MockRateHz float64 `koanf:"mock_rate_hz"`
}

// ReconnectDelay returns the delay as a duration.
func (c ConnectorConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayS * float64(time.Second))
}

// Timeout returns the timeout as a duration.
func (c ConnectorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutS * float64(time.Second))
}

// PollInterval returns the polling cadence as a duration.
func (c ConnectorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalS * float64(time.Second))
}

// KalmanConfig tunes the score tracking filter.
type KalmanConfig struct {
	ProcessNoiseStd     float64 `koanf:"process_noise_std"`
	MeasurementNoiseStd float64 `koanf:"measurement_noise_std"`
	InitialUncertainty  float64 `koanf:"initial_uncertainty"`
	MinScoreRate        float64 `koanf:"min_score_rate"`
	MaxScoreRate        float64 `koanf:"max_score_rate"`
	MinWinProb          float64 `koanf:"min_win_prob"`
	MaxWinProb          float64 `koanf:"max_win_prob"`
}

// SimulatorConfig tunes simulation pacing and publication gating.
type SimulatorConfig struct {
	// MinUpdateIntervalS floors the wall-clock gap between processed
	// events when deriving filter time steps, in seconds.
	MinUpdateIntervalS float64 `koanf:"min_update_interval_s"`

	// ModelWeight blends an external final-score model with the filter
	// projection; 0 ignores the model, 1 ignores the filter.
	ModelWeight float64 `koanf:"model_weight"`

	// SignificantScoreChange is the score-differential delta that
	// forces an update publication.
	SignificantScoreChange float64 `koanf:"significant_score_change"`

	// SignificantProbChange is the win-probability delta that forces
	// an update publication.
	SignificantProbChange float64 `koanf:"significant_prob_change"`
}

// MinUpdateInterval returns the pacing floor as a duration.
func (c SimulatorConfig) MinUpdateInterval() time.Duration {
	return time.Duration(c.MinUpdateIntervalS * float64(time.Second))
}

// New creates a Config with defaults. Context is accepted first to
// satisfy the project-wide convention; it is reserved for future use.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:    "info",
		OpsAddr:     ":9090",
		HistorySize: 1000,
		DedupeSize:  100_000,
		Connector: ConnectorConfig{
			Mode:              ModeMock,
			ReconnectAttempts: 3,
			ReconnectDelayS:   5.0,
			TimeoutS:          30.0,
			BufferSize:        1000,
			PollIntervalS:     2.0,
			MockRateHz:        10.0,
		},
		Kalman: KalmanConfig{
			ProcessNoiseStd:     0.1,
			MeasurementNoiseStd: 0.5,
			InitialUncertainty:  5.0,
			MinScoreRate:        0.5,
			MaxScoreRate:        3.0,
			MinWinProb:          0.01,
			MaxWinProb:          0.99,
		},
		Simulator: SimulatorConfig{
			MinUpdateIntervalS:     1.0,
			ModelWeight:            0.5,
			SignificantScoreChange: 5.0,
			SignificantProbChange:  0.1,
		},
	}
}
