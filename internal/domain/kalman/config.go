package kalman

import "github.com/okian/courtside/internal/domain/gamestate"

// Default filter configuration constants.
const (
	defaultProcessNoiseStd       = 0.1
	defaultMeasurementNoiseStd   = 0.5
	defaultInitialUncertaintyStd = 5.0
	defaultMinScoreRate          = 0.5
	defaultMaxScoreRate          = 3.0
	defaultMinProb               = 0.01
	defaultMaxProb               = 0.99
	defaultScoreRate             = 2.0 // points per minute seed when no rates observed yet
	defaultTimeRemaining         = 48.0
)

// Config holds filter noise parameters and constraint bounds.
// It is immutable after construction.
type Config struct {
	processNoiseStd       float64
	measurementNoiseStd   float64
	initialUncertaintyStd float64
	bounds                gamestate.Bounds
}

// Option applies a configuration option to the Config.
type Option func(*Config)

// WithProcessNoiseStd sets the process noise standard deviation.
func WithProcessNoiseStd(std float64) Option {
	return func(c *Config) {
		if std > 0 {
			c.processNoiseStd = std
		}
	}
}

// WithMeasurementNoiseStd sets the measurement noise standard deviation.
func WithMeasurementNoiseStd(std float64) Option {
	return func(c *Config) {
		if std > 0 {
			c.measurementNoiseStd = std
		}
	}
}

// WithInitialUncertaintyStd sets the initial state uncertainty.
func WithInitialUncertaintyStd(std float64) Option {
	return func(c *Config) {
		if std > 0 {
			c.initialUncertaintyStd = std
		}
	}
}

// WithScoreRateBounds sets the admissible scoring rate range.
func WithScoreRateBounds(minRate, maxRate float64) Option {
	return func(c *Config) {
		if minRate > 0 && maxRate > minRate {
			c.bounds.MinScoreRate = minRate
			c.bounds.MaxScoreRate = maxRate
		}
	}
}

// WithProbBounds sets the admissible win probability range.
func WithProbBounds(minProb, maxProb float64) Option {
	return func(c *Config) {
		if minProb > 0 && maxProb > minProb && maxProb < 1 {
			c.bounds.MinProb = minProb
			c.bounds.MaxProb = maxProb
		}
	}
}

// NewConfig builds a Config from defaults plus options.
func NewConfig(opts ...Option) Config {
	c := Config{
		processNoiseStd:       defaultProcessNoiseStd,
		measurementNoiseStd:   defaultMeasurementNoiseStd,
		initialUncertaintyStd: defaultInitialUncertaintyStd,
		bounds: gamestate.Bounds{
			MinScoreRate: defaultMinScoreRate,
			MaxScoreRate: defaultMaxScoreRate,
			MinProb:      defaultMinProb,
			MaxProb:      defaultMaxProb,
		},
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Bounds returns the constraint envelope applied to every derived state.
func (c Config) Bounds() gamestate.Bounds {
	return c.bounds
}
