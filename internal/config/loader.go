package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New(ctx))
//  2. file (YAML) if COURTSIDE_CONFIG is set
//  3. env (prefix COURTSIDE_)
//
// Env keys use a double underscore as the section separator:
// COURTSIDE_OPS_ADDR -> ops_addr, COURTSIDE_KALMAN__PROCESS_NOISE_STD ->
// kalman.process_noise_std.
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)

	k := koanf.New(".")

	if path := os.Getenv("COURTSIDE_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	envProvider := env.Provider("COURTSIDE_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "courtside_")
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.OpsAddr == "" {
		return fmt.Errorf("%w: ops_addr must not be empty", ErrInvalidConfig)
	}
	switch cfg.Connector.Mode {
	case ModeMock, ModeWebSocket, ModeREST:
	default:
		return fmt.Errorf("%w: unknown connector mode %q", ErrInvalidConfig, cfg.Connector.Mode)
	}
	if cfg.Connector.Mode != ModeMock && cfg.Connector.Endpoint == "" {
		return fmt.Errorf("%w: connector endpoint required for mode %q", ErrInvalidConfig, cfg.Connector.Mode)
	}
	if cfg.Kalman.ProcessNoiseStd <= 0 || cfg.Kalman.MeasurementNoiseStd <= 0 {
		return fmt.Errorf("%w: kalman noise parameters must be positive", ErrInvalidConfig)
	}
	if cfg.Kalman.MinScoreRate > cfg.Kalman.MaxScoreRate {
		return fmt.Errorf("%w: kalman score rate bounds inverted", ErrInvalidConfig)
	}
	if cfg.Kalman.MinWinProb >= cfg.Kalman.MaxWinProb {
		return fmt.Errorf("%w: kalman win probability bounds inverted", ErrInvalidConfig)
	}
	if w := cfg.Simulator.ModelWeight; w < 0 || w > 1 {
		return fmt.Errorf("%w: simulator model_weight must be in [0, 1]", ErrInvalidConfig)
	}
	if cfg.Simulator.SignificantScoreChange <= 0 || cfg.Simulator.SignificantProbChange <= 0 {
		return fmt.Errorf("%w: simulator significance thresholds must be positive", ErrInvalidConfig)
	}
	return nil
}
