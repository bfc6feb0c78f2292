package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/courtside/internal/config"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.LogLevel, convey.ShouldEqual, "info")
				convey.So(cfg.OpsAddr, convey.ShouldEqual, ":9090")
				convey.So(cfg.Connector.Mode, convey.ShouldEqual, "mock")
				convey.So(cfg.Connector.ReconnectAttempts, convey.ShouldEqual, 3)
				convey.So(cfg.Connector.BufferSize, convey.ShouldEqual, 1000)
				convey.So(cfg.Kalman.ProcessNoiseStd, convey.ShouldEqual, 0.1)
				convey.So(cfg.Kalman.MeasurementNoiseStd, convey.ShouldEqual, 0.5)
				convey.So(cfg.Simulator.ModelWeight, convey.ShouldEqual, 0.5)
				convey.So(cfg.Simulator.SignificantScoreChange, convey.ShouldEqual, 5.0)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("COURTSIDE_OPS_ADDR", ":8080")
			_ = os.Setenv("COURTSIDE_DEDUPE_SIZE", "50000")
			_ = os.Setenv("COURTSIDE_CONNECTOR__MODE", "websocket")
			_ = os.Setenv("COURTSIDE_CONNECTOR__ENDPOINT", "ws://feed.example/games")
			_ = os.Setenv("COURTSIDE_CONNECTOR__RECONNECT_ATTEMPTS", "5")
			_ = os.Setenv("COURTSIDE_KALMAN__PROCESS_NOISE_STD", "0.2")
			_ = os.Setenv("COURTSIDE_SIMULATOR__MODEL_WEIGHT", "0.8")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.OpsAddr, convey.ShouldEqual, ":8080")
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 50000)
				convey.So(cfg.Connector.Mode, convey.ShouldEqual, "websocket")
				convey.So(cfg.Connector.Endpoint, convey.ShouldEqual, "ws://feed.example/games")
				convey.So(cfg.Connector.ReconnectAttempts, convey.ShouldEqual, 5)
				convey.So(cfg.Kalman.ProcessNoiseStd, convey.ShouldEqual, 0.2)
				convey.So(cfg.Simulator.ModelWeight, convey.ShouldEqual, 0.8)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
ops_addr: ":7070"
history_size: 500
connector:
  mode: rest
  endpoint: "https://feed.example/score"
  poll_interval_s: 1.5
kalman:
  measurement_noise_std: 0.75
simulator:
  significant_prob_change: 0.05
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("COURTSIDE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should merge file values over defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.OpsAddr, convey.ShouldEqual, ":7070")
				convey.So(cfg.HistorySize, convey.ShouldEqual, 500)
				convey.So(cfg.Connector.Mode, convey.ShouldEqual, "rest")
				convey.So(cfg.Connector.PollIntervalS, convey.ShouldEqual, 1.5)
				convey.So(cfg.Connector.BufferSize, convey.ShouldEqual, 1000) // default preserved
				convey.So(cfg.Kalman.MeasurementNoiseStd, convey.ShouldEqual, 0.75)
				convey.So(cfg.Kalman.ProcessNoiseStd, convey.ShouldEqual, 0.1) // default preserved
				convey.So(cfg.Simulator.SignificantProbChange, convey.ShouldEqual, 0.05)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
ops_addr: ":7070"
connector:
  mode: websocket
  endpoint: "ws://file.example"
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("COURTSIDE_CONFIG", tmpFile)
			_ = os.Setenv("COURTSIDE_OPS_ADDR", ":8080")
			_ = os.Setenv("COURTSIDE_CONNECTOR__ENDPOINT", "ws://env.example")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.OpsAddr, convey.ShouldEqual, ":8080")
				convey.So(cfg.Connector.Mode, convey.ShouldEqual, "websocket")
				convey.So(cfg.Connector.Endpoint, convey.ShouldEqual, "ws://env.example")
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("COURTSIDE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("COURTSIDE_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func TestConfigValidation(t *testing.T) {
	convey.Convey("Given config validation", t, func() {
		ctx := context.Background()

		cases := []struct {
			name string
			env  map[string]string
		}{
			{"empty ops addr", map[string]string{"COURTSIDE_OPS_ADDR": ""}},
			{"unknown connector mode", map[string]string{"COURTSIDE_CONNECTOR__MODE": "carrier-pigeon"}},
			{"websocket without endpoint", map[string]string{"COURTSIDE_CONNECTOR__MODE": "websocket"}},
			{"zero process noise", map[string]string{"COURTSIDE_KALMAN__PROCESS_NOISE_STD": "0"}},
			{"inverted rate bounds", map[string]string{"COURTSIDE_KALMAN__MIN_SCORE_RATE": "5.0"}},
			{"inverted prob bounds", map[string]string{"COURTSIDE_KALMAN__MIN_WIN_PROB": "0.99"}},
			{"model weight above one", map[string]string{"COURTSIDE_SIMULATOR__MODEL_WEIGHT": "1.5"}},
			{"negative significance", map[string]string{"COURTSIDE_SIMULATOR__SIGNIFICANT_PROB_CHANGE": "-0.1"}},
		}

		for _, tc := range cases {
			tc := tc
			convey.Convey("When loading with "+tc.name, func() {
				clearConfigEnvVars()
				for k, v := range tc.env {
					_ = os.Setenv(k, v)
				}
				defer clearConfigEnvVars()

				cfg, err := config.Load(ctx)

				convey.Convey("Then it should return a validation error", func() {
					convey.So(err, convey.ShouldNotBeNil)
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
					convey.So(cfg, convey.ShouldBeNil)
				})
			})
		}
	})
}

func TestDurationHelpers(t *testing.T) {
	convey.Convey("Given duration helpers", t, func() {
		ctx := context.Background()
		cfg := config.New(ctx)

		convey.Convey("Then second-valued fields convert to durations", func() {
			convey.So(cfg.Connector.ReconnectDelay().Seconds(), convey.ShouldEqual, 5.0)
			convey.So(cfg.Connector.Timeout().Seconds(), convey.ShouldEqual, 30.0)
			convey.So(cfg.Connector.PollInterval().Seconds(), convey.ShouldEqual, 2.0)
			convey.So(cfg.Simulator.MinUpdateInterval().Seconds(), convey.ShouldEqual, 1.0)
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"COURTSIDE_CONFIG",
		"COURTSIDE_OPS_ADDR",
		"COURTSIDE_HISTORY_SIZE",
		"COURTSIDE_DEDUPE_SIZE",
		"COURTSIDE_CONNECTOR__MODE",
		"COURTSIDE_CONNECTOR__ENDPOINT",
		"COURTSIDE_CONNECTOR__RECONNECT_ATTEMPTS",
		"COURTSIDE_KALMAN__PROCESS_NOISE_STD",
		"COURTSIDE_KALMAN__MIN_SCORE_RATE",
		"COURTSIDE_KALMAN__MIN_WIN_PROB",
		"COURTSIDE_SIMULATOR__MODEL_WEIGHT",
		"COURTSIDE_SIMULATOR__SIGNIFICANT_PROB_CHANGE",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "courtside-config-*.yaml")
	if err != nil {
		panic(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	if err := tmpFile.Close(); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
