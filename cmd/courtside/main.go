package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/courtside/internal/app"
	"github.com/okian/courtside/internal/config"
	"github.com/okian/courtside/internal/connectors"
	"github.com/okian/courtside/internal/domain/kalman"
	"github.com/okian/courtside/internal/sim"
	"github.com/okian/courtside/internal/stream/analyzer"
	"github.com/okian/courtside/internal/stream/buffer"
	"github.com/okian/courtside/pkg/logger"
	"github.com/okian/courtside/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize logging
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	loggerInstance := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	met := metrics.NewManager()

	filter := kalman.New(kalman.NewConfig(
		kalman.WithProcessNoiseStd(cfg.Kalman.ProcessNoiseStd),
		kalman.WithMeasurementNoiseStd(cfg.Kalman.MeasurementNoiseStd),
		kalman.WithInitialUncertaintyStd(cfg.Kalman.InitialUncertainty),
		kalman.WithScoreRateBounds(cfg.Kalman.MinScoreRate, cfg.Kalman.MaxScoreRate),
		kalman.WithProbBounds(cfg.Kalman.MinWinProb, cfg.Kalman.MaxWinProb),
	), kalman.WithLogger(loggerInstance), kalman.WithMetrics(met))

	simulator := sim.New(filter,
		sim.WithLogger(loggerInstance),
		sim.WithMetrics(met),
		sim.WithMinUpdateInterval(cfg.Simulator.MinUpdateInterval()),
		sim.WithSignificanceThresholds(cfg.Simulator.SignificantScoreChange, cfg.Simulator.SignificantProbChange),
	)

	manager := connectors.NewManager(loggerInstance)
	connector, err := buildConnector(cfg, loggerInstance, met)
	if err != nil {
		os.Stderr.WriteString("failed to build connector: " + err.Error() + "\n")
		return
	}
	if err := manager.AddConnector(connector); err != nil {
		os.Stderr.WriteString("failed to register connector: " + err.Error() + "\n")
		return
	}

	streamAnalyzer := analyzer.New(
		buffer.New(buffer.WithMaxSize(cfg.HistorySize), buffer.WithMetrics(met)),
		analyzer.WithLogger(loggerInstance),
	)

	predictor := app.New(simulator, manager,
		app.WithLogger(loggerInstance),
		app.WithMetrics(met),
		app.WithHistorySize(cfg.HistorySize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithAnalyzer(streamAnalyzer),
	)
	if err := predictor.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start predictor: " + err.Error() + "\n")
		return
	}
	defer predictor.Stop()

	// Start system metrics updater
	go startSystemMetricsUpdater(ctx, met)

	// Ops mux: health and metrics.
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		loggerInstance.Info(ctx, "starting ops server", logger.String("addr", cfg.OpsAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("ops server failed: " + err.Error() + "\n")
			return
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	loggerInstance.Info(ctx, "shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(ctx, "ops server shutdown failed", logger.Error(err))
	}

	loggerInstance.Info(ctx, "stopped")
}

// buildConnector constructs the ingest connector selected by configuration.
func buildConnector(cfg *config.Config, log logger.Logger, met *metrics.Manager) (connectors.Connector, error) {
	ccfg := connectors.Config{
		Endpoint:          cfg.Connector.Endpoint,
		AuthToken:         cfg.Connector.AuthToken,
		ReconnectAttempts: cfg.Connector.ReconnectAttempts,
		ReconnectDelay:    cfg.Connector.ReconnectDelay(),
		Timeout:           cfg.Connector.Timeout(),
		BufferSize:        cfg.Connector.BufferSize,
		PollInterval:      cfg.Connector.PollInterval(),
	}

	switch cfg.Connector.Mode {
	case config.ModeMock:
		return connectors.NewMockConnector("mock", ccfg, log, met,
			connectors.WithEventRate(cfg.Connector.MockRateHz)), nil
	case config.ModeWebSocket:
		return connectors.NewWebSocketConnector("websocket", ccfg, log, met), nil
	case config.ModeREST:
		return connectors.NewRESTConnector("rest", ccfg, log, met), nil
	default:
		return nil, config.ErrInvalidConfig
	}
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context, met *metrics.Manager) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics(met)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics(met *metrics.Manager) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	met.UpdateSystemMemoryUsage(m.Alloc)
	met.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		met.RecordSystemGCPauseTime(avgPauseMs)
	}
}
