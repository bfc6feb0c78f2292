package feedsim

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/okian/courtside/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging configures logging to both console and file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string) error {
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if logFile == "" {
		timestamp := time.Now().Format("20060102_150405")
		logFile = "feedsim_log_" + timestamp + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	multiWriter := io.MultiWriter(os.Stdout, file)
	log.SetOutput(multiWriter)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the feed simulator.
func ShowHelp() {
	os.Stdout.WriteString(`Courtside Feed Simulator
========================

Replays scripted basketball games as a live telemetry feed, either over
a websocket endpoint or into a JSON file.

Usage:
  go run cmd/feed-sim/main.go [options]

Options:
  -scenario string
        Game script: close_game, blowout, or comeback (default "close_game")
  -drive
        Replay the game through an in-process predictor and report how
        the significance gate behaved, instead of serving a feed
  -game string
        Game identifier stamped on every message (default "sim-game-1")
  -addr string
        Listen address for the websocket feed; empty disables serving (default ":9081")
  -rate float
        Messages per second in serve mode (default 10)
  -seed int
        RNG seed; 0 picks a time-based seed
  -step float
        Game minutes consumed per message (default 0.25)
  -token string
        Bearer token clients must present; empty disables auth
  -output string
        Write the generated game to this JSON file
  -log string
        Log file for run output (default: feedsim_log_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Serve a close game on the default port
  go run cmd/feed-sim/main.go

  # Deterministic comeback written to a file, no server
  go run cmd/feed-sim/main.go -scenario comeback -seed 7 -addr "" -output comeback.json

  # Feed the predictor over websocket
  go run cmd/feed-sim/main.go -scenario blowout -addr :9081 -rate 25

  # Replay a comeback through the prediction pipeline
  go run cmd/feed-sim/main.go -scenario comeback -drive -rate 200
`)
}
