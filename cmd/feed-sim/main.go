package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/courtside/internal/feedsim"
)

// Default configuration constants.
const (
	defaultScenario = "close_game"
	defaultGameID   = "sim-game-1"
	defaultAddr     = ":9081"
	defaultRateHz   = 10.0
	defaultStepMin  = 0.25
)

func main() {
	var (
		scenario   = flag.String("scenario", defaultScenario, "Game script: close_game, blowout, or comeback")
		drive      = flag.Bool("drive", false, "Replay through an in-process predictor instead of serving")
		gameID     = flag.String("game", defaultGameID, "Game identifier stamped on every message")
		addr       = flag.String("addr", defaultAddr, "Listen address for the websocket feed; empty disables serving")
		rate       = flag.Float64("rate", defaultRateHz, "Messages per second in serve mode")
		seed       = flag.Int64("seed", 0, "RNG seed; 0 picks a time-based seed")
		step       = flag.Float64("step", defaultStepMin, "Game minutes consumed per message")
		token      = flag.String("token", "", "Bearer token clients must present; empty disables auth")
		outputFile = flag.String("output", "", "Write the generated game to this JSON file")
		logFile    = flag.String("log", "", "Log file for run output (default: feedsim_log_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		feedsim.ShowHelp()
		return
	}

	if err := feedsim.SetupLogging(*logFile); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	config := &feedsim.Config{
		Scenario:   *scenario,
		Drive:      *drive,
		GameID:     *gameID,
		Addr:       *addr,
		RateHz:     *rate,
		Seed:       *seed,
		StepMin:    *step,
		AuthToken:  *token,
		OutputFile: *outputFile,
		LogFile:    *logFile,
		Verbose:    *verbose,
	}

	if err := feedsim.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		return
	}
}
