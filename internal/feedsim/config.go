package feedsim

import "time"

// Config holds configuration for a feed simulation run.
type Config struct {
	Scenario   string  // Scenario name (close_game, blowout, comeback)
	Drive      bool    // Replay through an in-process predictor instead of serving
	GameID     string  // Game identifier stamped on every message
	Addr       string  // Listen address for the websocket serve mode
	RateHz     float64 // Messages per second in serve mode
	Seed       int64   // RNG seed, 0 means time-based
	StepMin    float64 // Game minutes consumed per message
	AuthToken  string  // Expected bearer token, empty disables the check
	OutputFile string  // Output file for generated messages
	LogFile    string  // Log file for run output
	Verbose    bool    // Enable verbose logging
}

// Stats holds simulation run statistics.
type Stats struct {
	MessagesGenerated int
	MessagesSent      int64
	ClientsServed     int64
	FinalHomeScore    float64
	FinalAwayScore    float64
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
