package feedsim

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
)

// Run generates the scripted game and either serves it over a
// websocket feed or writes it to a file, depending on configuration.
// Serve mode blocks until the context is cancelled.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{
		StartTime: time.Now(),
	}

	logger.Get().Info(ctx, "starting feed simulation",
		logger.String("scenario", config.Scenario),
		logger.String("gameID", config.GameID),
		logger.String("addr", config.Addr),
		logger.Float64("rateHz", config.RateHz),
		logger.Int64("seed", config.Seed),
		logger.String("outputFile", config.OutputFile),
		logger.Any("verbose", config.Verbose))

	messages, err := generateGame(ctx, config, stats)
	if err != nil {
		return fmt.Errorf("game generation failed: %w", err)
	}

	if config.OutputFile != "" {
		if err := saveMessagesToFile(ctx, config, messages); err != nil {
			return fmt.Errorf("saving messages failed: %w", err)
		}
	}

	if config.Drive {
		if err := runDrive(ctx, config, messages, stats); err != nil {
			return fmt.Errorf("drive run failed: %w", err)
		}
	} else if config.Addr != "" {
		srv := newServer(config, messages)
		if err := srv.serve(ctx); err != nil {
			return fmt.Errorf("feed server failed: %w", err)
		}
		stats.MessagesSent = srv.sent.Load()
		stats.ClientsServed = srv.clients.Load()
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(stats)

	logger.Get().Info(ctx, "feed simulation finished")
	return nil
}

// saveMessagesToFile writes the wire frames as a JSON array.
func saveMessagesToFile(ctx context.Context, config *Config, messages []model.DataMessage) error {
	if len(messages) == 0 {
		return fmt.Errorf("no messages to save")
	}

	filename := config.OutputFile
	dir := filepath.Dir(filename)
	if dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.Get().Error(context.Background(), "failed to close file", logger.Error(err))
		}
	}()

	if _, err := file.WriteString("[\n"); err != nil {
		return fmt.Errorf("failed to write opening bracket: %w", err)
	}
	for i, msg := range messages {
		data, err := json.Marshal(wireFrame(msg))
		if err != nil {
			return fmt.Errorf("failed to marshal message %d: %w", i, err)
		}
		if _, err := file.Write(data); err != nil {
			return fmt.Errorf("failed to write message %d: %w", i, err)
		}
		if i < len(messages)-1 {
			if _, err := file.WriteString(","); err != nil {
				return fmt.Errorf("failed to write comma: %w", err)
			}
		}
		_, _ = file.WriteString("\n")
	}
	if _, err := file.WriteString("]\n"); err != nil {
		return fmt.Errorf("failed to write closing bracket: %w", err)
	}

	logger.Get().Info(ctx, "messages saved to file",
		logger.String("filename", filename),
		logger.Int("count", len(messages)))
	return nil
}

// displayFinalStats prints the final run statistics.
func displayFinalStats(stats *Stats) {
	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("messagesGenerated", stats.MessagesGenerated),
		logger.Int64("messagesSent", stats.MessagesSent),
		logger.Int64("clientsServed", stats.ClientsServed),
		logger.Float64("finalHomeScore", stats.FinalHomeScore),
		logger.Float64("finalAwayScore", stats.FinalAwayScore),
		logger.String("duration", stats.Duration.String()))
}
