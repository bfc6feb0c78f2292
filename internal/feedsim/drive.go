package feedsim

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/courtside/internal/app"
	"github.com/okian/courtside/internal/connectors"
	"github.com/okian/courtside/internal/domain/kalman"
	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/sim"
	"github.com/okian/courtside/pkg/logger"
)

// Drive timing constants.
const (
	driveMinUpdateInterval = 10 * time.Millisecond
	driveDrainPoll         = 20 * time.Millisecond
)

// replayConnector feeds a pre-generated message sequence through the
// connector contract so the drive mode exercises the same ingestion
// path as a live feed.
type replayConnector struct {
	name     string
	messages []model.DataMessage
	rate     float64

	mu        sync.RWMutex
	status    connectors.Status
	callbacks []connectors.Callback

	sent     atomic.Int64
	done     chan struct{}
	doneOnce sync.Once
}

var _ connectors.Connector = (*replayConnector)(nil)

func newReplayConnector(name string, messages []model.DataMessage, rate float64) *replayConnector {
	if rate <= 0 {
		rate = defaultRateHz
	}
	return &replayConnector{
		name:     name,
		messages: messages,
		rate:     rate,
		status:   connectors.StatusDisconnected,
		done:     make(chan struct{}),
	}
}

func (r *replayConnector) Name() string { return r.name }

func (r *replayConnector) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.status == connectors.StatusConnected {
		r.mu.Unlock()
		return connectors.ErrAlreadyConnected
	}
	r.status = connectors.StatusConnected
	r.mu.Unlock()

	go r.run(ctx)
	return nil
}

func (r *replayConnector) run(ctx context.Context) {
	defer r.finish()
	ticker := time.NewTicker(time.Duration(float64(time.Second) / r.rate))
	defer ticker.Stop()

	for _, msg := range r.messages {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
		}
		r.mu.RLock()
		cbs := r.callbacks
		r.mu.RUnlock()
		for _, cb := range cbs {
			cb(msg)
		}
		r.sent.Add(1)
	}
}

func (r *replayConnector) finish() {
	r.mu.Lock()
	r.status = connectors.StatusDisconnected
	r.mu.Unlock()
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *replayConnector) Disconnect() {
	r.doneOnce.Do(func() { close(r.done) })
	r.mu.Lock()
	r.status = connectors.StatusDisconnected
	r.mu.Unlock()
}

func (r *replayConnector) Status() connectors.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *replayConnector) RegisterCallback(cb connectors.Callback) {
	if cb == nil {
		return
	}
	r.mu.Lock()
	r.callbacks = append(r.callbacks, cb)
	r.mu.Unlock()
}

func (r *replayConnector) GetMessage(time.Duration) (model.DataMessage, bool) {
	return model.DataMessage{}, false
}

func (r *replayConnector) Stats() connectors.Stats {
	return connectors.Stats{
		MessagesReceived: r.sent.Load(),
		Status:           r.Status(),
	}
}

// drained reports whether the full sequence has been replayed.
func (r *replayConnector) drained() bool {
	return r.sent.Load() == int64(len(r.messages))
}

// runDrive replays the scripted game through an in-process predictor
// and reports how the significance gate behaved.
func runDrive(ctx context.Context, config *Config, messages []model.DataMessage, stats *Stats) error {
	filter := kalman.New(kalman.NewConfig())
	simulator := sim.New(filter,
		sim.WithMinUpdateInterval(driveMinUpdateInterval),
	)

	manager := connectors.NewManager(logger.Get())
	replay := newReplayConnector("replay", messages, config.RateHz)
	if err := manager.AddConnector(replay); err != nil {
		return fmt.Errorf("failed to register replay connector: %w", err)
	}

	predictor := app.New(simulator, manager, app.WithGameID(config.GameID))

	var published atomic.Int64
	predictor.Subscribe(func(app.PredictionUpdate) {
		published.Add(1)
	})

	if err := predictor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start predictor: %w", err)
	}
	defer predictor.Stop()

	for !replay.drained() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(driveDrainPoll):
		}
	}

	pubStats := predictor.GetStatistics()
	processed, _ := pubStats["messages_processed"].(int64)
	pub := published.Load()
	suppressionRatio := 0.0
	if processed > 0 {
		suppressionRatio = float64(processed-pub) / float64(processed)
	}
	stats.MessagesSent = replay.sent.Load()

	logger.Get().Info(ctx, "drive run complete",
		logger.Int64("messagesReplayed", replay.sent.Load()),
		logger.Int64("eventsProcessed", processed),
		logger.Int64("updatesPublished", pub),
		logger.Float64("suppressionRatio", suppressionRatio))

	if final, ok := predictor.GetCurrentPrediction(); ok {
		logger.Get().Info(ctx, "final prediction",
			logger.Float64("homeScore", final.HomeScore),
			logger.Float64("awayScore", final.AwayScore),
			logger.Float64("homeWinProb", final.HomeWinProb),
			logger.Float64("predictedHomeFinal", final.PredictedHomeFinal),
			logger.Float64("predictedAwayFinal", final.PredictedAwayFinal),
			logger.String("confidence", final.Confidence),
			logger.String("momentum", final.Momentum))
	}
	return nil
}
