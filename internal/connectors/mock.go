package connectors

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/pkg/logger"
	"github.com/okian/courtside/pkg/metrics"
)

// Default mock feed parameters.
const (
	defaultMockRateHz     = 10.0
	defaultMockGameID     = "mock-game-1"
	mockGameLengthMinutes = 48.0
	mockQuarters          = 4
)

// MockConnector emits a synthetic basketball telemetry feed at a fixed
// rate. Scores follow a biased random walk and the game clock runs down
// in real time scaled to the event rate, so a full mock game plays out
// in a few minutes of wall time.
type MockConnector struct {
	base

	rateHz float64
	gameID string
	rng    *rand.Rand
	rngMu  sync.Mutex

	// current scripted game state, owned by the receive loop
	homeScore     float64
	awayScore     float64
	timeRemaining float64
	quarter       int
	possession    model.Possession
}

// MockOption customizes a MockConnector.
type MockOption func(*MockConnector)

// WithEventRate sets the emission rate in events per second.
func WithEventRate(hz float64) MockOption {
	return func(m *MockConnector) {
		if hz > 0 {
			m.rateHz = hz
		}
	}
}

// WithGameID sets the game identifier stamped on every message.
func WithGameID(id string) MockOption {
	return func(m *MockConnector) {
		if id != "" {
			m.gameID = id
		}
	}
}

// WithMockSeed makes the scripted walk deterministic.
func WithMockSeed(seed int64) MockOption {
	return func(m *MockConnector) {
		m.rng = rand.New(rand.NewSource(seed))
	}
}

// NewMockConnector builds a mock feed named name.
func NewMockConnector(name string, cfg Config, log logger.Logger, met *metrics.Manager, opts ...MockOption) *MockConnector {
	m := &MockConnector{
		base:   newBase(name, cfg, log, met),
		rateHz: defaultMockRateHz,
		gameID: defaultMockGameID,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.resetGame()
	return m
}

func (m *MockConnector) resetGame() {
	m.homeScore = 0
	m.awayScore = 0
	m.timeRemaining = mockGameLengthMinutes
	m.quarter = 1
	m.possession = model.PossessionHome
}

// Connect starts the synthetic feed. The mock never fails to connect.
func (m *MockConnector) Connect(ctx context.Context) error {
	if m.Status() == StatusConnected {
		return ErrAlreadyConnected
	}
	m.setStatus(StatusConnecting)
	m.resetLoop()
	m.setStatus(StatusConnected)
	go m.run(ctx)
	m.log.Info(ctx, "mock feed started",
		logger.Float64("rate_hz", m.rateHz),
		logger.String("game_id", m.gameID),
	)
	return nil
}

// Disconnect stops the feed.
func (m *MockConnector) Disconnect() {
	m.join()
	m.setStatus(StatusDisconnected)
}

func (m *MockConnector) run(ctx context.Context) {
	defer close(m.done)
	interval := time.Duration(float64(time.Second) / m.rateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.setStatus(StatusDisconnected)
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.dispatch(m.nextMessage())
		}
	}
}

// nextMessage advances the scripted game one tick and renders it as a
// score update. Roughly one tick in five produces points; the clock
// burns a scaled slice of game time per tick so the script terminates.
func (m *MockConnector) nextMessage() model.DataMessage {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()

	// ~0.12 game minutes per tick: a 48 minute game over ~400 ticks.
	m.timeRemaining -= 0.12
	if m.timeRemaining < 0 {
		m.resetGame()
	}
	elapsed := mockGameLengthMinutes - m.timeRemaining
	q := int(elapsed/(mockGameLengthMinutes/mockQuarters)) + 1
	if q > mockQuarters {
		q = mockQuarters
	}
	m.quarter = q

	if m.rng.Float64() < 0.2 {
		points := float64(2)
		switch r := m.rng.Float64(); {
		case r < 0.25:
			points = 3
		case r < 0.40:
			points = 1
		}
		if m.rng.Float64() < 0.52 {
			m.homeScore += points
			m.possession = model.PossessionAway
		} else {
			m.awayScore += points
			m.possession = model.PossessionHome
		}
	} else if m.rng.Float64() < 0.3 {
		if m.possession == model.PossessionHome {
			m.possession = model.PossessionAway
		} else {
			m.possession = model.PossessionHome
		}
	}

	return model.DataMessage{
		MessageID: uuid.NewString(),
		Timestamp: time.Now(),
		Source:    m.name,
		Type:      model.MessageScoreUpdate,
		Payload: map[string]interface{}{
			"game_id":        m.gameID,
			"home_score":     m.homeScore,
			"away_score":     m.awayScore,
			"time_remaining": m.timeRemaining,
			"quarter":        float64(m.quarter),
			"possession":     string(m.possession),
		},
	}
}
