// Package app wires the ingestion, analysis and simulation layers into the
// in-game prediction service.
package app

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/courtside/internal/connectors"
	"github.com/okian/courtside/internal/domain/dedupe"
	"github.com/okian/courtside/internal/domain/kalman"
	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/sim"
	"github.com/okian/courtside/internal/stream/analyzer"
	"github.com/okian/courtside/pkg/logger"
	"github.com/okian/courtside/pkg/metrics"
)

// Confidence levels attached to published predictions.
const (
	ConfidenceVeryLow  = "VERY_LOW"
	ConfidenceLow      = "LOW"
	ConfidenceModerate = "MODERATE"
	ConfidenceHigh     = "HIGH"
	ConfidenceVeryHigh = "VERY_HIGH"
)

// Momentum directions and strengths.
const (
	MomentumHome    = "home"
	MomentumAway    = "away"
	MomentumNeutral = "neutral"

	StrengthNeutral  = "neutral"
	StrengthModerate = "moderate"
	StrengthStrong   = "strong"
)

// Default predictor parameters.
const (
	defaultHistorySize    = 1000
	defaultDedupeSize     = 100_000
	defaultMomentumWindow = 10

	momentumModerateDelta = 0.005
	momentumStrongDelta   = 0.02
)

// PredictionUpdate is the flat record published to subscribers and kept in
// history.
type PredictionUpdate struct {
	GameID             string    `json:"game_id"`
	Timestamp          time.Time `json:"timestamp"`
	Trigger            string    `json:"trigger"`
	HomeScore          float64   `json:"home_score"`
	AwayScore          float64   `json:"away_score"`
	ScoreDiff          float64   `json:"score_diff"`
	TimeRemaining      float64   `json:"time_remaining"`
	Quarter            int       `json:"quarter"`
	HomeWinProb        float64   `json:"home_win_prob"`
	RateRatio          float64   `json:"rate_ratio"`
	PredictedHomeFinal float64   `json:"predicted_home_final"`
	PredictedAwayFinal float64   `json:"predicted_away_final"`
	HomeFinalLow       float64   `json:"home_final_low"`
	HomeFinalHigh      float64   `json:"home_final_high"`
	AwayFinalLow       float64   `json:"away_final_low"`
	AwayFinalHigh      float64   `json:"away_final_high"`
	Confidence         string    `json:"confidence"`
	Momentum           string    `json:"momentum"`
}

// Momentum summarizes the recent drift of the win probability.
type Momentum struct {
	Direction string  `json:"direction"`
	Strength  string  `json:"strength"`
	AvgDelta  float64 `json:"avg_delta"`
	Samples   int     `json:"samples"`
}

// Subscriber consumes published prediction updates.
type Subscriber func(PredictionUpdate)

// Predictor routes connector messages through deduplication into the
// stream analyzer and the game simulator, and publishes prediction
// updates to subscribers.
type Predictor struct {
	mu sync.RWMutex

	simulator *sim.Simulator
	manager   *connectors.Manager
	deduper   dedupe.Deduper
	analyzer  *analyzer.Analyzer
	met       *metrics.Manager
	log       logger.Logger

	gameID      string
	historySize int
	dedupeSize  int

	history     []PredictionUpdate
	probHistory []float64
	subscribers []Subscriber

	started bool

	processed  atomic.Int64
	duplicates atomic.Int64
	failures   atomic.Int64
}

// Option applies a configuration option to the Predictor.
type Option func(*Predictor)

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(p *Predictor) {
		if log != nil {
			p.log = log.Named("predictor")
		}
	}
}

// WithMetrics wires the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(p *Predictor) { p.met = m }
}

// WithHistorySize bounds the in-memory prediction history.
func WithHistorySize(size int) Option {
	return func(p *Predictor) {
		if size > 0 {
			p.historySize = size
		}
	}
}

// WithDedupeSize sets the size of the message deduplication cache.
func WithDedupeSize(size int) Option {
	return func(p *Predictor) {
		if size > 0 {
			p.dedupeSize = size
		}
	}
}

// WithAnalyzer attaches a stream analyzer fed from every accepted event.
func WithAnalyzer(a *analyzer.Analyzer) Option {
	return func(p *Predictor) { p.analyzer = a }
}

// WithGameID pins the predictor to one game; messages for other games
// are ignored. Empty accepts everything.
func WithGameID(id string) Option {
	return func(p *Predictor) { p.gameID = id }
}

// New constructs a Predictor around a simulator and a connector manager.
func New(simulator *sim.Simulator, manager *connectors.Manager, opts ...Option) *Predictor {
	p := &Predictor{
		simulator:   simulator,
		manager:     manager,
		log:         logger.Get().Named("predictor"),
		historySize: defaultHistorySize,
		dedupeSize:  defaultDedupeSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.deduper = dedupe.NewRingDeduper(dedupe.WithMaxSize(p.dedupeSize))
	return p
}

// Start hooks the connector manager and begins ingesting. Idempotent.
func (p *Predictor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	p.log.Info(ctx, "starting predictor...")
	p.manager.RegisterHandler(p.handleMessage)
	if err := p.manager.StartAll(ctx); err != nil {
		p.log.Warn(ctx, "some connectors failed to start", logger.Error(err))
	}
	p.log.Info(ctx, "predictor started",
		logger.Int("history_size", p.historySize),
		logger.Int("dedupe_size", p.dedupeSize),
	)
	return nil
}

// Initialize seeds the simulator before any telemetry arrives and
// publishes the opening prediction. Returns the published record, or
// false when the final-score projection could not be derived.
func (p *Predictor) Initialize(ctx context.Context, init kalman.Init) (PredictionUpdate, bool) {
	up := p.simulator.Initialize(init)
	p.publish(ctx, up)
	return p.GetCurrentPrediction()
}

// Stop shuts down ingestion. Idempotent.
func (p *Predictor) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	p.manager.StopAll()
	p.log.Info(context.Background(), "predictor stopped")
}

// Subscribe registers a consumer for every published update. Subscribers
// run synchronously in registration order; a panicking subscriber is
// isolated.
func (p *Predictor) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.subscribers = append(p.subscribers, fn)
	n := len(p.subscribers)
	p.mu.Unlock()
	if p.met != nil {
		p.met.UpdateSubscriberCount(n)
	}
}

// handleMessage is the connector manager callback: one raw message in,
// at most one published prediction out.
func (p *Predictor) handleMessage(msg model.DataMessage) {
	ctx := context.Background()
	start := time.Now()

	if msg.MessageID != "" && p.deduper.SeenAndRecord(ctx, msg.MessageID) {
		p.duplicates.Add(1)
		if p.met != nil {
			p.met.RecordEventDuplicate()
		}
		return
	}

	ev, ok := p.eventFromMessage(msg)
	if !ok {
		return
	}
	if p.gameID != "" && ev.GameID != "" && ev.GameID != p.gameID {
		return
	}

	if p.analyzer != nil {
		p.analyzer.ProcessEvent(ctx, ev)
	}

	update, err := p.simulator.ProcessEvent(ev)
	if err != nil {
		p.failures.Add(1)
		p.log.Warn(ctx, "event not simulated",
			logger.String("message_id", msg.MessageID),
			logger.String("event_type", string(ev.Type)),
			logger.Error(err),
		)
		return
	}
	p.processed.Add(1)
	if p.met != nil {
		p.met.RecordEventProcessed()
		p.met.RecordProcessingLatency(float64(time.Since(start).Microseconds()) / 1000.0)
	}
	if update == nil {
		return
	}
	p.publish(ctx, *update)
}

// eventFromMessage maps the connector payload onto a stream event. Status
// messages carry no game state and are dropped here.
func (p *Predictor) eventFromMessage(msg model.DataMessage) (model.StreamEvent, bool) {
	ev := model.StreamEvent{
		Timestamp: msg.Timestamp,
		Payload:   msg.Payload,
	}
	if id, ok := msg.Str("game_id"); ok {
		ev.GameID = id
	}

	switch msg.Type {
	case model.MessageScoreUpdate:
		ev.Type = model.EventScoreUpdate
	case model.MessageGameEvent:
		// game events self-describe their kind; default to a player event
		if kind, ok := msg.Str("event_type"); ok {
			ev.Type = model.EventType(kind)
		} else {
			ev.Type = model.EventPlayerEvent
		}
	case model.MessageStatus:
		return model.StreamEvent{}, false
	default:
		return model.StreamEvent{}, false
	}
	return ev, true
}

// publish derives the full prediction record and fans it out.
func (p *Predictor) publish(ctx context.Context, up sim.Update) {
	pred, err := p.simulator.PredictFinalScore(ctx)
	if err != nil {
		p.log.Warn(ctx, "final score projection failed", logger.Error(err))
		return
	}

	st := up.State
	rec := PredictionUpdate{
		GameID:             p.gameID,
		Timestamp:          up.At,
		Trigger:            up.Trigger,
		HomeScore:          st.HomeScore,
		AwayScore:          st.AwayScore,
		ScoreDiff:          st.ScoreDiff(),
		TimeRemaining:      st.TimeRemaining,
		Quarter:            st.Quarter,
		HomeWinProb:        up.HomeWinProb,
		RateRatio:          rateRatio(st.HomeScoreRate, st.AwayScoreRate),
		PredictedHomeFinal: pred.HomeScore,
		PredictedAwayFinal: pred.AwayScore,
		HomeFinalLow:       pred.HomeCI95.Lower,
		HomeFinalHigh:      pred.HomeCI95.Upper,
		AwayFinalLow:       pred.AwayCI95.Lower,
		AwayFinalHigh:      pred.AwayCI95.Upper,
		Confidence:         confidenceLevel(up.HomeWinProb),
	}

	p.mu.Lock()
	p.probHistory = append(p.probHistory, up.HomeWinProb)
	if len(p.probHistory) > p.historySize {
		p.probHistory = p.probHistory[1:]
	}
	rec.Momentum = p.momentumLocked(defaultMomentumWindow).Direction
	p.history = append(p.history, rec)
	if len(p.history) > p.historySize {
		p.history = p.history[1:]
	}
	historyLen := len(p.history)
	subs := p.subscribers
	p.mu.Unlock()

	if p.met != nil {
		p.met.UpdateHistorySize(historyLen)
	}

	for _, fn := range subs {
		p.notify(ctx, fn, rec)
	}
}

func (p *Predictor) notify(ctx context.Context, fn Subscriber, rec PredictionUpdate) {
	defer func() {
		if r := recover(); r != nil {
			if p.met != nil {
				p.met.RecordCallbackError()
			}
			p.log.Error(ctx, "subscriber panic", logger.Any("panic", r))
		}
	}()
	fn(rec)
}

// GetCurrentPrediction returns the most recent published update.
func (p *Predictor) GetCurrentPrediction() (PredictionUpdate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.history) == 0 {
		return PredictionUpdate{}, false
	}
	return p.history[len(p.history)-1], true
}

// GetPredictionHistory returns up to limit most recent updates, oldest
// first. limit <= 0 returns the full history.
func (p *Predictor) GetPredictionHistory(limit int) []PredictionUpdate {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := len(p.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]PredictionUpdate, n)
	copy(out, p.history[len(p.history)-n:])
	return out
}

// AnalyzeMomentum inspects the drift of the win probability over the
// last window published updates.
func (p *Predictor) AnalyzeMomentum(window int) Momentum {
	if window <= 0 {
		window = defaultMomentumWindow
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.momentumLocked(window)
}

func (p *Predictor) momentumLocked(window int) Momentum {
	n := len(p.probHistory)
	if n < 2 {
		return Momentum{Direction: MomentumNeutral, Strength: StrengthNeutral}
	}
	start := n - window - 1
	if start < 0 {
		start = 0
	}
	series := p.probHistory[start:]

	var sum float64
	for i := 1; i < len(series); i++ {
		sum += series[i] - series[i-1]
	}
	avg := sum / float64(len(series)-1)

	m := Momentum{AvgDelta: avg, Samples: len(series) - 1}
	switch {
	case math.Abs(avg) < momentumModerateDelta:
		m.Direction = MomentumNeutral
		m.Strength = StrengthNeutral
	case avg > 0:
		m.Direction = MomentumHome
		m.Strength = strengthFor(avg)
	default:
		m.Direction = MomentumAway
		m.Strength = strengthFor(avg)
	}
	return m
}

func strengthFor(avg float64) string {
	if math.Abs(avg) >= momentumStrongDelta {
		return StrengthStrong
	}
	return StrengthModerate
}

// confidenceLevel grades how far the win probability sits from a coin
// flip.
// rateRatio compares current scoring rates. The filter clamps rates
// to a positive band, so the guard only covers zero-value states.
func rateRatio(home, away float64) float64 {
	if away <= 0 {
		return 0
	}
	return home / away
}

func confidenceLevel(prob float64) string {
	switch certainty := math.Abs(prob-0.5) * 2; {
	case certainty < 0.2:
		return ConfidenceVeryLow
	case certainty < 0.4:
		return ConfidenceLow
	case certainty < 0.6:
		return ConfidenceModerate
	case certainty < 0.8:
		return ConfidenceHigh
	default:
		return ConfidenceVeryHigh
	}
}

// GetStatistics returns service statistics for monitoring.
func (p *Predictor) GetStatistics() map[string]interface{} {
	p.mu.RLock()
	started := p.started
	historyLen := len(p.history)
	subscribers := len(p.subscribers)
	p.mu.RUnlock()

	stats := map[string]interface{}{
		"started":            started,
		"messages_processed": p.processed.Load(),
		"duplicates":         p.duplicates.Load(),
		"failures":           p.failures.Load(),
		"history_size":       historyLen,
		"subscribers":        subscribers,
		"dedupe_entries":     p.deduper.Size(),
	}
	for name, s := range p.manager.Stats() {
		stats["connector_"+name+"_received"] = s.MessagesReceived
		stats["connector_"+name+"_dropped"] = s.MessagesDropped
		stats["connector_"+name+"_status"] = s.Status.String()
	}
	return stats
}

// Reset clears the simulation, history and momentum series. The dedupe
// cache survives so replayed messages stay rejected.
func (p *Predictor) Reset() {
	p.mu.Lock()
	p.history = nil
	p.probHistory = nil
	p.mu.Unlock()
	p.simulator.Reset()
	p.log.Info(context.Background(), "predictor reset")
}
