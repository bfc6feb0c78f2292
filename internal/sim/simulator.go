// Package sim maintains a live game simulation over the streaming filter.
//
// The simulator is the single owner of its Kalman filter. All entry points
// serialize on one mutex, so filter access never races. Updates flow out as
// values; distribution to subscribers is the caller's concern.
package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/okian/courtside/internal/domain/gamestate"
	"github.com/okian/courtside/internal/domain/kalman"
	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/pkg/logger"
	"github.com/okian/courtside/pkg/metrics"
)

// Update triggers.
const (
	TriggerInitialization    = "initialization"
	TriggerScoreUpdate       = "score_update"
	TriggerSignificantChange = "significant_change"
	TriggerQuarterChange     = "quarter_change"
)

// Default gating and pacing parameters.
const (
	defaultMinUpdateInterval      = time.Second
	defaultSignificantScoreChange = 5.0
	defaultSignificantProbChange  = 0.1
	defaultModelWeight            = 0.5
)

// Update is one published simulation step.
type Update struct {
	State       gamestate.State `json:"state"`
	HomeWinProb float64         `json:"home_win_prob"`
	Trigger     string          `json:"trigger"`
	At          time.Time       `json:"at"`
}

// FinalScoreModel supplies an external final score opinion that is blended
// with the filter projection.
type FinalScoreModel interface {
	PredictFinalScore(ctx context.Context, current gamestate.State) (model.ScorePoint, error)
}

// Simulator drives the filter from stream events and gates which state
// changes are worth publishing.
type Simulator struct {
	mu sync.Mutex

	filter *kalman.Filter
	log    logger.Logger
	met    *metrics.Manager
	now    func() time.Time

	minUpdateInterval time.Duration
	sigScore          float64
	sigProb           float64

	model       FinalScoreModel
	modelWeight float64

	initialized bool
	lastEventAt time.Time
	lastQuarter int

	// last published snapshot for the significance gate
	pubDiff float64
	pubProb float64
}

// Option customizes a Simulator.
type Option func(*Simulator)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Simulator) {
		if log != nil {
			s.log = log.Named("simulator")
		}
	}
}

// WithMetrics wires the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Simulator) { s.met = m }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMinUpdateInterval floors the time step derived between events.
func WithMinUpdateInterval(d time.Duration) Option {
	return func(s *Simulator) {
		if d > 0 {
			s.minUpdateInterval = d
		}
	}
}

// WithSignificanceThresholds sets the score differential and win
// probability deltas that force a publication.
func WithSignificanceThresholds(scoreChange, probChange float64) Option {
	return func(s *Simulator) {
		if scoreChange > 0 {
			s.sigScore = scoreChange
		}
		if probChange > 0 {
			s.sigProb = probChange
		}
	}
}

// WithFinalScoreModel blends an external model into final score
// predictions. Weight 0 ignores the model entirely, weight 1 ignores the
// filter projection.
func WithFinalScoreModel(m FinalScoreModel, weight float64) Option {
	return func(s *Simulator) {
		s.model = m
		s.modelWeight = math.Min(math.Max(weight, 0), 1)
	}
}

// New builds a simulator around filter. The simulator takes ownership;
// callers must not touch the filter afterwards.
func New(filter *kalman.Filter, opts ...Option) *Simulator {
	s := &Simulator{
		filter:            filter,
		log:               logger.Get().Named("simulator"),
		now:               time.Now,
		minUpdateInterval: defaultMinUpdateInterval,
		sigScore:          defaultSignificantScoreChange,
		sigProb:           defaultSignificantProbChange,
		modelWeight:       defaultModelWeight,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialized reports whether an observation has seeded the simulation.
func (s *Simulator) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Initialize seeds the simulation and always publishes.
func (s *Simulator) Initialize(init kalman.Init) Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initializeLocked(init)
}

func (s *Simulator) initializeLocked(init kalman.Init) Update {
	st := s.filter.Initialize(init)
	s.initialized = true
	s.lastEventAt = s.now()
	s.lastQuarter = st.Quarter
	s.log.Info(context.Background(), "simulation initialized",
		logger.Float64("home_score", st.HomeScore),
		logger.Float64("away_score", st.AwayScore),
		logger.Float64("time_remaining", st.TimeRemaining),
	)
	return s.publishLocked(st, TriggerInitialization)
}

// ProcessEvent folds one stream event into the simulation. The returned
// update is nil when the resulting change was below the significance
// thresholds and therefore suppressed.
func (s *Simulator) ProcessEvent(ev model.StreamEvent) (*Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obs, err := s.observationFromEvent(ev)
	if err != nil {
		return nil, err
	}

	if !s.initialized {
		up := s.initializeLocked(kalman.Init{
			HomeScore:     obs.HomeScore,
			AwayScore:     obs.AwayScore,
			TimeRemaining: obs.TimeRemaining,
			Quarter:       obs.Quarter,
		})
		return &up, nil
	}

	dt := s.stepLocked()
	prevQuarter := s.lastQuarter
	st := s.filter.Update(obs, dt)
	if obs.Quarter > 0 {
		s.lastQuarter = obs.Quarter
	}

	trigger := TriggerSignificantChange
	if obs.Quarter > 0 && obs.Quarter != prevQuarter {
		trigger = TriggerQuarterChange
	} else if !s.significantLocked(st) {
		if s.met != nil {
			s.met.RecordUpdateSuppressed()
		}
		return nil, nil
	}

	up := s.publishLocked(st, trigger)
	return &up, nil
}

// UpdateFromScores folds a direct score reading into the simulation and
// always publishes, bypassing the significance gate.
func (s *Simulator) UpdateFromScores(home, away, timeRemaining float64, quarter int) Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	obs := kalman.Observation{
		HomeScore:     home,
		AwayScore:     away,
		TimeRemaining: timeRemaining,
		Quarter:       quarter,
	}
	if !s.initialized {
		return s.initializeLocked(kalman.Init{
			HomeScore:     home,
			AwayScore:     away,
			TimeRemaining: timeRemaining,
			Quarter:       quarter,
		})
	}

	dt := s.stepLocked()
	st := s.filter.Update(obs, dt)
	if quarter > 0 {
		s.lastQuarter = quarter
	}
	return s.publishLocked(st, TriggerScoreUpdate)
}

// CurrentState returns the latest filtered state.
func (s *Simulator) CurrentState() (gamestate.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.filter.State()
	if !ok {
		return gamestate.State{}, ErrNotInitialized
	}
	return st, nil
}

// PredictFinalScore projects the game to its end. When an external model
// is configured its opinion is blended in by the model weight; a model
// failure falls back to the pure filter projection.
func (s *Simulator) PredictFinalScore(ctx context.Context) (model.FinalScorePrediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pred, err := s.filter.PredictFinalScore()
	if err != nil {
		return model.FinalScorePrediction{}, err
	}
	if s.model == nil || s.modelWeight == 0 {
		return pred, nil
	}

	st, _ := s.filter.State()
	ext, err := s.model.PredictFinalScore(ctx, st)
	if err != nil {
		s.log.Warn(ctx, "final score model failed, using filter projection",
			logger.Error(err),
		)
		return pred, nil
	}

	w := s.modelWeight
	pred.HomeScore = (1-w)*pred.HomeScore + w*ext.HomeScore
	pred.AwayScore = (1-w)*pred.AwayScore + w*ext.AwayScore
	pred.HomeWinProb = (1-w)*pred.HomeWinProb + w*ext.HomeWinProb
	// intervals keep the filter widths, recentered on the blend
	pred.HomeCI95 = recenter(pred.HomeCI95, pred.HomeScore)
	pred.AwayCI95 = recenter(pred.AwayCI95, pred.AwayScore)
	return pred, nil
}

// ConfidenceInterval exposes the filter's state intervals.
func (s *Simulator) ConfidenceInterval(confidence float64) (kalman.StateIntervals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.ConfidenceInterval(confidence)
}

// Reset returns the simulation to the uninitialized state.
func (s *Simulator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.Reset()
	s.initialized = false
	s.lastEventAt = time.Time{}
	s.lastQuarter = 0
	s.pubDiff = 0
	s.pubProb = 0
	s.log.Info(context.Background(), "simulation reset")
}

// stepLocked derives the filter time step, in game minutes, from the
// wall clock gap since the previous event, floored by the configured
// minimum interval.
func (s *Simulator) stepLocked() float64 {
	now := s.now()
	elapsed := now.Sub(s.lastEventAt)
	if elapsed < s.minUpdateInterval {
		elapsed = s.minUpdateInterval
	}
	s.lastEventAt = now
	return elapsed.Minutes()
}

// significantLocked applies the publication gate against the last
// published snapshot.
func (s *Simulator) significantLocked(st gamestate.State) bool {
	return math.Abs(st.ScoreDiff()-s.pubDiff) >= s.sigScore ||
		math.Abs(st.HomeWinProb-s.pubProb) >= s.sigProb
}

func (s *Simulator) publishLocked(st gamestate.State, trigger string) Update {
	s.pubDiff = st.ScoreDiff()
	s.pubProb = st.HomeWinProb
	if s.met != nil {
		s.met.RecordUpdatePublished()
		s.met.UpdateWinProbability(st.HomeWinProb)
	}
	return Update{
		State:       st,
		HomeWinProb: st.HomeWinProb,
		Trigger:     trigger,
		At:          s.now(),
	}
}

// observationFromEvent maps a stream event onto a filter observation.
// Player events add their points to the current filtered score; pure
// possession changes carry the current scores through unchanged.
func (s *Simulator) observationFromEvent(ev model.StreamEvent) (kalman.Observation, error) {
	switch ev.Type {
	case model.EventScoreUpdate:
		home, okH := ev.Float("home_score")
		away, okA := ev.Float("away_score")
		if !okH || !okA {
			return kalman.Observation{}, ErrMissingScores
		}
		obs := kalman.Observation{HomeScore: home, AwayScore: away}
		obs.TimeRemaining, _ = ev.Float("time_remaining")
		if q, ok := ev.Float("quarter"); ok {
			obs.Quarter = int(q)
		}
		if p, ok := ev.Str("possession"); ok {
			obs.Possession = model.Possession(p)
		}
		return obs, nil

	case model.EventPlayerEvent:
		st, ok := s.filter.State()
		if !ok {
			return kalman.Observation{}, ErrNotInitialized
		}
		points, _ := ev.Float("points")
		obs := kalman.Observation{
			HomeScore:     st.HomeScore,
			AwayScore:     st.AwayScore,
			TimeRemaining: st.TimeRemaining,
			Quarter:       st.Quarter,
			Possession:    st.Possession,
		}
		if team, _ := ev.Str("team"); team == string(model.PossessionAway) {
			obs.AwayScore += points
		} else {
			obs.HomeScore += points
		}
		if tr, ok := ev.Float("time_remaining"); ok {
			obs.TimeRemaining = tr
		}
		return obs, nil

	case model.EventPossessionChange, model.EventQuarterChange:
		st, ok := s.filter.State()
		if !ok {
			return kalman.Observation{}, ErrNotInitialized
		}
		obs := kalman.Observation{
			HomeScore:     st.HomeScore,
			AwayScore:     st.AwayScore,
			TimeRemaining: st.TimeRemaining,
			Quarter:       st.Quarter,
			Possession:    st.Possession,
		}
		if p, ok := ev.Str("possession"); ok {
			obs.Possession = model.Possession(p)
		}
		if q, ok := ev.Float("quarter"); ok {
			obs.Quarter = int(q)
		}
		if tr, ok := ev.Float("time_remaining"); ok {
			obs.TimeRemaining = tr
		}
		return obs, nil

	default:
		return kalman.Observation{}, ErrUnsupportedEvent
	}
}

func recenter(iv model.Interval, center float64) model.Interval {
	half := iv.Width() / 2
	return model.Interval{Lower: center - half, Upper: center + half}
}
