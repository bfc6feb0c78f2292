// Package kalman implements the streaming linear-Gaussian estimator of the
// game state vector.
//
// State x = [home_score, away_score, home_rate, away_rate, home_win_prob,
// time_remaining] with a full 6x6 covariance. Scores accrue at the current
// scoring rate during prediction; measurement updates observe home score,
// away score and time remaining. The win probability component is derived
// analytically after every step rather than corrected by measurements.
package kalman

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/okian/courtside/internal/domain/gamestate"
	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/pkg/logger"
	"github.com/okian/courtside/pkg/metrics"
)

const (
	obsDim = 3 // observed: home_score, away_score, time_remaining

	// rateEMAAlpha blends the instantaneous observed scoring rate into the
	// filtered rate. Raw score deltas signal rate changes faster than the
	// linear model alone.
	rateEMAAlpha = 0.3

	// probDecayMinutes controls how decisively the score differential maps
	// to a win probability as time runs out.
	probDecayMinutes = 10.0

	ci95Confidence = 0.95
)

// Observation is a measurement of the true game state.
type Observation struct {
	HomeScore     float64
	AwayScore     float64
	TimeRemaining float64 // minutes
	Quarter       int              // 0 = unknown
	Possession    model.Possession // "" = unknown
}

// Init seeds the filter. Zero HomeRate/AwayRate fall back to the default
// seed rate.
type Init struct {
	HomeScore     float64
	AwayScore     float64
	TimeRemaining float64
	HomeRate      float64
	AwayRate      float64
	Quarter       int
}

// Filter is the streaming Kalman filter. It is not safe for concurrent use;
// the owning simulator serializes access.
type Filter struct {
	cfg Config
	log logger.Logger
	met *metrics.Manager

	initialized bool
	x           *mat.VecDense
	p           *mat.Dense
	quarter     int
	possession  model.Possession
	lastUpdate  time.Time

	// last observed scores, for the instantaneous rate estimate
	lastObsHome float64
	lastObsAway float64
}

// FilterOption applies a construction option to the Filter.
type FilterOption func(*Filter)

// WithLogger sets a custom logger for the filter.
func WithLogger(log logger.Logger) FilterOption {
	return func(f *Filter) {
		if log != nil {
			f.log = log
		}
	}
}

// WithMetrics sets the metrics manager the filter records into.
func WithMetrics(m *metrics.Manager) FilterOption {
	return func(f *Filter) {
		f.met = m
	}
}

// New creates a filter with the given configuration.
func New(cfg Config, opts ...FilterOption) *Filter {
	f := &Filter{
		cfg: cfg,
		log: logger.Get().Named("kalman"),
		x:   mat.NewVecDense(gamestate.Dim, nil),
		p:   mat.NewDense(gamestate.Dim, gamestate.Dim, nil),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Initialized reports whether the filter holds a state.
func (f *Filter) Initialized() bool {
	return f.initialized
}

// Initialize seeds the state vector and resets the covariance to
// diag(initialUncertaintyStd^2).
func (f *Filter) Initialize(init Init) gamestate.State {
	homeRate := init.HomeRate
	if homeRate <= 0 {
		homeRate = defaultScoreRate
	}
	awayRate := init.AwayRate
	if awayRate <= 0 {
		awayRate = defaultScoreRate
	}
	quarter := init.Quarter
	if quarter < 1 {
		quarter = 1
	}

	f.x.SetVec(gamestate.IdxHomeScore, init.HomeScore)
	f.x.SetVec(gamestate.IdxAwayScore, init.AwayScore)
	f.x.SetVec(gamestate.IdxHomeRate, homeRate)
	f.x.SetVec(gamestate.IdxAwayRate, awayRate)
	f.x.SetVec(gamestate.IdxTimeRemaining, init.TimeRemaining)

	f.p.Zero()
	v := f.cfg.initialUncertaintyStd * f.cfg.initialUncertaintyStd
	for i := 0; i < gamestate.Dim; i++ {
		f.p.Set(i, i, v)
	}

	f.quarter = quarter
	f.possession = model.PossessionNone
	f.lastObsHome = init.HomeScore
	f.lastObsAway = init.AwayScore
	f.lastUpdate = time.Now()
	f.initialized = true

	f.refreshWinProb()
	f.clampState()
	return f.snapshot()
}

// Reset discards all state; the next update auto-initializes.
func (f *Filter) Reset() {
	f.initialized = false
	f.x.Zero()
	f.p.Zero()
	f.quarter = 0
	f.possession = ""
}

// Predict advances the state dt minutes without a measurement. Calling it
// on a fresh filter initializes a default pre-game state first.
func (f *Filter) Predict(dt float64) gamestate.State {
	if !f.initialized {
		f.Initialize(Init{TimeRemaining: defaultTimeRemaining, Quarter: 1})
	}
	f.predictStep(dt)
	f.refreshWinProb()
	f.clampState()
	f.lastUpdate = time.Now()
	return f.snapshot()
}

// Update runs a predict step over dt minutes and corrects the state with
// the observation. A fresh filter auto-initializes from the observation.
func (f *Filter) Update(obs Observation, dt float64) gamestate.State {
	start := time.Now()
	defer func() {
		if f.met != nil {
			f.met.RecordFilterUpdateLatency(float64(time.Since(start).Microseconds()) / 1e3)
		}
	}()

	if !f.initialized {
		st := f.Initialize(Init{
			HomeScore:     obs.HomeScore,
			AwayScore:     obs.AwayScore,
			TimeRemaining: obs.TimeRemaining,
			Quarter:       obs.Quarter,
		})
		if obs.Possession != "" {
			f.possession = obs.Possession
			st.Possession = obs.Possession
		}
		return st
	}

	f.predictStep(dt)
	f.correct(obs)
	f.nudgeRates(obs, dt)

	if obs.Quarter > 0 {
		f.quarter = obs.Quarter
	}
	if obs.Possession != "" {
		f.possession = obs.Possession
	}
	f.lastObsHome = obs.HomeScore
	f.lastObsAway = obs.AwayScore

	f.refreshWinProb()
	f.clampState()
	f.lastUpdate = time.Now()

	if f.met != nil {
		f.met.RecordFilterUpdate()
	}
	return f.snapshot()
}

// predictStep applies x' = F x and P' = F P Ft + Q. Time remaining is
// decremented and floored at zero; process noise accrues with dt.
func (f *Filter) predictStep(dt float64) {
	if dt < 0 {
		dt = 0
	}

	fm := transition(dt)

	var fx mat.VecDense
	fx.MulVec(fm, f.x)
	f.x.CopyVec(&fx)
	f.x.SetVec(gamestate.IdxTimeRemaining, math.Max(0, f.x.AtVec(gamestate.IdxTimeRemaining)-dt))

	var fp, fpft mat.Dense
	fp.Mul(fm, f.p)
	fpft.Mul(&fp, fm.T())
	q := f.cfg.processNoiseStd * f.cfg.processNoiseStd * dt
	for i := 0; i < gamestate.Dim; i++ {
		fpft.Set(i, i, fpft.At(i, i)+q)
	}
	f.p.Copy(&fpft)
}

// correct folds the observation into the state. A singular innovation
// covariance degrades to a zero-gain update: the observation is skipped and
// a warning is logged, never raised.
func (f *Filter) correct(obs Observation) {
	h := observationMatrix()
	z := mat.NewVecDense(obsDim, []float64{obs.HomeScore, obs.AwayScore, obs.TimeRemaining})

	// innovation y = z - H x'
	var hx, y mat.VecDense
	hx.MulVec(h, f.x)
	y.SubVec(z, &hx)

	// S = H P' Ht + R
	var hp, s mat.Dense
	hp.Mul(h, f.p)
	s.Mul(&hp, h.T())
	r := f.cfg.measurementNoiseStd * f.cfg.measurementNoiseStd
	for i := 0; i < obsDim; i++ {
		s.Set(i, i, s.At(i, i)+r)
	}

	var sinv mat.Dense
	if err := sinv.Inverse(&s); err != nil {
		f.log.Warn(context.Background(), "singular innovation covariance, zero-gain fallback",
			logger.Error(fmt.Errorf("inverting S: %w", err)))
		if f.met != nil {
			f.met.RecordFilterSingularFallback()
		}
		return
	}

	// K = P' Ht S^-1
	var pht, k mat.Dense
	pht.Mul(f.p, h.T())
	k.Mul(&pht, &sinv)

	// x = x' + K y
	var ky mat.VecDense
	ky.MulVec(&k, &y)
	f.x.AddVec(f.x, &ky)

	// P = (I - K H) P'
	var kh, ikh, np mat.Dense
	kh.Mul(&k, h)
	ikh.Scale(-1, &kh)
	for i := 0; i < gamestate.Dim; i++ {
		ikh.Set(i, i, ikh.At(i, i)+1)
	}
	np.Mul(&ikh, f.p)
	f.p.Copy(&np)
}

// nudgeRates blends the instantaneous observed scoring rate into the
// filtered rates.
func (f *Filter) nudgeRates(obs Observation, dt float64) {
	if dt <= 0 {
		return
	}
	obsHomeRate := (obs.HomeScore - f.lastObsHome) / dt
	obsAwayRate := (obs.AwayScore - f.lastObsAway) / dt

	hr := rateEMAAlpha*obsHomeRate + (1-rateEMAAlpha)*f.x.AtVec(gamestate.IdxHomeRate)
	ar := rateEMAAlpha*obsAwayRate + (1-rateEMAAlpha)*f.x.AtVec(gamestate.IdxAwayRate)
	f.x.SetVec(gamestate.IdxHomeRate, hr)
	f.x.SetVec(gamestate.IdxAwayRate, ar)
}

// refreshWinProb recomputes the derived win probability component: a
// logistic of the score differential, sharpened as time runs out.
func (f *Filter) refreshWinProb() {
	diff := f.x.AtVec(gamestate.IdxHomeScore) - f.x.AtVec(gamestate.IdxAwayScore)
	t := math.Max(0, f.x.AtVec(gamestate.IdxTimeRemaining))
	f.x.SetVec(gamestate.IdxWinProb, winProbability(diff, t))
}

// winProbability maps a score differential and remaining minutes to a home
// win probability. The differential weighs more heavily near game end.
func winProbability(diff, timeRemaining float64) float64 {
	decisiveness := math.Exp(-timeRemaining / probDecayMinutes)
	return 1 / (1 + math.Exp(-diff*decisiveness))
}

// clampState writes the invariant envelope back into the state vector.
func (f *Filter) clampState() {
	b := f.cfg.bounds
	st := gamestate.State{
		HomeScore:     f.x.AtVec(gamestate.IdxHomeScore),
		AwayScore:     f.x.AtVec(gamestate.IdxAwayScore),
		HomeScoreRate: f.x.AtVec(gamestate.IdxHomeRate),
		AwayScoreRate: f.x.AtVec(gamestate.IdxAwayRate),
		HomeWinProb:   f.x.AtVec(gamestate.IdxWinProb),
		TimeRemaining: f.x.AtVec(gamestate.IdxTimeRemaining),
		Quarter:       f.quarter,
	}
	b.Apply(&st)
	f.x.SetVec(gamestate.IdxHomeScore, st.HomeScore)
	f.x.SetVec(gamestate.IdxAwayScore, st.AwayScore)
	f.x.SetVec(gamestate.IdxHomeRate, st.HomeScoreRate)
	f.x.SetVec(gamestate.IdxAwayRate, st.AwayScoreRate)
	f.x.SetVec(gamestate.IdxWinProb, st.HomeWinProb)
	f.x.SetVec(gamestate.IdxTimeRemaining, st.TimeRemaining)
}

// snapshot derives an immutable State from the current vector and covariance.
func (f *Filter) snapshot() gamestate.State {
	st := gamestate.State{
		HomeScore:     f.x.AtVec(gamestate.IdxHomeScore),
		AwayScore:     f.x.AtVec(gamestate.IdxAwayScore),
		HomeScoreRate: f.x.AtVec(gamestate.IdxHomeRate),
		AwayScoreRate: f.x.AtVec(gamestate.IdxAwayRate),
		HomeWinProb:   f.x.AtVec(gamestate.IdxWinProb),
		TimeRemaining: f.x.AtVec(gamestate.IdxTimeRemaining),
		Quarter:       f.quarter,
		Possession:    f.possession,
		LastUpdate:    f.lastUpdate,
	}
	for i := 0; i < gamestate.Dim; i++ {
		for j := 0; j < gamestate.Dim; j++ {
			st.Covariance[i][j] = f.p.At(i, j)
		}
	}
	return st
}

// State returns the current snapshot if initialized.
func (f *Filter) State() (gamestate.State, bool) {
	if !f.initialized {
		return gamestate.State{}, false
	}
	return f.snapshot(), true
}

// PredictFinalScore propagates the state to the end of the game and returns
// the expected final scores with uncertainty bands from the propagated
// covariance.
func (f *Filter) PredictFinalScore() (model.FinalScorePrediction, error) {
	if !f.initialized {
		return model.FinalScorePrediction{}, ErrNotInitialized
	}

	horizon := math.Max(0, f.x.AtVec(gamestate.IdxTimeRemaining))

	fm := transition(horizon)
	var fx mat.VecDense
	fx.MulVec(fm, f.x)

	var fp, fpft mat.Dense
	fp.Mul(fm, f.p)
	fpft.Mul(&fp, fm.T())
	q := f.cfg.processNoiseStd * f.cfg.processNoiseStd * horizon
	for i := 0; i < gamestate.Dim; i++ {
		fpft.Set(i, i, fpft.At(i, i)+q)
	}

	home := math.Max(0, fx.AtVec(gamestate.IdxHomeScore))
	away := math.Max(0, fx.AtVec(gamestate.IdxAwayScore))
	homeStd := math.Sqrt(math.Max(0, fpft.At(gamestate.IdxHomeScore, gamestate.IdxHomeScore)))
	awayStd := math.Sqrt(math.Max(0, fpft.At(gamestate.IdxAwayScore, gamestate.IdxAwayScore)))

	z := normalQuantile(0.5 + ci95Confidence/2)
	b := f.cfg.bounds
	p := math.Min(b.MaxProb, math.Max(b.MinProb, winProbability(home-away, 0)))

	return model.FinalScorePrediction{
		HomeScore:   home,
		AwayScore:   away,
		HomeWinProb: p,
		HomeStd:     homeStd,
		AwayStd:     awayStd,
		HomeCI95:    model.Interval{Lower: home - z*homeStd, Upper: home + z*homeStd},
		AwayCI95:    model.Interval{Lower: away - z*awayStd, Upper: away + z*awayStd},
	}, nil
}

// StateIntervals bundles per-variable confidence intervals.
type StateIntervals struct {
	HomeScore     model.Interval `json:"home_score"`
	AwayScore     model.Interval `json:"away_score"`
	HomeScoreRate model.Interval `json:"home_score_rate"`
	AwayScoreRate model.Interval `json:"away_score_rate"`
	HomeWinProb   model.Interval `json:"home_win_prob"`
	TimeRemaining model.Interval `json:"time_remaining"`
}

// ConfidenceInterval returns Gaussian intervals at the given confidence from
// the covariance diagonal.
func (f *Filter) ConfidenceInterval(confidence float64) (StateIntervals, error) {
	if !f.initialized {
		return StateIntervals{}, ErrNotInitialized
	}
	if confidence <= 0 || confidence >= 1 {
		return StateIntervals{}, fmt.Errorf("%w: %v", ErrInvalidConfidence, confidence)
	}

	z := normalQuantile(0.5 + confidence/2)
	iv := func(idx int) model.Interval {
		mean := f.x.AtVec(idx)
		std := math.Sqrt(math.Max(0, f.p.At(idx, idx)))
		return model.Interval{Lower: mean - z*std, Upper: mean + z*std}
	}
	return StateIntervals{
		HomeScore:     iv(gamestate.IdxHomeScore),
		AwayScore:     iv(gamestate.IdxAwayScore),
		HomeScoreRate: iv(gamestate.IdxHomeRate),
		AwayScoreRate: iv(gamestate.IdxAwayRate),
		HomeWinProb:   iv(gamestate.IdxWinProb),
		TimeRemaining: iv(gamestate.IdxTimeRemaining),
	}, nil
}

// transition builds F(dt): identity plus score <- rate coupling.
func transition(dt float64) *mat.Dense {
	fm := mat.NewDense(gamestate.Dim, gamestate.Dim, nil)
	for i := 0; i < gamestate.Dim; i++ {
		fm.Set(i, i, 1)
	}
	fm.Set(gamestate.IdxHomeScore, gamestate.IdxHomeRate, dt)
	fm.Set(gamestate.IdxAwayScore, gamestate.IdxAwayRate, dt)
	return fm
}

// observationMatrix is the H selector mapping the state vector onto the
// observed triple (home_score, away_score, time_remaining).
func observationMatrix() *mat.Dense {
	h := mat.NewDense(obsDim, gamestate.Dim, nil)
	h.Set(0, gamestate.IdxHomeScore, 1)
	h.Set(1, gamestate.IdxAwayScore, 1)
	h.Set(2, gamestate.IdxTimeRemaining, 1)
	return h
}

// normalQuantile returns the standard normal quantile.
func normalQuantile(p float64) float64 {
	return distuv.Normal{Mu: 0, Sigma: 1}.Quantile(p)
}
