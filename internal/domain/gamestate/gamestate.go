// Package gamestate defines the estimated game state snapshot shared by the
// filter, simulator and predictor layers.
//
// A State is a value: every filter step derives a new one and the previous
// snapshot stays untouched in history.
package gamestate

import (
	"math"
	"time"

	"github.com/okian/courtside/internal/domain/model"
)

// Dim is the dimension of the estimated state vector:
// [home_score, away_score, home_rate, away_rate, home_win_prob, time_remaining].
const Dim = 6

// Indices into the state vector.
const (
	IdxHomeScore = iota
	IdxAwayScore
	IdxHomeRate
	IdxAwayRate
	IdxWinProb
	IdxTimeRemaining
)

// State is an immutable snapshot of the estimated game state.
type State struct {
	HomeScore     float64           `json:"home_score"`
	AwayScore     float64           `json:"away_score"`
	HomeScoreRate float64           `json:"home_score_rate"` // points per minute
	AwayScoreRate float64           `json:"away_score_rate"` // points per minute
	HomeWinProb   float64           `json:"home_win_prob"`
	TimeRemaining float64           `json:"time_remaining"` // minutes
	Quarter       int               `json:"quarter"`
	Possession    model.Possession  `json:"possession"`
	Covariance    [Dim][Dim]float64 `json:"covariance"`
	LastUpdate    time.Time         `json:"last_update"`
}

// ScoreDiff returns home minus away score.
func (s *State) ScoreDiff() float64 {
	return s.HomeScore - s.AwayScore
}

// Variances returns the diagonal of the covariance matrix.
func (s *State) Variances() [Dim]float64 {
	var v [Dim]float64
	for i := 0; i < Dim; i++ {
		v[i] = s.Covariance[i][i]
	}
	return v
}

// StdDevs returns per-variable standard deviations from the covariance
// diagonal. Negative variances (numerical noise) are floored at zero.
func (s *State) StdDevs() [Dim]float64 {
	var out [Dim]float64
	for i, v := range s.Variances() {
		if v > 0 {
			out[i] = math.Sqrt(v)
		}
	}
	return out
}

// Bounds captures the invariant envelope every published State must satisfy.
type Bounds struct {
	MinScoreRate float64
	MaxScoreRate float64
	MinProb      float64
	MaxProb      float64
}

// Apply clamps a state in place to the invariant envelope: scores and time
// remaining are non-negative, rates and win probability stay inside their
// configured bounds.
func (b Bounds) Apply(s *State) {
	s.HomeScore = math.Max(0, s.HomeScore)
	s.AwayScore = math.Max(0, s.AwayScore)
	s.HomeScoreRate = clamp(s.HomeScoreRate, b.MinScoreRate, b.MaxScoreRate)
	s.AwayScoreRate = clamp(s.AwayScoreRate, b.MinScoreRate, b.MaxScoreRate)
	s.HomeWinProb = clamp(s.HomeWinProb, b.MinProb, b.MaxProb)
	s.TimeRemaining = math.Max(0, s.TimeRemaining)
	if s.Quarter < 1 {
		s.Quarter = 1
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
