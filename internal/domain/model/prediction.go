package model

// Interval is a closed range around an estimate.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Width returns Upper - Lower.
func (i Interval) Width() float64 {
	return i.Upper - i.Lower
}

// ScorePoint is the minimal final-score prediction an external model must
// produce: expected scores plus a home win probability.
type ScorePoint struct {
	HomeScore   float64 `json:"home_score"`
	AwayScore   float64 `json:"away_score"`
	HomeWinProb float64 `json:"home_win_prob"`
}

// FinalScorePrediction is a point prediction with quantified uncertainty,
// produced by propagating the filter to the end of the game.
type FinalScorePrediction struct {
	HomeScore   float64  `json:"home_score"`
	AwayScore   float64  `json:"away_score"`
	HomeWinProb float64  `json:"home_win_prob"`
	HomeStd     float64  `json:"home_std"`
	AwayStd     float64  `json:"away_std"`
	HomeCI95    Interval `json:"home_ci95"`
	AwayCI95    Interval `json:"away_ci95"`
}
