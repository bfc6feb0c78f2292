package feedsim

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/pkg/logger"
)

// Game clock constants, in game minutes.
const (
	regulationMinutes = 48.0
	quarterMinutes    = 12.0
	defaultStepMin    = 0.25
)

// Scoring distribution constants.
const (
	twoPointShare   = 0.55
	threePointShare = 0.30
	// remainder is free throws
)

// phase describes team scoring rates for a slice of the game.
// until is the fraction of regulation at which the phase ends.
type phase struct {
	until    float64
	homeRate float64 // points per game minute
	awayRate float64
}

// scenario is a scripted game shape the generator replays.
type scenario struct {
	name   string
	phases []phase
}

var scenarios = map[string]scenario{
	"close_game": {
		name: "close_game",
		phases: []phase{
			{until: 1.0, homeRate: 2.2, awayRate: 2.2},
		},
	},
	"blowout": {
		name: "blowout",
		phases: []phase{
			{until: 1.0, homeRate: 2.9, awayRate: 1.6},
		},
	},
	"comeback": {
		name: "comeback",
		phases: []phase{
			{until: 0.5, homeRate: 2.8, awayRate: 1.6},
			{until: 1.0, homeRate: 1.4, awayRate: 3.2},
		},
	},
}

// ScenarioNames lists the available scripted scenarios.
func ScenarioNames() []string {
	return []string{"close_game", "blowout", "comeback"}
}

func (s scenario) rates(progress float64) (home, away float64) {
	for _, p := range s.phases {
		if progress <= p.until {
			return p.homeRate, p.awayRate
		}
	}
	last := s.phases[len(s.phases)-1]
	return last.homeRate, last.awayRate
}

// generateGame replays a full scripted game as a message sequence.
// The same seed always produces the same game.
func generateGame(ctx context.Context, config *Config, stats *Stats) ([]model.DataMessage, error) {
	sc, ok := scenarios[config.Scenario]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q", config.Scenario)
	}

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	step := config.StepMin
	if step <= 0 {
		step = defaultStepMin
	}

	logger.Get().Info(ctx, "generating scripted game",
		logger.String("scenario", sc.name),
		logger.String("gameID", config.GameID),
		logger.Int64("seed", seed),
		logger.Float64("stepMinutes", step))

	var (
		messages   []model.DataMessage
		homeScore  float64
		awayScore  float64
		elapsed    float64
		quarter    = 1
		possession = model.PossessionHome
		base       = time.Now().UTC()
	)

	for elapsed < regulationMinutes {
		elapsed += step
		if elapsed > regulationMinutes {
			elapsed = regulationMinutes
		}
		remaining := regulationMinutes - elapsed

		q := int(elapsed/quarterMinutes) + 1
		if q > 4 {
			q = 4
		}
		quarterChanged := q != quarter
		quarter = q

		homeRate, awayRate := sc.rates(elapsed / regulationMinutes)
		homePts := samplePoints(rng, homeRate*step)
		awayPts := samplePoints(rng, awayRate*step)
		homeScore += float64(homePts)
		awayScore += float64(awayPts)

		if homePts > 0 {
			possession = model.PossessionAway
		} else if awayPts > 0 {
			possession = model.PossessionHome
		}

		ts := base.Add(time.Duration(elapsed * float64(time.Minute)))
		msg := model.DataMessage{
			MessageID: uuid.New().String(),
			Timestamp: ts,
			Source:    "feedsim",
			Type:      model.MessageScoreUpdate,
			Payload: map[string]interface{}{
				"game_id":        config.GameID,
				"home_score":     homeScore,
				"away_score":     awayScore,
				"time_remaining": remaining,
				"quarter":        float64(quarter),
				"possession":     string(possession),
			},
		}
		messages = append(messages, msg)

		if quarterChanged {
			messages = append(messages, model.DataMessage{
				MessageID: uuid.New().String(),
				Timestamp: ts,
				Source:    "feedsim",
				Type:      model.MessageGameEvent,
				Payload: map[string]interface{}{
					"game_id":        config.GameID,
					"event_type":     string(model.EventQuarterChange),
					"quarter":        float64(quarter),
					"time_remaining": remaining,
				},
			})
		}
	}

	stats.MessagesGenerated = len(messages)
	stats.FinalHomeScore = homeScore
	stats.FinalAwayScore = awayScore
	logger.Get().Info(ctx, "scripted game generated",
		logger.Int("messages", len(messages)),
		logger.Float64("finalHome", homeScore),
		logger.Float64("finalAway", awayScore))
	return messages, nil
}

// samplePoints converts an expected point yield for one step into a
// discrete scoring play. Expectations are small, so at most one play
// lands per step per team.
func samplePoints(rng *rand.Rand, expected float64) int {
	// probability that a play happens this step, sized so the long-run
	// average matches the expected points per step
	avgPlay := twoPointShare*2 + threePointShare*3 + (1-twoPointShare-threePointShare)*1
	if rng.Float64() >= expected/avgPlay {
		return 0
	}
	r := rng.Float64()
	switch {
	case r < twoPointShare:
		return 2
	case r < twoPointShare+threePointShare:
		return 3
	default:
		return 1
	}
}

// wireFrame flattens a message into the JSON shape the websocket
// connector parses on the other end.
func wireFrame(msg model.DataMessage) map[string]interface{} {
	frame := make(map[string]interface{}, len(msg.Payload)+3)
	for k, v := range msg.Payload {
		frame[k] = v
	}
	frame["type"] = string(msg.Type)
	frame["message_id"] = msg.MessageID
	frame["timestamp"] = msg.Timestamp.Format(time.RFC3339Nano)
	return frame
}
