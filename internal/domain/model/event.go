package model

import "time"

// EventType classifies a StreamEvent crossing the connector -> simulator
// boundary.
type EventType string

// Event types understood by the simulator.
const (
	EventScoreUpdate      EventType = "score_update"
	EventPlayerEvent      EventType = "player_event"
	EventPossessionChange EventType = "possession_change"
	EventQuarterChange    EventType = "quarter_change"
)

// Possession identifies which side holds the ball.
type Possession string

// Possession values.
const (
	PossessionHome Possession = "home"
	PossessionAway Possession = "away"
	PossessionNone Possession = "none"
)

// StreamEvent is the typed envelope handed to the simulator.
type StreamEvent struct {
	Type      EventType              // event classification
	Timestamp time.Time              // when the event occurred
	GameID    string                 // game this event belongs to
	Payload   map[string]interface{} // minimally home_score/away_score/time_remaining for score events
}

// Float extracts a numeric payload field.
func (e *StreamEvent) Float(key string) (float64, bool) {
	v, ok := e.Payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Str extracts a string payload field.
func (e *StreamEvent) Str(key string) (string, bool) {
	v, ok := e.Payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
