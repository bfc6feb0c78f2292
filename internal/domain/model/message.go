// Package model contains domain models passed between layers.
package model

import "time"

// MessageType classifies a DataMessage at the connector boundary.
type MessageType string

// Message types produced by connectors.
const (
	MessageScoreUpdate MessageType = "score_update"
	MessageGameEvent   MessageType = "game_event"
	MessageStatus      MessageType = "status"
)

// DataMessage is the raw unit produced by a connector and consumed once by
// the routing layer.
type DataMessage struct {
	MessageID      string                 // unique id for idempotency
	Timestamp      time.Time              // producer-side timestamp
	Source         string                 // connector name
	Payload        map[string]interface{} // arbitrary key/value payload
	Type           MessageType            // payload classification
	SequenceNumber int64                  // connector-local sequence
}

// Float extracts a numeric payload field, tolerating the types JSON decoding
// and synthetic producers emit.
func (m *DataMessage) Float(key string) (float64, bool) {
	v, ok := m.Payload[key]
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
func (m *DataMessage) Str(key string) (string, bool) {
	v, ok := m.Payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
