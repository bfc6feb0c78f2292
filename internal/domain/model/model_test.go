package model

import (
	"testing"
	"time"
)

func TestDataMessageFloat(t *testing.T) {
	m := DataMessage{
		MessageID: "m1",
		Timestamp: time.Now(),
		Source:    "mock",
		Type:      MessageScoreUpdate,
		Payload: map[string]interface{}{
			"home_score":     float64(42),
			"away_score":     40,
			"time_remaining": int64(600),
			"quarter":        float32(3),
			"venue":          "arena",
		},
	}

	cases := []struct {
		key  string
		want float64
		ok   bool
	}{
		{"home_score", 42, true},
		{"away_score", 40, true},
		{"time_remaining", 600, true},
		{"quarter", 3, true},
		{"venue", 0, false},
		{"missing", 0, false},
	}
	for _, c := range cases {
		got, ok := m.Float(c.key)
		if ok != c.ok || got != c.want {
			t.Errorf("Float(%q) = %v, %v; want %v, %v", c.key, got, ok, c.want, c.ok)
		}
	}
}

func TestDataMessageStr(t *testing.T) {
	m := DataMessage{Payload: map[string]interface{}{"possession": "home", "quarter": 2}}

	if s, ok := m.Str("possession"); !ok || s != "home" {
		t.Errorf("Str(possession) = %q, %v; want home, true", s, ok)
	}
	if _, ok := m.Str("quarter"); ok {
		t.Error("Str(quarter) should fail for numeric value")
	}
	if _, ok := m.Str("missing"); ok {
		t.Error("Str(missing) should fail")
	}
}

func TestStreamEventAccessors(t *testing.T) {
	e := StreamEvent{
		Type:   EventScoreUpdate,
		GameID: "game-1",
		Payload: map[string]interface{}{
			"home_score": 10.0,
			"possession": "away",
		},
	}

	if v, ok := e.Float("home_score"); !ok || v != 10 {
		t.Errorf("Float(home_score) = %v, %v", v, ok)
	}
	if s, ok := e.Str("possession"); !ok || s != "away" {
		t.Errorf("Str(possession) = %q, %v", s, ok)
	}
}
