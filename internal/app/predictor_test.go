package app

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/okian/courtside/internal/connectors"
	"github.com/okian/courtside/internal/domain/kalman"
	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/sim"
	"github.com/okian/courtside/internal/stream/analyzer"
	"github.com/okian/courtside/internal/stream/buffer"
	"github.com/okian/courtside/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("error")
	os.Exit(m.Run())
}

func newTestPredictor(opts ...Option) *Predictor {
	f := kalman.New(kalman.NewConfig())
	s := sim.New(f)
	mgr := connectors.NewManager(nil)
	return New(s, mgr, opts...)
}

func scoreMessage(id string, home, away, timeRemaining float64, quarter int) model.DataMessage {
	return model.DataMessage{
		MessageID: id,
		Timestamp: time.Now(),
		Source:    "test",
		Type:      model.MessageScoreUpdate,
		Payload: map[string]interface{}{
			"game_id":        "g-1",
			"home_score":     home,
			"away_score":     away,
			"time_remaining": timeRemaining,
			"quarter":        float64(quarter),
		},
	}
}

func TestFirstMessageInitializesAndPublishes(t *testing.T) {
	p := newTestPredictor()

	var got []PredictionUpdate
	var mu sync.Mutex
	p.Subscribe(func(up PredictionUpdate) {
		mu.Lock()
		got = append(got, up)
		mu.Unlock()
	})

	p.handleMessage(scoreMessage("m-1", 10, 8, 40, 1))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("published = %d, want 1", len(got))
	}
	up := got[0]
	if up.Trigger != sim.TriggerInitialization {
		t.Errorf("trigger = %q", up.Trigger)
	}
	if up.HomeScore != 10 || up.AwayScore != 8 {
		t.Errorf("scores = %v-%v", up.HomeScore, up.AwayScore)
	}
	if up.HomeWinProb <= 0 || up.HomeWinProb >= 1 {
		t.Errorf("prob = %v", up.HomeWinProb)
	}
	if up.PredictedHomeFinal < up.HomeScore {
		t.Errorf("final projection %v below current score", up.PredictedHomeFinal)
	}
	if up.HomeFinalLow >= up.HomeFinalHigh {
		t.Errorf("interval [%v, %v] inverted", up.HomeFinalLow, up.HomeFinalHigh)
	}
	if up.Confidence == "" || up.Momentum == "" {
		t.Errorf("grades missing: %q %q", up.Confidence, up.Momentum)
	}

	cur, ok := p.GetCurrentPrediction()
	if !ok {
		t.Fatal("no current prediction")
	}
	if cur.Timestamp != up.Timestamp {
		t.Error("current prediction differs from last published")
	}
}

func TestInitializeSeedsAndPublishes(t *testing.T) {
	p := newTestPredictor(WithGameID("g-1"))

	var got []PredictionUpdate
	var mu sync.Mutex
	p.Subscribe(func(up PredictionUpdate) {
		mu.Lock()
		got = append(got, up)
		mu.Unlock()
	})

	up, ok := p.Initialize(context.Background(), kalman.Init{
		HomeScore: 0, AwayScore: 0, TimeRemaining: 48, Quarter: 1,
	})
	if !ok {
		t.Fatal("no prediction published")
	}
	if up.Trigger != sim.TriggerInitialization {
		t.Errorf("trigger = %q", up.Trigger)
	}
	if up.HomeWinProb != 0.5 {
		t.Errorf("pre-game win prob = %v, want 0.5", up.HomeWinProb)
	}
	if up.GameID != "g-1" {
		t.Errorf("game id = %q", up.GameID)
	}

	mu.Lock()
	subscribed := len(got)
	mu.Unlock()
	if subscribed != 1 {
		t.Fatalf("subscriber deliveries = %d, want 1", subscribed)
	}
	if len(p.GetPredictionHistory(0)) != 1 {
		t.Errorf("history = %d, want 1", len(p.GetPredictionHistory(0)))
	}
}

func TestDuplicateMessagesAreDropped(t *testing.T) {
	p := newTestPredictor()

	p.handleMessage(scoreMessage("m-1", 10, 8, 40, 1))
	p.handleMessage(scoreMessage("m-1", 50, 8, 40, 1)) // replay with different body

	if d := p.duplicates.Load(); d != 1 {
		t.Errorf("duplicates = %d, want 1", d)
	}
	cur, ok := p.GetCurrentPrediction()
	if !ok {
		t.Fatal("no prediction")
	}
	if cur.HomeScore != 10 {
		t.Errorf("replayed body was applied: home = %v", cur.HomeScore)
	}
}

func TestSuppressedUpdatesSkipPublication(t *testing.T) {
	p := newTestPredictor()

	p.handleMessage(scoreMessage("m-1", 50, 40, 20, 3))
	p.handleMessage(scoreMessage("m-2", 51, 40, 19.9, 3))

	if got := len(p.GetPredictionHistory(0)); got != 1 {
		t.Errorf("history = %d, want 1 (second update below thresholds)", got)
	}
	if n := p.processed.Load(); n != 2 {
		t.Errorf("processed = %d, want 2", n)
	}
}

func TestGameIDFilter(t *testing.T) {
	p := newTestPredictor(WithGameID("other-game"))

	p.handleMessage(scoreMessage("m-1", 10, 8, 40, 1))

	if _, ok := p.GetCurrentPrediction(); ok {
		t.Error("message for a different game produced a prediction")
	}
}

func TestStatusMessagesIgnored(t *testing.T) {
	p := newTestPredictor()

	p.handleMessage(model.DataMessage{
		MessageID: "s-1",
		Type:      model.MessageStatus,
		Payload:   map[string]interface{}{"state": "halftime"},
	})

	if _, ok := p.GetCurrentPrediction(); ok {
		t.Error("status message produced a prediction")
	}
	if n := p.processed.Load(); n != 0 {
		t.Errorf("processed = %d", n)
	}
}

func TestGameEventTypeMapping(t *testing.T) {
	p := newTestPredictor()
	p.handleMessage(scoreMessage("m-1", 50, 50, 10, 4))

	p.handleMessage(model.DataMessage{
		MessageID: "m-2",
		Type:      model.MessageGameEvent,
		Payload: map[string]interface{}{
			"event_type": string(model.EventPlayerEvent),
			"points":     3.0,
			"team":       "home",
		},
	})

	st, err := p.simulator.CurrentState()
	if err != nil {
		t.Fatal(err)
	}
	if st.HomeScore <= 50 {
		t.Errorf("player event did not add points: home = %v", st.HomeScore)
	}
}

func TestHistoryBound(t *testing.T) {
	p := newTestPredictor(WithHistorySize(3))

	// alternate blowout swings so every update clears the gate
	scores := []float64{10, 30, 10, 40, 10, 50}
	for i, s := range scores {
		p.handleMessage(scoreMessage(
			time.Now().Format(time.RFC3339Nano)+string(rune('a'+i)),
			s, 10, 30, 2,
		))
	}

	hist := p.GetPredictionHistory(0)
	if len(hist) > 3 {
		t.Errorf("history = %d, want <= 3", len(hist))
	}
	if limited := p.GetPredictionHistory(2); len(limited) != 2 {
		t.Errorf("limited history = %d, want 2", len(limited))
	}
}

func TestMomentumAnalysis(t *testing.T) {
	p := newTestPredictor()

	p.mu.Lock()
	p.probHistory = []float64{0.5, 0.55, 0.6, 0.65, 0.7}
	p.mu.Unlock()

	m := p.AnalyzeMomentum(10)
	if m.Direction != MomentumHome {
		t.Errorf("direction = %q, want home", m.Direction)
	}
	if m.Strength != StrengthStrong {
		t.Errorf("strength = %q, want strong (delta %v)", m.Strength, m.AvgDelta)
	}

	p.mu.Lock()
	p.probHistory = []float64{0.7, 0.69, 0.695, 0.692, 0.694}
	p.mu.Unlock()
	if m := p.AnalyzeMomentum(10); m.Direction != MomentumNeutral {
		t.Errorf("flat series direction = %q", m.Direction)
	}

	p.mu.Lock()
	p.probHistory = []float64{0.7, 0.66, 0.62}
	p.mu.Unlock()
	m = p.AnalyzeMomentum(10)
	if m.Direction != MomentumAway || m.Strength != StrengthStrong {
		t.Errorf("away slide = %+v", m)
	}

	empty := newTestPredictor()
	if m := empty.AnalyzeMomentum(10); m.Direction != MomentumNeutral || m.Samples != 0 {
		t.Errorf("empty momentum = %+v", m)
	}
}

func TestConfidenceLevels(t *testing.T) {
	cases := []struct {
		prob float64
		want string
	}{
		{0.5, ConfidenceVeryLow},
		{0.55, ConfidenceVeryLow},
		{0.65, ConfidenceLow},
		{0.75, ConfidenceModerate},
		{0.85, ConfidenceHigh},
		{0.95, ConfidenceVeryHigh},
		{0.05, ConfidenceVeryHigh},
	}
	for _, tc := range cases {
		if got := confidenceLevel(tc.prob); got != tc.want {
			t.Errorf("confidenceLevel(%v) = %q, want %q", tc.prob, got, tc.want)
		}
	}
}

func TestSubscriberPanicIsolated(t *testing.T) {
	p := newTestPredictor()

	var delivered int
	var mu sync.Mutex
	p.Subscribe(func(PredictionUpdate) { panic("downstream broke") })
	p.Subscribe(func(PredictionUpdate) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	p.handleMessage(scoreMessage("m-1", 10, 8, 40, 1))

	mu.Lock()
	defer mu.Unlock()
	if delivered != 1 {
		t.Errorf("second subscriber delivered = %d, want 1", delivered)
	}
}

func TestResetClearsHistoryKeepsDedupe(t *testing.T) {
	p := newTestPredictor()
	p.handleMessage(scoreMessage("m-1", 10, 8, 40, 1))

	p.Reset()
	if _, ok := p.GetCurrentPrediction(); ok {
		t.Error("history survived reset")
	}

	// the same message id stays rejected after reset
	p.handleMessage(scoreMessage("m-1", 20, 8, 39, 1))
	if _, ok := p.GetCurrentPrediction(); ok {
		t.Error("replayed message accepted after reset")
	}
	if d := p.duplicates.Load(); d != 1 {
		t.Errorf("duplicates = %d", d)
	}
}

func TestEndToEndWithMockConnector(t *testing.T) {
	if testing.Short() {
		t.Skip("end to end test")
	}

	f := kalman.New(kalman.NewConfig())
	s := sim.New(f, sim.WithMinUpdateInterval(10*time.Millisecond))
	mgr := connectors.NewManager(nil)
	mock := connectors.NewMockConnector("mock", connectors.Config{}, nil, nil,
		connectors.WithEventRate(50), connectors.WithGameID("g-1"), connectors.WithMockSeed(11))
	if err := mgr.AddConnector(mock); err != nil {
		t.Fatal(err)
	}

	an := analyzer.New(buffer.New())
	p := New(s, mgr, WithGameID("g-1"), WithAnalyzer(an))

	var updates int
	var mu sync.Mutex
	p.Subscribe(func(PredictionUpdate) {
		mu.Lock()
		updates++
		mu.Unlock()
	})

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := p.GetCurrentPrediction(); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cur, ok := p.GetCurrentPrediction()
	if !ok {
		t.Fatal("no prediction from live feed")
	}
	if cur.HomeWinProb < 0.01 || cur.HomeWinProb > 0.99 {
		t.Errorf("prob out of bounds: %v", cur.HomeWinProb)
	}

	stats := p.GetStatistics()
	if stats["started"] != true {
		t.Error("stats missing started")
	}
	if _, ok := stats["connector_mock_received"]; !ok {
		t.Error("stats missing connector counters")
	}

	// analyzer saw the same stream
	if an.Throughput().EventsObserved == 0 {
		t.Error("analyzer received no events")
	}

	p.Stop()
	p.Stop() // idempotent
}
