package feedsim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/courtside/internal/connectors"
	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("error")
	os.Exit(m.Run())
}

func genConfig(scenario string, seed int64) *Config {
	return &Config{
		Scenario: scenario,
		GameID:   "test-game",
		Seed:     seed,
		StepMin:  0.25,
	}
}

func TestGenerateGameIsDeterministic(t *testing.T) {
	ctx := context.Background()
	a, err := generateGame(ctx, genConfig("close_game", 42), &Stats{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := generateGame(ctx, genConfig("close_game", 42), &Stats{})
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		ah, _ := a[i].Float("home_score")
		bh, _ := b[i].Float("home_score")
		if ah != bh {
			t.Fatalf("message %d diverges: %v vs %v", i, ah, bh)
		}
	}
}

func TestGeneratedGameInvariants(t *testing.T) {
	stats := &Stats{}
	msgs, err := generateGame(context.Background(), genConfig("close_game", 7), stats)
	if err != nil {
		t.Fatal(err)
	}
	if stats.MessagesGenerated != len(msgs) {
		t.Errorf("stats count %d != %d", stats.MessagesGenerated, len(msgs))
	}

	var prevHome, prevAway, prevRemaining float64
	prevRemaining = regulationMinutes + 1
	quarters := map[float64]bool{}
	for i, m := range msgs {
		if m.Type == model.MessageGameEvent {
			continue
		}
		h, _ := m.Float("home_score")
		a, _ := m.Float("away_score")
		r, _ := m.Float("time_remaining")
		q, _ := m.Float("quarter")
		if h < prevHome || a < prevAway {
			t.Fatalf("message %d: scores went backwards", i)
		}
		if r > prevRemaining {
			t.Fatalf("message %d: clock went backwards", i)
		}
		if m.MessageID == "" {
			t.Fatalf("message %d: missing id", i)
		}
		quarters[q] = true
		prevHome, prevAway, prevRemaining = h, a, r
	}
	for q := 1.0; q <= 4; q++ {
		if !quarters[q] {
			t.Errorf("quarter %v never reached", q)
		}
	}
	last, _ := msgs[len(msgs)-1].Float("time_remaining")
	if last != 0 {
		t.Errorf("game did not reach the final buzzer: %v remaining", last)
	}
}

func TestBlowoutFavorsHome(t *testing.T) {
	stats := &Stats{}
	if _, err := generateGame(context.Background(), genConfig("blowout", 3), stats); err != nil {
		t.Fatal(err)
	}
	if stats.FinalHomeScore <= stats.FinalAwayScore {
		t.Errorf("blowout ended %v-%v", stats.FinalHomeScore, stats.FinalAwayScore)
	}
}

func TestComebackShiftsRates(t *testing.T) {
	msgs, err := generateGame(context.Background(), genConfig("comeback", 5), &Stats{})
	if err != nil {
		t.Fatal(err)
	}

	// margin at halftime versus margin at the end; the second half
	// script hands the away team a large rate edge
	var halftimeMargin, finalMargin float64
	for _, m := range msgs {
		if m.Type != model.MessageScoreUpdate {
			continue
		}
		h, _ := m.Float("home_score")
		a, _ := m.Float("away_score")
		r, _ := m.Float("time_remaining")
		if r >= regulationMinutes/2 {
			halftimeMargin = h - a
		}
		finalMargin = h - a
	}
	if halftimeMargin <= 0 {
		t.Errorf("home not ahead at halftime: %v", halftimeMargin)
	}
	if finalMargin >= halftimeMargin {
		t.Errorf("away never closed: halftime %v, final %v", halftimeMargin, finalMargin)
	}
}

func TestUnknownScenarioRejected(t *testing.T) {
	_, err := generateGame(context.Background(), genConfig("half_court_only", 1), &Stats{})
	if err == nil || !strings.Contains(err.Error(), "unknown scenario") {
		t.Errorf("err = %v", err)
	}
}

func TestWireFrameShape(t *testing.T) {
	msg := model.DataMessage{
		MessageID: "id-1",
		Timestamp: time.Date(2026, 3, 1, 19, 30, 0, 0, time.UTC),
		Type:      model.MessageScoreUpdate,
		Payload:   map[string]interface{}{"home_score": 10.0},
	}
	frame := wireFrame(msg)
	if frame["type"] != "score_update" || frame["message_id"] != "id-1" {
		t.Errorf("frame = %v", frame)
	}
	if _, ok := frame["home_score"]; !ok {
		t.Error("payload fields not flattened")
	}
	if _, err := time.Parse(time.RFC3339Nano, frame["timestamp"].(string)); err != nil {
		t.Errorf("timestamp not RFC3339: %v", err)
	}
}

func TestDriveReplaysThroughPredictor(t *testing.T) {
	cfg := genConfig("blowout", 13)
	cfg.RateHz = 1000
	cfg.StepMin = 1.0 // short game, 48 score updates
	msgs, err := generateGame(context.Background(), cfg, &Stats{})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stats := &Stats{}
	if err := runDrive(ctx, cfg, msgs, stats); err != nil {
		t.Fatalf("drive: %v", err)
	}
	if stats.MessagesSent != int64(len(msgs)) {
		t.Errorf("replayed %d of %d messages", stats.MessagesSent, len(msgs))
	}
}

func TestReplayConnectorLifecycle(t *testing.T) {
	cfg := genConfig("close_game", 21)
	msgs, err := generateGame(context.Background(), cfg, &Stats{})
	if err != nil {
		t.Fatal(err)
	}

	r := newReplayConnector("replay", msgs, 1000)
	if got := r.Status(); got != connectors.StatusDisconnected {
		t.Errorf("initial status = %v", got)
	}

	var seen atomic.Int64
	r.RegisterCallback(func(model.DataMessage) { seen.Add(1) })

	if err := r.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.Connect(context.Background()); err != connectors.ErrAlreadyConnected {
		t.Errorf("second connect err = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for seen.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if seen.Load() == 0 {
		t.Fatal("no messages replayed")
	}

	r.Disconnect()
	r.Disconnect() // idempotent
	if got := r.Status(); got != connectors.StatusDisconnected {
		t.Errorf("status after disconnect = %v", got)
	}
	time.Sleep(20 * time.Millisecond) // let an in-flight send settle
	if r.Stats().MessagesReceived != r.sent.Load() {
		t.Error("stats out of sync with sent counter")
	}
}

func TestServerReplaysGame(t *testing.T) {
	cfg := genConfig("close_game", 9)
	cfg.RateHz = 500
	cfg.AuthToken = "sekret"
	msgs, err := generateGame(context.Background(), cfg, &Stats{})
	if err != nil {
		t.Fatal(err)
	}

	srv := newServer(cfg, msgs[:20])
	ts := httptest.NewServer(http.HandlerFunc(srv.handleFeed))
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	// missing token is rejected before the upgrade
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Error("dial without token succeeded")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", resp.StatusCode)
	}

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer sekret")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var got int
	for {
		var frame map[string]interface{}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		if frame["game_id"] != "test-game" {
			t.Fatalf("frame = %v", frame)
		}
		got++
	}
	if got != 20 {
		t.Errorf("received %d frames, want 20", got)
	}
	if srv.clients.Load() != 1 || srv.sent.Load() != 20 {
		t.Errorf("stats clients=%d sent=%d", srv.clients.Load(), srv.sent.Load())
	}
}
