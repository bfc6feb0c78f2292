// Package analyzer provides online aggregation and anomaly detection over a
// stream buffer with a rolling time window.
package analyzer

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/courtside/internal/domain/model"
	"github.com/okian/courtside/internal/stream/buffer"
	"github.com/okian/courtside/pkg/logger"
)

// Default analyzer configuration constants.
const (
	defaultWindow = 5 * time.Minute

	// smoothingAlpha is the exponential smoothing factor for the rolling
	// latency and throughput estimates.
	smoothingAlpha = 0.1

	// minAnomalySamples is the minimum window population required before
	// z-scoring is meaningful.
	minAnomalySamples = 10
)

// AggregatorFunc computes a named aggregate for a freshly inserted event
// given the current window contents.
type AggregatorFunc func(e model.StreamEvent, window []buffer.Entry) (float64, error)

// ProcessResult reports one processed event.
type ProcessResult struct {
	SequenceID int64
	Results    map[string]float64
	Latency    time.Duration
}

// Anomaly is a window sample whose z-score exceeded the threshold.
type Anomaly struct {
	SequenceID int64
	Value      float64
	ZScore     float64
}

// Throughput is the exponentially smoothed processing telemetry.
type Throughput struct {
	AvgLatency     time.Duration
	EventsPerSec   float64
	EventsObserved int64
}

// Analyzer wraps a stream buffer with rolling-window analytics.
type Analyzer struct {
	buf    *buffer.Buffer
	window time.Duration
	log    logger.Logger

	mu          sync.Mutex
	aggregators map[string]AggregatorFunc
	aggOrder    []string

	avgLatency  float64 // milliseconds, exponentially smoothed
	eventRate   float64 // events per second, exponentially smoothed
	lastEventAt time.Time
	observed    int64

	now func() time.Time
}

// Option applies a configuration option to the Analyzer.
type Option func(*Analyzer)

// WithWindow sets the rolling analysis window.
func WithWindow(w time.Duration) Option {
	return func(a *Analyzer) {
		if w > 0 {
			a.window = w
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(a *Analyzer) {
		if log != nil {
			a.log = log
		}
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates an analyzer over the given buffer.
func New(buf *buffer.Buffer, opts ...Option) *Analyzer {
	a := &Analyzer{
		buf:         buf,
		window:      defaultWindow,
		log:         logger.Get().Named("analyzer"),
		aggregators: make(map[string]AggregatorFunc),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterAggregator adds a named aggregator run against every processed
// event, in registration order.
func (a *Analyzer) RegisterAggregator(name string, fn AggregatorFunc) {
	if name == "" || fn == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.aggregators[name]; !exists {
		a.aggOrder = append(a.aggOrder, name)
	}
	a.aggregators[name] = fn
}

// ProcessEvent inserts the event and runs all registered aggregators against
// it. Aggregator failures are logged, never propagated.
func (a *Analyzer) ProcessEvent(ctx context.Context, e model.StreamEvent) ProcessResult {
	start := a.now()
	seq := a.buf.Add(e)
	window := a.buf.GetWindow(a.window)

	a.mu.Lock()
	names := make([]string, len(a.aggOrder))
	copy(names, a.aggOrder)
	fns := make(map[string]AggregatorFunc, len(a.aggregators))
	for k, v := range a.aggregators {
		fns[k] = v
	}
	a.mu.Unlock()

	results := make(map[string]float64, len(names))
	for _, name := range names {
		v, err := fns[name](e, window)
		if err != nil {
			a.log.Warn(ctx, "aggregator failed",
				logger.String("aggregator", name),
				logger.Error(err),
			)
			continue
		}
		results[name] = v
	}

	latency := a.now().Sub(start)
	a.recordProcessed(latency)
	return ProcessResult{SequenceID: seq, Results: results, Latency: latency}
}

// ProcessBatch processes events in order.
func (a *Analyzer) ProcessBatch(ctx context.Context, events []model.StreamEvent) []ProcessResult {
	out := make([]ProcessResult, len(events))
	for i, e := range events {
		out[i] = a.ProcessEvent(ctx, e)
	}
	return out
}

// recordProcessed folds one processed event into the smoothed telemetry.
func (a *Analyzer) recordProcessed(latency time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ms := float64(latency.Microseconds()) / 1e3
	if a.observed == 0 {
		a.avgLatency = ms
	} else {
		a.avgLatency = smoothingAlpha*ms + (1-smoothingAlpha)*a.avgLatency
	}

	now := a.now()
	if !a.lastEventAt.IsZero() {
		gap := now.Sub(a.lastEventAt).Seconds()
		if gap > 0 {
			inst := 1 / gap
			if a.eventRate == 0 {
				a.eventRate = inst
			} else {
				a.eventRate = smoothingAlpha*inst + (1-smoothingAlpha)*a.eventRate
			}
		}
	}
	a.lastEventAt = now
	a.observed++
}

// Throughput returns the smoothed latency/throughput counters.
func (a *Analyzer) Throughput() Throughput {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Throughput{
		AvgLatency:     time.Duration(a.avgLatency * float64(time.Millisecond)),
		EventsPerSec:   a.eventRate,
		EventsObserved: a.observed,
	}
}

// LiveStats recomputes windowed aggregates by rescanning the window: event
// counts per type plus the latest observed scores and scoring pace.
func (a *Analyzer) LiveStats() map[string]float64 {
	window := a.buf.GetWindow(a.window)
	stats := map[string]float64{
		"window_events": float64(len(window)),
	}

	var first, last *buffer.Entry
	for i := range window {
		e := &window[i]
		stats["count_"+string(e.Event.Type)]++
		if e.Event.Type != model.EventScoreUpdate {
			continue
		}
		if first == nil {
			first = e
		}
		last = e
	}

	if last != nil {
		if h, ok := last.Event.Float("home_score"); ok {
			stats["home_score"] = h
		}
		if aw, ok := last.Event.Float("away_score"); ok {
			stats["away_score"] = aw
		}
	}
	if first != nil && last != nil && first != last {
		span := last.Timestamp.Sub(first.Timestamp).Minutes()
		if span > 0 {
			fh, _ := first.Event.Float("home_score")
			fa, _ := first.Event.Float("away_score")
			lh, _ := last.Event.Float("home_score")
			la, _ := last.Event.Float("away_score")
			stats["pace_points_per_min"] = ((lh - fh) + (la - fa)) / span
		}
	}
	return stats
}

// PlayerLiveStats recomputes windowed aggregates for one player from
// player events carrying a player_id.
func (a *Analyzer) PlayerLiveStats(playerID string) map[string]float64 {
	window := a.buf.GetWindow(a.window)
	stats := map[string]float64{}

	for i := range window {
		e := &window[i]
		if e.Event.Type != model.EventPlayerEvent {
			continue
		}
		id, ok := e.Event.Str("player_id")
		if !ok || id != playerID {
			continue
		}
		stats["events"]++
		if pts, ok := e.Event.Float("points"); ok {
			stats["points"] += pts
		}
		if reb, ok := e.Event.Float("rebounds"); ok {
			stats["rebounds"] += reb
		}
		if ast, ok := e.Event.Float("assists"); ok {
			stats["assists"] += ast
		}
	}
	return stats
}

// DetectAnomalies z-scores the window's values for the given numeric payload
// metric and returns samples beyond thresholdStd deviations. Fewer than ten
// samples yields no anomalies.
func (a *Analyzer) DetectAnomalies(metric string, thresholdStd float64) []Anomaly {
	window := a.buf.GetWindow(a.window)

	type sample struct {
		seq   int64
		value float64
	}
	samples := make([]sample, 0, len(window))
	for i := range window {
		if v, ok := window[i].Event.Float(metric); ok {
			samples = append(samples, sample{seq: window[i].SequenceID, value: v})
		}
	}
	if len(samples) < minAnomalySamples {
		return nil
	}

	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.value
	}
	mean, std := stat.MeanStdDev(values, nil)
	if std <= 0 || math.IsNaN(std) {
		return nil
	}

	var out []Anomaly
	for _, s := range samples {
		z := (s.value - mean) / std
		if math.Abs(z) >= thresholdStd {
			out = append(out, Anomaly{SequenceID: s.seq, Value: s.value, ZScore: z})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceID < out[j].SequenceID })
	return out
}
