package buffer

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/okian/courtside/internal/domain/model"
)

func scoreEvent(home, away float64) model.StreamEvent {
	return model.StreamEvent{
		Type:   model.EventScoreUpdate,
		GameID: "game-1",
		Payload: map[string]interface{}{
			"home_score": home,
			"away_score": away,
		},
	}
}

func TestBufferBasicOperations(t *testing.T) {
	b := New(WithMaxSize(10))

	if b.Len() != 0 {
		t.Errorf("expected empty buffer, got %d", b.Len())
	}

	id1 := b.Add(scoreEvent(2, 0))
	id2 := b.Add(scoreEvent(2, 3))
	if id2 <= id1 {
		t.Errorf("sequence ids not increasing: %d then %d", id1, id2)
	}

	recent := b.GetRecent(1)
	if len(recent) != 1 {
		t.Fatalf("expected 1 recent entry, got %d", len(recent))
	}
	if got, _ := recent[0].Event.Float("away_score"); got != 3 {
		t.Errorf("recent away_score = %v, want 3", got)
	}
}

func TestBufferRingEviction(t *testing.T) {
	const size = 5
	b := New(WithMaxSize(size))

	// one more than capacity: the oldest entry must fall out
	for i := 0; i <= size; i++ {
		b.Add(scoreEvent(float64(i), 0))
	}

	if b.Len() != size {
		t.Fatalf("len = %d, want %d", b.Len(), size)
	}
	entries := b.GetRecent(size)
	if got, _ := entries[0].Event.Float("home_score"); got != 1 {
		t.Errorf("oldest retained home_score = %v, want 1 (entry 0 evicted)", got)
	}
	if got, _ := entries[size-1].Event.Float("home_score"); got != float64(size) {
		t.Errorf("newest retained home_score = %v, want %d", got, size)
	}

	st := b.Stats()
	if st.TotalEvicted != 1 {
		t.Errorf("evicted = %d, want 1", st.TotalEvicted)
	}
	if st.TotalInserted != size+1 {
		t.Errorf("inserted = %d, want %d", st.TotalInserted, size+1)
	}
}

func TestBufferConcurrentSequenceOrder(t *testing.T) {
	const producers = 8
	const perProducer = 200
	b := New(WithMaxSize(producers * perProducer))

	var wg sync.WaitGroup
	ids := make(chan int64, producers*perProducer)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				e := scoreEvent(float64(p), float64(i))
				ids <- b.Add(e)
			}
		}(p)
	}
	wg.Wait()
	close(ids)

	seen := make([]int64, 0, producers*perProducer)
	for id := range ids {
		seen = append(seen, id)
	}
	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	for i, id := range seen {
		if id != int64(i+1) {
			t.Fatalf("sequence ids not strictly increasing without gaps: position %d has %d", i, id)
		}
	}

	// retained order must match sequence order
	entries := b.GetRecent(producers * perProducer)
	for i := 1; i < len(entries); i++ {
		if entries[i].SequenceID <= entries[i-1].SequenceID {
			t.Fatalf("retained entries out of order at %d: %d then %d", i, entries[i-1].SequenceID, entries[i].SequenceID)
		}
	}
}

func TestBufferGetByType(t *testing.T) {
	b := New(WithMaxSize(10))
	b.Add(scoreEvent(1, 0))
	b.Add(model.StreamEvent{Type: model.EventPossessionChange, GameID: "game-1"})
	b.Add(scoreEvent(3, 2))

	scores := b.GetByType(model.EventScoreUpdate)
	if len(scores) != 2 {
		t.Errorf("score updates = %d, want 2", len(scores))
	}
	poss := b.GetByType(model.EventPossessionChange)
	if len(poss) != 1 {
		t.Errorf("possession changes = %d, want 1", len(poss))
	}
	if got := b.GetByType(model.EventQuarterChange); len(got) != 0 {
		t.Errorf("quarter changes = %d, want 0", len(got))
	}
}

func TestBufferWindowAndAgeSweep(t *testing.T) {
	current := time.Unix(1000, 0)
	now := func() time.Time { return current }
	b := New(WithMaxSize(100), WithMaxAge(10*time.Second), WithClock(now))

	b.Add(scoreEvent(1, 0)) // at t=1000
	current = current.Add(4 * time.Second)
	b.Add(scoreEvent(2, 0)) // at t=1004

	got := b.GetWindow(5 * time.Second)
	if len(got) != 2 {
		t.Errorf("window entries = %d, want 2", len(got))
	}

	// advance past maxAge of the first entry; sweep happens on insert
	current = current.Add(8 * time.Second) // t=1012
	b.Add(scoreEvent(3, 0))

	if b.Len() != 2 {
		t.Errorf("len after sweep = %d, want 2", b.Len())
	}
	win := b.GetWindow(9 * time.Second) // cutoff t=1003
	if len(win) != 2 {
		t.Errorf("window after sweep = %d, want 2", len(win))
	}
}

func TestBufferAddBatch(t *testing.T) {
	b := New(WithMaxSize(10))
	events := []model.StreamEvent{scoreEvent(1, 0), scoreEvent(2, 0), scoreEvent(3, 1)}

	ids := b.AddBatch(events)
	if len(ids) != 3 {
		t.Fatalf("batch ids = %d, want 3", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[i-1]+1 {
			t.Errorf("batch ids not contiguous: %v", ids)
		}
	}
}

func TestBufferClearKeepsSequence(t *testing.T) {
	b := New(WithMaxSize(10))
	lastBefore := b.Add(scoreEvent(1, 0))
	b.Clear()

	if b.Len() != 0 {
		t.Errorf("len after Clear = %d, want 0", b.Len())
	}
	next := b.Add(scoreEvent(2, 0))
	if next != lastBefore+1 {
		t.Errorf("sequence restarted after Clear: %d then %d", lastBefore, next)
	}
}

func TestBufferGetRecentBounds(t *testing.T) {
	b := New(WithMaxSize(10))
	for i := 0; i < 3; i++ {
		b.Add(scoreEvent(float64(i), 0))
	}

	if got := b.GetRecent(0); got != nil {
		t.Errorf("GetRecent(0) = %v, want nil", got)
	}
	if got := b.GetRecent(100); len(got) != 3 {
		t.Errorf("GetRecent(100) = %d entries, want 3", len(got))
	}
}

func TestBufferReadsAreDetached(t *testing.T) {
	b := New(WithMaxSize(10))
	b.Add(scoreEvent(1, 0))

	snapshot := b.GetRecent(1)
	for i := 0; i < 5; i++ {
		b.Add(scoreEvent(float64(10+i), 0))
	}
	if snapshot[0].SequenceID != 1 {
		t.Errorf("snapshot mutated by later writes: %+v", snapshot[0])
	}
}

func ExampleBuffer_Add() {
	b := New(WithMaxSize(2))
	b.Add(model.StreamEvent{Type: model.EventScoreUpdate, GameID: "g"})
	b.Add(model.StreamEvent{Type: model.EventScoreUpdate, GameID: "g"})
	b.Add(model.StreamEvent{Type: model.EventScoreUpdate, GameID: "g"})
	fmt.Println(b.Len())
	// Output: 2
}
