package velocity

import (
	"sync"
	"testing"
	"time"

	"github.com/frauddetect-platform/pkg/events"
	"github.com/frauddetect-platform/services/fraud/internal/window"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestUpdateCountsBurst(t *testing.T) {
	s := NewStore(window.NewCodec(10))

	// Five events for one user within 30 seconds: every window reports 5.
	var counts map[string]int64
	for i := 0; i < 5; i++ {
		counts = s.Update("user-1", t0.Add(time.Duration(i)*6*time.Second))
	}

	for _, label := range window.All {
		if got := counts[string(label)]; got != 5 {
			t.Errorf("window %s count = %d, want 5", label, got)
		}
	}
}

func TestUpdateIncludesCurrentEvent(t *testing.T) {
	s := NewStore(window.NewCodec(10))

	counts := s.Update("user-1", t0)
	if got := counts["1m"]; got != 1 {
		t.Errorf("first update 1m count = %d, want 1", got)
	}
}

func TestUpdateKeysAreIndependent(t *testing.T) {
	s := NewStore(window.NewCodec(10))

	s.Update("user-1", t0)
	s.Update("user-1", t0.Add(time.Second))
	counts := s.Update("user-2", t0.Add(2*time.Second))

	if got := counts["1m"]; got != 1 {
		t.Errorf("user-2 1m count = %d, want 1 (unaffected by user-1)", got)
	}
}

func TestUpdateEvictsExpiredBuckets(t *testing.T) {
	s := NewStore(window.NewCodec(10))

	s.Update("user-1", t0)
	counts := s.Update("user-1", t0.Add(3*time.Minute))

	if got := counts["1m"]; got != 1 {
		t.Errorf("1m count after 3 minute gap = %d, want 1", got)
	}
	if got := counts["1h"]; got != 2 {
		t.Errorf("1h count after 3 minute gap = %d, want 2", got)
	}
}

func TestUpdateEmptyKeyPanics(t *testing.T) {
	s := NewStore(window.NewCodec(10))

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for empty key")
		}
	}()
	s.Update("", t0)
}

func TestEvict(t *testing.T) {
	s := NewStore(window.NewCodec(10))

	s.Update("stale", t0)
	s.Update("live", t0.Add(25 * time.Hour))

	// "stale" has only day-old buckets left, "live" was just touched.
	now := t0.Add(25*time.Hour + time.Second)
	if n := s.Evict(now); n != 1 {
		t.Errorf("Evict() = %d, want 1", n)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d after evict, want 1", s.Len())
	}

	// The evicted key starts fresh.
	counts := s.Update("stale", now)
	if got := counts["1d"]; got != 1 {
		t.Errorf("1d count after eviction = %d, want 1", got)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := NewStore(window.NewCodec(10))
	s.Update("user-1", t0)
	s.Update("user-1", t0.Add(time.Second))
	s.Update("user-2", t0.Add(2*time.Second))

	snap := s.Snapshot()

	restored := NewStore(window.NewCodec(10))
	restored.Restore(snap)

	if restored.Len() != 2 {
		t.Fatalf("restored Len() = %d, want 2", restored.Len())
	}

	// Counts continue from the checkpointed history.
	counts := restored.Update("user-1", t0.Add(3*time.Second))
	if got := counts["1m"]; got != 3 {
		t.Errorf("restored user-1 1m count = %d, want 3", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore(window.NewCodec(10))
	s.Update("user-1", t0)

	snap := s.Snapshot()
	s.Update("user-1", t0.Add(time.Second))

	var total int64
	for _, b := range snap["user-1"].Buckets[window.Min1] {
		total += b
	}
	if total != 1 {
		t.Errorf("snapshot mutated by later update: 1m total = %d, want 1", total)
	}
}

func TestRestoreDropsUnknownLabelsAndEmptyKeys(t *testing.T) {
	s := NewStore(window.NewCodec(10))
	s.Restore(Snapshot{
		"":       {LastUpdate: t0, Buckets: map[window.Label]map[int64]int64{window.Min1: {1: 1}}},
		"user-1": {LastUpdate: t0, Buckets: map[window.Label]map[int64]int64{"2m": {1: 7}}},
	})

	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	counts := s.Update("user-1", t0)
	if got := counts["1m"]; got != 1 {
		t.Errorf("1m count = %d, want 1 (unknown label dropped)", got)
	}
}

// Exercises Update against the concurrent Snapshot and Evict readers the
// checkpoint and idle-eviction loops run in production. Run with -race.
func TestConcurrentUpdateSnapshotEvict(t *testing.T) {
	s := NewStore(window.NewCodec(10))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			s.Update("user-1", t0.Add(time.Duration(i)*time.Millisecond))
			s.Update("user-2", t0.Add(time.Duration(i)*time.Millisecond))
		}
	}()

	for i := 0; i < 200; i++ {
		snap := s.Snapshot()
		for key, entry := range snap {
			var total int64
			for _, n := range entry.Buckets[window.Min1] {
				total += n
			}
			if total == 0 && len(entry.Buckets[window.Min1]) > 0 {
				t.Errorf("key %s: non-empty 1m buckets sum to zero", key)
			}
		}
		s.Evict(t0)
		s.Len()
	}
	close(stop)
	wg.Wait()
}

func TestCalculatorEnrich(t *testing.T) {
	s := NewStore(window.NewCodec(10))
	c := NewCalculator(s)

	ev := &events.FraudEvent{
		EventID:   "evt-1",
		UserID:    "user-1",
		EventType: events.EventTypePreTrade,
		Timestamp: t0,
	}

	c.Enrich(ev)
	enriched := c.Enrich(ev)

	if enriched.EventID != "evt-1" {
		t.Errorf("enriched EventID = %s, want evt-1", enriched.EventID)
	}
	if got := enriched.Velocity["1m"]; got != 2 {
		t.Errorf("enriched 1m velocity = %d, want 2", got)
	}
}
