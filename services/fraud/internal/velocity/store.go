// Package velocity maintains per-key rolling event counts over time windows
package velocity

import (
	"sync"
	"time"

	"github.com/frauddetect-platform/services/fraud/internal/window"
)

// Store owns all per-key velocity state. It is the only component permitted
// to mutate that state; callers interact exclusively through Update.
//
// The partitioned runner already serializes updates per key, but Snapshot and
// Evict run from the checkpoint and idle-eviction goroutines, so the store
// mutex guards every access to the bucket maps, not just the key lookup.
type Store struct {
	codec window.Codec

	mu      sync.RWMutex
	entries map[string]*state
}

// state is the mutable aggregate for one key
type state struct {
	lastUpdate time.Time
	// buckets[label][bucketID] = event count
	buckets map[window.Label]map[int64]int64
}

// NewStore creates an empty store using the given codec
func NewStore(codec window.Codec) *Store {
	return &Store{
		codec:   codec,
		entries: make(map[string]*state),
	}
}

// Update registers one event for key at instant now and returns, per window,
// the count of non-expired events including this one.
//
// Expired buckets are evicted lazily, only for the touched key. The mutex is
// held for the whole mutation: concurrent Snapshot and Evict calls observe
// either the state before this update or after it, never a partial one.
//
// Panics on an empty key, which is a contract violation by the caller, not a
// recoverable condition.
func (s *Store) Update(key string, now time.Time) map[string]int64 {
	if key == "" {
		panic("velocity: empty key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.entries[key]
	if !ok {
		st = newState()
		s.entries[key] = st
	}

	counts := make(map[string]int64, len(window.All))
	for _, label := range window.All {
		buckets := st.buckets[label]

		// Lazy sweep of expired buckets for this key only.
		for id := range buckets {
			if s.codec.Expired(id, label, now) {
				delete(buckets, id)
			}
		}

		buckets[s.codec.BucketID(now, label)]++

		var sum int64
		for _, n := range buckets {
			sum += n
		}
		counts[string(label)] = sum
	}
	st.lastUpdate = now

	return counts
}

func newState() *state {
	st := &state{buckets: make(map[window.Label]map[int64]int64, len(window.All))}
	for _, label := range window.All {
		st.buckets[label] = make(map[int64]int64)
	}
	return st
}

// Len returns the number of tracked keys
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Evict removes keys whose buckets have all expired relative to now.
// Behaviorally identical to recreating those entries fresh; exists only to
// reclaim memory after long-idle keys.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, st := range s.entries {
		live := false
		for label, buckets := range st.buckets {
			for id := range buckets {
				if !s.codec.Expired(id, label, now) {
					live = true
					break
				}
			}
			if live {
				break
			}
		}
		if !live {
			delete(s.entries, key)
			evicted++
		}
	}
	return evicted
}

// EntrySnapshot is the serializable form of one key's state
type EntrySnapshot struct {
	LastUpdate time.Time                            `json:"lastUpdate"`
	Buckets    map[window.Label]map[int64]int64 `json:"buckets"`
}

// Snapshot is a point-in-time copy of the whole store, keyed by user id
type Snapshot map[string]EntrySnapshot

// Snapshot copies the current state for checkpointing
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(Snapshot, len(s.entries))
	for key, st := range s.entries {
		buckets := make(map[window.Label]map[int64]int64, len(st.buckets))
		for label, b := range st.buckets {
			cp := make(map[int64]int64, len(b))
			for id, n := range b {
				cp[id] = n
			}
			buckets[label] = cp
		}
		snap[key] = EntrySnapshot{LastUpdate: st.lastUpdate, Buckets: buckets}
	}
	return snap
}

// Restore replaces the store contents from a checkpoint. Unknown window
// labels in the snapshot are dropped; losing history is an acceptable
// degradation, never an error.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*state, len(snap))
	for key, entry := range snap {
		if key == "" {
			continue
		}
		st := newState()
		st.lastUpdate = entry.LastUpdate
		for label, b := range entry.Buckets {
			if _, ok := st.buckets[label]; !ok {
				continue
			}
			for id, n := range b {
				st.buckets[label][id] = n
			}
		}
		s.entries[key] = st
	}
}
