package report

import (
	"sync"

	"github.com/browserwarden/warden/internal/engine"
)

// Store is a bounded in-memory record of recent threats, the backing for
// the query and audit-export endpoints. Oldest entries are evicted when
// the capacity is reached.
type Store struct {
	mu   sync.Mutex
	ring *engine.Ring[engine.ThreatEvent]
}

const defaultStoreSize = 2048

// NewStore creates a store. Non-positive capacity takes the default.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = defaultStoreSize
	}
	return &Store{ring: engine.NewRing[engine.ThreatEvent](capacity)}
}

// Report implements Sink.
func (s *Store) Report(t engine.ThreatEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring.Push(t)
}

// Recent returns up to limit threats at or above minSeverity, newest
// first. A non-positive limit means no limit.
func (s *Store) Recent(limit int, minSeverity engine.Severity) []engine.ThreatEvent {
	s.mu.Lock()
	all := s.ring.Snapshot()
	s.mu.Unlock()

	out := make([]engine.ThreatEvent, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Severity < minSeverity {
			continue
		}
		out = append(out, all[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Snapshot returns every stored threat, oldest first.
func (s *Store) Snapshot() []engine.ThreatEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Snapshot()
}

// Len returns the number of stored threats.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Len()
}
