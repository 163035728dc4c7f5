// Package roads holds the road-condition map: which road segments are
// currently blocked. The simulation owns the Store; agents only ever see an
// immutable View taken once per tick.
package roads

import (
	"sync"
	"time"

	"github.com/talgya/citytraffic/internal/geo"
)

// Condition is the metadata recorded for one road segment.
type Condition struct {
	Blocked   bool      `json:"blocked"`
	Location  geo.Coord `json:"location"`
	CreatedAt time.Time `json:"timestamp"`
}

// View is a read-only copy of the condition map, keyed by segment key.
type View map[string]Condition

// Blocked reports whether key is present and marked blocked.
func (v View) Blocked(key string) bool {
	if key == "" {
		return false
	}
	c, ok := v[key]
	return ok && c.Blocked
}

// Key derives the canonical segment key for a location.
func Key(c geo.Coord) string {
	return c.Key()
}

// Store is the mutable condition map.
type Store struct {
	mu         sync.RWMutex
	conditions map[string]Condition
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{conditions: make(map[string]Condition)}
}

// Block marks key as blocked at location and returns the stored entry.
func (s *Store) Block(key string, location geo.Coord, now time.Time) Condition {
	c := Condition{Blocked: true, Location: location, CreatedAt: now}
	s.mu.Lock()
	s.conditions[key] = c
	s.mu.Unlock()
	return c
}

// Unblock deletes key. Returns false if it was not present.
func (s *Store) Unblock(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conditions[key]; !ok {
		return false
	}
	delete(s.conditions, key)
	return true
}

// Get returns the entry for key.
func (s *Store) Get(key string) (Condition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conditions[key]
	return c, ok
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conditions)
}

// View returns a copy of all entries.
func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := make(View, len(s.conditions))
	for k, c := range s.conditions {
		v[k] = c
	}
	return v
}

// Restore replaces the contents with entries (used after loading from disk).
func (s *Store) Restore(entries map[string]Condition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conditions = make(map[string]Condition, len(entries))
	for k, c := range entries {
		s.conditions[k] = c
	}
}
