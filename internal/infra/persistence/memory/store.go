// Package memory provides an in-memory session store used for tests and
// ephemeral environments.
package memory

import (
	"context"
	"sync"

	"studiocore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.SessionStore = (*Store)(nil)

// Store keeps the most recent session snapshot in process memory.
type Store struct {
	mu       sync.RWMutex
	snapshot domain.SessionSnapshot
	saved    bool
	saves    int
}

// NewStore constructs an empty in-memory session store.
func NewStore() *Store {
	return &Store{}
}

// SaveSession replaces the stored snapshot with a copy of snapshot.
func (s *Store) SaveSession(_ context.Context, snapshot domain.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = cloneSnapshot(snapshot)
	s.saved = true
	s.saves++
	return nil
}

// LoadSession returns a copy of the latest snapshot.
func (s *Store) LoadSession(_ context.Context) (domain.SessionSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.saved {
		return domain.SessionSnapshot{}, false, nil
	}
	return cloneSnapshot(s.snapshot), true, nil
}

// Saves reports how many snapshots have been written.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

func cloneSnapshot(in domain.SessionSnapshot) domain.SessionSnapshot {
	out := in
	out.Document = append([]byte(nil), in.Document...)
	return out
}
