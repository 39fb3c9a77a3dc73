package window

import (
	"context"
	"sync"
	"time"

	"anyzine/internal/ratelimit/models"
	"anyzine/pkg/platform/sentinel"
)

// InMemoryWindowStore keeps windows in process. It is the default backend for
// single-instance deployments and the reference the other stores are tested against.
type InMemoryWindowStore struct {
	mu         sync.RWMutex
	windows    map[string]*models.ConsumptionWindow
	byIdentity map[models.IdentityKey][]string
}

// NewInMemory creates an empty in-memory window store.
func NewInMemory() *InMemoryWindowStore {
	return &InMemoryWindowStore{
		windows:    make(map[string]*models.ConsumptionWindow),
		byIdentity: make(map[models.IdentityKey][]string),
	}
}

func (s *InMemoryWindowStore) FindActive(_ context.Context, key models.IdentityKey, now time.Time) (*models.ConsumptionWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w := s.activeLocked(key, now); w != nil {
		return w.Clone(), nil
	}
	return nil, nil
}

func (s *InMemoryWindowStore) Create(_ context.Context, window *models.ConsumptionWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.windows[window.ID]; exists {
		return sentinel.ErrConflict
	}
	if s.activeLocked(window.Key(), window.WindowStart) != nil {
		return sentinel.ErrConflict
	}
	s.windows[window.ID] = window.Clone()
	s.indexLocked(window.Key(), window.ID)
	return nil
}

func (s *InMemoryWindowStore) Increment(_ context.Context, window *models.ConsumptionWindow) (*models.ConsumptionWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.windows[window.ID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if stored.RequestCount < stored.MaxRequests {
		stored.RequestCount++
	}
	return stored.Clone(), nil
}

func (s *InMemoryWindowStore) Save(_ context.Context, window *models.ConsumptionWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.windows[window.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.Key() != window.Key() {
		s.unindexLocked(stored.Key(), stored.ID)
		s.indexLocked(window.Key(), window.ID)
	}
	s.windows[window.ID] = window.Clone()
	return nil
}

func (s *InMemoryWindowStore) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, w := range s.windows {
		if w.WindowEnd.Before(cutoff) {
			s.unindexLocked(w.Key(), id)
			delete(s.windows, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of stored windows, expired ones included.
func (s *InMemoryWindowStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}

// activeLocked returns the latest window for key still active at now.
// Must be called while holding s.mu.
func (s *InMemoryWindowStore) activeLocked(key models.IdentityKey, now time.Time) *models.ConsumptionWindow {
	var active *models.ConsumptionWindow
	for _, id := range s.byIdentity[key] {
		w := s.windows[id]
		if w.IsActive(now) && (active == nil || w.WindowEnd.After(active.WindowEnd)) {
			active = w
		}
	}
	return active
}

// Must be called while holding s.mu.
func (s *InMemoryWindowStore) indexLocked(key models.IdentityKey, id string) {
	s.byIdentity[key] = append(s.byIdentity[key], id)
}

// Must be called while holding s.mu.
func (s *InMemoryWindowStore) unindexLocked(key models.IdentityKey, id string) {
	ids := s.byIdentity[key]
	for i, existing := range ids {
		if existing == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(s.byIdentity, key)
		return
	}
	s.byIdentity[key] = ids
}
