package observable

import (
	"context"
	"sync"
	"time"

	"alertflow/internal/model"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used in tests and for development
// without Redis.
type MemoryStore struct {
	mu         sync.Mutex
	observables map[string]*model.Observable
	mappings    map[string]model.AlertObservableMapping
	byAlert     map[uuid.UUID][]uuid.UUID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		observables: make(map[string]*model.Observable),
		mappings:    make(map[string]model.AlertObservableMapping),
		byAlert:     make(map[uuid.UUID][]uuid.UUID),
	}
}

// FindOrCreate implements Store.
func (s *MemoryStore) FindOrCreate(_ context.Context, t model.ObservableType, value string) (*model.Observable, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(t) + "\x00" + value
	now := time.Now().UTC()

	if obs, ok := s.observables[key]; ok {
		copied := *obs
		return &copied, false, nil
	}

	obs := &model.Observable{
		ID:        uuid.New(),
		Type:      t,
		Value:     value,
		FirstSeen: now,
		LastSeen:  now,
	}
	s.observables[key] = obs
	copied := *obs
	return &copied, true, nil
}

// RecordSighting implements Store.
func (s *MemoryStore) RecordSighting(_ context.Context, t model.ObservableType, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if obs, ok := s.observables[string(t)+"\x00"+value]; ok {
		obs.Count++
		obs.LastSeen = time.Now().UTC()
	}
	return nil
}

// SaveMapping implements Store.
func (s *MemoryStore) SaveMapping(_ context.Context, m model.AlertObservableMapping) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := m.AlertID.String() + "\x00" + m.ObservableID.String()
	if _, ok := s.mappings[key]; ok {
		return false, nil
	}
	s.mappings[key] = m
	s.byAlert[m.AlertID] = append(s.byAlert[m.AlertID], m.ObservableID)
	return true, nil
}

// ObservableIDs implements Store.
func (s *MemoryStore) ObservableIDs(_ context.Context, alertID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byAlert[alertID]
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	return out, nil
}

// MappingCount reports the number of stored mappings, for tests.
func (s *MemoryStore) MappingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mappings)
}

// Get returns the stored observable for (type, value), nil when absent.
func (s *MemoryStore) Get(t model.ObservableType, value string) *model.Observable {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obs, ok := s.observables[string(t)+"\x00"+value]; ok {
		copied := *obs
		return &copied
	}
	return nil
}
