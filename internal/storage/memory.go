package storage

import (
	"context"
	"sync"
	"time"

	"alertflow/internal/model"
)

// MemoryAlertRepository is an in-memory alert store used in tests.
type MemoryAlertRepository struct {
	mu     sync.Mutex
	alerts map[string]*model.Alert
}

// NewMemoryAlertRepository creates an empty MemoryAlertRepository.
func NewMemoryAlertRepository() *MemoryAlertRepository {
	return &MemoryAlertRepository{alerts: make(map[string]*model.Alert)}
}

// FindUnfiltered returns unfiltered alerts within [from, to].
func (r *MemoryAlertRepository) FindUnfiltered(_ context.Context, alertType int, subtype string, from, to time.Time) ([]*model.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.Alert
	for _, a := range r.alerts {
		if a.IsFiltered {
			continue
		}
		if alertType != 0 && a.AlertType != alertType {
			continue
		}
		if subtype != "" && a.Subtype != subtype {
			continue
		}
		if a.Timestamp.Before(from) || a.Timestamp.After(to) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

// Save stores an alert, replacing any previous version.
func (r *MemoryAlertRepository) Save(_ context.Context, alert *model.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *alert
	r.alerts[alert.ID.String()] = &cp
	return nil
}

// Get returns a stored alert by id, or nil.
func (r *MemoryAlertRepository) Get(id string) *model.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alerts[id]
}

// Len returns the number of stored alerts.
func (r *MemoryAlertRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

// MemoryEventRepository is an in-memory event store used in tests.
type MemoryEventRepository struct {
	mu     sync.Mutex
	events map[string]*model.Event
}

// NewMemoryEventRepository creates an empty MemoryEventRepository.
func NewMemoryEventRepository() *MemoryEventRepository {
	return &MemoryEventRepository{events: make(map[string]*model.Event)}
}

// FindByCorrelationKey returns the event for the key, or nil.
func (r *MemoryEventRepository) FindByCorrelationKey(_ context.Context, key string) (*model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.events[key]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

// Save stores an event, keyed by its correlation key.
func (r *MemoryEventRepository) Save(_ context.Context, event *model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *event
	r.events[event.CorrelationKey] = &cp
	return nil
}

// Len returns the number of stored events.
func (r *MemoryEventRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
