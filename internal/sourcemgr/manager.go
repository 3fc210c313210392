package sourcemgr

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"alertflow/internal/config"
	"alertflow/internal/model"
)

// SourceLister supplies the desired set of sources.
type SourceLister interface {
	ListEnabledSources(ctx context.Context) ([]*model.SourceConfig, error)
}

// runner is what the manager starts per source. Satisfied by *Consumer.
type runner interface {
	Run(ctx context.Context)
}

// consumerFactory builds a runner for a source. Overridable in tests.
type consumerFactory func(src *model.SourceConfig) (runner, error)

// handle tracks one running consumer.
type handle struct {
	source *model.SourceConfig
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager reconciles running consumers against the enabled source set. Each
// consumer runs in its own goroutine with its own cancel, so one source's
// lifecycle never blocks another's.
type Manager struct {
	sources  SourceLister
	defaults config.KafkaConfig
	interval time.Duration
	logger   *slog.Logger

	newConsumer consumerFactory

	mu      sync.Mutex
	running map[string]*handle

	// OnReconcile is called after each reconcile pass with the running
	// consumer count, optional.
	OnReconcile func(running int)
}

// NewManager creates a Manager that starts consumers via NewConsumer.
func NewManager(sources SourceLister, defaults config.KafkaConfig, interval time.Duration, processor Processor, status StatusSink, logger *slog.Logger) *Manager {
	m := &Manager{
		sources:  sources,
		defaults: defaults,
		interval: interval,
		logger:   logger,
		running:  make(map[string]*handle),
	}
	m.newConsumer = func(src *model.SourceConfig) (runner, error) {
		return NewConsumer(src, defaults, processor, status, logger)
	}
	return m
}

// Run reconciles immediately, then on every tick until ctx is cancelled.
// All consumers are stopped before Run returns.
func (m *Manager) Run(ctx context.Context) {
	m.reconcile(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.StopAll(m.defaults.StopGracePeriod)
			return
		case <-ticker.C:
			m.reconcile(ctx)
		}
	}
}

// Reconcile runs a single reconcile pass against the given desired set.
// Exposed for tests; Run drives the same logic from the source lister.
func (m *Manager) Reconcile(ctx context.Context, desired []*model.SourceConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]*model.SourceConfig, len(desired))
	for _, src := range desired {
		want[src.ID] = src
	}

	// Stop consumers whose source vanished or changed.
	for id, h := range m.running {
		src, ok := want[id]
		if ok && !sourceChanged(h.source, src) {
			continue
		}
		reason := "removed"
		if ok {
			reason = "changed"
		}
		m.logger.Info("stopping consumer", "source_id", id, "reason", reason)
		m.stopLocked(id, h)
	}

	// Start consumers for new (or just-restarted) sources.
	for id, src := range want {
		if _, ok := m.running[id]; ok {
			continue
		}
		c, err := m.newConsumer(src)
		if err != nil {
			m.logger.Error("consumer build failed", "source_id", id, "error", err)
			continue
		}

		runCtx, cancel := context.WithCancel(ctx)
		h := &handle{source: src, cancel: cancel, done: make(chan struct{})}
		m.running[id] = h

		go func() {
			defer close(h.done)
			c.Run(runCtx)
		}()
		m.logger.Info("consumer started", "source_id", id, "topic", src.Topic)
	}

	if m.OnReconcile != nil {
		m.OnReconcile(len(m.running))
	}
}

func (m *Manager) reconcile(ctx context.Context) {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	desired, err := m.sources.ListEnabledSources(listCtx)
	cancel()
	if err != nil {
		m.logger.Error("source listing failed, keeping current consumers", "error", err)
		return
	}
	m.Reconcile(ctx, desired)
}

// stopLocked cancels a consumer and waits for it within the grace period.
// Caller must hold m.mu.
func (m *Manager) stopLocked(id string, h *handle) {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(m.defaults.StopGracePeriod):
		m.logger.Warn("consumer did not stop within grace period", "source_id", id)
	}
	delete(m.running, id)
}

// StopAll stops every running consumer, waiting up to timeout for each.
func (m *Manager) StopAll(timeout time.Duration) {
	m.mu.Lock()
	handles := make(map[string]*handle, len(m.running))
	for id, h := range m.running {
		handles[id] = h
		h.cancel()
	}
	m.running = make(map[string]*handle)
	m.mu.Unlock()

	deadline := time.After(timeout)
	for id, h := range handles {
		select {
		case <-h.done:
		case <-deadline:
			m.logger.Warn("shutdown grace period expired", "source_id", id)
			return
		}
	}
	m.logger.Info("all consumers stopped", "count", len(handles))
}

// Running returns the IDs of currently running consumers.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	return ids
}

// sourceChanged reports whether a consumer needs a restart to pick up the
// new config. Status and timestamps churn without affecting the connection,
// so they are excluded from the comparison.
func sourceChanged(prev, cur *model.SourceConfig) bool {
	a, b := *prev, *cur
	a.Status, b.Status = "", ""
	a.CreatedAt, b.CreatedAt = time.Time{}, time.Time{}
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	return !reflect.DeepEqual(a, b)
}
