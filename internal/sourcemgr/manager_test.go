package sourcemgr

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"alertflow/internal/config"
	"alertflow/internal/model"
	"alertflow/internal/provider"
)

// fakeRunner blocks until cancelled and records its lifecycle.
type fakeRunner struct {
	id      string
	tracker *runTracker
}

type runTracker struct {
	mu      sync.Mutex
	started map[string]int
	stopped map[string]int
}

func newRunTracker() *runTracker {
	return &runTracker{started: make(map[string]int), stopped: make(map[string]int)}
}

func (rt *runTracker) starts(id string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.started[id]
}

func (rt *runTracker) stops(id string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.stopped[id]
}

func (r *fakeRunner) Run(ctx context.Context) {
	r.tracker.mu.Lock()
	r.tracker.started[r.id]++
	r.tracker.mu.Unlock()

	<-ctx.Done()

	r.tracker.mu.Lock()
	r.tracker.stopped[r.id]++
	r.tracker.mu.Unlock()
}

func testManager(tracker *runTracker) *Manager {
	defaults := config.KafkaConfig{StopGracePeriod: time.Second}
	m := NewManager(provider.NewMemoryProvider(), defaults, time.Minute, nil, nil, slog.Default())
	m.newConsumer = func(src *model.SourceConfig) (runner, error) {
		return &fakeRunner{id: src.ID, tracker: tracker}, nil
	}
	return m
}

func source(id string) *model.SourceConfig {
	return &model.SourceConfig{
		ID:            id,
		Name:          "source " + id,
		AlertType:     1,
		Brokers:       []string{"localhost:9092"},
		Topic:         "alerts-" + id,
		ConsumerGroup: "cg-" + id,
		Enabled:       true,
	}
}

func waitForStarts(t *testing.T, tracker *runTracker, id string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tracker.starts(id) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("source %s started %d times, want %d", id, tracker.starts(id), want)
}

func TestReconcileStartsAndStops(t *testing.T) {
	tracker := newRunTracker()
	m := testManager(tracker)
	ctx := context.Background()

	m.Reconcile(ctx, []*model.SourceConfig{source("a"), source("b")})
	waitForStarts(t, tracker, "a", 1)
	waitForStarts(t, tracker, "b", 1)

	running := m.Running()
	sort.Strings(running)
	if len(running) != 2 || running[0] != "a" || running[1] != "b" {
		t.Errorf("Running() = %v, want [a b]", running)
	}

	// b disappears from the desired set.
	m.Reconcile(ctx, []*model.SourceConfig{source("a")})

	if got := tracker.stops("b"); got != 1 {
		t.Errorf("source b stopped %d times, want 1", got)
	}
	if got := tracker.stops("a"); got != 0 {
		t.Errorf("source a stopped %d times, want 0", got)
	}
	if running := m.Running(); len(running) != 1 || running[0] != "a" {
		t.Errorf("Running() = %v, want [a]", running)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	tracker := newRunTracker()
	m := testManager(tracker)
	ctx := context.Background()

	desired := []*model.SourceConfig{source("a")}
	for i := 0; i < 3; i++ {
		m.Reconcile(ctx, desired)
	}

	waitForStarts(t, tracker, "a", 1)
	if got := tracker.stops("a"); got != 0 {
		t.Errorf("unchanged source restarted: %d stops", got)
	}
}

func TestReconcileRestartsChangedSource(t *testing.T) {
	tracker := newRunTracker()
	m := testManager(tracker)
	ctx := context.Background()

	m.Reconcile(ctx, []*model.SourceConfig{source("a")})
	waitForStarts(t, tracker, "a", 1)

	changed := source("a")
	changed.Topic = "alerts-a-v2"
	m.Reconcile(ctx, []*model.SourceConfig{changed})

	waitForStarts(t, tracker, "a", 2)
	if got := tracker.stops("a"); got != 1 {
		t.Errorf("changed source stopped %d times, want 1", got)
	}
}

func TestReconcileIgnoresStatusChurn(t *testing.T) {
	tracker := newRunTracker()
	m := testManager(tracker)
	ctx := context.Background()

	m.Reconcile(ctx, []*model.SourceConfig{source("a")})
	waitForStarts(t, tracker, "a", 1)

	churned := source("a")
	churned.Status = model.ConnectionConnected
	churned.UpdatedAt = time.Now()
	m.Reconcile(ctx, []*model.SourceConfig{churned})

	if got := tracker.stops("a"); got != 0 {
		t.Errorf("status-only change restarted the consumer: %d stops", got)
	}
}

func TestStopAll(t *testing.T) {
	tracker := newRunTracker()
	m := testManager(tracker)
	ctx := context.Background()

	m.Reconcile(ctx, []*model.SourceConfig{source("a"), source("b")})
	waitForStarts(t, tracker, "a", 1)
	waitForStarts(t, tracker, "b", 1)

	m.StopAll(time.Second)

	if got := tracker.stops("a") + tracker.stops("b"); got != 2 {
		t.Errorf("stopped %d consumers, want 2", got)
	}
	if running := m.Running(); len(running) != 0 {
		t.Errorf("Running() = %v, want empty", running)
	}
}
