package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"alertflow/internal/metrics"
	"alertflow/internal/model"
	"alertflow/internal/parser"
	"alertflow/internal/provider"
	"alertflow/internal/queue"
	"alertflow/internal/rules"
	"alertflow/internal/sourcemgr"
)

// syncQueue runs submitted jobs immediately and remembers their kinds, so a
// test observes the full fan-out without a worker pool.
type syncQueue struct {
	mu    sync.Mutex
	kinds []string
}

func (q *syncQueue) Submit(job *queue.Job) error {
	q.mu.Lock()
	q.kinds = append(q.kinds, job.Kind)
	q.mu.Unlock()
	return job.Run(context.Background())
}

func (q *syncQueue) submitted() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.kinds))
	copy(out, q.kinds)
	return out
}

type capturingWriter struct {
	mu     sync.Mutex
	alerts []*model.Alert
}

func (w *capturingWriter) Write(_ context.Context, alert *model.Alert) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.alerts = append(w.alerts, alert)
	return nil
}

type capturingObservables struct {
	mu     sync.Mutex
	alerts []*model.Alert
}

func (o *capturingObservables) Process(_ context.Context, alert *model.Alert) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.alerts = append(o.alerts, alert)
	return nil
}

type capturingCorrelator struct {
	mu     sync.Mutex
	alerts []*model.Alert
}

func (c *capturingCorrelator) Correlate(_ context.Context, alert *model.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
}

type capturingArchiver struct {
	mu   sync.Mutex
	recs []sourcemgr.Record
}

func (a *capturingArchiver) Archive(_ context.Context, rec sourcemgr.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return nil
}

type fixture struct {
	pipeline    *Pipeline
	provider    *provider.MemoryProvider
	jobs        *syncQueue
	writer      *capturingWriter
	observables *capturingObservables
	correlator  *capturingCorrelator
	archiver    *capturingArchiver
}

func newFixture(t *testing.T, withArchiver bool) *fixture {
	t.Helper()

	mp := provider.NewMemoryProvider()
	mp.SetSchema(1, []model.FieldDef{
		{Name: "subtype", Type: model.TypeString, Path: "event.subtype"},
		{Name: "username", Type: model.TypeString, Path: "user.name"},
		{Name: "severity", Type: model.TypeString, Path: "event.severity"},
	})

	f := &fixture{
		provider:    mp,
		jobs:        &syncQueue{},
		writer:      &capturingWriter{},
		observables: &capturingObservables{},
		correlator:  &capturingCorrelator{},
	}

	var archiver Archiver
	if withArchiver {
		f.archiver = &capturingArchiver{}
		archiver = f.archiver
	}

	f.pipeline = New(
		mp,
		parser.New(),
		rules.NewEvaluator(nil, slog.Default()),
		f.observables,
		f.writer,
		archiver,
		f.correlator,
		f.jobs,
		metrics.New(),
		slog.Default(),
	)
	return f
}

func testRecord(payload string) sourcemgr.Record {
	return sourcemgr.Record{
		SourceID:  "src-1",
		AlertType: 1,
		Topic:     "alerts",
		Partition: 2,
		Offset:    42,
		Value:     []byte(payload),
	}
}

func TestProcessFansOut(t *testing.T) {
	f := newFixture(t, false)

	rec := testRecord(`{"event":{"subtype":"bruteforce","severity":"high"},"user":{"name":"alice"}}`)
	if err := f.pipeline.Process(context.Background(), rec); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	kinds := strings.Join(f.jobs.submitted(), ",")
	if kinds != "store,extract,correlate" {
		t.Errorf("submitted jobs = %s, want store,extract,correlate", kinds)
	}

	if len(f.writer.alerts) != 1 {
		t.Fatalf("stored %d alerts, want 1", len(f.writer.alerts))
	}
	stored := f.writer.alerts[0]
	if stored.SourceID != "src-1" || stored.Topic != "alerts" || stored.Partition != 2 || stored.Offset != 42 {
		t.Errorf("provenance = (%s, %s, %d, %d), want (src-1, alerts, 2, 42)",
			stored.SourceID, stored.Topic, stored.Partition, stored.Offset)
	}
	if stored.Subtype != "bruteforce" {
		t.Errorf("subtype = %q, want bruteforce", stored.Subtype)
	}

	if len(f.observables.alerts) != 1 {
		t.Errorf("extracted %d alerts, want 1", len(f.observables.alerts))
	}
	if len(f.correlator.alerts) != 1 {
		t.Errorf("correlated %d alerts, want 1", len(f.correlator.alerts))
	}
}

func TestProcessStagesGetIndependentCopies(t *testing.T) {
	f := newFixture(t, false)

	rec := testRecord(`{"event":{"subtype":"bruteforce"},"user":{"name":"alice"}}`)
	if err := f.pipeline.Process(context.Background(), rec); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	// The correlator mutates its alert; the stored and extracted copies must
	// not observe that.
	f.correlator.alerts[0].Status = model.AlertStatusCorrelated
	if f.writer.alerts[0].Status == model.AlertStatusCorrelated {
		t.Error("stored alert shares memory with the correlated alert")
	}
	if f.observables.alerts[0].Status == model.AlertStatusCorrelated {
		t.Error("extracted alert shares memory with the correlated alert")
	}
}

func TestProcessFilteredAlertGoesNowhere(t *testing.T) {
	f := newFixture(t, true)
	f.provider.AddFilterRules(&model.FilterRule{
		ID:         "f1",
		Name:       "drop test users",
		MatchField: "username",
		MatchType:  model.MatchExact,
		MatchValue: "testuser",
		Enabled:    true,
	})
	f.provider.AddTaggingRules(&model.TaggingRule{
		ID:         "t1",
		Name:       "tag everything",
		MatchField: "username",
		MatchType:  model.MatchContains,
		MatchValue: "test",
		Tags:       []string{"suspicious"},
		Enabled:    true,
	})

	rec := testRecord(`{"event":{"subtype":"bruteforce"},"user":{"name":"testuser"}}`)
	if err := f.pipeline.Process(context.Background(), rec); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if got := f.jobs.submitted(); len(got) != 0 {
		t.Errorf("filtered alert submitted jobs %v, want none", got)
	}
	if len(f.writer.alerts) != 0 {
		t.Error("filtered alert was stored")
	}
	if len(f.observables.alerts) != 0 {
		t.Error("filtered alert went through extraction")
	}
	if len(f.correlator.alerts) != 0 {
		t.Error("filtered alert went through correlation")
	}
	if len(f.archiver.recs) != 0 {
		t.Error("filtered alert was archived")
	}
}

func TestProcessTagsSurvivingAlert(t *testing.T) {
	f := newFixture(t, false)
	f.provider.AddTaggingRules(&model.TaggingRule{
		ID:         "t1",
		Name:       "privileged accounts",
		MatchField: "username",
		MatchType:  model.MatchExact,
		MatchValue: "root",
		Tags:       []string{"privileged"},
		Enabled:    true,
	})

	rec := testRecord(`{"event":{"subtype":"bruteforce"},"user":{"name":"root"}}`)
	if err := f.pipeline.Process(context.Background(), rec); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(f.writer.alerts) != 1 {
		t.Fatalf("stored %d alerts, want 1", len(f.writer.alerts))
	}
	tags := f.writer.alerts[0].Tags
	if len(tags) != 1 || tags[0] != "privileged" {
		t.Errorf("tags = %v, want [privileged]", tags)
	}
}

func TestProcessArchivesRawRecord(t *testing.T) {
	f := newFixture(t, true)

	rec := testRecord(`{"event":{"subtype":"bruteforce"},"user":{"name":"alice"}}`)
	if err := f.pipeline.Process(context.Background(), rec); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(f.archiver.recs) != 1 {
		t.Fatalf("archived %d records, want 1", len(f.archiver.recs))
	}
	if string(f.archiver.recs[0].Value) != string(rec.Value) {
		t.Error("archived record does not carry the raw payload")
	}
}

func TestProcessParseFailure(t *testing.T) {
	f := newFixture(t, false)

	err := f.pipeline.Process(context.Background(), testRecord(`not json`))
	if err == nil {
		t.Fatal("Process() accepted a malformed payload")
	}
	if got := f.jobs.submitted(); len(got) != 0 {
		t.Errorf("malformed record submitted jobs %v, want none", got)
	}
}
