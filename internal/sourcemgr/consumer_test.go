package sourcemgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"alertflow/internal/config"
	"alertflow/internal/model"
)

// fakeReader serves a fixed message sequence, then blocks until the fetch
// context is cancelled.
type fakeReader struct {
	mu       sync.Mutex
	messages []kafka.Message
	next     int
	commits  [][]kafka.Message
	closed   bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.next < len(r.messages) {
		msg := r.messages[r.next]
		r.next++
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch := make([]kafka.Message, len(msgs))
	copy(batch, msgs)
	r.commits = append(r.commits, batch)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) committed() []kafka.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []kafka.Message
	for _, batch := range r.commits {
		all = append(all, batch...)
	}
	return all
}

// recordingProcessor collects records and fails those whose offset is in
// failOffsets.
type recordingProcessor struct {
	mu          sync.Mutex
	records     []Record
	failOffsets map[int64]bool
}

func (p *recordingProcessor) Process(_ context.Context, rec Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
	if p.failOffsets[rec.Offset] {
		return errors.New("processing failed")
	}
	return nil
}

func (p *recordingProcessor) seen() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Record, len(p.records))
	copy(out, p.records)
	return out
}

// statusRecorder remembers the sequence of status transitions.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []model.ConnectionStatus
}

func (s *statusRecorder) UpdateSourceStatus(_ context.Context, _ string, status model.ConnectionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *statusRecorder) last() model.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}

func testMessages(n int) []kafka.Message {
	msgs := make([]kafka.Message, n)
	for i := range msgs {
		msgs[i] = kafka.Message{
			Topic:     "alerts-test",
			Partition: 0,
			Offset:    int64(i),
			Value:     []byte(fmt.Sprintf(`{"seq":%d}`, i)),
			Time:      time.Now(),
		}
	}
	return msgs
}

func testConsumer(reader *fakeReader, proc Processor, status StatusSink) *Consumer {
	return &Consumer{
		source:    source("a"),
		reader:    reader,
		processor: proc,
		status:    status,
		defaults: config.KafkaConfig{
			FetchMaxWait:    20 * time.Millisecond,
			MaxBatchRecords: 10,
			StopGracePeriod: time.Second,
		},
		logger: slog.Default(),
	}
}

func runConsumer(t *testing.T, c *Consumer, done func() bool) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		c.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !done() {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
}

func TestConsumerProcessesAndCommits(t *testing.T) {
	reader := &fakeReader{messages: testMessages(5)}
	proc := &recordingProcessor{}
	status := &statusRecorder{}
	c := testConsumer(reader, proc, status)

	runConsumer(t, c, func() bool { return len(reader.committed()) == 5 })

	records := proc.seen()
	if len(records) != 5 {
		t.Fatalf("processed %d records, want 5", len(records))
	}
	for i, rec := range records {
		if rec.Offset != int64(i) {
			t.Errorf("record %d has offset %d, want %d", i, rec.Offset, i)
		}
		if rec.SourceID != "a" || rec.AlertType != 1 {
			t.Errorf("record %d provenance = (%s, %d), want (a, 1)", i, rec.SourceID, rec.AlertType)
		}
	}

	if got := c.Metrics(); got.Consumed != 5 || got.Failed != 0 {
		t.Errorf("Metrics() = %+v, want 5 consumed, 0 failed", got)
	}
	if !reader.closed {
		t.Error("reader not closed on shutdown")
	}
	if got := status.last(); got != model.ConnectionDisconnected {
		t.Errorf("final status = %q, want disconnected", got)
	}
}

func TestConsumerCommitsFailedRecords(t *testing.T) {
	reader := &fakeReader{messages: testMessages(4)}
	proc := &recordingProcessor{failOffsets: map[int64]bool{1: true, 2: true}}
	c := testConsumer(reader, proc, nil)

	runConsumer(t, c, func() bool { return len(reader.committed()) == 4 })

	// A processing failure must not wedge the partition: the offset is
	// committed regardless.
	committed := reader.committed()
	if len(committed) != 4 {
		t.Fatalf("committed %d messages, want 4", len(committed))
	}
	if got := c.Metrics(); got.Consumed != 2 || got.Failed != 2 {
		t.Errorf("Metrics() = %+v, want 2 consumed, 2 failed", got)
	}
}

func TestConsumerBatchCapped(t *testing.T) {
	reader := &fakeReader{messages: testMessages(25)}
	proc := &recordingProcessor{}
	c := testConsumer(reader, proc, nil)

	runConsumer(t, c, func() bool { return len(reader.committed()) == 25 })

	reader.mu.Lock()
	defer reader.mu.Unlock()
	for i, batch := range reader.commits {
		if len(batch) > c.defaults.MaxBatchRecords {
			t.Errorf("commit %d carried %d messages, exceeds batch cap %d",
				i, len(batch), c.defaults.MaxBatchRecords)
		}
	}
}

func TestConsumerStopsOnCancel(t *testing.T) {
	reader := &fakeReader{}
	proc := &recordingProcessor{}
	c := testConsumer(reader, proc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		c.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop on context cancel")
	}
	if len(proc.seen()) != 0 {
		t.Errorf("processed %d records from an empty topic", len(proc.seen()))
	}
}
