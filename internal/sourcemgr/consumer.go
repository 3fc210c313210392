package sourcemgr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"alertflow/internal/config"
	"alertflow/internal/model"
)

// Record is one raw message pulled from a source, tagged with enough
// provenance to trace the resulting alert back to its partition and offset.
type Record struct {
	SourceID  string
	AlertType int
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Processor handles a single consumed record. A non-nil error marks the
// record failed; the consumer still commits it, so processing failures do
// not wedge the partition.
type Processor interface {
	Process(ctx context.Context, rec Record) error
}

// StatusSink receives connection status transitions for a source.
type StatusSink interface {
	UpdateSourceStatus(ctx context.Context, sourceID string, status model.ConnectionStatus) error
}

// messageReader is the slice of kafka.Reader the consumer uses, extracted so
// tests can substitute a fake.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer pulls messages for one source and feeds them to the processor.
// Commits are batch-synchronous: a batch of offsets is committed only after
// every record in it has been handed to the processor, giving at-least-once
// delivery across restarts.
type Consumer struct {
	source    *model.SourceConfig
	reader    messageReader
	processor Processor
	status    StatusSink
	defaults  config.KafkaConfig
	logger    *slog.Logger

	consumed  atomic.Int64
	failed    atomic.Int64
	lastFetch atomic.Int64
}

// NewConsumer builds a consumer for a source.
func NewConsumer(src *model.SourceConfig, defaults config.KafkaConfig, processor Processor, status StatusSink, logger *slog.Logger) (*Consumer, error) {
	reader, err := newReader(src, defaults, logger)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		source:    src,
		reader:    reader,
		processor: processor,
		status:    status,
		defaults:  defaults,
		logger: logger.With(
			"source_id", src.ID,
			"topic", src.Topic,
			"group", src.ConsumerGroup,
		),
	}, nil
}

// Run consumes until ctx is cancelled. It is the body of the goroutine the
// manager starts per source.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("consumer started", "alert_type", c.source.AlertType)
	c.setStatus(model.ConnectionConnected)

	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("reader close failed", "error", err)
		}
		c.setStatus(model.ConnectionDisconnected)
		c.logger.Info("consumer stopped",
			"consumed", c.consumed.Load(),
			"failed", c.failed.Load(),
		)
	}()

	for {
		batch, err := c.fetchBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			c.setStatus(model.ConnectionError)
			c.logger.Error("fetch failed", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if len(batch) == 0 {
			continue
		}

		c.setStatus(model.ConnectionConnected)
		c.processBatch(ctx, batch)

		// Commit with a fresh context so a shutdown mid-batch does not
		// forfeit work that already went through the pipeline.
		commitCtx, cancel := context.WithTimeout(context.Background(), c.defaults.StopGracePeriod)
		err = c.reader.CommitMessages(commitCtx, batch...)
		cancel()
		if err != nil {
			c.logger.Error("commit failed, batch will be redelivered", "error", err)
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// fetchBatch reads up to MaxBatchRecords messages, returning early once the
// first fetch after a successful one would block.
func (c *Consumer) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	batch := make([]kafka.Message, 0, c.defaults.MaxBatchRecords)
	batch = append(batch, first)

	for len(batch) < c.defaults.MaxBatchRecords {
		fetchCtx, cancel := context.WithTimeout(ctx, c.defaults.FetchMaxWait)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			// Deadline means the topic is drained for now; ship what we have.
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				break
			}
			c.logger.Warn("fetch error mid-batch", "error", err)
			break
		}
		batch = append(batch, msg)
	}

	c.lastFetch.Store(time.Now().UnixMilli())
	return batch, nil
}

func (c *Consumer) processBatch(ctx context.Context, batch []kafka.Message) {
	for _, msg := range batch {
		rec := Record{
			SourceID:  c.source.ID,
			AlertType: c.source.AlertType,
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Value:     msg.Value,
			Time:      msg.Time,
		}
		if err := c.processor.Process(ctx, rec); err != nil {
			c.failed.Add(1)
			c.logger.Warn("record processing failed",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		c.consumed.Add(1)
	}
}

func (c *Consumer) setStatus(status model.ConnectionStatus) {
	if c.status == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.status.UpdateSourceStatus(ctx, c.source.ID, status); err != nil {
		c.logger.Warn("status update failed", "status", status, "error", err)
	}
}

// Metrics returns consumption counters.
func (c *Consumer) Metrics() ConsumerMetrics {
	return ConsumerMetrics{
		Consumed: c.consumed.Load(),
		Failed:   c.failed.Load(),
	}
}

// ConsumerMetrics holds per-consumer counters.
type ConsumerMetrics struct {
	Consumed int64 `json:"consumed"`
	Failed   int64 `json:"failed"`
}
