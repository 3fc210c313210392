// Package archive writes raw source records to S3-compatible cold storage
// as gzip-compressed NDJSON batches, partitioned by source and day.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"alertflow/internal/config"
	"alertflow/internal/sourcemgr"
)

// objectPutter is the slice of the S3 client the archiver uses.
type objectPutter interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver buffers records per source and uploads a compressed batch when
// the buffer fills or the flush interval elapses.
type Archiver struct {
	client objectPutter
	cfg    config.ArchiveConfig
	logger *slog.Logger

	mu      sync.Mutex
	buffers map[string][]archivedRecord
	total   int

	flushTimer *time.Timer
	closed     bool
}

type archivedRecord struct {
	SourceID  string    `json:"source_id"`
	Topic     string    `json:"topic"`
	Partition int       `json:"partition"`
	Offset    int64     `json:"offset"`
	Time      time.Time `json:"time"`
	Key       string    `json:"key,omitempty"`
	Value     string    `json:"value"`
}

// NewArchiver creates an Archiver backed by a real S3 client.
func NewArchiver(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (*Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	a := newArchiver(s3.NewFromConfig(awsCfg, s3Opts...), cfg, logger)
	logger.Info("archiver initialized", "bucket", cfg.Bucket, "prefix", cfg.Prefix)
	return a, nil
}

func newArchiver(client objectPutter, cfg config.ArchiveConfig, logger *slog.Logger) *Archiver {
	a := &Archiver{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		buffers: make(map[string][]archivedRecord),
	}
	a.flushTimer = time.AfterFunc(cfg.FlushInterval, a.timerFlush)
	return a
}

// Archive buffers a record, flushing the full store when the batch size is
// reached.
func (a *Archiver) Archive(ctx context.Context, rec sourcemgr.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("archive: archiver is closed")
	}

	a.buffers[rec.SourceID] = append(a.buffers[rec.SourceID], archivedRecord{
		SourceID:  rec.SourceID,
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Time:      rec.Time,
		Key:       string(rec.Key),
		Value:     string(rec.Value),
	})
	a.total++

	if a.total >= a.cfg.BatchSize {
		return a.flushLocked(ctx)
	}
	return nil
}

func (a *Archiver) timerFlush() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := a.flushLocked(ctx); err != nil {
		a.logger.Error("archive timer flush failed", "error", err)
	}
	cancel()
	a.flushTimer.Reset(a.cfg.FlushInterval)
}

// flushLocked uploads one object per buffered source. Caller holds the lock.
func (a *Archiver) flushLocked(ctx context.Context) error {
	if a.total == 0 {
		return nil
	}

	var firstErr error
	for sourceID, records := range a.buffers {
		if len(records) == 0 {
			continue
		}
		if err := a.upload(ctx, sourceID, records); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			a.logger.Error("archive upload failed, batch dropped",
				"source_id", sourceID,
				"records", len(records),
				"error", err,
			)
		}
	}

	a.buffers = make(map[string][]archivedRecord)
	a.total = 0
	return firstErr
}

func (a *Archiver) upload(ctx context.Context, sourceID string, records []archivedRecord) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			gz.Close()
			return fmt.Errorf("archive: encode record: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("archive: compress batch: %w", err)
	}

	key := a.objectKey(sourceID, records[0].Time)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.cfg.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("archive: upload %s: %w", key, err)
	}

	a.logger.Debug("archive batch uploaded", "key", key, "records", len(records))
	return nil
}

// objectKey builds a day-partitioned key:
// {prefix}/{source}/2026/08/31/{uuid}.ndjson.gz
func (a *Archiver) objectKey(sourceID string, t time.Time) string {
	return fmt.Sprintf("%s/%s/%s/%s.ndjson.gz",
		a.cfg.Prefix,
		sourceID,
		t.UTC().Format("2006/01/02"),
		uuid.NewString(),
	)
}

// Close flushes remaining buffers and stops the timer.
func (a *Archiver) Close() error {
	a.mu.Lock()
	a.closed = true
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := a.flushLocked(ctx)
	cancel()
	a.mu.Unlock()

	a.flushTimer.Stop()
	return err
}
