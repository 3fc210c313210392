// Package pipeline turns raw source records into normalized, evaluated
// alerts and fans the surviving ones out to the async stages: observable
// extraction, storage, archival, and correlation.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"alertflow/internal/metrics"
	"alertflow/internal/model"
	"alertflow/internal/parser"
	"alertflow/internal/queue"
	"alertflow/internal/rules"
	"alertflow/internal/sourcemgr"
)

// RuleProvider supplies schemas and evaluation rules.
type RuleProvider interface {
	GetSchema(ctx context.Context, alertType int) ([]model.FieldDef, error)
	ListFilterRules(ctx context.Context) ([]*model.FilterRule, error)
	ListTaggingRules(ctx context.Context) ([]*model.TaggingRule, error)
}

// AlertWriter persists normalized alerts.
type AlertWriter interface {
	Write(ctx context.Context, alert *model.Alert) error
}

// ObservableProcessor extracts and persists an alert's observables.
type ObservableProcessor interface {
	Process(ctx context.Context, alert *model.Alert) error
}

// Correlator evaluates correlation rules against an alert.
type Correlator interface {
	Correlate(ctx context.Context, alert *model.Alert)
}

// Archiver stores raw records in cold storage. Optional.
type Archiver interface {
	Archive(ctx context.Context, rec sourcemgr.Record) error
}

// JobQueue accepts async work. Submit blocks when the queue is full, which
// back-pressures the consumers instead of dropping work.
type JobQueue interface {
	Submit(job *queue.Job) error
}

// Pipeline implements sourcemgr.Processor.
type Pipeline struct {
	provider    RuleProvider
	parser      *parser.Parser
	evaluator   *rules.Evaluator
	observables ObservableProcessor
	writer      AlertWriter
	archiver    Archiver
	correlator  Correlator
	jobs        JobQueue
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates a Pipeline. archiver may be nil when archival is disabled.
func New(
	provider RuleProvider,
	p *parser.Parser,
	evaluator *rules.Evaluator,
	observables ObservableProcessor,
	writer AlertWriter,
	archiver Archiver,
	correlator Correlator,
	jobs JobQueue,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		provider:    provider,
		parser:      p,
		evaluator:   evaluator,
		observables: observables,
		writer:      writer,
		archiver:    archiver,
		correlator:  correlator,
		jobs:        jobs,
		metrics:     m,
		logger:      logger,
	}
}

// Process handles one record synchronously through parse/filter/tag, then
// hands the alert to the async stages. Filtered alerts stop at the filter:
// nothing downstream sees them.
func (p *Pipeline) Process(ctx context.Context, rec sourcemgr.Record) error {
	p.metrics.RecordsConsumed.WithLabelValues(rec.SourceID).Inc()

	schema, err := p.provider.GetSchema(ctx, rec.AlertType)
	if err != nil {
		return fmt.Errorf("schema lookup for type %d: %w", rec.AlertType, err)
	}

	alert, err := p.parser.Parse(rec.Value, rec.AlertType, schema)
	if err != nil {
		p.metrics.ParseFailures.WithLabelValues(rec.SourceID).Inc()
		p.logger.Warn("record dropped, parse failed",
			"source_id", rec.SourceID,
			"topic", rec.Topic,
			"partition", rec.Partition,
			"offset", rec.Offset,
			"error", err,
		)
		return fmt.Errorf("parse: %w", err)
	}

	alert.SourceID = rec.SourceID
	alert.Topic = rec.Topic
	alert.Partition = rec.Partition
	alert.Offset = rec.Offset

	filterRules, err := p.provider.ListFilterRules(ctx)
	if err != nil {
		return fmt.Errorf("filter rules: %w", err)
	}
	if verdict := p.evaluator.EvaluateFilter(ctx, alert, filterRules); verdict.Filtered {
		p.metrics.AlertsFiltered.WithLabelValues(rec.SourceID).Inc()
		p.logger.Debug("alert filtered",
			"alert_id", alert.ID,
			"rule_id", verdict.RuleID,
			"reason", verdict.RuleName,
		)
		return nil
	}

	taggingRules, err := p.provider.ListTaggingRules(ctx)
	if err != nil {
		return fmt.Errorf("tagging rules: %w", err)
	}
	if tags := p.evaluator.EvaluateTags(ctx, alert, taggingRules); len(tags) > 0 {
		p.metrics.AlertsTagged.WithLabelValues(rec.SourceID).Inc()
	}

	// The correlation job mutates the alert (event linkage, status); store
	// and extract get their own copies so the stages never race on it.
	stored := *alert
	p.submit("store", func(jctx context.Context) error {
		return p.writer.Write(jctx, &stored)
	})
	extracted := *alert
	p.submit("extract", func(jctx context.Context) error {
		return p.observables.Process(jctx, &extracted)
	})
	if p.archiver != nil {
		p.submit("archive", func(jctx context.Context) error {
			return p.archiver.Archive(jctx, rec)
		})
	}
	p.submit("correlate", func(jctx context.Context) error {
		p.correlator.Correlate(jctx, alert)
		return nil
	})

	return nil
}

func (p *Pipeline) submit(kind string, run func(ctx context.Context) error) {
	err := p.jobs.Submit(&queue.Job{Kind: kind, Run: run})
	if err != nil {
		p.metrics.JobsFailed.WithLabelValues(kind).Inc()
		p.logger.Error("job submission failed", "kind", kind, "error", err)
		return
	}
	p.metrics.JobsSubmitted.WithLabelValues(kind).Inc()
}
