// Package metrics exposes Prometheus instrumentation for the ingest
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	RecordsConsumed  *prometheus.CounterVec
	ParseFailures    *prometheus.CounterVec
	AlertsFiltered   *prometheus.CounterVec
	AlertsTagged     *prometheus.CounterVec
	JobsSubmitted    *prometheus.CounterVec
	JobsFailed       *prometheus.CounterVec
	ObservablesSaved prometheus.Counter
	EventsCreated    prometheus.Counter
	EventsUpdated    prometheus.Counter
	DelegateFallback prometheus.Counter
	ConsumersRunning prometheus.Gauge
	QueueDepth       prometheus.Gauge
}

// New creates a Metrics set registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RecordsConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alertflow_records_consumed_total",
			Help: "Raw records consumed, by source.",
		}, []string{"source_id"}),
		ParseFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alertflow_parse_failures_total",
			Help: "Records dropped because parsing failed, by source.",
		}, []string{"source_id"}),
		AlertsFiltered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alertflow_alerts_filtered_total",
			Help: "Alerts suppressed by a filter rule, by source.",
		}, []string{"source_id"}),
		AlertsTagged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alertflow_alerts_tagged_total",
			Help: "Alerts that received at least one tag, by source.",
		}, []string{"source_id"}),
		JobsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alertflow_jobs_submitted_total",
			Help: "Async jobs submitted to the worker pool, by kind.",
		}, []string{"kind"}),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alertflow_jobs_failed_total",
			Help: "Async jobs that returned an error, by kind.",
		}, []string{"kind"}),
		ObservablesSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "alertflow_observables_saved_total",
			Help: "Observable detections persisted (including count bumps).",
		}),
		EventsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "alertflow_events_created_total",
			Help: "Correlated events created.",
		}),
		EventsUpdated: factory.NewCounter(prometheus.CounterOpts{
			Name: "alertflow_events_updated_total",
			Help: "Correlated events updated with new alerts.",
		}),
		DelegateFallback: factory.NewCounter(prometheus.CounterOpts{
			Name: "alertflow_delegate_fallbacks_total",
			Help: "Evaluations that fell back to local compute because the delegate was unreachable.",
		}),
		ConsumersRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "alertflow_consumers_running",
			Help: "Source consumers currently running.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "alertflow_job_queue_depth",
			Help: "Jobs waiting in the worker pool queue.",
		}),
	}
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
