package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Step names used as metric labels and span names
const (
	StepValidate = "validate"
	StepEmbed    = "embed"
	StepRetrieve = "retrieve"
	StepPrompt   = "prompt"
	StepGenerate = "generate"
)

// Query outcomes
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics collects pipeline metrics.
type Metrics interface {
	RecordQuery(status string, errorType string, duration time.Duration)
	RecordStep(step string, duration time.Duration, err error)
	RecordDocuments(count int)
	RecordTokens(prompt, completion int)
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) RecordQuery(string, string, time.Duration) {}
func (NopMetrics) RecordStep(string, time.Duration, error) {}
func (NopMetrics) RecordDocuments(int) {}
func (NopMetrics) RecordTokens(int, int) {}

// PrometheusMetrics implements Metrics with Prometheus collectors
type PrometheusMetrics struct {
	registry *prometheus.Registry

	queriesTotal  *prometheus.CounterVec
	queryDuration prometheus.Histogram
	stepDuration  *prometheus.HistogramVec
	stepErrors    *prometheus.CounterVec
	documents     prometheus.Histogram
	tokensTotal   *prometheus.CounterVec
}

// NewPrometheusMetrics registers the collectors on a fresh registry along with
// the Go runtime and process collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		queriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medbot_queries_total",
				Help: "Total number of queries by status and error type",
			},
			[]string{"status", "error_type"},
		),
		queryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "medbot_query_duration_seconds",
				Help:    "End-to-end query latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "medbot_pipeline_step_duration_seconds",
				Help:    "Latency of each pipeline step in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 18),
			},
			[]string{"step"},
		),
		stepErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medbot_pipeline_step_errors_total",
				Help: "Number of failed pipeline steps",
			},
			[]string{"step"},
		),
		documents: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "medbot_retrieved_documents",
				Help:    "Number of documents placed in the prompt context",
				Buckets: prometheus.LinearBuckets(0, 1, 11),
			},
		),
		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medbot_generated_tokens_total",
				Help: "Tokens consumed by the generator",
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		m.queriesTotal, m.queryDuration, m.stepDuration, m.stepErrors, m.documents, m.tokensTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordQuery counts a finished query
func (m *PrometheusMetrics) RecordQuery(status string, errorType string, duration time.Duration) {
	m.queriesTotal.WithLabelValues(status, errorType).Inc()
	m.queryDuration.Observe(duration.Seconds())
}

// RecordStep observes a pipeline step
func (m *PrometheusMetrics) RecordStep(step string, duration time.Duration, err error) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
	if err != nil {
		m.stepErrors.WithLabelValues(step).Inc()
	}
}

// RecordDocuments observes how many documents reached the prompt
func (m *PrometheusMetrics) RecordDocuments(count int) {
	m.documents.Observe(float64(count))
}

// RecordTokens adds generator token usage
func (m *PrometheusMetrics) RecordTokens(prompt, completion int) {
	m.tokensTotal.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensTotal.WithLabelValues("completion").Add(float64(completion))
}

// Handler exposes the registry in the Prometheus text format
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
