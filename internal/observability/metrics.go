package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all eos metrics on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	CompletionsTotal   prometheus.Counter
	CompletionErrors   *prometheus.CounterVec
	CompletionDuration prometheus.Histogram
	TurnsSkippedTotal  prometheus.Counter

	WindowCommandsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the eos metrics.
func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		Registry: r,

		CompletionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eos_completions_total",
			Help: "Total completion requests sent to the model server",
		}),
		CompletionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eos_completion_errors_total",
			Help: "Failed completions by error kind",
		}, []string{"kind"}),
		CompletionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eos_completion_duration_seconds",
			Help:    "Completion round-trip duration",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		}),
		TurnsSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eos_history_turns_skipped_total",
			Help: "History turns dropped for a missing or unknown role or content",
		}),
		WindowCommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eos_window_commands_total",
			Help: "Window commands by name and outcome",
		}, []string{"command", "outcome"}),
	}

	r.MustRegister(
		m.CompletionsTotal,
		m.CompletionErrors,
		m.CompletionDuration,
		m.TurnsSkippedTotal,
		m.WindowCommandsTotal,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RecordCompletion records one completion and, on failure, its error kind.
func (m *Metrics) RecordCompletion(duration time.Duration, errKind string) {
	m.CompletionsTotal.Inc()
	m.CompletionDuration.Observe(duration.Seconds())
	if errKind != "" {
		m.CompletionErrors.WithLabelValues(errKind).Inc()
	}
}

// RecordWindowCommand records a window command outcome.
func (m *Metrics) RecordWindowCommand(command string, err error) {
	m.WindowCommandsTotal.WithLabelValues(command, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
