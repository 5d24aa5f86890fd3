// Package metrics holds the Prometheus collectors for generation,
// transcription, storage and the HTTP API.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/braindump/llm"
	"github.com/c360studio/braindump/transcribe"
)

const namespace = "braindump"

// Metrics holds all collectors. It implements llm.Observer and
// transcribe.Observer.
type Metrics struct {
	// Generation
	GenerationAttempts *prometheus.CounterVec
	Generations        *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	GenerationTokens   *prometheus.CounterVec
	GenerationCost     *prometheus.CounterVec
	Corrections        *prometheus.CounterVec

	// Transcription
	TranscriptionSessions *prometheus.CounterVec
	ActiveSessions        prometheus.Gauge
	TranscriptionDeltas   prometheus.Counter
	DroppedFrames         prometheus.Counter
	SessionDuration       prometheus.Histogram
	EventsSent            *prometheus.CounterVec

	// Storage
	StoreOperations *prometheus.CounterVec

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		GenerationAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_attempts_total",
				Help:      "Model calls made by the generation loop, by attempt outcome",
			},
			[]string{"capability", "outcome"},
		),
		Generations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Completed generation runs, by result",
			},
			[]string{"capability", "result"},
		),
		GenerationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Wall time of a generation run including retries",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"capability"},
		),
		GenerationTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_tokens_total",
				Help:      "Approximate tokens sent and received",
			},
			[]string{"capability", "kind"},
		),
		GenerationCost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_cost_total",
				Help:      "Estimated generation cost in configured currency units",
			},
			[]string{"capability"},
		),
		Corrections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_corrections_total",
				Help:      "Corrective prompts issued after validation failures",
			},
			[]string{"capability"},
		),

		TranscriptionSessions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transcription_sessions_total",
				Help:      "Finished transcription sessions, by outcome",
			},
			[]string{"outcome"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "transcription_active_sessions",
				Help:      "Transcription sessions in progress",
			},
		),
		TranscriptionDeltas: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transcription_deltas_total",
				Help:      "Text deltas relayed to clients",
			},
		),
		DroppedFrames: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transcription_dropped_frames_total",
				Help:      "Audio frames discarded because the engine was not pulling",
			},
		),
		SessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transcription_session_duration_seconds",
				Help:      "Transcription session lifetime",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		EventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transcription_events_sent_total",
				Help:      "Outbound socket events, by type",
			},
			[]string{"type"},
		),

		StoreOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Project store operations, by backend and result",
			},
			[]string{"backend", "operation", "result"},
		),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests, by route and status code",
			},
			[]string{"route", "method", "code"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}
}

// NewRegistry creates a registry with Go and process collectors plus Metrics.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, NewMetrics(reg)
}

// Handler serves the exposition format for reg.
func Handler(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Instrument wraps h with request count and latency collectors for route.
func (m *Metrics) Instrument(route string, h http.Handler) http.Handler {
	labels := prometheus.Labels{"route": route}
	return promhttp.InstrumentHandlerCounter(
		m.HTTPRequests.MustCurryWith(labels),
		promhttp.InstrumentHandlerDuration(m.HTTPDuration.MustCurryWith(labels), h),
	)
}

// ObserveAttempt implements llm.Observer.
func (m *Metrics) ObserveAttempt(capability, outcome string) {
	m.GenerationAttempts.WithLabelValues(capability, outcome).Inc()
}

// ObserveGeneration implements llm.Observer.
func (m *Metrics) ObserveGeneration(capability string, t llm.Telemetry, err error) {
	m.Generations.WithLabelValues(capability, generationResult(err)).Inc()
	m.GenerationDuration.WithLabelValues(capability).Observe(float64(t.DurationMs) / 1000)
	m.GenerationTokens.WithLabelValues(capability, "prompt").Add(float64(t.PromptTokens))
	m.GenerationTokens.WithLabelValues(capability, "completion").Add(float64(t.CompletionTokens))
	m.GenerationCost.WithLabelValues(capability).Add(t.EstimatedCost)
	m.Corrections.WithLabelValues(capability).Add(float64(t.Corrections))
}

func generationResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case llm.IsValidationExhausted(err):
		return "validation_exhausted"
	case llm.IsParseError(err):
		return "parse_error"
	case llm.IsTransportError(err):
		return "transport_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}

// SessionStarted implements transcribe.Observer.
func (m *Metrics) SessionStarted() {
	m.ActiveSessions.Inc()
}

// EventSent implements transcribe.Observer.
func (m *Metrics) EventSent(t transcribe.EventType) {
	m.EventsSent.WithLabelValues(string(t)).Inc()
}

// SessionEnded implements transcribe.Observer.
func (m *Metrics) SessionEnded(outcome transcribe.Outcome, deltas, dropped int64, duration time.Duration) {
	m.ActiveSessions.Dec()
	m.TranscriptionSessions.WithLabelValues(string(outcome)).Inc()
	m.TranscriptionDeltas.Add(float64(deltas))
	m.DroppedFrames.Add(float64(dropped))
	m.SessionDuration.Observe(duration.Seconds())
}

// ObserveStore counts one store operation.
func (m *Metrics) ObserveStore(backend, operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.StoreOperations.WithLabelValues(backend, operation, result).Inc()
}

var (
	_ llm.Observer        = (*Metrics)(nil)
	_ transcribe.Observer = (*Metrics)(nil)
)
