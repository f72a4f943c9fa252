package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the dialer's Prometheus collectors on a private registry.
// All methods are safe on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// CallInitiations counts initiation attempts.
	// Labels: result (initiated|rejected|failed)
	CallInitiations *prometheus.CounterVec

	// UpstreamDuration measures provider round trips in seconds.
	// Labels: provider (voice_ai|twilio|openai), operation, status (success|error)
	UpstreamDuration *prometheus.HistogramVec

	// WebhookEvents counts voice-AI webhook deliveries by how they were handled.
	// Labels: result (applied|ignored|duplicate|unsigned|unmatched|missing_call_id|error)
	WebhookEvents *prometheus.CounterVec

	// Outcomes counts classified outcome labels.
	// Labels: outcome, fallback (true|false)
	Outcomes *prometheus.CounterVec

	// BatchContacts counts batch contacts by result.
	// Labels: result (initiated|failed)
	BatchContacts *prometheus.CounterVec

	// HTTPRequestDuration measures request latency.
	// Labels: method, route, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors, including Go runtime and process collectors
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CallInitiations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialer_call_initiations_total",
				Help: "Outbound call initiation attempts by result",
			},
			[]string{"result"},
		),

		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dialer_upstream_request_duration_seconds",
				Help:    "Duration of provider requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider", "operation", "status"},
		),

		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialer_webhook_events_total",
				Help: "Voice-AI webhook deliveries by handling result",
			},
			[]string{"result"},
		),

		Outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialer_call_outcomes_total",
				Help: "Classified call outcomes",
			},
			[]string{"outcome", "fallback"},
		),

		BatchContacts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialer_batch_contacts_total",
				Help: "Batch contacts processed by result",
			},
			[]string{"result"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dialer_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"method", "route", "status_code"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordCallInitiation(result string) {
	if m == nil {
		return
	}
	m.CallInitiations.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordUpstream(provider, operation string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.UpstreamDuration.WithLabelValues(provider, operation, status).Observe(durationSeconds)
}

func (m *Metrics) RecordWebhookEvent(result string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordOutcome(outcome string, fallback bool) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome, strconv.FormatBool(fallback)).Inc()
}

func (m *Metrics) RecordBatchContact(result string) {
	if m == nil {
		return
	}
	m.BatchContacts.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(statusCode)).Observe(durationSeconds)
}
