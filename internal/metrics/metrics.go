// Package metrics provides Prometheus metrics for the translation pipeline.
//
// Labels are bounded enums (outcome, failure kind, provider, result); no
// request IDs or utterances ever become label values.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pupper/internal/types"
)

// Outcome label values.
const (
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
)

// Metrics holds every pupper collector registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	// TranslationsTotal counts finished translations by outcome and failure kind.
	TranslationsTotal *prometheus.CounterVec

	// TranslationDuration observes receive-to-publish latency by outcome.
	TranslationDuration *prometheus.HistogramVec

	// GatewayCallsTotal counts provider calls by provider and result.
	GatewayCallsTotal *prometheus.CounterVec

	// GatewayCallDuration observes single provider call latency.
	GatewayCallDuration *prometheus.HistogramVec

	// DroppedTokensTotal counts bracketed items that were not vocabulary members.
	DroppedTokensTotal prometheus.Counter

	// PublishErrorsTotal counts bus publish failures by topic.
	PublishErrorsTotal *prometheus.CounterVec

	// InFlight tracks translations currently being processed.
	InFlight prometheus.Gauge
}

// New registers the pupper collectors on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the pupper collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TranslationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pupper_translations_total",
			Help: "Total number of translated requests, by outcome and failure kind.",
		}, []string{"outcome", "kind"}),

		TranslationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pupper_translation_duration_seconds",
			Help:    "Time from receiving an utterance to publishing its payload.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),

		GatewayCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pupper_gateway_calls_total",
			Help: "Total number of model provider calls, by provider and result.",
		}, []string{"provider", "result"}),

		GatewayCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pupper_gateway_call_duration_seconds",
			Help:    "Latency of single model provider calls.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),

		DroppedTokensTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pupper_dropped_tokens_total",
			Help: "Total number of bracketed items discarded as unknown actions.",
		}),

		PublishErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pupper_publish_errors_total",
			Help: "Total number of failed bus publishes, by topic.",
		}, []string{"topic"}),

		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pupper_translations_in_flight",
			Help: "Translations currently in progress.",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTranslation records one finished translation. kind is empty on success.
func (m *Metrics) ObserveTranslation(kind types.FailureKind, d time.Duration) {
	outcome := OutcomePublished
	label := "none"
	if kind != "" {
		outcome = OutcomeFailed
		label = string(kind)
	}
	m.TranslationsTotal.WithLabelValues(outcome, label).Inc()
	m.TranslationDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveGatewayCall implements perception.TraceSink.
func (m *Metrics) ObserveGatewayCall(provider, result string, d time.Duration) {
	if provider == "" {
		provider = "unknown"
	}
	m.GatewayCallsTotal.WithLabelValues(provider, result).Inc()
	m.GatewayCallDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// AddDroppedTokens counts discarded unknown items.
func (m *Metrics) AddDroppedTokens(n int) {
	if n > 0 {
		m.DroppedTokensTotal.Add(float64(n))
	}
}

// IncPublishError records a failed publish on topic.
func (m *Metrics) IncPublishError(topic string) {
	m.PublishErrorsTotal.WithLabelValues(topic).Inc()
}
