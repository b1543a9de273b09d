package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports routing outcomes and provider usage as Prometheus series.
type Metrics struct {
	routesTotal     *prometheus.CounterVec
	routeDuration   *prometheus.HistogramVec
	attemptsTotal   *prometheus.CounterVec
	fallbacksTotal  *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	costTotal       *prometheus.CounterVec
	droppedRecords  prometheus.Counter
	persistFailures prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		routesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "route_requests_total",
				Help:      "Routed requests by terminal status and provider",
			},
			[]string{"provider", "status", "code"},
		),
		routeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "route_duration_seconds",
				Help:      "End to end routing latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		attemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_attempts_total",
				Help:      "Provider calls by outcome",
			},
			[]string{"provider", "outcome"},
		),
		fallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_fallbacks_total",
				Help:      "Times a provider was abandoned for the next candidate",
			},
			[]string{"provider"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_tokens_total",
				Help:      "Tokens consumed by provider and direction",
			},
			[]string{"provider", "type"},
		),
		costTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_cost_usd_total",
				Help:      "Accumulated cost in USD",
			},
			[]string{"provider"},
		),
		droppedRecords: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_records_dropped_total",
			Help:      "Usage records dropped because the ingest buffer was full",
		}),
		persistFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_persist_failures_total",
			Help:      "Usage records that failed to persist",
		}),
	}
}

func (m *Metrics) observe(ev *Event) {
	if m == nil || ev == nil || ev.Record == nil {
		return
	}
	rec := ev.Record

	m.routesTotal.WithLabelValues(rec.ProviderID, rec.Status, rec.ErrorCode).Inc()
	m.routeDuration.WithLabelValues(rec.ProviderID).Observe(float64(rec.LatencyMS) / 1000)

	for _, name := range ev.Fallbacks {
		m.fallbacksTotal.WithLabelValues(name).Inc()
	}

	for _, stat := range ev.Usage {
		if stat.Errors > 0 {
			m.attemptsTotal.WithLabelValues(stat.ProviderID, "error").Add(float64(stat.Errors))
		}
		if ok := stat.Requests - stat.Errors; ok > 0 {
			m.attemptsTotal.WithLabelValues(stat.ProviderID, "success").Add(float64(ok))
		}
		if stat.PromptTokens > 0 {
			m.tokensTotal.WithLabelValues(stat.ProviderID, "prompt").Add(float64(stat.PromptTokens))
		}
		if stat.CompletionTokens > 0 {
			m.tokensTotal.WithLabelValues(stat.ProviderID, "completion").Add(float64(stat.CompletionTokens))
		}
		if stat.TotalCost > 0 {
			m.costTotal.WithLabelValues(stat.ProviderID).Add(stat.TotalCost)
		}
	}
}

func (m *Metrics) dropped() {
	if m != nil {
		m.droppedRecords.Inc()
	}
}

func (m *Metrics) persistFailed() {
	if m != nil {
		m.persistFailures.Inc()
	}
}
