package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for the service on a dedicated
// registry.
type Metrics struct {
	Registry       *prometheus.Registry
	SearchesTotal  *prometheus.CounterVec
	SearchDuration prometheus.Histogram
	ProviderErrors *prometheus.CounterVec
	ProviderUp     *prometheus.GaugeVec
	AlertsFired    *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	searches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_requests_total",
			Help: "Combined searches served, by cache outcome.",
		},
		[]string{"cache"},
	)
	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "search_duration_seconds",
			Help:    "End-to-end combined search latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	providerErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_errors_total",
			Help: "Provider search failures and timeouts, by provider.",
		},
		[]string{"provider"},
	)
	providerUp := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_up",
			Help: "Whether a provider is currently enabled (1) or disabled (0).",
		},
		[]string{"provider"},
	)
	alertsFired := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_fired_total",
			Help: "Alerts dispatched, by rule.",
		},
		[]string{"rule"},
	)

	registry.MustRegister(searches, duration, providerErrors, providerUp, alertsFired)

	return &Metrics{
		Registry:       registry,
		SearchesTotal:  searches,
		SearchDuration: duration,
		ProviderErrors: providerErrors,
		ProviderUp:     providerUp,
		AlertsFired:    alertsFired,
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
