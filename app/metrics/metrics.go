package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aifeed"

// Metrics holds the pipeline counters. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ItemsCollected      *prometheus.CounterVec
	ItemsStored         *prometheus.CounterVec
	ItemsSkipped        *prometheus.CounterVec
	EnrichmentFallbacks *prometheus.CounterVec
	Refreshes           *prometheus.CounterVec
	RefreshDuration     prometheus.Histogram
	LastRefresh         prometheus.Gauge
}

// New registers all metrics on a private registry along with Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ItemsCollected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_collected_total",
			Help:      "Items returned by collectors",
		}, []string{"source"}),
		ItemsStored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_stored_total",
			Help:      "Items inserted or updated in the store",
		}, []string{"source"}),
		ItemsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_skipped_total",
			Help:      "Items rejected by a store constraint",
		}, []string{"source"}),
		EnrichmentFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_fallbacks_total",
			Help:      "Items that received the default analysis",
		}, []string{"reason"}),
		Refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Completed refresh cycles",
		}, []string{"status"}),
		RefreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of refresh cycles",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		LastRefresh: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time of the last completed refresh",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SourceCollected(source string, n int) {
	if m == nil {
		return
	}
	m.ItemsCollected.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) SourceStored(source string, stored, skipped int) {
	if m == nil {
		return
	}
	m.ItemsStored.WithLabelValues(source).Add(float64(stored))
	m.ItemsSkipped.WithLabelValues(source).Add(float64(skipped))
}

func (m *Metrics) EnrichmentFallback(reason string) {
	if m == nil {
		return
	}
	m.EnrichmentFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) RefreshFinished(status string, started time.Time) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(status).Inc()
	m.RefreshDuration.Observe(time.Since(started).Seconds())
	m.LastRefresh.SetToCurrentTime()
}
