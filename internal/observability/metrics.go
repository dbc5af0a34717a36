package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "capacity_checker"

// Metrics holds the Prometheus collectors shared by the crawler, caches and upstream clients.
type Metrics struct {
	CrawlPages      prometheus.Counter
	CMUsProcessed   prometheus.Counter
	ComponentsAdded prometheus.Counter
	CrawlErrors     prometheus.Counter
	CrawlRunning    prometheus.Gauge

	// Upstream calls. labels: provider={neso,postcodes_io,nominatim}
	UpstreamDuration *prometheus.HistogramVec

	// labels: provider={postcodes_io,nominatim}, outcome={ok,not_found,error}
	GeocodeRequests *prometheus.CounterVec

	// labels: cache={company_index,map_data,area_postcodes,...}, result={hit,miss,error}
	CacheLookups *prometheus.CounterVec

	PushSent *prometheus.CounterVec // labels: outcome={sent,expired,error}
}

// NewMetrics creates and registers all collectors with the default registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.CrawlPages,
		m.CMUsProcessed,
		m.ComponentsAdded,
		m.CrawlErrors,
		m.CrawlRunning,
		m.UpstreamDuration,
		m.GeocodeRequests,
		m.CacheLookups,
		m.PushSent,
	)
	return m
}

// NewMetricsForTesting creates unregistered collectors so tests can build
// as many sets as they like without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		CrawlPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crawl_pages_total",
			Help:      "CMU registry pages fetched by the crawler.",
		}),
		CMUsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crawl_cmus_processed_total",
			Help:      "CMU ids whose components were fetched.",
		}),
		ComponentsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crawl_components_added_total",
			Help:      "Components inserted into the database by the crawler.",
		}),
		CrawlErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crawl_errors_total",
			Help:      "Crawl failures that were logged and skipped.",
		}),
		CrawlRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "crawl_running",
			Help:      "1 while a crawl is in progress.",
		}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Area and postcode lookups by provider and outcome.",
		}, []string{"provider", "outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Redis cache lookups by cache name and result.",
		}, []string{"cache", "result"}),
		PushSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_notifications_total",
			Help:      "Web push deliveries by outcome.",
		}, []string{"outcome"}),
	}
}
