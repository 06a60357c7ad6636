package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the monitor.
type Metrics struct {
	EventsIngested  prometheus.Counter
	EventsInvalid   prometheus.Counter
	EventsDuplicate prometheus.Counter
	QueriesTotal    *prometheus.CounterVec
	PolicyDenials   prometheus.Counter
	SubscriberDrops prometheus.Counter
	ActiveStreams   prometheus.Gauge
	Subscriptions   prometheus.Gauge
	IngestDuration  prometheus.Histogram
	QueryDuration   prometheus.Histogram
}

// New creates and registers all instruments on the default registry.
func New() *Metrics {
	return NewWithRegistry(nil)
}

// NewWithRegistry registers instruments on reg; a nil reg uses the default
// registry. Tests pass their own registry to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	if reg == nil {
		factory = promauto.With(prometheus.DefaultRegisterer)
	}

	return &Metrics{
		EventsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "streammon_events_ingested_total",
			Help: "Total number of events applied to stream state",
		}),
		EventsInvalid: factory.NewCounter(prometheus.CounterOpts{
			Name: "streammon_events_invalid_total",
			Help: "Total number of events rejected at validation",
		}),
		EventsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Name: "streammon_events_duplicate_total",
			Help: "Total number of duplicate events suppressed by ID",
		}),
		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streammon_queries_total",
			Help: "Total number of executed queries by outcome",
		}, []string{"outcome"}),
		PolicyDenials: factory.NewCounter(prometheus.CounterOpts{
			Name: "streammon_policy_denials_total",
			Help: "Total number of denied policy evaluations",
		}),
		SubscriberDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "streammon_subscriber_drops_total",
			Help: "Total number of deliveries dropped on full subscriber channels",
		}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streammon_active_streams",
			Help: "Number of scopes holding stream state",
		}),
		Subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streammon_subscriptions",
			Help: "Number of live subscriptions",
		}),
		IngestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streammon_ingest_duration_seconds",
			Help:    "Time spent applying one event to stream state",
			Buckets: prometheus.DefBuckets,
		}),
		QueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streammon_query_duration_seconds",
			Help:    "Time spent executing one query",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
