package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "mzlive"

var (
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Snapshot queries by target kind and status.",
		},
		[]string{"target", "status"},
	)
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Snapshot query duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"target"},
	)
	SnapshotRows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_rows_total",
			Help:      "Total rows returned by snapshot queries.",
		},
	)
	ChangefeedsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "changefeeds_open",
			Help:      "Upstream changefeeds currently running.",
		},
	)
	ChangefeedOpens = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changefeed_opens_total",
			Help:      "Total upstream changefeeds opened.",
		},
	)
	StreamPackets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_packets_total",
			Help:      "Total change frames produced by changefeeds.",
		},
	)
	StreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_errors_total",
			Help:      "Stream-ending errors by kind.",
		},
		[]string{"kind"},
	)
	CachedQueries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_queries",
			Help:      "Query texts that can be resolved from a tail/query path.",
		},
	)
	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Listeners attached to changefeeds.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		QueriesTotal,
		QueryDuration,
		SnapshotRows,
		ChangefeedsOpen,
		ChangefeedOpens,
		StreamPackets,
		StreamErrors,
		CachedQueries,
		Subscribers,
	)
}
