// Package observability is the metrics facade used across the service.
// Collectors exist from process start; Init attaches them to a registry.
package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	featuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "features_processed_total",
			Help: "Features seen by the cleaning pipeline, by outcome.",
		},
		[]string{"outcome"},
	)

	cleanDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clean_duration_seconds",
			Help:    "Duration of one cleaning pass over a collection.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Cache backend operations by op and status.",
		},
		[]string{"op", "status"},
	)

	cacheOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Result cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	ingestEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_total",
			Help: "Sheet ingest events by result.",
		},
		[]string{"result"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

var initOnce sync.Once

// Init registers the collectors with r. Passing nil leaves the collectors
// unregistered; the helpers below still work, their samples just go nowhere.
func Init(r prometheus.Registerer, enabled bool) {
	if r == nil || !enabled {
		return
	}
	initOnce.Do(func() {
		r.MustRegister(
			httpRequestsTotal,
			httpRequestDurationSeconds,
			featuresTotal,
			cleanDurationSeconds,
			cacheOpTotal,
			cacheOpDurationSeconds,
			cacheResults,
			ingestEventsTotal,
			buildInfo,
		)
	})
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveClean records one pass of the cleaning pipeline.
func ObserveClean(kept, invalid, outOfRange int, durationSeconds float64) {
	featuresTotal.WithLabelValues("kept").Add(float64(kept))
	featuresTotal.WithLabelValues("invalid").Add(float64(invalid))
	featuresTotal.WithLabelValues("out_of_range").Add(float64(outOfRange))
	cleanDurationSeconds.Observe(durationSeconds)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	cacheOpTotal.WithLabelValues(op, status).Inc()
	cacheOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncCacheHit()  { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss() { cacheResults.WithLabelValues("miss").Inc() }

func IncIngest(result string) {
	if result == "" {
		result = "unknown"
	}
	ingestEventsTotal.WithLabelValues(result).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
