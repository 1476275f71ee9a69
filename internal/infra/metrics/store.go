package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolStats, storeErrorsTotal, cacheRequestsTotal, buildInfo) }

var (
	dbPoolStats = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_pool_stats",
			Help: "Current state of the database connection pool.",
		},
		[]string{"state"}, // 'total', 'idle', 'in_use'
	)

	storeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_errors_total",
			Help: "Repository operations that failed, by operation.",
		},
		[]string{"op"},
	)

	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Tracks cache hits and misses for various caches.",
		},
		[]string{"cache", "result"}, // e.g., cache="job_status", result="hit"
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "A constant metric with labels for version and commit hash.",
		},
		[]string{"version", "commit"},
	)
)

func SetDBPoolStats(total, idle, inUse int32) {
	dbPoolStats.WithLabelValues("total").Set(float64(total))
	dbPoolStats.WithLabelValues("idle").Set(float64(idle))
	dbPoolStats.WithLabelValues("in_use").Set(float64(inUse))
}

func IncStoreError(op string) { storeErrorsTotal.WithLabelValues(norm(op)).Inc() }

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}

func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit).Set(1)
}
