package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tzapi_requests_total",
		Help: "Total number of /timezone/offset requests",
	})
	RequestDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tzapi_request_duration_ms",
		Help:    "Request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
	FailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tzapi_failures_total",
		Help: "Failed /timezone/offset requests by internal failure kind",
	}, []string{"kind"})
	GeoIPLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tzapi_geoip_lookups_total",
		Help: "GeoIP time zone lookups by result (hit, miss, no_timezone)",
	}, []string{"result"})
	GeoIPReloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tzapi_geoip_reloads_total",
		Help: "Shared GeoIP dataset loads by status",
	}, []string{"status"})
	StatsWriteFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tzapi_stats_write_fail_total",
		Help: "Failed writes of served offsets to the stats store",
	})
	StatsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tzapi_stats_dropped_total",
		Help: "Stats writes skipped because too many were already pending",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(FailuresTotal)
	prometheus.MustRegister(GeoIPLookupsTotal)
	prometheus.MustRegister(GeoIPReloadsTotal)
	prometheus.MustRegister(StatsWriteFailTotal)
	prometheus.MustRegister(StatsDroppedTotal)
}

// Handler：返回 Prometheus 指标处理器，由主入口挂载到 METRICS_PATH
func Handler() http.Handler { return promhttp.Handler() }
