package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the service collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auctionhouse",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "auctionhouse",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	chainCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auctionhouse",
			Subsystem: "chain",
			Name:      "rpc_calls_total",
			Help:      "Ledger RPC calls by method and outcome.",
		},
		[]string{"method", "status"},
	)

	chainDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "auctionhouse",
			Subsystem: "chain",
			Name:      "rpc_duration_seconds",
			Help:      "Ledger RPC latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"method"},
	)

	txSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auctionhouse",
			Subsystem: "txn",
			Name:      "submissions_total",
			Help:      "Workflow transactions by action and result.",
		},
		[]string{"action", "result"},
	)

	divergences = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auctionhouse",
			Subsystem: "reconcile",
			Name:      "divergences_total",
			Help:      "Record updates that could not be verified after a ledger action.",
		},
		[]string{"operation"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auctionhouse",
			Subsystem: "auction",
			Name:      "transitions_total",
			Help:      "Committed auction status transitions.",
		},
		[]string{"from", "to"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		chainCalls,
		chainDuration,
		txSubmissions,
		divergences,
		transitions,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// GinMiddleware records request counts and latency by route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func ObserveChainCall(method string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	chainCalls.WithLabelValues(method, status).Inc()
	chainDuration.WithLabelValues(method).Observe(d.Seconds())
}

func ObserveTxSubmission(action, result string) {
	txSubmissions.WithLabelValues(action, result).Inc()
}

func IncDivergence(operation string) {
	divergences.WithLabelValues(operation).Inc()
}

func ObserveTransition(from, to string) {
	transitions.WithLabelValues(from, to).Inc()
}
