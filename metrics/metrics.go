package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestDuration tracks HTTP request duration in seconds by method, route, status.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	RequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// CustodyTransitions counts custody and admin tool changes by action and
	// outcome (ok, rejected, conflict, failed, local).
	CustodyTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_transitions_total",
			Help: "Tool state transitions by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	StoreWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_write_failures_total",
			Help: "Writes to the remote store that failed",
		},
		[]string{"entity"},
	)

	// StoreMode is 1 for the active mode label (remote, local).
	StoreMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "store_mode",
			Help: "Whether the working set is backed by the remote store",
		},
		[]string{"mode"},
	)

	AssistantFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_fallbacks_total",
			Help: "Assistant queries answered with the fallback message",
		},
	)
)

var initOnce sync.Once

func init() {
	initOnce.Do(func() {
		prometheus.MustRegister(RequestDuration, RequestTotal, CustodyTransitions,
			StoreWriteFailures, StoreMode, AssistantFallbacks)
	})
}

// RecordRequest records duration and count for an HTTP request. route should
// be the matched route template, not the raw path.
func RecordRequest(method, route string, statusCode int, durationSeconds float64) {
	if route == "" {
		route = "unmatched"
	}
	status := strconv.Itoa(statusCode)
	RequestDuration.WithLabelValues(method, route, status).Observe(durationSeconds)
	RequestTotal.WithLabelValues(method, route, status).Inc()
}

func IncTransition(action, outcome string) {
	CustodyTransitions.WithLabelValues(action, outcome).Inc()
}

func IncStoreWriteFailure(entity string) {
	StoreWriteFailures.WithLabelValues(entity).Inc()
}

func SetStoreMode(remote bool) {
	if remote {
		StoreMode.WithLabelValues("remote").Set(1)
		StoreMode.WithLabelValues("local").Set(0)
		return
	}
	StoreMode.WithLabelValues("remote").Set(0)
	StoreMode.WithLabelValues("local").Set(1)
}
