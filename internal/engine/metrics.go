package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/dsl"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordsdb_requests_total",
			Help: "Requests executed, by kind, backend and outcome",
		},
		[]string{"kind", "backend", "outcome"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recordsdb_request_duration_seconds",
			Help:    "Request latency from compile to first result",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "backend"},
	)
)

// outcome labels a request result: "ok" or the error code.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := dberr.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}

func observe(kind dsl.Kind, backend Backend, start time.Time, err error) {
	b := string(backend)
	if b == "" {
		b = "none"
	}
	requestsTotal.WithLabelValues(string(kind), b, outcome(err)).Inc()
	requestDuration.WithLabelValues(string(kind), b).Observe(time.Since(start).Seconds())
}
