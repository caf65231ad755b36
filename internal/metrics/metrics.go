// Package metrics exposes Prometheus instruments for analysis runs and the HTTP API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

const namespace = "fraudlens"

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"method", "route"},
	)

	// Run metrics
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of analysis runs by mode and outcome",
		},
		[]string{"mode", "status"},
	)

	runFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_failures_total",
			Help:      "Failed runs by error kind",
		},
		[]string{"kind"},
	)

	rowsScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "rows_scored_total",
			Help:      "Total number of transactions scored",
		},
	)

	rowsFlagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "rows_flagged_total",
			Help:      "Total number of transactions flagged as fraud",
		},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~65s
		},
		[]string{"stage"},
	)

	batchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "batch_rows",
			Help:      "Rows per analysed batch",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 8), // 10 to ~164k
		},
	)

	alertsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "alerts_published_total",
			Help:      "Alerts published for flagged transactions",
		},
	)
)

// Run modes.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
	ModeCLI   = "cli"
)

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records a completed run.
func ObserveRun(mode string, table *domain.ResultTable) {
	runsTotal.WithLabelValues(mode, domain.RunStatusCompleted).Inc()
	rowsScored.Add(float64(len(table.Records)))
	rowsFlagged.Add(float64(table.FlaggedCount))
	batchSize.Observe(float64(len(table.Records)))

	t := table.Timings
	for stage, ms := range map[string]int64{
		"features":    t.FeaturesMs,
		"scoring":     t.ScoringMs,
		"calibration": t.CalibrationMs,
		"attribution": t.AttributionMs,
		"narrative":   t.NarrativeMs,
		"total":       t.TotalMs,
	} {
		stageDuration.WithLabelValues(stage).Observe((time.Duration(ms) * time.Millisecond).Seconds())
	}
}

// ObserveFailure records a run that produced no table.
func ObserveFailure(mode string, err error) {
	kind := domain.ErrorKind(err)
	if kind == "" {
		kind = "internal"
	}
	runsTotal.WithLabelValues(mode, domain.RunStatusFailed).Inc()
	runFailures.WithLabelValues(kind).Inc()
}

// ObserveAlert counts one published alert.
func ObserveAlert() {
	alertsPublished.Inc()
}

// ObserveRequest records one HTTP request.
func ObserveRequest(method, route string, status int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, statusCodeClass(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// statusCodeClass returns the status code class (2xx, 3xx, 4xx, 5xx)
func statusCodeClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
