package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session lifecycle metrics
	sessionsStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicereg_sessions_started_total",
			Help: "Total number of onboarding sessions started",
		},
		[]string{"language"},
	)

	sessionsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicereg_sessions_finished_total",
			Help: "Total number of onboarding sessions finished, by outcome",
		},
		[]string{"outcome"},
	)

	// Conversation metrics
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicereg_turns_total",
			Help: "Total number of conversation turns processed",
		},
		[]string{"result"},
	)

	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voicereg_turn_duration_seconds",
			Help:    "Conversation turn processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	extractionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voicereg_extraction_failures_total",
			Help: "Total number of extraction calls that failed",
		},
	)

	fieldsCollected = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voicereg_fields_collected_per_turn",
			Help:    "Number of new field values accepted per turn",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 7},
		},
	)

	// Sweeper metrics
	sweepEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voicereg_sweep_evictions_total",
			Help: "Total number of sessions evicted by the expiry sweeper",
		},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voicereg_sweep_duration_seconds",
			Help:    "Expiry sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Finalize metrics
	finalizeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicereg_finalize_total",
			Help: "Total number of finalize attempts, by result",
		},
		[]string{"result"},
	)

	initOnce sync.Once
)

// InitMetrics registers the Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			sessionsStartedTotal,
			sessionsFinishedTotal,
			turnsTotal,
			turnDuration,
			extractionFailuresTotal,
			fieldsCollected,
			sweepEvictionsTotal,
			sweepDuration,
			finalizeTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionStarted records a new session
func RecordSessionStarted(language string) {
	sessionsStartedTotal.WithLabelValues(language).Inc()
}

// RecordSessionFinished records a session reaching a terminal outcome
// ("finalized", "expired", "cancelled")
func RecordSessionFinished(outcome string) {
	sessionsFinishedTotal.WithLabelValues(outcome).Inc()
}

// RecordTurn records a processed conversation turn; result is "ok" or
// "fallback"
func RecordTurn(result string, duration time.Duration, newFields int) {
	turnsTotal.WithLabelValues(result).Inc()
	turnDuration.WithLabelValues(result).Observe(duration.Seconds())
	fieldsCollected.Observe(float64(newFields))
}

// RecordExtractionFailure records a failed extraction call
func RecordExtractionFailure() {
	extractionFailuresTotal.Inc()
}

// RecordSweep records an expiry sweep
func RecordSweep(evicted int, duration time.Duration) {
	sweepEvictionsTotal.Add(float64(evicted))
	sweepDuration.Observe(duration.Seconds())
}

// RecordFinalize records a finalize attempt; result is "ok",
// "not_complete", or "gateway_error"
func RecordFinalize(result string) {
	finalizeTotal.WithLabelValues(result).Inc()
}
