// Package metrics provides Prometheus instrumentation for the autobid
// engine and the auction simulator.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PollsTotal counts status fetches, partitioned by outcome
	// (ok, error, timeout).
	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lelangbid_polls_total",
		Help: "Total status poll attempts",
	}, []string{"outcome"})

	// PollLatency tracks the round-trip time of status fetches.
	PollLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lelangbid_poll_latency_seconds",
		Help:    "Status fetch round-trip latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	// SnapshotsDiscarded counts snapshots rejected by the state store's
	// monotonic publish-if-newer rule.
	SnapshotsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lelangbid_snapshots_discarded_total",
		Help: "Out-of-order snapshots discarded by the state store",
	})

	// BidsTotal counts bid submissions by outcome
	// (accepted, rejected, ambiguous, fatal).
	BidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lelangbid_bids_total",
		Help: "Total bid submission attempts",
	}, []string{"outcome"})

	// PlansDiscarded counts bid plans dropped before submission, either
	// because a submission was already in flight or because the plan's
	// basis snapshot was superseded.
	PlansDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lelangbid_plans_discarded_total",
		Help: "Bid plans discarded before submission",
	}, []string{"reason"})

	// CommittedAmount is the budget currently committed to confirmed bids.
	CommittedAmount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lelangbid_committed_amount",
		Help: "Budget committed to the latest confirmed bid",
	})

	// HTTPRequestsTotal counts simulator HTTP requests by method, path,
	// and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lelangbid_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks simulator request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lelangbid_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the simulator's route set is
		// small and fixed, so cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
