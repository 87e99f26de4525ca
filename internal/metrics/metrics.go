// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest outcomes.
const (
	OutcomeStored     = "stored"
	OutcomePaused     = "paused"
	OutcomeSkipped    = "skipped"
	OutcomeSuppressed = "suppressed"
	OutcomeDenied     = "denied"
	OutcomeDuplicate  = "duplicate"
	OutcomeError      = "error"
)

var (
	Ingest = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipvault_ingest_total",
		Help: "Clipboard changes processed, by outcome.",
	}, []string{"outcome"})

	Evicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipvault_evicted_total",
		Help: "Entries removed by the retention limit.",
	})

	MediaRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipvault_media_removed_total",
		Help: "Image originals and thumbnails deleted from disk.",
	})
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipvault_http_requests_total",
		Help: "HTTP API requests, by method, route and status.",
	}, []string{"method", "path", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clipvault_http_request_duration_seconds",
		Help:    "HTTP API request latency.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"method", "path"})
)

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Middleware records request counts and latency, labelled by chi route
// pattern to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
