package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// MetricsMiddleware records request rate, errors and duration per route
// pattern on reg.
func MetricsMiddleware(reg prometheus.Registerer) func(http.Handler) http.Handler {
	factory := promauto.With(reg)
	m := httpMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, labeled by status, method, and path.",
		}, []string{"status", "method", "path"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status", "method", "path"}),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := strconv.Itoa(ww.Status())
			// Raw paths carry chain IDs; only route patterns are labels.
			path := "unmatched_route"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				path = rctx.RoutePattern()
			} else if ww.Status() == http.StatusNotFound {
				path = "not_found"
			}

			m.requests.WithLabelValues(status, r.Method, path).Inc()
			m.duration.WithLabelValues(status, r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}
