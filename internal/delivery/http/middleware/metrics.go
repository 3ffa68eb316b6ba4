package middleware

import (
	"net/http"
	"time"

	"eventregistration/internal/metrics"
)

// Metrics records Prometheus request metrics. It must wrap the ServeMux directly
// so the matched route pattern is visible after the request is served; the
// pattern, not the raw path, is used as the label.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := metrics.TrackInFlight()
		defer done()
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(r.Method, route, wrapped.status, time.Since(start))
	})
}
