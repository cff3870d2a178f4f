package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/r3e-network/external-engine-broker/internal/metrics"
)

// MetricsMiddleware records request counts and latency per route template
// (not the raw path, to keep label cardinality bounded for job/engine ids).
func MetricsMiddleware(service string, m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			route := routeTemplate(r)
			m.RequestDuration.WithLabelValues(service, r.Method, route).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(service, r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}
