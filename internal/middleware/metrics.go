package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// RequestObserver is implemented by observability/metrics.Metrics
type RequestObserver interface {
	ObserveRequest(method, route string, status int, seconds float64)
	InFlight(delta int)
}

// Metrics records request count, latency and in-flight gauge per chi route pattern.
// Unmatched paths are grouped under "other" to keep label cardinality bounded.
func Metrics(obs RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if obs == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			obs.InFlight(1)
			defer obs.InFlight(-1)

			start := time.Now()
			wrapped := wrapWriter(w)
			next.ServeHTTP(wrapped, r)

			route := "other"
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if p := rc.RoutePattern(); p != "" {
					route = p
				}
			}
			obs.ObserveRequest(r.Method, route, wrapped.statusCode, time.Since(start).Seconds())
		})
	}
}
