package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/timour/reservation-engine/internal/metrics"
	"github.com/timour/reservation-engine/internal/ratelimit"
)

// Options configures the router's prefix and cross-cutting concerns.
type Options struct {
	Prefix         string // default "/api/v1"
	CORSOrigin     string
	MutationLimiter *ratelimit.Limiter
	ReadLimiter     *ratelimit.Limiter
	Metrics         *metrics.Metrics
	Logger          *zap.Logger
}

// NewRouter wires every endpoint onto a ServeMux, with a rate-limit
// decorator on each API route, and wraps the mux in the middleware chain
// layered as corsMiddleware(requestIDMiddleware(loggingMiddleware(
// metricsMiddleware(mux)))).
func NewRouter(h *Handler, opts Options) http.Handler {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "/api/v1"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", metrics.Handler())

	mutation := rateLimitWrap(opts.MutationLimiter, opts.Metrics)
	read := rateLimitWrap(opts.ReadLimiter, opts.Metrics)

	mux.Handle("GET "+prefix+"/items", read(http.HandlerFunc(h.ListItems)))
	mux.Handle("GET "+prefix+"/items/{id}", read(http.HandlerFunc(h.GetItem)))
	mux.Handle("POST "+prefix+"/reserve", mutation(http.HandlerFunc(h.Reserve)))
	mux.Handle("POST "+prefix+"/confirm", mutation(http.HandlerFunc(h.Confirm)))
	mux.Handle("POST "+prefix+"/cancel", mutation(http.HandlerFunc(h.Cancel)))
	mux.Handle("GET "+prefix+"/reservations/user/{userId}", read(http.HandlerFunc(h.ListReservationsByUser)))
	mux.Handle("GET "+prefix+"/reservations/{id}", read(http.HandlerFunc(h.GetReservation)))
	mux.Handle("POST "+prefix+"/expire/run", mutation(http.HandlerFunc(h.ExpireRun)))

	var handler http.Handler = mux
	handler = metricsMiddleware(opts.Metrics, handler)
	handler = loggingMiddleware(opts.Logger, handler)
	handler = requestIDMiddleware(handler)
	handler = corsMiddleware(opts.CORSOrigin, handler)
	return handler
}

func rateLimitWrap(limiter *ratelimit.Limiter, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return rateLimitMiddleware(limiter, m, next)
	}
}
