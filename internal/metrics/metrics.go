// Package metrics defines the service's Prometheus instrumentation:
// HTTP request counters/histograms plus per-business-operation counters
// (reservations, idempotency hits/misses, rate limiting, cache).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/histogram/gauge the service exposes.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	ReservationsCreatedTotal  *prometheus.CounterVec
	ReservationsConfirmedTotal prometheus.Counter
	ReservationsCancelledTotal prometheus.Counter
	ReservationsExpiredTotal  prometheus.Counter
	OutOfStockTotal           prometheus.Counter

	IdempotencyHitsTotal   prometheus.Counter
	IdempotencyMissesTotal prometheus.Counter

	RateLimitedTotal prometheus.Counter

	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
}

// New registers and returns the metric set for serviceName.
func New(serviceName string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    serviceName + "_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		ReservationsCreatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_reservations_created_total",
				Help: "Total number of reserve outcomes by code",
			},
			[]string{"code"},
		),
		ReservationsConfirmedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_reservations_confirmed_total",
				Help: "Total number of successful confirmations",
			},
		),
		ReservationsCancelledTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_reservations_cancelled_total",
				Help: "Total number of successful cancellations",
			},
		),
		ReservationsExpiredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_reservations_expired_total",
				Help: "Total number of reservations expired by batch expire passes",
			},
		),
		OutOfStockTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_out_of_stock_total",
				Help: "Total number of reserve attempts rejected as out of stock",
			},
		),
		IdempotencyHitsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_idempotency_hits_total",
				Help: "Total number of idempotency-key replay hits",
			},
		),
		IdempotencyMissesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_idempotency_misses_total",
				Help: "Total number of idempotency-key misses",
			},
		),
		RateLimitedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_rate_limited_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
		),
		CacheHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_cache_hits_total",
				Help: "Total number of item cache hits",
			},
			[]string{"kind"},
		),
		CacheMissesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_cache_misses_total",
				Help: "Total number of item cache misses",
			},
			[]string{"kind"},
		),
	}
}

// RecordHTTPRequest records a single handled HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
