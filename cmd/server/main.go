// Command server wires together the store, cache, idempotency layer,
// rate limiter, engine, expiration worker, and HTTP surface in
// assembly order: logger and tracer first, then the datastore, then
// the decorated service, then background workers, then the listener.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/timour/reservation-engine/internal/cache"
	"github.com/timour/reservation-engine/internal/clock"
	"github.com/timour/reservation-engine/internal/config"
	"github.com/timour/reservation-engine/internal/engine"
	"github.com/timour/reservation-engine/internal/expiration"
	"github.com/timour/reservation-engine/internal/httpapi"
	"github.com/timour/reservation-engine/internal/idempotency"
	"github.com/timour/reservation-engine/internal/logging"
	"github.com/timour/reservation-engine/internal/metrics"
	"github.com/timour/reservation-engine/internal/ratelimit"
	"github.com/timour/reservation-engine/internal/store"
	"github.com/timour/reservation-engine/internal/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Observability.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	tracer, shutdownTracer, err := tracing.Init(ctx, cfg.Observability.ServiceName, cfg.Observability.ServiceVersion, cfg.Observability.OTLPEndpoint)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("tracer shutdown error", zap.Error(err))
		}
	}()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()
	logger.Info("opened store", zap.String("path", cfg.Store.Path))

	if err := seedDemoItems(ctx, st); err != nil {
		logger.Fatal("failed to seed items", zap.Error(err))
	}

	m := metrics.New(cfg.Observability.ServiceName)
	itemCache := cache.New(cfg.Cache.ItemsTTL, m)
	idemLayer := idempotency.New(st, 0)
	mutationLimiter := ratelimit.New(20, 10*time.Second)
	readLimiter := ratelimit.New(200, 10*time.Second)

	reservationEngine := engine.New(st, clock.Real{}, itemCache, cfg.ReservationTTL())
	var api engine.API = reservationEngine
	api = engine.NewMetricsMiddleware(m, api)
	api = engine.NewTelemetryMiddleware(tracer, api)

	// Startup recovery: catch up on any reservations that expired while
	// the process was down, before serving traffic.
	if result, err := api.Expire(ctx); err != nil {
		logger.Error("startup expire pass failed", zap.Error(err))
	} else if result.Expired > 0 {
		logger.Info("startup expire pass", zap.Int("expired", result.Expired))
	}

	worker := expiration.New(api, 0, logger)
	go worker.Run(ctx)

	go runJanitor(ctx, logger, idemLayer, mutationLimiter, readLimiter)

	handler := httpapi.NewHandler(api, st, idemLayer, m, logger)
	router := httpapi.NewRouter(handler, httpapi.Options{
		CORSOrigin:      cfg.Server.CORSOrigin,
		MutationLimiter: mutationLimiter,
		ReadLimiter:     readLimiter,
		Metrics:         m,
		Logger:          logger,
	})

	addr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down http server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting http server", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

// runJanitor periodically sweeps idempotency records (daily) and
// rate-limit buckets (every 5 min).
func runJanitor(ctx context.Context, logger *zap.Logger, idem *idempotency.Layer, limiters ...*ratelimit.Limiter) {
	idemTicker := time.NewTicker(24 * time.Hour)
	defer idemTicker.Stop()
	bucketTicker := time.NewTicker(5 * time.Minute)
	defer bucketTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-idemTicker.C:
			n, err := idem.Sweep(ctx)
			if err != nil {
				logger.Error("idempotency sweep failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("swept idempotency records", zap.Int("count", n))
			}
		case <-bucketTicker.C:
			for _, l := range limiters {
				n := l.Sweep(30 * time.Minute)
				if n > 0 {
					logger.Info("swept rate-limit buckets", zap.Int("count", n))
				}
			}
		}
	}
}
