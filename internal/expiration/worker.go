// Package expiration runs the periodic expire() sweep as a background
// ticker.
package expiration

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/timour/reservation-engine/internal/engine"
)

// DefaultInterval is the default worker tick cadence.
const DefaultInterval = 30 * time.Second

// Worker periodically invokes engine.Expire on a ticker until stopped.
type Worker struct {
	eng      engine.API
	interval time.Duration
	logger   *zap.Logger
}

// New creates a Worker. interval defaults to DefaultInterval when zero.
func New(eng engine.API, interval time.Duration, logger *zap.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{eng: eng, interval: interval, logger: logger}
}

// Run blocks, ticking until ctx is cancelled. Intended to be launched in
// its own goroutine by main.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	result, err := w.eng.Expire(ctx)
	if err != nil {
		w.logger.Error("expire sweep failed", zap.Error(err))
		return
	}
	if result.Expired > 0 {
		w.logger.Info("expired reservations", zap.Int("count", result.Expired))
	}
}
