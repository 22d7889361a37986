package expiration_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/timour/reservation-engine/internal/engine"
	"github.com/timour/reservation-engine/internal/expiration"
	"github.com/timour/reservation-engine/internal/model"
	"github.com/timour/reservation-engine/internal/store"
)

// fakeAPI implements engine.API with a counted Expire and stub reads,
// so the worker's tick cadence can be observed without a real store.
type fakeAPI struct {
	calls int32
}

var _ engine.API = (*fakeAPI)(nil)

func (f *fakeAPI) GetItem(ctx context.Context, id string) (*model.Item, error) { return nil, nil }
func (f *fakeAPI) ListItems(ctx context.Context, sortBy store.SortBy, sortOrder store.SortOrder) ([]*model.Item, error) {
	return nil, nil
}
func (f *fakeAPI) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	return nil, nil
}
func (f *fakeAPI) ListReservationsByUser(ctx context.Context, userID string, status *model.Status) ([]*model.Reservation, error) {
	return nil, nil
}
func (f *fakeAPI) AdjustStock(ctx context.Context, itemID string, delta int64) (*model.Item, error) {
	return nil, nil
}
func (f *fakeAPI) Reserve(ctx context.Context, userID, itemID string, qty int64) (engine.ReserveResult, error) {
	return engine.ReserveResult{}, nil
}
func (f *fakeAPI) Confirm(ctx context.Context, userID, reservationID string) (engine.ConfirmResult, error) {
	return engine.ConfirmResult{}, nil
}
func (f *fakeAPI) Cancel(ctx context.Context, userID, reservationID string) (engine.CancelResult, error) {
	return engine.CancelResult{}, nil
}
func (f *fakeAPI) Expire(ctx context.Context) (engine.ExpireResult, error) {
	atomic.AddInt32(&f.calls, 1)
	return engine.ExpireResult{Expired: 0}, nil
}

func TestWorkerTicksOnInterval(t *testing.T) {
	api := &fakeAPI{}
	w := expiration.New(api, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	if atomic.LoadInt32(&api.calls) < 2 {
		t.Fatalf("expected at least 2 expire ticks in 55ms at a 10ms interval, got %d", api.calls)
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	api := &fakeAPI{}
	w := expiration.New(api, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return promptly after context cancellation")
	}
}
