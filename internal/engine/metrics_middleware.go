package engine

import (
	"context"

	"github.com/timour/reservation-engine/internal/metrics"
	"github.com/timour/reservation-engine/internal/model"
	"github.com/timour/reservation-engine/internal/store"
)

// MetricsMiddleware wraps an API with the per-business-operation
// counters: reservations created/confirmed/cancelled/expired and
// out-of-stock rejections, broken out by outcome code where useful.
type MetricsMiddleware struct {
	metrics *metrics.Metrics
	next    API
}

// NewMetricsMiddleware decorates next with business-metric recording.
func NewMetricsMiddleware(m *metrics.Metrics, next API) API {
	return &MetricsMiddleware{metrics: m, next: next}
}

func (m *MetricsMiddleware) GetItem(ctx context.Context, id string) (*model.Item, error) {
	return m.next.GetItem(ctx, id)
}

func (m *MetricsMiddleware) ListItems(ctx context.Context, sortBy store.SortBy, sortOrder store.SortOrder) ([]*model.Item, error) {
	return m.next.ListItems(ctx, sortBy, sortOrder)
}

func (m *MetricsMiddleware) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	return m.next.GetReservation(ctx, id)
}

func (m *MetricsMiddleware) ListReservationsByUser(ctx context.Context, userID string, status *model.Status) ([]*model.Reservation, error) {
	return m.next.ListReservationsByUser(ctx, userID, status)
}

func (m *MetricsMiddleware) AdjustStock(ctx context.Context, itemID string, delta int64) (*model.Item, error) {
	return m.next.AdjustStock(ctx, itemID, delta)
}

func (m *MetricsMiddleware) Reserve(ctx context.Context, userID, itemID string, qty int64) (ReserveResult, error) {
	res, err := m.next.Reserve(ctx, userID, itemID, qty)
	if err != nil {
		return res, err
	}
	m.metrics.ReservationsCreatedTotal.WithLabelValues(string(res.Code)).Inc()
	if res.Code == CodeOutOfStock {
		m.metrics.OutOfStockTotal.Inc()
	}
	return res, err
}

func (m *MetricsMiddleware) Confirm(ctx context.Context, userID, reservationID string) (ConfirmResult, error) {
	res, err := m.next.Confirm(ctx, userID, reservationID)
	if err == nil && res.Code == CodeOK {
		m.metrics.ReservationsConfirmedTotal.Inc()
	}
	return res, err
}

func (m *MetricsMiddleware) Cancel(ctx context.Context, userID, reservationID string) (CancelResult, error) {
	res, err := m.next.Cancel(ctx, userID, reservationID)
	if err == nil && res.Code == CodeOK {
		m.metrics.ReservationsCancelledTotal.Inc()
	}
	return res, err
}

func (m *MetricsMiddleware) Expire(ctx context.Context) (ExpireResult, error) {
	res, err := m.next.Expire(ctx)
	if err == nil && res.Expired > 0 {
		m.metrics.ReservationsExpiredTotal.Add(float64(res.Expired))
	}
	return res, err
}
