package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/timour/reservation-engine/internal/model"
	"github.com/timour/reservation-engine/internal/store"
)

// TelemetryMiddleware wraps an API with spans carrying each operation's
// arguments and outcome code, covering the engine's full verb set.
type TelemetryMiddleware struct {
	tracer trace.Tracer
	next   API
}

// NewTelemetryMiddleware decorates next with tracing, returning an API
// so callers stay oblivious to whether tracing is wired in.
func NewTelemetryMiddleware(tracer trace.Tracer, next API) API {
	return &TelemetryMiddleware{tracer: tracer, next: next}
}

func (m *TelemetryMiddleware) GetItem(ctx context.Context, id string) (*model.Item, error) {
	ctx, span := m.tracer.Start(ctx, "engine.GetItem")
	defer span.End()
	span.SetAttributes(attribute.String("item.id", id))
	return m.next.GetItem(ctx, id)
}

func (m *TelemetryMiddleware) ListItems(ctx context.Context, sortBy store.SortBy, sortOrder store.SortOrder) ([]*model.Item, error) {
	ctx, span := m.tracer.Start(ctx, "engine.ListItems")
	defer span.End()
	span.SetAttributes(attribute.String("sort.by", string(sortBy)), attribute.String("sort.order", string(sortOrder)))
	return m.next.ListItems(ctx, sortBy, sortOrder)
}

func (m *TelemetryMiddleware) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	ctx, span := m.tracer.Start(ctx, "engine.GetReservation")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.id", id))
	return m.next.GetReservation(ctx, id)
}

func (m *TelemetryMiddleware) ListReservationsByUser(ctx context.Context, userID string, status *model.Status) ([]*model.Reservation, error) {
	ctx, span := m.tracer.Start(ctx, "engine.ListReservationsByUser")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))
	return m.next.ListReservationsByUser(ctx, userID, status)
}

func (m *TelemetryMiddleware) AdjustStock(ctx context.Context, itemID string, delta int64) (*model.Item, error) {
	ctx, span := m.tracer.Start(ctx, "engine.AdjustStock")
	defer span.End()
	span.AddEvent(fmt.Sprintf("AdjustStock: itemId=%s delta=%d", itemID, delta))
	return m.next.AdjustStock(ctx, itemID, delta)
}

func (m *TelemetryMiddleware) Reserve(ctx context.Context, userID, itemID string, qty int64) (ReserveResult, error) {
	ctx, span := m.tracer.Start(ctx, "engine.Reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("item.id", itemID),
		attribute.Int64("qty", qty),
	)
	res, err := m.next.Reserve(ctx, userID, itemID, qty)
	span.SetAttributes(attribute.String("outcome.code", string(res.Code)))
	return res, err
}

func (m *TelemetryMiddleware) Confirm(ctx context.Context, userID, reservationID string) (ConfirmResult, error) {
	ctx, span := m.tracer.Start(ctx, "engine.Confirm")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("reservation.id", reservationID))
	res, err := m.next.Confirm(ctx, userID, reservationID)
	span.SetAttributes(attribute.String("outcome.code", string(res.Code)))
	return res, err
}

func (m *TelemetryMiddleware) Cancel(ctx context.Context, userID, reservationID string) (CancelResult, error) {
	ctx, span := m.tracer.Start(ctx, "engine.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("reservation.id", reservationID))
	res, err := m.next.Cancel(ctx, userID, reservationID)
	span.SetAttributes(attribute.String("outcome.code", string(res.Code)))
	return res, err
}

func (m *TelemetryMiddleware) Expire(ctx context.Context) (ExpireResult, error) {
	ctx, span := m.tracer.Start(ctx, "engine.Expire")
	defer span.End()
	res, err := m.next.Expire(ctx)
	span.SetAttributes(attribute.Int("expired.count", res.Expired))
	return res, err
}
