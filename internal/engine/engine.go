package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/timour/reservation-engine/internal/cache"
	"github.com/timour/reservation-engine/internal/clock"
	"github.com/timour/reservation-engine/internal/model"
	"github.com/timour/reservation-engine/internal/store"
)

// API is the engine's public surface, extracted so the HTTP layer can
// depend on an interface and the telemetry wrapper can decorate it
// without the HTTP layer knowing tracing exists.
type API interface {
	GetItem(ctx context.Context, id string) (*model.Item, error)
	ListItems(ctx context.Context, sortBy store.SortBy, sortOrder store.SortOrder) ([]*model.Item, error)
	GetReservation(ctx context.Context, id string) (*model.Reservation, error)
	ListReservationsByUser(ctx context.Context, userID string, status *model.Status) ([]*model.Reservation, error)
	AdjustStock(ctx context.Context, itemID string, delta int64) (*model.Item, error)
	Reserve(ctx context.Context, userID, itemID string, qty int64) (ReserveResult, error)
	Confirm(ctx context.Context, userID, reservationID string) (ConfirmResult, error)
	Cancel(ctx context.Context, userID, reservationID string) (CancelResult, error)
	Expire(ctx context.Context) (ExpireResult, error)
}

var _ API = (*Engine)(nil)

// Engine is the reservation state machine. It holds no in-process
// locks: every mutation is a single Store transaction, and the
// conditional decrement predicate inside that transaction is the only
// anti-oversell mechanism.
type Engine struct {
	store         store.Store
	clock         clock.Clock
	cache         *cache.ItemCache
	reservationTTL time.Duration
	newID         func() string
}

// New creates an Engine. ttl defaults to model.DefaultReservationTTL
// when zero.
func New(s store.Store, c clock.Clock, ic *cache.ItemCache, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = model.DefaultReservationTTL
	}
	return &Engine{
		store:          s,
		clock:          c,
		cache:          ic,
		reservationTTL: ttl,
		newID:          func() string { return "res_" + uuid.New().String() },
	}
}

// GetItem is a cache-aside read: cache hit short-circuits the store.
func (e *Engine) GetItem(ctx context.Context, id string) (*model.Item, error) {
	if it := e.cache.GetItem(id); it != nil {
		return it, nil
	}
	it, err := e.store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	e.cache.SetItem(it)
	return it, nil
}

// ListItems is a cache-aside read over the sorted item list.
func (e *Engine) ListItems(ctx context.Context, sortBy store.SortBy, sortOrder store.SortOrder) ([]*model.Item, error) {
	sortKey := string(sortBy) + ":" + string(sortOrder)
	if list := e.cache.GetItemsList(sortKey); list != nil {
		return list, nil
	}
	items, err := e.store.ListItems(ctx, sortBy, sortOrder)
	if err != nil {
		return nil, err
	}
	e.cache.SetItemsList(sortKey, items)
	return items, nil
}

func (e *Engine) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	return e.store.GetReservation(ctx, id)
}

func (e *Engine) ListReservationsByUser(ctx context.Context, userID string, status *model.Status) ([]*model.Reservation, error) {
	return e.store.ListReservationsByUser(ctx, userID, status)
}

// AdjustStock applies an administrative delta to an item's available
// quantity: initial stock plus the sum of admin adjustments.
func (e *Engine) AdjustStock(ctx context.Context, itemID string, delta int64) (*model.Item, error) {
	it, err := e.store.AdjustStock(ctx, itemID, delta)
	if err != nil {
		return nil, err
	}
	e.invalidateItem(itemID)
	return it, nil
}

func (e *Engine) invalidateItem(itemID string) {
	e.cache.InvalidateItem(itemID)
	e.cache.InvalidateItemsList()
}

// Reserve applies a qty-unit hold against an item, subject to the
// conditional decrement predicate.
func (e *Engine) Reserve(ctx context.Context, userID, itemID string, qty int64) (ReserveResult, error) {
	if qty < model.MinQty || qty > model.MaxQty {
		return ReserveResult{Code: CodeInvalidQuantity, MinQty: model.MinQty, MaxQty: model.MaxQty}, nil
	}

	now := e.clock.Now()
	var result ReserveResult

	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		item, err := tx.GetItem(ctx, itemID)
		if err == store.ErrNotFound {
			result = ReserveResult{Code: CodeNotFound}
			return nil
		}
		if err != nil {
			return err
		}

		matched, err := tx.DecrementAvailable(ctx, itemID, qty, now)
		if err != nil {
			return err
		}
		if !matched {
			result = ReserveResult{Code: CodeOutOfStock, Available: item.AvailableQty}
			return nil
		}

		res := &model.Reservation{
			ID:        e.newID(),
			UserID:    userID,
			ItemID:    itemID,
			Qty:       qty,
			Status:    model.StatusReserved,
			ExpiresAt: now.Add(e.reservationTTL),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertReservation(ctx, res); err != nil {
			return err
		}
		result = ReserveResult{Code: CodeOK, Reservation: res}
		return nil
	})
	if err != nil {
		return ReserveResult{}, fmt.Errorf("engine: reserve: %w", err)
	}

	if result.Code == CodeOK {
		e.invalidateItem(itemID)
	}
	return result, nil
}

// Confirm finalizes a reservation, including an inline transition to
// expired if it has already passed its deadline.
func (e *Engine) Confirm(ctx context.Context, userID, reservationID string) (ConfirmResult, error) {
	now := e.clock.Now()
	var result ConfirmResult
	var itemToInvalidate string

	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		res, err := tx.GetReservationForUser(ctx, reservationID, userID)
		if err == store.ErrNotFound {
			result = ConfirmResult{Code: CodeNotFound}
			return nil
		}
		if err != nil {
			return err
		}

		switch res.Status {
		case model.StatusConfirmed:
			result = ConfirmResult{Code: CodeAlreadyConfirmed, Reservation: res}
			return nil
		case model.StatusCancelled:
			result = ConfirmResult{Code: CodeCancelled, Reservation: res}
			return nil
		case model.StatusExpired:
			result = ConfirmResult{Code: CodeExpired, Reservation: res}
			return nil
		}

		if now.After(res.ExpiresAt) {
			if err := tx.IncrementAvailable(ctx, res.ItemID, res.Qty, now); err != nil {
				return err
			}
			if err := tx.UpdateReservationStatus(ctx, res.ID, model.StatusExpired, now); err != nil {
				return err
			}
			res.Status = model.StatusExpired
			res.UpdatedAt = now
			result = ConfirmResult{Code: CodeExpired, Reservation: res}
			itemToInvalidate = res.ItemID
			return nil
		}

		if err := tx.UpdateReservationStatus(ctx, res.ID, model.StatusConfirmed, now); err != nil {
			return err
		}
		res.Status = model.StatusConfirmed
		res.UpdatedAt = now
		result = ConfirmResult{Code: CodeOK, Reservation: res}
		itemToInvalidate = res.ItemID
		return nil
	})
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("engine: confirm: %w", err)
	}

	if itemToInvalidate != "" {
		e.invalidateItem(itemToInvalidate)
	}
	return result, nil
}

// Cancel releases a reservation's held stock back to the item. An
// already-expired reservation is treated as a terminal no-op read
// (CodeExpired) rather than risking a second refund or papering over
// the status with "cancelled" — see DESIGN.md for the rationale.
func (e *Engine) Cancel(ctx context.Context, userID, reservationID string) (CancelResult, error) {
	now := e.clock.Now()
	var result CancelResult
	var itemToInvalidate string

	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		res, err := tx.GetReservationForUser(ctx, reservationID, userID)
		if err == store.ErrNotFound {
			result = CancelResult{Code: CodeNotFound}
			return nil
		}
		if err != nil {
			return err
		}

		switch res.Status {
		case model.StatusCancelled:
			result = CancelResult{Code: CodeAlreadyCancelled, Reservation: res}
			return nil
		case model.StatusConfirmed:
			result = CancelResult{Code: CodeAlreadyConfirmed, Reservation: res}
			return nil
		case model.StatusExpired:
			result = CancelResult{Code: CodeExpired, Reservation: res}
			return nil
		}

		if err := tx.IncrementAvailable(ctx, res.ItemID, res.Qty, now); err != nil {
			return err
		}
		if err := tx.UpdateReservationStatus(ctx, res.ID, model.StatusCancelled, now); err != nil {
			return err
		}
		res.Status = model.StatusCancelled
		res.UpdatedAt = now
		result = CancelResult{Code: CodeOK, Reservation: res}
		itemToInvalidate = res.ItemID
		return nil
	})
	if err != nil {
		return CancelResult{}, fmt.Errorf("engine: cancel: %w", err)
	}

	if itemToInvalidate != "" {
		e.invalidateItem(itemToInvalidate)
	}
	return result, nil
}

// Expire batch-transitions every reserved-and-past-expiry reservation:
// its stock returns to the item and its status becomes expired, all
// inside one transaction. It is idempotent by construction
// (the status=reserved predicate guards repeated runs), so it is safe
// to invoke both at startup recovery and on every worker tick.
func (e *Engine) Expire(ctx context.Context) (ExpireResult, error) {
	now := e.clock.Now()
	var touchedItems map[string]struct{}
	count := 0

	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		expired, err := tx.SelectExpiredReservations(ctx, now)
		if err != nil {
			return err
		}
		touchedItems = make(map[string]struct{}, len(expired))
		for _, res := range expired {
			if err := tx.IncrementAvailable(ctx, res.ItemID, res.Qty, now); err != nil {
				return err
			}
			if err := tx.UpdateReservationStatus(ctx, res.ID, model.StatusExpired, now); err != nil {
				return err
			}
			touchedItems[res.ItemID] = struct{}{}
			count++
		}
		return nil
	})
	if err != nil {
		return ExpireResult{}, fmt.Errorf("engine: expire: %w", err)
	}

	for itemID := range touchedItems {
		e.invalidateItem(itemID)
	}
	return ExpireResult{Expired: count}, nil
}
