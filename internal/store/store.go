// Package store is the authoritative transactional datastore: items,
// reservations, and idempotency records, behind atomic update
// primitives with conditional predicates and ACID transactions.
//
// The interface is split into a top-level Store (connection lifecycle,
// plain reads, idempotency bookkeeping) and a Tx (everything that must
// commit atomically with a conditional stock mutation), using a
// BeginTx/defer Rollback/Commit shape expressed as an interface so the
// engine never touches *sql.DB directly.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/timour/reservation-engine/internal/model"
)

// ErrNotFound is returned when an item, reservation, or idempotency
// record does not exist.
var ErrNotFound = errors.New("store: not found")

// SortBy / SortOrder enumerate the GET /items query parameters.
type SortBy string
type SortOrder string

const (
	SortByName         SortBy = "name"
	SortByAvailableQty SortBy = "availableQty"

	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Store is the top-level datastore handle.
type Store interface {
	// Ping verifies datastore reachability, used by the health endpoint.
	Ping(ctx context.Context) error
	Close() error

	GetItem(ctx context.Context, id string) (*model.Item, error)
	ListItems(ctx context.Context, sortBy SortBy, sortOrder SortOrder) ([]*model.Item, error)

	// AdjustStock performs a single, non-transactional administrative
	// stock adjustment. delta may be negative; the result is floored at
	// zero.
	AdjustStock(ctx context.Context, itemID string, delta int64) (*model.Item, error)

	// SeedItemIfMissing inserts an item only if no row with that id
	// exists yet, used for bootstrap seeding.
	SeedItemIfMissing(ctx context.Context, item *model.Item) error

	GetReservation(ctx context.Context, id string) (*model.Reservation, error)
	ListReservationsByUser(ctx context.Context, userID string, status *model.Status) ([]*model.Reservation, error)

	GetIdempotencyRecord(ctx context.Context, key, route, userID string) (*model.IdempotencyRecord, error)
	PutIdempotencyRecord(ctx context.Context, rec *model.IdempotencyRecord) error
	SweepIdempotencyRecords(ctx context.Context, now time.Time) (int, error)

	// WithTx runs fn inside a single ACID transaction; fn's error
	// triggers a rollback, nil triggers a commit.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx groups every operation that must commit atomically with a stock
// mutation: the conditional decrement/increment and the reservation
// row changes that depend on it.
type Tx interface {
	// GetItem reads the item's current row inside the transaction.
	GetItem(ctx context.Context, id string) (*model.Item, error)

	// DecrementAvailable applies `available_qty -= qty WHERE
	// available_qty >= qty` and reports whether the predicate matched
	// (the sole anti-oversell mechanism).
	DecrementAvailable(ctx context.Context, itemID string, qty int64, now time.Time) (matched bool, err error)

	// IncrementAvailable returns qty units to an item's available_qty
	// (cancel/expire stock-return path).
	IncrementAvailable(ctx context.Context, itemID string, qty int64, now time.Time) error

	InsertReservation(ctx context.Context, res *model.Reservation) error

	// GetReservationForUser loads a reservation scoped to its owner; a
	// mismatch is indistinguishable from absence to the caller.
	GetReservationForUser(ctx context.Context, id, userID string) (*model.Reservation, error)

	UpdateReservationStatus(ctx context.Context, id string, status model.Status, now time.Time) error

	// SelectExpiredReservations returns every reservation with
	// status=reserved and expiresAt < now, for the batch expire() pass.
	SelectExpiredReservations(ctx context.Context, now time.Time) ([]*model.Reservation, error)
}
