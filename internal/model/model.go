// Package model holds the plain data types shared by the store, the
// engine, and the HTTP layer: items, reservations, and idempotency
// records.
package model

import (
	"encoding/json"
	"time"
)

// Status is a reservation's position in the state machine. Reserved is
// the only non-terminal status; Confirmed, Cancelled, and Expired are
// absorbing.
type Status string

const (
	StatusReserved  Status = "reserved"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Item is an inventory record. AvailableQty is the single authority for
// remaining stock and must never go negative.
type Item struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	AvailableQty int64     `json:"availableQty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// itemWire is Item's wire shape: timestamps as integer epoch
// milliseconds instead of RFC3339 strings.
type itemWire struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	AvailableQty int64  `json:"availableQty"`
	CreatedAt    int64  `json:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt"`
}

func (it Item) MarshalJSON() ([]byte, error) {
	return json.Marshal(itemWire{
		ID:           it.ID,
		Name:         it.Name,
		AvailableQty: it.AvailableQty,
		CreatedAt:    it.CreatedAt.UnixMilli(),
		UpdatedAt:    it.UpdatedAt.UnixMilli(),
	})
}

func (it *Item) UnmarshalJSON(data []byte) error {
	var w itemWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	it.ID = w.ID
	it.Name = w.Name
	it.AvailableQty = w.AvailableQty
	it.CreatedAt = time.UnixMilli(w.CreatedAt).UTC()
	it.UpdatedAt = time.UnixMilli(w.UpdatedAt).UTC()
	return nil
}

// Reservation is a time-limited hold on qty units of one item by one
// user. ExpiresAt is only meaningful while Status is StatusReserved.
type Reservation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ItemID    string    `json:"itemId"`
	Qty       int64     `json:"qty"`
	Status    Status    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// reservationWire is Reservation's wire shape: timestamps as integer
// epoch milliseconds instead of RFC3339 strings.
type reservationWire struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	ItemID    string `json:"itemId"`
	Qty       int64  `json:"qty"`
	Status    Status `json:"status"`
	ExpiresAt int64  `json:"expiresAt"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

func (r Reservation) MarshalJSON() ([]byte, error) {
	return json.Marshal(reservationWire{
		ID:        r.ID,
		UserID:    r.UserID,
		ItemID:    r.ItemID,
		Qty:       r.Qty,
		Status:    r.Status,
		ExpiresAt: r.ExpiresAt.UnixMilli(),
		CreatedAt: r.CreatedAt.UnixMilli(),
		UpdatedAt: r.UpdatedAt.UnixMilli(),
	})
}

func (r *Reservation) UnmarshalJSON(data []byte) error {
	var w reservationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.ID = w.ID
	r.UserID = w.UserID
	r.ItemID = w.ItemID
	r.Qty = w.Qty
	r.Status = w.Status
	r.ExpiresAt = time.UnixMilli(w.ExpiresAt).UTC()
	r.CreatedAt = time.UnixMilli(w.CreatedAt).UTC()
	r.UpdatedAt = time.UnixMilli(w.UpdatedAt).UTC()
	return nil
}

// IdempotencyRecord is the cached outcome of a prior successful
// mutation, keyed by (Key, Route, UserID).
type IdempotencyRecord struct {
	Key            string
	Route          string
	UserID         string
	ResponseStatus int
	ResponseBody   []byte
	CreatedAt      time.Time
	TTL            time.Duration
}

// Expired reports whether the record is too old to serve.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return now.After(r.CreatedAt.Add(r.TTL))
}

const (
	MinQty = 1
	MaxQty = 5
)

// DefaultReservationTTL is how long a fresh reservation holds stock
// before it becomes eligible for expiration.
const DefaultReservationTTL = 10 * time.Minute

// DefaultIdempotencyTTL is how long an idempotency record is replayed
// before the janitor sweep is allowed to collect it.
const DefaultIdempotencyTTL = 24 * time.Hour
