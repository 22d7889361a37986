// Package engine is the pure business-logic surface of the reservation
// system: reserve, confirm, cancel, expire, and the read queries. It
// sits above the Store and emits invalidation signals to the Cache, and
// never holds in-process locks — correctness comes entirely from the
// Store's conditional-update predicate.
package engine

import "github.com/timour/reservation-engine/internal/model"

// Code tags the outcome of an engine operation. Engine methods never
// use error returns for expected business conditions; error returns are
// reserved for unexpected datastore/internal failures.
type Code string

const (
	CodeOK                Code = "OK"
	CodeNotFound          Code = "NOT_FOUND"
	CodeOutOfStock        Code = "OUT_OF_STOCK"
	CodeInvalidQuantity   Code = "INVALID_QUANTITY"
	CodeAlreadyConfirmed  Code = "ALREADY_CONFIRMED"
	CodeAlreadyCancelled  Code = "ALREADY_CANCELLED"
	CodeCancelled         Code = "CANCELLED"
	CodeExpired           Code = "EXPIRED"
)

// ReserveResult is the tagged outcome of Reserve.
type ReserveResult struct {
	Code        Code
	Reservation *model.Reservation
	Available   int64 // set on CodeOutOfStock
	MinQty      int64 // set on CodeInvalidQuantity
	MaxQty      int64 // set on CodeInvalidQuantity
}

// ConfirmResult is the tagged outcome of Confirm.
type ConfirmResult struct {
	Code        Code
	Reservation *model.Reservation
}

// CancelResult is the tagged outcome of Cancel.
type CancelResult struct {
	Code        Code
	Reservation *model.Reservation
}

// ExpireResult is the tagged outcome of a batch Expire pass.
type ExpireResult struct {
	Expired int
}
