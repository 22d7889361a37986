package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/timour/reservation-engine/internal/model"
	"github.com/timour/reservation-engine/internal/store"
)

func openTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func mustSeed(t *testing.T, st store.Store, id string, qty int64) {
	t.Helper()
	now := time.Now()
	if err := st.SeedItemIfMissing(context.Background(), &model.Item{
		ID: id, Name: id, AvailableQty: qty, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestOpenAppliesSchemaAndPing(t *testing.T) {
	st := openTestStore(t)
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestSeedItemIfMissingIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mustSeed(t, st, "item_1", 5)
	mustSeed(t, st, "item_1", 999) // second seed must not overwrite

	item, err := st.GetItem(ctx, "item_1")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.AvailableQty != 5 {
		t.Fatalf("expected seed to be idempotent, availableQty=%d", item.AvailableQty)
	}
}

func TestGetItemNotFound(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.GetItem(context.Background(), "missing"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListItemsSortOrders(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mustSeed(t, st, "b_item", 10)
	mustSeed(t, st, "a_item", 1)
	mustSeed(t, st, "c_item", 5)

	byName, err := st.ListItems(ctx, store.SortByName, store.SortAsc)
	if err != nil {
		t.Fatalf("list by name: %v", err)
	}
	if len(byName) != 3 || byName[0].ID != "a_item" || byName[2].ID != "c_item" {
		t.Fatalf("unexpected name-sorted order: %+v", byName)
	}

	byQtyDesc, err := st.ListItems(ctx, store.SortByAvailableQty, store.SortDesc)
	if err != nil {
		t.Fatalf("list by qty desc: %v", err)
	}
	if byQtyDesc[0].ID != "b_item" || byQtyDesc[len(byQtyDesc)-1].ID != "a_item" {
		t.Fatalf("unexpected qty-sorted order: %+v", byQtyDesc)
	}
}

// DecrementAvailable is the anti-oversell predicate: it must refuse to
// go negative and report matched=false instead.
func TestDecrementAvailableRefusesOversell(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mustSeed(t, st, "item_1", 2)

	var matched bool
	err := st.WithTx(ctx, func(tx store.Tx) error {
		var err error
		matched, err = tx.DecrementAvailable(ctx, "item_1", 3, time.Now())
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if matched {
		t.Fatalf("expected DecrementAvailable to refuse oversell")
	}

	item, _ := st.GetItem(ctx, "item_1")
	if item.AvailableQty != 2 {
		t.Fatalf("expected availableQty unchanged at 2, got %d", item.AvailableQty)
	}
}

func TestDecrementAndIncrementRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mustSeed(t, st, "item_1", 5)

	err := st.WithTx(ctx, func(tx store.Tx) error {
		matched, err := tx.DecrementAvailable(ctx, "item_1", 2, time.Now())
		if err != nil {
			return err
		}
		if !matched {
			t.Fatalf("expected decrement to match")
		}
		return tx.IncrementAvailable(ctx, "item_1", 2, time.Now())
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	item, _ := st.GetItem(ctx, "item_1")
	if item.AvailableQty != 5 {
		t.Fatalf("expected round-trip to restore availableQty to 5, got %d", item.AvailableQty)
	}
}

// A transaction's fn error must roll back every statement inside it,
// including the conditional decrement.
func TestWithTxRollsBackOnError(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mustSeed(t, st, "item_1", 5)

	errBoom := context.DeadlineExceeded
	err := st.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.DecrementAvailable(ctx, "item_1", 2, time.Now()); err != nil {
			return err
		}
		return errBoom
	})
	if err != errBoom {
		t.Fatalf("expected errBoom, got %v", err)
	}

	item, _ := st.GetItem(ctx, "item_1")
	if item.AvailableQty != 5 {
		t.Fatalf("expected rollback to leave availableQty at 5, got %d", item.AvailableQty)
	}
}

func TestGetReservationForUserScopesOwnership(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mustSeed(t, st, "item_1", 5)

	res := &model.Reservation{
		ID: "res_1", UserID: "owner", ItemID: "item_1", Qty: 1,
		Status: model.StatusReserved, ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := st.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertReservation(ctx, res)
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	err := st.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.GetReservationForUser(ctx, "res_1", "someone-else")
		return err
	})
	if err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound for ownership mismatch, got %v", err)
	}

	err = st.WithTx(ctx, func(tx store.Tx) error {
		r, err := tx.GetReservationForUser(ctx, "res_1", "owner")
		if err != nil {
			return err
		}
		if r.ID != "res_1" {
			t.Fatalf("expected res_1, got %s", r.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestSelectExpiredReservations(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mustSeed(t, st, "item_1", 5)

	now := time.Now()
	past := &model.Reservation{
		ID: "res_past", UserID: "u", ItemID: "item_1", Qty: 1,
		Status: model.StatusReserved, ExpiresAt: now.Add(-time.Minute),
		CreatedAt: now, UpdatedAt: now,
	}
	future := &model.Reservation{
		ID: "res_future", UserID: "u", ItemID: "item_1", Qty: 1,
		Status: model.StatusReserved, ExpiresAt: now.Add(time.Hour),
		CreatedAt: now, UpdatedAt: now,
	}
	if err := st.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertReservation(ctx, past); err != nil {
			return err
		}
		return tx.InsertReservation(ctx, future)
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var expired []*model.Reservation
	err := st.WithTx(ctx, func(tx store.Tx) error {
		var err error
		expired, err = tx.SelectExpiredReservations(ctx, now)
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "res_past" {
		t.Fatalf("expected only res_past to be expired, got %+v", expired)
	}
}

func TestIdempotencyRecordCRUDAndSweep(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rec := &model.IdempotencyRecord{
		Key: "k1", Route: "POST /api/v1/reserve", UserID: "u1",
		ResponseStatus: 201, ResponseBody: []byte(`{"ok":true}`),
		CreatedAt: time.Now(), TTL: 24 * time.Hour,
	}
	if err := st.PutIdempotencyRecord(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := st.GetIdempotencyRecord(ctx, "k1", "POST /api/v1/reserve", "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.ResponseBody) != `{"ok":true}` || got.ResponseStatus != 201 {
		t.Fatalf("unexpected record: %+v", got)
	}

	// Second put with the same composite key must not overwrite.
	rec2 := *rec
	rec2.ResponseStatus = 500
	if err := st.PutIdempotencyRecord(ctx, &rec2); err != nil {
		t.Fatalf("put2: %v", err)
	}
	got2, _ := st.GetIdempotencyRecord(ctx, "k1", "POST /api/v1/reserve", "u1")
	if got2.ResponseStatus != 201 {
		t.Fatalf("expected first write to win, got status %d", got2.ResponseStatus)
	}

	stale := &model.IdempotencyRecord{
		Key: "k2", Route: "POST /api/v1/reserve", UserID: "u1",
		ResponseStatus: 201, ResponseBody: []byte(`{}`),
		CreatedAt: time.Now().Add(-48 * time.Hour), TTL: 24 * time.Hour,
	}
	if err := st.PutIdempotencyRecord(ctx, stale); err != nil {
		t.Fatalf("put stale: %v", err)
	}

	n, err := st.SweepIdempotencyRecords(ctx, time.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept record, got %d", n)
	}
	if _, err := st.GetIdempotencyRecord(ctx, "k1", "POST /api/v1/reserve", "u1"); err != nil {
		t.Fatalf("expected fresh record to survive sweep, got %v", err)
	}
}

func TestAdjustStockFloorsAtZero(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mustSeed(t, st, "item_1", 3)

	item, err := st.AdjustStock(ctx, "item_1", -10)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if item.AvailableQty != 0 {
		t.Fatalf("expected floor at 0, got %d", item.AvailableQty)
	}
}

func TestAdjustStockNotFound(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.AdjustStock(context.Background(), "missing", 5); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
