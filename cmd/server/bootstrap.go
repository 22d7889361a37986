package main

import (
	"context"
	"time"

	"github.com/timour/reservation-engine/internal/model"
	"github.com/timour/reservation-engine/internal/store"
)

// seedDemoItems ensures a handful of catalog items exist on a fresh
// datastore, using the store's ON-CONFLICT-DO-NOTHING seed primitive so
// an existing row with the same id is left untouched.
func seedDemoItems(ctx context.Context, st store.Store) error {
	now := time.Now()
	seeds := []*model.Item{
		{ID: "item_1", Name: "Widget", AvailableQty: 10, CreatedAt: now, UpdatedAt: now},
		{ID: "item_2", Name: "Gadget", AvailableQty: 5, CreatedAt: now, UpdatedAt: now},
		{ID: "item_3", Name: "Gizmo", AvailableQty: 0, CreatedAt: now, UpdatedAt: now},
	}
	for _, item := range seeds {
		if err := st.SeedItemIfMissing(ctx, item); err != nil {
			return err
		}
	}
	return nil
}
