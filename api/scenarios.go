/*
scenarios.go - demo data seeding

PURPOSE:
  Loads a small, self-consistent demo dataset (members, products, a
  week of classes with prices, starter grants) so the API is explorable
  immediately after `go run ./cmd/server`. Dev convenience only; seeding
  is idempotent upserts keyed on fixed ids, safe to call repeatedly.

ENDPOINT:
  POST /api/scenarios/seed
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/studio-engine/catalog"
	"github.com/warp/studio-engine/registry"
)

// SeedDemo loads the demo dataset.
func (h *Handler) SeedDemo(w http.ResponseWriter, r *http.Request) {
	if err := h.seed(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed demo data", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "seeded"})
}

func (h *Handler) seed(ctx context.Context) error {
	members := []catalog.Member{
		{ID: "demo-ana", Name: "Ana Moreira", Email: "ana@example.com"},
		{ID: "demo-ben", Name: "Ben Okafor", Email: "ben@example.com"},
		{ID: "demo-cleo", Name: "Cleo Tanaka", Email: "cleo@example.com"},
	}
	for _, m := range members {
		if err := h.Members.SaveMember(ctx, m); err != nil {
			return err
		}
	}

	ten := 10
	ninety := 90
	products := []catalog.Product{
		{ID: "demo-pack-10", Name: "10-Class Pack", LinkID: "link-pack-10", Price: decimal.NewFromInt(120), CreditsTotal: &ten, ExpirationDays: &ninety},
		{ID: "demo-unlimited", Name: "Unlimited Monthly", LinkID: "link-unlimited", Price: decimal.NewFromInt(150)},
	}
	for _, p := range products {
		if err := h.Products.SaveProduct(ctx, p); err != nil {
			return err
		}
	}

	// One class per day for the coming week, small capacities so the
	// waitlist is easy to exercise.
	now := h.Clock.Now()
	names := []string{"Vinyasa Flow", "Spin 45", "Mat Pilates", "Power Yoga", "HIIT Circuit", "Barre Basics", "Yin & Stretch"}
	for i, name := range names {
		start := now.Add(time.Duration(i+1) * 24 * time.Hour).Truncate(time.Hour)
		c := registry.Class{
			ID:        fmt.Sprintf("demo-class-%d", i+1),
			Name:      name,
			StartAt:   start,
			EndAt:     start.Add(time.Hour),
			Capacity:  2 + i%3,
			Status:    registry.ClassScheduled,
			CreatedAt: now,
		}
		if err := h.Classes.SaveClass(ctx, c); err != nil {
			return err
		}
		if err := h.Prices.SetClassPrice(ctx, c.ID, 1+i%2); err != nil {
			return err
		}
	}

	// Starter credits: a fresh grant per seeding is acceptable for demo
	// use; members just get more room to play.
	five := 5
	for _, m := range members {
		if _, err := h.Ledger.Grant(ctx, m.ID, &five, nil, "demo-seed"); err != nil {
			return err
		}
	}
	return nil
}
