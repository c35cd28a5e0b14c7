package core_test

import (
	"context"
	"testing"

	"accounting-core/internal/core"
)

func TestAdjustStock_WeightedAverage(t *testing.T) {
	pool := setupTestDB(t)
	company := newTestCompany(t, pool, "Stock Co")
	ctx := context.Background()

	item := newTestItem(t, pool, company.ID, "Widget", true, "250.00")
	inventory := core.NewInventoryService(pool)

	move, err := inventory.AdjustStock(ctx, company.ID, core.AdjustmentInput{
		Date:      mustDay(t, "2026-04-10"),
		ItemID:    item.ID,
		Direction: "IN",
		Quantity:  mustDecimal(t, "10"),
		UnitCost:  mustDecimal(t, "100.00"),
	})
	if err != nil {
		t.Fatalf("IN adjustment failed: %v", err)
	}

	balance, err := inventory.GetBalance(ctx, company.ID, *company.DefaultLocationID, item.ID)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.QtyOnHand.Equal(mustDecimal(t, "10")) {
		t.Errorf("Expected qty 10, got %s", balance.QtyOnHand)
	}
	if !balance.AvgUnitCost.Equal(mustDecimal(t, "100")) {
		t.Errorf("Expected avg cost 100, got %s", balance.AvgUnitCost)
	}
	if !balance.InventoryValue.Equal(mustDecimal(t, "1000")) {
		t.Errorf("Expected value 1000, got %s", balance.InventoryValue)
	}

	// The adjustment carries its own balanced GL entry.
	var entries int
	if err := pool.QueryRow(ctx,
		"SELECT count(*) FROM journal_entries WHERE company_id = $1", company.ID,
	).Scan(&entries); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if entries != 1 {
		t.Errorf("Expected 1 journal entry for the adjustment, got %d", entries)
	}

	// The move links its entry without disturbing the adjustment reference.
	var refType string
	var refID int
	var entryID *int
	err = pool.QueryRow(ctx,
		"SELECT reference_type, reference_id, journal_entry_id FROM stock_moves WHERE id = $1",
		move.ID,
	).Scan(&refType, &refID, &entryID)
	if err != nil {
		t.Fatalf("Failed to reload move: %v", err)
	}
	if refType != core.RefAdjustment {
		t.Errorf("Expected reference type %s, got %s", core.RefAdjustment, refType)
	}
	if refID != 0 {
		t.Errorf("Expected adjustment reference id 0, got %d", refID)
	}
	if entryID == nil {
		t.Error("Adjustment move not linked to its journal entry")
	}
}

func TestAdjustStock_BackdatedInRecostsLaterOuts(t *testing.T) {
	pool := setupTestDB(t)
	company := newTestCompany(t, pool, "Backdate Co")
	ctx := context.Background()

	item := newTestItem(t, pool, company.ID, "Widget", true, "250.00")
	inventory := core.NewInventoryService(pool)
	locationID := *company.DefaultLocationID

	// Day 10: receive 10 @ 100.
	if _, err := inventory.AdjustStock(ctx, company.ID, core.AdjustmentInput{
		Date:      mustDay(t, "2026-04-10"),
		ItemID:    item.ID,
		Direction: "IN",
		Quantity:  mustDecimal(t, "10"),
		UnitCost:  mustDecimal(t, "100.00"),
	}); err != nil {
		t.Fatalf("First IN failed: %v", err)
	}

	// Day 15: issue 5, costed at the then-current average of 100.
	outMove, err := inventory.AdjustStock(ctx, company.ID, core.AdjustmentInput{
		Date:      mustDay(t, "2026-04-15"),
		ItemID:    item.ID,
		Direction: "OUT",
		Quantity:  mustDecimal(t, "5"),
	})
	if err != nil {
		t.Fatalf("OUT failed: %v", err)
	}
	if !outMove.UnitCostApplied.Equal(mustDecimal(t, "100")) {
		t.Fatalf("Expected OUT costed at 100, got %s", outMove.UnitCostApplied)
	}

	// Day 5, backdated: receive 10 @ 200. The replay reorders by date, so the
	// day-15 issue now sits on an average of (2000+1000)/20 = 150.
	if _, err := inventory.AdjustStock(ctx, company.ID, core.AdjustmentInput{
		Date:      mustDay(t, "2026-04-05"),
		ItemID:    item.ID,
		Direction: "IN",
		Quantity:  mustDecimal(t, "10"),
		UnitCost:  mustDecimal(t, "200.00"),
	}); err != nil {
		t.Fatalf("Backdated IN failed: %v", err)
	}

	var recostedUnit, recostedTotal string
	err = pool.QueryRow(ctx,
		"SELECT unit_cost_applied::text, total_cost_applied::text FROM stock_moves WHERE id = $1",
		outMove.ID,
	).Scan(&recostedUnit, &recostedTotal)
	if err != nil {
		t.Fatalf("Failed to reload OUT move: %v", err)
	}
	if !mustDecimal(t, recostedUnit).Equal(mustDecimal(t, "150")) {
		t.Errorf("Expected OUT recosted to 150, got %s", recostedUnit)
	}
	if !mustDecimal(t, recostedTotal).Equal(mustDecimal(t, "750")) {
		t.Errorf("Expected OUT total recosted to 750, got %s", recostedTotal)
	}

	balance, err := inventory.GetBalance(ctx, company.ID, locationID, item.ID)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.QtyOnHand.Equal(mustDecimal(t, "15")) {
		t.Errorf("Expected qty 15, got %s", balance.QtyOnHand)
	}
	if !balance.AvgUnitCost.Equal(mustDecimal(t, "150")) {
		t.Errorf("Expected avg cost 150, got %s", balance.AvgUnitCost)
	}
	if !balance.InventoryValue.Equal(mustDecimal(t, "2250")) {
		t.Errorf("Expected value 2250, got %s", balance.InventoryValue)
	}

	// Moves replay in (date, id) order regardless of insertion order.
	moves, err := inventory.ListMoves(ctx, company.ID, locationID, item.ID)
	if err != nil {
		t.Fatalf("ListMoves failed: %v", err)
	}
	if len(moves) != 3 {
		t.Fatalf("Expected 3 moves, got %d", len(moves))
	}
	if !moves[0].MoveDate.Equal(mustDay(t, "2026-04-05")) {
		t.Errorf("Expected the backdated move first, got %v", moves[0].MoveDate)
	}

	// The day-15 issue originally recognized 500, so the recalculation posts
	// a compensating entry for the 250 difference, dated at the source entry.
	inventoryID := systemAccountID(t, pool, company.ID, "1200")
	cogsID := systemAccountID(t, pool, company.ID, "5000")
	var compEntryID int
	var compDate string
	err = pool.QueryRow(ctx, `
		SELECT id, entry_date::text FROM journal_entries
		WHERE company_id = $1 AND description LIKE 'Cost adjustment%'
	`, company.ID).Scan(&compEntryID, &compDate)
	if err != nil {
		t.Fatalf("Failed to load compensating entry: %v", err)
	}
	if compDate != "2026-04-15" {
		t.Errorf("Expected compensating entry dated 2026-04-15, got %s", compDate)
	}
	var cogsDebit, inventoryCredit string
	err = pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(debit) FILTER (WHERE account_id = $2), 0)::text,
		       COALESCE(SUM(credit) FILTER (WHERE account_id = $3), 0)::text
		FROM journal_lines WHERE entry_id = $1
	`, compEntryID, cogsID, inventoryID).Scan(&cogsDebit, &inventoryCredit)
	if err != nil {
		t.Fatalf("Failed to load compensating lines: %v", err)
	}
	if !mustDecimal(t, cogsDebit).Equal(mustDecimal(t, "250")) {
		t.Errorf("Expected 250 debited to cost of goods, got %s", cogsDebit)
	}
	if !mustDecimal(t, inventoryCredit).Equal(mustDecimal(t, "250")) {
		t.Errorf("Expected 250 credited to inventory, got %s", inventoryCredit)
	}
}

func TestAdjustStock_Rejections(t *testing.T) {
	pool := setupTestDB(t)
	company := newTestCompany(t, pool, "Reject Co")
	ctx := context.Background()

	tracked := newTestItem(t, pool, company.ID, "Widget", true, "50.00")
	service := newTestItem(t, pool, company.ID, "Consulting", false, "100.00")
	inventory := core.NewInventoryService(pool)

	// Non-tracked items never move stock.
	_, err := inventory.AdjustStock(ctx, company.ID, core.AdjustmentInput{
		Date:      mustDay(t, "2026-04-10"),
		ItemID:    service.ID,
		Direction: "IN",
		Quantity:  mustDecimal(t, "1"),
		UnitCost:  mustDecimal(t, "10"),
	})
	if !core.IsKind(err, core.KindState) {
		t.Fatalf("Expected STATE for non-tracked item, got %v", err)
	}

	_, err = inventory.AdjustStock(ctx, company.ID, core.AdjustmentInput{
		Date:      mustDay(t, "2026-04-10"),
		ItemID:    tracked.ID,
		Direction: "SIDEWAYS",
		Quantity:  mustDecimal(t, "1"),
	})
	if !core.IsKind(err, core.KindValidation) {
		t.Fatalf("Expected VALIDATION for bad direction, got %v", err)
	}

	// A closed period blocks the adjustment's journal entry.
	if err := core.NewPeriodService(pool).ClosePeriod(ctx, company.ID, mustDay(t, "2026-04-30")); err != nil {
		t.Fatalf("ClosePeriod failed: %v", err)
	}
	_, err = inventory.AdjustStock(ctx, company.ID, core.AdjustmentInput{
		Date:      mustDay(t, "2026-04-20"),
		ItemID:    tracked.ID,
		Direction: "IN",
		Quantity:  mustDecimal(t, "1"),
		UnitCost:  mustDecimal(t, "10"),
	})
	if !core.IsKind(err, core.KindPeriodClosed) {
		t.Fatalf("Expected PERIOD_CLOSED, got %v", err)
	}
}
