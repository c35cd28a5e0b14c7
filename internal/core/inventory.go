package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"accounting-core/internal/money"
)

// Stock move reference types. Void-origin moves carry the Void suffix so the
// replay knows their costs are frozen.
const (
	RefInvoice     = "Invoice"
	RefInvoiceVoid = "InvoiceVoid"
	RefCreditNote  = "CreditNote"
	RefBill        = "PurchaseBill"
	RefBillVoid    = "PurchaseBillVoid"
	RefAdjustment  = "Adjustment"
	RefPosReceipt  = "PosReceipt"
	RefPosRefund   = "PosRefund"
)

// StockMove is one append-only inventory movement. Costs on OUT moves are
// applied weighted-average costs and may be rewritten by a forward
// recalculation after a backdated inbound move.
type StockMove struct {
	ID               int             `json:"id"`
	CompanyID        int             `json:"company_id"`
	MoveDate         time.Time       `json:"move_date"`
	LocationID       int             `json:"location_id"`
	ItemID           int             `json:"item_id"`
	Direction        string          `json:"direction"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitCostApplied  decimal.Decimal `json:"unit_cost_applied"`
	TotalCostApplied decimal.Decimal `json:"total_cost_applied"`
	ReferenceType    string          `json:"reference_type"`
	ReferenceID      int             `json:"reference_id"`
	JournalEntryID   *int            `json:"journal_entry_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// StockBalance is the current WAC position of one (location, item).
type StockBalance struct {
	CompanyID      int             `json:"company_id"`
	LocationID     int             `json:"location_id"`
	ItemID         int             `json:"item_id"`
	QtyOnHand      decimal.Decimal `json:"qty_on_hand"`
	AvgUnitCost    decimal.Decimal `json:"avg_unit_cost"`
	InventoryValue decimal.Decimal `json:"inventory_value"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// MoveInput describes a stock move before costs are applied. UnitCost is
// required for IN moves and void-origin moves; OUT moves take the running
// average.
type MoveInput struct {
	Date           time.Time
	LocationID     int
	ItemID         int
	Direction      string
	Quantity       decimal.Decimal
	UnitCost       decimal.Decimal
	ReferenceType  string
	ReferenceID    int
	JournalEntryID *int
}

// AdjustmentInput is a direct stock correction outside any document flow.
type AdjustmentInput struct {
	Date             time.Time       `json:"date"`
	LocationID       *int            `json:"location_id"`
	ItemID           int             `json:"item_id"`
	Direction        string          `json:"direction"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	OffsetAccountID  *int            `json:"offset_account_id"`
	Description      string          `json:"description"`
}

// InventoryService manages stock moves, balances, and the WAC recalculation.
type InventoryService interface {
	AdjustStock(ctx context.Context, companyID int, in AdjustmentInput) (*StockMove, error)
	GetBalance(ctx context.Context, companyID, locationID, itemID int) (*StockBalance, error)
	// ListBalances returns stock positions for a tenant; locationID 0 means
	// all locations.
	ListBalances(ctx context.Context, companyID, locationID int) ([]StockBalance, error)
	ListMoves(ctx context.Context, companyID, locationID, itemID int) ([]StockMove, error)
	// Recalculate replays WAC forward from a date, rewriting OUT costs and
	// posting compensating cost-of-goods entries where totals changed.
	Recalculate(ctx context.Context, companyID, locationID, itemID int, from time.Time) error
}

type inventoryService struct {
	pool *pgxpool.Pool
}

func NewInventoryService(pool *pgxpool.Pool) InventoryService {
	return &inventoryService{pool: pool}
}

func (s *inventoryService) AdjustStock(ctx context.Context, companyID int, in AdjustmentInput) (*StockMove, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	move, err := AdjustStockTx(ctx, tx, companyID, in)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit adjustment: %w", err)
	}
	return move, nil
}

// AdjustStockTx records a manual stock adjustment with its offsetting journal
// entry inside the caller's transaction.
func AdjustStockTx(ctx context.Context, tx pgx.Tx, companyID int, in AdjustmentInput) (*StockMove, error) {
	if in.Direction != "IN" && in.Direction != "OUT" {
		return nil, E(KindValidation, "adjustment direction must be IN or OUT")
	}
	if !in.Quantity.IsPositive() {
		return nil, E(KindValidation, "adjustment quantity must be positive")
	}
	if in.Direction == "IN" && in.UnitCost.IsNegative() {
		return nil, E(KindValidation, "adjustment unit cost must not be negative")
	}

	item, err := getItemQ(ctx, tx, companyID, in.ItemID)
	if err != nil {
		return nil, err
	}
	if !item.TrackInventory {
		return nil, E(KindState, "item %q does not track inventory", item.Name)
	}
	locationID, err := ResolveLocationTx(ctx, tx, companyID, in.LocationID, item)
	if err != nil {
		return nil, err
	}

	move, backdated, err := ApplyMoveTx(ctx, tx, companyID, MoveInput{
		Date:          in.Date,
		LocationID:    locationID,
		ItemID:        in.ItemID,
		Direction:     in.Direction,
		Quantity:      in.Quantity,
		UnitCost:      in.UnitCost,
		ReferenceType: RefAdjustment,
		ReferenceID:   0,
	})
	if err != nil {
		return nil, err
	}

	offsetID := 0
	if in.OffsetAccountID != nil {
		offsetID = *in.OffsetAccountID
	} else {
		offsetID, err = EnsureSystemAccountTx(ctx, tx, companyID, SysExpense)
		if err != nil {
			return nil, err
		}
	}
	inventoryID, err := EnsureSystemAccountTx(ctx, tx, companyID, SysInventory)
	if err != nil {
		return nil, err
	}

	desc := in.Description
	if desc == "" {
		desc = fmt.Sprintf("Stock adjustment %s %s x %s", in.Direction, in.Quantity.String(), item.Name)
	}
	var lines []LineInput
	if in.Direction == "IN" {
		lines = []LineInput{
			{AccountID: inventoryID, Debit: move.TotalCostApplied},
			{AccountID: offsetID, Credit: move.TotalCostApplied},
		}
	} else {
		lines = []LineInput{
			{AccountID: offsetID, Debit: move.TotalCostApplied},
			{AccountID: inventoryID, Credit: move.TotalCostApplied},
		}
	}
	if move.TotalCostApplied.IsPositive() {
		entry, err := PostJournalEntry(ctx, tx, companyID, PostingInput{
			Date:                  in.Date,
			Description:           desc,
			LocationID:            &locationID,
			Lines:                 lines,
			SkipAccountValidation: in.OffsetAccountID == nil,
		})
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx,
			"UPDATE stock_moves SET journal_entry_id = $2 WHERE id = $1",
			move.ID, entry.ID,
		); err != nil {
			return nil, fmt.Errorf("failed to link adjustment entry: %w", err)
		}
		move.JournalEntryID = &entry.ID
		if in.Direction == "OUT" {
			// Anchor the recognized cost so later recalculations compensate
			// only for the difference.
			if _, err := tx.Exec(ctx, `
				INSERT INTO journal_entry_inventory_valuations (company_id, source_journal_entry_id, last_computed_cogs)
				VALUES ($1, $2, $3)
			`, companyID, entry.ID, move.TotalCostApplied); err != nil {
				return nil, fmt.Errorf("failed to record recognized cost: %w", err)
			}
		}
	} else if err := assertPeriodOpenTx(ctx, tx, companyID, in.Date); err != nil {
		// zero-cost moves still respect the period guard
		return nil, err
	}

	if backdated {
		if err := recalcForwardTx(ctx, tx, companyID, locationID, in.ItemID, in.Date); err != nil {
			return nil, err
		}
	}
	return move, nil
}

func (s *inventoryService) GetBalance(ctx context.Context, companyID, locationID, itemID int) (*StockBalance, error) {
	var b StockBalance
	err := s.pool.QueryRow(ctx, `
		SELECT company_id, location_id, item_id, qty_on_hand, avg_unit_cost, inventory_value, updated_at
		FROM stock_balances
		WHERE company_id = $1 AND location_id = $2 AND item_id = $3
	`, companyID, locationID, itemID).Scan(
		&b.CompanyID, &b.LocationID, &b.ItemID, &b.QtyOnHand, &b.AvgUnitCost, &b.InventoryValue, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &StockBalance{CompanyID: companyID, LocationID: locationID, ItemID: itemID}, nil
		}
		return nil, fmt.Errorf("failed to fetch stock balance: %w", err)
	}
	return &b, nil
}

func (s *inventoryService) ListBalances(ctx context.Context, companyID, locationID int) ([]StockBalance, error) {
	query := `
		SELECT company_id, location_id, item_id, qty_on_hand, avg_unit_cost, inventory_value, updated_at
		FROM stock_balances
		WHERE company_id = $1
		ORDER BY location_id, item_id`
	args := []any{companyID}
	if locationID > 0 {
		query = `
		SELECT company_id, location_id, item_id, qty_on_hand, avg_unit_cost, inventory_value, updated_at
		FROM stock_balances
		WHERE company_id = $1 AND location_id = $2
		ORDER BY item_id`
		args = append(args, locationID)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock balances: %w", err)
	}
	defer rows.Close()

	var out []StockBalance
	for rows.Next() {
		var b StockBalance
		if err := rows.Scan(&b.CompanyID, &b.LocationID, &b.ItemID,
			&b.QtyOnHand, &b.AvgUnitCost, &b.InventoryValue, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock balance: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *inventoryService) ListMoves(ctx context.Context, companyID, locationID, itemID int) ([]StockMove, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, move_date, location_id, item_id, direction, quantity,
		       unit_cost_applied, total_cost_applied, reference_type, reference_id, journal_entry_id, created_at
		FROM stock_moves
		WHERE company_id = $1 AND location_id = $2 AND item_id = $3
		ORDER BY move_date, id
	`, companyID, locationID, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock moves: %w", err)
	}
	defer rows.Close()

	var out []StockMove
	for rows.Next() {
		var m StockMove
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.MoveDate, &m.LocationID, &m.ItemID, &m.Direction,
			&m.Quantity, &m.UnitCostApplied, &m.TotalCostApplied, &m.ReferenceType, &m.ReferenceID,
			&m.JournalEntryID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock move: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *inventoryService) Recalculate(ctx context.Context, companyID, locationID, itemID int, from time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := recalcForwardTx(ctx, tx, companyID, locationID, itemID, from); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit recalculation: %w", err)
	}
	return nil
}

// ApplyMoveTx locks the stock balance, applies the WAC step, inserts the move
// with its settled costs, and updates the balance. The backdated result is
// true when later-dated moves already exist for this (location, item), in
// which case the caller must run a forward recalculation.
func ApplyMoveTx(ctx context.Context, tx pgx.Tx, companyID int, in MoveInput) (*StockMove, bool, error) {
	day := money.Day(in.Date)

	// Upsert-then-lock serializes concurrent movers of the same position.
	if _, err := tx.Exec(ctx, `
		INSERT INTO stock_balances (company_id, location_id, item_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (company_id, location_id, item_id) DO NOTHING
	`, companyID, in.LocationID, in.ItemID); err != nil {
		return nil, false, fmt.Errorf("failed to init stock balance: %w", err)
	}
	var state WACState
	err := tx.QueryRow(ctx, `
		SELECT qty_on_hand, avg_unit_cost, inventory_value
		FROM stock_balances
		WHERE company_id = $1 AND location_id = $2 AND item_id = $3
		FOR UPDATE
	`, companyID, in.LocationID, in.ItemID).Scan(&state.QtyOnHand, &state.AvgCost, &state.InventoryValue)
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock stock balance: %w", err)
	}

	var unitCost, totalCost decimal.Decimal
	switch {
	case in.Direction == "IN":
		unitCost = money.Round6(in.UnitCost)
		state, totalCost = state.ApplyIn(in.Quantity, unitCost)
	case isVoidMove(in.ReferenceType):
		unitCost = money.Round6(in.UnitCost)
		state, totalCost = state.applyOutFrozen(in.Quantity, unitCost)
	default:
		state, unitCost, totalCost = state.ApplyOut(in.Quantity)
	}

	move := &StockMove{
		CompanyID:        companyID,
		MoveDate:         day,
		LocationID:       in.LocationID,
		ItemID:           in.ItemID,
		Direction:        in.Direction,
		Quantity:         in.Quantity,
		UnitCostApplied:  unitCost,
		TotalCostApplied: totalCost,
		ReferenceType:    in.ReferenceType,
		ReferenceID:      in.ReferenceID,
		JournalEntryID:   in.JournalEntryID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO stock_moves
			(company_id, move_date, location_id, item_id, direction, quantity,
			 unit_cost_applied, total_cost_applied, reference_type, reference_id, journal_entry_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`, companyID, day, in.LocationID, in.ItemID, in.Direction, in.Quantity,
		unitCost, totalCost, in.ReferenceType, in.ReferenceID, in.JournalEntryID).
		Scan(&move.ID, &move.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert stock move: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE stock_balances
		SET qty_on_hand = $4, avg_unit_cost = $5, inventory_value = $6, updated_at = NOW()
		WHERE company_id = $1 AND location_id = $2 AND item_id = $3
	`, companyID, in.LocationID, in.ItemID,
		state.QtyOnHand, state.AvgCost, state.InventoryValue); err != nil {
		return nil, false, fmt.Errorf("failed to update stock balance: %w", err)
	}

	var backdated bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM stock_moves
			WHERE company_id = $1 AND location_id = $2 AND item_id = $3
			  AND move_date > $4 AND id <> $5
		)
	`, companyID, in.LocationID, in.ItemID, day, move.ID).Scan(&backdated)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check for later moves: %w", err)
	}
	return move, backdated, nil
}

// recalcForwardTx replays WAC from a date for one (location, item). The start
// is clamped to the first open day so closed history is never rewritten.
// Changed OUT moves get their applied costs rewritten and, per source journal
// entry, a compensating cost entry is posted for the difference between the
// recognized and the recomputed cost of goods. Compensating entries falling
// in a closed period are suppressed and logged; the recognized anchor is left
// untouched, so the outstanding difference surfaces again only when a later
// recalculation changes that entry's costs once more.
func recalcForwardTx(ctx context.Context, tx pgx.Tx, companyID, locationID, itemID int, from time.Time) error {
	log := zerolog.Ctx(ctx)

	start, err := clampToOpenPeriod(ctx, tx, companyID, from)
	if err != nil {
		return err
	}

	// Baseline from the frozen stored costs of everything before the start.
	var baseline WACState
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN direction = 'IN' THEN quantity ELSE -quantity END), 0),
		       COALESCE(SUM(CASE WHEN direction = 'IN' THEN total_cost_applied ELSE -total_cost_applied END), 0)
		FROM stock_moves
		WHERE company_id = $1 AND location_id = $2 AND item_id = $3 AND move_date < $4
	`, companyID, locationID, itemID, start).Scan(&baseline.QtyOnHand, &baseline.InventoryValue)
	if err != nil {
		return fmt.Errorf("failed to compute replay baseline: %w", err)
	}
	if baseline.QtyOnHand.IsPositive() {
		baseline.AvgCost = money.Round6(baseline.InventoryValue.Div(baseline.QtyOnHand))
	}

	rows, err := tx.Query(ctx, `
		SELECT id, direction, quantity, unit_cost_applied, total_cost_applied, reference_type, journal_entry_id
		FROM stock_moves
		WHERE company_id = $1 AND location_id = $2 AND item_id = $3 AND move_date >= $4
		ORDER BY move_date, id
		FOR UPDATE
	`, companyID, locationID, itemID, start)
	if err != nil {
		return fmt.Errorf("failed to load replay moves: %w", err)
	}
	var moves []ReplayMove
	entryOf := map[int]*int{}
	for rows.Next() {
		var m ReplayMove
		var entryID *int
		if err := rows.Scan(&m.ID, &m.Direction, &m.Quantity, &m.UnitCost, &m.TotalCost, &m.ReferenceType, &entryID); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan replay move: %w", err)
		}
		moves = append(moves, m)
		entryOf[m.ID] = entryID
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("replay iteration error: %w", err)
	}

	final, results := ReplayWAC(baseline, moves)

	affectedEntries := map[int]bool{}
	for i, r := range results {
		if !r.Changed {
			continue
		}
		if _, err := tx.Exec(ctx,
			"UPDATE stock_moves SET unit_cost_applied = $2, total_cost_applied = $3 WHERE id = $1",
			r.MoveID, r.UnitCost, r.TotalCost,
		); err != nil {
			return fmt.Errorf("failed to rewrite move %d: %w", r.MoveID, err)
		}
		if moves[i].Direction == "OUT" && !isVoidMove(moves[i].ReferenceType) {
			if entryID := entryOf[r.MoveID]; entryID != nil {
				affectedEntries[*entryID] = true
			}
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE stock_balances
		SET qty_on_hand = $4, avg_unit_cost = $5, inventory_value = $6, updated_at = NOW()
		WHERE company_id = $1 AND location_id = $2 AND item_id = $3
	`, companyID, locationID, itemID,
		final.QtyOnHand, final.AvgCost, final.InventoryValue); err != nil {
		return fmt.Errorf("failed to update stock balance after replay: %w", err)
	}

	if len(affectedEntries) == 0 {
		return nil
	}

	company, err := GetCompanyQ(ctx, tx, companyID)
	if err != nil {
		return err
	}
	if company.InventoryAccountID == nil || company.COGSAccountID == nil {
		return E(KindState, "company %d is missing inventory or cost accounts", companyID)
	}

	closed, err := closedThroughQ(ctx, tx, companyID)
	if err != nil {
		return err
	}

	for entryID := range affectedEntries {
		// Recomputed cost of goods for this source entry across all its moves.
		var computed decimal.Decimal
		err := tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(total_cost_applied), 0)
			FROM stock_moves
			WHERE company_id = $1 AND journal_entry_id = $2 AND direction = 'OUT'
		`, companyID, entryID).Scan(&computed)
		if err != nil {
			return fmt.Errorf("failed to sum cost for entry %d: %w", entryID, err)
		}

		var recognized decimal.Decimal
		var entryDate time.Time
		err = tx.QueryRow(ctx, `
			SELECT COALESCE(v.last_computed_cogs, 0), e.entry_date
			FROM journal_entries e
			LEFT JOIN journal_entry_inventory_valuations v
			  ON v.company_id = e.company_id AND v.source_journal_entry_id = e.id
			WHERE e.id = $1 AND e.company_id = $2
		`, entryID, companyID).Scan(&recognized, &entryDate)
		if err != nil {
			return fmt.Errorf("failed to read recognized cost for entry %d: %w", entryID, err)
		}

		delta := money.Round2(computed.Sub(recognized))
		if delta.IsZero() {
			continue
		}
		if closed != nil && !money.Day(entryDate).After(money.Day(*closed)) {
			log.Warn().
				Int("company_id", companyID).
				Int("source_entry_id", entryID).
				Str("delta", delta.StringFixed(2)).
				Msg("cost adjustment suppressed: source entry is in a closed period")
			continue
		}

		var lines []LineInput
		if delta.IsPositive() {
			lines = []LineInput{
				{AccountID: *company.COGSAccountID, Debit: delta},
				{AccountID: *company.InventoryAccountID, Credit: delta},
			}
		} else {
			lines = []LineInput{
				{AccountID: *company.InventoryAccountID, Debit: delta.Neg()},
				{AccountID: *company.COGSAccountID, Credit: delta.Neg()},
			}
		}
		corr := uuid.NewSHA1(uuid.NameSpaceOID,
			[]byte(fmt.Sprintf("inventory-recalc:%d:%d", companyID, entryID)))
		cause := uuid.NewSHA1(uuid.NameSpaceOID,
			[]byte(fmt.Sprintf("journal-entry:%d:%d", companyID, entryID)))
		if _, err := PostJournalEntry(ctx, tx, companyID, PostingInput{
			Date:                  entryDate,
			Description:           fmt.Sprintf("Cost adjustment for journal entry %d", entryID),
			LocationID:            &locationID,
			Lines:                 lines,
			SkipAccountValidation: true,
			CorrelationID:         corr,
			CausationID:           &cause,
		}); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO journal_entry_inventory_valuations (company_id, source_journal_entry_id, last_computed_cogs)
			VALUES ($1, $2, $3)
			ON CONFLICT (company_id, source_journal_entry_id)
			DO UPDATE SET last_computed_cogs = EXCLUDED.last_computed_cogs
		`, companyID, entryID, computed); err != nil {
			return fmt.Errorf("failed to advance recognized cost for entry %d: %w", entryID, err)
		}
	}
	return nil
}

// ResolveLocationTx picks the location for a movement: explicit request, then
// the item default, then the company default.
func ResolveLocationTx(ctx context.Context, q Querier, companyID int, requested *int, item *Item) (int, error) {
	if requested != nil {
		if err := assertLocationOwnedTx(ctx, q, companyID, *requested); err != nil {
			return 0, err
		}
		return *requested, nil
	}
	if item != nil && item.DefaultLocationID != nil {
		return *item.DefaultLocationID, nil
	}
	company, err := GetCompanyQ(ctx, q, companyID)
	if err != nil {
		return 0, err
	}
	if company.DefaultLocationID == nil {
		return 0, E(KindState, "no location specified and company has no default location")
	}
	return *company.DefaultLocationID, nil
}
