package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"accounting-core/internal/money"
	"accounting-core/internal/outbox"
)

// PurchaseService covers the payables lifecycle: bills, bill payments,
// vendor credits, and vendor advances. It mirrors the receivables side with
// the signs flipped, plus the inbound leg of inventory costing.
type PurchaseService interface {
	CreateBill(ctx context.Context, companyID int, in BillInput) (*PurchaseBill, error)
	PostBill(ctx context.Context, companyID, billID int) (*PurchaseBill, error)
	VoidBill(ctx context.Context, companyID, billID int, date time.Time) (*PurchaseBill, error)
	GetBill(ctx context.Context, companyID, billID int) (*PurchaseBill, error)
	ListBills(ctx context.Context, companyID int, status string) ([]PurchaseBill, error)

	RecordBillPayment(ctx context.Context, companyID int, in BillPaymentInput) (*BillPayment, error)
	ReverseBillPayment(ctx context.Context, companyID, paymentID int, date time.Time) (*BillPayment, error)

	IssueVendorCredit(ctx context.Context, companyID int, in VendorCreditInput) (*VendorCredit, error)
	ApplyVendorCredit(ctx context.Context, companyID, vendorCreditID int, in BillApplicationInput) (*VendorCredit, error)

	PayVendorAdvance(ctx context.Context, companyID int, in VendorAdvanceInput) (*VendorAdvance, error)
	ApplyVendorAdvance(ctx context.Context, companyID, advanceID int, in BillApplicationInput) (*VendorAdvance, error)
}

type purchaseService struct {
	pool *pgxpool.Pool
}

func NewPurchaseService(pool *pgxpool.Pool) PurchaseService {
	return &purchaseService{pool: pool}
}

func (s *purchaseService) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *purchaseService) CreateBill(ctx context.Context, companyID int, in BillInput) (*PurchaseBill, error) {
	var b *PurchaseBill
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		b, err = CreateBillTx(ctx, tx, companyID, in)
		return err
	})
	return b, err
}

func (s *purchaseService) PostBill(ctx context.Context, companyID, billID int) (*PurchaseBill, error) {
	var b *PurchaseBill
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		b, err = PostBillTx(ctx, tx, companyID, billID)
		return err
	})
	return b, err
}

func (s *purchaseService) VoidBill(ctx context.Context, companyID, billID int, date time.Time) (*PurchaseBill, error) {
	var b *PurchaseBill
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		b, err = VoidBillTx(ctx, tx, companyID, billID, date)
		return err
	})
	return b, err
}

func (s *purchaseService) GetBill(ctx context.Context, companyID, billID int) (*PurchaseBill, error) {
	return GetBillQ(ctx, s.pool, companyID, billID)
}

func (s *purchaseService) ListBills(ctx context.Context, companyID int, status string) ([]PurchaseBill, error) {
	query := `
		SELECT id, company_id, vendor_id, number, status, bill_date, due_date, currency,
		       exchange_rate, subtotal, tax_amount, total, amount_paid, journal_entry_id, location_id, created_at
		FROM purchase_bills
		WHERE company_id = $1`
	args := []any{companyID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}
	query += " ORDER BY bill_date DESC, id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var out []PurchaseBill
	for rows.Next() {
		var b PurchaseBill
		if err := rows.Scan(&b.ID, &b.CompanyID, &b.VendorID, &b.Number, &b.Status, &b.BillDate,
			&b.DueDate, &b.Currency, &b.ExchangeRate, &b.Subtotal, &b.TaxAmount, &b.Total,
			&b.AmountPaid, &b.JournalEntryID, &b.LocationID, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *purchaseService) RecordBillPayment(ctx context.Context, companyID int, in BillPaymentInput) (*BillPayment, error) {
	var p *BillPayment
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		p, err = RecordBillPaymentTx(ctx, tx, companyID, in)
		return err
	})
	return p, err
}

func (s *purchaseService) ReverseBillPayment(ctx context.Context, companyID, paymentID int, date time.Time) (*BillPayment, error) {
	var p *BillPayment
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		p, err = ReverseBillPaymentTx(ctx, tx, companyID, paymentID, date)
		return err
	})
	return p, err
}

func (s *purchaseService) IssueVendorCredit(ctx context.Context, companyID int, in VendorCreditInput) (*VendorCredit, error) {
	var vc *VendorCredit
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		vc, err = IssueVendorCreditTx(ctx, tx, companyID, in)
		return err
	})
	return vc, err
}

func (s *purchaseService) ApplyVendorCredit(ctx context.Context, companyID, vendorCreditID int, in BillApplicationInput) (*VendorCredit, error) {
	var vc *VendorCredit
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		vc, err = ApplyVendorCreditTx(ctx, tx, companyID, vendorCreditID, in)
		return err
	})
	return vc, err
}

func (s *purchaseService) PayVendorAdvance(ctx context.Context, companyID int, in VendorAdvanceInput) (*VendorAdvance, error) {
	var a *VendorAdvance
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		a, err = PayVendorAdvanceTx(ctx, tx, companyID, in)
		return err
	})
	return a, err
}

func (s *purchaseService) ApplyVendorAdvance(ctx context.Context, companyID, advanceID int, in BillApplicationInput) (*VendorAdvance, error) {
	var a *VendorAdvance
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		a, err = ApplyVendorAdvanceTx(ctx, tx, companyID, advanceID, in)
		return err
	})
	return a, err
}

// ── Bills ──────────────────────────────────────────────────

// CreateBillTx prices the lines and stores the bill as a draft. The unit
// price field of each line is the purchase unit cost.
func CreateBillTx(ctx context.Context, tx pgx.Tx, companyID int, in BillInput) (*PurchaseBill, error) {
	if _, err := getVendorQ(ctx, tx, companyID, in.VendorID); err != nil {
		return nil, err
	}
	lines, totals, err := resolveBillLinesTx(ctx, tx, companyID, in.Lines)
	if err != nil {
		return nil, err
	}

	number, err := nextDocumentNumberTx(ctx, tx, companyID, "BILL")
	if err != nil {
		return nil, err
	}

	b := &PurchaseBill{
		CompanyID:  companyID,
		VendorID:   in.VendorID,
		Number:     number,
		Status:     StatusDraft,
		BillDate:   money.Day(in.Date),
		DueDate:    in.DueDate,
		Currency:   in.Currency,
		Subtotal:   totals.Subtotal,
		TaxAmount:  totals.Tax,
		Total:      totals.Total,
		LocationID: in.LocationID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO purchase_bills (company_id, vendor_id, number, status, bill_date, due_date,
		                            currency, subtotal, tax_amount, total, location_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, exchange_rate, amount_paid, created_at
	`, companyID, in.VendorID, number, StatusDraft, b.BillDate, in.DueDate,
		in.Currency, totals.Subtotal, totals.Tax, totals.Total, in.LocationID).
		Scan(&b.ID, &b.ExchangeRate, &b.AmountPaid, &b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert bill: %w", err)
	}

	for _, l := range lines {
		var bl PurchaseBillLine
		err := tx.QueryRow(ctx, `
			INSERT INTO purchase_bill_lines (bill_id, company_id, item_id, description, quantity,
			                                 unit_cost, discount_amount, tax_rate, tax_amount, line_total, expense_account_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id
		`, b.ID, companyID, l.ItemID, l.Description, l.Quantity,
			l.UnitPrice, l.DiscountAmount, l.TaxRate, l.TaxAmount, l.LineTotal, l.IncomeAccountID).Scan(&bl.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert bill line: %w", err)
		}
		bl.BillID = b.ID
		bl.CompanyID = companyID
		bl.ItemID = l.ItemID
		bl.Description = l.Description
		bl.Quantity = l.Quantity
		bl.UnitCost = l.UnitPrice
		bl.DiscountAmount = l.DiscountAmount
		bl.TaxRate = l.TaxRate
		bl.TaxAmount = l.TaxAmount
		bl.LineTotal = l.LineTotal
		bl.ExpenseAccountID = l.IncomeAccountID
		b.Lines = append(b.Lines, bl)
	}
	return b, nil
}

// PostBillTx posts a draft bill: recomputes totals against the stored header,
// receives tracked stock at the billed unit cost, capitalizes those lines to
// the inventory account, expenses the rest, books tax receivable, and credits
// the payable. A backdated bill triggers a forward cost recalculation for
// every received position.
func PostBillTx(ctx context.Context, tx pgx.Tx, companyID, billID int) (*PurchaseBill, error) {
	b, err := getBillForUpdateTx(ctx, tx, companyID, billID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusDraft {
		return nil, E(KindState, "bill %s is %s, only drafts can be posted", b.Number, b.Status)
	}

	stored, err := loadBillLinesTx(ctx, tx, companyID, billID)
	if err != nil {
		return nil, err
	}
	inputs := make([]DocLineInput, len(stored))
	for i, l := range stored {
		inputs[i] = DocLineInput{
			ItemID:         l.ItemID,
			Description:    l.Description,
			Quantity:       l.Quantity,
			UnitPrice:      l.UnitCost,
			DiscountAmount: l.DiscountAmount,
			TaxRate:        l.TaxRate,
		}
	}
	_, totals, err := ComputeLines(inputs)
	if err != nil {
		return nil, err
	}
	if !totals.Subtotal.Equal(b.Subtotal) || !totals.Tax.Equal(b.TaxAmount) || !totals.Total.Equal(b.Total) {
		return nil, E(KindIntegrity, "bill %s totals do not match its lines", b.Number)
	}

	company, err := GetCompanyQ(ctx, tx, companyID)
	if err != nil {
		return nil, err
	}
	if company.APAccountID == nil || company.InventoryAccountID == nil {
		return nil, E(KindState, "company %d is missing system accounts", companyID)
	}
	taxReceivableID, err := EnsureSystemAccountTx(ctx, tx, companyID, SysTaxReceivable)
	if err != nil {
		return nil, err
	}

	// Receive tracked stock at the billed unit cost (net of line discount).
	type received struct {
		moveID    int
		location  int
		itemID    int
		backdated bool
	}
	var receipts []received
	var inventoryTotal decimal.Decimal
	expenseByAccount := map[int]decimal.Decimal{}
	for _, l := range stored {
		item, err := getItemQ(ctx, tx, companyID, l.ItemID)
		if err != nil {
			return nil, err
		}
		if item.TrackInventory {
			locationID, err := ResolveLocationTx(ctx, tx, companyID, b.LocationID, item)
			if err != nil {
				return nil, err
			}
			unitCost := money.Round6(l.LineTotal.Div(l.Quantity))
			move, backdated, err := ApplyMoveTx(ctx, tx, companyID, MoveInput{
				Date:          b.BillDate,
				LocationID:    locationID,
				ItemID:        l.ItemID,
				Direction:     "IN",
				Quantity:      l.Quantity,
				UnitCost:      unitCost,
				ReferenceType: RefBill,
				ReferenceID:   b.ID,
			})
			if err != nil {
				return nil, err
			}
			receipts = append(receipts, received{move.ID, locationID, l.ItemID, backdated})
			inventoryTotal = inventoryTotal.Add(move.TotalCostApplied)
		} else {
			expenseByAccount[l.ExpenseAccountID] = expenseByAccount[l.ExpenseAccountID].Add(l.LineTotal)
		}
	}
	inventoryTotal = money.Round2(inventoryTotal)

	jeLines := []LineInput{}
	if inventoryTotal.IsPositive() {
		jeLines = append(jeLines, LineInput{AccountID: *company.InventoryAccountID, Debit: inventoryTotal})
	}
	for accountID, amount := range expenseByAccount {
		if amount.IsPositive() {
			jeLines = append(jeLines, LineInput{AccountID: accountID, Debit: amount})
		}
	}
	if b.TaxAmount.IsPositive() {
		jeLines = append(jeLines, LineInput{AccountID: taxReceivableID, Debit: b.TaxAmount})
	}
	jeLines = append(jeLines, LineInput{AccountID: *company.APAccountID, Credit: b.Total})

	entry, err := PostJournalEntry(ctx, tx, companyID, PostingInput{
		Date:                  b.BillDate,
		Description:           fmt.Sprintf("Bill %s", b.Number),
		LocationID:            b.LocationID,
		Lines:                 jeLines,
		SkipAccountValidation: true,
	})
	if err != nil {
		return nil, err
	}
	for _, r := range receipts {
		if _, err := tx.Exec(ctx,
			"UPDATE stock_moves SET journal_entry_id = $2 WHERE id = $1", r.moveID, entry.ID,
		); err != nil {
			return nil, fmt.Errorf("failed to link stock move: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		"UPDATE purchase_bills SET status = $3, journal_entry_id = $4 WHERE id = $1 AND company_id = $2",
		b.ID, companyID, StatusPosted, entry.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to mark bill posted: %w", err)
	}
	b.Status = StatusPosted
	b.JournalEntryID = &entry.ID
	b.Lines = stored

	if err := emitDocumentEvent(ctx, tx, companyID, outbox.TypeBillPosted, "PurchaseBill",
		b.ID, b.Number, b.VendorID, b.Total, entry.ID); err != nil {
		return nil, err
	}

	for _, r := range receipts {
		if r.backdated {
			if err := recalcForwardTx(ctx, tx, companyID, r.location, r.itemID, b.BillDate); err != nil {
				return nil, err
			}
		}
	}
	return b, nil
}

// VoidBillTx reverses a posted bill. Received stock leaves again at the
// originally applied costs; settled money must be unwound first.
func VoidBillTx(ctx context.Context, tx pgx.Tx, companyID, billID int, date time.Time) (*PurchaseBill, error) {
	b, err := getBillForUpdateTx(ctx, tx, companyID, billID)
	if err != nil {
		return nil, err
	}
	switch b.Status {
	case StatusPosted, StatusPartial, StatusPaid:
	case StatusDraft:
		if _, err := tx.Exec(ctx,
			"UPDATE purchase_bills SET status = $3 WHERE id = $1 AND company_id = $2",
			b.ID, companyID, StatusVoid,
		); err != nil {
			return nil, fmt.Errorf("failed to void draft bill: %w", err)
		}
		b.Status = StatusVoid
		return b, nil
	default:
		return nil, E(KindState, "bill %s is already void", b.Number)
	}

	settled, err := billSettledTx(ctx, tx, companyID, billID)
	if err != nil {
		return nil, err
	}
	if settled.IsPositive() {
		return nil, E(KindState, "bill %s has %s settled against it; reverse payments and applications first",
			b.Number, settled.StringFixed(2))
	}
	if b.JournalEntryID == nil {
		return nil, E(KindIntegrity, "posted bill %s has no journal entry", b.Number)
	}

	reversal, err := PostReversalTx(ctx, tx, companyID, *b.JournalEntryID, date,
		fmt.Sprintf("Void bill %s", b.Number))
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT location_id, item_id, quantity, unit_cost_applied
		FROM stock_moves
		WHERE company_id = $1 AND reference_type = $2 AND reference_id = $3 AND direction = 'IN'
		ORDER BY id
	`, companyID, RefBill, billID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bill stock moves: %w", err)
	}
	type exit struct {
		locationID, itemID int
		qty, cost          decimal.Decimal
	}
	var exits []exit
	for rows.Next() {
		var e exit
		if err := rows.Scan(&e.locationID, &e.itemID, &e.qty, &e.cost); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan bill stock move: %w", err)
		}
		exits = append(exits, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stock move iteration error: %w", err)
	}
	for _, e := range exits {
		_, backdated, err := ApplyMoveTx(ctx, tx, companyID, MoveInput{
			Date:           date,
			LocationID:     e.locationID,
			ItemID:         e.itemID,
			Direction:      "OUT",
			Quantity:       e.qty,
			UnitCost:       e.cost,
			ReferenceType:  RefBillVoid,
			ReferenceID:    billID,
			JournalEntryID: &reversal.ID,
		})
		if err != nil {
			return nil, err
		}
		if backdated {
			if err := recalcForwardTx(ctx, tx, companyID, e.locationID, e.itemID, date); err != nil {
				return nil, err
			}
		}
	}

	if _, err := tx.Exec(ctx,
		"UPDATE purchase_bills SET status = $3 WHERE id = $1 AND company_id = $2",
		b.ID, companyID, StatusVoid,
	); err != nil {
		return nil, fmt.Errorf("failed to mark bill void: %w", err)
	}
	b.Status = StatusVoid
	return b, nil
}

// ── Bill payments ──────────────────────────────────────────

func RecordBillPaymentTx(ctx context.Context, tx pgx.Tx, companyID int, in BillPaymentInput) (*BillPayment, error) {
	if !in.Amount.IsPositive() {
		return nil, E(KindValidation, "payment amount must be positive")
	}
	b, err := getBillForUpdateTx(ctx, tx, companyID, in.BillID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusPosted && b.Status != StatusPartial {
		return nil, E(KindState, "bill %s is %s and cannot accept payments", b.Number, b.Status)
	}

	amount := money.Round2(in.Amount)
	settled, err := billSettledTx(ctx, tx, companyID, b.ID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(b.Total.Sub(settled)) {
		return nil, E(KindValidation, "payment of %s exceeds the open balance %s on bill %s",
			amount.StringFixed(2), b.Total.Sub(settled).StringFixed(2), b.Number)
	}

	if err := assertAccountsOwnedTx(ctx, tx, companyID, []LineInput{{AccountID: in.BankAccountID, Credit: amount}}); err != nil {
		return nil, err
	}
	company, err := GetCompanyQ(ctx, tx, companyID)
	if err != nil {
		return nil, err
	}
	if company.APAccountID == nil {
		return nil, E(KindState, "company %d is missing system accounts", companyID)
	}

	entry, err := PostJournalEntry(ctx, tx, companyID, PostingInput{
		Date:        in.Date,
		Description: fmt.Sprintf("Payment for bill %s", b.Number),
		Lines: []LineInput{
			{AccountID: *company.APAccountID, Debit: amount},
			{AccountID: in.BankAccountID, Credit: amount},
		},
		SkipAccountValidation: true,
	})
	if err != nil {
		return nil, err
	}

	p := &BillPayment{
		CompanyID:      companyID,
		BillID:         b.ID,
		PaymentDate:    money.Day(in.Date),
		Amount:         amount,
		BankAccountID:  in.BankAccountID,
		JournalEntryID: entry.ID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO purchase_bill_payments (company_id, bill_id, payment_date, amount, bank_account_id, journal_entry_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, companyID, b.ID, p.PaymentDate, amount, in.BankAccountID, entry.ID).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert bill payment: %w", err)
	}

	if err := recomputeBillTx(ctx, tx, companyID, b.ID); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(outbox.PaymentPayload{
		PaymentID:      p.ID,
		DocumentID:     b.ID,
		Amount:         amount.StringFixed(2),
		JournalEntryID: entry.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	if _, err := outbox.AppendTx(ctx, tx, outbox.Event{
		CompanyID:     companyID,
		EventType:     outbox.TypeBillPaymentRecorded,
		AggregateType: "BillPayment",
		AggregateID:   fmt.Sprintf("%d", p.ID),
		Payload:       payload,
	}); err != nil {
		return nil, err
	}
	return p, nil
}

func ReverseBillPaymentTx(ctx context.Context, tx pgx.Tx, companyID, paymentID int, date time.Time) (*BillPayment, error) {
	var p BillPayment
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, bill_id, payment_date, amount, bank_account_id, journal_entry_id,
		       reversed_at, reversal_journal_entry_id, created_at
		FROM purchase_bill_payments
		WHERE id = $1 AND company_id = $2
		FOR UPDATE
	`, paymentID, companyID).Scan(
		&p.ID, &p.CompanyID, &p.BillID, &p.PaymentDate, &p.Amount, &p.BankAccountID,
		&p.JournalEntryID, &p.ReversedAt, &p.ReversalJournalEntryID, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "bill payment %d not found", paymentID)
		}
		return nil, fmt.Errorf("failed to fetch bill payment %d: %w", paymentID, err)
	}
	if p.ReversedAt != nil {
		return nil, E(KindState, "bill payment %d is already reversed", paymentID)
	}

	reversal, err := PostReversalTx(ctx, tx, companyID, p.JournalEntryID, date,
		fmt.Sprintf("Reverse bill payment %d", p.ID))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE purchase_bill_payments SET reversed_at = NOW(), reversal_journal_entry_id = $3
		WHERE id = $1 AND company_id = $2
	`, p.ID, companyID, reversal.ID); err != nil {
		return nil, fmt.Errorf("failed to mark bill payment reversed: %w", err)
	}
	p.ReversedAt = &now
	p.ReversalJournalEntryID = &reversal.ID

	if err := recomputeBillTx(ctx, tx, companyID, p.BillID); err != nil {
		return nil, err
	}
	return &p, nil
}

// ── Vendor credits ─────────────────────────────────────────

// IssueVendorCreditTx books a credit from a vendor: the payable shrinks and
// the original expense and tax receivable are backed out.
func IssueVendorCreditTx(ctx context.Context, tx pgx.Tx, companyID int, in VendorCreditInput) (*VendorCredit, error) {
	if _, err := getVendorQ(ctx, tx, companyID, in.VendorID); err != nil {
		return nil, err
	}
	lines, totals, err := resolveBillLinesTx(ctx, tx, companyID, in.Lines)
	if err != nil {
		return nil, err
	}
	company, err := GetCompanyQ(ctx, tx, companyID)
	if err != nil {
		return nil, err
	}
	if company.APAccountID == nil {
		return nil, E(KindState, "company %d is missing system accounts", companyID)
	}
	taxReceivableID, err := EnsureSystemAccountTx(ctx, tx, companyID, SysTaxReceivable)
	if err != nil {
		return nil, err
	}

	number, err := nextDocumentNumberTx(ctx, tx, companyID, "VC")
	if err != nil {
		return nil, err
	}

	jeLines := []LineInput{{AccountID: *company.APAccountID, Debit: totals.Total}}
	for accountID, amount := range incomeBuckets(lines) {
		if amount.IsPositive() {
			jeLines = append(jeLines, LineInput{AccountID: accountID, Credit: amount})
		}
	}
	if totals.Tax.IsPositive() {
		jeLines = append(jeLines, LineInput{AccountID: taxReceivableID, Credit: totals.Tax})
	}

	entry, err := PostJournalEntry(ctx, tx, companyID, PostingInput{
		Date:                  in.Date,
		Description:           fmt.Sprintf("Vendor credit %s", number),
		Lines:                 jeLines,
		SkipAccountValidation: true,
	})
	if err != nil {
		return nil, err
	}

	vc := &VendorCredit{
		CompanyID:      companyID,
		VendorID:       in.VendorID,
		Number:         number,
		Status:         StatusPosted,
		CreditDate:     money.Day(in.Date),
		Subtotal:       totals.Subtotal,
		TaxAmount:      totals.Tax,
		Total:          totals.Total,
		JournalEntryID: &entry.ID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO vendor_credits (company_id, vendor_id, number, status, credit_date,
		                            subtotal, tax_amount, total, journal_entry_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, amount_applied, created_at
	`, companyID, in.VendorID, number, StatusPosted, vc.CreditDate,
		totals.Subtotal, totals.Tax, totals.Total, entry.ID).
		Scan(&vc.ID, &vc.AmountApplied, &vc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert vendor credit: %w", err)
	}
	return vc, nil
}

func ApplyVendorCreditTx(ctx context.Context, tx pgx.Tx, companyID, vendorCreditID int, in BillApplicationInput) (*VendorCredit, error) {
	if !in.Amount.IsPositive() {
		return nil, E(KindValidation, "application amount must be positive")
	}
	var vc VendorCredit
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, vendor_id, number, status, credit_date,
		       subtotal, tax_amount, total, amount_applied, journal_entry_id, created_at
		FROM vendor_credits
		WHERE id = $1 AND company_id = $2
		FOR UPDATE
	`, vendorCreditID, companyID).Scan(
		&vc.ID, &vc.CompanyID, &vc.VendorID, &vc.Number, &vc.Status, &vc.CreditDate,
		&vc.Subtotal, &vc.TaxAmount, &vc.Total, &vc.AmountApplied, &vc.JournalEntryID, &vc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "vendor credit %d not found", vendorCreditID)
		}
		return nil, fmt.Errorf("failed to fetch vendor credit %d: %w", vendorCreditID, err)
	}
	if vc.Status != StatusPosted {
		return nil, E(KindState, "vendor credit %s is %s", vc.Number, vc.Status)
	}

	b, err := getBillForUpdateTx(ctx, tx, companyID, in.BillID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusPosted && b.Status != StatusPartial {
		return nil, E(KindState, "bill %s is %s and cannot accept applications", b.Number, b.Status)
	}
	if b.VendorID != vc.VendorID {
		return nil, E(KindValidation, "vendor credit %s and bill %s belong to different vendors", vc.Number, b.Number)
	}

	amount := money.Round2(in.Amount)
	creditRemaining := vc.Total.Sub(vc.AmountApplied)
	settled, err := billSettledTx(ctx, tx, companyID, b.ID)
	if err != nil {
		return nil, err
	}
	billRemaining := b.Total.Sub(settled)
	if amount.GreaterThan(creditRemaining) || amount.GreaterThan(billRemaining) {
		return nil, E(KindValidation, "application of %s exceeds remaining credit %s or open balance %s",
			amount.StringFixed(2), creditRemaining.StringFixed(2), billRemaining.StringFixed(2))
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO vendor_credit_applications (company_id, vendor_credit_id, bill_id, amount)
		VALUES ($1, $2, $3, $4)
	`, companyID, vc.ID, b.ID, amount); err != nil {
		return nil, fmt.Errorf("failed to record application: %w", err)
	}
	vc.AmountApplied = money.Round2(vc.AmountApplied.Add(amount))
	if _, err := tx.Exec(ctx,
		"UPDATE vendor_credits SET amount_applied = $3 WHERE id = $1 AND company_id = $2",
		vc.ID, companyID, vc.AmountApplied,
	); err != nil {
		return nil, fmt.Errorf("failed to update vendor credit: %w", err)
	}

	if err := recomputeBillTx(ctx, tx, companyID, b.ID); err != nil {
		return nil, err
	}
	return &vc, nil
}

// ── Vendor advances ────────────────────────────────────────

// PayVendorAdvanceTx books money paid to a vendor before any bill exists as
// an asset.
func PayVendorAdvanceTx(ctx context.Context, tx pgx.Tx, companyID int, in VendorAdvanceInput) (*VendorAdvance, error) {
	if !in.Amount.IsPositive() {
		return nil, E(KindValidation, "advance amount must be positive")
	}
	if _, err := getVendorQ(ctx, tx, companyID, in.VendorID); err != nil {
		return nil, err
	}
	if err := assertAccountsOwnedTx(ctx, tx, companyID, []LineInput{{AccountID: in.BankAccountID, Credit: in.Amount}}); err != nil {
		return nil, err
	}
	advancesID, err := EnsureSystemAccountTx(ctx, tx, companyID, SysVendorAdvances)
	if err != nil {
		return nil, err
	}

	amount := money.Round2(in.Amount)
	entry, err := PostJournalEntry(ctx, tx, companyID, PostingInput{
		Date:        in.Date,
		Description: fmt.Sprintf("Vendor advance to vendor %d", in.VendorID),
		Lines: []LineInput{
			{AccountID: advancesID, Debit: amount},
			{AccountID: in.BankAccountID, Credit: amount},
		},
		SkipAccountValidation: true,
	})
	if err != nil {
		return nil, err
	}

	a := &VendorAdvance{
		CompanyID:      companyID,
		VendorID:       in.VendorID,
		AdvanceDate:    money.Day(in.Date),
		Amount:         amount,
		BankAccountID:  in.BankAccountID,
		JournalEntryID: entry.ID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO vendor_advances (company_id, vendor_id, advance_date, amount, bank_account_id, journal_entry_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, amount_applied, created_at
	`, companyID, in.VendorID, a.AdvanceDate, amount, in.BankAccountID, entry.ID).
		Scan(&a.ID, &a.AmountApplied, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert vendor advance: %w", err)
	}
	return a, nil
}

func ApplyVendorAdvanceTx(ctx context.Context, tx pgx.Tx, companyID, advanceID int, in BillApplicationInput) (*VendorAdvance, error) {
	if !in.Amount.IsPositive() {
		return nil, E(KindValidation, "application amount must be positive")
	}
	var a VendorAdvance
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, vendor_id, advance_date, amount, amount_applied,
		       bank_account_id, journal_entry_id, created_at
		FROM vendor_advances
		WHERE id = $1 AND company_id = $2
		FOR UPDATE
	`, advanceID, companyID).Scan(
		&a.ID, &a.CompanyID, &a.VendorID, &a.AdvanceDate, &a.Amount, &a.AmountApplied,
		&a.BankAccountID, &a.JournalEntryID, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "vendor advance %d not found", advanceID)
		}
		return nil, fmt.Errorf("failed to fetch vendor advance %d: %w", advanceID, err)
	}

	b, err := getBillForUpdateTx(ctx, tx, companyID, in.BillID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusPosted && b.Status != StatusPartial {
		return nil, E(KindState, "bill %s is %s and cannot accept applications", b.Number, b.Status)
	}
	if b.VendorID != a.VendorID {
		return nil, E(KindValidation, "vendor advance %d and bill %s belong to different vendors", a.ID, b.Number)
	}

	amount := money.Round2(in.Amount)
	advanceRemaining := a.Amount.Sub(a.AmountApplied)
	settled, err := billSettledTx(ctx, tx, companyID, b.ID)
	if err != nil {
		return nil, err
	}
	billRemaining := b.Total.Sub(settled)
	if amount.GreaterThan(advanceRemaining) || amount.GreaterThan(billRemaining) {
		return nil, E(KindValidation, "application of %s exceeds remaining advance %s or open balance %s",
			amount.StringFixed(2), advanceRemaining.StringFixed(2), billRemaining.StringFixed(2))
	}

	company, err := GetCompanyQ(ctx, tx, companyID)
	if err != nil {
		return nil, err
	}
	if company.APAccountID == nil {
		return nil, E(KindState, "company %d is missing system accounts", companyID)
	}
	advancesID, err := EnsureSystemAccountTx(ctx, tx, companyID, SysVendorAdvances)
	if err != nil {
		return nil, err
	}
	if _, err := PostJournalEntry(ctx, tx, companyID, PostingInput{
		Date:        in.Date,
		Description: fmt.Sprintf("Apply vendor advance %d to bill %s", a.ID, b.Number),
		Lines: []LineInput{
			{AccountID: *company.APAccountID, Debit: amount},
			{AccountID: advancesID, Credit: amount},
		},
		SkipAccountValidation: true,
	}); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO vendor_advance_applications (company_id, advance_id, bill_id, amount)
		VALUES ($1, $2, $3, $4)
	`, companyID, a.ID, b.ID, amount); err != nil {
		return nil, fmt.Errorf("failed to record advance application: %w", err)
	}
	a.AmountApplied = money.Round2(a.AmountApplied.Add(amount))
	if _, err := tx.Exec(ctx,
		"UPDATE vendor_advances SET amount_applied = $3 WHERE id = $1 AND company_id = $2",
		a.ID, companyID, a.AmountApplied,
	); err != nil {
		return nil, fmt.Errorf("failed to update vendor advance: %w", err)
	}

	if err := recomputeBillTx(ctx, tx, companyID, b.ID); err != nil {
		return nil, err
	}
	return &a, nil
}

// ── Shared helpers ─────────────────────────────────────────

// resolveBillLinesTx prices purchase lines. The resolved account on each line
// is the expense account: the item's own, falling back to the general
// expense account.
func resolveBillLinesTx(ctx context.Context, tx pgx.Tx, companyID int, inputs []DocLineInput) ([]DocLine, DocTotals, error) {
	lines, totals, err := ComputeLines(inputs)
	if err != nil {
		return nil, DocTotals{}, err
	}
	for i := range lines {
		item, err := getItemQ(ctx, tx, companyID, lines[i].ItemID)
		if err != nil {
			return nil, DocTotals{}, err
		}
		if item.ExpenseAccountID != nil {
			lines[i].IncomeAccountID = *item.ExpenseAccountID
		} else {
			id, err := EnsureSystemAccountTx(ctx, tx, companyID, SysExpense)
			if err != nil {
				return nil, DocTotals{}, err
			}
			lines[i].IncomeAccountID = id
		}
		lines[i].TrackInventory = item.TrackInventory
		if lines[i].Description == "" {
			lines[i].Description = item.Name
		}
	}
	return lines, totals, nil
}

func billSettledTx(ctx context.Context, tx pgx.Tx, companyID, billID int) (decimal.Decimal, error) {
	var settled decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT SUM(amount) FROM purchase_bill_payments
			          WHERE company_id = $1 AND bill_id = $2 AND reversed_at IS NULL), 0)
			+ COALESCE((SELECT SUM(amount) FROM vendor_credit_applications
			            WHERE company_id = $1 AND bill_id = $2), 0)
			+ COALESCE((SELECT SUM(amount) FROM vendor_advance_applications
			            WHERE company_id = $1 AND bill_id = $2), 0)
	`, companyID, billID).Scan(&settled)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute settled amount: %w", err)
	}
	return money.Round2(settled), nil
}

func recomputeBillTx(ctx context.Context, tx pgx.Tx, companyID, billID int) error {
	settled, err := billSettledTx(ctx, tx, companyID, billID)
	if err != nil {
		return err
	}
	var total decimal.Decimal
	var status string
	err = tx.QueryRow(ctx,
		"SELECT total, status FROM purchase_bills WHERE id = $1 AND company_id = $2",
		billID, companyID,
	).Scan(&total, &status)
	if err != nil {
		return fmt.Errorf("failed to read bill for recompute: %w", err)
	}
	if status == StatusDraft || status == StatusVoid {
		return nil
	}
	_, err = tx.Exec(ctx,
		"UPDATE purchase_bills SET amount_paid = $3, status = $4 WHERE id = $1 AND company_id = $2",
		billID, companyID, settled, deriveDocumentStatus(total, settled),
	)
	if err != nil {
		return fmt.Errorf("failed to update bill settlement: %w", err)
	}
	return nil
}

func getBillForUpdateTx(ctx context.Context, tx pgx.Tx, companyID, billID int) (*PurchaseBill, error) {
	var b PurchaseBill
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, vendor_id, number, status, bill_date, due_date, currency,
		       exchange_rate, subtotal, tax_amount, total, amount_paid, journal_entry_id, location_id, created_at
		FROM purchase_bills
		WHERE id = $1 AND company_id = $2
		FOR UPDATE
	`, billID, companyID).Scan(
		&b.ID, &b.CompanyID, &b.VendorID, &b.Number, &b.Status, &b.BillDate,
		&b.DueDate, &b.Currency, &b.ExchangeRate, &b.Subtotal, &b.TaxAmount, &b.Total,
		&b.AmountPaid, &b.JournalEntryID, &b.LocationID, &b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "bill %d not found", billID)
		}
		return nil, fmt.Errorf("failed to fetch bill %d: %w", billID, err)
	}
	return &b, nil
}

// GetBillQ loads a bill with its lines, tenant-filtered.
func GetBillQ(ctx context.Context, q Querier, companyID, billID int) (*PurchaseBill, error) {
	var b PurchaseBill
	err := q.QueryRow(ctx, `
		SELECT id, company_id, vendor_id, number, status, bill_date, due_date, currency,
		       exchange_rate, subtotal, tax_amount, total, amount_paid, journal_entry_id, location_id, created_at
		FROM purchase_bills
		WHERE id = $1 AND company_id = $2
	`, billID, companyID).Scan(
		&b.ID, &b.CompanyID, &b.VendorID, &b.Number, &b.Status, &b.BillDate,
		&b.DueDate, &b.Currency, &b.ExchangeRate, &b.Subtotal, &b.TaxAmount, &b.Total,
		&b.AmountPaid, &b.JournalEntryID, &b.LocationID, &b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "bill %d not found", billID)
		}
		return nil, fmt.Errorf("failed to fetch bill %d: %w", billID, err)
	}
	lines, err := loadBillLinesTx(ctx, q, companyID, billID)
	if err != nil {
		return nil, err
	}
	b.Lines = lines
	return &b, nil
}

func loadBillLinesTx(ctx context.Context, q Querier, companyID, billID int) ([]PurchaseBillLine, error) {
	rows, err := q.Query(ctx, `
		SELECT id, bill_id, company_id, item_id, description, quantity, unit_cost,
		       discount_amount, tax_rate, tax_amount, line_total, expense_account_id
		FROM purchase_bill_lines
		WHERE bill_id = $1 AND company_id = $2
		ORDER BY id
	`, billID, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bill lines: %w", err)
	}
	defer rows.Close()

	var out []PurchaseBillLine
	for rows.Next() {
		var l PurchaseBillLine
		if err := rows.Scan(&l.ID, &l.BillID, &l.CompanyID, &l.ItemID, &l.Description,
			&l.Quantity, &l.UnitCost, &l.DiscountAmount, &l.TaxRate, &l.TaxAmount,
			&l.LineTotal, &l.ExpenseAccountID); err != nil {
			return nil, fmt.Errorf("failed to scan bill line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func getVendorQ(ctx context.Context, q Querier, companyID, vendorID int) (*Vendor, error) {
	var v Vendor
	err := q.QueryRow(ctx, `
		SELECT id, company_id, name, phone, email, currency, created_at
		FROM vendors WHERE id = $1 AND company_id = $2
	`, vendorID, companyID).Scan(
		&v.ID, &v.CompanyID, &v.Name, &v.Phone, &v.Email, &v.Currency, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "vendor %d not found", vendorID)
		}
		return nil, fmt.Errorf("failed to fetch vendor %d: %w", vendorID, err)
	}
	return &v, nil
}
