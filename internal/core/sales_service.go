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

// SalesService covers the receivables lifecycle: invoices, payments, credit
// notes, and customer advances. Every mutation is a single transaction; the
// package-level Tx functions exist so callers composing larger transactions
// (idempotent handlers, the import pipeline) can reuse them.
type SalesService interface {
	CreateInvoice(ctx context.Context, companyID int, in InvoiceInput) (*Invoice, error)
	PostInvoice(ctx context.Context, companyID, invoiceID int) (*Invoice, error)
	VoidInvoice(ctx context.Context, companyID, invoiceID int, date time.Time) (*Invoice, error)
	GetInvoice(ctx context.Context, companyID, invoiceID int) (*Invoice, error)
	ListInvoices(ctx context.Context, companyID int, status string) ([]Invoice, error)

	RecordPayment(ctx context.Context, companyID int, in PaymentInput) (*Payment, error)
	ReversePayment(ctx context.Context, companyID, paymentID int, date time.Time) (*Payment, error)

	IssueCreditNote(ctx context.Context, companyID int, in CreditNoteInput) (*CreditNote, error)
	ApplyCreditNote(ctx context.Context, companyID, creditNoteID int, in ApplicationInput) (*CreditNote, error)

	ReceiveAdvance(ctx context.Context, companyID int, in CustomerAdvanceInput) (*CustomerAdvance, error)
	ApplyAdvance(ctx context.Context, companyID, advanceID int, in ApplicationInput) (*CustomerAdvance, error)
}

type salesService struct {
	pool *pgxpool.Pool
}

func NewSalesService(pool *pgxpool.Pool) SalesService {
	return &salesService{pool: pool}
}

func (s *salesService) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
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

func (s *salesService) CreateInvoice(ctx context.Context, companyID int, in InvoiceInput) (*Invoice, error) {
	var inv *Invoice
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		inv, err = CreateInvoiceTx(ctx, tx, companyID, in)
		return err
	})
	return inv, err
}

func (s *salesService) PostInvoice(ctx context.Context, companyID, invoiceID int) (*Invoice, error) {
	var inv *Invoice
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		inv, err = PostInvoiceTx(ctx, tx, companyID, invoiceID)
		return err
	})
	return inv, err
}

func (s *salesService) VoidInvoice(ctx context.Context, companyID, invoiceID int, date time.Time) (*Invoice, error) {
	var inv *Invoice
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		inv, err = VoidInvoiceTx(ctx, tx, companyID, invoiceID, date)
		return err
	})
	return inv, err
}

func (s *salesService) GetInvoice(ctx context.Context, companyID, invoiceID int) (*Invoice, error) {
	return GetInvoiceQ(ctx, s.pool, companyID, invoiceID)
}

func (s *salesService) ListInvoices(ctx context.Context, companyID int, status string) ([]Invoice, error) {
	query := `
		SELECT id, company_id, customer_id, number, status, invoice_date, due_date, currency,
		       exchange_rate, subtotal, tax_amount, total, amount_paid, journal_entry_id, location_id, created_at
		FROM invoices
		WHERE company_id = $1`
	args := []any{companyID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}
	query += " ORDER BY invoice_date DESC, id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		var inv Invoice
		if err := scanInvoice(rows, &inv); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *salesService) RecordPayment(ctx context.Context, companyID int, in PaymentInput) (*Payment, error) {
	var p *Payment
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		p, err = RecordPaymentTx(ctx, tx, companyID, in)
		return err
	})
	return p, err
}

func (s *salesService) ReversePayment(ctx context.Context, companyID, paymentID int, date time.Time) (*Payment, error) {
	var p *Payment
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		p, err = ReversePaymentTx(ctx, tx, companyID, paymentID, date)
		return err
	})
	return p, err
}

func (s *salesService) IssueCreditNote(ctx context.Context, companyID int, in CreditNoteInput) (*CreditNote, error) {
	var cn *CreditNote
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		cn, err = IssueCreditNoteTx(ctx, tx, companyID, in)
		return err
	})
	return cn, err
}

func (s *salesService) ApplyCreditNote(ctx context.Context, companyID, creditNoteID int, in ApplicationInput) (*CreditNote, error) {
	var cn *CreditNote
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		cn, err = ApplyCreditNoteTx(ctx, tx, companyID, creditNoteID, in)
		return err
	})
	return cn, err
}

func (s *salesService) ReceiveAdvance(ctx context.Context, companyID int, in CustomerAdvanceInput) (*CustomerAdvance, error) {
	var a *CustomerAdvance
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		a, err = ReceiveAdvanceTx(ctx, tx, companyID, in)
		return err
	})
	return a, err
}

func (s *salesService) ApplyAdvance(ctx context.Context, companyID, advanceID int, in ApplicationInput) (*CustomerAdvance, error) {
	var a *CustomerAdvance
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		a, err = ApplyAdvanceTx(ctx, tx, companyID, advanceID, in)
		return err
	})
	return a, err
}

// ── Invoices ───────────────────────────────────────────────

// CreateInvoiceTx prices the lines and stores the invoice as a draft. No
// journal entry exists until the invoice is posted.
func CreateInvoiceTx(ctx context.Context, tx pgx.Tx, companyID int, in InvoiceInput) (*Invoice, error) {
	if _, err := getCustomerQ(ctx, tx, companyID, in.CustomerID); err != nil {
		return nil, err
	}
	lines, totals, err := resolveDocLinesTx(ctx, tx, companyID, in.Lines)
	if err != nil {
		return nil, err
	}

	number, err := nextDocumentNumberTx(ctx, tx, companyID, "INV")
	if err != nil {
		return nil, err
	}

	inv := &Invoice{
		CompanyID:   companyID,
		CustomerID:  in.CustomerID,
		Number:      number,
		Status:      StatusDraft,
		InvoiceDate: money.Day(in.Date),
		DueDate:     in.DueDate,
		Currency:    in.Currency,
		Subtotal:    totals.Subtotal,
		TaxAmount:   totals.Tax,
		Total:       totals.Total,
		LocationID:  in.LocationID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO invoices (company_id, customer_id, number, status, invoice_date, due_date,
		                      currency, subtotal, tax_amount, total, location_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, exchange_rate, amount_paid, created_at
	`, companyID, in.CustomerID, number, StatusDraft, inv.InvoiceDate, in.DueDate,
		in.Currency, totals.Subtotal, totals.Tax, totals.Total, in.LocationID).
		Scan(&inv.ID, &inv.ExchangeRate, &inv.AmountPaid, &inv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert invoice: %w", err)
	}

	for _, l := range lines {
		var il InvoiceLine
		err := tx.QueryRow(ctx, `
			INSERT INTO invoice_lines (invoice_id, company_id, item_id, description, quantity,
			                           unit_price, discount_amount, tax_rate, tax_amount, line_total, income_account_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id
		`, inv.ID, companyID, l.ItemID, l.Description, l.Quantity,
			l.UnitPrice, l.DiscountAmount, l.TaxRate, l.TaxAmount, l.LineTotal, l.IncomeAccountID).Scan(&il.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert invoice line: %w", err)
		}
		il.InvoiceID = inv.ID
		il.CompanyID = companyID
		il.ItemID = l.ItemID
		il.Description = l.Description
		il.Quantity = l.Quantity
		il.UnitPrice = l.UnitPrice
		il.DiscountAmount = l.DiscountAmount
		il.TaxRate = l.TaxRate
		il.TaxAmount = l.TaxAmount
		il.LineTotal = l.LineTotal
		il.IncomeAccountID = l.IncomeAccountID
		inv.Lines = append(inv.Lines, il)
	}
	return inv, nil
}

// PostInvoiceTx posts a draft: recomputes totals from the stored lines,
// refuses on any mismatch with the stored header, writes the receivable
// entry, issues stock for tracked items at weighted average cost, and emits
// invoice.posted.
func PostInvoiceTx(ctx context.Context, tx pgx.Tx, companyID, invoiceID int) (*Invoice, error) {
	inv, err := getInvoiceForUpdateTx(ctx, tx, companyID, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusDraft {
		return nil, E(KindState, "invoice %s is %s, only drafts can be posted", inv.Number, inv.Status)
	}

	stored, err := loadInvoiceLinesTx(ctx, tx, companyID, invoiceID)
	if err != nil {
		return nil, err
	}
	inputs := make([]DocLineInput, len(stored))
	for i, l := range stored {
		inputs[i] = DocLineInput{
			ItemID:         l.ItemID,
			Description:    l.Description,
			Quantity:       l.Quantity,
			UnitPrice:      l.UnitPrice,
			DiscountAmount: l.DiscountAmount,
			TaxRate:        l.TaxRate,
		}
	}
	_, totals, err := ComputeLines(inputs)
	if err != nil {
		return nil, err
	}
	if !totals.Subtotal.Equal(inv.Subtotal) || !totals.Tax.Equal(inv.TaxAmount) || !totals.Total.Equal(inv.Total) {
		return nil, E(KindIntegrity, "invoice %s totals do not match its lines", inv.Number)
	}

	company, err := GetCompanyQ(ctx, tx, companyID)
	if err != nil {
		return nil, err
	}
	if company.ARAccountID == nil || company.InventoryAccountID == nil {
		return nil, E(KindState, "company %d is missing system accounts", companyID)
	}

	// Issue stock first so the cost side of the entry is known.
	type issued struct {
		moveID    int
		expenseID int
		cost      decimal.Decimal
		location  int
		backdated bool
	}
	var issues []issued
	for _, l := range stored {
		item, err := getItemQ(ctx, tx, companyID, l.ItemID)
		if err != nil {
			return nil, err
		}
		if !item.TrackInventory {
			continue
		}
		locationID, err := ResolveLocationTx(ctx, tx, companyID, inv.LocationID, item)
		if err != nil {
			return nil, err
		}
		move, backdated, err := ApplyMoveTx(ctx, tx, companyID, MoveInput{
			Date:          inv.InvoiceDate,
			LocationID:    locationID,
			ItemID:        l.ItemID,
			Direction:     "OUT",
			Quantity:      l.Quantity,
			ReferenceType: RefInvoice,
			ReferenceID:   inv.ID,
		})
		if err != nil {
			return nil, err
		}
		expenseID := 0
		if item.ExpenseAccountID != nil {
			expenseID = *item.ExpenseAccountID
		} else if company.COGSAccountID != nil {
			expenseID = *company.COGSAccountID
		} else {
			return nil, E(KindState, "item %q has no expense account and no company default", item.Name)
		}
		issues = append(issues, issued{move.ID, expenseID, move.TotalCostApplied, locationID, backdated})
	}

	taxPayableID, err := EnsureSystemAccountTx(ctx, tx, companyID, SysTaxPayable)
	if err != nil {
		return nil, err
	}

	jeLines := []LineInput{{AccountID: *company.ARAccountID, Debit: inv.Total}}
	incomeByAccount := map[int]decimal.Decimal{}
	for _, l := range stored {
		incomeByAccount[l.IncomeAccountID] = incomeByAccount[l.IncomeAccountID].Add(l.LineTotal)
	}
	for accountID, amount := range incomeByAccount {
		if amount.IsPositive() {
			jeLines = append(jeLines, LineInput{AccountID: accountID, Credit: amount})
		}
	}
	if inv.TaxAmount.IsPositive() {
		jeLines = append(jeLines, LineInput{AccountID: taxPayableID, Credit: inv.TaxAmount})
	}
	var totalCOGS decimal.Decimal
	cogsByAccount := map[int]decimal.Decimal{}
	for _, is := range issues {
		cogsByAccount[is.expenseID] = cogsByAccount[is.expenseID].Add(is.cost)
		totalCOGS = totalCOGS.Add(is.cost)
	}
	for accountID, cost := range cogsByAccount {
		if cost.IsPositive() {
			jeLines = append(jeLines, LineInput{AccountID: accountID, Debit: cost})
		}
	}
	totalCOGS = money.Round2(totalCOGS)
	if totalCOGS.IsPositive() {
		jeLines = append(jeLines, LineInput{AccountID: *company.InventoryAccountID, Credit: totalCOGS})
	}

	entry, err := PostJournalEntry(ctx, tx, companyID, PostingInput{
		Date:                  inv.InvoiceDate,
		Description:           fmt.Sprintf("Invoice %s", inv.Number),
		LocationID:            inv.LocationID,
		Lines:                 jeLines,
		SkipAccountValidation: true,
	})
	if err != nil {
		return nil, err
	}

	for _, is := range issues {
		if _, err := tx.Exec(ctx,
			"UPDATE stock_moves SET journal_entry_id = $2 WHERE id = $1", is.moveID, entry.ID,
		); err != nil {
			return nil, fmt.Errorf("failed to link stock move: %w", err)
		}
	}
	if len(issues) > 0 {
		// Anchor for later cost recalculations against this entry.
		if _, err := tx.Exec(ctx, `
			INSERT INTO journal_entry_inventory_valuations (company_id, source_journal_entry_id, last_computed_cogs)
			VALUES ($1, $2, $3)
		`, companyID, entry.ID, totalCOGS); err != nil {
			return nil, fmt.Errorf("failed to record recognized cost: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		"UPDATE invoices SET status = $3, journal_entry_id = $4 WHERE id = $1 AND company_id = $2",
		inv.ID, companyID, StatusPosted, entry.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to mark invoice posted: %w", err)
	}
	inv.Status = StatusPosted
	inv.JournalEntryID = &entry.ID
	inv.Lines = stored

	if err := emitDocumentEvent(ctx, tx, companyID, outbox.TypeInvoicePosted, "Invoice",
		inv.ID, inv.Number, inv.CustomerID, inv.Total, entry.ID); err != nil {
		return nil, err
	}

	for _, is := range issues {
		if is.backdated {
			var firstItem int
			if err := tx.QueryRow(ctx,
				"SELECT item_id FROM stock_moves WHERE id = $1", is.moveID,
			).Scan(&firstItem); err != nil {
				return nil, fmt.Errorf("failed to read move item: %w", err)
			}
			if err := recalcForwardTx(ctx, tx, companyID, is.location, firstItem, inv.InvoiceDate); err != nil {
				return nil, err
			}
		}
	}
	return inv, nil
}

// VoidInvoiceTx reverses a posted invoice: mirror entry dated at the void
// date, stock re-entered at the originally recognized costs, status VOID.
// Settled money must be unwound first.
func VoidInvoiceTx(ctx context.Context, tx pgx.Tx, companyID, invoiceID int, date time.Time) (*Invoice, error) {
	inv, err := getInvoiceForUpdateTx(ctx, tx, companyID, invoiceID)
	if err != nil {
		return nil, err
	}
	switch inv.Status {
	case StatusPosted, StatusPartial, StatusPaid:
	case StatusDraft:
		if _, err := tx.Exec(ctx,
			"UPDATE invoices SET status = $3 WHERE id = $1 AND company_id = $2",
			inv.ID, companyID, StatusVoid,
		); err != nil {
			return nil, fmt.Errorf("failed to void draft invoice: %w", err)
		}
		inv.Status = StatusVoid
		return inv, nil
	default:
		return nil, E(KindState, "invoice %s is already void", inv.Number)
	}

	settled, err := invoiceSettledTx(ctx, tx, companyID, invoiceID)
	if err != nil {
		return nil, err
	}
	if settled.IsPositive() {
		return nil, E(KindState, "invoice %s has %s settled against it; reverse payments and applications first",
			inv.Number, settled.StringFixed(2))
	}
	if inv.JournalEntryID == nil {
		return nil, E(KindIntegrity, "posted invoice %s has no journal entry", inv.Number)
	}

	reversal, err := PostReversalTx(ctx, tx, companyID, *inv.JournalEntryID, date,
		fmt.Sprintf("Void invoice %s", inv.Number))
	if err != nil {
		return nil, err
	}

	// Re-enter issued stock at the frozen costs the sale recognized.
	rows, err := tx.Query(ctx, `
		SELECT location_id, item_id, quantity, unit_cost_applied
		FROM stock_moves
		WHERE company_id = $1 AND reference_type = $2 AND reference_id = $3 AND direction = 'OUT'
		ORDER BY id
	`, companyID, RefInvoice, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice stock moves: %w", err)
	}
	type reentry struct {
		locationID, itemID int
		qty, cost          decimal.Decimal
	}
	var reentries []reentry
	for rows.Next() {
		var r reentry
		if err := rows.Scan(&r.locationID, &r.itemID, &r.qty, &r.cost); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan invoice stock move: %w", err)
		}
		reentries = append(reentries, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stock move iteration error: %w", err)
	}
	for _, r := range reentries {
		_, backdated, err := ApplyMoveTx(ctx, tx, companyID, MoveInput{
			Date:           date,
			LocationID:     r.locationID,
			ItemID:         r.itemID,
			Direction:      "IN",
			Quantity:       r.qty,
			UnitCost:       r.cost,
			ReferenceType:  RefInvoiceVoid,
			ReferenceID:    invoiceID,
			JournalEntryID: &reversal.ID,
		})
		if err != nil {
			return nil, err
		}
		if backdated {
			if err := recalcForwardTx(ctx, tx, companyID, r.locationID, r.itemID, date); err != nil {
				return nil, err
			}
		}
	}

	if _, err := tx.Exec(ctx,
		"UPDATE invoices SET status = $3 WHERE id = $1 AND company_id = $2",
		inv.ID, companyID, StatusVoid,
	); err != nil {
		return nil, fmt.Errorf("failed to mark invoice void: %w", err)
	}
	inv.Status = StatusVoid

	if err := emitDocumentEvent(ctx, tx, companyID, outbox.TypeInvoiceVoided, "Invoice",
		inv.ID, inv.Number, inv.CustomerID, inv.Total, reversal.ID); err != nil {
		return nil, err
	}
	return inv, nil
}

// ── Payments ───────────────────────────────────────────────

// RecordPaymentTx settles money against a posted invoice. Over-settlement is
// refused; the invoice's paid amount is recomputed from the surviving rows
// rather than incremented.
func RecordPaymentTx(ctx context.Context, tx pgx.Tx, companyID int, in PaymentInput) (*Payment, error) {
	if !in.Amount.IsPositive() {
		return nil, E(KindValidation, "payment amount must be positive")
	}
	inv, err := getInvoiceForUpdateTx(ctx, tx, companyID, in.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusPosted && inv.Status != StatusPartial {
		return nil, E(KindState, "invoice %s is %s and cannot accept payments", inv.Number, inv.Status)
	}

	amount := money.Round2(in.Amount)
	settled, err := invoiceSettledTx(ctx, tx, companyID, inv.ID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(inv.Total.Sub(settled)) {
		return nil, E(KindValidation, "payment of %s exceeds the open balance %s on invoice %s",
			amount.StringFixed(2), inv.Total.Sub(settled).StringFixed(2), inv.Number)
	}

	if err := assertAccountsOwnedTx(ctx, tx, companyID, []LineInput{{AccountID: in.BankAccountID, Debit: amount}}); err != nil {
		return nil, err
	}
	company, err := GetCompanyQ(ctx, tx, companyID)
	if err != nil {
		return nil, err
	}
	if company.ARAccountID == nil {
		return nil, E(KindState, "company %d is missing system accounts", companyID)
	}

	entry, err := PostJournalEntry(ctx, tx, companyID, PostingInput{
		Date:        in.Date,
		Description: fmt.Sprintf("Payment for invoice %s", inv.Number),
		Lines: []LineInput{
			{AccountID: in.BankAccountID, Debit: amount},
			{AccountID: *company.ARAccountID, Credit: amount},
		},
		SkipAccountValidation: true,
	})
	if err != nil {
		return nil, err
	}

	p := &Payment{
		CompanyID:      companyID,
		InvoiceID:      inv.ID,
		PaymentDate:    money.Day(in.Date),
		Amount:         amount,
		BankAccountID:  in.BankAccountID,
		JournalEntryID: entry.ID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO payments (company_id, invoice_id, payment_date, amount, bank_account_id, journal_entry_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, companyID, inv.ID, p.PaymentDate, amount, in.BankAccountID, entry.ID).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}

	if err := recomputeInvoiceTx(ctx, tx, companyID, inv.ID); err != nil {
		return nil, err
	}
	if err := emitPaymentEvent(ctx, tx, companyID, outbox.TypePaymentRecorded, p.ID, inv.ID, amount, entry.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// ReversePaymentTx unwinds one payment with a mirror entry dated at the
// reversal date.
func ReversePaymentTx(ctx context.Context, tx pgx.Tx, companyID, paymentID int, date time.Time) (*Payment, error) {
	var p Payment
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, invoice_id, payment_date, amount, bank_account_id, journal_entry_id,
		       reversed_at, reversal_journal_entry_id, created_at
		FROM payments
		WHERE id = $1 AND company_id = $2
		FOR UPDATE
	`, paymentID, companyID).Scan(
		&p.ID, &p.CompanyID, &p.InvoiceID, &p.PaymentDate, &p.Amount, &p.BankAccountID,
		&p.JournalEntryID, &p.ReversedAt, &p.ReversalJournalEntryID, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "payment %d not found", paymentID)
		}
		return nil, fmt.Errorf("failed to fetch payment %d: %w", paymentID, err)
	}
	if p.ReversedAt != nil {
		return nil, E(KindState, "payment %d is already reversed", paymentID)
	}

	reversal, err := PostReversalTx(ctx, tx, companyID, p.JournalEntryID, date,
		fmt.Sprintf("Reverse payment %d", p.ID))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE payments SET reversed_at = NOW(), reversal_journal_entry_id = $3
		WHERE id = $1 AND company_id = $2
	`, p.ID, companyID, reversal.ID); err != nil {
		return nil, fmt.Errorf("failed to mark payment reversed: %w", err)
	}
	p.ReversedAt = &now
	p.ReversalJournalEntryID = &reversal.ID

	if err := recomputeInvoiceTx(ctx, tx, companyID, p.InvoiceID); err != nil {
		return nil, err
	}
	if err := emitPaymentEvent(ctx, tx, companyID, outbox.TypePaymentReversed, p.ID, p.InvoiceID, p.Amount, reversal.ID); err != nil {
		return nil, err
	}
	return &p, nil
}

// ── Credit notes ───────────────────────────────────────────

// IssueCreditNoteTx posts a credit note immediately: income and tax are
// backed out against the receivable, and returned goods optionally restock at
// the current average cost.
func IssueCreditNoteTx(ctx context.Context, tx pgx.Tx, companyID int, in CreditNoteInput) (*CreditNote, error) {
	if _, err := getCustomerQ(ctx, tx, companyID, in.CustomerID); err != nil {
		return nil, err
	}
	lines, totals, err := resolveDocLinesTx(ctx, tx, companyID, in.Lines)
	if err != nil {
		return nil, err
	}
	company, err := GetCompanyQ(ctx, tx, companyID)
	if err != nil {
		return nil, err
	}
	if company.ARAccountID == nil || company.InventoryAccountID == nil {
		return nil, E(KindState, "company %d is missing system accounts", companyID)
	}
	taxPayableID, err := EnsureSystemAccountTx(ctx, tx, companyID, SysTaxPayable)
	if err != nil {
		return nil, err
	}

	number, err := nextDocumentNumberTx(ctx, tx, companyID, "CN")
	if err != nil {
		return nil, err
	}

	cn := &CreditNote{
		CompanyID:  companyID,
		CustomerID: in.CustomerID,
		Number:     number,
		Status:     StatusPosted,
		CreditDate: money.Day(in.Date),
		Subtotal:   totals.Subtotal,
		TaxAmount:  totals.Tax,
		Total:      totals.Total,
		LocationID: in.LocationID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO credit_notes (company_id, customer_id, number, status, credit_date,
		                          subtotal, tax_amount, total, location_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, amount_applied, created_at
	`, companyID, in.CustomerID, number, StatusPosted, cn.CreditDate,
		totals.Subtotal, totals.Tax, totals.Total, in.LocationID).
		Scan(&cn.ID, &cn.AmountApplied, &cn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert credit note: %w", err)
	}
	for _, l := range lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO credit_note_lines (credit_note_id, company_id, item_id, description, quantity,
			                               unit_price, discount_amount, tax_rate, tax_amount, line_total, income_account_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, cn.ID, companyID, l.ItemID, l.Description, l.Quantity,
			l.UnitPrice, l.DiscountAmount, l.TaxRate, l.TaxAmount, l.LineTotal, l.IncomeAccountID); err != nil {
			return nil, fmt.Errorf("failed to insert credit note line: %w", err)
		}
	}

	jeLines := []LineInput{}
	for accountID, amount := range incomeBuckets(lines) {
		if amount.IsPositive() {
			jeLines = append(jeLines, LineInput{AccountID: accountID, Debit: amount})
		}
	}
	if totals.Tax.IsPositive() {
		jeLines = append(jeLines, LineInput{AccountID: taxPayableID, Debit: totals.Tax})
	}
	jeLines = append(jeLines, LineInput{AccountID: *company.ARAccountID, Credit: totals.Total})

	// Restocked goods come back at the current average cost.
	var restockTotal decimal.Decimal
	var restocks []MoveInput
	if in.Restock {
		for _, l := range lines {
			if !l.TrackInventory {
				continue
			}
			item, err := getItemQ(ctx, tx, companyID, l.ItemID)
			if err != nil {
				return nil, err
			}
			locationID, err := ResolveLocationTx(ctx, tx, companyID, in.LocationID, item)
			if err != nil {
				return nil, err
			}
			var avg decimal.Decimal
			err = tx.QueryRow(ctx, `
				SELECT COALESCE(avg_unit_cost, 0) FROM stock_balances
				WHERE company_id = $1 AND location_id = $2 AND item_id = $3
			`, companyID, locationID, l.ItemID).Scan(&avg)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("failed to read average cost: %w", err)
			}
			restocks = append(restocks, MoveInput{
				Date:          in.Date,
				LocationID:    locationID,
				ItemID:        l.ItemID,
				Direction:     "IN",
				Quantity:      l.Quantity,
				UnitCost:      avg,
				ReferenceType: RefCreditNote,
				ReferenceID:   cn.ID,
			})
			restockTotal = restockTotal.Add(money.Round2(l.Quantity.Mul(avg)))
		}
	}
	restockTotal = money.Round2(restockTotal)
	if restockTotal.IsPositive() {
		cogsID := 0
		if company.COGSAccountID != nil {
			cogsID = *company.COGSAccountID
		} else {
			cogsID, err = EnsureSystemAccountTx(ctx, tx, companyID, SysCOGS)
			if err != nil {
				return nil, err
			}
		}
		jeLines = append(jeLines,
			LineInput{AccountID: *company.InventoryAccountID, Debit: restockTotal},
			LineInput{AccountID: cogsID, Credit: restockTotal},
		)
	}

	entry, err := PostJournalEntry(ctx, tx, companyID, PostingInput{
		Date:                  in.Date,
		Description:           fmt.Sprintf("Credit note %s", number),
		LocationID:            in.LocationID,
		Lines:                 jeLines,
		SkipAccountValidation: true,
	})
	if err != nil {
		return nil, err
	}
	for i := range restocks {
		restocks[i].JournalEntryID = &entry.ID
		_, backdated, err := ApplyMoveTx(ctx, tx, companyID, restocks[i])
		if err != nil {
			return nil, err
		}
		if backdated {
			if err := recalcForwardTx(ctx, tx, companyID, restocks[i].LocationID, restocks[i].ItemID, in.Date); err != nil {
				return nil, err
			}
		}
	}

	if _, err := tx.Exec(ctx,
		"UPDATE credit_notes SET journal_entry_id = $3 WHERE id = $1 AND company_id = $2",
		cn.ID, companyID, entry.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to link credit note entry: %w", err)
	}
	cn.JournalEntryID = &entry.ID

	if err := emitDocumentEvent(ctx, tx, companyID, outbox.TypeCreditNotePosted, "CreditNote",
		cn.ID, cn.Number, cn.CustomerID, cn.Total, entry.ID); err != nil {
		return nil, err
	}
	return cn, nil
}

// ApplyCreditNoteTx offsets part of a credit note against an invoice. No
// journal entry: both sides already live in the receivable.
func ApplyCreditNoteTx(ctx context.Context, tx pgx.Tx, companyID, creditNoteID int, in ApplicationInput) (*CreditNote, error) {
	if !in.Amount.IsPositive() {
		return nil, E(KindValidation, "application amount must be positive")
	}
	var cn CreditNote
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, customer_id, number, status, credit_date,
		       subtotal, tax_amount, total, amount_applied, journal_entry_id, location_id, created_at
		FROM credit_notes
		WHERE id = $1 AND company_id = $2
		FOR UPDATE
	`, creditNoteID, companyID).Scan(
		&cn.ID, &cn.CompanyID, &cn.CustomerID, &cn.Number, &cn.Status, &cn.CreditDate,
		&cn.Subtotal, &cn.TaxAmount, &cn.Total, &cn.AmountApplied, &cn.JournalEntryID, &cn.LocationID, &cn.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "credit note %d not found", creditNoteID)
		}
		return nil, fmt.Errorf("failed to fetch credit note %d: %w", creditNoteID, err)
	}
	if cn.Status != StatusPosted {
		return nil, E(KindState, "credit note %s is %s", cn.Number, cn.Status)
	}

	inv, err := getInvoiceForUpdateTx(ctx, tx, companyID, in.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusPosted && inv.Status != StatusPartial {
		return nil, E(KindState, "invoice %s is %s and cannot accept applications", inv.Number, inv.Status)
	}
	if inv.CustomerID != cn.CustomerID {
		return nil, E(KindValidation, "credit note %s and invoice %s belong to different customers", cn.Number, inv.Number)
	}

	amount := money.Round2(in.Amount)
	creditRemaining := cn.Total.Sub(cn.AmountApplied)
	settled, err := invoiceSettledTx(ctx, tx, companyID, inv.ID)
	if err != nil {
		return nil, err
	}
	invoiceRemaining := inv.Total.Sub(settled)
	if amount.GreaterThan(creditRemaining) || amount.GreaterThan(invoiceRemaining) {
		return nil, E(KindValidation, "application of %s exceeds remaining credit %s or open balance %s",
			amount.StringFixed(2), creditRemaining.StringFixed(2), invoiceRemaining.StringFixed(2))
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO credit_note_applications (company_id, credit_note_id, invoice_id, amount)
		VALUES ($1, $2, $3, $4)
	`, companyID, cn.ID, inv.ID, amount); err != nil {
		return nil, fmt.Errorf("failed to record application: %w", err)
	}
	cn.AmountApplied = money.Round2(cn.AmountApplied.Add(amount))
	if _, err := tx.Exec(ctx,
		"UPDATE credit_notes SET amount_applied = $3 WHERE id = $1 AND company_id = $2",
		cn.ID, companyID, cn.AmountApplied,
	); err != nil {
		return nil, fmt.Errorf("failed to update credit note: %w", err)
	}

	if err := recomputeInvoiceTx(ctx, tx, companyID, inv.ID); err != nil {
		return nil, err
	}
	return &cn, nil
}

// ── Customer advances ──────────────────────────────────────

// ReceiveAdvanceTx books money received before any invoice exists as a
// liability.
func ReceiveAdvanceTx(ctx context.Context, tx pgx.Tx, companyID int, in CustomerAdvanceInput) (*CustomerAdvance, error) {
	if !in.Amount.IsPositive() {
		return nil, E(KindValidation, "advance amount must be positive")
	}
	if _, err := getCustomerQ(ctx, tx, companyID, in.CustomerID); err != nil {
		return nil, err
	}
	if err := assertAccountsOwnedTx(ctx, tx, companyID, []LineInput{{AccountID: in.BankAccountID, Debit: in.Amount}}); err != nil {
		return nil, err
	}
	advancesID, err := EnsureSystemAccountTx(ctx, tx, companyID, SysCustomerAdvances)
	if err != nil {
		return nil, err
	}

	amount := money.Round2(in.Amount)
	entry, err := PostJournalEntry(ctx, tx, companyID, PostingInput{
		Date:        in.Date,
		Description: fmt.Sprintf("Customer advance from customer %d", in.CustomerID),
		Lines: []LineInput{
			{AccountID: in.BankAccountID, Debit: amount},
			{AccountID: advancesID, Credit: amount},
		},
		SkipAccountValidation: true,
	})
	if err != nil {
		return nil, err
	}

	a := &CustomerAdvance{
		CompanyID:      companyID,
		CustomerID:     in.CustomerID,
		AdvanceDate:    money.Day(in.Date),
		Amount:         amount,
		BankAccountID:  in.BankAccountID,
		JournalEntryID: entry.ID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO customer_advances (company_id, customer_id, advance_date, amount, bank_account_id, journal_entry_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, amount_applied, created_at
	`, companyID, in.CustomerID, a.AdvanceDate, amount, in.BankAccountID, entry.ID).
		Scan(&a.ID, &a.AmountApplied, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert advance: %w", err)
	}
	return a, nil
}

// ApplyAdvanceTx moves part of a held advance onto an invoice: the liability
// is released against the receivable.
func ApplyAdvanceTx(ctx context.Context, tx pgx.Tx, companyID, advanceID int, in ApplicationInput) (*CustomerAdvance, error) {
	if !in.Amount.IsPositive() {
		return nil, E(KindValidation, "application amount must be positive")
	}
	var a CustomerAdvance
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, customer_id, advance_date, amount, amount_applied,
		       bank_account_id, journal_entry_id, created_at
		FROM customer_advances
		WHERE id = $1 AND company_id = $2
		FOR UPDATE
	`, advanceID, companyID).Scan(
		&a.ID, &a.CompanyID, &a.CustomerID, &a.AdvanceDate, &a.Amount, &a.AmountApplied,
		&a.BankAccountID, &a.JournalEntryID, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "advance %d not found", advanceID)
		}
		return nil, fmt.Errorf("failed to fetch advance %d: %w", advanceID, err)
	}

	inv, err := getInvoiceForUpdateTx(ctx, tx, companyID, in.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusPosted && inv.Status != StatusPartial {
		return nil, E(KindState, "invoice %s is %s and cannot accept applications", inv.Number, inv.Status)
	}
	if inv.CustomerID != a.CustomerID {
		return nil, E(KindValidation, "advance %d and invoice %s belong to different customers", a.ID, inv.Number)
	}

	amount := money.Round2(in.Amount)
	advanceRemaining := a.Amount.Sub(a.AmountApplied)
	settled, err := invoiceSettledTx(ctx, tx, companyID, inv.ID)
	if err != nil {
		return nil, err
	}
	invoiceRemaining := inv.Total.Sub(settled)
	if amount.GreaterThan(advanceRemaining) || amount.GreaterThan(invoiceRemaining) {
		return nil, E(KindValidation, "application of %s exceeds remaining advance %s or open balance %s",
			amount.StringFixed(2), advanceRemaining.StringFixed(2), invoiceRemaining.StringFixed(2))
	}

	company, err := GetCompanyQ(ctx, tx, companyID)
	if err != nil {
		return nil, err
	}
	if company.ARAccountID == nil {
		return nil, E(KindState, "company %d is missing system accounts", companyID)
	}
	advancesID, err := EnsureSystemAccountTx(ctx, tx, companyID, SysCustomerAdvances)
	if err != nil {
		return nil, err
	}
	if _, err := PostJournalEntry(ctx, tx, companyID, PostingInput{
		Date:        in.Date,
		Description: fmt.Sprintf("Apply advance %d to invoice %s", a.ID, inv.Number),
		Lines: []LineInput{
			{AccountID: advancesID, Debit: amount},
			{AccountID: *company.ARAccountID, Credit: amount},
		},
		SkipAccountValidation: true,
	}); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO customer_advance_applications (company_id, advance_id, invoice_id, amount)
		VALUES ($1, $2, $3, $4)
	`, companyID, a.ID, inv.ID, amount); err != nil {
		return nil, fmt.Errorf("failed to record advance application: %w", err)
	}
	a.AmountApplied = money.Round2(a.AmountApplied.Add(amount))
	if _, err := tx.Exec(ctx,
		"UPDATE customer_advances SET amount_applied = $3 WHERE id = $1 AND company_id = $2",
		a.ID, companyID, a.AmountApplied,
	); err != nil {
		return nil, fmt.Errorf("failed to update advance: %w", err)
	}

	if err := recomputeInvoiceTx(ctx, tx, companyID, inv.ID); err != nil {
		return nil, err
	}
	return &a, nil
}

// ── Shared helpers ─────────────────────────────────────────

// resolveDocLinesTx prices lines and resolves each item's income account and
// tracking flag.
func resolveDocLinesTx(ctx context.Context, tx pgx.Tx, companyID int, inputs []DocLineInput) ([]DocLine, DocTotals, error) {
	lines, totals, err := ComputeLines(inputs)
	if err != nil {
		return nil, DocTotals{}, err
	}
	for i := range lines {
		item, err := getItemQ(ctx, tx, companyID, lines[i].ItemID)
		if err != nil {
			return nil, DocTotals{}, err
		}
		lines[i].IncomeAccountID = item.IncomeAccountID
		lines[i].TrackInventory = item.TrackInventory
		if lines[i].Description == "" {
			lines[i].Description = item.Name
		}
	}
	return lines, totals, nil
}

// invoiceSettledTx recomputes settled money against an invoice from the
// surviving rows: active payments plus credit and advance applications.
func invoiceSettledTx(ctx context.Context, tx pgx.Tx, companyID, invoiceID int) (decimal.Decimal, error) {
	var settled decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT SUM(amount) FROM payments
			          WHERE company_id = $1 AND invoice_id = $2 AND reversed_at IS NULL), 0)
			+ COALESCE((SELECT SUM(amount) FROM credit_note_applications
			            WHERE company_id = $1 AND invoice_id = $2), 0)
			+ COALESCE((SELECT SUM(amount) FROM customer_advance_applications
			            WHERE company_id = $1 AND invoice_id = $2), 0)
	`, companyID, invoiceID).Scan(&settled)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute settled amount: %w", err)
	}
	return money.Round2(settled), nil
}

// recomputeInvoiceTx refreshes amount_paid and status from the surviving
// settlement rows.
func recomputeInvoiceTx(ctx context.Context, tx pgx.Tx, companyID, invoiceID int) error {
	settled, err := invoiceSettledTx(ctx, tx, companyID, invoiceID)
	if err != nil {
		return err
	}
	var total decimal.Decimal
	var status string
	err = tx.QueryRow(ctx,
		"SELECT total, status FROM invoices WHERE id = $1 AND company_id = $2",
		invoiceID, companyID,
	).Scan(&total, &status)
	if err != nil {
		return fmt.Errorf("failed to read invoice for recompute: %w", err)
	}
	if status == StatusDraft || status == StatusVoid {
		return nil
	}
	_, err = tx.Exec(ctx,
		"UPDATE invoices SET amount_paid = $3, status = $4 WHERE id = $1 AND company_id = $2",
		invoiceID, companyID, settled, deriveDocumentStatus(total, settled),
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice settlement: %w", err)
	}
	return nil
}

func getInvoiceForUpdateTx(ctx context.Context, tx pgx.Tx, companyID, invoiceID int) (*Invoice, error) {
	var inv Invoice
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, customer_id, number, status, invoice_date, due_date, currency,
		       exchange_rate, subtotal, tax_amount, total, amount_paid, journal_entry_id, location_id, created_at
		FROM invoices
		WHERE id = $1 AND company_id = $2
		FOR UPDATE
	`, invoiceID, companyID).Scan(
		&inv.ID, &inv.CompanyID, &inv.CustomerID, &inv.Number, &inv.Status, &inv.InvoiceDate,
		&inv.DueDate, &inv.Currency, &inv.ExchangeRate, &inv.Subtotal, &inv.TaxAmount, &inv.Total,
		&inv.AmountPaid, &inv.JournalEntryID, &inv.LocationID, &inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "invoice %d not found", invoiceID)
		}
		return nil, fmt.Errorf("failed to fetch invoice %d: %w", invoiceID, err)
	}
	return &inv, nil
}

// GetInvoiceQ loads an invoice with its lines, tenant-filtered.
func GetInvoiceQ(ctx context.Context, q Querier, companyID, invoiceID int) (*Invoice, error) {
	var inv Invoice
	err := q.QueryRow(ctx, `
		SELECT id, company_id, customer_id, number, status, invoice_date, due_date, currency,
		       exchange_rate, subtotal, tax_amount, total, amount_paid, journal_entry_id, location_id, created_at
		FROM invoices
		WHERE id = $1 AND company_id = $2
	`, invoiceID, companyID).Scan(
		&inv.ID, &inv.CompanyID, &inv.CustomerID, &inv.Number, &inv.Status, &inv.InvoiceDate,
		&inv.DueDate, &inv.Currency, &inv.ExchangeRate, &inv.Subtotal, &inv.TaxAmount, &inv.Total,
		&inv.AmountPaid, &inv.JournalEntryID, &inv.LocationID, &inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "invoice %d not found", invoiceID)
		}
		return nil, fmt.Errorf("failed to fetch invoice %d: %w", invoiceID, err)
	}
	lines, err := loadInvoiceLinesTx(ctx, q, companyID, invoiceID)
	if err != nil {
		return nil, err
	}
	inv.Lines = lines
	return &inv, nil
}

func loadInvoiceLinesTx(ctx context.Context, q Querier, companyID, invoiceID int) ([]InvoiceLine, error) {
	rows, err := q.Query(ctx, `
		SELECT id, invoice_id, company_id, item_id, description, quantity, unit_price,
		       discount_amount, tax_rate, tax_amount, line_total, income_account_id
		FROM invoice_lines
		WHERE invoice_id = $1 AND company_id = $2
		ORDER BY id
	`, invoiceID, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice lines: %w", err)
	}
	defer rows.Close()

	var out []InvoiceLine
	for rows.Next() {
		var l InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.CompanyID, &l.ItemID, &l.Description,
			&l.Quantity, &l.UnitPrice, &l.DiscountAmount, &l.TaxRate, &l.TaxAmount,
			&l.LineTotal, &l.IncomeAccountID); err != nil {
			return nil, fmt.Errorf("failed to scan invoice line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanInvoice(rows pgx.Rows, inv *Invoice) error {
	if err := rows.Scan(
		&inv.ID, &inv.CompanyID, &inv.CustomerID, &inv.Number, &inv.Status, &inv.InvoiceDate,
		&inv.DueDate, &inv.Currency, &inv.ExchangeRate, &inv.Subtotal, &inv.TaxAmount, &inv.Total,
		&inv.AmountPaid, &inv.JournalEntryID, &inv.LocationID, &inv.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to scan invoice: %w", err)
	}
	return nil
}

func emitDocumentEvent(ctx context.Context, tx pgx.Tx, companyID int, eventType, aggregateType string,
	docID int, number string, partyID int, total decimal.Decimal, entryID int) error {

	payload, err := json.Marshal(outbox.DocumentPostedPayload{
		DocumentID:     docID,
		DocumentNumber: number,
		PartyID:        partyID,
		Total:          total.StringFixed(2),
		JournalEntryID: entryID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal document payload: %w", err)
	}
	_, err = outbox.AppendTx(ctx, tx, outbox.Event{
		CompanyID:     companyID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   fmt.Sprintf("%d", docID),
		Payload:       payload,
	})
	return err
}

func emitPaymentEvent(ctx context.Context, tx pgx.Tx, companyID int, eventType string,
	paymentID, docID int, amount decimal.Decimal, entryID int) error {

	payload, err := json.Marshal(outbox.PaymentPayload{
		PaymentID:      paymentID,
		DocumentID:     docID,
		Amount:         amount.StringFixed(2),
		JournalEntryID: entryID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	_, err = outbox.AppendTx(ctx, tx, outbox.Event{
		CompanyID:     companyID,
		EventType:     eventType,
		AggregateType: "Payment",
		AggregateID:   fmt.Sprintf("%d", paymentID),
		Payload:       payload,
	})
	return err
}
