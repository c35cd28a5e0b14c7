package core_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"accounting-core/internal/core"
	"accounting-core/internal/outbox"
)

func TestInvoiceLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	company := newTestCompany(t, pool, "Sales Co")
	ctx := context.Background()

	customer := newTestCustomer(t, pool, company.ID, "Acme Ltd")
	item := newTestItem(t, pool, company.ID, "Consulting", false, "100.00")
	cashID := systemAccountID(t, pool, company.ID, "1000")

	sales := core.NewSalesService(pool)

	// Draft carries server-computed totals: 2 x 100 + 5% tax = 210.
	draft, err := sales.CreateInvoice(ctx, company.ID, core.InvoiceInput{
		CustomerID: customer.ID,
		Date:       mustDay(t, "2026-03-01"),
		Lines: []core.DocLineInput{
			{ItemID: item.ID, Quantity: mustDecimal(t, "2"), UnitPrice: mustDecimal(t, "100.00"), TaxRate: mustDecimal(t, "0.05")},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	if draft.Status != core.StatusDraft {
		t.Fatalf("Expected DRAFT, got %s", draft.Status)
	}
	if !draft.Total.Equal(mustDecimal(t, "210.00")) {
		t.Fatalf("Expected total 210.00, got %s", draft.Total)
	}
	if draft.JournalEntryID != nil {
		t.Error("Draft must not touch the ledger")
	}

	// Posting writes the AR entry and emits the event.
	posted, err := sales.PostInvoice(ctx, company.ID, draft.ID)
	if err != nil {
		t.Fatalf("PostInvoice failed: %v", err)
	}
	if posted.Status != core.StatusPosted {
		t.Fatalf("Expected POSTED, got %s", posted.Status)
	}
	if posted.JournalEntryID == nil {
		t.Fatal("Posted invoice missing journal entry")
	}
	var eventCount int
	if err := pool.QueryRow(ctx,
		"SELECT count(*) FROM outbox_events WHERE company_id = $1 AND event_type = $2",
		company.ID, outbox.TypeInvoicePosted,
	).Scan(&eventCount); err != nil {
		t.Fatalf("Outbox count failed: %v", err)
	}
	if eventCount != 1 {
		t.Errorf("Expected 1 invoice.posted event, got %d", eventCount)
	}

	// Posting twice is a state error.
	if _, err := sales.PostInvoice(ctx, company.ID, draft.ID); !core.IsKind(err, core.KindState) {
		t.Fatalf("Expected STATE on double post, got %v", err)
	}

	// Partial payment flips to PARTIAL; the rest flips to PAID.
	if _, err := sales.RecordPayment(ctx, company.ID, core.PaymentInput{
		InvoiceID:     draft.ID,
		Date:          mustDay(t, "2026-03-05"),
		Amount:        mustDecimal(t, "60.00"),
		BankAccountID: cashID,
	}); err != nil {
		t.Fatalf("Partial payment failed: %v", err)
	}
	inv, err := sales.GetInvoice(ctx, company.ID, draft.ID)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if inv.Status != core.StatusPartial {
		t.Fatalf("Expected PARTIAL, got %s", inv.Status)
	}
	if !inv.AmountPaid.Equal(mustDecimal(t, "60.00")) {
		t.Errorf("Expected amount_paid 60.00, got %s", inv.AmountPaid)
	}

	// Over-settlement of the open balance is refused.
	if _, err := sales.RecordPayment(ctx, company.ID, core.PaymentInput{
		InvoiceID:     draft.ID,
		Date:          mustDay(t, "2026-03-06"),
		Amount:        mustDecimal(t, "200.00"),
		BankAccountID: cashID,
	}); !core.IsKind(err, core.KindValidation) {
		t.Fatalf("Expected VALIDATION on overpayment, got %v", err)
	}

	payment, err := sales.RecordPayment(ctx, company.ID, core.PaymentInput{
		InvoiceID:     draft.ID,
		Date:          mustDay(t, "2026-03-07"),
		Amount:        mustDecimal(t, "150.00"),
		BankAccountID: cashID,
	})
	if err != nil {
		t.Fatalf("Final payment failed: %v", err)
	}
	inv, _ = sales.GetInvoice(ctx, company.ID, draft.ID)
	if inv.Status != core.StatusPaid {
		t.Fatalf("Expected PAID, got %s", inv.Status)
	}

	// Voiding a settled invoice is refused until payments are reversed.
	if _, err := sales.VoidInvoice(ctx, company.ID, draft.ID, mustDay(t, "2026-03-08")); !core.IsKind(err, core.KindState) {
		t.Fatalf("Expected STATE on voiding a paid invoice, got %v", err)
	}

	// Reversing a payment reopens the balance and re-derives the status.
	if _, err := sales.ReversePayment(ctx, company.ID, payment.ID, mustDay(t, "2026-03-09")); err != nil {
		t.Fatalf("ReversePayment failed: %v", err)
	}
	inv, _ = sales.GetInvoice(ctx, company.ID, draft.ID)
	if inv.Status != core.StatusPartial {
		t.Fatalf("Expected PARTIAL after reversal, got %s", inv.Status)
	}
	if !inv.AmountPaid.Equal(mustDecimal(t, "60.00")) {
		t.Errorf("Expected amount_paid 60.00 after reversal, got %s", inv.AmountPaid)
	}

	// A reversed payment cannot be reversed again.
	if _, err := sales.ReversePayment(ctx, company.ID, payment.ID, mustDay(t, "2026-03-10")); !core.IsKind(err, core.KindState) {
		t.Fatalf("Expected STATE on double reversal, got %v", err)
	}
}

func TestPostInvoice_SplitsIncomeByLineAccount(t *testing.T) {
	pool := setupTestDB(t)
	company := newTestCompany(t, pool, "Split Co")
	ctx := context.Background()

	customer := newTestCustomer(t, pool, company.ID, "Acme Ltd")
	serviceIncome, err := core.NewAccountService(pool).CreateAccount(ctx, company.ID, "4100", "Service Income", core.Income)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	goods := newTestItem(t, pool, company.ID, "Widget", false, "100.00")
	install, err := core.NewMasterDataService(pool).CreateItem(ctx, company.ID, core.ItemInput{
		Name:            "Install",
		Type:            core.ItemService,
		SellingPrice:    mustDecimal(t, "40.00"),
		IncomeAccountID: &serviceIncome.ID,
	})
	if err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}

	sales := core.NewSalesService(pool)
	inv, err := sales.CreateInvoice(ctx, company.ID, core.InvoiceInput{
		CustomerID: customer.ID,
		Date:       mustDay(t, "2026-03-01"),
		Lines: []core.DocLineInput{
			{ItemID: goods.ID, Quantity: mustDecimal(t, "2"), UnitPrice: mustDecimal(t, "100.00")},
			{ItemID: install.ID, Quantity: mustDecimal(t, "1"), UnitPrice: mustDecimal(t, "40.00")},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	posted, err := sales.PostInvoice(ctx, company.ID, inv.ID)
	if err != nil {
		t.Fatalf("PostInvoice failed: %v", err)
	}

	// Each line's revenue lands on that line's income account.
	salesID := systemAccountID(t, pool, company.ID, "4000")
	arID := systemAccountID(t, pool, company.ID, "1100")
	var arDebit, salesCredit, serviceCredit string
	err = pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(debit) FILTER (WHERE account_id = $2), 0)::text,
		       COALESCE(SUM(credit) FILTER (WHERE account_id = $3), 0)::text,
		       COALESCE(SUM(credit) FILTER (WHERE account_id = $4), 0)::text
		FROM journal_lines WHERE entry_id = $1
	`, *posted.JournalEntryID, arID, salesID, serviceIncome.ID).Scan(&arDebit, &salesCredit, &serviceCredit)
	if err != nil {
		t.Fatalf("Failed to load entry lines: %v", err)
	}
	if !mustDecimal(t, arDebit).Equal(mustDecimal(t, "240.00")) {
		t.Errorf("Expected 240.00 debited to receivables, got %s", arDebit)
	}
	if !mustDecimal(t, salesCredit).Equal(mustDecimal(t, "200.00")) {
		t.Errorf("Expected 200.00 credited to sales income, got %s", salesCredit)
	}
	if !mustDecimal(t, serviceCredit).Equal(mustDecimal(t, "40.00")) {
		t.Errorf("Expected 40.00 credited to service income, got %s", serviceCredit)
	}
}

func TestVoidInvoice_BackdatedReentryRecostsLaterOuts(t *testing.T) {
	pool := setupTestDB(t)
	company := newTestCompany(t, pool, "Recost Co")
	ctx := context.Background()

	customer := newTestCustomer(t, pool, company.ID, "Acme Ltd")
	item := newTestItem(t, pool, company.ID, "Widget", true, "300.00")
	inventory := core.NewInventoryService(pool)
	sales := core.NewSalesService(pool)
	locationID := *company.DefaultLocationID

	// Day 1: receive 10 @ 100.
	if _, err := inventory.AdjustStock(ctx, company.ID, core.AdjustmentInput{
		Date:      mustDay(t, "2026-06-01"),
		ItemID:    item.ID,
		Direction: "IN",
		Quantity:  mustDecimal(t, "10"),
		UnitCost:  mustDecimal(t, "100.00"),
	}); err != nil {
		t.Fatalf("First IN failed: %v", err)
	}

	// Day 2: sell 5, recognized at the average of 100.
	inv, err := sales.CreateInvoice(ctx, company.ID, core.InvoiceInput{
		CustomerID: customer.ID,
		Date:       mustDay(t, "2026-06-02"),
		Lines: []core.DocLineInput{
			{ItemID: item.ID, Quantity: mustDecimal(t, "5"), UnitPrice: mustDecimal(t, "300.00")},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	if _, err := sales.PostInvoice(ctx, company.ID, inv.ID); err != nil {
		t.Fatalf("PostInvoice failed: %v", err)
	}

	// Day 3: receive 10 @ 200, lifting the average to 2500/15.
	if _, err := inventory.AdjustStock(ctx, company.ID, core.AdjustmentInput{
		Date:      mustDay(t, "2026-06-03"),
		ItemID:    item.ID,
		Direction: "IN",
		Quantity:  mustDecimal(t, "10"),
		UnitCost:  mustDecimal(t, "200.00"),
	}); err != nil {
		t.Fatalf("Second IN failed: %v", err)
	}

	// Day 10: issue 3 at the running average.
	outMove, err := inventory.AdjustStock(ctx, company.ID, core.AdjustmentInput{
		Date:      mustDay(t, "2026-06-10"),
		ItemID:    item.ID,
		Direction: "OUT",
		Quantity:  mustDecimal(t, "3"),
	})
	if err != nil {
		t.Fatalf("OUT failed: %v", err)
	}
	if !outMove.TotalCostApplied.Equal(mustDecimal(t, "500.00")) {
		t.Fatalf("Expected OUT recognized at 500.00, got %s", outMove.TotalCostApplied)
	}

	// Void the sale dated day 5: its re-entry at the frozen cost of 100 sits
	// before the day-10 issue, so that issue replays on an average of 150.
	voided, err := sales.VoidInvoice(ctx, company.ID, inv.ID, mustDay(t, "2026-06-05"))
	if err != nil {
		t.Fatalf("VoidInvoice failed: %v", err)
	}
	if voided.Status != core.StatusVoid {
		t.Fatalf("Expected VOID, got %s", voided.Status)
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
	if !mustDecimal(t, recostedTotal).Equal(mustDecimal(t, "450")) {
		t.Errorf("Expected OUT total recosted to 450, got %s", recostedTotal)
	}

	balance, err := inventory.GetBalance(ctx, company.ID, locationID, item.ID)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.QtyOnHand.Equal(mustDecimal(t, "17")) {
		t.Errorf("Expected qty 17, got %s", balance.QtyOnHand)
	}
	if !balance.InventoryValue.Equal(mustDecimal(t, "2550")) {
		t.Errorf("Expected value 2550, got %s", balance.InventoryValue)
	}

	// The day-10 issue over-recognized 50; the compensation credits it back.
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
	if compDate != "2026-06-10" {
		t.Errorf("Expected compensating entry dated 2026-06-10, got %s", compDate)
	}
	var inventoryDebit, cogsCredit string
	err = pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(debit) FILTER (WHERE account_id = $2), 0)::text,
		       COALESCE(SUM(credit) FILTER (WHERE account_id = $3), 0)::text
		FROM journal_lines WHERE entry_id = $1
	`, compEntryID, inventoryID, cogsID).Scan(&inventoryDebit, &cogsCredit)
	if err != nil {
		t.Fatalf("Failed to load compensating lines: %v", err)
	}
	if !mustDecimal(t, inventoryDebit).Equal(mustDecimal(t, "50")) {
		t.Errorf("Expected 50 debited to inventory, got %s", inventoryDebit)
	}
	if !mustDecimal(t, cogsCredit).Equal(mustDecimal(t, "50")) {
		t.Errorf("Expected 50 credited to cost of goods, got %s", cogsCredit)
	}

	// The compensation's event chains back to the source entry.
	var sourceEntryID int
	if err := pool.QueryRow(ctx,
		"SELECT journal_entry_id FROM stock_moves WHERE id = $1", outMove.ID,
	).Scan(&sourceEntryID); err != nil {
		t.Fatalf("Failed to read source entry: %v", err)
	}
	var causationID *string
	err = pool.QueryRow(ctx, `
		SELECT causation_id::text FROM outbox_events
		WHERE company_id = $1 AND aggregate_type = 'JournalEntry' AND aggregate_id = $2
	`, company.ID, fmt.Sprintf("%d", compEntryID)).Scan(&causationID)
	if err != nil {
		t.Fatalf("Failed to read compensating event: %v", err)
	}
	expected := uuid.NewSHA1(uuid.NameSpaceOID,
		[]byte(fmt.Sprintf("journal-entry:%d:%d", company.ID, sourceEntryID)))
	if causationID == nil || *causationID != expected.String() {
		t.Errorf("Expected causation id %s, got %v", expected, causationID)
	}
}

func TestVoidDraftInvoice(t *testing.T) {
	pool := setupTestDB(t)
	company := newTestCompany(t, pool, "Void Co")
	ctx := context.Background()

	customer := newTestCustomer(t, pool, company.ID, "Acme Ltd")
	item := newTestItem(t, pool, company.ID, "Consulting", false, "100.00")
	sales := core.NewSalesService(pool)

	draft, err := sales.CreateInvoice(ctx, company.ID, core.InvoiceInput{
		CustomerID: customer.ID,
		Date:       mustDay(t, "2026-03-01"),
		Lines: []core.DocLineInput{
			{ItemID: item.ID, Quantity: mustDecimal(t, "1"), UnitPrice: mustDecimal(t, "100.00")},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	voided, err := sales.VoidInvoice(ctx, company.ID, draft.ID, mustDay(t, "2026-03-02"))
	if err != nil {
		t.Fatalf("VoidInvoice failed: %v", err)
	}
	if voided.Status != core.StatusVoid {
		t.Fatalf("Expected VOID, got %s", voided.Status)
	}

	// Draft voids never touch the ledger.
	var entries int
	if err := pool.QueryRow(ctx,
		"SELECT count(*) FROM journal_entries WHERE company_id = $1", company.ID,
	).Scan(&entries); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if entries != 0 {
		t.Errorf("Draft void produced %d journal entries", entries)
	}
}

func TestCreditNoteApplication(t *testing.T) {
	pool := setupTestDB(t)
	company := newTestCompany(t, pool, "Credit Co")
	ctx := context.Background()

	customer := newTestCustomer(t, pool, company.ID, "Acme Ltd")
	item := newTestItem(t, pool, company.ID, "Widget", false, "50.00")
	sales := core.NewSalesService(pool)

	invoice, err := sales.CreateInvoice(ctx, company.ID, core.InvoiceInput{
		CustomerID: customer.ID,
		Date:       mustDay(t, "2026-03-01"),
		Lines: []core.DocLineInput{
			{ItemID: item.ID, Quantity: mustDecimal(t, "4"), UnitPrice: mustDecimal(t, "50.00")},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	if _, err := sales.PostInvoice(ctx, company.ID, invoice.ID); err != nil {
		t.Fatalf("PostInvoice failed: %v", err)
	}

	cn, err := sales.IssueCreditNote(ctx, company.ID, core.CreditNoteInput{
		CustomerID: customer.ID,
		Date:       mustDay(t, "2026-03-03"),
		Lines: []core.DocLineInput{
			{ItemID: item.ID, Quantity: mustDecimal(t, "1"), UnitPrice: mustDecimal(t, "50.00")},
		},
	})
	if err != nil {
		t.Fatalf("IssueCreditNote failed: %v", err)
	}
	if cn.Status != core.StatusPosted {
		t.Fatalf("Expected credit note POSTED, got %s", cn.Status)
	}

	applied, err := sales.ApplyCreditNote(ctx, company.ID, cn.ID, core.ApplicationInput{
		InvoiceID: invoice.ID,
		Amount:    mustDecimal(t, "50.00"),
		Date:      mustDay(t, "2026-03-04"),
	})
	if err != nil {
		t.Fatalf("ApplyCreditNote failed: %v", err)
	}
	if !applied.AmountApplied.Equal(mustDecimal(t, "50.00")) {
		t.Errorf("Expected 50.00 applied, got %s", applied.AmountApplied)
	}

	// Applications count toward settlement, so status re-derives to PARTIAL.
	inv, err := sales.GetInvoice(ctx, company.ID, invoice.ID)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if inv.Status != core.StatusPartial {
		t.Fatalf("Expected PARTIAL after application, got %s", inv.Status)
	}

	// Over-application beyond the note's remaining balance is refused.
	if _, err := sales.ApplyCreditNote(ctx, company.ID, cn.ID, core.ApplicationInput{
		InvoiceID: invoice.ID,
		Amount:    mustDecimal(t, "10.00"),
		Date:      mustDay(t, "2026-03-05"),
	}); !core.IsKind(err, core.KindValidation) {
		t.Fatalf("Expected VALIDATION on over-application, got %v", err)
	}
}

func TestCustomerAdvanceFlow(t *testing.T) {
	pool := setupTestDB(t)
	company := newTestCompany(t, pool, "Advance Co")
	ctx := context.Background()

	customer := newTestCustomer(t, pool, company.ID, "Acme Ltd")
	item := newTestItem(t, pool, company.ID, "Widget", false, "100.00")
	cashID := systemAccountID(t, pool, company.ID, "1000")
	sales := core.NewSalesService(pool)

	advance, err := sales.ReceiveAdvance(ctx, company.ID, core.CustomerAdvanceInput{
		CustomerID:    customer.ID,
		Date:          mustDay(t, "2026-03-01"),
		Amount:        mustDecimal(t, "80.00"),
		BankAccountID: cashID,
	})
	if err != nil {
		t.Fatalf("ReceiveAdvance failed: %v", err)
	}

	invoice, err := sales.CreateInvoice(ctx, company.ID, core.InvoiceInput{
		CustomerID: customer.ID,
		Date:       mustDay(t, "2026-03-02"),
		Lines: []core.DocLineInput{
			{ItemID: item.ID, Quantity: mustDecimal(t, "1"), UnitPrice: mustDecimal(t, "100.00")},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	if _, err := sales.PostInvoice(ctx, company.ID, invoice.ID); err != nil {
		t.Fatalf("PostInvoice failed: %v", err)
	}

	applied, err := sales.ApplyAdvance(ctx, company.ID, advance.ID, core.ApplicationInput{
		InvoiceID: invoice.ID,
		Amount:    mustDecimal(t, "80.00"),
		Date:      mustDay(t, "2026-03-03"),
	})
	if err != nil {
		t.Fatalf("ApplyAdvance failed: %v", err)
	}
	if !applied.AmountApplied.Equal(mustDecimal(t, "80.00")) {
		t.Errorf("Expected 80.00 applied, got %s", applied.AmountApplied)
	}

	inv, _ := sales.GetInvoice(ctx, company.ID, invoice.ID)
	if inv.Status != core.StatusPartial {
		t.Fatalf("Expected PARTIAL, got %s", inv.Status)
	}
}
