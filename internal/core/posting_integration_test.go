package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"accounting-core/internal/core"
	"accounting-core/internal/money"
	"accounting-core/internal/outbox"
)

func TestPostJournalEntry_BalancedEntryPersists(t *testing.T) {
	pool := setupTestDB(t)
	company := newTestCompany(t, pool, "Posting Co")
	ctx := context.Background()

	cashID := systemAccountID(t, pool, company.ID, "1000")
	salesID := systemAccountID(t, pool, company.ID, "4000")

	var entryID int
	err := inTestTx(t, pool, func(tx pgx.Tx) error {
		entry, err := core.PostJournalEntry(ctx, tx, company.ID, core.PostingInput{
			Date:        mustDay(t, "2026-02-10"),
			Description: "Cash sale",
			Lines: []core.LineInput{
				{AccountID: cashID, Debit: mustDecimal(t, "150.00")},
				{AccountID: salesID, Credit: mustDecimal(t, "150.00")},
			},
		})
		if err != nil {
			return err
		}
		entryID = entry.ID
		return nil
	})
	if err != nil {
		t.Fatalf("Posting failed: %v", err)
	}

	entry, err := core.GetJournalEntry(ctx, pool, company.ID, entryID)
	if err != nil {
		t.Fatalf("Failed to reload entry: %v", err)
	}
	if len(entry.Lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(entry.Lines))
	}
	if entry.EntryDate != mustDay(t, "2026-02-10") {
		t.Errorf("Entry date not normalized: %v", entry.EntryDate)
	}

	// The outbox row rides in the same transaction as the entry.
	var eventCount int
	err = pool.QueryRow(ctx,
		"SELECT count(*) FROM outbox_events WHERE company_id = $1 AND event_type = $2",
		company.ID, outbox.TypeJournalEntryCreated,
	).Scan(&eventCount)
	if err != nil {
		t.Fatalf("Failed to count outbox events: %v", err)
	}
	if eventCount != 1 {
		t.Errorf("Expected 1 journal.entry.created event, got %d", eventCount)
	}
}

func TestPostJournalEntry_RejectsImbalance(t *testing.T) {
	pool := setupTestDB(t)
	company := newTestCompany(t, pool, "Imbalance Co")
	ctx := context.Background()

	cashID := systemAccountID(t, pool, company.ID, "1000")
	salesID := systemAccountID(t, pool, company.ID, "4000")

	err := inTestTx(t, pool, func(tx pgx.Tx) error {
		_, err := core.PostJournalEntry(ctx, tx, company.ID, core.PostingInput{
			Date:        mustDay(t, "2026-02-10"),
			Description: "Off by a cent",
			Lines: []core.LineInput{
				{AccountID: cashID, Debit: mustDecimal(t, "100.00")},
				{AccountID: salesID, Credit: mustDecimal(t, "99.99")},
			},
		})
		return err
	})
	if !core.IsKind(err, core.KindImbalance) {
		t.Fatalf("Expected IMBALANCE, got %v", err)
	}

	var count int
	if err := pool.QueryRow(ctx,
		"SELECT count(*) FROM journal_entries WHERE company_id = $1", company.ID,
	).Scan(&count); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Imbalanced entry leaked into the journal: %d rows", count)
	}
}

func TestPostJournalEntry_RejectsTwoSidedLine(t *testing.T) {
	pool := setupTestDB(t)
	company := newTestCompany(t, pool, "Two Sided Co")
	ctx := context.Background()

	cashID := systemAccountID(t, pool, company.ID, "1000")
	salesID := systemAccountID(t, pool, company.ID, "4000")

	err := inTestTx(t, pool, func(tx pgx.Tx) error {
		_, err := core.PostJournalEntry(ctx, tx, company.ID, core.PostingInput{
			Date: mustDay(t, "2026-02-10"),
			Lines: []core.LineInput{
				{AccountID: cashID, Debit: mustDecimal(t, "50"), Credit: mustDecimal(t, "50")},
				{AccountID: salesID, Credit: mustDecimal(t, "0")},
			},
		})
		return err
	})
	if !core.IsKind(err, core.KindValidation) {
		t.Fatalf("Expected VALIDATION, got %v", err)
	}
}

func TestPostJournalEntry_ForeignAccountRefused(t *testing.T) {
	pool := setupTestDB(t)
	companyA := newTestCompany(t, pool, "Tenant A")
	companyB := newTestCompany(t, pool, "Tenant B")
	ctx := context.Background()

	cashA := systemAccountID(t, pool, companyA.ID, "1000")
	salesB := systemAccountID(t, pool, companyB.ID, "4000")

	err := inTestTx(t, pool, func(tx pgx.Tx) error {
		_, err := core.PostJournalEntry(ctx, tx, companyA.ID, core.PostingInput{
			Date: mustDay(t, "2026-02-10"),
			Lines: []core.LineInput{
				{AccountID: cashA, Debit: mustDecimal(t, "100")},
				{AccountID: salesB, Credit: mustDecimal(t, "100")},
			},
		})
		return err
	})
	if !core.IsKind(err, core.KindTenant) {
		t.Fatalf("Expected TENANT, got %v", err)
	}
}

func TestPostJournalEntry_ClosedPeriodRefused(t *testing.T) {
	pool := setupTestDB(t)
	company := newTestCompany(t, pool, "Closed Co")
	ctx := context.Background()

	cashID := systemAccountID(t, pool, company.ID, "1000")
	salesID := systemAccountID(t, pool, company.ID, "4000")

	periods := core.NewPeriodService(pool)
	if err := periods.ClosePeriod(ctx, company.ID, mustDay(t, "2026-01-31")); err != nil {
		t.Fatalf("ClosePeriod failed: %v", err)
	}

	post := func(date string) error {
		return inTestTx(t, pool, func(tx pgx.Tx) error {
			_, err := core.PostJournalEntry(ctx, tx, company.ID, core.PostingInput{
				Date:        mustDay(t, date),
				Description: "Period test",
				Lines: []core.LineInput{
					{AccountID: cashID, Debit: mustDecimal(t, "10")},
					{AccountID: salesID, Credit: mustDecimal(t, "10")},
				},
			})
			return err
		})
	}

	// The cutoff is inclusive: the boundary day itself is closed.
	if err := post("2026-01-31"); !core.IsKind(err, core.KindPeriodClosed) {
		t.Fatalf("Expected PERIOD_CLOSED on boundary day, got %v", err)
	}
	if err := post("2026-01-15"); !core.IsKind(err, core.KindPeriodClosed) {
		t.Fatalf("Expected PERIOD_CLOSED before boundary, got %v", err)
	}
	if err := post("2026-02-01"); err != nil {
		t.Fatalf("Posting after the boundary should succeed, got %v", err)
	}

	// Reopening lifts the guard.
	if err := periods.ReopenPeriod(ctx, company.ID, nil); err != nil {
		t.Fatalf("ReopenPeriod failed: %v", err)
	}
	if err := post("2026-01-15"); err != nil {
		t.Fatalf("Posting after reopen should succeed, got %v", err)
	}
}

func TestPostReversal_MirrorsLines(t *testing.T) {
	pool := setupTestDB(t)
	company := newTestCompany(t, pool, "Reversal Co")
	ctx := context.Background()

	cashID := systemAccountID(t, pool, company.ID, "1000")
	salesID := systemAccountID(t, pool, company.ID, "4000")

	var sourceID, reversalID int
	err := inTestTx(t, pool, func(tx pgx.Tx) error {
		entry, err := core.PostJournalEntry(ctx, tx, company.ID, core.PostingInput{
			Date:        mustDay(t, "2026-02-10"),
			Description: "To be reversed",
			Lines: []core.LineInput{
				{AccountID: cashID, Debit: mustDecimal(t, "500")},
				{AccountID: salesID, Credit: mustDecimal(t, "500")},
			},
		})
		if err != nil {
			return err
		}
		sourceID = entry.ID
		reversal, err := core.PostReversalTx(ctx, tx, company.ID, sourceID, mustDay(t, "2026-02-12"), "Correction")
		if err != nil {
			return err
		}
		reversalID = reversal.ID
		return nil
	})
	if err != nil {
		t.Fatalf("Reversal failed: %v", err)
	}

	reversal, err := core.GetJournalEntry(ctx, pool, company.ID, reversalID)
	if err != nil {
		t.Fatalf("Failed to load reversal: %v", err)
	}
	if len(reversal.Lines) != 2 {
		t.Fatalf("Expected 2 reversal lines, got %d", len(reversal.Lines))
	}
	for _, line := range reversal.Lines {
		switch line.AccountID {
		case cashID:
			if !line.Credit.Equal(mustDecimal(t, "500")) {
				t.Errorf("Cash line not mirrored: debit %s credit %s", line.Debit, line.Credit)
			}
		case salesID:
			if !line.Debit.Equal(mustDecimal(t, "500")) {
				t.Errorf("Sales line not mirrored: debit %s credit %s", line.Debit, line.Credit)
			}
		default:
			t.Errorf("Unexpected account %d in reversal", line.AccountID)
		}
	}
}

func TestDeactivateAccount_BlocksFurtherPosting(t *testing.T) {
	pool := setupTestDB(t)
	company := newTestCompany(t, pool, "Deactivate Co")
	ctx := context.Background()

	accounts := core.NewAccountService(pool)
	travel, err := accounts.CreateAccount(ctx, company.ID, "6000", "Travel", core.Expense)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	cashID := systemAccountID(t, pool, company.ID, "1000")

	post := func() error {
		return inTestTx(t, pool, func(tx pgx.Tx) error {
			_, err := core.PostJournalEntry(ctx, tx, company.ID, core.PostingInput{
				Date:        mustDay(t, "2026-02-10"),
				Description: "Taxi",
				Lines: []core.LineInput{
					{AccountID: travel.ID, Debit: mustDecimal(t, "25")},
					{AccountID: cashID, Credit: mustDecimal(t, "25")},
				},
			})
			return err
		})
	}

	// Reference the account, then switch it off.
	if err := post(); err != nil {
		t.Fatalf("Posting failed: %v", err)
	}
	if err := accounts.DeactivateAccount(ctx, company.ID, travel.ID); err != nil {
		t.Fatalf("DeactivateAccount failed: %v", err)
	}

	// Inactive accounts refuse new lines; posted history stays in place.
	if err := post(); !core.IsKind(err, core.KindTenant) {
		t.Fatalf("Expected TENANT on inactive account, got %v", err)
	}
	var lines int
	if err := pool.QueryRow(ctx,
		"SELECT count(*) FROM journal_lines WHERE company_id = $1 AND account_id = $2",
		company.ID, travel.ID,
	).Scan(&lines); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if lines != 1 {
		t.Errorf("Expected the original line to survive, got %d", lines)
	}

	if err := accounts.DeactivateAccount(ctx, company.ID, 999999); !core.IsKind(err, core.KindNotFound) {
		t.Fatalf("Expected NOT_FOUND for unknown account, got %v", err)
	}
}

func mustDay(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := money.ParseDay(s)
	if err != nil {
		t.Fatalf("Invalid day %q: %v", s, err)
	}
	return d
}
