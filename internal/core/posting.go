package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"accounting-core/internal/money"
	"accounting-core/internal/outbox"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// LineInput is one side of a posting: exactly one of Debit/Credit must be
// strictly positive.
type LineInput struct {
	AccountID int
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// PostingInput describes one balanced journal entry to append.
type PostingInput struct {
	Date            time.Time
	Description     string
	LocationID      *int
	CreatedByUserID *int
	Lines           []LineInput

	// SkipAccountValidation is used only by the inventory recalc, which
	// supplies trusted account ids resolved inside the same transaction.
	SkipAccountValidation bool

	// Event correlation. A zero CorrelationID gets a fresh uuid.
	CorrelationID uuid.UUID
	CausationID   *uuid.UUID
}

// PostJournalEntry appends a balanced entry plus its journal.entry.created
// outbox event inside the caller's transaction. All higher-level mutations
// (invoice post, payment, credit, purchase, inventory adjustment, void)
// compose one or more calls to this engine within a single transaction.
func PostJournalEntry(ctx context.Context, tx pgx.Tx, companyID int, in PostingInput) (*JournalEntry, error) {
	if companyID <= 0 {
		return nil, E(KindTenant, "posting requires a tenant")
	}
	if len(in.Lines) < 2 {
		return nil, E(KindValidation, "journal entry requires at least 2 lines, got %d", len(in.Lines))
	}

	var totalDebit, totalCredit decimal.Decimal
	for i, line := range in.Lines {
		if line.AccountID <= 0 {
			return nil, E(KindValidation, "line %d: missing account", i+1)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return nil, E(KindValidation, "line %d: negative amount", i+1)
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return nil, E(KindValidation, "line %d: exactly one of debit/credit must be positive", i+1)
		}
		totalDebit = totalDebit.Add(line.Debit)
		totalCredit = totalCredit.Add(line.Credit)
	}
	totalDebit = money.Round2(totalDebit)
	totalCredit = money.Round2(totalCredit)
	if !totalDebit.Equal(totalCredit) {
		return nil, E(KindImbalance, "journal entry does not balance: debits %s, credits %s",
			totalDebit.StringFixed(2), totalCredit.StringFixed(2))
	}
	if !totalDebit.IsPositive() {
		return nil, E(KindValidation, "journal entry must move a positive amount")
	}

	if err := assertPeriodOpenTx(ctx, tx, companyID, in.Date); err != nil {
		return nil, err
	}

	if !in.SkipAccountValidation {
		if err := assertAccountsOwnedTx(ctx, tx, companyID, in.Lines); err != nil {
			return nil, err
		}
	}

	entry := &JournalEntry{
		CompanyID:       companyID,
		EntryDate:       money.Day(in.Date),
		Description:     in.Description,
		LocationID:      in.LocationID,
		CreatedByUserID: in.CreatedByUserID,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO journal_entries (company_id, entry_date, description, location_id, created_by_user_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, companyID, entry.EntryDate, in.Description, in.LocationID, in.CreatedByUserID).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert journal entry: %w", err)
	}

	for _, line := range in.Lines {
		var l JournalLine
		err := tx.QueryRow(ctx, `
			INSERT INTO journal_lines (entry_id, company_id, account_id, debit, credit)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, entry.ID, companyID, line.AccountID,
			money.Round2(line.Debit), money.Round2(line.Credit)).Scan(&l.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert journal line: %w", err)
		}
		l.EntryID = entry.ID
		l.CompanyID = companyID
		l.AccountID = line.AccountID
		l.Debit = money.Round2(line.Debit)
		l.Credit = money.Round2(line.Credit)
		entry.Lines = append(entry.Lines, l)
	}

	payload, err := json.Marshal(outbox.JournalEntryCreatedPayload{
		EntryID:     entry.ID,
		EntryDate:   money.FormatDay(entry.EntryDate),
		Description: entry.Description,
		LineCount:   len(entry.Lines),
		TotalDebit:  totalDebit.StringFixed(2),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry payload: %w", err)
	}
	if _, err := outbox.AppendTx(ctx, tx, outbox.Event{
		CompanyID:     companyID,
		EventType:     outbox.TypeJournalEntryCreated,
		AggregateType: "JournalEntry",
		AggregateID:   fmt.Sprintf("%d", entry.ID),
		CorrelationID: in.CorrelationID,
		CausationID:   in.CausationID,
		Payload:       payload,
	}); err != nil {
		return nil, err
	}

	return entry, nil
}

// PostReversalTx appends the mirror image of an existing entry (debits and
// credits swapped) dated at reversalDate, subject to the same period guard.
func PostReversalTx(ctx context.Context, tx pgx.Tx, companyID, sourceEntryID int, reversalDate time.Time, description string) (*JournalEntry, error) {
	rows, err := tx.Query(ctx, `
		SELECT account_id, debit, credit
		FROM journal_lines
		WHERE entry_id = $1 AND company_id = $2
		ORDER BY id
	`, sourceEntryID, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lines of entry %d: %w", sourceEntryID, err)
	}
	var lines []LineInput
	for rows.Next() {
		var accountID int
		var debit, credit decimal.Decimal
		if err := rows.Scan(&accountID, &debit, &credit); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan line of entry %d: %w", sourceEntryID, err)
		}
		lines = append(lines, LineInput{AccountID: accountID, Debit: credit, Credit: debit})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("line iteration error for entry %d: %w", sourceEntryID, err)
	}
	if len(lines) == 0 {
		return nil, E(KindNotFound, "journal entry %d not found", sourceEntryID)
	}

	return PostJournalEntry(ctx, tx, companyID, PostingInput{
		Date:        reversalDate,
		Description: description,
		Lines:       lines,
		// Account ids come straight from the original entry's rows.
		SkipAccountValidation: true,
	})
}

// GetJournalEntry loads an entry with its lines, tenant-filtered.
func GetJournalEntry(ctx context.Context, q Querier, companyID, entryID int) (*JournalEntry, error) {
	var e JournalEntry
	err := q.QueryRow(ctx, `
		SELECT id, company_id, entry_date, description, location_id, created_by_user_id, created_at
		FROM journal_entries
		WHERE id = $1 AND company_id = $2
	`, entryID, companyID).Scan(
		&e.ID, &e.CompanyID, &e.EntryDate, &e.Description, &e.LocationID, &e.CreatedByUserID, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "journal entry %d not found", entryID)
		}
		return nil, fmt.Errorf("failed to fetch journal entry %d: %w", entryID, err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, entry_id, company_id, account_id, debit, credit
		FROM journal_lines
		WHERE entry_id = $1 AND company_id = $2
		ORDER BY id
	`, entryID, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lines of entry %d: %w", entryID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var l JournalLine
		if err := rows.Scan(&l.ID, &l.EntryID, &l.CompanyID, &l.AccountID, &l.Debit, &l.Credit); err != nil {
			return nil, fmt.Errorf("failed to scan journal line: %w", err)
		}
		e.Lines = append(e.Lines, l)
	}
	return &e, rows.Err()
}

// assertAccountsOwnedTx verifies every line's account belongs to the tenant
// and is active.
func assertAccountsOwnedTx(ctx context.Context, tx pgx.Tx, companyID int, lines []LineInput) error {
	ids := make([]int, 0, len(lines))
	seen := map[int]bool{}
	for _, l := range lines {
		if !seen[l.AccountID] {
			seen[l.AccountID] = true
			ids = append(ids, l.AccountID)
		}
	}
	var count int
	err := tx.QueryRow(ctx,
		"SELECT count(*) FROM accounts WHERE company_id = $1 AND id = ANY($2) AND is_active",
		companyID, ids,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to validate line accounts: %w", err)
	}
	if count != len(ids) {
		return E(KindTenant, "one or more accounts do not belong to this tenant or are inactive")
	}
	return nil
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx, enabling shared lookups.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}
