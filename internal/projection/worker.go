// Package projection maintains the read models derived from the event
// stream: per-day account balances and daily income/expense summaries. The
// worker is an at-least-once consumer that dedupes on event id, so the
// projections equal what a from-scratch replay of the ledger produces.
package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"accounting-core/internal/core"
	"accounting-core/internal/money"
	"accounting-core/internal/outbox"
)

// Worker consumes journal.entry.created envelopes and folds them into the
// projection tables.
type Worker struct {
	pool *pgxpool.Pool
	src  <-chan outbox.Envelope
	log  zerolog.Logger
}

func NewWorker(pool *pgxpool.Pool, src <-chan outbox.Envelope, log zerolog.Logger) *Worker {
	return &Worker{pool: pool, src: src, log: log}
}

// Run consumes until ctx is cancelled. A failed envelope is logged and
// skipped; because the dedupe row only exists after a successful fold, the
// event is reprocessed on redelivery.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-w.src:
			if !ok {
				return nil
			}
			applied, err := w.Handle(ctx, env)
			if err != nil {
				w.log.Error().Err(err).
					Str("event_id", env.EventID.String()).
					Str("event_type", env.EventType).
					Msg("projection fold failed")
				continue
			}
			if applied {
				w.log.Debug().
					Str("event_id", env.EventID.String()).
					Msg("projection updated")
			}
		}
	}
}

// Handle folds one envelope. It returns false when the event was a duplicate
// or of a type the projections ignore.
func (w *Worker) Handle(ctx context.Context, env outbox.Envelope) (bool, error) {
	if env.EventType != outbox.TypeJournalEntryCreated {
		return false, nil
	}
	var payload outbox.JournalEntryCreatedPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return false, fmt.Errorf("failed to decode entry payload: %w", err)
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Insert-first dedupe: a second delivery conflicts and folds nothing.
	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_events (company_id, event_id)
		VALUES ($1, $2)
		ON CONFLICT (company_id, event_id) DO NOTHING
	`, env.TenantID, env.EventID)
	if err != nil {
		return false, fmt.Errorf("failed to record processed event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	entry, err := core.GetJournalEntry(ctx, tx, env.TenantID, payload.EntryID)
	if err != nil {
		return false, err
	}
	day := money.Day(entry.EntryDate)

	for _, line := range entry.Lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO account_balances (company_id, day, account_id, debit_total, credit_total)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (company_id, day, account_id)
			DO UPDATE SET debit_total  = account_balances.debit_total + EXCLUDED.debit_total,
			              credit_total = account_balances.credit_total + EXCLUDED.credit_total
		`, env.TenantID, day, line.AccountID, line.Debit, line.Credit); err != nil {
			return false, fmt.Errorf("failed to fold account balance: %w", err)
		}
	}

	// Income grows on the credit side, expense on the debit side.
	if _, err := tx.Exec(ctx, `
		INSERT INTO daily_summaries (company_id, day, total_income, total_expense)
		SELECT l.company_id, $2,
		       COALESCE(SUM(CASE WHEN a.type = 'INCOME'  THEN l.credit - l.debit ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN a.type = 'EXPENSE' THEN l.debit - l.credit ELSE 0 END), 0)
		FROM journal_lines l
		JOIN accounts a ON a.id = l.account_id
		WHERE l.entry_id = $1 AND l.company_id = $3
		GROUP BY l.company_id
		ON CONFLICT (company_id, day)
		DO UPDATE SET total_income  = daily_summaries.total_income + EXCLUDED.total_income,
		              total_expense = daily_summaries.total_expense + EXCLUDED.total_expense
	`, entry.ID, day, env.TenantID); err != nil {
		return false, fmt.Errorf("failed to fold daily summary: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit projection fold: %w", err)
	}
	return true, nil
}

// Rebuild drops and recomputes a tenant's projections straight from the
// ledger, then marks every already-emitted entry event as processed so the
// live worker does not double-fold redeliveries.
func Rebuild(ctx context.Context, pool *pgxpool.Pool, companyID int) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM account_balances WHERE company_id = $1", companyID); err != nil {
		return fmt.Errorf("failed to clear account balances: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM daily_summaries WHERE company_id = $1", companyID); err != nil {
		return fmt.Errorf("failed to clear daily summaries: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO account_balances (company_id, day, account_id, debit_total, credit_total)
		SELECT l.company_id, e.entry_date, l.account_id, SUM(l.debit), SUM(l.credit)
		FROM journal_lines l
		JOIN journal_entries e ON e.id = l.entry_id
		WHERE l.company_id = $1
		GROUP BY l.company_id, e.entry_date, l.account_id
	`, companyID); err != nil {
		return fmt.Errorf("failed to rebuild account balances: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO daily_summaries (company_id, day, total_income, total_expense)
		SELECT l.company_id, e.entry_date,
		       COALESCE(SUM(CASE WHEN a.type = 'INCOME'  THEN l.credit - l.debit ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN a.type = 'EXPENSE' THEN l.debit - l.credit ELSE 0 END), 0)
		FROM journal_lines l
		JOIN journal_entries e ON e.id = l.entry_id
		JOIN accounts a ON a.id = l.account_id
		WHERE l.company_id = $1
		GROUP BY l.company_id, e.entry_date
	`, companyID); err != nil {
		return fmt.Errorf("failed to rebuild daily summaries: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO processed_events (company_id, event_id)
		SELECT company_id, event_id FROM outbox_events
		WHERE company_id = $1 AND event_type = $2
		ON CONFLICT (company_id, event_id) DO NOTHING
	`, companyID, outbox.TypeJournalEntryCreated); err != nil {
		return fmt.Errorf("failed to mark events processed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rebuild: %w", err)
	}
	return nil
}

// Snapshot is the projection summary exposed by the reporting surface.
type Snapshot struct {
	Day          time.Time `json:"day"`
	TotalIncome  string    `json:"total_income"`
	TotalExpense string    `json:"total_expense"`
}

// Summaries lists daily summaries for a date range, newest first.
func Summaries(ctx context.Context, pool *pgxpool.Pool, companyID int, from, to time.Time) ([]Snapshot, error) {
	rows, err := pool.Query(ctx, `
		SELECT day, total_income, total_expense
		FROM daily_summaries
		WHERE company_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day DESC
	`, companyID, money.Day(from), money.Day(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily summaries: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var s Snapshot
		var income, expense decimal.Decimal
		if err := rows.Scan(&s.Day, &income, &expense); err != nil {
			return nil, fmt.Errorf("failed to scan daily summary: %w", err)
		}
		s.TotalIncome = income.StringFixed(2)
		s.TotalExpense = expense.StringFixed(2)
		out = append(out, s)
	}
	return out, rows.Err()
}
