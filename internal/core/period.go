package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"accounting-core/internal/money"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PeriodService manages the per-tenant "closed through" cutoff. The cutoff
// is inclusive: no journal entry may be dated on or before it.
type PeriodService interface {
	ClosedThrough(ctx context.Context, companyID int) (*time.Time, error)
	ClosePeriod(ctx context.Context, companyID int, through time.Time) error
	ReopenPeriod(ctx context.Context, companyID int, through *time.Time) error
}

type periodService struct {
	pool *pgxpool.Pool
}

func NewPeriodService(pool *pgxpool.Pool) PeriodService {
	return &periodService{pool: pool}
}

func (s *periodService) ClosedThrough(ctx context.Context, companyID int) (*time.Time, error) {
	return closedThroughQ(ctx, s.pool, companyID)
}

func (s *periodService) ClosePeriod(ctx context.Context, companyID int, through time.Time) error {
	current, err := closedThroughQ(ctx, s.pool, companyID)
	if err != nil {
		return err
	}
	day := money.Day(through)
	if current != nil && !day.After(*current) {
		return E(KindState, "period already closed through %s", money.FormatDay(*current))
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO period_closes (company_id, closed_through) VALUES ($1, $2)
		ON CONFLICT (company_id) DO UPDATE SET closed_through = EXCLUDED.closed_through
	`, companyID, day)
	if err != nil {
		return fmt.Errorf("failed to close period: %w", err)
	}
	return nil
}

// ReopenPeriod moves the cutoff back, or removes it entirely when through is nil.
func (s *periodService) ReopenPeriod(ctx context.Context, companyID int, through *time.Time) error {
	if through == nil {
		if _, err := s.pool.Exec(ctx, "DELETE FROM period_closes WHERE company_id = $1", companyID); err != nil {
			return fmt.Errorf("failed to reopen period: %w", err)
		}
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO period_closes (company_id, closed_through) VALUES ($1, $2)
		ON CONFLICT (company_id) DO UPDATE SET closed_through = EXCLUDED.closed_through
	`, companyID, money.Day(*through))
	if err != nil {
		return fmt.Errorf("failed to move period cutoff: %w", err)
	}
	return nil
}

func closedThroughQ(ctx context.Context, q Querier, companyID int) (*time.Time, error) {
	var t time.Time
	err := q.QueryRow(ctx,
		"SELECT closed_through FROM period_closes WHERE company_id = $1", companyID,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read period close: %w", err)
	}
	return &t, nil
}

// assertPeriodOpenTx refuses dates on or before the tenant's cutoff.
func assertPeriodOpenTx(ctx context.Context, tx pgx.Tx, companyID int, date time.Time) error {
	closed, err := closedThroughQ(ctx, tx, companyID)
	if err != nil {
		return err
	}
	if closed != nil && !money.Day(date).After(money.Day(*closed)) {
		return E(KindPeriodClosed, "transaction date %s is in a closed period (closed through %s)",
			money.FormatDay(date), money.FormatDay(*closed))
	}
	return nil
}

// clampToOpenPeriod returns the later of from and the first open day.
// Used by the inventory recalc, which may never rewrite closed history.
func clampToOpenPeriod(ctx context.Context, q Querier, companyID int, from time.Time) (time.Time, error) {
	closed, err := closedThroughQ(ctx, q, companyID)
	if err != nil {
		return time.Time{}, err
	}
	day := money.Day(from)
	if closed != nil {
		firstOpen := money.Day(*closed).AddDate(0, 0, 1)
		if day.Before(firstOpen) {
			return firstOpen, nil
		}
	}
	return day, nil
}
