package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Bus is the downstream delivery contract the publisher drives.
// internal/bus provides the implementations.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
}

// PublisherConfig tunes the claim loop. Zero values fall back to defaults.
type PublisherConfig struct {
	BatchSize int           // rows claimed per tick (default 50)
	Interval  time.Duration // tick interval (default 1s)
	Lease     time.Duration // lock lease before a claim is considered stale (default 60s)
	Source    string        // producer id stamped on envelopes
}

func (c PublisherConfig) withDefaults() PublisherConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.Lease <= 0 {
		c.Lease = 60 * time.Second
	}
	if c.Source == "" {
		c.Source = "accounting-core"
	}
	return c
}

// Publisher leases unpublished outbox rows and delivers them to the bus.
// Multiple replicas may run safely: claims use FOR UPDATE SKIP LOCKED plus a
// lock lease, so a crashed replica's claims are reclaimed after Lease.
type Publisher struct {
	pool *pgxpool.Pool
	bus  Bus
	cfg  PublisherConfig
	log  zerolog.Logger
}

func NewPublisher(pool *pgxpool.Pool, b Bus, cfg PublisherConfig, log zerolog.Logger) *Publisher {
	return &Publisher{pool: pool, bus: b, cfg: cfg.withDefaults(), log: log}
}

// Run ticks until ctx is cancelled. The in-flight batch finishes before exit.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.log.Error().Err(err).Msg("publisher tick failed")
			}
		}
	}
}

// Tick claims and publishes one batch, returning how many rows were handled
// (published or dead-lettered).
func (p *Publisher) Tick(ctx context.Context) (int, error) {
	events, lockID, err := p.claim(ctx)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	handled := 0
	for i := range events {
		e := &events[i]
		if e.CompanyID <= 0 {
			// Malformed envelope: no retry will fix a missing tenant.
			if err := p.deadLetter(ctx, e.ID, lockID, "dead-letter: missing tenant id"); err != nil {
				return handled, err
			}
			p.log.Warn().Int("outbox_id", e.ID).Str("event_type", e.EventType).Msg("outbox event dead-lettered")
			handled++
			continue
		}

		env := e.Envelope()
		if env.Source == "" {
			env.Source = p.cfg.Source
		}
		if err := p.bus.Publish(ctx, env); err != nil {
			if markErr := p.markFailed(ctx, e.ID, lockID, e.PublishAttempts+1, err.Error()); markErr != nil {
				return handled, markErr
			}
			p.log.Warn().Err(err).
				Int("outbox_id", e.ID).
				Int("attempts", e.PublishAttempts+1).
				Msg("publish failed, scheduled retry")
			continue
		}

		if err := p.markPublished(ctx, e.ID, lockID); err != nil {
			return handled, err
		}
		handled++
	}
	return handled, nil
}

// claim leases a batch of due rows inside a short transaction.
func (p *Publisher) claim(ctx context.Context) ([]Event, uuid.UUID, error) {
	lockID := uuid.New()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id FROM outbox_events
		WHERE published_at IS NULL
		  AND (next_publish_attempt_at IS NULL OR next_publish_attempt_at <= NOW())
		  AND (locked_at IS NULL OR locked_at < NOW() - $1::interval)
		ORDER BY occurred_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, p.cfg.Lease.String(), p.cfg.BatchSize)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("failed to select claimable events: %w", err)
	}
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, uuid.Nil, fmt.Errorf("failed to scan claim id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, uuid.Nil, fmt.Errorf("claim iteration error: %w", err)
	}
	if len(ids) == 0 {
		return nil, uuid.Nil, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE outbox_events SET lock_id = $1, locked_at = NOW() WHERE id = ANY($2)",
		lockID, ids,
	); err != nil {
		return nil, uuid.Nil, fmt.Errorf("failed to lease events: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, uuid.Nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	events, err := p.load(ctx, ids)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return events, lockID, nil
}

func (p *Publisher) load(ctx context.Context, ids []int) ([]Event, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, company_id, event_id, event_type, schema_version, occurred_at, source,
		       partition_key, correlation_id, causation_id, aggregate_type, aggregate_id,
		       payload, publish_attempts
		FROM outbox_events
		WHERE id = ANY($1)
		ORDER BY occurred_at ASC, id ASC
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID, &e.CompanyID, &e.EventID, &e.EventType, &e.SchemaVersion, &e.OccurredAt, &e.Source,
			&e.PartitionKey, &e.CorrelationID, &e.CausationID, &e.AggregateType, &e.AggregateID,
			&e.Payload, &e.PublishAttempts,
		); err != nil {
			return nil, fmt.Errorf("failed to scan claimed event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (p *Publisher) markPublished(ctx context.Context, id int, lockID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = NOW(), lock_id = NULL, locked_at = NULL
		WHERE id = $1 AND lock_id = $2
	`, id, lockID)
	if err != nil {
		return fmt.Errorf("failed to mark event %d published: %w", id, err)
	}
	return nil
}

func (p *Publisher) markFailed(ctx context.Context, id int, lockID uuid.UUID, attempts int, cause string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE outbox_events
		SET publish_attempts = $2,
		    last_publish_error = $3,
		    next_publish_attempt_at = NOW() + $4::interval,
		    lock_id = NULL, locked_at = NULL
		WHERE id = $1 AND lock_id = $5
	`, id, attempts, cause, Backoff(attempts).String(), lockID)
	if err != nil {
		return fmt.Errorf("failed to record publish failure for event %d: %w", id, err)
	}
	return nil
}

func (p *Publisher) deadLetter(ctx context.Context, id int, lockID uuid.UUID, cause string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = NOW(), last_publish_error = $2, lock_id = NULL, locked_at = NULL
		WHERE id = $1 AND lock_id = $3
	`, id, cause, lockID)
	if err != nil {
		return fmt.Errorf("failed to dead-letter event %d: %w", id, err)
	}
	return nil
}

// Backoff returns the retry delay after the given attempt count:
// min(60s, 2^attempts seconds).
func Backoff(attempts int) time.Duration {
	if attempts >= 6 {
		return 60 * time.Second
	}
	return time.Duration(1<<uint(attempts)) * time.Second
}
