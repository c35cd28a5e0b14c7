// The worker folds journal entry events into the projection tables. It tails
// the outbox directly rather than subscribing to the bus: projections dedupe
// on event id, so reading the same rows the publisher delivers is harmless
// and keeps the read models close to the ledger.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"accounting-core/internal/db"
	"accounting-core/internal/outbox"
	"accounting-core/internal/projection"
)

func main() {
	_ = godotenv.Load()
	log := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer pool.Close()

	src := make(chan outbox.Envelope, 256)
	worker := projection.NewWorker(pool, src, log)

	go func() {
		defer close(src)
		if err := tail(ctx, pool, src, log); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("outbox tail failed")
		}
	}()

	log.Info().Msg("projection worker starting")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("projection worker failed")
	}
	log.Info().Msg("projection worker stopped")
}

// tail streams journal entry events from the outbox into dst in id order.
// The cursor starts before unprocessed history so a restarted worker catches
// up; duplicates are absorbed by the processed_events dedupe.
func tail(ctx context.Context, pool *pgxpool.Pool, dst chan<- outbox.Envelope, log zerolog.Logger) error {
	var cursor int
	err := pool.QueryRow(ctx, `
		SELECT COALESCE(MIN(o.id) - 1, (SELECT COALESCE(MAX(id), 0) FROM outbox_events))
		FROM outbox_events o
		WHERE o.event_type = $1
		  AND NOT EXISTS (
			SELECT 1 FROM processed_events p
			WHERE p.company_id = o.company_id AND p.event_id = o.event_id
		  )
	`, outbox.TypeJournalEntryCreated).Scan(&cursor)
	if err != nil {
		return err
	}
	log.Info().Int("cursor", cursor).Msg("tailing outbox")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		rows, err := pool.Query(ctx, `
			SELECT id, company_id, event_id, event_type, schema_version, occurred_at, source,
			       partition_key, correlation_id, causation_id, aggregate_type, aggregate_id,
			       payload, publish_attempts
			FROM outbox_events
			WHERE id > $1 AND event_type = $2
			ORDER BY id ASC
			LIMIT 200
		`, cursor, outbox.TypeJournalEntryCreated)
		if err != nil {
			log.Error().Err(err).Msg("outbox poll failed")
			continue
		}
		var events []outbox.Event
		for rows.Next() {
			var e outbox.Event
			if err := rows.Scan(
				&e.ID, &e.CompanyID, &e.EventID, &e.EventType, &e.SchemaVersion, &e.OccurredAt, &e.Source,
				&e.PartitionKey, &e.CorrelationID, &e.CausationID, &e.AggregateType, &e.AggregateID,
				&e.Payload, &e.PublishAttempts,
			); err != nil {
				rows.Close()
				return err
			}
			events = append(events, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for i := range events {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case dst <- events[i].Envelope():
				cursor = events[i].ID
			}
		}
	}
}

func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "worker").Logger()
	if os.Getenv("LOG_PRETTY") == "true" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && level != zerolog.NoLevel {
		log = log.Level(level)
	}
	return log
}
