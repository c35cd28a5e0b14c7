// The publisher drains the transactional outbox: it leases unpublished rows
// and delivers them to the downstream bus. Safe to run in multiple replicas.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"accounting-core/internal/bus"
	"accounting-core/internal/db"
	"accounting-core/internal/outbox"
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

	publisher := outbox.NewPublisher(pool, &bus.LogPublisher{Log: log}, outbox.PublisherConfig{
		BatchSize: intEnv("PUBLISHER_BATCH_SIZE"),
		Interval:  durationEnv("PUBLISHER_INTERVAL"),
	}, log)

	// Retention sweep: published rows older than the retention window are
	// removed nightly. Dead-lettered rows keep their error and go with them.
	retentionDays := intEnv("OUTBOX_RETENTION_DAYS")
	if retentionDays <= 0 {
		retentionDays = 30
	}
	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@daily", func() {
		tag, err := pool.Exec(ctx, `
			DELETE FROM outbox_events
			WHERE published_at IS NOT NULL AND published_at < NOW() - make_interval(days => $1)
		`, retentionDays)
		if err != nil {
			log.Error().Err(err).Msg("outbox retention sweep failed")
			return
		}
		log.Info().Int64("deleted", tag.RowsAffected()).Msg("outbox retention sweep")
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule retention sweep")
	}
	sweeper.Start()
	defer sweeper.Stop()

	log.Info().Msg("publisher starting")
	if err := publisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("publisher failed")
	}
	log.Info().Msg("publisher stopped")
}

func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "publisher").Logger()
	if os.Getenv("LOG_PRETTY") == "true" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && level != zerolog.NoLevel {
		log = log.Level(level)
	}
	return log
}

func intEnv(name string) int {
	v, _ := strconv.Atoi(os.Getenv(name))
	return v
}

func durationEnv(name string) time.Duration {
	v, _ := time.ParseDuration(os.Getenv(name))
	return v
}
