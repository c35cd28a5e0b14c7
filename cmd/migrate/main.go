// migrate applies the SQL files under migrations/ in filename order. Applied
// versions are tracked in schema_migrations; each file runs once, inside its
// own transaction.
package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"accounting-core/internal/db"
)

func main() {
	_ = godotenv.Load()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	dir := flag.String("dir", "migrations", "directory containing .sql migration files")
	flag.Parse()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure schema_migrations")
	}

	entries, err := os.ReadDir(*dir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", *dir).Msg("failed to read migrations directory")
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	applied := 0
	for _, name := range files {
		var exists bool
		if err := pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", name,
		).Scan(&exists); err != nil {
			log.Fatal().Err(err).Str("version", name).Msg("failed to check migration state")
		}
		if exists {
			continue
		}

		sql, err := os.ReadFile(filepath.Join(*dir, name))
		if err != nil {
			log.Fatal().Err(err).Str("version", name).Msg("failed to read migration")
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to begin transaction")
		}
		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			_ = tx.Rollback(ctx)
			log.Fatal().Err(err).Str("version", name).Msg("migration failed")
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO schema_migrations (version) VALUES ($1)", name,
		); err != nil {
			_ = tx.Rollback(ctx)
			log.Fatal().Err(err).Str("version", name).Msg("failed to record migration")
		}
		if err := tx.Commit(ctx); err != nil {
			log.Fatal().Err(err).Str("version", name).Msg("failed to commit migration")
		}
		log.Info().Str("version", name).Msg("applied")
		applied++
	}
	log.Info().Int("applied", applied).Int("total", len(files)).Msg("migrations complete")
}
