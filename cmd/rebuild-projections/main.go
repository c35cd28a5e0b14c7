// rebuild-projections recomputes a tenant's read models straight from the
// ledger. Run it after manual repairs or when the worker has drifted.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"accounting-core/internal/db"
	"accounting-core/internal/projection"
)

func main() {
	_ = godotenv.Load()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	companyID := flag.Int("company", 0, "tenant id to rebuild (required)")
	flag.Parse()
	if *companyID <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer pool.Close()

	if err := projection.Rebuild(ctx, pool, *companyID); err != nil {
		log.Fatal().Err(err).Int("company_id", *companyID).Msg("rebuild failed")
	}
	log.Info().Int("company_id", *companyID).Msg("projections rebuilt")
}
