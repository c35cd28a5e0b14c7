package outbox_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"accounting-core/internal/bus"
	"accounting-core/internal/outbox"
)

func setupOutboxDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	_ = godotenv.Load("../../.env")

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, "TRUNCATE TABLE processed_events, outbox_events RESTART IDENTITY"); err != nil {
		t.Fatalf("Failed to clean outbox tables: %v", err)
	}
	return pool
}

func appendTestEvent(t *testing.T, pool *pgxpool.Pool, companyID int, eventType string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	eventID, err := outbox.AppendTx(ctx, tx, outbox.Event{
		CompanyID:     companyID,
		EventType:     eventType,
		AggregateType: "JournalEntry",
		AggregateID:   "1",
		Payload:       []byte(`{"journal_entry_id":1}`),
	})
	if err != nil {
		t.Fatalf("AppendTx failed: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return eventID
}

func TestPublisher_DeliversAppendedEvents(t *testing.T) {
	pool := setupOutboxDB(t)
	ctx := context.Background()

	eventID := appendTestEvent(t, pool, 7, outbox.TypeJournalEntryCreated)

	ch := bus.NewChanPublisher(8)
	pub := outbox.NewPublisher(pool, ch, outbox.PublisherConfig{}, zerolog.Nop())

	handled, err := pub.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if handled != 1 {
		t.Fatalf("Expected 1 handled event, got %d", handled)
	}

	select {
	case env := <-ch.C:
		if env.EventID != eventID {
			t.Errorf("Envelope event id mismatch: %s vs %s", env.EventID, eventID)
		}
		if env.TenantID != 7 {
			t.Errorf("Expected tenant 7, got %d", env.TenantID)
		}
		if env.EventType != outbox.TypeJournalEntryCreated {
			t.Errorf("Unexpected event type %s", env.EventType)
		}
		if env.PartitionKey != "7" {
			t.Errorf("Expected partition key 7, got %s", env.PartitionKey)
		}
		if env.Source == "" {
			t.Error("Envelope missing source")
		}
	default:
		t.Fatal("No envelope delivered")
	}

	var published bool
	if err := pool.QueryRow(ctx,
		"SELECT published_at IS NOT NULL FROM outbox_events WHERE event_id = $1", eventID,
	).Scan(&published); err != nil {
		t.Fatalf("Failed to reload event: %v", err)
	}
	if !published {
		t.Error("Delivered event not marked published")
	}

	// A second tick finds nothing to do.
	handled, err = pub.Tick(ctx)
	if err != nil {
		t.Fatalf("Second tick failed: %v", err)
	}
	if handled != 0 {
		t.Errorf("Expected idle tick, handled %d", handled)
	}
}

func TestPublisher_FailedPublishSchedulesRetry(t *testing.T) {
	pool := setupOutboxDB(t)
	ctx := context.Background()

	eventID := appendTestEvent(t, pool, 7, outbox.TypeInvoicePosted)

	ch := bus.NewChanPublisher(8)
	ch.SetFail(func(outbox.Envelope) error { return errors.New("broker unavailable") })
	pub := outbox.NewPublisher(pool, ch, outbox.PublisherConfig{}, zerolog.Nop())

	handled, err := pub.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if handled != 0 {
		t.Fatalf("Failed publish counted as handled: %d", handled)
	}

	var attempts int
	var published, retryScheduled bool
	var lastErr *string
	err = pool.QueryRow(ctx, `
		SELECT publish_attempts, published_at IS NOT NULL, next_publish_attempt_at IS NOT NULL, last_publish_error
		FROM outbox_events WHERE event_id = $1
	`, eventID).Scan(&attempts, &published, &retryScheduled, &lastErr)
	if err != nil {
		t.Fatalf("Failed to reload event: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
	if published {
		t.Error("Failed event marked published")
	}
	if !retryScheduled {
		t.Error("No retry scheduled")
	}
	if lastErr == nil || *lastErr != "broker unavailable" {
		t.Errorf("Publish error not recorded: %v", lastErr)
	}

	// Once the broker recovers and the backoff elapses, delivery completes.
	ch.SetFail(nil)
	if _, err := pool.Exec(ctx,
		"UPDATE outbox_events SET next_publish_attempt_at = NOW() WHERE event_id = $1", eventID,
	); err != nil {
		t.Fatalf("Failed to fast-forward retry: %v", err)
	}
	handled, err = pub.Tick(ctx)
	if err != nil {
		t.Fatalf("Retry tick failed: %v", err)
	}
	if handled != 1 {
		t.Fatalf("Expected retry delivery, handled %d", handled)
	}
	select {
	case env := <-ch.C:
		if env.EventID != eventID {
			t.Errorf("Unexpected envelope %s", env.EventID)
		}
	default:
		t.Fatal("No envelope delivered on retry")
	}
}

func TestPublisher_DeadLettersMissingTenant(t *testing.T) {
	pool := setupOutboxDB(t)
	ctx := context.Background()

	// AppendTx refuses company_id 0, so a malformed row can only come from
	// outside the API. Simulate that directly.
	eventID := uuid.New()
	_, err := pool.Exec(ctx, `
		INSERT INTO outbox_events
			(company_id, event_id, event_type, source, partition_key, correlation_id,
			 aggregate_type, aggregate_id, payload)
		VALUES (0, $1, 'journal.entry.created', 'test', '0', $2, 'JournalEntry', '1', '{}')
	`, eventID, uuid.New())
	if err != nil {
		t.Fatalf("Failed to insert malformed event: %v", err)
	}

	ch := bus.NewChanPublisher(8)
	pub := outbox.NewPublisher(pool, ch, outbox.PublisherConfig{}, zerolog.Nop())

	handled, err := pub.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if handled != 1 {
		t.Fatalf("Expected dead-letter to count as handled, got %d", handled)
	}

	select {
	case env := <-ch.C:
		t.Fatalf("Malformed event reached the bus: %s", env.EventID)
	default:
	}

	var published bool
	var lastErr *string
	err = pool.QueryRow(ctx,
		"SELECT published_at IS NOT NULL, last_publish_error FROM outbox_events WHERE event_id = $1", eventID,
	).Scan(&published, &lastErr)
	if err != nil {
		t.Fatalf("Failed to reload event: %v", err)
	}
	if !published {
		t.Error("Dead-lettered event still claimable")
	}
	if lastErr == nil || *lastErr != "dead-letter: missing tenant id" {
		t.Errorf("Dead-letter cause not recorded: %v", lastErr)
	}
}
