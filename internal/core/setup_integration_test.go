package core_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"accounting-core/internal/core"
)

// setupTestDB connects to the dedicated test database and wipes it. Set
// TEST_DATABASE_URL (never the live DATABASE_URL) to run integration tests;
// the schema must already be migrated.
func setupTestDB(t *testing.T) *pgxpool.Pool {
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

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE
			integration_entity_maps,
			journal_entry_inventory_valuations, stock_balances, stock_moves,
			vendor_advance_applications, vendor_advances,
			vendor_credit_applications, vendor_credits,
			purchase_bill_payments, purchase_bill_lines, purchase_bills,
			customer_advance_applications, customer_advances,
			credit_note_applications, credit_note_lines, credit_notes,
			payments, invoice_lines, invoices,
			items, vendors, customers, locations, document_sequences,
			daily_summaries, account_balances, processed_events, outbox_events,
			idempotency_records, journal_lines, journal_entries,
			period_closes, accounts, companies
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}
	return pool
}

// newTestCompany bootstraps a tenant with the default chart and location.
func newTestCompany(t *testing.T, pool *pgxpool.Pool, name string) *core.Company {
	t.Helper()
	company, err := core.NewAccountService(pool).BootstrapCompany(context.Background(), name, "USD")
	if err != nil {
		t.Fatalf("Failed to bootstrap company: %v", err)
	}
	return company
}

// systemAccountID resolves a bootstrapped account id by its code.
func systemAccountID(t *testing.T, pool *pgxpool.Pool, companyID int, code string) int {
	t.Helper()
	var id int
	err := pool.QueryRow(context.Background(),
		"SELECT id FROM accounts WHERE company_id = $1 AND code = $2", companyID, code,
	).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to resolve account %s for company %d: %v", code, companyID, err)
	}
	return id
}

// inTestTx runs fn inside a transaction and commits unless fn fails.
func inTestTx(t *testing.T, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	t.Helper()
	ctx := context.Background()
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("Invalid decimal %q: %v", s, err)
	}
	return d
}

// newTestCustomer and friends seed master data through the services.
func newTestCustomer(t *testing.T, pool *pgxpool.Pool, companyID int, name string) *core.Customer {
	t.Helper()
	c, err := core.NewMasterDataService(pool).CreateCustomer(context.Background(), companyID, core.CustomerInput{Name: name})
	if err != nil {
		t.Fatalf("Failed to create customer: %v", err)
	}
	return c
}

func newTestVendor(t *testing.T, pool *pgxpool.Pool, companyID int, name string) *core.Vendor {
	t.Helper()
	v, err := core.NewMasterDataService(pool).CreateVendor(context.Background(), companyID, core.VendorInput{Name: name})
	if err != nil {
		t.Fatalf("Failed to create vendor: %v", err)
	}
	return v
}

func newTestItem(t *testing.T, pool *pgxpool.Pool, companyID int, name string, tracked bool, price string) *core.Item {
	t.Helper()
	typ := core.ItemService
	if tracked {
		typ = core.ItemGoods
	}
	item, err := core.NewMasterDataService(pool).CreateItem(context.Background(), companyID, core.ItemInput{
		Name:           name,
		Type:           typ,
		SellingPrice:   mustDecimal(t, price),
		TrackInventory: tracked,
	})
	if err != nil {
		t.Fatalf("Failed to create item: %v", err)
	}
	return item
}
