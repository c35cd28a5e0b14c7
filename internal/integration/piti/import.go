// Package piti imports point-of-sale activity from the Piti POS feed. Each
// receipt becomes a posted invoice (settled immediately when paid in cash),
// each refund a credit note. External ids are mapped once; re-sent receipts
// are skipped, so the import is safe to retry.
package piti

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"accounting-core/internal/core"
	"accounting-core/internal/money"
)

const integrationName = "piti"

// Entity types recorded in the integration map.
const (
	entityReceipt  = "receipt"
	entityRefund   = "refund"
	entityCustomer = "customer"
	entityItem     = "item"
)

// ReceiptLine is one sold line. Unit prices are tax-exclusive, matching the
// manual document flow.
type ReceiptLine struct {
	ItemExternalID string          `json:"item_external_id"`
	SKU            string          `json:"sku"`
	Name           string          `json:"name"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
}

// Receipt is one POS sale or refund.
type Receipt struct {
	ExternalID         string          `json:"external_id"`
	Type               string          `json:"type"` // "sale" or "refund"
	Date               time.Time       `json:"date"`
	CustomerExternalID string          `json:"customer_external_id"`
	CustomerName       string          `json:"customer_name"`
	CustomerPhone      string          `json:"customer_phone"`
	Lines              []ReceiptLine   `json:"lines"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	TaxAmount          decimal.Decimal `json:"tax_amount"`
	Total              decimal.Decimal `json:"total"`
	Paid               bool            `json:"paid"`
}

// Batch is one import request.
type Batch struct {
	LocationID *int      `json:"location_id"`
	Receipts   []Receipt `json:"receipts"`
}

// Result reports what an import did. Invoices and Credits carry the document
// ids in receipt order, including the previously created documents of skipped
// receipts, so a replayed batch reports the same documents as the first run.
type Result struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Invoices []int    `json:"invoice_ids"`
	Credits  []int    `json:"credit_note_ids"`
	Errors   []string `json:"errors,omitempty"`
}

// Importer ingests POS batches for a tenant.
type Importer struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewImporter(pool *pgxpool.Pool, log zerolog.Logger) *Importer {
	return &Importer{pool: pool, log: log}
}

// Import processes a batch receipt by receipt, each in its own transaction.
// A failing receipt is reported and does not abort the rest of the batch;
// already-imported receipts are skipped via the integration map.
func (im *Importer) Import(ctx context.Context, companyID int, batch Batch) (*Result, error) {
	if len(batch.Receipts) == 0 {
		return nil, core.E(core.KindValidation, "import batch is empty")
	}

	res := &Result{}
	for _, r := range batch.Receipts {
		if r.ExternalID == "" {
			res.Errors = append(res.Errors, "receipt without external id skipped")
			continue
		}
		docID, imported, err := im.importOne(ctx, companyID, batch.LocationID, r)
		if err != nil {
			im.log.Warn().Err(err).
				Str("external_id", r.ExternalID).
				Int("company_id", companyID).
				Msg("receipt import failed")
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", r.ExternalID, err))
			continue
		}
		if imported {
			res.Imported++
		} else {
			res.Skipped++
		}
		if r.Type == "refund" {
			res.Credits = append(res.Credits, docID)
		} else {
			res.Invoices = append(res.Invoices, docID)
		}
	}
	return res, nil
}

func (im *Importer) importOne(ctx context.Context, companyID int, locationID *int, r Receipt) (int, bool, error) {
	tx, err := im.pool.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	docID, imported, err := ImportReceiptTx(ctx, tx, companyID, locationID, r)
	if err != nil {
		return 0, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("failed to commit receipt import: %w", err)
	}
	return docID, imported, nil
}

// ImportReceiptTx ingests one receipt within the caller's transaction. The
// integration map is checked and written inside the same transaction, so a
// re-sent receipt returns the previously created document without posting
// anything new.
func ImportReceiptTx(ctx context.Context, tx pgx.Tx, companyID int, locationID *int, r Receipt) (int, bool, error) {
	if r.ExternalID == "" {
		return 0, false, core.E(core.KindValidation, "receipt requires an external id")
	}

	entityType := entityReceipt
	if r.Type == "refund" {
		entityType = entityRefund
	}
	if existing, err := lookupMapTx(ctx, tx, companyID, entityType, r.ExternalID); err != nil {
		return 0, false, err
	} else if existing != 0 {
		return existing, false, nil
	}

	customerID, err := resolveCustomerTx(ctx, tx, companyID, r)
	if err != nil {
		return 0, false, err
	}

	lines := make([]core.DocLineInput, 0, len(r.Lines))
	for _, rl := range r.Lines {
		itemID, err := resolveItemTx(ctx, tx, companyID, rl)
		if err != nil {
			return 0, false, err
		}
		lines = append(lines, core.DocLineInput{
			ItemID:         itemID,
			Description:    rl.Name,
			Quantity:       rl.Quantity,
			UnitPrice:      rl.UnitPrice,
			DiscountAmount: rl.DiscountAmount,
			TaxRate:        rl.TaxRate,
		})
	}

	// The feed's totals must reproduce exactly under our pricing rules.
	_, totals, err := core.ComputeLines(lines)
	if err != nil {
		return 0, false, err
	}
	if !totals.Subtotal.Equal(money.Round2(r.Subtotal)) ||
		!totals.Tax.Equal(money.Round2(r.TaxAmount)) ||
		!totals.Total.Equal(money.Round2(r.Total)) {
		return 0, false, core.E(core.KindIntegrity,
			"receipt %s totals do not reproduce: computed %s, feed says %s",
			r.ExternalID, totals.Total.StringFixed(2), r.Total.StringFixed(2))
	}

	var docID int
	if r.Type == "refund" {
		cn, err := core.IssueCreditNoteTx(ctx, tx, companyID, core.CreditNoteInput{
			CustomerID: customerID,
			Date:       r.Date,
			LocationID: locationID,
			Lines:      lines,
		})
		if err != nil {
			return 0, false, err
		}
		docID = cn.ID
	} else {
		inv, err := core.CreateInvoiceTx(ctx, tx, companyID, core.InvoiceInput{
			CustomerID: customerID,
			Date:       r.Date,
			LocationID: locationID,
			Lines:      lines,
		})
		if err != nil {
			return 0, false, err
		}
		if _, err := core.PostInvoiceTx(ctx, tx, companyID, inv.ID); err != nil {
			return 0, false, err
		}
		if r.Paid {
			cashID, err := core.EnsureSystemAccountTx(ctx, tx, companyID, core.SysCash)
			if err != nil {
				return 0, false, err
			}
			if _, err := core.RecordPaymentTx(ctx, tx, companyID, core.PaymentInput{
				InvoiceID:     inv.ID,
				Date:          r.Date,
				Amount:        totals.Total,
				BankAccountID: cashID,
			}); err != nil {
				return 0, false, err
			}
		}
		docID = inv.ID
	}

	if err := insertMapTx(ctx, tx, companyID, entityType, r.ExternalID, docID); err != nil {
		return 0, false, err
	}
	return docID, true, nil
}

// resolveCustomerTx finds the customer by integration mapping, then by phone,
// and creates one otherwise. Anonymous receipts land on a per-tenant walk-in
// customer.
func resolveCustomerTx(ctx context.Context, tx pgx.Tx, companyID int, r Receipt) (int, error) {
	if r.CustomerExternalID != "" {
		if id, err := lookupMapTx(ctx, tx, companyID, entityCustomer, r.CustomerExternalID); err != nil {
			return 0, err
		} else if id != 0 {
			return id, nil
		}
	}

	var id int
	if r.CustomerPhone != "" {
		err := tx.QueryRow(ctx, `
			SELECT id FROM customers
			WHERE company_id = $1 AND phone = $2
			ORDER BY id LIMIT 1
		`, companyID, r.CustomerPhone).Scan(&id)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("failed to look up customer by phone: %w", err)
		}
	}

	if id == 0 {
		name := r.CustomerName
		if name == "" {
			name = "Walk-in customer"
		}
		var phone *string
		if r.CustomerPhone != "" {
			phone = &r.CustomerPhone
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO customers (company_id, name, phone)
			VALUES ($1, $2, $3)
			RETURNING id
		`, companyID, name, phone).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("failed to create customer: %w", err)
		}
	}

	if r.CustomerExternalID != "" {
		if err := insertMapTx(ctx, tx, companyID, entityCustomer, r.CustomerExternalID, id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// resolveItemTx finds the item by integration mapping, then by SKU, and
// creates a non-tracked service item otherwise. The import never turns on
// inventory tracking; that stays a bookkeeping decision.
func resolveItemTx(ctx context.Context, tx pgx.Tx, companyID int, rl ReceiptLine) (int, error) {
	externalID := rl.ItemExternalID
	if externalID == "" {
		externalID = rl.SKU
	}
	if externalID != "" {
		if id, err := lookupMapTx(ctx, tx, companyID, entityItem, externalID); err != nil {
			return 0, err
		} else if id != 0 {
			return id, nil
		}
	}

	var id int
	if rl.SKU != "" {
		err := tx.QueryRow(ctx,
			"SELECT id FROM items WHERE company_id = $1 AND sku = $2", companyID, rl.SKU,
		).Scan(&id)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("failed to look up item by sku: %w", err)
		}
	}

	if id == 0 {
		if rl.Name == "" {
			return 0, core.E(core.KindValidation, "receipt line has neither a known item nor a name")
		}
		incomeID, err := core.EnsureSystemAccountTx(ctx, tx, companyID, core.SysSales)
		if err != nil {
			return 0, err
		}
		var sku *string
		if rl.SKU != "" {
			sku = &rl.SKU
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO items (company_id, name, sku, type, selling_price, income_account_id)
			VALUES ($1, $2, $3, 'SERVICE', $4, $5)
			RETURNING id
		`, companyID, rl.Name, sku, rl.UnitPrice, incomeID).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("failed to create item: %w", err)
		}
	}

	if externalID != "" {
		if err := insertMapTx(ctx, tx, companyID, entityItem, externalID, id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func lookupMapTx(ctx context.Context, tx pgx.Tx, companyID int, entityType, externalID string) (int, error) {
	var id int
	err := tx.QueryRow(ctx, `
		SELECT internal_id FROM integration_entity_maps
		WHERE company_id = $1 AND integration = $2 AND entity_type = $3 AND external_id = $4
	`, companyID, integrationName, entityType, externalID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to look up %s mapping: %w", entityType, err)
	}
	return id, nil
}

func insertMapTx(ctx context.Context, tx pgx.Tx, companyID int, entityType, externalID string, internalID int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO integration_entity_maps (company_id, integration, entity_type, external_id, internal_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (company_id, integration, entity_type, external_id) DO NOTHING
	`, companyID, integrationName, entityType, externalID, internalID)
	if err != nil {
		return fmt.Errorf("failed to record %s mapping: %w", entityType, err)
	}
	return nil
}
