package core_test

import (
	"context"
	"testing"

	"accounting-core/internal/core"
)

// Every read and write is scoped by company id; one tenant must never see or
// touch another tenant's rows, and cross-tenant lookups surface as NOT_FOUND
// rather than a permission hint.
func TestTenantIsolation(t *testing.T) {
	pool := setupTestDB(t)
	companyA := newTestCompany(t, pool, "Tenant A")
	companyB := newTestCompany(t, pool, "Tenant B")
	ctx := context.Background()

	customerA := newTestCustomer(t, pool, companyA.ID, "Alice")
	itemA := newTestItem(t, pool, companyA.ID, "Gadget", false, "100.00")

	sales := core.NewSalesService(pool)
	invoice, err := sales.CreateInvoice(ctx, companyA.ID, core.InvoiceInput{
		CustomerID: customerA.ID,
		Date:       mustDay(t, "2026-02-10"),
		Lines: []core.DocLineInput{
			{ItemID: itemA.ID, Quantity: mustDecimal(t, "1"), UnitPrice: mustDecimal(t, "100.00")},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	// Tenant B cannot read tenant A's invoice.
	if _, err := sales.GetInvoice(ctx, companyB.ID, invoice.ID); !core.IsKind(err, core.KindNotFound) {
		t.Fatalf("Expected NOT_FOUND for foreign invoice, got %v", err)
	}
	// Nor act on it.
	if _, err := sales.PostInvoice(ctx, companyB.ID, invoice.ID); !core.IsKind(err, core.KindNotFound) {
		t.Fatalf("Expected NOT_FOUND posting foreign invoice, got %v", err)
	}

	invoicesB, err := sales.ListInvoices(ctx, companyB.ID, "")
	if err != nil {
		t.Fatalf("ListInvoices failed: %v", err)
	}
	if len(invoicesB) != 0 {
		t.Errorf("Tenant B sees %d foreign invoices", len(invoicesB))
	}

	// Master data lookups are scoped the same way.
	master := core.NewMasterDataService(pool)
	if _, err := master.GetCustomer(ctx, companyB.ID, customerA.ID); !core.IsKind(err, core.KindNotFound) {
		t.Fatalf("Expected NOT_FOUND for foreign customer, got %v", err)
	}
	customersB, err := master.ListCustomers(ctx, companyB.ID)
	if err != nil {
		t.Fatalf("ListCustomers failed: %v", err)
	}
	if len(customersB) != 0 {
		t.Errorf("Tenant B sees %d foreign customers", len(customersB))
	}

	// Tenant B cannot build documents out of tenant A's master data.
	customerB := newTestCustomer(t, pool, companyB.ID, "Bob")
	_, err = sales.CreateInvoice(ctx, companyB.ID, core.InvoiceInput{
		CustomerID: customerB.ID,
		Date:       mustDay(t, "2026-02-10"),
		Lines: []core.DocLineInput{
			{ItemID: itemA.ID, Quantity: mustDecimal(t, "1"), UnitPrice: mustDecimal(t, "100.00")},
		},
	})
	if !core.IsKind(err, core.KindNotFound) {
		t.Fatalf("Expected NOT_FOUND for foreign item on invoice, got %v", err)
	}

	// Each tenant keeps its own full chart.
	accounts := core.NewAccountService(pool)
	accountsA, err := accounts.ListAccounts(ctx, companyA.ID)
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	accountsB, err := accounts.ListAccounts(ctx, companyB.ID)
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if len(accountsA) != len(accountsB) {
		t.Errorf("Bootstrapped charts differ: %d vs %d", len(accountsA), len(accountsB))
	}
	for _, a := range accountsB {
		if a.CompanyID != companyB.ID {
			t.Errorf("Tenant B listing leaked account %d of company %d", a.ID, a.CompanyID)
		}
	}
}
