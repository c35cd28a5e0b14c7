package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// MasterDataService manages the party and catalog records documents refer to.
type MasterDataService interface {
	CreateCustomer(ctx context.Context, companyID int, in CustomerInput) (*Customer, error)
	GetCustomer(ctx context.Context, companyID, customerID int) (*Customer, error)
	ListCustomers(ctx context.Context, companyID int) ([]Customer, error)

	CreateVendor(ctx context.Context, companyID int, in VendorInput) (*Vendor, error)
	GetVendor(ctx context.Context, companyID, vendorID int) (*Vendor, error)
	ListVendors(ctx context.Context, companyID int) ([]Vendor, error)

	CreateItem(ctx context.Context, companyID int, in ItemInput) (*Item, error)
	GetItem(ctx context.Context, companyID, itemID int) (*Item, error)
	ListItems(ctx context.Context, companyID int) ([]Item, error)

	CreateLocation(ctx context.Context, companyID int, name string) (*Location, error)
	ListLocations(ctx context.Context, companyID int) ([]Location, error)
}

type CustomerInput struct {
	Name     string  `json:"name"`
	Phone    *string `json:"phone"`
	Email    *string `json:"email"`
	Currency *string `json:"currency"`
}

type VendorInput struct {
	Name     string  `json:"name"`
	Phone    *string `json:"phone"`
	Email    *string `json:"email"`
	Currency *string `json:"currency"`
}

type ItemInput struct {
	Name              string           `json:"name"`
	SKU               *string          `json:"sku"`
	Type              ItemType         `json:"type"`
	SellingPrice      decimal.Decimal  `json:"selling_price"`
	CostPrice         *decimal.Decimal `json:"cost_price"`
	TrackInventory    bool             `json:"track_inventory"`
	IncomeAccountID   *int             `json:"income_account_id"`
	ExpenseAccountID  *int             `json:"expense_account_id"`
	DefaultLocationID *int             `json:"default_location_id"`
}

type masterDataService struct {
	pool *pgxpool.Pool
}

func NewMasterDataService(pool *pgxpool.Pool) MasterDataService {
	return &masterDataService{pool: pool}
}

// ── Customers ──────────────────────────────────────────────

func (s *masterDataService) CreateCustomer(ctx context.Context, companyID int, in CustomerInput) (*Customer, error) {
	if in.Name == "" {
		return nil, E(KindValidation, "customer name is required")
	}
	var c Customer
	err := s.pool.QueryRow(ctx, `
		INSERT INTO customers (company_id, name, phone, email, currency)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, company_id, name, phone, email, currency, created_at
	`, companyID, in.Name, in.Phone, in.Email, in.Currency).Scan(
		&c.ID, &c.CompanyID, &c.Name, &c.Phone, &c.Email, &c.Currency, &c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	return &c, nil
}

func (s *masterDataService) GetCustomer(ctx context.Context, companyID, customerID int) (*Customer, error) {
	return getCustomerQ(ctx, s.pool, companyID, customerID)
}

func getCustomerQ(ctx context.Context, q Querier, companyID, customerID int) (*Customer, error) {
	var c Customer
	err := q.QueryRow(ctx, `
		SELECT id, company_id, name, phone, email, currency, created_at
		FROM customers WHERE id = $1 AND company_id = $2
	`, customerID, companyID).Scan(
		&c.ID, &c.CompanyID, &c.Name, &c.Phone, &c.Email, &c.Currency, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "customer %d not found", customerID)
		}
		return nil, fmt.Errorf("failed to fetch customer %d: %w", customerID, err)
	}
	return &c, nil
}

func (s *masterDataService) ListCustomers(ctx context.Context, companyID int) ([]Customer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, name, phone, email, currency, created_at
		FROM customers WHERE company_id = $1 ORDER BY name
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.CompanyID, &c.Name, &c.Phone, &c.Email, &c.Currency, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ── Vendors ────────────────────────────────────────────────

func (s *masterDataService) CreateVendor(ctx context.Context, companyID int, in VendorInput) (*Vendor, error) {
	if in.Name == "" {
		return nil, E(KindValidation, "vendor name is required")
	}
	var v Vendor
	err := s.pool.QueryRow(ctx, `
		INSERT INTO vendors (company_id, name, phone, email, currency)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, company_id, name, phone, email, currency, created_at
	`, companyID, in.Name, in.Phone, in.Email, in.Currency).Scan(
		&v.ID, &v.CompanyID, &v.Name, &v.Phone, &v.Email, &v.Currency, &v.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create vendor: %w", err)
	}
	return &v, nil
}

func (s *masterDataService) GetVendor(ctx context.Context, companyID, vendorID int) (*Vendor, error) {
	var v Vendor
	err := s.pool.QueryRow(ctx, `
		SELECT id, company_id, name, phone, email, currency, created_at
		FROM vendors WHERE id = $1 AND company_id = $2
	`, vendorID, companyID).Scan(
		&v.ID, &v.CompanyID, &v.Name, &v.Phone, &v.Email, &v.Currency, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "vendor %d not found", vendorID)
		}
		return nil, fmt.Errorf("failed to fetch vendor %d: %w", vendorID, err)
	}
	return &v, nil
}

func (s *masterDataService) ListVendors(ctx context.Context, companyID int) ([]Vendor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, name, phone, email, currency, created_at
		FROM vendors WHERE company_id = $1 ORDER BY name
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query vendors: %w", err)
	}
	defer rows.Close()

	var out []Vendor
	for rows.Next() {
		var v Vendor
		if err := rows.Scan(&v.ID, &v.CompanyID, &v.Name, &v.Phone, &v.Email, &v.Currency, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vendor: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ── Items ──────────────────────────────────────────────────

func (s *masterDataService) CreateItem(ctx context.Context, companyID int, in ItemInput) (*Item, error) {
	if in.Name == "" {
		return nil, E(KindValidation, "item name is required")
	}
	switch in.Type {
	case ItemGoods, ItemService:
	default:
		return nil, E(KindValidation, "invalid item type %q", in.Type)
	}
	if in.TrackInventory && in.Type != ItemGoods {
		return nil, E(KindValidation, "only goods can track inventory")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	incomeID := 0
	if in.IncomeAccountID != nil {
		incomeID = *in.IncomeAccountID
	} else {
		incomeID, err = EnsureSystemAccountTx(ctx, tx, companyID, SysSales)
		if err != nil {
			return nil, err
		}
	}

	var expenseID *int
	if in.ExpenseAccountID != nil {
		expenseID = in.ExpenseAccountID
	} else if in.TrackInventory {
		id, err := EnsureSystemAccountTx(ctx, tx, companyID, SysCOGS)
		if err != nil {
			return nil, err
		}
		expenseID = &id
	}

	var it Item
	err = tx.QueryRow(ctx, `
		INSERT INTO items (company_id, name, sku, type, selling_price, cost_price,
		                   track_inventory, income_account_id, expense_account_id, default_location_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, company_id, name, sku, type, selling_price, cost_price, track_inventory,
		          income_account_id, expense_account_id, default_location_id, valuation_method, created_at
	`, companyID, in.Name, in.SKU, in.Type, in.SellingPrice, in.CostPrice,
		in.TrackInventory, incomeID, expenseID, in.DefaultLocationID).Scan(
		&it.ID, &it.CompanyID, &it.Name, &it.SKU, &it.Type, &it.SellingPrice, &it.CostPrice,
		&it.TrackInventory, &it.IncomeAccountID, &it.ExpenseAccountID, &it.DefaultLocationID,
		&it.ValuationMethod, &it.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit item: %w", err)
	}
	return &it, nil
}

func (s *masterDataService) GetItem(ctx context.Context, companyID, itemID int) (*Item, error) {
	return getItemQ(ctx, s.pool, companyID, itemID)
}

func getItemQ(ctx context.Context, q Querier, companyID, itemID int) (*Item, error) {
	var it Item
	err := q.QueryRow(ctx, `
		SELECT id, company_id, name, sku, type, selling_price, cost_price, track_inventory,
		       income_account_id, expense_account_id, default_location_id, valuation_method, created_at
		FROM items WHERE id = $1 AND company_id = $2
	`, itemID, companyID).Scan(
		&it.ID, &it.CompanyID, &it.Name, &it.SKU, &it.Type, &it.SellingPrice, &it.CostPrice,
		&it.TrackInventory, &it.IncomeAccountID, &it.ExpenseAccountID, &it.DefaultLocationID,
		&it.ValuationMethod, &it.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "item %d not found", itemID)
		}
		return nil, fmt.Errorf("failed to fetch item %d: %w", itemID, err)
	}
	return &it, nil
}

func (s *masterDataService) ListItems(ctx context.Context, companyID int) ([]Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, name, sku, type, selling_price, cost_price, track_inventory,
		       income_account_id, expense_account_id, default_location_id, valuation_method, created_at
		FROM items WHERE company_id = $1 ORDER BY name
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.CompanyID, &it.Name, &it.SKU, &it.Type, &it.SellingPrice,
			&it.CostPrice, &it.TrackInventory, &it.IncomeAccountID, &it.ExpenseAccountID,
			&it.DefaultLocationID, &it.ValuationMethod, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ── Locations ──────────────────────────────────────────────

func (s *masterDataService) CreateLocation(ctx context.Context, companyID int, name string) (*Location, error) {
	if name == "" {
		return nil, E(KindValidation, "location name is required")
	}
	var l Location
	err := s.pool.QueryRow(ctx, `
		INSERT INTO locations (company_id, name)
		VALUES ($1, $2)
		RETURNING id, company_id, name, created_at
	`, companyID, name).Scan(&l.ID, &l.CompanyID, &l.Name, &l.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create location: %w", err)
	}
	return &l, nil
}

func (s *masterDataService) ListLocations(ctx context.Context, companyID int) ([]Location, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, name, created_at
		FROM locations WHERE company_id = $1 ORDER BY id
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.CompanyID, &l.Name, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// assertLocationOwnedTx checks a location belongs to the tenant.
func assertLocationOwnedTx(ctx context.Context, q Querier, companyID, locationID int) error {
	var ok bool
	err := q.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM locations WHERE id = $1 AND company_id = $2)",
		locationID, companyID,
	).Scan(&ok)
	if err != nil {
		return fmt.Errorf("failed to check location: %w", err)
	}
	if !ok {
		return E(KindTenant, "location %d does not belong to this tenant", locationID)
	}
	return nil
}
