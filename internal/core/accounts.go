package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// System account roles provisioned on demand by code. Company metadata caches
// the resolved ids of AR, AP, Inventory Asset, and COGS so posting paths do
// not look them up per request.
const (
	SysCash             = "CASH"              // 1000
	SysAR               = "AR"                // 1100
	SysInventory        = "INVENTORY"         // 1200
	SysTaxReceivable    = "TAX_RECEIVABLE"    // 1300
	SysVendorAdvances   = "VENDOR_ADVANCES"   // 1400
	SysAP               = "AP"                // 2000
	SysTaxPayable       = "TAX_PAYABLE"       // 2100
	SysCustomerAdvances = "CUSTOMER_ADVANCES" // 2200
	SysEquity           = "EQUITY"            // 3000
	SysSales            = "SALES"             // 4000
	SysCOGS             = "COGS"              // 5000
	SysExpense          = "EXPENSE"           // 5100
)

type systemAccountDef struct {
	code string
	name string
	typ  AccountType
}

var systemAccounts = map[string]systemAccountDef{
	SysCash:             {"1000", "Cash", Asset},
	SysAR:               {"1100", "Accounts Receivable", Asset},
	SysInventory:        {"1200", "Inventory Asset", Asset},
	SysTaxReceivable:    {"1300", "Tax Receivable", Asset},
	SysVendorAdvances:   {"1400", "Vendor Advances", Asset},
	SysAP:               {"2000", "Accounts Payable", Liability},
	SysTaxPayable:       {"2100", "Tax Payable", Liability},
	SysCustomerAdvances: {"2200", "Customer Advances", Liability},
	SysEquity:           {"3000", "Owner's Equity", Equity},
	SysSales:            {"4000", "Sales Income", Income},
	SysCOGS:             {"5000", "Cost of Goods Sold", Expense},
	SysExpense:          {"5100", "General Expense", Expense},
}

// AccountService manages the chart of accounts and tenant bootstrap.
type AccountService interface {
	// BootstrapCompany creates a tenant with the default chart of accounts
	// and a default location, caching the resolved system account ids.
	BootstrapCompany(ctx context.Context, name, baseCurrency string) (*Company, error)
	GetCompany(ctx context.Context, companyID int) (*Company, error)

	CreateAccount(ctx context.Context, companyID int, code, name string, typ AccountType) (*Account, error)
	ListAccounts(ctx context.Context, companyID int) ([]Account, error)
	// DeactivateAccount refuses to delete; accounts with journal lines can
	// only be switched off.
	DeactivateAccount(ctx context.Context, companyID, accountID int) error
}

type accountService struct {
	pool *pgxpool.Pool
}

func NewAccountService(pool *pgxpool.Pool) AccountService {
	return &accountService{pool: pool}
}

func (s *accountService) BootstrapCompany(ctx context.Context, name, baseCurrency string) (*Company, error) {
	if name == "" {
		return nil, E(KindValidation, "company name is required")
	}
	if baseCurrency == "" {
		baseCurrency = "MMK"
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var c Company
	err = tx.QueryRow(ctx, `
		INSERT INTO companies (name, base_currency)
		VALUES ($1, $2)
		RETURNING id, name, base_currency, created_at
	`, name, baseCurrency).Scan(&c.ID, &c.Name, &c.BaseCurrency, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create company: %w", err)
	}

	for _, sys := range []string{
		SysCash, SysAR, SysInventory, SysTaxReceivable, SysVendorAdvances,
		SysAP, SysTaxPayable, SysCustomerAdvances, SysEquity, SysSales, SysCOGS, SysExpense,
	} {
		if _, err := EnsureSystemAccountTx(ctx, tx, c.ID, sys); err != nil {
			return nil, err
		}
	}

	var locationID int
	err = tx.QueryRow(ctx,
		"INSERT INTO locations (company_id, name) VALUES ($1, 'Main') RETURNING id", c.ID,
	).Scan(&locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to create default location: %w", err)
	}

	arID, _ := EnsureSystemAccountTx(ctx, tx, c.ID, SysAR)
	apID, _ := EnsureSystemAccountTx(ctx, tx, c.ID, SysAP)
	invID, _ := EnsureSystemAccountTx(ctx, tx, c.ID, SysInventory)
	cogsID, _ := EnsureSystemAccountTx(ctx, tx, c.ID, SysCOGS)
	_, err = tx.Exec(ctx, `
		UPDATE companies
		SET default_location_id = $2, ar_account_id = $3, ap_account_id = $4,
		    inventory_account_id = $5, cogs_account_id = $6
		WHERE id = $1
	`, c.ID, locationID, arID, apID, invID, cogsID)
	if err != nil {
		return nil, fmt.Errorf("failed to cache system account ids: %w", err)
	}
	c.DefaultLocationID = &locationID
	c.ARAccountID = &arID
	c.APAccountID = &apID
	c.InventoryAccountID = &invID
	c.COGSAccountID = &cogsID

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit company bootstrap: %w", err)
	}
	return &c, nil
}

func (s *accountService) GetCompany(ctx context.Context, companyID int) (*Company, error) {
	return GetCompanyQ(ctx, s.pool, companyID)
}

func GetCompanyQ(ctx context.Context, q Querier, companyID int) (*Company, error) {
	var c Company
	err := q.QueryRow(ctx, `
		SELECT id, name, base_currency, default_location_id,
		       ar_account_id, ap_account_id, inventory_account_id, cogs_account_id, created_at
		FROM companies WHERE id = $1
	`, companyID).Scan(
		&c.ID, &c.Name, &c.BaseCurrency, &c.DefaultLocationID,
		&c.ARAccountID, &c.APAccountID, &c.InventoryAccountID, &c.COGSAccountID, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "company %d not found", companyID)
		}
		return nil, fmt.Errorf("failed to fetch company %d: %w", companyID, err)
	}
	return &c, nil
}

func (s *accountService) CreateAccount(ctx context.Context, companyID int, code, name string, typ AccountType) (*Account, error) {
	if code == "" || name == "" {
		return nil, E(KindValidation, "account code and name are required")
	}
	switch typ {
	case Asset, Liability, Equity, Income, Expense:
	default:
		return nil, E(KindValidation, "invalid account type %q", typ)
	}

	var a Account
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (company_id, code, name, type, normal_balance)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (company_id, code) DO NOTHING
		RETURNING id, company_id, code, name, type, normal_balance, is_active, system_code, created_at
	`, companyID, code, name, typ, NormalBalanceFor(typ)).Scan(
		&a.ID, &a.CompanyID, &a.Code, &a.Name, &a.Type, &a.NormalBalance, &a.IsActive, &a.SystemCode, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindValidation, "account code %s already exists", code)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return &a, nil
}

func (s *accountService) ListAccounts(ctx context.Context, companyID int) ([]Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, code, name, type, normal_balance, is_active, system_code, created_at
		FROM accounts
		WHERE company_id = $1
		ORDER BY code
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &a.Type, &a.NormalBalance,
			&a.IsActive, &a.SystemCode, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *accountService) DeactivateAccount(ctx context.Context, companyID, accountID int) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE accounts SET is_active = FALSE WHERE id = $1 AND company_id = $2",
		accountID, companyID,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return E(KindNotFound, "account %d not found", accountID)
	}
	return nil
}

// EnsureSystemAccountTx returns the id of a system account, creating it on
// first use. Safe to call repeatedly inside a transaction.
func EnsureSystemAccountTx(ctx context.Context, tx pgx.Tx, companyID int, sysCode string) (int, error) {
	def, ok := systemAccounts[sysCode]
	if !ok {
		return 0, E(KindValidation, "unknown system account %q", sysCode)
	}

	var id int
	err := tx.QueryRow(ctx,
		"SELECT id FROM accounts WHERE company_id = $1 AND system_code = $2",
		companyID, sysCode,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to resolve system account %s: %w", sysCode, err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO accounts (company_id, code, name, type, normal_balance, system_code)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (company_id, code) DO UPDATE SET system_code = EXCLUDED.system_code
		RETURNING id
	`, companyID, def.code, def.name, def.typ, NormalBalanceFor(def.typ), sysCode).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to provision system account %s: %w", sysCode, err)
	}
	return id, nil
}

// nextDocumentNumberTx generates a gapless per-tenant sequence for a document
// type and formats it, e.g. INV-00042.
func nextDocumentNumberTx(ctx context.Context, tx pgx.Tx, companyID int, docType string) (string, error) {
	var n int64
	err := tx.QueryRow(ctx, `
		INSERT INTO document_sequences (company_id, doc_type, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (company_id, doc_type)
		DO UPDATE SET last_number = document_sequences.last_number + 1
		RETURNING last_number
	`, companyID, docType).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("failed to generate %s sequence: %w", docType, err)
	}
	return fmt.Sprintf("%s-%05d", docType, n), nil
}
