package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	Asset     AccountType = "ASSET"
	Liability AccountType = "LIABILITY"
	Equity    AccountType = "EQUITY"
	Income    AccountType = "INCOME"
	Expense   AccountType = "EXPENSE"
)

type NormalBalance string

const (
	DebitNormal  NormalBalance = "DEBIT"
	CreditNormal NormalBalance = "CREDIT"
)

// NormalBalanceFor derives the normal balance from the account type.
// It is stored explicitly anyway so reports never re-derive it.
func NormalBalanceFor(t AccountType) NormalBalance {
	switch t {
	case Asset, Expense:
		return DebitNormal
	default:
		return CreditNormal
	}
}

type Account struct {
	ID            int           `json:"id"`
	CompanyID     int           `json:"company_id"`
	Code          string        `json:"code"`
	Name          string        `json:"name"`
	Type          AccountType   `json:"type"`
	NormalBalance NormalBalance `json:"normal_balance"`
	IsActive      bool          `json:"is_active"`
	SystemCode    *string       `json:"system_code,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Company is the tenant root. The four resolved system account ids are cached
// on the row so posting paths do not look them up per request.
type Company struct {
	ID                 int       `json:"id"`
	Name               string    `json:"name"`
	BaseCurrency       string    `json:"base_currency"`
	DefaultLocationID  *int      `json:"default_location_id,omitempty"`
	ARAccountID        *int      `json:"ar_account_id,omitempty"`
	APAccountID        *int      `json:"ap_account_id,omitempty"`
	InventoryAccountID *int      `json:"inventory_account_id,omitempty"`
	COGSAccountID      *int      `json:"cogs_account_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// JournalEntry is immutable after creation; corrections are separate
// reversing entries.
type JournalEntry struct {
	ID              int           `json:"id"`
	CompanyID       int           `json:"company_id"`
	EntryDate       time.Time     `json:"entry_date"`
	Description     string        `json:"description"`
	LocationID      *int          `json:"location_id,omitempty"`
	CreatedByUserID *int          `json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	Lines           []JournalLine `json:"lines,omitempty"`
}

// JournalLine carries exactly one positive side.
type JournalLine struct {
	ID        int             `json:"id"`
	EntryID   int             `json:"entry_id"`
	CompanyID int             `json:"company_id"`
	AccountID int             `json:"account_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

type Location struct {
	ID        int       `json:"id"`
	CompanyID int       `json:"company_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Customer struct {
	ID        int       `json:"id"`
	CompanyID int       `json:"company_id"`
	Name      string    `json:"name"`
	Phone     *string   `json:"phone,omitempty"`
	Email     *string   `json:"email,omitempty"`
	Currency  *string   `json:"currency,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Vendor struct {
	ID        int       `json:"id"`
	CompanyID int       `json:"company_id"`
	Name      string    `json:"name"`
	Phone     *string   `json:"phone,omitempty"`
	Email     *string   `json:"email,omitempty"`
	Currency  *string   `json:"currency,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ItemType string

const (
	ItemGoods   ItemType = "GOODS"
	ItemService ItemType = "SERVICE"
)

type Item struct {
	ID                int              `json:"id"`
	CompanyID         int              `json:"company_id"`
	Name              string           `json:"name"`
	SKU               *string          `json:"sku,omitempty"`
	Type              ItemType         `json:"type"`
	SellingPrice      decimal.Decimal  `json:"selling_price"`
	CostPrice         *decimal.Decimal `json:"cost_price,omitempty"`
	TrackInventory    bool             `json:"track_inventory"`
	IncomeAccountID   int              `json:"income_account_id"`
	ExpenseAccountID  *int             `json:"expense_account_id,omitempty"`
	DefaultLocationID *int             `json:"default_location_id,omitempty"`
	ValuationMethod   string           `json:"valuation_method"`
	CreatedAt         time.Time        `json:"created_at"`
}
