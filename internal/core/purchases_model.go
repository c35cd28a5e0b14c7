package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type PurchaseBill struct {
	ID             int                `json:"id"`
	CompanyID      int                `json:"company_id"`
	VendorID       int                `json:"vendor_id"`
	Number         string             `json:"number"`
	Status         string             `json:"status"`
	BillDate       time.Time          `json:"bill_date"`
	DueDate        *time.Time         `json:"due_date,omitempty"`
	Currency       *string            `json:"currency,omitempty"`
	ExchangeRate   decimal.Decimal    `json:"exchange_rate"`
	Subtotal       decimal.Decimal    `json:"subtotal"`
	TaxAmount      decimal.Decimal    `json:"tax_amount"`
	Total          decimal.Decimal    `json:"total"`
	AmountPaid     decimal.Decimal    `json:"amount_paid"`
	JournalEntryID *int               `json:"journal_entry_id,omitempty"`
	LocationID     *int               `json:"location_id,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	Lines          []PurchaseBillLine `json:"lines,omitempty"`
}

type PurchaseBillLine struct {
	ID               int             `json:"id"`
	BillID           int             `json:"bill_id"`
	CompanyID        int             `json:"company_id"`
	ItemID           int             `json:"item_id"`
	Description      string          `json:"description"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
	TaxAmount        decimal.Decimal `json:"tax_amount"`
	LineTotal        decimal.Decimal `json:"line_total"`
	ExpenseAccountID int             `json:"expense_account_id"`
}

type BillPayment struct {
	ID                     int             `json:"id"`
	CompanyID              int             `json:"company_id"`
	BillID                 int             `json:"bill_id"`
	PaymentDate            time.Time       `json:"payment_date"`
	Amount                 decimal.Decimal `json:"amount"`
	BankAccountID          int             `json:"bank_account_id"`
	JournalEntryID         int             `json:"journal_entry_id"`
	ReversedAt             *time.Time      `json:"reversed_at,omitempty"`
	ReversalJournalEntryID *int            `json:"reversal_journal_entry_id,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
}

type VendorCredit struct {
	ID             int             `json:"id"`
	CompanyID      int             `json:"company_id"`
	VendorID       int             `json:"vendor_id"`
	Number         string          `json:"number"`
	Status         string          `json:"status"`
	CreditDate     time.Time       `json:"credit_date"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
	AmountApplied  decimal.Decimal `json:"amount_applied"`
	JournalEntryID *int            `json:"journal_entry_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type VendorAdvance struct {
	ID             int             `json:"id"`
	CompanyID      int             `json:"company_id"`
	VendorID       int             `json:"vendor_id"`
	AdvanceDate    time.Time       `json:"advance_date"`
	Amount         decimal.Decimal `json:"amount"`
	AmountApplied  decimal.Decimal `json:"amount_applied"`
	BankAccountID  int             `json:"bank_account_id"`
	JournalEntryID int             `json:"journal_entry_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

type BillInput struct {
	VendorID   int            `json:"vendor_id"`
	Date       time.Time      `json:"date"`
	DueDate    *time.Time     `json:"due_date"`
	Currency   *string        `json:"currency"`
	LocationID *int           `json:"location_id"`
	Lines      []DocLineInput `json:"lines"`
}

type BillPaymentInput struct {
	BillID        int             `json:"bill_id"`
	Date          time.Time       `json:"date"`
	Amount        decimal.Decimal `json:"amount"`
	BankAccountID int             `json:"bank_account_id"`
}

type VendorCreditInput struct {
	VendorID int            `json:"vendor_id"`
	Date     time.Time      `json:"date"`
	Lines    []DocLineInput `json:"lines"`
}

type VendorAdvanceInput struct {
	VendorID      int             `json:"vendor_id"`
	Date          time.Time       `json:"date"`
	Amount        decimal.Decimal `json:"amount"`
	BankAccountID int             `json:"bank_account_id"`
}

type BillApplicationInput struct {
	BillID int             `json:"bill_id"`
	Amount decimal.Decimal `json:"amount"`
	Date   time.Time       `json:"date"`
}
