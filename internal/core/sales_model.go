package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Document statuses shared by invoices and purchase bills. Credit notes only
// use StatusPosted and StatusVoid.
const (
	StatusDraft   = "DRAFT"
	StatusPosted  = "POSTED"
	StatusPartial = "PARTIAL"
	StatusPaid    = "PAID"
	StatusVoid    = "VOID"
)

type Invoice struct {
	ID             int              `json:"id"`
	CompanyID      int              `json:"company_id"`
	CustomerID     int              `json:"customer_id"`
	Number         string           `json:"number"`
	Status         string           `json:"status"`
	InvoiceDate    time.Time        `json:"invoice_date"`
	DueDate        *time.Time       `json:"due_date,omitempty"`
	Currency       *string          `json:"currency,omitempty"`
	ExchangeRate   decimal.Decimal  `json:"exchange_rate"`
	Subtotal       decimal.Decimal  `json:"subtotal"`
	TaxAmount      decimal.Decimal  `json:"tax_amount"`
	Total          decimal.Decimal  `json:"total"`
	AmountPaid     decimal.Decimal  `json:"amount_paid"`
	JournalEntryID *int             `json:"journal_entry_id,omitempty"`
	LocationID     *int             `json:"location_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	Lines          []InvoiceLine    `json:"lines,omitempty"`
}

type InvoiceLine struct {
	ID              int             `json:"id"`
	InvoiceID       int             `json:"invoice_id"`
	CompanyID       int             `json:"company_id"`
	ItemID          int             `json:"item_id"`
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	LineTotal       decimal.Decimal `json:"line_total"`
	IncomeAccountID int             `json:"income_account_id"`
}

type Payment struct {
	ID                     int             `json:"id"`
	CompanyID              int             `json:"company_id"`
	InvoiceID              int             `json:"invoice_id"`
	PaymentDate            time.Time       `json:"payment_date"`
	Amount                 decimal.Decimal `json:"amount"`
	BankAccountID          int             `json:"bank_account_id"`
	JournalEntryID         int             `json:"journal_entry_id"`
	ReversedAt             *time.Time      `json:"reversed_at,omitempty"`
	ReversalJournalEntryID *int            `json:"reversal_journal_entry_id,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
}

type CreditNote struct {
	ID             int              `json:"id"`
	CompanyID      int              `json:"company_id"`
	CustomerID     int              `json:"customer_id"`
	Number         string           `json:"number"`
	Status         string           `json:"status"`
	CreditDate     time.Time        `json:"credit_date"`
	Subtotal       decimal.Decimal  `json:"subtotal"`
	TaxAmount      decimal.Decimal  `json:"tax_amount"`
	Total          decimal.Decimal  `json:"total"`
	AmountApplied  decimal.Decimal  `json:"amount_applied"`
	JournalEntryID *int             `json:"journal_entry_id,omitempty"`
	LocationID     *int             `json:"location_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	Lines          []CreditNoteLine `json:"lines,omitempty"`
}

type CreditNoteLine struct {
	ID              int             `json:"id"`
	CreditNoteID    int             `json:"credit_note_id"`
	CompanyID       int             `json:"company_id"`
	ItemID          int             `json:"item_id"`
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	LineTotal       decimal.Decimal `json:"line_total"`
	IncomeAccountID int             `json:"income_account_id"`
}

type CustomerAdvance struct {
	ID             int             `json:"id"`
	CompanyID      int             `json:"company_id"`
	CustomerID     int             `json:"customer_id"`
	AdvanceDate    time.Time       `json:"advance_date"`
	Amount         decimal.Decimal `json:"amount"`
	AmountApplied  decimal.Decimal `json:"amount_applied"`
	BankAccountID  int             `json:"bank_account_id"`
	JournalEntryID int             `json:"journal_entry_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

// InvoiceInput creates a draft. Totals are computed server-side; client
// totals, when present, must match exactly or posting is refused.
type InvoiceInput struct {
	CustomerID int            `json:"customer_id"`
	Date       time.Time      `json:"date"`
	DueDate    *time.Time     `json:"due_date"`
	Currency   *string        `json:"currency"`
	LocationID *int           `json:"location_id"`
	Lines      []DocLineInput `json:"lines"`
}

type PaymentInput struct {
	InvoiceID     int             `json:"invoice_id"`
	Date          time.Time       `json:"date"`
	Amount        decimal.Decimal `json:"amount"`
	BankAccountID int             `json:"bank_account_id"`
}

type CreditNoteInput struct {
	CustomerID int            `json:"customer_id"`
	Date       time.Time      `json:"date"`
	LocationID *int           `json:"location_id"`
	Restock    bool           `json:"restock"`
	Lines      []DocLineInput `json:"lines"`
}

type CustomerAdvanceInput struct {
	CustomerID    int             `json:"customer_id"`
	Date          time.Time       `json:"date"`
	Amount        decimal.Decimal `json:"amount"`
	BankAccountID int             `json:"bank_account_id"`
}

type ApplicationInput struct {
	InvoiceID int             `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Date      time.Time       `json:"date"`
}
