package core

import (
	"github.com/shopspring/decimal"

	"accounting-core/internal/money"
)

// DocLineInput is the common shape of an invoice, credit note, bill, or POS
// receipt line before totals are computed. Unit prices are tax-exclusive.
type DocLineInput struct {
	ItemID         int             `json:"item_id"`
	Description    string          `json:"description"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
}

// DocLine is a priced line: LineTotal = qty*unitPrice - discount, rounded to
// 2dp, tax computed at 4dp on the discounted total and rounded to 2dp.
type DocLine struct {
	DocLineInput
	LineTotal decimal.Decimal `json:"line_total"`
	TaxAmount decimal.Decimal `json:"tax_amount"`

	// Resolved during posting.
	IncomeAccountID int  `json:"income_account_id,omitempty"`
	TrackInventory  bool `json:"-"`
}

// DocTotals aggregates priced lines.
type DocTotals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax_amount"`
	Total    decimal.Decimal `json:"total"`
}

// ComputeLines prices each line and returns the aggregate totals. The same
// routine serves manual documents and imported receipts, so both produce
// identical amounts for identical inputs.
func ComputeLines(lines []DocLineInput) ([]DocLine, DocTotals, error) {
	if len(lines) == 0 {
		return nil, DocTotals{}, E(KindValidation, "document requires at least one line")
	}

	out := make([]DocLine, 0, len(lines))
	var totals DocTotals
	for i, in := range lines {
		if in.ItemID <= 0 {
			return nil, DocTotals{}, E(KindValidation, "line %d: missing item", i+1)
		}
		if !in.Quantity.IsPositive() {
			return nil, DocTotals{}, E(KindValidation, "line %d: quantity must be positive", i+1)
		}
		if in.UnitPrice.IsNegative() {
			return nil, DocTotals{}, E(KindValidation, "line %d: negative unit price", i+1)
		}
		if in.DiscountAmount.IsNegative() || in.TaxRate.IsNegative() {
			return nil, DocTotals{}, E(KindValidation, "line %d: negative discount or tax rate", i+1)
		}

		lineTotal := money.Round2(in.Quantity.Mul(in.UnitPrice).Sub(in.DiscountAmount))
		if lineTotal.IsNegative() {
			return nil, DocTotals{}, E(KindValidation, "line %d: discount exceeds line amount", i+1)
		}
		tax := money.Round2(money.Round4(lineTotal.Mul(in.TaxRate)))

		out = append(out, DocLine{DocLineInput: in, LineTotal: lineTotal, TaxAmount: tax})
		totals.Subtotal = totals.Subtotal.Add(lineTotal)
		totals.Tax = totals.Tax.Add(tax)
	}
	totals.Subtotal = money.Round2(totals.Subtotal)
	totals.Tax = money.Round2(totals.Tax)
	totals.Total = money.Round2(totals.Subtotal.Add(totals.Tax))
	return out, totals, nil
}

// incomeBuckets groups line revenue by income account for the credit side of
// a sales posting.
func incomeBuckets(lines []DocLine) map[int]decimal.Decimal {
	buckets := map[int]decimal.Decimal{}
	for _, l := range lines {
		buckets[l.IncomeAccountID] = buckets[l.IncomeAccountID].Add(l.LineTotal)
	}
	return buckets
}

// deriveDocumentStatus maps paid-so-far against total.
func deriveDocumentStatus(total, paid decimal.Decimal) string {
	switch {
	case paid.GreaterThanOrEqual(total) && total.IsPositive():
		return "PAID"
	case paid.IsPositive():
		return "PARTIAL"
	default:
		return "POSTED"
	}
}
