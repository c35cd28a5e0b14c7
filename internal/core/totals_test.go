package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeLines(t *testing.T) {
	lines, totals, err := ComputeLines([]DocLineInput{
		{ItemID: 1, Quantity: dec("2"), UnitPrice: dec("100"), TaxRate: dec("0.18")},
		{ItemID: 2, Quantity: dec("1"), UnitPrice: dec("50"), DiscountAmount: dec("10"), TaxRate: dec("0.05")},
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)

	assert.True(t, lines[0].LineTotal.Equal(dec("200")))
	assert.True(t, lines[0].TaxAmount.Equal(dec("36")))
	assert.True(t, lines[1].LineTotal.Equal(dec("40")))
	assert.True(t, lines[1].TaxAmount.Equal(dec("2")))

	assert.True(t, totals.Subtotal.Equal(dec("240")))
	assert.True(t, totals.Tax.Equal(dec("38")))
	assert.True(t, totals.Total.Equal(dec("278")))
}

func TestComputeLines_TaxRounding(t *testing.T) {
	// 3 x 33.33 = 99.99; 99.99 * 0.18 = 17.9982 -> 18.00 at money scale.
	lines, _, err := ComputeLines([]DocLineInput{
		{ItemID: 1, Quantity: dec("3"), UnitPrice: dec("33.33"), TaxRate: dec("0.18")},
	})
	require.NoError(t, err)
	assert.True(t, lines[0].LineTotal.Equal(dec("99.99")))
	assert.True(t, lines[0].TaxAmount.Equal(dec("18")), "got %s", lines[0].TaxAmount)
}

func TestComputeLines_Rejections(t *testing.T) {
	cases := []struct {
		name  string
		lines []DocLineInput
	}{
		{"empty document", nil},
		{"missing item", []DocLineInput{{Quantity: dec("1"), UnitPrice: dec("10")}}},
		{"zero quantity", []DocLineInput{{ItemID: 1, Quantity: dec("0"), UnitPrice: dec("10")}}},
		{"negative price", []DocLineInput{{ItemID: 1, Quantity: dec("1"), UnitPrice: dec("-10")}}},
		{"negative discount", []DocLineInput{{ItemID: 1, Quantity: dec("1"), UnitPrice: dec("10"), DiscountAmount: dec("-1")}}},
		{"discount exceeds line", []DocLineInput{{ItemID: 1, Quantity: dec("1"), UnitPrice: dec("10"), DiscountAmount: dec("15")}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ComputeLines(tc.lines)
			require.Error(t, err)
			assert.True(t, IsKind(err, KindValidation))
		})
	}
}

func TestDeriveDocumentStatus(t *testing.T) {
	assert.Equal(t, StatusPosted, deriveDocumentStatus(dec("100"), decimal.Zero))
	assert.Equal(t, StatusPartial, deriveDocumentStatus(dec("100"), dec("40")))
	assert.Equal(t, StatusPaid, deriveDocumentStatus(dec("100"), dec("100")))
	assert.Equal(t, StatusPaid, deriveDocumentStatus(dec("100"), dec("120")))
	// A zero-total document never flips to PAID by itself.
	assert.Equal(t, StatusPosted, deriveDocumentStatus(decimal.Zero, decimal.Zero))
}

func TestIncomeBuckets(t *testing.T) {
	buckets := incomeBuckets([]DocLine{
		{DocLineInput: DocLineInput{ItemID: 1}, LineTotal: dec("100"), IncomeAccountID: 7},
		{DocLineInput: DocLineInput{ItemID: 2}, LineTotal: dec("50"), IncomeAccountID: 7},
		{DocLineInput: DocLineInput{ItemID: 3}, LineTotal: dec("25"), IncomeAccountID: 9},
	})
	require.Len(t, buckets, 2)
	assert.True(t, buckets[7].Equal(dec("150")))
	assert.True(t, buckets[9].Equal(dec("25")))
}
