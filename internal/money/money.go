// Package money holds the fixed-scale decimal conventions used across the
// ledger: stored money carries two fractional digits, tax rates four, FX
// rates six. Intermediate arithmetic keeps full precision; rounding happens
// only at field assignment.
package money

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Scales for the three stored decimal families.
const (
	MoneyScale = 2
	RateScale  = 4
	FXScale    = 6
)

// Round2 rounds a money amount to two places, half to even.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(MoneyScale)
}

// Round4 rounds a tax rate to four places, half to even.
func Round4(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(RateScale)
}

// Round6 rounds an FX rate to six places, half to even.
func Round6(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(FXScale)
}

// Parse accepts integer, string, or floating JSON input and returns the exact
// decimal. Non-finite floats and unparseable strings are rejected.
func Parse(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, fmt.Errorf("amount is missing")
	case string:
		d, err := decimal.NewFromString(x)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal %q", x)
		}
		return d, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, fmt.Errorf("amount must be finite")
		}
		return decimal.NewFromFloat(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal %q", x.String())
		}
		return d, nil
	case decimal.Decimal:
		return x, nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported amount type %T", v)
	}
}

// Day normalises a timestamp to a UTC calendar date.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date string as a UTC day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

// FormatDay renders a UTC day back to YYYY-MM-DD.
func FormatDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
