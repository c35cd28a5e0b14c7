package money

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRound2_HalfToEven(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2.125", "2.12"},
		{"2.135", "2.14"},
		{"1.005", "1"},
		{"-2.125", "-2.12"},
		{"100", "100"},
		{"0.004999", "0"},
	}
	for _, tt := range tests {
		assert.True(t, Round2(dec(tt.in)).Equal(dec(tt.want)),
			"Round2(%s) = %s, want %s", tt.in, Round2(dec(tt.in)), tt.want)
	}
}

func TestRoundScales(t *testing.T) {
	assert.True(t, Round4(dec("0.18335")).Equal(dec("0.1834")))
	assert.True(t, Round4(dec("0.18325")).Equal(dec("0.1832")))
	assert.True(t, Round6(dec("83.4999995")).Equal(dec("83.5")))
}

func TestParse(t *testing.T) {
	d, err := Parse("150.00")
	require.NoError(t, err)
	assert.True(t, d.Equal(dec("150")))

	d, err = Parse(json.Number("99.95"))
	require.NoError(t, err)
	assert.True(t, d.Equal(dec("99.95")))

	d, err = Parse(42)
	require.NoError(t, err)
	assert.True(t, d.Equal(dec("42")))

	_, err = Parse(nil)
	assert.Error(t, err)
	_, err = Parse("not-a-number")
	assert.Error(t, err)
	_, err = Parse(true)
	assert.Error(t, err)
}

func TestDayRoundTrip(t *testing.T) {
	stamp := time.Date(2026, 3, 15, 23, 45, 1, 0, time.FixedZone("X", 5*3600))
	day := Day(stamp)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), day)
	assert.Equal(t, "2026-03-15", FormatDay(day))

	parsed, err := ParseDay("2026-03-15")
	require.NoError(t, err)
	assert.Equal(t, day, parsed)

	_, err = ParseDay("15/03/2026")
	assert.Error(t, err)
}
