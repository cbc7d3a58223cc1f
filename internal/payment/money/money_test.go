package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinorMajorRoundTrip(t *testing.T) {
	cases := []struct {
		currency string
		amount   int64
		major    string
	}{
		{"USD", 1, "0.01"},
		{"USD", 5000, "50"},
		{"NGN", 99_999_999_99, "99999999.99"},
		{"UGX", 1500, "1500"},
		{"KWD", 1234, "1.234"},
	}

	for _, tc := range cases {
		t.Run(tc.currency, func(t *testing.T) {
			major, err := MinorToMajor(tc.amount, tc.currency)
			require.NoError(t, err)
			assert.True(t, major.Equal(decimal.RequireFromString(tc.major)), "got %s", major.String())

			back, err := MajorToMinor(major, tc.currency)
			require.NoError(t, err)
			assert.Equal(t, tc.amount, back)
		})
	}
}

func TestMajorToMinorRejectsExtraPrecision(t *testing.T) {
	_, err := MajorToMinor(decimal.RequireFromString("10.005"), "USD")
	assert.ErrorIs(t, err, ErrFractionalAmount)
}

func TestNormalizeCurrency(t *testing.T) {
	code, err := NormalizeCurrency(" usd ")
	require.NoError(t, err)
	assert.Equal(t, "USD", code)

	_, err = NormalizeCurrency("XYZ")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}
