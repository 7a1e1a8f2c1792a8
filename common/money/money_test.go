package money

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToCents(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"0.00", 0},
		{"1", 100},
		{"19.99", 1999},
		{"19.9", 1990},
		{"0.01", 1},
		{"-3.50", -350},
		{"100.005", 10001}, // half away from zero, not banker's rounding
		{"100.015", 10002}, // would be 10002 either way
		{"100.025", 10003}, // banker's would give 10002
		{"-100.005", -10001},
		{"0.999", 100},
		{"1234567.89", 123456789},
	}

	for _, tc := range cases {
		got, err := ToCents(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestToCentsInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "1,99", "19.99$"} {
		_, err := ToCents(in)
		assert.Error(t, err, in)
	}
}

func TestToCentsRoundTrip(t *testing.T) {
	// FormatCents followed by ToCents returns the original cent amount.
	for _, cents := range []int64{0, 1, 99, 100, 1999, 500000, 123456789} {
		got, err := ToCents(FormatCents(cents))
		require.NoError(t, err)
		assert.Equal(t, cents, got)
	}
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "19.99", FormatCents(1999))
	assert.Equal(t, "0.05", FormatCents(5))
	assert.Equal(t, "10.00", FormatCents(1000))
	assert.Equal(t, "-3.50", FormatCents(-350))
}

func TestMustToCentsPanics(t *testing.T) {
	assert.Panics(t, func() { MustToCents("not a number") })
	assert.NotPanics(t, func() { MustToCents("12.34") })
}

func TestLineDescription(t *testing.T) {
	assert.Equal(t, "Blue Mug x 3", LineDescription("Blue Mug", 3))
	assert.Equal(t, fmt.Sprintf("%s x %d", "Shipping", 1), LineDescription("Shipping", 1))
}
