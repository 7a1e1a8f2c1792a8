// Package money normalizes decimal currency amounts into integer minor
// units (cents). The same normalization must be applied on both sides of any
// amount comparison, otherwise order totals and refund totals drift apart by
// a cent and reconciliation fails.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ToCents converts a decimal amount string ("19.99", "-3.5", "20") to an
// integer amount in cents. The amount is rounded half away from zero at the
// cent boundary, matching how the storefront renders totals.
func ToCents(amount string) (int64, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return d.Round(2).Shift(2).IntPart(), nil
}

// MustToCents is ToCents for amounts the caller already validated.
// It panics on malformed input.
func MustToCents(amount string) int64 {
	cents, err := ToCents(amount)
	if err != nil {
		panic(err)
	}
	return cents
}

// FormatCents renders an amount in cents as a plain two-decimal string,
// e.g. 1999 -> "19.99". Used for order notes and log lines.
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// LineDescription formats an order line the way it appears on a Clover
// receipt: "name x qty". Also used when matching refunded items.
func LineDescription(name string, qty int) string {
	return fmt.Sprintf("%s x %d", name, qty)
}
