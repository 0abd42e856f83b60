package service

import (
	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// MaxQuantity is the largest value the NUMERIC(14,2) quantity columns hold.
var MaxQuantity = decimal.RequireFromString("999999999999.99")

const maxQuantityIntegerDigits = 12

// roundQuantity rounds qty to cents. ok is false when the result would not
// fit MaxQuantity. The magnitude is read from the coefficient length and
// exponent before rounding; Round on an extreme exponent allocates 10^exp.
func roundQuantity(qty decimal.Decimal) (rounded decimal.Decimal, ok bool) {
	if qty.IsZero() {
		return decimal.Zero, true
	}

	// |qty| < 10^magnitude
	magnitude := qty.NumDigits() + int(qty.Exponent())
	switch {
	case magnitude > maxQuantityIntegerDigits:
		return decimal.Zero, false
	case magnitude < -2:
		return decimal.Zero, true
	}

	rounded = qty.Round(2)
	if rounded.Abs().GreaterThan(MaxQuantity) {
		return decimal.Zero, false
	}
	return rounded, true
}

// normalizeQuantity rounds to the two decimal places the ledger stores and
// rejects anything that is not positive afterwards or does not fit.
func normalizeQuantity(qty decimal.Decimal) (decimal.Decimal, error) {
	qty, ok := roundQuantity(qty)
	if !ok {
		return decimal.Zero, errors.QuantityTooLarge(MaxQuantity.StringFixed(2))
	}
	if !qty.IsPositive() {
		return decimal.Zero, errors.InvalidQuantity()
	}
	return qty, nil
}
