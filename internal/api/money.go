package api

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Amounts cross the wire in currency units ("10.50") and are held internally
// as int64 minor units. Conversion goes through decimal arithmetic so values
// like 0.1 survive exactly; anything finer than two decimal places is
// rejected rather than rounded.

func parseAmount(n json.Number) (int64, error) {
	if n == "" {
		return 0, fmt.Errorf("amount is required")
	}

	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return 0, fmt.Errorf("amount must be a number")
	}
	if d.Sign() <= 0 {
		return 0, fmt.Errorf("amount must be a positive number")
	}

	minor := d.Shift(2)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount must have at most 2 decimal places")
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount is out of range")
	}

	return minor.IntPart(), nil
}

func formatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
