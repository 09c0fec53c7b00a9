package shared

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// QuantityScale is the number of fractional digits a stored quantity keeps.
	QuantityScale = 3
	// QuantityIntegerDigits is the number of integer digits a stored quantity keeps.
	QuantityIntegerDigits = 15
)

var quantityLimit = decimal.New(1, QuantityIntegerDigits)

// QuantityProblem reports why d cannot be stored as a quantity, or "" when it can.
func QuantityProblem(d decimal.Decimal) string {
	if !d.Equal(d.Truncate(QuantityScale)) {
		return fmt.Sprintf("at most %d decimal places", QuantityScale)
	}
	if d.Abs().GreaterThanOrEqual(quantityLimit) {
		return fmt.Sprintf("must be below %s", quantityLimit)
	}
	return ""
}
