// Package money holds the whole-unit rounding policy shared by every ledger
// calculation. No fractional currency units are tracked anywhere.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

const symbol = "₹"

// Whole rounds d to the nearest whole currency unit, ties to even.
func Whole(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(0)
}

// Sum adds the given amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Format renders d as whole currency units with thousands separators, e.g. ₹124,000.
func Format(d decimal.Decimal) string {
	whole := Whole(d)
	sign := ""
	if whole.IsNegative() {
		sign = "-"
		whole = whole.Neg()
	}
	return sign + symbol + group(whole.StringFixed(0))
}

func group(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
