// Package money models currency amounts as whole cents.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a signed count of cents. Ledger values are never floats.
type Amount int64

const centsPerDollar = 100

// Cents builds an Amount from a raw cent count.
func Cents(c int64) Amount { return Amount(c) }

// Dollars builds an Amount from whole dollars.
func Dollars(d int64) Amount { return Amount(d * centsPerDollar) }

func (a Amount) Int64() int64 { return int64(a) }

func (a Amount) IsPositive() bool { return a > 0 }

// Decimal returns the amount expressed in dollars.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

// String renders the amount for display, e.g. "$1,200.00" or "-$5.50".
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := Amount(v).Decimal().Truncate(0).String()
	return fmt.Sprintf("%s$%s.%02d", sign, groupThousands(whole), v%centsPerDollar)
}

// Parse reads a dollar string such as "12.50", "$1,200" or "1200.00" into
// cents. More than two fractional digits is rejected rather than rounded.
func Parse(raw string) (Amount, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "$")
	clean = strings.ReplaceAll(clean, ",", "")
	if clean == "" {
		return 0, fmt.Errorf("money: empty amount")
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", raw, err)
	}
	cents := d.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("money: %q has sub-cent precision", raw)
	}
	return Amount(cents.IntPart()), nil
}

// ProgressPercent returns the whole percentage of goal covered by
// accumulated, capped at 100. A goal of zero or less reports 0.
func ProgressPercent(accumulated, goal Amount) int {
	if goal <= 0 || accumulated <= 0 {
		return 0
	}
	if accumulated >= goal {
		return 100
	}
	return int(int64(accumulated) * 100 / int64(goal))
}

// Sum adds the provided amounts.
func Sum(amounts ...Amount) Amount {
	var total Amount
	for _, a := range amounts {
		total += a
	}
	return total
}

// FloorZero clamps negative amounts to zero.
func FloorZero(a Amount) Amount {
	if a < 0 {
		return 0
	}
	return a
}

func groupThousands(digits string) string {
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
