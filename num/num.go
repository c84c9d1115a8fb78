// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package num is the amount engine. All orchestrator arithmetic and
// comparisons route through it so that decimal precision is never lost to
// native floating point. Values are arbitrary-precision decimals truncated
// to each token's declared decimal places.
package num

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// Users paste amounts with comma decimal separators and stray repeated
	// separators. Collapse those before parsing.
	sepCleaner  = regexp.MustCompile(`,|\.\.|\.,`)
	extraDots   = regexp.MustCompile(`^([^.]*\.)(.*)$`)
)

// Parse converts a user-entered amount string into a Decimal. Comma
// separators are treated as decimal points and repeated separators are
// collapsed. An empty or unparseable string yields zero and false.
func Parse(s string) (decimal.Decimal, bool) {
	s = sepCleaner.ReplaceAllString(s, ".")
	if m := extraDots.FindStringSubmatch(s); m != nil {
		s = m[1] + strings.ReplaceAll(m[2], ".", "")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Format truncates v to the given number of decimal places, rounding toward
// zero. This is the only rounding mode the orchestrators use for display and
// mirroring; bounds corrections that need to round up go through UpliftMin.
func Format(v decimal.Decimal, decimals int32) decimal.Decimal {
	return v.Truncate(decimals)
}

// FormatString parses and formats a user-entered amount in one step,
// returning "0" for anything unparseable.
func FormatString(s string, decimals int32) string {
	d, ok := Parse(s)
	if !ok {
		return "0"
	}
	return Format(d, decimals).String()
}

// ToMinorUnits shifts v into the token's smallest representable units.
func ToMinorUnits(v decimal.Decimal, decimals int32) decimal.Decimal {
	return v.Shift(decimals)
}

// ToMajorUnits shifts a minor-unit amount back into whole-token units.
func ToMajorUnits(v decimal.Decimal, decimals int32) decimal.Decimal {
	return v.Shift(-decimals)
}

// Clamp bounds v to [min, max].
func Clamp(v, min, max decimal.Decimal) decimal.Decimal {
	if v.LessThan(min) {
		return min
	}
	if v.GreaterThan(max) {
		return max
	}
	return v
}

// SmallestUnit is one unit at the token's smallest decimal place: 1 for a
// 0-decimal token, 0.00000001 for an 8-decimal token.
func SmallestUnit(decimals int32) decimal.Decimal {
	return decimal.New(1, -decimals)
}

// UpliftMin applies the aggregator minimum correction: the quoted minimum is
// raised by 1% and then rounded up by one unit at the token's smallest
// decimal place. Aggregator-quoted minimums are occasionally insufficient in
// practice, so the corrected value is a safety margin, not a rounding bug.
func UpliftMin(quotedMin decimal.Decimal, decimals int32) decimal.Decimal {
	uplifted := quotedMin.Mul(decimal.NewFromFloat(1.01))
	return Format(uplifted, decimals).Add(SmallestUnit(decimals))
}
