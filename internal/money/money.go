// Package money provides currency precision, rounding and minor-unit
// conversion for invoice amounts.
//
// All amounts are shopspring decimals. Most currencies carry 2 decimal
// places; zero-decimal currencies (JPY, KRW, ...) carry none and a few
// (BHD, KWD, ...) carry 3. Provider APIs that take integers receive the
// amount in minor units of the currency (12.345 USD -> 1235).
package money

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is the precision for currencies not listed below.
const DefaultDecimals int32 = 2

var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true,
	"KMF": true, "KRW": true, "MGA": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true,
	"XPF": true,
}

var threeDecimal = map[string]bool{
	"BHD": true, "JOD": true, "KWD": true, "OMR": true, "TND": true,
}

var symbols = map[string]string{
	"USD": "$", "EUR": "€", "GBP": "£", "NGN": "₦", "JPY": "¥",
	"GHS": "GH₵", "KES": "KSh", "ZAR": "R", "INR": "₹", "CAD": "CA$",
	"AUD": "A$",
}

// Normalize upper-cases and trims an ISO-4217 code.
func Normalize(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// ValidCurrency reports whether code looks like an ISO-4217 alpha code.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Decimals returns the number of minor-unit digits for currency.
func Decimals(currency string) int32 {
	c := Normalize(currency)
	switch {
	case zeroDecimal[c]:
		return 0
	case threeDecimal[c]:
		return 3
	default:
		return DefaultDecimals
	}
}

// IsZeroDecimal reports whether currency has no minor unit.
func IsZeroDecimal(currency string) bool {
	return zeroDecimal[Normalize(currency)]
}

// Round rounds amount half away from zero to the currency's precision.
func Round(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(Decimals(currency))
}

// ToMinor converts amount to an integer count of minor units after rounding
// to the currency's precision.
func ToMinor(amount decimal.Decimal, currency string) int64 {
	d := Decimals(currency)
	return amount.Round(d).Shift(d).IntPart()
}

// FromMinor is the inverse of ToMinor.
func FromMinor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Decimals(currency))
}

// PaidInFull compares at minor-unit resolution so that representation noise
// below the currency's precision never flips the result.
func PaidInFull(paid, total decimal.Decimal, currency string) bool {
	return ToMinor(paid, currency) >= ToMinor(total, currency)
}

// NonNegative clamps negative amounts to zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// FromFloat converts a float input, clamping NaN, infinities and negative
// values to zero.
func FromFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

// StringFixed renders amount with exactly the currency's precision
// ("12.35", "1235" for JPY). This is the decimal form sent to providers
// that take string amounts.
func StringFixed(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(Decimals(currency))
}

// Format renders amount for humans, e.g. "$1,234.50" or "CHF 10.00".
func Format(amount decimal.Decimal, currency string) string {
	c := Normalize(currency)
	s := StringFixed(amount, c)

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if hasFrac {
		out += "." + frac
	}

	if sym, ok := symbols[c]; ok {
		out = sym + out
	} else {
		out = c + " " + out
	}
	if neg {
		out = "-" + out
	}
	return out
}
