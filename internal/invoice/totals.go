package invoice

import (
	"github.com/shopspring/decimal"

	"github.com/mbd888/billflow/internal/money"
)

var (
	hundred     = decimal.NewFromInt(100)
	maxDiscount = hundred
)

// Totals are the computed amounts of an invoice.
type Totals struct {
	LineItems      []LineItem
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
}

// ComputeTotals derives line amounts, subtotal, tax, discount and total.
//
// Rates are percentages (7.5 means 7.5%). Tax and discount both apply to the
// subtotal. Negative inputs are treated as zero and the discount rate is
// capped at 100. Every amount is rounded half away from zero to the
// currency's precision, so zero-decimal currencies produce whole numbers.
func ComputeTotals(items []LineItem, taxRate, discountRate, shipping decimal.Decimal, currency string) Totals {
	out := Totals{LineItems: make([]LineItem, len(items))}

	subtotal := decimal.Zero
	for i, it := range items {
		qty := money.NonNegative(it.Quantity)
		rate := money.NonNegative(it.Rate)
		amount := money.Round(qty.Mul(rate), currency)
		out.LineItems[i] = LineItem{
			Description: it.Description,
			Quantity:    qty,
			Rate:        rate,
			Amount:      amount,
		}
		subtotal = subtotal.Add(amount)
	}

	taxRate = money.NonNegative(taxRate)
	discountRate = money.NonNegative(discountRate)
	if discountRate.GreaterThan(maxDiscount) {
		discountRate = maxDiscount
	}
	shipping = money.Round(money.NonNegative(shipping), currency)

	out.Subtotal = money.Round(subtotal, currency)
	out.TaxAmount = money.Round(out.Subtotal.Mul(taxRate).Div(hundred), currency)
	out.DiscountAmount = money.Round(out.Subtotal.Mul(discountRate).Div(hundred), currency)
	out.Total = money.Round(out.Subtotal.Sub(out.DiscountAmount).Add(out.TaxAmount).Add(shipping), currency)
	return out
}

// applyTotals recomputes inv's amounts from its line items and rates.
func applyTotals(inv *Invoice) {
	t := ComputeTotals(inv.LineItems, inv.TaxRate, inv.DiscountRate, inv.Shipping, inv.Currency)
	inv.LineItems = t.LineItems
	inv.TaxRate = money.NonNegative(inv.TaxRate)
	inv.DiscountRate = money.NonNegative(inv.DiscountRate)
	if inv.DiscountRate.GreaterThan(maxDiscount) {
		inv.DiscountRate = maxDiscount
	}
	inv.Shipping = money.Round(money.NonNegative(inv.Shipping), inv.Currency)
	inv.Subtotal = t.Subtotal
	inv.TaxAmount = t.TaxAmount
	inv.DiscountAmount = t.DiscountAmount
	inv.Total = t.Total
}
