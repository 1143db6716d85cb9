package invoice

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeTotals(t *testing.T) {
	tests := []struct {
		name     string
		items    []LineItem
		tax      string
		discount string
		shipping string
		currency string
		subtotal string
		taxAmt   string
		discAmt  string
		total    string
	}{
		{
			name: "usd with tax discount and shipping",
			items: []LineItem{
				{Description: "Design", Quantity: d("2"), Rate: d("50.00")},
				{Description: "Hosting", Quantity: d("1"), Rate: d("12.345")},
			},
			tax: "10", discount: "5", shipping: "5", currency: "USD",
			subtotal: "112.35", taxAmt: "11.24", discAmt: "5.62", total: "122.97",
		},
		{
			name:  "zero-decimal currency rounds to whole units",
			items: []LineItem{{Description: "Consulting", Quantity: d("3"), Rate: d("333.5")}},
			tax:   "8", discount: "0", shipping: "0", currency: "JPY",
			subtotal: "1001", taxAmt: "80", discAmt: "0", total: "1081",
		},
		{
			name:  "three-decimal currency",
			items: []LineItem{{Description: "Audit", Quantity: d("1"), Rate: d("10.0005")}},
			tax:   "0", discount: "0", shipping: "0", currency: "KWD",
			subtotal: "10.001", taxAmt: "0", discAmt: "0", total: "10.001",
		},
		{
			name:  "discount capped at one hundred percent",
			items: []LineItem{{Description: "Gift", Quantity: d("1"), Rate: d("40")}},
			tax:   "0", discount: "150", shipping: "3.50", currency: "USD",
			subtotal: "40", taxAmt: "0", discAmt: "40", total: "3.50",
		},
		{
			name: "negative inputs clamp to zero",
			items: []LineItem{
				{Description: "Refund line", Quantity: d("-1"), Rate: d("100")},
				{Description: "Work", Quantity: d("1"), Rate: d("-5")},
			},
			tax: "-10", discount: "-10", shipping: "-1", currency: "USD",
			subtotal: "0", taxAmt: "0", discAmt: "0", total: "0",
		},
		{
			name:  "no line items",
			items: nil,
			tax:   "20", discount: "0", shipping: "0", currency: "EUR",
			subtotal: "0", taxAmt: "0", discAmt: "0", total: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTotals(tt.items, d(tt.tax), d(tt.discount), d(tt.shipping), tt.currency)
			if !got.Subtotal.Equal(d(tt.subtotal)) {
				t.Errorf("Subtotal = %s, want %s", got.Subtotal, tt.subtotal)
			}
			if !got.TaxAmount.Equal(d(tt.taxAmt)) {
				t.Errorf("TaxAmount = %s, want %s", got.TaxAmount, tt.taxAmt)
			}
			if !got.DiscountAmount.Equal(d(tt.discAmt)) {
				t.Errorf("DiscountAmount = %s, want %s", got.DiscountAmount, tt.discAmt)
			}
			if !got.Total.Equal(d(tt.total)) {
				t.Errorf("Total = %s, want %s", got.Total, tt.total)
			}
			if len(got.LineItems) != len(tt.items) {
				t.Fatalf("got %d line items, want %d", len(got.LineItems), len(tt.items))
			}
		})
	}
}

func TestComputeTotals_LineAmounts(t *testing.T) {
	items := []LineItem{
		{Description: "A", Quantity: d("1.5"), Rate: d("9.99")},
		{Description: "B", Quantity: d("4"), Rate: d("0.125")},
	}
	got := ComputeTotals(items, decimal.Zero, decimal.Zero, decimal.Zero, "USD")

	if !got.LineItems[0].Amount.Equal(d("14.99")) {
		t.Errorf("line 0 amount = %s, want 14.99", got.LineItems[0].Amount)
	}
	if !got.LineItems[1].Amount.Equal(d("0.50")) {
		t.Errorf("line 1 amount = %s, want 0.50", got.LineItems[1].Amount)
	}
	if got.LineItems[0].Description != "A" {
		t.Errorf("description not carried over: %q", got.LineItems[0].Description)
	}
	// The input slice is left untouched.
	if !items[0].Amount.IsZero() {
		t.Error("ComputeTotals mutated its input")
	}
}

func TestComputeTotals_TotalInvariant(t *testing.T) {
	items := []LineItem{
		{Description: "X", Quantity: d("7"), Rate: d("13.37")},
		{Description: "Y", Quantity: d("0.333"), Rate: d("99.99")},
	}
	got := ComputeTotals(items, d("7.25"), d("12.5"), d("4.99"), "USD")
	want := got.Subtotal.Sub(got.DiscountAmount).Add(got.TaxAmount).Add(d("4.99")).Round(2)
	if !got.Total.Equal(want) {
		t.Errorf("Total = %s, want subtotal - discount + tax + shipping = %s", got.Total, want)
	}
}
