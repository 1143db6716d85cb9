// Package providers names the payment networks an invoice can be collected on.
package providers

// Provider identifies a payment network.
type Provider string

const (
	// Paystack is the wallet/card gateway (network A).
	Paystack Provider = "paystack"
	// PayPal is the global wallet (network B).
	PayPal Provider = "paypal"
	// Stripe is the card processor (network C).
	Stripe Provider = "stripe"
	// Manual marks payments recorded by hand (bank transfer, cash).
	Manual Provider = "manual"
)

// Networks are the providers a payment link can be generated on.
var Networks = []Provider{Paystack, PayPal, Stripe}

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case Paystack, PayPal, Stripe, Manual:
		return true
	}
	return false
}

// SupportsLinks reports whether a payment link can be generated on p.
func (p Provider) SupportsLinks() bool {
	return p == Paystack || p == PayPal || p == Stripe
}

// Label is the human readable network name.
func (p Provider) Label() string {
	switch p {
	case Paystack:
		return "Paystack"
	case PayPal:
		return "PayPal"
	case Stripe:
		return "Stripe"
	case Manual:
		return "Manual"
	}
	return string(p)
}
