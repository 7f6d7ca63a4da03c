package enums

import (
	"fmt"
	"strings"
)

// PaymentGateway identifies the provider a Payment is collected through.
type PaymentGateway string

const (
	GatewaySSLCommerz PaymentGateway = "sslcommerz"
	GatewayStripe     PaymentGateway = "stripe"
	GatewayPayPal     PaymentGateway = "paypal"
	GatewayBkash      PaymentGateway = "bkash"
	GatewaySquare     PaymentGateway = "square"
)

var validPaymentGateways = []PaymentGateway{
	GatewaySSLCommerz,
	GatewayStripe,
	GatewayPayPal,
	GatewayBkash,
	GatewaySquare,
}

// String implements fmt.Stringer.
func (g PaymentGateway) String() string {
	return string(g)
}

// IsValid reports whether the gateway is known.
func (g PaymentGateway) IsValid() bool {
	for _, candidate := range validPaymentGateways {
		if candidate == g {
			return true
		}
	}
	return false
}

// ParsePaymentGateway converts a path segment or body field into a PaymentGateway.
func ParsePaymentGateway(value string) (PaymentGateway, error) {
	lower := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPaymentGateways {
		if string(candidate) == lower {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment gateway %q", value)
}
