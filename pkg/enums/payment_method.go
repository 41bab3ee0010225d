package enums

import "fmt"

// PaymentMethod names the settlement strategy chosen at checkout.
type PaymentMethod string

const (
	// PaymentMethodPaytrail settles through the external provider.
	PaymentMethodPaytrail PaymentMethod = "paytrail"
	// PaymentMethodNoPayment is accepted only for zero-cost carts.
	PaymentMethodNoPayment PaymentMethod = "no_payment"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodPaytrail,
	PaymentMethodNoPayment,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsNoCost reports whether the method skips the provider entirely.
func (p PaymentMethod) IsNoCost() bool {
	return p == PaymentMethodNoPayment
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
