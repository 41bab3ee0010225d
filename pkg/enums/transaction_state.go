package enums

import "fmt"

// TransactionState is the derived lifecycle state of a store transaction.
// Paid and cancelled are terminal and mutually exclusive.
type TransactionState string

const (
	TransactionStateCreated   TransactionState = "created"
	TransactionStatePending   TransactionState = "pending"
	TransactionStatePaid      TransactionState = "paid"
	TransactionStateCancelled TransactionState = "cancelled"
)

var validTransactionStates = []TransactionState{
	TransactionStateCreated,
	TransactionStatePending,
	TransactionStatePaid,
	TransactionStateCancelled,
}

// String implements fmt.Stringer.
func (t TransactionState) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TransactionState.
func (t TransactionState) IsValid() bool {
	for _, candidate := range validTransactionStates {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state permits no further transitions.
func (t TransactionState) IsTerminal() bool {
	return t == TransactionStatePaid || t == TransactionStateCancelled
}

// ParseTransactionState converts raw input into a TransactionState.
func ParseTransactionState(value string) (TransactionState, error) {
	for _, candidate := range validTransactionStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction state %q", value)
}
