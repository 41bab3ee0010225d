package paytrail

import "fmt"

// Status is the payment state reported by the provider in redirects and
// callbacks.
type Status string

const (
	StatusNew     Status = "new"
	StatusOK      Status = "ok"
	StatusFail    Status = "fail"
	StatusPending Status = "pending"
	StatusDelayed Status = "delayed"
)

var validStatuses = []Status{
	StatusNew,
	StatusOK,
	StatusFail,
	StatusPending,
	StatusDelayed,
}

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}

// IsValid reports whether the value is a known provider status.
func (s Status) IsValid() bool {
	for _, candidate := range validStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseStatus converts raw input into a Status.
func ParseStatus(value string) (Status, error) {
	for _, candidate := range validStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
