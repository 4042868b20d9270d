package enums

import "fmt"

// ReturnStatus tracks the return pipeline of a delivered order. The empty value means no return.
type ReturnStatus string

const (
	ReturnStatusRequested       ReturnStatus = "requested"
	ReturnStatusApproved        ReturnStatus = "approved"
	ReturnStatusPickupCompleted ReturnStatus = "pickup_completed"
	ReturnStatusCompleted       ReturnStatus = "completed"
)

var validReturnStatuses = []ReturnStatus{
	ReturnStatusRequested,
	ReturnStatusApproved,
	ReturnStatusPickupCompleted,
	ReturnStatusCompleted,
}

// String implements fmt.Stringer.
func (v ReturnStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known ReturnStatus.
func (v ReturnStatus) IsValid() bool {
	for _, candidate := range validReturnStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseReturnStatus converts raw input into a ReturnStatus.
func ParseReturnStatus(value string) (ReturnStatus, error) {
	for _, candidate := range validReturnStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid return status %q", value)
}

// InProgress reports whether a return has been opened and not yet completed.
func (v ReturnStatus) InProgress() bool {
	return v == ReturnStatusRequested || v == ReturnStatusApproved || v == ReturnStatusPickupCompleted
}
