package enums

import "fmt"

// ContributionStatus maps to the contribution_status enum in Postgres.
type ContributionStatus string

const (
	ContributionStatusPending  ContributionStatus = "pending"
	ContributionStatusPaid     ContributionStatus = "paid"
	ContributionStatusRefunded ContributionStatus = "refunded"
)

var validContributionStatuses = []ContributionStatus{
	ContributionStatusPending,
	ContributionStatusPaid,
	ContributionStatusRefunded,
}

// String implements fmt.Stringer.
func (s ContributionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ContributionStatus.
func (s ContributionStatus) IsValid() bool {
	for _, candidate := range validContributionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether the ledger allows moving from s to next.
// Refunded is terminal; pending never moves backwards from paid.
func (s ContributionStatus) CanTransitionTo(next ContributionStatus) bool {
	switch s {
	case ContributionStatusPending:
		return next == ContributionStatusPaid || next == ContributionStatusRefunded
	case ContributionStatusPaid:
		return next == ContributionStatusRefunded
	default:
		return false
	}
}

// ParseContributionStatus converts raw input into a ContributionStatus.
func ParseContributionStatus(value string) (ContributionStatus, error) {
	for _, candidate := range validContributionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid contribution status %q", value)
}
