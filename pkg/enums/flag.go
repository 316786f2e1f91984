package enums

import "fmt"

// FlagStatus tracks manual review of a flagged transaction.
type FlagStatus string

const (
	FlagStatusPending  FlagStatus = "pending"
	FlagStatusApproved FlagStatus = "approved"
	FlagStatusRejected FlagStatus = "rejected"
)

var validFlagStatuses = []FlagStatus{
	FlagStatusPending,
	FlagStatusApproved,
	FlagStatusRejected,
}

func (s FlagStatus) IsValid() bool {
	for _, candidate := range validFlagStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseFlagStatus converts raw input into a FlagStatus.
func ParseFlagStatus(value string) (FlagStatus, error) {
	for _, candidate := range validFlagStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid flag status %q", value)
}

// FlagDecision is the reviewer's verdict on a pending flag.
type FlagDecision string

const (
	FlagDecisionApprove FlagDecision = "approve"
	FlagDecisionReject  FlagDecision = "reject"
)

// IsValid reports whether the decision is approve or reject.
func (d FlagDecision) IsValid() bool {
	return d == FlagDecisionApprove || d == FlagDecisionReject
}

// FlagStatus maps the decision to the resulting flag status.
func (d FlagDecision) FlagStatus() FlagStatus {
	if d == FlagDecisionApprove {
		return FlagStatusApproved
	}
	return FlagStatusRejected
}

// RedemptionStatus maps the decision to the resulting redemption status.
func (d FlagDecision) RedemptionStatus() RedemptionStatus {
	if d == FlagDecisionApprove {
		return RedemptionStatusApproved
	}
	return RedemptionStatusRejected
}

// ParseFlagDecision converts raw input into a FlagDecision.
func ParseFlagDecision(value string) (FlagDecision, error) {
	d := FlagDecision(value)
	if !d.IsValid() {
		return "", fmt.Errorf("invalid flag decision %q", value)
	}
	return d, nil
}

// FlagReason is the rule that routed a transaction to review.
type FlagReason string

const (
	FlagReasonHighAmount FlagReason = "high_amount"
)

func (r FlagReason) IsValid() bool {
	return r == FlagReasonHighAmount
}
