package enums

import "fmt"

// RedemptionStatus maps to the redemption_status enum in Postgres.
type RedemptionStatus string

const (
	RedemptionStatusPending  RedemptionStatus = "pending"
	RedemptionStatusFlagged  RedemptionStatus = "flagged"
	RedemptionStatusApproved RedemptionStatus = "approved"
	RedemptionStatusRejected RedemptionStatus = "rejected"
)

var validRedemptionStatuses = []RedemptionStatus{
	RedemptionStatusPending,
	RedemptionStatusFlagged,
	RedemptionStatusApproved,
	RedemptionStatusRejected,
}

func (s RedemptionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known RedemptionStatus.
func (s RedemptionStatus) IsValid() bool {
	for _, candidate := range validRedemptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CountsAgainstBalance reports whether a redemption in this status still
// deducts from the registry balance.
func (s RedemptionStatus) CountsAgainstBalance() bool {
	return s.IsValid() && s != RedemptionStatusRejected
}

// ParseRedemptionStatus converts raw input into a RedemptionStatus.
func ParseRedemptionStatus(value string) (RedemptionStatus, error) {
	for _, candidate := range validRedemptionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid redemption status %q", value)
}

// RedemptionKind enumerates how redeemed funds leave the registry.
type RedemptionKind string

const (
	RedemptionKindGiftCard RedemptionKind = "gift_card"
)

var validRedemptionKinds = []RedemptionKind{
	RedemptionKindGiftCard,
}

// IsValid reports whether the value is a known RedemptionKind.
func (k RedemptionKind) IsValid() bool {
	for _, candidate := range validRedemptionKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// RequiresEmail reports whether the kind is delivered to an email address.
func (k RedemptionKind) RequiresEmail() bool {
	return k == RedemptionKindGiftCard
}

// ParseRedemptionKind converts raw input into a RedemptionKind.
func ParseRedemptionKind(value string) (RedemptionKind, error) {
	for _, candidate := range validRedemptionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid redemption kind %q", value)
}
