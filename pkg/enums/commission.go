package enums

import "fmt"

// CommissionType determines how a commission amount is interpreted.
type CommissionType string

const (
	CommissionTypePercentage CommissionType = "percentage"
	CommissionTypeFlat       CommissionType = "flat"
)

var validCommissionTypes = []CommissionType{
	CommissionTypePercentage,
	CommissionTypeFlat,
}

// String implements fmt.Stringer.
func (t CommissionType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known CommissionType.
func (t CommissionType) IsValid() bool {
	for _, candidate := range validCommissionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseCommissionType converts raw input into a CommissionType.
func ParseCommissionType(value string) (CommissionType, error) {
	normalized := normalizeToken(value)
	for _, candidate := range validCommissionTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid commission type %q", value)
}

// CommissionVisibility controls who may read commission terms.
type CommissionVisibility string

const (
	CommissionVisibilityPrivate      CommissionVisibility = "private"
	CommissionVisibilityPublic       CommissionVisibility = "public"
	CommissionVisibilityVerifiedOnly CommissionVisibility = "verified_only"
)

var validCommissionVisibilities = []CommissionVisibility{
	CommissionVisibilityPrivate,
	CommissionVisibilityPublic,
	CommissionVisibilityVerifiedOnly,
}

// String implements fmt.Stringer.
func (v CommissionVisibility) String() string {
	return string(v)
}

// IsValid reports whether the value is a known CommissionVisibility.
func (v CommissionVisibility) IsValid() bool {
	for _, candidate := range validCommissionVisibilities {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseCommissionVisibility converts raw input into a CommissionVisibility.
func ParseCommissionVisibility(value string) (CommissionVisibility, error) {
	normalized := normalizeToken(value)
	for _, candidate := range validCommissionVisibilities {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid commission visibility %q", value)
}

// CommissionStatus tracks the approval state of a commission agreement.
type CommissionStatus string

const (
	CommissionStatusDraft    CommissionStatus = "draft"
	CommissionStatusPending  CommissionStatus = "pending"
	CommissionStatusApproved CommissionStatus = "approved"
	CommissionStatusRejected CommissionStatus = "rejected"
)

var validCommissionStatuses = []CommissionStatus{
	CommissionStatusDraft,
	CommissionStatusPending,
	CommissionStatusApproved,
	CommissionStatusRejected,
}

// String implements fmt.Stringer.
func (s CommissionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known CommissionStatus.
func (s CommissionStatus) IsValid() bool {
	for _, candidate := range validCommissionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseCommissionStatus converts raw input into a CommissionStatus.
func ParseCommissionStatus(value string) (CommissionStatus, error) {
	normalized := normalizeToken(value)
	for _, candidate := range validCommissionStatuses {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid commission status %q", value)
}
