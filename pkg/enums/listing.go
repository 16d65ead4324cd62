package enums

import (
	"fmt"
	"strings"
)

// ListingStatus is freely settable; no transition rules are enforced.
type ListingStatus string

const (
	ListingStatusDraft    ListingStatus = "draft"
	ListingStatusPending  ListingStatus = "pending"
	ListingStatusActive   ListingStatus = "active"
	ListingStatusInactive ListingStatus = "inactive"
	ListingStatusExpired  ListingStatus = "expired"
	ListingStatusSold     ListingStatus = "sold"
)

var validListingStatuses = []ListingStatus{
	ListingStatusDraft,
	ListingStatusPending,
	ListingStatusActive,
	ListingStatusInactive,
	ListingStatusExpired,
	ListingStatusSold,
}

// String implements fmt.Stringer.
func (s ListingStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ListingStatus.
func (s ListingStatus) IsValid() bool {
	for _, candidate := range validListingStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseListingStatus converts raw input into a ListingStatus.
func ParseListingStatus(value string) (ListingStatus, error) {
	normalized := normalizeToken(value)
	for _, candidate := range validListingStatuses {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid listing status %q", value)
}

// PropertyType classifies the physical property.
type PropertyType string

const (
	PropertyTypeSingleFamily PropertyType = "single_family"
	PropertyTypeMultiFamily  PropertyType = "multi_family"
	PropertyTypeCondo        PropertyType = "condo"
	PropertyTypeTownhouse    PropertyType = "townhouse"
	PropertyTypeLand         PropertyType = "land"
	PropertyTypeCommercial   PropertyType = "commercial"
	PropertyTypeIndustrial   PropertyType = "industrial"
)

var validPropertyTypes = []PropertyType{
	PropertyTypeSingleFamily,
	PropertyTypeMultiFamily,
	PropertyTypeCondo,
	PropertyTypeTownhouse,
	PropertyTypeLand,
	PropertyTypeCommercial,
	PropertyTypeIndustrial,
}

// String implements fmt.Stringer.
func (p PropertyType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PropertyType.
func (p PropertyType) IsValid() bool {
	for _, candidate := range validPropertyTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePropertyType accepts the canonical snake_case value as well as the
// spaced or hyphenated spellings older rows carry ("Single Family").
func ParsePropertyType(value string) (PropertyType, error) {
	normalized := normalizeToken(value)
	for _, candidate := range validPropertyTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid property type %q", value)
}

// ListingType describes the offer.
type ListingType string

const (
	ListingTypeSale    ListingType = "sale"
	ListingTypeRent    ListingType = "rent"
	ListingTypeLease   ListingType = "lease"
	ListingTypeAuction ListingType = "auction"
)

var validListingTypes = []ListingType{
	ListingTypeSale,
	ListingTypeRent,
	ListingTypeLease,
	ListingTypeAuction,
}

// String implements fmt.Stringer.
func (t ListingType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known ListingType.
func (t ListingType) IsValid() bool {
	for _, candidate := range validListingTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseListingType converts raw input into a ListingType.
func ParseListingType(value string) (ListingType, error) {
	normalized := normalizeToken(value)
	for _, candidate := range validListingTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid listing type %q", value)
}

func normalizeToken(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(value)
}
