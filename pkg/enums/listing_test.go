package enums

import "testing"

func TestParsePropertyTypeAcceptsLegacySpellings(t *testing.T) {
	tests := map[string]PropertyType{
		"single_family": PropertyTypeSingleFamily,
		"Single Family": PropertyTypeSingleFamily,
		"multi-family":  PropertyTypeMultiFamily,
		" CONDO ":       PropertyTypeCondo,
	}
	for input, want := range tests {
		got, err := ParsePropertyType(input)
		if err != nil {
			t.Fatalf("ParsePropertyType(%q) unexpected error: %v", input, err)
		}
		if got != want {
			t.Fatalf("ParsePropertyType(%q) = %q want %q", input, got, want)
		}
	}
	if _, err := ParsePropertyType("castle"); err == nil {
		t.Fatal("expected error for unknown property type")
	}
}

func TestListingStatusValues(t *testing.T) {
	for _, status := range validListingStatuses {
		if !status.IsValid() {
			t.Fatalf("expected %q to be valid", status)
		}
		parsed, err := ParseListingStatus(status.String())
		if err != nil || parsed != status {
			t.Fatalf("ParseListingStatus(%q) = %q, %v", status, parsed, err)
		}
	}
	if ListingStatus("archived").IsValid() {
		t.Fatal("archived is not a listing status")
	}
}

func TestCommissionEnums(t *testing.T) {
	if v, err := ParseCommissionVisibility("verified-only"); err != nil || v != CommissionVisibilityVerifiedOnly {
		t.Fatalf("unexpected visibility %q, %v", v, err)
	}
	if _, err := ParseCommissionType("split"); err == nil {
		t.Fatal("expected error for unknown commission type")
	}
	if s, err := ParseCommissionStatus("Approved"); err != nil || s != CommissionStatusApproved {
		t.Fatalf("unexpected status %q, %v", s, err)
	}
	if _, err := ParseListingType("barter"); err == nil {
		t.Fatal("expected error for unknown listing type")
	}
}
