package location

import (
	"strings"
	"unicode"

	pkgerrors "github.com/keystonerealty/keystone-backend/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const DefaultCountry = "US"

// RawAddress is unvalidated address input from a form or an import.
type RawAddress struct {
	StreetNumber string
	StreetName   string
	Unit         string
	City         string
	State        string
	ZipCode      string
	Country      string
}

// Address is a normalized postal address. Once attached to a persisted
// listing it is replaced wholesale, never edited in place.
type Address struct {
	StreetNumber string `json:"street_number"`
	StreetName   string `json:"street_name"`
	Unit         string `json:"unit,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	ZipCode      string `json:"zip_code"`
	Country      string `json:"country"`
}

var cityCaser = cases.Title(language.AmericanEnglish)

// Normalize trims and validates raw input. Every failing field is reported in
// the error details.
func Normalize(raw RawAddress) (Address, error) {
	addr := Address{
		StreetNumber: strings.TrimSpace(raw.StreetNumber),
		StreetName:   collapseSpaces(raw.StreetName),
		Unit:         strings.TrimSpace(raw.Unit),
		City:         normalizeCity(raw.City),
		State:        strings.ToUpper(strings.TrimSpace(raw.State)),
		ZipCode:      strings.TrimSpace(raw.ZipCode),
		Country:      strings.ToUpper(strings.TrimSpace(raw.Country)),
	}
	if addr.Country == "" {
		addr.Country = DefaultCountry
	}

	fields := map[string]string{}
	if addr.StreetName == "" {
		fields["street_name"] = "required"
	}
	if addr.City == "" {
		fields["city"] = "required"
	}
	if !isAlpha2(addr.State) {
		fields["state"] = "must be a 2 letter code"
	}
	if !isAlpha2(addr.Country) {
		fields["country"] = "must be a 2 letter code"
	}
	if addr.ZipCode == "" {
		fields["zip_code"] = "required"
	}
	if len(fields) > 0 {
		return Address{}, pkgerrors.Validation("invalid address", fields)
	}
	return addr, nil
}

// IsEmpty reports whether no address field carries a value.
func (a Address) IsEmpty() bool {
	return a.StreetNumber == "" && a.StreetName == "" && a.Unit == "" &&
		a.City == "" && a.State == "" && a.ZipCode == ""
}

// IsComplete reports whether the address has enough parts to geocode.
func (a Address) IsComplete() bool {
	return a.StreetName != "" && a.City != "" && a.State != "" && a.ZipCode != ""
}

// Line formats the address as the one-line query sent to a geocoder.
func (a Address) Line() string {
	street := strings.TrimSpace(a.StreetNumber + " " + a.StreetName)
	if a.Unit != "" {
		street += " " + a.Unit
	}
	parts := []string{}
	for _, part := range []string{street, a.City, strings.TrimSpace(a.State + " " + a.ZipCode), a.Country} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}

func normalizeCity(value string) string {
	value = collapseSpaces(value)
	if value == "" {
		return ""
	}
	// Mixed case input is assumed intentional ("McAllen").
	if value == strings.ToUpper(value) || value == strings.ToLower(value) {
		return cityCaser.String(strings.ToLower(value))
	}
	return value
}

func collapseSpaces(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func isAlpha2(value string) bool {
	if len(value) != 2 {
		return false
	}
	for _, r := range value {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
