package listing

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/keystonerealty/keystone-backend/internal/location"
	"github.com/keystonerealty/keystone-backend/pkg/enums"
	pkgerrors "github.com/keystonerealty/keystone-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

const minYearBuilt = 1800

// FormValues is the edit-form representation. Optional text and collections
// are concrete values so a form never sees a missing key; optional numerics
// stay pointers because "unset" and 0 differ.
type FormValues struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID *uuid.UUID `json:"organization_id"`

	Title       string `json:"title" validate:"required,max=100"`
	Description string `json:"description"`
	Slug        string `json:"slug" validate:"omitempty,max=120"`

	Status       string           `json:"status" validate:"omitempty,listing_status"`
	PropertyType string           `json:"property_type" validate:"required,property_type"`
	ListingType  string           `json:"listing_type" validate:"omitempty,listing_type"`
	Price        *decimal.Decimal `json:"price" validate:"required"`

	Address   location.Address `json:"address"`
	Latitude  float64          `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64          `json:"longitude" validate:"gte=-180,lte=180"`

	SquareFeet    *float64 `json:"square_feet" validate:"omitempty,gte=0"`
	Bedrooms      *int     `json:"bedrooms" validate:"omitempty,gte=0"`
	Bathrooms     *float64 `json:"bathrooms" validate:"omitempty,gte=0,half_step"`
	YearBuilt     *int     `json:"year_built" validate:"omitempty,year_built"`
	LotSize       *float64 `json:"lot_size" validate:"omitempty,gte=0"`
	ParkingSpaces *int     `json:"parking_spaces" validate:"omitempty,gte=0"`
	Stories       *int     `json:"stories" validate:"omitempty,gte=0"`

	Features  map[string]bool `json:"features"`
	Amenities map[string]bool `json:"amenities"`
	Images    []Image         `json:"images" validate:"dive"`
	Documents []Document      `json:"documents" validate:"dive"`
	MetaData  map[string]any  `json:"meta_data"`

	Commission *CommissionForm `json:"commission"`

	PublishedAt *time.Time `json:"published_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// CommissionForm holds the commission_* fields of the listing form.
type CommissionForm struct {
	Amount          decimal.Decimal `json:"amount"`
	Type            string          `json:"type" validate:"required,commission_type"`
	SplitPercentage *float64        `json:"split_percentage" validate:"omitempty,gte=0,lte=100"`
	Terms           string          `json:"terms"`
	Visibility      string          `json:"visibility" validate:"omitempty,commission_visibility"`
	Status          string          `json:"status" validate:"omitempty,commission_status"`
}

var formValidator = newFormValidator()

func newFormValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	mustRegister(v, "listing_status", func(fl validator.FieldLevel) bool {
		_, err := enums.ParseListingStatus(fl.Field().String())
		return err == nil
	})
	mustRegister(v, "property_type", func(fl validator.FieldLevel) bool {
		_, err := enums.ParsePropertyType(fl.Field().String())
		return err == nil
	})
	mustRegister(v, "listing_type", func(fl validator.FieldLevel) bool {
		_, err := enums.ParseListingType(fl.Field().String())
		return err == nil
	})
	mustRegister(v, "commission_type", func(fl validator.FieldLevel) bool {
		_, err := enums.ParseCommissionType(fl.Field().String())
		return err == nil
	})
	mustRegister(v, "commission_visibility", func(fl validator.FieldLevel) bool {
		_, err := enums.ParseCommissionVisibility(fl.Field().String())
		return err == nil
	})
	mustRegister(v, "commission_status", func(fl validator.FieldLevel) bool {
		_, err := enums.ParseCommissionStatus(fl.Field().String())
		return err == nil
	})
	mustRegister(v, "half_step", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return f*2 == math.Trunc(f*2)
	})
	mustRegister(v, "year_built", func(fl validator.FieldLevel) bool {
		year := int(fl.Field().Int())
		return year >= minYearBuilt && year <= time.Now().Year()
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// Validate checks required fields and declared ranges, naming each failing
// field in the error details.
func (f FormValues) Validate() error {
	fields := map[string]string{}
	if err := formValidator.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid listing")
		}
		for _, fe := range verrs {
			fields[fieldPath(fe)] = validationMessage(fe)
		}
	}
	if f.Price != nil && f.Price.IsNegative() {
		fields["price"] = "must be at least 0"
	}
	if f.Commission != nil && !f.Commission.Amount.IsPositive() {
		fields["commission.amount"] = "must be greater than 0"
	}
	for i, img := range f.Images {
		if strings.TrimSpace(img.URL) == "" {
			fields[fmt.Sprintf("images[%d].url", i)] = "is required"
		}
	}
	if len(fields) > 0 {
		return pkgerrors.Validation("invalid listing", fields)
	}
	return nil
}

// fieldPath drops the root struct name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "half_step":
		return "must be a multiple of 0.5"
	case "year_built":
		return fmt.Sprintf("must be between %d and %d", minYearBuilt, time.Now().Year())
	}
	return "is invalid"
}

// Patch is a partial form for updates; nil fields keep their current value.
type Patch struct {
	Title          *string           `json:"title"`
	Description    *string           `json:"description"`
	Slug           *string           `json:"slug"`
	Status         *string           `json:"status"`
	PropertyType   *string           `json:"property_type"`
	ListingType    *string           `json:"listing_type"`
	Price          *decimal.Decimal  `json:"price"`
	Address        *location.Address `json:"address"`
	Latitude       *float64          `json:"latitude"`
	Longitude      *float64          `json:"longitude"`
	SquareFeet     *float64          `json:"square_feet"`
	Bedrooms       *int              `json:"bedrooms"`
	Bathrooms      *float64          `json:"bathrooms"`
	YearBuilt      *int              `json:"year_built"`
	LotSize        *float64          `json:"lot_size"`
	ParkingSpaces  *int              `json:"parking_spaces"`
	Stories        *int              `json:"stories"`
	Features       *map[string]bool  `json:"features"`
	Amenities      *map[string]bool  `json:"amenities"`
	Images         *[]Image          `json:"images"`
	Documents      *[]Document       `json:"documents"`
	MetaData       *map[string]any   `json:"meta_data"`
	Commission     *CommissionForm   `json:"commission"`
	OrganizationID *uuid.UUID        `json:"organization_id"`
	PublishedAt    *time.Time        `json:"published_at"`
	ExpiresAt      *time.Time        `json:"expires_at"`
}

// AddressChanged reports whether the patch replaces the address without
// supplying coordinates, so the location must be re-resolved.
func (p Patch) AddressChanged() bool {
	return p.Address != nil && p.Latitude == nil && p.Longitude == nil
}

// Apply merges the patch onto the current form.
func (p Patch) Apply(form FormValues) FormValues {
	if p.Title != nil {
		form.Title = *p.Title
	}
	if p.Description != nil {
		form.Description = *p.Description
	}
	if p.Slug != nil {
		form.Slug = *p.Slug
	}
	if p.Status != nil {
		form.Status = *p.Status
	}
	if p.PropertyType != nil {
		form.PropertyType = *p.PropertyType
	}
	if p.ListingType != nil {
		form.ListingType = *p.ListingType
	}
	if p.Price != nil {
		form.Price = p.Price
	}
	if p.Address != nil {
		form.Address = *p.Address
		if p.AddressChanged() {
			form.Latitude, form.Longitude = 0, 0
		}
	}
	if p.Latitude != nil {
		form.Latitude = *p.Latitude
	}
	if p.Longitude != nil {
		form.Longitude = *p.Longitude
	}
	if p.SquareFeet != nil {
		form.SquareFeet = p.SquareFeet
	}
	if p.Bedrooms != nil {
		form.Bedrooms = p.Bedrooms
	}
	if p.Bathrooms != nil {
		form.Bathrooms = p.Bathrooms
	}
	if p.YearBuilt != nil {
		form.YearBuilt = p.YearBuilt
	}
	if p.LotSize != nil {
		form.LotSize = p.LotSize
	}
	if p.ParkingSpaces != nil {
		form.ParkingSpaces = p.ParkingSpaces
	}
	if p.Stories != nil {
		form.Stories = p.Stories
	}
	if p.Features != nil {
		form.Features = *p.Features
	}
	if p.Amenities != nil {
		form.Amenities = *p.Amenities
	}
	if p.Images != nil {
		form.Images = *p.Images
	}
	if p.Documents != nil {
		form.Documents = *p.Documents
	}
	if p.MetaData != nil {
		form.MetaData = *p.MetaData
	}
	if p.Commission != nil {
		form.Commission = p.Commission
	}
	if p.OrganizationID != nil {
		form.OrganizationID = p.OrganizationID
	}
	if p.PublishedAt != nil {
		form.PublishedAt = p.PublishedAt
	}
	if p.ExpiresAt != nil {
		form.ExpiresAt = p.ExpiresAt
	}
	return form
}
