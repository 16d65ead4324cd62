package listing

import (
	"time"

	"github.com/google/uuid"
	"github.com/keystonerealty/keystone-backend/internal/location"
	"github.com/keystonerealty/keystone-backend/pkg/enums"
	"github.com/shopspring/decimal"
)

// View is the API representation of a listing.
type View struct {
	ID             uuid.UUID           `json:"id"`
	UserID         uuid.UUID           `json:"user_id"`
	OrganizationID *uuid.UUID          `json:"organization_id,omitempty"`
	Title          string              `json:"title"`
	Description    *string             `json:"description,omitempty"`
	Slug           *string             `json:"slug,omitempty"`
	Status         enums.ListingStatus `json:"status"`
	PropertyType   enums.PropertyType  `json:"property_type"`
	ListingType    enums.ListingType   `json:"listing_type"`
	Price          decimal.Decimal     `json:"price"`
	Address        location.Address    `json:"address"`
	// Location is omitted while the address is unresolved.
	Location      *location.Location `json:"location,omitempty"`
	GeoHash       string             `json:"geohash,omitempty"`
	SquareFeet    *float64           `json:"square_feet,omitempty"`
	Bedrooms      *int               `json:"bedrooms,omitempty"`
	Bathrooms     *float64           `json:"bathrooms,omitempty"`
	YearBuilt     *int               `json:"year_built,omitempty"`
	LotSize       *float64           `json:"lot_size,omitempty"`
	ParkingSpaces *int               `json:"parking_spaces,omitempty"`
	Stories       *int               `json:"stories,omitempty"`
	Features      []string           `json:"features"`
	Amenities     []string           `json:"amenities"`
	Images        []Image            `json:"images"`
	Documents     []Document         `json:"documents"`
	MetaData      map[string]any     `json:"meta_data"`
	Commission    *CommissionTerms   `json:"commission,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	PublishedAt   *time.Time         `json:"published_at,omitempty"`
	ExpiresAt     *time.Time         `json:"expires_at,omitempty"`
}

// ToView renders a listing. Commission terms are only included when the
// caller passed the visibility check.
func ToView(l *Listing, includeCommission bool) View {
	v := View{
		ID:             l.ID,
		UserID:         l.UserID,
		OrganizationID: l.OrganizationID,
		Title:          l.Title,
		Description:    l.Description,
		Slug:           l.Slug,
		Status:         l.Status,
		PropertyType:   l.PropertyType,
		ListingType:    l.ListingType,
		Price:          l.Price,
		Address:        l.Address,
		SquareFeet:     l.SquareFeet,
		Bedrooms:       l.Bedrooms,
		Bathrooms:      l.Bathrooms,
		YearBuilt:      l.YearBuilt,
		LotSize:        l.LotSize,
		ParkingSpaces:  l.ParkingSpaces,
		Stories:        l.Stories,
		Features:       FeatureList(l.Features),
		Amenities:      FeatureList(l.Amenities),
		Images:         l.Images,
		Documents:      l.Documents,
		MetaData:       l.MetaData,
		CreatedAt:      l.CreatedAt,
		UpdatedAt:      l.UpdatedAt,
		PublishedAt:    l.PublishedAt,
		ExpiresAt:      l.ExpiresAt,
	}
	if l.Location.Resolved() {
		loc := l.Location
		v.Location = &loc
		v.GeoHash = loc.GeoHash()
	}
	if v.Images == nil {
		v.Images = []Image{}
	}
	if v.Documents == nil {
		v.Documents = []Document{}
	}
	if v.MetaData == nil {
		v.MetaData = map[string]any{}
	}
	if includeCommission {
		v.Commission = l.Commission
	}
	return v
}
