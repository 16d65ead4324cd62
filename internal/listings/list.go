package listing

import (
	"time"

	"github.com/google/uuid"
	"github.com/keystonerealty/keystone-backend/internal/location"
	"github.com/keystonerealty/keystone-backend/pkg/enums"
	pkgpagination "github.com/keystonerealty/keystone-backend/pkg/pagination"
	"github.com/shopspring/decimal"
)

// nearPrecision sizes the search cell at roughly 5km.
const nearPrecision = 5

// ListParams filters a listing page. OwnerID restricts the page to one
// owner's listings ("my listings").
type ListParams struct {
	OwnerID      *uuid.UUID
	Status       enums.ListingStatus
	PropertyType enums.PropertyType
	ListingType  enums.ListingType
	MinPrice     *decimal.Decimal
	MaxPrice     *decimal.Decimal
	Near         *location.Location
	pkgpagination.Params
}

// ListResult is one page of listings.
type ListResult struct {
	Items  []ListItem `json:"items"`
	Cursor string     `json:"cursor"`
}

// ListItem is the card view of a listing.
type ListItem struct {
	ID            uuid.UUID           `json:"id"`
	UserID        uuid.UUID           `json:"user_id"`
	Title         string              `json:"title"`
	Status        enums.ListingStatus `json:"status"`
	PropertyType  enums.PropertyType  `json:"property_type"`
	ListingType   enums.ListingType   `json:"listing_type"`
	Price         decimal.Decimal     `json:"price"`
	City          string              `json:"city"`
	State         string              `json:"state"`
	Location      *location.Location  `json:"location,omitempty"`
	Bedrooms      *int                `json:"bedrooms,omitempty"`
	Bathrooms     *float64            `json:"bathrooms,omitempty"`
	SquareFeet    *float64            `json:"square_feet,omitempty"`
	FeaturedImage *Image              `json:"featured_image,omitempty"`
	ImageCount    int                 `json:"image_count"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

type nearQuery struct {
	cells []string
}

type listQuery struct {
	ownerID      *uuid.UUID
	status       enums.ListingStatus
	propertyType enums.PropertyType
	listingType  enums.ListingType
	minPrice     *decimal.Decimal
	maxPrice     *decimal.Decimal
	near         *nearQuery
	limit        int
	cursor       *pkgpagination.Cursor
}

func toListItem(l *Listing) ListItem {
	item := ListItem{
		ID:           l.ID,
		UserID:       l.UserID,
		Title:        l.Title,
		Status:       l.Status,
		PropertyType: l.PropertyType,
		ListingType:  l.ListingType,
		Price:        l.Price,
		City:         l.Address.City,
		State:        l.Address.State,
		Bedrooms:     l.Bedrooms,
		Bathrooms:    l.Bathrooms,
		SquareFeet:   l.SquareFeet,
		ImageCount:   len(l.Images),
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
	}
	if l.Location.Resolved() {
		loc := l.Location
		item.Location = &loc
	}
	if featured := l.FeaturedImage(); featured != nil {
		img := *featured
		item.FeaturedImage = &img
	} else if len(l.Images) > 0 {
		img := l.Images[0]
		item.FeaturedImage = &img
	}
	return item
}
