package listing

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/keystonerealty/keystone-backend/internal/location"
	"github.com/keystonerealty/keystone-backend/pkg/enums"
	"github.com/shopspring/decimal"
)

// Listing is the canonical in-memory shape every storage layout reconciles
// into.
type Listing struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	OrganizationID *uuid.UUID

	Title       string
	Description *string
	Slug        *string

	Status       enums.ListingStatus
	PropertyType enums.PropertyType
	ListingType  enums.ListingType
	Price        decimal.Decimal

	Address  location.Address
	Location location.Location

	SquareFeet    *float64
	Bedrooms      *int
	Bathrooms     *float64
	YearBuilt     *int
	LotSize       *float64
	ParkingSpaces *int
	Stories       *int

	Features  map[string]bool
	Amenities map[string]bool
	Images    []Image
	Documents []Document
	MetaData  map[string]any

	// Commission is set when the row carried commission terms, either inline
	// (wide shape) or from the commissions table.
	Commission *CommissionTerms

	CreatedAt   time.Time
	UpdatedAt   time.Time
	PublishedAt *time.Time
	ExpiresAt   *time.Time

	Shape Shape
}

// Image is an uploaded listing photo. Path is the blob key used for deletion.
type Image struct {
	ID         uuid.UUID      `json:"id"`
	URL        string         `json:"url"`
	Path       string         `json:"path"`
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	SizeBytes  int64          `json:"size_bytes"`
	MimeType   string         `json:"mime_type"`
	IsFeatured bool           `json:"is_featured"`
	Order      int            `json:"order"`
	MetaData   map[string]any `json:"meta_data,omitempty"`
}

// Document is an attached file (disclosures, floor plans).
type Document struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Path       string    `json:"path"`
	Type       string    `json:"type"`
	SizeBytes  int64     `json:"size_bytes"`
	UploadedAt time.Time `json:"uploaded_at"`
	Order      int       `json:"order"`
}

// CommissionTerms is the commission payload carried alongside a listing
// write. The commissions service owns its lifecycle after creation.
type CommissionTerms struct {
	ID              uuid.UUID                  `json:"id"`
	Amount          decimal.Decimal            `json:"amount"`
	Type            enums.CommissionType       `json:"type"`
	SplitPercentage *float64                   `json:"split_percentage,omitempty"`
	Terms           string                     `json:"terms"`
	Visibility      enums.CommissionVisibility `json:"visibility"`
	Status          enums.CommissionStatus     `json:"status"`
}

// FeatureList expands a feature map back into a sorted list of the enabled
// names, for consumers that still expect arrays.
func FeatureList(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for name, on := range set {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// FeaturedImage returns the featured image, if any.
func (l *Listing) FeaturedImage() *Image {
	for i := range l.Images {
		if l.Images[i].IsFeatured {
			return &l.Images[i]
		}
	}
	return nil
}

// IsOwnedBy reports whether userID owns the listing.
func (l *Listing) IsOwnedBy(userID uuid.UUID) bool {
	return l != nil && l.UserID == userID
}

// reorderImages assigns order from array position.
func reorderImages(images []Image) []Image {
	out := make([]Image, len(images))
	for i, img := range images {
		img.Order = i
		out[i] = img
	}
	return out
}

func reorderDocuments(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i, doc := range docs {
		doc.Order = i
		out[i] = doc
	}
	return out
}
