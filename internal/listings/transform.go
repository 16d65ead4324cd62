package listing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/keystonerealty/keystone-backend/internal/location"
	"github.com/keystonerealty/keystone-backend/pkg/enums"
)

// ToStorage validates a form and converts it into the target shape. The
// owner is always stamped from ownerID; any user_id on the form is ignored.
// Server timestamps are left to the repository.
func ToStorage(form FormValues, ownerID uuid.UUID, shape Shape) (StorageRow, error) {
	if err := form.Validate(); err != nil {
		return StorageRow{}, err
	}
	l, err := listingFromForm(form, ownerID, shape)
	if err != nil {
		return StorageRow{}, err
	}
	return storageFromListing(l)
}

// ToForm reconciles a stored row and fills every optional form field with a
// concrete default.
func ToForm(row StorageRow) (FormValues, error) {
	l, err := Reconcile(row)
	if err != nil {
		return FormValues{}, err
	}
	return FormFromListing(l), nil
}

// FormFromListing renders a canonical listing as form values.
func FormFromListing(l *Listing) FormValues {
	form := FormValues{
		ID:             l.ID,
		OrganizationID: l.OrganizationID,
		Title:          l.Title,
		Status:         string(l.Status),
		PropertyType:   string(l.PropertyType),
		ListingType:    string(l.ListingType),
		Address:        l.Address,
		Latitude:       l.Location.Lat,
		Longitude:      l.Location.Lng,
		SquareFeet:     l.SquareFeet,
		Bedrooms:       l.Bedrooms,
		Bathrooms:      l.Bathrooms,
		YearBuilt:      l.YearBuilt,
		LotSize:        l.LotSize,
		ParkingSpaces:  l.ParkingSpaces,
		Stories:        l.Stories,
		Features:       copyFeatures(l.Features),
		Amenities:      copyFeatures(l.Amenities),
		Images:         append([]Image{}, l.Images...),
		Documents:      append([]Document{}, l.Documents...),
		MetaData:       l.MetaData,
		PublishedAt:    l.PublishedAt,
		ExpiresAt:      l.ExpiresAt,
	}
	price := l.Price
	form.Price = &price
	if l.Description != nil {
		form.Description = *l.Description
	}
	if l.Slug != nil {
		form.Slug = *l.Slug
	}
	if form.Address.Country == "" {
		form.Address.Country = location.DefaultCountry
	}
	if form.MetaData == nil {
		form.MetaData = map[string]any{}
	}
	if c := l.Commission; c != nil {
		form.Commission = &CommissionForm{
			Amount:          c.Amount,
			Type:            string(c.Type),
			SplitPercentage: c.SplitPercentage,
			Terms:           c.Terms,
			Visibility:      string(c.Visibility),
			Status:          string(c.Status),
		}
	}
	return form
}

// listingFromForm builds the canonical listing a validated form describes.
func listingFromForm(form FormValues, ownerID uuid.UUID, shape Shape) (*Listing, error) {
	l := &Listing{
		ID:             form.ID,
		UserID:         ownerID,
		OrganizationID: form.OrganizationID,
		Title:          form.Title,
		Price:          *form.Price,
		SquareFeet:     form.SquareFeet,
		Bedrooms:       form.Bedrooms,
		Bathrooms:      form.Bathrooms,
		YearBuilt:      form.YearBuilt,
		LotSize:        form.LotSize,
		ParkingSpaces:  form.ParkingSpaces,
		Stories:        form.Stories,
		Features:       copyFeatures(form.Features),
		Amenities:      copyFeatures(form.Amenities),
		Images:         reorderImages(form.Images),
		Documents:      reorderDocuments(form.Documents),
		MetaData:       form.MetaData,
		PublishedAt:    form.PublishedAt,
		ExpiresAt:      form.ExpiresAt,
		Shape:          shape,
	}
	if form.Description != "" {
		l.Description = &form.Description
	}
	if form.Slug != "" {
		l.Slug = &form.Slug
	}

	l.Status = enums.ListingStatusDraft
	if form.Status != "" {
		l.Status, _ = enums.ParseListingStatus(form.Status)
	}
	l.PropertyType, _ = enums.ParsePropertyType(form.PropertyType)
	l.ListingType = enums.ListingTypeSale
	if form.ListingType != "" {
		l.ListingType, _ = enums.ParseListingType(form.ListingType)
	}

	l.Address = form.Address
	if !form.Address.IsEmpty() {
		addr, err := location.Normalize(location.RawAddress{
			StreetNumber: form.Address.StreetNumber,
			StreetName:   form.Address.StreetName,
			Unit:         form.Address.Unit,
			City:         form.Address.City,
			State:        form.Address.State,
			ZipCode:      form.Address.ZipCode,
			Country:      form.Address.Country,
		})
		if err != nil {
			return nil, err
		}
		l.Address = addr
	}
	if l.Address.Country == "" {
		l.Address.Country = location.DefaultCountry
	}

	loc, err := location.New(form.Latitude, form.Longitude)
	if err != nil {
		return nil, err
	}
	l.Location = loc

	featured := false
	for i := range l.Images {
		if l.Images[i].IsFeatured {
			l.Images[i].IsFeatured = !featured
			featured = true
		}
		if l.Images[i].ID == uuid.Nil {
			l.Images[i].ID = uuid.New()
		}
		if len(l.Images[i].MetaData) == 0 {
			l.Images[i].MetaData = nil
		}
	}
	for i := range l.Documents {
		if l.Documents[i].ID == uuid.Nil {
			l.Documents[i].ID = uuid.New()
		}
		if l.Documents[i].UploadedAt.IsZero() {
			l.Documents[i].UploadedAt = time.Now().UTC().Truncate(time.Second)
		}
	}

	if c := form.Commission; c != nil {
		terms := &CommissionTerms{
			Amount:          c.Amount,
			SplitPercentage: c.SplitPercentage,
			Terms:           c.Terms,
			Visibility:      enums.CommissionVisibilityPrivate,
			Status:          enums.CommissionStatusDraft,
		}
		terms.Type, _ = enums.ParseCommissionType(c.Type)
		if c.Visibility != "" {
			terms.Visibility, _ = enums.ParseCommissionVisibility(c.Visibility)
		}
		if c.Status != "" {
			terms.Status, _ = enums.ParseCommissionStatus(c.Status)
		}
		l.Commission = terms
	}
	return l, nil
}

// storageFromListing serializes a canonical listing into its shape's rows.
func storageFromListing(l *Listing) (StorageRow, error) {
	shape := l.Shape
	if shape == "" {
		shape = ShapeGeo
	}
	row := StorageRow{Shape: shape, Main: RawRow{
		"user_id":         l.UserID,
		"organization_id": nullableUUID(l.OrganizationID),
		"title":           l.Title,
		"description":     nullableString(l.Description),
		"slug":            nullableString(l.Slug),
		"status":          string(l.Status),
		"property_type":   string(l.PropertyType),
		"listing_type":    string(l.ListingType),
		"published_at":    nullableTime(l.PublishedAt),
		"expires_at":      nullableTime(l.ExpiresAt),
	}}
	if l.ID != uuid.Nil {
		row.Main["id"] = l.ID
	}

	meta, err := jsonText(l.MetaData, "{}")
	if err != nil {
		return StorageRow{}, err
	}
	row.Main["meta_data"] = meta

	if shape == ShapeNormalized {
		writeTextNumerics(row.Main, l)
	} else {
		writeNativeNumerics(row.Main, l)
	}

	switch shape {
	case ShapeWide:
		writeDiscreteAddress(row.Main, l.Address)
		row.Main["latitude"], row.Main["longitude"] = nil, nil
		if l.Location.Resolved() {
			row.Main["latitude"], row.Main["longitude"] = l.Location.Lat, l.Location.Lng
		}
		if err := writeEmbeddedCollections(row.Main, l); err != nil {
			return StorageRow{}, err
		}
		writeInlineCommission(row.Main, l.Commission)
		return row, nil

	case ShapeNormalized:
		writeDiscreteAddress(row.Main, l.Address)
		row.Main["latitude"], row.Main["longitude"] = nil, nil
		if l.Location.Resolved() {
			row.Main["latitude"] = formatFloat(l.Location.Lat)
			row.Main["longitude"] = formatFloat(l.Location.Lng)
		}
		features, err := jsonText(FeatureList(l.Features), "[]")
		if err != nil {
			return StorageRow{}, err
		}
		amenities, err := jsonText(FeatureList(l.Amenities), "[]")
		if err != nil {
			return StorageRow{}, err
		}
		row.Features = RawRow{"features": features, "amenities": amenities}

	default:
		addr, err := jsonText(l.Address, "{}")
		if err != nil {
			return StorageRow{}, err
		}
		row.Main["address"] = addr
		row.Main["location"], row.Main["geohash"] = nil, nil
		if l.Location.Resolved() {
			point, err := l.Location.Point().Value()
			if err != nil {
				return StorageRow{}, err
			}
			row.Main["location"] = point
			row.Main["geohash"] = l.Location.GeoHash()
		}
		features, err := jsonText(l.Features, "{}")
		if err != nil {
			return StorageRow{}, err
		}
		amenities, err := jsonText(l.Amenities, "{}")
		if err != nil {
			return StorageRow{}, err
		}
		row.Main["features"], row.Main["amenities"] = features, amenities
	}

	images, err := imageRows(l.Images)
	if err != nil {
		return StorageRow{}, err
	}
	row.Images = images
	row.Documents = documentRows(l.Documents)
	row.Commission = commissionRow(l.Commission)
	return row, nil
}

func writeNativeNumerics(main RawRow, l *Listing) {
	main["price"] = l.Price.String()
	main["square_feet"] = nullableFloat(l.SquareFeet)
	main["bedrooms"] = nullableInt(l.Bedrooms)
	main["bathrooms"] = nullableFloat(l.Bathrooms)
	main["year_built"] = nullableInt(l.YearBuilt)
	main["lot_size"] = nullableFloat(l.LotSize)
	main["parking_spaces"] = nullableInt(l.ParkingSpaces)
	main["stories"] = nullableInt(l.Stories)
}

// writeTextNumerics encodes numerics as text, the normalized shape's column
// type.
func writeTextNumerics(main RawRow, l *Listing) {
	main["price"] = l.Price.String()
	main["square_feet"] = floatText(l.SquareFeet)
	main["bedrooms"] = intText(l.Bedrooms)
	main["bathrooms"] = floatText(l.Bathrooms)
	main["year_built"] = intText(l.YearBuilt)
	main["lot_size"] = floatText(l.LotSize)
	main["parking_spaces"] = intText(l.ParkingSpaces)
	main["stories"] = intText(l.Stories)
}

func writeDiscreteAddress(main RawRow, addr location.Address) {
	main["street_number"] = addr.StreetNumber
	main["street_name"] = addr.StreetName
	main["unit"] = addr.Unit
	main["city"] = addr.City
	main["state"] = addr.State
	main["zip_code"] = addr.ZipCode
	main["country"] = addr.Country
}

// writeEmbeddedCollections stores the wide shape's arrays on the main row.
// Disabled feature entries have no array form and are dropped.
func writeEmbeddedCollections(main RawRow, l *Listing) error {
	values := map[string]any{
		"features":  FeatureList(l.Features),
		"amenities": FeatureList(l.Amenities),
		"images":    l.Images,
		"documents": l.Documents,
	}
	for col, v := range values {
		text, err := jsonText(v, "[]")
		if err != nil {
			return err
		}
		main[col] = text
	}
	return nil
}

func writeInlineCommission(main RawRow, c *CommissionTerms) {
	cols := []string{"amount", "type", "split_percentage", "terms", "visibility", "status"}
	for _, col := range cols {
		main["commission_"+col] = nil
	}
	if c == nil {
		return
	}
	main["commission_amount"] = c.Amount.String()
	main["commission_type"] = string(c.Type)
	main["commission_split_percentage"] = nullableFloat(c.SplitPercentage)
	main["commission_terms"] = c.Terms
	main["commission_visibility"] = string(c.Visibility)
	main["commission_status"] = string(c.Status)
}

func imageRows(images []Image) ([]RawRow, error) {
	rows := make([]RawRow, 0, len(images))
	for _, img := range images {
		meta, err := jsonText(img.MetaData, "{}")
		if err != nil {
			return nil, err
		}
		rows = append(rows, RawRow{
			"id":          img.ID,
			"url":         img.URL,
			"path":        img.Path,
			"width":       img.Width,
			"height":      img.Height,
			"size_bytes":  img.SizeBytes,
			"mime_type":   img.MimeType,
			"is_featured": img.IsFeatured,
			"position":    img.Order,
			"meta_data":   meta,
		})
	}
	return rows, nil
}

func documentRows(docs []Document) []RawRow {
	rows := make([]RawRow, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, RawRow{
			"id":          doc.ID,
			"name":        doc.Name,
			"url":         doc.URL,
			"path":        doc.Path,
			"type":        doc.Type,
			"size_bytes":  doc.SizeBytes,
			"uploaded_at": doc.UploadedAt.UTC(),
			"position":    doc.Order,
		})
	}
	return rows
}

func commissionRow(c *CommissionTerms) RawRow {
	if c == nil {
		return nil
	}
	row := RawRow{
		"amount":           c.Amount.String(),
		"type":             string(c.Type),
		"split_percentage": nullableFloat(c.SplitPercentage),
		"terms":            c.Terms,
		"visibility":       string(c.Visibility),
		"status":           string(c.Status),
	}
	if c.ID != uuid.Nil {
		row["id"] = c.ID
	}
	return row
}

func jsonText(v any, empty string) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode column: %w", err)
	}
	if string(raw) == "null" {
		return empty, nil
	}
	return string(raw), nil
}

func copyFeatures(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullableInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func floatText(f *float64) any {
	if f == nil {
		return nil
	}
	return formatFloat(*f)
}

func intText(i *int) any {
	if i == nil {
		return nil
	}
	return fmt.Sprintf("%d", *i)
}
