package listing

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/keystonerealty/keystone-backend/internal/location"
	"github.com/keystonerealty/keystone-backend/pkg/enums"
	pkgerrors "github.com/keystonerealty/keystone-backend/pkg/errors"
	"github.com/keystonerealty/keystone-backend/pkg/types"
	"github.com/shopspring/decimal"
)

var requiredColumns = []string{"title", "property_type", "price"}

// Reconcile maps a storage row of any shape onto the canonical Listing. It
// fails with CodeSchema when a required column is absent or a column cannot
// be coerced.
func Reconcile(row StorageRow) (*Listing, error) {
	if row.Main == nil {
		return nil, schemaMismatch(row.Shape, map[string]string{"row": "main row missing"})
	}

	missing := map[string]string{}
	for _, col := range requiredColumns {
		if v, ok := row.Main[col]; !ok || v == nil {
			missing[col] = "column absent"
		}
	}
	if len(missing) > 0 {
		return nil, schemaMismatch(row.Shape, missing)
	}

	r := &columnReader{row: row.Main, problems: map[string]string{}}
	l := &Listing{
		ID:             r.id("id"),
		UserID:         r.id("user_id"),
		OrganizationID: r.optionalUUID("organization_id"),
		Title:          r.str("title"),
		Description:    r.optionalStr("description"),
		Slug:           r.optionalStr("slug"),
		SquareFeet:     r.optionalFloat("square_feet"),
		Bedrooms:       r.optionalInt("bedrooms"),
		Bathrooms:      r.optionalFloat("bathrooms"),
		YearBuilt:      r.optionalInt("year_built"),
		LotSize:        r.optionalFloat("lot_size"),
		ParkingSpaces:  r.optionalInt("parking_spaces"),
		Stories:        r.optionalInt("stories"),
		MetaData:       r.metadata("meta_data"),
		PublishedAt:    r.optionalTime("published_at"),
		ExpiresAt:      r.optionalTime("expires_at"),
		Shape:          row.Shape,
	}
	if created := r.optionalTime("created_at"); created != nil {
		l.CreatedAt = *created
	}
	if updated := r.optionalTime("updated_at"); updated != nil {
		l.UpdatedAt = *updated
	}

	if price := r.optionalDecimal("price"); price != nil {
		l.Price = *price
	} else {
		r.problems["price"] = "empty"
	}

	l.Status = enums.ListingStatusDraft
	if raw := r.optionalStr("status"); raw != nil {
		status, err := enums.ParseListingStatus(*raw)
		if err != nil {
			r.problems["status"] = err.Error()
		}
		l.Status = status
	}
	propertyType, err := enums.ParsePropertyType(r.str("property_type"))
	if err != nil {
		r.problems["property_type"] = err.Error()
	}
	l.PropertyType = propertyType
	l.ListingType = enums.ListingTypeSale
	if raw := r.optionalStr("listing_type"); raw != nil {
		listingType, err := enums.ParseListingType(*raw)
		if err != nil {
			r.problems["listing_type"] = err.Error()
		}
		l.ListingType = listingType
	}

	l.Address = r.address()
	l.Location = r.coordinates()

	featureSource := row.Main
	if row.Features != nil {
		featureSource = row.Features
	}
	l.Features = r.features(featureSource, "features")
	l.Amenities = r.features(featureSource, "amenities")

	if row.Images != nil {
		l.Images = r.images(row.Images)
	} else {
		l.Images = r.images(r.embeddedRows("images"))
	}
	if row.Documents != nil {
		l.Documents = r.documents(row.Documents)
	} else {
		l.Documents = r.documents(r.embeddedRows("documents"))
	}

	if row.Commission != nil {
		l.Commission = r.commission(row.Commission, "")
	} else if v, ok := row.Main["commission_amount"]; ok && !blank(v) {
		l.Commission = r.commission(row.Main, "commission_")
	}

	if len(r.problems) > 0 {
		return nil, schemaMismatch(row.Shape, r.problems)
	}
	return l, nil
}

func schemaMismatch(shape Shape, problems map[string]string) error {
	details := map[string]string{"shape": string(shape)}
	for k, v := range problems {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeSchema, fmt.Sprintf("listing row does not match %s shape", shape)).WithDetails(details)
}

// columnReader coerces columns and records every failure instead of stopping
// at the first one, so a mismatch log names all broken columns.
type columnReader struct {
	row      RawRow
	problems map[string]string
	prefix   string
}

func (r *columnReader) fail(col string, err error) {
	r.problems[r.prefix+col] = err.Error()
}

func (r *columnReader) str(col string) string {
	s, _ := asString(r.row[col])
	return s
}

func (r *columnReader) optionalStr(col string) *string {
	if blank(r.row[col]) {
		return nil
	}
	s, _ := asString(r.row[col])
	return &s
}

func (r *columnReader) id(col string) uuid.UUID {
	id, err := uuidValue(r.row[col])
	if err != nil {
		r.fail(col, err)
	}
	return id
}

func (r *columnReader) optionalUUID(col string) *uuid.UUID {
	id := r.id(col)
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func (r *columnReader) optionalFloat(col string) *float64 {
	f, err := optionalFloat(r.row[col])
	if err != nil {
		r.fail(col, err)
	}
	return f
}

func (r *columnReader) optionalInt(col string) *int {
	i, err := optionalInt(r.row[col])
	if err != nil {
		r.fail(col, err)
	}
	return i
}

func (r *columnReader) integer(col string) int64 {
	i, err := intValue(r.row[col])
	if err != nil {
		r.fail(col, err)
	}
	return i
}

func (r *columnReader) optionalDecimal(col string) *decimal.Decimal {
	d, err := optionalDecimal(r.row[col])
	if err != nil {
		r.fail(col, err)
		return nil
	}
	return d
}

func (r *columnReader) optionalTime(col string) *time.Time {
	t, err := optionalTime(r.row[col])
	if err != nil {
		r.fail(col, err)
	}
	return t
}

func (r *columnReader) metadata(col string) map[string]any {
	out := map[string]any{}
	if err := decodeJSON(r.row[col], &out); err != nil {
		r.fail(col, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out
}

func (r *columnReader) features(source RawRow, col string) map[string]bool {
	set, err := featureSet(source[col])
	if err != nil {
		r.fail(col, err)
		return map[string]bool{}
	}
	return set
}

// address reads the JSON address object when present, else the discrete
// columns of the wide and normalized shapes.
func (r *columnReader) address() location.Address {
	if raw, ok := r.row["address"]; ok && !blank(raw) {
		var addr location.Address
		if err := decodeJSON(raw, &addr); err != nil {
			r.fail("address", err)
		}
		return addr
	}
	return location.Address{
		StreetNumber: r.str("street_number"),
		StreetName:   r.str("street_name"),
		Unit:         r.str("unit"),
		City:         r.str("city"),
		State:        r.str("state"),
		ZipCode:      r.str("zip_code"),
		Country:      r.str("country"),
	}
}

// location reads GeoJSON when present, else latitude/longitude columns.
// Missing coordinates reconcile to the unresolved sentinel.
func (r *columnReader) coordinates() location.Location {
	var point types.GeoPoint
	if raw, ok := r.row["location"]; ok && !blank(raw) {
		parsed, err := types.ParseGeoPoint(raw)
		if err != nil {
			r.fail("location", err)
			return location.Unresolved()
		}
		point = parsed
	} else {
		lat := r.optionalFloat("latitude")
		lng := r.optionalFloat("longitude")
		if lat == nil || lng == nil {
			return location.Unresolved()
		}
		point = types.GeoPoint{Lat: *lat, Lng: *lng}
	}
	loc, err := location.FromPoint(point)
	if err != nil {
		r.fail("location", err)
		return location.Unresolved()
	}
	return loc
}

func (r *columnReader) embeddedRows(col string) []RawRow {
	var items []map[string]any
	if err := decodeJSON(r.row[col], &items); err != nil {
		r.fail(col, err)
		return nil
	}
	return mapsToRows(items)
}

// orderKey prefers the side-table "position" column and falls back to the
// "order" key of embedded JSON.
func orderKey(row RawRow) any {
	if v, ok := row["position"]; ok {
		return v
	}
	return row["order"]
}

func (r *columnReader) images(rows []RawRow) []Image {
	images := make([]Image, 0, len(rows))
	for i, row := range rows {
		child := &columnReader{row: row, problems: r.problems, prefix: fmt.Sprintf("images[%d].", i)}
		img := Image{
			ID:         child.id("id"),
			URL:        child.str("url"),
			Path:       child.str("path"),
			Width:      int(child.integer("width")),
			Height:     int(child.integer("height")),
			SizeBytes:  child.integer("size_bytes"),
			MimeType:   child.str("mime_type"),
			IsFeatured: boolValue(row["is_featured"]),
		}
		order, err := intValue(orderKey(row))
		if err != nil {
			child.fail("position", err)
		}
		img.Order = int(order)
		if meta := child.metadata("meta_data"); len(meta) > 0 {
			img.MetaData = meta
		}
		images = append(images, img)
	}
	sort.SliceStable(images, func(i, j int) bool { return images[i].Order < images[j].Order })
	return images
}

func (r *columnReader) documents(rows []RawRow) []Document {
	docs := make([]Document, 0, len(rows))
	for i, row := range rows {
		child := &columnReader{row: row, problems: r.problems, prefix: fmt.Sprintf("documents[%d].", i)}
		doc := Document{
			ID:        child.id("id"),
			Name:      child.str("name"),
			URL:       child.str("url"),
			Path:      child.str("path"),
			Type:      child.str("type"),
			SizeBytes: child.integer("size_bytes"),
		}
		if uploaded := child.optionalTime("uploaded_at"); uploaded != nil {
			doc.UploadedAt = *uploaded
		}
		order, err := intValue(orderKey(row))
		if err != nil {
			child.fail("position", err)
		}
		doc.Order = int(order)
		docs = append(docs, doc)
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Order < docs[j].Order })
	return docs
}

// commission reads the commission payload; prefix is "commission_" for the
// inline columns of the wide shape.
func (r *columnReader) commission(row RawRow, prefix string) *CommissionTerms {
	c := &columnReader{row: row, problems: r.problems}
	col := func(name string) string { return prefix + name }

	terms := &CommissionTerms{
		Visibility: enums.CommissionVisibilityPrivate,
		Status:     enums.CommissionStatusDraft,
	}
	if prefix == "" {
		terms.ID = c.id("id")
	}
	if amount := c.optionalDecimal(col("amount")); amount != nil {
		terms.Amount = *amount
	}
	commissionType, err := enums.ParseCommissionType(c.str(col("type")))
	if err != nil {
		c.fail(col("type"), err)
	}
	terms.Type = commissionType
	terms.SplitPercentage = c.optionalFloat(col("split_percentage"))
	terms.Terms = c.str(col("terms"))
	if raw := c.optionalStr(col("visibility")); raw != nil {
		visibility, err := enums.ParseCommissionVisibility(*raw)
		if err != nil {
			c.fail(col("visibility"), err)
		}
		terms.Visibility = visibility
	}
	if raw := c.optionalStr(col("status")); raw != nil {
		status, err := enums.ParseCommissionStatus(*raw)
		if err != nil {
			c.fail(col("status"), err)
		}
		terms.Status = status
	}
	return terms
}
