package listing

import (
	"fmt"
	"strings"
)

// Shape tags which on-disk layout a row came from or is written to.
type Shape string

const (
	// ShapeWide is the flat legacy layout: discrete address columns,
	// commission columns inline, collections embedded as JSON arrays.
	ShapeWide Shape = "wide"
	// ShapeNormalized stores numerics as text with features and images in
	// child tables.
	ShapeNormalized Shape = "normalized"
	// ShapeGeo stores location as GeoJSON and features/amenities as JSON maps.
	ShapeGeo Shape = "geo"
)

// ParseShape converts configuration or request input into a Shape.
func ParseShape(value string) (Shape, error) {
	switch Shape(strings.ToLower(strings.TrimSpace(value))) {
	case ShapeWide:
		return ShapeWide, nil
	case ShapeNormalized:
		return ShapeNormalized, nil
	case ShapeGeo:
		return ShapeGeo, nil
	default:
		return "", fmt.Errorf("unknown listing shape %q", value)
	}
}

// Tables names the tables backing one shape. Empty names mean the data is
// embedded in the main row.
type Tables struct {
	Main      string
	Features  string
	Images    string
	Documents string
}

// HasChildTables reports whether images and documents live in side tables.
func (t Tables) HasChildTables() bool {
	return t.Images != ""
}

// TablesFor returns the table layout of a shape.
func TablesFor(shape Shape) Tables {
	switch shape {
	case ShapeWide:
		return Tables{Main: "properties"}
	case ShapeNormalized:
		return Tables{
			Main:      "listings_v2",
			Features:  "listing_features",
			Images:    "listing_images",
			Documents: "listing_documents",
		}
	default:
		return Tables{
			Main:      "listings",
			Images:    "listing_images",
			Documents: "listing_documents",
		}
	}
}

// CommissionsTable holds the commission sub-resource for every shape except
// wide, which keeps commission columns on the main row.
const CommissionsTable = "commissions"
