package location

import (
	"fmt"

	pkgerrors "github.com/keystonerealty/keystone-backend/pkg/errors"
	"github.com/keystonerealty/keystone-backend/pkg/types"
	"github.com/mmcloughlin/geohash"
)

// GeoHashPrecision gives cells of roughly 5m, enough for map pins.
const GeoHashPrecision = 9

// Location is a WGS84 point. The zero value is the unresolved sentinel.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Unresolved returns the sentinel used until an address is geocoded.
func Unresolved() Location {
	return Location{}
}

// New validates coordinate ranges.
func New(lat, lng float64) (Location, error) {
	fields := map[string]string{}
	if lat < -90 || lat > 90 {
		fields["latitude"] = "must be between -90 and 90"
	}
	if lng < -180 || lng > 180 {
		fields["longitude"] = "must be between -180 and 180"
	}
	if len(fields) > 0 {
		return Location{}, pkgerrors.Validation(fmt.Sprintf("invalid coordinates (%g, %g)", lat, lng), fields)
	}
	return Location{Lat: lat, Lng: lng}, nil
}

// FromPoint converts a stored point back into a Location.
func FromPoint(p types.GeoPoint) (Location, error) {
	return New(p.Lat, p.Lng)
}

// Resolved reports whether the location is anything other than the sentinel.
func (l Location) Resolved() bool {
	return l.Lat != 0 || l.Lng != 0
}

// Point returns the storage view; its GeoJSON coordinates are [lng, lat].
func (l Location) Point() types.GeoPoint {
	return types.GeoPoint{Lat: l.Lat, Lng: l.Lng}
}

// GeoHash encodes the location, or returns "" for the sentinel.
func (l Location) GeoHash() string {
	if !l.Resolved() {
		return ""
	}
	return geohash.EncodeWithPrecision(l.Lat, l.Lng, GeoHashPrecision)
}

// NearbyCells returns the geohash cell containing (lat, lng) at the given
// precision plus its eight neighbours, for prefix matching in queries.
func NearbyCells(lat, lng float64, precision uint) []string {
	if precision == 0 || precision > GeoHashPrecision {
		precision = 5
	}
	center := geohash.EncodeWithPrecision(lat, lng, precision)
	return append([]string{center}, geohash.Neighbors(center)...)
}
