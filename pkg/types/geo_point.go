package types

import (
	"database/sql/driver"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const geoJSONPointType = "Point"

// GeoPoint is a WGS84 coordinate persisted as a GeoJSON Point.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// GeoJSONPoint is the wire form; Coordinates are [lng, lat].
type GeoJSONPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// GeoJSON returns the GeoJSON view of the point.
func (g GeoPoint) GeoJSON() GeoJSONPoint {
	return GeoJSONPoint{Type: geoJSONPointType, Coordinates: [2]float64{g.Lng, g.Lat}}
}

// Value stores the point as GeoJSON text so jsonb columns accept it.
func (g GeoPoint) Value() (driver.Value, error) {
	raw, err := json.Marshal(g.GeoJSON())
	if err != nil {
		return nil, fmt.Errorf("geopoint: marshal: %w", err)
	}
	return string(raw), nil
}

// Scan accepts GeoJSON, WKT/EWKT or WKB returned by the driver.
func (g *GeoPoint) Scan(value any) error {
	point, err := ParseGeoPoint(value)
	if err != nil {
		return err
	}
	*g = point
	return nil
}

// ParseGeoPoint decodes any representation a driver or JSON decoder may
// hand back for a point column. nil decodes to the zero point.
func ParseGeoPoint(value any) (GeoPoint, error) {
	switch v := value.(type) {
	case nil:
		return GeoPoint{}, nil
	case GeoPoint:
		return v, nil
	case *GeoPoint:
		if v == nil {
			return GeoPoint{}, nil
		}
		return *v, nil
	case GeoJSONPoint:
		return fromGeoJSON(v)
	case map[string]any:
		raw, err := json.Marshal(v)
		if err != nil {
			return GeoPoint{}, fmt.Errorf("geopoint: remarshal: %w", err)
		}
		return fromGeoJSONText(raw)
	case string:
		return fromText(v)
	case []byte:
		text := strings.TrimSpace(string(v))
		upper := strings.ToUpper(text)
		if strings.HasPrefix(text, "{") || strings.HasPrefix(upper, "SRID=") || strings.HasPrefix(upper, "POINT(") {
			return fromText(text)
		}
		return fromWKB(v)
	default:
		return GeoPoint{}, fmt.Errorf("geopoint: unsupported scan type %T", value)
	}
}

func fromText(raw string) (GeoPoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return GeoPoint{}, nil
	}
	if strings.HasPrefix(raw, "{") {
		return fromGeoJSONText([]byte(raw))
	}
	return fromWKT(raw)
}

func fromGeoJSONText(raw []byte) (GeoPoint, error) {
	var point GeoJSONPoint
	if err := json.Unmarshal(raw, &point); err != nil {
		return GeoPoint{}, fmt.Errorf("geopoint: decode geojson: %w", err)
	}
	return fromGeoJSON(point)
}

func fromGeoJSON(point GeoJSONPoint) (GeoPoint, error) {
	if point.Type != "" && point.Type != geoJSONPointType {
		return GeoPoint{}, fmt.Errorf("geopoint: unexpected geojson type %q", point.Type)
	}
	return GeoPoint{Lng: point.Coordinates[0], Lat: point.Coordinates[1]}, nil
}

func fromWKT(raw string) (GeoPoint, error) {
	if strings.HasPrefix(strings.ToUpper(raw), "SRID=") {
		if idx := strings.Index(raw, ";"); idx != -1 {
			raw = raw[idx+1:]
		}
	}

	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(strings.ToUpper(raw), "POINT(") || !strings.HasSuffix(raw, ")") {
		return GeoPoint{}, fmt.Errorf("geopoint: unsupported text %q", raw)
	}

	content := strings.TrimSpace(raw[len("POINT(") : len(raw)-1])
	segments := strings.Fields(content)
	if len(segments) != 2 {
		return GeoPoint{}, fmt.Errorf("geopoint: unexpected POINT content %q", content)
	}

	lng, err := parseCoordinate(segments[0])
	if err != nil {
		return GeoPoint{}, err
	}
	lat, err := parseCoordinate(segments[1])
	if err != nil {
		return GeoPoint{}, err
	}
	return GeoPoint{Lat: lat, Lng: lng}, nil
}

func fromWKB(raw []byte) (GeoPoint, error) {
	if len(raw) < 21 {
		return GeoPoint{}, fmt.Errorf("geopoint: wkb too short")
	}

	var order binary.ByteOrder
	switch raw[0] {
	case 0:
		order = binary.BigEndian
	case 1:
		order = binary.LittleEndian
	default:
		return GeoPoint{}, fmt.Errorf("geopoint: invalid byte order %d", raw[0])
	}

	if geomType := order.Uint32(raw[1:5]); geomType != 1 {
		return GeoPoint{}, fmt.Errorf("geopoint: unexpected geometry type %d", geomType)
	}

	return GeoPoint{
		Lng: math.Float64frombits(order.Uint64(raw[5:13])),
		Lat: math.Float64frombits(order.Uint64(raw[13:21])),
	}, nil
}

func parseCoordinate(value string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("geopoint: parse coordinate %w", err)
	}
	return f, nil
}
