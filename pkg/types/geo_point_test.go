package types

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeoPointValueIsGeoJSON(t *testing.T) {
	v, err := GeoPoint{Lat: 40.7128, Lng: -74.006}.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"Point","coordinates":[-74.006,40.7128]}`, v)
}

func TestParseGeoPointAcceptsDriverShapes(t *testing.T) {
	wkb := make([]byte, 21)
	wkb[0] = 1
	binary.LittleEndian.PutUint32(wkb[1:5], 1)
	binary.LittleEndian.PutUint64(wkb[5:13], math.Float64bits(-122.4))
	binary.LittleEndian.PutUint64(wkb[13:21], math.Float64bits(37.7))

	tests := []struct {
		name  string
		input any
		want  GeoPoint
	}{
		{name: "nil", input: nil, want: GeoPoint{}},
		{name: "geojson text", input: `{"type":"Point","coordinates":[-122.4,37.7]}`, want: GeoPoint{Lat: 37.7, Lng: -122.4}},
		{name: "geojson bytes", input: []byte(`{"type":"Point","coordinates":[-122.4,37.7]}`), want: GeoPoint{Lat: 37.7, Lng: -122.4}},
		{name: "decoded map", input: map[string]any{"type": "Point", "coordinates": []any{-122.4, 37.7}}, want: GeoPoint{Lat: 37.7, Lng: -122.4}},
		{name: "ewkt", input: "SRID=4326;POINT(-122.4 37.7)", want: GeoPoint{Lat: 37.7, Lng: -122.4}},
		{name: "wkb", input: wkb, want: GeoPoint{Lat: 37.7, Lng: -122.4}},
		{name: "empty", input: "", want: GeoPoint{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGeoPoint(tt.input)
			require.NoError(t, err)
			assert.InDelta(t, tt.want.Lat, got.Lat, 1e-9)
			assert.InDelta(t, tt.want.Lng, got.Lng, 1e-9)
		})
	}
}

func TestParseGeoPointRejectsOtherGeometries(t *testing.T) {
	_, err := ParseGeoPoint(`{"type":"LineString","coordinates":[0,0]}`)
	require.Error(t, err)

	_, err = ParseGeoPoint(42)
	require.Error(t, err)
}

func TestGeoPointScanRoundTrip(t *testing.T) {
	original := GeoPoint{Lat: -33.8688, Lng: 151.2093}
	v, err := original.Value()
	require.NoError(t, err)

	var scanned GeoPoint
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, original, scanned)
}
