package location

import (
	"context"
	"errors"
	"strings"
	"testing"

	pkgerrors "github.com/keystonerealty/keystone-backend/pkg/errors"
	"github.com/keystonerealty/keystone-backend/pkg/maps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTrimsAndDefaults(t *testing.T) {
	addr, err := Normalize(RawAddress{
		StreetNumber: " 123 ",
		StreetName:   "  Test   St ",
		City:         "SAN ANTONIO",
		State:        "tx",
		ZipCode:      " 78205 ",
	})
	require.NoError(t, err)
	assert.Equal(t, Address{
		StreetNumber: "123",
		StreetName:   "Test St",
		City:         "San Antonio",
		State:        "TX",
		ZipCode:      "78205",
		Country:      "US",
	}, addr)
}

func TestNormalizeKeepsMixedCaseCity(t *testing.T) {
	addr, err := Normalize(RawAddress{StreetName: "Main", City: "McAllen", State: "TX", ZipCode: "78501"})
	require.NoError(t, err)
	assert.Equal(t, "McAllen", addr.City)
}

func TestNormalizeReportsEveryFailingField(t *testing.T) {
	_, err := Normalize(RawAddress{StreetName: "Main", State: "Texas", Country: "USA"})
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())

	fields, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Contains(t, fields, "city")
	assert.Contains(t, fields, "state")
	assert.Contains(t, fields, "country")
	assert.Contains(t, fields, "zip_code")
	assert.NotContains(t, fields, "street_name")
}

func TestDeriveLocationPendingForIncompleteAddress(t *testing.T) {
	derived := DeriveLocation(Address{StreetName: "Test St", City: "Austin"})
	assert.Equal(t, DerivationPending, derived.Status)
	assert.Empty(t, derived.Query)

	derived = DeriveLocation(Address{StreetNumber: "123", StreetName: "Test St", Unit: "4B", City: "Austin", State: "TX", ZipCode: "78701", Country: "US"})
	assert.Equal(t, DerivationReady, derived.Status)
	assert.Equal(t, "123 Test St 4B, Austin, TX 78701, US", derived.Query)
}

func TestLocationSentinelAndGeoHash(t *testing.T) {
	sentinel := Unresolved()
	assert.False(t, sentinel.Resolved())
	assert.Empty(t, sentinel.GeoHash())

	loc, err := New(30.2672, -97.7431)
	require.NoError(t, err)
	assert.True(t, loc.Resolved())
	assert.Len(t, loc.GeoHash(), GeoHashPrecision)
	assert.True(t, strings.HasPrefix(loc.GeoHash(), "9v6k"))

	geo := loc.Point().GeoJSON()
	assert.Equal(t, "Point", geo.Type)
	assert.Equal(t, [2]float64{-97.7431, 30.2672}, geo.Coordinates)
}

func TestNewRejectsOutOfRangeCoordinates(t *testing.T) {
	_, err := New(91, 0)
	require.Error(t, err)
	_, err = New(0, -181)
	require.Error(t, err)
}

func TestNearbyCellsIncludesNeighbours(t *testing.T) {
	cells := NearbyCells(30.2672, -97.7431, 5)
	require.Len(t, cells, 9)
	assert.Len(t, cells[0], 5)
}

type fakeGeocoder struct {
	calls   int
	results []geocodeResult
}

type geocodeResult struct {
	details *maps.PlaceDetails
	err     error
}

func (f *fakeGeocoder) Geocode(_ context.Context, _ string) (*maps.PlaceDetails, error) {
	res := f.results[f.calls]
	f.calls++
	return res.details, res.err
}

func TestResolverReturnsSentinelWhenNoResult(t *testing.T) {
	geo := &fakeGeocoder{results: []geocodeResult{{err: maps.ErrNoResult}}}
	r := NewResolver(geo, nil)

	loc, err := r.Resolve(context.Background(), completeAddress())
	require.NoError(t, err)
	assert.False(t, loc.Resolved())
	assert.Equal(t, 1, geo.calls)
}

func TestResolverSkipsPendingAddress(t *testing.T) {
	geo := &fakeGeocoder{}
	r := NewResolver(geo, nil)

	loc, err := r.Resolve(context.Background(), Address{City: "Austin"})
	require.NoError(t, err)
	assert.Equal(t, Unresolved(), loc)
	assert.Zero(t, geo.calls)
}

func TestResolverRetriesUpstreamFailureOnce(t *testing.T) {
	geo := &fakeGeocoder{results: []geocodeResult{
		{err: pkgerrors.New(pkgerrors.CodeDependency, "boom")},
		{details: &maps.PlaceDetails{Location: maps.LatLng{Latitude: 30.1, Longitude: -97.2}}},
	}}
	r := NewResolver(geo, nil)
	r.backoff = 0

	loc, err := r.Resolve(context.Background(), completeAddress())
	require.NoError(t, err)
	assert.Equal(t, Location{Lat: 30.1, Lng: -97.2}, loc)
	assert.Equal(t, 2, geo.calls)
}

func TestResolverGivesUpAfterBoundedAttempts(t *testing.T) {
	geo := &fakeGeocoder{results: []geocodeResult{
		{err: errors.New("timeout")},
		{err: errors.New("timeout")},
	}}
	r := NewResolver(geo, nil)
	r.backoff = 0

	_, err := r.Resolve(context.Background(), completeAddress())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())
	assert.Equal(t, 2, geo.calls)
}

func TestLookupParsesStructuredAddress(t *testing.T) {
	geo := &fakeGeocoder{results: []geocodeResult{{details: &maps.PlaceDetails{
		FormattedAddress: "123 Test St #4, Austin, TX 78701, USA",
		Location:         maps.LatLng{Latitude: 30.26, Longitude: -97.74},
		AddressComponents: []maps.AddressComponent{
			{LongName: "123", ShortName: "123", Types: []string{"street_number"}},
			{LongName: "Test Street", ShortName: "Test St", Types: []string{"route"}},
			{LongName: "4", ShortName: "4", Types: []string{"subpremise"}},
			{LongName: "Austin", ShortName: "Austin", Types: []string{"locality", "political"}},
			{LongName: "Texas", ShortName: "TX", Types: []string{"administrative_area_level_1"}},
			{LongName: "78701", ShortName: "78701", Types: []string{"postal_code"}},
			{LongName: "United States", ShortName: "us", Types: []string{"country"}},
		},
	}}}}
	r := NewResolver(geo, nil)

	place, err := r.Lookup(context.Background(), "123 Test St")
	require.NoError(t, err)
	assert.Equal(t, Address{
		StreetNumber: "123",
		StreetName:   "Test Street",
		Unit:         "4",
		City:         "Austin",
		State:        "TX",
		ZipCode:      "78701",
		Country:      "US",
	}, place.Address)
	assert.Equal(t, Location{Lat: 30.26, Lng: -97.74}, place.Location)
}

func TestLookupWithoutGeocoder(t *testing.T) {
	_, err := NewResolver(nil, nil).Lookup(context.Background(), "123 Test St")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())
}

func completeAddress() Address {
	return Address{StreetNumber: "123", StreetName: "Test St", City: "Austin", State: "TX", ZipCode: "78701", Country: "US"}
}

type fakePlaces struct {
	lastRequest maps.AutocompleteRequest
	suggestions []maps.AutocompleteSuggestion
	details     *maps.PlaceDetails
	err         error
}

func (f *fakePlaces) Autocomplete(_ context.Context, req maps.AutocompleteRequest) ([]maps.AutocompleteSuggestion, error) {
	f.lastRequest = req
	return f.suggestions, f.err
}

func (f *fakePlaces) ResolvePlace(_ context.Context, _ string) (*maps.PlaceDetails, error) {
	return f.details, f.err
}

func TestSuggestMapsCandidates(t *testing.T) {
	places := &fakePlaces{suggestions: []maps.AutocompleteSuggestion{
		{PlaceID: "p1", Description: "123 Test St, Austin, TX"},
	}}
	r := NewResolver(nil, nil).WithPlaces(places)

	got, err := r.Suggest(context.Background(), " 123 Te ")
	require.NoError(t, err)
	assert.Equal(t, []Suggestion{{PlaceID: "p1", Description: "123 Test St, Austin, TX"}}, got)
	assert.Equal(t, "123 Te", places.lastRequest.Input)
	assert.Equal(t, []string{"us"}, places.lastRequest.IncludedRegionCodes)
}

func TestSuggestRequiresInputAndBackend(t *testing.T) {
	_, err := NewResolver(nil, nil).WithPlaces(&fakePlaces{}).Suggest(context.Background(), "  ")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = NewResolver(nil, nil).Suggest(context.Background(), "123")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())
}

func TestLookupPlace(t *testing.T) {
	places := &fakePlaces{details: &maps.PlaceDetails{
		PlaceID:          "p1",
		FormattedAddress: "123 Test St, Austin, TX 78701, USA",
		Location:         maps.LatLng{Latitude: 30.26, Longitude: -97.74},
	}}
	r := NewResolver(nil, nil).WithPlaces(places)

	place, err := r.LookupPlace(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "123 Test St, Austin, TX 78701, USA", place.FormattedAddress)
	assert.True(t, place.Location.Resolved())

	places.details, places.err = nil, maps.ErrNoResult
	_, err = r.LookupPlace(context.Background(), "p2")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}
