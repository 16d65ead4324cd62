package location

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/keystonerealty/keystone-backend/pkg/errors"
	"github.com/keystonerealty/keystone-backend/pkg/logger"
	"github.com/keystonerealty/keystone-backend/pkg/maps"
)

// DerivationStatus tells whether an address can be sent to a geocoder yet.
type DerivationStatus string

const (
	DerivationPending DerivationStatus = "pending"
	DerivationReady   DerivationStatus = "ready"
)

// Derivation is the outcome of DeriveLocation.
type Derivation struct {
	Status DerivationStatus
	Query  string
}

// DeriveLocation never performs I/O. Incomplete addresses yield Pending so a
// draft can be saved without coordinates.
func DeriveLocation(addr Address) Derivation {
	if !addr.IsComplete() {
		return Derivation{Status: DerivationPending}
	}
	return Derivation{Status: DerivationReady, Query: addr.Line()}
}

// Place is a geocoder match.
type Place struct {
	Location         Location
	Address          Address
	FormattedAddress string
}

// Geocoder is the external geocoding collaborator.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*maps.PlaceDetails, error)
}

// PlaceFinder backs address autocomplete in the listing form.
type PlaceFinder interface {
	Autocomplete(ctx context.Context, req maps.AutocompleteRequest) ([]maps.AutocompleteSuggestion, error)
	ResolvePlace(ctx context.Context, placeID string) (*maps.PlaceDetails, error)
}

// Suggestion is one autocomplete candidate.
type Suggestion struct {
	PlaceID     string `json:"place_id"`
	Description string `json:"description"`
}

// Resolver turns addresses into locations through a Geocoder.
type Resolver struct {
	geocoder Geocoder
	places   PlaceFinder
	logg     *logger.Logger
	attempts int
	backoff  time.Duration
}

// NewResolver builds a resolver. A nil geocoder leaves every address pending.
func NewResolver(geocoder Geocoder, logg *logger.Logger) *Resolver {
	return &Resolver{geocoder: geocoder, logg: logg, attempts: 2, backoff: 200 * time.Millisecond}
}

// WithPlaces enables Suggest and LookupPlace.
func (r *Resolver) WithPlaces(places PlaceFinder) *Resolver {
	r.places = places
	return r
}

// Resolve geocodes a complete address. Pending addresses and geocoder misses
// return the unresolved sentinel without error.
func (r *Resolver) Resolve(ctx context.Context, addr Address) (Location, error) {
	derived := DeriveLocation(addr)
	if derived.Status == DerivationPending || r == nil || r.geocoder == nil {
		return Unresolved(), nil
	}
	place, err := r.lookup(ctx, derived.Query)
	if err != nil {
		if errors.Is(err, maps.ErrNoResult) {
			return Unresolved(), nil
		}
		return Unresolved(), err
	}
	return place.Location, nil
}

// Lookup geocodes free-form text and parses the structured address.
func (r *Resolver) Lookup(ctx context.Context, query string) (*Place, error) {
	if strings.TrimSpace(query) == "" {
		return nil, pkgerrors.Validation("address is required", map[string]string{"address": "required"})
	}
	if r == nil || r.geocoder == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "geocoder unavailable")
	}
	place, err := r.lookup(ctx, query)
	if errors.Is(err, maps.ErrNoResult) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no location matched the address")
	}
	return place, err
}

// Suggest returns autocomplete candidates for partial input, limited to the
// default country.
func (r *Resolver) Suggest(ctx context.Context, input string) ([]Suggestion, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, pkgerrors.Validation("input is required", map[string]string{"input": "required"})
	}
	if r == nil || r.places == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "place search unavailable")
	}
	found, err := r.places.Autocomplete(ctx, maps.AutocompleteRequest{
		Input:               input,
		IncludedRegionCodes: []string{strings.ToLower(DefaultCountry)},
		LanguageCode:        "en",
	})
	if err != nil {
		return nil, err
	}
	out := make([]Suggestion, 0, len(found))
	for _, s := range found {
		out = append(out, Suggestion{PlaceID: s.PlaceID, Description: s.Description})
	}
	return out, nil
}

// LookupPlace resolves an autocomplete candidate into a Place.
func (r *Resolver) LookupPlace(ctx context.Context, placeID string) (*Place, error) {
	placeID = strings.TrimSpace(placeID)
	if placeID == "" {
		return nil, pkgerrors.Validation("place id is required", map[string]string{"place_id": "required"})
	}
	if r == nil || r.places == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "place search unavailable")
	}
	details, err := r.places.ResolvePlace(ctx, placeID)
	if errors.Is(err, maps.ErrNoResult) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "place not found")
	}
	if err != nil {
		return nil, err
	}
	return placeFromDetails(details)
}

// lookup retries upstream failures; geocoding is an idempotent read.
func (r *Resolver) lookup(ctx context.Context, query string) (*Place, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		details, err := r.geocoder.Geocode(ctx, query)
		if err == nil {
			return placeFromDetails(details)
		}
		if errors.Is(err, maps.ErrNoResult) {
			return nil, err
		}
		lastErr = err
		if r.logg != nil {
			r.logg.Warn(r.logg.WithField(ctx, "attempt", attempt), "geocode attempt failed")
		}
		if attempt < r.attempts {
			select {
			case <-ctx.Done():
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ctx.Err(), "geocode cancelled")
			case <-time.After(r.backoff):
			}
		}
	}
	if pkgerrors.As(lastErr) != nil {
		return nil, lastErr
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, lastErr, "geocode address")
}

func placeFromDetails(details *maps.PlaceDetails) (*Place, error) {
	if details == nil {
		return nil, maps.ErrNoResult
	}
	loc, err := New(details.Location.Latitude, details.Location.Longitude)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "geocoder returned invalid coordinates")
	}
	return &Place{
		Location:         loc,
		Address:          ParseGeocodedAddress(details),
		FormattedAddress: details.FormattedAddress,
	}, nil
}

// ParseGeocodedAddress maps provider address components onto an Address.
// Missing components stay empty.
func ParseGeocodedAddress(details *maps.PlaceDetails) Address {
	if details == nil {
		return Address{}
	}
	find := func(kind string, short bool) string {
		for _, comp := range details.AddressComponents {
			for _, typ := range comp.Types {
				if typ != kind {
					continue
				}
				if short && comp.ShortName != "" {
					return comp.ShortName
				}
				return comp.LongName
			}
		}
		return ""
	}

	city := find("locality", false)
	if city == "" {
		city = find("postal_town", false)
	}
	if city == "" {
		city = find("administrative_area_level_2", false)
	}
	country := strings.ToUpper(find("country", true))
	if country == "" {
		country = DefaultCountry
	}

	return Address{
		StreetNumber: find("street_number", false),
		StreetName:   find("route", false),
		Unit:         find("subpremise", false),
		City:         city,
		State:        strings.ToUpper(find("administrative_area_level_1", true)),
		ZipCode:      find("postal_code", false),
		Country:      country,
	}
}

func (d Derivation) String() string {
	if d.Status == DerivationPending {
		return string(d.Status)
	}
	return fmt.Sprintf("%s: %s", d.Status, d.Query)
}
