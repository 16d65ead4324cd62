package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/keystonerealty/keystone-backend/api/responses"
	"github.com/keystonerealty/keystone-backend/api/validators"
	"github.com/keystonerealty/keystone-backend/internal/location"
	pkgerrors "github.com/keystonerealty/keystone-backend/pkg/errors"
	"github.com/keystonerealty/keystone-backend/pkg/logger"
)

// PlaceLookup is the location surface the geocode endpoints use.
type PlaceLookup interface {
	Lookup(ctx context.Context, query string) (*location.Place, error)
	LookupPlace(ctx context.Context, placeID string) (*location.Place, error)
	Suggest(ctx context.Context, input string) ([]location.Suggestion, error)
}

type geocodeRequest struct {
	Query        string `json:"query,omitempty" validate:"omitempty,max=500"`
	PlaceID      string `json:"place_id,omitempty" validate:"omitempty,max=500"`
	StreetNumber string `json:"street_number,omitempty"`
	StreetName   string `json:"street_name,omitempty"`
	Unit         string `json:"unit,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	ZipCode      string `json:"zip_code,omitempty"`
	Country      string `json:"country,omitempty"`
}

type geocodeResponse struct {
	Location         location.Location `json:"location"`
	GeoHash          string            `json:"geohash"`
	Address          location.Address  `json:"address"`
	FormattedAddress string            `json:"formatted_address"`
}

// Geocode previews the location for an address, a free-form query or an
// autocomplete place id.
func Geocode(places PlaceLookup, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload geocodeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var (
			place *location.Place
			err   error
		)
		switch {
		case strings.TrimSpace(payload.PlaceID) != "":
			place, err = places.LookupPlace(r.Context(), payload.PlaceID)
		case strings.TrimSpace(payload.Query) != "":
			place, err = places.Lookup(r.Context(), payload.Query)
		default:
			place, err = lookupAddress(r.Context(), places, payload)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, geocodeResponse{
			Location:         place.Location,
			GeoHash:          place.Location.GeoHash(),
			Address:          place.Address,
			FormattedAddress: place.FormattedAddress,
		})
	}
}

func lookupAddress(ctx context.Context, places PlaceLookup, payload geocodeRequest) (*location.Place, error) {
	addr, err := location.Normalize(location.RawAddress{
		StreetNumber: payload.StreetNumber,
		StreetName:   payload.StreetName,
		Unit:         payload.Unit,
		City:         payload.City,
		State:        payload.State,
		ZipCode:      payload.ZipCode,
		Country:      payload.Country,
	})
	if err != nil {
		return nil, err
	}
	derived := location.DeriveLocation(addr)
	if derived.Status == location.DerivationPending {
		return nil, pkgerrors.Validation("address is incomplete", map[string]string{"address": "street, city or zip code required"})
	}
	return places.Lookup(ctx, derived.Query)
}

// GeocodeSuggestions returns autocomplete candidates for ?input=.
func GeocodeSuggestions(places PlaceLookup, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		suggestions, err := places.Suggest(r.Context(), r.URL.Query().Get("input"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"suggestions": suggestions})
	}
}
