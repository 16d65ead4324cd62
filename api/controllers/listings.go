package controllers

import (
	"net/http"
	"strings"

	"github.com/keystonerealty/keystone-backend/api/middleware"
	"github.com/keystonerealty/keystone-backend/api/responses"
	"github.com/keystonerealty/keystone-backend/api/validators"
	listing "github.com/keystonerealty/keystone-backend/internal/listings"
	"github.com/keystonerealty/keystone-backend/internal/location"
	"github.com/keystonerealty/keystone-backend/pkg/enums"
	pkgerrors "github.com/keystonerealty/keystone-backend/pkg/errors"
	"github.com/keystonerealty/keystone-backend/pkg/logger"
	pkgpagination "github.com/keystonerealty/keystone-backend/pkg/pagination"
	"github.com/keystonerealty/keystone-backend/pkg/visibility"
)

// CreateListing validates the form body and stores a new listing owned by the caller.
func CreateListing(svc listing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		body, err := validators.ReadBody(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		form, err := listing.DecodeFormInput(body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		created, err := svc.Create(r.Context(), ownerID, form)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, listing.ToView(created, true))
	}
}

// UpdateListing applies a partial update from the owner.
func UpdateListing(svc listing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		body, err := validators.ReadBody(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		patch, err := listing.DecodePatchInput(body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.Update(r.Context(), id, ownerID, patch)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, listing.ToView(updated, true))
	}
}

// GetListing returns the detail view. Drafts are only shown to their owner and
// commission terms are dropped unless the caller may see them.
func GetListing(svc listing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		l, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		viewer := middleware.ViewerFromContext(r.Context())
		if err := visibility.EnsureListingVisible(l.Status, l.UserID, viewer); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		showCommission := l.Commission != nil && visibility.CommissionVisible(visibility.CommissionVisibilityInput{
			Visibility: l.Commission.Visibility,
			OwnerID:    l.UserID,
			Viewer:     viewer,
		})
		responses.WriteSuccess(w, listing.ToView(l, showCommission))
	}
}

// GetListingForm returns the edit form values to the owner.
func GetListingForm(svc listing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		form, err := svc.GetForm(r.Context(), id, ownerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, form)
	}
}

// DeleteListing removes a listing and its blobs.
func DeleteListing(svc listing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Delete(r.Context(), id, ownerID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}

// ListListings pages through published listings. Drafts never appear here;
// owners see theirs under /listings/mine.
func ListListings(svc listing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := parseListParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		switch params.Status {
		case "":
			params.Status = enums.ListingStatusActive
		case enums.ListingStatusDraft:
			responses.WriteError(r.Context(), logg, w, pkgerrors.Validation("drafts are not listed publicly", map[string]string{"status": "draft is only available under /listings/mine"}))
			return
		}

		result, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// MyListings pages through the caller's listings in any status.
func MyListings(svc listing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := parseListParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params.OwnerID = &ownerID

		result, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func parseListParams(r *http.Request) (listing.ListParams, error) {
	var params listing.ListParams
	query := r.URL.Query()

	limit, err := validators.ParseQueryInt(r, "limit", pkgpagination.DefaultLimit, 1, pkgpagination.MaxLimit)
	if err != nil {
		return params, err
	}
	params.Params = pkgpagination.Params{Limit: limit, Cursor: strings.TrimSpace(query.Get("cursor"))}

	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, err := enums.ParseListingStatus(raw)
		if err != nil {
			return params, pkgerrors.Validation("invalid status", map[string]string{"status": err.Error()})
		}
		params.Status = status
	}
	if raw := strings.TrimSpace(query.Get("property_type")); raw != "" {
		propertyType, err := enums.ParsePropertyType(raw)
		if err != nil {
			return params, pkgerrors.Validation("invalid property type", map[string]string{"property_type": err.Error()})
		}
		params.PropertyType = propertyType
	}
	if raw := strings.TrimSpace(query.Get("listing_type")); raw != "" {
		listingType, err := enums.ParseListingType(raw)
		if err != nil {
			return params, pkgerrors.Validation("invalid listing type", map[string]string{"listing_type": err.Error()})
		}
		params.ListingType = listingType
	}

	if params.MinPrice, err = validators.ParseQueryDecimal(r, "min_price"); err != nil {
		return params, err
	}
	if params.MaxPrice, err = validators.ParseQueryDecimal(r, "max_price"); err != nil {
		return params, err
	}

	lat, err := validators.ParseQueryFloat(r, "lat")
	if err != nil {
		return params, err
	}
	lng, err := validators.ParseQueryFloat(r, "lng")
	if err != nil {
		return params, err
	}
	if (lat == nil) != (lng == nil) {
		return params, pkgerrors.Validation("lat and lng must be given together", map[string]string{"lat": "requires lng", "lng": "requires lat"})
	}
	if lat != nil {
		near, err := location.New(*lat, *lng)
		if err != nil {
			return params, err
		}
		params.Near = &near
	}
	return params, nil
}
