package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/keystonerealty/keystone-backend/api/middleware"
	"github.com/keystonerealty/keystone-backend/api/responses"
	"github.com/keystonerealty/keystone-backend/api/validators"
	"github.com/keystonerealty/keystone-backend/internal/commissions"
	"github.com/keystonerealty/keystone-backend/pkg/enums"
	"github.com/keystonerealty/keystone-backend/pkg/logger"
)

type attachCommissionRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	Type            string          `json:"type" validate:"required,oneof=percentage flat"`
	SplitPercentage *float64        `json:"split_percentage,omitempty" validate:"omitempty,gte=0,lte=100"`
	Terms           string          `json:"terms" validate:"max=5000"`
	Visibility      string          `json:"visibility,omitempty" validate:"omitempty,oneof=private public verified_only"`
}

type updateCommissionRequest struct {
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	Type            *string          `json:"type,omitempty" validate:"omitempty,oneof=percentage flat"`
	SplitPercentage *float64         `json:"split_percentage,omitempty" validate:"omitempty,gte=0,lte=100"`
	Terms           *string          `json:"terms,omitempty" validate:"omitempty,max=5000"`
	Status          *string          `json:"status,omitempty" validate:"omitempty,oneof=draft pending approved rejected"`
}

type commissionVisibilityRequest struct {
	Visibility string `json:"visibility" validate:"required,oneof=private public verified_only"`
}

func (r updateCommissionRequest) toInput() commissions.UpdateTermsInput {
	input := commissions.UpdateTermsInput{
		Amount:          r.Amount,
		SplitPercentage: r.SplitPercentage,
		Terms:           r.Terms,
	}
	if r.Type != nil {
		t := enums.CommissionType(*r.Type)
		input.Type = &t
	}
	if r.Status != nil {
		s := enums.CommissionStatus(*r.Status)
		input.Status = &s
	}
	return input
}

// AttachCommission creates the commission of a listing.
func AttachCommission(svc commissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		listingID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload attachCommissionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		created, err := svc.Attach(r.Context(), listingID, ownerID, commissions.AttachInput{
			Amount:          payload.Amount,
			Type:            enums.CommissionType(payload.Type),
			SplitPercentage: payload.SplitPercentage,
			Terms:           payload.Terms,
			Visibility:      enums.CommissionVisibility(payload.Visibility),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, commissions.ToView(created))
	}
}

// GetCommission returns a listing's commission if the caller may see it.
func GetCommission(svc commissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listingID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		commission, err := svc.Get(r.Context(), listingID, middleware.ViewerFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, commissions.ToView(commission))
	}
}

// UpdateCommissionTerms patches the terms of an unlocked commission.
func UpdateCommissionTerms(svc commissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		commissionID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateCommissionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.UpdateTerms(r.Context(), commissionID, ownerID, payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, commissions.ToView(updated))
	}
}

// SetCommissionVisibility changes who may read the commission.
func SetCommissionVisibility(svc commissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		commissionID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload commissionVisibilityRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.SetVisibility(r.Context(), commissionID, ownerID, enums.CommissionVisibility(payload.Visibility))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, commissions.ToView(updated))
	}
}

// SignCommission records the caller's signature.
func SignCommission(svc commissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := requireUser(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		commissionID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		signed, err := svc.Sign(r.Context(), commissionID, middleware.ViewerFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, commissions.ToView(signed))
	}
}

// LockCommission freezes the terms.
func LockCommission(svc commissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		commissionID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		locked, err := svc.Lock(r.Context(), commissionID, ownerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, commissions.ToView(locked))
	}
}
