package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/keystonerealty/keystone-backend/api/responses"
	"github.com/keystonerealty/keystone-backend/api/validators"
	listing "github.com/keystonerealty/keystone-backend/internal/listings"
	pkgerrors "github.com/keystonerealty/keystone-backend/pkg/errors"
	"github.com/keystonerealty/keystone-backend/pkg/logger"
)

const maxImportRows = 500

type importListingsRequest struct {
	Shape string            `json:"shape" validate:"required,oneof=wide normalized geo"`
	Rows  []json.RawMessage `json:"rows" validate:"required,min=1"`
}

// ImportListings stores legacy rows of one shape under the caller. Each row
// succeeds or fails on its own; the response lists both.
func ImportListings(svc listing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload importListingsRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if len(payload.Rows) > maxImportRows {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Validation("too many rows", map[string]string{"rows": "at most 500 rows per request"}))
			return
		}
		shape, err := listing.ParseShape(payload.Shape)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Validation("invalid shape", map[string]string{"shape": err.Error()}))
			return
		}

		rows := make([][]byte, 0, len(payload.Rows))
		for _, row := range payload.Rows {
			rows = append(rows, row)
		}

		result, err := svc.Import(r.Context(), ownerID, shape, rows)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusOK
		if len(result.Imported) > 0 {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}
