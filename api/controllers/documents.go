package controllers

import (
	"net/http"
	"strings"

	"github.com/keystonerealty/keystone-backend/api/responses"
	"github.com/keystonerealty/keystone-backend/api/validators"
	listing "github.com/keystonerealty/keystone-backend/internal/listings"
	"github.com/keystonerealty/keystone-backend/pkg/logger"
)

// UploadListingDocument accepts one multipart "file" part and an optional
// display "name".
func UploadListingDocument(svc listing.Service, maxUploadBytes int64, logg *logger.Logger) http.HandlerFunc {
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

		file, header, cleanup, err := openUpload(w, r, maxUploadBytes)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		defer cleanup()

		contentType, err := detectContentType(file, header)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		doc, err := svc.AttachDocument(r.Context(), id, ownerID, listing.DocumentUpload{
			Filename:    header.Filename,
			Name:        strings.TrimSpace(r.FormValue("name")),
			ContentType: contentType,
			SizeBytes:   header.Size,
			Body:        file,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, doc)
	}
}

// DeleteListingDocument removes one document and its blob.
func DeleteListingDocument(svc listing.Service, logg *logger.Logger) http.HandlerFunc {
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
		documentID, err := validators.ParseUUIDParam(r, "documentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.DeleteDocument(r.Context(), id, documentID, ownerID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}
