package controllers

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/keystonerealty/keystone-backend/api/responses"
	"github.com/keystonerealty/keystone-backend/api/validators"
	listing "github.com/keystonerealty/keystone-backend/internal/listings"
	pkgerrors "github.com/keystonerealty/keystone-backend/pkg/errors"
	"github.com/keystonerealty/keystone-backend/pkg/logger"
)

const (
	multipartOverhead = 1 << 20
	multipartMemory   = 8 << 20
)

// UploadListingImage accepts one multipart "file" part plus optional width,
// height and is_featured fields.
func UploadListingImage(svc listing.Service, maxUploadBytes int64, logg *logger.Logger) http.HandlerFunc {
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

		upload, err := imageUpload(r, file, header)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		image, err := svc.AttachImage(r.Context(), id, ownerID, upload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, image)
	}
}

// openUpload parses the multipart body and opens its "file" part. cleanup
// closes the part and removes any spooled temp files.
func openUpload(w http.ResponseWriter, r *http.Request, maxUploadBytes int64) (multipart.File, *multipart.FileHeader, func(), error) {
	if maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid multipart body")
	}
	removeAll := func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		removeAll()
		return nil, nil, nil, pkgerrors.Validation("file is required", map[string]string{"file": "required"})
	}
	return file, header, func() {
		_ = file.Close()
		removeAll()
	}, nil
}

func imageUpload(r *http.Request, file multipart.File, header *multipart.FileHeader) (listing.ImageUpload, error) {
	fields := map[string]string{}
	width := formInt(r, "width", fields)
	height := formInt(r, "height", fields)
	featured := false
	if raw := strings.TrimSpace(r.FormValue("is_featured")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			fields["is_featured"] = "must be a boolean"
		}
		featured = parsed
	}
	if len(fields) > 0 {
		return listing.ImageUpload{}, pkgerrors.Validation("invalid image fields", fields)
	}

	contentType, err := detectContentType(file, header)
	if err != nil {
		return listing.ImageUpload{}, err
	}

	return listing.ImageUpload{
		Filename:    header.Filename,
		ContentType: contentType,
		SizeBytes:   header.Size,
		Width:       width,
		Height:      height,
		IsFeatured:  featured,
		Body:        file,
	}, nil
}

// detectContentType prefers the part header and sniffs the bytes otherwise.
func detectContentType(file multipart.File, header *multipart.FileHeader) (string, error) {
	if ct := strings.TrimSpace(header.Header.Get("Content-Type")); ct != "" && ct != "application/octet-stream" {
		return ct, nil
	}
	sniff := make([]byte, 512)
	n, err := io.ReadFull(file, sniff)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read upload")
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "rewind upload")
	}
	return http.DetectContentType(sniff[:n]), nil
}

func formInt(r *http.Request, key string, fields map[string]string) int {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		fields[key] = "must be a non-negative integer"
		return 0
	}
	return value
}

// DeleteListingImage removes one image and its blob.
func DeleteListingImage(svc listing.Service, logg *logger.Logger) http.HandlerFunc {
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
		imageID, err := validators.ParseUUIDParam(r, "imageId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.DeleteImage(r.Context(), id, imageID, ownerID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}

// FeatureListingImage makes one image the listing's featured image.
func FeatureListingImage(svc listing.Service, logg *logger.Logger) http.HandlerFunc {
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
		imageID, err := validators.ParseUUIDParam(r, "imageId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.SetFeaturedImage(r.Context(), id, imageID, ownerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, listing.ToView(updated, true))
	}
}
