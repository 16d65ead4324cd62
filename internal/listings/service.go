package listing

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/keystonerealty/keystone-backend/internal/location"
	"github.com/keystonerealty/keystone-backend/internal/security"
	"github.com/keystonerealty/keystone-backend/pkg/db"
	pkgerrors "github.com/keystonerealty/keystone-backend/pkg/errors"
	"github.com/keystonerealty/keystone-backend/pkg/logger"
	pkgpagination "github.com/keystonerealty/keystone-backend/pkg/pagination"
	"github.com/keystonerealty/keystone-backend/pkg/storage/gcs"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const defaultOperationTimeout = 10 * time.Second

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type locationResolver interface {
	Resolve(ctx context.Context, addr location.Address) (location.Location, error)
}

type blobStore interface {
	Upload(ctx context.Context, bucket, objectPath, contentType string, body io.Reader) (gcs.Object, error)
	Delete(ctx context.Context, bucket, objectPath string) error
}

// Service exposes listing CRUD, image management and legacy import.
type Service interface {
	Create(ctx context.Context, ownerID uuid.UUID, form FormValues) (*Listing, error)
	Update(ctx context.Context, id, ownerID uuid.UUID, patch Patch) (*Listing, error)
	Get(ctx context.Context, id uuid.UUID) (*Listing, error)
	GetForm(ctx context.Context, id, ownerID uuid.UUID) (*FormValues, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	Delete(ctx context.Context, id, ownerID uuid.UUID) error
	AttachImage(ctx context.Context, id, ownerID uuid.UUID, upload ImageUpload) (*Image, error)
	DeleteImage(ctx context.Context, id, imageID, ownerID uuid.UUID) error
	SetFeaturedImage(ctx context.Context, id, imageID, ownerID uuid.UUID) (*Listing, error)
	AttachDocument(ctx context.Context, id, ownerID uuid.UUID, upload DocumentUpload) (*Document, error)
	DeleteDocument(ctx context.Context, id, documentID, ownerID uuid.UUID) error
	Import(ctx context.Context, ownerID uuid.UUID, shape Shape, rows [][]byte) (*ImportResult, error)
	MigrateShape(ctx context.Context, from Shape, batchSize int) (*ImportResult, error)
}

// ServiceConfig carries the tunables of the listing service.
type ServiceConfig struct {
	Bucket           string
	ObjectPrefix     string
	MaxImages        int
	MaxUploadBytes   int64
	OperationTimeout time.Duration
}

// ImageUpload is one image file posted by an owner.
type ImageUpload struct {
	Filename    string
	ContentType string
	SizeBytes   int64
	Width       int
	Height      int
	IsFeatured  bool
	Body        io.Reader
}

// DocumentUpload is one disclosure, floor plan or similar file. Name falls
// back to Filename.
type DocumentUpload struct {
	Filename    string
	Name        string
	ContentType string
	SizeBytes   int64
	Body        io.Reader
}

var documentTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"text/plain":      true,
}

// ImportResult reports per-row outcomes of an import or shape migration.
type ImportResult struct {
	Imported []uuid.UUID     `json:"imported"`
	Skipped  []uuid.UUID     `json:"skipped,omitempty"`
	Failed   []ImportFailure `json:"failed"`
}

// ImportFailure names the row that failed and why.
type ImportFailure struct {
	Index   int            `json:"index"`
	ID      string         `json:"id,omitempty"`
	Code    pkgerrors.Code `json:"code"`
	Message string         `json:"message"`
	Details any            `json:"details,omitempty"`
}

type service struct {
	tx       txRunner
	repo     Store
	resolver locationResolver
	blobs    blobStore
	alerts   security.Reporter
	logg     *logger.Logger
	cfg      ServiceConfig
}

// NewService wires the listing service.
func NewService(tx txRunner, repo Store, resolver locationResolver, blobs blobStore, alerts security.Reporter, logg *logger.Logger, cfg ServiceConfig) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("listing repository required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("location resolver required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob store required")
	}
	if alerts == nil {
		return nil, fmt.Errorf("security alert reporter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket required")
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 40
	}
	return &service{
		tx:       tx,
		repo:     repo,
		resolver: resolver,
		blobs:    blobs,
		alerts:   alerts,
		logg:     logg,
		cfg:      cfg,
	}, nil
}

func (s *service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.OperationTimeout)
}

// Create persists a new listing. The main row, features and commission are
// written in one transaction. Images and documents only arrive through the
// upload endpoints, so a form carrying either is rejected.
func (s *service) Create(ctx context.Context, ownerID uuid.UUID, form FormValues) (*Listing, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner identity missing")
	}
	if fields := clientMediaFields(form); len(fields) > 0 {
		return nil, pkgerrors.Validation("media must be uploaded", fields)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	form.ID = uuid.Nil
	prepared, err := s.prepareForm(ctx, form, true)
	if err != nil {
		return nil, err
	}
	row, err := ToStorage(prepared, ownerID, s.repo.Shape())
	if err != nil {
		return nil, err
	}

	var id uuid.UUID
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		id, err = s.repo.WithTx(tx).Insert(ctx, row)
		return err
	})
	if err != nil {
		return nil, s.writeError(err, "create listing")
	}

	ctx = s.logg.WithListingID(ctx, id.String())
	s.logg.Info(ctx, "listing created")
	return s.load(ctx, id)
}

// Update applies a partial form after confirming ownership. Images and
// documents may only be reordered or dropped; entries are matched by id
// against the stored set.
func (s *service) Update(ctx context.Context, id, ownerID uuid.UUID, patch Patch) (*Listing, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx = s.logg.WithListingID(ctx, id.String())

	if err := s.authorize(ctx, id, ownerID); err != nil {
		return nil, err
	}
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Commission != nil && current.Commission != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "commission already attached; use the commission endpoints")
	}

	if patch.Images != nil || patch.Documents != nil {
		kept, err := keepStoredMedia(current, patch.Images, patch.Documents)
		if err != nil {
			return nil, err
		}
		patch.Images, patch.Documents = kept.images, kept.documents
	}

	merged := patch.Apply(FormFromListing(current))
	merged.ID = id
	prepared, err := s.prepareForm(ctx, merged, patch.AddressChanged())
	if err != nil {
		return nil, err
	}
	row, err := ToStorage(prepared, ownerID, s.repo.Shape())
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).Update(ctx, id, row)
	})
	if err != nil {
		return nil, s.writeError(err, "update listing")
	}

	s.deleteBlobs(ctx, id, removedPaths(current, prepared))
	s.logg.Info(ctx, "listing updated")
	return s.load(ctx, id)
}

// Get returns the canonical listing.
func (s *service) Get(ctx context.Context, id uuid.UUID) (*Listing, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.load(s.logg.WithListingID(ctx, id.String()), id)
}

// GetForm returns the edit form of a listing to its owner.
func (s *service) GetForm(ctx context.Context, id, ownerID uuid.UUID) (*FormValues, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx = s.logg.WithListingID(ctx, id.String())

	if err := s.authorize(ctx, id, ownerID); err != nil {
		return nil, err
	}
	l, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	form := FormFromListing(l)
	return &form, nil
}

// List returns one page of listings, newest first. Rows that no longer
// reconcile are logged and left out of the page.
func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if params.MinPrice != nil && params.MaxPrice != nil && params.MinPrice.GreaterThan(*params.MaxPrice) {
		return nil, pkgerrors.Validation("invalid price range", map[string]string{"min_price": "must not exceed max_price"})
	}
	limit := pkgpagination.NormalizeLimit(params.Limit)
	query := listQuery{
		ownerID:      params.OwnerID,
		status:       params.Status,
		propertyType: params.PropertyType,
		listingType:  params.ListingType,
		minPrice:     params.MinPrice,
		maxPrice:     params.MaxPrice,
		limit:        pkgpagination.LimitWithBuffer(params.Limit),
	}
	if params.Near != nil {
		query.near = &nearQuery{cells: location.NearbyCells(params.Near.Lat, params.Near.Lng, nearPrecision)}
	}
	if params.Cursor != "" {
		cursor, err := pkgpagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.cursor = cursor
	}

	rows, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list listings")
	}

	nextCursor := ""
	rows, more := pkgpagination.Trim(rows, limit)
	if more {
		cursor, err := cursorFor(rows[len(rows)-1])
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build cursor")
		}
		nextCursor = pkgpagination.EncodeCursor(cursor)
	}

	items := make([]ListItem, 0, len(rows))
	for _, row := range rows {
		l, err := Reconcile(row)
		if err != nil {
			s.logMismatch(s.logg.WithListingID(ctx, row.ID()), err)
			continue
		}
		items = append(items, toListItem(l))
	}
	return &ListResult{Items: items, Cursor: nextCursor}, nil
}

func cursorFor(row StorageRow) (pkgpagination.Cursor, error) {
	created, err := optionalTime(row.Main["created_at"])
	if err != nil {
		return pkgpagination.Cursor{}, err
	}
	id, err := uuidValue(row.Main["id"])
	if err != nil {
		return pkgpagination.Cursor{}, err
	}
	cursor := pkgpagination.Cursor{ID: id}
	if created != nil {
		cursor.CreatedAt = *created
	}
	return cursor, nil
}

// Delete removes the listing and then its blobs. Blob failures are logged;
// the database delete stands.
func (s *service) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx = s.logg.WithListingID(ctx, id.String())

	if err := s.authorize(ctx, id, ownerID); err != nil {
		return err
	}

	var paths []string
	if l, err := s.load(ctx, id); err == nil {
		paths = blobPaths(l)
	} else if !pkgerrors.IsCode(err, pkgerrors.CodeSchema) {
		return err
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).Delete(ctx, id)
	})
	if err != nil {
		return s.writeError(err, "delete listing")
	}
	s.deleteBlobs(ctx, id, paths)
	s.logg.Info(ctx, "listing deleted")
	return nil
}

// AttachImage uploads the file and appends it to the listing. A failed
// database write deletes the uploaded object again.
func (s *service) AttachImage(ctx context.Context, id, ownerID uuid.UUID, upload ImageUpload) (*Image, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx = s.logg.WithListingID(ctx, id.String())

	if err := s.validateUpload(upload); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, id, ownerID); err != nil {
		return nil, err
	}
	l, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(l.Images) >= s.cfg.MaxImages {
		return nil, pkgerrors.Validation("image limit reached", map[string]string{"images": fmt.Sprintf("at most %d images", s.cfg.MaxImages)})
	}

	img := Image{
		ID:         uuid.New(),
		Width:      upload.Width,
		Height:     upload.Height,
		SizeBytes:  upload.SizeBytes,
		MimeType:   upload.ContentType,
		IsFeatured: upload.IsFeatured || len(l.Images) == 0,
	}
	objectPath := s.objectPath(id, "images", img.ID, upload.Filename)
	obj, err := s.blobs.Upload(ctx, s.cfg.Bucket, objectPath, upload.ContentType, upload.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upload image")
	}
	img.URL, img.Path = obj.URL, obj.Path

	images := append([]Image{}, l.Images...)
	if img.IsFeatured {
		for i := range images {
			images[i].IsFeatured = false
		}
	}
	images = reorderImages(append(images, img))

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).ReplaceImages(ctx, id, images)
	})
	if err != nil {
		if cleanupErr := s.blobs.Delete(ctx, s.cfg.Bucket, obj.Path); cleanupErr != nil {
			s.logg.Error(ctx, "failed to remove orphaned image upload", multierr.Combine(err, cleanupErr))
		}
		return nil, s.writeError(err, "attach image")
	}

	img.Order = len(images) - 1
	s.logg.Info(s.logg.WithField(ctx, "image_id", img.ID.String()), "listing image attached")
	return &img, nil
}

// DeleteImage removes one image and renumbers the rest.
func (s *service) DeleteImage(ctx context.Context, id, imageID, ownerID uuid.UUID) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx = s.logg.WithListingID(ctx, id.String())

	if err := s.authorize(ctx, id, ownerID); err != nil {
		return err
	}
	l, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	var removed *Image
	remaining := make([]Image, 0, len(l.Images))
	for i := range l.Images {
		if l.Images[i].ID == imageID {
			removed = &l.Images[i]
			continue
		}
		remaining = append(remaining, l.Images[i])
	}
	if removed == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "image not found")
	}
	if removed.IsFeatured && len(remaining) > 0 {
		remaining[0].IsFeatured = true
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).ReplaceImages(ctx, id, reorderImages(remaining))
	})
	if err != nil {
		return s.writeError(err, "delete image")
	}
	s.deleteBlobs(ctx, id, []string{removed.Path})
	return nil
}

// SetFeaturedImage makes imageID the only featured image.
func (s *service) SetFeaturedImage(ctx context.Context, id, imageID, ownerID uuid.UUID) (*Listing, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx = s.logg.WithListingID(ctx, id.String())

	if err := s.authorize(ctx, id, ownerID); err != nil {
		return nil, err
	}
	l, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	found := false
	images := append([]Image{}, l.Images...)
	for i := range images {
		images[i].IsFeatured = images[i].ID == imageID
		found = found || images[i].IsFeatured
	}
	if !found {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "image not found")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).ReplaceImages(ctx, id, images)
	})
	if err != nil {
		return nil, s.writeError(err, "set featured image")
	}
	return s.load(ctx, id)
}

// AttachDocument uploads the file and appends it to the listing's documents,
// deleting the object again when the database write fails.
func (s *service) AttachDocument(ctx context.Context, id, ownerID uuid.UUID, upload DocumentUpload) (*Document, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx = s.logg.WithListingID(ctx, id.String())

	if err := s.validateDocument(upload); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, id, ownerID); err != nil {
		return nil, err
	}
	l, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(upload.Name)
	if name == "" {
		name = path.Base(upload.Filename)
	}
	doc := Document{
		ID:         uuid.New(),
		Name:       name,
		Type:       upload.ContentType,
		SizeBytes:  upload.SizeBytes,
		UploadedAt: time.Now().UTC().Truncate(time.Second),
	}
	obj, err := s.blobs.Upload(ctx, s.cfg.Bucket, s.objectPath(id, "documents", doc.ID, upload.Filename), upload.ContentType, upload.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upload document")
	}
	doc.URL, doc.Path = obj.URL, obj.Path

	docs := reorderDocuments(append(append([]Document{}, l.Documents...), doc))
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).ReplaceDocuments(ctx, id, docs)
	})
	if err != nil {
		if cleanupErr := s.blobs.Delete(ctx, s.cfg.Bucket, obj.Path); cleanupErr != nil {
			s.logg.Error(ctx, "failed to remove orphaned document upload", multierr.Combine(err, cleanupErr))
		}
		return nil, s.writeError(err, "attach document")
	}

	doc.Order = len(docs) - 1
	s.logg.Info(s.logg.WithField(ctx, "document_id", doc.ID.String()), "listing document attached")
	return &doc, nil
}

// DeleteDocument removes one document and renumbers the rest.
func (s *service) DeleteDocument(ctx context.Context, id, documentID, ownerID uuid.UUID) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx = s.logg.WithListingID(ctx, id.String())

	if err := s.authorize(ctx, id, ownerID); err != nil {
		return err
	}
	l, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	var removed *Document
	remaining := make([]Document, 0, len(l.Documents))
	for i := range l.Documents {
		if l.Documents[i].ID == documentID {
			removed = &l.Documents[i]
			continue
		}
		remaining = append(remaining, l.Documents[i])
	}
	if removed == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "document not found")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).ReplaceDocuments(ctx, id, reorderDocuments(remaining))
	})
	if err != nil {
		return s.writeError(err, "delete document")
	}
	s.deleteBlobs(ctx, id, []string{removed.Path})
	return nil
}

// Import validates raw rows of a legacy shape and stores them in the write
// shape under ownerID. Each row commits on its own.
func (s *service) Import(ctx context.Context, ownerID uuid.UUID, shape Shape, rows [][]byte) (*ImportResult, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner identity missing")
	}
	if len(rows) == 0 {
		return nil, pkgerrors.Validation("nothing to import", map[string]string{"rows": "is required"})
	}

	result := &ImportResult{Imported: []uuid.UUID{}, Failed: []ImportFailure{}}
	for i, raw := range rows {
		obj, err := ValidateRawRow(shape, raw)
		if err != nil {
			result.fail(i, "", err)
			continue
		}
		row := StorageRowFromImport(shape, obj)
		id, err := s.rewrite(ctx, row, ownerID)
		if err != nil {
			result.fail(i, row.ID(), err)
			continue
		}
		result.Imported = append(result.Imported, id)
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"shape":    string(shape),
		"imported": len(result.Imported),
		"failed":   len(result.Failed),
	}), "listing import finished")
	return result, nil
}

// MigrateShape copies every listing stored in another shape into the write
// shape, keeping ids, owners and creation times. Listings already present in
// the write shape are skipped, so reruns are safe.
func (s *service) MigrateShape(ctx context.Context, from Shape, batchSize int) (*ImportResult, error) {
	if from == s.repo.Shape() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "source and target shapes are the same")
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	result := &ImportResult{Imported: []uuid.UUID{}, Failed: []ImportFailure{}}
	var after *uuid.UUID
	index := 0
	for {
		ids, err := s.repo.ListIDs(ctx, from, after, batchSize)
		if err != nil {
			return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list source listings")
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			exists, err := s.exists(ctx, id)
			if err != nil {
				return result, err
			}
			if exists {
				result.Skipped = append(result.Skipped, id)
				index++
				continue
			}
			row, err := s.repo.LoadFrom(ctx, from, id)
			if err != nil {
				result.fail(index, id.String(), pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load source listing"))
				index++
				continue
			}
			if _, err := s.rewrite(ctx, row, uuid.Nil); err != nil {
				result.fail(index, id.String(), err)
			} else {
				result.Imported = append(result.Imported, id)
			}
			index++
		}
		if len(ids) < batchSize {
			break
		}
		last := ids[len(ids)-1]
		after = &last
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"from":     string(from),
		"to":       string(s.repo.Shape()),
		"imported": len(result.Imported),
		"skipped":  len(result.Skipped),
		"failed":   len(result.Failed),
	}), "listing shape migration finished")
	return result, nil
}

// rewrite reconciles a row of any shape and inserts it in the write shape.
// A nil ownerID keeps the row's own owner.
func (s *service) rewrite(ctx context.Context, row StorageRow, ownerID uuid.UUID) (uuid.UUID, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	l, err := Reconcile(row)
	if err != nil {
		s.logMismatch(ctx, err)
		return uuid.Nil, err
	}
	owner := l.UserID
	if ownerID != uuid.Nil {
		owner = ownerID
	}
	if owner == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "listing has no owner")
	}
	if l.ID != uuid.Nil {
		exists, err := s.exists(ctx, l.ID)
		if err != nil {
			return uuid.Nil, err
		}
		if exists {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeConflict, "listing already exists")
		}
	}

	target, err := ToStorage(FormFromListing(l), owner, s.repo.Shape())
	if err != nil {
		return uuid.Nil, err
	}
	if !l.CreatedAt.IsZero() {
		target.Main["created_at"] = l.CreatedAt
	}

	var id uuid.UUID
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		id, err = s.repo.WithTx(tx).Insert(ctx, target)
		return err
	})
	if err != nil {
		return uuid.Nil, s.writeError(err, "import listing")
	}
	return id, nil
}

func (s *service) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := s.repo.OwnerOf(ctx, id)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup listing")
}

func (r *ImportResult) fail(index int, id string, err error) {
	failure := ImportFailure{Index: index, ID: id, Code: pkgerrors.CodeInternal, Message: err.Error()}
	if typed := pkgerrors.As(err); typed != nil {
		failure.Code = typed.Code()
		failure.Message = typed.Message()
		failure.Details = typed.Details()
	}
	r.Failed = append(r.Failed, failure)
}

// prepareForm validates and normalizes the form, then geocodes the address
// when no coordinates were supplied. A geocoder outage is logged and the
// unresolved sentinel is kept.
func (s *service) prepareForm(ctx context.Context, form FormValues, resolve bool) (FormValues, error) {
	if err := form.Validate(); err != nil {
		return form, err
	}
	if !form.Address.IsEmpty() {
		addr, err := location.Normalize(location.RawAddress{
			StreetNumber: form.Address.StreetNumber,
			StreetName:   form.Address.StreetName,
			Unit:         form.Address.Unit,
			City:         form.Address.City,
			State:        form.Address.State,
			ZipCode:      form.Address.ZipCode,
			Country:      form.Address.Country,
		})
		if err != nil {
			return form, err
		}
		form.Address = addr
	}
	if !resolve || form.Latitude != 0 || form.Longitude != 0 || !form.Address.IsComplete() {
		return form, nil
	}

	loc, err := s.resolver.Resolve(ctx, form.Address)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "geocoding failed; saving unresolved location")
		return form, nil
	}
	form.Latitude, form.Longitude = loc.Lat, loc.Lng
	return form, nil
}

// authorize confirms the caller owns the listing before any write. A
// mismatch reports a security alert.
func (s *service) authorize(ctx context.Context, id, ownerID uuid.UUID) error {
	if ownerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "owner identity missing")
	}
	owner, err := s.repo.OwnerOf(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup listing owner")
	}
	if owner != ownerID {
		s.alerts.Report(ctx, security.Alert{
			Kind:       security.AlertOwnershipViolation,
			UserID:     ownerID,
			ResourceID: id,
			Detail:     "listing write by non-owner",
		})
		return pkgerrors.New(pkgerrors.CodeForbidden, "listing belongs to another user")
	}
	return nil
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*Listing, error) {
	row, err := s.repo.Load(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load listing")
	}
	l, err := Reconcile(row)
	if err != nil {
		s.logMismatch(ctx, err)
		return nil, err
	}
	return l, nil
}

func (s *service) logMismatch(ctx context.Context, err error) {
	if typed := pkgerrors.As(err); typed != nil {
		if details, ok := typed.Details().(map[string]string); ok {
			fields := make(map[string]any, len(details))
			for k, v := range details {
				fields["column."+k] = v
			}
			ctx = s.logg.WithFields(ctx, fields)
		}
	}
	s.logg.Error(ctx, "listing schema mismatch", err)
}

func (s *service) writeError(err error, action string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	if IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
	}
	if db.IsUniqueViolation(err, "") {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "listing slug or id already in use")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}

func (s *service) validateUpload(upload ImageUpload) error {
	fields := map[string]string{}
	if upload.Body == nil {
		fields["file"] = "is required"
	}
	if !strings.HasPrefix(strings.ToLower(upload.ContentType), "image/") {
		fields["content_type"] = "must be an image"
	}
	if s.cfg.MaxUploadBytes > 0 && upload.SizeBytes > s.cfg.MaxUploadBytes {
		fields["file"] = fmt.Sprintf("must be at most %d bytes", s.cfg.MaxUploadBytes)
	}
	if len(fields) > 0 {
		return pkgerrors.Validation("invalid image upload", fields)
	}
	return nil
}

func (s *service) validateDocument(upload DocumentUpload) error {
	fields := map[string]string{}
	if upload.Body == nil {
		fields["file"] = "is required"
	}
	if !documentTypes[strings.ToLower(upload.ContentType)] {
		fields["content_type"] = "must be a pdf, jpeg, png or plain text file"
	}
	if s.cfg.MaxUploadBytes > 0 && upload.SizeBytes > s.cfg.MaxUploadBytes {
		fields["file"] = fmt.Sprintf("must be at most %d bytes", s.cfg.MaxUploadBytes)
	}
	if len(fields) > 0 {
		return pkgerrors.Validation("invalid document upload", fields)
	}
	return nil
}

func (s *service) objectPath(listingID uuid.UUID, kind string, objectID uuid.UUID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return path.Join(s.cfg.ObjectPrefix, listingID.String(), kind, objectID.String()+ext)
}

// ownsObject reports whether p lives under the listing's own object prefix.
func (s *service) ownsObject(listingID uuid.UUID, p string) bool {
	prefix := path.Join(s.cfg.ObjectPrefix, listingID.String()) + "/"
	clean := path.Clean(p)
	return strings.HasPrefix(clean, prefix) && clean == p
}

// deleteBlobs removes objects owned by the listing. Paths outside the
// listing's prefix are never deleted.
func (s *service) deleteBlobs(ctx context.Context, listingID uuid.UUID, paths []string) {
	var errs error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if !s.ownsObject(listingID, p) {
			s.logg.Warn(s.logg.WithField(ctx, "blob_path", p), "skipping blob outside listing prefix")
			continue
		}
		errs = multierr.Append(errs, s.blobs.Delete(ctx, s.cfg.Bucket, p))
	}
	if errs != nil {
		s.logg.Error(s.logg.WithField(ctx, "blob_count", len(paths)), "failed to delete listing blobs", errs)
	}
}

func clientMediaFields(form FormValues) map[string]string {
	fields := map[string]string{}
	if len(form.Images) > 0 {
		fields["images"] = "added through image uploads"
	}
	if len(form.Documents) > 0 {
		fields["documents"] = "added through document uploads"
	}
	return fields
}

type storedMedia struct {
	images    *[]Image
	documents *[]Document
}

// keepStoredMedia resolves client image and document entries to the stored
// ones with the same id, in the client's order. The featured flag, image
// metadata and document names are taken from the client. Urls, paths and
// sizes always come from storage.
func keepStoredMedia(current *Listing, images *[]Image, docs *[]Document) (storedMedia, error) {
	fields := map[string]string{}
	var out storedMedia

	if images != nil {
		stored := make(map[uuid.UUID]Image, len(current.Images))
		for _, img := range current.Images {
			stored[img.ID] = img
		}
		seen := map[uuid.UUID]bool{}
		kept := make([]Image, 0, len(*images))
		featured := -1
		for i, in := range *images {
			img, ok := stored[in.ID]
			switch {
			case !ok:
				fields[fmt.Sprintf("images[%d].id", i)] = "unknown image"
				continue
			case seen[in.ID]:
				fields[fmt.Sprintf("images[%d].id", i)] = "duplicate image"
				continue
			}
			seen[in.ID] = true
			img.IsFeatured = false
			if in.MetaData != nil {
				img.MetaData = in.MetaData
			}
			if in.IsFeatured && featured < 0 {
				featured = len(kept)
			}
			kept = append(kept, img)
		}
		if featured < 0 {
			for i, img := range kept {
				if stored[img.ID].IsFeatured {
					featured = i
					break
				}
			}
		}
		if featured < 0 && len(kept) > 0 {
			featured = 0
		}
		if featured >= 0 {
			kept[featured].IsFeatured = true
		}
		out.images = &kept
	}

	if docs != nil {
		stored := make(map[uuid.UUID]Document, len(current.Documents))
		for _, doc := range current.Documents {
			stored[doc.ID] = doc
		}
		seen := map[uuid.UUID]bool{}
		kept := make([]Document, 0, len(*docs))
		for i, in := range *docs {
			doc, ok := stored[in.ID]
			switch {
			case !ok:
				fields[fmt.Sprintf("documents[%d].id", i)] = "unknown document"
				continue
			case seen[in.ID]:
				fields[fmt.Sprintf("documents[%d].id", i)] = "duplicate document"
				continue
			}
			seen[in.ID] = true
			if name := strings.TrimSpace(in.Name); name != "" {
				doc.Name = name
			}
			kept = append(kept, doc)
		}
		out.documents = &kept
	}

	if len(fields) > 0 {
		return storedMedia{}, pkgerrors.Validation("media entries must reference stored uploads", fields)
	}
	return out, nil
}

func blobPaths(l *Listing) []string {
	paths := make([]string, 0, len(l.Images)+len(l.Documents))
	for _, img := range l.Images {
		paths = append(paths, img.Path)
	}
	for _, doc := range l.Documents {
		paths = append(paths, doc.Path)
	}
	return paths
}

// removedPaths lists blobs referenced by the old listing but not the new form.
func removedPaths(old *Listing, form FormValues) []string {
	kept := map[string]bool{}
	for _, img := range form.Images {
		kept[img.Path] = true
	}
	for _, doc := range form.Documents {
		kept[doc.Path] = true
	}
	var out []string
	for _, p := range blobPaths(old) {
		if p != "" && !kept[p] {
			out = append(out, p)
		}
	}
	return out
}
