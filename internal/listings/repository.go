package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmcloughlin/geohash"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the persistence surface the service depends on.
type Store interface {
	WithTx(tx *gorm.DB) Store
	Shape() Shape
	Insert(ctx context.Context, row StorageRow) (uuid.UUID, error)
	Load(ctx context.Context, id uuid.UUID) (StorageRow, error)
	LoadFrom(ctx context.Context, shape Shape, id uuid.UUID) (StorageRow, error)
	Update(ctx context.Context, id uuid.UUID, row StorageRow) error
	ReplaceImages(ctx context.Context, id uuid.UUID, images []Image) error
	ReplaceDocuments(ctx context.Context, id uuid.UUID, docs []Document) error
	Touch(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	OwnerOf(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
	List(ctx context.Context, q listQuery) ([]StorageRow, error)
	ListIDs(ctx context.Context, shape Shape, after *uuid.UUID, limit int) ([]uuid.UUID, error)
}

// Repository reads and writes listings through gorm's table API, so one
// implementation serves every shape.
type Repository struct {
	db    *gorm.DB
	shape Shape
	now   func() time.Time
}

// NewRepository binds a repository to the shape new rows are written in.
func NewRepository(db *gorm.DB, shape Shape) *Repository {
	return &Repository{db: db, shape: shape, now: time.Now}
}

// WithTx returns a repository that runs on the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) Store {
	if tx == nil {
		return r
	}
	return &Repository{db: tx, shape: r.shape, now: r.now}
}

// Shape reports the write shape.
func (r *Repository) Shape() Shape {
	return r.shape
}

func (r *Repository) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

// Insert writes the main row and every side row of a listing. Callers wrap
// it in a transaction so a failed child insert leaves nothing behind.
func (r *Repository) Insert(ctx context.Context, row StorageRow) (uuid.UUID, error) {
	tables := TablesFor(row.Shape)
	now := r.timestamp()

	main := row.Main.clone()
	id, err := uuidValue(main["id"])
	if err != nil {
		return uuid.Nil, fmt.Errorf("listing id: %w", err)
	}
	if id == uuid.Nil {
		id = uuid.New()
	}
	main["id"] = id
	if _, ok := main["created_at"]; !ok {
		main["created_at"] = now
	}
	main["updated_at"] = now

	db := r.db.WithContext(ctx)
	if err := db.Table(tables.Main).Create(map[string]any(main)).Error; err != nil {
		return uuid.Nil, fmt.Errorf("insert %s: %w", tables.Main, err)
	}
	if tables.Features != "" && row.Features != nil {
		if err := r.upsertFeatures(ctx, tables.Features, id, row.Features); err != nil {
			return uuid.Nil, err
		}
	}
	if tables.HasChildTables() {
		if err := r.insertChildren(ctx, tables.Images, id, row.Images); err != nil {
			return uuid.Nil, err
		}
		if err := r.insertChildren(ctx, tables.Documents, id, row.Documents); err != nil {
			return uuid.Nil, err
		}
	}
	if row.Commission != nil {
		if err := r.insertCommission(ctx, id, row.Commission); err != nil {
			return uuid.Nil, err
		}
	}
	return id, nil
}

// Load reads a listing in the repository's write shape.
func (r *Repository) Load(ctx context.Context, id uuid.UUID) (StorageRow, error) {
	return r.LoadFrom(ctx, r.shape, id)
}

// LoadFrom reads a listing from the tables of any shape: main row, features
// row, children ordered by position, and the commission row. Returns
// gorm.ErrRecordNotFound when the main row is absent.
func (r *Repository) LoadFrom(ctx context.Context, shape Shape, id uuid.UUID) (StorageRow, error) {
	tables := TablesFor(shape)
	db := r.db.WithContext(ctx)

	main := map[string]any{}
	if err := db.Table(tables.Main).Where("id = ?", id).Take(&main).Error; err != nil {
		return StorageRow{}, err
	}
	row := StorageRow{Shape: shape, Main: scannedRow(main)}
	rows := []StorageRow{row}
	if err := r.attachChildren(ctx, tables, rows); err != nil {
		return StorageRow{}, err
	}
	return rows[0], nil
}

// Update rewrites the main row, upserts features and replaces every child
// row. Ownership and creation columns are never touched.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, row StorageRow) error {
	tables := TablesFor(row.Shape)
	main := row.Main.clone()
	for _, col := range []string{"id", "user_id", "created_at"} {
		delete(main, col)
	}
	main["updated_at"] = r.timestamp()

	res := r.db.WithContext(ctx).Table(tables.Main).Where("id = ?", id).Updates(map[string]any(main))
	if res.Error != nil {
		return fmt.Errorf("update %s: %w", tables.Main, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	if tables.Features != "" && row.Features != nil {
		if err := r.upsertFeatures(ctx, tables.Features, id, row.Features); err != nil {
			return err
		}
	}
	if tables.HasChildTables() {
		if err := r.replaceChildren(ctx, tables.Images, id, row.Images); err != nil {
			return err
		}
		if err := r.replaceChildren(ctx, tables.Documents, id, row.Documents); err != nil {
			return err
		}
	}
	if row.Commission != nil {
		var count int64
		if err := r.db.WithContext(ctx).Table(CommissionsTable).Where("listing_id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("count commissions: %w", err)
		}
		if count == 0 {
			return r.insertCommission(ctx, id, row.Commission)
		}
	}
	return nil
}

// ReplaceImages swaps the image set of a listing for the given, already
// ordered, images and bumps updated_at.
func (r *Repository) ReplaceImages(ctx context.Context, id uuid.UUID, images []Image) error {
	tables := TablesFor(r.shape)
	if !tables.HasChildTables() {
		encoded, err := jsonText(images, "[]")
		if err != nil {
			return err
		}
		return r.updateMain(ctx, tables.Main, id, map[string]any{"images": encoded, "updated_at": r.timestamp()})
	}
	rows, err := imageRows(images)
	if err != nil {
		return err
	}
	if err := r.replaceChildren(ctx, tables.Images, id, rows); err != nil {
		return err
	}
	return r.Touch(ctx, id)
}

// ReplaceDocuments is ReplaceImages for the document set.
func (r *Repository) ReplaceDocuments(ctx context.Context, id uuid.UUID, docs []Document) error {
	tables := TablesFor(r.shape)
	if !tables.HasChildTables() {
		encoded, err := jsonText(docs, "[]")
		if err != nil {
			return err
		}
		return r.updateMain(ctx, tables.Main, id, map[string]any{"documents": encoded, "updated_at": r.timestamp()})
	}
	if err := r.replaceChildren(ctx, tables.Documents, id, documentRows(docs)); err != nil {
		return err
	}
	return r.Touch(ctx, id)
}

// Touch bumps updated_at on the main row.
func (r *Repository) Touch(ctx context.Context, id uuid.UUID) error {
	return r.updateMain(ctx, TablesFor(r.shape).Main, id, map[string]any{"updated_at": r.timestamp()})
}

func (r *Repository) updateMain(ctx context.Context, table string, id uuid.UUID, values map[string]any) error {
	res := r.db.WithContext(ctx).Table(table).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return fmt.Errorf("update %s: %w", table, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes the commission, children and main row.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tables := TablesFor(r.shape)
	db := r.db.WithContext(ctx)
	if err := db.Table(CommissionsTable).Where("listing_id = ?", id).Delete(map[string]any{}).Error; err != nil {
		return fmt.Errorf("delete commission: %w", err)
	}
	for _, table := range []string{tables.Features, tables.Images, tables.Documents} {
		if table == "" {
			continue
		}
		if err := db.Table(table).Where("listing_id = ?", id).Delete(map[string]any{}).Error; err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	res := db.Table(tables.Main).Where("id = ?", id).Delete(map[string]any{})
	if res.Error != nil {
		return fmt.Errorf("delete %s: %w", tables.Main, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// OwnerOf returns the owning user id without loading children.
func (r *Repository) OwnerOf(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	row := map[string]any{}
	err := r.db.WithContext(ctx).Table(TablesFor(r.shape).Main).Select("user_id").Where("id = ?", id).Take(&row).Error
	if err != nil {
		return uuid.Nil, err
	}
	return uuidValue(plainValue(row["user_id"]))
}

// List returns newest-first listings matching the query, one row more than
// the page size when another page exists.
func (r *Repository) List(ctx context.Context, q listQuery) ([]StorageRow, error) {
	tables := TablesFor(r.shape)
	query := r.db.WithContext(ctx).Table(tables.Main)

	if q.ownerID != nil {
		query = query.Where("user_id = ?", *q.ownerID)
	}
	if q.status != "" {
		query = query.Where("status = ?", string(q.status))
	}
	if q.propertyType != "" {
		query = query.Where("property_type = ?", string(q.propertyType))
	}
	if q.listingType != "" {
		query = query.Where("listing_type = ?", string(q.listingType))
	}
	if q.minPrice != nil {
		query = query.Where("CAST(price AS NUMERIC) >= ?", q.minPrice.InexactFloat64())
	}
	if q.maxPrice != nil {
		query = query.Where("CAST(price AS NUMERIC) <= ?", q.maxPrice.InexactFloat64())
	}
	if q.near != nil {
		query = r.nearFilter(query, *q.near)
	}
	if q.cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", q.cursor.CreatedAt, q.cursor.CreatedAt, q.cursor.ID)
	}
	query = query.Order("created_at DESC").Order("id DESC").Limit(q.limit)

	var mains []map[string]any
	if err := query.Find(&mains).Error; err != nil {
		return nil, err
	}
	rows := make([]StorageRow, len(mains))
	for i, m := range mains {
		rows[i] = StorageRow{Shape: r.shape, Main: scannedRow(m)}
	}
	if err := r.attachChildren(ctx, tables, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// nearFilter matches geohash prefixes in the geo shape and falls back to the
// cells' bounding box on shapes that only keep latitude/longitude.
func (r *Repository) nearFilter(query *gorm.DB, near nearQuery) *gorm.DB {
	if r.shape == ShapeGeo {
		clauses := make([]string, 0, len(near.cells))
		args := make([]any, 0, len(near.cells))
		for _, cell := range near.cells {
			clauses = append(clauses, "geohash LIKE ?")
			args = append(args, cell+"%")
		}
		return query.Where("("+strings.Join(clauses, " OR ")+")", args...)
	}
	minLat, maxLat, minLng, maxLng := 90.0, -90.0, 180.0, -180.0
	for _, cell := range near.cells {
		box := geohash.BoundingBox(cell)
		minLat, maxLat = minFloat(minLat, box.MinLat), maxFloat(maxLat, box.MaxLat)
		minLng, maxLng = minFloat(minLng, box.MinLng), maxFloat(maxLng, box.MaxLng)
	}
	return query.
		Where("CAST(latitude AS NUMERIC) BETWEEN ? AND ?", minLat, maxLat).
		Where("CAST(longitude AS NUMERIC) BETWEEN ? AND ?", minLng, maxLng)
}

// ListIDs pages through every listing id of a shape in id order, for bulk
// migration between shapes.
func (r *Repository) ListIDs(ctx context.Context, shape Shape, after *uuid.UUID, limit int) ([]uuid.UUID, error) {
	query := r.db.WithContext(ctx).Table(TablesFor(shape).Main).Select("id").Order("id ASC").Limit(limit)
	if after != nil {
		query = query.Where("id > ?", *after)
	}
	var found []map[string]any
	if err := query.Find(&found).Error; err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(found))
	for _, m := range found {
		id, err := uuidValue(plainValue(m["id"]))
		if err != nil {
			return nil, fmt.Errorf("listing id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// attachChildren loads side rows for a page of main rows with one query per
// table.
func (r *Repository) attachChildren(ctx context.Context, tables Tables, rows []StorageRow) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]string, len(rows))
	index := make(map[string]int, len(rows))
	for i, row := range rows {
		ids[i] = row.ID()
		index[ids[i]] = i
	}
	db := r.db.WithContext(ctx)

	if tables.Features != "" {
		var found []map[string]any
		if err := db.Table(tables.Features).Where("listing_id IN ?", ids).Find(&found).Error; err != nil {
			return fmt.Errorf("load %s: %w", tables.Features, err)
		}
		for i := range rows {
			rows[i].Features = RawRow{}
		}
		for _, m := range found {
			if i, ok := index[listingKey(m)]; ok {
				rows[i].Features = scannedRow(m)
			}
		}
	}
	if tables.HasChildTables() {
		images, err := r.loadChildren(ctx, tables.Images, ids, index)
		if err != nil {
			return err
		}
		documents, err := r.loadChildren(ctx, tables.Documents, ids, index)
		if err != nil {
			return err
		}
		for i := range rows {
			rows[i].Images = images[i]
			rows[i].Documents = documents[i]
		}
	}

	var commissions []map[string]any
	if err := db.Table(CommissionsTable).Where("listing_id IN ?", ids).Find(&commissions).Error; err != nil {
		return fmt.Errorf("load commissions: %w", err)
	}
	for _, m := range commissions {
		if i, ok := index[listingKey(m)]; ok {
			rows[i].Commission = scannedRow(m)
		}
	}
	return nil
}

func (r *Repository) loadChildren(ctx context.Context, table string, ids []string, index map[string]int) (map[int][]RawRow, error) {
	var found []map[string]any
	if err := r.db.WithContext(ctx).Table(table).Where("listing_id IN ?", ids).Order("position ASC").Find(&found).Error; err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	out := make(map[int][]RawRow, len(index))
	for i := range ids {
		out[i] = []RawRow{}
	}
	for _, m := range found {
		if i, ok := index[listingKey(m)]; ok {
			out[i] = append(out[i], scannedRow(m))
		}
	}
	return out, nil
}

func (r *Repository) upsertFeatures(ctx context.Context, table string, id uuid.UUID, features RawRow) error {
	values := map[string]any{
		"listing_id": id,
		"features":   features["features"],
		"amenities":  features["amenities"],
		"updated_at": r.timestamp(),
	}
	err := r.db.WithContext(ctx).Table(table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "listing_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"features", "amenities", "updated_at"}),
	}).Create(values).Error
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

func (r *Repository) insertChildren(ctx context.Context, table string, id uuid.UUID, rows []RawRow) error {
	if len(rows) == 0 {
		return nil
	}
	now := r.timestamp()
	values := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		child := row.clone()
		child["listing_id"] = id
		child["created_at"] = now
		values = append(values, map[string]any(child))
	}
	if err := r.db.WithContext(ctx).Table(table).Create(values).Error; err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// replaceChildren deletes and re-inserts the full set; a reorder is a full
// rewrite.
func (r *Repository) replaceChildren(ctx context.Context, table string, id uuid.UUID, rows []RawRow) error {
	if err := r.db.WithContext(ctx).Table(table).Where("listing_id = ?", id).Delete(map[string]any{}).Error; err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	return r.insertChildren(ctx, table, id, rows)
}

func (r *Repository) insertCommission(ctx context.Context, listingID uuid.UUID, row RawRow) error {
	values := row.clone()
	if id, _ := uuidValue(values["id"]); id == uuid.Nil {
		values["id"] = uuid.New()
	}
	now := r.timestamp()
	values["listing_id"] = listingID
	values["created_at"] = now
	values["updated_at"] = now
	if err := r.db.WithContext(ctx).Table(CommissionsTable).Create(map[string]any(values)).Error; err != nil {
		return fmt.Errorf("insert commission: %w", err)
	}
	return nil
}

func listingKey(m map[string]any) string {
	id, err := uuidValue(plainValue(m["listing_id"]))
	if err != nil {
		return ""
	}
	return id.String()
}

// IsNotFound reports whether a repository error means the listing is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
