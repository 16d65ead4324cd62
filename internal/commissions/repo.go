package commissions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/keystonerealty/keystone-backend/pkg/db/models"
	"gorm.io/gorm"
)

// Repository exposes commission persistence operations.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository constructs a commission repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

// Create inserts a commission row, stamping server timestamps.
func (r *Repository) Create(ctx context.Context, commission *models.Commission) (*models.Commission, error) {
	if commission.ID == uuid.Nil {
		commission.ID = uuid.New()
	}
	now := r.timestamp()
	commission.CreatedAt = now
	commission.UpdatedAt = now
	if err := r.db.WithContext(ctx).Create(commission).Error; err != nil {
		return nil, err
	}
	return commission, nil
}

// FindByID loads a commission by primary key.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Commission, error) {
	var commission models.Commission
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&commission).Error; err != nil {
		return nil, err
	}
	return &commission, nil
}

// FindByListing loads the commission attached to a listing.
func (r *Repository) FindByListing(ctx context.Context, listingID uuid.UUID) (*models.Commission, error) {
	var commission models.Commission
	if err := r.db.WithContext(ctx).Where("listing_id = ?", listingID).Take(&commission).Error; err != nil {
		return nil, err
	}
	return &commission, nil
}

// Update writes the given columns and bumps updated_at. When unlockedOnly is
// set the write only applies while the row is unlocked; the boolean reports
// whether a row was changed.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, values map[string]any, unlockedOnly bool) (bool, error) {
	values["updated_at"] = r.timestamp()
	query := r.db.WithContext(ctx).Model(&models.Commission{}).Where("id = ?", id)
	if unlockedOnly {
		query = query.Where("locked_at IS NULL")
	}
	res := query.Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Sign records the signature once; a second signature changes nothing.
func (r *Repository) Sign(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	now := r.timestamp()
	res := r.db.WithContext(ctx).Model(&models.Commission{}).
		Where("id = ? AND signed_at IS NULL", id).
		Updates(map[string]any{"signed_at": now, "signed_by": userID, "updated_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Lock freezes the terms once; locking again changes nothing.
func (r *Repository) Lock(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	now := r.timestamp()
	res := r.db.WithContext(ctx).Model(&models.Commission{}).
		Where("id = ? AND locked_at IS NULL", id).
		Updates(map[string]any{"locked_at": now, "locked_by": userID, "updated_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
