package commissions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	listing "github.com/keystonerealty/keystone-backend/internal/listings"
	"github.com/keystonerealty/keystone-backend/internal/security"
	"github.com/keystonerealty/keystone-backend/pkg/db"
	"github.com/keystonerealty/keystone-backend/pkg/db/models"
	"github.com/keystonerealty/keystone-backend/pkg/enums"
	pkgerrors "github.com/keystonerealty/keystone-backend/pkg/errors"
	"github.com/keystonerealty/keystone-backend/pkg/logger"
	"github.com/keystonerealty/keystone-backend/pkg/visibility"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var maxPercentage = decimal.NewFromInt(100)

type listingReader interface {
	Get(ctx context.Context, id uuid.UUID) (*listing.Listing, error)
}

type commissionsRepository interface {
	Create(ctx context.Context, commission *models.Commission) (*models.Commission, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Commission, error)
	FindByListing(ctx context.Context, listingID uuid.UUID) (*models.Commission, error)
	Update(ctx context.Context, id uuid.UUID, values map[string]any, unlockedOnly bool) (bool, error)
	Sign(ctx context.Context, id, userID uuid.UUID) (bool, error)
	Lock(ctx context.Context, id, userID uuid.UUID) (bool, error)
}

// Viewer identifies the caller reading or signing a commission.
type Viewer = visibility.Viewer

// AttachInput carries the terms of a new commission.
type AttachInput struct {
	Amount          decimal.Decimal
	Type            enums.CommissionType
	SplitPercentage *float64
	Terms           string
	Visibility      enums.CommissionVisibility
}

// UpdateTermsInput is a partial terms update; nil fields are kept.
type UpdateTermsInput struct {
	Amount          *decimal.Decimal
	Type            *enums.CommissionType
	SplitPercentage *float64
	Terms           *string
	Status          *enums.CommissionStatus
}

// Service manages the commission attached to a listing independently of the
// listing body.
type Service interface {
	Attach(ctx context.Context, listingID, ownerID uuid.UUID, input AttachInput) (*models.Commission, error)
	Get(ctx context.Context, listingID uuid.UUID, viewer Viewer) (*models.Commission, error)
	SetVisibility(ctx context.Context, commissionID, ownerID uuid.UUID, visibility enums.CommissionVisibility) (*models.Commission, error)
	Sign(ctx context.Context, commissionID uuid.UUID, signer Viewer) (*models.Commission, error)
	Lock(ctx context.Context, commissionID, ownerID uuid.UUID) (*models.Commission, error)
	UpdateTerms(ctx context.Context, commissionID, ownerID uuid.UUID, input UpdateTermsInput) (*models.Commission, error)
}

type service struct {
	repo     commissionsRepository
	listings listingReader
	alerts   security.Reporter
	logg     *logger.Logger
}

// NewService builds the commission service.
func NewService(repo commissionsRepository, listings listingReader, alerts security.Reporter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("commission repository required")
	}
	if listings == nil {
		return nil, fmt.Errorf("listing reader required")
	}
	if alerts == nil {
		return nil, fmt.Errorf("security alert reporter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, listings: listings, alerts: alerts, logg: logg}, nil
}

func (s *service) Attach(ctx context.Context, listingID, ownerID uuid.UUID, input AttachInput) (*models.Commission, error) {
	ctx = s.logg.WithListingID(ctx, listingID.String())
	l, err := s.ownedListing(ctx, listingID, ownerID)
	if err != nil {
		return nil, err
	}
	if l.Commission != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "listing already has a commission")
	}

	visibility := input.Visibility
	if visibility == "" {
		visibility = enums.CommissionVisibilityPrivate
	}
	if err := validateTerms(input.Amount, input.Type, input.SplitPercentage, l.Price); err != nil {
		return nil, err
	}
	if !visibility.IsValid() {
		return nil, pkgerrors.Validation("invalid commission", map[string]string{"visibility": "must be private, public or verified_only"})
	}

	created, err := s.repo.Create(ctx, &models.Commission{
		ListingID:       listingID,
		Amount:          input.Amount,
		Type:            input.Type,
		SplitPercentage: input.SplitPercentage,
		Terms:           strings.TrimSpace(input.Terms),
		Visibility:      visibility,
		Status:          enums.CommissionStatusDraft,
	})
	if err != nil {
		if db.IsUniqueViolation(err, "ux_commissions_listing") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "listing already has a commission")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create commission")
	}
	s.logg.Info(s.logg.WithCommissionID(ctx, created.ID.String()), "commission attached")
	return created, nil
}

// Get returns the listing's commission when the viewer may see it. Hidden
// commissions and commissions of another owner's draft are reported as
// missing. Terms still stored inline on a legacy wide row are copied into the
// commissions table when the owner reads them; other viewers get the inline
// terms without an id.
func (s *service) Get(ctx context.Context, listingID uuid.UUID, viewer Viewer) (*models.Commission, error) {
	ctx = s.logg.WithListingID(ctx, listingID.String())
	l, err := s.listings.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if err := visibility.EnsureListingVisible(l.Status, l.UserID, viewer); err != nil {
		return nil, err
	}

	commission, err := s.repo.FindByListing(ctx, listingID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if l.Commission == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "commission not found")
		}
		if !viewer.IsOwner(l.UserID) {
			commission = inlineCommission(l)
			break
		}
		commission, err = s.adopt(ctx, l)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission")
	}

	if !canView(commission, l.UserID, viewer) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "commission not found")
	}
	return commission, nil
}

func inlineCommission(l *listing.Listing) *models.Commission {
	terms := l.Commission
	return &models.Commission{
		ListingID:       l.ID,
		Amount:          terms.Amount,
		Type:            terms.Type,
		SplitPercentage: terms.SplitPercentage,
		Terms:           terms.Terms,
		Visibility:      terms.Visibility,
		Status:          terms.Status,
	}
}

func (s *service) adopt(ctx context.Context, l *listing.Listing) (*models.Commission, error) {
	created, err := s.repo.Create(ctx, inlineCommission(l))
	if err == nil {
		s.logg.Info(s.logg.WithCommissionID(ctx, created.ID.String()), "inline commission moved to commissions table")
		return created, nil
	}
	if db.IsUniqueViolation(err, "ux_commissions_listing") {
		existing, findErr := s.repo.FindByListing(ctx, l.ID)
		if findErr == nil {
			return existing, nil
		}
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store inline commission")
}

// SetVisibility changes who may read the commission. Only the commission row
// is written; the listing is left untouched.
func (s *service) SetVisibility(ctx context.Context, commissionID, ownerID uuid.UUID, visibility enums.CommissionVisibility) (*models.Commission, error) {
	if !visibility.IsValid() {
		return nil, pkgerrors.Validation("invalid visibility", map[string]string{"visibility": "must be private, public or verified_only"})
	}
	commission, _, err := s.ownedCommission(ctx, commissionID, ownerID)
	if err != nil {
		return nil, err
	}
	if commission.Visibility == visibility {
		return commission, nil
	}
	if _, err := s.repo.Update(ctx, commissionID, map[string]any{"visibility": string(visibility)}, false); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update commission visibility")
	}
	return s.reload(ctx, commissionID)
}

// Sign records the signer once. Anyone allowed to read the commission may
// sign it, which excludes strangers while the listing is a draft.
func (s *service) Sign(ctx context.Context, commissionID uuid.UUID, signer Viewer) (*models.Commission, error) {
	if signer.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	commission, err := s.find(ctx, commissionID)
	if err != nil {
		return nil, err
	}
	l, err := s.listings.Get(ctx, commission.ListingID)
	if err != nil {
		return nil, err
	}
	if err := visibility.EnsureListingVisible(l.Status, l.UserID, signer); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "commission not found")
	}
	if !canView(commission, l.UserID, signer) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "commission not found")
	}
	if commission.IsSigned() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "commission already signed")
	}

	changed, err := s.repo.Sign(ctx, commissionID, signer.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sign commission")
	}
	if !changed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "commission already signed")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"commission_id": commissionID.String(),
		"signed_by":     signer.UserID.String(),
	}), "commission signed")
	return s.reload(ctx, commissionID)
}

// Lock freezes the terms. It is terminal: a second lock is a state conflict.
func (s *service) Lock(ctx context.Context, commissionID, ownerID uuid.UUID) (*models.Commission, error) {
	commission, _, err := s.ownedCommission(ctx, commissionID, ownerID)
	if err != nil {
		return nil, err
	}
	if commission.IsLocked() {
		return nil, s.lockedEdit(ctx, commission, ownerID, "lock already locked commission")
	}

	changed, err := s.repo.Lock(ctx, commissionID, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock commission")
	}
	if !changed {
		return nil, s.lockedEdit(ctx, commission, ownerID, "lock already locked commission")
	}
	s.logg.Info(s.logg.WithCommissionID(ctx, commissionID.String()), "commission locked")
	return s.reload(ctx, commissionID)
}

// UpdateTerms edits amount, type, split, terms or status of an unlocked
// commission.
func (s *service) UpdateTerms(ctx context.Context, commissionID, ownerID uuid.UUID, input UpdateTermsInput) (*models.Commission, error) {
	commission, l, err := s.ownedCommission(ctx, commissionID, ownerID)
	if err != nil {
		return nil, err
	}
	if commission.IsLocked() {
		return nil, s.lockedEdit(ctx, commission, ownerID, "terms change on locked commission")
	}

	amount, commissionType, split := commission.Amount, commission.Type, commission.SplitPercentage
	values := map[string]any{}
	if input.Amount != nil {
		amount = *input.Amount
		values["amount"] = amount.String()
	}
	if input.Type != nil {
		commissionType = *input.Type
		values["type"] = string(commissionType)
	}
	if input.SplitPercentage != nil {
		split = input.SplitPercentage
		values["split_percentage"] = *split
	}
	if input.Terms != nil {
		values["terms"] = strings.TrimSpace(*input.Terms)
	}
	if input.Status != nil {
		if !input.Status.IsValid() {
			return nil, pkgerrors.Validation("invalid commission", map[string]string{"status": "must be draft, pending, approved or rejected"})
		}
		values["status"] = string(*input.Status)
	}
	if len(values) == 0 {
		return commission, nil
	}
	if err := validateTerms(amount, commissionType, split, l.Price); err != nil {
		return nil, err
	}

	changed, err := s.repo.Update(ctx, commissionID, values, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update commission")
	}
	if !changed {
		return nil, s.lockedEdit(ctx, commission, ownerID, "terms change on locked commission")
	}
	return s.reload(ctx, commissionID)
}

func (s *service) lockedEdit(ctx context.Context, commission *models.Commission, userID uuid.UUID, detail string) error {
	s.alerts.Report(ctx, security.Alert{
		Kind:       security.AlertLockedCommissionEdit,
		UserID:     userID,
		ResourceID: commission.ID,
		Detail:     detail,
	})
	return pkgerrors.New(pkgerrors.CodeStateConflict, "commission is locked")
}

func (s *service) ownedListing(ctx context.Context, listingID, ownerID uuid.UUID) (*listing.Listing, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner identity missing")
	}
	l, err := s.listings.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !l.IsOwnedBy(ownerID) {
		s.alerts.Report(ctx, security.Alert{
			Kind:       security.AlertOwnershipViolation,
			UserID:     ownerID,
			ResourceID: listingID,
			Detail:     "commission write by non-owner",
		})
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "listing belongs to another user")
	}
	return l, nil
}

func (s *service) ownedCommission(ctx context.Context, commissionID, ownerID uuid.UUID) (*models.Commission, *listing.Listing, error) {
	if ownerID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner identity missing")
	}
	commission, err := s.find(ctx, commissionID)
	if err != nil {
		return nil, nil, err
	}
	l, err := s.ownedListing(ctx, commission.ListingID, ownerID)
	if err != nil {
		return nil, nil, err
	}
	return commission, l, nil
}

func (s *service) find(ctx context.Context, commissionID uuid.UUID) (*models.Commission, error) {
	commission, err := s.repo.FindByID(ctx, commissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "commission not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission")
	}
	return commission, nil
}

func (s *service) reload(ctx context.Context, commissionID uuid.UUID) (*models.Commission, error) {
	return s.find(ctx, commissionID)
}

// canView applies the visibility rules: the listing owner always sees the
// commission, public terms are visible to every caller and verified_only
// terms to verified callers.
func canView(c *models.Commission, ownerID uuid.UUID, viewer Viewer) bool {
	return visibility.CommissionVisible(visibility.CommissionVisibilityInput{
		Visibility: c.Visibility,
		OwnerID:    ownerID,
		Viewer:     viewer,
	})
}

// validateTerms checks amount against type: a percentage lies in (0, 100]
// and a flat fee in (0, listing price].
func validateTerms(amount decimal.Decimal, commissionType enums.CommissionType, split *float64, price decimal.Decimal) error {
	fields := map[string]string{}
	switch commissionType {
	case enums.CommissionTypePercentage:
		if !amount.IsPositive() || amount.GreaterThan(maxPercentage) {
			fields["amount"] = "must be greater than 0 and at most 100"
		}
	case enums.CommissionTypeFlat:
		if !amount.IsPositive() || amount.GreaterThan(price) {
			fields["amount"] = fmt.Sprintf("must be greater than 0 and at most the listing price (%s)", price.String())
		}
	default:
		fields["type"] = "must be percentage or flat"
	}
	if split != nil && (*split < 0 || *split > 100) {
		fields["split_percentage"] = "must be between 0 and 100"
	}
	if len(fields) > 0 {
		return pkgerrors.Validation("invalid commission", fields)
	}
	return nil
}
