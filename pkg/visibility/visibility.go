package visibility

import (
	"github.com/google/uuid"
	"github.com/keystonerealty/keystone-backend/pkg/enums"
	pkgerrors "github.com/keystonerealty/keystone-backend/pkg/errors"
)

// Viewer is the caller a read is evaluated for. Verified comes from the
// auth provider's claim.
type Viewer struct {
	UserID   uuid.UUID
	Verified bool
}

// IsOwner reports whether the viewer owns the resource.
func (v Viewer) IsOwner(ownerID uuid.UUID) bool {
	return v.UserID != uuid.Nil && v.UserID == ownerID
}

// CommissionVisibilityInput drives the commission read gate.
type CommissionVisibilityInput struct {
	Visibility enums.CommissionVisibility
	OwnerID    uuid.UUID
	Viewer     Viewer
}

// CommissionVisible applies the visibility rules: the listing owner always
// sees the terms, public terms are visible to everyone, verified_only terms
// need a verified viewer and private terms stay with the owner.
func CommissionVisible(input CommissionVisibilityInput) bool {
	if input.Viewer.IsOwner(input.OwnerID) {
		return true
	}
	switch input.Visibility {
	case enums.CommissionVisibilityPublic:
		return true
	case enums.CommissionVisibilityVerifiedOnly:
		return input.Viewer.Verified
	default:
		return false
	}
}

// EnsureCommissionVisible reports hidden terms as not found so callers
// cannot probe for their existence.
func EnsureCommissionVisible(input CommissionVisibilityInput) error {
	if !CommissionVisible(input) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "commission not found")
	}
	return nil
}

// EnsureListingVisible hides drafts from everyone but their owner. Every
// other status is readable by any authenticated caller.
func EnsureListingVisible(status enums.ListingStatus, ownerID uuid.UUID, viewer Viewer) error {
	if status == enums.ListingStatusDraft && !viewer.IsOwner(ownerID) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
	}
	return nil
}
