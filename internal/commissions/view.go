package commissions

import (
	"time"

	"github.com/google/uuid"
	"github.com/keystonerealty/keystone-backend/pkg/db/models"
	"github.com/keystonerealty/keystone-backend/pkg/enums"
	"github.com/shopspring/decimal"
)

// View is the API representation of a commission.
type View struct {
	ID              uuid.UUID                  `json:"id"`
	ListingID       uuid.UUID                  `json:"listing_id"`
	Amount          decimal.Decimal            `json:"amount"`
	Type            enums.CommissionType       `json:"type"`
	SplitPercentage *float64                   `json:"split_percentage,omitempty"`
	Terms           string                     `json:"terms"`
	Visibility      enums.CommissionVisibility `json:"visibility"`
	Status          enums.CommissionStatus     `json:"status"`
	SignedAt        *time.Time                 `json:"signed_at,omitempty"`
	SignedBy        *uuid.UUID                 `json:"signed_by,omitempty"`
	LockedAt        *time.Time                 `json:"locked_at,omitempty"`
	LockedBy        *uuid.UUID                 `json:"locked_by,omitempty"`
	Locked          bool                       `json:"locked"`
	CreatedAt       time.Time                  `json:"created_at"`
	UpdatedAt       time.Time                  `json:"updated_at"`
}

// ToView renders a commission row for responses.
func ToView(m *models.Commission) View {
	return View{
		ID:              m.ID,
		ListingID:       m.ListingID,
		Amount:          m.Amount,
		Type:            m.Type,
		SplitPercentage: m.SplitPercentage,
		Terms:           m.Terms,
		Visibility:      m.Visibility,
		Status:          m.Status,
		SignedAt:        m.SignedAt,
		SignedBy:        m.SignedBy,
		LockedAt:        m.LockedAt,
		LockedBy:        m.LockedBy,
		Locked:          m.IsLocked(),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
