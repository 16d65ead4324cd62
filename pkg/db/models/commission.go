package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keystonerealty/keystone-backend/pkg/enums"
)

// Commission holds brokerage commission terms attached to one listing.
// Signature and lock metadata are write-once.
type Commission struct {
	ID              uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	ListingID       uuid.UUID                  `gorm:"column:listing_id;type:uuid;not null;uniqueIndex:ux_commissions_listing"`
	Amount          decimal.Decimal            `gorm:"column:amount;type:numeric(14,2);not null"`
	Type            enums.CommissionType       `gorm:"column:type;not null"`
	SplitPercentage *float64                   `gorm:"column:split_percentage"`
	Terms           string                     `gorm:"column:terms;not null"`
	Visibility      enums.CommissionVisibility `gorm:"column:visibility;not null"`
	Status          enums.CommissionStatus     `gorm:"column:status;not null"`
	SignedAt        *time.Time                 `gorm:"column:signed_at"`
	SignedBy        *uuid.UUID                 `gorm:"column:signed_by;type:uuid"`
	LockedAt        *time.Time                 `gorm:"column:locked_at"`
	LockedBy        *uuid.UUID                 `gorm:"column:locked_by;type:uuid"`
	CreatedAt       time.Time                  `gorm:"column:created_at"`
	UpdatedAt       time.Time                  `gorm:"column:updated_at"`
}

// TableName pins the table shared with the listing repository.
func (Commission) TableName() string {
	return "commissions"
}

// IsLocked reports whether the terms are frozen.
func (c *Commission) IsLocked() bool {
	return c != nil && c.LockedAt != nil
}

// IsSigned reports whether a signature has been recorded.
func (c *Commission) IsSigned() bool {
	return c != nil && c.SignedAt != nil
}
