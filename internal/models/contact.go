package models

import (
	"time"

	"gorm.io/gorm"
)

// Contact is an external party exchanging messages with the organization.
// Phone is the normalized channel address and is unique; contacts are only
// ever soft-deleted.
type Contact struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Phone       string `gorm:"size:32;not null;uniqueIndex"`
	Name        string `gorm:"size:128"`
	Email       string `gorm:"size:128"`
	ERPUserID   string `gorm:"size:64;index"`
	Blocked     bool   `gorm:"default:false;index"`
	BlockReason string `gorm:"size:256"`
	BlockedBy   string `gorm:"size:64"`
	BlockedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}
