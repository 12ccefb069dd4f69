package models

import "time"

// AuditLog is an append-only trail of sensitive actions: contact blocking,
// conversation reopens, protocol reopens, rejected ingestions.
type AuditLog struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Entity    string `gorm:"size:32;not null;index"`
	EntityID  uint   `gorm:"index"`
	Action    string `gorm:"size:32;not null"`
	Actor     string `gorm:"size:64"`
	Reason    string `gorm:"size:512"`
	CreatedAt time.Time
}
