package models

import "time"

// Protocol statuses.
const (
	ProtocolOpen   = "open"
	ProtocolClosed = "closed"
)

// Protocol is a ticket-like support record identified by a human-readable
// number. It references a Contact but is independent of any conversation's
// lifecycle.
type Protocol struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Number     string `gorm:"size:32;not null;uniqueIndex"`
	ContactID  uint   `gorm:"not null;index"`
	Status     string `gorm:"size:16;default:open;index"`
	Subject    string `gorm:"size:256"`
	Resolution string `gorm:"type:text"`
	ClosedAt   *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Contact Contact `gorm:"foreignKey:ContactID"`
}
