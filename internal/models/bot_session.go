package models

import "time"

// Bot session statuses.
const (
	BotSessionActive = "active"
	BotSessionDone   = "done"
)

// BotSession tracks an open automated-flow exchange with a contact on one
// channel. At most one active session per (contact, channel) is consulted by
// the classifier; finished sessions are kept for history.
type BotSession struct {
	ID                uint   `gorm:"primaryKey;autoIncrement"`
	ContactID         uint   `gorm:"not null;index"`
	Channel           string `gorm:"size:32;not null"`
	Status            string `gorm:"size:16;default:active;index"`
	Step              string `gorm:"size:64"`
	LastInteractionAt time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
