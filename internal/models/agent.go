package models

import "time"

// Agent is a human operator who can be assigned conversations. Notification
// targets are optional; an agent without them only sees assignments in the UI.
type Agent struct {
	ID               string `gorm:"primaryKey;size:64"`
	Name             string `gorm:"size:128;not null"`
	Active           bool   `gorm:"default:true;index"`
	SlackUserID      string `gorm:"size:32"`
	DiscordChannelID string `gorm:"size:32"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
