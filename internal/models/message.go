package models

import "time"

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message content types.
const (
	MessageText     = "text"
	MessageTemplate = "template"
	MessageMedia    = "media"
)

// Outbound send statuses.
const (
	SendPending = "pending"
	SendSent    = "sent"
	SendFailed  = "failed"
)

// Message is one unit of communication within a Conversation. The provider
// message id, when present, is unique — reprocessing the same provider event
// must not create a duplicate row. Rows are never deleted; only the
// delivered/read flags advance after creation.
type Message struct {
	ID                uint    `gorm:"primaryKey;autoIncrement"`
	ConversationID    uint    `gorm:"not null;index"`
	Direction         string  `gorm:"size:8;not null"`
	Type              string  `gorm:"size:16;default:text"`
	Content           string  `gorm:"type:text"`
	ProviderMessageID *string `gorm:"size:128;uniqueIndex"`
	ClientID          string  `gorm:"size:36"`
	SendStatus        string  `gorm:"size:16"`
	SendError         string  `gorm:"size:512"`
	Delivered         bool    `gorm:"default:false"`
	DeliveredAt       *time.Time
	Read              bool `gorm:"default:false"`
	ReadAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
