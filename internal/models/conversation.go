package models

import (
	"time"

	"gorm.io/gorm"
)

// Conversation statuses.
const (
	ConversationOpen     = "open"
	ConversationAssigned = "assigned"
	ConversationClosed   = "closed"
	ConversationArchived = "archived"
)

// Conversation priorities, lowest to highest.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// ActiveStatuses are the statuses that count toward the one-active-conversation
// invariant per (contact, channel) pair.
var ActiveStatuses = []string{ConversationOpen, ConversationAssigned}

// Conversation is one engagement thread between a Contact and the organization
// over a single channel.
type Conversation struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	ContactID     uint   `gorm:"not null;index:idx_conversations_pair"`
	Channel       string `gorm:"size:32;not null;index:idx_conversations_pair"`
	CategoryID    *uint
	AgentID       *string `gorm:"size:64;index"`
	Status        string  `gorm:"size:16;default:open;index"`
	Priority      string  `gorm:"size:8;default:medium"`
	Subject       string  `gorm:"size:256"`
	LastMessageAt time.Time
	ClosedBy      string `gorm:"size:64"`
	ClosedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     gorm.DeletedAt `gorm:"index"`

	Contact  Contact   `gorm:"foreignKey:ContactID"`
	Messages []Message `gorm:"foreignKey:ConversationID"`
}

// IsActive reports whether the conversation counts as active for the
// one-per-pair invariant.
func (c *Conversation) IsActive() bool {
	return c.Status == ConversationOpen || c.Status == ConversationAssigned
}
