package models

import "time"

// Outbox event types emitted by the conversation state machine and pipeline.
const (
	EventConversationCreated  = "conversation.created"
	EventConversationAssigned = "conversation.assigned"
	EventConversationClosed   = "conversation.closed"
	EventMessageReceived      = "message.received"
)

// Outbox event statuses.
const (
	EventPending    = "pending"
	EventProcessing = "processing"
	EventDone       = "done"
	EventDead       = "dead"
)

// OutboxEvent is a state-transition event awaiting asynchronous fan-out.
// Events are written in the same transaction as the state change that
// produced them and claimed by the fan-out dispatcher with bounded retries;
// exhausted events are dead-lettered, not dropped silently. A processing
// event whose dispatcher died is redelivered after the claim timeout.
type OutboxEvent struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	Type           string `gorm:"size:48;not null;index"`
	ConversationID uint   `gorm:"index"`
	Payload        string `gorm:"type:text"`
	Status         string `gorm:"size:16;default:pending;index"`
	Attempts       int    `gorm:"default:0"`
	LastError      string `gorm:"size:512"`
	NextAttemptAt  time.Time `gorm:"index"`
	ClaimedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
