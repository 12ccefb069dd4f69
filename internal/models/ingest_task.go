package models

import "time"

// Ingest task statuses.
const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskDone       = "done"
	TaskFailed     = "failed"
)

// IngestTask is one webhook delivery queued for the ingestion pipeline.
// Workers claim tasks with SELECT ... FOR UPDATE SKIP LOCKED; a task whose
// worker dies is redelivered after the claim timeout (at-least-once delivery,
// made safe by provider-message-id dedup in the pipeline). Failed attempts
// requeue with a next-attempt delay so a broken task does not hot-loop ahead
// of fresh work.
type IngestTask struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	Channel       string `gorm:"size:32;not null"`
	Payload       string `gorm:"type:text;not null"`
	Status        string `gorm:"size:16;default:pending;index"`
	Attempts      int    `gorm:"default:0"`
	LastError     string `gorm:"size:512"`
	ClaimedBy     string `gorm:"size:64"`
	ClaimedAt     *time.Time
	NextAttemptAt time.Time `gorm:"index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
