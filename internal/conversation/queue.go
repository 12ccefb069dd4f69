package conversation

import (
	"fmt"
	"log"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// priorityOrder sorts urgent first. The CASE expression keeps the ordering
// portable between MySQL and the SQLite used in tests.
const priorityOrder = "CASE priority " +
	"WHEN 'urgent' THEN 0 " +
	"WHEN 'high' THEN 1 " +
	"WHEN 'medium' THEN 2 " +
	"ELSE 3 END, created_at ASC"

// NextInQueue returns up to limit unassigned open conversations in agent
// pickup order: priority descending, then oldest first.
func NextInQueue(db *gorm.DB, limit int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = 10
	}
	var convs []models.Conversation
	err := db.Where("status = ? AND agent_id IS NULL", models.ConversationOpen).
		Order(priorityOrder).
		Limit(limit).
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("conversation: next in queue: %w", err)
	}
	return convs, nil
}

// EscalateStale promotes unassigned open conversations older than maxAge to
// urgent. It is a scheduled policy, never a synchronous side effect of
// message arrival. Returns the number of escalated conversations.
func EscalateStale(db *gorm.DB, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	result := db.Model(&models.Conversation{}).
		Where("status = ? AND agent_id IS NULL AND priority <> ? AND created_at < ?",
			models.ConversationOpen, models.PriorityUrgent, cutoff).
		Update("priority", models.PriorityUrgent)
	if result.Error != nil {
		return 0, fmt.Errorf("conversation: escalate stale: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		log.Printf("conversation: escalated %d stale conversation(s) to urgent", result.RowsAffected)
	}
	return result.RowsAffected, nil
}

// ArchiveAged archives conversations closed before the retention cutoff.
// Archived is terminal; these rows never transition again. Returns the number
// archived.
func ArchiveAged(db *gorm.DB, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	result := db.Model(&models.Conversation{}).
		Where("status = ? AND closed_at < ?", models.ConversationClosed, cutoff).
		Update("status", models.ConversationArchived)
	if result.Error != nil {
		return 0, fmt.Errorf("conversation: archive aged: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		log.Printf("conversation: archived %d conversation(s)", result.RowsAffected)
	}
	return result.RowsAffected, nil
}
