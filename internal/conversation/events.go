package conversation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockForUpdate adds a FOR UPDATE row lock on MySQL. SQLite (tests)
// serializes writers at the database level, so the clause is skipped there.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "mysql" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// emitEvent writes an outbox event inside the caller's transaction so the
// event and the state change it describes commit atomically.
func emitEvent(tx *gorm.DB, eventType string, conv *models.Conversation, extra map[string]interface{}) error {
	payload := map[string]interface{}{
		"conversation_id": conv.ID,
		"contact_id":      conv.ContactID,
		"channel":         conv.Channel,
		"status":          conv.Status,
	}
	for k, v := range extra {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("conversation: marshal %s payload: %w", eventType, err)
	}

	event := models.OutboxEvent{
		Type:           eventType,
		ConversationID: conv.ID,
		Payload:        string(data),
		Status:         models.EventPending,
		NextAttemptAt:  time.Now(),
	}
	if err := tx.Create(&event).Error; err != nil {
		return fmt.Errorf("conversation: emit %s for %d: %w", eventType, conv.ID, err)
	}
	return nil
}
