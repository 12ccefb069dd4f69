package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// emitMessageReceived writes the message.received outbox event inside the
// ingestion transaction.
func emitMessageReceived(tx *gorm.DB, conv *models.Conversation, msg *models.Message) error {
	payload, err := json.Marshal(map[string]interface{}{
		"conversation_id": conv.ID,
		"contact_id":      conv.ContactID,
		"channel":         conv.Channel,
		"message_id":      msg.ID,
		"assigned":        conv.Status == models.ConversationAssigned,
	})
	if err != nil {
		return fmt.Errorf("pipeline: marshal message.received payload: %w", err)
	}

	event := models.OutboxEvent{
		Type:           models.EventMessageReceived,
		ConversationID: conv.ID,
		Payload:        string(payload),
		Status:         models.EventPending,
		NextAttemptAt:  time.Now(),
	}
	if err := tx.Create(&event).Error; err != nil {
		return fmt.Errorf("pipeline: emit message.received for %d: %w", conv.ID, err)
	}
	return nil
}
