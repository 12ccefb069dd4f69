// Package conversation owns the conversation state machine: status
// transitions, queue ordering, and the outbox events they emit.
//
// Transitions: open → assigned → closed → (reopen) → open, with
// open|assigned → archived as a terminal state reached only by the scheduled
// archival policy. Every transition and the event it emits commit in one
// transaction.
package conversation

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// CreateOpts holds parameters for creating a conversation.
type CreateOpts struct {
	ContactID  uint
	Channel    string
	CategoryID *uint
	Subject    string
	Priority   string // defaults to medium
}

// Create opens a new conversation for a (contact, channel) pair. It fails
// with a conflict error when an active conversation already exists for the
// pair — callers should append to that conversation instead. The contact row
// is locked for the duration of the check-then-create so concurrent creators
// serialize per contact.
func Create(db *gorm.DB, opts CreateOpts) (*models.Conversation, error) {
	if opts.ContactID == 0 {
		return nil, apperr.Validation("contact id is required")
	}
	if opts.Channel == "" {
		return nil, apperr.Validation("channel is required")
	}
	priority := opts.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	switch priority {
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh, models.PriorityUrgent:
	default:
		return nil, apperr.Validation("unknown priority %q", priority)
	}

	var conv *models.Conversation
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		conv, err = createTx(tx, opts.ContactID, opts.Channel, func(c *models.Conversation) {
			c.CategoryID = opts.CategoryID
			c.Subject = opts.Subject
			c.Priority = priority
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// createTx creates a conversation inside an existing transaction, enforcing
// the one-active-per-pair invariant. customize mutates the row before insert.
func createTx(tx *gorm.DB, contactID uint, channel string, customize func(*models.Conversation)) (*models.Conversation, error) {
	var contact models.Contact
	if err := lockForUpdate(tx).First(&contact, contactID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("contact", fmt.Sprint(contactID))
		}
		return nil, fmt.Errorf("conversation: lock contact %d: %w", contactID, err)
	}

	// Locking read: under MySQL REPEATABLE READ a plain SELECT here would read
	// the transaction's snapshot and miss a conversation committed while we
	// waited on the contact lock. FOR UPDATE forces a current read.
	var existing models.Conversation
	err := lockForUpdate(tx).
		Where("contact_id = ? AND channel = ? AND status IN ?", contactID, channel, models.ActiveStatuses).
		First(&existing).Error
	if err == nil {
		return nil, apperr.Conflict(existing.Status,
			"active conversation %d already exists for contact %d on %s", existing.ID, contactID, channel)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("conversation: find active for contact %d: %w", contactID, err)
	}

	conv := models.Conversation{
		ContactID:     contactID,
		Channel:       channel,
		Status:        models.ConversationOpen,
		Priority:      models.PriorityMedium,
		LastMessageAt: time.Now(),
	}
	if customize != nil {
		customize(&conv)
	}
	if err := tx.Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("conversation: create for contact %d: %w", contactID, err)
	}

	if err := emitEvent(tx, models.EventConversationCreated, &conv, nil); err != nil {
		return nil, err
	}
	return &conv, nil
}

// FindOrCreateActiveTx returns the contact's active conversation on the
// channel, creating one when absent. Must run inside a transaction; the
// contact row lock in createTx makes the find-or-create atomic per contact.
func FindOrCreateActiveTx(tx *gorm.DB, contactID uint, channel string) (*models.Conversation, error) {
	// Locking read for the same reason as createTx: this SELECT must not
	// establish (or read) a snapshot that hides a concurrently committed
	// conversation for the pair.
	var conv models.Conversation
	err := lockForUpdate(tx).
		Where("contact_id = ? AND channel = ? AND status IN ?", contactID, channel, models.ActiveStatuses).
		First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("conversation: find active for contact %d: %w", contactID, err)
	}
	return createTx(tx, contactID, channel, nil)
}

// Get returns a conversation by id.
func Get(db *gorm.DB, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := db.First(&conv, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("conversation", fmt.Sprint(id))
		}
		return nil, fmt.Errorf("conversation: get %d: %w", id, err)
	}
	return &conv, nil
}

// Assign moves an open conversation to assigned and sets the agent. Valid
// from open only.
func Assign(db *gorm.DB, conversationID uint, agentID string) error {
	if agentID == "" {
		return apperr.Validation("agent id is required")
	}

	return db.Transaction(func(tx *gorm.DB) error {
		conv, err := getTx(tx, conversationID)
		if err != nil {
			return err
		}

		var agent models.Agent
		if err := tx.First(&agent, "id = ?", agentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("agent", agentID)
			}
			return fmt.Errorf("conversation: get agent %s: %w", agentID, err)
		}

		if conv.Status != models.ConversationOpen {
			return apperr.Conflict(conv.Status, "conversation %d cannot be assigned from %s", conversationID, conv.Status)
		}

		if err := tx.Model(conv).Updates(map[string]interface{}{
			"status":   models.ConversationAssigned,
			"agent_id": agentID,
		}).Error; err != nil {
			return fmt.Errorf("conversation: assign %d to %s: %w", conversationID, agentID, err)
		}
		conv.Status = models.ConversationAssigned
		conv.AgentID = &agentID

		return emitEvent(tx, models.EventConversationAssigned, conv, map[string]interface{}{
			"agent_id": agentID,
		})
	})
}

// Close closes a conversation, recording who closed it. Valid from open or
// assigned.
func Close(db *gorm.DB, conversationID uint, closedBy string) error {
	if closedBy == "" {
		return apperr.Validation("closed-by is required")
	}

	return db.Transaction(func(tx *gorm.DB) error {
		conv, err := getTx(tx, conversationID)
		if err != nil {
			return err
		}
		if conv.Status != models.ConversationOpen && conv.Status != models.ConversationAssigned {
			return apperr.Conflict(conv.Status, "conversation %d cannot be closed from %s", conversationID, conv.Status)
		}

		now := time.Now()
		if err := tx.Model(conv).Updates(map[string]interface{}{
			"status":    models.ConversationClosed,
			"closed_by": closedBy,
			"closed_at": now,
		}).Error; err != nil {
			return fmt.Errorf("conversation: close %d: %w", conversationID, err)
		}
		conv.Status = models.ConversationClosed
		conv.ClosedBy = closedBy
		conv.ClosedAt = &now

		return emitEvent(tx, models.EventConversationClosed, conv, map[string]interface{}{
			"closed_by": closedBy,
		})
	})
}

// Reopen returns a closed conversation to open, clearing the closed fields.
// A non-empty reason is required and lands in the audit trail. Archived
// conversations are terminal and cannot be reopened.
func Reopen(db *gorm.DB, conversationID uint, actor, reason string) error {
	if reason == "" {
		return apperr.Validation("reopen reason is required")
	}

	return db.Transaction(func(tx *gorm.DB) error {
		conv, err := getTx(tx, conversationID)
		if err != nil {
			return err
		}
		if conv.Status != models.ConversationClosed {
			return apperr.Conflict(conv.Status, "conversation %d cannot be reopened from %s", conversationID, conv.Status)
		}

		if err := tx.Model(conv).Updates(map[string]interface{}{
			"status":    models.ConversationOpen,
			"agent_id":  nil,
			"closed_by": "",
			"closed_at": nil,
		}).Error; err != nil {
			return fmt.Errorf("conversation: reopen %d: %w", conversationID, err)
		}

		audit := models.AuditLog{
			Entity:   "conversation",
			EntityID: conversationID,
			Action:   "reopen",
			Actor:    actor,
			Reason:   reason,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return fmt.Errorf("conversation: audit reopen %d: %w", conversationID, err)
		}
		return nil
	})
}

// getTx fetches a conversation inside a transaction, mapping absence to the
// not-found taxonomy.
func getTx(tx *gorm.DB, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := tx.First(&conv, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("conversation", fmt.Sprint(id))
		}
		return nil, fmt.Errorf("conversation: get %d: %w", id, err)
	}
	return &conv, nil
}
