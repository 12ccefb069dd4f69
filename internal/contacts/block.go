package contacts

import (
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Block marks a contact as blocked and records the action in the audit log.
// Existing conversations stay open; further inbound messages from the contact
// are rejected at classification time.
func Block(db *gorm.DB, contactID uint, actor, reason string) error {
	if actor == "" {
		return apperr.Validation("blocking actor is required")
	}
	if reason == "" {
		return apperr.Validation("blocking reason is required")
	}

	contact, err := Get(db, contactID)
	if err != nil {
		return err
	}
	if contact.Blocked {
		return apperr.Conflict("blocked", "contact %d is already blocked", contactID)
	}

	now := time.Now()
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(contact).Updates(map[string]interface{}{
			"blocked":      true,
			"block_reason": reason,
			"blocked_by":   actor,
			"blocked_at":   now,
		}).Error; err != nil {
			return fmt.Errorf("contacts: block %d: %w", contactID, err)
		}
		audit := models.AuditLog{
			Entity:   "contact",
			EntityID: contactID,
			Action:   "block",
			Actor:    actor,
			Reason:   reason,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return fmt.Errorf("contacts: audit block %d: %w", contactID, err)
		}
		return nil
	})
}

// Unblock clears a contact's blocked state and records the action.
func Unblock(db *gorm.DB, contactID uint, actor string) error {
	if actor == "" {
		return apperr.Validation("unblocking actor is required")
	}

	contact, err := Get(db, contactID)
	if err != nil {
		return err
	}
	if !contact.Blocked {
		return apperr.Conflict("unblocked", "contact %d is not blocked", contactID)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(contact).Updates(map[string]interface{}{
			"blocked":      false,
			"block_reason": "",
			"blocked_by":   "",
			"blocked_at":   nil,
		}).Error; err != nil {
			return fmt.Errorf("contacts: unblock %d: %w", contactID, err)
		}
		audit := models.AuditLog{
			Entity:   "contact",
			EntityID: contactID,
			Action:   "unblock",
			Actor:    actor,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return fmt.Errorf("contacts: audit unblock %d: %w", contactID, err)
		}
		return nil
	})
}
