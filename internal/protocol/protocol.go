// Package protocol manages ticket-like support records with human-readable
// numbers, independent of conversation lifecycles.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// createRetries bounds number-collision retries under concurrent creation.
const createRetries = 5

// Create opens a protocol for a contact, allocating the next number for
// today (YYYYMMDD-NNNNNN). Concurrent creators may race for the same number;
// the unique index arbitrates and losers retry with the next sequence.
func Create(db *gorm.DB, contactID uint, subject string) (*models.Protocol, error) {
	if subject == "" {
		return nil, apperr.Validation("subject is required")
	}
	var contact models.Contact
	if err := db.First(&contact, contactID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("contact", fmt.Sprint(contactID))
		}
		return nil, fmt.Errorf("protocol: load contact %d: %w", contactID, err)
	}

	for attempt := 0; attempt < createRetries; attempt++ {
		number, err := nextNumber(db)
		if err != nil {
			return nil, err
		}
		proto := models.Protocol{
			Number:    number,
			ContactID: contactID,
			Status:    models.ProtocolOpen,
			Subject:   subject,
		}
		err = db.Create(&proto).Error
		if err == nil {
			return &proto, nil
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			continue
		}
		return nil, fmt.Errorf("protocol: create: %w", err)
	}
	return nil, fmt.Errorf("protocol: create: number allocation contention, giving up after %d attempts", createRetries)
}

// nextNumber computes today's next sequence number.
func nextNumber(db *gorm.DB) (string, error) {
	prefix := time.Now().Format("20060102")
	var count int64
	if err := db.Model(&models.Protocol{}).
		Where("number LIKE ?", prefix+"-%").
		Count(&count).Error; err != nil {
		return "", fmt.Errorf("protocol: count for %s: %w", prefix, err)
	}
	return fmt.Sprintf("%s-%06d", prefix, count+1), nil
}

// Get loads a protocol by its number, with the contact preloaded.
func Get(db *gorm.DB, number string) (*models.Protocol, error) {
	var proto models.Protocol
	err := db.Preload("Contact").First(&proto, "number = ?", number).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("protocol", number)
		}
		return nil, fmt.Errorf("protocol: get %s: %w", number, err)
	}
	return &proto, nil
}

// List returns protocols, newest first, optionally filtered by status and
// contact.
func List(db *gorm.DB, status string, contactID uint, limit int) ([]models.Protocol, error) {
	if limit <= 0 {
		limit = 50
	}
	q := db.Preload("Contact").Order("created_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if contactID != 0 {
		q = q.Where("contact_id = ?", contactID)
	}
	var protos []models.Protocol
	if err := q.Find(&protos).Error; err != nil {
		return nil, fmt.Errorf("protocol: list: %w", err)
	}
	return protos, nil
}

// Close resolves an open protocol.
func Close(db *gorm.DB, number, resolution string) (*models.Protocol, error) {
	if resolution == "" {
		return nil, apperr.Validation("resolution is required")
	}
	proto, err := Get(db, number)
	if err != nil {
		return nil, err
	}
	if proto.Status == models.ProtocolClosed {
		return nil, apperr.Conflict(proto.Status, "protocol %s is already closed", number)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":     models.ProtocolClosed,
		"resolution": resolution,
		"closed_at":  now,
	}
	if err := db.Model(&models.Protocol{}).Where("id = ?", proto.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("protocol: close %s: %w", number, err)
	}
	proto.Status = models.ProtocolClosed
	proto.Resolution = resolution
	proto.ClosedAt = &now
	return proto, nil
}

// Reopen reverts a closed protocol to open, recording who and why in the
// audit trail. The previous resolution is kept for history.
func Reopen(db *gorm.DB, number, actor, reason string) (*models.Protocol, error) {
	if reason == "" {
		return nil, apperr.Validation("reason is required to reopen a protocol")
	}
	proto, err := Get(db, number)
	if err != nil {
		return nil, err
	}
	if proto.Status != models.ProtocolClosed {
		return nil, apperr.Conflict(proto.Status, "protocol %s is not closed", number)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":    models.ProtocolOpen,
			"closed_at": nil,
		}
		if err := tx.Model(&models.Protocol{}).Where("id = ?", proto.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("protocol: reopen %s: %w", number, err)
		}
		audit := models.AuditLog{
			Entity:   "protocol",
			EntityID: proto.ID,
			Action:   "reopen",
			Actor:    actor,
			Reason:   reason,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return fmt.Errorf("protocol: audit reopen %s: %w", number, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	proto.Status = models.ProtocolOpen
	proto.ClosedAt = nil
	return proto, nil
}

// Stats summarizes protocol volume.
type Stats struct {
	Open               int64
	Closed             int64
	Total              int64
	AvgResolutionHours float64
}

// GetStats counts protocols by status and averages time-to-resolution over the
// closed ones.
func GetStats(db *gorm.DB) (*Stats, error) {
	var stats Stats
	if err := db.Model(&models.Protocol{}).Where("status = ?", models.ProtocolOpen).Count(&stats.Open).Error; err != nil {
		return nil, fmt.Errorf("protocol: count open: %w", err)
	}
	if err := db.Model(&models.Protocol{}).Where("status = ?", models.ProtocolClosed).Count(&stats.Closed).Error; err != nil {
		return nil, fmt.Errorf("protocol: count closed: %w", err)
	}
	stats.Total = stats.Open + stats.Closed

	if stats.Closed > 0 {
		var closed []models.Protocol
		if err := db.Select("created_at", "closed_at").
			Where("status = ? AND closed_at IS NOT NULL", models.ProtocolClosed).
			Find(&closed).Error; err != nil {
			return nil, fmt.Errorf("protocol: load closed: %w", err)
		}
		var total time.Duration
		for _, p := range closed {
			total += p.ClosedAt.Sub(p.CreatedAt)
		}
		if len(closed) > 0 {
			stats.AvgResolutionHours = (total / time.Duration(len(closed))).Hours()
		}
	}
	return &stats, nil
}
