// Package contacts resolves inbound channel addresses to Contact records and
// manages contact blocking.
package contacts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NormalizePhone strips formatting characters from a phone number and applies
// the default country code when none is present. A leading "+" marks the
// number as already fully qualified.
func NormalizePhone(raw, defaultCountryCode string) (string, error) {
	qualified := strings.HasPrefix(strings.TrimSpace(raw), "+")

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 8 {
		return "", apperr.Validation("phone number too short: %q", raw)
	}

	if !qualified && defaultCountryCode != "" && !strings.HasPrefix(digits, defaultCountryCode) {
		digits = defaultCountryCode + digits
	}
	return digits, nil
}

// Resolve maps a channel address to a Contact, creating one if absent.
// The find-or-create is atomic across worker processes: creation relies on the
// unique index on contacts.phone with a do-nothing conflict clause, then
// re-fetches, so two near-simultaneous first contacts from the same number
// converge on a single row.
func Resolve(db *gorm.DB, rawPhone, defaultCountryCode string) (*models.Contact, error) {
	phone, err := NormalizePhone(rawPhone, defaultCountryCode)
	if err != nil {
		return nil, err
	}

	var contact models.Contact
	err = db.Where("phone = ?", phone).First(&contact).Error
	if err == nil {
		return &contact, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("contacts: lookup %s: %w", phone, err)
	}

	contact = models.Contact{Phone: phone}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone"}},
		DoNothing: true,
	}).Create(&contact)
	if result.Error != nil {
		return nil, fmt.Errorf("contacts: create %s: %w", phone, result.Error)
	}

	// RowsAffected == 0 means another worker won the race; either way the row
	// exists now, so fetch the canonical copy.
	err = db.Where("phone = ?", phone).First(&contact).Error
	if err == nil {
		return &contact, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("contacts: refetch %s: %w", phone, err)
	}

	// The unique index on phone spans soft-deleted rows: a refetch miss means
	// the number belongs to a deleted contact blocking the insert. The person
	// is messaging again, so restore the row.
	return restore(db, phone)
}

// restore revives a soft-deleted contact so its phone resolves again.
func restore(db *gorm.DB, phone string) (*models.Contact, error) {
	var contact models.Contact
	if err := db.Unscoped().Where("phone = ?", phone).First(&contact).Error; err != nil {
		return nil, fmt.Errorf("contacts: refetch %s: %w", phone, err)
	}
	if err := db.Unscoped().Model(&contact).Update("deleted_at", nil).Error; err != nil {
		return nil, fmt.Errorf("contacts: restore %s: %w", phone, err)
	}
	contact.DeletedAt = gorm.DeletedAt{}
	return &contact, nil
}

// Get returns a contact by id.
func Get(db *gorm.DB, id uint) (*models.Contact, error) {
	var contact models.Contact
	if err := db.First(&contact, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("contact", fmt.Sprint(id))
		}
		return nil, fmt.Errorf("contacts: get %d: %w", id, err)
	}
	return &contact, nil
}

// Delete soft-deletes a contact. Deletion is refused while any active
// conversation or open protocol still references the contact.
func Delete(db *gorm.DB, id uint) error {
	contact, err := Get(db, id)
	if err != nil {
		return err
	}

	var active int64
	if err := db.Model(&models.Conversation{}).
		Where("contact_id = ? AND status IN ?", id, models.ActiveStatuses).
		Count(&active).Error; err != nil {
		return fmt.Errorf("contacts: count active conversations for %d: %w", id, err)
	}
	if active > 0 {
		return apperr.Conflict("", "contact %d has %d active conversation(s)", id, active)
	}

	var open int64
	if err := db.Model(&models.Protocol{}).
		Where("contact_id = ? AND status = ?", id, models.ProtocolOpen).
		Count(&open).Error; err != nil {
		return fmt.Errorf("contacts: count open protocols for %d: %w", id, err)
	}
	if open > 0 {
		return apperr.Conflict("", "contact %d has %d open protocol(s)", id, open)
	}

	if err := db.Delete(contact).Error; err != nil {
		return fmt.Errorf("contacts: delete %d: %w", id, err)
	}
	return nil
}
