// Package bot decides whether an inbound message is auto-handled by an
// automated flow or opens a human conversation.
package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Route is the classification result for one inbound message.
type Route int

const (
	// RouteRejected means the contact is blocked: no bot, no conversation,
	// only an audit entry.
	RouteRejected Route = iota
	// RouteBot means an automated flow handles the message.
	RouteBot
	// RouteHuman means the message belongs in a human conversation.
	RouteHuman
)

// String returns the route name for logging.
func (r Route) String() string {
	switch r {
	case RouteRejected:
		return "rejected"
	case RouteBot:
		return "bot"
	case RouteHuman:
		return "human"
	}
	return "unknown"
}

// Outcome reports what a responder did with a bot-routed message.
type Outcome struct {
	// Handoff is set when the flow ended with a request for a human; the
	// caller should route the message into a human conversation.
	Handoff bool
}

// Responder handles automated replies for one channel. Implementations own
// their flow state via the contact's BotSession.
type Responder interface {
	// Match reports whether the text triggers a new automated flow.
	Match(text string) bool
	// Respond advances the flow for the contact and sends the reply.
	Respond(ctx context.Context, db *gorm.DB, contact *models.Contact, text string) (Outcome, error)
}

// Classifier routes inbound messages per channel. Routing paths, in order:
//  1. Blocked contact → rejected (audit row, any open bot session closed)
//  2. Open bot session for the contact → bot
//  3. Text matches the channel responder's trigger → bot
//  4. Everything else → human
//
// The blocked short-circuit always runs first, so blocking a contact
// terminates their bot flow at the next message.
type Classifier struct {
	db         *gorm.DB
	responders map[string]Responder
}

// ClassifierOpts holds parameters for creating a Classifier.
type ClassifierOpts struct {
	DB *gorm.DB
}

// NewClassifier creates a Classifier with an empty responder registry.
func NewClassifier(opts ClassifierOpts) (*Classifier, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("bot: db is required")
	}
	return &Classifier{
		db:         opts.DB,
		responders: make(map[string]Responder),
	}, nil
}

// Register installs the responder for a channel. New channels plug in here
// without touching the ingestion pipeline.
func (c *Classifier) Register(channel string, r Responder) {
	c.responders[channel] = r
}

// Responder returns the responder registered for the channel, or nil.
func (c *Classifier) Responder(channel string) Responder {
	return c.responders[channel]
}

// Classify routes one inbound message. For rejected messages it records the
// audit entry and finishes any open bot session as a side effect; all other
// routes are side-effect free.
func (c *Classifier) Classify(contact *models.Contact, channel, text string) (Route, error) {
	if contact.Blocked {
		if err := c.rejectBlocked(contact, channel); err != nil {
			return RouteRejected, err
		}
		return RouteRejected, nil
	}

	active, err := c.hasActiveSession(contact.ID, channel)
	if err != nil {
		return RouteHuman, err
	}
	if active {
		return RouteBot, nil
	}

	if r := c.responders[channel]; r != nil && r.Match(strings.TrimSpace(text)) {
		return RouteBot, nil
	}

	return RouteHuman, nil
}

// hasActiveSession reports whether the contact has an open automated flow on
// the channel.
func (c *Classifier) hasActiveSession(contactID uint, channel string) (bool, error) {
	var count int64
	err := c.db.Model(&models.BotSession{}).
		Where("contact_id = ? AND channel = ? AND status = ?", contactID, channel, models.BotSessionActive).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("bot: count sessions for contact %d: %w", contactID, err)
	}
	return count > 0, nil
}

// rejectBlocked records the rejection and finishes any open session so a
// later unblock starts the flow fresh.
func (c *Classifier) rejectBlocked(contact *models.Contact, channel string) error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		audit := models.AuditLog{
			Entity:   "contact",
			EntityID: contact.ID,
			Action:   "ingest_rejected",
			Reason:   "contact is blocked: " + contact.BlockReason,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return fmt.Errorf("bot: audit rejection for contact %d: %w", contact.ID, err)
		}
		err := tx.Model(&models.BotSession{}).
			Where("contact_id = ? AND channel = ? AND status = ?", contact.ID, channel, models.BotSessionActive).
			Update("status", models.BotSessionDone).Error
		if err != nil {
			return fmt.Errorf("bot: finish sessions for contact %d: %w", contact.ID, err)
		}
		return nil
	})
}
