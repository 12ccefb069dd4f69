package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// TextSender delivers a plain text reply to a phone number. The WhatsApp
// client satisfies this through a thin adapter at wiring time.
type TextSender interface {
	SendText(ctx context.Context, phone, text string) error
}

// Menu flow steps.
const (
	stepMenu = "menu"
)

// MenuResponder implements a keyword-triggered self-service menu for one
// channel. Option 0 always hands off to a human agent.
type MenuResponder struct {
	channel  string
	sender   TextSender
	triggers []string
	menuText string
	// options maps a menu choice to its canned reply.
	options map[string]string
}

// MenuResponderOpts holds parameters for creating a MenuResponder.
type MenuResponderOpts struct {
	Channel  string
	Sender   TextSender
	Triggers []string
	MenuText string
	Options  map[string]string
}

// NewMenuResponder creates a MenuResponder.
func NewMenuResponder(opts MenuResponderOpts) (*MenuResponder, error) {
	if opts.Channel == "" {
		return nil, fmt.Errorf("bot: menu: channel is required")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("bot: menu: sender is required")
	}
	menuText := opts.MenuText
	if menuText == "" {
		menuText = "How can we help?\n1 - Business hours\n0 - Talk to an agent"
	}
	options := opts.Options
	if options == nil {
		options = map[string]string{
			"1": "We are available Monday to Friday, 9:00-18:00.",
		}
	}
	triggers := opts.Triggers
	if len(triggers) == 0 {
		triggers = []string{"menu", "help"}
	}
	return &MenuResponder{
		channel:  opts.Channel,
		sender:   opts.Sender,
		triggers: triggers,
		menuText: menuText,
		options:  options,
	}, nil
}

// Match reports whether the text is one of the configured trigger keywords.
func (m *MenuResponder) Match(text string) bool {
	lowered := strings.ToLower(strings.TrimSpace(text))
	for _, t := range m.triggers {
		if lowered == strings.ToLower(t) {
			return true
		}
	}
	return false
}

// Respond advances the menu flow. A fresh trigger opens a session and sends
// the menu; a known option answers and keeps the session; "0" ends the
// session with a human handoff; anything else re-sends the menu.
func (m *MenuResponder) Respond(ctx context.Context, db *gorm.DB, contact *models.Contact, text string) (Outcome, error) {
	session, err := m.findOrStartSession(db, contact.ID)
	if err != nil {
		return Outcome{}, err
	}

	choice := strings.TrimSpace(text)

	if choice == "0" {
		if err := m.finishSession(db, session); err != nil {
			return Outcome{}, err
		}
		return Outcome{Handoff: true}, nil
	}

	reply, known := m.options[choice]
	if !known {
		reply = m.menuText
	}

	if err := m.sender.SendText(ctx, contact.Phone, reply); err != nil {
		return Outcome{}, fmt.Errorf("bot: menu reply to %s: %w", contact.Phone, err)
	}

	session.Step = stepMenu
	session.LastInteractionAt = time.Now()
	if err := db.Save(session).Error; err != nil {
		return Outcome{}, fmt.Errorf("bot: save session %d: %w", session.ID, err)
	}
	return Outcome{}, nil
}

// findOrStartSession returns the contact's active session on this channel,
// creating one when the flow is just starting.
func (m *MenuResponder) findOrStartSession(db *gorm.DB, contactID uint) (*models.BotSession, error) {
	var session models.BotSession
	err := db.Where("contact_id = ? AND channel = ? AND status = ?",
		contactID, m.channel, models.BotSessionActive).First(&session).Error
	if err == nil {
		return &session, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("bot: find session for contact %d: %w", contactID, err)
	}

	session = models.BotSession{
		ContactID:         contactID,
		Channel:           m.channel,
		Status:            models.BotSessionActive,
		LastInteractionAt: time.Now(),
	}
	if err := db.Create(&session).Error; err != nil {
		return nil, fmt.Errorf("bot: start session for contact %d: %w", contactID, err)
	}
	return &session, nil
}

// finishSession marks the session done.
func (m *MenuResponder) finishSession(db *gorm.DB, session *models.BotSession) error {
	session.Status = models.BotSessionDone
	session.LastInteractionAt = time.Now()
	if err := db.Save(session).Error; err != nil {
		return fmt.Errorf("bot: finish session %d: %w", session.ID, err)
	}
	return nil
}
