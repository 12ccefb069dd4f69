package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/bot"
	"github.com/zulandar/switchboard/internal/contacts"
	"github.com/zulandar/switchboard/internal/conversation"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Pipeline wires the identity resolver, bot classifier, conversation state
// machine, and outbound boundary into the ingestion flow.
type Pipeline struct {
	db          *gorm.DB
	classifier  *bot.Classifier
	deliverer   Deliverer
	countryCode string
}

// Opts holds parameters for creating a Pipeline.
type Opts struct {
	DB         *gorm.DB
	Classifier *bot.Classifier
	Deliverer  Deliverer
	// DefaultCountryCode is applied when normalizing unqualified phone numbers.
	DefaultCountryCode string
}

// New creates a Pipeline.
func New(opts Opts) (*Pipeline, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("pipeline: db is required")
	}
	if opts.Classifier == nil {
		return nil, fmt.Errorf("pipeline: classifier is required")
	}
	if opts.Deliverer == nil {
		return nil, fmt.Errorf("pipeline: deliverer is required")
	}
	return &Pipeline{
		db:          opts.DB,
		classifier:  opts.Classifier,
		deliverer:   opts.Deliverer,
		countryCode: opts.DefaultCountryCode,
	}, nil
}

// Ingest processes one inbound message. Replays of an already-seen provider
// message id return the original message with no side effects. Rejected
// (blocked contact) and bot-handled messages produce no Message row and
// return nil. For human-routed messages the conversation find-or-create,
// message insert, last-message timestamp, and outbox events commit in one
// transaction.
func (p *Pipeline) Ingest(ctx context.Context, in Inbound) (*models.Message, error) {
	if in.Channel == "" {
		return nil, apperr.Validation("inbound channel is required")
	}
	if in.From == "" {
		return nil, apperr.Validation("inbound sender is required")
	}

	if existing, err := p.findByProviderID(in.ProviderMessageID); err != nil {
		return nil, err
	} else if existing != nil {
		log.Printf("pipeline: replay of provider message %s, returning message %d", in.ProviderMessageID, existing.ID)
		return existing, nil
	}

	contact, err := contacts.Resolve(p.db, in.From, p.countryCode)
	if err != nil {
		return nil, err
	}
	if contact.Name == "" && in.Name != "" {
		// Opportunistic profile fill; failure is not worth aborting ingestion.
		if err := p.db.Model(contact).Update("name", in.Name).Error; err != nil {
			log.Printf("pipeline: update contact %d name: %v", contact.ID, err)
		}
	}

	route, err := p.classifier.Classify(contact, in.Channel, in.Content)
	if err != nil {
		return nil, err
	}

	switch route {
	case bot.RouteRejected:
		log.Printf("pipeline: rejected message from blocked contact %d", contact.ID)
		return nil, nil
	case bot.RouteBot:
		responder := p.classifier.Responder(in.Channel)
		if responder == nil {
			// No responder for the channel; fall through to a human conversation.
			break
		}
		outcome, err := responder.Respond(ctx, p.db, contact, in.Content)
		if err != nil {
			return nil, err
		}
		if !outcome.Handoff {
			return nil, nil
		}
		// Flow ended with a human handoff; continue below.
	}

	return p.ingestHuman(contact, in)
}

// ingestHuman persists the message into the contact's active conversation,
// creating one when absent.
func (p *Pipeline) ingestHuman(contact *models.Contact, in Inbound) (*models.Message, error) {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var msg *models.Message
	err := p.db.Transaction(func(tx *gorm.DB) error {
		conv, err := conversation.FindOrCreateActiveTx(tx, contact.ID, in.Channel)
		if err != nil {
			return err
		}

		msg = &models.Message{
			ConversationID: conv.ID,
			Direction:      models.DirectionInbound,
			Type:           messageType(in.Type),
			Content:        in.Content,
			CreatedAt:      ts,
		}
		if in.ProviderMessageID != "" {
			pid := in.ProviderMessageID
			msg.ProviderMessageID = &pid
		}
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("pipeline: create message: %w", err)
		}

		if err := tx.Model(conv).Update("last_message_at", ts).Error; err != nil {
			return fmt.Errorf("pipeline: update conversation %d timestamp: %w", conv.ID, err)
		}

		return emitMessageReceived(tx, conv, msg)
	})
	if err != nil {
		// A concurrent worker may have won the provider-id unique index race;
		// idempotency then means returning its row.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if existing, ferr := p.findByProviderID(in.ProviderMessageID); ferr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}
	return msg, nil
}

// Send persists an outbound message optimistically and delegates delivery to
// the provider boundary. Delivery failure is captured on the message record
// (status failed), not raised, since sends run from queue workers.
func (p *Pipeline) Send(ctx context.Context, conversationID uint, content, msgType string) (*models.Message, error) {
	conv, err := conversation.Get(p.db, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsActive() {
		return nil, apperr.Conflict(conv.Status, "cannot send on conversation %d", conversationID)
	}

	contact, err := contacts.Get(p.db, conv.ContactID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ConversationID: conversationID,
		Direction:      models.DirectionOutbound,
		Type:           messageType(msgType),
		Content:        content,
		ClientID:       uuid.NewString(),
		SendStatus:     models.SendPending,
	}
	if err := p.db.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("pipeline: create outbound message: %w", err)
	}

	var providerID string
	var sendErr error
	switch msg.Type {
	case models.MessageTemplate:
		providerID, sendErr = p.deliverer.SendTemplate(ctx, contact.Phone, content, nil)
	default:
		providerID, sendErr = p.deliverer.SendText(ctx, contact.Phone, content)
	}

	if sendErr != nil {
		log.Printf("pipeline: send message %d failed: %v", msg.ID, sendErr)
		updates := map[string]interface{}{
			"send_status": models.SendFailed,
			"send_error":  sendErr.Error(),
		}
		if err := p.db.Model(msg).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("pipeline: record send failure for %d: %w", msg.ID, err)
		}
		msg.SendStatus = models.SendFailed
		msg.SendError = sendErr.Error()
		return msg, nil
	}

	now := time.Now()
	err = p.db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"send_status":         models.SendSent,
			"provider_message_id": providerID,
		}
		if err := tx.Model(msg).Updates(updates).Error; err != nil {
			return fmt.Errorf("pipeline: record send for %d: %w", msg.ID, err)
		}
		if err := tx.Model(conv).Update("last_message_at", now).Error; err != nil {
			return fmt.Errorf("pipeline: update conversation %d timestamp: %w", conv.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	msg.SendStatus = models.SendSent
	msg.ProviderMessageID = &providerID
	return msg, nil
}

// UpdateDeliveryStatus advances a message's delivered/read flags from a
// provider status event. Flags only ever move forward: read implies
// delivered, and repeated or out-of-order events are no-ops.
func (p *Pipeline) UpdateDeliveryStatus(update StatusUpdate) error {
	if update.ProviderMessageID == "" {
		return apperr.Validation("provider message id is required")
	}

	msg, err := p.findByProviderID(update.ProviderMessageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return apperr.NotFound("message", update.ProviderMessageID)
	}

	ts := update.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	updates := map[string]interface{}{}
	switch update.Status {
	case "delivered":
		if !msg.Delivered {
			updates["delivered"] = true
			updates["delivered_at"] = ts
		}
	case "read":
		if !msg.Delivered {
			updates["delivered"] = true
			updates["delivered_at"] = ts
		}
		if !msg.Read {
			updates["read"] = true
			updates["read_at"] = ts
		}
	default:
		// "sent" and unknown statuses carry no flag changes.
		return nil
	}
	if len(updates) == 0 {
		return nil
	}

	if err := p.db.Model(msg).Updates(updates).Error; err != nil {
		return fmt.Errorf("pipeline: update delivery status for %s: %w", update.ProviderMessageID, err)
	}
	return nil
}

// findByProviderID returns the message with the given provider id, or nil.
func (p *Pipeline) findByProviderID(providerID string) (*models.Message, error) {
	if providerID == "" {
		return nil, nil
	}
	var msg models.Message
	err := p.db.Where("provider_message_id = ?", providerID).First(&msg).Error
	if err == nil {
		return &msg, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("pipeline: lookup provider message %s: %w", providerID, err)
}

// messageType maps loose provider type names onto the model's types.
func messageType(t string) string {
	switch t {
	case models.MessageTemplate:
		return models.MessageTemplate
	case models.MessageMedia, "image", "audio", "video", "document", "sticker":
		return models.MessageMedia
	default:
		return models.MessageText
	}
}
