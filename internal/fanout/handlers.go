package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/notify"
	"github.com/zulandar/switchboard/internal/pipeline"
	"gorm.io/gorm"
)

// eventPayload is the common shape of outbox event payloads.
type eventPayload struct {
	ConversationID uint   `json:"conversation_id"`
	ContactID      uint   `json:"contact_id"`
	Channel        string `json:"channel"`
	Status         string `json:"status"`
	AgentID        string `json:"agent_id"`
	ClosedBy       string `json:"closed_by"`
	MessageID      uint   `json:"message_id"`
	Assigned       bool   `json:"assigned"`
}

// decodePayload unmarshals an event's payload.
func decodePayload(event *models.OutboxEvent) (*eventPayload, error) {
	var p eventPayload
	if err := json.Unmarshal([]byte(event.Payload), &p); err != nil {
		return nil, fmt.Errorf("fanout: decode payload for event %d: %w", event.ID, err)
	}
	return &p, nil
}

// WelcomeHandler sends the welcome message into a newly created conversation.
func WelcomeHandler(p *pipeline.Pipeline, welcomeText string) Handler {
	return func(ctx context.Context, event *models.OutboxEvent) error {
		if welcomeText == "" {
			return nil
		}
		payload, err := decodePayload(event)
		if err != nil {
			return err
		}
		_, err = p.Send(ctx, payload.ConversationID, welcomeText, models.MessageText)
		return err
	}
}

// AssignmentHandler notifies agents that a conversation was assigned.
func AssignmentHandler(db *gorm.DB, notifier notify.Notifier) Handler {
	return func(ctx context.Context, event *models.OutboxEvent) error {
		payload, err := decodePayload(event)
		if err != nil {
			return err
		}

		agentName := payload.AgentID
		var agent models.Agent
		if err := db.First(&agent, "id = ?", payload.AgentID).Error; err == nil {
			agentName = agent.Name
		}

		return notifier.Post(ctx, notify.Notification{
			Title:    fmt.Sprintf("Conversation #%d assigned", payload.ConversationID),
			Body:     fmt.Sprintf("Assigned to %s", agentName),
			Severity: notify.SeverityInfo,
			Fields: []notify.Field{
				{Name: "Conversation", Value: fmt.Sprint(payload.ConversationID)},
				{Name: "Agent", Value: payload.AgentID},
				{Name: "Channel", Value: payload.Channel},
			},
		})
	}
}

// ClosedHandler notifies agents that a conversation was closed.
func ClosedHandler(notifier notify.Notifier) Handler {
	return func(ctx context.Context, event *models.OutboxEvent) error {
		payload, err := decodePayload(event)
		if err != nil {
			return err
		}
		return notifier.Post(ctx, notify.Notification{
			Title:    fmt.Sprintf("Conversation #%d closed", payload.ConversationID),
			Body:     fmt.Sprintf("Closed by %s", payload.ClosedBy),
			Severity: notify.SeveritySuccess,
			Fields: []notify.Field{
				{Name: "Conversation", Value: fmt.Sprint(payload.ConversationID)},
				{Name: "Channel", Value: payload.Channel},
			},
		})
	}
}

// QueueUpdateHandler posts a queue notice when a message lands in an
// unassigned conversation, including its current pickup position.
func QueueUpdateHandler(db *gorm.DB, notifier notify.Notifier) Handler {
	return func(ctx context.Context, event *models.OutboxEvent) error {
		payload, err := decodePayload(event)
		if err != nil {
			return err
		}
		if payload.Assigned {
			// Messages in assigned conversations reach the agent directly.
			return nil
		}

		position, err := queuePosition(db, payload.ConversationID)
		if err != nil {
			return err
		}
		if position == 0 {
			// Conversation left the queue (assigned or closed) before fan-out
			// caught up; nothing to announce.
			return nil
		}

		return notifier.Post(ctx, notify.Notification{
			Title:    "Customer waiting in queue",
			Body:     fmt.Sprintf("Conversation #%d has a new message", payload.ConversationID),
			Severity: notify.SeverityWarning,
			Fields: []notify.Field{
				{Name: "Conversation", Value: fmt.Sprint(payload.ConversationID)},
				{Name: "Queue position", Value: fmt.Sprint(position)},
			},
		})
	}
}

// queuePosition returns the conversation's 1-based position in the pickup
// queue, or 0 when it is not queued.
func queuePosition(db *gorm.DB, conversationID uint) (int, error) {
	var conv models.Conversation
	if err := db.First(&conv, conversationID).Error; err != nil {
		return 0, fmt.Errorf("fanout: queue position for %d: %w", conversationID, err)
	}
	if conv.Status != models.ConversationOpen || conv.AgentID != nil {
		return 0, nil
	}

	rank := priorityRank(conv.Priority)
	var ahead int64
	err := db.Model(&models.Conversation{}).
		Where("status = ? AND agent_id IS NULL AND id <> ?", models.ConversationOpen, conversationID).
		Where("(CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END) < ?"+
			" OR ((CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END) = ? AND created_at < ?)",
			rank, rank, conv.CreatedAt).
		Count(&ahead).Error
	if err != nil {
		return 0, fmt.Errorf("fanout: count queue ahead of %d: %w", conversationID, err)
	}
	return int(ahead) + 1, nil
}

// priorityRank mirrors the queue's CASE ordering: urgent first.
func priorityRank(priority string) int {
	switch priority {
	case models.PriorityUrgent:
		return 0
	case models.PriorityHigh:
		return 1
	case models.PriorityMedium:
		return 2
	default:
		return 3
	}
}
