// Package pipeline ingests inbound messages, drives the conversation state
// machine, and sends outbound messages through the provider boundary.
package pipeline

import (
	"context"
	"time"
)

// Inbound is the channel-neutral shape of one inbound message after webhook
// normalization. Provider boundaries produce it; the pipeline consumes it.
type Inbound struct {
	Channel           string    `json:"channel"`
	From              string    `json:"from"` // raw channel address (phone)
	Name              string    `json:"name"` // sender display name, if known
	ProviderMessageID string    `json:"provider_message_id"`
	Type              string    `json:"type"` // text, media
	Content           string    `json:"content"`
	Timestamp         time.Time `json:"timestamp"`
}

// StatusUpdate is a provider delivery-status event correlated to a message by
// its provider id.
type StatusUpdate struct {
	ProviderMessageID string    `json:"provider_message_id"`
	Status            string    `json:"status"` // sent, delivered, read
	Timestamp         time.Time `json:"timestamp"`
}

// Deliverer is the outbound messaging boundary the pipeline delegates actual
// delivery to. Implementations return the provider message id on success.
type Deliverer interface {
	SendText(ctx context.Context, phone, text string) (string, error)
	SendTemplate(ctx context.Context, phone, templateName string, params []string) (string, error)
}
