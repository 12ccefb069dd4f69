package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/pipeline"
)

// Channel is the channel identifier stamped on everything this boundary
// produces.
const Channel = "whatsapp"

// WebhookPayload is the Cloud API webhook envelope.
type WebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value Value  `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// Value is the inner change payload carrying messages and statuses.
type Value struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
		WaID string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		From      string `json:"from"`
		ID        string `json:"id"`
		Timestamp string `json:"timestamp"`
		Type      string `json:"type"`
		Text      struct {
			Body string `json:"body"`
		} `json:"text"`
		Image    mediaRef `json:"image"`
		Audio    mediaRef `json:"audio"`
		Video    mediaRef `json:"video"`
		Document mediaRef `json:"document"`
		Sticker  mediaRef `json:"sticker"`
	} `json:"messages"`
	Statuses []struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	} `json:"statuses"`
}

// mediaRef is the common shape of media attachments in webhook messages.
type mediaRef struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

// VerifySignature checks the X-Hub-Signature-256 header against the raw body.
// An empty secret disables verification. A missing or mismatched signature is
// a security error.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return nil
	}
	if header == "" {
		return apperr.Security("missing webhook signature")
	}
	expected, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return apperr.Security("malformed webhook signature")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(computed), []byte(expected)) {
		return apperr.Security("webhook signature mismatch")
	}
	return nil
}

// ParsePayload unmarshals a webhook body.
func ParsePayload(body []byte) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("whatsapp: parse webhook payload: %w", err)
	}
	return &payload, nil
}

// Normalize flattens a webhook payload into channel-neutral inbound messages
// and delivery-status updates. Unknown message types pass through with their
// type so the pipeline can decide how to store them.
func Normalize(payload *WebhookPayload) ([]pipeline.Inbound, []pipeline.StatusUpdate) {
	var inbounds []pipeline.Inbound
	var statuses []pipeline.StatusUpdate

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			value := change.Value

			names := make(map[string]string, len(value.Contacts))
			for _, c := range value.Contacts {
				names[c.WaID] = c.Profile.Name
			}

			for _, msg := range value.Messages {
				in := pipeline.Inbound{
					Channel:           Channel,
					From:              msg.From,
					Name:              names[msg.From],
					ProviderMessageID: msg.ID,
					Type:              msg.Type,
					Timestamp:         parseEpoch(msg.Timestamp),
				}
				switch msg.Type {
				case "text":
					in.Content = msg.Text.Body
				case "image":
					in.Content = mediaContent(msg.Image, "image")
				case "audio":
					in.Content = mediaContent(msg.Audio, "audio")
				case "video":
					in.Content = mediaContent(msg.Video, "video")
				case "document":
					in.Content = mediaContent(msg.Document, "document")
				case "sticker":
					in.Content = mediaContent(msg.Sticker, "sticker")
				default:
					in.Content = fmt.Sprintf("[unsupported: %s]", msg.Type)
				}
				inbounds = append(inbounds, in)
			}

			for _, st := range value.Statuses {
				statuses = append(statuses, pipeline.StatusUpdate{
					ProviderMessageID: st.ID,
					Status:            st.Status,
					Timestamp:         parseEpoch(st.Timestamp),
				})
			}
		}
	}
	return inbounds, statuses
}

// mediaContent renders a media attachment as stored message content. Media
// bytes stay with the provider; only the reference is kept.
func mediaContent(ref mediaRef, kind string) string {
	content := fmt.Sprintf("[%s: %s]", kind, ref.ID)
	if ref.Caption != "" {
		content += " " + ref.Caption
	}
	return content
}

// parseEpoch converts the webhook's unix-seconds string, falling back to now.
func parseEpoch(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Now()
	}
	return time.Unix(sec, 0)
}
