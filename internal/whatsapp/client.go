// Package whatsapp is the provider boundary for the WhatsApp Cloud API:
// outbound sending, configuration checks, and webhook payload handling.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/config"
)

// doer abstracts the HTTP client, enabling test mocks.
type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the WhatsApp Cloud API. All methods return a result with the
// provider's status code rather than raising; callers decide what a failure
// means for them.
type Client struct {
	http          doer
	token         string
	phoneNumberID string
	businessID    string
	apiBase       string
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	Config config.WhatsAppConfig
	// For testing: inject a mock HTTP client.
	HTTPClient doer
}

// NewClient creates a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.Config.AccessToken == "" {
		return nil, fmt.Errorf("whatsapp: access token is required")
	}
	if opts.Config.PhoneNumberID == "" {
		return nil, fmt.Errorf("whatsapp: phone number id is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		http:          httpClient,
		token:         opts.Config.AccessToken,
		phoneNumberID: opts.Config.PhoneNumberID,
		businessID:    opts.Config.BusinessID,
		apiBase:       opts.Config.APIBase,
	}, nil
}

// SendResult is the uniform outcome of an outbound send.
type SendResult struct {
	Success    bool
	StatusCode int
	MessageID  string
	Detail     string // provider error detail on failure
}

// ConfigResult is the outcome of a configuration check.
type ConfigResult struct {
	Success       bool
	StatusCode    int
	DisplayPhone  string
	VerifiedName  string
	QualityRating string
	Detail        string
}

// Template describes one approved message template.
type Template struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Status   string `json:"status"`
	Category string `json:"category"`
}

// TemplatesResult is the outcome of a template listing.
type TemplatesResult struct {
	Success    bool
	StatusCode int
	Templates  []Template
	Detail     string
}

// apiError is the Cloud API error envelope.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// sendResponse is the Cloud API message-send envelope.
type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, phone, text string) SendResult {
	body := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                phone,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	return c.send(ctx, body)
}

// SendTemplate sends an approved template message with body parameters.
func (c *Client) SendTemplate(ctx context.Context, phone, templateName, language string, params []string) SendResult {
	if language == "" {
		language = "en"
	}
	template := map[string]interface{}{
		"name":     templateName,
		"language": map[string]string{"code": language},
	}
	if len(params) > 0 {
		parameters := make([]map[string]string, 0, len(params))
		for _, p := range params {
			parameters = append(parameters, map[string]string{"type": "text", "text": p})
		}
		template["components"] = []map[string]interface{}{
			{"type": "body", "parameters": parameters},
		}
	}
	body := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                phone,
		"type":              "template",
		"template":          template,
	}
	return c.send(ctx, body)
}

// send posts a message body to the messages endpoint.
func (c *Client) send(ctx context.Context, body map[string]interface{}) SendResult {
	url := fmt.Sprintf("%s/%s/messages", c.apiBase, c.phoneNumberID)
	status, data, err := c.request(ctx, http.MethodPost, url, body)
	if err != nil {
		return SendResult{Detail: err.Error()}
	}
	if status < 200 || status >= 300 {
		return SendResult{StatusCode: status, Detail: errorDetail(data)}
	}

	var resp sendResponse
	if err := json.Unmarshal(data, &resp); err != nil || len(resp.Messages) == 0 {
		return SendResult{StatusCode: status, Detail: "malformed send response"}
	}
	return SendResult{Success: true, StatusCode: status, MessageID: resp.Messages[0].ID}
}

// CheckConfiguration fetches the phone number profile to verify credentials.
func (c *Client) CheckConfiguration(ctx context.Context) ConfigResult {
	url := fmt.Sprintf("%s/%s?fields=display_phone_number,verified_name,quality_rating", c.apiBase, c.phoneNumberID)
	status, data, err := c.request(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ConfigResult{Detail: err.Error()}
	}
	if status < 200 || status >= 300 {
		return ConfigResult{StatusCode: status, Detail: errorDetail(data)}
	}

	var profile struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		VerifiedName       string `json:"verified_name"`
		QualityRating      string `json:"quality_rating"`
	}
	if err := json.Unmarshal(data, &profile); err != nil {
		return ConfigResult{StatusCode: status, Detail: "malformed profile response"}
	}
	return ConfigResult{
		Success:       true,
		StatusCode:    status,
		DisplayPhone:  profile.DisplayPhoneNumber,
		VerifiedName:  profile.VerifiedName,
		QualityRating: profile.QualityRating,
	}
}

// GetAvailableTemplates lists the business account's approved templates.
func (c *Client) GetAvailableTemplates(ctx context.Context) TemplatesResult {
	if c.businessID == "" {
		return TemplatesResult{Detail: "business id not configured"}
	}
	url := fmt.Sprintf("%s/%s/message_templates", c.apiBase, c.businessID)
	status, data, err := c.request(ctx, http.MethodGet, url, nil)
	if err != nil {
		return TemplatesResult{Detail: err.Error()}
	}
	if status < 200 || status >= 300 {
		return TemplatesResult{StatusCode: status, Detail: errorDetail(data)}
	}

	var resp struct {
		Data []Template `json:"data"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return TemplatesResult{StatusCode: status, Detail: "malformed templates response"}
	}
	return TemplatesResult{Success: true, StatusCode: status, Templates: resp.Data}
}

// request executes one authenticated API call and returns the status and body.
func (c *Client) request(ctx context.Context, method, url string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("whatsapp: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("whatsapp: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("whatsapp: request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("whatsapp: read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// errorDetail extracts the provider's error message from a failure body.
func errorDetail(data []byte) string {
	var e apiError
	if err := json.Unmarshal(data, &e); err == nil && e.Error.Message != "" {
		return fmt.Sprintf("%s (code %d)", e.Error.Message, e.Error.Code)
	}
	return string(data)
}

// Deliverer adapts the Client to the pipeline's outbound boundary, turning
// failed results into external-service errors the pipeline captures on the
// message record.
type Deliverer struct {
	client *Client
}

// NewDeliverer wraps a Client for the pipeline.
func NewDeliverer(client *Client) *Deliverer {
	return &Deliverer{client: client}
}

// SendText implements pipeline.Deliverer.
func (d *Deliverer) SendText(ctx context.Context, phone, text string) (string, error) {
	res := d.client.SendText(ctx, phone, text)
	if !res.Success {
		return "", apperr.External("whatsapp", res.StatusCode, res.Detail)
	}
	return res.MessageID, nil
}

// SendTemplate implements pipeline.Deliverer.
func (d *Deliverer) SendTemplate(ctx context.Context, phone, templateName string, params []string) (string, error) {
	res := d.client.SendTemplate(ctx, phone, templateName, "", params)
	if !res.Success {
		return "", apperr.External("whatsapp", res.StatusCode, res.Detail)
	}
	return res.MessageID, nil
}
