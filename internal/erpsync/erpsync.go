// Package erpsync reconciles the contact base against the external ERP's
// user directory, linking contacts to their ERP identity.
package erpsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zulandar/switchboard/internal/contacts"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// ERPUser is one user record from the ERP directory.
type ERPUser struct {
	ERPUserID string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// Report summarizes one sync run.
type Report struct {
	Linked  int      // contacts matched by phone and linked to an ERP id
	Updated int      // already-linked contacts with refreshed name or email
	Skipped int      // ERP users with no matching contact
	Errors  []string // per-user failures; the run continues past them
	DryRun  bool
}

// doer abstracts the HTTP client, enabling test mocks.
type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches the user directory from the ERP API.
type Client struct {
	http    doer
	baseURL string
	apiKey  string
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BaseURL string
	APIKey  string
	// For testing: inject a mock HTTP client.
	HTTPClient doer
}

// NewClient creates an ERP API client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("erpsync: base url is required")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("erpsync: api key is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{http: httpClient, baseURL: opts.BaseURL, apiKey: opts.APIKey}, nil
}

// FetchUsers retrieves the full user directory.
func (c *Client) FetchUsers(ctx context.Context) ([]ERPUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/users", nil)
	if err != nil {
		return nil, fmt.Errorf("erpsync: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("erpsync: fetch users: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("erpsync: fetch users: status %d: %s", resp.StatusCode, body)
	}

	var users []ERPUser
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("erpsync: decode users: %w", err)
	}
	return users, nil
}

// SyncUsers reconciles ERP users against the contact base. Matching order is
// ERP id first (already linked), then normalized phone. ERP users with no
// matching contact are skipped, never created: a contact exists only once the
// person has actually messaged in. With dryRun set, nothing is written.
func SyncUsers(db *gorm.DB, users []ERPUser, countryCode string, dryRun bool) (*Report, error) {
	report := &Report{DryRun: dryRun}

	for _, user := range users {
		if user.ERPUserID == "" {
			report.Errors = append(report.Errors, "user with empty ERP id skipped")
			continue
		}
		if err := syncUser(db, user, countryCode, dryRun, report); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("user %s: %v", user.ERPUserID, err))
		}
	}
	return report, nil
}

// syncUser reconciles one ERP user.
func syncUser(db *gorm.DB, user ERPUser, countryCode string, dryRun bool, report *Report) error {
	var contact models.Contact
	err := db.First(&contact, "erp_user_id = ?", user.ERPUserID).Error
	if err == nil {
		return refreshContact(db, &contact, user, dryRun, report)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lookup by erp id: %w", err)
	}

	phone, err := contacts.NormalizePhone(user.Phone, countryCode)
	if err != nil {
		report.Skipped++
		return nil
	}
	err = db.First(&contact, "phone = ?", phone).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		report.Skipped++
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup by phone: %w", err)
	}

	if !dryRun {
		updates := map[string]interface{}{"erp_user_id": user.ERPUserID}
		if user.Name != "" {
			updates["name"] = user.Name
		}
		if user.Email != "" {
			updates["email"] = user.Email
		}
		if err := db.Model(&contact).Updates(updates).Error; err != nil {
			return fmt.Errorf("link: %w", err)
		}
	}
	report.Linked++
	return nil
}

// refreshContact updates a linked contact's name and email when the ERP has
// newer values.
func refreshContact(db *gorm.DB, contact *models.Contact, user ERPUser, dryRun bool, report *Report) error {
	updates := map[string]interface{}{}
	if user.Name != "" && user.Name != contact.Name {
		updates["name"] = user.Name
	}
	if user.Email != "" && user.Email != contact.Email {
		updates["email"] = user.Email
	}
	if len(updates) == 0 {
		return nil
	}
	if !dryRun {
		if err := db.Model(contact).Updates(updates).Error; err != nil {
			return fmt.Errorf("refresh: %w", err)
		}
	}
	report.Updated++
	return nil
}
