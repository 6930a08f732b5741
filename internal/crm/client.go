package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/leadsense-ai/platform/internal/leads"
	"github.com/leadsense-ai/platform/pkg/logging"
)

// LeadUpserter pushes a finalized lead into the CRM.
type LeadUpserter interface {
	UpsertLead(ctx context.Context, lead *leads.Lead) error
}

// Config holds CRM API credentials. The refresh token is an opaque
// pass-through issued out of band.
type Config struct {
	BaseURL      string
	AccountsURL  string // token endpoint base; defaults to BaseURL
	ClientID     string
	ClientSecret string
	RefreshToken string
	Timeout      time.Duration
}

// Client talks to a Zoho-style CRM REST API: search a lead by email, then
// create or update the record.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *logging.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a CRM client. Returns nil when no base URL is configured
// so callers can treat CRM push as disabled.
func NewClient(cfg Config, logger *logging.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil
	}
	if cfg.AccountsURL == "" {
		cfg.AccountsURL = cfg.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {c.cfg.RefreshToken},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.AccountsURL+"/oauth/v2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("crm: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("crm: token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("crm: token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("crm: decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("crm: token endpoint returned no access token")
	}

	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(expiresIn-60) * time.Second)
	return c.accessToken, nil
}

type leadRecord struct {
	ID          string `json:"id,omitempty"`
	LastName    string `json:"Last_Name"`
	Company     string `json:"Company,omitempty"`
	Email       string `json:"Email,omitempty"`
	Phone       string `json:"Phone,omitempty"`
	Website     string `json:"Website,omitempty"`
	Description string `json:"Description,omitempty"`
	LeadScore   int    `json:"Lead_Score"`
	LeadSource  string `json:"Lead_Source,omitempty"`
}

type searchResponse struct {
	Data []leadRecord `json:"data"`
}

type writePayload struct {
	Data []leadRecord `json:"data"`
}

// UpsertLead searches for an existing CRM lead by email and creates or
// updates the record accordingly.
func (c *Client) UpsertLead(ctx context.Context, lead *leads.Lead) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	record := leadRecord{
		LastName:    lead.Name,
		Company:     lead.Company,
		Email:       lead.Email,
		Phone:       lead.Phone,
		Website:     lead.Website,
		Description: c.description(lead),
		LeadScore:   lead.Score,
		LeadSource:  lead.Source,
	}

	existingID, err := c.findByEmail(ctx, token, lead.Email)
	if err != nil {
		return err
	}

	if existingID == "" {
		return c.write(ctx, token, http.MethodPost, "/crm/v2/Leads", record)
	}
	record.ID = existingID
	return c.write(ctx, token, http.MethodPut, "/crm/v2/Leads", record)
}

func (c *Client) description(lead *leads.Lead) string {
	if lead.Description != "" {
		return lead.Description
	}
	return fmt.Sprintf("Budget: %s | Timeline: %s | Qualified via LeadSense chat (score %d/140)",
		lead.Budget, lead.Timeline, lead.Score)
}

func (c *Client) findByEmail(ctx context.Context, token, email string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", nil
	}

	endpoint := fmt.Sprintf("%s/crm/v2/Leads/search?email=%s", c.cfg.BaseURL, url.QueryEscape(email))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("crm: build search request: %w", err)
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("crm: search failed: %w", err)
	}
	defer resp.Body.Close()

	// 204 means no matching record
	if resp.StatusCode == http.StatusNoContent {
		return "", nil
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("crm: search returned %d", resp.StatusCode)
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("crm: decode search response: %w", err)
	}
	if len(result.Data) == 0 {
		return "", nil
	}
	return result.Data[0].ID, nil
}

func (c *Client) write(ctx context.Context, token, method, path string, record leadRecord) error {
	body, err := json.Marshal(writePayload{Data: []leadRecord{record}})
	if err != nil {
		return fmt.Errorf("crm: marshal lead: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("crm: build write request: %w", err)
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("crm: write failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("crm: write returned %d: %s", resp.StatusCode, string(respBody))
	}

	c.logger.Info("crm: lead upserted", "email", record.Email, "score", record.LeadScore, "method", method)
	return nil
}

var _ LeadUpserter = (*Client)(nil)
