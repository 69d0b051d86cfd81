// Package carrier drives the telephony carrier's call-control REST API.
package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the carrier's REST API base URL.
const DefaultBaseURL = "https://api.twilio.com/2010-04-01"

// Config configures the carrier client.
type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
	HTTPClient *http.Client
}

// Client originates and controls calls on the carrier.
type Client struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	httpClient *http.Client
}

// New creates a carrier client. All three credentials are preconditions;
// a missing one fails here, before any network call is attempted.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.AccountSID == "" {
		return nil, fmt.Errorf("carrier account SID is required")
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("carrier auth token is required")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("carrier origin phone number is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromNumber: cfg.FromNumber,
		baseURL:    baseURL,
		httpClient: httpClient,
	}, nil
}

// Call is the carrier's call resource.
type Call struct {
	SID       string `json:"sid"`
	To        string `json:"to"`
	From      string `json:"from"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
}

// APIError is an error body returned by the carrier.
type APIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("carrier error %d: %s", e.Code, e.Message)
}

// Dial originates an outbound call whose lifecycle is driven by the TwiML
// served at answerURL. Returns the carrier's call identifier.
func (c *Client) Dial(ctx context.Context, to, answerURL string) (string, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)

	data := url.Values{}
	data.Set("To", to)
	data.Set("From", c.fromNumber)
	data.Set("Url", answerURL)
	data.Set("Method", http.MethodPost)

	var created Call
	if err := c.post(ctx, endpoint, data, &created); err != nil {
		return "", err
	}
	return created.SID, nil
}

// EndCall asks the carrier to complete an in-progress call.
func (c *Client) EndCall(ctx context.Context, callSID string) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callSID)

	data := url.Values{}
	data.Set("Status", "completed")

	return c.post(ctx, endpoint, data, nil)
}

// post performs an authenticated form-encoded POST.
func (c *Client) post(ctx context.Context, endpoint string, data url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr APIError
		if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Message == "" {
			return fmt.Errorf("carrier error (status %d): %s", resp.StatusCode, string(body))
		}
		return &apiErr
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to parse carrier response: %w", err)
		}
	}

	return nil
}
