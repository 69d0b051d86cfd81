// Package completion calls the hosted chat-completion API.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxdial/voxdial/internal/model/call"
)

// ErrEmptyCompletion signals a 2xx response whose content was empty. The
// call must not continue on a stale utterance, so this is a hard failure.
var ErrEmptyCompletion = errors.New("completion response contained no content")

// Sampling defaults sent with every request.
const (
	DefaultTemperature      = 0.8
	DefaultTopP             = 1.0
	DefaultMaxOutputTokens  = 256
	DefaultPresencePenalty  = 0.0
	DefaultFrequencyPenalty = 0.0
)

// Config configures the completion client.
type Config struct {
	Endpoint         string
	APIKey           string
	Model            string
	Temperature      *float64
	TopP             *float64
	MaxOutputTokens  *int
	PresencePenalty  *float64
	FrequencyPenalty *float64
	HTTPClient       *http.Client
}

// Client is a chat-completion API client with fixed sampling settings.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	sampling   sampling
	httpClient *http.Client
}

type sampling struct {
	temperature      float64
	topP             float64
	maxOutputTokens  int
	presencePenalty  float64
	frequencyPenalty float64
}

// New creates a completion client. Endpoint and model are required.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("completion endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("completion model is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	s := sampling{
		temperature:      DefaultTemperature,
		topP:             DefaultTopP,
		maxOutputTokens:  DefaultMaxOutputTokens,
		presencePenalty:  DefaultPresencePenalty,
		frequencyPenalty: DefaultFrequencyPenalty,
	}
	if cfg.Temperature != nil {
		s.temperature = *cfg.Temperature
	}
	if cfg.TopP != nil {
		s.topP = *cfg.TopP
	}
	if cfg.MaxOutputTokens != nil {
		s.maxOutputTokens = *cfg.MaxOutputTokens
	}
	if cfg.PresencePenalty != nil {
		s.presencePenalty = *cfg.PresencePenalty
	}
	if cfg.FrequencyPenalty != nil {
		s.frequencyPenalty = *cfg.FrequencyPenalty
	}

	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		sampling:   s,
		httpClient: httpClient,
	}, nil
}

type completionRequest struct {
	Model            string         `json:"model"`
	Messages         []call.Message `json:"messages"`
	Temperature      float64        `json:"temperature"`
	MaxOutputTokens  int            `json:"max_output_tokens"`
	TopP             float64        `json:"top_p"`
	PresencePenalty  float64        `json:"presence_penalty"`
	FrequencyPenalty float64        `json:"frequency_penalty"`
	Stream           bool           `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// APIError is a non-2xx response from the completion endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion api status %d: %s", e.StatusCode, e.Body)
}

// Complete sends the message list and returns the assistant's reply.
// Transport failures, non-2xx statuses, and empty content are all hard
// failures; the caller decides how to terminate the turn.
func (c *Client) Complete(ctx context.Context, messages []call.Message) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:            c.model,
		Messages:         messages,
		Temperature:      c.sampling.temperature,
		MaxOutputTokens:  c.sampling.maxOutputTokens,
		TopP:             c.sampling.topP,
		PresencePenalty:  c.sampling.presencePenalty,
		FrequencyPenalty: c.sampling.frequencyPenalty,
		Stream:           false,
	})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var parsed completionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse completion response: %w", err)
	}

	if len(parsed.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}
