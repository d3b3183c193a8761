// Package moderation calls the external content-moderation service.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Verdict is the moderation outcome for one check.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// MessageCheck describes one conversation message to screen.
type MessageCheck struct {
	SessionID        string `json:"session_id"`
	ConversationType string `json:"conversation_type"`
	Role             string `json:"role"`
	Content          string `json:"content"`
	Language         string `json:"language,omitempty"`
}

// EventCheck describes one submitted event to screen.
type EventCheck struct {
	SessionID string                 `json:"session_id"`
	Event     map[string]interface{} `json:"event"`
}

// Client talks to the moderation service. A nil client (no URL configured)
// means moderation is disabled and every check passes.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a moderation client, or nil when baseURL is empty.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// CheckMessage screens one conversation message.
func (c *Client) CheckMessage(ctx context.Context, check MessageCheck) (*Verdict, error) {
	if c == nil {
		return &Verdict{Allowed: true}, nil
	}
	return c.post(ctx, "/v1/check/message", check)
}

// CheckEvent screens one submitted event.
func (c *Client) CheckEvent(ctx context.Context, check EventCheck) (*Verdict, error) {
	if c == nil {
		return &Verdict{Allowed: true}, nil
	}
	return c.post(ctx, "/v1/check/event", check)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (*Verdict, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("moderation service returned %s", resp.Status)
	}
	var verdict Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("decode moderation verdict: %w", err)
	}
	return &verdict, nil
}
