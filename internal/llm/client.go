// Package llm provides the client for the upstream chat-completions gateway.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config configures the gateway client.
type Config struct {
	BaseURL           string
	APIKey            string
	ChatModel         string
	ExtractionModel   string
	StreamTimeout     time.Duration
	CompletionTimeout time.Duration
}

// Client talks to an OpenAI-style chat-completions gateway.
type Client struct {
	baseURL         string
	apiKey          string
	chatModel       string
	extractionModel string
	streamTimeout   time.Duration
	http            *http.Client
}

// NewClient builds a gateway client from config.
func NewClient(cfg Config) *Client {
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.ExtractionModel == "" {
		cfg.ExtractionModel = cfg.ChatModel
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 120 * time.Second
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = 45 * time.Second
	}
	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		chatModel:       cfg.ChatModel,
		extractionModel: cfg.ExtractionModel,
		streamTimeout:   cfg.StreamTimeout,
		http:            &http.Client{Timeout: cfg.CompletionTimeout},
	}
}

// ChatModel reports the configured streaming chat model.
func (c *Client) ChatModel() string {
	return c.chatModel
}

// StreamChat opens a streaming chat completion and returns the raw SSE body.
// The caller owns the returned ReadCloser. Non-2xx responses are returned as
// *GatewayError with the upstream status code.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	if req.Model == "" {
		req.Model = c.chatModel
	}
	req.Stream = true

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// The streaming client deliberately has no global timeout; the request
	// context carries the stream deadline.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeGatewayError(resp)
	}
	return resp.Body, nil
}

// Complete runs a non-streaming completion in JSON mode and returns the
// assistant message content. Used by the extraction endpoints.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	req := ChatRequest{
		Model:          c.extractionModel,
		Messages:       messages,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeGatewayError(resp)
	}

	var completion Completion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

// StreamTimeout reports the configured per-stream deadline.
func (c *Client) StreamTimeout() time.Duration {
	return c.streamTimeout
}

func decodeGatewayError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))

	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}
	if msg == "" {
		msg = resp.Status
	}
	return &GatewayError{StatusCode: resp.StatusCode, Message: msg}
}
