// Package llm provides completion clients for answer synthesis.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Message represents a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionClient produces a completion for a conversation.
type CompletionClient interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// HTTPClient calls an OpenAI-compatible /v1/chat/completions endpoint.
type HTTPClient struct {
	baseURL string
	model   string
	apiKey  string
	limiter *rate.Limiter
	client  *http.Client
}

// ClientConfig configures an HTTPClient.
type ClientConfig struct {
	BaseURL           string
	Model             string
	APIKey            string
	RequestsPerSecond float64
}

// NewHTTPClient creates a completion client targeting the given inference service.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		client: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete sends a conversation to the inference service and returns the
// assistant's response.
func (c *HTTPClient) Complete(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}

	return result.Choices[0].Message.Content, nil
}
