// Package provider wraps the OpenAI-compatible chat completion and embedding
// APIs the queued steps call.
//
// The client performs a single request per call: retry policy lives in the
// queue, not here, so failures are classified (auth, rate_limit, server,
// network) and returned as typed errors for the retry handler to interpret.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"quill/internal/config"
	"quill/internal/services"
)

const defaultHTTPTimeout = 60 * time.Second

// Client talks to the configured chat/embedding provider.
type Client struct {
	cfg        config.LLM
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client (used in tests).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a provider client from config.
func NewClient(cfg config.LLM, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Available reports whether the client is configured well enough to serve a
// step. Pipelines check this before enqueueing to fail fast.
func (c *Client) Available() error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return services.NewError(services.KindPrerequisiteUnmet, "provider.available", "llm.api_key is not configured")
	}
	if strings.TrimSpace(c.cfg.Model) == "" {
		return services.NewError(services.KindPrerequisiteUnmet, "provider.available", "llm.model is not configured")
	}
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return services.NewError(services.KindPrerequisiteUnmet, "provider.available", "llm.base_url is not configured")
	}
	return nil
}

// ChatRequest describes one chat completion call.
type ChatRequest struct {
	System       string
	User         string
	JSONResponse bool
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat performs one chat completion and returns the first choice's content.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if err := c.Available(); err != nil {
		return "", err
	}

	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	payload := chatPayload{Model: c.cfg.Model, Messages: messages}
	if req.JSONResponse {
		payload.ResponseFormat = map[string]any{"type": "json_object"}
	}

	var parsed chatResponse
	if err := c.post(ctx, "/chat/completions", payload, &parsed); err != nil {
		return "", err
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return "", services.Categorized("provider.chat", parsed.Error.Message, "server", nil)
	}
	if len(parsed.Choices) == 0 {
		return "", services.Categorized("provider.chat", "response contained no choices", "server", nil)
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", services.Categorized("provider.chat", "response content was empty", "server", nil)
	}
	return content, nil
}

type embedPayload struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed computes the embedding vector for one input text.
func (c *Client) Embed(ctx context.Context, input string) ([]float32, error) {
	if err := c.Available(); err != nil {
		return nil, err
	}
	model := c.cfg.EmbeddingModel
	if model == "" {
		model = c.cfg.Model
	}

	var parsed embedResponse
	if err := c.post(ctx, "/embeddings", embedPayload{Model: model, Input: input}, &parsed); err != nil {
		return nil, err
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return nil, services.Categorized("provider.embed", parsed.Error.Message, "server", nil)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, services.Categorized("provider.embed", "response contained no embedding", "server", nil)
	}
	return parsed.Data[0].Embedding, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return services.WrapError(services.KindUpstreamFailure, "provider.request", "encode request", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return services.WrapError(services.KindUpstreamFailure, "provider.request", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		category := "network"
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			category = "timeout"
		}
		return services.Categorized("provider.request", "request failed", category, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return services.Categorized("provider.request", "read response", "network", err)
	}

	if resp.StatusCode != http.StatusOK {
		message := fmt.Sprintf("provider returned status %d", resp.StatusCode)
		return services.Categorized("provider.request", message, categorizeStatus(resp.StatusCode), nil).
			WithDetail("status", resp.Status).
			WithDetail("body", truncate(string(data), 512))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return services.Categorized("provider.request", "decode response", "server", err)
	}
	return nil
}

func categorizeStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "auth"
	case status == http.StatusTooManyRequests:
		return "rate_limit"
	case status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		return "capability"
	case status >= 500:
		return "server"
	default:
		return "client"
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
