// ABOUTME: Model-invocation client for the Anthropic Messages HTTP API
// ABOUTME: Sends one system prompt plus messages and returns the first text block, without retries

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// APIVersion is sent as the anthropic-version header
const APIVersion = "2023-06-01"

var (
	// ErrTimeout is returned when the model call exceeds its deadline.
	ErrTimeout = errors.New("model call timed out")

	// ErrEmptyResponse is returned when the response carries no text block.
	ErrEmptyResponse = errors.New("model response has no text content")
)

// Message is one conversational turn sent to the model
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single model invocation
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Model produces text for a request. Implemented by Client and by test fakes.
type Model interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// StatusError is returned for non-2xx responses from the model endpoint
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm error status %d: %s", e.StatusCode, e.Body)
}

// Client calls the Messages endpoint at BaseURL
type Client struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete sends req and returns the first text content block.
// A deadline from Timeout or ctx that expires is reported as ErrTimeout.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default().With("component", "llm")
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + "/v1/messages"
	body, err := json.Marshal(messagesRequest{
		Model:       c.Model,
		System:      req.System,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", APIVersion)
	if c.APIKey != "" {
		httpReq.Header.Set("x-api-key", c.APIKey)
	}

	logger.Debug("llm request", "url", endpoint, "temperature", req.Temperature, "max_tokens", req.MaxTokens)
	start := time.Now()

	resp, err := client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrTimeout, time.Since(start).Round(time.Millisecond))
		}
		return "", fmt.Errorf("calling model: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w reading response", ErrTimeout)
		}
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var out messagesResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	for _, block := range out.Content {
		if block.Type == "" || block.Type == "text" {
			logger.Debug("llm response", "chars", len(block.Text), "duration", time.Since(start))
			return block.Text, nil
		}
	}
	return "", ErrEmptyResponse
}
