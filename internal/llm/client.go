// Package llm provides the completion capability client.
//
// The client speaks the Anthropic messages API: one prompt in, one text
// completion out, no conversation state kept between calls.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/reflection-service/internal/core"
)

// API endpoints and headers.
const (
	apiMessages          = "/v1/messages"
	headerAPIKey         = "x-api-key"
	headerVersion        = "anthropic-version"
	headerContentType    = "Content-Type"
	contentTypeJSON      = "application/json"
	anthropicVersionDate = "2023-06-01"
)

// Default values.
const (
	defaultMaxTokens = 1024
	defaultTimeout   = 60 * time.Second
)

var (
	// ErrPromptEmpty indicates an empty prompt.
	ErrPromptEmpty = errors.New("prompt cannot be empty")
	// ErrEmptyCompletion indicates a response that carried no text content.
	ErrEmptyCompletion = errors.New("completion response contained no text")
)

// Client implements core.Completer against an Anthropic-style endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
}

// New creates a completion client. The baseURL should include protocol and
// host (e.g. "https://api.anthropic.com").
func New(baseURL, apiKey, model string, maxTokens int, timeout time.Duration) *Client {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		maxTokens:  maxTokens,
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type completionResponse struct {
	Content []contentBlock `json:"content"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a single user prompt and returns the text completion. The
// call is stateless: no history is carried between invocations. A 429
// response surfaces as core.ErrRateLimited so the worker can apply its
// longer backoff.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", ErrPromptEmpty
	}

	requestBody, err := json.Marshal(completionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiMessages,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create completion request: %w", err)
	}

	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set(headerVersion, anthropicVersionDate)
	req.Header.Set(headerContentType, contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send completion request: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: completion endpoint returned 429", core.ErrRateLimited)
	}

	if resp.StatusCode != http.StatusOK {
		return "", c.parseErrorResponse(resp)
	}

	var completion completionResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&completion)
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", decodeErr)
	}

	for _, block := range completion.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}

	return "", ErrEmptyCompletion
}

// parseErrorResponse attempts to decode a structured API error, falling
// back to the raw body so diagnostics are never lost.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var apiError errorResponse

	err := json.NewDecoder(resp.Body).Decode(&apiError)
	if err == nil && apiError.Error.Message != "" {
		return fmt.Errorf(
			"completion request failed (%s): %s (%s)",
			resp.Status, apiError.Error.Message, apiError.Error.Type,
		)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf("completion request failed with status %s: %s", resp.Status, string(body))
}
