package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storechat/internal/domain"
)

const (
	DefaultBaseURL    = "https://api.anthropic.com/v1/messages"
	DefaultAPIVersion = "2023-06-01"
	DefaultModel      = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens  = 1024

	defaultTimeout = 120 * time.Second
)

// messagesRequest is the minimal request shape for the Messages API.
type messagesRequest struct {
	Model     string               `json:"model"`
	MaxTokens int                  `json:"max_tokens"`
	System    string               `json:"system,omitempty"`
	Messages  []domain.ChatMessage `json:"messages"`
	Stream    bool                 `json:"stream,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// messagesResponse is the minimal non-streaming response shape.
type messagesResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Content []contentBlock `json:"content"`
	Usage   usage          `json:"usage"`
}

// Stream event type names used by the Messages API.
const (
	eventMessageStart      = "message_start"
	eventContentBlockDelta = "content_block_delta"
	eventMessageDelta      = "message_delta"
	eventMessageStop       = "message_stop"
	eventError             = "error"
)

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("anthropic: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused Anthropic Messages API client for store-assistant
// completions. It is stateless per call and safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	timeout    time.Duration
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithTimeout bounds each completion call, streamed or not. The deadline is
// applied via context so a stalled stream cannot hang a request forever.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// NewClient creates a new Client with the given API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("anthropic: api key must not be empty")
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		model:      DefaultModel,
		maxTokens:  DefaultMaxTokens,
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	return c, nil
}

// Complete issues one blocking Messages API call and returns the full
// response with usage accounting.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := c.buildRequest(req, false)
	if err != nil {
		return domain.CompletionResult{}, err
	}

	res, err := c.send(ctx, body)
	if err != nil {
		return domain.CompletionResult{}, err
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return domain.CompletionResult{}, fmt.Errorf("anthropic: read response body: %w", err)
	}

	var payload messagesResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return domain.CompletionResult{}, fmt.Errorf("anthropic: decode response: %w", decErr)
	}

	var text strings.Builder
	for _, block := range payload.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return domain.CompletionResult{}, errors.New("anthropic: no text content in response")
	}

	model := payload.Model
	if model == "" {
		model = c.model
	}
	return domain.CompletionResult{
		Content:    text.String(),
		Model:      model,
		TokensUsed: payload.Usage.InputTokens + payload.Usage.OutputTokens,
	}, nil
}

// CompleteStream opens an incremental token stream and invokes onChunk for
// each text fragment as it arrives. The accumulated text and usage counts
// are returned once the provider signals completion. onChunk is called
// synchronously from the reading loop.
func (c *Client) CompleteStream(ctx context.Context, req domain.CompletionRequest, onChunk func(string)) (domain.CompletionResult, error) {
	if onChunk == nil {
		return domain.CompletionResult{}, errors.New("anthropic: onChunk must not be nil")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := c.buildRequest(req, true)
	if err != nil {
		return domain.CompletionResult{}, err
	}

	res, err := c.send(ctx, body)
	if err != nil {
		return domain.CompletionResult{}, err
	}
	defer func() { _ = res.Body.Close() }()

	return c.readStream(res.Body, onChunk)
}

// readStream parses the Messages API SSE stream: text deltas are forwarded
// to onChunk, input tokens come from message_start and output tokens from
// the final message_delta.
func (c *Client) readStream(r io.Reader, onChunk func(string)) (domain.CompletionResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var full strings.Builder
	model := c.model
	var inputTokens, outputTokens int
	done := false

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var raw struct {
			Type    string `json:"type"`
			Message struct {
				Model string `json:"model"`
				Usage usage  `json:"usage"`
			} `json:"message"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
			Usage usage `json:"usage"`
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &raw); err != nil {
			continue
		}

		switch raw.Type {
		case eventMessageStart:
			if raw.Message.Model != "" {
				model = raw.Message.Model
			}
			inputTokens = raw.Message.Usage.InputTokens

		case eventContentBlockDelta:
			if raw.Delta.Type == "text_delta" && raw.Delta.Text != "" {
				full.WriteString(raw.Delta.Text)
				onChunk(raw.Delta.Text)
			}

		case eventMessageDelta:
			if raw.Usage.OutputTokens > 0 {
				outputTokens = raw.Usage.OutputTokens
			}

		case eventError:
			return domain.CompletionResult{}, fmt.Errorf("anthropic: stream error: %s: %s", raw.Error.Type, raw.Error.Message)

		case eventMessageStop:
			done = true
		}
		if done {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return domain.CompletionResult{}, fmt.Errorf("anthropic: read stream: %w", err)
	}
	if !done {
		return domain.CompletionResult{}, errors.New("anthropic: stream ended without message_stop")
	}

	return domain.CompletionResult{
		Content:    full.String(),
		Model:      model,
		TokensUsed: inputTokens + outputTokens,
	}, nil
}

func (c *Client) buildRequest(req domain.CompletionRequest, stream bool) ([]byte, error) {
	messages := formatMessages(req.History)
	if len(messages) == 0 {
		return nil, errors.New("anthropic: no text messages in history")
	}

	body, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    buildSystemPrompt(req.StoreContext, req.Products),
		Messages:  messages,
		Stream:    stream,
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("anthropic-version", DefaultAPIVersion)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		_ = res.Body.Close()
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        c.baseURL,
			Body:       string(buf),
		}
	}
	return res, nil
}
