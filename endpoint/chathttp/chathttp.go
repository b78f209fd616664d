// Package chathttp is the JSON-over-HTTP chat backend adapter.
//
// Each endpoint is a full URL that accepts a chat-completions style body and
// answers with {"choices":[{"message":{"content":"..."}}]}.
package chathttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ineyio/askgate"
)

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 4 << 20

// Endpoint is a single chat backend reached over HTTP.
type Endpoint struct {
	name       string
	url        string
	apiKey     string
	httpClient *http.Client
}

var _ askgate.Endpoint = (*Endpoint)(nil)

// Option configures the endpoint.
type Option func(*Endpoint)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Endpoint) { e.httpClient = c }
}

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) Option {
	return func(e *Endpoint) { e.apiKey = key }
}

// New creates an endpoint posting to url.
func New(name, url string, opts ...Option) *Endpoint {
	e := &Endpoint{
		name:       name,
		url:        url,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Endpoint) Name() string { return e.name }

// apiRequest is the chat request body.
type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   *int         `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// apiResponse keeps content as a pointer so a missing field is a decode failure.
type apiResponse struct {
	Choices []struct {
		Message *struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (e *Endpoint) Complete(ctx context.Context, req askgate.ChatRequest) (askgate.ChatMessage, error) {
	httpResp, err := e.doRequest(ctx, buildRequest(req))
	if err != nil {
		return askgate.ChatMessage{}, err
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return askgate.ChatMessage{}, err
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return askgate.ChatMessage{}, fmt.Errorf("%w: read body: %w", askgate.ErrEndpointUnavailable, err)
	}
	return decodeResponse(body)
}

func buildRequest(req askgate.ChatRequest) apiRequest {
	msgs := make([]apiMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = apiMessage{Role: m.Role, Content: m.Content}
	}
	return apiRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

func (e *Endpoint) doRequest(ctx context.Context, body apiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("askgate: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("askgate: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		// Keep the cause so a cancelled loser still matches context.Canceled.
		return nil, fmt.Errorf("%w: %w", askgate.ErrEndpointUnavailable, err)
	}
	return resp, nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read body for error context, but don't fail if we can't.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("%w: status %d: %s", askgate.ErrEndpointUnavailable, resp.StatusCode, bytes.TrimSpace(body))
}

func decodeResponse(body []byte) (askgate.ChatMessage, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return askgate.ChatMessage{}, fmt.Errorf("%w: %w", askgate.ErrDecode, err)
	}
	if len(resp.Choices) == 0 {
		return askgate.ChatMessage{}, fmt.Errorf("%w: empty choices", askgate.ErrDecode)
	}
	msg := resp.Choices[0].Message
	if msg == nil || msg.Content == nil {
		return askgate.ChatMessage{}, fmt.Errorf("%w: missing message content", askgate.ErrDecode)
	}
	return askgate.ChatMessage{Role: askgate.RoleAssistant, Content: *msg.Content}, nil
}
