// Package openai adapts an OpenAI-compatible chat completions API as an askgate endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ineyio/askgate"
)

// Endpoint calls CreateChatCompletion on an OpenAI-compatible API.
type Endpoint struct {
	name   string
	client *openai.Client
}

var _ askgate.Endpoint = (*Endpoint)(nil)

// Config holds the endpoint settings.
type Config struct {
	Name       string
	APIKey     string
	BaseURL    string // empty means the public OpenAI API
	HTTPClient *http.Client
}

// New creates an OpenAI-compatible endpoint.
func New(cfg Config) *Endpoint {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &Endpoint{
		name:   name,
		client: openai.NewClientWithConfig(clientCfg),
	}
}

func (e *Endpoint) Name() string { return e.name }

func (e *Endpoint) Complete(ctx context.Context, req askgate.ChatRequest) (askgate.ChatMessage, error) {
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	creq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
	}
	if req.MaxTokens != nil {
		creq.MaxCompletionTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		creq.Temperature = float32(*req.Temperature)
	}

	resp, err := e.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return askgate.ChatMessage{}, parseAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return askgate.ChatMessage{}, fmt.Errorf("%w: empty choices", askgate.ErrDecode)
	}

	return askgate.ChatMessage{
		Role:    askgate.RoleAssistant,
		Content: resp.Choices[0].Message.Content,
	}, nil
}

// parseAPIError maps client errors onto ErrEndpointUnavailable, keeping the cause.
func parseAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: api error %d: %s", askgate.ErrEndpointUnavailable, apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: request error %d: %s", askgate.ErrEndpointUnavailable, reqErr.HTTPStatusCode, string(reqErr.Body))
	}

	return fmt.Errorf("%w: %w", askgate.ErrEndpointUnavailable, err)
}
