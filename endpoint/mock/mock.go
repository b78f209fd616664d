// Package mock provides a scripted endpoint for tests.
package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ineyio/askgate"
)

// Endpoint is a mock chat backend.
type Endpoint struct {
	name         string
	latency      time.Duration
	hang         bool
	failAfter    int
	staticErr    error
	content      string
	callCount    atomic.Int64
	cancelled    atomic.Int64
	responseFunc func(askgate.ChatRequest) (askgate.ChatMessage, error)
}

var _ askgate.Endpoint = (*Endpoint)(nil)

// Option configures a mock Endpoint.
type Option func(*Endpoint)

// New creates a mock endpoint with the given options.
func New(opts ...Option) *Endpoint {
	e := &Endpoint{
		name:    "mock",
		content: "Hello from mock endpoint",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithName sets the endpoint name.
func WithName(name string) Option {
	return func(e *Endpoint) { e.name = name }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(e *Endpoint) { e.latency = d }
}

// WithHang blocks every call until its context is done.
func WithHang() Option {
	return func(e *Endpoint) { e.hang = true }
}

// WithFailAfter makes the endpoint fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(e *Endpoint) { e.failAfter = n }
}

// WithError makes the endpoint always return this error.
func WithError(err error) Option {
	return func(e *Endpoint) { e.staticErr = err }
}

// WithContent sets the answer content.
func WithContent(s string) Option {
	return func(e *Endpoint) { e.content = s }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(askgate.ChatRequest) (askgate.ChatMessage, error)) Option {
	return func(e *Endpoint) { e.responseFunc = fn }
}

func (e *Endpoint) Name() string { return e.name }

func (e *Endpoint) Complete(ctx context.Context, req askgate.ChatRequest) (askgate.ChatMessage, error) {
	count := e.callCount.Add(1)

	if e.hang {
		<-ctx.Done()
		e.cancelled.Add(1)
		return askgate.ChatMessage{}, ctx.Err()
	}

	if e.latency > 0 {
		select {
		case <-time.After(e.latency):
		case <-ctx.Done():
			e.cancelled.Add(1)
			return askgate.ChatMessage{}, ctx.Err()
		}
	}

	if e.staticErr != nil {
		return askgate.ChatMessage{}, e.staticErr
	}

	if e.failAfter > 0 && int(count) > e.failAfter {
		return askgate.ChatMessage{}, askgate.ErrEndpointUnavailable
	}

	if e.responseFunc != nil {
		return e.responseFunc(req)
	}

	return askgate.ChatMessage{Role: askgate.RoleAssistant, Content: e.content}, nil
}

// CallCount returns the number of calls made to the endpoint.
func (e *Endpoint) CallCount() int64 { return e.callCount.Load() }

// CancelledCount returns how many calls ended because their context was done.
func (e *Endpoint) CancelledCount() int64 { return e.cancelled.Load() }
