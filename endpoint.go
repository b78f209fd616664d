package askgate

import "context"

// Endpoint is the interface that redundant chat backends must implement.
type Endpoint interface {
	// Name returns the endpoint identifier used in logs, metrics, and errors.
	Name() string

	// Complete sends req and returns the first choice's message.
	// Transport faults should match ErrEndpointUnavailable and malformed
	// bodies ErrDecode.
	Complete(ctx context.Context, req ChatRequest) (ChatMessage, error)
}
