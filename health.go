package askgate

import (
	"sort"
	"sync"
	"time"
)

const (
	healthFailureThreshold = 3
	healthFailureWindow    = 5 * time.Minute
	healthUnhealthyPeriod  = 30 * time.Second
)

// HealthState describes the observed health of an endpoint.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthUnhealthy
	HealthHalfOpen
)

func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// HealthTracker tracks per-endpoint health using a circuit breaker pattern.
// The dispatcher never skips endpoints based on it; every race still goes to
// every endpoint. It exists for /healthz and logs.
type HealthTracker struct {
	mu        sync.Mutex
	now       func() time.Time
	endpoints map[string]*endpointHealth
}

type endpointHealth struct {
	state       HealthState
	failures    []time.Time // sliding window of failure timestamps
	unhealthyAt time.Time
	lastError   string
}

// EndpointHealth is a point-in-time view of one endpoint.
type EndpointHealth struct {
	Endpoint  string `json:"endpoint"`
	State     string `json:"state"`
	Failures  int    `json:"recent_failures"`
	LastError string `json:"last_error,omitempty"`
}

// NewHealthTracker creates a new HealthTracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		now:       time.Now,
		endpoints: make(map[string]*endpointHealth),
	}
}

// GetHealth returns the current health state for an endpoint.
func (h *HealthTracker) GetHealth(endpoint string) HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()

	eh, ok := h.endpoints[endpoint]
	if !ok {
		return HealthHealthy
	}
	return h.refresh(eh)
}

// RecordSuccess records a successful response from an endpoint.
func (h *HealthTracker) RecordSuccess(endpoint string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	eh := h.getOrCreate(endpoint)
	eh.state = HealthHealthy
	eh.failures = eh.failures[:0]
	eh.lastError = ""
}

// RecordFailure records a failed request to an endpoint.
func (h *HealthTracker) RecordFailure(endpoint string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	eh := h.getOrCreate(endpoint)
	if err != nil {
		eh.lastError = err.Error()
	}
	if h.refresh(eh) == HealthUnhealthy {
		return
	}

	now := h.now()

	// Prune old failures outside the window.
	cutoff := now.Add(-healthFailureWindow)
	valid := eh.failures[:0]
	for _, t := range eh.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	eh.failures = append(valid, now)

	if len(eh.failures) >= healthFailureThreshold {
		eh.state = HealthUnhealthy
		eh.unhealthyAt = now
	}
}

// Snapshot returns the health of every endpoint seen so far, sorted by name.
func (h *HealthTracker) Snapshot() []EndpointHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]EndpointHealth, 0, len(h.endpoints))
	for name, eh := range h.endpoints {
		out = append(out, EndpointHealth{
			Endpoint:  name,
			State:     h.refresh(eh).String(),
			Failures:  len(eh.failures),
			LastError: eh.lastError,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// refresh moves an unhealthy endpoint to half-open once the cool-off has elapsed.
func (h *HealthTracker) refresh(eh *endpointHealth) HealthState {
	if eh.state == HealthUnhealthy && h.now().Sub(eh.unhealthyAt) >= healthUnhealthyPeriod {
		eh.state = HealthHalfOpen
	}
	return eh.state
}

func (h *HealthTracker) getOrCreate(endpoint string) *endpointHealth {
	eh, ok := h.endpoints[endpoint]
	if !ok {
		eh = &endpointHealth{state: HealthHealthy}
		h.endpoints[endpoint] = eh
	}
	return eh
}
