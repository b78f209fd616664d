package askgate

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Dispatcher races one request against every endpoint and resolves with the
// first well-formed answer. Losers are cancelled before Dispatch returns.
// There is no retry: each Dispatch is a single race.
type Dispatcher struct {
	endpoints []Endpoint
	timeout   time.Duration
	meter     Meter
	health    *HealthTracker
	logger    *zap.Logger
}

// Win is the resolved result of a race.
type Win struct {
	Message  ChatMessage
	Endpoint string
}

type raceResult struct {
	endpoint string
	msg      ChatMessage
	err      error
}

// NewDispatcher creates a Dispatcher with cfg.RequestTimeout per endpoint request.
func NewDispatcher(cfg Config, endpoints []Endpoint, opts ...Option) (*Dispatcher, error) {
	return newDispatcher(cfg, endpoints, newSettings(cfg, opts))
}

func newDispatcher(cfg Config, endpoints []Endpoint, s settings) (*Dispatcher, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Dispatcher{
		endpoints: endpoints,
		timeout:   timeout,
		meter:     s.meter,
		health:    s.health,
		logger:    s.logger,
	}, nil
}

// Endpoints returns the names of the raced endpoints in order.
func (d *Dispatcher) Endpoints() []string {
	names := make([]string, len(d.endpoints))
	for i, ep := range d.endpoints {
		names[i] = ep.Name()
	}
	return names
}

// Dispatch sends req to every endpoint concurrently.
// It returns a *DispatchError matching ErrNoAnswer only after every endpoint
// has settled without a usable answer.
func (d *Dispatcher) Dispatch(ctx context.Context, requestID string, req ChatRequest) (Win, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so settled losers never block after the race resolved.
	results := make(chan raceResult, len(d.endpoints))
	for _, ep := range d.endpoints {
		go d.run(raceCtx, requestID, ep, req, results)
	}

	failures := make([]*EndpointError, 0, len(d.endpoints))
	for range d.endpoints {
		var r raceResult
		select {
		case r = <-results:
		case <-ctx.Done():
			return Win{}, ctx.Err()
		}

		if r.err == nil {
			cancel()
			return Win{Message: r.msg, Endpoint: r.endpoint}, nil
		}
		failures = append(failures, &EndpointError{Endpoint: r.endpoint, Err: r.err})
	}

	return Win{}, &DispatchError{Failures: failures}
}

func (d *Dispatcher) run(raceCtx context.Context, requestID string, ep Endpoint, req ChatRequest, results chan<- raceResult) {
	reqCtx, cancel := context.WithTimeout(raceCtx, d.timeout)
	defer cancel()

	name := ep.Name()
	start := time.Now()
	msg, err := ep.Complete(reqCtx, req)
	duration := time.Since(start)

	if err == nil && msg.Role == "" {
		msg.Role = RoleAssistant
	}

	// A loser stopped by the winner is not a failure signal.
	if err != nil && raceCtx.Err() != nil && errors.Is(err, context.Canceled) {
		d.meter.OnResult(ResultEvent{
			RequestID: requestID,
			Endpoint:  name,
			Model:     req.Model,
			Cancelled: true,
			Duration:  duration,
		})
		results <- raceResult{endpoint: name, err: err}
		return
	}

	if err != nil {
		d.health.RecordFailure(name, err)
		d.logger.Warn("endpoint failed",
			zap.String("request_id", requestID),
			zap.String("endpoint", name),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	} else {
		d.health.RecordSuccess(name)
		d.logger.Debug("endpoint answered",
			zap.String("request_id", requestID),
			zap.String("endpoint", name),
			zap.Duration("duration", duration),
		)
	}
	d.meter.OnResult(ResultEvent{
		RequestID: requestID,
		Endpoint:  name,
		Model:     req.Model,
		Success:   err == nil,
		Duration:  duration,
		Error:     err,
	})
	results <- raceResult{endpoint: name, msg: msg, err: err}
}
