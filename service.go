package askgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service is the gateway: quota gate, cache fallback, and endpoint race.
type Service struct {
	cfg        Config
	ledger     *QuotaLedger
	dispatcher *Dispatcher
	meter      Meter
	health     *HealthTracker
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates a new Service with the given config and endpoints.
// Default components (in-memory flags, no cache, no-op meter) are used
// unless overridden via options.
func NewService(cfg Config, endpoints []Endpoint, opts ...Option) (*Service, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := newSettings(cfg, opts)

	d, err := newDispatcher(cfg, endpoints, s)
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:        cfg,
		ledger:     newQuotaLedger(cfg, s),
		dispatcher: d,
		meter:      s.meter,
		health:     s.health,
		logger:     s.logger,
		now:        s.clock,
	}, nil
}

// Ledger returns the quota ledger used by the service.
func (s *Service) Ledger() *QuotaLedger { return s.ledger }

// Health returns the endpoint health tracker.
func (s *Service) Health() *HealthTracker { return s.health }

// Endpoints returns the names of the raced endpoints.
func (s *Service) Endpoints() []string { return s.dispatcher.Endpoints() }

// Ask builds the tutor prompt for question and sends it with the default model.
func (s *Service) Ask(ctx context.Context, question string, mode AnswerMode) (Answer, error) {
	return s.Send(ctx, ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: BuildPrompt(question, mode)}},
	})
}

// Send gates req through the ledger and races it.
//
// Outcomes:
//   - ErrTrialExpired when the free trial is over.
//   - A cached Answer when today's quota is used and a reply is cached.
//   - ErrQuotaExceeded when today's quota is used and nothing is cached.
//   - ErrFlagsUnavailable when the plan tier or trial start cannot be read.
//   - A *DispatchError matching ErrNoAnswer when every endpoint failed.
//     Nothing is recorded in that case.
func (s *Service) Send(ctx context.Context, req ChatRequest) (Answer, error) {
	requestID := uuid.New().String()
	start := s.now()
	log := s.logger.With(zap.String("request_id", requestID))
	plan := s.ledger.PlanTier(ctx)

	res, err := s.ledger.Reserve(ctx)
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			if msg, ok := s.ledger.CachedReply(ctx); ok && msg != nil {
				log.Info("quota used, serving cached reply")
				s.observe(requestID, plan, OutcomeCached, "", start)
				return Answer{Message: *msg, FromCache: true, RequestID: requestID}, nil
			}
			s.observe(requestID, plan, OutcomeQuotaExceeded, "", start)
			return Answer{}, err
		}
		if errors.Is(err, ErrTrialExpired) {
			s.observe(requestID, plan, OutcomeTrialExpired, "", start)
			return Answer{}, err
		}
		return Answer{}, fmt.Errorf("askgate: reserve: %w", err)
	}

	req = s.resolve(req)
	log.Debug("dispatching",
		zap.String("model", req.Model),
		zap.Strings("endpoints", s.dispatcher.Endpoints()),
	)

	win, err := s.dispatcher.Dispatch(ctx, requestID, req)
	if err != nil {
		s.ledger.Rollback(res)
		log.Warn("no answer", zap.Error(err))
		s.observe(requestID, plan, OutcomeNoAnswer, "", start)
		return Answer{}, err
	}

	s.ledger.Commit(ctx, res, win.Message)
	s.observe(requestID, plan, OutcomeAnswered, win.Endpoint, start)
	return Answer{Message: win.Message, Endpoint: win.Endpoint, RequestID: requestID}, nil
}

// resolve fills unset request fields from config.
func (s *Service) resolve(req ChatRequest) ChatRequest {
	if req.Model == "" {
		req.Model = s.cfg.DefaultModel
	}
	if req.MaxTokens == nil {
		req.MaxTokens = IntPtr(s.cfg.DefaultMaxTokens)
	}
	if req.Temperature == nil {
		req.Temperature = Float64Ptr(s.cfg.DefaultTemperature)
	}
	return req
}

func (s *Service) observe(requestID string, plan PlanTier, outcome Outcome, endpoint string, start time.Time) {
	s.meter.OnSend(SendEvent{
		RequestID: requestID,
		Namespace: s.cfg.Namespace,
		Plan:      plan,
		Outcome:   outcome,
		Endpoint:  endpoint,
		Duration:  s.now().Sub(start),
	})
}
