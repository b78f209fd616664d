package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	gochi "github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ineyio/askgate"
	logpkg "github.com/ineyio/askgate/internal/logger"
	"github.com/ineyio/askgate/internal/questions"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeBadRequest          = "bad_request"
	CodeValidationFailed    = "validation_failed"
	CodeTrialExpired        = "trial_expired"
	CodeQuotaExceeded       = "quota_exceeded"
	CodeNoAnswer            = "no_answer"
	CodeFlagsUnavailable    = "flags_unavailable"
	CodeNotFound            = "not_found"
	CodeNoActiveEntitlement = "no_active_entitlement"
	CodeVerificationFailed  = "verification_failed"
	CodeNotImplemented      = "not_implemented"
	CodeInternalError       = "internal_error"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server exposes the gateway over HTTP.
type Server struct {
	gateway       *askgate.Service
	entitlements  *askgate.EntitlementSync
	catalog       *questions.Catalog
	gatherer      prometheus.Gatherer
	validate      *validator.Validate
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. entitlements may be nil, in which
// case the entitlement routes answer 501. A nil gatherer serves the default registry.
func NewServer(
	gateway *askgate.Service,
	entitlements *askgate.EntitlementSync,
	catalog *questions.Catalog,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	if catalog == nil {
		catalog = questions.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		gateway:      gateway,
		entitlements: entitlements,
		catalog:      catalog,
		gatherer:     gatherer,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		logger:       logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(askgate.ErrTrialExpired, http.StatusPaymentRequired, CodeTrialExpired),
		sentinelHandler(askgate.ErrQuotaExceeded, http.StatusTooManyRequests, CodeQuotaExceeded),
		sentinelHandler(askgate.ErrNoAnswer, http.StatusServiceUnavailable, CodeNoAnswer),
		sentinelHandler(askgate.ErrFlagsUnavailable, http.StatusServiceUnavailable, CodeFlagsUnavailable),
		sentinelHandler(askgate.ErrInvalidAnswerMode, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(askgate.ErrInvalidPlanTier, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(askgate.ErrNoActiveEntitlement, http.StatusNotFound, CodeNoActiveEntitlement),
		sentinelHandler(askgate.ErrProductNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(askgate.ErrVerificationFailed, http.StatusForbidden, CodeVerificationFailed),
	}
	return s
}

// Handler builds the router with middleware. corsOrigins defaults to any origin.
func (s *Server) Handler(corsOrigins []string) http.Handler {
	r := gochi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(corsMiddleware(corsOrigins))

	r.Get("/healthz", s.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r gochi.Router) {
		r.Post("/ask", s.Ask)
		r.Post("/chat", s.Chat)
		r.Get("/quota", s.Quota)
		r.Put("/plan", s.SetPlan)
		r.Post("/entitlements/refresh", s.RefreshEntitlements)
		r.Post("/entitlements/restore", s.RestoreEntitlements)
		r.Post("/entitlements/purchase", s.Purchase)
		r.Get("/categories", s.Categories)
		r.Get("/categories/{id}/questions", s.Questions)
	})
	return r
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AskRequest is the body of POST /v1/ask.
type AskRequest struct {
	Question string `json:"question" validate:"required"`
	Mode     string `json:"mode" validate:"omitempty,oneof=simple standard detailed"`
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Model       string           `json:"model"`
	Messages    []MessagePayload `json:"messages" validate:"required,min=1,dive"`
	MaxTokens   *int             `json:"max_tokens" validate:"omitempty,gt=0"`
	Temperature *float64         `json:"temperature" validate:"omitempty,gte=0,lte=2"`
}

// MessagePayload is one chat message in a request.
type MessagePayload struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required"`
}

// AnswerResponse is returned by /v1/ask and /v1/chat.
type AnswerResponse struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	FromCache bool   `json:"from_cache"`
	Endpoint  string `json:"endpoint,omitempty"`
	RequestID string `json:"request_id"`
}

// QuotaResponse is returned by GET /v1/quota.
type QuotaResponse struct {
	Plan               string     `json:"plan"`
	DailyLimit         int        `json:"daily_limit"`
	UsedToday          int        `json:"used_today"`
	HasRemainingCalls  bool       `json:"has_remaining_calls"`
	RemainingTrialDays *int       `json:"remaining_trial_days,omitempty"`
	TrialStart         *time.Time `json:"trial_start,omitempty"`
}

// PlanRequest is the body of PUT /v1/plan.
type PlanRequest struct {
	Plan string `json:"plan" validate:"required,oneof=free paid"`
}

// EntitlementResponse is returned by the entitlement routes.
type EntitlementResponse struct {
	Subscribed bool   `json:"subscribed"`
	Status     string `json:"status,omitempty"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status    string                   `json:"status"`
	Endpoints []askgate.EndpointHealth `json:"endpoints"`
}

// Ask handles POST /v1/ask.
func (s *Server) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if !s.decode(w, r, &req) {
		return
	}
	mode, err := askgate.ParseAnswerMode(req.Mode)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	ans, err := s.gateway.Ask(r.Context(), req.Question, mode)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answerToResponse(ans))
}

// Chat handles POST /v1/chat.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !s.decode(w, r, &req) {
		return
	}

	msgs := make([]askgate.ChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = askgate.ChatMessage{Role: m.Role, Content: m.Content}
	}
	ans, err := s.gateway.Send(r.Context(), askgate.ChatRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answerToResponse(ans))
}

// Quota handles GET /v1/quota.
func (s *Server) Quota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ledger := s.gateway.Ledger()

	resp := QuotaResponse{
		Plan:              string(ledger.PlanTier(ctx)),
		DailyLimit:        ledger.DailyLimit(ctx),
		UsedToday:         ledger.UsedToday(ctx),
		HasRemainingCalls: ledger.HasRemainingCalls(ctx),
	}
	if days, ok := ledger.RemainingTrialDays(ctx); ok {
		resp.RemainingTrialDays = &days
	}
	if start, ok := ledger.TrialStart(ctx); ok {
		resp.TrialStart = &start
	}
	writeJSON(w, http.StatusOK, resp)
}

// SetPlan handles PUT /v1/plan.
func (s *Server) SetPlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.gateway.Ledger().SetPlanTier(r.Context(), askgate.PlanTier(req.Plan)); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshEntitlements handles POST /v1/entitlements/refresh.
func (s *Server) RefreshEntitlements(w http.ResponseWriter, r *http.Request) {
	if !s.requireEntitlements(w) {
		return
	}
	subscribed, err := s.entitlements.Refresh(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EntitlementResponse{Subscribed: subscribed})
}

// RestoreEntitlements handles POST /v1/entitlements/restore.
func (s *Server) RestoreEntitlements(w http.ResponseWriter, r *http.Request) {
	if !s.requireEntitlements(w) {
		return
	}
	subscribed, err := s.entitlements.Restore(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EntitlementResponse{Subscribed: subscribed})
}

// Purchase handles POST /v1/entitlements/purchase.
func (s *Server) Purchase(w http.ResponseWriter, r *http.Request) {
	if !s.requireEntitlements(w) {
		return
	}
	status, err := s.entitlements.Purchase(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EntitlementResponse{
		Subscribed: s.entitlements.IsSubscribed(),
		Status:     string(status),
	})
}

// Categories handles GET /v1/categories.
func (s *Server) Categories(w http.ResponseWriter, _ *http.Request) {
	out := make([]questions.Category, len(s.catalog.Categories))
	for i, c := range s.catalog.Categories {
		out[i] = questions.Category{ID: c.ID, Title: c.Title}
	}
	writeJSON(w, http.StatusOK, out)
}

// Questions handles GET /v1/categories/{id}/questions?q=.
func (s *Server) Questions(w http.ResponseWriter, r *http.Request) {
	id := gochi.URLParam(r, "id")
	qs, ok := s.catalog.Search(id, r.URL.Query().Get("q"))
	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, "category not found")
		return
	}
	if qs == nil {
		qs = []string{}
	}
	writeJSON(w, http.StatusOK, qs)
}

// Health handles GET /healthz.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Endpoints: s.gateway.Health().Snapshot(),
	})
}

func (s *Server) requireEntitlements(w http.ResponseWriter) bool {
	if s.entitlements == nil {
		writeError(w, http.StatusNotImplemented, CodeNotImplemented, "no purchase authority configured")
		return false
	}
	return true
}

// decode reads and validates a JSON body. It writes the 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "Validation failed: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	for _, h := range s.errorHandlers {
		if h(w, err) {
			log.Info("request denied", zap.Error(err))
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}

// sentinelHandler maps a sentinel to a status. The message is the sentinel's
// own text so wrapped internals never reach the client.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

func answerToResponse(a askgate.Answer) AnswerResponse {
	return AnswerResponse{
		Role:      a.Message.Role,
		Content:   a.Message.Content,
		FromCache: a.FromCache,
		Endpoint:  a.Endpoint,
		RequestID: a.RequestID,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
