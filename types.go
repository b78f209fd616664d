package askgate

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the wire and cache payload unit.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is one logical chat request sent to every endpoint of a race.
// Nil MaxTokens and Temperature are filled from Config by the Service.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// PlanTier selects the active daily call limit.
type PlanTier string

const (
	PlanFree PlanTier = "free"
	PlanPaid PlanTier = "paid"
)

// Valid reports whether t is a known tier.
func (t PlanTier) Valid() bool {
	return t == PlanFree || t == PlanPaid
}

// PlanTierFromPaid maps the persisted "is paid" flag to a tier.
func PlanTierFromPaid(paid bool) PlanTier {
	if paid {
		return PlanPaid
	}
	return PlanFree
}

// UsageRecord is the persisted per-namespace call ledger and last response.
type UsageRecord struct {
	CallDate      time.Time
	CallCount     int
	CachedMessage *ChatMessage
}

// Answer is the outcome of a successful Send.
type Answer struct {
	Message   ChatMessage
	FromCache bool
	Endpoint  string
	RequestID string
}

// IntPtr returns a pointer to the given int.
func IntPtr(v int) *int { return &v }

// Float64Ptr returns a pointer to the given float64.
func Float64Ptr(v float64) *float64 { return &v }
