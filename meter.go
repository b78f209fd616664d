package askgate

import "time"

// Meter observes gateway events for monitoring/logging.
type Meter interface {
	// OnResult is called once per endpoint attempt of a race.
	OnResult(event ResultEvent)

	// OnSend is called once per Send with its final outcome.
	OnSend(event SendEvent)
}

// ResultEvent describes how one endpoint of a race settled.
type ResultEvent struct {
	RequestID string
	Endpoint  string
	Model     string
	Success   bool
	// Cancelled is set for losers stopped after another endpoint won.
	Cancelled bool
	Duration  time.Duration
	Error     error
}

// Outcome classifies a Send.
type Outcome string

const (
	OutcomeAnswered      Outcome = "answered"
	OutcomeCached        Outcome = "cached"
	OutcomeQuotaExceeded Outcome = "quota_exceeded"
	OutcomeTrialExpired  Outcome = "trial_expired"
	OutcomeNoAnswer      Outcome = "no_answer"
)

// SendEvent describes a finished Send.
type SendEvent struct {
	RequestID string
	Namespace string
	Plan      PlanTier
	Outcome   Outcome
	Endpoint  string
	Duration  time.Duration
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (noopMeter) OnResult(ResultEvent) {}
func (noopMeter) OnSend(SendEvent)     {}
