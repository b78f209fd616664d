package askgate

import (
	"context"
	"math"
	"sync"
	"time"
)

// Flag keys shared with the settings UI.
const (
	KeyPlanTier      = "BokiSubscriptionIsPaid"
	KeyFreePlanStart = "BokiFreePlanStartDate"
)

// FlagStore persists the plan tier and the free trial start date.
// Getters report ok=false when the key has never been written.
type FlagStore interface {
	PlanTier(ctx context.Context) (tier PlanTier, ok bool, err error)
	SetPlanTier(ctx context.Context, tier PlanTier) error
	TrialStart(ctx context.Context) (start time.Time, ok bool, err error)
	SetTrialStart(ctx context.Context, start time.Time) error
}

// PlanTierWatcher is optionally implemented by flag stores that can push
// plan tier changes made by another writer.
type PlanTierWatcher interface {
	WatchPlanTier(ctx context.Context) (<-chan PlanTier, error)
}

// EpochSeconds encodes t the way the trial start flag is persisted.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromEpochSeconds decodes a persisted trial start.
func FromEpochSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*float64(time.Second))))
}

// memoryFlags is the in-process FlagStore used when none is configured.
type memoryFlags struct {
	mu         sync.Mutex
	tier       *PlanTier
	trialStart *time.Time
}

func (m *memoryFlags) PlanTier(context.Context) (PlanTier, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tier == nil {
		return "", false, nil
	}
	return *m.tier, true, nil
}

func (m *memoryFlags) SetPlanTier(_ context.Context, tier PlanTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tier = &tier
	return nil
}

func (m *memoryFlags) TrialStart(context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trialStart == nil {
		return time.Time{}, false, nil
	}
	return *m.trialStart, true, nil
}

func (m *memoryFlags) SetTrialStart(_ context.Context, start time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trialStart = &start
	return nil
}
