// Package flags holds FlagStore backends for askgate.
package flags

import (
	"context"
	"sync"
	"time"

	"github.com/ineyio/askgate"
)

// MemoryStore is an in-process FlagStore that also pushes tier changes to watchers.
type MemoryStore struct {
	mu         sync.Mutex
	tier       *askgate.PlanTier
	trialStart *time.Time
	watchers   map[chan askgate.PlanTier]struct{}
}

var (
	_ askgate.FlagStore       = (*MemoryStore)(nil)
	_ askgate.PlanTierWatcher = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{watchers: make(map[chan askgate.PlanTier]struct{})}
}

func (s *MemoryStore) PlanTier(context.Context) (askgate.PlanTier, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tier == nil {
		return "", false, nil
	}
	return *s.tier, true, nil
}

func (s *MemoryStore) SetPlanTier(_ context.Context, tier askgate.PlanTier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tier = &tier
	for ch := range s.watchers {
		select {
		case ch <- tier:
		default: // slow watcher drops the update
		}
	}
	return nil
}

func (s *MemoryStore) TrialStart(context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trialStart == nil {
		return time.Time{}, false, nil
	}
	return *s.trialStart, true, nil
}

func (s *MemoryStore) SetTrialStart(_ context.Context, start time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trialStart = &start
	return nil
}

// WatchPlanTier streams tier writes until ctx is done.
func (s *MemoryStore) WatchPlanTier(ctx context.Context) (<-chan askgate.PlanTier, error) {
	ch := make(chan askgate.PlanTier, 8)

	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}
