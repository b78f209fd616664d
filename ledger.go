package askgate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QuotaLedger gates sends against the daily call limit of the active plan tier
// and, on the free tier, against the trial window.
//
// Cache errors never surface from the gate: a failed load is treated as
// "no record" and a failed save is logged. A failed flag read denies the
// call with ErrFlagsUnavailable and is retried on the next call.
type QuotaLedger struct {
	cfg    Config
	cache  ResponseCache
	flags  FlagStore
	logger *zap.Logger
	now    func() time.Time
	loc    *time.Location

	mu         sync.Mutex
	loaded     bool
	tier       PlanTier
	trialStart *time.Time
	inFlight   map[string]struct{}
}

// Reservation is an admitted call that has not completed yet.
type Reservation struct {
	ID        string
	Namespace string
}

// NewQuotaLedger creates a ledger for cfg.Namespace.
func NewQuotaLedger(cfg Config, opts ...Option) *QuotaLedger {
	s := newSettings(cfg, opts)
	return newQuotaLedger(cfg, s)
}

func newQuotaLedger(cfg Config, s settings) *QuotaLedger {
	return &QuotaLedger{
		cfg:      cfg,
		cache:    s.cache,
		flags:    s.flags,
		logger:   s.logger.With(zap.String("namespace", cfg.Namespace)),
		now:      s.clock,
		loc:      s.location,
		tier:     cfg.DefaultPlan,
		inFlight: make(map[string]struct{}),
	}
}

// HasRemainingCalls reports whether a new call is permitted now.
// On the free tier with a trial window it records the trial start on first use.
func (l *QuotaLedger) HasRemainingCalls(ctx context.Context) bool {
	return l.Check(ctx) == nil
}

// Check returns ErrTrialExpired, ErrQuotaExceeded, or nil.
// Trial expiry is checked first and wins over quota.
// It returns an error matching ErrFlagsUnavailable, and never starts a
// trial, while the persisted tier or trial start cannot be read.
func (l *QuotaLedger) Check(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureLoaded(ctx); err != nil {
		return err
	}
	return l.admit(ctx, 0)
}

// Reserve admits one call and counts it as in flight until Commit or Rollback.
// Concurrent reservations in one process can never exceed the daily limit.
func (l *QuotaLedger) Reserve(ctx context.Context) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureLoaded(ctx); err != nil {
		return Reservation{}, err
	}
	if err := l.admit(ctx, len(l.inFlight)); err != nil {
		return Reservation{}, err
	}

	res := Reservation{ID: uuid.New().String(), Namespace: l.cfg.Namespace}
	l.inFlight[res.ID] = struct{}{}
	return res, nil
}

// Commit records a successful call for res and caches msg.
// Committing or rolling back the same reservation twice is a no-op.
func (l *QuotaLedger) Commit(ctx context.Context, res Reservation, msg ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.inFlight[res.ID]; !ok {
		return
	}
	delete(l.inFlight, res.ID)
	l.record(ctx, msg)
}

// Rollback releases res without recording a call.
func (l *QuotaLedger) Rollback(res Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.inFlight, res.ID)
}

// RecordSuccessfulCall increments today's call count and stores msg as the
// cached reply. It creates today's record at count 1 when none exists.
func (l *QuotaLedger) RecordSuccessfulCall(ctx context.Context, msg ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.record(ctx, msg)
}

// CachedReply returns today's cached reply. ok is false when there is no
// record for today. The message itself may be nil.
func (l *QuotaLedger) CachedReply(ctx context.Context) (msg *ChatMessage, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cfg.DisableCache {
		return nil, false
	}
	rec := l.loadRecord(ctx)
	if rec == nil || !l.sameDay(rec.CallDate, l.now()) {
		return nil, false
	}
	return rec.CachedMessage, true
}

// UsedToday returns today's recorded call count.
func (l *QuotaLedger) UsedToday(ctx context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.countToday(ctx, l.now())
}

// RemainingTrialDays returns the days left in the free trial.
// ok is false when subscribed or when no trial window is configured.
func (l *QuotaLedger) RemainingTrialDays(ctx context.Context) (days int, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.ensureLoaded(ctx)
	if l.tier == PlanPaid || l.cfg.FreePlanMaxDays <= 0 {
		return 0, false
	}
	if l.trialStart == nil {
		return l.cfg.FreePlanMaxDays, true
	}
	return max(l.cfg.FreePlanMaxDays-l.daysBetween(*l.trialStart, l.now()), 0), true
}

// TrialStart returns the recorded trial start, if any.
func (l *QuotaLedger) TrialStart(ctx context.Context) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.ensureLoaded(ctx)
	if l.trialStart == nil {
		return time.Time{}, false
	}
	return *l.trialStart, true
}

// SetPlanTier switches the active tier and persists it.
// The trial start and call counts are left untouched.
func (l *QuotaLedger) SetPlanTier(ctx context.Context, tier PlanTier) error {
	if !tier.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPlanTier, tier)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.ensureLoaded(ctx)
	l.tier = tier
	if err := l.flags.SetPlanTier(ctx, tier); err != nil {
		return fmt.Errorf("askgate: persist plan tier: %w", err)
	}
	return nil
}

// PlanTier returns the active tier.
func (l *QuotaLedger) PlanTier(ctx context.Context) PlanTier {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.ensureLoaded(ctx)
	return l.tier
}

// DailyLimit returns the call limit of the active tier.
func (l *QuotaLedger) DailyLimit(ctx context.Context) int {
	return l.cfg.DailyLimit(l.PlanTier(ctx))
}

// FollowPlanTier applies tier changes pushed by the flag store until ctx is done.
// It is a no-op when the store cannot watch.
func (l *QuotaLedger) FollowPlanTier(ctx context.Context) error {
	w, ok := l.flags.(PlanTierWatcher)
	if !ok {
		return nil
	}
	ch, err := w.WatchPlanTier(ctx)
	if err != nil {
		return fmt.Errorf("askgate: watch plan tier: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tier, ok := <-ch:
				if !ok {
					return
				}
				if !tier.Valid() {
					continue
				}
				l.mu.Lock()
				if l.tier != tier {
					l.logger.Info("plan tier changed externally", zap.String("plan", string(tier)))
				}
				l.tier = tier
				l.mu.Unlock()
			}
		}
	}()
	return nil
}

// ensureLoaded restores the persisted tier and trial start once.
// A failed read is retried on the next call.
// Must be called with l.mu held.
func (l *QuotaLedger) ensureLoaded(ctx context.Context) error {
	if l.loaded {
		return nil
	}

	var errs []error
	tier, ok, err := l.flags.PlanTier(ctx)
	if err != nil {
		l.logger.Warn("load plan tier", zap.Error(err))
		errs = append(errs, fmt.Errorf("plan tier: %w", err))
	} else if ok && tier.Valid() {
		l.tier = tier
	}

	start, ok, err := l.flags.TrialStart(ctx)
	if err != nil {
		l.logger.Warn("load trial start", zap.Error(err))
		errs = append(errs, fmt.Errorf("trial start: %w", err))
	} else if ok {
		l.trialStart = &start
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrFlagsUnavailable, errors.Join(errs...))
	}
	l.loaded = true
	return nil
}

// admit decides whether one more call fits, with pending calls already in flight.
// Must be called with l.mu held, after a successful ensureLoaded.
func (l *QuotaLedger) admit(ctx context.Context, pending int) error {
	now := l.now()

	if l.tier == PlanFree && l.cfg.FreePlanMaxDays > 0 {
		if l.trialStart == nil {
			l.trialStart = &now
			if err := l.flags.SetTrialStart(ctx, now); err != nil {
				l.logger.Warn("persist trial start", zap.Error(err))
			} else {
				l.logger.Info("free trial started", zap.Time("start", now))
			}
		}
		if l.daysBetween(*l.trialStart, now) >= l.cfg.FreePlanMaxDays {
			return ErrTrialExpired
		}
	}

	if l.cfg.DisableCache {
		return nil
	}

	if l.countToday(ctx, now)+pending >= l.cfg.DailyLimit(l.tier) {
		return ErrQuotaExceeded
	}
	return nil
}

// record must be called with l.mu held.
func (l *QuotaLedger) record(ctx context.Context, msg ChatMessage) {
	if l.cfg.DisableCache {
		return
	}

	now := l.now()
	rec := UsageRecord{CallDate: now, CallCount: 1, CachedMessage: &msg}
	if old := l.loadRecord(ctx); old != nil && l.sameDay(old.CallDate, now) {
		rec.CallCount = old.CallCount + 1
	}

	if err := l.cache.Save(ctx, l.cfg.Namespace, rec); err != nil {
		l.logger.Warn("save usage record", zap.Error(err))
		return
	}
	l.logger.Debug("usage recorded", zap.Int("call_count", rec.CallCount))
}

func (l *QuotaLedger) countToday(ctx context.Context, now time.Time) int {
	if l.cfg.DisableCache {
		return 0
	}
	rec := l.loadRecord(ctx)
	if rec == nil || !l.sameDay(rec.CallDate, now) {
		return 0
	}
	return rec.CallCount
}

func (l *QuotaLedger) loadRecord(ctx context.Context) *UsageRecord {
	rec, err := l.cache.Load(ctx, l.cfg.Namespace)
	if err != nil {
		l.logger.Warn("load usage record", zap.Error(err))
		return nil
	}
	return rec
}

func (l *QuotaLedger) sameDay(a, b time.Time) bool {
	ay, am, ad := a.In(l.loc).Date()
	by, bm, bd := b.In(l.loc).Date()
	return ay == by && am == bm && ad == bd
}

// daysBetween counts calendar days from the start of a's day to the start of b's day.
func (l *QuotaLedger) daysBetween(a, b time.Time) int {
	ay, am, ad := a.In(l.loc).Date()
	by, bm, bd := b.In(l.loc).Date()
	from := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	to := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}
