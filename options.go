package askgate

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a Service and the components it builds.
// Components constructed directly accept the same options and
// ignore the ones that do not apply to them.
type Option func(*settings)

type settings struct {
	cache    ResponseCache
	flags    FlagStore
	meter    Meter
	health   *HealthTracker
	logger   *zap.Logger
	clock    func() time.Time
	location *time.Location
}

// WithResponseCache sets the response cache backend.
func WithResponseCache(c ResponseCache) Option {
	return func(s *settings) { s.cache = c }
}

// WithFlagStore sets the plan tier and trial flag store.
func WithFlagStore(f FlagStore) Option {
	return func(s *settings) { s.flags = f }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(s *settings) { s.meter = m }
}

// WithHealthTracker sets the endpoint health tracker.
func WithHealthTracker(h *HealthTracker) Option {
	return func(s *settings) { s.health = h }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.clock = now }
}

// WithLocation overrides the calendar location from Config.TimeZone.
func WithLocation(loc *time.Location) Option {
	return func(s *settings) { s.location = loc }
}

func newSettings(cfg Config, opts []Option) settings {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	// Apply defaults after options.
	if s.cache == nil {
		s.cache = noopCache{}
	}
	if s.flags == nil {
		s.flags = &memoryFlags{}
	}
	if s.meter == nil {
		s.meter = noopMeter{}
	}
	if s.health == nil {
		s.health = NewHealthTracker()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.location == nil {
		loc, err := cfg.Location()
		if err != nil {
			loc = time.Local
		}
		s.location = loc
	}
	return s
}
