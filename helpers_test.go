package askgate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ineyio/askgate"
	"github.com/ineyio/askgate/cache"
	"github.com/ineyio/askgate/flags"
)

const testNamespace = "TestQA"

var day0 = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) AddDays(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, n)
}

// failingCache errors on every call.
type failingCache struct{}

var errBackend = errors.New("backend down")

func (failingCache) Load(context.Context, string) (*askgate.UsageRecord, error) {
	return nil, errBackend
}

func (failingCache) Save(context.Context, string, askgate.UsageRecord) error { return errBackend }

func testConfig() askgate.Config {
	cfg := askgate.DefaultConfig()
	cfg.Namespace = testNamespace
	cfg.TimeZone = "UTC"
	cfg.Endpoints = nil
	return cfg
}

type ledgerFixture struct {
	ledger *askgate.QuotaLedger
	cache  *cache.MemoryCache
	flags  *flags.MemoryStore
	clock  *fakeClock
}

func newLedgerFixture(t *testing.T, cfg askgate.Config) *ledgerFixture {
	t.Helper()
	f := &ledgerFixture{
		cache: cache.NewMemoryCache(),
		flags: flags.NewMemoryStore(),
		clock: newClock(day0),
	}
	f.ledger = askgate.NewQuotaLedger(cfg,
		askgate.WithResponseCache(f.cache),
		askgate.WithFlagStore(f.flags),
		askgate.WithClock(f.clock.Now),
		askgate.WithLocation(time.UTC),
	)
	return f
}

func (f *ledgerFixture) seed(t *testing.T, at time.Time, count int, content string) {
	t.Helper()
	rec := askgate.UsageRecord{CallDate: at, CallCount: count}
	if content != "" {
		rec.CachedMessage = &askgate.ChatMessage{Role: askgate.RoleAssistant, Content: content}
	}
	require.NoError(t, f.cache.Save(context.Background(), testNamespace, rec))
}

func (f *ledgerFixture) record(t *testing.T) *askgate.UsageRecord {
	t.Helper()
	rec, err := f.cache.Load(context.Background(), testNamespace)
	require.NoError(t, err)
	return rec
}

// recordingMeter keeps every event for assertions.
type recordingMeter struct {
	mu      sync.Mutex
	results []askgate.ResultEvent
	sends   []askgate.SendEvent
}

func (m *recordingMeter) OnResult(e askgate.ResultEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, e)
}

func (m *recordingMeter) OnSend(e askgate.SendEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, e)
}

func (m *recordingMeter) Results() []askgate.ResultEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]askgate.ResultEvent(nil), m.results...)
}

func (m *recordingMeter) Sends() []askgate.SendEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]askgate.SendEvent(nil), m.sends...)
}
