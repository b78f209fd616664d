package askgate_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/askgate"
	"github.com/ineyio/askgate/cache"
	"github.com/ineyio/askgate/endpoint/mock"
	"github.com/ineyio/askgate/flags"
)

type serviceFixture struct {
	svc   *askgate.Service
	cache *cache.MemoryCache
	flags *flags.MemoryStore
	clock *fakeClock
	meter *recordingMeter
}

func newServiceFixture(t *testing.T, cfg askgate.Config, endpoints ...askgate.Endpoint) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		cache: cache.NewMemoryCache(),
		flags: flags.NewMemoryStore(),
		clock: newClock(day0),
		meter: &recordingMeter{},
	}
	svc, err := askgate.NewService(cfg, endpoints,
		askgate.WithResponseCache(f.cache),
		askgate.WithFlagStore(f.flags),
		askgate.WithClock(f.clock.Now),
		askgate.WithLocation(time.UTC),
		askgate.WithMeter(f.meter),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestService_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Namespace = "a/b"
	_, err := askgate.NewService(cfg, []askgate.Endpoint{mock.New()})
	assert.Error(t, err)
}

func TestService_SendRecordsSuccess(t *testing.T) {
	f := newServiceFixture(t, testConfig(), mock.New(mock.WithContent("fresh")))
	ctx := context.Background()

	ans, err := f.svc.Send(ctx, testRequest)
	require.NoError(t, err)
	assert.False(t, ans.FromCache)
	assert.Equal(t, "fresh", ans.Message.Content)
	assert.Equal(t, "mock", ans.Endpoint)
	assert.NotEmpty(t, ans.RequestID)

	rec, err := f.cache.Load(ctx, testNamespace)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.CallCount)
	assert.Equal(t, "fresh", rec.CachedMessage.Content)

	sends := f.meter.Sends()
	require.Len(t, sends, 1)
	assert.Equal(t, askgate.OutcomeAnswered, sends[0].Outcome)
	assert.Equal(t, askgate.PlanFree, sends[0].Plan)
	assert.Equal(t, testNamespace, sends[0].Namespace)
}

func TestService_FillsRequestDefaults(t *testing.T) {
	var got askgate.ChatRequest
	ep := mock.New(mock.WithResponseFunc(func(req askgate.ChatRequest) (askgate.ChatMessage, error) {
		got = req
		return askgate.ChatMessage{Role: askgate.RoleAssistant, Content: "ok"}, nil
	}))
	f := newServiceFixture(t, testConfig(), ep)

	_, err := f.svc.Send(context.Background(), askgate.ChatRequest{
		Messages: []askgate.ChatMessage{{Role: askgate.RoleUser, Content: "q"}},
	})
	require.NoError(t, err)
	assert.Equal(t, askgate.DefaultModel, got.Model)
	require.NotNil(t, got.MaxTokens)
	assert.Equal(t, askgate.DefaultMaxTokens, *got.MaxTokens)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, askgate.DefaultTemperature, *got.Temperature, 1e-9)
}

func TestService_QuotaExhaustedServesCache(t *testing.T) {
	ep := mock.New(mock.WithContent("should not be called"))
	f := newServiceFixture(t, testConfig(), ep)
	ctx := context.Background()
	require.NoError(t, f.cache.Save(ctx, testNamespace, askgate.UsageRecord{
		CallDate:      day0,
		CallCount:     10,
		CachedMessage: &askgate.ChatMessage{Role: askgate.RoleAssistant, Content: "cached"},
	}))

	ans, err := f.svc.Send(ctx, testRequest)
	require.NoError(t, err)
	assert.True(t, ans.FromCache)
	assert.Equal(t, "cached", ans.Message.Content)
	assert.Zero(t, ep.CallCount())

	rec, _ := f.cache.Load(ctx, testNamespace)
	assert.Equal(t, 10, rec.CallCount)
	assert.Equal(t, askgate.OutcomeCached, f.meter.Sends()[0].Outcome)
}

func TestService_QuotaExhaustedWithoutCachedMessage(t *testing.T) {
	f := newServiceFixture(t, testConfig(), mock.New())
	ctx := context.Background()
	require.NoError(t, f.cache.Save(ctx, testNamespace, askgate.UsageRecord{CallDate: day0, CallCount: 10}))

	_, err := f.svc.Send(ctx, testRequest)
	assert.ErrorIs(t, err, askgate.ErrQuotaExceeded)
	assert.True(t, askgate.IsDenied(err))
	assert.Equal(t, askgate.OutcomeQuotaExceeded, f.meter.Sends()[0].Outcome)
}

func TestService_FailureWritesNothing(t *testing.T) {
	ep := mock.New(mock.WithError(askgate.ErrDecode))
	f := newServiceFixture(t, testConfig(), ep)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, testRequest)
	assert.ErrorIs(t, err, askgate.ErrNoAnswer)
	assert.False(t, askgate.IsDenied(err))

	rec, err := f.cache.Load(ctx, testNamespace)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, askgate.OutcomeNoAnswer, f.meter.Sends()[0].Outcome)
}

func TestService_FailureKeepsPreviousCache(t *testing.T) {
	ep := mock.New(mock.WithFailAfter(1), mock.WithContent("first"))
	f := newServiceFixture(t, testConfig(), ep)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, testRequest)
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, testRequest)
	require.ErrorIs(t, err, askgate.ErrNoAnswer)

	rec, _ := f.cache.Load(ctx, testNamespace)
	assert.Equal(t, 1, rec.CallCount)
	assert.Equal(t, "first", rec.CachedMessage.Content)
}

func TestService_TrialExpired(t *testing.T) {
	ep := mock.New()
	f := newServiceFixture(t, testConfig(), ep)
	ctx := context.Background()
	require.NoError(t, f.flags.SetTrialStart(ctx, day0.AddDate(0, 0, -31)))
	require.NoError(t, f.cache.Save(ctx, testNamespace, askgate.UsageRecord{
		CallDate:      day0,
		CallCount:     10,
		CachedMessage: &askgate.ChatMessage{Content: "cached"},
	}))

	_, err := f.svc.Send(ctx, testRequest)
	assert.ErrorIs(t, err, askgate.ErrTrialExpired)
	assert.Zero(t, ep.CallCount())
	assert.Equal(t, askgate.OutcomeTrialExpired, f.meter.Sends()[0].Outcome)
}

func TestService_NewDayResetsCount(t *testing.T) {
	f := newServiceFixture(t, testConfig(), mock.New(mock.WithContent("today")))
	ctx := context.Background()
	require.NoError(t, f.cache.Save(ctx, testNamespace, askgate.UsageRecord{
		CallDate:      day0.AddDate(0, 0, -1),
		CallCount:     10,
		CachedMessage: &askgate.ChatMessage{Content: "yesterday"},
	}))

	ans, err := f.svc.Send(ctx, testRequest)
	require.NoError(t, err)
	assert.False(t, ans.FromCache)
	assert.Equal(t, 1, f.svc.Ledger().UsedToday(ctx))
}

func TestService_DisableCache(t *testing.T) {
	cfg := testConfig()
	cfg.DisableCache = true
	f := newServiceFixture(t, cfg, mock.New())
	ctx := context.Background()

	for range 15 {
		_, err := f.svc.Send(ctx, testRequest)
		require.NoError(t, err)
	}
	rec, _ := f.cache.Load(ctx, testNamespace)
	assert.Nil(t, rec)
}

func TestService_AskBuildsPrompt(t *testing.T) {
	var prompt string
	ep := mock.New(mock.WithResponseFunc(func(req askgate.ChatRequest) (askgate.ChatMessage, error) {
		prompt = req.Messages[0].Content
		return askgate.ChatMessage{Role: askgate.RoleAssistant, Content: "ok"}, nil
	}))
	f := newServiceFixture(t, testConfig(), ep)

	_, err := f.svc.Ask(context.Background(), "仕訳とは？", askgate.ModeSimple)
	require.NoError(t, err)
	assert.True(t, strings.Contains(prompt, "仕訳とは？"))
	assert.True(t, strings.Contains(prompt, askgate.ModeSimple.Instruction()))
	assert.Equal(t, []string{"mock"}, f.svc.Endpoints())
}
