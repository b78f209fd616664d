package askgate_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/askgate"
)

func TestDefaultConfig(t *testing.T) {
	cfg := askgate.DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "MyohoBokiQA", cfg.Namespace)
	assert.Equal(t, 10, cfg.DailyLimit(askgate.PlanFree))
	assert.Equal(t, 100, cfg.DailyLimit(askgate.PlanPaid))
	assert.Equal(t, 30, cfg.FreePlanMaxDays)
	assert.Equal(t, "gpt-5-nano", cfg.DefaultModel)
	assert.Equal(t, 700, cfg.DefaultMaxTokens)
	require.Len(t, cfg.Endpoints, 2)
	assert.Equal(t, "https://myodo-api.onrender.com/chat", cfg.Endpoints[0].URL)
	assert.Equal(t, "https://www.massqu.com/chat", cfg.Endpoints[1].URL)
}

func TestParseConfig_OverridesAndEnv(t *testing.T) {
	t.Setenv("ASKGATE_TEST_KEY", "sk-test")

	cfg, err := askgate.ParseConfig([]byte(`
namespace: OtherQA
free_calls_per_day: 5
free_plan_max_days: 0
default_temperature: 0
request_timeout: 5s
time_zone: UTC
endpoints:
  - name: primary
    url: https://example.com/chat
  - name: openai
    kind: openai
    api_key: ${ASKGATE_TEST_KEY}
`))
	require.NoError(t, err)

	assert.Equal(t, "OtherQA", cfg.Namespace)
	assert.Equal(t, 5, cfg.FreeCallsPerDay)
	assert.Equal(t, 100, cfg.PaidCallsPerDay)
	assert.Zero(t, cfg.FreePlanMaxDays)
	assert.Zero(t, cfg.DefaultTemperature)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	require.Len(t, cfg.Endpoints, 2)
	assert.Equal(t, askgate.EndpointKindChat, cfg.Endpoints[0].Kind)
	assert.Equal(t, "sk-test", cfg.Endpoints[1].APIKey)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "askgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("paid_calls_per_day: 50\n"), 0o600))

	cfg, err := askgate.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.PaidCallsPerDay)

	_, err = askgate.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*askgate.Config)
	}{
		{"path in namespace", func(c *askgate.Config) { c.Namespace = "../x" }},
		{"negative trial", func(c *askgate.Config) { c.FreePlanMaxDays = -1 }},
		{"bad plan", func(c *askgate.Config) { c.DefaultPlan = "gold" }},
		{"bad zone", func(c *askgate.Config) { c.TimeZone = "Nowhere/Land" }},
		{"duplicate endpoint", func(c *askgate.Config) { c.Endpoints[1].Name = c.Endpoints[0].Name }},
		{"chat without url", func(c *askgate.Config) { c.Endpoints[0].URL = "" }},
		{"unknown kind", func(c *askgate.Config) { c.Endpoints[0].Kind = "grpc" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := askgate.DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
