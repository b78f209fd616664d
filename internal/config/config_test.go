package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/askgate"
	"github.com/ineyio/askgate/internal/config"
)

func TestDefault(t *testing.T) {
	t.Setenv("ENV", "")
	cfg := config.Default()

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, config.DriverFile, cfg.Storage.Driver)
	assert.Equal(t, "data", cfg.Storage.Dir)
	assert.Equal(t, filepath.Join("data", "askgate.db"), cfg.Storage.SQLitePath)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, int(askgate.DefaultRequestTimeout.Seconds())+10, cfg.HTTP.WriteTimeoutSec)
	assert.Equal(t, config.AuthorityNone, cfg.Authority.Driver)
	assert.NoError(t, cfg.Validate())
}

func TestParse_FullDocument(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("ASKGATE_TEST_KEY", "sk-from-env")

	cfg, err := config.Parse([]byte(`
env: prod
gateway:
  namespace: TestQA
  free_calls_per_day: 3
  request_timeout: 5s
  time_zone: UTC
  endpoints:
    - name: primary
      url: https://primary.example/chat
      api_key: ${ASKGATE_TEST_KEY}
    - name: compat
      kind: openai
      url: ${ASKGATE_TEST_COMPAT_URL:-https://compat.example/v1}
storage:
  driver: redis
  redis_addr: localhost:6379
http:
  addr: ":9090"
  cors_origins: ["https://app.example"]
logging:
  level: debug
authority:
  driver: mock
`))
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "TestQA", cfg.Gateway.Namespace)
	assert.Equal(t, 3, cfg.Gateway.FreeCallsPerDay)
	assert.Equal(t, askgate.DefaultPaidCallsPerDay, cfg.Gateway.PaidCallsPerDay)
	assert.Equal(t, 5*time.Second, cfg.Gateway.RequestTimeout)
	require.Len(t, cfg.Gateway.Endpoints, 2)
	assert.Equal(t, "sk-from-env", cfg.Gateway.Endpoints[0].APIKey)
	assert.Equal(t, askgate.EndpointKindChat, cfg.Gateway.Endpoints[0].Kind)
	assert.Equal(t, "https://compat.example/v1", cfg.Gateway.Endpoints[1].URL)
	assert.Equal(t, config.DriverRedis, cfg.Storage.Driver)
	assert.Equal(t, "askgate:", cfg.Storage.KeyPrefix)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 15, cfg.HTTP.WriteTimeoutSec)
	assert.Equal(t, []string{"https://app.example"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, config.AuthorityMock, cfg.Authority.Driver)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "gateway: ["},
		{"no endpoints", "gateway:\n  endpoints: []\n"},
		{"unknown driver", "storage:\n  driver: mongo\n"},
		{"redis without addr", "storage:\n  driver: redis\n"},
		{"postgres without dsn", "storage:\n  driver: postgres\n"},
		{"storeapi without key", "authority:\n  driver: storeapi\n  base_url: https://store.example\n"},
		{"unknown authority", "authority:\n  driver: playstore\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("ENV", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "askgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: memory\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DriverMemory, cfg.Storage.Driver)

	_, err = config.Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	cfg, err = config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.DriverFile, cfg.Storage.Driver)
}

func TestGetEnv(t *testing.T) {
	t.Setenv("ENV", "prod")
	assert.Equal(t, "prod", config.GetEnv())

	t.Setenv("ENV", "")
	assert.Equal(t, "local", config.GetEnv())
}
