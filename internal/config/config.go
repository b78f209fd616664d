// Package config loads the askgate binary configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ineyio/askgate"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Authority drivers.
const (
	AuthorityNone     = "none"
	AuthorityMock     = "mock"
	AuthorityStoreAPI = "storeapi"
)

// Config holds the askgate binary configuration.
type Config struct {
	Env       string          `yaml:"env"`
	Gateway   askgate.Config  `yaml:"gateway"`
	Storage   StorageConfig   `yaml:"storage"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Authority AuthorityConfig `yaml:"authority"`
	Questions QuestionsConfig `yaml:"questions"`
}

// StorageConfig selects where usage records and flags live.
type StorageConfig struct {
	Driver      string `yaml:"driver"` // memory, file, redis, postgres, sqlite (default: file)
	Dir         string `yaml:"dir"`    // file cache and flags.json
	RedisAddr   string `yaml:"redis_addr"`
	RedisPass   string `yaml:"redis_password"`
	RedisDB     int    `yaml:"redis_db"`
	PostgresDSN string `yaml:"postgres_dsn"`
	SQLitePath  string `yaml:"sqlite_path"`
	KeyPrefix   string `yaml:"key_prefix"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeoutSec  int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec int      `yaml:"write_timeout_sec"`
	ShutdownSec     int      `yaml:"shutdown_timeout_sec"`
	CORSOrigins     []string `yaml:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthorityConfig selects the purchase authority.
type AuthorityConfig struct {
	Driver        string `yaml:"driver"` // none, mock, storeapi (default: none)
	BaseURL       string `yaml:"base_url"`
	Token         string `yaml:"token"`
	PublicKeyPath string `yaml:"public_key_path"`
}

// QuestionsConfig points at the bundled question catalog.
type QuestionsConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{
		Env:     GetEnv(),
		Gateway: askgate.DefaultConfig(),
	}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads configuration from a YAML file. A .env file in the working
// directory is loaded first when present. An empty path returns Default().
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses YAML config bytes on top of Default().
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	cfg := Config{Env: GetEnv(), Gateway: askgate.DefaultConfig()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Env == "" {
		c.Env = "local"
	}
	c.Gateway.ApplyDefaults()
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverFile
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "data"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.Storage.Dir, "askgate.db")
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "askgate:"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// Must outlast a full endpoint race.
		c.HTTP.WriteTimeoutSec = int(c.Gateway.RequestTimeout.Seconds()) + 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Authority.Driver == "" {
		c.Authority.Driver = AuthorityNone
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if err := c.Gateway.Validate(); err != nil {
		return err
	}
	if len(c.Gateway.Endpoints) == 0 {
		return fmt.Errorf("gateway.endpoints: at least one endpoint is required")
	}

	switch c.Storage.Driver {
	case DriverMemory, DriverFile, DriverSQLite:
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.redis_addr is required for the redis driver")
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be one of memory, file, redis, postgres, sqlite, got %q", c.Storage.Driver)
	}

	switch c.Authority.Driver {
	case AuthorityNone, AuthorityMock:
	case AuthorityStoreAPI:
		if c.Authority.BaseURL == "" || c.Authority.PublicKeyPath == "" {
			return fmt.Errorf("authority.base_url and authority.public_key_path are required for storeapi")
		}
	default:
		return fmt.Errorf("authority.driver must be one of none, mock, storeapi, got %q", c.Authority.Driver)
	}
	return nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
