package askgate

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults used by DefaultConfig and ApplyDefaults.
const (
	DefaultNamespace       = "MyohoBokiQA"
	DefaultFreeCallsPerDay = 10
	DefaultPaidCallsPerDay = 100
	DefaultFreePlanMaxDays = 30
	DefaultModel           = "gpt-5-nano"
	DefaultMaxTokens       = 700
	DefaultTemperature     = 0.7
	DefaultRequestTimeout  = 30 * time.Second
	DefaultProductID       = "myoho.subscription.monthly"
)

// Endpoint kinds.
const (
	EndpointKindChat   = "chat"
	EndpointKindOpenAI = "openai"
)

// Config is the gateway configuration.
type Config struct {
	Namespace       string `yaml:"namespace"`
	FreeCallsPerDay int    `yaml:"free_calls_per_day"`
	PaidCallsPerDay int    `yaml:"paid_calls_per_day"`
	// FreePlanMaxDays is the free trial window in days. Zero disables it.
	FreePlanMaxDays int `yaml:"free_plan_max_days"`
	// DefaultPlan applies until a plan tier has been persisted.
	DefaultPlan        PlanTier         `yaml:"default_plan"`
	DefaultModel       string           `yaml:"default_model"`
	DefaultMaxTokens   int              `yaml:"default_max_tokens"`
	DefaultTemperature float64          `yaml:"default_temperature"`
	DisableCache       bool             `yaml:"disable_cache"`
	RequestTimeout     time.Duration    `yaml:"request_timeout"`
	TimeZone           string           `yaml:"time_zone"`
	ProductID          string           `yaml:"product_id"`
	Endpoints          []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig configures a single redundant backend.
type EndpointConfig struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// DefaultConfig returns the production defaults, including both chat backends.
func DefaultConfig() Config {
	return Config{
		Namespace:          DefaultNamespace,
		FreeCallsPerDay:    DefaultFreeCallsPerDay,
		PaidCallsPerDay:    DefaultPaidCallsPerDay,
		FreePlanMaxDays:    DefaultFreePlanMaxDays,
		DefaultPlan:        PlanFree,
		DefaultModel:       DefaultModel,
		DefaultMaxTokens:   DefaultMaxTokens,
		DefaultTemperature: DefaultTemperature,
		RequestTimeout:     DefaultRequestTimeout,
		TimeZone:           "Local",
		ProductID:          DefaultProductID,
		Endpoints: []EndpointConfig{
			{Name: "render", Kind: EndpointKindChat, URL: "https://myodo-api.onrender.com/chat"},
			{Name: "conoha", Kind: EndpointKindChat, URL: "https://www.massqu.com/chat"},
		},
	}
}

// LoadConfig reads and parses a YAML config file on top of DefaultConfig.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("askgate: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config bytes on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("askgate: parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ApplyDefaults fills empty fields with default values.
// FreePlanMaxDays and DefaultTemperature are left alone since zero is meaningful for both.
func (c *Config) ApplyDefaults() {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.FreeCallsPerDay <= 0 {
		c.FreeCallsPerDay = DefaultFreeCallsPerDay
	}
	if c.PaidCallsPerDay <= 0 {
		c.PaidCallsPerDay = DefaultPaidCallsPerDay
	}
	if c.DefaultPlan == "" {
		c.DefaultPlan = PlanFree
	}
	if c.DefaultModel == "" {
		c.DefaultModel = DefaultModel
	}
	if c.DefaultMaxTokens <= 0 {
		c.DefaultMaxTokens = DefaultMaxTokens
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.TimeZone == "" {
		c.TimeZone = "Local"
	}
	if c.ProductID == "" {
		c.ProductID = DefaultProductID
	}
	for i := range c.Endpoints {
		if c.Endpoints[i].Kind == "" {
			c.Endpoints[i].Kind = EndpointKindChat
		}
	}
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("askgate: config: namespace is required")
	}
	if strings.ContainsAny(c.Namespace, `/\`) {
		return fmt.Errorf("askgate: config: namespace %q must not contain path separators", c.Namespace)
	}
	if c.FreeCallsPerDay < 0 || c.PaidCallsPerDay < 0 {
		return fmt.Errorf("askgate: config: daily call limits must not be negative")
	}
	if c.FreePlanMaxDays < 0 {
		return fmt.Errorf("askgate: config: free_plan_max_days must not be negative, got %d", c.FreePlanMaxDays)
	}
	if !c.DefaultPlan.Valid() {
		return fmt.Errorf("askgate: config: %w: %q", ErrInvalidPlanTier, c.DefaultPlan)
	}
	if c.DefaultMaxTokens <= 0 {
		return fmt.Errorf("askgate: config: default_max_tokens must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("askgate: config: request_timeout must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	names := make(map[string]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("askgate: config: endpoints[%d]: name is required", i)
		}
		if names[ep.Name] {
			return fmt.Errorf("askgate: config: duplicate endpoint name %q", ep.Name)
		}
		names[ep.Name] = true

		switch ep.Kind {
		case EndpointKindChat:
			if ep.URL == "" {
				return fmt.Errorf("askgate: config: endpoints[%d] (%s): url is required", i, ep.Name)
			}
		case EndpointKindOpenAI:
		default:
			return fmt.Errorf("askgate: config: endpoints[%d] (%s): invalid kind %q", i, ep.Name, ep.Kind)
		}
	}

	return nil
}

// Location resolves TimeZone. Calendar days for quota and trial math are taken in it.
func (c Config) Location() (*time.Location, error) {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("askgate: config: time_zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// DailyLimit returns the daily call limit for tier.
func (c Config) DailyLimit(tier PlanTier) int {
	if tier == PlanPaid {
		return c.PaidCallsPerDay
	}
	return c.FreeCallsPerDay
}
