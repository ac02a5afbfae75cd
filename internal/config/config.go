package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Server struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	} `mapstructure:"server"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Search struct {
		ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
		CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"search"`

	Cache struct {
		Backend string `mapstructure:"backend"` // "memory" or "redis"
		Size    int    `mapstructure:"size"`
		Redis   struct {
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
		} `mapstructure:"redis"`
	} `mapstructure:"cache"`

	Store struct {
		SeedFile string `mapstructure:"seed_file"`
	} `mapstructure:"store"`

	RateLimit struct {
		Rate   int           `mapstructure:"rate"`
		Window time.Duration `mapstructure:"window"`
	} `mapstructure:"rate_limit"`

	Health struct {
		Interval         time.Duration `mapstructure:"interval"`
		ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
		FailureThreshold int           `mapstructure:"failure_threshold"`
	} `mapstructure:"health"`

	Alerting struct {
		ScanInterval time.Duration `mapstructure:"scan_interval"`
		Channels     struct {
			ChatWebhookURL string   `mapstructure:"chat_webhook_url"`
			WebhookURL     string   `mapstructure:"webhook_url"`
			EmailAddr      string   `mapstructure:"email_addr"`
			EmailFrom      string   `mapstructure:"email_from"`
			EmailTo        []string `mapstructure:"email_to"`
		} `mapstructure:"channels"`
		Rules []RuleConfig `mapstructure:"rules"`
	} `mapstructure:"alerting"`

	Providers []ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig describes one external provider.
type ProviderConfig struct {
	ID          string        `mapstructure:"id"`
	Name        string        `mapstructure:"name"`
	ServiceType string        `mapstructure:"service_type"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxListings int           `mapstructure:"max_listings"`
}

// RuleConfig describes one alert rule.
type RuleConfig struct {
	ID        string        `mapstructure:"id"`
	Type      string        `mapstructure:"type"`
	Threshold float64       `mapstructure:"threshold"`
	Enabled   bool          `mapstructure:"enabled"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
	Channels  []string      `mapstructure:"channels"`
}

// Load reads configuration from the given file (or the default search paths
// when empty) and the LISTINGS_* environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/listings")
	}
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("LISTINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("log.level", "info")

	v.SetDefault("search.provider_timeout", 2*time.Second)
	v.SetDefault("search.cache_ttl", 5*time.Minute)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.size", 4096)

	v.SetDefault("rate_limit.rate", 30)
	v.SetDefault("rate_limit.window", time.Minute)

	v.SetDefault("health.interval", time.Minute)
	v.SetDefault("health.probe_timeout", 10*time.Second)
	v.SetDefault("health.failure_threshold", 3)

	v.SetDefault("alerting.scan_interval", time.Minute)
}

// validate fails fast on configuration the runtime would otherwise trip over.
func (c *Config) validate() error {
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache backend is redis but cache.redis.addr is empty")
	}

	if c.Health.FailureThreshold < 1 {
		return fmt.Errorf("health.failure_threshold must be at least 1")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider %d: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		if p.BaseURL == "" {
			return fmt.Errorf("provider %q: base_url is required", p.ID)
		}
	}

	for _, r := range c.Alerting.Rules {
		if r.ID == "" {
			return fmt.Errorf("alert rule of type %q: id is required", r.Type)
		}
		switch r.Type {
		case "provider-down", "high-latency", "quota-exceeded", "high-error-rate":
		default:
			return fmt.Errorf("alert rule %q: unknown type %q", r.ID, r.Type)
		}
	}
	return nil
}
