// Package config loads the environment backed service configuration and the
// provider bootstrap sets that seed the dispatch layer on startup.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Global singleton for call sites that cannot take the config by injection.
var globalConfig *Config

// Config holds all environment backed configuration for llmrelay.
type Config struct {
	// HTTP Server
	HTTPPort    int           `env:"HTTP_PORT" envDefault:"8080"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`

	// Dispatch
	DefaultProvider      string `env:"DEFAULT_PROVIDER"`
	DispatchSingleFlight bool   `env:"DISPATCH_SINGLE_FLIGHT" envDefault:"false"`

	// Provider bootstrap
	ProviderSecret         string           `env:"PROVIDER_SECRET"`
	ProviderConfigsEnabled bool             `env:"PROVIDER_CONFIGS" envDefault:"false"`
	ProviderConfigFile     string           `env:"PROVIDER_CONFIGS_FILE"`
	ProviderConfigSet      string           `env:"PROVIDER_CONFIG_SET" envDefault:"default"`
	Bootstrap              *BootstrapConfig `env:"-"`

	// Response cache
	CacheEnabled    bool   `env:"CACHE_ENABLED" envDefault:"true"`
	CacheMemorySize int    `env:"CACHE_MEMORY_SIZE" envDefault:"4096"`
	RedisURL        string `env:"REDIS_URL"`
	RedisPrefix     string `env:"REDIS_PREFIX" envDefault:"llmrelay"`

	// Model sync
	ModelSyncEnabled         bool `env:"MODEL_SYNC_ENABLED" envDefault:"true"`
	ModelSyncIntervalMinutes int  `env:"MODEL_SYNC_INTERVAL_MINUTES" envDefault:"15"`
	AutoEnableNewModels      bool `env:"AUTO_ENABLE_NEW_MODELS" envDefault:"true"`

	// Observability / Logging
	OTLPEndpoint     string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPHeaders      string `env:"OTEL_EXPORTER_OTLP_HEADERS"`
	ServiceName      string `env:"SERVICE_NAME" envDefault:"llmrelay"`
	ServiceNamespace string `env:"SERVICE_NAMESPACE" envDefault:"netresearch"`
	Environment      string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat        string `env:"LOG_FORMAT" envDefault:"console"`

	// Internal
	EnvReloadedAt time.Time
}

// Load parses environment variables into Config and performs minimal validation.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.ProviderConfigSet = strings.TrimSpace(cfg.ProviderConfigSet)
	if cfg.ProviderConfigSet == "" {
		cfg.ProviderConfigSet = "default"
	}

	if cfg.ProviderConfigsEnabled {
		configFile := strings.TrimSpace(cfg.ProviderConfigFile)
		if configFile == "" {
			configFile = DefaultProviderConfigFile
		}
		bootstrap, err := LoadBootstrapConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("load provider configs: %w", err)
		}
		cfg.Bootstrap = bootstrap
		if len(bootstrap.ProvidersForSet(cfg.ProviderConfigSet)) == 0 {
			return nil, fmt.Errorf("provider config set %q is missing or empty in %s", cfg.ProviderConfigSet, configFile)
		}
	}

	if cfg.RedisURL != "" {
		if _, err := url.ParseRequestURI(cfg.RedisURL); err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
	}

	if cfg.ModelSyncIntervalMinutes < 1 {
		return nil, fmt.Errorf("MODEL_SYNC_INTERVAL_MINUTES must be at least 1, got %d", cfg.ModelSyncIntervalMinutes)
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.EnvReloadedAt = time.Now()

	globalConfig = cfg

	return cfg, nil
}

// BootstrapEntries returns the configured provider definitions for the active set.
func (c *Config) BootstrapEntries() []BootstrapEntry {
	if c == nil || c.Bootstrap == nil {
		return nil
	}
	return c.Bootstrap.ProvidersForSet(c.ProviderConfigSet)
}

// ConfigurationEntries returns the declared invocation profiles. Configurations
// are shared across provider sets.
func (c *Config) ConfigurationEntries() []ConfigurationEntry {
	if c == nil || c.Bootstrap == nil {
		return nil
	}
	return c.Bootstrap.Configurations()
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGlobal returns the global config instance for call sites outside the
// injection graph.
func GetGlobal() *Config {
	return globalConfig
}

var Version = "dev"

func IsDev() bool {
	return strings.HasPrefix(Version, "dev")
}
