// Package config provides configuration management for IntelWeaver.
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mdtran/intelweaver/internal/intel"
)

// Config holds all IntelWeaver configuration.
type Config struct {
	Server     ServerConfig            `yaml:"server"`
	Cache      CacheConfig             `yaml:"cache"`
	Enrichment EnrichmentConfig        `yaml:"enrichment"`
	Sources    map[string]SourceConfig `yaml:"sources"`
	Logging    LoggingConfig           `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CacheConfig holds the persistent enrichment cache settings.
type CacheConfig struct {
	Path          string        `yaml:"path"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// EnrichmentConfig holds orchestrator-wide settings.
type EnrichmentConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxInFlight    int           `yaml:"max_in_flight"`
}

// SourceConfig holds per-source settings. API keys are referenced by
// environment variable name, never stored in the file.
type SourceConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Priority           int           `yaml:"priority"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	BaseURL            string        `yaml:"base_url"`
	APIKeyEnv          string        `yaml:"api_key_env"`
	Timeout            time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Load reads configuration from a YAML file, layered over defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configs that name unknown sources or carry unusable
// source settings.
func (c *Config) Validate() error {
	for name, src := range c.Sources {
		if !intel.Source(name).Valid() {
			return fmt.Errorf("unknown source in config: %s", name)
		}
		if !src.Enabled {
			continue
		}
		if src.Priority <= 0 {
			return fmt.Errorf("source %s: priority must be positive", name)
		}
		if src.RateLimitPerMinute <= 0 {
			return fmt.Errorf("source %s: rate_limit_per_minute must be positive", name)
		}
		if src.CacheTTL <= 0 {
			return fmt.Errorf("source %s: cache_ttl must be positive", name)
		}
	}
	return nil
}

// DefaultConfig returns sensible defaults. Only the keyless sources are
// enabled out of the box; the rest need an API key env var anyway.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Path:          "data/enrichment_cache.db",
			SweepInterval: 15 * time.Minute,
		},
		Enrichment: EnrichmentConfig{
			DefaultTimeout: 30 * time.Second,
			MaxInFlight:    64,
		},
		Sources: map[string]SourceConfig{
			string(intel.SourceDShield): {
				Enabled:            true,
				Priority:           1,
				RateLimitPerMinute: 60,
				CacheTTL:           1 * time.Hour,
				Timeout:            30 * time.Second,
			},
			string(intel.SourceVirusTotal): {
				Enabled:            false,
				Priority:           2,
				RateLimitPerMinute: 4, // Free tier
				CacheTTL:           1 * time.Hour,
				APIKeyEnv:          "VIRUSTOTAL_API_KEY",
				Timeout:            30 * time.Second,
			},
			string(intel.SourceAbuseIPDB): {
				Enabled:            false,
				Priority:           3,
				RateLimitPerMinute: 60,
				CacheTTL:           1 * time.Hour,
				APIKeyEnv:          "ABUSEIPDB_API_KEY",
				Timeout:            30 * time.Second,
			},
			string(intel.SourceAlienVault): {
				Enabled:            false,
				Priority:           4,
				RateLimitPerMinute: 60,
				CacheTTL:           1 * time.Hour,
				APIKeyEnv:          "OTX_API_KEY",
				Timeout:            30 * time.Second,
			},
			string(intel.SourceShodan): {
				Enabled:            false,
				Priority:           5,
				RateLimitPerMinute: 60,
				CacheTTL:           24 * time.Hour,
				APIKeyEnv:          "SHODAN_API_KEY",
				Timeout:            30 * time.Second,
			},
			string(intel.SourceThreatFox): {
				Enabled:            true,
				Priority:           6,
				RateLimitPerMinute: 60,
				CacheTTL:           30 * time.Minute,
				Timeout:            30 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// EnabledSources returns the enabled source names sorted by priority.
func (c *Config) EnabledSources() []string {
	var names []string
	for name, src := range c.Sources {
		if src.Enabled {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := c.Sources[names[i]].Priority, c.Sources[names[j]].Priority
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
	return names
}
