package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
cache:
  path: /tmp/test-cache.db
sources:
  virustotal:
    enabled: true
    priority: 2
    rate_limit_per_minute: 4
    cache_ttl: 2h
    api_key_env: VT_KEY
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout, "unset fields keep defaults")
	assert.Equal(t, "/tmp/test-cache.db", cfg.Cache.Path)

	vt := cfg.Sources["virustotal"]
	assert.True(t, vt.Enabled)
	assert.Equal(t, 2*time.Hour, vt.CacheTTL)
	assert.Equal(t, "VT_KEY", vt.APIKeyEnv)

	assert.True(t, cfg.Sources["dshield"].Enabled, "untouched sources keep defaults")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "sources: [not a map")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateUnknownSource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sources["mysterysource"] = SourceConfig{Enabled: true, Priority: 1, RateLimitPerMinute: 10, CacheTTL: time.Hour}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mysterysource")
}

func TestValidateEnabledSourceSettings(t *testing.T) {
	tests := []struct {
		name string
		cfg  SourceConfig
	}{
		{"zero priority", SourceConfig{Enabled: true, RateLimitPerMinute: 10, CacheTTL: time.Hour}},
		{"zero rate limit", SourceConfig{Enabled: true, Priority: 1, CacheTTL: time.Hour}},
		{"zero ttl", SourceConfig{Enabled: true, Priority: 1, RateLimitPerMinute: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Sources["dshield"] = tt.cfg
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateDisabledSourceNotChecked(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sources["shodan"] = SourceConfig{Enabled: false}

	assert.NoError(t, cfg.Validate())
}

func TestDefaultConfigValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestEnabledSourcesPriorityOrder(t *testing.T) {
	cfg := DefaultConfig()
	for name, src := range cfg.Sources {
		src.Enabled = true
		cfg.Sources[name] = src
	}

	got := cfg.EnabledSources()
	want := []string{"dshield", "virustotal", "abuseipdb", "alienvault", "shodan", "threatfox"}
	assert.Equal(t, want, got)
}
