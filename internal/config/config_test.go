package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDefaultHeatValues(t *testing.T) {
	h := Default().Heat
	assert.Equal(t, 1.0, h.InitialHeat)
	assert.Equal(t, 0.97, h.DecayRate)
	assert.Equal(t, 0.15, h.AccessBoost)
	assert.Equal(t, 0.10, h.MentionBoost)
	assert.Equal(t, 0.05, h.MinHeat)
	assert.Equal(t, 2.0, h.MaxHeat)
	assert.Equal(t, 2000, h.DecayBatchSize)
	assert.Equal(t, 1, h.DecayPartitionCount)
	assert.Equal(t, "advanced", h.DecayMode)
	assert.Equal(t, 0.95, Default().Dedup.SimilarityThreshold)
}

func TestListenAddr(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1:37778", cfg.ListenAddr())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"decay rate above one", func(c *Config) { c.Heat.DecayRate = 1.5 }, "Config.Heat.DecayRate"},
		{"unknown decay mode", func(c *Config) { c.Heat.DecayMode = "linear" }, "Config.Heat.DecayMode"},
		{"min above max", func(c *Config) { c.Heat.MinHeat = 3 }, "Config.Heat.MinHeat"},
		{"initial out of range", func(c *Config) { c.Heat.InitialHeat = 5 }, "Config.Heat.InitialHeat"},
		{"cold above hot", func(c *Config) { c.Heat.ColdThreshold = 0.9 }, "Config.Heat.ColdThreshold"},
		{"threshold zero", func(c *Config) { c.Dedup.SimilarityThreshold = 0 }, "Config.Dedup.SimilarityThreshold"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "Config.Server.Port"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "Config.Log.Level"},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Endpoint = "" }, "Config.Tracing.Endpoint"},
		{"ollama bad url", func(c *Config) { c.Embedder.Provider = "ollama"; c.Embedder.OllamaURL = "not a url" }, "Config.Embedder.OllamaURL"},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "Config.Metrics.Path"},
		{"max limit below default", func(c *Config) { c.Search.MaxLimit = 5 }, "Config.Search.MaxLimit"},
		{"overfetch too large", func(c *Config) { c.Search.Overfetch = 1000 }, "Config.Search.Overfetch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var details ValidationErrors
			require.True(t, errors.As(err, &details), "want ValidationErrors, got %T", err)
			fields := make([]string, len(details))
			for i, d := range details {
				fields[i] = d.Field
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoadFileEnvAndOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
heat:
  decay_rate: 0.9
  decay_batch_timeout: 45s
search:
  cache_size: 64
`), 0o644))

	t.Setenv("SECONDBRAIN_HEAT__DECAY_MODE", "simple")
	t.Setenv("SECONDBRAIN_SEARCH__CACHE_SIZE", "32")

	cfg, err := Load(path, map[string]any{"server.port": 9100})
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port, "override beats file")
	assert.Equal(t, 0.9, cfg.Heat.DecayRate, "file beats default")
	assert.Equal(t, 45*time.Second, cfg.Heat.DecayBatchTimeout)
	assert.Equal(t, "simple", cfg.Heat.DecayMode, "env applied")
	assert.Equal(t, 32, cfg.Search.CacheSize, "env beats file")
	assert.Equal(t, 0.15, cfg.Heat.AccessBoost, "untouched keys keep defaults")
	assert.Equal(t, "127.0.0.1", cfg.Server.Bind)
}

func TestLoadJSON(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"dedup": {"similarity_threshold": 0.9}}`), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Dedup.SimilarityThreshold)
}

func TestLoadErrors(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o644))
	_, err = Load(path, nil)
	assert.Error(t, err)

	_, err = Load("", map[string]any{"heat.decay_rate": 2.0})
	var details ValidationErrors
	assert.True(t, errors.As(err, &details))
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "search.cache_ttl", envKey("SECONDBRAIN_SEARCH__CACHE_TTL"))
	assert.Equal(t, "heat.max_heat", envKey("SECONDBRAIN_HEAT__MAX_HEAT"))
}
