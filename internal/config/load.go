package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables.
	// SECONDBRAIN_HEAT__DECAY_RATE maps to heat.decay_rate.
	EnvPrefix = "SECONDBRAIN_"
	// Delimiter separates nested config keys.
	Delimiter = "."
)

// Load builds the configuration from, lowest priority first: defaults, the
// config file (explicit path or ~/.secondbrain/config.yaml if present),
// SECONDBRAIN_ environment variables and overrides (typically CLI flags keyed
// like "server.port"). The result is validated.
func Load(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(Delimiter)

	if path == "" {
		path = defaultFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, Delimiter, envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, Delimiter), nil); err != nil {
			return nil, fmt.Errorf("apply overrides: %w", err)
		}
	}

	// Unmarshal onto the defaults so keys absent from every source keep them.
	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns SECONDBRAIN_SEARCH__CACHE_TTL into search.cache_ttl.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", Delimiter)
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", filepath.Ext(path))
	}
}

// defaultFile returns ~/.secondbrain/config.yaml if it exists.
func defaultFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
		p := filepath.Join(home, ".secondbrain", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
