package config

import (
	"fmt"
	"time"
)

// Config holds all secondbrain configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Heat     HeatConfig     `koanf:"heat"`
	Dedup    DedupConfig    `koanf:"dedup"`
	Search   SearchConfig   `koanf:"search"`
	Embedder EmbedderConfig `koanf:"embedder"`
	Schedule ScheduleConfig `koanf:"schedule"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Tracing  TracingConfig  `koanf:"tracing"`
}

type ServerConfig struct {
	Bind            string        `koanf:"bind" validate:"required"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	RequestTimeout  time.Duration `koanf:"request_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"` // empty resolves to store.DefaultDBPath()
}

// HeatConfig tunes heat decay and boosting.
type HeatConfig struct {
	InitialHeat  float64 `koanf:"initial_heat" validate:"gt=0"`
	DecayRate    float64 `koanf:"decay_rate" validate:"gt=0,lte=1"`
	AccessBoost  float64 `koanf:"access_boost" validate:"gte=0"`
	MentionBoost float64 `koanf:"mention_boost" validate:"gte=0"`
	MinHeat      float64 `koanf:"min_heat" validate:"gte=0"`
	MaxHeat      float64 `koanf:"max_heat" validate:"gt=0"`

	DecayMode           string        `koanf:"decay_mode" validate:"oneof=simple advanced"`
	DecayBatchSize      int           `koanf:"decay_batch_size" validate:"min=1"`
	DecayPartitionCount int           `koanf:"decay_partition_count" validate:"min=1,max=64"`
	DecayBatchTimeout   time.Duration `koanf:"decay_batch_timeout" validate:"gt=0"`
	// SimpleIdle is how long a record must go unaccessed before simple decay touches it.
	SimpleIdle time.Duration `koanf:"simple_idle" validate:"gte=0"`

	HotThreshold  float64 `koanf:"hot_threshold" validate:"gte=0"`
	ColdThreshold float64 `koanf:"cold_threshold" validate:"gte=0"`
}

type DedupConfig struct {
	SimilarityThreshold float64 `koanf:"similarity_threshold" validate:"gt=0,lte=1"`
	RecentDays          int     `koanf:"recent_days" validate:"gte=0"`
	RecentLimit         int     `koanf:"recent_limit" validate:"gte=0"`
	MinCreatedDaysApart int     `koanf:"min_created_days_apart" validate:"gte=0"`
	Limit               int     `koanf:"limit" validate:"gte=0"`
}

type SearchConfig struct {
	ImportanceNormalizer float64       `koanf:"importance_normalizer" validate:"gt=0"`
	Overfetch            int           `koanf:"overfetch" validate:"min=1,max=100"`
	DefaultLimit         int           `koanf:"default_limit" validate:"min=1,max=1000"`
	MaxLimit             int           `koanf:"max_limit" validate:"min=1,max=10000,gtefield=DefaultLimit"`
	CacheSize            int           `koanf:"cache_size" validate:"gte=0"`
	CacheTTL             time.Duration `koanf:"cache_ttl" validate:"gte=0"`
	BoostTimeout         time.Duration `koanf:"boost_timeout" validate:"gt=0"`
}

type EmbedderConfig struct {
	Provider   string        `koanf:"provider" validate:"oneof=auto ollama tfidf none"`
	OllamaURL  string        `koanf:"ollama_url" validate:"required_if=Provider ollama,omitempty,url"`
	Model      string        `koanf:"model"`
	Dimensions int           `koanf:"dimensions" validate:"gte=0"`
	Timeout    time.Duration `koanf:"timeout" validate:"gt=0"`
	RateLimit  float64       `koanf:"rate_limit" validate:"gte=0"` // requests/sec, 0 = unlimited
	Burst      int           `koanf:"burst" validate:"min=1"`
	TFIDFTerms int           `koanf:"tfidf_terms" validate:"min=1"`
}

// ScheduleConfig drives the background jobs started by `serve`. Zero disables a job.
type ScheduleConfig struct {
	DecayInterval time.Duration `koanf:"decay_interval" validate:"gte=0"`
	DedupInterval time.Duration `koanf:"dedup_interval" validate:"gte=0"`
	DedupDryRun   bool          `koanf:"dedup_dry_run"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path" validate:"startswith=/"`
}

type TracingConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Endpoint    string        `koanf:"endpoint" validate:"required_if=Enabled true"`
	SampleRate  float64       `koanf:"sample_rate" validate:"min=0,max=1"`
	Timeout     time.Duration `koanf:"timeout" validate:"gt=0"`
	ServiceName string        `koanf:"service_name" validate:"required"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind:            "127.0.0.1",
			Port:            37778,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "",
		},
		Heat: HeatConfig{
			InitialHeat:         1.0,
			DecayRate:           0.97,
			AccessBoost:         0.15,
			MentionBoost:        0.10,
			MinHeat:             0.05,
			MaxHeat:             2.0,
			DecayMode:           "advanced",
			DecayBatchSize:      2000,
			DecayPartitionCount: 1,
			DecayBatchTimeout:   30 * time.Second,
			SimpleIdle:          24 * time.Hour,
			HotThreshold:        0.8,
			ColdThreshold:       0.3,
		},
		Dedup: DedupConfig{
			SimilarityThreshold: 0.95,
		},
		Search: SearchConfig{
			ImportanceNormalizer: 2.0,
			Overfetch:            3,
			DefaultLimit:         10,
			MaxLimit:             200,
			CacheSize:            256,
			CacheTTL:             5 * time.Minute,
			BoostTimeout:         5 * time.Second,
		},
		Embedder: EmbedderConfig{
			Provider:   "auto",
			OllamaURL:  "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			Timeout:    30 * time.Second,
			RateLimit:  10,
			Burst:      5,
			TFIDFTerms: 512,
		},
		Schedule: ScheduleConfig{
			DecayInterval: 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4317",
			SampleRate:  1.0,
			Timeout:     10 * time.Second,
			ServiceName: "secondbrain",
		},
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
