package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/observatory/internal/countries"
	"github.com/rewired-gh/observatory/internal/models"
)

// EnvPrefix prefixes every environment override, e.g. OBSERVATORY_API_ADDR.
const EnvPrefix = "OBSERVATORY"

// Config represents the complete application configuration
type Config struct {
	Sources  SourcesConfig  `mapstructure:"sources"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Detector DetectorConfig `mapstructure:"detector"`
	Synonyms SynonymsConfig `mapstructure:"synonyms"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Storage  StorageConfig  `mapstructure:"storage"`
	API      APIConfig      `mapstructure:"api"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SourcesConfig holds ingestion settings shared by all data sources
type SourcesConfig struct {
	Countries    []string      `mapstructure:"countries"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Concurrency  int           `mapstructure:"concurrency"`
	Timeout      time.Duration `mapstructure:"timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	GDELT        SourceConfig  `mapstructure:"gdelt"`
	Trends       SourceConfig  `mapstructure:"trends"`
	Wikipedia    SourceConfig  `mapstructure:"wikipedia"`
}

// SourceConfig configures one data source client
type SourceConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	BaseURL       string  `mapstructure:"base_url"`
	Confidence    float64 `mapstructure:"confidence"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Limit         int     `mapstructure:"limit"`
	// Timespan is the GDELT lookback, e.g. "24h".
	Timespan string `mapstructure:"timespan"`
}

// ScoringConfig holds the heat, hotspot and similarity parameters
type ScoringConfig struct {
	HalfLifeHours   float64 `mapstructure:"half_life_hours"`
	FlowThreshold   float64 `mapstructure:"flow_threshold"`
	VolumeCap       float64 `mapstructure:"volume_cap"`
	VelocityCap     float64 `mapstructure:"velocity_cap"`
	TopTopics       int     `mapstructure:"top_topics"`
	MaxSharedTopics int     `mapstructure:"max_shared_topics"`
	StopWords       bool    `mapstructure:"stop_words"`
	MaxNGram        int     `mapstructure:"max_ngram"`
}

// DetectorConfig bounds a single detection
type DetectorConfig struct {
	DefaultTimeWindow string        `mapstructure:"default_time_window"`
	ComputeTimeout    time.Duration `mapstructure:"compute_timeout"`
	MaxCountries      int           `mapstructure:"max_countries"`
	FetchConcurrency  int           `mapstructure:"fetch_concurrency"`
}

// SynonymsConfig points at an optional synonym dictionary file
type SynonymsConfig struct {
	Path string `mapstructure:"path"`
}

// CacheConfig selects the response cache backend
type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	Driver        string        `mapstructure:"driver"`
	DSN           string        `mapstructure:"dsn"`
	Retention     time.Duration `mapstructure:"retention"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// APIConfig holds HTTP server configuration
type APIConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken   string        `mapstructure:"bot_token"`
	ChatID     string        `mapstructure:"chat_id"`
	Enabled    bool          `mapstructure:"enabled"`
	MinHeat    float64       `mapstructure:"min_heat"`
	TopK       int           `mapstructure:"top_k"`
	Cooldown   time.Duration `mapstructure:"cooldown"`
	TimeWindow string        `mapstructure:"time_window"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingConfig controls OpenTelemetry tracing
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// bareEnv maps config keys to the un-prefixed variable names operators already use.
var bareEnv = map[string]string{
	"scoring.half_life_hours": "HEAT_HALFLIFE_HOURS",
	"scoring.flow_threshold":  "FLOW_THRESHOLD",
	"scoring.volume_cap":      "VOLUME_CAP",
	"scoring.velocity_cap":    "VELOCITY_CAP",
}

// Load reads configuration from an optional file and environment variables.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range bareEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", name, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	codes := make([]string, 0, len(cfg.Sources.Countries))
	for _, c := range cfg.Sources.Countries {
		codes = append(codes, countries.Canonical(c))
	}
	cfg.Sources.Countries = codes

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Source defaults
	v.SetDefault("sources.countries", countries.DefaultCountries)
	v.SetDefault("sources.poll_interval", "15m")
	v.SetDefault("sources.concurrency", 4)
	v.SetDefault("sources.timeout", "30s")
	v.SetDefault("sources.user_agent", "observatory/1.0")
	v.SetDefault("sources.gdelt.enabled", true)
	v.SetDefault("sources.gdelt.base_url", "https://api.gdeltproject.org/api/v2/doc/doc")
	v.SetDefault("sources.gdelt.confidence", 0.7)
	v.SetDefault("sources.gdelt.rate_per_second", 1.0)
	v.SetDefault("sources.gdelt.limit", 75)
	v.SetDefault("sources.gdelt.timespan", "24h")
	v.SetDefault("sources.trends.enabled", true)
	v.SetDefault("sources.trends.base_url", "https://trends.google.com/trending/rss")
	v.SetDefault("sources.trends.confidence", 0.9)
	v.SetDefault("sources.trends.rate_per_second", 1.0)
	v.SetDefault("sources.trends.limit", 20)
	v.SetDefault("sources.trends.timespan", "")
	v.SetDefault("sources.wikipedia.enabled", true)
	v.SetDefault("sources.wikipedia.base_url", "https://wikimedia.org/api/rest_v1")
	v.SetDefault("sources.wikipedia.confidence", 0.8)
	v.SetDefault("sources.wikipedia.rate_per_second", 5.0)
	v.SetDefault("sources.wikipedia.limit", 10)
	v.SetDefault("sources.wikipedia.timespan", "")

	// Scoring defaults
	v.SetDefault("scoring.half_life_hours", 6.0)
	v.SetDefault("scoring.flow_threshold", 0.5)
	v.SetDefault("scoring.volume_cap", 100.0)
	v.SetDefault("scoring.velocity_cap", 10.0)
	v.SetDefault("scoring.top_topics", 10)
	v.SetDefault("scoring.max_shared_topics", 5)
	v.SetDefault("scoring.stop_words", true)
	v.SetDefault("scoring.max_ngram", 2)

	// Detector defaults
	v.SetDefault("detector.default_time_window", "24h")
	v.SetDefault("detector.compute_timeout", "30s")
	v.SetDefault("detector.max_countries", 50)
	v.SetDefault("detector.fetch_concurrency", 8)

	v.SetDefault("synonyms.path", "")

	// Cache defaults
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.prefix", "observatory:")
	v.SetDefault("cache.redis.lock_ttl", "30s")

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "./data/observatory.db")
	v.SetDefault("storage.retention", "168h")
	v.SetDefault("storage.prune_interval", "1h")

	// API defaults
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.mode", "release")
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "60s")
	v.SetDefault("api.shutdown_timeout", "10s")

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.min_heat", 0.7)
	v.SetDefault("telegram.top_k", 5)
	v.SetDefault("telegram.cooldown", "6h")
	v.SetDefault("telegram.time_window", "6h")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "observatory")
	v.SetDefault("tracing.sample_ratio", 1.0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Sources config
	if len(c.Sources.Countries) == 0 {
		return fmt.Errorf("sources.countries must contain at least one country")
	}
	for _, code := range c.Sources.Countries {
		if !countries.IsValidCode(code) {
			return fmt.Errorf("sources.countries: %q is not an ISO 3166-1 alpha-2 code", code)
		}
	}
	if c.Sources.PollInterval < 1*time.Minute {
		return fmt.Errorf("sources.poll_interval must be at least 1 minute")
	}
	if c.Sources.Concurrency < 1 {
		return fmt.Errorf("sources.concurrency must be at least 1")
	}
	if c.Sources.Timeout <= 0 {
		return fmt.Errorf("sources.timeout must be positive")
	}
	if !c.Sources.GDELT.Enabled && !c.Sources.Trends.Enabled && !c.Sources.Wikipedia.Enabled {
		return fmt.Errorf("sources: at least one source must be enabled")
	}
	for name, s := range map[string]SourceConfig{
		"gdelt":     c.Sources.GDELT,
		"trends":    c.Sources.Trends,
		"wikipedia": c.Sources.Wikipedia,
	} {
		if !s.Enabled {
			continue
		}
		if s.BaseURL == "" {
			return fmt.Errorf("sources.%s.base_url is required", name)
		}
		if !unit(s.Confidence) {
			return fmt.Errorf("sources.%s.confidence must be between 0.0 and 1.0", name)
		}
		if s.RatePerSecond < 0 {
			return fmt.Errorf("sources.%s.rate_per_second must not be negative", name)
		}
	}

	// Validate Scoring config
	if !(c.Scoring.HalfLifeHours > 0) || math.IsInf(c.Scoring.HalfLifeHours, 0) {
		return fmt.Errorf("scoring.half_life_hours must be positive")
	}
	if !unit(c.Scoring.FlowThreshold) {
		return fmt.Errorf("scoring.flow_threshold must be between 0.0 and 1.0")
	}
	if !(c.Scoring.VolumeCap > 0) {
		return fmt.Errorf("scoring.volume_cap must be positive")
	}
	if !(c.Scoring.VelocityCap > 0) {
		return fmt.Errorf("scoring.velocity_cap must be positive")
	}
	if c.Scoring.TopTopics < 1 {
		return fmt.Errorf("scoring.top_topics must be at least 1")
	}
	if c.Scoring.MaxSharedTopics < 1 {
		return fmt.Errorf("scoring.max_shared_topics must be at least 1")
	}
	if c.Scoring.MaxNGram < 1 || c.Scoring.MaxNGram > 3 {
		return fmt.Errorf("scoring.max_ngram must be between 1 and 3")
	}

	// Validate Detector config
	if _, err := models.ParseTimeWindow(c.Detector.DefaultTimeWindow); err != nil {
		return fmt.Errorf("detector.default_time_window: %w", err)
	}
	if c.Detector.ComputeTimeout < 100*time.Millisecond {
		return fmt.Errorf("detector.compute_timeout must be at least 100ms")
	}
	if c.Detector.MaxCountries < 2 {
		return fmt.Errorf("detector.max_countries must be at least 2")
	}
	if c.Detector.FetchConcurrency < 1 {
		return fmt.Errorf("detector.fetch_concurrency must be at least 1")
	}

	// Validate Cache config
	switch c.Cache.Backend {
	case "none", "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend must be one of: none, memory, redis")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}

	// Validate Storage config
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required when storage.driver is postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite, postgres")
	}
	if c.Storage.Retention < 1*time.Hour {
		return fmt.Errorf("storage.retention must be at least 1 hour")
	}
	if c.Storage.PruneInterval < 1*time.Minute {
		return fmt.Errorf("storage.prune_interval must be at least 1 minute")
	}

	// Validate API config
	if c.API.Addr == "" {
		return fmt.Errorf("api.addr is required")
	}
	validModes := map[string]bool{"debug": true, "release": true, "test": true}
	if !validModes[c.API.Mode] {
		return fmt.Errorf("api.mode must be one of: debug, release, test")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if !unit(c.Telegram.MinHeat) {
			return fmt.Errorf("telegram.min_heat must be between 0.0 and 1.0")
		}
		if c.Telegram.TopK < 1 {
			return fmt.Errorf("telegram.top_k must be at least 1")
		}
		if _, err := models.ParseTimeWindow(c.Telegram.TimeWindow); err != nil {
			return fmt.Errorf("telegram.time_window: %w", err)
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	if c.Tracing.Enabled && !unit(c.Tracing.SampleRatio) {
		return fmt.Errorf("tracing.sample_ratio must be between 0.0 and 1.0")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

func unit(v float64) bool {
	return v >= 0.0 && v <= 1.0
}
