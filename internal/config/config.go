// Package config loads pipeline settings from defaults, an optional YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "UTC"
	configPathEnv   = "MYNEWS_CONFIG"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"

	IndexNone     = "none"
	IndexRedis    = "redis"
	IndexPostgres = "postgres"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	LLM         LLMConfig         `yaml:"llm"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorIndex VectorIndexConfig `yaml:"vector_index"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Telegram    TelegramConfig    `yaml:"telegram"`

	// SeedsPath lists sources and filters for the file store.
	SeedsPath string `yaml:"seeds_path"`
	LogLevel  string `yaml:"log_level"`
	Debug     bool   `yaml:"debug"`

	location *time.Location
}

// DatabaseConfig selects the store. An empty URL means the JSON file store.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	DataFile string `yaml:"data_file"`
}

type LLMConfig struct {
	Provider       string        `yaml:"provider"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	BaseURL        string        `yaml:"base_url"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxPromptRunes int           `yaml:"max_prompt_runes"`
}

type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	BaseURL    string        `yaml:"base_url"`
	Dimensions int           `yaml:"dimensions"`
	MaxChars   int           `yaml:"max_chars"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

type VectorIndexConfig struct {
	Driver        string        `yaml:"driver"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	Name          string        `yaml:"name"`
	TopK          int           `yaml:"top_k"`
	Timeout       time.Duration `yaml:"timeout"`
}

type PipelineConfig struct {
	RetentionDays    int           `yaml:"retention_days"`
	RedundancyDays   int           `yaml:"redundancy_days"`
	DefaultThreshold float64       `yaml:"default_threshold"`
	MaxTitleRunes    int           `yaml:"max_title_runes"`
	MaxGUIDRunes     int           `yaml:"max_guid_runes"`
	FeedTimeout      time.Duration `yaml:"feed_timeout"`
	PageTimeout      time.Duration `yaml:"page_timeout"`
	Interval         time.Duration `yaml:"interval"`
	Timezone         string        `yaml:"timezone"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxRequestsPerRun int     `yaml:"max_requests_per_run"` // 0 = unlimited
}

type MonitoringConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type TelegramConfig struct {
	Token          string        `yaml:"token"`
	ChatID         string        `yaml:"chat_id"`
	AlertOnSuccess bool          `yaml:"alert_on_success"`
	Timeout        time.Duration `yaml:"timeout"`
}

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{DataFile: "news_store.json"},
		LLM: LLMConfig{
			Provider:       ProviderGemini,
			Model:          "gemini-2.0-flash",
			MaxRetries:     3,
			RetryDelay:     5 * time.Second,
			Timeout:        60 * time.Second,
			MaxPromptRunes: 6000,
		},
		Embedding: EmbeddingConfig{
			Provider:   ProviderGemini,
			Model:      "text-embedding-004",
			Dimensions: 768,
			MaxChars:   8000,
			Timeout:    30 * time.Second,
			CacheTTL:   6 * time.Hour,
		},
		VectorIndex: VectorIndexConfig{
			Driver:  IndexNone,
			Name:    "mynews:idx",
			TopK:    10,
			Timeout: 5 * time.Second,
		},
		Pipeline: PipelineConfig{
			RetentionDays:    15,
			RedundancyDays:   14,
			DefaultThreshold: 0.92,
			MaxTitleRunes:    200,
			MaxGUIDRunes:     400,
			FeedTimeout:      20 * time.Second,
			PageTimeout:      15 * time.Second,
			Interval:         30 * time.Minute,
			Timezone:         defaultTimezone,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 1,
			Burst:             1,
		},
		Monitoring: MonitoringConfig{Addr: ":8080"},
		Telegram:   TelegramConfig{Timeout: 10 * time.Second},
		SeedsPath:  "configs/sources.yaml",
		LogLevel:   "info",
	}
}

// Load reads defaults, then the YAML file at path (or $MYNEWS_CONFIG), then env overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.bindTimezone(); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

func (c *Config) applyEnvOverrides() {
	c.Database.URL = getEnvOrDefault("DATABASE_URL", c.Database.URL)
	c.Database.DataFile = getEnvOrDefault("DATA_FILE", c.Database.DataFile)

	c.LLM.Provider = strings.ToLower(getEnvOrDefault("LLM_PROVIDER", c.LLM.Provider))
	c.LLM.Model = getEnvOrDefault("LLM_MODEL", c.LLM.Model)
	c.LLM.BaseURL = getEnvOrDefault("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.MaxRetries = getEnvIntOrDefault("LLM_MAX_RETRIES", c.LLM.MaxRetries)
	c.LLM.RetryDelay = getEnvDurationOrDefault("LLM_RETRY_DELAY", c.LLM.RetryDelay)
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = providerKey(c.LLM.Provider)
	}

	c.Embedding.Provider = strings.ToLower(getEnvOrDefault("EMBEDDING_PROVIDER", c.Embedding.Provider))
	c.Embedding.Model = getEnvOrDefault("EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.BaseURL = getEnvOrDefault("EMBEDDING_BASE_URL", c.Embedding.BaseURL)
	c.Embedding.Dimensions = getEnvIntOrDefault("EMBEDDING_DIM", c.Embedding.Dimensions)
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = providerKey(c.Embedding.Provider)
	}

	c.VectorIndex.Driver = strings.ToLower(getEnvOrDefault("VECTOR_INDEX", c.VectorIndex.Driver))
	c.VectorIndex.RedisAddr = getEnvOrDefault("REDIS_ADDR", c.VectorIndex.RedisAddr)
	c.VectorIndex.RedisPassword = getEnvOrDefault("REDIS_PASSWORD", c.VectorIndex.RedisPassword)

	c.Pipeline.RetentionDays = getEnvIntOrDefault("RETENTION_DAYS", c.Pipeline.RetentionDays)
	c.Pipeline.RedundancyDays = getEnvIntOrDefault("REDUNDANCY_DAYS", c.Pipeline.RedundancyDays)
	c.Pipeline.Interval = getEnvDurationOrDefault("FETCH_INTERVAL", c.Pipeline.Interval)
	c.Pipeline.Timezone = getEnvOrDefault("TIMEZONE", c.Pipeline.Timezone)
	if v := os.Getenv("SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Pipeline.DefaultThreshold = f
		}
	}

	c.RateLimit.MaxRequestsPerRun = getEnvIntOrDefault("MAX_AI_REQUESTS", c.RateLimit.MaxRequestsPerRun)

	if os.Getenv("ENABLE_HTTP_MONITORING") == "true" {
		c.Monitoring.Enabled = true
	}
	c.Monitoring.Addr = getEnvOrDefault("MONITORING_ADDR", c.Monitoring.Addr)

	c.Telegram.Token = getEnvOrDefault("TELEGRAM_TOKEN", c.Telegram.Token)
	c.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", c.Telegram.ChatID)

	c.SeedsPath = getEnvOrDefault("SEEDS_PATH", c.SeedsPath)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	if os.Getenv("DEBUG") == "true" {
		c.Debug = true
	}
}

func providerKey(provider string) string {
	switch provider {
	case ProviderGemini:
		return os.Getenv("GEMINI_API_KEY")
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

func (c *Config) bindTimezone() error {
	tz := c.Pipeline.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("unknown timezone %q: %w", tz, err)
	}
	c.location = loc
	return nil
}

// Location is the process timezone published dates are normalized to.
func (c *Config) Location() *time.Location {
	if c.location != nil {
		return c.location
	}
	return time.UTC
}

// RetentionWindow is how long items are kept, by published date.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.Pipeline.RetentionDays) * 24 * time.Hour
}

// RedundancyWindow bounds the items compared for near-duplicates.
func (c *Config) RedundancyWindow() time.Duration {
	return time.Duration(c.Pipeline.RedundancyDays) * 24 * time.Hour
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("llm.provider must be %q or %q, got %q", ProviderGemini, ProviderOpenAI, c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("api key for llm provider %q is required", c.LLM.Provider)
	}
	if c.LLM.MaxRetries < 1 {
		return fmt.Errorf("llm.max_retries must be at least 1")
	}

	switch c.Embedding.Provider {
	case ProviderNone:
	case ProviderGemini, ProviderOpenAI:
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("api key for embedding provider %q is required", c.Embedding.Provider)
		}
	default:
		return fmt.Errorf("embedding.provider %q is not supported", c.Embedding.Provider)
	}

	switch c.VectorIndex.Driver {
	case IndexNone:
	case IndexRedis:
		if c.VectorIndex.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis vector index")
		}
	case IndexPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres vector index")
		}
	default:
		return fmt.Errorf("vector_index.driver %q is not supported", c.VectorIndex.Driver)
	}

	if c.Pipeline.RetentionDays < 1 || c.Pipeline.RedundancyDays < 1 {
		return fmt.Errorf("retention_days and redundancy_days must be positive")
	}
	if c.Pipeline.DefaultThreshold <= 0 || c.Pipeline.DefaultThreshold > 1 {
		return fmt.Errorf("default_threshold must be in (0, 1], got %v", c.Pipeline.DefaultThreshold)
	}
	if (c.Telegram.Token == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("TELEGRAM_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	return nil
}
