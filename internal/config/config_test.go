package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"MYNEWS_CONFIG", "DATABASE_URL", "DATA_FILE", "LLM_PROVIDER", "LLM_MODEL", "LLM_BASE_URL",
		"LLM_MAX_RETRIES", "LLM_RETRY_DELAY", "GEMINI_API_KEY", "OPENAI_API_KEY", "EMBEDDING_PROVIDER",
		"EMBEDDING_MODEL", "EMBEDDING_BASE_URL", "EMBEDDING_DIM", "VECTOR_INDEX", "REDIS_ADDR", "REDIS_PASSWORD",
		"RETENTION_DAYS", "REDUNDANCY_DAYS", "FETCH_INTERVAL", "TIMEZONE", "SIMILARITY_THRESHOLD",
		"MAX_AI_REQUESTS", "ENABLE_HTTP_MONITORING", "MONITORING_ADDR", "TELEGRAM_TOKEN", "TELEGRAM_CHAT_ID",
		"SEEDS_PATH", "LOG_LEVEL", "DEBUG",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.RetentionDays != 15 || cfg.Pipeline.RedundancyDays != 14 {
		t.Fatalf("windows = %d/%d, want 15/14", cfg.Pipeline.RetentionDays, cfg.Pipeline.RedundancyDays)
	}
	if cfg.Pipeline.DefaultThreshold != 0.92 {
		t.Fatalf("threshold = %v", cfg.Pipeline.DefaultThreshold)
	}
	if cfg.LLM.APIKey != "key" || cfg.Embedding.APIKey != "key" {
		t.Fatalf("api keys not resolved from GEMINI_API_KEY")
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("location = %v, want UTC", cfg.Location())
	}
	if cfg.RedundancyWindow() != 14*24*time.Hour {
		t.Fatalf("redundancy window = %v", cfg.RedundancyWindow())
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "mynews.yaml")
	yml := `
llm:
  provider: openai
  api_key: sk-file
  retry_delay: 2s
pipeline:
  redundancy_days: 7
  timezone: Europe/Copenhagen
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EMBEDDING_PROVIDER", "none")
	t.Setenv("RETENTION_DAYS", "30")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Provider != ProviderOpenAI || cfg.LLM.APIKey != "sk-file" {
		t.Fatalf("llm = %+v", cfg.LLM)
	}
	if cfg.LLM.RetryDelay != 2*time.Second {
		t.Fatalf("retry delay = %v", cfg.LLM.RetryDelay)
	}
	if cfg.Pipeline.RedundancyDays != 7 || cfg.Pipeline.RetentionDays != 30 {
		t.Fatalf("windows = %d/%d", cfg.Pipeline.RedundancyDays, cfg.Pipeline.RetentionDays)
	}
	if cfg.LLM.MaxRetries != 3 {
		t.Fatalf("unset yaml keys must keep defaults, max retries = %d", cfg.LLM.MaxRetries)
	}
	if cfg.Location().String() != "Europe/Copenhagen" {
		t.Fatalf("location = %v", cfg.Location())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing key", func(c *Config) { c.LLM.APIKey = "" }, "api key"},
		{"bad provider", func(c *Config) { c.LLM.Provider = "groq" }, "llm.provider"},
		{"redis without addr", func(c *Config) { c.VectorIndex.Driver = IndexRedis }, "REDIS_ADDR"},
		{"postgres index without db", func(c *Config) { c.VectorIndex.Driver = IndexPostgres }, "DATABASE_URL"},
		{"threshold", func(c *Config) { c.Pipeline.DefaultThreshold = 1.5 }, "default_threshold"},
		{"half telegram", func(c *Config) { c.Telegram.Token = "t" }, "TELEGRAM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.LLM.APIKey = "k"
			cfg.Embedding.APIKey = "k"
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}
