package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Database     DatabaseConfig     `json:"database"`
	Embedding    EmbeddingConfig    `json:"embedding"`
	Classify     ClassifyConfig     `json:"classify"`
	Redis        RedisConfig        `json:"redis"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	RateLimit    RateLimitConfig    `json:"rate_limit"`
	Backfill     BackfillConfig     `json:"backfill"`
	Maintenance  MaintenanceConfig  `json:"maintenance"`
	mu           sync.RWMutex
}

type DatabaseConfig struct {
	NarrativePath string `json:"narrative_path" env:"CALMBRIDGE_DATABASE_NARRATIVE_PATH"`
	GraphPath     string `json:"graph_path" env:"CALMBRIDGE_DATABASE_GRAPH_PATH"`
}

type EmbeddingConfig struct {
	APIKey      string `json:"api_key" env:"CALMBRIDGE_EMBEDDING_API_KEY"`
	APIBase     string `json:"api_base" env:"CALMBRIDGE_EMBEDDING_API_BASE"`
	Model       string `json:"model" env:"CALMBRIDGE_EMBEDDING_MODEL"`
	Dimensions  int    `json:"dimensions" env:"CALMBRIDGE_EMBEDDING_DIMENSIONS"`
	MaxInputLen int    `json:"max_input_len" env:"CALMBRIDGE_EMBEDDING_MAX_INPUT_LEN"`
}

type ClassifyConfig struct {
	APIKey    string `json:"api_key" env:"CALMBRIDGE_CLASSIFY_API_KEY"`
	APIBase   string `json:"api_base" env:"CALMBRIDGE_CLASSIFY_API_BASE"`
	Model     string `json:"model" env:"CALMBRIDGE_CLASSIFY_MODEL"`
	MaxTokens int    `json:"max_tokens" env:"CALMBRIDGE_CLASSIFY_MAX_TOKENS"`
}

type RedisConfig struct {
	Addr     string `json:"addr" env:"CALMBRIDGE_REDIS_ADDR"`
	Password string `json:"password" env:"CALMBRIDGE_REDIS_PASSWORD"`
	DB       int    `json:"db" env:"CALMBRIDGE_REDIS_DB"`
}

type OrchestratorConfig struct {
	DeadlineMS      int `json:"deadline_ms" env:"CALMBRIDGE_ORCHESTRATOR_DEADLINE_MS"`
	CacheTTLSeconds int `json:"cache_ttl_seconds" env:"CALMBRIDGE_ORCHESTRATOR_CACHE_TTL_SECONDS"`
	CacheSize       int `json:"cache_size" env:"CALMBRIDGE_ORCHESTRATOR_CACHE_SIZE"`
}

type RateLimitConfig struct {
	MaxPerWindow  int `json:"max_per_window" env:"CALMBRIDGE_RATE_LIMIT_MAX_PER_WINDOW"`
	WindowSeconds int `json:"window_seconds" env:"CALMBRIDGE_RATE_LIMIT_WINDOW_SECONDS"`
}

type BackfillConfig struct {
	BatchSize int `json:"batch_size" env:"CALMBRIDGE_BACKFILL_BATCH_SIZE"`
	DelayMS   int `json:"delay_ms" env:"CALMBRIDGE_BACKFILL_DELAY_MS"`
}

type MaintenanceConfig struct {
	Cron      string `json:"cron" env:"CALMBRIDGE_MAINTENANCE_CRON"`
	StaleDays int    `json:"stale_days" env:"CALMBRIDGE_MAINTENANCE_STALE_DAYS"`
	Limit     int    `json:"limit" env:"CALMBRIDGE_MAINTENANCE_LIMIT"`
}

func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			NarrativePath: "~/.calmbridge/narrative.db",
			GraphPath:     "~/.calmbridge/graph.db",
		},
		Embedding: EmbeddingConfig{
			APIBase:     "https://api.openai.com",
			Model:       "text-embedding-3-small",
			Dimensions:  1536,
			MaxInputLen: 8000,
		},
		Classify: ClassifyConfig{
			APIBase:   "https://api.openai.com",
			Model:     "gpt-4o-mini",
			MaxTokens: 200,
		},
		Redis: RedisConfig{
			Addr: "",
		},
		Orchestrator: OrchestratorConfig{
			DeadlineMS:      3000,
			CacheTTLSeconds: 300,
			CacheSize:       256,
		},
		RateLimit: RateLimitConfig{
			MaxPerWindow:  30,
			WindowSeconds: 60,
		},
		Backfill: BackfillConfig{
			BatchSize: 10,
			DelayMS:   1000,
		},
		Maintenance: MaintenanceConfig{
			Cron:      "0 3 * * *",
			StaleDays: 7,
			Limit:     100,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) NarrativePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Database.NarrativePath)
}

func (c *Config) GraphPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Database.GraphPath)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
