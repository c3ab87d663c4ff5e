package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port             int              `json:"port"`
	LogConfig        logger.LogConfig `json:"log_config"`
	CORSOrigins      []string         `json:"cors_origins"`
	MaxUploadSize    int64            `json:"max_upload_size"`
	RateLimitSeconds int              `json:"rate_limit_seconds"`
	Catalog          CatalogConfig    `json:"catalog"`
	FileStore        FileStoreConfig  `json:"file_store"`
	Embedder         EmbedderConfig   `json:"embedder"`
	EmbedCache       EmbedCacheConfig `json:"embed_cache"`
	Search           SearchProfile    `json:"search"`
	Timeline         SearchProfile    `json:"timeline"`
	Scorer           ScorerConfig     `json:"scorer"`
}

type CatalogConfig struct {
	Key        string `json:"key"`
	ReloadSpec string `json:"reload_spec"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type EmbedderConfig struct {
	Default   string          `json:"default"`
	Timeout   int             `json:"timeout"`
	Providers []ProviderEntry `json:"providers"`
}

type ProviderEntry struct {
	Name     string      `json:"name"`
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type EmbedCacheConfig struct {
	LRUSize       int          `json:"lru_size"`
	LRUTTLSeconds int          `json:"lru_ttl_seconds"`
	Redis         *RedisConfig `json:"redis"`
}

type RedisConfig struct {
	Addr       string `json:"addr"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	TTLSeconds int    `json:"ttl_seconds"`
	Prefix     string `json:"prefix"`
}

// SearchProfile holds defaults for one search variant. Nil fields fall back to the
// built-in defaults of that variant; a request may still override every field.
type SearchProfile struct {
	Threshold    *float64 `json:"threshold"`
	GapThreshold *float64 `json:"gap_threshold"`
	TopK         int      `json:"top_k"`
}

type ScorerConfig struct {
	ParallelMinRows int `json:"parallel_min_rows"`
	Workers         int `json:"workers"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) normalize() error {
	if cfg.Port == 0 {
		cfg.Port = 5000
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 256 * 1024 * 1024
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	switch strings.ToLower(cfg.FileStore.Type) {
	case "local", "s3":
	default:
		return fmt.Errorf("file_store.type must be local or s3")
	}
	if len(cfg.Embedder.Providers) == 0 {
		return fmt.Errorf("embedder.providers is required")
	}
	for i, p := range cfg.Embedder.Providers {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("embedder.providers[%d].name is required", i)
		}
		if strings.TrimSpace(p.Provider) == "" {
			return fmt.Errorf("embedder.providers[%d].provider is required", i)
		}
	}
	if cfg.Embedder.Default == "" {
		cfg.Embedder.Default = cfg.Embedder.Providers[0].Name
	}
	if cfg.Embedder.Timeout <= 0 {
		cfg.Embedder.Timeout = 10
	}
	if cfg.EmbedCache.LRUSize > 0 && cfg.EmbedCache.LRUTTLSeconds <= 0 {
		cfg.EmbedCache.LRUTTLSeconds = 3600
	}
	if r := cfg.EmbedCache.Redis; r != nil {
		if r.Addr == "" {
			return fmt.Errorf("embed_cache.redis.addr is required")
		}
		if r.TTLSeconds <= 0 {
			r.TTLSeconds = 7 * 24 * 3600
		}
		if r.Prefix == "" {
			r.Prefix = "scenesearch:"
		}
	}
	for name, p := range map[string]SearchProfile{"search": cfg.Search, "timeline": cfg.Timeline} {
		if p.GapThreshold != nil && *p.GapThreshold < 0 {
			return fmt.Errorf("%s.gap_threshold must not be negative", name)
		}
		if p.TopK < 0 {
			return fmt.Errorf("%s.top_k must not be negative", name)
		}
	}
	return nil
}
