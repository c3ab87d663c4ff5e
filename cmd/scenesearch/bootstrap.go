package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/scenesearch/internal/ai"
	"github.com/xxxsen/scenesearch/internal/catalog"
	"github.com/xxxsen/scenesearch/internal/config"
	"github.com/xxxsen/scenesearch/internal/embedcache"
	"github.com/xxxsen/scenesearch/internal/filestore"
	"github.com/xxxsen/scenesearch/internal/scene"
	"github.com/xxxsen/scenesearch/internal/service"
)

type app struct {
	cfg       *config.Config
	embedders *ai.Manager
	files     filestore.Store
	search    *service.SearchService
	redis     *redis.Client
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	files, err := filestore.New(cfg.FileStore)
	if err != nil {
		return nil, fmt.Errorf("init file store: %w", err)
	}
	a.files = files

	if r := cfg.EmbedCache.Redis; r != nil {
		client, err := embedcache.NewRedisClient(ctx, embedcache.RedisConfig{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			TTL:      r.TTLSeconds,
			Prefix:   r.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init embedding cache: %w", err)
		}
		a.redis = client
	}

	entries := make([]ai.EmbedderEntry, 0, len(cfg.Embedder.Providers))
	for _, p := range cfg.Embedder.Providers {
		e, err := ai.NewEmbedder(p.Provider, p.Model, p.Data)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("init embedder %s: %w", p.Name, err)
		}
		if a.redis != nil {
			e = embedcache.WrapRedisCacheToEmbedder(e, p.Name, a.redis, cfg.EmbedCache.Redis.Prefix,
				time.Duration(cfg.EmbedCache.Redis.TTLSeconds)*time.Second)
		}
		e = embedcache.WrapLruCacheToEmbedder(e, p.Name, cfg.EmbedCache.LRUSize,
			time.Duration(cfg.EmbedCache.LRUTTLSeconds)*time.Second)
		entries = append(entries, ai.EmbedderEntry{Name: p.Name, Embedder: e})
	}
	manager, err := ai.NewManager(entries, cfg.Embedder.Default, time.Duration(cfg.Embedder.Timeout)*time.Second)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("init embedder manager: %w", err)
	}
	a.embedders = manager

	a.search = service.NewSearchService(
		catalog.NewStore(),
		manager,
		scene.NewScorer(cfg.Scorer.ParallelMinRows, cfg.Scorer.Workers),
		files,
		service.SearchConfig{
			CatalogKey: cfg.Catalog.Key,
			Search:     profileOptions(cfg.Search, scene.DefaultThreshold, scene.DefaultGapThreshold),
			Timeline:   profileOptions(cfg.Timeline, scene.TimelineThreshold, scene.TimelineGapThreshold),
		},
	)
	return a, nil
}

func profileOptions(p config.SearchProfile, threshold, gap float64) scene.Options {
	opts := scene.Options{Threshold: threshold, GapThreshold: gap, TopK: p.TopK}
	if p.Threshold != nil {
		opts.Threshold = *p.Threshold
	}
	if p.GapThreshold != nil {
		opts.GapThreshold = *p.GapThreshold
	}
	return opts
}

func (a *app) Close() error {
	var errs []error
	if a.embedders != nil {
		errs = append(errs, a.embedders.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
