package embedcache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/scenesearch/internal/ai"
)

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	TTL      int    `json:"ttl_seconds"`
	Prefix   string `json:"prefix"`
}

func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// WrapRedisCacheToEmbedder shares query embeddings between processes. Keys are scoped
// like the lru cache. Cache failures are logged and never fail the embedding itself.
func WrapRedisCacheToEmbedder(e ai.IEmbedder, scope string, client redis.UniversalClient, prefix string, ttl time.Duration) ai.IEmbedder {
	if e == nil || client == nil {
		return e
	}
	return &redisEmbedder{next: e, scope: scope, client: client, prefix: prefix, ttl: ttl}
}

type redisEmbedder struct {
	next   ai.IEmbedder
	scope  string
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func (r *redisEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	logger := logutil.GetLogger(ctx)
	key := r.prefix + buildCacheKey(r.scope, r.next.ModelName(), text)
	data, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if values, decErr := decodeVector(data); decErr == nil {
			logger.Debug("embedding cache hit (redis)", zap.String("model", r.next.ModelName()))
			return values, nil
		}
		logger.Warn("drop corrupt redis embedding", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		logger.Warn("redis embedding lookup failed", zap.Error(err))
	}
	res, err := r.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := r.client.Set(ctx, key, encodeVector(res), r.ttl).Err(); err != nil {
		logger.Warn("failed to cache embedding", zap.Error(err))
	}
	return res, nil
}

func (r *redisEmbedder) ModelName() string {
	return r.next.ModelName()
}

func (r *redisEmbedder) Close() error {
	return closeNext(r.next)
}

func encodeVector(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector payload of %d bytes", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}
