package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/scenesearch/internal/ai"
)

// WrapLruCacheToEmbedder keeps recent query embeddings in memory. scope names the
// configured embedder entry, so two entries serving the same model name from different
// endpoints never share vectors.
func WrapLruCacheToEmbedder(e ai.IEmbedder, scope string, size int, ttl time.Duration) ai.IEmbedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &lruEmbedder{
		next:  e,
		scope: scope,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruEmbedder struct {
	next  ai.IEmbedder
	scope string
	cache *expirable.LRU[string, []float32]
}

func (l *lruEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	cacheKey := buildCacheKey(l.scope, l.next.ModelName(), text)
	if cached, ok := l.cache.Get(cacheKey); ok {
		logutil.GetLogger(ctx).Debug("embedding cache hit (lru)", zap.String("model", l.next.ModelName()))
		return cloneEmbedding(cached), nil
	}
	res, err := l.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	l.cache.Add(cacheKey, cloneEmbedding(res))
	return res, nil
}

func (l *lruEmbedder) ModelName() string {
	return l.next.ModelName()
}

func (l *lruEmbedder) Close() error {
	return closeNext(l.next)
}

// buildCacheKey scopes entries by embedder entry and model so vectors from different
// spaces never mix.
func buildCacheKey(scope, modelName, text string) string {
	scope = strings.ToLower(strings.TrimSpace(scope))
	if scope == "" {
		scope = "default"
	}
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	hash := sha256.Sum256([]byte(text))
	return "embed:" + scope + ":" + modelName + ":" + hex.EncodeToString(hash[:])
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}

func closeNext(next ai.IEmbedder) error {
	if closer, ok := next.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
