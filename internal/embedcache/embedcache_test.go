package embedcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	model string
	calls int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) ModelName() string { return c.model }

func TestLruEmbedderCachesByText(t *testing.T) {
	next := &countingEmbedder{model: "m"}
	e := WrapLruCacheToEmbedder(next, "local", 16, time.Minute)

	v1, err := e.Embed(context.Background(), "dog")
	require.NoError(t, err)
	v1[0] = 999
	v2, err := e.Embed(context.Background(), "dog")
	require.NoError(t, err)
	require.Equal(t, []float32{3, 1}, v2)
	require.Equal(t, 1, next.calls)

	_, err = e.Embed(context.Background(), "horse")
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)
	require.Equal(t, "m", e.ModelName())
}

func TestLruEmbedderDoesNotCacheErrors(t *testing.T) {
	next := &countingEmbedder{model: "m", err: errors.New("down")}
	e := WrapLruCacheToEmbedder(next, "local", 16, time.Minute)
	_, err := e.Embed(context.Background(), "dog")
	require.Error(t, err)
	_, err = e.Embed(context.Background(), "dog")
	require.Error(t, err)
	require.Equal(t, 2, next.calls)
}

func TestLruDisabled(t *testing.T) {
	next := &countingEmbedder{model: "m"}
	require.Same(t, next, WrapLruCacheToEmbedder(next, "local", 0, time.Minute))
	require.Same(t, next, WrapLruCacheToEmbedder(next, "local", 10, 0))
}

func TestCacheKeyScopedByModel(t *testing.T) {
	require.NotEqual(t, buildCacheKey("x", "a", "text"), buildCacheKey("x", "b", "text"))
	require.Equal(t, buildCacheKey("x", "a", "text"), buildCacheKey("x", " a ", "text"))
	require.Contains(t, buildCacheKey("x", "", "text"), "unknown")
}

func TestCacheKeyScopedByEntry(t *testing.T) {
	same := "openai:text-embedding-3-small"
	require.NotEqual(t, buildCacheKey("openai-a", same, "text"), buildCacheKey("openai-b", same, "text"))
	require.Equal(t, buildCacheKey("OpenAI-A", same, "text"), buildCacheKey(" openai-a", same, "text"))
	require.Contains(t, buildCacheKey("", same, "text"), "embed:default:")
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	out, err := decodeVector(encodeVector(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
	_, err = decodeVector([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestRedisEmbedder(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping redis test")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	prefix := fmt.Sprintf("scenesearch-test-%d:", time.Now().UnixNano())
	next := &countingEmbedder{model: "m"}
	e := WrapRedisCacheToEmbedder(next, "local", client, prefix, time.Minute)
	v1, err := e.Embed(ctx, "cat")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "cat")
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Equal(t, 1, next.calls)

	// same model name behind another entry must not read the first entry's vectors
	other := &countingEmbedder{model: "m"}
	_, err = WrapRedisCacheToEmbedder(other, "remote", client, prefix, time.Minute).Embed(ctx, "cat")
	require.NoError(t, err)
	require.Equal(t, 1, other.calls)
}
