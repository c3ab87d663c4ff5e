package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported embedding provider")
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
)

// IEmbedder turns text into a fixed-length vector. Vectors from different embedders live
// in different spaces and must never be compared with each other.
type IEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

type Factory func(model string, args interface{}) (IEmbedder, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func NewEmbedder(provider string, model string, args interface{}) (IEmbedder, error) {
	key := strings.ToLower(strings.TrimSpace(provider))
	if key == "" {
		return nil, fmt.Errorf("%w: provider is required", ErrUnsupportedProvider)
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	return factory(model, args)
}

func unavailable(provider string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrProviderUnavailable, provider, err)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode embedder config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode embedder config: %w", err)
	}
	return nil
}
