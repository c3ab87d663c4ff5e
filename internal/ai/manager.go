package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

// Manager resolves a selector to one configured embedder. There is no fallback between
// entries.
type Manager struct {
	embedders   map[string]IEmbedder
	defaultName string
	timeout     time.Duration
}

func NewManager(entries []EmbedderEntry, defaultName string, timeout time.Duration) (*Manager, error) {
	m := &Manager{
		embedders: make(map[string]IEmbedder, len(entries)),
		timeout:   timeout,
	}
	for _, item := range entries {
		key := normalizeSelector(item.Name)
		if key == "" || item.Embedder == nil {
			return nil, fmt.Errorf("embedder entry requires name and embedder")
		}
		if _, ok := m.embedders[key]; ok {
			return nil, fmt.Errorf("duplicate embedder name: %s", item.Name)
		}
		m.embedders[key] = item.Embedder
	}
	m.defaultName = normalizeSelector(defaultName)
	if m.defaultName == "" && len(entries) == 1 {
		m.defaultName = normalizeSelector(entries[0].Name)
	}
	if _, ok := m.embedders[m.defaultName]; !ok {
		return nil, fmt.Errorf("%w: default embedder %q not configured", ErrUnsupportedProvider, defaultName)
	}
	return m, nil
}

func normalizeSelector(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (m *Manager) resolve(selector string) (string, IEmbedder, error) {
	key := normalizeSelector(selector)
	if key == "" {
		key = m.defaultName
	}
	e, ok := m.embedders[key]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, selector)
	}
	return key, e, nil
}

// Embed embeds text with the embedder named by selector, or the default one when the
// selector is empty.
func (m *Manager) Embed(ctx context.Context, selector string, text string) ([]float32, error) {
	name, e, err := m.resolve(selector)
	if err != nil {
		return nil, err
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	res, err := e.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrProviderUnavailable) {
			err = unavailable(name, err)
		}
		logutil.GetLogger(ctx).Warn("embed query failed", zap.String("embedder", name), zap.Error(err))
		return nil, err
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("embedder %s returned an empty vector", name)
	}
	return res, nil
}

func (m *Manager) ModelName(selector string) (string, error) {
	_, e, err := m.resolve(selector)
	if err != nil {
		return "", err
	}
	return e.ModelName(), nil
}

func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.embedders))
	for name := range m.embedders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) DefaultName() string {
	return m.defaultName
}

func (m *Manager) Close() error {
	var errs []error
	for _, e := range m.embedders {
		if closer, ok := e.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}
