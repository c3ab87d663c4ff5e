package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/scenesearch/internal/ai"
	"github.com/xxxsen/scenesearch/internal/catalog"
	"github.com/xxxsen/scenesearch/internal/filestore"
	"github.com/xxxsen/scenesearch/internal/model"
	appErr "github.com/xxxsen/scenesearch/internal/pkg/errors"
	"github.com/xxxsen/scenesearch/internal/scene"
)

// ErrStoreCatalog reports an upload that parsed but could not be written to the file store.
var ErrStoreCatalog = errors.New("store catalog failed")

type SearchRequest struct {
	Query        string   `json:"query"`
	Model        string   `json:"model"`
	Threshold    *float64 `json:"threshold"`
	GapThreshold *float64 `json:"gap_threshold"`
	TopK         *int     `json:"top_k"`
}

type SearchConfig struct {
	CatalogKey string
	Search     scene.Options
	Timeline   scene.Options
}

type SearchService struct {
	store     *catalog.Store
	embedders *ai.Manager
	scorer    *scene.Scorer
	files     filestore.Store
	cfg       SearchConfig

	reloadMu sync.Mutex
}

func NewSearchService(store *catalog.Store, embedders *ai.Manager, scorer *scene.Scorer, files filestore.Store, cfg SearchConfig) *SearchService {
	if scorer == nil {
		scorer = scene.NewScorer(0, 0)
	}
	return &SearchService{
		store:     store,
		embedders: embedders,
		scorer:    scorer,
		files:     files,
		cfg:       cfg,
	}
}

func (s *SearchService) Search(ctx context.Context, req SearchRequest) ([]model.MergedScene, error) {
	return s.search(ctx, req, s.cfg.Search)
}

// Timeline runs the same pipeline with the timeline defaults and labels every scene
// by its position.
func (s *SearchService) Timeline(ctx context.Context, req SearchRequest) ([]model.MergedScene, error) {
	scenes, err := s.search(ctx, req, s.cfg.Timeline)
	if err != nil {
		return nil, err
	}
	for i := range scenes {
		scenes[i].Label = fmt.Sprintf("Scene %d", i+1)
	}
	return scenes, nil
}

func (s *SearchService) search(ctx context.Context, req SearchRequest, profile scene.Options) ([]model.MergedScene, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", appErr.ErrInvalid)
	}
	opts, err := resolveOptions(req, profile)
	if err != nil {
		return nil, err
	}
	logger := logutil.GetLogger(ctx).With(zap.String("query", query), zap.String("model", req.Model))

	snap := s.store.Snapshot()
	if snap.Len() == 0 {
		logger.Info("catalog is empty, nothing to search", zap.Uint64("generation", snap.Generation()))
		return []model.MergedScene{}, nil
	}
	vec, err := s.embedders.Embed(ctx, req.Model, query)
	if err != nil {
		logger.Error("embed query failed", zap.Error(err))
		return nil, err
	}
	scenes, err := s.scorer.Run(vec, snap, opts)
	if err != nil {
		logger.Error("score catalog failed", zap.Error(err), zap.Int("catalog_dim", snap.Dim()), zap.Int("query_dim", len(vec)))
		return nil, fmt.Errorf("search catalog %s: %w", snap.Source(), err)
	}
	logger.Debug("search finished",
		zap.Int("chunks", snap.Len()),
		zap.Int("scenes", len(scenes)),
		zap.Float64("threshold", opts.Threshold),
		zap.Float64("gap_threshold", opts.GapThreshold),
		zap.Int("top_k", opts.TopK),
	)
	return scenes, nil
}

func resolveOptions(req SearchRequest, profile scene.Options) (scene.Options, error) {
	opts := profile
	if req.Threshold != nil {
		if math.IsNaN(*req.Threshold) {
			return opts, fmt.Errorf("%w: threshold must be a number", appErr.ErrInvalid)
		}
		opts.Threshold = *req.Threshold
	}
	if req.GapThreshold != nil {
		if math.IsNaN(*req.GapThreshold) || *req.GapThreshold < 0 {
			return opts, fmt.Errorf("%w: gap_threshold must not be negative", appErr.ErrInvalid)
		}
		opts.GapThreshold = *req.GapThreshold
	}
	if req.TopK != nil {
		opts.TopK = *req.TopK
	}
	return opts, nil
}

func (s *SearchService) Stats() catalog.Stats {
	return s.store.Snapshot().Stats()
}

// Reload reads key from the file store and publishes it. An empty key means the
// configured catalog key. A rejected catalog leaves the current snapshot in place.
func (s *SearchService) Reload(ctx context.Context, key string) (*catalog.LoadReport, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = s.cfg.CatalogKey
	}
	if key == "" {
		return nil, fmt.Errorf("%w: catalog key is required", appErr.ErrInvalid)
	}
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	rc, err := s.files.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", key, err)
	}
	defer rc.Close()
	snap, report, err := catalog.Load(ctx, key, rc)
	if err != nil {
		logutil.GetLogger(ctx).Error("catalog reload rejected", zap.String("key", key), zap.Error(err))
		return report, err
	}
	s.publish(ctx, snap)
	return report, nil
}

// Upload parses the catalog before storing it, so a bad upload touches neither the
// file store nor the active snapshot.
func (s *SearchService) Upload(ctx context.Context, filename string, r io.Reader, size int64) (*catalog.LoadReport, error) {
	key := filepath.Base(strings.TrimSpace(filename))
	if key == "" || key == "." || key == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: file name is required", appErr.ErrInvalid)
	}
	buf := bytes.NewBuffer(make([]byte, 0, max(size, 0)))
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	data := buf.Bytes()
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	snap, report, err := catalog.Load(ctx, key, bytes.NewReader(data))
	if err != nil {
		logutil.GetLogger(ctx).Error("catalog upload rejected", zap.String("key", key), zap.Error(err))
		return report, err
	}
	if err := s.files.Save(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStoreCatalog, key, err)
	}
	s.publish(ctx, snap)
	return report, nil
}

func (s *SearchService) publish(ctx context.Context, snap *catalog.Snapshot) {
	prev := s.store.Swap(snap)
	logutil.GetLogger(ctx).Info("catalog published",
		zap.String("source", snap.Source()),
		zap.Uint64("generation", snap.Generation()),
		zap.Uint64("previous_generation", prev.Generation()),
		zap.Int("chunks", snap.Len()),
		zap.Int("dimension", snap.Dim()),
	)
}
