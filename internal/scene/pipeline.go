package scene

import "github.com/xxxsen/scenesearch/internal/model"

const (
	DefaultThreshold    = 0.45
	DefaultGapThreshold = 10

	TimelineThreshold    = 0.4
	TimelineGapThreshold = 60
)

// Index is a read-only view over parallel per-chunk data.
type Index interface {
	Chunks() []model.SceneChunk
	Vectors() [][]float64
	Norms() []float64
}

type Options struct {
	Threshold    float64
	GapThreshold float64
	TopK         int
}

func DefaultOptions() Options {
	return Options{Threshold: DefaultThreshold, GapThreshold: DefaultGapThreshold}
}

// Run scores, filters, merges and limits in that order.
func (s *Scorer) Run(query []float32, idx Index, opts Options) ([]model.MergedScene, error) {
	sims, err := s.ScoreWithNorms(query, idx.Vectors(), idx.Norms())
	if err != nil {
		return nil, err
	}
	filtered := Filter(idx.Chunks(), sims, opts.Threshold)
	merged := Merge(filtered, opts.GapThreshold)
	return Limit(merged, opts.TopK), nil
}
