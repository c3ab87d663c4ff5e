package scene

import (
	"sort"

	"github.com/xxxsen/scenesearch/internal/model"
)

// Filter keeps the chunks scoring at or above threshold, ordered by start time.
// Chunks sharing a start keep their input order.
func Filter(chunks []model.SceneChunk, sims []float64, threshold float64) []model.ScoredChunk {
	n := min(len(chunks), len(sims))
	out := make([]model.ScoredChunk, 0, n)
	for i := 0; i < n; i++ {
		if sims[i] >= threshold {
			out = append(out, model.ScoredChunk{SceneChunk: chunks[i], Similarity: sims[i]})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start < out[j].Start
	})
	return out
}
