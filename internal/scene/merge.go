package scene

import (
	"strings"

	"github.com/xxxsen/scenesearch/internal/model"
)

// Merge groups start-ordered chunks into scenes. A chunk joins the open group when the
// distance from the group's last end to its start is at most gap; overlaps always join.
func Merge(chunks []model.ScoredChunk, gap float64) []model.MergedScene {
	out := make([]model.MergedScene, 0)
	var group []model.ScoredChunk
	for _, chunk := range chunks {
		if len(group) == 0 {
			group = append(group, chunk)
			continue
		}
		last := group[len(group)-1]
		if chunk.Start-last.End <= gap {
			group = append(group, chunk)
			continue
		}
		out = append(out, finalize(group))
		group = []model.ScoredChunk{chunk}
	}
	// the open group is never flushed inside the loop
	if len(group) > 0 {
		out = append(out, finalize(group))
	}
	return out
}

func finalize(group []model.ScoredChunk) model.MergedScene {
	descs := make([]string, 0, len(group))
	var total float64
	for _, c := range group {
		descs = append(descs, c.Description)
		total += c.Similarity
	}
	return model.MergedScene{
		Timestamp:   group[0].Start,
		EndTime:     group[len(group)-1].End,
		Similarity:  total / float64(len(group)),
		Description: strings.Join(descs, " "),
		ChunkCount:  len(group),
	}
}
