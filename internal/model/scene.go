package model

// SceneChunk is one indexed, time-bounded piece of a video.
type SceneChunk struct {
	Start       float64   `json:"start"`
	End         float64   `json:"end"`
	Description string    `json:"description"`
	Embedding   []float64 `json:"-"`
}

type ScoredChunk struct {
	SceneChunk
	Similarity float64 `json:"similarity"`
}

// MergedScene is a run of matching chunks whose gaps stayed within tolerance.
type MergedScene struct {
	Label       string  `json:"label,omitempty"`
	Timestamp   float64 `json:"representative_timestamp"`
	EndTime     float64 `json:"end_time"`
	Similarity  float64 `json:"aggregate_similarity"`
	Description string  `json:"combined_description"`
	ChunkCount  int     `json:"chunk_count"`
}
