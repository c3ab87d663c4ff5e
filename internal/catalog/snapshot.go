package catalog

import (
	"sync/atomic"
	"time"

	"github.com/xxxsen/scenesearch/internal/model"
	"github.com/xxxsen/scenesearch/internal/scene"
)

// Snapshot is one immutable generation of the scene catalog. Accessors hand out the
// backing slices; callers must treat them as read-only.
type Snapshot struct {
	generation uint64
	source     string
	loadedAt   time.Time
	dim        int
	chunks     []model.SceneChunk
	vectors    [][]float64
	norms      []float64
}

func NewSnapshot(source string, chunks []model.SceneChunk) *Snapshot {
	s := &Snapshot{
		source:   source,
		loadedAt: time.Now(),
		chunks:   make([]model.SceneChunk, len(chunks)),
		vectors:  make([][]float64, len(chunks)),
		norms:    make([]float64, len(chunks)),
	}
	copy(s.chunks, chunks)
	for i := range s.chunks {
		vec := make([]float64, len(s.chunks[i].Embedding))
		copy(vec, s.chunks[i].Embedding)
		s.chunks[i].Embedding = vec
		s.vectors[i] = vec
		s.norms[i] = scene.Norm(vec)
	}
	if len(s.vectors) > 0 {
		s.dim = len(s.vectors[0])
	}
	return s
}

func (s *Snapshot) Len() int                   { return len(s.chunks) }
func (s *Snapshot) Dim() int                   { return s.dim }
func (s *Snapshot) Source() string             { return s.source }
func (s *Snapshot) Generation() uint64         { return s.generation }
func (s *Snapshot) LoadedAt() time.Time        { return s.loadedAt }
func (s *Snapshot) Chunks() []model.SceneChunk { return s.chunks }
func (s *Snapshot) Vectors() [][]float64       { return s.vectors }
func (s *Snapshot) Norms() []float64           { return s.norms }

type Stats struct {
	Generation uint64 `json:"generation"`
	Source     string `json:"source"`
	Chunks     int    `json:"chunks"`
	Dimension  int    `json:"dimension"`
	LoadedAt   int64  `json:"loaded_at"`
}

func (s *Snapshot) Stats() Stats {
	return Stats{
		Generation: s.generation,
		Source:     s.source,
		Chunks:     len(s.chunks),
		Dimension:  s.dim,
		LoadedAt:   s.loadedAt.Unix(),
	}
}

// Store publishes snapshots atomically. Readers keep whatever snapshot they loaded for
// the duration of their work.
type Store struct {
	current atomic.Pointer[Snapshot]
	gen     atomic.Uint64
}

func NewStore() *Store {
	st := &Store{}
	st.current.Store(NewSnapshot("", nil))
	return st
}

func (st *Store) Snapshot() *Snapshot {
	return st.current.Load()
}

// Swap installs next and returns the snapshot it replaced. next is stamped with a new
// generation and must not be shared with another store.
func (st *Store) Swap(next *Snapshot) *Snapshot {
	next.generation = st.gen.Add(1)
	return st.current.Swap(next)
}
