package scene

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

const defaultParallelMinRows = 4096

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// DimensionMismatchError reports the first scene row whose length differs from the query.
// Index is -1 when the query vector itself is unusable.
type DimensionMismatchError struct {
	Index int
	Want  int
	Got   int
}

func (e *DimensionMismatchError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: query vector has %d dimensions", ErrDimensionMismatch, e.Got)
	}
	return fmt.Sprintf("%s: row %d has %d dimensions, query has %d", ErrDimensionMismatch, e.Index, e.Got, e.Want)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

type Scorer struct {
	parallelMinRows int
	workers         int
}

func NewScorer(parallelMinRows, workers int) *Scorer {
	if parallelMinRows <= 0 {
		parallelMinRows = defaultParallelMinRows
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Scorer{parallelMinRows: parallelMinRows, workers: workers}
}

var defaultScorer = NewScorer(0, 0)

// Score returns the cosine similarity of query against every row of vectors. Rows keep
// full catalog precision; only the query comes from a float32 embedder.
func Score(query []float32, vectors [][]float64) ([]float64, error) {
	return defaultScorer.Score(query, vectors)
}

func (s *Scorer) Score(query []float32, vectors [][]float64) ([]float64, error) {
	return s.ScoreWithNorms(query, vectors, nil)
}

// ScoreWithNorms is Score with the row norms supplied by the caller. A nil or short
// norms slice makes the missing norms be computed on the fly.
func (s *Scorer) ScoreWithNorms(query []float32, vectors [][]float64, norms []float64) ([]float64, error) {
	if len(query) == 0 {
		return nil, &DimensionMismatchError{Index: -1}
	}
	for i, row := range vectors {
		if len(row) != len(query) {
			return nil, &DimensionMismatchError{Index: i, Want: len(query), Got: len(row)}
		}
	}
	out := make([]float64, len(vectors))
	if len(vectors) == 0 {
		return out, nil
	}
	qnorm := Norm(query)
	scoreRange := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			var rnorm float64
			if i < len(norms) {
				rnorm = norms[i]
			} else {
				rnorm = Norm(vectors[i])
			}
			out[i] = cosine(query, vectors[i], qnorm, rnorm)
		}
	}
	if len(vectors) < s.parallelMinRows || s.workers <= 1 {
		scoreRange(0, len(vectors))
		return out, nil
	}
	block := (len(vectors) + s.workers - 1) / s.workers
	var g errgroup.Group
	for lo := 0; lo < len(vectors); lo += block {
		lo, hi := lo, min(lo+block, len(vectors))
		g.Go(func() error {
			scoreRange(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// Norm is the euclidean length of v.
func Norm[T float32 | float64](v []T) float64 {
	var sum float64
	for _, x := range v {
		f := float64(x)
		// The conversion rounds the product and rules out fused multiply-add, so
		// scores are identical on every architecture.
		sum += float64(f * f)
	}
	return math.Sqrt(sum)
}

// cosine treats a zero-length vector as orthogonal to everything.
func cosine(a []float32, b []float64, anorm, bnorm float64) float64 {
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(float64(a[i]) * b[i])
	}
	return dot / (anorm * bnorm)
}
