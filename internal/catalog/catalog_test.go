package catalog

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/scenesearch/internal/model"
	"github.com/xxxsen/scenesearch/internal/scene"
)

const sampleCatalog = `[
	{"vector": [1, 0], "start_ntp_float": 0, "end_ntp_float": 5, "text": "a"},
	{"vector": [0, 1], "start_ntp_float": 4, "end_ntp_float": 9, "text": "b", "extra": true},
	{"vector": [1, 1], "start_ntp_float": 50, "end_ntp_float": 55, "text": "c"}
]`

func TestLoadValid(t *testing.T) {
	snap, report, err := Load(context.Background(), "sample.json", strings.NewReader(sampleCatalog))
	require.NoError(t, err)
	require.Equal(t, 3, snap.Len())
	require.Equal(t, 2, snap.Dim())
	require.Equal(t, "sample.json", snap.Source())
	require.Equal(t, 3, report.Total)
	require.Equal(t, 3, report.Loaded)
	require.Empty(t, report.Skipped)
	require.Equal(t, "b", snap.Chunks()[1].Description)
	require.InDelta(t, 1.4142135, snap.Norms()[2], 1e-6)
	require.Equal(t, snap.Chunks()[0].Embedding, snap.Vectors()[0])
}

func TestLoadSkipsBadRecords(t *testing.T) {
	input := `[
		{"vector": [1, 0], "start_ntp_float": 0, "end_ntp_float": 5, "text": "ok"},
		{"start_ntp_float": 1, "end_ntp_float": 2, "text": "no vector"},
		{"vector": [1, 0], "end_ntp_float": 2, "text": "no start"},
		{"vector": [1, 0], "start_ntp_float": 1, "text": "no end"},
		{"vector": [1, 0], "start_ntp_float": 1, "end_ntp_float": 2},
		{"vector": [1, 0, 3], "start_ntp_float": 1, "end_ntp_float": 2, "text": "wrong dim"},
		{"vector": [1, 0], "start_ntp_float": 9, "end_ntp_float": 2, "text": "reversed"},
		{"vector": "x", "start_ntp_float": 1, "end_ntp_float": 2, "text": "bad vector"},
		{"vector": [1, 0], "start_ntp_float": "1", "end_ntp_float": 2, "text": "bad start"},
		{"vector": [], "start_ntp_float": 1, "end_ntp_float": 2, "text": "empty vector"},
		{"vector": [1, 0], "start_ntp_float": null, "end_ntp_float": 2, "text": "null start"},
		{"vector": [1, 0], "start_ntp_float": -1, "end_ntp_float": 2, "text": "negative"},
		42,
		{"vector": [0, 1], "start_ntp_float": 10, "end_ntp_float": 12, "text": "ok too"}
	]`
	snap, report, err := Load(context.Background(), "mixed", strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 2, snap.Len())
	require.Equal(t, 14, report.Total)
	require.Equal(t, 2, report.Loaded)
	require.Len(t, report.Skipped, 12)

	indexes := make([]int, 0, len(report.Skipped))
	for _, rec := range report.Skipped {
		indexes = append(indexes, rec.Index)
		require.NotEmpty(t, rec.Reason)
	}
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, indexes)
	require.Contains(t, report.Skipped[0].Reason, `"vector"`)
	require.Contains(t, report.Skipped[3].Reason, `"text"`)
	require.Contains(t, report.Skipped[3].Error(), "record 4")
	require.Contains(t, report.Skipped[4].Reason, "dimensions")
}

func TestLoadRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not json", input: "{{"},
		{name: "object", input: `{"vector": [1]}`},
		{name: "no valid record", input: `[{"text": "a"}, {"vector": [1]}]`},
		{name: "null", input: `null`},
		{name: "concatenated arrays", input: `[] [{"vector": [1], "start_ntp_float": 0, "end_ntp_float": 1, "text": "a"}]`},
		{name: "trailing garbage", input: `[{"vector": [1], "start_ntp_float": 0, "end_ntp_float": 1, "text": "a"}] xx`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, _, err := Load(context.Background(), tt.name, strings.NewReader(tt.input))
			require.ErrorIs(t, err, ErrMalformedCatalog)
			require.Nil(t, snap)
		})
	}
}

func TestLoadEmptyArray(t *testing.T) {
	snap, report, err := Load(context.Background(), "empty", strings.NewReader("[]\n\t "))
	require.NoError(t, err)
	require.Equal(t, 0, snap.Len())
	require.Equal(t, 0, report.Total)
}

func TestLoadKeepsFullPrecisionAtThreshold(t *testing.T) {
	// cos((1, 0), row) is exactly 0.45 in float64 but 0.4499999 once the row is rounded
	// to float32.
	input := `[{"vector": [0.45, 0.8930285549745877], "start_ntp_float": 3, "end_ntp_float": 4, "text": "edge"}]`
	snap, _, err := Load(context.Background(), "edge", strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, []float64{0.45, 0.8930285549745877}, snap.Vectors()[0])

	sims, err := scene.Score([]float32{1, 0}, snap.Vectors())
	require.NoError(t, err)
	require.Equal(t, 0.45, sims[0])

	scenes, err := scene.NewScorer(0, 0).Run([]float32{1, 0}, snap, scene.Options{Threshold: 0.45, GapThreshold: 10})
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	require.Equal(t, "edge", scenes[0].Description)
	require.Equal(t, 0.45, scenes[0].Similarity)
}

func TestSnapshotCopiesInput(t *testing.T) {
	chunks := []model.SceneChunk{{Start: 1, End: 2, Description: "a", Embedding: []float64{3, 4}}}
	snap := NewSnapshot("mem", chunks)
	chunks[0].Description = "changed"
	chunks[0].Embedding[0] = 100
	require.Equal(t, "a", snap.Chunks()[0].Description)
	require.Equal(t, float64(3), snap.Vectors()[0][0])
	require.Equal(t, float64(5), snap.Norms()[0])
}

func TestStoreSwap(t *testing.T) {
	st := NewStore()
	initial := st.Snapshot()
	require.Equal(t, 0, initial.Len())

	first := NewSnapshot("one", []model.SceneChunk{{Embedding: []float64{1}}})
	prev := st.Swap(first)
	require.Same(t, initial, prev)
	require.Same(t, first, st.Snapshot())
	require.Equal(t, uint64(1), st.Snapshot().Generation())

	st.Swap(NewSnapshot("two", nil))
	require.Equal(t, uint64(2), st.Snapshot().Generation())
	require.Equal(t, "two", st.Snapshot().Source())
}

func TestStoreReadersSeeConsistentSnapshots(t *testing.T) {
	build := func(n int) *Snapshot {
		chunks := make([]model.SceneChunk, n)
		for i := range chunks {
			chunks[i] = model.SceneChunk{Start: float64(n), End: float64(n), Embedding: make([]float64, 4)}
		}
		return NewSnapshot("gen", chunks)
	}
	st := NewStore()
	st.Swap(build(1))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := st.Snapshot()
				n := snap.Len()
				assert.Len(t, snap.Vectors(), n)
				assert.Len(t, snap.Norms(), n)
				for _, c := range snap.Chunks() {
					assert.Equal(t, float64(n), c.Start)
				}
			}
		}()
	}
	for i := 2; i < 200; i++ {
		st.Swap(build(i))
	}
	close(stop)
	wg.Wait()
}
