package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/scenesearch/internal/model"
)

var ErrMalformedCatalog = errors.New("malformed catalog")

const (
	fieldVector = "vector"
	fieldStart  = "start_ntp_float"
	fieldEnd    = "end_ntp_float"
	fieldText   = "text"
)

// RecordError describes a catalog record that was skipped.
type RecordError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d: %s", e.Index, e.Reason)
}

type LoadReport struct {
	Source  string        `json:"source"`
	Total   int           `json:"total"`
	Loaded  int           `json:"loaded"`
	Skipped []RecordError `json:"skipped"`
}

// Load parses a JSON catalog into a snapshot. Bad records are skipped and reported;
// the whole catalog is rejected only when it is not a JSON array or when none of its
// records is usable.
func Load(ctx context.Context, source string, r io.Reader) (*Snapshot, *LoadReport, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("source", source))
	var records []json.RawMessage
	dec := json.NewDecoder(r)
	if err := dec.Decode(&records); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrMalformedCatalog, source, err)
	}
	if records == nil {
		return nil, nil, fmt.Errorf("%w: %s: top level is not an array", ErrMalformedCatalog, source)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("%w: %s: unexpected data after the record array", ErrMalformedCatalog, source)
	}
	report := &LoadReport{Source: source, Total: len(records), Skipped: []RecordError{}}
	chunks := make([]model.SceneChunk, 0, len(records))
	dim := 0
	for i, raw := range records {
		chunk, err := parseRecord(raw)
		if err == nil && dim != 0 && len(chunk.Embedding) != dim {
			err = fmt.Errorf("vector has %d dimensions, catalog has %d", len(chunk.Embedding), dim)
		}
		if err != nil {
			recErr := RecordError{Index: i, Reason: err.Error()}
			report.Skipped = append(report.Skipped, recErr)
			logger.Warn("skip catalog record", zap.Int("index", i), zap.String("reason", recErr.Reason))
			continue
		}
		if dim == 0 {
			dim = len(chunk.Embedding)
		}
		chunks = append(chunks, chunk)
	}
	report.Loaded = len(chunks)
	if report.Total > 0 && report.Loaded == 0 {
		return nil, report, fmt.Errorf("%w: %s: none of %d records is valid", ErrMalformedCatalog, source, report.Total)
	}
	logger.Info("catalog parsed",
		zap.Int("total", report.Total),
		zap.Int("loaded", report.Loaded),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("dimension", dim),
	)
	return NewSnapshot(source, chunks), report, nil
}

func parseRecord(raw json.RawMessage) (model.SceneChunk, error) {
	var chunk model.SceneChunk
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return chunk, fmt.Errorf("record is not an object")
	}
	for _, name := range []string{fieldVector, fieldStart, fieldEnd, fieldText} {
		v, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return chunk, fmt.Errorf("missing field %q", name)
		}
	}
	if err := json.Unmarshal(fields[fieldVector], &chunk.Embedding); err != nil {
		return chunk, fmt.Errorf("field %q is not a numeric array", fieldVector)
	}
	if len(chunk.Embedding) == 0 {
		return chunk, fmt.Errorf("field %q is empty", fieldVector)
	}
	if err := json.Unmarshal(fields[fieldStart], &chunk.Start); err != nil {
		return chunk, fmt.Errorf("field %q is not a number", fieldStart)
	}
	if err := json.Unmarshal(fields[fieldEnd], &chunk.End); err != nil {
		return chunk, fmt.Errorf("field %q is not a number", fieldEnd)
	}
	if err := json.Unmarshal(fields[fieldText], &chunk.Description); err != nil {
		return chunk, fmt.Errorf("field %q is not a string", fieldText)
	}
	if chunk.Start < 0 {
		return chunk, fmt.Errorf("start %v is negative", chunk.Start)
	}
	if chunk.End < chunk.Start {
		return chunk, fmt.Errorf("end %v is before start %v", chunk.End, chunk.Start)
	}
	return chunk, nil
}
