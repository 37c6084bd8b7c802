package analyzer

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Sample is one point of the inflight series.
type Sample struct {
	Elapsed time.Duration `json:"elapsed_ns" yaml:"elapsed_ns"`
	Count   int           `json:"count" yaml:"count"`
}

// Series is the ordered, read-only output of Analyze.
type Series struct {
	samples []Sample
}

func newSeries(samples []Sample) *Series {
	return &Series{samples: samples}
}

// Len returns the number of samples.
func (s *Series) Len() int {
	return len(s.samples)
}

// Samples returns a copy of the samples.
func (s *Series) Samples() []Sample {
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Counts returns the count column.
func (s *Series) Counts() []int {
	out := make([]int, len(s.samples))
	for i, sm := range s.samples {
		out[i] = sm.Count
	}
	return out
}

// Peak returns the largest count, 0 for an empty series.
func (s *Series) Peak() int {
	peak := 0
	for _, sm := range s.samples {
		if sm.Count > peak {
			peak = sm.Count
		}
	}
	return peak
}

// Equal reports whether both series hold the same samples.
func (s *Series) Equal(o *Series) bool {
	if len(s.samples) != len(o.samples) {
		return false
	}
	for i := range s.samples {
		if s.samples[i] != o.samples[i] {
			return false
		}
	}
	return true
}

// WriteCSV writes "elapsed_seconds,count" rows with a header line.
func (s *Series) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"elapsed_seconds", "count"}); err != nil {
		return err
	}
	for _, sm := range s.samples {
		row := []string{
			strconv.FormatFloat(sm.Elapsed.Seconds(), 'f', 6, 64),
			strconv.Itoa(sm.Count),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type seriesDoc struct {
	Samples []Sample `json:"samples" yaml:"samples"`
	Peak    int      `json:"peak" yaml:"peak"`
}

func (s *Series) doc() seriesDoc {
	samples := s.samples
	if samples == nil {
		samples = []Sample{}
	}
	return seriesDoc{Samples: samples, Peak: s.Peak()}
}

func (s *Series) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.doc())
}

func (s *Series) MarshalYAML() (interface{}, error) {
	return s.doc(), nil
}

// Export writes the series in the named format: csv, json or yaml.
func (s *Series) Export(w io.Writer, format string) error {
	switch format {
	case "csv":
		return s.WriteCSV(w)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported export format %q (must be csv, json or yaml)", format)
	}
}
