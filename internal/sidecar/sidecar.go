// Package sidecar reads and writes the JSON-style metadata files that
// accompany raw I/Q recordings and cutouts, per spec §6.
package sidecar

import (
	"encoding/json"
	"fmt"
	"os"

	"iqlab/internal/iqerr"
)

// Capture describes one tuning event within a recording.
type Capture struct {
	SampleStart int64   `json:"sample_start"`
	Frequency   float64 `json:"frequency"`
	Datetime    string  `json:"datetime,omitempty"`
}

// Annotation describes a labeled frequency/time span within a recording.
type Annotation struct {
	SampleStart    int64   `json:"sample_start"`
	SampleCount    int64   `json:"sample_count"`
	FreqLowerEdge  float64 `json:"freq_lower_edge"`
	FreqUpperEdge  float64 `json:"freq_upper_edge"`
	Description    string  `json:"description"`
}

// Metadata is the sample-rate sidecar schema: datatype, sample rate, and
// optional tuned frequency / captures / annotations.
type Metadata struct {
	Datatype    string       `json:"datatype"`
	SampleRate  float64      `json:"sample_rate"`
	Frequency   *float64     `json:"frequency,omitempty"`
	Captures    []Capture    `json:"captures,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// Load reads a sidecar metadata file from path.
func Load(path string) (*Metadata, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, iqerr.New(iqerr.IoError, "sidecar", fmt.Errorf("read %s: %w", path, err))
	}
	var m Metadata
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, iqerr.New(iqerr.InvalidInput, "sidecar", fmt.Errorf("parse %s: %w", path, err))
	}
	return &m, nil
}

// Save writes m to path as indented JSON.
func Save(path string, m *Metadata) error {
	buf, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return iqerr.New(iqerr.InternalError, "sidecar", fmt.Errorf("marshal: %w", err))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return iqerr.New(iqerr.IoError, "sidecar", fmt.Errorf("write %s: %w", path, err))
	}
	return nil
}

// NewCutoutMetadata builds the sidecar for one emitted cutout: one capture
// referencing the cutout's origin in the source recording, and one
// annotation spanning the event (not the padding).
func NewCutoutMetadata(datatype string, sampleRate float64, captureOffset int64, captureFreq float64,
	eventSampleStart, eventSampleCount int64, freqLower, freqUpper float64, description string) *Metadata {
	return &Metadata{
		Datatype:   datatype,
		SampleRate: sampleRate,
		Captures: []Capture{{
			SampleStart: captureOffset,
			Frequency:   captureFreq,
		}},
		Annotations: []Annotation{{
			SampleStart:   eventSampleStart,
			SampleCount:   eventSampleCount,
			FreqLowerEdge: freqLower,
			FreqUpperEdge: freqUpper,
			Description:   description,
		}},
	}
}
