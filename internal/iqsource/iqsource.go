// Package iqsource produces a finite sequence of complex samples from a raw
// I/Q recording, per spec §3 "IQ source" and §4 "Framer" inputs.
package iqsource

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"iqlab/internal/iqerr"
	"iqlab/internal/iqsample"
	"iqlab/internal/sidecar"
)

// RecordingMetadata describes the recording a source reads from, per
// spec §3 "Recording metadata".
type RecordingMetadata struct {
	SampleRate    float64
	Format        iqsample.Format
	TunedFreqHz   float64
	HasTunedFreq  bool
	CaptureTime   time.Time
	HasCaptureTime bool
}

// FromSidecar builds RecordingMetadata from a loaded sidecar, falling back
// to the given sample rate when the sidecar is nil or omits one.
func FromSidecar(m *sidecar.Metadata, fallbackSampleRate float64) (RecordingMetadata, error) {
	rm := RecordingMetadata{SampleRate: fallbackSampleRate, Format: iqsample.Format16}
	if m == nil {
		if rm.SampleRate <= 0 {
			return rm, iqerr.New(iqerr.InvalidConfig, "iqsource", fmt.Errorf("sample rate must be supplied when no sidecar is present"))
		}
		return rm, nil
	}
	f, err := iqsample.ParseFormat(m.Datatype)
	if err != nil {
		return rm, err
	}
	rm.Format = f
	if m.SampleRate > 0 {
		rm.SampleRate = m.SampleRate
	}
	if rm.SampleRate <= 0 {
		return rm, iqerr.New(iqerr.InvalidConfig, "iqsource", fmt.Errorf("sample rate must be supplied when the sidecar omits one"))
	}
	if m.Frequency != nil {
		rm.TunedFreqHz = *m.Frequency
		rm.HasTunedFreq = true
	}
	if len(m.Captures) > 0 && m.Captures[0].Datetime != "" {
		if t, err := time.Parse(time.RFC3339, m.Captures[0].Datetime); err == nil {
			rm.CaptureTime = t
			rm.HasCaptureTime = true
		}
	}
	return rm, nil
}

// FileSource reads a finite sequence of complex samples from a raw,
// interleaved I/Q file. It owns its read buffer for the duration of a
// single Read call only, per spec §3 ownership summary.
type FileSource struct {
	Meta RecordingMetadata

	f    *os.File
	r    *bufio.Reader
	done bool
}

// Open opens path for reading as a raw I/Q recording in meta.Format.
func Open(path string, meta RecordingMetadata) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, iqerr.New(iqerr.IoError, "iqsource", fmt.Errorf("open %s: %w", path, err))
	}
	return &FileSource{Meta: meta, f: f, r: bufio.NewReaderSize(f, 1<<20)}, nil
}

// Close releases the underlying file handle.
func (s *FileSource) Close() error {
	return s.f.Close()
}

// ReadN reads up to n complex samples, returning fewer at end-of-stream.
// An empty, nil-error result signals a clean end-of-stream.
func (s *FileSource) ReadN(n int) ([]iqsample.Sample, error) {
	if s.done {
		return nil, nil
	}
	bpc := s.Meta.Format.BytesPerComplex()
	buf := make([]byte, n*bpc)
	read, err := io.ReadFull(s.r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, iqerr.New(iqerr.IoError, "iqsource", fmt.Errorf("read: %w", err))
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		s.done = true
	}
	usable := (read / bpc) * bpc
	if usable == 0 {
		return nil, nil
	}
	samples, decErr := iqsample.DecodeAll(s.Meta.Format, buf[:usable])
	if decErr != nil {
		return nil, decErr
	}
	return samples, nil
}

// MemorySource serves samples already resident in memory, e.g. from a
// generated test signal or a fully-buffered read. Useful for scenario
// tests and for hosts that load an entire recording up front.
type MemorySource struct {
	Meta    RecordingMetadata
	Samples []iqsample.Sample
	pos     int
}

// ReadN returns up to n samples from the in-memory buffer.
func (s *MemorySource) ReadN(n int) ([]iqsample.Sample, error) {
	if s.pos >= len(s.Samples) {
		return nil, nil
	}
	end := s.pos + n
	if end > len(s.Samples) {
		end = len(s.Samples)
	}
	out := s.Samples[s.pos:end]
	s.pos = end
	return out, nil
}

// Source is the interface the framer pulls from.
type Source interface {
	ReadN(n int) ([]iqsample.Sample, error)
}
