package iqsource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iqlab/internal/iqsample"
	"iqlab/internal/sidecar"
)

func TestFromSidecar_NilFallsBackToGivenSampleRate(t *testing.T) {
	rm, err := FromSidecar(nil, 48000)
	require.NoError(t, err)
	assert.Equal(t, 48000.0, rm.SampleRate)
	assert.Equal(t, iqsample.Format16, rm.Format)
	assert.False(t, rm.HasTunedFreq)
}

func TestFromSidecar_NilWithoutFallbackErrors(t *testing.T) {
	_, err := FromSidecar(nil, 0)
	assert.Error(t, err)
}

func TestFromSidecar_UsesSidecarSampleRateAndFrequency(t *testing.T) {
	freq := 101e6
	m := &sidecar.Metadata{
		Datatype:   "ci8",
		SampleRate: 96000,
		Frequency:  &freq,
		Captures:   []sidecar.Capture{{Datetime: "2026-03-01T12:00:00Z"}},
	}
	rm, err := FromSidecar(m, 0)
	require.NoError(t, err)
	assert.Equal(t, 96000.0, rm.SampleRate)
	assert.Equal(t, iqsample.Format8, rm.Format)
	require.True(t, rm.HasTunedFreq)
	assert.Equal(t, freq, rm.TunedFreqHz)
	assert.True(t, rm.HasCaptureTime)
}

func TestFromSidecar_RejectsUnknownDatatype(t *testing.T) {
	m := &sidecar.Metadata{Datatype: "ci32", SampleRate: 48000}
	_, err := FromSidecar(m, 0)
	assert.Error(t, err)
}

func TestFileSource_ReadNReturnsFewerAtEOF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.raw")
	raw := make([]byte, 4*10) // 10 ci16 samples
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	src, err := Open(path, RecordingMetadata{SampleRate: 48000, Format: iqsample.Format16})
	require.NoError(t, err)
	defer src.Close()

	s1, err := src.ReadN(6)
	require.NoError(t, err)
	assert.Len(t, s1, 6)

	s2, err := src.ReadN(6)
	require.NoError(t, err)
	assert.Len(t, s2, 4)

	s3, err := src.ReadN(6)
	require.NoError(t, err)
	assert.Empty(t, s3)
}

func TestMemorySource_ReadNStopsAtEnd(t *testing.T) {
	samples := make([]iqsample.Sample, 5)
	src := &MemorySource{Samples: samples}

	s1, err := src.ReadN(3)
	require.NoError(t, err)
	assert.Len(t, s1, 3)

	s2, err := src.ReadN(3)
	require.NoError(t, err)
	assert.Len(t, s2, 2)

	s3, err := src.ReadN(3)
	require.NoError(t, err)
	assert.Empty(t, s3)
}
