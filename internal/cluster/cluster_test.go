package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iqlab/internal/cfar"
)

func baseConfig() Config {
	return Config{
		MaxTimeGapS:  0.5,
		MaxFreqGapHz: 2000,
		MaxClusters:  8,
		SampleRate:   48000,
		FFTSize:      1024,
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cases := []Config{
		{MaxTimeGapS: 0, MaxFreqGapHz: 1, MaxClusters: 1, SampleRate: 1, FFTSize: 2},
		{MaxTimeGapS: 1, MaxFreqGapHz: 0, MaxClusters: 1, SampleRate: 1, FFTSize: 2},
		{MaxTimeGapS: 1, MaxFreqGapHz: 1, MaxClusters: 0, SampleRate: 1, FFTSize: 2},
		{MaxTimeGapS: 1, MaxFreqGapHz: 1, MaxClusters: 1, SampleRate: 0, FFTSize: 2},
		{MaxTimeGapS: 1, MaxFreqGapHz: 1, MaxClusters: 1, SampleRate: 1, FFTSize: 3},
	}
	for _, c := range cases {
		_, err := New(c)
		assert.Error(t, err)
	}
}

func det(bin int, snr float64) cfar.Detection {
	return cfar.Detection{Bin: bin, SignalPower: 10, SNRdB: snr}
}

func TestAddDetection_FormsClusterAndCloses(t *testing.T) {
	e, err := New(baseConfig())
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		ok := e.AddDetection(det(100, 10), float64(i)*0.05)
		require.True(t, ok)
	}
	assert.Equal(t, 1, e.ActiveCount())

	// no close yet: idle time below threshold
	assert.Empty(t, e.GetEvents(0.2))

	events := e.GetEvents(1.0)
	require.Len(t, events, 1)
	assert.Equal(t, 4, events[0].DetectionCount)
	assert.Equal(t, 0, e.ActiveCount())
}

func TestAddDetection_BelowMinCountNeverCloses(t *testing.T) {
	e, err := New(baseConfig())
	require.NoError(t, err)

	e.AddDetection(det(10, 5), 0)
	e.AddDetection(det(10, 5), 0.05)
	assert.Empty(t, e.GetEvents(10.0))
	assert.Equal(t, 1, e.ActiveCount())
}

func TestAddDetection_CapacityExhaustionDropsLocally(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxClusters = 1
	e, err := New(cfg)
	require.NoError(t, err)

	require.True(t, e.AddDetection(det(10, 5), 0))
	ok := e.AddDetection(det(900, 5), 0)
	assert.False(t, ok)
	assert.Equal(t, int64(1), e.CapacityDrops())
}

func TestMergeClusters_MergesNearbyActiveClusters(t *testing.T) {
	e, err := New(baseConfig())
	require.NoError(t, err)

	e.AddDetection(det(100, 5), 0)
	e.AddDetection(det(150, 5), 0) // 50 bins (~2344 Hz) away: too far to match, opens a second cluster
	require.Equal(t, 2, e.ActiveCount())
	e.AddDetection(det(130, 5), 0.01) // joins the bin-150 cluster, whose mean moves to 140, within 2000 Hz of bin 100
	assert.Equal(t, 1, e.ActiveCount())
}

func TestFlush_ClosesRegardlessOfIdleTime(t *testing.T) {
	e, err := New(baseConfig())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		e.AddDetection(det(5, 8), float64(i)*0.01)
	}
	events := e.Flush()
	require.Len(t, events, 1)
	assert.Equal(t, 0, e.ActiveCount())
}

func TestToEvent_CenterFreqUsesDCCenteredFormula(t *testing.T) {
	cfg := baseConfig()
	cfg.FFTSize = 1024
	cfg.SampleRate = 48000
	e, err := New(cfg)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		e.AddDetection(det(512, 10), float64(i)*0.01)
	}
	events := e.Flush()
	require.Len(t, events, 1)
	assert.InDelta(t, 0.0, events[0].CenterFreqHz, 1e-6)
}
