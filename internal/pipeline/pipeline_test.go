package pipeline

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iqlab/internal/config"
	"iqlab/internal/iqsample"
	"iqlab/internal/iqsource"
	"iqlab/internal/wsfeed"
)

// toneBurst builds a synthetic recording: a steady tone at toneBin (out of
// fftSize bins) riding on a small noise floor, for frameCount*hop+fftSize
// samples.
func toneBurst(fftSize, hop, frameCount, toneBin int, sampleRate float64) []iqsample.Sample {
	n := frameCount*hop + fftSize
	samples := make([]iqsample.Sample, n)
	rng := rand.New(rand.NewSource(1))
	freqHz := float64(toneBin) / float64(fftSize) * sampleRate
	for i := range samples {
		theta := 2 * math.Pi * freqHz * float64(i) / sampleRate
		noise := (rng.Float64() - 0.5) * 0.02
		samples[i] = iqsample.Sample{I: 0.8*math.Cos(theta) + noise, Q: 0.8*math.Sin(theta) + noise}
	}
	return samples
}

func TestPipeline_RunDetectsSteadyToneAndEmitsEvent(t *testing.T) {
	cfg := config.Default()
	cfg.Framer.FFTSize = 64
	cfg.Framer.HopSize = 16
	cfg.CFAR.RefCells = 8
	cfg.CFAR.GuardCells = 2
	cfg.CFAR.OSRank = 12
	cfg.CFAR.PFA = 1e-3
	cfg.Cluster.MaxTimeGapMs = 200
	cfg.Cluster.MaxFreqGapHz = 500
	cfg.Cluster.MaxClusters = 4

	dir := t.TempDir()
	cfg.Emitter.OutputPath = filepath.Join(dir, "events.csv")

	sampleRate := 8000.0
	samples := toneBurst(cfg.Framer.FFTSize, cfg.Framer.HopSize, 40, 10, sampleRate)

	src := &iqsource.MemorySource{Samples: samples}
	rm := iqsource.RecordingMetadata{SampleRate: sampleRate, Format: iqsample.Format16}

	p, err := New(cfg, src, rm, "unused.raw", Deps{})
	require.NoError(t, err)
	assert.NotEmpty(t, p.RunID())

	stats, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Greater(t, stats.FramesProcessed, int64(0))
	assert.Greater(t, stats.Detections, int64(0))
	assert.GreaterOrEqual(t, stats.EventsEmitted, int64(1))

	buf, err := os.ReadFile(cfg.Emitter.OutputPath)
	require.NoError(t, err)
	assert.NotEmpty(t, buf)
}

func TestPipeline_RunBroadcastsSpectrumWhenVerbose(t *testing.T) {
	cfg := config.Default()
	cfg.Framer.FFTSize = 64
	cfg.Framer.HopSize = 16
	cfg.Verbose = true

	dir := t.TempDir()
	cfg.Emitter.OutputPath = filepath.Join(dir, "events.csv")

	sampleRate := 8000.0
	samples := toneBurst(cfg.Framer.FFTSize, cfg.Framer.HopSize, 10, 10, sampleRate)
	src := &iqsource.MemorySource{Samples: samples}
	rm := iqsource.RecordingMetadata{SampleRate: sampleRate, Format: iqsample.Format16}

	hub := wsfeed.NewHub()
	p, err := New(cfg, src, rm, "unused.raw", Deps{Hub: hub})
	require.NoError(t, err)

	// No connected viewers; this only exercises that verbose broadcasting
	// doesn't panic or block with a nil-free Hub.
	_, err = p.Run(context.Background())
	require.NoError(t, err)
}

func TestPipeline_RunHonorsContextCancellation(t *testing.T) {
	cfg := config.Default()
	cfg.Framer.FFTSize = 64
	cfg.Framer.HopSize = 16

	dir := t.TempDir()
	cfg.Emitter.OutputPath = filepath.Join(dir, "events.csv")

	sampleRate := 8000.0
	samples := toneBurst(cfg.Framer.FFTSize, cfg.Framer.HopSize, 100, 10, sampleRate)
	src := &iqsource.MemorySource{Samples: samples}
	rm := iqsource.RecordingMetadata{SampleRate: sampleRate, Format: iqsample.Format16}

	p, err := New(cfg, src, rm, "unused.raw", Deps{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.FramesProcessed)
}
