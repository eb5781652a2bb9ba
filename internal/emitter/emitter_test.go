package emitter

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iqlab/internal/cluster"
	"iqlab/internal/iqsample"
	"iqlab/internal/sidecar"
)

func sampleEvent() cluster.Event {
	return cluster.Event{
		StartTime:       1.0,
		EndTime:         1.5,
		CenterFreqHz:    1000,
		BandwidthHz:     200,
		AvgSNRdB:        12.5,
		PeakPowerDBFS:   -20,
		ModulationGuess: "cw",
		Confidence:      0.8,
	}
}

func TestNew_WritesColumnarHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.csv")

	e, err := New(Config{Format: Columnar, OutputPath: path})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(buf), "t_start_s,t_end_s"))
}

func TestEmitEvent_ColumnarWritesOneRowPerEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.csv")

	e, err := New(Config{Format: Columnar, OutputPath: path})
	require.NoError(t, err)

	require.NoError(t, e.EmitEvent(sampleEvent(), nil))
	require.NoError(t, e.EmitEvent(sampleEvent(), []string{"x"}))
	require.NoError(t, e.Close())

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	require.Len(t, lines, 3) // header + 2 rows
	assert.Equal(t, 2, e.Emitted())
}

func TestEmitEvent_OneRecordPerLineFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")

	e, err := New(Config{Format: OneRecordPerLine, OutputPath: path})
	require.NoError(t, err)
	require.NoError(t, e.EmitEvent(sampleEvent(), nil))
	require.NoError(t, e.Close())

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(buf), "f_center_Hz=1000.000")
	assert.Contains(t, string(buf), "tags=[burst,detection]")
}

func TestNew_GzipCompressedOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.csv.gz")

	e, err := New(Config{Format: Columnar, OutputPath: path})
	require.NoError(t, err)
	require.NoError(t, e.EmitEvent(sampleEvent(), nil))
	require.NoError(t, e.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestEmitCutout_WritesCutoutBeforeSidecarAndPadsWindow(t *testing.T) {
	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "source.raw")

	sampleRate := 1000.0
	totalSamples := 2000
	raw := make([]byte, totalSamples*4)
	for i := 0; i < totalSamples; i++ {
		s := iqsample.Sample{I: float64(i%100) / 100.0, Q: 0}
		require.NoError(t, iqsample.Encode(iqsample.Format16, s, raw[i*4:(i+1)*4]))
	}
	require.NoError(t, os.WriteFile(sourcePath, raw, 0o644))

	cutoutDir := filepath.Join(dir, "cutouts")
	e, err := New(Config{
		Format:          Columnar,
		OutputPath:      filepath.Join(dir, "events.csv"),
		GenerateCutouts: true,
		CutoutDir:       cutoutDir,
		SourcePath:      sourcePath,
		SourceFormat:    iqsample.Format16,
		SampleRate:      sampleRate,
	})
	require.NoError(t, err)
	defer e.Close()

	ev := sampleEvent()
	require.NoError(t, e.EmitCutout(ev, 0, 500, 100))

	cutoutPath := filepath.Join(cutoutDir, "event_00000.raw")
	sidecarPath := filepath.Join(cutoutDir, "event_00000.json")

	cutoutInfo, err := os.Stat(cutoutPath)
	require.NoError(t, err)

	pad := int64(0.001 * sampleRate)
	wantSamples := 100 + 2*pad
	assert.Equal(t, wantSamples*4, cutoutInfo.Size())

	meta, err := sidecar.Load(sidecarPath)
	require.NoError(t, err)
	require.Len(t, meta.Annotations, 1)
	assert.Equal(t, pad, meta.Annotations[0].SampleStart)
	assert.Equal(t, int64(100), meta.Annotations[0].SampleCount)
}

func TestEmitCutout_ClampsPaddingAtRecordingStart(t *testing.T) {
	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "source.raw")
	raw := make([]byte, 400*4)
	require.NoError(t, os.WriteFile(sourcePath, raw, 0o644))

	cutoutDir := filepath.Join(dir, "cutouts")
	e, err := New(Config{
		Format:          Columnar,
		OutputPath:      filepath.Join(dir, "events.csv"),
		GenerateCutouts: true,
		CutoutDir:       cutoutDir,
		SourcePath:      sourcePath,
		SourceFormat:    iqsample.Format16,
		SampleRate:      1000,
	})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.EmitCutout(sampleEvent(), 1, 0, 10))

	meta, err := sidecar.Load(filepath.Join(cutoutDir, "event_00001.json"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), meta.Annotations[0].SampleStart)
}

func TestEmitCutout_NoopWhenCutoutsDisabled(t *testing.T) {
	dir := t.TempDir()
	e, err := New(Config{Format: Columnar, OutputPath: filepath.Join(dir, "events.csv")})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.EmitCutout(sampleEvent(), 0, 0, 10))
	_, err = os.Stat(filepath.Join(dir, "cutouts"))
	assert.True(t, os.IsNotExist(err))
}

func TestEmitEvent_RetriesPendingRecordOnWriteFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.csv")

	e, err := New(Config{Format: Columnar, OutputPath: path})
	require.NoError(t, err)

	require.NoError(t, e.file.Close()) // force every subsequent write to fail

	require.NoError(t, e.EmitEvent(sampleEvent(), nil))
	require.True(t, e.hasPending)
	require.Equal(t, int64(1), e.IoRetries())
	firstPending := e.pendingLine

	require.NoError(t, e.EmitEvent(sampleEvent(), []string{"x"}))
	assert.Equal(t, firstPending, e.pendingLine, "stuck record must survive a failed retry")
	assert.Equal(t, int64(2), e.IoRetries())
}

func TestEventToJSON_IncludesDefaultTagsWhenNil(t *testing.T) {
	payload := eventToJSON(sampleEvent(), nil)
	buf, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Contains(t, string(buf), `"burst"`)
}
