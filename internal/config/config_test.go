package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate_RejectsBadFramerConfig(t *testing.T) {
	cfg := Default()
	cfg.Framer.FFTSize = 100
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Framer.HopSize = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Framer.HopSize = cfg.Framer.FFTSize + 1
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadCFARConfig(t *testing.T) {
	cfg := Default()
	cfg.CFAR.PFA = 1.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.CFAR.GuardCells = cfg.CFAR.RefCells
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.CFAR.OSRank = 2*cfg.CFAR.RefCells + 1
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadOutputFormat(t *testing.T) {
	cfg := Default()
	cfg.Emitter.OutputFormat = "xml"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RequiresCutoutDirWhenCutoutsEnabled(t *testing.T) {
	cfg := Default()
	cfg.Emitter.GenerateCutouts = true
	cfg.Emitter.CutoutDir = ""
	assert.Error(t, cfg.Validate())
}

func TestCheckVersion_RejectsOlderThanMinimum(t *testing.T) {
	cfg := Default()
	cfg.ConfigVersion = "0.9.0"
	assert.Error(t, cfg.Validate())
}

func TestCheckVersion_AcceptsNewer(t *testing.T) {
	cfg := Default()
	cfg.ConfigVersion = "2.0.0"
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ParsesYAMLAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
config_version: "1.0.0"
framer:
  fft_size: 512
  hop_size: 128
cfar:
  pfa: 0.0001
  ref_cells: 10
  guard_cells: 2
  os_rank: 15
cluster:
  max_time_gap_ms: 250
  max_freq_gap_hz: 1500
  max_clusters: 16
emitter:
  output_format: one_record_per_line
  output_path: events.log
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Framer.FFTSize)
	assert.Equal(t, "one_record_per_line", cfg.Emitter.OutputFormat)
}

func TestLoad_MissingFileReturnsIoError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
