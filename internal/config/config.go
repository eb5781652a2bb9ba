// Package config loads and validates the YAML configuration surface from
// spec §6, one nested struct per pipeline component per spec §9's
// per-component design note.
package config

import (
	"fmt"
	"os"

	hcversion "github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"

	"iqlab/internal/iqerr"
)

// MinConfigVersion is the oldest config_version this build accepts,
// mirroring the teacher's version_checker.go gate.
const MinConfigVersion = "1.0.0"

// FramerConfig configures the overlapped framer, spec §4.1.
type FramerConfig struct {
	FFTSize int `yaml:"fft_size"`
	HopSize int `yaml:"hop_size"`
}

// CFARConfig configures the OS-CFAR detector, spec §4.3.
type CFARConfig struct {
	PFA        float64 `yaml:"pfa"`
	RefCells   int     `yaml:"ref_cells"`
	GuardCells int     `yaml:"guard_cells"`
	OSRank     int     `yaml:"os_rank"`
}

// ClusterConfig configures the clustering engine, spec §4.4.
type ClusterConfig struct {
	MaxTimeGapMs float64 `yaml:"max_time_gap_ms"`
	MaxFreqGapHz float64 `yaml:"max_freq_gap_hz"`
	MaxClusters  int     `yaml:"max_clusters"`
}

// FeatureConfig holds feature extractor settings, spec §4.5.
// NoiseMarginCells is loaded but not passed to the extractor, which always
// uses features.DefaultMargin.
type FeatureConfig struct {
	NoiseMarginCells int `yaml:"noise_margin_cells"`
}

// EmitterConfig configures event serialization and cutout generation,
// spec §4.6.
type EmitterConfig struct {
	OutputFormat    string `yaml:"output_format"` // "columnar" or "one_record_per_line"
	OutputPath      string `yaml:"output_path"`
	GenerateCutouts bool   `yaml:"generate_cutouts"`
	CutoutDir       string `yaml:"cutout_dir"`
}

// MetricsConfig holds Prometheus exporter settings, SPEC_FULL §2.
// cmd/iqlab does not read it; the exporter is enabled by -metrics-addr.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// MQTTConfig holds event publisher settings, SPEC_FULL §2. cmd/iqlab does
// not read it; the publisher is enabled by -mqtt-broker and -mqtt-topic.
type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BrokerURL string `yaml:"broker_url"`
	Topic     string `yaml:"topic"`
}

// WebSocketConfig holds live event broadcaster settings, SPEC_FULL §2.
// cmd/iqlab does not read it; the broadcaster is enabled by -ws-addr.
type WebSocketConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// HealthConfig configures the optional periodic resource diagnostic,
// SPEC_FULL §2.
type HealthConfig struct {
	Enabled        bool `yaml:"enabled"`
	IntervalFrames int  `yaml:"interval_frames"`
}

// Config is the full configuration surface, spec §6.
type Config struct {
	ConfigVersion string          `yaml:"config_version"`
	Framer        FramerConfig    `yaml:"framer"`
	CFAR          CFARConfig      `yaml:"cfar"`
	Cluster       ClusterConfig   `yaml:"cluster"`
	Feature       FeatureConfig   `yaml:"feature"`
	Emitter       EmitterConfig   `yaml:"emitter"`
	Metrics       MetricsConfig   `yaml:"metrics"`
	MQTT          MQTTConfig      `yaml:"mqtt"`
	WebSocket     WebSocketConfig `yaml:"websocket"`
	Health        HealthConfig    `yaml:"health"`
	Verbose       bool            `yaml:"verbose"`
}

// Default returns a Config populated with the defaults implied by spec §8
// scenario 1 ("fft = 2048, hop = 512, pfa = 1e-6, defaults elsewhere").
func Default() Config {
	return Config{
		ConfigVersion: MinConfigVersion,
		Framer:        FramerConfig{FFTSize: 2048, HopSize: 512},
		CFAR:          CFARConfig{PFA: 1e-6, RefCells: 16, GuardCells: 2, OSRank: 24},
		Cluster:       ClusterConfig{MaxTimeGapMs: 500, MaxFreqGapHz: 2000, MaxClusters: 64},
		Feature:       FeatureConfig{NoiseMarginCells: 10},
		Emitter:       EmitterConfig{OutputFormat: "columnar", OutputPath: "events.csv"},
		Metrics:       MetricsConfig{Enabled: false, ListenAddr: ":9400"},
		Health:        HealthConfig{Enabled: false, IntervalFrames: 1000},
	}
}

// Load reads and validates a YAML configuration file at path.
func Load(path string) (Config, error) {
	cfg := Default()
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, iqerr.New(iqerr.IoError, "config", fmt.Errorf("read %s: %w", path, err))
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, iqerr.New(iqerr.InvalidConfig, "config", fmt.Errorf("parse %s: %w", path, err))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects any out-of-range value in the configuration surface
// before a pipeline run starts, per spec §6.
func (c Config) Validate() error {
	if c.ConfigVersion != "" {
		if err := checkVersion(c.ConfigVersion); err != nil {
			return err
		}
	}

	n := c.Framer.FFTSize
	if n <= 0 || n > 1<<20 || n&(n-1) != 0 {
		return invalidConfig("fft_size must be a power of two in [1, 2^20]")
	}
	if c.Framer.HopSize < 1 || c.Framer.HopSize > n {
		return invalidConfig("hop_size must satisfy 1 <= hop_size <= fft_size")
	}

	if c.CFAR.PFA <= 0 || c.CFAR.PFA >= 1 {
		return invalidConfig("pfa must be in (0,1)")
	}
	if c.CFAR.RefCells <= 0 {
		return invalidConfig("ref_cells must be positive")
	}
	if c.CFAR.GuardCells < 0 || c.CFAR.GuardCells >= c.CFAR.RefCells {
		return invalidConfig("guard_cells must satisfy 0 <= guard_cells < ref_cells")
	}
	if c.CFAR.OSRank < 1 || c.CFAR.OSRank > 2*c.CFAR.RefCells {
		return invalidConfig("os_rank must be in [1, 2*ref_cells]")
	}

	if c.Cluster.MaxTimeGapMs <= 0 {
		return invalidConfig("max_time_gap_ms must be positive")
	}
	if c.Cluster.MaxFreqGapHz <= 0 {
		return invalidConfig("max_freq_gap_hz must be positive")
	}
	if c.Cluster.MaxClusters <= 0 {
		return invalidConfig("max_clusters must be positive")
	}

	switch c.Emitter.OutputFormat {
	case "columnar", "one_record_per_line":
	default:
		return invalidConfig("output_format must be \"columnar\" or \"one_record_per_line\"")
	}
	if c.Emitter.GenerateCutouts && c.Emitter.CutoutDir == "" {
		return invalidConfig("cutout_dir is required when generate_cutouts is true")
	}

	return nil
}

func checkVersion(v string) error {
	have, err := hcversion.NewVersion(v)
	if err != nil {
		return invalidConfig(fmt.Sprintf("config_version %q is not a valid version: %v", v, err))
	}
	min, err := hcversion.NewVersion(MinConfigVersion)
	if err != nil {
		return invalidConfig(fmt.Sprintf("internal: bad MinConfigVersion: %v", err))
	}
	if have.LessThan(min) {
		return invalidConfig(fmt.Sprintf("config_version %s is older than the minimum supported %s", v, MinConfigVersion))
	}
	return nil
}

func invalidConfig(msg string) error {
	return iqerr.New(iqerr.InvalidConfig, "config", fmt.Errorf("%s", msg))
}
