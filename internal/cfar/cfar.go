// Package cfar implements the Ordered-Statistics CFAR per-bin detector,
// per spec §4.3.
package cfar

import (
	"fmt"
	"math"
	"sort"

	"iqlab/internal/iqerr"
)

// Detection is one triggered bin within one frame, per spec §3.
type Detection struct {
	Bin         int
	SignalPower float64
	Threshold   float64
	SNRdB       float64
	Confidence  float64
}

// Config configures an OS-CFAR detector: N is the spectrum length, PFA is
// the target per-bin false-alarm probability, R is the one-sided
// reference-cell count, G is the one-sided guard-cell count (G < R), and
// Rank selects the order statistic in [1, 2R].
type Config struct {
	N    int
	PFA  float64
	R    int
	G    int
	Rank int
}

// Detector is the stateless-between-frames OS-CFAR detector, per spec §4.3
// "The detector is stateless between frames by design".
type Detector struct {
	cfg   Config
	alpha float64
}

// New validates cfg and precomputes the OS-CFAR scale factor alpha.
func New(cfg Config) (*Detector, error) {
	if cfg.N <= 0 {
		return nil, iqerr.New(iqerr.InvalidConfig, "cfar", fmt.Errorf("N must be positive"))
	}
	if cfg.R <= 0 {
		return nil, iqerr.New(iqerr.InvalidConfig, "cfar", fmt.Errorf("R must be positive"))
	}
	if cfg.G < 0 || cfg.G >= cfg.R {
		return nil, iqerr.New(iqerr.InvalidConfig, "cfar", fmt.Errorf("G must satisfy 0 <= G < R"))
	}
	if cfg.Rank < 1 || cfg.Rank > 2*cfg.R {
		return nil, iqerr.New(iqerr.InvalidConfig, "cfar", fmt.Errorf("rank must be in [1, 2R]"))
	}
	if cfg.PFA <= 0 || cfg.PFA >= 1 {
		return nil, iqerr.New(iqerr.InvalidConfig, "cfar", fmt.Errorf("PFA must be in (0,1)"))
	}

	// Closed-form approximation to the OS-CFAR relation, per spec §4.3.
	alpha := float64(2*cfg.R) * (math.Pow(cfg.PFA, -1.0/float64(cfg.Rank)) - 1.0)

	return &Detector{cfg: cfg, alpha: alpha}, nil
}

// Alpha returns the detector's resolved scale factor, exposed for testing
// against the PFA relation in spec §4.3.
func (d *Detector) Alpha() float64 { return d.alpha }

// ProcessFrame returns detections for bins whose power exceeds the local
// OS-CFAR threshold. Reference cells wrap around the spectrum boundary so
// a full reference set is always available, per spec §4.3.
func (d *Detector) ProcessFrame(power []float64) ([]Detection, error) {
	n := d.cfg.N
	if len(power) != n {
		return nil, iqerr.New(iqerr.InvalidConfig, "cfar", fmt.Errorf("spectrum length %d does not match configured N=%d", len(power), n))
	}
	for _, p := range power {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return nil, iqerr.New(iqerr.InternalError, "cfar", fmt.Errorf("non-finite or negative spectrum entry"))
		}
	}

	var detections []Detection
	refs := make([]float64, 2*d.cfg.R)
	for k := 0; k < n; k++ {
		idx := 0
		sum := 0.0
		for off := d.cfg.G + 1; off <= d.cfg.R+d.cfg.G; off++ {
			lo := wrap(k-off, n)
			hi := wrap(k+off, n)
			refs[idx] = power[lo]
			sum += power[lo]
			idx++
			refs[idx] = power[hi]
			sum += power[hi]
			idx++
		}
		sort.Float64s(refs)
		z := refs[d.cfg.Rank-1]
		threshold := d.alpha * z
		noiseEst := sum / float64(2*d.cfg.R)

		if power[k] > threshold {
			snrDB := 10 * math.Log10(power[k]/safeFloor(noiseEst))
			confidence := clamp((10*math.Log10(power[k]/safeFloor(threshold)))/20.0, 0, 1)
			detections = append(detections, Detection{
				Bin:         k,
				SignalPower: power[k],
				Threshold:   threshold,
				SNRdB:       snrDB,
				Confidence:  confidence,
			})
		}
	}
	return detections, nil
}

func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

func safeFloor(v float64) float64 {
	if v <= 0 {
		return 1e-12
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
