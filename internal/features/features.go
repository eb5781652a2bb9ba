// Package features implements the per-event feature extractor, per spec
// §4.5.
package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"iqlab/internal/iqerr"
)

// DefaultMargin is the number of cells outside the lobe, on each side,
// used to estimate the noise floor, per spec §4.5.
const DefaultMargin = 10

// Result is a per-event spectral descriptor, per spec §3 (feature portion
// of the completed event) and §4.5.
type Result struct {
	Valid                bool
	LobeStart, LobeEnd   int
	CenterFreqHz         float64
	SNRdB                float64
	BandwidthHz          float64 // 99%-occupied, reported as primary
	Bandwidth3dBHz       float64
	PAPRdB               float64
	SpectralFlatness     float64
	SpectralCentroid     float64
	SpectralSpread       float64
	ModulationGuess      string
	ModulationConfidence float64
}

// Extract computes a Result for the lobe around centerBin in power, a
// length-N power spectrum. When bandwidthBins is zero the lobe is
// auto-located per spec §4.5; otherwise it is centerBin +/- bandwidthBins/2.
func Extract(power []float64, n int, centerBin, bandwidthBins int, sampleRateHz float64) (Result, error) {
	if len(power) != n {
		return Result{}, iqerr.New(iqerr.InvalidConfig, "features", fmt.Errorf("spectrum length %d does not match N=%d", len(power), n))
	}
	if centerBin < 0 || centerBin >= n {
		return Result{}, iqerr.New(iqerr.InvalidConfig, "features", fmt.Errorf("center bin %d out of range [0,%d)", centerBin, n))
	}
	for _, p := range power {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return Result{}, iqerr.New(iqerr.InternalError, "features", fmt.Errorf("non-finite spectrum entry"))
		}
	}

	lobeStart, lobeEnd := locateLobe(power, n, centerBin, bandwidthBins)

	lobe := power[lobeStart : lobeEnd+1]
	lobeSum := floats.Sum(lobe)
	peak := floats.Max(lobe)
	if peak <= 0 || lobeSum <= 0 {
		return Result{Valid: false, LobeStart: lobeStart, LobeEnd: lobeEnd}, nil
	}

	noiseFloor := estimateNoiseFloor(power, n, lobeStart, lobeEnd, DefaultMargin)
	snrDB := 10 * math.Log10(peak/noiseFloor)

	bw3dB := bandwidth3dB(power, n, lobeStart, lobeEnd, centerBin, sampleRateHz)
	bwOccupied := bandwidthOccupied(power, n, lobeStart, lobeEnd, centerBin, lobeSum, sampleRateHz)

	mean := stat.Mean(lobe, nil)
	paprDB := 10 * math.Log10(peak/mean)

	flatness := spectralFlatness(lobe)
	centroid, spread := spectralCentroidSpread(lobe, lobeStart, n)

	centerFreqHz := (float64(centerBin) / float64(n)) * sampleRateHz
	modGuess, modConf := modulationFromBandwidth(bwOccupied)

	r := Result{
		Valid:                true,
		LobeStart:            lobeStart,
		LobeEnd:              lobeEnd,
		CenterFreqHz:         centerFreqHz,
		SNRdB:                snrDB,
		BandwidthHz:          bwOccupied,
		Bandwidth3dBHz:       bw3dB,
		PAPRdB:               paprDB,
		SpectralFlatness:     flatness,
		SpectralCentroid:     centroid,
		SpectralSpread:       spread,
		ModulationGuess:      modGuess,
		ModulationConfidence: modConf,
	}

	if !finite(r.SNRdB) || !finite(r.BandwidthHz) || !finite(r.Bandwidth3dBHz) ||
		!finite(r.PAPRdB) || !finite(r.SpectralFlatness) || !finite(r.SpectralCentroid) || !finite(r.SpectralSpread) {
		return Result{}, iqerr.New(iqerr.InternalError, "features", fmt.Errorf("non-finite feature output"))
	}
	return r, nil
}

func locateLobe(power []float64, n, centerBin, bandwidthBins int) (int, int) {
	if bandwidthBins > 0 {
		half := bandwidthBins / 2
		start := clampInt(centerBin-half, 0, n-1)
		end := clampInt(centerBin+half, 0, n-1)
		return start, end
	}
	peak := power[centerBin]
	threshold := 0.1 * peak
	start, end := centerBin, centerBin
	for start > 0 && power[start-1] >= threshold {
		start--
	}
	for end < n-1 && power[end+1] >= threshold {
		end++
	}
	return start, end
}

func estimateNoiseFloor(power []float64, n, lobeStart, lobeEnd, margin int) float64 {
	var samples []float64
	leftFrom := clampInt(lobeStart-margin, 0, n-1)
	for i := leftFrom; i < lobeStart; i++ {
		if power[i] > 0 {
			samples = append(samples, power[i])
		}
	}
	rightTo := clampInt(lobeEnd+margin, 0, n-1)
	for i := lobeEnd + 1; i <= rightTo; i++ {
		if power[i] > 0 {
			samples = append(samples, power[i])
		}
	}
	if len(samples) == 0 {
		return 1e-12
	}
	return stat.Mean(samples, nil)
}

// bandwidth3dB finds the widest contiguous span around centerBin within
// the lobe where power stays within -3 dB (0.5x) of the peak.
func bandwidth3dB(power []float64, n, lobeStart, lobeEnd, centerBin int, sampleRateHz float64) float64 {
	peak := power[centerBin]
	threshold := 0.5 * peak
	start, end := centerBin, centerBin
	for start > lobeStart && power[start-1] >= threshold {
		start--
	}
	for end < lobeEnd && power[end+1] >= threshold {
		end++
	}
	binHz := sampleRateHz / float64(n)
	return float64(end-start+1) * binHz
}

// bandwidthOccupied finds the smallest symmetric window around centerBin
// containing 99% of the in-lobe power, per spec §4.5.
func bandwidthOccupied(power []float64, n, lobeStart, lobeEnd, centerBin int, lobeSum, sampleRateHz float64) float64 {
	target := 0.99 * lobeSum
	binHz := sampleRateHz / float64(n)
	maxHalf := maxInt(centerBin-lobeStart, lobeEnd-centerBin)
	acc := power[centerBin]
	if acc >= target {
		return binHz
	}
	for w := 1; w <= maxHalf; w++ {
		lo := centerBin - w
		hi := centerBin + w
		if lo >= lobeStart {
			acc += power[lo]
		}
		if hi <= lobeEnd {
			acc += power[hi]
		}
		if acc >= target {
			return float64(2*w+1) * binHz
		}
	}
	return float64(lobeEnd-lobeStart+1) * binHz
}

func spectralFlatness(lobe []float64) float64 {
	var positive []float64
	for _, p := range lobe {
		if p > 0 {
			positive = append(positive, p)
		}
	}
	if len(positive) == 0 {
		return 0
	}
	gm := stat.GeometricMean(positive, nil)
	am := stat.Mean(positive, nil)
	if am <= 0 {
		return 0
	}
	return gm / am
}

func spectralCentroidSpread(lobe []float64, lobeStart, n int) (float64, float64) {
	var num, den float64
	for i, p := range lobe {
		bin := float64(lobeStart + i)
		num += (bin / float64(n)) * p
		den += p
	}
	if den <= 0 {
		return 0, 0
	}
	centroid := num / den

	var varNum float64
	for i, p := range lobe {
		bin := float64(lobeStart + i)
		d := bin/float64(n) - centroid
		varNum += d * d * p
	}
	spread := math.Sqrt(varNum / den)
	return centroid, spread
}

func modulationFromBandwidth(bwHz float64) (string, float64) {
	switch {
	case bwHz > 150000:
		return "noise", 0.7
	case bwHz > 20000:
		return "fm", 0.7
	case bwHz > 5000:
		return "am", 0.7
	case bwHz > 1000:
		return "ssb", 0.7
	case bwHz > 100:
		return "cw", 0.7
	default:
		return "unknown", 0.7
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
