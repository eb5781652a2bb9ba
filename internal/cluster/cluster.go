// Package cluster implements the temporal/spectral clustering engine that
// aggregates raw CFAR detections into coherent events, per spec §4.4.
package cluster

import (
	"fmt"
	"math"
	"sort"

	"iqlab/internal/cfar"
	"iqlab/internal/iqerr"
)

// Config configures the clustering engine, per spec §4.4.
type Config struct {
	MaxTimeGapS  float64 // τ_t: hysteresis gap tolerance, seconds
	MaxFreqGapHz float64 // τ_f: merge frequency gap tolerance, Hz
	MaxClusters  int     // C_max: cap on simultaneously active clusters
	SampleRate   float64 // f_s, Hz
	FFTSize      int     // N, for bin <-> Hz conversion
}

func (c Config) validate() error {
	if c.MaxTimeGapS <= 0 {
		return iqerr.New(iqerr.InvalidConfig, "cluster", fmt.Errorf("max_time_gap must be positive"))
	}
	if c.MaxFreqGapHz <= 0 {
		return iqerr.New(iqerr.InvalidConfig, "cluster", fmt.Errorf("max_freq_gap must be positive"))
	}
	if c.MaxClusters <= 0 {
		return iqerr.New(iqerr.InvalidConfig, "cluster", fmt.Errorf("max_clusters must be positive"))
	}
	if c.SampleRate <= 0 {
		return iqerr.New(iqerr.InvalidConfig, "cluster", fmt.Errorf("sample_rate must be positive"))
	}
	if c.FFTSize <= 0 || c.FFTSize&(c.FFTSize-1) != 0 {
		return iqerr.New(iqerr.InvalidConfig, "cluster", fmt.Errorf("fft_size must be a positive power of two"))
	}
	return nil
}

// activeCluster is in-memory aggregation state for an ongoing event, per
// spec §3 "Active cluster". It is owned exclusively by the Engine.
type activeCluster struct {
	id             int64
	firstTime      float64
	lastUpdate     float64
	frameCount     int
	minBin         int
	maxBin         int
	centerBinSum   float64 // running sum of bin indices
	bandwidthSum   float64 // running bandwidth proxy, per spec §9
	peakSNRdB      float64
	peakPower      float64
	detectionCount int
	snrSum         float64
}

func (c *activeCluster) meanBin() float64 {
	return c.centerBinSum / float64(c.detectionCount)
}

// Event is the immutable record handed to the emitter, per spec §3
// "Completed event".
type Event struct {
	StartTime            float64
	EndTime              float64
	DurationS            float64
	MinBin               int
	MaxBin               int
	MeanBin              float64
	CenterFreqHz         float64
	BandwidthHz          float64
	PeakSNRdB            float64
	AvgSNRdB             float64
	PeakPowerDBFS        float64
	DetectionCount       int
	Confidence           float64
	ModulationGuess      string
	ModulationConfidence float64
}

// Engine tracks active clusters and converts them into completed events on
// timeout. It exclusively owns all active clusters, per spec §3 ownership
// summary, and must not be aliased.
type Engine struct {
	cfg           Config
	clusters      []*activeCluster
	nextID        int64
	capacityDrops int64
}

// New validates cfg and constructs an empty Engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// CapacityDrops returns the number of detections dropped because the
// active cluster set was at capacity, per spec §7 "recovered locally".
func (e *Engine) CapacityDrops() int64 { return e.capacityDrops }

// ActiveCount returns the number of clusters currently tracked.
func (e *Engine) ActiveCount() int { return len(e.clusters) }

func (e *Config) hzPerBin() float64 {
	return e.SampleRate / float64(e.FFTSize)
}

// AddDetection absorbs detection d observed at frame-time tFrame into the
// best-matching active cluster, or allocates a new one. It returns false
// (without error — the drop is recovered locally per spec §7) when no
// cluster matches and the active set is already at capacity.
func (e *Engine) AddDetection(d cfar.Detection, tFrame float64) bool {
	hzPerBin := e.cfg.hzPerBin()

	var best *activeCluster
	bestScore := -1.0
	for _, c := range e.clusters {
		dt := tFrame - c.lastUpdate
		if dt < 0 {
			dt = -dt
		}
		if dt > e.cfg.MaxTimeGapS {
			continue
		}
		df := math.Abs(float64(d.Bin)-c.meanBin()) * hzPerBin
		if df > e.cfg.MaxFreqGapHz {
			continue
		}
		score := 1.0 / (1.0 + dt) * 1.0 / (1.0 + df/1000.0)
		if score > bestScore || (score == bestScore && best != nil && c.id < best.id) {
			bestScore = score
			best = c
		}
	}

	if best == nil {
		if len(e.clusters) >= e.cfg.MaxClusters {
			e.capacityDrops++
			return false
		}
		nc := &activeCluster{
			id:             e.nextID,
			firstTime:      tFrame,
			lastUpdate:     tFrame,
			frameCount:     1,
			minBin:         d.Bin,
			maxBin:         d.Bin,
			centerBinSum:   float64(d.Bin),
			bandwidthSum:   1000.0,
			peakSNRdB:      d.SNRdB,
			peakPower:      d.SignalPower,
			detectionCount: 1,
			snrSum:         d.SNRdB,
		}
		e.nextID++
		e.clusters = append(e.clusters, nc)
	} else {
		absorb(best, d, tFrame)
	}

	e.mergeClusters()
	return true
}

func absorb(c *activeCluster, d cfar.Detection, tFrame float64) {
	if d.Bin < c.minBin {
		c.minBin = d.Bin
	}
	if d.Bin > c.maxBin {
		c.maxBin = d.Bin
	}
	c.centerBinSum += float64(d.Bin)
	c.bandwidthSum += 1000.0
	c.detectionCount++
	c.snrSum += d.SNRdB
	if d.SNRdB > c.peakSNRdB {
		c.peakSNRdB = d.SNRdB
	}
	if d.SignalPower > c.peakPower {
		c.peakPower = d.SignalPower
	}
	c.lastUpdate = tFrame
	c.frameCount++
}

// mergeClusters merges any two clusters whose last-update times differ by
// at most τ_t and whose mean bins differ by at most τ_f in Hz, per spec
// §4.4 "Post-absorption merging". Runs to a fixed point since a merge can
// create a new pair eligible for merging.
func (e *Engine) mergeClusters() {
	hzPerBin := e.cfg.hzPerBin()
	for {
		mergedAny := false
		for i := 0; i < len(e.clusters); i++ {
			for j := i + 1; j < len(e.clusters); j++ {
				a, b := e.clusters[i], e.clusters[j]
				dt := math.Abs(a.lastUpdate - b.lastUpdate)
				if dt > e.cfg.MaxTimeGapS {
					continue
				}
				df := math.Abs(a.meanBin()-b.meanBin()) * hzPerBin
				if df > e.cfg.MaxFreqGapHz {
					continue
				}
				mergeInto(a, b)
				e.clusters = append(e.clusters[:j], e.clusters[j+1:]...)
				mergedAny = true
				break
			}
			if mergedAny {
				break
			}
		}
		if !mergedAny {
			return
		}
	}
}

// mergeInto merges b into a: wider temporal/frequency bounds, summed
// aggregates, larger peak SNR/power, per spec §4.4.
func mergeInto(a, b *activeCluster) {
	if b.firstTime < a.firstTime {
		a.firstTime = b.firstTime
	}
	if b.lastUpdate > a.lastUpdate {
		a.lastUpdate = b.lastUpdate
	}
	a.frameCount += b.frameCount
	if b.minBin < a.minBin {
		a.minBin = b.minBin
	}
	if b.maxBin > a.maxBin {
		a.maxBin = b.maxBin
	}
	a.centerBinSum += b.centerBinSum
	a.bandwidthSum += b.bandwidthSum
	a.detectionCount += b.detectionCount
	a.snrSum += b.snrSum
	if b.peakSNRdB > a.peakSNRdB {
		a.peakSNRdB = b.peakSNRdB
	}
	if b.peakPower > a.peakPower {
		a.peakPower = b.peakPower
	}
}

// GetEvents closes and returns clusters whose idle time exceeds τ_t and
// whose detection count is >= 3, in non-decreasing end_time order, per
// spec §4.4 and §5's ordering guarantee.
func (e *Engine) GetEvents(tNow float64) []Event {
	return e.collect(func(c *activeCluster) bool {
		return tNow-c.lastUpdate > e.cfg.MaxTimeGapS && c.detectionCount >= 3
	})
}

// Flush closes every cluster meeting the minimum-detection threshold
// regardless of idle time, as if tNow were +Inf, per spec §5 cancellation.
func (e *Engine) Flush() []Event {
	return e.collect(func(c *activeCluster) bool {
		return c.detectionCount >= 3
	})
}

func (e *Engine) collect(eligible func(*activeCluster) bool) []Event {
	var closed []*activeCluster
	remaining := e.clusters[:0:0]
	for _, c := range e.clusters {
		if eligible(c) {
			closed = append(closed, c)
		} else {
			remaining = append(remaining, c)
		}
	}
	e.clusters = remaining

	sort.Slice(closed, func(i, j int) bool { return closed[i].lastUpdate < closed[j].lastUpdate })

	events := make([]Event, len(closed))
	for i, c := range closed {
		events[i] = e.toEvent(c)
	}
	return events
}

func (e *Engine) toEvent(c *activeCluster) Event {
	meanBin := c.meanBin()
	centerFreqHz := (meanBin/float64(e.cfg.FFTSize) - 0.5) * e.cfg.SampleRate
	bandwidthHz := c.bandwidthSum / float64(c.detectionCount)
	avgSNR := c.snrSum / float64(c.detectionCount)
	duration := c.lastUpdate - c.firstTime

	snrFactor := clamp01(avgSNR / 20.0)
	durFactor := clamp01(duration / 1.0)
	confidence := math.Sqrt(snrFactor * durFactor)

	modGuess, modConf := modulationFromBandwidth(bandwidthHz)

	peakPowerDBFS := 10 * math.Log10(safeFloor(c.peakPower))

	return Event{
		StartTime:            c.firstTime,
		EndTime:              c.lastUpdate,
		DurationS:            duration,
		MinBin:               c.minBin,
		MaxBin:               c.maxBin,
		MeanBin:              meanBin,
		CenterFreqHz:         centerFreqHz,
		BandwidthHz:          bandwidthHz,
		PeakSNRdB:            c.peakSNRdB,
		AvgSNRdB:             avgSNR,
		PeakPowerDBFS:        peakPowerDBFS,
		DetectionCount:       c.detectionCount,
		Confidence:           confidence,
		ModulationGuess:      modGuess,
		ModulationConfidence: modConf,
	}
}

func modulationFromBandwidth(bwHz float64) (string, float64) {
	switch {
	case bwHz < 5000:
		return "narrowband", 0.7
	case bwHz < 20000:
		return "wideband", 0.6
	default:
		return "unknown", 0.3
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func safeFloor(v float64) float64 {
	if v <= 0 {
		return 1e-12
	}
	return v
}
