// Package pipeline wires the source, framer, FFT engine, OS-CFAR detector,
// clustering engine, feature extractor and emitter into one run, mirroring
// the teacher's main.go top-level service lifecycle (Start/Stop under a
// context.Context).
package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"iqlab/internal/cfar"
	"iqlab/internal/cluster"
	"iqlab/internal/config"
	"iqlab/internal/emitter"
	"iqlab/internal/features"
	"iqlab/internal/fft"
	"iqlab/internal/framer"
	"iqlab/internal/health"
	"iqlab/internal/iqerr"
	"iqlab/internal/iqlog"
	"iqlab/internal/iqsource"
	"iqlab/internal/metrics"
	"iqlab/internal/mqttpub"
	"iqlab/internal/wsfeed"
)

// Stats summarizes one completed or interrupted run, per spec §3's
// diagnostic-counter expectations.
type Stats struct {
	RunID             string
	FramesProcessed   int64
	Detections        int64
	DetectionsDropped int64
	EventsEmitted     int64
	IoRetries         int64
}

// Deps bundles the optional, out-of-band collaborators a Pipeline may
// publish to. Each is optional; a nil field disables that sink.
type Deps struct {
	Metrics *metrics.Metrics
	Hub     *wsfeed.Hub
	MQTT    *mqttpub.Publisher
}

// Pipeline owns one end-to-end run over a single recording. It exclusively
// owns the framer, detector, clustering engine and emitter for its
// lifetime, per spec §3 ownership summary.
type Pipeline struct {
	cfg        config.Config
	sampleRate float64

	fr       *framer.Framer
	plan     *fft.Plan
	detector *cfar.Detector
	clusterE *cluster.Engine
	emit     *emitter.Emitter

	deps Deps
	log  iqlog.Stager

	runID string
	stats Stats

	lastPower      []float64
	haveLastPower  bool
	nextEventIndex int
	framesSinceHealth int
}

// New constructs a Pipeline for one run against src, per the resolved
// RecordingMetadata rm and output configuration embedded in cfg.
func New(cfg config.Config, src iqsource.Source, rm iqsource.RecordingMetadata, sourcePath string, deps Deps) (*Pipeline, error) {
	fr, err := framer.New(src, cfg.Framer.FFTSize, cfg.Framer.HopSize)
	if err != nil {
		return nil, err
	}

	plan, err := fft.NewPlan(cfg.Framer.FFTSize, fft.Forward)
	if err != nil {
		return nil, err
	}

	detector, err := cfar.New(cfar.Config{
		N:    cfg.Framer.FFTSize,
		PFA:  cfg.CFAR.PFA,
		R:    cfg.CFAR.RefCells,
		G:    cfg.CFAR.GuardCells,
		Rank: cfg.CFAR.OSRank,
	})
	if err != nil {
		return nil, err
	}

	clusterE, err := cluster.New(cluster.Config{
		MaxTimeGapS:  cfg.Cluster.MaxTimeGapMs / 1000.0,
		MaxFreqGapHz: cfg.Cluster.MaxFreqGapHz,
		MaxClusters:  cfg.Cluster.MaxClusters,
		SampleRate:   rm.SampleRate,
		FFTSize:      cfg.Framer.FFTSize,
	})
	if err != nil {
		return nil, err
	}

	emitCfg := emitter.Config{
		Format:          emitterFormat(cfg.Emitter.OutputFormat),
		OutputPath:      cfg.Emitter.OutputPath,
		GenerateCutouts: cfg.Emitter.GenerateCutouts,
		CutoutDir:       cfg.Emitter.CutoutDir,
		SourcePath:      sourcePath,
		SourceFormat:    rm.Format,
		SampleRate:      rm.SampleRate,
		TunedFreqHz:     rm.TunedFreqHz,
		MQTT:            deps.MQTT,
		Metrics:         deps.Metrics,
	}
	emit, err := emitter.New(emitCfg)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:        cfg,
		sampleRate: rm.SampleRate,
		fr:         fr,
		plan:       plan,
		detector:   detector,
		clusterE:   clusterE,
		emit:       emit,
		deps:       deps,
		log:        iqlog.For("pipeline"),
		runID:      uuid.New().String(),
	}, nil
}

func emitterFormat(s string) emitter.Format {
	if s == "one_record_per_line" {
		return emitter.OneRecordPerLine
	}
	return emitter.Columnar
}

// RunID returns the UUID stamped on this run. It is reported in Stats and
// the host's log lines; cutout sidecars and published events do not carry it.
func (p *Pipeline) RunID() string { return p.runID }

// Run drives frames through the pipeline until the source is exhausted or
// ctx is canceled. On cancellation, active clusters are flushed as partial
// events rather than discarded, per spec §5.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	p.stats.RunID = p.runID
	spectrum := make([]complex128, p.cfg.Framer.FFTSize)

	for {
		select {
		case <-ctx.Done():
			p.flushRemaining()
			if err := p.emit.Close(); err != nil {
				return p.finalStats(), err
			}
			return p.finalStats(), nil
		default:
		}

		frame, ok, err := p.fr.Next()
		if err != nil {
			return p.finalStats(), err
		}
		if !ok {
			break
		}

		if err := p.plan.Execute(frame.Data, spectrum); err != nil {
			return p.finalStats(), err
		}
		power := fft.PowerSpectrum(spectrum, false)
		if err := fft.Shift(power, p.cfg.Framer.FFTSize); err != nil {
			return p.finalStats(), err
		}

		detections, err := p.detector.ProcessFrame(power)
		if err != nil {
			return p.finalStats(), err
		}
		p.stats.FramesProcessed++
		if p.deps.Metrics != nil {
			p.deps.Metrics.FramesProcessed.Inc()
		}

		tFrame := frame.StartTime(p.sampleRate)
		for _, d := range detections {
			p.stats.Detections++
			if p.deps.Metrics != nil {
				p.deps.Metrics.Detections.Inc()
			}
			if !p.clusterE.AddDetection(d, tFrame) {
				p.stats.DetectionsDropped++
				if p.deps.Metrics != nil {
					p.deps.Metrics.DetectionsDropped.Inc()
				}
			}
		}

		p.lastPower = power
		p.haveLastPower = true
		if p.deps.Metrics != nil {
			p.deps.Metrics.ActiveClusters.Set(float64(p.clusterE.ActiveCount()))
		}
		if p.cfg.Verbose && p.deps.Hub != nil {
			p.deps.Hub.BroadcastSpectrum(frame.Index, power)
		}

		for _, ev := range p.clusterE.GetEvents(tFrame) {
			if err := p.handleEvent(ev); err != nil {
				return p.finalStats(), err
			}
		}

		p.framesSinceHealth++
		if p.cfg.Health.Enabled && p.framesSinceHealth >= p.cfg.Health.IntervalFrames {
			snap := health.Sample()
			p.log.Printf("health: cpu=%.1f%% rss=%dB active_clusters=%d", snap.CPUPercent, snap.RSSBytes, p.clusterE.ActiveCount())
			p.framesSinceHealth = 0
		}
	}

	p.flushRemaining()
	if err := p.emit.Close(); err != nil {
		return p.finalStats(), err
	}
	return p.finalStats(), nil
}

func (p *Pipeline) flushRemaining() {
	for _, ev := range p.clusterE.Flush() {
		if err := p.handleEvent(ev); err != nil {
			p.log.Printf("flush emit failed: %v", err)
		}
	}
}

// handleEvent refines ev with features extracted from the most recent
// power spectrum (spec §9 open-question strategy (a): the clustering
// engine does not own spectra) and hands it to the emitter.
func (p *Pipeline) handleEvent(ev cluster.Event) error {
	if p.haveLastPower {
		centerBin := clampBin(int(math.Round(ev.MeanBin)), p.cfg.Framer.FFTSize)
		res, err := features.Extract(p.lastPower, p.cfg.Framer.FFTSize, centerBin, 0, p.sampleRate)
		if err != nil {
			p.log.Printf("feature extraction failed: %v", err)
		} else if res.Valid {
			ev.BandwidthHz = res.BandwidthHz
			ev.ModulationGuess = res.ModulationGuess
			ev.ModulationConfidence = res.ModulationConfidence
		}
	}

	tags := []string{"burst", "detection"}
	if err := p.emit.EmitEvent(ev, tags); err != nil {
		return err
	}
	p.stats.EventsEmitted++
	if p.deps.Metrics != nil {
		p.deps.Metrics.EventsEmitted.Inc()
	}
	if p.deps.Hub != nil {
		p.deps.Hub.BroadcastEvent(ev)
	}

	index := p.nextEventIndex
	p.nextEventIndex++
	if p.cfg.Emitter.GenerateCutouts {
		startSample := int64(ev.StartTime * p.sampleRate)
		count := int64((ev.EndTime - ev.StartTime) * p.sampleRate)
		if count < 1 {
			count = 1
		}
		if err := p.emit.EmitCutout(ev, index, startSample, count); err != nil {
			return iqerr.New(iqerr.IoError, "pipeline", fmt.Errorf("cutout for event %d: %w", index, err))
		}
	}
	return nil
}

func (p *Pipeline) finalStats() Stats {
	p.stats.IoRetries = p.emit.IoRetries()
	return p.stats
}

func clampBin(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}
