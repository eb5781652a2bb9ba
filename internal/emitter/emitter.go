// Package emitter serializes completed events and, optionally, carves
// per-event IQ cutouts with sidecar metadata, per spec §4.6.
package emitter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"iqlab/internal/cluster"
	"iqlab/internal/iqerr"
	"iqlab/internal/iqlog"
	"iqlab/internal/iqsample"
	"iqlab/internal/metrics"
	"iqlab/internal/mqttpub"
	"iqlab/internal/sidecar"
)

// Format selects the columnar or one-record-per-line text output flavor,
// per spec §4.6.
type Format int

const (
	Columnar Format = iota
	OneRecordPerLine
)

var defaultTags = []string{"burst", "detection"}

// Config configures an Emitter.
type Config struct {
	Format          Format
	OutputPath      string // text records output; ".gz" suffix enables compression
	GenerateCutouts bool
	CutoutDir       string
	SourcePath      string // original recording, for cutout extraction
	SourceFormat    iqsample.Format
	SampleRate      float64
	TunedFreqHz     float64 // recording's tuned center frequency, for cutout sidecars
	MQTT            *mqttpub.Publisher // optional
	Metrics         *metrics.Metrics   // optional
}

// Emitter owns completed events once yielded by the clustering engine, per
// spec §3 ownership summary.
type Emitter struct {
	cfg Config

	file      *os.File
	gz        *gzip.Writer
	csvw      *csv.Writer
	lineOut   io.Writer
	wroteHead bool

	pendingLine       string
	hasPending        bool
	consecutiveFails  int
	ioRetries         int64

	emitted int
	log     iqlog.Stager
}

// New opens the output target and writes the columnar header when
// applicable.
func New(cfg Config) (*Emitter, error) {
	e := &Emitter{cfg: cfg, log: iqlog.For("emitter")}

	f, err := os.Create(cfg.OutputPath)
	if err != nil {
		return nil, iqerr.New(iqerr.IoError, "emitter", fmt.Errorf("create %s: %w", cfg.OutputPath, err))
	}
	e.file = f

	var w io.Writer = f
	if filepath.Ext(cfg.OutputPath) == ".gz" {
		e.gz = gzip.NewWriter(f)
		w = e.gz
	}
	e.lineOut = w

	if cfg.Format == Columnar {
		e.csvw = csv.NewWriter(w)
		if err := e.csvw.Write(columnarHeader); err != nil {
			return nil, iqerr.New(iqerr.IoError, "emitter", fmt.Errorf("write header: %w", err))
		}
		e.csvw.Flush()
	}

	if cfg.GenerateCutouts {
		if err := os.MkdirAll(cfg.CutoutDir, 0o755); err != nil {
			return nil, iqerr.New(iqerr.IoError, "emitter", fmt.Errorf("mkdir %s: %w", cfg.CutoutDir, err))
		}
	}

	return e, nil
}

var columnarHeader = []string{
	"t_start_s", "t_end_s", "f_center_Hz", "bw_Hz", "snr_dB", "peak_dBFS",
	"modulation_guess", "confidence_0_1", "tags",
}

func formatEvent(ev cluster.Event, tags []string) []string {
	if tags == nil {
		tags = defaultTags
	}
	tagStr := joinTags(tags)
	return []string{
		strconv.FormatFloat(ev.StartTime, 'f', 6, 64),
		strconv.FormatFloat(ev.EndTime, 'f', 6, 64),
		strconv.FormatFloat(ev.CenterFreqHz, 'f', 3, 64),
		strconv.FormatFloat(ev.BandwidthHz, 'f', 3, 64),
		strconv.FormatFloat(ev.AvgSNRdB, 'f', 2, 64),
		strconv.FormatFloat(ev.PeakPowerDBFS, 'f', 2, 64),
		ev.ModulationGuess,
		strconv.FormatFloat(ev.Confidence, 'f', 3, 64),
		tagStr,
	}
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ","
		}
		out += t
	}
	return out
}

// EmitEvent serializes ev in the configured format, per spec §4.6. Write
// failures are recovered per spec §7: the record is buffered and
// re-attempted on the next call; three consecutive failures abort with
// IoError.
func (e *Emitter) EmitEvent(ev cluster.Event, tags []string) error {
	var line string
	switch e.cfg.Format {
	case Columnar:
		line = encodeCSVLine(formatEvent(ev, tags))
	case OneRecordPerLine:
		line = encodeKV(ev, tags)
	}

	if e.hasPending {
		if err := e.writeRaw(e.pendingLine); err != nil {
			if retErr := e.noteFailure(e.pendingLine, err); retErr != nil {
				return retErr
			}
			e.log.Printf("dropping new record, pending record still unwritten")
			return nil
		}
		e.hasPending = false
		e.consecutiveFails = 0
		e.emitted++
	}

	if err := e.writeRaw(line); err != nil {
		return e.noteFailure(line, err)
	}
	e.consecutiveFails = 0
	e.emitted++

	if e.cfg.MQTT != nil {
		payload, _ := json.Marshal(eventToJSON(ev, tags))
		if err := e.cfg.MQTT.Publish(payload); err != nil {
			e.log.Printf("mqtt publish failed: %v", err)
		}
	}
	return nil
}

func (e *Emitter) noteFailure(line string, cause error) error {
	e.pendingLine = line
	e.hasPending = true
	e.consecutiveFails++
	e.ioRetries++
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.IoRetries.Inc()
	}
	e.log.Printf("write failed (%d/3): %v", e.consecutiveFails, cause)
	if e.consecutiveFails >= 3 {
		return iqerr.New(iqerr.IoError, "emitter", fmt.Errorf("3 consecutive write failures: %w", cause))
	}
	return nil
}

func (e *Emitter) writeRaw(line string) error {
	_, err := io.WriteString(e.lineOut, line)
	return err
}

func encodeCSVLine(fields []string) string {
	var buf []byte
	w := csv.NewWriter(sliceWriter{&buf})
	_ = w.Write(fields)
	w.Flush()
	return string(buf)
}

type sliceWriter struct{ buf *[]byte }

func (s sliceWriter) Write(p []byte) (int, error) {
	*s.buf = append(*s.buf, p...)
	return len(p), nil
}

func encodeKV(ev cluster.Event, tags []string) string {
	if tags == nil {
		tags = defaultTags
	}
	return fmt.Sprintf(
		"t_start_s=%s t_end_s=%s f_center_Hz=%s bw_Hz=%s snr_dB=%s peak_dBFS=%s modulation_guess=%s confidence_0_1=%s tags=[%s]\n",
		strconv.FormatFloat(ev.StartTime, 'f', 6, 64),
		strconv.FormatFloat(ev.EndTime, 'f', 6, 64),
		strconv.FormatFloat(ev.CenterFreqHz, 'f', 3, 64),
		strconv.FormatFloat(ev.BandwidthHz, 'f', 3, 64),
		strconv.FormatFloat(ev.AvgSNRdB, 'f', 2, 64),
		strconv.FormatFloat(ev.PeakPowerDBFS, 'f', 2, 64),
		ev.ModulationGuess,
		strconv.FormatFloat(ev.Confidence, 'f', 3, 64),
		joinTags(tags),
	)
}

func eventToJSON(ev cluster.Event, tags []string) map[string]any {
	if tags == nil {
		tags = defaultTags
	}
	return map[string]any{
		"t_start_s":         ev.StartTime,
		"t_end_s":           ev.EndTime,
		"f_center_hz":       ev.CenterFreqHz,
		"bw_hz":             ev.BandwidthHz,
		"snr_db":            ev.AvgSNRdB,
		"peak_dbfs":         ev.PeakPowerDBFS,
		"modulation_guess":  ev.ModulationGuess,
		"confidence":        ev.Confidence,
		"tags":              tags,
	}
}

// Close flushes and closes the output writer(s).
func (e *Emitter) Close() error {
	if e.csvw != nil {
		e.csvw.Flush()
	}
	if e.gz != nil {
		if err := e.gz.Close(); err != nil {
			return iqerr.New(iqerr.IoError, "emitter", err)
		}
	}
	return e.file.Close()
}

// Emitted returns the number of event records successfully written.
func (e *Emitter) Emitted() int { return e.emitted }

// IoRetries returns the number of failed writes so far, counting the first
// failure of a record as well as each failed re-emission of the buffered one.
func (e *Emitter) IoRetries() int64 { return e.ioRetries }

// cutoutPadSeconds is the fixed 1 ms pad applied to each side of a cutout
// extraction window, per spec §4.6.
const cutoutPadSeconds = 0.001

// EmitCutout carves a raw I/Q cutout for ev (padded by 1 ms on each side,
// clamped to the recording) and writes its sidecar metadata. The cutout
// file is written before its sidecar, per spec §5's ordering guarantee, so
// a reader never observes metadata referencing missing data.
func (e *Emitter) EmitCutout(ev cluster.Event, index int, eventSampleStart, eventSampleCount int64) error {
	if !e.cfg.GenerateCutouts {
		return nil
	}

	pad := int64(cutoutPadSeconds * e.cfg.SampleRate)
	end := eventSampleStart + eventSampleCount + pad
	start := eventSampleStart - pad
	if start < 0 {
		start = 0
	}
	count := end - start

	src, err := os.Open(e.cfg.SourcePath)
	if err != nil {
		return iqerr.New(iqerr.IoError, "emitter", fmt.Errorf("open source %s: %w", e.cfg.SourcePath, err))
	}
	defer src.Close()

	bpc := int64(e.cfg.SourceFormat.BytesPerComplex())
	buf := make([]byte, count*bpc)
	n, readErr := src.ReadAt(buf, start*bpc)
	if readErr != nil && readErr != io.EOF {
		return iqerr.New(iqerr.IoError, "emitter", fmt.Errorf("read cutout: %w", readErr))
	}
	buf = buf[:(int64(n)/bpc)*bpc]

	cutoutPath := filepath.Join(e.cfg.CutoutDir, fmt.Sprintf("event_%05d.raw", index))
	if err := os.WriteFile(cutoutPath, buf, 0o644); err != nil {
		return iqerr.New(iqerr.IoError, "emitter", fmt.Errorf("write cutout %s: %w", cutoutPath, err))
	}

	freqLower := ev.CenterFreqHz - ev.BandwidthHz/2 + e.cfg.TunedFreqHz
	freqUpper := ev.CenterFreqHz + ev.BandwidthHz/2 + e.cfg.TunedFreqHz
	description := fmt.Sprintf("snr=%.2fdB bw=%.3fHz mod=%s confidence=%.3f",
		ev.AvgSNRdB, ev.BandwidthHz, ev.ModulationGuess, ev.Confidence)

	meta := sidecar.NewCutoutMetadata(
		e.cfg.SourceFormat.String(), e.cfg.SampleRate,
		start, e.cfg.TunedFreqHz,
		eventSampleStart-start, eventSampleCount,
		freqLower, freqUpper, description,
	)

	sidecarPath := filepath.Join(e.cfg.CutoutDir, fmt.Sprintf("event_%05d.json", index))
	if err := sidecar.Save(sidecarPath, meta); err != nil {
		return err
	}
	return nil
}
