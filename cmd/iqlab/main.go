// Command iqlab runs the offline signal-discovery pipeline over a raw I/Q
// recording: frame, transform, detect, cluster, extract features and emit
// events, optionally carving per-event cutouts and publishing live
// diagnostics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"iqlab/internal/config"
	"iqlab/internal/iqerr"
	"iqlab/internal/iqsample"
	"iqlab/internal/iqsource"
	"iqlab/internal/metrics"
	"iqlab/internal/mqttpub"
	"iqlab/internal/pipeline"
	"iqlab/internal/sidecar"
	"iqlab/internal/wsfeed"
)

// Exit codes per spec §7: 0 success, 2 configuration rejection, 3 I/O
// failure, 4 internal error.
const (
	exitConfig   = 2
	exitIO       = 3
	exitInternal = 4
)

// exitCode maps err's iqerr.Kind to the §7 exit-status taxonomy. Errors that
// never reach iqerr (flag parsing, usage errors) are treated as
// configuration rejection; unclassified errors fall back to 1.
func exitCode(err error) int {
	switch {
	case iqerr.Is(err, iqerr.InvalidConfig), iqerr.Is(err, iqerr.InvalidInput), iqerr.Is(err, iqerr.InvalidSize):
		return exitConfig
	case iqerr.Is(err, iqerr.IoError):
		return exitIO
	case iqerr.Is(err, iqerr.InternalError), iqerr.Is(err, iqerr.CapacityExhausted):
		return exitInternal
	default:
		return 1
	}
}

func main() {
	startTime := time.Now()

	inputPath := flag.String("input", "", "Path to the raw I/Q recording to analyze (required)")
	sidecarPath := flag.String("sidecar", "", "Path to the recording's sample-rate sidecar JSON (default: <input>.json)")
	configPath := flag.String("config", "config.yaml", "Path to the pipeline configuration file")
	sampleRate := flag.Float64("sample-rate", 0, "Sample rate in Hz, used when no sidecar is present")
	formatFlag := flag.String("format", "", "Raw sample format (ci8 or ci16), overrides the sidecar when set")
	metricsAddr := flag.String("metrics-addr", "", "Listen address for a Prometheus /metrics endpoint (disables if empty)")
	wsAddr := flag.String("ws-addr", "", "Listen address for the live event/spectrum websocket feed (disables if empty)")
	mqttBroker := flag.String("mqtt-broker", "", "MQTT broker URL for event publication (disables if empty)")
	mqttTopic := flag.String("mqtt-topic", "iqlab/events", "MQTT topic for published events")
	verbose := flag.Bool("verbose", false, "Enable verbose diagnostic logging")
	flag.Parse()

	if *inputPath == "" {
		log.Printf("missing required -input flag")
		os.Exit(exitConfig)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if os.IsNotExist(rootCause(err)) {
			log.Printf("no config file at %s, using defaults", *configPath)
			cfg = config.Default()
		} else {
			log.Printf("failed to load config: %v", err)
			os.Exit(exitCode(err))
		}
	}
	cfg.Verbose = cfg.Verbose || *verbose

	meta, err := loadSidecar(*sidecarPath, *inputPath)
	if err != nil {
		log.Printf("failed to load sidecar: %v", err)
		os.Exit(exitCode(err))
	}
	rm, err := iqsource.FromSidecar(meta, *sampleRate)
	if err != nil {
		log.Printf("failed to resolve recording metadata: %v", err)
		os.Exit(exitCode(err))
	}
	if *formatFlag != "" {
		f, err := iqsample.ParseFormat(*formatFlag)
		if err != nil {
			log.Printf("invalid -format: %v", err)
			os.Exit(exitCode(err))
		}
		rm.Format = f
	}

	src, err := iqsource.Open(*inputPath, rm)
	if err != nil {
		log.Printf("failed to open %s: %v", *inputPath, err)
		os.Exit(exitCode(err))
	}
	defer src.Close()

	var deps pipeline.Deps

	if *metricsAddr != "" {
		m := metrics.New()
		deps.Metrics = m
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
		log.Printf("metrics listening on %s", *metricsAddr)
	}

	if *wsAddr != "" {
		hub := wsfeed.NewHub()
		deps.Hub = hub
		go func() {
			if err := http.ListenAndServe(*wsAddr, hub); err != nil && err != http.ErrServerClosed {
				log.Printf("websocket feed stopped: %v", err)
			}
		}()
		log.Printf("websocket feed listening on %s", *wsAddr)
	}

	if *mqttBroker != "" {
		pub, err := mqttpub.New(mqttpub.Config{
			BrokerURL: *mqttBroker,
			ClientID:  "iqlab-" + fmt.Sprint(os.Getpid()),
			Topic:     *mqttTopic,
			QoS:       0,
		})
		if err != nil {
			log.Printf("failed to connect to mqtt broker: %v", err)
			os.Exit(exitCode(err))
		}
		defer pub.Close()
		deps.MQTT = pub
	}

	p, err := pipeline.New(cfg, src, rm, *inputPath, deps)
	if err != nil {
		log.Printf("failed to build pipeline: %v", err)
		os.Exit(exitCode(err))
	}
	log.Printf("run %s starting: input=%s sample_rate=%.1f fft_size=%d hop=%d", p.RunID(), *inputPath, rm.SampleRate, cfg.Framer.FFTSize, cfg.Framer.HopSize)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stats, err := p.Run(ctx)
	if err != nil {
		log.Printf("pipeline failed: %v", err)
		os.Exit(exitCode(err))
	}

	log.Printf("run %s complete in %s: frames=%d detections=%d dropped=%d events=%d io_retries=%d",
		stats.RunID, time.Since(startTime), stats.FramesProcessed, stats.Detections, stats.DetectionsDropped, stats.EventsEmitted, stats.IoRetries)
}

func loadSidecar(explicitPath, inputPath string) (*sidecar.Metadata, error) {
	path := explicitPath
	if path == "" {
		path = inputPath + ".json"
	}
	if _, err := os.Stat(path); err != nil {
		if explicitPath != "" {
			return nil, err
		}
		return nil, nil
	}
	m, err := sidecar.Load(path)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// rootCause unwraps err looking for an underlying os error, since config.Load
// wraps os.ReadFile failures in an iqerr.Error.
func rootCause(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}
