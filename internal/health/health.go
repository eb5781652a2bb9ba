// Package health emits periodic process resource diagnostics, mirroring
// the teacher's health-check family (noise_floor_health.go,
// decoder_health.go, instance_reporter.go).
package health

import (
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"

	"iqlab/internal/iqlog"
)

// Snapshot is a point-in-time process resource reading.
type Snapshot struct {
	CPUPercent float64
	RSSBytes   uint64
}

// Sample reads the current process's CPU and memory usage. Errors are
// non-fatal: a zero Snapshot is returned and logged, since diagnostics
// must never abort the pipeline.
func Sample() Snapshot {
	log := iqlog.For("health")
	pid := int32(os.Getpid())

	proc, err := process.NewProcess(pid)
	if err != nil {
		log.Printf("process lookup failed: %v", err)
		return Snapshot{}
	}

	cpuPct, err := proc.CPUPercent()
	if err != nil {
		log.Printf("cpu sample failed: %v", err)
	}

	var rss uint64
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		rss = mem.RSS
	} else if err != nil {
		log.Printf("memory sample failed: %v", err)
	}

	return Snapshot{CPUPercent: cpuPct, RSSBytes: rss}
}

// SystemLoad returns overall system CPU utilization percentages. The
// pipeline's periodic health line uses Sample only.
func SystemLoad() []float64 {
	pcts, err := cpu.Percent(0, false)
	if err != nil {
		iqlog.For("health").Printf("system cpu sample failed: %v", err)
		return nil
	}
	return pcts
}
