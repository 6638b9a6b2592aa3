// System resource sampling (SPEC_FULL.md §4.12), grounded on
// odin-ws-server's internal/metrics/system.go SystemMetrics — the same
// gopsutil-based CPU percent call with exponential-moving-average
// smoothing, trimmed to the fields the relay's /metrics/system endpoint
// and Prometheus gauges actually need.
package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// cpuSmoothingAlpha weights the newest sample against the running average.
const cpuSmoothingAlpha = 0.3

// Sampler periodically reads process/host resource usage and feeds it to
// the Prometheus gauges and the /metrics/system diagnostic endpoint.
type Sampler struct {
	mu         sync.RWMutex
	cpuPercent float64
	mem        runtime.MemStats
	sampledAt  time.Time
}

func NewSampler() *Sampler {
	return &Sampler{sampledAt: time.Now()}
}

// Sample refreshes CPU and memory readings. cpu.Percent(interval, false)
// blocks for interval, so callers should run this on its own ticker
// goroutine (internal/server.runSampler wires it on a 5s period), never from the core
// event loop.
func (s *Sampler) Sample() {
	percents, err := cpu.Percent(time.Second, false)

	s.mu.Lock()
	defer s.mu.Unlock()

	runtime.ReadMemStats(&s.mem)
	s.sampledAt = time.Now()

	if err != nil || len(percents) == 0 {
		return
	}
	current := percents[0]
	if s.cpuPercent == 0 {
		s.cpuPercent = current
	} else {
		s.cpuPercent = cpuSmoothingAlpha*current + (1-cpuSmoothingAlpha)*s.cpuPercent
	}
}

// Snapshot is the read-only view exposed to /metrics/system and the
// Prometheus gauges.
type Snapshot struct {
	CPUPercent   float64 `json:"cpuPercent"`
	HeapAllocMB  float64 `json:"heapAllocMb"`
	HeapSysMB    float64 `json:"heapSysMb"`
	NumGoroutine int     `json:"numGoroutine"`
	NumGC        uint32  `json:"numGc"`
	SampledAt    int64   `json:"sampledAt"`
}

func (s *Sampler) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		CPUPercent:   s.cpuPercent,
		HeapAllocMB:  float64(s.mem.HeapAlloc) / 1024 / 1024,
		HeapSysMB:    float64(s.mem.Sys) / 1024 / 1024,
		NumGoroutine: runtime.NumGoroutine(),
		NumGC:        s.mem.NumGC,
		SampledAt:    s.sampledAt.UnixMilli(),
	}
}
