// Package serverstatus reports a process and host snapshot for the
// status endpoint.
package serverstatus

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/fieldsafe/safegate/internal/logx"
)

// Snapshot is the status payload.
type Snapshot struct {
	Version           string    `json:"version"`
	GoVersion         string    `json:"go_version"`
	StartedAt         time.Time `json:"started_at"`
	UptimeSeconds     float64   `json:"uptime_seconds"`
	Goroutines        int       `json:"goroutines"`
	Connections       int       `json:"connections"`
	HostUptimeSeconds uint64    `json:"host_uptime_seconds,omitempty"`
	CPUPercent        float64   `json:"cpu_percent,omitempty"`
	MemoryUsedPercent float64   `json:"memory_used_percent,omitempty"`
	MemoryTotalBytes  uint64    `json:"memory_total_bytes,omitempty"`
}

// Reporter builds snapshots. Connections is polled per request so the
// count reflects the live hub.
type Reporter struct {
	Version     string
	StartedAt   time.Time
	Connections func() int
}

func NewReporter(version string, connections func() int) *Reporter {
	return &Reporter{Version: version, StartedAt: time.Now(), Connections: connections}
}

// Snapshot gathers process and host figures. Host probes are best
// effort; a sandboxed environment just leaves those fields zero.
func (r *Reporter) Snapshot() Snapshot {
	s := Snapshot{
		Version:       r.Version,
		GoVersion:     runtime.Version(),
		StartedAt:     r.StartedAt,
		UptimeSeconds: time.Since(r.StartedAt).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
	}
	if r.Connections != nil {
		s.Connections = r.Connections()
	}
	if up, err := host.Uptime(); err == nil {
		s.HostUptimeSeconds = up
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryUsedPercent = vm.UsedPercent
		s.MemoryTotalBytes = vm.Total
	}
	return s
}

// Handler serves the snapshot as JSON.
func (r *Reporter) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(r.Snapshot()); err != nil {
			logx.Log.Error().Err(err).Msg("encode status")
		}
	}
}
