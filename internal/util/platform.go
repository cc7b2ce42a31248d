package util

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HostInfo describes the machine a Courtyard role runs on.
type HostInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUCores     int    `json:"cpu_cores"`
	TotalMemory  uint64 `json:"total_memory_mb"`
	Uptime       uint64 `json:"uptime_sec"`
}

// GetHostInfo gathers host information. Fields that cannot be read are left
// zero.
func GetHostInfo() HostInfo {
	info := HostInfo{
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if h, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", h.Platform, h.PlatformVersion)
		info.Uptime = h.Uptime
	}
	if c, err := cpu.Info(); err == nil && len(c) > 0 {
		info.CPUModel = c[0].ModelName
	}
	if m, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = m.Total / (1024 * 1024)
	}
	return info
}

// ProcessStats is a resource snapshot of the running role.
type ProcessStats struct {
	PID          int32   `json:"pid"`
	Goroutines   int     `json:"goroutines"`
	CPUPercent   float64 `json:"cpu_percent"`
	RSSMB        uint64  `json:"rss_mb"`
	OpenFiles    int32   `json:"open_files"`
	HostMemUsed  float64 `json:"host_mem_used_percent"`
	StartedAt    string  `json:"started_at"`
	UptimeSecond int64   `json:"uptime_sec"`
}

// GetProcessStats samples the current process.
func GetProcessStats(started time.Time) ProcessStats {
	stats := ProcessStats{
		PID:          int32(os.Getpid()),
		Goroutines:   runtime.NumGoroutine(),
		StartedAt:    started.UTC().Format(time.RFC3339),
		UptimeSecond: int64(time.Since(started).Seconds()),
	}

	if p, err := process.NewProcess(stats.PID); err == nil {
		if pct, err := p.CPUPercent(); err == nil {
			stats.CPUPercent = pct
		}
		if m, err := p.MemoryInfo(); err == nil {
			stats.RSSMB = m.RSS / (1024 * 1024)
		}
		if n, err := p.NumFDs(); err == nil {
			stats.OpenFiles = n
		}
	}
	if m, err := mem.VirtualMemory(); err == nil {
		stats.HostMemUsed = m.UsedPercent
	}
	return stats
}

// EnsureDir creates a directory and all parents if missing.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
