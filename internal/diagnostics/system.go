package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemMetrics holds system-wide resource usage. Fields the platform
// cannot report stay zero.
type SystemMetrics struct {
	CPUModel   string `json:"cpu_model"`
	CPUCores   int    `json:"cpu_cores"`
	CPUThreads int    `json:"cpu_threads"`

	// Memory (in MB)
	MemTotalMB     float64 `json:"mem_total_mb"`
	MemAvailableMB float64 `json:"mem_available_mb"`
	MemPercent     float64 `json:"mem_percent"`

	// Load Average (Unix)
	LoadAvg1  float64 `json:"load_avg_1"`
	LoadAvg5  float64 `json:"load_avg_5"`
	LoadAvg15 float64 `json:"load_avg_15"`
}

// DiskUsage describes the volume holding a path.
type DiskUsage struct {
	Path        string  `json:"path"`
	TotalGB     float64 `json:"total_gb"`
	FreeGB      float64 `json:"free_gb"`
	UsedPercent float64 `json:"used_percent"`
}

// Collect gathers current system statistics.
func Collect() SystemMetrics {
	stats := SystemMetrics{CPUThreads: runtime.NumCPU()}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		stats.CPUModel = strings.TrimSpace(infos[0].ModelName)
	}
	if cores, err := cpu.Counts(false); err == nil && cores > 0 {
		stats.CPUCores = cores
	}
	if threads, err := cpu.Counts(true); err == nil && threads > 0 {
		stats.CPUThreads = threads
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemTotalMB = float64(vm.Total) / 1024 / 1024
		stats.MemAvailableMB = float64(vm.Available) / 1024 / 1024
		stats.MemPercent = vm.UsedPercent
	}

	if avg, err := load.Avg(); err == nil {
		stats.LoadAvg1 = avg.Load1
		stats.LoadAvg5 = avg.Load5
		stats.LoadAvg15 = avg.Load15
	}
	return stats
}

// Usage reports the volume holding path. A path that does not exist yet
// is measured at its nearest existing parent.
func Usage(path string) (DiskUsage, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return DiskUsage{}, err
	}
	probe := abs
	for {
		if _, err := os.Stat(probe); err == nil {
			break
		} else if !errors.Is(err, os.ErrNotExist) {
			return DiskUsage{}, err
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}

	u, err := disk.Usage(probe)
	if err != nil {
		return DiskUsage{}, err
	}
	return DiskUsage{
		Path:        abs,
		TotalGB:     float64(u.Total) / 1024 / 1024 / 1024,
		FreeGB:      float64(u.Free) / 1024 / 1024 / 1024,
		UsedPercent: u.UsedPercent,
	}, nil
}
