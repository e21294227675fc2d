package diagnostics

import "fmt"

// Status is the outcome of one check.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Check is one line of a health report.
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail"`
}

// Thresholds below which host checks warn.
type Thresholds struct {
	MinFreeDiskGB     float64
	MinAvailableMemMB float64
	MaxLoadPerThread  float64
	MinThreadsForPool int
}

// DefaultThresholds returns conservative limits for a research host.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinFreeDiskGB:     1,
		MinAvailableMemMB: 512,
		MaxLoadPerThread:  1.5,
		MinThreadsForPool: 2,
	}
}

// HostChecks evaluates system metrics against thresholds. concurrency is
// the configured worker pool size.
func HostChecks(m SystemMetrics, t Thresholds, concurrency int) []Check {
	var checks []Check

	cpuCheck := Check{Name: "cpu", Status: StatusOK,
		Detail: fmt.Sprintf("%d threads, pool concurrency %d", m.CPUThreads, concurrency)}
	if m.CPUModel != "" {
		cpuCheck.Detail = m.CPUModel + ", " + cpuCheck.Detail
	}
	if m.CPUThreads > 0 && m.CPUThreads < t.MinThreadsForPool {
		cpuCheck.Status = StatusWarn
	}
	checks = append(checks, cpuCheck)

	memCheck := Check{Name: "memory", Status: StatusOK,
		Detail: fmt.Sprintf("%.0f MB available of %.0f MB", m.MemAvailableMB, m.MemTotalMB)}
	switch {
	case m.MemTotalMB == 0:
		memCheck.Status, memCheck.Detail = StatusWarn, "memory usage unavailable"
	case m.MemAvailableMB < t.MinAvailableMemMB:
		memCheck.Status = StatusWarn
	}
	checks = append(checks, memCheck)

	if m.CPUThreads > 0 && m.LoadAvg1 > 0 {
		loadCheck := Check{Name: "load", Status: StatusOK,
			Detail: fmt.Sprintf("%.2f %.2f %.2f", m.LoadAvg1, m.LoadAvg5, m.LoadAvg15)}
		if m.LoadAvg5/float64(m.CPUThreads) > t.MaxLoadPerThread {
			loadCheck.Status = StatusWarn
		}
		checks = append(checks, loadCheck)
	}
	return checks
}

// DiskCheck evaluates the free space of a store volume.
func DiskCheck(name string, u DiskUsage, t Thresholds) Check {
	c := Check{Name: name, Status: StatusOK,
		Detail: fmt.Sprintf("%s: %.1f GB free (%.0f%% used)", u.Path, u.FreeGB, u.UsedPercent)}
	if u.FreeGB < t.MinFreeDiskGB {
		c.Status = StatusWarn
	}
	return c
}

// Worst returns the most severe status of checks.
func Worst(checks []Check) Status {
	worst := StatusOK
	for _, c := range checks {
		switch c.Status {
		case StatusFail:
			return StatusFail
		case StatusWarn:
			worst = StatusWarn
		}
	}
	return worst
}
