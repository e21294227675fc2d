package diagnostics

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect(t *testing.T) {
	m := Collect()
	assert.Positive(t, m.CPUThreads)
}

func TestUsage_MissingPathUsesParent(t *testing.T) {
	dir := t.TempDir()
	u, err := Usage(filepath.Join(dir, "not", "yet", "evidence.db"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "not", "yet", "evidence.db"), u.Path)
	assert.Positive(t, u.TotalGB)
}

func TestHostChecks(t *testing.T) {
	th := DefaultThresholds()

	healthy := SystemMetrics{CPUModel: "Test CPU", CPUThreads: 8, MemTotalMB: 16000, MemAvailableMB: 8000, LoadAvg1: 1, LoadAvg5: 1, LoadAvg15: 1}
	checks := HostChecks(healthy, th, 5)
	require.Len(t, checks, 3)
	assert.Equal(t, StatusOK, Worst(checks))
	assert.Equal(t, "Test CPU, 8 threads, pool concurrency 5", checks[0].Detail)

	strained := SystemMetrics{CPUThreads: 1, MemTotalMB: 1000, MemAvailableMB: 100, LoadAvg1: 4, LoadAvg5: 4}
	checks = HostChecks(strained, th, 5)
	for _, c := range checks {
		assert.Equal(t, StatusWarn, c.Status, c.Name)
	}

	unknown := HostChecks(SystemMetrics{CPUThreads: 4}, th, 5)
	require.Len(t, unknown, 2)
	assert.Equal(t, "memory usage unavailable", unknown[1].Detail)
}

func TestDiskCheck(t *testing.T) {
	th := DefaultThresholds()
	ok := DiskCheck("evidence", DiskUsage{Path: "/data/evidence.db", FreeGB: 20, UsedPercent: 40}, th)
	assert.Equal(t, StatusOK, ok.Status)
	assert.Equal(t, "/data/evidence.db: 20.0 GB free (40% used)", ok.Detail)

	low := DiskCheck("evidence", DiskUsage{Path: "/data", FreeGB: 0.2}, th)
	assert.Equal(t, StatusWarn, low.Status)
}

func TestWorst(t *testing.T) {
	assert.Equal(t, StatusOK, Worst(nil))
	assert.Equal(t, StatusWarn, Worst([]Check{{Status: StatusOK}, {Status: StatusWarn}}))
	assert.Equal(t, StatusFail, Worst([]Check{{Status: StatusWarn}, {Status: StatusFail}, {Status: StatusOK}}))
}
