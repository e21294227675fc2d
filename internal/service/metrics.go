package service

import (
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/logging"
)

// MetricsCollector collects metrics for a single research run.
type MetricsCollector struct {
	run      RunMetrics
	subtasks map[core.SubtaskID]*SubtaskMetrics
	phases   map[core.Phase]time.Duration
	mu       sync.RWMutex
}

// RunMetrics holds run-level metrics.
type RunMetrics struct {
	RunID             string        `json:"run_id"`
	StartTime         time.Time     `json:"start_time"`
	EndTime           time.Time     `json:"end_time"`
	TotalDuration     time.Duration `json:"total_duration"`
	Iterations        int           `json:"iterations"`
	SubtasksTotal     int           `json:"subtasks_total"`
	SubtasksCompleted int           `json:"subtasks_completed"`
	SubtasksFailed    int           `json:"subtasks_failed"`
	RetriesTotal      int           `json:"retries_total"`
	FindingsTotal     int           `json:"findings_total"`
	CheckpointErrors  int           `json:"checkpoint_errors"`
	LastScore         int           `json:"last_score"`
}

// SubtaskMetrics holds subtask-level metrics.
type SubtaskMetrics struct {
	SubtaskID core.SubtaskID `json:"subtask_id"`
	Iteration int            `json:"iteration"`
	WorkerID  string         `json:"worker_id"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Duration  time.Duration  `json:"duration"`
	Attempts  int            `json:"attempts"`
	Findings  int            `json:"findings"`
	Success   bool           `json:"success"`
	ErrorMsg  string         `json:"error,omitempty"`
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector(runID string) *MetricsCollector {
	return &MetricsCollector{
		run:      RunMetrics{RunID: runID},
		subtasks: make(map[core.SubtaskID]*SubtaskMetrics),
		phases:   make(map[core.Phase]time.Duration),
	}
}

// StartRun marks run start.
func (m *MetricsCollector) StartRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.run.StartTime = time.Now()
}

// EndRun marks run end.
func (m *MetricsCollector) EndRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.run.EndTime = time.Now()
	m.run.TotalDuration = m.run.EndTime.Sub(m.run.StartTime)
}

// RecordPhase adds elapsed time spent in a phase.
func (m *MetricsCollector) RecordPhase(phase core.Phase, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phases[phase] += d
}

// StartSubtask starts tracking a subtask.
func (m *MetricsCollector) StartSubtask(st core.Subtask, workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.subtasks[st.ID]; !seen {
		m.run.SubtasksTotal++
	}
	m.subtasks[st.ID] = &SubtaskMetrics{
		SubtaskID: st.ID,
		Iteration: st.Iteration,
		WorkerID:  workerID,
		StartTime: time.Now(),
	}
}

// EndSubtask completes subtask tracking.
func (m *MetricsCollector) EndSubtask(id core.SubtaskID, findings, attempts int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sm, ok := m.subtasks[id]
	if !ok {
		return
	}
	sm.EndTime = time.Now()
	sm.Duration = sm.EndTime.Sub(sm.StartTime)
	sm.Attempts = attempts
	sm.Findings = findings
	sm.Success = err == nil
	if err != nil {
		sm.ErrorMsg = err.Error()
		m.run.SubtasksFailed++
	} else {
		m.run.SubtasksCompleted++
	}
	if attempts > 1 {
		m.run.RetriesTotal += attempts - 1
	}
}

// RecordEvaluation records a finished evaluation.
func (m *MetricsCollector) RecordEvaluation(e core.Evaluation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.run.Iterations = e.Iteration
	m.run.LastScore = e.OverallScore
	m.run.FindingsTotal = e.FindingCount
}

// RecordFindings sets the number of findings in the store.
func (m *MetricsCollector) RecordFindings(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.run.FindingsTotal = n
}

// RecordCheckpointError counts a failed snapshot.
func (m *MetricsCollector) RecordCheckpointError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.run.CheckpointErrors++
}

// GetRunMetrics returns run metrics.
func (m *MetricsCollector) GetRunMetrics() RunMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.run
}

// GetSubtaskMetrics returns metrics for a subtask.
func (m *MetricsCollector) GetSubtaskMetrics(id core.SubtaskID) (*SubtaskMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sm, ok := m.subtasks[id]
	if !ok {
		return nil, false
	}
	cp := *sm
	return &cp, true
}

// GetAllSubtaskMetrics returns all subtask metrics ordered by id.
func (m *MetricsCollector) GetAllSubtaskMetrics() []*SubtaskMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*SubtaskMetrics, 0, len(m.subtasks))
	for _, sm := range m.subtasks {
		cp := *sm
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubtaskID < out[j].SubtaskID })
	return out
}

// PhaseDurations returns accumulated time per phase.
func (m *MetricsCollector) PhaseDurations() map[core.Phase]time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[core.Phase]time.Duration, len(m.phases))
	for k, v := range m.phases {
		out[k] = v
	}
	return out
}

// Log writes the run summary at info level.
func (m *MetricsCollector) Log(logger *logging.Logger) {
	r := m.GetRunMetrics()
	logger.Info("run metrics",
		"run_id", r.RunID,
		"duration", r.TotalDuration.Round(time.Millisecond).String(),
		"iterations", r.Iterations,
		"subtasks_completed", r.SubtasksCompleted,
		"subtasks_failed", r.SubtasksFailed,
		"retries", r.RetriesTotal,
		"findings", r.FindingsTotal,
		"checkpoint_errors", r.CheckpointErrors,
		"last_score", r.LastScore,
	)
}
