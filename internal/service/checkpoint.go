package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/logging"
)

// CheckpointManager serializes run state after every phase transition and
// restores it for resume. A nil store disables checkpointing.
type CheckpointManager struct {
	store  core.CheckpointStore
	logger *logging.Logger

	mu  sync.Mutex
	seq map[string]int
}

// NewCheckpointManager creates a new checkpoint manager.
func NewCheckpointManager(store core.CheckpointStore, logger *logging.Logger) *CheckpointManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CheckpointManager{
		store:  store,
		logger: logger,
		seq:    make(map[string]int),
	}
}

// Enabled reports whether checkpoints are persisted.
func (m *CheckpointManager) Enabled() bool {
	return m != nil && m.store != nil
}

// Snapshot writes an immutable checkpoint of state and returns its id.
// Failures are returned as CheckpointWriteError; callers log and continue.
func (m *CheckpointManager) Snapshot(ctx context.Context, state *core.RunState) (string, error) {
	if !m.Enabled() {
		return "", nil
	}

	seq, err := m.nextSeq(ctx, state.RunID)
	if err != nil {
		return "", core.ErrCheckpointWrite(state.RunID, err)
	}

	cp := checkpointFromState(state, seq)
	payload, err := json.Marshal(cp)
	if err != nil {
		return "", core.ErrCheckpointWrite(state.RunID, fmt.Errorf("marshaling checkpoint: %w", err))
	}

	rec := core.CheckpointRecord{
		ID:            cp.ID,
		RunID:         cp.RunID,
		Seq:           cp.Seq,
		Phase:         cp.Phase,
		SchemaVersion: cp.SchemaVersion,
		Checksum:      checksum(payload),
		Payload:       payload,
		CreatedAt:     cp.CreatedAt,
	}
	if err := m.store.Append(ctx, rec); err != nil {
		return "", core.ErrCheckpointWrite(state.RunID, err)
	}

	m.logger.Info("checkpoint created",
		"checkpoint_id", cp.ID,
		"run_id", cp.RunID,
		"seq", cp.Seq,
		"phase", cp.Phase,
		"iteration", cp.Iteration,
	)
	return cp.ID, nil
}

// Resume restores the run state stored in a checkpoint. ref is either a
// checkpoint id or a run id, in which case the latest checkpoint is used.
func (m *CheckpointManager) Resume(ctx context.Context, ref string) (*core.RunState, *core.Checkpoint, error) {
	cp, err := m.Load(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	if cp.Phase.IsTerminal() {
		return nil, cp, core.ErrState(core.CodeInvalidState,
			fmt.Sprintf("run %s already finished in %s", cp.RunID, cp.Phase))
	}

	m.mu.Lock()
	if m.seq[cp.RunID] < cp.Seq {
		m.seq[cp.RunID] = cp.Seq
	}
	m.mu.Unlock()

	m.logger.Info("resuming from checkpoint",
		"checkpoint_id", cp.ID,
		"run_id", cp.RunID,
		"phase", cp.Phase,
		"iteration", cp.Iteration,
	)
	return stateFromCheckpoint(cp), cp, nil
}

// LoadState restores the run state of a checkpoint in any phase. Unlike
// Resume it does not reserve sequence numbers, so the state is for reading.
func (m *CheckpointManager) LoadState(ctx context.Context, ref string) (*core.RunState, error) {
	cp, err := m.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	return stateFromCheckpoint(cp), nil
}

// Load fetches and decodes a checkpoint by checkpoint id or run id.
func (m *CheckpointManager) Load(ctx context.Context, ref string) (*core.Checkpoint, error) {
	if !m.Enabled() {
		return nil, core.ErrState(core.CodeInvalidState, "checkpointing is disabled")
	}
	rec, err := m.store.Get(ctx, ref)
	if err != nil && !core.IsCategory(err, core.ErrCatNotFound) {
		return nil, err
	}
	if rec == nil {
		rec, err = m.store.Latest(ctx, ref)
		if err != nil {
			return nil, err
		}
	}
	if rec == nil {
		return nil, core.ErrNotFound("checkpoint", ref)
	}
	return DecodeCheckpoint(rec)
}

// List returns the decoded checkpoints of a run in sequence order.
func (m *CheckpointManager) List(ctx context.Context, runID string) ([]*core.Checkpoint, error) {
	if !m.Enabled() {
		return nil, nil
	}
	recs, err := m.store.List(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make([]*core.Checkpoint, 0, len(recs))
	for i := range recs {
		cp, err := DecodeCheckpoint(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Runs lists run ids that have checkpoints.
func (m *CheckpointManager) Runs(ctx context.Context) ([]string, error) {
	if !m.Enabled() {
		return nil, nil
	}
	return m.store.Runs(ctx)
}

// Purge deletes every checkpoint of a run.
func (m *CheckpointManager) Purge(ctx context.Context, runID string) (int, error) {
	if !m.Enabled() {
		return 0, nil
	}
	n, err := m.store.Purge(ctx, runID)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	delete(m.seq, runID)
	m.mu.Unlock()
	m.logger.Info("checkpoints purged", "run_id", runID, "count", n)
	return n, nil
}

func (m *CheckpointManager) nextSeq(ctx context.Context, runID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seq[runID]; !ok {
		latest, err := m.store.Latest(ctx, runID)
		if err != nil && !core.IsCategory(err, core.ErrCatNotFound) {
			return 0, err
		}
		if latest != nil {
			m.seq[runID] = latest.Seq
		}
	}
	m.seq[runID]++
	return m.seq[runID], nil
}

// DecodeCheckpoint verifies a record checksum, migrates older schema
// versions and decodes the checkpoint.
func DecodeCheckpoint(rec *core.CheckpointRecord) (*core.Checkpoint, error) {
	if rec.Checksum != "" && rec.Checksum != checksum(rec.Payload) {
		return nil, core.ErrState(core.CodeStateCorrupted,
			fmt.Sprintf("checkpoint %s checksum mismatch", rec.ID))
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(rec.Payload, &raw); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "decoding checkpoint payload").WithCause(err)
	}
	if err := MigrateCheckpoint(raw); err != nil {
		return nil, err
	}
	migrated, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encoding migrated checkpoint: %w", err)
	}

	var cp core.Checkpoint
	if err := json.Unmarshal(migrated, &cp); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "decoding checkpoint").WithCause(err)
	}
	if cp.ID == "" {
		cp.ID = rec.ID
	}
	return &cp, nil
}

// checkpointMigrations upgrade a raw payload from version N to N+1.
var checkpointMigrations = map[int]func(map[string]interface{}){
	// v1 stored the snapshots under short names and the time as "timestamp".
	1: func(raw map[string]interface{}) {
		rename(raw, "plan", "plan_snapshot")
		rename(raw, "finding_ids", "finding_ids_snapshot")
		rename(raw, "evaluations", "evaluation_history")
		rename(raw, "timestamp", "created_at")
		if _, ok := raw["finding_ids_snapshot"]; !ok {
			raw["finding_ids_snapshot"] = []interface{}{}
		}
	},
}

// MigrateCheckpoint upgrades a raw checkpoint payload in place to
// core.CheckpointSchemaVersion. Payloads without a version are v1.
func MigrateCheckpoint(raw map[string]interface{}) error {
	version := 1
	if v, ok := raw["schema_version"].(float64); ok {
		version = int(v)
	}
	if version > core.CheckpointSchemaVersion {
		return core.ErrState(core.CodeSchemaUnsupported,
			fmt.Sprintf("checkpoint schema %d is newer than supported %d", version, core.CheckpointSchemaVersion))
	}
	for ; version < core.CheckpointSchemaVersion; version++ {
		migrate, ok := checkpointMigrations[version]
		if !ok {
			return core.ErrState(core.CodeSchemaUnsupported,
				fmt.Sprintf("no migration from checkpoint schema %d", version))
		}
		migrate(raw)
	}
	raw["schema_version"] = core.CheckpointSchemaVersion
	return nil
}

func rename(raw map[string]interface{}, from, to string) {
	if v, ok := raw[from]; ok {
		if _, exists := raw[to]; !exists {
			raw[to] = v
		}
		delete(raw, from)
	}
}

func checkpointFromState(state *core.RunState, seq int) *core.Checkpoint {
	s := state.Clone()
	return &core.Checkpoint{
		SchemaVersion: core.CheckpointSchemaVersion,
		ID:            uuid.NewString(),
		RunID:         s.RunID,
		Seq:           seq,
		Phase:         s.Phase,
		Iteration:     s.Iteration,
		Query:         s.Query,
		Plan:          s.Plan,
		PlanVersions:  s.PlanVersions,
		FindingIDs:    nonNil(s.FindingIDs),
		Evaluations:   s.Evaluations,
		Failures:      s.Failures,
		Caveats:       s.Caveats,
		StopReason:    s.StopReason,
		Degraded:      s.Degraded,
		Error:         s.Error,
		StartedAt:     s.StartedAt,
		CreatedAt:     time.Now().UTC(),
	}
}

func stateFromCheckpoint(cp *core.Checkpoint) *core.RunState {
	s := &core.RunState{
		RunID:        cp.RunID,
		Query:        cp.Query,
		Phase:        cp.Phase,
		Iteration:    cp.Iteration,
		Plan:         cp.Plan,
		PlanVersions: cp.PlanVersions,
		FindingIDs:   nonNil(cp.FindingIDs),
		Evaluations:  cp.Evaluations,
		Failures:     cp.Failures,
		Caveats:      cp.Caveats,
		StopReason:   cp.StopReason,
		Degraded:     cp.Degraded,
		Error:        cp.Error,
		StartedAt:    cp.StartedAt,
		UpdatedAt:    cp.CreatedAt,
	}
	if s.Query == "" && s.Plan != nil {
		s.Query = s.Plan.Query
	}
	return s.Clone()
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
