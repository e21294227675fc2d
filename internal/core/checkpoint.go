package core

import (
	"context"
	"time"
)

// CheckpointSchemaVersion is the version written by the current build.
const CheckpointSchemaVersion = 2

// Checkpoint is the durable snapshot of a run taken after a phase
// transition. Phase is the phase the run entered; resuming runs that
// phase next.
type Checkpoint struct {
	SchemaVersion int           `json:"schema_version"`
	ID            string        `json:"id"`
	RunID         string        `json:"run_id"`
	Seq           int           `json:"seq"`
	Phase         Phase         `json:"phase"`
	Iteration     int           `json:"iteration_index"`
	Query         string        `json:"query"`
	Plan          *Plan         `json:"plan_snapshot,omitempty"`
	PlanVersions  []PlanVersion `json:"plan_versions,omitempty"`
	FindingIDs    []string      `json:"finding_ids_snapshot"`
	Evaluations   []Evaluation  `json:"evaluation_history"`
	Failures      []Failure     `json:"failures,omitempty"`
	Caveats       []string      `json:"caveats,omitempty"`
	StopReason    string        `json:"stop_reason,omitempty"`
	Degraded      bool          `json:"degraded,omitempty"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	CreatedAt     time.Time     `json:"created_at"`
}

// CheckpointRecord is one stored checkpoint as persisted by a backend.
// Payload holds the encoded Checkpoint.
type CheckpointRecord struct {
	ID            string    `json:"id"`
	RunID         string    `json:"run_id"`
	Seq           int       `json:"seq"`
	Phase         Phase     `json:"phase"`
	SchemaVersion int       `json:"schema_version"`
	Checksum      string    `json:"checksum"`
	Payload       []byte    `json:"payload"`
	CreatedAt     time.Time `json:"created_at"`
}

// CheckpointStore persists checkpoint records. Records are immutable:
// Append rejects an id that already exists.
type CheckpointStore interface {
	Append(ctx context.Context, rec CheckpointRecord) error
	Get(ctx context.Context, id string) (*CheckpointRecord, error)
	Latest(ctx context.Context, runID string) (*CheckpointRecord, error)
	List(ctx context.Context, runID string) ([]CheckpointRecord, error)
	Runs(ctx context.Context) ([]string, error)
	Purge(ctx context.Context, runID string) (int, error)
	Close() error
}
