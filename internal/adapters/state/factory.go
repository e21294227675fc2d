package state

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// Backend names accepted by NewCheckpointStore.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
	BackendMemory = "memory"
)

// NewCheckpointStore creates a checkpoint store for the named backend.
// For sqlite the path is the database file; for json it is a directory.
func NewCheckpointStore(backend, path string) (core.CheckpointStore, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendSQLite:
		// Ensure path has .db extension for SQLite
		if !strings.HasSuffix(path, ".db") {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
		}
		return NewSQLiteCheckpointStore(path)
	case BackendJSON:
		// A database-looking path maps to a sibling directory.
		if ext := filepath.Ext(path); ext != "" {
			path = strings.TrimSuffix(path, ext)
		}
		return NewJSONCheckpointStore(path)
	case BackendMemory:
		return NewMemoryCheckpointStore(), nil
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown checkpoint backend %q", backend))
	}
}

// CloseStore closes a store, ignoring nil.
func CloseStore(s core.CheckpointStore) error {
	if s == nil {
		return nil
	}
	return s.Close()
}
