// Package store persists normalized declaration batches and run bookkeeping.
package store

import (
	"context"
	"time"

	"github.com/sells-group/femasync/internal/declarations"
)

// SyncEntry is one row of the sync log: the bookkeeping record for a run.
type SyncEntry struct {
	ID          int64      `json:"id"`
	RunID       string     `json:"run_id"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RowsSynced  int64      `json:"rows_synced"`
	Error       string     `json:"error,omitempty"`
}

// Store defines the persistence interface for the sync pipeline.
type Store interface {
	// Replace rewrites the named table so its contents equal exactly the
	// given batch. An empty batch performs no destination write.
	Replace(ctx context.Context, table string, batch declarations.Batch) (int64, error)

	// Sync log
	StartSync(ctx context.Context, runID string) (int64, error)
	CompleteSync(ctx context.Context, syncID int64, rowsSynced int64) error
	FailSync(ctx context.Context, syncID int64, errMsg string) error
	ListSyncs(ctx context.Context) ([]SyncEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
