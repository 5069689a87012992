package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/femasync/internal/db"
	"github.com/sells-group/femasync/internal/declarations"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Migrate runs all pending SQL migrations in lexicographic order under a
// pg advisory lock, so overlapping deploys can't race each other.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock(727509)"); err != nil {
		return eris.Wrap(err, "postgres: acquire migration advisory lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock(727509)"); err != nil {
			log.Warn("failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if err := s.ensureMigrationTable(ctx); err != nil {
		return err
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "postgres: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}

		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "postgres: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))

		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", name)
		}

		if _, err := s.pool.Exec(ctx,
			"INSERT INTO femasync.schema_migrations (filename, applied_at) VALUES ($1, now())",
			name,
		); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", name)
		}
	}

	return nil
}

func (s *PostgresStore) ensureMigrationTable(ctx context.Context) error {
	sql := `
		CREATE SCHEMA IF NOT EXISTS femasync;
		CREATE TABLE IF NOT EXISTS femasync.schema_migrations (
			id         SERIAL PRIMARY KEY,
			filename   TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}
	return nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT filename FROM femasync.schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// pgTypes maps inferred column kinds to Postgres column types.
var pgTypes = map[declarations.Kind]string{
	declarations.KindText:  "TEXT",
	declarations.KindInt:   "BIGINT",
	declarations.KindFloat: "DOUBLE PRECISION",
	declarations.KindBool:  "BOOLEAN",
	declarations.KindTime:  "TIMESTAMPTZ",
}

// Replace rewrites the table inside one transaction (drop, create, COPY).
// An empty batch performs no destination write.
func (s *PostgresStore) Replace(ctx context.Context, table string, batch declarations.Batch) (int64, error) {
	log := zap.L().With(zap.String("component", "store.postgres"), zap.String("table", table))

	if batch.Empty() {
		log.Warn("no data to load")
		return 0, nil
	}

	kinds := batch.Kinds()
	types := make([]string, len(kinds))
	for i, k := range kinds {
		types[i] = pgTypes[k]
	}

	n, err := db.ReplaceTable(ctx, s.pool, db.ReplaceConfig{
		Table:   table,
		Columns: batch.Columns,
		Types:   types,
	}, coerceRows(batch, kinds))
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: replace %s", table)
	}

	log.Info("loaded rows", zap.Int64("rows", n))
	return n, nil
}

// coerceRows aligns row values with the inferred column kinds so the COPY
// encoder never sees an int in a text column or an int where the column
// promoted to float.
func coerceRows(batch declarations.Batch, kinds []declarations.Kind) [][]any {
	rows := make([][]any, len(batch.Rows))
	for i, row := range batch.Rows {
		out := make([]any, len(row))
		for j, v := range row {
			out[j] = coerceValue(v, kinds[j])
		}
		rows[i] = out
	}
	return rows
}

func coerceValue(v any, kind declarations.Kind) any {
	if v == nil {
		return nil
	}
	switch kind {
	case declarations.KindText:
		if _, ok := v.(string); !ok {
			return fmt.Sprint(v)
		}
	case declarations.KindFloat:
		if i, ok := v.(int64); ok {
			return float64(i)
		}
	}
	return v
}

// StartSync records the beginning of a run and returns its sync log ID.
func (s *PostgresStore) StartSync(ctx context.Context, runID string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO femasync.sync_log (run_id, status, started_at)
		 VALUES ($1, 'running', now()) RETURNING id`,
		runID,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: start sync %s", runID)
	}
	return id, nil
}

// CompleteSync marks a run as successfully completed.
func (s *PostgresStore) CompleteSync(ctx context.Context, syncID int64, rowsSynced int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE femasync.sync_log
		 SET status = 'complete', completed_at = now(), rows_synced = $1
		 WHERE id = $2`,
		rowsSynced, syncID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete sync %d", syncID)
	}
	return nil
}

// FailSync marks a run as failed with an error message.
func (s *PostgresStore) FailSync(ctx context.Context, syncID int64, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE femasync.sync_log
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, syncID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail sync %d", syncID)
	}
	return nil
}

// ListSyncs returns all sync log entries, most recent first.
func (s *PostgresStore) ListSyncs(ctx context.Context) ([]SyncEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, status, started_at, completed_at, rows_synced, error
		 FROM femasync.sync_log ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list syncs")
	}
	defer rows.Close()

	var entries []SyncEntry
	for rows.Next() {
		var e SyncEntry
		var completedAt *time.Time
		var rowsSynced *int64
		var errStr *string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Status, &e.StartedAt, &completedAt, &rowsSynced, &errStr); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sync entry")
		}
		e.CompletedAt = completedAt
		if rowsSynced != nil {
			e.RowsSynced = *rowsSynced
		}
		if errStr != nil {
			e.Error = *errStr
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
