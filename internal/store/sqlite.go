package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/femasync/internal/declarations"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sdb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sync_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME,
	rows_synced  INTEGER,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_log_started_at ON sync_log(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteTypes maps inferred column kinds to SQLite column types.
var sqliteTypes = map[declarations.Kind]string{
	declarations.KindText:  "TEXT",
	declarations.KindInt:   "INTEGER",
	declarations.KindFloat: "REAL",
	declarations.KindBool:  "BOOLEAN",
	declarations.KindTime:  "TIMESTAMP",
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Replace rewrites the table inside one transaction (drop, create, insert).
// An empty batch performs no destination write.
func (s *SQLiteStore) Replace(ctx context.Context, table string, batch declarations.Batch) (int64, error) {
	log := zap.L().With(zap.String("component", "store.sqlite"), zap.String("table", table))

	if batch.Empty() {
		log.Warn("no data to load")
		return 0, nil
	}

	kinds := batch.Kinds()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	ident := quoteIdent(table)
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+ident); err != nil {
		return 0, eris.Wrapf(err, "sqlite: drop %s", table)
	}

	cols := make([]string, len(batch.Columns))
	placeholders := make([]string, len(batch.Columns))
	for i, c := range batch.Columns {
		cols[i] = fmt.Sprintf("%s %s", quoteIdent(c), sqliteTypes[kinds[i]])
		placeholders[i] = "?"
	}
	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)", ident, strings.Join(cols, ", "))
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "sqlite: create %s", table)
	}

	names := make([]string, len(batch.Columns))
	for i, c := range batch.Columns {
		names[i] = quoteIdent(c)
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ident, strings.Join(names, ", "), strings.Join(placeholders, ", "))

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: prepare insert into %s", table)
	}
	defer stmt.Close()

	var n int64
	for _, row := range batch.Rows {
		args := make([]any, len(row))
		for j, v := range row {
			args[j] = sqliteValue(v, kinds[j])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert into %s", table)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrapf(err, "sqlite: commit %s", table)
	}

	log.Info("loaded rows", zap.Int64("rows", n))
	return n, nil
}

func sqliteValue(v any, kind declarations.Kind) any {
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
	case declarations.KindTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano)
		}
	}
	return v
}

// StartSync records the beginning of a run and returns its sync log ID.
func (s *SQLiteStore) StartSync(ctx context.Context, runID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO sync_log (run_id, status) VALUES (?, 'running')", runID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: start sync %s", runID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: sync log id")
	}
	return id, nil
}

// CompleteSync marks a run as successfully completed.
func (s *SQLiteStore) CompleteSync(ctx context.Context, syncID int64, rowsSynced int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_log
		 SET status = 'complete', completed_at = datetime('now'), rows_synced = ?
		 WHERE id = ?`,
		rowsSynced, syncID,
	)
	return eris.Wrapf(err, "sqlite: complete sync %d", syncID)
}

// FailSync marks a run as failed with an error message.
func (s *SQLiteStore) FailSync(ctx context.Context, syncID int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_log
		 SET status = 'failed', completed_at = datetime('now'), error = ?
		 WHERE id = ?`,
		errMsg, syncID,
	)
	return eris.Wrapf(err, "sqlite: fail sync %d", syncID)
}

// ListSyncs returns all sync log entries, most recent first.
func (s *SQLiteStore) ListSyncs(ctx context.Context) ([]SyncEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, status, started_at, completed_at, rows_synced, error
		 FROM sync_log ORDER BY started_at DESC, id DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list syncs")
	}
	defer rows.Close()

	var entries []SyncEntry
	for rows.Next() {
		var e SyncEntry
		var completedAt sql.NullTime
		var rowsSynced sql.NullInt64
		var errStr sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Status, &e.StartedAt, &completedAt, &rowsSynced, &errStr); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync entry")
		}
		if completedAt.Valid {
			t := completedAt.Time
			e.CompletedAt = &t
		}
		if rowsSynced.Valid {
			e.RowsSynced = rowsSynced.Int64
		}
		if errStr.Valid {
			e.Error = errStr.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
