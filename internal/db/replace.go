package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ReplaceConfig defines the parameters for a full table replace.
type ReplaceConfig struct {
	Table   string   // target table (e.g., "incident_data")
	Columns []string // column names, in order
	Types   []string // SQL type per column, same order as Columns
}

// ReplaceTable replaces the entire contents of a table inside one transaction:
// 1. DROP TABLE IF EXISTS target
// 2. CREATE TABLE target with the given columns
// 3. COPY all rows in
// 4. Commit
// Readers never observe a half-replaced table. The table schema follows the
// given column set, so upstream field changes reshape the table on the next run.
func ReplaceTable(ctx context.Context, pool Pool, cfg ReplaceConfig, rows [][]any) (int64, error) {
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: replace: no columns specified")
	}
	if len(cfg.Types) != len(cfg.Columns) {
		return 0, eris.Errorf("db: replace: %d columns but %d types", len(cfg.Columns), len(cfg.Types))
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace: begin tx")
	}
	defer tx.Rollback(ctx)

	dropSQL := fmt.Sprintf("DROP TABLE IF EXISTS %s", sanitizeTable(cfg.Table))
	if _, err := tx.Exec(ctx, dropSQL); err != nil {
		return 0, eris.Wrapf(err, "db: replace: drop %s", cfg.Table)
	}

	defs := make([]string, len(cfg.Columns))
	for i, col := range cfg.Columns {
		defs[i] = fmt.Sprintf("%s %s", pgx.Identifier{col}.Sanitize(), cfg.Types[i])
	}
	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)", sanitizeTable(cfg.Table), strings.Join(defs, ", "))
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: replace: create %s", cfg.Table)
	}

	var n int64
	if len(rows) > 0 {
		copySource := pgx.CopyFromRows(rows)
		n, err = tx.CopyFrom(ctx, tableIdentifier(cfg.Table), cfg.Columns, copySource)
		if err != nil {
			return 0, eris.Wrapf(err, "db: replace: COPY INTO %s", cfg.Table)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: replace: commit tx")
	}

	return n, nil
}

// sanitizeTable handles schema-qualified table names like "femasync.sync_log".
func sanitizeTable(table string) string {
	return tableIdentifier(table).Sanitize()
}

func tableIdentifier(table string) pgx.Identifier {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}
	}
	return pgx.Identifier{table}
}
