package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for a single-row upsert.
type UpsertConfig struct {
	Table        string   // target table (e.g., "institutions")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
	Returning    []string // columns returned after the write
}

// BuildUpsert renders INSERT ... VALUES ($1..$n) ON CONFLICT (keys) DO UPDATE SET ... RETURNING ...
func BuildUpsert(cfg UpsertConfig) (string, error) {
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	var setClauses []string
	for _, col := range updateCols {
		ident := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", ident, ident))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		placeholders(0, len(cfg.Columns)),
		quoteAndJoin(cfg.ConflictKeys),
	)
	if len(setClauses) == 0 {
		sb.WriteString(" DO NOTHING")
	} else {
		sb.WriteString(" DO UPDATE SET ")
		sb.WriteString(strings.Join(setClauses, ", "))
	}
	if len(cfg.Returning) > 0 {
		sb.WriteString(" RETURNING ")
		sb.WriteString(strings.Join(cfg.Returning, ", "))
	}
	return sb.String(), nil
}

// InsertConfig defines a multi-row insert.
type InsertConfig struct {
	Table   string
	Columns []string
	// IgnoreConflicts appends ON CONFLICT DO NOTHING so rows that already
	// exist are skipped instead of failing the statement.
	IgnoreConflicts bool
}

// BuildInsert renders a multi-row INSERT for n rows.
func BuildInsert(cfg InsertConfig, n int) (string, error) {
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: insert: no columns specified")
	}
	if n <= 0 {
		return "", eris.New("db: insert: no rows")
	}

	tuples := make([]string, n)
	width := len(cfg.Columns)
	for i := range n {
		tuples[i] = "(" + placeholders(i*width, width) + ")"
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		sanitizeTable(cfg.Table), quoteAndJoin(cfg.Columns), strings.Join(tuples, ", "))
	if cfg.IgnoreConflicts {
		q += " ON CONFLICT DO NOTHING"
	}
	return q, nil
}

// InsertRows inserts rows in a single statement and returns the number of rows written.
func InsertRows(ctx context.Context, pool Pool, cfg InsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	q, err := BuildInsert(cfg, len(rows))
	if err != nil {
		return 0, err
	}

	args := make([]any, 0, len(rows)*len(cfg.Columns))
	for i, row := range rows {
		if len(row) != len(cfg.Columns) {
			return 0, eris.Errorf("db: insert: row %d has %d values, want %d", i, len(row), len(cfg.Columns))
		}
		args = append(args, row...)
	}

	tag, err := pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "db: insert into %s", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

// placeholders renders "$offset+1, ..., $offset+n".
func placeholders(offset, n int) string {
	ph := make([]string, n)
	for i := range n {
		ph[i] = fmt.Sprintf("$%d", offset+i+1)
	}
	return strings.Join(ph, ", ")
}

// sanitizeTable handles schema-qualified table names like "public.companies".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
