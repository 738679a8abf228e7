package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines a single-row INSERT ... ON CONFLICT statement.
type UpsertConfig struct {
	Table        string   // target table (e.g., "profiles")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
	Returning    []string // optional RETURNING columns
}

// UpsertSQL builds the statement for cfg with $1..$n placeholders in column
// order.
func UpsertSQL(cfg UpsertConfig) (string, error) {
	if cfg.Table == "" {
		return "", eris.New("db: upsert: no table specified")
	}
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

	placeholders := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(placeholders, ", "),
		quoteAndJoin(cfg.ConflictKeys),
	)

	if len(updateCols) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		setClauses := make([]string, len(updateCols))
		for i, col := range updateCols {
			id := pgx.Identifier{col}.Sanitize()
			setClauses[i] = fmt.Sprintf("%s = EXCLUDED.%s", id, id)
		}
		b.WriteString(" DO UPDATE SET ")
		b.WriteString(strings.Join(setClauses, ", "))
	}

	if len(cfg.Returning) > 0 {
		b.WriteString(" RETURNING ")
		b.WriteString(quoteAndJoin(cfg.Returning))
	}
	return b.String(), nil
}

// sanitizeTable handles schema-qualified table names like "public.profiles".
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
