package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Dialect selects the SQL flavour for generated statements.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// UpsertSpec describes a find-by-natural-key write. Arguments are always
// passed in Columns() order: Key, Set, InsertOnly, Touch.
type UpsertSpec struct {
	Table string
	// Key columns form the unique natural key.
	Key []string
	// Set columns are written on insert and overwritten on match.
	Set []string
	// InsertOnly columns are written on insert and never changed afterwards.
	InsertOnly []string
	// Touch columns (e.g. updated_at) follow Set but are ignored when
	// deciding whether a matched row actually changed.
	Touch []string
}

// Columns returns every column in argument order.
func (s UpsertSpec) Columns() []string {
	cols := make([]string, 0, len(s.Key)+len(s.Set)+len(s.InsertOnly)+len(s.Touch))
	cols = append(cols, s.Key...)
	cols = append(cols, s.Set...)
	cols = append(cols, s.InsertOnly...)
	return append(cols, s.Touch...)
}

func (s UpsertSpec) validate() error {
	if s.Table == "" {
		return eris.New("db: upsert: no table specified")
	}
	if len(s.Key) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

// UpsertResult reports what a single upsert did. Both false means the row
// matched and nothing changed.
type UpsertResult struct {
	Inserted bool
	Modified bool
}

// Changed reports whether the write touched the row.
func (r UpsertResult) Changed() bool {
	return r.Inserted || r.Modified
}

// SQL renders the upsert statement for the dialect.
func (s UpsertSpec) SQL(d Dialect) string {
	return s.render(d, "VALUES ("+placeholders(d, len(s.Columns()))+")")
}

// render builds INSERT ... <source> ON CONFLICT ... for either a VALUES list
// or a SELECT from a staging table.
func (s UpsertSpec) render(d Dialect, source string) string {
	table := sanitizeTable(s.Table)
	excluded := "EXCLUDED"
	if d == SQLite {
		excluded = "excluded"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) %s ON CONFLICT (%s)",
		table, quoteAndJoin(s.Columns()), source, quoteAndJoin(s.Key))

	if len(s.Set) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		var sets []string
		for _, c := range append(append([]string(nil), s.Set...), s.Touch...) {
			col := pgx.Identifier{c}.Sanitize()
			sets = append(sets, fmt.Sprintf("%s = %s.%s", col, excluded, col))
		}
		fmt.Fprintf(&b, " DO UPDATE SET %s WHERE %s", strings.Join(sets, ", "), distinctClause(d, table, excluded, s.Set))
	}

	if d == Postgres {
		b.WriteString(" RETURNING (xmax = 0) AS inserted")
	}
	return b.String()
}

func distinctClause(d Dialect, table, excluded string, cols []string) string {
	cur := make([]string, len(cols))
	exc := make([]string, len(cols))
	for i, c := range cols {
		col := pgx.Identifier{c}.Sanitize()
		cur[i] = table + "." + col
		exc[i] = excluded + "." + col
	}
	if d == Postgres {
		return fmt.Sprintf("(%s) IS DISTINCT FROM (%s)", strings.Join(cur, ", "), strings.Join(exc, ", "))
	}
	parts := make([]string, len(cols))
	for i := range cols {
		parts[i] = cur[i] + " IS NOT " + exc[i]
	}
	return strings.Join(parts, " OR ")
}

// Querier is satisfied by Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Upsert writes one row to Postgres. A matched row whose Set columns are
// unchanged returns no row and reports {false, false}.
func Upsert(ctx context.Context, q Querier, spec UpsertSpec, args ...any) (UpsertResult, error) {
	if err := spec.validate(); err != nil {
		return UpsertResult{}, err
	}
	if len(args) != len(spec.Columns()) {
		return UpsertResult{}, eris.Errorf("db: upsert %s: got %d args for %d columns", spec.Table, len(args), len(spec.Columns()))
	}

	var inserted bool
	err := q.QueryRow(ctx, spec.SQL(Postgres), args...).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return UpsertResult{}, nil
	}
	if err != nil {
		return UpsertResult{}, eris.Wrapf(err, "db: upsert %s", spec.Table)
	}
	return UpsertResult{Inserted: inserted, Modified: !inserted}, nil
}

// SQLExecer is satisfied by *sql.DB and *sql.Tx.
type SQLExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UpsertSQLite writes one row to SQLite. SQLite has no xmax, so the key is
// probed first; callers run both statements in one transaction.
func UpsertSQLite(ctx context.Context, q SQLExecer, spec UpsertSpec, args ...any) (UpsertResult, error) {
	if err := spec.validate(); err != nil {
		return UpsertResult{}, err
	}
	if len(args) != len(spec.Columns()) {
		return UpsertResult{}, eris.Errorf("db: upsert %s: got %d args for %d columns", spec.Table, len(args), len(spec.Columns()))
	}

	conds := make([]string, len(spec.Key))
	for i, k := range spec.Key {
		conds[i] = pgx.Identifier{k}.Sanitize() + " = ?"
	}
	probe := fmt.Sprintf("SELECT 1 FROM %s WHERE %s", sanitizeTable(spec.Table), strings.Join(conds, " AND "))

	var one int
	existed := true
	if err := q.QueryRowContext(ctx, probe, args[:len(spec.Key)]...).Scan(&one); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return UpsertResult{}, eris.Wrapf(err, "db: probe %s", spec.Table)
		}
		existed = false
	}

	res, err := q.ExecContext(ctx, spec.SQL(SQLite), args...)
	if err != nil {
		return UpsertResult{}, eris.Wrapf(err, "db: upsert %s", spec.Table)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return UpsertResult{}, eris.Wrapf(err, "db: upsert %s rows affected", spec.Table)
	}
	if n == 0 {
		return UpsertResult{}, nil
	}
	return UpsertResult{Inserted: !existed, Modified: existed}, nil
}

func placeholders(d Dialect, n int) string {
	ph := make([]string, n)
	for i := range ph {
		if d == Postgres {
			ph[i] = fmt.Sprintf("$%d", i+1)
		} else {
			ph[i] = "?"
		}
	}
	return strings.Join(ph, ", ")
}

// sanitizeTable handles schema-qualified table names like "public.buyers".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
