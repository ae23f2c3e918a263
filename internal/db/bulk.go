package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// BulkResult counts the rows a bulk upsert inserted and modified. Matched
// rows with no change are in neither count.
type BulkResult struct {
	Inserted int64
	Modified int64
}

// Add folds a single upsert result into the counts.
func (r *BulkResult) Add(u UpsertResult) {
	if u.Inserted {
		r.Inserted++
	}
	if u.Modified {
		r.Modified++
	}
}

// BulkUpsert writes many rows to Postgres in one transaction:
//  1. CREATE TEMP TABLE ... (LIKE target INCLUDING DEFAULTS) ON COMMIT DROP
//  2. COPY rows into the temp table
//  3. INSERT INTO target SELECT DISTINCT ON (key) ... ON CONFLICT DO UPDATE
//     WHERE changed, RETURNING (xmax = 0) to tell inserts from updates
//
// DISTINCT ON collapses duplicate keys within the batch, which ON CONFLICT
// cannot touch twice in one statement.
func BulkUpsert(ctx context.Context, pool Pool, spec UpsertSpec, rows [][]any) (BulkResult, error) {
	if len(rows) == 0 {
		return BulkResult{}, nil
	}
	if err := spec.validate(); err != nil {
		return BulkResult{}, err
	}
	cols := spec.Columns()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return BulkResult{}, eris.Wrap(err, "db: bulk upsert: begin tx")
	}
	defer tx.Rollback(ctx)

	tempTable := fmt.Sprintf("_tmp_upsert_%s", strings.ReplaceAll(spec.Table, ".", "_"))

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(spec.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return BulkResult{}, eris.Wrapf(err, "db: bulk upsert: create temp table for %s", spec.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cols, pgx.CopyFromRows(rows)); err != nil {
		return BulkResult{}, eris.Wrapf(err, "db: bulk upsert: COPY into temp table for %s", spec.Table)
	}

	source := fmt.Sprintf("SELECT DISTINCT ON (%s) %s FROM %s",
		quoteAndJoin(spec.Key), quoteAndJoin(cols), pgx.Identifier{tempTable}.Sanitize())

	res, err := tx.Query(ctx, spec.render(Postgres, source))
	if err != nil {
		return BulkResult{}, eris.Wrapf(err, "db: bulk upsert: INSERT ON CONFLICT for %s", spec.Table)
	}
	var out BulkResult
	for res.Next() {
		var inserted bool
		if err := res.Scan(&inserted); err != nil {
			res.Close()
			return BulkResult{}, eris.Wrapf(err, "db: bulk upsert: scan %s", spec.Table)
		}
		if inserted {
			out.Inserted++
		} else {
			out.Modified++
		}
	}
	res.Close()
	if err := res.Err(); err != nil {
		return BulkResult{}, eris.Wrapf(err, "db: bulk upsert: rows %s", spec.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return BulkResult{}, eris.Wrap(err, "db: bulk upsert: commit tx")
	}
	return out, nil
}
