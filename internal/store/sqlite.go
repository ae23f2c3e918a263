package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/k1p1l0/tendhunt-sub005/internal/db"
	"github.com/k1p1l0/tendhunt-sub005/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer keeps the probe-then-upsert pair atomic.
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS buyers (
	id                    TEXT PRIMARY KEY,
	org_id                TEXT NOT NULL UNIQUE,
	name                  TEXT NOT NULL,
	sector                TEXT NOT NULL DEFAULT '',
	region                TEXT NOT NULL DEFAULT '',
	org_type              TEXT NOT NULL DEFAULT '',
	data_source_id        TEXT NOT NULL DEFAULT '',
	website               TEXT NOT NULL DEFAULT '',
	logo_url              TEXT NOT NULL DEFAULT '',
	linkedin_url          TEXT NOT NULL DEFAULT '',
	democracy_portal_url  TEXT NOT NULL DEFAULT '',
	democracy_platform    TEXT NOT NULL DEFAULT '',
	board_papers_url      TEXT NOT NULL DEFAULT '',
	description           TEXT NOT NULL DEFAULT '',
	staff_count           INTEGER NOT NULL DEFAULT 0,
	annual_budget         REAL NOT NULL DEFAULT 0,
	transparency_page_url TEXT NOT NULL DEFAULT '',
	spend_file_urls       TEXT NOT NULL DEFAULT '[]',
	discovery_method      TEXT NOT NULL DEFAULT '',
	enrichment_sources    TEXT NOT NULL DEFAULT '[]',
	enrichment_score      INTEGER NOT NULL DEFAULT 0,
	enrichment_priority   TEXT NOT NULL DEFAULT '',
	enrichment_version    INTEGER NOT NULL DEFAULT 0,
	last_enriched_at      DATETIME,
	spend_data_ingested   BOOLEAN NOT NULL DEFAULT 0,
	spend_data_available  BOOLEAN NOT NULL DEFAULT 0,
	last_spend_ingest_at  DATETIME,
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_buyers_data_source ON buyers(data_source_id);

CREATE TABLE IF NOT EXISTS data_sources (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL UNIQUE,
	org_type             TEXT NOT NULL DEFAULT '',
	region               TEXT NOT NULL DEFAULT '',
	website              TEXT NOT NULL DEFAULT '',
	democracy_portal_url TEXT NOT NULL DEFAULT '',
	democracy_platform   TEXT NOT NULL DEFAULT '',
	board_papers_url     TEXT NOT NULL DEFAULT '',
	updated_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS board_documents (
	id                TEXT PRIMARY KEY,
	buyer_id          TEXT NOT NULL,
	source_url        TEXT NOT NULL,
	title             TEXT NOT NULL DEFAULT '',
	document_type     TEXT NOT NULL DEFAULT '',
	committee_name    TEXT NOT NULL DEFAULT '',
	meeting_date      DATETIME,
	content           TEXT NOT NULL DEFAULT '',
	extraction_status TEXT NOT NULL DEFAULT 'pending',
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL,
	UNIQUE (buyer_id, source_url)
);

CREATE TABLE IF NOT EXISTS key_personnel (
	id                TEXT PRIMARY KEY,
	buyer_id          TEXT NOT NULL,
	name              TEXT NOT NULL,
	title             TEXT NOT NULL DEFAULT '',
	role              TEXT NOT NULL DEFAULT '',
	department        TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	confidence        REAL NOT NULL DEFAULT 0,
	extraction_method TEXT NOT NULL DEFAULT '',
	source_url        TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL,
	UNIQUE (buyer_id, name)
);

CREATE TABLE IF NOT EXISTS spend_transactions (
	id                TEXT PRIMARY KEY,
	buyer_id          TEXT NOT NULL,
	date              DATETIME NOT NULL,
	amount            REAL NOT NULL,
	vendor            TEXT NOT NULL,
	vendor_normalized TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT 'Other',
	subcategory       TEXT NOT NULL DEFAULT '',
	department        TEXT NOT NULL DEFAULT '',
	reference         TEXT NOT NULL DEFAULT '',
	source_file       TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL,
	UNIQUE (buyer_id, date, vendor, amount, reference)
);

CREATE TABLE IF NOT EXISTS spend_summaries (
	buyer_id         TEXT PRIMARY KEY,
	summary          TEXT NOT NULL,
	last_computed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS contracts (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	release_id   TEXT NOT NULL,
	ocid         TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	buyer_name   TEXT NOT NULL DEFAULT '',
	buyer_org_id TEXT NOT NULL DEFAULT '',
	value        REAL NOT NULL DEFAULT 0,
	currency     TEXT NOT NULL DEFAULT '',
	stage        TEXT NOT NULL DEFAULT '',
	published_at DATETIME,
	updated_at   DATETIME NOT NULL,
	UNIQUE (source, release_id)
);

CREATE TABLE IF NOT EXISTS jobs (
	stage           TEXT PRIMARY KEY,
	worker          TEXT NOT NULL,
	status          TEXT NOT NULL,
	cursor          TEXT NOT NULL DEFAULT '',
	batch_size      INTEGER NOT NULL DEFAULT 0,
	total_processed INTEGER NOT NULL DEFAULT 0,
	total_errors    INTEGER NOT NULL DEFAULT 0,
	error_log       TEXT NOT NULL DEFAULT '[]',
	started_at      DATETIME NOT NULL,
	last_run_at     DATETIME,
	completed_at    DATETIME,
	version         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pipeline_errors (
	id          TEXT PRIMARY KEY,
	worker      TEXT NOT NULL,
	stage       TEXT NOT NULL,
	error_type  TEXT NOT NULL,
	message     TEXT NOT NULL,
	buyer_id    TEXT NOT NULL DEFAULT '',
	buyer_name  TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	resolved_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_pipeline_errors_worker_stage ON pipeline_errors(worker, stage);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Buyers ---

func (s *SQLiteStore) ListBuyers(ctx context.Context, q BuyerQuery) ([]model.Buyer, error) {
	if q.Limit <= 0 {
		return nil, eris.Errorf("sqlite: list buyers: limit must be positive, got %d", q.Limit)
	}
	a := &args{d: db.SQLite}
	where := buyerFilterSQL(a, q.Filter)
	if q.After != "" {
		where = append(where, "id > "+a.add(q.After))
	}
	query := fmt.Sprintf("SELECT %s FROM buyers%s ORDER BY id LIMIT %s",
		selectCols(db.SQLite, buyerCols), whereClause(where), a.add(q.Limit))

	rows, err := s.db.QueryContext(ctx, query, a.vals...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list buyers")
	}
	defer rows.Close()

	var buyers []model.Buyer
	for rows.Next() {
		b, err := scanBuyer(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan buyer")
		}
		buyers = append(buyers, *b)
	}
	return buyers, eris.Wrap(rows.Err(), "sqlite: iterate buyers")
}

func (s *SQLiteStore) GetBuyer(ctx context.Context, id string) (*model.Buyer, error) {
	b, err := scanBuyer(s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM buyers WHERE id = ?", selectCols(db.SQLite, buyerCols)), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get buyer %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get buyer %s", id)
	}
	return b, nil
}

func (s *SQLiteStore) UpdateBuyer(ctx context.Context, id string, patch model.BuyerPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	a := &args{d: db.SQLite}
	sets, err := buyerPatchSQL(a, patch)
	if err != nil {
		return err
	}
	sets = append(sets, "updated_at = "+a.add(nowUTC()))
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE buyers SET %s WHERE id = %s", joinSets(sets), a.add(id)), a.vals...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update buyer %s", id)
	}
	return checkRowsAffected(res, "buyer", id)
}

func (s *SQLiteStore) UpsertBuyer(ctx context.Context, b model.Buyer) (db.UpsertResult, error) {
	var out db.UpsertResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = db.UpsertSQLite(ctx, tx, buyerInsertSpec, buyerInsertRow(b, nowUTC())...)
		return err
	})
	return out, eris.Wrapf(err, "sqlite: upsert buyer %s", b.OrgID)
}

func (s *SQLiteStore) ResetFailedDiscovery(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE buyers SET discovery_method = '', updated_at = ? WHERE discovery_method = ?`,
		nowUTC(), model.DiscoveryFailed,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reset failed discovery")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// --- Reference catalog ---

func (s *SQLiteStore) UpsertDataSource(ctx context.Context, ds model.DataSource) (db.UpsertResult, error) {
	var out db.UpsertResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = db.UpsertSQLite(ctx, tx, dataSourceSpec, dataSourceRow(ds, nowUTC())...)
		return err
	})
	return out, eris.Wrapf(err, "sqlite: upsert data source %s", ds.Name)
}

func (s *SQLiteStore) ListDataSources(ctx context.Context) ([]model.DataSource, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM data_sources ORDER BY name", selectCols(db.SQLite, dataSourceCols)))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list data sources")
	}
	defer rows.Close()

	var out []model.DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan data source")
		}
		out = append(out, *ds)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate data sources")
}

func (s *SQLiteStore) GetDataSource(ctx context.Context, id string) (*model.DataSource, error) {
	ds, err := scanDataSource(s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM data_sources WHERE id = ?", selectCols(db.SQLite, dataSourceCols)), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get data source %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get data source %s", id)
	}
	return ds, nil
}

// --- Board documents ---

func (s *SQLiteStore) UpsertBoardDocuments(ctx context.Context, docs []model.BoardDocument) (WriteResult, error) {
	now := nowUTC()
	rows := make([][]any, len(docs))
	for i, d := range docs {
		rows[i] = boardDocRow(d, now)
	}
	res, err := s.upsertEach(ctx, boardDocSpec, rows)
	return res, eris.Wrap(err, "sqlite: upsert board documents")
}

func (s *SQLiteStore) ListBoardDocuments(ctx context.Context, buyerID string, limit int) ([]model.BoardDocument, error) {
	a := &args{d: db.SQLite}
	query := fmt.Sprintf("SELECT %s FROM board_documents WHERE buyer_id = %s ORDER BY meeting_date DESC NULLS LAST, created_at DESC",
		selectCols(db.SQLite, boardDocCols), a.add(buyerID))
	if limit > 0 {
		query += " LIMIT " + a.add(limit)
	}
	rows, err := s.db.QueryContext(ctx, query, a.vals...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list board documents %s", buyerID)
	}
	defer rows.Close()

	var out []model.BoardDocument
	for rows.Next() {
		d, err := scanBoardDoc(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan board document")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate board documents")
}

func (s *SQLiteStore) CountBoardDocuments(ctx context.Context, buyerID string) (int, error) {
	return s.count(ctx, "board_documents", buyerID)
}

// --- Key personnel ---

func (s *SQLiteStore) UpsertPersonnel(ctx context.Context, people []model.KeyPersonnel) (WriteResult, error) {
	now := nowUTC()
	rows := make([][]any, len(people))
	for i, p := range people {
		rows[i] = personnelRow(p, now)
	}
	res, err := s.upsertEach(ctx, personnelSpec, rows)
	return res, eris.Wrap(err, "sqlite: upsert personnel")
}

func (s *SQLiteStore) ListPersonnel(ctx context.Context, buyerID string, limit int) ([]model.KeyPersonnel, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM key_personnel WHERE buyer_id = ? ORDER BY confidence DESC, name", selectCols(db.SQLite, personnelCols)),
		buyerID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list personnel %s", buyerID)
	}
	defer rows.Close()

	var people []model.KeyPersonnel
	for rows.Next() {
		p, err := scanPersonnel(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan personnel")
		}
		people = append(people, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate personnel")
	}
	return model.RankPersonnel(people, limit), nil
}

func (s *SQLiteStore) CountPersonnel(ctx context.Context, buyerID string) (int, error) {
	return s.count(ctx, "key_personnel", buyerID)
}

// --- Spend ---

func (s *SQLiteStore) UpsertSpendTransactions(ctx context.Context, txns []model.SpendTransaction) (WriteResult, error) {
	now := nowUTC()
	rows := make([][]any, len(txns))
	for i, t := range txns {
		rows[i] = spendRow(t, now)
	}
	res, err := s.upsertEach(ctx, spendSpec, rows)
	return res, eris.Wrap(err, "sqlite: upsert spend transactions")
}

func (s *SQLiteStore) ListSpendTransactions(ctx context.Context, buyerID string) ([]model.SpendTransaction, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM spend_transactions WHERE buyer_id = ? ORDER BY date, id", selectCols(db.SQLite, spendCols)),
		buyerID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list spend transactions %s", buyerID)
	}
	defer rows.Close()

	var out []model.SpendTransaction
	for rows.Next() {
		t, err := scanSpend(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan spend transaction")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate spend transactions")
}

func (s *SQLiteStore) UpsertSpendSummary(ctx context.Context, sum model.SpendSummary) error {
	raw, err := jsonArg(db.SQLite, sum)
	if err != nil {
		return err
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := db.UpsertSQLite(ctx, tx, summarySpec, sum.BuyerID, raw, sum.LastComputedAt.UTC())
		return err
	})
	return eris.Wrapf(err, "sqlite: upsert spend summary %s", sum.BuyerID)
}

func (s *SQLiteStore) GetSpendSummary(ctx context.Context, buyerID string) (*model.SpendSummary, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT summary FROM spend_summaries WHERE buyer_id = ?`, buyerID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get spend summary %s", buyerID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get spend summary %s", buyerID)
	}
	var sum model.SpendSummary
	if err := json.Unmarshal([]byte(raw), &sum); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal spend summary")
	}
	return &sum, nil
}

// --- Contracts ---

func (s *SQLiteStore) UpsertContracts(ctx context.Context, cs []model.Contract) (WriteResult, error) {
	now := nowUTC()
	rows := make([][]any, len(cs))
	for i, c := range cs {
		rows[i] = contractRow(c, now)
	}
	res, err := s.upsertEach(ctx, contractSpec, rows)
	return res, eris.Wrap(err, "sqlite: upsert contracts")
}

// --- Jobs ---

func (s *SQLiteStore) GetOrCreateJob(ctx context.Context, stage model.Stage) (*model.Job, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (stage, worker, status, cursor, batch_size, total_processed, total_errors, error_log, started_at, version)
		 VALUES (?, ?, ?, '', 0, 0, 0, '[]', ?, 0) ON CONFLICT (stage) DO NOTHING`,
		string(stage), string(model.WorkerOf(stage)), string(model.JobRunning), nowUTC(),
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: create job %s", stage)
	}
	j, err := scanJob(s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM jobs WHERE stage = ?", selectCols(db.SQLite, jobCols)), string(stage)))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", stage)
	}
	return j, nil
}

func (s *SQLiteStore) SaveJob(ctx context.Context, job *model.Job) error {
	errorLog, err := jsonArg(db.SQLite, nonNil(job.ErrorLog))
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET worker = ?, status = ?, cursor = ?, batch_size = ?, total_processed = ?, total_errors = ?,
		 error_log = ?, started_at = ?, last_run_at = ?, completed_at = ?, version = version + 1
		 WHERE stage = ? AND version = ?`,
		string(job.Worker), string(job.Status), job.Cursor, job.BatchSize,
		job.TotalProcessed, job.TotalErrors, errorLog, job.StartedAt.UTC(),
		nullTime(job.LastRunAt), nullTime(job.CompletedAt),
		string(job.Stage), job.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save job %s", job.Stage)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrVersionConflict, "sqlite: save job %s at version %d", job.Stage, job.Version)
	}
	job.Version++
	return nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, worker model.Worker) ([]model.Job, error) {
	a := &args{d: db.SQLite}
	query := fmt.Sprintf("SELECT %s FROM jobs", selectCols(db.SQLite, jobCols))
	if worker != "" {
		query += " WHERE worker = " + a.add(string(worker))
	}
	query += " ORDER BY worker, stage"

	rows, err := s.db.QueryContext(ctx, query, a.vals...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: iterate jobs")
}

// --- Pipeline errors ---

func (s *SQLiteStore) InsertPipelineError(ctx context.Context, e model.PipelineError) error {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_errors (id, worker, stage, error_type, message, buyer_id, buyer_name, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Worker), string(e.Stage), string(e.ErrorType),
		truncateMessage(e.Message), e.BuyerID, e.BuyerName, e.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert pipeline error")
}

func (s *SQLiteStore) ListPipelineErrors(ctx context.Context, f model.ErrorFilter) ([]model.PipelineError, error) {
	a := &args{d: db.SQLite}
	query := fmt.Sprintf("SELECT %s FROM pipeline_errors%s ORDER BY created_at DESC, id",
		selectCols(db.SQLite, pipelineErrorCols), whereClause(errorFilterSQL(a, f)))
	query += " LIMIT " + a.add(listLimit(f.Limit))
	if f.Offset > 0 {
		query += " OFFSET " + a.add(f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, a.vals...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pipeline errors")
	}
	defer rows.Close()

	var out []model.PipelineError
	for rows.Next() {
		e, err := scanPipelineError(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pipeline error")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate pipeline errors")
}

func (s *SQLiteStore) CountPipelineErrors(ctx context.Context, f model.ErrorFilter) (int, error) {
	a := &args{d: db.SQLite}
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pipeline_errors"+whereClause(errorFilterSQL(a, f)), a.vals...).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count pipeline errors")
}

func (s *SQLiteStore) ResolvePipelineErrors(ctx context.Context, ids []string, f model.ErrorFilter) (int, error) {
	a := &args{d: db.SQLite}
	sets := "resolved_at = " + a.add(nowUTC())
	where := []string{"resolved_at IS NULL"}
	if len(ids) > 0 {
		ph := make([]string, len(ids))
		for i, id := range ids {
			ph[i] = a.add(id)
		}
		where = append(where, "id IN ("+strings.Join(ph, ", ")+")")
	} else {
		f.Resolved = nil
		where = append(where, errorFilterSQL(a, f)...)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE pipeline_errors SET "+sets+whereClause(where), a.vals...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: resolve pipeline errors")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// --- Settings ---

func (s *SQLiteStore) GetSetting(ctx context.Context, key string, dst any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: get setting %s", key)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, eris.Wrapf(err, "sqlite: unmarshal setting %s", key)
	}
	return true, nil
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key string, value any) error {
	raw, err := jsonArg(db.SQLite, value)
	if err != nil {
		return err
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := db.UpsertSQLite(ctx, tx, settingSpec, key, raw, nowUTC())
		return err
	})
	return eris.Wrapf(err, "sqlite: set setting %s", key)
}

// --- Counts ---

func (s *SQLiteStore) Counts(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int, len(tables))
	for _, t := range tables {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+pgx.Identifier{t}.Sanitize()).Scan(&n); err != nil {
			return nil, eris.Wrapf(err, "sqlite: count %s", t)
		}
		out[t] = n
	}
	return out, nil
}

func (s *SQLiteStore) count(ctx context.Context, table, buyerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE buyer_id = ?", pgx.Identifier{table}.Sanitize()), buyerID,
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count %s for %s", table, buyerID)
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func (s *SQLiteStore) upsertEach(ctx context.Context, spec db.UpsertSpec, rows [][]any) (WriteResult, error) {
	var out WriteResult
	if len(rows) == 0 {
		return out, nil
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, row := range rows {
			res, err := db.UpsertSQLite(ctx, tx, spec, row...)
			if err != nil {
				return err
			}
			out.Add(res)
		}
		return nil
	})
	if err != nil {
		return WriteResult{}, err
	}
	return out, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", entity, id)
	}
	return nil
}
