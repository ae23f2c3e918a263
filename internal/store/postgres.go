package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/k1p1l0/tendhunt-sub005/internal/config"
	"github.com/k1p1l0/tendhunt-sub005/internal/db"
	"github.com/k1p1l0/tendhunt-sub005/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

const (
	sqlGetJob = `SELECT stage, worker, status, cursor, batch_size, total_processed, total_errors, error_log::text, started_at, last_run_at, completed_at, version FROM jobs WHERE stage = $1`

	sqlInsertJob = `INSERT INTO jobs (stage, worker, status, cursor, batch_size, total_processed, total_errors, error_log, started_at, version) VALUES ($1, $2, $3, '', 0, 0, 0, '[]', $4, 0) ON CONFLICT (stage) DO NOTHING`

	sqlSaveJob = `UPDATE jobs SET worker = $1, status = $2, cursor = $3, batch_size = $4, total_processed = $5, total_errors = $6, error_log = $7, started_at = $8, last_run_at = $9, completed_at = $10, version = version + 1 WHERE stage = $11 AND version = $12`

	sqlInsertPipelineError = `INSERT INTO pipeline_errors (id, worker, stage, error_type, message, buyer_id, buyer_name, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
)

// preparedStatements lists queries to prepare on each new connection. Every
// runner invocation touches these.
var preparedStatements = map[string]string{
	"get_job":               sqlGetJob,
	"insert_job":            sqlInsertJob,
	"save_job":              sqlSaveJob,
	"insert_pipeline_error": sqlInsertPipelineError,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, cfg config.StoreConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if cfg.MaxConns > 0 {
		maxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		minConns = cfg.MinConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS buyers (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
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
	annual_budget         DOUBLE PRECISION NOT NULL DEFAULT 0,
	transparency_page_url TEXT NOT NULL DEFAULT '',
	spend_file_urls       JSONB NOT NULL DEFAULT '[]',
	discovery_method      TEXT NOT NULL DEFAULT '',
	enrichment_sources    JSONB NOT NULL DEFAULT '[]',
	enrichment_score      INTEGER NOT NULL DEFAULT 0,
	enrichment_priority   TEXT NOT NULL DEFAULT '',
	enrichment_version    INTEGER NOT NULL DEFAULT 0,
	last_enriched_at      TIMESTAMPTZ,
	spend_data_ingested   BOOLEAN NOT NULL DEFAULT false,
	spend_data_available  BOOLEAN NOT NULL DEFAULT false,
	last_spend_ingest_at  TIMESTAMPTZ,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_buyers_data_source ON buyers(data_source_id);
CREATE INDEX IF NOT EXISTS idx_buyers_platform ON buyers(democracy_platform);

CREATE TABLE IF NOT EXISTS data_sources (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name                 TEXT NOT NULL UNIQUE,
	org_type             TEXT NOT NULL DEFAULT '',
	region               TEXT NOT NULL DEFAULT '',
	website              TEXT NOT NULL DEFAULT '',
	democracy_portal_url TEXT NOT NULL DEFAULT '',
	democracy_platform   TEXT NOT NULL DEFAULT '',
	board_papers_url     TEXT NOT NULL DEFAULT '',
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS board_documents (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	buyer_id          TEXT NOT NULL,
	source_url        TEXT NOT NULL,
	title             TEXT NOT NULL DEFAULT '',
	document_type     TEXT NOT NULL DEFAULT '',
	committee_name    TEXT NOT NULL DEFAULT '',
	meeting_date      TIMESTAMPTZ,
	content           TEXT NOT NULL DEFAULT '',
	extraction_status TEXT NOT NULL DEFAULT 'pending',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (buyer_id, source_url)
);

CREATE TABLE IF NOT EXISTS key_personnel (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	buyer_id          TEXT NOT NULL,
	name              TEXT NOT NULL,
	title             TEXT NOT NULL DEFAULT '',
	role              TEXT NOT NULL DEFAULT '',
	department        TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
	extraction_method TEXT NOT NULL DEFAULT '',
	source_url        TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (buyer_id, name)
);

CREATE TABLE IF NOT EXISTS spend_transactions (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	buyer_id          TEXT NOT NULL,
	date              TIMESTAMPTZ NOT NULL,
	amount            DOUBLE PRECISION NOT NULL,
	vendor            TEXT NOT NULL,
	vendor_normalized TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT 'Other',
	subcategory       TEXT NOT NULL DEFAULT '',
	department        TEXT NOT NULL DEFAULT '',
	reference         TEXT NOT NULL DEFAULT '',
	source_file       TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (buyer_id, date, vendor, amount, reference)
);

CREATE TABLE IF NOT EXISTS spend_summaries (
	buyer_id         TEXT PRIMARY KEY,
	summary          JSONB NOT NULL,
	last_computed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS contracts (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source       TEXT NOT NULL,
	release_id   TEXT NOT NULL,
	ocid         TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	buyer_name   TEXT NOT NULL DEFAULT '',
	buyer_org_id TEXT NOT NULL DEFAULT '',
	value        DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency     TEXT NOT NULL DEFAULT '',
	stage        TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	error_log       JSONB NOT NULL DEFAULT '[]',
	started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_run_at     TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ,
	version         BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pipeline_errors (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	worker      TEXT NOT NULL,
	stage       TEXT NOT NULL,
	error_type  TEXT NOT NULL,
	message     TEXT NOT NULL,
	buyer_id    TEXT NOT NULL DEFAULT '',
	buyer_name  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_pipeline_errors_unresolved ON pipeline_errors(worker, stage) WHERE resolved_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_pipeline_errors_created ON pipeline_errors(created_at DESC);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Buyers ---

func (s *PostgresStore) ListBuyers(ctx context.Context, q BuyerQuery) ([]model.Buyer, error) {
	if q.Limit <= 0 {
		return nil, eris.Errorf("postgres: list buyers: limit must be positive, got %d", q.Limit)
	}
	a := &args{d: db.Postgres}
	where := buyerFilterSQL(a, q.Filter)
	if q.After != "" {
		where = append(where, "id > "+a.add(q.After))
	}
	query := fmt.Sprintf("SELECT %s FROM buyers%s ORDER BY id LIMIT %s",
		selectCols(db.Postgres, buyerCols, buyerJSONCols...), whereClause(where), a.add(q.Limit))

	rows, err := s.pool.Query(ctx, query, a.vals...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list buyers")
	}
	defer rows.Close()

	var buyers []model.Buyer
	for rows.Next() {
		b, err := scanBuyer(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan buyer")
		}
		buyers = append(buyers, *b)
	}
	return buyers, eris.Wrap(rows.Err(), "postgres: iterate buyers")
}

func (s *PostgresStore) GetBuyer(ctx context.Context, id string) (*model.Buyer, error) {
	query := fmt.Sprintf("SELECT %s FROM buyers WHERE id = $1", selectCols(db.Postgres, buyerCols, buyerJSONCols...))
	b, err := scanBuyer(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get buyer %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get buyer %s", id)
	}
	return b, nil
}

func (s *PostgresStore) UpdateBuyer(ctx context.Context, id string, patch model.BuyerPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	a := &args{d: db.Postgres}
	sets, err := buyerPatchSQL(a, patch)
	if err != nil {
		return err
	}
	sets = append(sets, "updated_at = "+a.add(nowUTC()))
	query := fmt.Sprintf("UPDATE buyers SET %s WHERE id = %s", joinSets(sets), a.add(id))

	tag, err := s.pool.Exec(ctx, query, a.vals...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update buyer %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: update buyer %s", id)
	}
	return nil
}

func (s *PostgresStore) UpsertBuyer(ctx context.Context, b model.Buyer) (db.UpsertResult, error) {
	res, err := db.Upsert(ctx, s.pool, buyerInsertSpec, buyerInsertRow(b, nowUTC())...)
	return res, eris.Wrapf(err, "postgres: upsert buyer %s", b.OrgID)
}

func (s *PostgresStore) ResetFailedDiscovery(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE buyers SET discovery_method = '', updated_at = $1 WHERE discovery_method = $2`,
		nowUTC(), model.DiscoveryFailed,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reset failed discovery")
	}
	return int(tag.RowsAffected()), nil
}

// --- Reference catalog ---

func (s *PostgresStore) UpsertDataSource(ctx context.Context, ds model.DataSource) (db.UpsertResult, error) {
	res, err := db.Upsert(ctx, s.pool, dataSourceSpec, dataSourceRow(ds, nowUTC())...)
	return res, eris.Wrapf(err, "postgres: upsert data source %s", ds.Name)
}

func (s *PostgresStore) ListDataSources(ctx context.Context) ([]model.DataSource, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT %s FROM data_sources ORDER BY name", selectCols(db.Postgres, dataSourceCols)))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list data sources")
	}
	defer rows.Close()

	var out []model.DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan data source")
		}
		out = append(out, *ds)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate data sources")
}

func (s *PostgresStore) GetDataSource(ctx context.Context, id string) (*model.DataSource, error) {
	ds, err := scanDataSource(s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM data_sources WHERE id = $1", selectCols(db.Postgres, dataSourceCols)), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get data source %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get data source %s", id)
	}
	return ds, nil
}

// --- Board documents ---

func (s *PostgresStore) UpsertBoardDocuments(ctx context.Context, docs []model.BoardDocument) (WriteResult, error) {
	now := nowUTC()
	rows := make([][]any, len(docs))
	for i, d := range docs {
		rows[i] = boardDocRow(d, now)
	}
	res, err := s.upsertEach(ctx, boardDocSpec, rows)
	return res, eris.Wrap(err, "postgres: upsert board documents")
}

func (s *PostgresStore) ListBoardDocuments(ctx context.Context, buyerID string, limit int) ([]model.BoardDocument, error) {
	a := &args{d: db.Postgres}
	query := fmt.Sprintf("SELECT %s FROM board_documents WHERE buyer_id = %s ORDER BY meeting_date DESC NULLS LAST, created_at DESC",
		selectCols(db.Postgres, boardDocCols), a.add(buyerID))
	if limit > 0 {
		query += " LIMIT " + a.add(limit)
	}
	rows, err := s.pool.Query(ctx, query, a.vals...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list board documents %s", buyerID)
	}
	defer rows.Close()

	var out []model.BoardDocument
	for rows.Next() {
		d, err := scanBoardDoc(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan board document")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate board documents")
}

func (s *PostgresStore) CountBoardDocuments(ctx context.Context, buyerID string) (int, error) {
	return s.count(ctx, "board_documents", buyerID)
}

// --- Key personnel ---

func (s *PostgresStore) UpsertPersonnel(ctx context.Context, people []model.KeyPersonnel) (WriteResult, error) {
	now := nowUTC()
	rows := make([][]any, len(people))
	for i, p := range people {
		rows[i] = personnelRow(p, now)
	}
	res, err := s.upsertEach(ctx, personnelSpec, rows)
	return res, eris.Wrap(err, "postgres: upsert personnel")
}

func (s *PostgresStore) ListPersonnel(ctx context.Context, buyerID string, limit int) ([]model.KeyPersonnel, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT %s FROM key_personnel WHERE buyer_id = $1 ORDER BY confidence DESC, name", selectCols(db.Postgres, personnelCols)),
		buyerID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list personnel %s", buyerID)
	}
	defer rows.Close()

	var people []model.KeyPersonnel
	for rows.Next() {
		p, err := scanPersonnel(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan personnel")
		}
		people = append(people, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate personnel")
	}
	return model.RankPersonnel(people, limit), nil
}

func (s *PostgresStore) CountPersonnel(ctx context.Context, buyerID string) (int, error) {
	return s.count(ctx, "key_personnel", buyerID)
}

// --- Spend ---

func (s *PostgresStore) UpsertSpendTransactions(ctx context.Context, txns []model.SpendTransaction) (WriteResult, error) {
	now := nowUTC()
	rows := make([][]any, len(txns))
	for i, t := range txns {
		rows[i] = spendRow(t, now)
	}
	res, err := db.BulkUpsert(ctx, s.pool, spendSpec, rows)
	return res, eris.Wrap(err, "postgres: upsert spend transactions")
}

func (s *PostgresStore) ListSpendTransactions(ctx context.Context, buyerID string) ([]model.SpendTransaction, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT %s FROM spend_transactions WHERE buyer_id = $1 ORDER BY date, id", selectCols(db.Postgres, spendCols)),
		buyerID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list spend transactions %s", buyerID)
	}
	defer rows.Close()

	var out []model.SpendTransaction
	for rows.Next() {
		t, err := scanSpend(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan spend transaction")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate spend transactions")
}

func (s *PostgresStore) UpsertSpendSummary(ctx context.Context, sum model.SpendSummary) error {
	raw, err := jsonArg(db.Postgres, sum)
	if err != nil {
		return err
	}
	_, err = db.Upsert(ctx, s.pool, summarySpec, sum.BuyerID, raw, sum.LastComputedAt.UTC())
	return eris.Wrapf(err, "postgres: upsert spend summary %s", sum.BuyerID)
}

func (s *PostgresStore) GetSpendSummary(ctx context.Context, buyerID string) (*model.SpendSummary, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `SELECT summary::text FROM spend_summaries WHERE buyer_id = $1`, buyerID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get spend summary %s", buyerID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get spend summary %s", buyerID)
	}
	var sum model.SpendSummary
	if err := json.Unmarshal([]byte(raw), &sum); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal spend summary")
	}
	return &sum, nil
}

// --- Contracts ---

func (s *PostgresStore) UpsertContracts(ctx context.Context, cs []model.Contract) (WriteResult, error) {
	now := nowUTC()
	rows := make([][]any, len(cs))
	for i, c := range cs {
		rows[i] = contractRow(c, now)
	}
	res, err := db.BulkUpsert(ctx, s.pool, contractSpec, rows)
	return res, eris.Wrap(err, "postgres: upsert contracts")
}

// --- Jobs ---

func (s *PostgresStore) GetOrCreateJob(ctx context.Context, stage model.Stage) (*model.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, sqlGetJob, string(stage)))
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "postgres: get job %s", stage)
	}

	if _, err := s.pool.Exec(ctx, sqlInsertJob,
		string(stage), string(model.WorkerOf(stage)), string(model.JobRunning), nowUTC(),
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: create job %s", stage)
	}

	j, err = scanJob(s.pool.QueryRow(ctx, sqlGetJob, string(stage)))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", stage)
	}
	return j, nil
}

func (s *PostgresStore) SaveJob(ctx context.Context, job *model.Job) error {
	errorLog, err := jsonArg(db.Postgres, nonNil(job.ErrorLog))
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, sqlSaveJob,
		string(job.Worker), string(job.Status), job.Cursor, job.BatchSize,
		job.TotalProcessed, job.TotalErrors, errorLog, job.StartedAt.UTC(),
		nullTime(job.LastRunAt), nullTime(job.CompletedAt),
		string(job.Stage), job.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save job %s", job.Stage)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrVersionConflict, "postgres: save job %s at version %d", job.Stage, job.Version)
	}
	job.Version++
	return nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, worker model.Worker) ([]model.Job, error) {
	a := &args{d: db.Postgres}
	query := fmt.Sprintf("SELECT %s FROM jobs", selectCols(db.Postgres, jobCols, "error_log"))
	if worker != "" {
		query += " WHERE worker = " + a.add(string(worker))
	}
	query += " ORDER BY worker, stage"

	rows, err := s.pool.Query(ctx, query, a.vals...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: iterate jobs")
}

// --- Pipeline errors ---

func (s *PostgresStore) InsertPipelineError(ctx context.Context, e model.PipelineError) error {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = nowUTC()
	}
	_, err := s.pool.Exec(ctx, sqlInsertPipelineError,
		e.ID, string(e.Worker), string(e.Stage), string(e.ErrorType),
		truncateMessage(e.Message), e.BuyerID, e.BuyerName, e.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert pipeline error")
}

func (s *PostgresStore) ListPipelineErrors(ctx context.Context, f model.ErrorFilter) ([]model.PipelineError, error) {
	a := &args{d: db.Postgres}
	query := fmt.Sprintf("SELECT %s FROM pipeline_errors%s ORDER BY created_at DESC, id",
		selectCols(db.Postgres, pipelineErrorCols), whereClause(errorFilterSQL(a, f)))
	query += " LIMIT " + a.add(listLimit(f.Limit))
	if f.Offset > 0 {
		query += " OFFSET " + a.add(f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, a.vals...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pipeline errors")
	}
	defer rows.Close()

	var out []model.PipelineError
	for rows.Next() {
		e, err := scanPipelineError(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan pipeline error")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate pipeline errors")
}

func (s *PostgresStore) CountPipelineErrors(ctx context.Context, f model.ErrorFilter) (int, error) {
	a := &args{d: db.Postgres}
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM pipeline_errors"+whereClause(errorFilterSQL(a, f)), a.vals...).Scan(&n)
	return n, eris.Wrap(err, "postgres: count pipeline errors")
}

func (s *PostgresStore) ResolvePipelineErrors(ctx context.Context, ids []string, f model.ErrorFilter) (int, error) {
	a := &args{d: db.Postgres}
	sets := "resolved_at = " + a.add(nowUTC())
	where := []string{"resolved_at IS NULL"}
	if len(ids) > 0 {
		where = append(where, "id = ANY("+a.add(ids)+")")
	} else {
		f.Resolved = nil
		where = append(where, errorFilterSQL(a, f)...)
	}
	tag, err := s.pool.Exec(ctx, "UPDATE pipeline_errors SET "+sets+whereClause(where), a.vals...)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: resolve pipeline errors")
	}
	return int(tag.RowsAffected()), nil
}

// --- Settings ---

func (s *PostgresStore) GetSetting(ctx context.Context, key string, dst any) (bool, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `SELECT value::text FROM settings WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: get setting %s", key)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, eris.Wrapf(err, "postgres: unmarshal setting %s", key)
	}
	return true, nil
}

func (s *PostgresStore) SetSetting(ctx context.Context, key string, value any) error {
	raw, err := jsonArg(db.Postgres, value)
	if err != nil {
		return err
	}
	_, err = db.Upsert(ctx, s.pool, settingSpec, key, raw, nowUTC())
	return eris.Wrapf(err, "postgres: set setting %s", key)
}

// --- Counts ---

func (s *PostgresStore) Counts(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int, len(tables))
	for _, t := range tables {
		var n int
		if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgx.Identifier{t}.Sanitize()).Scan(&n); err != nil {
			return nil, eris.Wrapf(err, "postgres: count %s", t)
		}
		out[t] = n
	}
	return out, nil
}

func (s *PostgresStore) count(ctx context.Context, table, buyerID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE buyer_id = $1", pgx.Identifier{table}.Sanitize()), buyerID,
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count %s for %s", table, buyerID)
}

// upsertEach writes rows one statement at a time inside a single transaction
// so every row reports inserted vs modified.
func (s *PostgresStore) upsertEach(ctx context.Context, spec db.UpsertSpec, rows [][]any) (WriteResult, error) {
	if len(rows) == 0 {
		return WriteResult{}, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return WriteResult{}, eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx)

	var out WriteResult
	for _, row := range rows {
		res, err := db.Upsert(ctx, tx, spec, row...)
		if err != nil {
			return WriteResult{}, err
		}
		out.Add(res)
	}
	if err := tx.Commit(ctx); err != nil {
		return WriteResult{}, eris.Wrap(err, "postgres: commit tx")
	}
	return out, nil
}
