// Package store persists buyers, stage jobs, and everything the pipeline
// derives from them. Postgres is the production backend; SQLite backs local
// runs and tests.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/k1p1l0/tendhunt-sub005/internal/config"
	"github.com/k1p1l0/tendhunt-sub005/internal/db"
	"github.com/k1p1l0/tendhunt-sub005/internal/model"
)

var (
	// ErrNotFound is returned when a keyed lookup matches no row.
	ErrNotFound = eris.New("store: not found")
	// ErrVersionConflict is returned when a job was saved concurrently by
	// another invocation. The caller must abort without retrying the write.
	ErrVersionConflict = eris.New("store: job version conflict")
)

// BuyerQuery selects one cursor page of buyers, ordered by id.
type BuyerQuery struct {
	After  string
	Limit  int
	Filter model.BuyerFilter
}

// WriteResult counts rows inserted and modified by a batch write.
type WriteResult = db.BulkResult

// Store defines the persistence interface for the pipeline.
type Store interface {
	// Buyers
	ListBuyers(ctx context.Context, q BuyerQuery) ([]model.Buyer, error)
	GetBuyer(ctx context.Context, id string) (*model.Buyer, error)
	UpdateBuyer(ctx context.Context, id string, patch model.BuyerPatch) error
	// UpsertBuyer matches on org id; name, sector and region are only set on insert.
	UpsertBuyer(ctx context.Context, b model.Buyer) (db.UpsertResult, error)
	ResetFailedDiscovery(ctx context.Context) (int, error)

	// Reference catalog
	UpsertDataSource(ctx context.Context, ds model.DataSource) (db.UpsertResult, error)
	ListDataSources(ctx context.Context) ([]model.DataSource, error)
	GetDataSource(ctx context.Context, id string) (*model.DataSource, error)

	// Board documents
	UpsertBoardDocuments(ctx context.Context, docs []model.BoardDocument) (WriteResult, error)
	ListBoardDocuments(ctx context.Context, buyerID string, limit int) ([]model.BoardDocument, error)
	CountBoardDocuments(ctx context.Context, buyerID string) (int, error)

	// Key personnel
	UpsertPersonnel(ctx context.Context, people []model.KeyPersonnel) (WriteResult, error)
	// ListPersonnel returns people ranked by role priority then confidence.
	ListPersonnel(ctx context.Context, buyerID string, limit int) ([]model.KeyPersonnel, error)
	CountPersonnel(ctx context.Context, buyerID string) (int, error)

	// Spend
	UpsertSpendTransactions(ctx context.Context, txns []model.SpendTransaction) (WriteResult, error)
	ListSpendTransactions(ctx context.Context, buyerID string) ([]model.SpendTransaction, error)
	UpsertSpendSummary(ctx context.Context, s model.SpendSummary) error
	GetSpendSummary(ctx context.Context, buyerID string) (*model.SpendSummary, error)

	// Contracts
	UpsertContracts(ctx context.Context, cs []model.Contract) (WriteResult, error)

	// Jobs
	GetOrCreateJob(ctx context.Context, stage model.Stage) (*model.Job, error)
	// SaveJob writes job if its version is unchanged since it was read and
	// bumps job.Version. Returns ErrVersionConflict otherwise.
	SaveJob(ctx context.Context, job *model.Job) error
	ListJobs(ctx context.Context, worker model.Worker) ([]model.Job, error)

	// Pipeline errors
	InsertPipelineError(ctx context.Context, e model.PipelineError) error
	ListPipelineErrors(ctx context.Context, f model.ErrorFilter) ([]model.PipelineError, error)
	CountPipelineErrors(ctx context.Context, f model.ErrorFilter) (int, error)
	// ResolvePipelineErrors resolves the given ids, or every unresolved
	// error matching f when ids is empty.
	ResolvePipelineErrors(ctx context.Context, ids []string, f model.ErrorFilter) (int, error)

	// Settings
	GetSetting(ctx context.Context, key string, dst any) (bool, error)
	SetSetting(ctx context.Context, key string, value any) error

	// Counts returns row counts per table for the debug endpoint.
	Counts(ctx context.Context) (map[string]int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the backend named by cfg.Driver. For SQLite the database
// URL is a file path.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		st, err := NewSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres", "":
		if cfg.DatabaseURL == "" {
			return nil, eris.New("store: database_url is required for postgres")
		}
		st, err := NewPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
