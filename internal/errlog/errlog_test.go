package errlog

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "errlog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

type failingStore struct {
	store.Store
}

func (failingStore) InsertPipelineError(context.Context, model.PipelineError) error {
	return errors.New("database is locked")
}

func TestReport_SwallowsStoreFailure(t *testing.T) {
	r := New(failingStore{})
	assert.NotPanics(t, func() {
		r.Report(context.Background(), Entry{Worker: model.WorkerEnrichment, Stage: model.StageScrape, Message: "x"})
	})
}

func TestReportErr_DerivesType(t *testing.T) {
	st := newTestStore(t)
	r := New(st)
	ctx := context.Background()

	buyer := &model.Buyer{ID: "b1", Name: "Camden"}
	r.ReportErr(ctx, model.StageWebsiteDiscovery, buyer, resilience.FromHTTPStatus("jina", 429, "slow down"))
	r.ReportErr(ctx, model.StageSpendIngest, nil, resilience.NewExternalError("spend", model.ErrParse, errors.New("bad csv")))
	r.ReportErr(ctx, model.StageScore, nil, nil)

	list, err := r.List(ctx, model.ErrorFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)

	byStage := map[model.Stage]model.PipelineError{}
	for _, e := range list {
		byStage[e.Stage] = e
	}
	disc := byStage[model.StageWebsiteDiscovery]
	assert.Equal(t, model.ErrRateLimited, disc.ErrorType)
	assert.Equal(t, model.WorkerEnrichment, disc.Worker)
	assert.Equal(t, "b1", disc.BuyerID)
	assert.Equal(t, "Camden", disc.BuyerName)

	spend := byStage[model.StageSpendIngest]
	assert.Equal(t, model.ErrParse, spend.ErrorType)
	assert.Equal(t, model.WorkerSpendIngest, spend.Worker)
}

func TestReport_TruncatesMessage(t *testing.T) {
	st := newTestStore(t)
	r := New(st)
	ctx := context.Background()

	r.Report(ctx, Entry{Worker: model.WorkerEnrichment, Stage: model.StageScrape, Message: strings.Repeat("e", 5000)})

	list, err := r.List(ctx, model.ErrorFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Message, model.MaxErrorMessage)
	assert.Equal(t, model.ErrUnknown, list[0].ErrorType)
}

func TestResolve(t *testing.T) {
	st := newTestStore(t)
	r := New(st)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r.Report(ctx, Entry{Worker: model.WorkerEnrichment, Stage: model.StageScrape, Type: model.ErrTimeout, Message: "t"})
	}
	r.Report(ctx, Entry{Worker: model.WorkerDataSync, Stage: model.StageSyncFindTender, Type: model.ErrParse, Message: "p"})

	_, err := r.Resolve(ctx, nil, model.ErrorFilter{})
	require.Error(t, err)

	n, err := r.UnresolvedCount(ctx, model.ErrorFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = r.Resolve(ctx, nil, model.ErrorFilter{Stage: model.StageScrape})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = r.UnresolvedCount(ctx, model.ErrorFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := r.List(ctx, model.ErrorFilter{Worker: model.WorkerDataSync})
	require.NoError(t, err)
	require.Len(t, list, 1)
	n, err = r.Resolve(ctx, []string{list[0].ID}, model.ErrorFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
