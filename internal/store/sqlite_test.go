package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedBuyers(t *testing.T, st Store, buyers ...model.Buyer) {
	t.Helper()
	for _, b := range buyers {
		res, err := st.UpsertBuyer(context.Background(), b)
		require.NoError(t, err)
		require.True(t, res.Inserted, "buyer %s should be new", b.OrgID)
	}
}

// --- Buyers ---

func TestSQLite_UpsertBuyer_SetOnInsertOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedBuyers(t, st, model.Buyer{ID: "b1", OrgID: "GB-1", Name: "Camden Council", Sector: "local"})

	res, err := st.UpsertBuyer(ctx, model.Buyer{OrgID: "GB-1", Name: "Renamed"})
	require.NoError(t, err)
	assert.False(t, res.Changed())

	b, err := st.GetBuyer(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "Camden Council", b.Name)
	assert.Equal(t, "local", b.Sector)
	assert.Equal(t, []string{}, b.EnrichmentSources)
}

func TestSQLite_GetBuyer_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetBuyer(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_UpdateBuyer(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedBuyers(t, st, model.Buyer{ID: "b1", OrgID: "GB-1", Name: "Leeds"})

	site := "https://leeds.gov.uk"
	ingested := true
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpdateBuyer(ctx, "b1", model.BuyerPatch{
		Website:           &site,
		EnrichmentSources: []string{model.SourceSearch},
		SpendDataIngested: &ingested,
		LastEnrichedAt:    &now,
	}))

	b, err := st.GetBuyer(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, site, b.Website)
	assert.Equal(t, []string{model.SourceSearch}, b.EnrichmentSources)
	assert.True(t, b.SpendDataIngested)
	require.NotNil(t, b.LastEnrichedAt)
	assert.True(t, now.Equal(*b.LastEnrichedAt))

	err = st.UpdateBuyer(ctx, "nope", model.BuyerPatch{Website: &site})
	assert.True(t, errors.Is(err, ErrNotFound))

	// Empty patches are a no-op, even for unknown ids.
	assert.NoError(t, st.UpdateBuyer(ctx, "nope", model.BuyerPatch{}))
}

func TestSQLite_ListBuyers_CursorPaging(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedBuyers(t, st,
		model.Buyer{ID: "a", OrgID: "1", Name: "A"},
		model.Buyer{ID: "b", OrgID: "2", Name: "B"},
		model.Buyer{ID: "c", OrgID: "3", Name: "C"},
	)

	page, err := st.ListBuyers(ctx, BuyerQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].ID)
	assert.Equal(t, "b", page[1].ID)

	page, err = st.ListBuyers(ctx, BuyerQuery{After: "b", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c", page[0].ID)

	_, err = st.ListBuyers(ctx, BuyerQuery{Limit: 0})
	assert.Error(t, err)
}

func TestSQLite_ListBuyers_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedBuyers(t, st,
		model.Buyer{ID: "a", OrgID: "1", Name: "A"},
		model.Buyer{ID: "b", OrgID: "2", Name: "B"},
		model.Buyer{ID: "c", OrgID: "3", Name: "C"},
	)
	site := "https://b.gov.uk"
	require.NoError(t, st.UpdateBuyer(ctx, "b", model.BuyerPatch{
		Website:           &site,
		EnrichmentSources: []string{model.SourceScrape},
	}))
	failed := model.DiscoveryFailed
	require.NoError(t, st.UpdateBuyer(ctx, "c", model.BuyerPatch{DiscoveryMethod: &failed}))

	ids := func(f model.BuyerFilter) []string {
		t.Helper()
		got, err := st.ListBuyers(ctx, BuyerQuery{Limit: 10, Filter: f})
		require.NoError(t, err)
		out := []string{}
		for _, b := range got {
			out = append(out, b.ID)
		}
		return out
	}

	assert.Equal(t, []string{"a"}, ids(model.BuyerFilter{MissingWebsite: true, ExcludeDiscovery: model.DiscoveryFailed}))
	assert.Equal(t, []string{"b"}, ids(model.BuyerFilter{HasWebsite: true, LacksSource: model.SourcePersonnel}))
	assert.Equal(t, []string{"b"}, ids(model.BuyerFilter{HasAnySource: []string{model.SourceModernGov, model.SourceScrape}}))
	assert.Equal(t, []string{"a", "c"}, ids(model.BuyerFilter{LacksSource: model.SourceScrape}))
	assert.Equal(t, []string{"b"}, ids(model.BuyerFilter{HasWebsite: true, SpendNotIngested: true}))

	n, err := st.ResetFailedDiscovery(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a", "c"}, ids(model.BuyerFilter{MissingWebsite: true, ExcludeDiscovery: model.DiscoveryFailed}))
}

// --- Writes ---

func TestSQLite_SpendTransactions_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	day := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	txns := []model.SpendTransaction{
		{BuyerID: "b1", Date: day, Amount: 100, Vendor: "Acme Ltd", VendorNormalized: "acme", Reference: "R1", SourceFile: "a.csv"},
		{BuyerID: "b1", Date: day, Amount: 50, Vendor: "Acme Ltd", VendorNormalized: "acme", Reference: "R2", SourceFile: "a.csv", Category: "IT"},
	}

	res, err := st.UpsertSpendTransactions(ctx, txns)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Inserted)

	res, err = st.UpsertSpendTransactions(ctx, txns)
	require.NoError(t, err)
	assert.Equal(t, WriteResult{}, res)

	txns[0].Category = "Facilities"
	res, err = st.UpsertSpendTransactions(ctx, txns)
	require.NoError(t, err)
	assert.Equal(t, WriteResult{Modified: 1}, res)

	got, err := st.ListSpendTransactions(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	categories := []string{got[0].Category, got[1].Category}
	assert.ElementsMatch(t, []string{"Facilities", "IT"}, categories)
	assert.True(t, day.Equal(got[0].Date))
}

func TestSQLite_SpendTransactions_DefaultCategory(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertSpendTransactions(ctx, []model.SpendTransaction{
		{BuyerID: "b1", Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Amount: 10, Vendor: "X"},
	})
	require.NoError(t, err)

	got, err := st.ListSpendTransactions(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.DefaultCategory, got[0].Category)
}

func TestSQLite_SpendSummary_Replace(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetSpendSummary(ctx, "b1")
	assert.True(t, errors.Is(err, ErrNotFound))

	sum := model.SpendSummary{BuyerID: "b1", TotalTransactions: 3, TotalSpend: 180, LastComputedAt: time.Now().UTC()}
	require.NoError(t, st.UpsertSpendSummary(ctx, sum))
	sum.TotalSpend = 200
	require.NoError(t, st.UpsertSpendSummary(ctx, sum))

	got, err := st.GetSpendSummary(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 200.0, got.TotalSpend)
	assert.Equal(t, 3, got.TotalTransactions)

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["spend_summaries"])
}

func TestSQLite_Personnel_RankedAndIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	people := []model.KeyPersonnel{
		{BuyerID: "b1", Name: "Cllr Jones", Role: model.RoleCouncillor, Confidence: 0.95},
		{BuyerID: "b1", Name: "Pat Chief", Role: model.RoleChiefExecutive, Confidence: 0.6},
		{BuyerID: "b1", Name: "Sam Money", Role: model.RoleCFO, Confidence: 0.8},
	}
	res, err := st.UpsertPersonnel(ctx, people)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Inserted)

	res, err = st.UpsertPersonnel(ctx, people)
	require.NoError(t, err)
	assert.Equal(t, WriteResult{}, res)

	got, err := st.ListPersonnel(ctx, "b1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Pat Chief", got[0].Name)
	assert.Equal(t, "Sam Money", got[1].Name)

	n, err := st.CountPersonnel(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSQLite_BoardDocuments(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	older := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	docs := []model.BoardDocument{
		{BuyerID: "b1", SourceURL: "https://x/1", Title: "Cabinet", DocumentType: model.DocMinutes, MeetingDate: &older, ExtractionStatus: model.ExtractionPending},
		{BuyerID: "b1", SourceURL: "https://x/2", Title: "Council", DocumentType: model.DocMinutes, MeetingDate: &newer, ExtractionStatus: model.ExtractionPending},
		{BuyerID: "b1", SourceURL: "https://x/about", Title: "About", DocumentType: model.DocWebPage, Content: "text", ExtractionStatus: model.ExtractionExtracted},
	}
	res, err := st.UpsertBoardDocuments(ctx, docs)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Inserted)

	docs[2].Content = "updated"
	res, err = st.UpsertBoardDocuments(ctx, docs)
	require.NoError(t, err)
	assert.Equal(t, WriteResult{Modified: 1}, res)

	got, err := st.ListBoardDocuments(ctx, "b1", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "https://x/2", got[0].SourceURL)
	assert.Equal(t, "https://x/1", got[1].SourceURL)
	assert.Nil(t, got[2].MeetingDate)

	n, err := st.CountBoardDocuments(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSQLite_DataSources(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ds := model.DataSource{Name: "Camden", OrgType: "local_council_london", DemocracyPlatform: model.PlatformModernGov}
	res, err := st.UpsertDataSource(ctx, ds)
	require.NoError(t, err)
	assert.True(t, res.Inserted)

	res, err = st.UpsertDataSource(ctx, ds)
	require.NoError(t, err)
	assert.False(t, res.Changed())

	all, err := st.ListDataSources(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	got, err := st.GetDataSource(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Camden", got.Name)
}

func TestSQLite_Contracts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	cs := []model.Contract{
		{Source: model.SourceFindTender, ReleaseID: "r1", Title: "Roads", Value: 1000, Stage: "tender"},
		{Source: model.SourceFindTender, ReleaseID: "r2", Title: "Bins", Stage: "award"},
	}
	res, err := st.UpsertContracts(ctx, cs)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Inserted)

	res, err = st.UpsertContracts(ctx, cs)
	require.NoError(t, err)
	assert.Equal(t, WriteResult{}, res)
}

// --- Jobs ---

func TestSQLite_Jobs_CreateAndCAS(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	j, err := st.GetOrCreateJob(ctx, model.StageScrape)
	require.NoError(t, err)
	assert.Equal(t, model.WorkerEnrichment, j.Worker)
	assert.Equal(t, model.JobRunning, j.Status)
	assert.Equal(t, int64(0), j.Version)
	assert.Empty(t, j.ErrorLog)

	stale := *j

	j.Cursor = "buyer-9"
	j.TotalProcessed = 9
	j.AppendErrors(50, "boom")
	require.NoError(t, st.SaveJob(ctx, j))
	assert.Equal(t, int64(1), j.Version)

	stale.Cursor = "buyer-3"
	err = st.SaveJob(ctx, &stale)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVersionConflict))

	again, err := st.GetOrCreateJob(ctx, model.StageScrape)
	require.NoError(t, err)
	assert.Equal(t, "buyer-9", again.Cursor)
	assert.Equal(t, []string{"boom"}, again.ErrorLog)
	assert.Nil(t, again.CompletedAt)

	jobs, err := st.ListJobs(ctx, model.WorkerEnrichment)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

// --- Pipeline errors ---

func TestSQLite_PipelineErrors(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for i, typ := range []model.ErrorType{model.ErrTimeout, model.ErrNotFound, model.ErrTimeout} {
		require.NoError(t, st.InsertPipelineError(ctx, model.PipelineError{
			Worker:    model.WorkerEnrichment,
			Stage:     model.StageScrape,
			ErrorType: typ,
			Message:   "failed",
			BuyerID:   "b1",
			CreatedAt: time.Date(2025, 1, 1, i, 0, 0, 0, time.UTC),
		}))
	}
	require.NoError(t, st.InsertPipelineError(ctx, model.PipelineError{
		Worker: model.WorkerSpendIngest, Stage: model.StageSpendIngest, ErrorType: model.ErrParse, Message: "bad csv",
	}))

	n, err := st.CountPipelineErrors(ctx, model.ErrorFilter{Worker: model.WorkerEnrichment, ErrorType: model.ErrTimeout})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := st.ListPipelineErrors(ctx, model.ErrorFilter{Stage: model.StageScrape, Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))

	resolved, err := st.ResolvePipelineErrors(ctx, nil, model.ErrorFilter{ErrorType: model.ErrTimeout})
	require.NoError(t, err)
	assert.Equal(t, 2, resolved)

	unresolved := false
	n, err = st.CountPipelineErrors(ctx, model.ErrorFilter{Resolved: &unresolved})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	open, err := st.ListPipelineErrors(ctx, model.ErrorFilter{Resolved: &unresolved, Worker: model.WorkerSpendIngest})
	require.NoError(t, err)
	require.Len(t, open, 1)
	resolved, err = st.ResolvePipelineErrors(ctx, []string{open[0].ID}, model.ErrorFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	// Already resolved rows are not counted twice.
	resolved, err = st.ResolvePipelineErrors(ctx, []string{open[0].ID}, model.ErrorFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)
}

func TestSQLite_PipelineError_MessageTruncated(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	long := make([]byte, model.MaxErrorMessage+500)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, st.InsertPipelineError(ctx, model.PipelineError{
		Worker: model.WorkerEnrichment, Stage: model.StageClassify, ErrorType: model.ErrUnknown, Message: string(long),
	}))
	list, err := st.ListPipelineErrors(ctx, model.ErrorFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Message, model.MaxErrorMessage)
}

// --- Settings ---

func TestSQLite_Settings(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	var budgets model.WorkerBudgets
	ok, err := st.GetSetting(ctx, model.SettingWorkerBudgets, &budgets)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.SetSetting(ctx, model.SettingWorkerBudgets, model.WorkerBudgets{
		model.WorkerEnrichment: {Enabled: true, Limit: 25},
	}))
	require.NoError(t, st.SetSetting(ctx, model.SettingWorkerBudgets, model.WorkerBudgets{
		model.WorkerEnrichment: {Enabled: true, Limit: 30},
	}))

	ok, err = st.GetSetting(ctx, model.SettingWorkerBudgets, &budgets)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 30, budgets[model.WorkerEnrichment].Limit)
}

func TestSQLite_Ping(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}
