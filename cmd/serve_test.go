package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k1p1l0/tendhunt-sub005/internal/config"
	"github.com/k1p1l0/tendhunt-sub005/internal/errlog"
	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/runner"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
)

const testSecret = "s3cret"

type countingStage struct {
	calls atomic.Int32
}

func (c *countingStage) Name() model.Stage         { return model.StageClassify }
func (c *countingStage) Filter() model.BuyerFilter { return model.BuyerFilter{} }
func (c *countingStage) CheckConfig() error        { return nil }
func (c *countingStage) Process(context.Context, *model.Buyer) error {
	c.calls.Add(1)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			HardCap:         100,
			ItemTimeoutSecs: 5,
			ErrorLogSize:    50,
		},
		Budgets: config.BudgetsConfig{
			Enrichment:  config.BudgetDefault{Enabled: true, Limit: 10},
			DataSync:    config.BudgetDefault{Enabled: true, Limit: 10},
			SpendIngest: config.BudgetDefault{Enabled: true, Limit: 10},
			BoardMins:   config.BudgetDefault{Enabled: true, Limit: 10},
		},
	}
}

func newTestEnv(t *testing.T) (*pipelineEnv, *countingStage) {
	t.Helper()
	cfg = testConfig()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	for i := 1; i <= 2; i++ {
		_, err := st.UpsertBuyer(ctx, model.Buyer{
			ID:    fmt.Sprintf("b%d", i),
			OrgID: fmt.Sprintf("GB-%d", i),
			Name:  fmt.Sprintf("Council %d", i),
		})
		require.NoError(t, err)
	}

	cs := &countingStage{}
	reg := runner.NewRegistry()
	reg.Register(cs)

	env := newPipelineEnv(st, reg)
	t.Cleanup(env.Close)
	return env, cs
}

func do(t *testing.T, h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth_NoAuth(t *testing.T) {
	env, _ := newTestEnv(t)
	h := newRouter(env, testSecret, nil)

	rec := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	rec = do(t, h, http.MethodGet, "/spend-ingest/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth(t *testing.T) {
	env, _ := newTestEnv(t)
	h := newRouter(env, testSecret, nil)

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/debug", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/debug?secret=wrong", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/debug?secret="+testSecret, "", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/debug", "", map[string]string{
		"Authorization": "Bearer " + testSecret,
	}).Code)
}

func TestAuth_EmptySecretRejectsAll(t *testing.T) {
	env, _ := newTestEnv(t)
	h := newRouter(env, "", nil)

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/debug?secret=", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "", nil).Code)
}

func TestRun(t *testing.T) {
	env, cs := newTestEnv(t)
	h := newRouter(env, testSecret, nil)

	rec := do(t, h, http.MethodGet, "/run?secret="+testSecret, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sum runner.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, model.WorkerEnrichment, sum.Worker)
	assert.Equal(t, model.StageClassify, sum.Stage)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, int32(2), cs.calls.Load())
}

func TestRun_BadMax(t *testing.T) {
	env, _ := newTestEnv(t)
	h := newRouter(env, testSecret, nil)

	rec := do(t, h, http.MethodGet, "/run?max=lots&secret="+testSecret, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRun_UnknownWorker(t *testing.T) {
	env, _ := newTestEnv(t)
	h := newRouter(env, testSecret, nil)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/payroll/run?secret="+testSecret, "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/run?worker=payroll&secret="+testSecret, "", nil).Code)
}

func TestRun_UnregisteredStageRecordsError(t *testing.T) {
	env, _ := newTestEnv(t)
	h := newRouter(env, testSecret, nil)

	rec := do(t, h, http.MethodGet, "/spend-ingest/run?secret="+testSecret, "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "no implementation registered")

	n, err := env.Errors.UnresolvedCount(context.Background(), model.ErrorFilter{Worker: model.WorkerSpendIngest})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunBuyer(t *testing.T) {
	env, cs := newTestEnv(t)
	h := newRouter(env, testSecret, nil)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/run-buyer?secret="+testSecret, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/run-buyer?id=missing&secret="+testSecret, "", nil).Code)

	rec := do(t, h, http.MethodGet, "/run-buyer?id=b1&secret="+testSecret, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sum runner.BuyerSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, "Council 1", sum.Name)
	require.Len(t, sum.Stages, 1)
	assert.Equal(t, runner.StatusOK, sum.Stages[0].Status)
	assert.Equal(t, int32(1), cs.calls.Load())
}

func TestErrorsEndpoints(t *testing.T) {
	env, _ := newTestEnv(t)
	h := newRouter(env, testSecret, nil)
	ctx := context.Background()

	env.Errors.Report(ctx, errlog.Entry{Worker: model.WorkerEnrichment, Stage: model.StageScrape, Type: model.ErrTimeout, Message: "slow"})
	env.Errors.Report(ctx, errlog.Entry{Worker: model.WorkerSpendIngest, Stage: model.StageSpendIngest, Type: model.ErrParse, Message: "bad csv"})

	rec := do(t, h, http.MethodGet, "/errors?secret="+testSecret, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["errors"], 2)
	assert.EqualValues(t, 2, body["unresolved"])

	rec = do(t, h, http.MethodGet, "/enrichment/errors?secret="+testSecret, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["errors"], 1)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/errors?resolved=maybe&secret="+testSecret, "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/errors/resolve?secret="+testSecret, `{}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/errors/resolve?secret="+testSecret, `not json`, nil).Code)

	rec = do(t, h, http.MethodPost, "/spend-ingest/errors/resolve?secret="+testSecret, `{}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decode(t, rec)["resolved"])

	n, err := env.Errors.UnresolvedCount(ctx, model.ErrorFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCORS(t *testing.T) {
	env, _ := newTestEnv(t)
	h := newRouter(env, testSecret, []string{"https://app.tendhunt.com"})

	rec := do(t, h, http.MethodOptions, "/run", "", map[string]string{
		"Origin":                        "https://app.tendhunt.com",
		"Access-Control-Request-Method": http.MethodGet,
	})
	assert.Equal(t, "https://app.tendhunt.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
