package budget

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "budget.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

var testDefaults = model.WorkerBudgets{
	model.WorkerEnrichment:   {Enabled: true, Limit: 500},
	model.WorkerDataSync:     {Enabled: true, Limit: 9000},
	model.WorkerSpendIngest:  {Enabled: true, Limit: 200},
	model.WorkerBoardMinutes: {Enabled: true, Limit: 100},
}

func TestEffectiveBatch(t *testing.T) {
	st := newTestStore(t)
	g := New(st, testDefaults, 2000)
	ctx := context.Background()

	tests := []struct {
		name      string
		worker    model.Worker
		requested int
		want      int
	}{
		{"default limit", model.WorkerEnrichment, 0, 500},
		{"requested smaller", model.WorkerEnrichment, 25, 25},
		{"requested larger", model.WorkerEnrichment, 10000, 500},
		{"hard cap below limit", model.WorkerDataSync, 0, 2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.EffectiveBatch(ctx, tt.worker, tt.requested)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEffectiveBatch_DisabledUsesHardCap(t *testing.T) {
	st := newTestStore(t)
	g := New(st, testDefaults, 300)
	ctx := context.Background()

	require.NoError(t, g.SetBudget(ctx, model.WorkerSpendIngest, model.Budget{Enabled: false, Limit: 5}))

	limit, unlimited, err := g.MaxItemsFor(ctx, model.WorkerSpendIngest)
	require.NoError(t, err)
	assert.True(t, unlimited)
	assert.Zero(t, limit)

	n, err := g.EffectiveBatch(ctx, model.WorkerSpendIngest, 0)
	require.NoError(t, err)
	assert.Equal(t, 300, n)
}

func TestSetBudget(t *testing.T) {
	st := newTestStore(t)
	g := New(st, testDefaults, 2000)
	ctx := context.Background()

	require.NoError(t, g.SetBudget(ctx, model.WorkerEnrichment, model.Budget{Enabled: true, Limit: 40}))

	n, err := g.EffectiveBatch(ctx, model.WorkerEnrichment, 0)
	require.NoError(t, err)
	assert.Equal(t, 40, n)

	// Other workers keep their defaults.
	all, err := g.Budgets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, all[model.WorkerSpendIngest].Limit)

	assert.Error(t, g.SetBudget(ctx, model.WorkerEnrichment, model.Budget{Enabled: true, Limit: 0}))
	assert.Error(t, g.SetBudget(ctx, model.Worker("bogus"), model.Budget{Enabled: true, Limit: 3}))
}

type brokenSettings struct {
	store.Store
}

func (brokenSettings) GetSetting(context.Context, string, any) (bool, error) {
	return false, errors.New("connection refused")
}

func TestEffectiveBatch_SettingsFailure(t *testing.T) {
	g := New(brokenSettings{}, testDefaults, 2000)
	_, err := g.EffectiveBatch(context.Background(), model.WorkerEnrichment, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "budget: read settings")
}
