// Package budget decides how many items one invocation of a worker may
// process.
package budget

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/k1p1l0/tendhunt-sub005/internal/config"
	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
)

// Governor reads operator budgets from settings and applies the hard cap.
type Governor struct {
	st       store.Store
	defaults model.WorkerBudgets
	hardCap  int
	validate *validator.Validate
}

// New creates a Governor. Defaults apply to any worker without a stored
// budget.
func New(st store.Store, defaults model.WorkerBudgets, hardCap int) *Governor {
	return &Governor{
		st:       st,
		defaults: defaults,
		hardCap:  hardCap,
		validate: validator.New(),
	}
}

// Defaults converts configured budget defaults into WorkerBudgets.
func Defaults(cfg config.BudgetsConfig) model.WorkerBudgets {
	conv := func(d config.BudgetDefault) model.Budget {
		return model.Budget{Enabled: d.Enabled, Limit: d.Limit}
	}
	return model.WorkerBudgets{
		model.WorkerEnrichment:   conv(cfg.Enrichment),
		model.WorkerDataSync:     conv(cfg.DataSync),
		model.WorkerSpendIngest:  conv(cfg.SpendIngest),
		model.WorkerBoardMinutes: conv(cfg.BoardMins),
	}
}

// Budgets returns the effective budget of every worker.
func (g *Governor) Budgets(ctx context.Context) (model.WorkerBudgets, error) {
	stored := model.WorkerBudgets{}
	if _, err := g.st.GetSetting(ctx, model.SettingWorkerBudgets, &stored); err != nil {
		return nil, eris.Wrap(err, "budget: read settings")
	}
	out := make(model.WorkerBudgets, len(model.Workers))
	for _, w := range model.Workers {
		if b, ok := stored[w]; ok {
			out[w] = b
			continue
		}
		out[w] = g.defaults[w]
	}
	return out, nil
}

// MaxItemsFor returns the operator limit for a worker, or unlimited when its
// budget is disabled.
func (g *Governor) MaxItemsFor(ctx context.Context, w model.Worker) (limit int, unlimited bool, err error) {
	all, err := g.Budgets(ctx)
	if err != nil {
		return 0, false, err
	}
	b := all[w]
	if !b.Enabled {
		return 0, true, nil
	}
	return b.Limit, false, nil
}

// EffectiveBatch returns min(operator limit, hard cap, requested). A
// requested value <= 0 means no caller preference.
func (g *Governor) EffectiveBatch(ctx context.Context, w model.Worker, requested int) (int, error) {
	limit, unlimited, err := g.MaxItemsFor(ctx, w)
	if err != nil {
		return 0, err
	}
	n := g.hardCap
	if !unlimited && limit < n {
		n = limit
	}
	if requested > 0 && requested < n {
		n = requested
	}
	if n < 1 {
		n = 1
	}
	return n, nil
}

// SetBudget validates and stores the budget for one worker, leaving the
// others as they are.
func (g *Governor) SetBudget(ctx context.Context, w model.Worker, b model.Budget) error {
	if !w.Valid() {
		return eris.Errorf("budget: unknown worker %q", w)
	}
	if err := g.validate.Struct(b); err != nil {
		return eris.Wrapf(err, "budget: invalid budget for %s", w)
	}
	all, err := g.Budgets(ctx)
	if err != nil {
		return err
	}
	all[w] = b
	return eris.Wrap(g.st.SetSetting(ctx, model.SettingWorkerBudgets, all), "budget: write settings")
}
