// Package runner executes one bounded invocation of a worker: pick the
// active stage, size the batch, run it, and persist progress.
package runner

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/budget"
	"github.com/k1p1l0/tendhunt-sub005/internal/cursor"
	"github.com/k1p1l0/tendhunt-sub005/internal/errlog"
	"github.com/k1p1l0/tendhunt-sub005/internal/jobstate"
	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
	"github.com/k1p1l0/tendhunt-sub005/internal/stage"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
)

// Summary is the outcome of one invocation.
type Summary struct {
	Worker    model.Worker `json:"worker"`
	Stage     model.Stage  `json:"stage"`
	Processed int          `json:"processed"`
	Errors    int          `json:"errors"`
	Done      bool         `json:"done"`
}

// Runner wires the state machine, budget governor, cursor walker and error
// reporter around the registered stages.
type Runner struct {
	st          store.Store
	jobs        *jobstate.Machine
	budgets     *budget.Governor
	walker      *cursor.Walker
	errs        *errlog.Reporter
	reg         *Registry
	itemTimeout time.Duration
	rescanAfter time.Duration
}

// Options configures a Runner.
type Options struct {
	ItemTimeout time.Duration
	// RescanAfter resets stages completed longer ago than this before each
	// run. Zero disables rescans.
	RescanAfter time.Duration
}

// New creates a Runner.
func New(st store.Store, jobs *jobstate.Machine, budgets *budget.Governor, errs *errlog.Reporter, reg *Registry, opts Options) *Runner {
	return &Runner{
		st:          st,
		jobs:        jobs,
		budgets:     budgets,
		walker:      cursor.New(st),
		errs:        errs,
		reg:         reg,
		itemTimeout: opts.ItemTimeout,
		rescanAfter: opts.RescanAfter,
	}
}

// Run performs one invocation of worker w processing at most max items
// (zero means the worker budget). Returned errors are infrastructure or
// configuration failures; item failures are only counted.
func (r *Runner) Run(ctx context.Context, w model.Worker, max int) (Summary, error) {
	log := zap.L().With(zap.String("component", "runner"), zap.String("worker", string(w)))
	sum := Summary{Worker: w}

	if len(model.StageOrder(w)) == 0 {
		return sum, eris.Errorf("runner: unknown worker %q", w)
	}

	if r.rescanAfter > 0 {
		n, err := r.jobs.Rescan(ctx, w, r.rescanAfter)
		if err != nil {
			return sum, eris.Wrap(err, "runner: rescan")
		}
		if n > 0 {
			log.Info("rescan reset completed stages", zap.Int("stages", n))
		}
	}

	job, allComplete, err := r.jobs.ActiveStage(ctx, w)
	if err != nil {
		return sum, eris.Wrap(err, "runner: active stage")
	}
	if allComplete {
		sum.Stage = model.StageAllComplete
		sum.Done = true
		log.Info("all stages complete")
		return sum, nil
	}
	sum.Stage = job.Stage
	log = log.With(zap.String("stage", string(job.Stage)))

	if err := r.reg.checkConfig(job.Stage); err != nil {
		r.errs.Report(ctx, errlog.Entry{
			Worker:  w,
			Stage:   job.Stage,
			Type:    model.ErrConfig,
			Message: err.Error(),
		})
		if ferr := r.jobs.Fail(ctx, job, err); ferr != nil {
			log.Error("failed to mark stage errored", zap.Error(ferr))
		}
		log.Error("stage misconfigured", zap.Error(err))
		return sum, eris.Wrapf(err, "runner: stage %s config", job.Stage)
	}

	limit, err := r.budgets.EffectiveBatch(ctx, w, max)
	if err != nil {
		return sum, eris.Wrap(err, "runner: budget")
	}

	start := time.Now()
	var out jobstate.Outcome
	if s, ok := r.reg.Item(job.Stage); ok {
		out, err = r.runItems(ctx, s, job, limit)
	} else if p, ok := r.reg.Paged(job.Stage); ok {
		out, err = r.runPaged(ctx, p, job, limit)
	} else {
		err = eris.Errorf("runner: no implementation registered for stage %q", job.Stage)
	}
	sum.Processed = out.Processed
	sum.Errors = out.Errors
	if err != nil {
		log.Error("stage aborted, cursor not advanced", zap.Error(err))
		return sum, err
	}

	if err := r.jobs.Advance(ctx, job, out); err != nil {
		return sum, eris.Wrap(err, "runner: advance")
	}

	stages := model.StageOrder(w)
	sum.Done = out.Exhausted && job.Stage == stages[len(stages)-1]

	log.Info("run complete",
		zap.Int("batch", limit),
		zap.Int("processed", out.Processed),
		zap.Int("errors", out.Errors),
		zap.Bool("exhausted", out.Exhausted),
		zap.String("cursor", out.NextCursor),
		zap.Duration("elapsed", time.Since(start)),
	)
	return sum, nil
}

func (r *Runner) runItems(ctx context.Context, s stage.Stage, job *model.Job, limit int) (jobstate.Outcome, error) {
	batch, err := r.walker.NextBatch(ctx, job.Cursor, limit, s.Filter())
	if err != nil {
		return jobstate.Outcome{}, eris.Wrapf(err, "runner: next batch for %s", job.Stage)
	}

	res, err := stage.RunBatch(ctx, s, batch.Buyers, r.itemTimeout)
	r.report(ctx, job.Stage, res.ItemErrors)
	out := jobstate.Outcome{
		Processed:  res.Processed,
		Errors:     res.Errors,
		BatchSize:  limit,
		NextCursor: batch.Cursor,
		Exhausted:  batch.Exhausted,
		Messages:   res.Messages(),
	}
	return out, err
}

func (r *Runner) runPaged(ctx context.Context, p stage.Paged, job *model.Job, limit int) (jobstate.Outcome, error) {
	res, err := p.RunPages(ctx, job.Cursor, limit)
	r.report(ctx, job.Stage, res.ItemErrors)
	out := jobstate.Outcome{
		Processed:  res.Processed,
		Errors:     res.Errors,
		BatchSize:  limit,
		NextCursor: res.NextCursor,
		Exhausted:  res.Exhausted,
		Messages:   res.Messages(),
	}
	if err != nil {
		return out, eris.Wrapf(err, "runner: %s pages", job.Stage)
	}
	return out, nil
}

func (r *Runner) report(ctx context.Context, s model.Stage, errs []stage.ItemError) {
	for _, e := range errs {
		r.errs.Report(ctx, errlog.Entry{
			Worker:    model.WorkerOf(s),
			Stage:     s,
			Type:      e.Type,
			Message:   e.Message,
			BuyerID:   e.BuyerID,
			BuyerName: e.BuyerName,
		})
	}
}

// StageResult is the outcome of one stage in RunBuyer.
type StageResult struct {
	Stage  model.Stage `json:"stage"`
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// Stage result statuses.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// BuyerSummary is the outcome of RunBuyer.
type BuyerSummary struct {
	BuyerID string        `json:"buyer_id"`
	Name    string        `json:"name"`
	Stages  []StageResult `json:"stages"`
}

// RunBuyer runs every enrichment stage for one buyer, then spend ingestion
// when the buyer has a website. Cursors and stage filters are bypassed; a
// misconfigured stage is skipped. The buyer is reloaded between stages so
// each sees the previous stage's writes.
func (r *Runner) RunBuyer(ctx context.Context, buyerID string) (BuyerSummary, error) {
	log := zap.L().With(zap.String("component", "runner"), zap.String("buyer_id", buyerID))

	b, err := r.st.GetBuyer(ctx, buyerID)
	if err != nil {
		return BuyerSummary{BuyerID: buyerID}, eris.Wrapf(err, "runner: load buyer %s", buyerID)
	}
	sum := BuyerSummary{BuyerID: b.ID, Name: b.Name}

	stages := append([]model.Stage(nil), model.EnrichmentOrder...)
	stages = append(stages, model.StageSpendIngest)

	for _, name := range stages {
		s, ok := r.reg.Item(name)
		if !ok {
			continue
		}
		if name == model.StageSpendIngest && b.Website == "" {
			sum.Stages = append(sum.Stages, StageResult{Stage: name, Status: StatusSkipped, Error: "no website"})
			continue
		}
		if err := s.CheckConfig(); err != nil {
			sum.Stages = append(sum.Stages, StageResult{Stage: name, Status: StatusSkipped, Error: err.Error()})
			continue
		}

		res, err := stage.RunBatch(ctx, s, []model.Buyer{*b}, r.itemTimeout)
		r.report(ctx, name, res.ItemErrors)
		if err != nil {
			return sum, err
		}
		sr := StageResult{Stage: name, Status: StatusOK}
		if len(res.ItemErrors) > 0 {
			sr.Status = StatusError
			sr.Error = res.ItemErrors[0].Message
		}
		sum.Stages = append(sum.Stages, sr)

		if b, err = r.st.GetBuyer(ctx, buyerID); err != nil {
			return sum, eris.Wrapf(err, "runner: reload buyer %s", buyerID)
		}
	}

	log.Info("buyer run complete", zap.Int("stages", len(sum.Stages)))
	return sum, nil
}

// DebugInfo is a snapshot of pipeline state for operators.
type DebugInfo struct {
	Counts     map[string]int               `json:"counts"`
	Jobs       map[model.Worker][]model.Job `json:"jobs"`
	Unresolved int                          `json:"unresolved_errors"`
}

// Debug collects row counts, job states and the unresolved error count.
func (r *Runner) Debug(ctx context.Context) (DebugInfo, error) {
	counts, err := r.st.Counts(ctx)
	if err != nil {
		return DebugInfo{}, eris.Wrap(err, "runner: counts")
	}
	info := DebugInfo{Counts: counts, Jobs: map[model.Worker][]model.Job{}}
	for _, w := range []model.Worker{model.WorkerEnrichment, model.WorkerSpendIngest, model.WorkerDataSync} {
		jobs, err := r.jobs.Status(ctx, w)
		if err != nil {
			return DebugInfo{}, err
		}
		info.Jobs[w] = jobs
	}
	info.Unresolved, err = r.errs.UnresolvedCount(ctx, model.ErrorFilter{})
	if err != nil {
		return DebugInfo{}, err
	}
	return info, nil
}

// IsConfigError reports whether a Run error came from a stage config check.
func IsConfigError(err error) bool {
	return resilience.IsConfig(err)
}
