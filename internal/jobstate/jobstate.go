// Package jobstate drives the per-stage job records: which stage is active,
// how a finished batch advances it, and operator resets.
//
// Every write is a compare-and-swap on the job version. A lost race surfaces
// as store.ErrVersionConflict and the caller must abort without retrying.
package jobstate

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
)

// Outcome is the result of one batch applied to a job.
type Outcome struct {
	Processed  int
	Errors     int
	BatchSize  int
	NextCursor string
	Exhausted  bool
	Messages   []string
}

// Machine owns the stage ordering of every worker.
type Machine struct {
	st           store.Store
	errorLogSize int
	now          func() time.Time
}

// New creates a Machine. errorLogSize bounds each job's error log.
func New(st store.Store, errorLogSize int) *Machine {
	if errorLogSize <= 0 {
		errorLogSize = model.DefaultErrorLogSize
	}
	return &Machine{st: st, errorLogSize: errorLogSize, now: time.Now}
}

// ActiveStage returns the first stage of the worker whose job is not
// complete, creating missing jobs on the way. allComplete is true when no
// such stage exists.
func (m *Machine) ActiveStage(ctx context.Context, w model.Worker) (job *model.Job, allComplete bool, err error) {
	stages := model.StageOrder(w)
	if len(stages) == 0 {
		return nil, false, eris.Errorf("jobstate: worker %q has no stages", w)
	}
	for _, s := range stages {
		j, err := m.st.GetOrCreateJob(ctx, s)
		if err != nil {
			return nil, false, eris.Wrapf(err, "jobstate: load %s", s)
		}
		if !j.IsComplete() {
			return j, false, nil
		}
	}
	return nil, true, nil
}

// Advance persists a batch outcome. An exhausted stage completes; otherwise
// it pauses with its cursor moved forward.
func (m *Machine) Advance(ctx context.Context, job *model.Job, out Outcome) error {
	now := m.now().UTC()
	job.Cursor = out.NextCursor
	job.TotalProcessed += out.Processed
	job.TotalErrors += out.Errors
	if out.BatchSize > 0 {
		job.BatchSize = out.BatchSize
	}
	if len(out.Messages) > 0 {
		job.AppendErrors(m.errorLogSize, out.Messages...)
	}
	job.LastRunAt = &now
	if out.Exhausted {
		job.Status = model.JobComplete
		job.CompletedAt = &now
	} else {
		job.Status = model.JobPaused
	}
	if err := m.st.SaveJob(ctx, job); err != nil {
		return eris.Wrapf(err, "jobstate: advance %s", job.Stage)
	}
	return nil
}

// Fail marks the job errored without touching its cursor.
func (m *Machine) Fail(ctx context.Context, job *model.Job, cause error) error {
	now := m.now().UTC()
	job.Status = model.JobError
	job.LastRunAt = &now
	if cause != nil {
		job.AppendErrors(m.errorLogSize, cause.Error())
	}
	if err := m.st.SaveJob(ctx, job); err != nil {
		return eris.Wrapf(err, "jobstate: fail %s", job.Stage)
	}
	return nil
}

// Reset returns a stage to its initial state: empty cursor, zero counters,
// running.
func (m *Machine) Reset(ctx context.Context, stage model.Stage) error {
	cur, err := m.st.GetOrCreateJob(ctx, stage)
	if err != nil {
		return eris.Wrapf(err, "jobstate: load %s", stage)
	}
	fresh := model.NewJob(stage, m.now().UTC())
	fresh.Version = cur.Version
	fresh.BatchSize = cur.BatchSize
	if err := m.st.SaveJob(ctx, &fresh); err != nil {
		return eris.Wrapf(err, "jobstate: reset %s", stage)
	}
	zap.L().Info("stage reset", zap.String("stage", string(stage)))
	return nil
}

// ResetAll resets every stage of a worker.
func (m *Machine) ResetAll(ctx context.Context, w model.Worker) error {
	stages := model.StageOrder(w)
	if len(stages) == 0 {
		return eris.Errorf("jobstate: worker %q has no stages", w)
	}
	for _, s := range stages {
		if err := m.Reset(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Rescan resets every complete stage of the worker that finished more than
// olderThan ago, so buyers added since are eventually reached. It returns
// the number of stages reset.
func (m *Machine) Rescan(ctx context.Context, w model.Worker, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := m.now().UTC().Add(-olderThan)
	n := 0
	for _, s := range model.StageOrder(w) {
		j, err := m.st.GetOrCreateJob(ctx, s)
		if err != nil {
			return n, eris.Wrapf(err, "jobstate: load %s", s)
		}
		if !j.IsComplete() || j.CompletedAt == nil || j.CompletedAt.After(cutoff) {
			continue
		}
		if err := m.Reset(ctx, s); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Status returns the job of every stage of a worker, in stage order.
func (m *Machine) Status(ctx context.Context, w model.Worker) ([]model.Job, error) {
	var out []model.Job
	for _, s := range model.StageOrder(w) {
		j, err := m.st.GetOrCreateJob(ctx, s)
		if err != nil {
			return nil, eris.Wrapf(err, "jobstate: load %s", s)
		}
		out = append(out, *j)
	}
	return out, nil
}
