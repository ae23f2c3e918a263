// Package errlog records operator-visible pipeline failures.
package errlog

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
)

// Entry is one failure to record.
type Entry struct {
	Worker    model.Worker
	Stage     model.Stage
	Type      model.ErrorType
	Message   string
	BuyerID   string
	BuyerName string
}

// Reporter writes pipeline errors to the store. Reporting never fails the
// caller: store errors are logged and dropped.
type Reporter struct {
	st  store.Store
	now func() time.Time
}

// New creates a Reporter backed by st.
func New(st store.Store) *Reporter {
	return &Reporter{st: st, now: time.Now}
}

// Report records e.
func (r *Reporter) Report(ctx context.Context, e Entry) {
	if e.Type == "" {
		e.Type = model.ErrUnknown
	}
	err := r.st.InsertPipelineError(ctx, model.PipelineError{
		Worker:    e.Worker,
		Stage:     e.Stage,
		ErrorType: e.Type,
		Message:   e.Message,
		BuyerID:   e.BuyerID,
		BuyerName: e.BuyerName,
		CreatedAt: r.now().UTC(),
	})
	if err != nil {
		zap.L().Warn("errlog: failed to record pipeline error",
			zap.String("worker", string(e.Worker)),
			zap.String("stage", string(e.Stage)),
			zap.String("error_type", string(e.Type)),
			zap.Error(err),
		)
	}
}

// ReportErr records err with its derived type against an optional buyer.
func (r *Reporter) ReportErr(ctx context.Context, stage model.Stage, buyer *model.Buyer, err error) {
	if err == nil {
		return
	}
	e := Entry{
		Worker:  model.WorkerOf(stage),
		Stage:   stage,
		Type:    resilience.Typed(err),
		Message: err.Error(),
	}
	if buyer != nil {
		e.BuyerID = buyer.ID
		e.BuyerName = buyer.Name
	}
	r.Report(ctx, e)
}

// UnresolvedCount counts unresolved errors matching f.
func (r *Reporter) UnresolvedCount(ctx context.Context, f model.ErrorFilter) (int, error) {
	unresolved := false
	f.Resolved = &unresolved
	n, err := r.st.CountPipelineErrors(ctx, f)
	return n, eris.Wrap(err, "errlog: count unresolved")
}

// List returns errors matching f, newest first.
func (r *Reporter) List(ctx context.Context, f model.ErrorFilter) ([]model.PipelineError, error) {
	out, err := r.st.ListPipelineErrors(ctx, f)
	if err != nil {
		return nil, eris.Wrap(err, "errlog: list")
	}
	if out == nil {
		out = []model.PipelineError{}
	}
	return out, nil
}

// Resolve marks the given ids resolved, or every unresolved error matching
// f when ids is empty. An empty filter with no ids is rejected so a bare
// call cannot resolve everything.
func (r *Reporter) Resolve(ctx context.Context, ids []string, f model.ErrorFilter) (int, error) {
	if len(ids) == 0 && f.Worker == "" && f.Stage == "" && f.ErrorType == "" {
		return 0, eris.New("errlog: resolve requires ids or a filter")
	}
	n, err := r.st.ResolvePipelineErrors(ctx, ids, f)
	return n, eris.Wrap(err, "errlog: resolve")
}
