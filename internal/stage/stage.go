// Package stage defines the contract every pipeline stage implements and
// the batch loop that isolates per-item failures.
package stage

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
)

// Stage processes buyers one at a time. Implementations must be idempotent
// per buyer: reprocessing a buyer after a crash writes nothing new.
type Stage interface {
	// Name returns the persisted stage name.
	Name() model.Stage

	// Filter returns the membership predicate of buyers this stage visits.
	Filter() model.BuyerFilter

	// CheckConfig returns a resilience.ConfigError when credentials the
	// stage needs are missing.
	CheckConfig() error

	// Process enriches one buyer. Errors are recorded against the buyer and
	// the batch continues, unless the error is wrapped with Fatal.
	Process(ctx context.Context, b *model.Buyer) error
}

// Paged is a stage whose cursor is an opaque provider page token rather
// than a buyer id.
type Paged interface {
	Name() model.Stage
	CheckConfig() error
	// RunPages consumes pages starting at cursor until budget items have been
	// handled or the source is exhausted. The returned cursor must point at
	// the first unprocessed page.
	RunPages(ctx context.Context, cursor string, budget int) (PageResult, error)
}

// ItemError is one recorded item failure.
type ItemError struct {
	BuyerID   string
	BuyerName string
	Type      model.ErrorType
	Message   string
}

// Result is the outcome of one batch.
type Result struct {
	Processed  int
	Errors     int
	ItemErrors []ItemError
	// LastID is the id of the last buyer visited, the safe cursor when the
	// batch was cut short.
	LastID string
	// Interrupted reports that the batch stopped before the final item.
	Interrupted bool
}

// PageResult is the outcome of a paged run.
type PageResult struct {
	Processed  int
	Errors     int
	ItemErrors []ItemError
	NextCursor string
	Exhausted  bool
}

// Messages renders item errors for the job error log.
func (r Result) Messages() []string {
	return messages(r.ItemErrors)
}

// Messages renders item errors for the job error log.
func (r PageResult) Messages() []string {
	return messages(r.ItemErrors)
}

func messages(errs []ItemError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.BuyerName != "" {
			out = append(out, e.BuyerName+": "+e.Message)
			continue
		}
		out = append(out, e.Message)
	}
	return out
}

// fatalError marks an infrastructure failure that must abort the batch.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so RunBatch aborts instead of recording an item error.
// Stages use it for store failures, where continuing would only repeat the
// failure for every remaining buyer.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was wrapped with Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// RunBatch calls s.Process for each buyer in order under a per-item timeout.
// Item errors are classified and collected; a Fatal error or a cancelled
// context stops the loop. The returned error is non-nil only for Fatal
// errors and cancellation, and the Result still reflects the items visited.
func RunBatch(ctx context.Context, s Stage, buyers []model.Buyer, itemTimeout time.Duration) (Result, error) {
	log := zap.L().With(zap.String("component", "stage"), zap.String("stage", string(s.Name())))
	var res Result

	for i := range buyers {
		if err := ctx.Err(); err != nil {
			res.Interrupted = true
			return res, eris.Wrap(err, "stage: batch cancelled")
		}

		b := &buyers[i]
		err := processOne(ctx, s, b, itemTimeout)
		if ctx.Err() != nil {
			// The item may be half done; leave it for the next invocation.
			res.Interrupted = true
			return res, eris.Wrap(ctx.Err(), "stage: batch cancelled")
		}
		if err != nil && IsFatal(err) {
			res.Interrupted = true
			return res, eris.Wrapf(err, "stage: %s aborted at buyer %s", s.Name(), b.ID)
		}

		res.Processed++
		res.LastID = b.ID
		if err == nil {
			continue
		}

		res.Errors++
		typ := resilience.Typed(err)
		res.ItemErrors = append(res.ItemErrors, ItemError{
			BuyerID:   b.ID,
			BuyerName: b.Name,
			Type:      typ,
			Message:   err.Error(),
		})
		log.Warn("item failed",
			zap.String("buyer_id", b.ID),
			zap.String("error_type", string(typ)),
			zap.String("class", string(resilience.Classify(err))),
			zap.Error(err),
		)
	}
	return res, nil
}

// processOne runs a single item, converting panics into item errors so one
// malformed page cannot take down the invocation.
func processOne(ctx context.Context, s Stage, b *model.Buyer, timeout time.Duration) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("stage: panic processing %s: %v", b.ID, r)
		}
	}()
	return s.Process(ctx, b)
}
