package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
)

// Invoker runs one invocation of a worker.
type Invoker interface {
	Run(ctx context.Context, w model.Worker, max int) (Summary, error)
}

// Scheduler triggers each worker on its own interval. A tick is skipped
// while the previous invocation of the same worker is still running.
type Scheduler struct {
	inv       Invoker
	intervals map[model.Worker]time.Duration
	running   map[model.Worker]*atomic.Bool
}

// ParseSchedule converts worker->duration strings into intervals.
func ParseSchedule(raw map[string]string) (map[model.Worker]time.Duration, error) {
	out := make(map[model.Worker]time.Duration, len(raw))
	for k, v := range raw {
		w := model.Worker(k)
		if len(model.StageOrder(w)) == 0 {
			return nil, eris.Errorf("runner: schedule names unknown worker %q", k)
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, eris.Wrapf(err, "runner: schedule interval for %s", k)
		}
		if d <= 0 {
			continue
		}
		out[w] = d
	}
	return out, nil
}

// NewScheduler creates a Scheduler for the given intervals.
func NewScheduler(inv Invoker, intervals map[model.Worker]time.Duration) *Scheduler {
	s := &Scheduler{
		inv:       inv,
		intervals: intervals,
		running:   make(map[model.Worker]*atomic.Bool, len(intervals)),
	}
	for w := range intervals {
		s.running[w] = &atomic.Bool{}
	}
	return s
}

// Start runs the tickers until ctx is cancelled, then waits for in-flight
// invocations to return.
func (s *Scheduler) Start(ctx context.Context) {
	log := zap.L().With(zap.String("component", "scheduler"))
	var wg sync.WaitGroup
	for w, every := range s.intervals {
		wg.Add(1)
		go func(w model.Worker, every time.Duration) {
			defer wg.Done()
			log.Info("worker scheduled", zap.String("worker", string(w)), zap.Duration("every", every))
			t := time.NewTicker(every)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					s.Trigger(ctx, w)
				}
			}
		}(w, every)
	}
	wg.Wait()
}

// Trigger runs one invocation of w unless one is already in flight. It
// reports whether the invocation ran.
func (s *Scheduler) Trigger(ctx context.Context, w model.Worker) bool {
	flag, ok := s.running[w]
	if !ok || !flag.CompareAndSwap(false, true) {
		zap.L().Debug("scheduler: skipping tick", zap.String("worker", string(w)))
		return false
	}
	defer flag.Store(false)

	sum, err := s.inv.Run(ctx, w, 0)
	if err != nil {
		zap.L().Error("scheduled run failed", zap.String("worker", string(w)), zap.Error(err))
		return true
	}
	zap.L().Info("scheduled run",
		zap.String("worker", string(w)),
		zap.String("stage", string(sum.Stage)),
		zap.Int("processed", sum.Processed),
		zap.Int("errors", sum.Errors),
		zap.Bool("done", sum.Done),
	)
	return true
}
