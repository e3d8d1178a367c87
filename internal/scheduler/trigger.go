package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailpipe/internal/models"
	"mailpipe/internal/worker"
)

// Processor is the single entry point both triggers invoke.
type Processor interface {
	Process(ctx context.Context) (worker.Result, error)
}

// QueueReader is the cheap read surface the triggers need: an existence
// check and status counts for the post-run pending report.
type QueueReader interface {
	HasEligible(ctx context.Context, now time.Time) (bool, error)
	CountByStatus(ctx context.Context) (map[models.EmailStatus]int64, error)
}

// CheckResult is what the existence-check trigger reports.
type CheckResult struct {
	HasPending bool           `json:"has_pending"`
	Process    *worker.Result `json:"process_result,omitempty"`
}

// InvokeResult is what the manual trigger reports.
type InvokeResult struct {
	Process          worker.Result `json:"process_result"`
	RemainingPending int64         `json:"remaining_pending"`
}

// Trigger holds the two stateless entry points into the worker. Both may
// run concurrently; the store's atomic claim is the only coordination.
type Trigger struct {
	processor Processor
	queue     QueueReader
	logger    *zap.Logger
	now       func() time.Time
}

func NewTrigger(processor Processor, queue QueueReader, logger *zap.Logger) *Trigger {
	return &Trigger{
		processor: processor,
		queue:     queue,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the trigger's clock. Tests only.
func (t *Trigger) WithClock(now func() time.Time) *Trigger {
	t.now = now
	return t
}

// CheckAndInvoke runs the worker only if at least one eligible job exists,
// so an empty queue costs a single existence query instead of a full
// invocation.
func (t *Trigger) CheckAndInvoke(ctx context.Context) (CheckResult, error) {
	hasPending, err := t.queue.HasEligible(ctx, t.now())
	if err != nil {
		return CheckResult{}, err
	}

	if !hasPending {
		return CheckResult{HasPending: false}, nil
	}

	result, err := t.processor.Process(ctx)
	if err != nil {
		return CheckResult{HasPending: true}, err
	}

	return CheckResult{HasPending: true, Process: &result}, nil
}

// Invoke runs the worker unconditionally and reports how many jobs are
// still pending afterwards. Operator-initiated.
func (t *Trigger) Invoke(ctx context.Context) (InvokeResult, error) {
	result, err := t.processor.Process(ctx)
	if err != nil {
		return InvokeResult{}, err
	}

	counts, err := t.queue.CountByStatus(ctx)
	if err != nil {
		return InvokeResult{Process: result}, err
	}

	return InvokeResult{
		Process:          result,
		RemainingPending: counts[models.StatusPending],
	}, nil
}

// Run ticks the existence-check trigger until the context ends. Each tick
// runs to completion before the next is read; a slow batch simply delays
// later ticks since the ticker coalesces missed fires.
func (t *Trigger) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.logger.Info("scheduler started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("scheduler stopped")
			return

		case <-ticker.C:
			res, err := t.CheckAndInvoke(ctx)
			if err != nil {
				t.logger.Error("scheduled run failed", zap.Error(err))
				continue
			}
			if res.Process != nil {
				t.logger.Info("scheduled run finished",
					zap.Int("processed", res.Process.Processed),
					zap.Int("failed", res.Process.Failed),
					zap.Int("total", res.Process.TotalJobs),
				)
			}
		}
	}
}
