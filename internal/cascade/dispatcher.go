package cascade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/ziswaf/internal/cascade/domain"
	"github.com/smallbiznis/ziswaf/internal/clock"
	"github.com/smallbiznis/ziswaf/internal/config"
	"github.com/smallbiznis/ziswaf/internal/lock"
	obscontext "github.com/smallbiznis/ziswaf/internal/observability/context"
	obslogger "github.com/smallbiznis/ziswaf/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ziswaf/internal/observability/metrics"
	"github.com/smallbiznis/ziswaf/internal/observability/tracing"
	recapdomain "github.com/smallbiznis/ziswaf/internal/recap/domain"
	recapservice "github.com/smallbiznis/ziswaf/internal/recap/service"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	deferDelay  = time.Second
	lockPadding = 30 * time.Second

	reasonConfigurationMissing = "configuration_missing"
	reasonConsistencyViolation = "consistency_violation"
	reasonInvalidUnit          = "invalid_unit"
	reasonMaxAttempts          = "max_attempts"
)

type DispatcherParams struct {
	fx.In

	Queue    *Queue
	Locker   lock.Locker
	Builders recapservice.Builders
	Config   config.Config
	Clock    clock.Clock
	Log      *zap.Logger
	Metrics  *obsmetrics.RecomputeMetrics `optional:"true"`
}

// Dispatcher runs claimed tasks on a bounded pool. Tasks for the same
// recap row never run at the same time.
type Dispatcher struct {
	queue    *Queue
	locker   lock.Locker
	builders recapservice.Builders
	cfg      config.WorkerConfig
	clock    clock.Clock
	log      *zap.Logger
	metrics  *obsmetrics.RecomputeMetrics
	tracer   trace.Tracer
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		queue:    p.Queue,
		locker:   p.Locker,
		builders: p.Builders,
		cfg:      workerDefaults(p.Config.Worker),
		clock:    p.Clock,
		log:      p.Log.Named("cascade.dispatcher"),
		metrics:  p.Metrics,
		tracer:   otel.Tracer("ziswaf/cascade"),
	}
}

// Drain claims and runs due tasks until none are left or ctx ends. It
// returns the number of tasks run.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		tasks, err := d.queue.Claim(ctx, d.cfg.BatchSize)
		if err != nil {
			return processed, err
		}
		if len(tasks) == 0 {
			return processed, nil
		}

		g := new(errgroup.Group)
		g.SetLimit(d.cfg.Concurrency)
		for i := range tasks {
			task := &tasks[i]
			g.Go(func() error {
				return d.Process(ctx, task)
			})
		}
		processed += len(tasks)
		if err := g.Wait(); err != nil {
			return processed, err
		}
	}
}

// Process runs one claimed task and records its outcome. The returned
// error is only about queue bookkeeping; task failures are recorded on
// the task itself. Bookkeeping outlives ctx so a cancelled task is
// retried rather than left in processing.
func (d *Dispatcher) Process(ctx context.Context, task *domain.Task) error {
	start := d.clock.Now()
	taskType := string(task.TaskType)
	ctx = obscontext.WithUnitID(ctx, task.UnitID.String())
	bookkeeping := context.WithoutCancel(ctx)
	log := obslogger.WithTask(obslogger.WithContext(ctx, d.log), task.ID.String(), taskType, task.PeriodKey, task.Attempts).
		With(zap.String("dedupe_key", task.DedupeKey))

	held, err := d.locker.Obtain(ctx, task.DedupeKey, d.cfg.TaskTimeout+lockPadding)
	if errors.Is(err, lock.ErrNotObtained) {
		d.metrics.IncOutcome(taskType, obsmetrics.RecomputeOutcomeDeferred)
		return d.queue.Defer(bookkeeping, task, deferDelay)
	}
	if err != nil {
		return d.fail(bookkeeping, log, task, fmt.Errorf("obtain lock: %w", err))
	}
	defer func() {
		if err := held.Release(bookkeeping); err != nil {
			log.Warn("recompute.lock.release_failed", zap.Error(err))
		}
	}()

	taskCtx, cancel := context.WithTimeout(ctx, d.cfg.TaskTimeout)
	defer cancel()
	taskCtx, span := d.tracer.Start(taskCtx, "recompute."+taskType, trace.WithAttributes(
		tracing.SafeAttributes(
			attribute.String("recompute.task_type", taskType),
			attribute.String("recompute.granularity", string(task.Granularity)),
			attribute.String("recompute.period_key", task.PeriodKey),
			attribute.Int("recompute.attempt", task.Attempts),
		)...,
	))
	defer span.End()

	changed, err := d.run(taskCtx, task)
	d.metrics.ObserveDuration(taskType, d.clock.Now().Sub(start))
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "recompute failed")
		return d.fail(bookkeeping, log, task, err)
	}

	var next []domain.Spec
	outcome := obsmetrics.RecomputeOutcomeUnchanged
	if changed {
		next = FanOut(task)
		outcome = obsmetrics.RecomputeOutcomeCompleted
	}
	if err := d.queue.Complete(bookkeeping, task, next); err != nil {
		return err
	}
	d.metrics.IncOutcome(taskType, outcome)
	log.Debug("recompute.task.completed", zap.Bool("changed", changed), zap.Int("follow_ups", len(next)))
	return nil
}

func (d *Dispatcher) run(ctx context.Context, task *domain.Task) (bool, error) {
	ref := task.Ref()
	switch task.TaskType {
	case domain.TaskTransactionRecap:
		return d.builders.Transaction.Rebuild(ctx, task.UnitID, ref)
	case domain.TaskAllocationRecap:
		return d.builders.Allocation.Rebuild(ctx, task.UnitID, ref)
	case domain.TaskDistributionRecap:
		return d.builders.Distribution.Rebuild(ctx, task.UnitID, ref)
	case domain.TaskAmilRightsRecap:
		return d.builders.AmilRights.Rebuild(ctx, task.UnitID, ref)
	case domain.TaskUnitRollup:
		return d.builders.Unit.Rebuild(ctx, task.UnitID, ref)
	}
	return false, fmt.Errorf("%w: %s", domain.ErrUnknownType, task.TaskType)
}

func (d *Dispatcher) fail(ctx context.Context, log *zap.Logger, task *domain.Task, cause error) error {
	taskType := string(task.TaskType)
	reason := permanentReason(cause)
	if reason == "" && task.Attempts >= d.cfg.MaxAttempts {
		reason = reasonMaxAttempts
	}

	if reason != "" {
		if err := d.queue.Kill(ctx, task, reason, cause); err != nil {
			return err
		}
		d.metrics.IncOutcome(taskType, obsmetrics.RecomputeOutcomeDead)
		log.Error("recompute.task.dead",
			zap.String("reason", reason),
			zap.String("unit_id", task.UnitID.String()),
			zap.String("period", task.Ref().String()),
			zap.Error(cause),
		)
		return nil
	}

	next, err := d.queue.Retry(ctx, task, cause)
	if err != nil {
		return err
	}
	d.metrics.IncOutcome(taskType, obsmetrics.RecomputeOutcomeRetry)
	log.Warn("recompute.task.retry",
		zap.Time("next_attempt_at", next),
		zap.Bool("transient", obsmetrics.IsTransientError(cause)),
		zap.String("reason", obsmetrics.ClassifySchedulerJobReason(cause)),
		zap.Error(cause),
	)
	return nil
}

// permanentReason names failures that another attempt cannot fix.
func permanentReason(err error) string {
	switch {
	case errors.Is(err, recapdomain.ErrConfigurationMissing):
		return reasonConfigurationMissing
	case errors.Is(err, recapdomain.ErrConsistencyViolation):
		return reasonConsistencyViolation
	case errors.Is(err, recapdomain.ErrInvalidUnit), errors.Is(err, domain.ErrUnknownType):
		return reasonInvalidUnit
	}
	return ""
}

// FanOut lists the tasks that depend on the row a task just changed.
func FanOut(task *domain.Task) []domain.Spec {
	ref := task.Ref()
	same := func(t domain.TaskType) domain.Spec {
		return domain.Spec{Type: t, UnitID: task.UnitID, Ref: ref}
	}
	parent := func(t domain.TaskType) []domain.Spec {
		p, ok := ref.Parent()
		if !ok {
			return nil
		}
		return []domain.Spec{{Type: t, UnitID: task.UnitID, Ref: p}}
	}

	switch task.TaskType {
	case domain.TaskTransactionRecap:
		return append(parent(domain.TaskTransactionRecap), same(domain.TaskAllocationRecap))
	case domain.TaskAllocationRecap:
		return []domain.Spec{same(domain.TaskUnitRollup)}
	case domain.TaskDistributionRecap:
		return append(parent(domain.TaskDistributionRecap), same(domain.TaskUnitRollup))
	case domain.TaskAmilRightsRecap:
		return append(parent(domain.TaskAmilRightsRecap), same(domain.TaskUnitRollup))
	}
	return nil
}
