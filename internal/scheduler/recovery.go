package scheduler

import (
	"context"

	obsmetrics "github.com/smallbiznis/ziswaf/internal/observability/metrics"
	"go.uber.org/zap"
)

// RecoverySweepJob returns tasks abandoned in processing, for example by a
// crashed worker, to the pending queue.
func (s *Scheduler) RecoverySweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobRecoverySweep, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	recovered, err := s.queue.RecoverStuck(ctx)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.recovery.failed", JobRecoverySweep, err)
		return err
	}
	if recovered == 0 {
		return nil
	}
	run.AddProcessed(int(recovered))
	obsmetrics.Scheduler().AddBatchProcessed(JobRecoverySweep, "recompute_tasks", int(recovered))
	s.logger(ctx).Warn("scheduler.recovery.requeued",
		zap.Int64("tasks", recovered),
	)
	return nil
}
