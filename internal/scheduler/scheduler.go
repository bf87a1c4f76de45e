package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ziswaf/internal/cascade"
	"github.com/smallbiznis/ziswaf/internal/clock"
	obsmetrics "github.com/smallbiznis/ziswaf/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobRecomputeDrain   = "recompute_drain"
	JobRecoverySweep    = "recovery_sweep"
	JobRecomputeCleanup = "recompute_cleanup"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Drainer runs due recompute tasks.
type Drainer interface {
	Drain(ctx context.Context) (int, error)
}

// TaskMaintainer keeps the recompute queue healthy.
type TaskMaintainer interface {
	RecoverStuck(ctx context.Context) (int64, error)
	PurgeCompleted(ctx context.Context, olderThan time.Duration) (int64, error)
}

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Dispatcher *cascade.Dispatcher
	Queue      *cascade.Queue
	Config     Config `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	drainer Drainer
	queue   TaskMaintainer

	mu          sync.Mutex
	lastCleanup time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Dispatcher == nil || p.Queue == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		drainer: p.Dispatcher,
		queue:   p.Queue,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A drain cut short by its deadline resumes on the next tick.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobRecoverySweep, s.isJobEnabled(JobRecoverySweep), func(ctx context.Context) error {
			return s.runJob(ctx, JobRecoverySweep, s.cfg.BatchSize, 30*time.Second, s.RecoverySweepJob)
		}},
		{JobRecomputeDrain, s.isJobEnabled(JobRecomputeDrain), func(ctx context.Context) error {
			return s.runJob(ctx, JobRecomputeDrain, s.cfg.BatchSize, s.cfg.DrainTimeout, s.DrainJob)
		}},
		{JobRecomputeCleanup, s.isJobEnabled(JobRecomputeCleanup) && s.cleanupDue(), func(ctx context.Context) error {
			return s.runJob(ctx, JobRecomputeCleanup, s.cfg.BatchSize, time.Minute, s.CleanupJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty list enables every job (single worker mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// DrainJob runs every due recompute task, fan-out included.
func (s *Scheduler) DrainJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobRecomputeDrain, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	processed, err := s.drainer.Drain(ctx)
	run.AddProcessed(processed)
	obsmetrics.Scheduler().AddBatchProcessed(JobRecomputeDrain, "recompute_tasks", processed)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.drain.failed", JobRecomputeDrain, err,
			zap.Int("processed_count", processed),
		)
	}
	return err
}

// CleanupJob removes completed tasks past the retention window.
func (s *Scheduler) CleanupJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobRecomputeCleanup, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	purged, err := s.queue.PurgeCompleted(ctx, s.cfg.CompletedRetention)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.cleanup.failed", JobRecomputeCleanup, err)
		return err
	}
	run.AddProcessed(int(purged))
	obsmetrics.Scheduler().AddBatchProcessed(JobRecomputeCleanup, "recompute_tasks", int(purged))

	s.mu.Lock()
	s.lastCleanup = s.clock.Now()
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) cleanupDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCleanup.IsZero() || !s.clock.Now().Before(s.lastCleanup.Add(s.cfg.CleanupInterval))
}
