package cascade

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ziswaf/internal/cascade/domain"
	"github.com/smallbiznis/ziswaf/internal/clock"
	"github.com/smallbiznis/ziswaf/internal/config"
	obsmetrics "github.com/smallbiznis/ziswaf/internal/observability/metrics"
	"github.com/smallbiznis/ziswaf/internal/period"
	unitdomain "github.com/smallbiznis/ziswaf/internal/unit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxErrorLength = 1024

type QueueParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Config  config.Config
	Units   unitdomain.Repository
	Metrics *obsmetrics.RecomputeMetrics `optional:"true"`
}

// Queue is the recompute_tasks table. Writers enqueue inside their own
// transaction; the dispatcher claims, completes and fails tasks.
type Queue struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	cfg     config.WorkerConfig
	units   unitdomain.Repository
	metrics *obsmetrics.RecomputeMetrics
}

func NewQueue(p QueueParams) *Queue {
	return &Queue{
		db:      p.DB,
		log:     p.Log.Named("cascade.queue"),
		genID:   p.GenID,
		clock:   p.Clock,
		cfg:     workerDefaults(p.Config.Worker),
		units:   p.Units,
		metrics: p.Metrics,
	}
}

func workerDefaults(cfg config.WorkerConfig) config.WorkerConfig {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 120 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 10 * time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Minute
	}
	if cfg.RecoveryThreshold <= 0 {
		cfg.RecoveryThreshold = 15 * time.Minute
	}
	return cfg
}

// Enqueue adds tasks using tx, folding each into a pending task with the
// same key when there is one.
func (q *Queue) Enqueue(ctx context.Context, tx *gorm.DB, source string, specs ...domain.Spec) error {
	if tx == nil {
		tx = q.db
	}
	now := q.clock.Now().UTC()
	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		key := spec.DedupeKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		res := tx.WithContext(ctx).Exec(
			`UPDATE recompute_tasks
			 SET next_attempt_at = CASE WHEN next_attempt_at > ? THEN ? ELSE next_attempt_at END,
			     updated_at = ?
			 WHERE dedupe_key = ? AND status = ?`,
			now, now, now, key, domain.StatusPending,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			q.metrics.IncCoalesced(string(spec.Type))
			continue
		}

		task := &domain.Task{
			ID:            q.genID.Generate(),
			TaskType:      spec.Type,
			UnitID:        spec.UnitID,
			Granularity:   spec.Ref.Granularity,
			PeriodKey:     spec.Ref.Key(),
			PeriodDate:    spec.Ref.Start,
			DedupeKey:     key,
			Status:        domain.StatusPending,
			NextAttemptAt: now,
			Source:        truncate(source, 64),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.WithContext(ctx).Create(task).Error; err != nil {
			return err
		}
		q.metrics.IncEnqueued(string(spec.Type))
	}
	return nil
}

// Claim moves up to limit due tasks to processing. A task another worker
// claimed first is skipped.
func (q *Queue) Claim(ctx context.Context, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = q.cfg.BatchSize
	}
	now := q.clock.Now().UTC()

	var due []domain.Task
	err := q.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", domain.StatusPending, now).
		Order("next_attempt_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]domain.Task, 0, len(due))
	for _, task := range due {
		res := q.db.WithContext(ctx).Exec(
			`UPDATE recompute_tasks
			 SET status = ?, attempts = attempts + 1, locked_at = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			domain.StatusProcessing, now, now, task.ID, domain.StatusPending,
		)
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		task.Status = domain.StatusProcessing
		task.Attempts++
		task.LockedAt = &now
		claimed = append(claimed, task)
	}
	return claimed, nil
}

// Complete marks a task done and enqueues its follow-ups atomically.
func (q *Queue) Complete(ctx context.Context, task *domain.Task, next []domain.Spec) error {
	now := q.clock.Now().UTC()
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Exec(
			`UPDATE recompute_tasks
			 SET status = ?, locked_at = NULL, last_error = NULL, updated_at = ?
			 WHERE id = ?`,
			domain.StatusCompleted, now, task.ID,
		).Error
		if err != nil {
			return err
		}
		if len(next) == 0 {
			return nil
		}
		return q.Enqueue(ctx, tx, string(task.TaskType), next...)
	})
}

// Defer returns a claimed task to pending without counting the attempt.
func (q *Queue) Defer(ctx context.Context, task *domain.Task, delay time.Duration) error {
	now := q.clock.Now().UTC()
	return q.db.WithContext(ctx).Exec(
		`UPDATE recompute_tasks
		 SET status = ?, attempts = attempts - 1, locked_at = NULL, next_attempt_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusPending, now.Add(delay), now, task.ID, domain.StatusProcessing,
	).Error
}

// Retry schedules another attempt with exponential backoff.
func (q *Queue) Retry(ctx context.Context, task *domain.Task, cause error) (time.Time, error) {
	now := q.clock.Now().UTC()
	next := now.Add(q.Backoff(task.Attempts))
	msg := truncate(cause.Error(), maxErrorLength)
	err := q.db.WithContext(ctx).Exec(
		`UPDATE recompute_tasks
		 SET status = ?, locked_at = NULL, next_attempt_at = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		domain.StatusPending, next, msg, now, task.ID,
	).Error
	return next, err
}

// Kill moves a task to the operator queue.
func (q *Queue) Kill(ctx context.Context, task *domain.Task, reason string, cause error) error {
	now := q.clock.Now().UTC()
	msg := truncate(cause.Error(), maxErrorLength)
	reason = truncate(reason, 64)
	err := q.db.WithContext(ctx).Exec(
		`UPDATE recompute_tasks
		 SET status = ?, locked_at = NULL, last_error = ?, dead_reason = ?, updated_at = ?
		 WHERE id = ?`,
		domain.StatusDead, msg, reason, now, task.ID,
	).Error
	if err != nil {
		return err
	}
	q.metrics.IncDead(string(task.TaskType), reason)
	return nil
}

// Backoff is base * 2^(attempt-1), capped.
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := q.cfg.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= q.cfg.RetryMaxDelay {
			return q.cfg.RetryMaxDelay
		}
	}
	return d
}

// RecoverStuck returns tasks left in processing past the threshold to
// pending. The attempt they used stays counted, so a task that has
// already used its last attempt is killed instead.
func (q *Queue) RecoverStuck(ctx context.Context) (int64, error) {
	now := q.clock.Now().UTC()
	cutoff := now.Add(-q.cfg.RecoveryThreshold)

	var exhausted []domain.Task
	err := q.db.WithContext(ctx).
		Where("status = ? AND locked_at <= ? AND attempts >= ?", domain.StatusProcessing, cutoff, q.cfg.MaxAttempts).
		Find(&exhausted).Error
	if err != nil {
		return 0, err
	}

	var recovered int64
	for _, task := range exhausted {
		msg := fmt.Sprintf("abandoned in processing after %d attempts", task.Attempts)
		res := q.db.WithContext(ctx).Exec(
			`UPDATE recompute_tasks
			 SET status = ?, locked_at = NULL, last_error = ?, dead_reason = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			domain.StatusDead, msg, reasonMaxAttempts, now, task.ID, domain.StatusProcessing,
		)
		if res.Error != nil {
			return recovered, res.Error
		}
		if res.RowsAffected > 0 {
			recovered++
			q.metrics.IncDead(string(task.TaskType), reasonMaxAttempts)
		}
	}

	res := q.db.WithContext(ctx).Exec(
		`UPDATE recompute_tasks
		 SET status = ?, locked_at = NULL, next_attempt_at = ?, updated_at = ?
		 WHERE status = ? AND locked_at <= ? AND attempts < ?`,
		domain.StatusPending, now, now, domain.StatusProcessing, cutoff, q.cfg.MaxAttempts,
	)
	return recovered + res.RowsAffected, res.Error
}

// PurgeCompleted deletes completed tasks last touched before the cutoff.
func (q *Queue) PurgeCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := q.clock.Now().UTC().Add(-olderThan)
	res := q.db.WithContext(ctx).Exec(
		`DELETE FROM recompute_tasks WHERE status = ? AND updated_at < ?`,
		domain.StatusCompleted, cutoff,
	)
	return res.RowsAffected, res.Error
}

func (q *Queue) ListDead(ctx context.Context, limit int) ([]domain.Task, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	tasks := []domain.Task{}
	err := q.db.WithContext(ctx).
		Where("status = ?", domain.StatusDead).
		Order("updated_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

// Requeue gives a dead task a fresh set of attempts.
func (q *Queue) Requeue(ctx context.Context, id string) (*domain.Task, error) {
	taskID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || taskID == 0 {
		return nil, domain.ErrNotFound
	}

	now := q.clock.Now().UTC()
	var task domain.Task
	err = q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", taskID).Take(&task).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if task.Status != domain.StatusDead {
			return domain.ErrNotDead
		}
		task.Status = domain.StatusPending
		task.Attempts = 0
		task.NextAttemptAt = now
		task.DeadReason = nil
		task.UpdatedAt = now
		return tx.Save(&task).Error
	})
	if err != nil {
		return nil, err
	}
	q.log.Info("recompute.task.requeued",
		zap.String("task_id", task.ID.String()),
		zap.String("task_type", string(task.TaskType)),
		zap.String("dedupe_key", task.DedupeKey),
	)
	return &task, nil
}

// RequestRebuild enqueues every recap of a unit for each day in [from, to]
// and for the months and years those days touch.
func (q *Queue) RequestRebuild(ctx context.Context, req domain.RebuildRequest) (*domain.RebuildResponse, error) {
	unitID, err := snowflake.ParseString(strings.TrimSpace(req.UnitID))
	if err != nil || unitID == 0 {
		return nil, domain.ErrInvalidUnit
	}
	unit, err := q.units.FindByID(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, domain.ErrInvalidUnit
	}

	from, err := period.Parse(period.Daily, strings.TrimSpace(req.From))
	if err != nil {
		return nil, domain.ErrInvalidRange
	}
	to, err := period.Parse(period.Daily, strings.TrimSpace(req.To))
	if err != nil || to.Before(from) {
		return nil, domain.ErrInvalidRange
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > domain.MaxRebuildDays {
		return nil, fmt.Errorf("%w: %d days", domain.ErrRangeTooWide, days)
	}

	specs := rebuildSpecs(unitID, from, to)
	source := "rebuild:" + strconv.FormatInt(int64(unitID), 10)
	err = q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return q.Enqueue(ctx, tx, source, specs...)
	})
	if err != nil {
		return nil, err
	}
	q.log.Info("recompute.rebuild.requested",
		zap.String("unit_id", unitID.String()),
		zap.String("from", req.From),
		zap.String("to", req.To),
		zap.Int("tasks", len(specs)),
	)
	return &domain.RebuildResponse{Enqueued: len(specs)}, nil
}

var rebuildOrder = []domain.TaskType{
	domain.TaskTransactionRecap,
	domain.TaskDistributionRecap,
	domain.TaskAmilRightsRecap,
	domain.TaskAllocationRecap,
	domain.TaskUnitRollup,
}

func rebuildSpecs(unitID snowflake.ID, from, to time.Time) []domain.Spec {
	var specs []domain.Spec
	seen := map[string]struct{}{}
	add := func(ref period.Ref) {
		if _, ok := seen[ref.String()]; ok {
			return
		}
		seen[ref.String()] = struct{}{}
		for _, t := range rebuildOrder {
			specs = append(specs, domain.Spec{Type: t, UnitID: unitID, Ref: ref})
		}
	}
	// Finer rows first so coarser rows read fresh children.
	for _, g := range period.All() {
		for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
			add(period.NewRef(g, d))
		}
	}
	return specs
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
