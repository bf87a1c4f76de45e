package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "wrapped_deadline",
			err:  fmt.Errorf("rebuild: %w", context.DeadlineExceeded),
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "deadlock",
			err:  &pgconn.PgError{Code: "40P01"},
			want: SchedulerJobReasonDeadlock,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsTransientError(t *testing.T) {
	if !IsTransientError(context.DeadlineExceeded) {
		t.Fatalf("expected deadline to be transient")
	}
	if !IsTransientError(&pgconn.PgError{Code: "40001"}) {
		t.Fatalf("expected serialization failure to be transient")
	}
	if IsTransientError(errors.New("configuration missing")) {
		t.Fatalf("expected plain error to be permanent")
	}
	if IsTransientError(gorm.ErrRecordNotFound) {
		t.Fatalf("expected record not found to be permanent")
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "ziswaf",
		Environment: "test",
	})

	metrics.AddBatchProcessed("recompute_drain", "recompute_tasks", 3)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("recompute_drain", "recompute_tasks"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestRecomputeMetricsCountsDeadTasks(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newRecomputeMetrics(registry, Config{ServiceName: "ziswaf", Environment: "test"})

	metrics.IncDead("allocation_recap", "configuration_missing")
	metrics.IncDead("allocation_recap", "configuration_missing")

	got := testutil.ToFloat64(metrics.dead.WithLabelValues("allocation_recap", "configuration_missing"))
	if got != 2 {
		t.Fatalf("expected dead count 2, got %v", got)
	}
}
