package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/ziswaf/internal/clock"
	obsmetrics "github.com/smallbiznis/ziswaf/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDrainer struct {
	calls int
	n     int
	err   error
}

func (f *fakeDrainer) Drain(context.Context) (int, error) {
	f.calls++
	return f.n, f.err
}

type fakeQueue struct {
	recoverCalls int
	purgeCalls   int
	retention    time.Duration
	recovered    int64
}

func (f *fakeQueue) RecoverStuck(context.Context) (int64, error) {
	f.recoverCalls++
	return f.recovered, nil
}

func (f *fakeQueue) PurgeCompleted(_ context.Context, olderThan time.Duration) (int64, error) {
	f.purgeCalls++
	f.retention = olderThan
	return 3, nil
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *fakeDrainer, *fakeQueue, *clock.FakeClock) {
	t.Helper()
	restore := swapPrometheusRegistry(prometheus.NewRegistry())
	t.Cleanup(restore)
	obsmetrics.ResetSchedulerMetricsForTest()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	drainer := &fakeDrainer{n: 4}
	queue := &fakeQueue{}
	s := &Scheduler{
		log:     zap.NewNop(),
		cfg:     cfg.withDefaults(),
		genID:   node,
		clock:   clk,
		drainer: drainer,
		queue:   queue,
	}
	return s, drainer, queue, clk
}

func TestRunOnceRunsEveryJobByDefault(t *testing.T) {
	s, drainer, queue, _ := newTestScheduler(t, Config{})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, drainer.calls)
	assert.Equal(t, 1, queue.recoverCalls)
	assert.Equal(t, 1, queue.purgeCalls)
	assert.Equal(t, 7*24*time.Hour, queue.retention)
}

func TestRunOnceHonoursEnabledJobs(t *testing.T) {
	s, drainer, queue, _ := newTestScheduler(t, Config{EnabledJobs: []string{"RECOMPUTE_DRAIN"}})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, drainer.calls)
	assert.Zero(t, queue.recoverCalls)
	assert.Zero(t, queue.purgeCalls)
}

func TestCleanupRunsOncePerInterval(t *testing.T) {
	s, drainer, queue, clk := newTestScheduler(t, Config{CleanupInterval: time.Hour})
	ctx := context.Background()

	require.NoError(t, s.RunOnce(ctx))
	clk.Advance(30 * time.Minute)
	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, 1, queue.purgeCalls)
	assert.Equal(t, 2, drainer.calls)

	clk.Advance(30 * time.Minute)
	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, 2, queue.purgeCalls)
}

func TestDrainErrorIsReturned(t *testing.T) {
	s, drainer, _, _ := newTestScheduler(t, Config{EnabledJobs: []string{JobRecomputeDrain}})
	drainer.err = errors.New("claim failed")

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobRecomputeDrain)
}
