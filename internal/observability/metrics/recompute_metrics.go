package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	RecomputeOutcomeCompleted = "completed"
	RecomputeOutcomeUnchanged = "unchanged"
	RecomputeOutcomeRetry     = "retry"
	RecomputeOutcomeDead      = "dead"
	RecomputeOutcomeDeferred  = "deferred"
)

// RecomputeMetrics tracks the recompute task queue.
type RecomputeMetrics struct {
	tasks     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	enqueued  *prometheus.CounterVec
	coalesced *prometheus.CounterVec
	dead      *prometheus.CounterVec
}

var (
	recomputeMetricsOnce sync.Once
	recomputeMetrics     *RecomputeMetrics
)

func Recompute() *RecomputeMetrics {
	return RecomputeWithConfig(Config{})
}

func RecomputeWithConfig(cfg Config) *RecomputeMetrics {
	recomputeMetricsOnce.Do(func() {
		recomputeMetrics = newRecomputeMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return recomputeMetrics
}

// ResetRecomputeMetricsForTest resets the recompute metrics singleton for tests.
func ResetRecomputeMetricsForTest() {
	recomputeMetricsOnce = sync.Once{}
	recomputeMetrics = nil
}

func newRecomputeMetrics(registerer prometheus.Registerer, cfg Config) *RecomputeMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)

	tasks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ziswaf_recompute_tasks_total",
		Help:        "Recompute task executions by type and outcome.",
		ConstLabels: labels,
	}, []string{"task_type", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "ziswaf_recompute_task_duration_seconds",
		Help:        "Recompute task latency.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		ConstLabels: labels,
	}, []string{"task_type"})
	enqueued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ziswaf_recompute_tasks_enqueued_total",
		Help:        "Recompute tasks enqueued by type.",
		ConstLabels: labels,
	}, []string{"task_type"})
	coalesced := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ziswaf_recompute_tasks_coalesced_total",
		Help:        "Enqueue requests folded into an existing pending task.",
		ConstLabels: labels,
	}, []string{"task_type"})
	dead := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ziswaf_recompute_tasks_dead_total",
		Help:        "Recompute tasks moved to the operator queue.",
		ConstLabels: labels,
	}, []string{"task_type", "reason"})

	registerer.MustRegister(tasks, duration, enqueued, coalesced, dead)

	return &RecomputeMetrics{
		tasks:     tasks,
		duration:  duration,
		enqueued:  enqueued,
		coalesced: coalesced,
		dead:      dead,
	}
}

func (m *RecomputeMetrics) IncOutcome(taskType, outcome string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(taskType, outcome).Inc()
}

func (m *RecomputeMetrics) ObserveDuration(taskType string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(taskType).Observe(d.Seconds())
}

func (m *RecomputeMetrics) IncEnqueued(taskType string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(taskType).Inc()
}

func (m *RecomputeMetrics) IncCoalesced(taskType string) {
	if m == nil {
		return
	}
	m.coalesced.WithLabelValues(taskType).Inc()
}

func (m *RecomputeMetrics) IncDead(taskType, reason string) {
	if m == nil {
		return
	}
	m.dead.WithLabelValues(taskType, reason).Inc()
}
