package metricspush

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	cascadedomain "github.com/smallbiznis/ziswaf/internal/cascade/domain"
	"gorm.io/gorm"
)

// Backlog exposes recompute queue depth by status. The worker has no
// /metrics endpoint, so the gauge rides along with each push.
type Backlog struct {
	db    *gorm.DB
	gauge *prometheus.GaugeVec
}

func NewBacklog(db *gorm.DB, registerer prometheus.Registerer) (*Backlog, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ziswaf_recompute_tasks",
		Help: "Recompute tasks by status.",
	}, []string{"status"})
	if err := registerer.Register(gauge); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		gauge = already.ExistingCollector.(*prometheus.GaugeVec)
	}
	return &Backlog{db: db, gauge: gauge}, nil
}

type statusCount struct {
	Status string
	Count  int64
}

// Refresh reloads the counts. Statuses with no rows report zero.
func (b *Backlog) Refresh(ctx context.Context) error {
	var rows []statusCount
	if err := b.db.WithContext(ctx).
		Model(&cascadedomain.Task{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return err
	}

	counts := map[string]int64{
		string(cascadedomain.StatusPending):    0,
		string(cascadedomain.StatusProcessing): 0,
		string(cascadedomain.StatusCompleted):  0,
		string(cascadedomain.StatusDead):       0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	for status, n := range counts {
		b.gauge.WithLabelValues(status).Set(float64(n))
	}
	return nil
}
