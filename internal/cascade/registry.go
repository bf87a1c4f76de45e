package cascade

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ziswaf/internal/cascade/domain"
	"github.com/smallbiznis/ziswaf/internal/events"
	obsmetrics "github.com/smallbiznis/ziswaf/internal/observability/metrics"
	"github.com/smallbiznis/ziswaf/internal/period"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Subscriber turns a source event into recompute tasks. It may read through
// tx, which is the writer's open transaction.
type Subscriber struct {
	Name       string
	RecordType events.RecordType
	Handle     func(ctx context.Context, tx *gorm.DB, evt events.Event) ([]domain.Spec, error)
}

// Registry is the ordered list of subscribers.
type Registry struct {
	subscribers []Subscriber
}

func NewRegistry(subs ...Subscriber) *Registry {
	return &Registry{subscribers: subs}
}

// DefaultRegistry wires every source record type to the recaps it feeds.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Subscriber{Name: "transaction_recap", RecordType: events.RecordFundTransaction, Handle: dailyTasks(domain.TaskTransactionRecap)},
		Subscriber{Name: "distribution_recap", RecordType: events.RecordDistribution, Handle: dailyTasks(domain.TaskDistributionRecap)},
		Subscriber{Name: "amil_rights_recap", RecordType: events.RecordDistribution, Handle: dailyTasks(domain.TaskAmilRightsRecap)},
		Subscriber{Name: "deposit_rollup", RecordType: events.RecordDeposit, Handle: depositTasks},
		Subscriber{Name: "rule_allocation_recap", RecordType: events.RecordAllocationRule, Handle: ruleTasks},
		Subscriber{Name: "rice_price_allocation_recap", RecordType: events.RecordUnit, Handle: ricePriceTasks},
	)
}

func (r *Registry) For(rt events.RecordType) []Subscriber {
	var out []Subscriber
	for _, s := range r.subscribers {
		if s.RecordType == rt {
			out = append(out, s)
		}
	}
	return out
}

func dailyTasks(t domain.TaskType) func(context.Context, *gorm.DB, events.Event) ([]domain.Spec, error) {
	return func(_ context.Context, _ *gorm.DB, evt events.Event) ([]domain.Spec, error) {
		var specs []domain.Spec
		for _, key := range evt.AffectedKeys() {
			specs = append(specs, domain.Spec{Type: t, UnitID: key.UnitID, Ref: period.NewRef(period.Daily, key.Date)})
		}
		return specs, nil
	}
}

// Deposits feed only the rollup, which does not cascade upward, so every
// granularity is refreshed directly.
func depositTasks(_ context.Context, _ *gorm.DB, evt events.Event) ([]domain.Spec, error) {
	var specs []domain.Spec
	for _, key := range evt.AffectedKeys() {
		for _, g := range period.All() {
			specs = append(specs, domain.Spec{Type: domain.TaskUnitRollup, UnitID: key.UnitID, Ref: period.NewRef(g, key.Date)})
		}
	}
	return specs, nil
}

type recapKey struct {
	UnitID      snowflake.ID
	Granularity period.Granularity
	PeriodDate  time.Time
}

// A rule applies from its effective year onward, so every existing
// collection recap from the earliest affected year is reallocated.
func ruleTasks(ctx context.Context, tx *gorm.DB, evt events.Event) ([]domain.Spec, error) {
	year := 0
	for _, s := range []*events.Snapshot{evt.Previous, evt.Current} {
		if s == nil {
			continue
		}
		y := s.Date.UTC().Year()
		if raw, ok := s.Values["effective_year"]; ok {
			if parsed, err := strconv.Atoi(raw); err == nil {
				y = parsed
			}
		}
		if year == 0 || y < year {
			year = y
		}
	}
	if year == 0 {
		return nil, nil
	}
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return allocationTasks(ctx, tx, "period_date >= ?", from)
}

func ricePriceTasks(ctx context.Context, tx *gorm.DB, evt events.Event) ([]domain.Spec, error) {
	if evt.Kind != events.KindUpdated || !evt.Changed("rice_price") {
		return nil, nil
	}
	unitID := evt.RecordID
	if evt.Current != nil && evt.Current.UnitID != 0 {
		unitID = evt.Current.UnitID
	}
	return allocationTasks(ctx, tx, "unit_id = ?", unitID)
}

func allocationTasks(ctx context.Context, tx *gorm.DB, where string, args ...any) ([]domain.Spec, error) {
	var keys []recapKey
	err := tx.WithContext(ctx).
		Table("transaction_recaps").
		Select("unit_id, granularity, period_date").
		Where(where, args...).
		Order("period_date ASC").
		Order("unit_id ASC").
		Scan(&keys).Error
	if err != nil {
		return nil, err
	}
	specs := make([]domain.Spec, 0, len(keys))
	for _, k := range keys {
		specs = append(specs, domain.Spec{
			Type:   domain.TaskAllocationRecap,
			UnitID: k.UnitID,
			Ref:    period.NewRef(k.Granularity, k.PeriodDate),
		})
	}
	return specs, nil
}

type RouterParams struct {
	fx.In

	Queue    *Queue
	Registry *Registry `optional:"true"`
	Log      *zap.Logger
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

// Router is the events.Publisher of the write path. Each matching
// subscriber runs in order and enqueues inside the writer's transaction.
type Router struct {
	queue    *Queue
	registry *Registry
	log      *zap.Logger
	metrics  *obsmetrics.Metrics
}

func NewRouter(p RouterParams) *Router {
	reg := p.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Router{
		queue:    p.Queue,
		registry: reg,
		log:      p.Log.Named("cascade.router"),
		metrics:  p.Metrics,
	}
}

func (r *Router) Publish(ctx context.Context, tx *gorm.DB, evt events.Event) error {
	r.metrics.RecordWrite(ctx, string(evt.RecordType), string(evt.Kind))
	if !evt.ShouldDispatch() {
		return nil
	}
	source := string(evt.RecordType) + ":" + string(evt.Kind)
	for _, sub := range r.registry.For(evt.RecordType) {
		specs, err := sub.Handle(ctx, tx, evt)
		if err != nil {
			return fmt.Errorf("subscriber %s: %w", sub.Name, err)
		}
		if len(specs) == 0 {
			continue
		}
		if err := r.queue.Enqueue(ctx, tx, source, specs...); err != nil {
			return fmt.Errorf("subscriber %s: %w", sub.Name, err)
		}
		r.log.Debug("recompute.enqueued",
			zap.String("subscriber", sub.Name),
			zap.String("record_id", evt.RecordID.String()),
			zap.Int("tasks", len(specs)),
		)
	}
	return nil
}
