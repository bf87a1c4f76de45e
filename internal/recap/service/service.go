package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	ruledomain "github.com/smallbiznis/ziswaf/internal/allocationrule/domain"
	"github.com/smallbiznis/ziswaf/internal/clock"
	"github.com/smallbiznis/ziswaf/internal/config"
	obsmetrics "github.com/smallbiznis/ziswaf/internal/observability/metrics"
	"github.com/smallbiznis/ziswaf/internal/period"
	unitdomain "github.com/smallbiznis/ziswaf/internal/unit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Rebuilder recomputes one recap row from its sources and reports whether
// the stored row changed.
type Rebuilder interface {
	Rebuild(ctx context.Context, unitID snowflake.ID, ref period.Ref) (changed bool, err error)
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Resolver ruledomain.Resolver
	Units    unitdomain.Repository
	Policy   *config.AllocationPolicyHolder
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

// Builders groups the recap aggregators the recompute cascade drives.
type Builders struct {
	Transaction  Rebuilder
	Allocation   *AllocationBuilder
	Distribution Rebuilder
	AmilRights   Rebuilder
	Unit         Rebuilder
}

type base struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	metrics *obsmetrics.Metrics
}

func newBase(p Params, name string) base {
	return base{
		db:      p.DB,
		log:     p.Log.Named(name),
		genID:   p.GenID,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (b base) record(ctx context.Context, kind string, ref period.Ref, changed bool, err error) {
	outcome := "unchanged"
	switch {
	case err != nil:
		outcome = "failed"
	case changed:
		outcome = "updated"
	}
	b.metrics.RecordRecapRebuild(ctx, kind, string(ref.Granularity), outcome)
}

func NewBuilders(p Params) Builders {
	return Builders{
		Transaction:  NewTransactionAggregator(p),
		Allocation:   NewAllocationBuilder(p),
		Distribution: NewDistributionAggregator(p),
		AmilRights:   NewAmilRightsAggregator(p),
		Unit:         NewUnitRollup(p),
	}
}
