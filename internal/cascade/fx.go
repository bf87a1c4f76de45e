package cascade

import (
	auditdomain "github.com/smallbiznis/ziswaf/internal/audit/domain"
	"github.com/smallbiznis/ziswaf/internal/events"
	"go.uber.org/fx"
)

var Module = fx.Module("cascade",
	fx.Provide(DefaultRegistry),
	fx.Provide(NewQueue),
	fx.Provide(NewRouter),
	fx.Provide(NewDispatcher),
	fx.Provide(newPublisher),
)

type publisherParams struct {
	fx.In

	Router *Router
	Audit  auditdomain.Service `optional:"true"`
}

// newPublisher records the audit entry before routing, both inside the
// writer's transaction.
func newPublisher(p publisherParams) events.Publisher {
	if p.Audit == nil {
		return p.Router
	}
	return events.Chain(p.Audit, p.Router)
}
