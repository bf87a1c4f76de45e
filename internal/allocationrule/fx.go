package allocationrule

import (
	"github.com/smallbiznis/ziswaf/internal/allocationrule/repository"
	"github.com/smallbiznis/ziswaf/internal/allocationrule/service"
	"github.com/smallbiznis/ziswaf/internal/cache"
	"go.uber.org/fx"
)

var Module = fx.Module("allocationrule",
	fx.Provide(cache.NewRuleCache),
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewResolver),
	fx.Provide(service.NewService),
)
