package recap

import (
	"github.com/smallbiznis/ziswaf/internal/recap/service"
	"go.uber.org/fx"
)

var Module = fx.Module("recap",
	fx.Provide(service.NewBuilders),
	fx.Provide(service.NewService),
)
