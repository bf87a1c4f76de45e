package unit

import (
	"github.com/smallbiznis/ziswaf/internal/unit/repository"
	"github.com/smallbiznis/ziswaf/internal/unit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("unit",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
