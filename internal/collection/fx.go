package collection

import (
	"github.com/smallbiznis/ziswaf/internal/collection/service"
	"go.uber.org/fx"
)

var Module = fx.Module("collection",
	fx.Provide(service.NewTransactionService),
	fx.Provide(service.NewDepositService),
	fx.Provide(service.NewImporter),
)
