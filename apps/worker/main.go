package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ziswaf/internal/allocationrule"
	"github.com/smallbiznis/ziswaf/internal/cascade"
	"github.com/smallbiznis/ziswaf/internal/clock"
	"github.com/smallbiznis/ziswaf/internal/config"
	"github.com/smallbiznis/ziswaf/internal/lock"
	"github.com/smallbiznis/ziswaf/internal/metricspush"
	"github.com/smallbiznis/ziswaf/internal/migration"
	"github.com/smallbiznis/ziswaf/internal/observability"
	"github.com/smallbiznis/ziswaf/internal/recap"
	"github.com/smallbiznis/ziswaf/internal/scheduler"
	"github.com/smallbiznis/ziswaf/internal/unit"
	"github.com/smallbiznis/ziswaf/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Recompute pipeline
		allocationrule.Module,
		unit.Module,
		recap.Module,
		lock.Module,
		cascade.Module,

		// No server module; metrics are pushed.
		scheduler.Module,
		metricspush.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
