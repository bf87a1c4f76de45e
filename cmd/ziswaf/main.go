package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ziswaf/internal/allocationrule"
	"github.com/smallbiznis/ziswaf/internal/audit"
	"github.com/smallbiznis/ziswaf/internal/cascade"
	"github.com/smallbiznis/ziswaf/internal/clock"
	"github.com/smallbiznis/ziswaf/internal/collection"
	"github.com/smallbiznis/ziswaf/internal/config"
	"github.com/smallbiznis/ziswaf/internal/distribution"
	"github.com/smallbiznis/ziswaf/internal/lock"
	"github.com/smallbiznis/ziswaf/internal/metricspush"
	"github.com/smallbiznis/ziswaf/internal/migration"
	"github.com/smallbiznis/ziswaf/internal/observability"
	"github.com/smallbiznis/ziswaf/internal/ratelimit"
	"github.com/smallbiznis/ziswaf/internal/recap"
	"github.com/smallbiznis/ziswaf/internal/report"
	"github.com/smallbiznis/ziswaf/internal/scheduler"
	"github.com/smallbiznis/ziswaf/internal/server"
	"github.com/smallbiznis/ziswaf/internal/unit"
	"github.com/smallbiznis/ziswaf/pkg/db"
	"go.uber.org/fx"
)

// Single process: HTTP API plus the recompute scheduler.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional Domains
		allocationrule.Module,
		unit.Module,
		collection.Module,
		distribution.Module,
		recap.Module,
		report.Module,
		lock.Module,
		cascade.Module,
		audit.Module,

		scheduler.Module,
		metricspush.Module,
		ratelimit.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
