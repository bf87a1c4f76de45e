package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	ruledomain "github.com/smallbiznis/ziswaf/internal/allocationrule/domain"
	auditdomain "github.com/smallbiznis/ziswaf/internal/audit/domain"
	cascadedomain "github.com/smallbiznis/ziswaf/internal/cascade/domain"
	collectiondomain "github.com/smallbiznis/ziswaf/internal/collection/domain"
	distributiondomain "github.com/smallbiznis/ziswaf/internal/distribution/domain"
	recapdomain "github.com/smallbiznis/ziswaf/internal/recap/domain"
	unitdomain "github.com/smallbiznis/ziswaf/internal/unit/domain"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded postgres schema. Source tables, recap
// tables, the recompute queue and the audit trail are all created on startup.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Models lists every table in creation order.
func Models() []any {
	models := []any{
		&unitdomain.Unit{},
		&ruledomain.AllocationRule{},
		&ruledomain.RuleVersion{},
		&collectiondomain.FundTransaction{},
		&collectiondomain.Deposit{},
		&distributiondomain.DistributionEvent{},
	}
	models = append(models, recapdomain.Models()...)
	return append(models, &cascadedomain.Task{}, &auditdomain.AuditLog{})
}

// AutoMigrate builds the schema from the models for sqlite and mysql,
// which the embedded SQL does not target. CHECK constraints are not
// created here; validation in the services covers them.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
