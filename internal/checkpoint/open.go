package checkpoint

import (
	"database/sql"
	"fmt"

	"github.com/goran-ethernal/ChainPipeline/internal/db"
	"github.com/goran-ethernal/ChainPipeline/internal/logger"
	"github.com/goran-ethernal/ChainPipeline/internal/migrations"
	"github.com/goran-ethernal/ChainPipeline/pkg/config"
)

// OpenDB migrates and opens the pipeline state database shared by the
// checkpoint store and the reorg detector.
func OpenDB(cfg config.CheckpointConfig, log *logger.Logger) (*sql.DB, db.Maintenance, error) {
	if err := migrations.RunMigrations(cfg.DB.Path); err != nil {
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database: %w", err)
	}

	return database, db.NewMaintenanceCoordinator(cfg.DB.Path, database, cfg.Maintenance, log), nil
}
