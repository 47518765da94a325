package migrations

import (
	_ "embed"

	"github.com/goran-ethernal/ChainPipeline/internal/db"
)

//go:embed 001_checkpoint.sql
var mig0001 string

//go:embed 002_reorg_detector.sql
var mig0002 string

// RunMigrations runs all migrations for the pipeline state database.
func RunMigrations(dbPath string) error {
	migrations := []db.Migration{
		{
			ID:  "001_checkpoint.sql",
			SQL: mig0001,
		},
		{
			ID:  "002_reorg_detector.sql",
			SQL: mig0002,
		},
	}

	return db.RunMigrations(dbPath, migrations)
}
