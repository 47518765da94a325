package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goran-ethernal/ChainPipeline/internal/common"
	"github.com/goran-ethernal/ChainPipeline/internal/db"
	"github.com/goran-ethernal/ChainPipeline/internal/logger"
	"github.com/goran-ethernal/ChainPipeline/pkg/config"
	"github.com/goran-ethernal/ChainPipeline/pkg/record"
)

var _ Exporter = (*SQLite)(nil)

// SQLite upserts records into a SQLite database, one table per entity kind.
// Missing tables are created inside the export transaction, typed from the first row of the kind.
type SQLite struct {
	db       *sql.DB
	registry *record.Registry
	log      *logger.Logger
}

// NewSQLite opens the database described by cfg.
func NewSQLite(cfg config.DatabaseConfig, registry *record.Registry, log *logger.Logger) (*SQLite, error) {
	database, err := db.NewSQLiteDBFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return newSQLite(database, registry, log), nil
}

func newSQLite(database *sql.DB, registry *record.Registry, log *logger.Logger) *SQLite {
	return &SQLite{
		db:       database,
		registry: registry,
		log:      log.WithComponent(common.ComponentExporter),
	}
}

func (s *SQLite) Name() string {
	return config.ExporterSQLite
}

// Export writes the whole batch in one transaction.
func (s *SQLite) Export(ctx context.Context, batch Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	written := 0
	for _, kind := range batch.Kinds(s.registry) {
		n, err := s.exportKind(ctx, tx, batch, kind)
		if err != nil {
			return err
		}
		written += n
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Debugf("exported batch %d: %d records", batch.Seq, written)
	recordsExportedAdd(s.Name(), written)

	return nil
}

func (s *SQLite) exportKind(ctx context.Context, tx *sql.Tx, batch Batch, kind record.EntityKind) (int, error) {
	d, err := descriptorFor(s.registry, kind)
	if err != nil {
		return 0, err
	}
	recs := latestPerKey(d, batch.Records[kind])

	first := normalizeAll(recs[0].Values())
	if err := s.ensureTable(ctx, tx, d, first); err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, upsertSQL(d, dialectSQLite))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert for %s: %w", d.Table, err)
	}
	defer stmt.Close()

	for _, r := range recs {
		raw := r.Values()
		if err := checkWidth(d, r, raw); err != nil {
			return 0, err
		}
		values := rowValues(d, raw, batch)
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return 0, fmt.Errorf("failed to upsert %s record %s: %w", kind, r.Key(), err)
		}
	}

	return len(recs), nil
}

func (s *SQLite) ensureTable(ctx context.Context, tx *sql.Tx, d record.Descriptor, sample []any) error {
	if _, err := tx.ExecContext(ctx, createTableSQL(d, sample, dialectSQLite)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", d.Table, err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}
