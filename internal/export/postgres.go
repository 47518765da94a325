package export

import (
	"context"
	"fmt"

	"github.com/goran-ethernal/ChainPipeline/internal/common"
	"github.com/goran-ethernal/ChainPipeline/internal/logger"
	"github.com/goran-ethernal/ChainPipeline/pkg/config"
	"github.com/goran-ethernal/ChainPipeline/pkg/record"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Exporter = (*Postgres)(nil)

// Postgres upserts records with INSERT ... ON CONFLICT, one pgx batch per export.
type Postgres struct {
	pool     *pgxpool.Pool
	registry *record.Registry
	log      *logger.Logger
}

// NewPostgres connects to dsn and verifies the connection.
func NewPostgres(ctx context.Context, dsn string, maxConns int32, registry *record.Registry,
	log *logger.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &Postgres{
		pool:     pool,
		registry: registry,
		log:      log.WithComponent(common.ComponentExporter),
	}, nil
}

func (p *Postgres) Name() string {
	return config.ExporterPostgres
}

// Export queues table creation and every upsert of the batch and sends them in one transaction.
func (p *Postgres) Export(ctx context.Context, batch Batch) error {
	queued, err := p.buildBatch(batch)
	if err != nil {
		return err
	}
	if queued.Len() == 0 {
		return nil
	}

	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, queued)
		for i := 0; i < queued.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("statement %d of batch %d: %w", i, batch.Seq, err)
			}
		}
		return results.Close()
	})
	if err != nil {
		return fmt.Errorf("failed to export batch %d to postgres: %w", batch.Seq, err)
	}

	n := batch.Len()
	p.log.Debugf("exported batch %d: %d records", batch.Seq, n)
	recordsExportedAdd(p.Name(), n)

	return nil
}

func (p *Postgres) buildBatch(batch Batch) (*pgx.Batch, error) {
	queued := &pgx.Batch{}

	for _, kind := range batch.Kinds(p.registry) {
		d, err := descriptorFor(p.registry, kind)
		if err != nil {
			return nil, err
		}
		recs := latestPerKey(d, batch.Records[kind])

		queued.Queue(createTableSQL(d, normalizeAll(recs[0].Values()), dialectPostgres))

		upsert := upsertSQL(d, dialectPostgres)
		for _, r := range recs {
			raw := r.Values()
			if err := checkWidth(d, r, raw); err != nil {
				return nil, err
			}
			values := rowValues(d, raw, batch)
			queued.Queue(upsert, values...)
		}
	}

	return queued, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
