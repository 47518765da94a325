package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goran-ethernal/ChainPipeline/internal/common"
	"github.com/goran-ethernal/ChainPipeline/internal/logger"
	"github.com/goran-ethernal/ChainPipeline/pkg/config"
)

// Maintenance serializes SQLite housekeeping against regular state operations.
type Maintenance interface {
	// Start launches the background maintenance loop when enabled.
	Start(ctx context.Context) error
	// Stop ends the loop and waits for a running pass.
	Stop() error
	// AcquireOperationLock blocks while a maintenance pass runs.
	// The returned function releases the lock.
	AcquireOperationLock() func()
}

// NoOpMaintenance never runs maintenance and never blocks operations.
type NoOpMaintenance struct{}

func (NoOpMaintenance) Start(context.Context) error  { return nil }
func (NoOpMaintenance) Stop() error                  { return nil }
func (NoOpMaintenance) AcquireOperationLock() func() { return func() {} }

// Coordinator checkpoints the WAL and vacuums the state database on an interval.
// Operations share the lock; a maintenance pass holds it exclusively.
type Coordinator struct {
	db   *sql.DB
	path string
	cfg  config.MaintenanceConfig
	log  *logger.Logger

	opLock sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMaintenanceCoordinator returns a Coordinator for the database at path,
// or a NoOpMaintenance when cfg is nil.
func NewMaintenanceCoordinator(path string, database *sql.DB, cfg *config.MaintenanceConfig,
	log *logger.Logger) Maintenance {
	if cfg == nil {
		return NoOpMaintenance{}
	}
	return newCoordinator(path, database, *cfg, log)
}

func newCoordinator(path string, database *sql.DB, cfg config.MaintenanceConfig, log *logger.Logger) *Coordinator {
	return &Coordinator{
		db:   database,
		path: path,
		cfg:  cfg,
		log:  log.WithComponent(common.ComponentMaintenance),
	}
}

func (c *Coordinator) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		c.log.Info("database maintenance is disabled")
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if c.cfg.VacuumOnStartup {
		if err := c.run(loopCtx); err != nil {
			c.log.Warnf("startup maintenance failed: %v", err)
		}
	}

	c.wg.Add(1)
	go c.loop(loopCtx)

	c.log.Infof("database maintenance started: interval=%s checkpoint_mode=%s",
		c.cfg.CheckInterval, c.cfg.WALCheckpointMode)
	return nil
}

func (c *Coordinator) Stop() error {
	if c.cancel == nil {
		return nil
	}

	c.cancel()
	c.wg.Wait()
	c.log.Info("database maintenance stopped")
	return nil
}

func (c *Coordinator) AcquireOperationLock() func() {
	c.opLock.RLock()
	return c.opLock.RUnlock
}

func (c *Coordinator) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.CheckInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.run(ctx); err != nil {
				c.log.Warnf("periodic maintenance failed: %v", err)
			}
		}
	}
}

// run performs one maintenance pass with every operation blocked.
func (c *Coordinator) run(ctx context.Context) error {
	maintenanceRuns.Inc()
	start := time.Now()

	c.opLock.Lock()
	defer c.opLock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	before, err := DBTotalSize(c.path)
	if err != nil {
		c.log.Warnf("failed to measure database size: %v", err)
	}

	var runErr error
	if err := c.walCheckpoint(ctx); err != nil {
		runErr = fmt.Errorf("wal checkpoint: %w", err)
	}
	if err := Vacuum(c.db); err != nil {
		if runErr == nil {
			runErr = err
		}
	} else {
		vacuumRuns.Inc()
	}

	after, err := DBTotalSize(c.path)
	if err != nil {
		c.log.Warnf("failed to measure database size: %v", err)
	}

	maintenanceDuration.Observe(time.Since(start).Seconds())
	maintenanceLastRun.SetToCurrentTime()
	dbSize.Set(float64(after))

	if runErr != nil {
		maintenanceOutcomes.WithLabelValues("error").Inc()
		return runErr
	}

	maintenanceOutcomes.WithLabelValues("success").Inc()
	if before > after {
		maintenanceSpaceReclaimed.Set(float64(before - after))
	}
	c.log.Infof("maintenance completed in %s: size_before=%d size_after=%d", time.Since(start), before, after)

	return nil
}

func (c *Coordinator) walCheckpoint(ctx context.Context) error {
	var mode string
	if err := c.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("failed to read journal mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return nil
	}

	var busy, logFrames, checkpointed int
	query := fmt.Sprintf("PRAGMA wal_checkpoint(%s)", c.cfg.WALCheckpointMode)
	if err := c.db.QueryRowContext(ctx, query).Scan(&busy, &logFrames, &checkpointed); err != nil {
		return err
	}

	walCheckpoints.WithLabelValues(strings.ToLower(c.cfg.WALCheckpointMode)).Inc()
	if busy > 0 {
		c.log.Warnf("wal checkpoint left busy pages: log_frames=%d checkpointed=%d", logFrames, checkpointed)
	}
	return nil
}
