package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	intcommon "github.com/goran-ethernal/ChainPipeline/internal/common"
	"github.com/goran-ethernal/ChainPipeline/internal/db"
	"github.com/goran-ethernal/ChainPipeline/internal/logger"
	"github.com/goran-ethernal/ChainPipeline/internal/metrics"
	"github.com/russross/meddler"
)

const dbName = "checkpoint"

// State is the persisted pipeline progress.
type State struct {
	ID            int         `meddler:"id,pk" json:"-"`
	LastBlock     uint64      `meddler:"last_block" json:"last_block"`
	LastBlockHash common.Hash `meddler:"last_block_hash,hash" json:"last_block_hash"`
	UpdatedAt     int64       `meddler:"updated_at" json:"updated_at"`
}

// Store persists the last block whose records were fully exported.
type Store struct {
	db                     *sql.DB
	log                    *logger.Logger
	maintenanceCoordinator db.Maintenance
}

// NewStore creates a checkpoint store on an already migrated database.
func NewStore(database *sql.DB, log *logger.Logger, maintenanceCoordinator db.Maintenance) *Store {
	if maintenanceCoordinator == nil {
		maintenanceCoordinator = &db.NoOpMaintenance{}
	}

	s := &Store{
		db:                     database,
		log:                    log.WithComponent(intcommon.ComponentCheckpoint),
		maintenanceCoordinator: maintenanceCoordinator,
	}

	metrics.ComponentHealthSet(intcommon.ComponentCheckpoint, true)
	s.log.Info("checkpoint store initialized")

	return s
}

// Load returns the stored checkpoint. found is false when nothing was exported yet.
func (s *Store) Load() (state *State, found bool, err error) {
	unlock := s.maintenanceCoordinator.AcquireOperationLock()
	defer unlock()

	start := time.Now()
	metrics.DBQueryInc(dbName, "load")
	defer func() { metrics.DBQueryDuration(dbName, "load", time.Since(start)) }()

	state = &State{}
	if err := meddler.QueryRow(s.db, state, `SELECT * FROM checkpoint WHERE id = 1`); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		metrics.DBErrorsInc(dbName, "load")
		return nil, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	s.log.Debugf("loaded checkpoint: last_block=%d, last_block_hash=%s",
		state.LastBlock, state.LastBlockHash.Hex())

	return state, true, nil
}

// Save records blockNum as fully exported.
func (s *Store) Save(blockNum uint64, blockHash common.Hash) error {
	unlock := s.maintenanceCoordinator.AcquireOperationLock()
	defer unlock()

	start := time.Now()
	metrics.DBQueryInc(dbName, "save")
	defer func() { metrics.DBQueryDuration(dbName, "save", time.Since(start)) }()

	updatedAt := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO checkpoint (id, last_block, last_block_hash, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			last_block = excluded.last_block,
			last_block_hash = excluded.last_block_hash,
			updated_at = excluded.updated_at
	`, blockNum, blockHash.Hex(), updatedAt)
	if err != nil {
		metrics.DBErrorsInc(dbName, "save")
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	metrics.LastCheckpointBlockSet(blockNum)
	s.log.Debugf("saved checkpoint: block=%d, block_hash=%s", blockNum, blockHash.Hex())

	return nil
}

// Rewind moves the checkpoint back to blockNum. It never moves it forward.
func (s *Store) Rewind(blockNum uint64) error {
	state, found, err := s.Load()
	if err != nil {
		return err
	}
	if !found || state.LastBlock <= blockNum {
		return nil
	}

	if err := s.Save(blockNum, common.Hash{}); err != nil {
		return err
	}

	s.log.Warnf("checkpoint rewound: block=%d", blockNum)
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	metrics.ComponentHealthSet(intcommon.ComponentCheckpoint, false)
	return s.db.Close()
}
