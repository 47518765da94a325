package reorg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	internalcommon "github.com/goran-ethernal/ChainPipeline/internal/common"
	"github.com/goran-ethernal/ChainPipeline/internal/db"
	"github.com/goran-ethernal/ChainPipeline/internal/logger"
	"github.com/goran-ethernal/ChainPipeline/internal/metrics"
	"github.com/goran-ethernal/ChainPipeline/pkg/reorg"
	"github.com/russross/meddler"
)

var _ reorg.Detector = (*ReorgDetector)(nil)

// HeaderClient is the chain access the detector needs.
type HeaderClient interface {
	GetFinalizedBlockHeader(ctx context.Context) (*types.Header, error)
	BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error)
}

// ReorgDetector detects blockchain reorganizations by tracking block hashes.
type ReorgDetector struct {
	db                     *sql.DB
	log                    *logger.Logger
	rpc                    HeaderClient
	maintenanceCoordinator db.Maintenance
}

// NewReorgDetector creates a new ReorgDetector on an already migrated database.
func NewReorgDetector(
	database *sql.DB,
	rpcClient HeaderClient,
	log *logger.Logger,
	maintenanceCoordinator db.Maintenance,
) *ReorgDetector {
	if maintenanceCoordinator == nil {
		maintenanceCoordinator = &db.NoOpMaintenance{}
	}

	detector := &ReorgDetector{
		db:                     database,
		rpc:                    rpcClient,
		log:                    log.WithComponent(internalcommon.ComponentReorgDetector),
		maintenanceCoordinator: maintenanceCoordinator,
	}

	metrics.ComponentHealthSet(internalcommon.ComponentReorgDetector, true)
	detector.log.Info("reorg detector initialized")

	return detector
}

// VerifyAndRecordBlocks checks for reorgs and records the headers of a loaded range.
// It follows these steps:
// 1. Get the last finalized block and prune finalized blocks from DB
// 2. Verify all non-finalized blocks in DB against current chain state
// 3. Verify the range against its logs, the stored parent and itself
// 4. Record the non-finalized blocks of the range
// All database operations are performed atomically within a single transaction.
func (r *ReorgDetector) VerifyAndRecordBlocks(ctx context.Context, headers []*types.Header, logs []types.Log) error {
	if len(headers) == 0 {
		return nil
	}

	unlock := r.maintenanceCoordinator.AcquireOperationLock()
	defer unlock()

	fromBlock := headers[0].Number.Uint64()
	toBlock := headers[len(headers)-1].Number.Uint64()

	r.log.Debugf("verifying and recording blocks: num_logs=%d from_block=%d to_block=%d",
		len(logs), fromBlock, toBlock)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	// Step 1: prune blocks the chain has finalized
	finalizedHeader, err := r.rpc.GetFinalizedBlockHeader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get finalized block header: %w", err)
	}
	finalizedBlockNum := finalizedHeader.Number.Uint64()

	cachedFinalizedBlock, err := r.getStoredBlockTx(tx, finalizedBlockNum)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to query finalized block hash: %w", err)
	}

	if cachedFinalizedBlock.BlockHash == finalizedHeader.Hash() {
		if err := r.pruneOldBlocksTx(tx, finalizedBlockNum+1); err != nil {
			return fmt.Errorf("failed to prune finalized blocks: %w", err)
		}
	}

	// Step 2: stored non-finalized blocks must still be canonical
	if err := r.verifyStoredBlocksTx(ctx, tx, finalizedBlockNum); err != nil {
		return err
	}

	// Step 3a: logs must come from the same blocks as the headers
	headerHashes := make(map[uint64]common.Hash, len(headers))
	for _, h := range headers {
		headerHashes[h.Number.Uint64()] = h.Hash()
	}

	for _, log := range logs {
		headerHash, ok := headerHashes[log.BlockNumber]
		if !ok || log.BlockHash == headerHash {
			continue
		}
		r.log.Warnf("reorg detected during fetch: block=%d log_hash=%s header_hash=%s",
			log.BlockNumber, log.BlockHash.Hex(), headerHash.Hex())
		ReorgDetectedLog(toBlock-log.BlockNumber+1, log.BlockNumber)
		return NewReorgError(log.BlockNumber,
			fmt.Sprintf("log_hash=%s header_hash=%s", log.BlockHash.Hex(), headerHash.Hex()))
	}

	// Step 3b: the range must extend the last recorded block
	if fromBlock > 0 {
		parent, err := r.getStoredBlockTx(tx, fromBlock-1)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to query parent block hash: %w", err)
		case parent.BlockHash != headers[0].ParentHash:
			r.log.Warnf("range does not extend recorded chain: block=%d stored_parent=%s actual_parent=%s",
				fromBlock, parent.BlockHash.Hex(), headers[0].ParentHash.Hex())
			ReorgDetectedLog(1, fromBlock-1)
			return NewReorgError(fromBlock-1,
				fmt.Sprintf("stored_hash=%s range_parent_hash=%s", parent.BlockHash.Hex(), headers[0].ParentHash.Hex()))
		}
	}

	// Step 3c: parent hashes must form a chain inside the range
	for i := 1; i < len(headers); i++ {
		expectedParent := headers[i-1].Hash()
		actualParent := headers[i].ParentHash

		if actualParent != expectedParent {
			r.log.Warnf("chain discontinuity detected: block=%d prev_block=%d expected_parent=%s actual_parent=%s",
				headers[i].Number.Uint64(),
				headers[i-1].Number.Uint64(),
				expectedParent.Hex(),
				actualParent.Hex(),
			)
			ReorgDetectedLog(uint64(len(headers)-i), headers[i].Number.Uint64())
			return NewReorgError(headers[i].Number.Uint64(),
				fmt.Sprintf("chain discontinuity between blocks %d and %d",
					headers[i-1].Number.Uint64(), headers[i].Number.Uint64()))
		}
	}

	// Step 4: record what may still be reorged
	recorded := 0
	for _, h := range headers {
		if h.Number.Uint64() <= finalizedBlockNum {
			continue
		}
		if err := r.recordBlockTx(tx, h); err != nil {
			return err
		}
		recorded++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Debugf("recorded block hashes: from_block=%d to_block=%d count=%d", fromBlock, toBlock, recorded)

	return nil
}

func (r *ReorgDetector) verifyStoredBlocksTx(ctx context.Context, tx *sql.Tx, finalizedBlockNum uint64) error {
	stored, err := r.getStoredBlocksAfterBlockTx(tx, finalizedBlockNum)
	if err != nil {
		return fmt.Errorf("failed to get non-finalized blocks: %w", err)
	}
	if len(stored) == 0 {
		return nil
	}

	blockNums := make([]uint64, len(stored))
	for i, block := range stored {
		blockNums[i] = block.BlockNumber
	}

	current, err := r.rpc.BatchGetBlockHeaders(ctx, blockNums)
	if err != nil {
		return fmt.Errorf("failed to fetch non-finalized headers: %w", err)
	}
	if len(current) != len(stored) {
		return fmt.Errorf("expected %d headers for stored blocks, got %d", len(stored), len(current))
	}

	for i, header := range current {
		cachedHash := stored[i].BlockHash
		currentHash := header.Hash()

		if cachedHash != currentHash {
			r.log.Warnf("reorg detected in non-finalized blocks: block=%d cached_hash=%s current_hash=%s",
				stored[i].BlockNumber, cachedHash.Hex(), currentHash.Hex())
			ReorgDetectedLog(uint64(len(stored)-i), stored[i].BlockNumber)
			return NewReorgError(stored[i].BlockNumber,
				fmt.Sprintf("cached_hash=%s current_hash=%s", cachedHash.Hex(), currentHash.Hex()))
		}
	}

	r.log.Debugf("non-finalized blocks verified: count=%d", len(stored))
	return nil
}

// Rewind deletes every recorded block at or above fromBlock.
func (r *ReorgDetector) Rewind(fromBlock uint64) error {
	unlock := r.maintenanceCoordinator.AcquireOperationLock()
	defer unlock()

	result, err := r.db.Exec("DELETE FROM block_hashes WHERE block_number >= ?", fromBlock)
	if err != nil {
		return fmt.Errorf("failed to rewind block hashes: %w", err)
	}

	deleted, _ := result.RowsAffected()
	r.log.Infof("rewound block hashes: from_block=%d deleted_count=%d", fromBlock, deleted)

	return nil
}

// StoredBlock represents a block stored in the database.
// Uses meddler tags for automatic struct-to-db mapping.
type StoredBlock struct {
	BlockNumber uint64      `meddler:"block_number"`
	BlockHash   common.Hash `meddler:"block_hash,hash"`
	ParentHash  common.Hash `meddler:"parent_hash,hash"`
}

func (r *ReorgDetector) getStoredBlockTx(tx *sql.Tx, blockNum uint64) (StoredBlock, error) {
	var block StoredBlock
	err := meddler.QueryRow(tx, &block, "SELECT * FROM block_hashes WHERE block_number = ?", blockNum)
	if err != nil {
		return StoredBlock{}, err
	}
	return block, nil
}

func (r *ReorgDetector) getStoredBlocksAfterBlockTx(tx *sql.Tx, blockNum uint64) ([]*StoredBlock, error) {
	var blocks []*StoredBlock
	err := meddler.QueryAll(tx, &blocks,
		"SELECT * FROM block_hashes WHERE block_number > ? ORDER BY block_number ASC",
		blockNum)
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

// recordBlockTx upserts a block hash; reprocessed blocks replace their old entry.
func (r *ReorgDetector) recordBlockTx(tx *sql.Tx, header *types.Header) error {
	_, err := tx.Exec(`
		INSERT INTO block_hashes (block_number, block_hash, parent_hash) VALUES (?, ?, ?)
		ON CONFLICT (block_number) DO UPDATE SET
			block_hash = excluded.block_hash,
			parent_hash = excluded.parent_hash
	`, header.Number.Uint64(), header.Hash().Hex(), header.ParentHash.Hex())
	if err != nil {
		return fmt.Errorf("failed to insert block %d: %w", header.Number.Uint64(), err)
	}
	return nil
}

func (r *ReorgDetector) pruneOldBlocksTx(tx *sql.Tx, keepFromBlock uint64) error {
	result, err := tx.Exec("DELETE FROM block_hashes WHERE block_number < ?", keepFromBlock)
	if err != nil {
		return fmt.Errorf("failed to prune old blocks: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		r.log.Debugf("pruned old block hashes in transaction: keep_from_block=%d deleted_count=%d",
			keepFromBlock, rowsAffected)
	}

	return nil
}

// Close closes the database connection.
func (r *ReorgDetector) Close() error {
	metrics.ComponentHealthSet(internalcommon.ComponentReorgDetector, false)
	return r.db.Close()
}
