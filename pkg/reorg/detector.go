package reorg

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"
)

// Detector verifies that processed ranges still belong to the canonical chain.
type Detector interface {
	// VerifyAndRecordBlocks checks the stored non-finalized blocks and the new
	// range for reorgs and records the range's block hashes.
	// A detected reorg is reported as an error carrying the first reorged block.
	VerifyAndRecordBlocks(ctx context.Context, headers []*types.Header, logs []types.Log) error

	// Rewind forgets every recorded block at or above fromBlock.
	Rewind(fromBlock uint64) error

	// Close releases the detector's resources.
	Close() error
}
