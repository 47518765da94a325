package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainPipeline/internal/common"
	"github.com/goran-ethernal/ChainPipeline/internal/logger"
	irpc "github.com/goran-ethernal/ChainPipeline/internal/rpc"
	ctypes "github.com/goran-ethernal/ChainPipeline/internal/types"
	"github.com/goran-ethernal/ChainPipeline/pkg/config"
	"github.com/goran-ethernal/ChainPipeline/pkg/filter"
	"github.com/goran-ethernal/ChainPipeline/pkg/job"
	"github.com/goran-ethernal/ChainPipeline/pkg/rpc"
)

// Chain loads block ranges from an Ethereum node.
type Chain struct {
	client       rpc.EthClient
	finality     ctypes.BlockFinality
	finalizedLag uint64
	skipSenders  bool
	log          *logger.Logger

	signerMu sync.Mutex
	signer   types.Signer
}

// NewChain creates a chain source using the finality settings of cfg.
func NewChain(client rpc.EthClient, cfg config.ChainConfig, log *logger.Logger) (*Chain, error) {
	finality, err := ctypes.ParseBlockFinality(cfg.Finality)
	if err != nil {
		return nil, err
	}

	return &Chain{
		client:       client,
		finality:     finality,
		finalizedLag: cfg.FinalizedLag,
		skipSenders:  cfg.SkipUnrecoverableSenders,
		log:          log.WithComponent(common.ComponentChainSource),
	}, nil
}

// Head returns the highest block that is safe to process under the configured finality.
func (c *Chain) Head(ctx context.Context) (uint64, error) {
	var (
		header *types.Header
		err    error
	)

	switch c.finality {
	case ctypes.FinalityFinalized:
		header, err = c.client.GetFinalizedBlockHeader(ctx)
	case ctypes.FinalitySafe:
		header, err = c.client.GetSafeBlockHeader(ctx)
	default:
		header, err = c.client.GetLatestBlockHeader(ctx)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get %s block header: %w", c.finality, err)
	}
	if header == nil {
		return 0, fmt.Errorf("node returned no %s block header", c.finality)
	}

	head := header.Number.Uint64()
	if c.finality == ctypes.FinalityLatest {
		if head < c.finalizedLag {
			return 0, nil
		}
		head -= c.finalizedLag
	}

	return head, nil
}

// Load fetches headers, candidate logs and candidate transactions of [from, to].
// The returned range is not bound to a buffer; items still have to be narrowed per job.
func (c *Chain) Load(ctx context.Context, from, to uint64, q filter.Query) (*job.Range, error) {
	if from > to {
		return nil, fmt.Errorf("invalid range: from %d is after to %d", from, to)
	}

	r := job.NewRange(from, to, nil, nil)

	nums := make([]uint64, 0, to-from+1)
	for n := from; n <= to; n++ {
		nums = append(nums, n)
	}

	if q.WantsTransactions {
		if err := c.loadBlocks(ctx, r, nums); err != nil {
			return nil, err
		}
	} else {
		headers, err := c.client.BatchGetBlockHeaders(ctx, nums)
		if err != nil {
			return nil, fmt.Errorf("failed to get headers %d-%d: %w", from, to, err)
		}
		r.Headers = headers
	}

	if err := checkHeaders(r.Headers, nums); err != nil {
		return nil, err
	}

	if q.WantsLogs {
		logs, err := c.loadLogs(ctx, from, to, q)
		if err != nil {
			return nil, err
		}
		r.Logs = logs
	}

	itemsLoaded.WithLabelValues("log").Add(float64(len(r.Logs)))
	itemsLoaded.WithLabelValues("transaction").Add(float64(len(r.Transactions)))
	c.log.Debugf("loaded range %d-%d: headers=%d logs=%d transactions=%d",
		from, to, len(r.Headers), len(r.Logs), len(r.Transactions))

	return r, nil
}

func (c *Chain) loadBlocks(ctx context.Context, r *job.Range, nums []uint64) error {
	blocks, err := c.client.GetBlocks(ctx, nums)
	if err != nil {
		return fmt.Errorf("failed to get blocks %d-%d: %w", r.From, r.To, err)
	}

	signer, err := c.signerFor(ctx)
	if err != nil {
		return err
	}

	r.Headers = make([]*types.Header, len(blocks))
	for i, b := range blocks {
		if b == nil {
			return fmt.Errorf("node returned no block %d", nums[i])
		}
		r.Headers[i] = b.Header()

		for idx, tx := range b.Transactions() {
			from, err := types.Sender(signer, tx)
			if err != nil {
				senderRecoveryFailures.Inc()
				if !c.skipSenders {
					return fmt.Errorf("failed to recover sender of transaction %s in block %d: %w",
						tx.Hash().Hex(), b.NumberU64(), err)
				}
				c.log.Warnf("skipping transaction %s in block %d: failed to recover sender: %v",
					tx.Hash().Hex(), b.NumberU64(), err)
				continue
			}

			r.Transactions = append(r.Transactions, job.Transaction{
				Tx:          tx,
				From:        from,
				BlockNumber: b.NumberU64(),
				BlockHash:   b.Hash(),
				Index:       uint(idx),
			})
		}
	}

	return nil
}

// loadLogs walks [from, to] with eth_getLogs, narrowing a request whenever the
// node reports too many results.
func (c *Chain) loadLogs(ctx context.Context, from, to uint64, q filter.Query) ([]types.Log, error) {
	var logs []types.Log

	start, end := from, to
	for start <= to {
		chunk, err := c.client.GetLogs(ctx, q.FilterQuery(start, end))
		if err != nil {
			ok, errData := irpc.IsTooManyResultsError(err)
			if !ok {
				return nil, fmt.Errorf("failed to get logs %d-%d: %w", start, end, err)
			}

			narrowed, err := narrow(start, end, errData)
			if err != nil {
				return nil, err
			}
			logRangeSplits.Inc()
			c.log.Infof("too many logs in range %d-%d, retrying with %d-%d", start, end, start, narrowed)
			end = narrowed
			continue
		}

		logs = append(logs, chunk...)
		start = end + 1
		end = to
	}

	return logs, nil
}

// narrow picks the new end of a log request, preferring the range suggested by the node.
func narrow(start, end uint64, errData string) (uint64, error) {
	if suggestedFrom, suggestedTo, ok := irpc.ParseSuggestedBlockRange(errData); ok &&
		suggestedFrom == start && suggestedTo >= start && suggestedTo < end {
		return suggestedTo, nil
	}

	const splitBy = 2
	mid := start + (end-start)/splitBy
	if mid == end {
		return 0, fmt.Errorf("cannot split range further, single block %d has too many logs", start)
	}
	return mid, nil
}

func (c *Chain) signerFor(ctx context.Context) (types.Signer, error) {
	c.signerMu.Lock()
	defer c.signerMu.Unlock()

	if c.signer != nil {
		return c.signer, nil
	}

	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	c.signer = types.LatestSignerForChainID(chainID)

	return c.signer, nil
}

func checkHeaders(headers []*types.Header, nums []uint64) error {
	if len(headers) != len(nums) {
		return fmt.Errorf("expected %d headers, got %d", len(nums), len(headers))
	}
	for i, h := range headers {
		if h == nil {
			return fmt.Errorf("node returned no header for block %d", nums[i])
		}
		if h.Number.Uint64() != nums[i] {
			return fmt.Errorf("header mismatch: expected block %d, got %d", nums[i], h.Number.Uint64())
		}
	}
	return nil
}
