package rpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/goran-ethernal/ChainPipeline/pkg/config"
	pkgrpc "github.com/goran-ethernal/ChainPipeline/pkg/rpc"
	"golang.org/x/sync/errgroup"
)

const (
	maxHeaderBatch      = 100
	defaultBlockWorkers = 8
)

// Compile-time check to ensure Client implements the pkgrpc interfaces.
var (
	_ pkgrpc.EthClient      = (*Client)(nil)
	_ pkgrpc.ContractCaller = (*Client)(nil)
	_ pkgrpc.RetryingCaller = (*Client)(nil)
)

// Client wraps the Ethereum RPC client with retries and metrics.
// It implements the pkgrpc.EthClient and pkgrpc.ContractCaller interfaces.
type Client struct {
	eth *ethclient.Client
	rpc *rpc.Client

	retry        *config.RetryConfig
	blockWorkers int
}

// Option configures a Client.
type Option func(*Client)

// WithRetry enables retries with exponential backoff for transient errors.
func WithRetry(cfg *config.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithBlockWorkers bounds the number of concurrent block requests in GetBlocks.
func WithBlockWorkers(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.blockWorkers = n
		}
	}
}

// NewClient creates a new RPC client connected to the given endpoint.
func NewClient(ctx context.Context, endpoint string, opts ...Option) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	c := &Client{
		eth:          ethclient.NewClient(rpcClient),
		rpc:          rpcClient,
		blockWorkers: defaultBlockWorkers,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// RetriesTransient reports whether calls are retried on transient errors.
func (c *Client) RetriesTransient() bool {
	return c.retry != nil
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// ChainID retrieves the chain id of the connected network.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.do(ctx, "eth_chainId", func() (err error) {
		id, err = c.eth.ChainID(ctx)
		return err
	})
	return id, err
}

// GetLogs retrieves logs matching the given filter query.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.do(ctx, "eth_getLogs", func() (err error) {
		logs, err = c.eth.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// GetBlockHeader retrieves the header for a specific block number.
func (c *Client) GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error) {
	return c.headerByNumber(ctx, new(big.Int).SetUint64(blockNum))
}

// GetLatestBlockHeader retrieves the latest block header.
func (c *Client) GetLatestBlockHeader(ctx context.Context) (*types.Header, error) {
	return c.headerByNumber(ctx, nil)
}

// GetFinalizedBlockHeader retrieves the finalized block header.
func (c *Client) GetFinalizedBlockHeader(ctx context.Context) (*types.Header, error) {
	return c.headerByNumber(ctx, big.NewInt(int64(rpc.FinalizedBlockNumber)))
}

// GetSafeBlockHeader retrieves the safe block header.
func (c *Client) GetSafeBlockHeader(ctx context.Context) (*types.Header, error) {
	return c.headerByNumber(ctx, big.NewInt(int64(rpc.SafeBlockNumber)))
}

func (c *Client) headerByNumber(ctx context.Context, num *big.Int) (*types.Header, error) {
	var header *types.Header
	err := c.do(ctx, "eth_getBlockByNumber", func() (err error) {
		header, err = c.eth.HeaderByNumber(ctx, num)
		return err
	})
	return header, err
}

// CallContract executes an eth_call at blockNum (nil = latest).
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNum *big.Int) ([]byte, error) {
	var out []byte
	err := c.do(ctx, "eth_call", func() (err error) {
		out, err = c.eth.CallContract(ctx, msg, blockNum)
		return err
	})
	return out, err
}

// BatchGetLogs retrieves logs for multiple filter queries in a single batch call.
func (c *Client) BatchGetLogs(ctx context.Context, queries []ethereum.FilterQuery) ([][]types.Log, error) {
	var results [][]types.Log

	err := c.do(ctx, "batch_eth_getLogs", func() error {
		batch := make([]rpc.BatchElem, len(queries))
		results = make([][]types.Log, len(queries))

		for i, query := range queries {
			batch[i] = rpc.BatchElem{
				Method: "eth_getLogs",
				Args:   []any{toFilterArg(query)},
				Result: &results[i],
			}
		}

		if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
			return err
		}

		for _, elem := range batch {
			if elem.Error != nil {
				return elem.Error
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// BatchGetBlockHeaders retrieves headers for multiple block numbers in a single batch call.
func (c *Client) BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	allResults := make([]*types.Header, 0, len(blockNums))

	for i := 0; i < len(blockNums); i += maxHeaderBatch {
		end := min(i+maxHeaderBatch, len(blockNums))
		chunk := blockNums[i:end]

		var results []*types.Header
		err := c.do(ctx, "batch_eth_getBlockByNumber", func() error {
			batch := make([]rpc.BatchElem, len(chunk))
			results = make([]*types.Header, len(chunk))

			for j, blockNum := range chunk {
				batch[j] = rpc.BatchElem{
					Method: "eth_getBlockByNumber",
					Args:   []any{toBlockNumArg(blockNum), false}, // false = don't include transactions
					Result: &results[j],
				}
			}

			if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
				return err
			}

			for j, elem := range batch {
				if elem.Error != nil {
					return elem.Error
				}
				if results[j] == nil {
					return fmt.Errorf("block %d: %w", chunk[j], ethereum.NotFound)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		allResults = append(allResults, results...)
	}

	return allResults, nil
}

// GetBlocks retrieves full blocks, including transactions, for the given block numbers.
// Blocks are returned in the order of blockNums.
func (c *Client) GetBlocks(ctx context.Context, blockNums []uint64) ([]*types.Block, error) {
	blocks := make([]*types.Block, len(blockNums))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.blockWorkers)

	for i, num := range blockNums {
		g.Go(func() error {
			return c.do(gctx, "eth_getBlockByNumber_full", func() (err error) {
				blocks[i], err = c.eth.BlockByNumber(gctx, new(big.Int).SetUint64(num))
				return err
			})
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return blocks, nil
}

// do runs one RPC operation with metrics and, when configured, retries.
func (c *Client) do(ctx context.Context, method string, fn func() error) error {
	return retryWithBackoff(ctx, c.retry, method, func() error {
		RPCMethodInc(method)
		start := time.Now()

		err := fn()
		RPCMethodDuration(method, time.Since(start))
		if err != nil {
			RPCMethodError(method, errorType(err))
		}
		return err
	})
}

// toFilterArg converts ethereum.FilterQuery to the format expected by eth_getLogs.
func toFilterArg(q ethereum.FilterQuery) any {
	arg := map[string]any{
		"topics": q.Topics,
	}

	if q.BlockHash != nil {
		arg["blockHash"] = *q.BlockHash
	} else {
		if q.FromBlock != nil {
			arg["fromBlock"] = toBlockNumArg(q.FromBlock.Uint64())
		}
		if q.ToBlock != nil {
			arg["toBlock"] = toBlockNumArg(q.ToBlock.Uint64())
		}
	}

	if len(q.Addresses) > 0 {
		if len(q.Addresses) == 1 {
			arg["address"] = q.Addresses[0]
		} else {
			arg["address"] = q.Addresses
		}
	}

	return arg
}

// toBlockNumArg converts a block number to hex format.
func toBlockNumArg(blockNum uint64) string {
	return fmt.Sprintf("0x%x", blockNum)
}
