package multicall

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	intcommon "github.com/goran-ethernal/ChainPipeline/internal/common"
	"github.com/goran-ethernal/ChainPipeline/internal/executor"
	"github.com/goran-ethernal/ChainPipeline/internal/logger"
	"github.com/goran-ethernal/ChainPipeline/internal/retry"
	"github.com/goran-ethernal/ChainPipeline/internal/rpc"
	"github.com/goran-ethernal/ChainPipeline/pkg/config"
	pkgrpc "github.com/goran-ethernal/ChainPipeline/pkg/rpc"
)

// Helper batches read-only contract calls into Multicall3 aggregate3 calls.
type Helper struct {
	caller   pkgrpc.ContractCaller
	address  common.Address
	maxBatch int
	retry    *config.RetryConfig
	exec     *executor.Executor[struct{}]
	log      *logger.Logger
}

// NewHelper creates a Helper. Block groups run on a dedicated executor sized by cfg.Workers.
// Individual calls are retried with cfg.Retry unless caller already retries
// transient failures itself, in which case each individual call is made once.
func NewHelper(caller pkgrpc.ContractCaller, cfg config.MultiCallConfig, log *logger.Logger) (*Helper, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid multicall configuration: %w", err)
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	retryCfg := cfg.Retry
	if rc, ok := caller.(pkgrpc.RetryingCaller); ok && rc.RetriesTransient() {
		log.Debug("contract caller retries transient errors, individual calls are not retried again")
		retryCfg = nil
	}

	return &Helper{
		caller:   caller,
		address:  common.HexToAddress(cfg.Address),
		maxBatch: cfg.MaxBatchSize,
		retry:    retryCfg,
		exec: executor.New(cfg.Workers,
			executor.WithName[struct{}](intcommon.ComponentMultiCall),
			executor.WithLogger[struct{}](log),
		),
		log: log,
	}, nil
}

// Close waits for running groups and stops the worker pool.
func (h *Helper) Close(ctx context.Context) error {
	return h.exec.Close(ctx)
}

// ExecuteCalls runs every call and fills in Returns or Err on each.
// Calls are grouped by block number and each group is packed into batches of at
// most MaxBatchSize aggregate3 sub-calls. Failed sub-calls are retried individually.
// A failing call never fails the whole execution: the returned error only reports
// invalid input or a cancelled context.
func (h *Helper) ExecuteCalls(ctx context.Context, calls []*Call) error {
	if err := validate(calls); err != nil {
		return err
	}
	for _, c := range calls {
		c.Returns = nil
		c.Err = nil
	}

	groups := Groups(calls)
	futures := make([]*executor.Future[struct{}], 0, len(groups))

	for _, g := range groups {
		f, err := h.exec.Submit(ctx, func(context.Context) (struct{}, error) {
			return struct{}{}, h.executeGroup(ctx, g)
		})
		if err != nil {
			return fmt.Errorf("failed to submit call group for block %d: %w", g.BlockNumber, err)
		}
		futures = append(futures, f)
	}

	var errs []error
	for _, f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (h *Helper) executeGroup(ctx context.Context, g Group) error {
	for _, batch := range chunk(g.Calls, h.maxBatch) {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.executeBatch(ctx, g.BlockNumber, batch)
	}
	return ctx.Err()
}

func (h *Helper) executeBatch(ctx context.Context, block uint64, batch []*Call) {
	blockNum := new(big.Int).SetUint64(block)

	packed := make([]call3, 0, len(batch))
	keys := make([]string, 0, len(batch))
	byKey := make(map[string]*Call, len(batch))

	for _, c := range batch {
		data, err := c.pack()
		if err != nil {
			c.Err = err
			continue
		}
		packed = append(packed, call3{Target: c.Target, AllowFailure: true, CallData: data})
		keys = append(keys, c.CorrelationKey)
		byKey[c.CorrelationKey] = c
	}
	if len(packed) == 0 {
		return
	}

	results, err := h.aggregate(ctx, blockNum, packed)
	if err != nil {
		h.log.Warnf("aggregate call of %d sub-calls at block %d failed, falling back to individual calls: %v",
			len(packed), block, err)
		aggregateFailuresInc()
		for _, key := range keys {
			h.callIndividually(ctx, byKey[key], blockNum)
		}
		return
	}

	for i, key := range keys {
		c := byKey[key]
		res := results[i]

		if res.Success {
			if err := c.decode(res.ReturnData); err == nil {
				continue
			}
		}

		subCallFailuresInc()
		h.log.Debugf("sub-call %s (%s) at block %d failed, retrying individually", key, c.Method.Name, block)
		h.callIndividually(ctx, c, blockNum)
	}
}

func (h *Helper) aggregate(ctx context.Context, blockNum *big.Int, calls []call3) ([]result3, error) {
	input, err := multicallABI.Pack(aggregate3, calls)
	if err != nil {
		return nil, fmt.Errorf("pack aggregate3: %w", err)
	}

	aggregateCallsInc(len(calls))

	out, err := h.caller.CallContract(ctx, ethereum.CallMsg{To: &h.address, Data: input}, blockNum)
	if err != nil {
		return nil, err
	}

	unpacked, err := multicallABI.Unpack(aggregate3, out)
	if err != nil {
		return nil, fmt.Errorf("unpack aggregate3: %w", err)
	}
	if len(unpacked) != 1 {
		return nil, fmt.Errorf("unpack aggregate3: expected 1 output, got %d", len(unpacked))
	}

	results := *abi.ConvertType(unpacked[0], new([]result3)).(*[]result3)
	if len(results) != len(calls) {
		return nil, fmt.Errorf("aggregate3 returned %d results for %d calls", len(results), len(calls))
	}

	return results, nil
}

func (h *Helper) callIndividually(ctx context.Context, c *Call, blockNum *big.Int) {
	data, err := c.pack()
	if err != nil {
		c.Err = err
		return
	}

	individualRetriesInc()

	var out []byte
	err = retry.Do(ctx, h.retry, "multicall_individual", rpc.IsTransient, func() (err error) {
		out, err = h.caller.CallContract(ctx, ethereum.CallMsg{To: &c.Target, Data: data}, blockNum)
		return err
	})
	if err != nil {
		c.Err = fmt.Errorf("%w: %s at block %d: %w", ErrCallFailed, c.Method.Name, blockNum.Uint64(), err)
		return
	}

	if err := c.decode(out); err != nil {
		c.Err = err
	}
}

func validate(calls []*Call) error {
	seen := make(map[string]struct{}, len(calls))
	for i, c := range calls {
		if c == nil {
			return fmt.Errorf("call %d is nil", i)
		}
		if c.CorrelationKey == "" {
			return fmt.Errorf("call %d: correlation key is required", i)
		}
		if _, dup := seen[c.CorrelationKey]; dup {
			return fmt.Errorf("call %d: duplicate correlation key %q", i, c.CorrelationKey)
		}
		seen[c.CorrelationKey] = struct{}{}
		if len(c.Method.ID) != 4 {
			return fmt.Errorf("call %s: method is required", c.CorrelationKey)
		}
	}
	return nil
}
