package multicall

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	intcommon "github.com/goran-ethernal/ChainPipeline/internal/common"
	"github.com/goran-ethernal/ChainPipeline/internal/logger"
	"github.com/goran-ethernal/ChainPipeline/internal/rpc"
	"github.com/goran-ethernal/ChainPipeline/pkg/config"
	"github.com/stretchr/testify/require"
)

var (
	multicallAddr = common.HexToAddress(config.DefaultMultiCall3Address)
	tokenAddr     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	balanceOf     = MustMethod("balanceOf(address)", "uint256 balance")
)

// fakeChain answers aggregate3 and direct balanceOf calls.
// A holder's balance is its last byte times the block number.
type fakeChain struct {
	mu sync.Mutex

	failInAggregate  map[common.Address]bool // sub-call reverts inside aggregate3
	failIndividually map[common.Address]bool // direct call reverts too
	failAggregate    bool                    // aggregate3 itself errors

	aggregateCalls  int
	aggregateSizes  []int
	individualCalls int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		failInAggregate:  make(map[common.Address]bool),
		failIndividually: make(map[common.Address]bool),
	}
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, blockNum *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if *msg.To == multicallAddr {
		return f.aggregate(msg.Data, blockNum)
	}

	f.individualCalls++
	holder, err := decodeHolder(msg.Data)
	if err != nil {
		return nil, err
	}
	if f.failIndividually[holder] {
		return nil, errors.New("execution reverted")
	}
	return balanceOf.Outputs.Pack(balanceAt(holder, blockNum))
}

func (f *fakeChain) aggregate(data []byte, blockNum *big.Int) ([]byte, error) {
	f.aggregateCalls++
	if f.failAggregate {
		return nil, errors.New("execution reverted: out of gas")
	}

	method := multicallABI.Methods[aggregate3]
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}
	calls := *abi.ConvertType(args[0], new([]call3)).(*[]call3)
	f.aggregateSizes = append(f.aggregateSizes, len(calls))

	results := make([]result3, len(calls))
	for i, c := range calls {
		holder, err := decodeHolder(c.CallData)
		if err != nil || f.failInAggregate[holder] {
			continue
		}
		out, err := balanceOf.Outputs.Pack(balanceAt(holder, blockNum))
		if err != nil {
			return nil, err
		}
		results[i] = result3{Success: true, ReturnData: out}
	}

	return method.Outputs.Pack(results)
}

func decodeHolder(data []byte) (common.Address, error) {
	args, err := balanceOf.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, err
	}
	return args[0].(common.Address), nil
}

func balanceAt(holder common.Address, blockNum *big.Int) *big.Int {
	return new(big.Int).Mul(big.NewInt(int64(holder[19])), blockNum)
}

func holderAddr(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(i)))
}

func balanceCalls(block uint64, holders ...int) []*Call {
	calls := make([]*Call, 0, len(holders))
	for _, h := range holders {
		calls = append(calls, &Call{
			Target:         tokenAddr,
			Method:         balanceOf,
			BlockNumber:    block,
			CorrelationKey: fmt.Sprintf("%d:%d", block, h),
			Params:         []any{holderAddr(h)},
		})
	}
	return calls
}

func newTestHelper(t *testing.T, chain *fakeChain, maxBatch int) *Helper {
	t.Helper()

	h, err := NewHelper(chain, config.MultiCallConfig{
		MaxBatchSize: maxBatch,
		Workers:      2,
		Retry: &config.RetryConfig{
			MaxAttempts:       2,
			InitialBackoff:    intcommon.NewDuration(time.Millisecond),
			MaxBackoff:        intcommon.NewDuration(5 * time.Millisecond),
			BackoffMultiplier: 2,
		},
	}, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, h.Close(context.Background())) })

	return h
}

func TestGroups(t *testing.T) {
	t.Parallel()

	calls := append(balanceCalls(105, 1, 2), balanceCalls(100, 3, 4, 5)...)
	calls = append(calls, balanceCalls(103, 6)...)

	groups := Groups(calls)
	require.Len(t, groups, 3)
	require.Equal(t, []uint64{100, 103, 105}, []uint64{groups[0].BlockNumber, groups[1].BlockNumber, groups[2].BlockNumber})
	require.Len(t, groups[0].Calls, 3)
	require.Equal(t, "100:3", groups[0].Calls[0].CorrelationKey)
	require.Len(t, groups[2].Calls, 2)
}

func TestExecuteCalls_AllSucceed(t *testing.T) {
	t.Parallel()

	chain := newFakeChain()
	h := newTestHelper(t, chain, 100)

	calls := append(balanceCalls(10, 1, 2, 3), balanceCalls(20, 1, 2)...)
	require.NoError(t, h.ExecuteCalls(context.Background(), calls))

	for _, c := range calls {
		require.True(t, c.Succeeded(), c.CorrelationKey)
		require.NoError(t, c.Err)
		holder := c.Params[0].(common.Address)
		require.Equal(t, balanceAt(holder, new(big.Int).SetUint64(c.BlockNumber)), c.Returns["balance"])
	}

	// one aggregate call per block group
	require.Equal(t, 2, chain.aggregateCalls)
	require.Zero(t, chain.individualCalls)
}

func TestExecuteCalls_OneFailureRetriedIndividually(t *testing.T) {
	t.Parallel()

	chain := newFakeChain()
	chain.failInAggregate[holderAddr(4)] = true
	h := newTestHelper(t, chain, 100)

	calls := balanceCalls(50, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	require.NoError(t, h.ExecuteCalls(context.Background(), calls))

	for _, c := range calls {
		require.True(t, c.Succeeded(), c.CorrelationKey)
		require.NotEmpty(t, c.Returns)
	}
	require.Equal(t, 1, chain.aggregateCalls)
	require.Equal(t, 1, chain.individualCalls)
}

func TestExecuteCalls_PersistentFailureDoesNotAffectSiblings(t *testing.T) {
	t.Parallel()

	chain := newFakeChain()
	chain.failInAggregate[holderAddr(2)] = true
	chain.failIndividually[holderAddr(2)] = true
	h := newTestHelper(t, chain, 100)

	calls := balanceCalls(7, 1, 2, 3)
	require.NoError(t, h.ExecuteCalls(context.Background(), calls))

	require.True(t, calls[0].Succeeded())
	require.True(t, calls[2].Succeeded())

	require.False(t, calls[1].Succeeded())
	require.Nil(t, calls[1].Returns)
	require.ErrorIs(t, calls[1].Err, ErrCallFailed)
}

func TestExecuteCalls_BatchesByMaxSize(t *testing.T) {
	t.Parallel()

	chain := newFakeChain()
	h := newTestHelper(t, chain, 10)

	holders := make([]int, 25)
	for i := range holders {
		holders[i] = i + 1
	}
	calls := balanceCalls(1, holders...)
	require.NoError(t, h.ExecuteCalls(context.Background(), calls))

	require.Equal(t, 3, chain.aggregateCalls)
	require.Equal(t, []int{10, 10, 5}, chain.aggregateSizes)
	for _, c := range calls {
		require.True(t, c.Succeeded())
	}
}

func TestExecuteCalls_AggregateFailureDegradesToIndividualCalls(t *testing.T) {
	t.Parallel()

	chain := newFakeChain()
	chain.failAggregate = true
	h := newTestHelper(t, chain, 100)

	calls := balanceCalls(3, 1, 2, 3)
	require.NoError(t, h.ExecuteCalls(context.Background(), calls))

	require.Equal(t, 1, chain.aggregateCalls)
	require.Equal(t, 3, chain.individualCalls)
	for _, c := range calls {
		require.True(t, c.Succeeded())
	}
}

func TestExecuteCalls_RetryingClientIsNotRetriedAgain(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	retryCfg := &config.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    intcommon.NewDuration(time.Millisecond),
		MaxBackoff:        intcommon.NewDuration(2 * time.Millisecond),
		BackoffMultiplier: 2,
	}

	client, err := rpc.NewClient(context.Background(), srv.URL, rpc.WithRetry(retryCfg))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	h, err := NewHelper(client, config.MultiCallConfig{
		MaxBatchSize: 100,
		Workers:      1,
		Retry:        retryCfg,
	}, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, h.Close(context.Background())) })

	calls := balanceCalls(7, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	require.NoError(t, h.ExecuteCalls(context.Background(), calls))

	for _, c := range calls {
		require.ErrorIs(t, c.Err, ErrCallFailed)
	}
	// one aggregate call plus one per individual call, each retried by the client only
	require.Equal(t, int32(3+10*3), requests.Load())
}

func TestExecuteCalls_InvalidInput(t *testing.T) {
	t.Parallel()

	h := newTestHelper(t, newFakeChain(), 100)

	dup := append(balanceCalls(1, 1), balanceCalls(1, 1)...)
	require.ErrorContains(t, h.ExecuteCalls(context.Background(), dup), "duplicate correlation key")

	noKey := balanceCalls(1, 1)
	noKey[0].CorrelationKey = ""
	require.ErrorContains(t, h.ExecuteCalls(context.Background(), noKey), "correlation key is required")

	noMethod := balanceCalls(1, 1)
	noMethod[0].Method = abi.Method{}
	require.ErrorContains(t, h.ExecuteCalls(context.Background(), noMethod), "method is required")

	require.Error(t, h.ExecuteCalls(context.Background(), []*Call{nil}))
}

func TestExecuteCalls_BadParamsFailOnlyThatCall(t *testing.T) {
	t.Parallel()

	h := newTestHelper(t, newFakeChain(), 100)

	calls := balanceCalls(9, 1, 2)
	calls[1].Params = []any{"not-an-address"}

	require.NoError(t, h.ExecuteCalls(context.Background(), calls))
	require.True(t, calls[0].Succeeded())
	require.False(t, calls[1].Succeeded())
	require.ErrorContains(t, calls[1].Err, "pack balanceOf")
}

func TestNewMethod(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		signature string
		returns   []string
		wantErr   bool
		wantSig   string
		wantOuts  []string
	}{
		{
			name:      "balanceOf",
			signature: "balanceOf(address)",
			returns:   []string{"uint256 balance"},
			wantSig:   "balanceOf(address)",
			wantOuts:  []string{"balance"},
		},
		{
			name:      "no inputs, unnamed outputs",
			signature: "getReserves()",
			returns:   []string{"uint112", "uint112", "uint32"},
			wantSig:   "getReserves()",
			wantOuts:  []string{"out0", "out1", "out2"},
		},
		{
			name:      "multiple inputs",
			signature: "allowance(address, address)",
			returns:   []string{"uint256"},
			wantSig:   "allowance(address,address)",
			wantOuts:  []string{"out0"},
		},
		{
			name:      "missing parenthesis",
			signature: "balanceOf",
			wantErr:   true,
		},
		{
			name:      "unknown type",
			signature: "foo(uint7)",
			wantErr:   true,
		},
		{
			name:      "tuple",
			signature: "foo((uint256,address))",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMethod(tt.signature, tt.returns...)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantSig, m.Sig)
			require.Len(t, m.ID, 4)

			names := make([]string, 0, len(m.Outputs))
			for _, o := range m.Outputs {
				names = append(names, o.Name)
			}
			require.Equal(t, tt.wantOuts, names)
		})
	}
}
