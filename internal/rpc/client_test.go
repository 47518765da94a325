package rpc

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainPipeline/internal/common"
	"github.com/goran-ethernal/ChainPipeline/pkg/config"
	pkgrpc "github.com/goran-ethernal/ChainPipeline/pkg/rpc"
	"github.com/stretchr/testify/require"
)

// TestClientImplementsInterface verifies that Client implements the EthClient interface.
func TestClientImplementsInterface(t *testing.T) {
	// This test ensures compile-time interface compliance is maintained
	var _ pkgrpc.EthClient = (*Client)(nil)
	var _ pkgrpc.ContractCaller = (*Client)(nil)
}

func TestToBlockNumArg(t *testing.T) {
	tests := []struct {
		name     string
		blockNum uint64
		want     string
	}{
		{
			name:     "block 0",
			blockNum: 0,
			want:     "0x0",
		},
		{
			name:     "block 1",
			blockNum: 1,
			want:     "0x1",
		},
		{
			name:     "block 100",
			blockNum: 100,
			want:     "0x64",
		},
		{
			name:     "block 1000",
			blockNum: 1000,
			want:     "0x3e8",
		},
		{
			name:     "large block number",
			blockNum: 18000000,
			want:     "0x112a880",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := toBlockNumArg(tt.blockNum)
			require.Equal(t, tt.want, result)
		})
	}
}

func TestToFilterArg(t *testing.T) {
	addr1 := ethcommon.HexToAddress("0x1234567890123456789012345678901234567890")
	addr2 := ethcommon.HexToAddress("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd")
	blockHash := ethcommon.HexToHash("0xdeadbeef")
	topic1 := ethcommon.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	topic2 := ethcommon.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")

	tests := []struct {
		name  string
		query ethereum.FilterQuery
		check func(t *testing.T, result any)
	}{
		{
			name: "query with single address and block range",
			query: ethereum.FilterQuery{
				FromBlock: big.NewInt(100),
				ToBlock:   big.NewInt(200),
				Addresses: []ethcommon.Address{addr1},
				Topics:    [][]ethcommon.Hash{{topic1}},
			},
			check: func(t *testing.T, result any) {
				t.Helper()
				m, ok := result.(map[string]any)
				require.True(t, ok, "result should be a map[string]any")
				require.Equal(t, "0x64", m["fromBlock"])
				require.Equal(t, "0xc8", m["toBlock"])
				require.Equal(t, addr1, m["address"])
				require.Equal(t, [][]ethcommon.Hash{{topic1}}, m["topics"])
				require.NotContains(t, m, "blockHash")
			},
		},
		{
			name: "query with multiple addresses",
			query: ethereum.FilterQuery{
				FromBlock: big.NewInt(1),
				ToBlock:   big.NewInt(10),
				Addresses: []ethcommon.Address{addr1, addr2},
				Topics:    [][]ethcommon.Hash{{topic1, topic2}},
			},
			check: func(t *testing.T, result any) {
				t.Helper()
				m, ok := result.(map[string]any)
				require.True(t, ok, "result should be a map[string]any")
				require.Equal(t, "0x1", m["fromBlock"])
				require.Equal(t, "0xa", m["toBlock"])
				require.Equal(t, []ethcommon.Address{addr1, addr2}, m["address"])
				require.Equal(t, [][]ethcommon.Hash{{topic1, topic2}}, m["topics"])
			},
		},
		{
			name: "query with block hash",
			query: ethereum.FilterQuery{
				BlockHash: &blockHash,
				Addresses: []ethcommon.Address{addr1},
				Topics:    [][]ethcommon.Hash{{topic1}},
			},
			check: func(t *testing.T, result any) {
				t.Helper()
				m, ok := result.(map[string]any)
				require.True(t, ok, "result should be a map[string]any")
				require.Equal(t, blockHash, m["blockHash"])
				require.Equal(t, addr1, m["address"])
				require.NotContains(t, m, "fromBlock")
				require.NotContains(t, m, "toBlock")
			},
		},
		{
			name: "query with no addresses",
			query: ethereum.FilterQuery{
				FromBlock: big.NewInt(50),
				ToBlock:   big.NewInt(100),
				Topics:    [][]ethcommon.Hash{{topic1}},
			},
			check: func(t *testing.T, result any) {
				t.Helper()
				m, ok := result.(map[string]any)
				require.True(t, ok, "result should be a map[string]any")
				require.Equal(t, "0x32", m["fromBlock"])
				require.Equal(t, "0x64", m["toBlock"])
				require.NotContains(t, m, "address")
				require.Equal(t, [][]ethcommon.Hash{{topic1}}, m["topics"])
			},
		},
		{
			name: "query with only fromBlock",
			query: ethereum.FilterQuery{
				FromBlock: big.NewInt(1000),
				Addresses: []ethcommon.Address{addr1},
				Topics:    [][]ethcommon.Hash{},
			},
			check: func(t *testing.T, result any) {
				t.Helper()
				m, ok := result.(map[string]any)
				require.True(t, ok, "result should be a map[string]any")
				require.Equal(t, "0x3e8", m["fromBlock"])
				require.NotContains(t, m, "toBlock")
				require.Equal(t, addr1, m["address"])
			},
		},
		{
			name: "query with only toBlock",
			query: ethereum.FilterQuery{
				ToBlock:   big.NewInt(500),
				Addresses: []ethcommon.Address{addr1},
				Topics:    [][]ethcommon.Hash{},
			},
			check: func(t *testing.T, result any) {
				t.Helper()
				m, ok := result.(map[string]any)
				require.True(t, ok, "result should be a map[string]any")
				require.NotContains(t, m, "fromBlock")
				require.Equal(t, "0x1f4", m["toBlock"])
				require.Equal(t, addr1, m["address"])
			},
		},
		{
			name: "minimal query with topics only",
			query: ethereum.FilterQuery{
				Topics: [][]ethcommon.Hash{{topic1}},
			},
			check: func(t *testing.T, result any) {
				t.Helper()
				m, ok := result.(map[string]any)
				require.True(t, ok, "result should be a map[string]any")
				require.Equal(t, [][]ethcommon.Hash{{topic1}}, m["topics"])
				require.NotContains(t, m, "fromBlock")
				require.NotContains(t, m, "toBlock")
				require.NotContains(t, m, "address")
				require.NotContains(t, m, "blockHash")
			},
		},
		{
			name: "query with empty topics",
			query: ethereum.FilterQuery{
				FromBlock: big.NewInt(1),
				ToBlock:   big.NewInt(10),
				Addresses: []ethcommon.Address{addr1},
				Topics:    [][]ethcommon.Hash{},
			},
			check: func(t *testing.T, result any) {
				t.Helper()
				m, ok := result.(map[string]any)
				require.True(t, ok, "result should be a map[string]any")
				require.Equal(t, "0x1", m["fromBlock"])
				require.Equal(t, "0xa", m["toBlock"])
				require.Equal(t, addr1, m["address"])
				require.Equal(t, [][]ethcommon.Hash{}, m["topics"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := toFilterArg(tt.query)
			tt.check(t, result)
		})
	}
}

func TestToFilterArg_AddressSingleVsMultiple(t *testing.T) {
	addr1 := ethcommon.HexToAddress("0x1111111111111111111111111111111111111111")
	addr2 := ethcommon.HexToAddress("0x2222222222222222222222222222222222222222")

	// Single address should be stored as a single address, not an array
	singleQuery := ethereum.FilterQuery{
		Addresses: []ethcommon.Address{addr1},
		Topics:    [][]ethcommon.Hash{},
	}
	singleResult := toFilterArg(singleQuery)
	singleMap, ok := singleResult.(map[string]any)
	require.True(t, ok, "result should be a map[string]any")

	// Should be a single address, not a slice
	require.IsType(t, ethcommon.Address{}, singleMap["address"])
	require.Equal(t, addr1, singleMap["address"])

	// Multiple addresses should be stored as an array
	multiQuery := ethereum.FilterQuery{
		Addresses: []ethcommon.Address{addr1, addr2},
		Topics:    [][]ethcommon.Hash{},
	}
	multiResult := toFilterArg(multiQuery)
	multiMap, ok := multiResult.(map[string]any)
	require.True(t, ok, "result should be a map[string]any")

	// Should be a slice of addresses
	require.IsType(t, []ethcommon.Address{}, multiMap["address"])
	require.Equal(t, []ethcommon.Address{addr1, addr2}, multiMap["address"])
}

func TestToFilterArg_BlockHashTakesPrecedence(t *testing.T) {
	blockHash := ethcommon.HexToHash("0xabcdef")
	addr := ethcommon.HexToAddress("0x1234567890123456789012345678901234567890")

	// When blockHash is set, fromBlock and toBlock should be ignored
	query := ethereum.FilterQuery{
		BlockHash: &blockHash,
		FromBlock: big.NewInt(100),
		ToBlock:   big.NewInt(200),
		Addresses: []ethcommon.Address{addr},
		Topics:    [][]ethcommon.Hash{},
	}

	result := toFilterArg(query)
	m, ok := result.(map[string]any)
	require.True(t, ok, "result should be a map[string]any")

	require.Equal(t, blockHash, m["blockHash"])
	require.NotContains(t, m, "fromBlock", "fromBlock should not be present when blockHash is set")
	require.NotContains(t, m, "toBlock", "toBlock should not be present when blockHash is set")
}

type jsonrpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params []any           `json:"params"`
}

// newRPCServer serves JSON-RPC requests from a handler returning the result for each method.
// A handler returning a non-zero status makes the server fail the HTTP request with it.
func newRPCServer(t *testing.T, handler func(req jsonrpcRequest) (any, int)) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		result, status := handler(req)
		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
	t.Cleanup(srv.Close)

	return srv
}

func testRetryConfig() *config.RetryConfig {
	return &config.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    common.NewDuration(5 * time.Millisecond),
		MaxBackoff:        common.NewDuration(20 * time.Millisecond),
		BackoffMultiplier: 2.0,
	}
}

func TestClient_ChainIDRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := newRPCServer(t, func(req jsonrpcRequest) (any, int) {
		require.Equal(t, "eth_chainId", req.Method)
		if calls.Add(1) == 1 {
			return nil, http.StatusTooManyRequests
		}
		return "0x1", 0
	})

	client, err := NewClient(context.Background(), srv.URL, WithRetry(testRetryConfig()))
	require.NoError(t, err)
	defer client.Close()

	id, err := client.ChainID(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), id.Int64())
	require.Equal(t, int32(2), calls.Load())
}

func TestClient_CallContract(t *testing.T) {
	target := ethcommon.HexToAddress("0x1111111111111111111111111111111111111111")

	srv := newRPCServer(t, func(req jsonrpcRequest) (any, int) {
		require.Equal(t, "eth_call", req.Method)
		require.Len(t, req.Params, 2)

		msg, ok := req.Params[0].(map[string]any)
		require.True(t, ok)
		require.Equal(t, "0x1111111111111111111111111111111111111111", msg["to"])
		require.Equal(t, "0x64", req.Params[1])

		return "0x2a", 0
	})

	client, err := NewClient(context.Background(), srv.URL)
	require.NoError(t, err)
	defer client.Close()

	out, err := client.CallContract(context.Background(), ethereum.CallMsg{
		To:   &target,
		Data: []byte{0x70, 0xa0, 0x82, 0x31},
	}, big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, []byte{0x2a}, out)
}

func TestClient_PermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := newRPCServer(t, func(req jsonrpcRequest) (any, int) {
		calls.Add(1)
		return nil, http.StatusBadRequest
	})

	client, err := NewClient(context.Background(), srv.URL, WithRetry(testRetryConfig()))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.ChainID(context.Background())
	require.ErrorContains(t, err, "non-retryable")
	require.Equal(t, int32(1), calls.Load())
}

func TestClient_RetriesTransient(t *testing.T) {
	srv := newRPCServer(t, func(req jsonrpcRequest) (any, int) { return "0x1", 0 })

	plain, err := NewClient(context.Background(), srv.URL)
	require.NoError(t, err)
	defer plain.Close()
	require.False(t, plain.RetriesTransient())

	retrying, err := NewClient(context.Background(), srv.URL, WithRetry(testRetryConfig()))
	require.NoError(t, err)
	defer retrying.Close()
	require.True(t, retrying.RetriesTransient())
}
