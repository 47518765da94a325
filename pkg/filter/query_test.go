package filter

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestQueryFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		spec      Specification
		wantLogs  bool
		wantTxs   bool
		addresses []common.Address
		topics    []common.Hash
	}{
		{
			name:      "single contract",
			spec:      Contract(tokenA, transferSig),
			wantLogs:  true,
			addresses: []common.Address{tokenA},
			topics:    []common.Hash{transferSig},
		},
		{
			name:      "or of contracts unions addresses and topics",
			spec:      OrSpecification(Contract(tokenB, approvalSig), Contract(tokenA, transferSig)),
			wantLogs:  true,
			addresses: []common.Address{tokenA, tokenB},
			topics:    sortedHashes(hashSet([]common.Hash{transferSig, approvalSig})),
		},
		{
			name:      "topic-only branch widens addresses",
			spec:      OrSpecification(Contract(tokenA, transferSig), Topic(approvalSig)),
			wantLogs:  true,
			addresses: nil,
			topics:    sortedHashes(hashSet([]common.Hash{transferSig, approvalSig})),
		},
		{
			name:     "selector only wants transactions",
			spec:     MethodSelector(transferCall),
			wantTxs:  true,
			topics:   nil,
			wantLogs: false,
		},
		{
			name:      "logs and transactions",
			spec:      OrSpecification(Contract(tokenA, transferSig), Counterparty(alice)),
			wantLogs:  true,
			wantTxs:   true,
			addresses: []common.Address{tokenA},
			topics:    []common.Hash{transferSig},
		},
		{
			name:     "not cannot be bounded",
			spec:     Not(Address(tokenA)),
			wantLogs: true,
			wantTxs:  true,
		},
		{
			name: "disjoint and matches nothing",
			spec: And(Contract(tokenA, transferSig), Address(tokenB)),
		},
		{
			name: "empty or matches nothing",
			spec: OrSpecification(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			q := QueryFor(tt.spec)
			require.Equal(t, tt.wantLogs, q.WantsLogs)
			require.Equal(t, tt.wantTxs, q.WantsTransactions)
			require.Equal(t, tt.addresses, q.Addresses)
			require.Equal(t, tt.topics, q.Topics)
		})
	}
}

func TestQuery_FilterQuery(t *testing.T) {
	t.Parallel()

	q := QueryFor(Contract(tokenA, transferSig))
	fq := q.FilterQuery(100, 199)

	require.Equal(t, uint64(100), fq.FromBlock.Uint64())
	require.Equal(t, uint64(199), fq.ToBlock.Uint64())
	require.Equal(t, []common.Address{tokenA}, fq.Addresses)
	require.Equal(t, [][]common.Hash{{transferSig}}, fq.Topics)

	open := QueryFor(Address(tokenA)).FilterQuery(1, 2)
	require.Nil(t, open.Topics)
}
