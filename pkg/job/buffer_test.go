package job

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainPipeline/pkg/record"
	"github.com/stretchr/testify/require"
)

const (
	kindTransfer record.EntityKind = "transfer"
	kindBalance  record.EntityKind = "balance"
)

type testRecord struct {
	kind  record.EntityKind
	key   string
	block uint64
}

func (r testRecord) Kind() record.EntityKind { return r.kind }
func (r testRecord) BlockNumber() uint64     { return r.block }
func (r testRecord) Key() string             { return r.key }
func (r testRecord) Values() []any           { return []any{r.key, r.block} }

func TestCollector_RejectsUndeclaredKind(t *testing.T) {
	c := NewCollector("transfers", []record.EntityKind{kindTransfer})

	err := c.Collect(
		testRecord{kind: kindTransfer, key: "a"},
		testRecord{kind: kindBalance, key: "b"},
	)
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "transfers", cfgErr.Job)
	require.Contains(t, err.Error(), "balance")

	// nothing from the rejected call is kept
	require.Zero(t, c.Count())
}

func TestCollector_KeepsFirstCollectedOrder(t *testing.T) {
	c := NewCollector("multi", []record.EntityKind{kindTransfer, kindBalance})

	require.NoError(t, c.Collect(testRecord{kind: kindBalance, key: "b1"}))
	require.NoError(t, c.Collect(
		testRecord{kind: kindTransfer, key: "t1"},
		testRecord{kind: kindBalance, key: "b2"},
	))

	require.Equal(t, []record.EntityKind{kindBalance, kindTransfer}, c.Kinds())
	require.Len(t, c.Records(kindBalance), 2)
	require.Equal(t, "b2", c.Records(kindBalance)[1].Key())
	require.Equal(t, 3, c.Count())
}

func TestBuffer_MergeAndGet(t *testing.T) {
	b := NewBuffer()
	c := NewCollector("transfers", []record.EntityKind{kindTransfer})
	require.NoError(t, c.Collect(
		testRecord{kind: kindTransfer, key: "t1"},
		testRecord{kind: kindTransfer, key: "t2"},
	))

	b.Merge(c)
	require.Equal(t, 2, b.Len(kindTransfer))
	require.Empty(t, b.Get(kindBalance))

	// Get returns a copy
	got := b.Get(kindTransfer)
	got[0] = testRecord{kind: kindTransfer, key: "changed"}
	require.Equal(t, "t1", b.Get(kindTransfer)[0].Key())

	snap := b.Snapshot()
	require.Len(t, snap[kindTransfer], 2)
}

func TestBuffer_ConcurrentAppend(t *testing.T) {
	b := NewBuffer()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Append(kindTransfer, testRecord{kind: kindTransfer, block: uint64(i)})
		}()
	}
	wg.Wait()

	require.Equal(t, 10, b.Len(kindTransfer))
}

func TestRange(t *testing.T) {
	b := NewBuffer()
	b.Append(kindTransfer, testRecord{kind: kindTransfer, key: "t1"})

	c := NewCollector("balances", []record.EntityKind{kindBalance})
	r := NewRange(10, 12, b, c)
	r.Headers = []*types.Header{
		{Number: big.NewInt(10)},
		{Number: big.NewInt(11)},
	}

	require.Len(t, r.Get(kindTransfer), 1)
	require.NoError(t, r.Collect(testRecord{kind: kindBalance, key: "b1"}))
	require.Error(t, r.Collect(testRecord{kind: kindTransfer, key: "t2"}))
	require.Equal(t, 1, c.Count())

	require.NotNil(t, r.Header(11))
	require.Nil(t, r.Header(12))

	empty := &Range{}
	require.Nil(t, empty.Get(kindTransfer))
	require.ErrorIs(t, empty.Collect(testRecord{kind: kindBalance}), ErrNoCollector)
}
