package multicall

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrCallFailed is the error set on a call whose every attempt reverted or returned no data.
var ErrCallFailed = errors.New("call failed")

// Call is a single read against historical chain state at a specific block.
type Call struct {
	Target         common.Address
	Method         abi.Method
	BlockNumber    uint64
	CorrelationKey string
	Params         []any

	// Returns holds the decoded outputs by name. It is set if and only if the call succeeded.
	Returns map[string]any
	// Err is the reason the call failed, nil on success.
	Err error
}

// Succeeded reports whether the call produced a result.
func (c *Call) Succeeded() bool {
	return c.Returns != nil
}

func (c *Call) pack() ([]byte, error) {
	args, err := c.Method.Inputs.Pack(c.Params...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", c.Method.Name, err)
	}
	return append(slices.Clone(c.Method.ID), args...), nil
}

func (c *Call) decode(data []byte) error {
	if len(data) == 0 && len(c.Method.Outputs) > 0 {
		return fmt.Errorf("%w: %s returned no data", ErrCallFailed, c.Method.Name)
	}

	returns := make(map[string]any, len(c.Method.Outputs))
	if err := c.Method.Outputs.UnpackIntoMap(returns, data); err != nil {
		return fmt.Errorf("decode %s: %w", c.Method.Name, err)
	}

	c.Returns = returns
	c.Err = nil
	return nil
}

// Group is the set of calls sharing one block number.
type Group struct {
	BlockNumber uint64
	Calls       []*Call
}

// Groups splits calls by block number, ordered by block. Calls keep their input order within a group.
func Groups(calls []*Call) []Group {
	index := make(map[uint64]int)
	var groups []Group

	for _, c := range calls {
		i, ok := index[c.BlockNumber]
		if !ok {
			i = len(groups)
			index[c.BlockNumber] = i
			groups = append(groups, Group{BlockNumber: c.BlockNumber})
		}
		groups[i].Calls = append(groups[i].Calls, c)
	}

	slices.SortFunc(groups, func(a, b Group) int {
		switch {
		case a.BlockNumber < b.BlockNumber:
			return -1
		case a.BlockNumber > b.BlockNumber:
			return 1
		default:
			return 0
		}
	})

	return groups
}

func chunk(calls []*Call, size int) [][]*Call {
	var out [][]*Call
	for i := 0; i < len(calls); i += size {
		out = append(out, calls[i:min(i+size, len(calls))])
	}
	return out
}
