package filter

import (
	"bytes"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Query is the over-approximation of a Specification used to fetch candidate
// items from the chain. Every item the specification accepts is covered by
// the query; the reverse does not hold, so candidates are re-checked with
// IsSatisfiedBy afterwards.
type Query struct {
	// WantsLogs is false when the specification can never accept a log.
	WantsLogs bool
	// Addresses restricts candidate logs by emitter. Nil means any address.
	Addresses []common.Address
	// Topics restricts candidate logs by topic0. Nil means any topic.
	Topics []common.Hash

	// WantsTransactions is false when the specification can never accept a transaction.
	WantsTransactions bool
}

// FilterQuery converts the log part of the query into an eth_getLogs filter.
func (q Query) FilterQuery(fromBlock, toBlock uint64) ethereum.FilterQuery {
	fq := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: q.Addresses,
	}
	if q.Topics != nil {
		fq.Topics = [][]common.Hash{q.Topics}
	}
	return fq
}

// bounds tracks which log emitters and topics a specification can accept.
// A nil set means unconstrained.
type bounds struct {
	logs      bool
	addresses map[common.Address]struct{}
	topics    map[common.Hash]struct{}
	txs       bool
}

var (
	allBounds  = bounds{logs: true, txs: true}
	noBounds   = bounds{}
	logsBounds = bounds{logs: true}
	txsBounds  = bounds{txs: true}
)

// QueryFor derives the fetch query of spec.
func QueryFor(spec Specification) Query {
	b := boundsOf(spec)

	q := Query{
		WantsLogs:         b.logs,
		WantsTransactions: b.txs,
	}
	if b.logs {
		if b.addresses != nil {
			q.Addresses = sortedAddresses(b.addresses)
		}
		if b.topics != nil {
			q.Topics = sortedHashes(b.topics)
		}
	}
	return q
}

func boundsOf(spec Specification) bounds {
	switch s := spec.(type) {
	case nil:
		return noBounds
	case anySpec:
		return allBounds
	case noneSpec:
		return noBounds
	case logsOnlySpec:
		return logsBounds
	case txsOnlySpec:
		return txsBounds
	case *AddressSpec:
		return bounds{logs: len(s.addresses) > 0, addresses: s.addresses, txs: len(s.addresses) > 0}
	case *TopicSpec:
		if s.index != 0 {
			return bounds{logs: len(s.topics) > 0}
		}
		return bounds{logs: len(s.topics) > 0, topics: s.topics}
	case *SelectorSpec:
		return bounds{txs: len(s.selectors) > 0}
	case *CounterpartySpec:
		return bounds{txs: len(s.addresses) > 0}
	case *AndSpec:
		b := allBounds
		for _, member := range s.specs {
			b = intersect(b, boundsOf(member))
		}
		return b
	case *OrSpec:
		b := noBounds
		for _, member := range s.specs {
			b = union(b, boundsOf(member))
		}
		return b
	default:
		// Not and unknown specs cannot be bounded.
		return allBounds
	}
}

func intersect(a, b bounds) bounds {
	out := bounds{
		logs: a.logs && b.logs,
		txs:  a.txs && b.txs,
	}
	if !out.logs {
		return out
	}
	out.addresses = intersectSets(a.addresses, b.addresses)
	out.topics = intersectSets(a.topics, b.topics)
	if (out.addresses != nil && len(out.addresses) == 0) || (out.topics != nil && len(out.topics) == 0) {
		out.logs = false
		out.addresses, out.topics = nil, nil
	}
	return out
}

func union(a, b bounds) bounds {
	out := bounds{
		logs: a.logs || b.logs,
		txs:  a.txs || b.txs,
	}
	switch {
	case !a.logs:
		out.addresses, out.topics = b.addresses, b.topics
	case !b.logs:
		out.addresses, out.topics = a.addresses, a.topics
	default:
		out.addresses = unionSets(a.addresses, b.addresses)
		out.topics = unionSets(a.topics, b.topics)
	}
	return out
}

func intersectSets[K comparable](a, b map[K]struct{}) map[K]struct{} {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	out := make(map[K]struct{})
	for k := range a {
		if _, ok := b[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

func unionSets[K comparable](a, b map[K]struct{}) map[K]struct{} {
	if a == nil || b == nil {
		return nil
	}
	out := make(map[K]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

func sortedAddresses(set map[common.Address]struct{}) []common.Address {
	out := make([]common.Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	slices.SortFunc(out, func(x, y common.Address) int { return bytes.Compare(x[:], y[:]) })
	return out
}

func sortedHashes(set map[common.Hash]struct{}) []common.Hash {
	out := make([]common.Hash, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	slices.SortFunc(out, func(x, y common.Hash) int { return bytes.Compare(x[:], y[:]) })
	return out
}
