package filter

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ItemKind distinguishes log items from transaction items.
type ItemKind int

const (
	ItemLog ItemKind = iota
	ItemTransaction
)

// Selector is the 4-byte method identifier at the start of call data.
type Selector [4]byte

// SelectorFromBytes returns the selector of the given call data.
// Call data shorter than four bytes has no selector.
func SelectorFromBytes(data []byte) (Selector, bool) {
	var s Selector
	if len(data) < len(s) {
		return s, false
	}
	copy(s[:], data[:len(s)])
	return s, true
}

// Item is the read-only view a Specification inspects.
// For logs Address is the emitting contract; for transactions it is the
// recipient (zero for contract creation).
type Item struct {
	Kind        ItemKind
	Address     common.Address
	Topics      []common.Hash
	Selector    Selector
	HasSelector bool
	From        common.Address
	To          *common.Address
}

// FromLog builds an Item from a log.
func FromLog(l *types.Log) Item {
	return Item{
		Kind:    ItemLog,
		Address: l.Address,
		Topics:  l.Topics,
	}
}

// FromTransaction builds an Item from a transaction and its recovered sender.
func FromTransaction(tx *types.Transaction, from common.Address) Item {
	item := Item{
		Kind: ItemTransaction,
		From: from,
		To:   tx.To(),
	}
	if item.To != nil {
		item.Address = *item.To
	}
	item.Selector, item.HasSelector = SelectorFromBytes(tx.Data())
	return item
}
