package job

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainPipeline/pkg/record"
)

// Transaction is a transaction together with its block context and recovered sender.
type Transaction struct {
	Tx          *types.Transaction
	From        common.Address
	BlockNumber uint64
	BlockHash   common.Hash
	Index       uint
}

// Range is the view of one block range handed to a job.
// Logs and Transactions are already narrowed to the job's filter.
type Range struct {
	From uint64
	To   uint64

	Headers      []*types.Header
	Logs         []types.Log
	Transactions []Transaction

	reader BufferReader
	writer *Collector
}

// NewRange creates a Range bound to a buffer reader and an output collector.
func NewRange(from, to uint64, reader BufferReader, writer *Collector) *Range {
	return &Range{
		From:   from,
		To:     to,
		reader: reader,
		writer: writer,
	}
}

// Get returns the buffered records of the given kind.
func (r *Range) Get(kind record.EntityKind) []record.Record {
	if r.reader == nil {
		return nil
	}
	return r.reader.Get(kind)
}

// Collect stores the job's output records.
func (r *Range) Collect(records ...record.Record) error {
	if r.writer == nil {
		return ErrNoCollector
	}
	return r.writer.Collect(records...)
}

// Header returns the header of block num, if it is part of the range.
func (r *Range) Header(num uint64) *types.Header {
	for _, h := range r.Headers {
		if h.Number.Uint64() == num {
			return h
		}
	}
	return nil
}
