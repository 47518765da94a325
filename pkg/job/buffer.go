package job

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/goran-ethernal/ChainPipeline/pkg/record"
)

// ErrNoCollector is returned when a range has no output collector attached.
var ErrNoCollector = errors.New("range has no output collector")

// BufferReader gives read access to buffered records.
type BufferReader interface {
	Get(kind record.EntityKind) []record.Record
}

// Buffer is the per-range record store shared by all jobs of a range.
type Buffer struct {
	mu      sync.RWMutex
	records map[record.EntityKind][]record.Record
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{records: make(map[record.EntityKind][]record.Record)}
}

// Get returns a copy of the records of kind.
func (b *Buffer) Get(kind record.EntityKind) []record.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return slices.Clone(b.records[kind])
}

// Append adds records of kind to the buffer.
func (b *Buffer) Append(kind record.EntityKind, records ...record.Record) {
	if len(records) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.records[kind] = append(b.records[kind], records...)
}

// Merge appends every record held by the collector, in collection order per kind.
func (b *Buffer) Merge(c *Collector) {
	for _, kind := range c.Kinds() {
		b.Append(kind, c.Records(kind)...)
	}
}

// Len returns the number of records of kind.
func (b *Buffer) Len(kind record.EntityKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.records[kind])
}

// Snapshot returns a copy of the whole buffer.
func (b *Buffer) Snapshot() map[record.EntityKind][]record.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[record.EntityKind][]record.Record, len(b.records))
	for k, v := range b.records {
		out[k] = slices.Clone(v)
	}
	return out
}

// Collector gathers one job's output and enforces its declared output kinds.
type Collector struct {
	job     string
	allowed map[record.EntityKind]struct{}

	mu      sync.Mutex
	order   []record.EntityKind
	records map[record.EntityKind][]record.Record
}

// NewCollector creates a collector accepting only the given kinds.
func NewCollector(jobName string, outputs []record.EntityKind) *Collector {
	allowed := make(map[record.EntityKind]struct{}, len(outputs))
	for _, k := range outputs {
		allowed[k] = struct{}{}
	}
	return &Collector{
		job:     jobName,
		allowed: allowed,
		records: make(map[record.EntityKind][]record.Record),
	}
}

// Collect validates and stores records. Nothing is stored if any record is undeclared.
func (c *Collector) Collect(records ...record.Record) error {
	for _, r := range records {
		if _, ok := c.allowed[r.Kind()]; !ok {
			return &ConfigurationError{
				Job:    c.job,
				Reason: fmt.Sprintf("emitted undeclared record kind %s", r.Kind()),
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range records {
		kind := r.Kind()
		if _, seen := c.records[kind]; !seen {
			c.order = append(c.order, kind)
		}
		c.records[kind] = append(c.records[kind], r)
	}
	return nil
}

// Kinds returns the collected kinds in first-collected order.
func (c *Collector) Kinds() []record.EntityKind {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.order)
}

// Records returns the collected records of kind.
func (c *Collector) Records(kind record.EntityKind) []record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.records[kind])
}

// Count returns the total number of collected records.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, v := range c.records {
		n += len(v)
	}
	return n
}
