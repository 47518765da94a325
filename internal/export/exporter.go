package export

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainPipeline/internal/logger"
	"github.com/goran-ethernal/ChainPipeline/internal/reconcile"
	"github.com/goran-ethernal/ChainPipeline/pkg/config"
	"github.com/goran-ethernal/ChainPipeline/pkg/record"
)

// Batch is one flushed buffer snapshot.
type Batch struct {
	// Seq orders batches by the time they were cut from the buffer.
	Seq uint64
	// Through is the highest block whose records are all contained in this or earlier batches.
	Through uint64
	// Version orders writes to current-status rows across runs. Zero falls back to Seq.
	Version uint64
	Records map[record.EntityKind][]record.Record
}

// WriteVersion returns the version stored with current-status rows written by this batch.
func (b Batch) WriteVersion() int64 {
	if b.Version == 0 {
		return int64(b.Seq)
	}
	return int64(b.Version)
}

// Len returns the number of records in the batch.
func (b Batch) Len() int {
	n := 0
	for _, recs := range b.Records {
		n += len(recs)
	}
	return n
}

// Kinds returns the kinds present in the batch, ordered by registry order
// with unregistered kinds last.
func (b Batch) Kinds(registry *record.Registry) []record.EntityKind {
	out := make([]record.EntityKind, 0, len(b.Records))
	if registry != nil {
		for _, k := range registry.Kinds() {
			if len(b.Records[k]) > 0 {
				out = append(out, k)
			}
		}
	}

	var rest []record.EntityKind
	for k, recs := range b.Records {
		if len(recs) > 0 && !slices.Contains(out, k) {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)

	return append(out, rest...)
}

// Exporter persists flushed batches.
// Implementations must be idempotent by primary key: batches may be applied
// more than once and concurrent batches may complete out of order.
type Exporter interface {
	Name() string
	Export(ctx context.Context, batch Batch) error
	Close() error
}

// New builds the configured exporters in configuration order.
func New(ctx context.Context, cfgs []config.ExporterConfig, registry *record.Registry,
	log *logger.Logger) ([]Exporter, error) {
	exporters := make([]Exporter, 0, len(cfgs))

	for i, cfg := range cfgs {
		var (
			exp Exporter
			err error
		)

		switch cfg.Type {
		case config.ExporterSQLite:
			exp, err = NewSQLite(*cfg.DB, registry, log)
		case config.ExporterPostgres:
			exp, err = NewPostgres(ctx, cfg.DSN, cfg.MaxConns, registry, log)
		case config.ExporterLog:
			exp = NewLog(registry, log)
		default:
			err = fmt.Errorf("unknown exporter type %q", cfg.Type)
		}

		if err != nil {
			closeErr := CloseAll(exporters)
			return nil, errors.Join(fmt.Errorf("exporter %d (%s): %w", i, cfg.Type, err), closeErr)
		}

		exporters = append(exporters, exp)
	}

	return exporters, nil
}

// CloseAll closes every exporter and joins their errors.
func CloseAll(exporters []Exporter) error {
	var errs []error
	for _, e := range exporters {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exporter %s: %w", e.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// normalize converts chain types into values every SQL driver accepts.
func normalize(v any) any {
	switch val := v.(type) {
	case common.Address:
		return val.Hex()
	case common.Hash:
		return val.Hex()
	case *big.Int:
		if val == nil {
			return nil
		}
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		return v
	}
}

func normalizeAll(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = normalize(v)
	}
	return out
}

func descriptorFor(registry *record.Registry, kind record.EntityKind) (record.Descriptor, error) {
	d, ok := registry.Lookup(kind)
	if !ok {
		return record.Descriptor{}, fmt.Errorf("%w: %s", record.ErrUnregisteredKind, kind)
	}
	return d, nil
}

// latestPerKey collapses the records of a current-status kind to the newest one
// per business key, in first-seen key order. A batch never spans a reorg rewind.
func latestPerKey(d record.Descriptor, recs []record.Record) []record.Record {
	if d.Projection != record.CurrentStatus || len(recs) < 2 {
		return recs
	}

	status := reconcile.NewCurrentStatus[string, record.Record]()
	for _, r := range recs {
		status.Apply(r.Key(), r, r.BlockNumber())
	}

	keys := status.Changed()
	out := make([]record.Record, 0, len(keys))
	for _, k := range keys {
		r, _, _ := status.Get(k)
		out = append(out, r)
	}
	return out
}

func checkWidth(d record.Descriptor, r record.Record, values []any) error {
	if len(values) != len(d.Columns) {
		return fmt.Errorf("record %s of kind %s has %d values, descriptor declares %d columns",
			r.Key(), d.Kind, len(values), len(d.Columns))
	}
	return nil
}
