package export

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/goran-ethernal/ChainPipeline/internal/logger"
	"github.com/goran-ethernal/ChainPipeline/pkg/config"
	"github.com/goran-ethernal/ChainPipeline/pkg/record"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type testRecord struct {
	kind   record.EntityKind
	block  uint64
	key    string
	values []any
}

func (r testRecord) Kind() record.EntityKind { return r.kind }
func (r testRecord) BlockNumber() uint64     { return r.block }
func (r testRecord) Key() string             { return r.key }
func (r testRecord) Values() []any           { return r.values }

func balance(token, holder string, block uint64, amount string) record.Record {
	return testRecord{
		kind:   balanceDescriptor.Kind,
		block:  block,
		key:    token + ":" + holder,
		values: []any{token, holder, block, amount},
	}
}

func transfer(tx string, logIndex uint, block uint64, value string) record.Record {
	return testRecord{
		kind:   transferDescriptor.Kind,
		block:  block,
		key:    fmt.Sprintf("%s:%d", tx, logIndex),
		values: []any{tx, logIndex, block, value},
	}
}

func testRegistry(t *testing.T) *record.Registry {
	t.Helper()

	registry, err := record.NewRegistry(transferDescriptor, balanceDescriptor)
	require.NoError(t, err)
	return registry
}

func TestBatch_Kinds(t *testing.T) {
	registry := testRegistry(t)

	batch := Batch{Records: map[record.EntityKind][]record.Record{
		"zeta":                  {testRecord{kind: "zeta"}},
		balanceDescriptor.Kind:  {balance("t", "h", 1, "1")},
		"alpha":                 {testRecord{kind: "alpha"}},
		transferDescriptor.Kind: {transfer("0x1", 0, 1, "1")},
		"empty":                 nil,
	}}

	require.Equal(t,
		[]record.EntityKind{transferDescriptor.Kind, balanceDescriptor.Kind, "alpha", "zeta"},
		batch.Kinds(registry))
	require.Equal(t, 4, batch.Len())
}

func TestNew_UnknownType(t *testing.T) {
	registry := testRegistry(t)

	exporters, err := New(context.Background(), []config.ExporterConfig{
		{Type: config.ExporterLog},
		{Type: "kafka"},
	}, registry, logger.NewNopLogger())
	require.ErrorContains(t, err, `unknown exporter type "kafka"`)
	require.Nil(t, exporters)
}

func TestNew_SQLiteAndLog(t *testing.T) {
	registry := testRegistry(t)

	dbCfg := &config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "out.db")}
	dbCfg.ApplyDefaults()

	exporters, err := New(context.Background(), []config.ExporterConfig{
		{Type: config.ExporterSQLite, DB: dbCfg},
		{Type: config.ExporterLog},
	}, registry, logger.NewNopLogger())
	require.NoError(t, err)
	require.Len(t, exporters, 2)
	require.Equal(t, config.ExporterSQLite, exporters[0].Name())
	require.Equal(t, config.ExporterLog, exporters[1].Name())
	require.NoError(t, CloseAll(exporters))
}

func TestLog_Export(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

	exp := NewLog(testRegistry(t), log)
	err := exp.Export(context.Background(), Batch{
		Seq: 3,
		Records: record.ByKind(
			transfer("0x1", 0, 10, "5"),
			transfer("0x1", 1, 10, "6"),
			balance("t", "h", 10, "11"),
		),
	})
	require.NoError(t, err)

	summaries := logs.FilterMessage("exported records").All()
	require.Len(t, summaries, 2)
	require.Equal(t, "transfer", fmt.Sprint(summaries[0].ContextMap()["kind"]))
	require.Equal(t, int64(2), summaries[0].ContextMap()["count"])
	require.Equal(t, "balance", fmt.Sprint(summaries[1].ContextMap()["kind"]))

	require.Equal(t, 3, logs.FilterMessage("record").Len())
	require.NoError(t, exp.Close())
}

func TestLatestPerKey(t *testing.T) {
	recs := []record.Record{
		balance("t", "alice", 105, "70"),
		balance("t", "bob", 100, "5"),
		balance("t", "alice", 100, "100"),
		balance("t", "bob", 102, "9"),
	}

	got := latestPerKey(balanceDescriptor, recs)
	require.Len(t, got, 2)
	require.Equal(t, uint64(105), got[0].BlockNumber())
	require.Equal(t, "t:alice", got[0].Key())
	require.Equal(t, uint64(102), got[1].BlockNumber())
	require.Equal(t, "t:bob", got[1].Key())

	// history kinds keep every record
	transfers := []record.Record{transfer("0x1", 0, 1, "1"), transfer("0x1", 0, 1, "1")}
	require.Len(t, latestPerKey(transferDescriptor, transfers), 2)
}
