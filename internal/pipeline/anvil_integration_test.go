package pipeline_test

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainPipeline/internal/buffer"
	"github.com/goran-ethernal/ChainPipeline/internal/checkpoint"
	"github.com/goran-ethernal/ChainPipeline/internal/db"
	"github.com/goran-ethernal/ChainPipeline/internal/export"
	"github.com/goran-ethernal/ChainPipeline/internal/logger"
	"github.com/goran-ethernal/ChainPipeline/internal/pipeline"
	"github.com/goran-ethernal/ChainPipeline/internal/reorg"
	"github.com/goran-ethernal/ChainPipeline/internal/rpc"
	"github.com/goran-ethernal/ChainPipeline/internal/source"
	"github.com/goran-ethernal/ChainPipeline/internal/testutil"
	"github.com/goran-ethernal/ChainPipeline/pkg/config"
	"github.com/goran-ethernal/ChainPipeline/pkg/filter"
	"github.com/goran-ethernal/ChainPipeline/pkg/job"
	"github.com/goran-ethernal/ChainPipeline/pkg/record"
	"github.com/stretchr/testify/require"
)

const kindPayment record.EntityKind = "payment"

var paymentDescriptor = record.Descriptor{
	Kind:       kindPayment,
	Table:      "payments",
	Columns:    []string{"tx_hash", "block_number", "sender", "recipient", "value"},
	PrimaryKey: []string{"tx_hash"},
	Conflict:   record.ConflictIgnore,
	Projection: record.History,
}

type payment struct {
	hash   common.Hash
	block  uint64
	sender common.Address
	to     common.Address
	value  *big.Int
}

func (p payment) Kind() record.EntityKind { return kindPayment }
func (p payment) BlockNumber() uint64     { return p.block }
func (p payment) Key() string             { return p.hash.Hex() }
func (p payment) Values() []any           { return []any{p.hash, p.block, p.sender, p.to, p.value} }

// paymentJob records every value transfer touching one address.
type paymentJob struct {
	recipient common.Address
}

func (j *paymentJob) Name() string                          { return "payments" }
func (j *paymentJob) DependencyTypes() []record.EntityKind { return nil }
func (j *paymentJob) OutputTypes() []record.EntityKind     { return []record.EntityKind{kindPayment} }
func (j *paymentJob) AbleToReorg() bool                    { return false }
func (j *paymentJob) Filter() filter.Specification         { return filter.Counterparty(j.recipient) }

func (j *paymentJob) Process(_ context.Context, r *job.Range) error {
	for _, tx := range r.Transactions {
		err := r.Collect(payment{
			hash:   tx.Tx.Hash(),
			block:  tx.BlockNumber,
			sender: tx.From,
			to:     *tx.Tx.To(),
			value:  tx.Tx.Value(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type anvilPipeline struct {
	store    *checkpoint.Store
	detector *reorg.ReorgDetector
	chain    *source.Chain
	registry *record.Registry
	outPath  string
	log      *logger.Logger
}

func newAnvilPipeline(t *testing.T, node *testutil.Anvil) *anvilPipeline {
	t.Helper()

	log := logger.NewNopLogger()
	dir := t.TempDir()

	client, err := rpc.NewClient(t.Context(), node.URL)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	chain, err := source.NewChain(client, config.ChainConfig{Finality: "latest"}, log)
	require.NoError(t, err)

	stateCfg := config.CheckpointConfig{DB: config.DatabaseConfig{Path: filepath.Join(dir, "state.db")}}
	stateCfg.ApplyDefaults()
	stateDB, maintenance, err := checkpoint.OpenDB(stateCfg, log)
	require.NoError(t, err)

	store := checkpoint.NewStore(stateDB, log, maintenance)
	t.Cleanup(func() { _ = store.Close() })

	registry, err := record.NewRegistry(paymentDescriptor)
	require.NoError(t, err)

	return &anvilPipeline{
		store:    store,
		detector: reorg.NewReorgDetector(stateDB, client, log, maintenance),
		chain:    chain,
		registry: registry,
		outPath:  filepath.Join(dir, "out.db"),
		log:      log,
	}
}

// run processes blocks up to end with a fresh buffer and exporter, as a restarted process would.
func (a *anvilPipeline) run(t *testing.T, recipient common.Address, start, end uint64) {
	t.Helper()

	ctx := t.Context()
	outCfg := config.DatabaseConfig{Path: a.outPath}
	outCfg.ApplyDefaults()
	exporter, err := export.NewSQLite(outCfg, a.registry, a.log)
	require.NoError(t, err)

	var p *pipeline.Pipeline
	buf, err := buffer.NewService(config.BufferConfig{SizeThreshold: 1, ExportWorkers: 1},
		[]export.Exporter{exporter}, a.log,
		buffer.WithOnExported(func(block uint64) { p.OnExported(block) }),
	)
	require.NoError(t, err)

	p, err = pipeline.New([]job.Job{&paymentJob{recipient: recipient}}, a.registry, a.chain, buf, a.log,
		pipeline.WithCheckpoint(a.store),
		pipeline.WithReorgDetector(a.detector),
		pipeline.WithBlockRange(start, end),
		pipeline.WithChunkSize(2),
	)
	require.NoError(t, err)

	buf.Start(ctx)
	require.NoError(t, p.Run(ctx))
	require.NoError(t, buf.Shutdown(ctx))
	require.NoError(t, exporter.Close())
}

func (a *anvilPipeline) lastBlock(t *testing.T) uint64 {
	t.Helper()

	state, found, err := a.store.Load()
	require.NoError(t, err)
	require.True(t, found)
	return state.LastBlock
}

func (a *anvilPipeline) payments(t *testing.T) map[common.Hash]string {
	t.Helper()

	out, err := db.NewSQLiteDB(a.outPath)
	require.NoError(t, err)
	defer out.Close()

	rows, err := out.Query(`SELECT tx_hash, sender, value FROM payments`)
	require.NoError(t, err)
	defer rows.Close()

	got := make(map[common.Hash]string)
	for rows.Next() {
		var hash, sender, value string
		require.NoError(t, rows.Scan(&hash, &sender, &value))
		got[common.HexToHash(hash)] = sender + ":" + value
	}
	require.NoError(t, rows.Err())
	return got
}

func TestAnvil_PaymentsAcrossReorg(t *testing.T) {
	testutil.SkipIfAnvilNotAvailable(t)

	node := testutil.StartAnvil(t)
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	other := common.HexToAddress("0x00000000000000000000000000000000000000c0")

	a := newAnvilPipeline(t, node)

	node.Mine(t, 2)
	forkPoint := node.BlockNumber(t)
	snapshot := node.Snapshot(t)

	first := node.Transfer(t, recipient, 1)
	node.Transfer(t, other, 2)
	third := node.Transfer(t, recipient, 3)
	head := node.BlockNumber(t)

	a.run(t, recipient, forkPoint+1, head)

	require.Equal(t, head, a.lastBlock(t))
	sender := node.Account.Hex()
	require.Equal(t, map[common.Hash]string{
		first.TxHash: sender + ":1",
		third.TxHash: sender + ":3",
	}, a.payments(t))

	// replace the three blocks with a different history and extend it
	node.Revert(t, snapshot)
	replacement := node.Transfer(t, recipient, 7)
	node.Mine(t, 3)
	newHead := node.BlockNumber(t)
	require.Greater(t, newHead, head)

	a.run(t, recipient, forkPoint+1, newHead)

	require.Equal(t, newHead, a.lastBlock(t))
	got := a.payments(t)
	require.Equal(t, sender+":7", got[replacement.TxHash])
	// payments are history, rows of the dropped blocks stay
	require.Len(t, got, 3)
}
