package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Import built-in jobs to register them
	_ "github.com/goran-ethernal/ChainPipeline/examples/jobs/erc20"
	"github.com/goran-ethernal/ChainPipeline/internal/buffer"
	"github.com/goran-ethernal/ChainPipeline/internal/checkpoint"
	"github.com/goran-ethernal/ChainPipeline/internal/common"
	"github.com/goran-ethernal/ChainPipeline/internal/config"
	"github.com/goran-ethernal/ChainPipeline/internal/export"
	"github.com/goran-ethernal/ChainPipeline/internal/logger"
	"github.com/goran-ethernal/ChainPipeline/internal/metrics"
	"github.com/goran-ethernal/ChainPipeline/internal/multicall"
	"github.com/goran-ethernal/ChainPipeline/internal/pipeline"
	"github.com/goran-ethernal/ChainPipeline/internal/reorg"
	"github.com/goran-ethernal/ChainPipeline/internal/rpc"
	"github.com/goran-ethernal/ChainPipeline/internal/source"
	pkgconfig "github.com/goran-ethernal/ChainPipeline/pkg/config"
	"github.com/goran-ethernal/ChainPipeline/pkg/job"
	"github.com/goran-ethernal/ChainPipeline/pkg/record"
	"github.com/spf13/cobra"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║         ChainPipeline v%s              ║
║   Dependency-ordered chain data jobs      ║
╚═══════════════════════════════════════════╝
`

	shutdownTimeout = 2 * time.Minute
)

var (
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "ChainPipeline - dependency-ordered blockchain data pipeline",
	Long: `ChainPipeline loads block ranges from an Ethereum node, runs the configured
jobs in dependency order and exports their records to the configured stores.
Progress is checkpointed so a restart resumes after the last exported block.`,
	Version: version,
	RunE:    runPipeline,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List available job types",
	Long:  `List all registered job types that can be used in the configuration file.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Available job types:")
		types := job.ListRegistered()
		if len(types) == 0 {
			fmt.Println("  (no jobs registered)")
			return
		}
		for _, t := range types {
			fmt.Printf("  - %s\n", t)
		}
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the configuration JSON Schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.Schema()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the execution levels of the configured jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		jobs, registry, err := buildJobs(cfg, job.Env{MultiCall: offlineCaller{}, Log: logger.NewNopLogger()})
		if err != nil {
			return err
		}

		plan, err := pipeline.Resolve(jobs, registry)
		if err != nil {
			return err
		}

		for i, level := range plan.Levels {
			fmt.Printf("level %d:\n", i)
			for _, j := range level {
				fmt.Printf("  - %s %v -> %v\n", j.Name(), j.DependencyTypes(), j.OutputTypes())
			}
		}
		return nil
	},
}

// offlineCaller lets jobs that read contracts be built without a node.
type offlineCaller struct{}

func (offlineCaller) ExecuteCalls(context.Context, []*multicall.Call) error {
	return errors.New("multicall is not available offline")
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(jobsCmd, schemaCmd, planCmd)
}

// buildJobs creates the configured jobs and the record registry of their types.
func buildJobs(cfg *pkgconfig.Config, env job.Env) ([]job.Job, *record.Registry, error) {
	types := make([]string, 0, len(cfg.Jobs))
	for _, jobCfg := range cfg.Jobs {
		types = append(types, jobCfg.Type)
	}

	registry, err := job.NewRecordRegistry(types...)
	if err != nil {
		return nil, nil, err
	}

	jobs := make([]job.Job, 0, len(cfg.Jobs))
	for _, jobCfg := range cfg.Jobs {
		j, err := job.Create(jobCfg, env)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create job %s: %w", jobCfg.Name, err)
		}
		jobs = append(jobs, j)
	}

	return jobs, registry, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	log := logger.NewComponentLoggerFromConfig(common.ComponentPipeline, cfg.Logging)

	log.Info("Connecting to Ethereum node...")
	ethClient, err := rpc.NewClient(ctx, cfg.Chain.RPCURL,
		rpc.WithRetry(cfg.Chain.Retry),
		rpc.WithBlockWorkers(cfg.Chain.FetchWorkers),
	)
	if err != nil {
		return fmt.Errorf("failed to create RPC client: %w", err)
	}
	defer ethClient.Close()
	log.Infof("Connected to Ethereum node: %s", cfg.Chain.RPCURL)

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics, log)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(context.Background()); err != nil {
				log.Warnf("Failed to stop metrics server: %v", err)
			}
		}()
		log.Infof("Metrics server started on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	chain, err := source.NewChain(ethClient, cfg.Chain,
		logger.NewComponentLoggerFromConfig(common.ComponentChainSource, cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to create chain source: %w", err)
	}

	log.Info("Opening pipeline state database...")
	stateDB, maintenance, err := checkpoint.OpenDB(cfg.Checkpoint,
		logger.NewComponentLoggerFromConfig(common.ComponentMaintenance, cfg.Logging))
	if err != nil {
		return err
	}
	if err := maintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start database maintenance: %w", err)
	}
	defer func() {
		if err := maintenance.Stop(); err != nil {
			log.Warnf("Failed to stop database maintenance: %v", err)
		}
	}()

	store := checkpoint.NewStore(stateDB,
		logger.NewComponentLoggerFromConfig(common.ComponentCheckpoint, cfg.Logging), maintenance)
	defer store.Close()

	detector := reorg.NewReorgDetector(stateDB, ethClient,
		logger.NewComponentLoggerFromConfig(common.ComponentReorgDetector, cfg.Logging), maintenance)

	mc, err := multicall.NewHelper(ethClient, cfg.MultiCall,
		logger.NewComponentLoggerFromConfig(common.ComponentMultiCall, cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to create multicall helper: %w", err)
	}
	defer func() {
		if err := mc.Close(context.Background()); err != nil {
			log.Warnf("Failed to close multicall helper: %v", err)
		}
	}()

	log.Infof("Creating %d job(s)...", len(cfg.Jobs))
	jobs, registry, err := buildJobs(cfg, job.Env{
		MultiCall: mc,
		Log:       logger.NewComponentLoggerFromConfig(common.ComponentJobs, cfg.Logging),
	})
	if err != nil {
		return err
	}

	exporterLog := logger.NewComponentLoggerFromConfig(common.ComponentExporter, cfg.Logging)
	exporters, err := export.New(ctx, cfg.Exporters, registry, exporterLog)
	if err != nil {
		return fmt.Errorf("failed to create exporters: %w", err)
	}
	defer func() {
		if err := export.CloseAll(exporters); err != nil {
			log.Warnf("Failed to close exporters: %v", err)
		}
	}()

	var p *pipeline.Pipeline
	buf, err := buffer.NewService(cfg.Buffer, exporters,
		logger.NewComponentLoggerFromConfig(common.ComponentBuffer, cfg.Logging),
		buffer.WithOnExported(func(block uint64) { p.OnExported(block) }),
	)
	if err != nil {
		return fmt.Errorf("failed to create buffer service: %w", err)
	}

	p, err = pipeline.New(jobs, registry, chain, buf, log,
		pipeline.WithCheckpoint(store),
		pipeline.WithReorgDetector(detector),
		pipeline.WithBlockRange(cfg.Chain.StartBlock, cfg.Chain.EndBlock),
		pipeline.WithChunkSize(cfg.Chain.ChunkSize),
		pipeline.WithPollInterval(cfg.Chain.PollInterval.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	log.Infof("Execution plan: %s", p.Plan())

	buf.Start(ctx)

	log.Info("Starting ChainPipeline...")
	runErr := p.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// drain with a fresh context so buffered records survive a signal
	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer drainCancel()
	if err := buf.Shutdown(drainCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("failed to drain buffer: %w", err))
	}

	if runErr != nil {
		return fmt.Errorf("pipeline failed: %w", runErr)
	}

	log.Info("ChainPipeline stopped successfully")
	return nil
}
