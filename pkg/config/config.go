package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	intcommon "github.com/goran-ethernal/ChainPipeline/internal/common"
	"github.com/goran-ethernal/ChainPipeline/internal/logger"
)

const (
	// DefaultMultiCall3Address is the Multicall3 deployment shared by most EVM chains.
	DefaultMultiCall3Address = "0xcA11bde05977b3631167028862bE2a173976CA11"

	// DefaultAnchorKind is the record kind counted by the buffer size trigger.
	DefaultAnchorKind = "block"
)

// Exporter types.
const (
	ExporterSQLite   = "sqlite"
	ExporterPostgres = "postgres"
	ExporterLog      = "log"
)

// Config represents the complete configuration for the ChainPipeline.
type Config struct {
	// Chain contains the chain data source configuration
	Chain ChainConfig `yaml:"chain" json:"chain" toml:"chain"`

	// Checkpoint contains the pipeline state store configuration
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint" toml:"checkpoint"`

	// Buffer contains the buffer/export service configuration
	Buffer BufferConfig `yaml:"buffer" json:"buffer" toml:"buffer"`

	// MultiCall contains the batched contract read configuration
	MultiCall MultiCallConfig `yaml:"multicall" json:"multicall" toml:"multicall"`

	// Exporters lists the storage sinks, applied in order for every flushed batch
	Exporters []ExporterConfig `yaml:"exporters" json:"exporters" toml:"exporters"`

	// Jobs contains the configuration for all jobs, in declaration order
	Jobs []JobConfig `yaml:"jobs" json:"jobs" toml:"jobs"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// ChainConfig represents the configuration of the chain data source.
type ChainConfig struct {
	// RPCURL is the Ethereum RPC endpoint URL
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// ChunkSize is the number of blocks processed per range
	ChunkSize uint64 `yaml:"chunk_size" json:"chunk_size" toml:"chunk_size"`

	// StartBlock is the first block processed when no checkpoint exists
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`

	// EndBlock stops the pipeline once reached (0 = follow the chain)
	EndBlock uint64 `yaml:"end_block,omitempty" json:"end_block,omitempty" toml:"end_block,omitempty"`

	// Finality specifies the finality mode: "finalized", "safe", or "latest"
	Finality string `yaml:"finality" json:"finality" toml:"finality"`

	// FinalizedLag is the number of blocks behind head to consider final
	// Only used when Finality is set to "latest"
	FinalizedLag uint64 `yaml:"finalized_lag" json:"finalized_lag" toml:"finalized_lag"`

	// PollInterval is how long to wait for new blocks once caught up
	PollInterval intcommon.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// FetchWorkers bounds the concurrent block requests per range
	FetchWorkers int `yaml:"fetch_workers" json:"fetch_workers" toml:"fetch_workers"`

	// SkipUnrecoverableSenders drops transactions whose sender cannot be recovered
	// (e.g. chain-specific system transactions) instead of failing the range
	SkipUnrecoverableSenders bool `yaml:"skip_unrecoverable_senders,omitempty" json:"skip_unrecoverable_senders,omitempty" toml:"skip_unrecoverable_senders,omitempty"` //nolint:lll

	// Retry contains RPC retry configuration with exponential backoff
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
}

// ApplyDefaults sets default values for optional chain configuration fields.
func (c *ChainConfig) ApplyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 100
	}
	if c.Finality == "" {
		c.Finality = "finalized"
	}
	if c.PollInterval.Duration == 0 {
		c.PollInterval = intcommon.NewDuration(12 * time.Second) //nolint:mnd
	}
	if c.FetchWorkers == 0 {
		c.FetchWorkers = 8
	}
	if c.Retry == nil {
		c.Retry = &RetryConfig{}
	}
	c.Retry.ApplyDefaults()
}

// Validate checks if the chain configuration is valid.
func (c *ChainConfig) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if c.Finality != "finalized" && c.Finality != "safe" && c.Finality != "latest" {
		return fmt.Errorf("finality must be one of: 'finalized', 'safe', or 'latest'")
	}
	if c.EndBlock != 0 && c.EndBlock < c.StartBlock {
		return fmt.Errorf("end_block %d is before start_block %d", c.EndBlock, c.StartBlock)
	}
	if c.Retry != nil {
		if err := c.Retry.Validate(); err != nil {
			return fmt.Errorf("retry: %w", err)
		}
	}
	return nil
}

// RetryConfig represents retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff intcommon.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff intcommon.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = intcommon.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = intcommon.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// Validate checks if the retry configuration is valid.
func (r *RetryConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if r.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be at least 1")
	}
	if r.MaxBackoff.Duration < r.InitialBackoff.Duration {
		return fmt.Errorf("max_backoff must not be lower than initial_backoff")
	}
	return nil
}

// DatabaseConfig represents SQLite database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// Validate checks if the database configuration is valid.
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("path is required")
	}
	if d.JournalMode != "" &&
		!slices.Contains([]string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY"}, d.JournalMode) {
		return fmt.Errorf("journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}
	if d.Synchronous != "" && !slices.Contains([]string{"FULL", "NORMAL", "OFF"}, d.Synchronous) {
		return fmt.Errorf("synchronous must be one of: FULL, NORMAL, OFF")
	}
	return nil
}

// CheckpointConfig configures the store holding the pipeline checkpoint and
// the block hashes used for reorg detection.
type CheckpointConfig struct {
	// DB contains the state database configuration
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// Maintenance contains optional database maintenance settings
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`
}

// ApplyDefaults sets default values for optional checkpoint configuration fields.
func (c *CheckpointConfig) ApplyDefaults() {
	c.DB.ApplyDefaults()
	if c.Maintenance != nil {
		c.Maintenance.ApplyDefaults()
	}
}

// Validate checks if the checkpoint configuration is valid.
func (c *CheckpointConfig) Validate() error {
	if err := c.DB.Validate(); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if c.Maintenance != nil {
		if err := c.Maintenance.Validate(); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
	}
	return nil
}

// MaintenanceConfig configures database maintenance behavior.
type MaintenanceConfig struct {
	// Enabled controls whether background maintenance runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// CheckInterval is how often to run maintenance (e.g., "30m", "1h")
	CheckInterval intcommon.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs maintenance immediately on startup
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode controls the WAL checkpoint aggressiveness
	// Options: PASSIVE, FULL, RESTART, TRUNCATE
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = intcommon.NewDuration(30 * time.Minute) //nolint:mnd
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// Validate checks if the maintenance configuration is valid.
func (m *MaintenanceConfig) Validate() error {
	if m.WALCheckpointMode != "" {
		validModes := []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
		if !slices.Contains(validModes, m.WALCheckpointMode) {
			return fmt.Errorf("wal_checkpoint_mode: must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
		}
	}
	return nil
}

// BufferConfig configures the buffer/export service.
type BufferConfig struct {
	// AnchorKind is the record kind whose count triggers a size flush
	AnchorKind string `yaml:"anchor_kind" json:"anchor_kind" toml:"anchor_kind"`

	// SizeThreshold is the anchor record count that triggers a flush
	SizeThreshold int `yaml:"size_threshold" json:"size_threshold" toml:"size_threshold"`

	// MaxAge is the longest time records may wait in the buffer
	MaxAge intcommon.Duration `yaml:"max_age" json:"max_age" toml:"max_age"`

	// PollInterval is how often the age trigger is checked
	PollInterval intcommon.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// ExportWorkers bounds the number of batches exported concurrently
	ExportWorkers int `yaml:"export_workers" json:"export_workers" toml:"export_workers"`

	// ExportRetry controls how often a failed export is retried before the pipeline halts
	ExportRetry *RetryConfig `yaml:"export_retry,omitempty" json:"export_retry,omitempty" toml:"export_retry,omitempty"`
}

// ApplyDefaults sets default values for optional buffer configuration fields.
func (b *BufferConfig) ApplyDefaults() {
	if b.AnchorKind == "" {
		b.AnchorKind = DefaultAnchorKind
	}
	if b.SizeThreshold == 0 {
		b.SizeThreshold = 1000
	}
	if b.MaxAge.Duration == 0 {
		b.MaxAge = intcommon.NewDuration(time.Minute)
	}
	if b.PollInterval.Duration == 0 {
		b.PollInterval = intcommon.NewDuration(5 * time.Second) //nolint:mnd
	}
	if b.ExportWorkers == 0 {
		b.ExportWorkers = 5
	}
	if b.ExportRetry == nil {
		b.ExportRetry = &RetryConfig{}
	}
	b.ExportRetry.ApplyDefaults()
}

// Validate checks if the buffer configuration is valid.
func (b *BufferConfig) Validate() error {
	if b.SizeThreshold < 1 {
		return fmt.Errorf("size_threshold must be at least 1")
	}
	if b.ExportWorkers < 1 {
		return fmt.Errorf("export_workers must be at least 1")
	}
	if b.PollInterval.Duration <= 0 || b.MaxAge.Duration <= 0 {
		return fmt.Errorf("poll_interval and max_age must be positive")
	}
	if b.ExportRetry != nil {
		if err := b.ExportRetry.Validate(); err != nil {
			return fmt.Errorf("export_retry: %w", err)
		}
	}
	return nil
}

// MultiCallConfig configures batched contract reads.
type MultiCallConfig struct {
	// Address is the Multicall3 contract address
	Address string `yaml:"address" json:"address" toml:"address"`

	// MaxBatchSize is the maximum number of calls packed into one aggregate call
	MaxBatchSize int `yaml:"max_batch_size" json:"max_batch_size" toml:"max_batch_size"`

	// Workers bounds the number of block groups executed concurrently
	Workers int `yaml:"workers" json:"workers" toml:"workers"`

	// Retry controls individual retries of failed calls
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
}

// ApplyDefaults sets default values for optional multicall configuration fields.
func (m *MultiCallConfig) ApplyDefaults() {
	if m.Address == "" {
		m.Address = DefaultMultiCall3Address
	}
	if m.MaxBatchSize == 0 {
		m.MaxBatchSize = 100
	}
	if m.Workers == 0 {
		m.Workers = 4
	}
	if m.Retry == nil {
		m.Retry = &RetryConfig{MaxAttempts: 3}
	}
	m.Retry.ApplyDefaults()
}

// Validate checks if the multicall configuration is valid.
func (m *MultiCallConfig) Validate() error {
	if !common.IsHexAddress(m.Address) {
		return fmt.Errorf("address %q is not a valid address", m.Address)
	}
	if m.MaxBatchSize < 1 {
		return fmt.Errorf("max_batch_size must be at least 1")
	}
	if m.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if m.Retry != nil {
		if err := m.Retry.Validate(); err != nil {
			return fmt.Errorf("retry: %w", err)
		}
	}
	return nil
}

// ExporterConfig configures one storage sink.
type ExporterConfig struct {
	// Type is the exporter type: "sqlite", "postgres" or "log"
	Type string `yaml:"type" json:"type" toml:"type"`

	// DB is the SQLite database configuration (sqlite exporter)
	DB *DatabaseConfig `yaml:"db,omitempty" json:"db,omitempty" toml:"db,omitempty"`

	// DSN is the connection string (postgres exporter)
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty" toml:"dsn,omitempty"`

	// MaxConns bounds the connection pool (postgres exporter)
	MaxConns int32 `yaml:"max_conns,omitempty" json:"max_conns,omitempty" toml:"max_conns,omitempty"`
}

// ApplyDefaults sets default values for optional exporter configuration fields.
func (e *ExporterConfig) ApplyDefaults() {
	e.Type = intcommon.ToLowerWithTrim(e.Type)
	if e.DB != nil {
		e.DB.ApplyDefaults()
	}
	if e.Type == ExporterPostgres && e.MaxConns == 0 {
		e.MaxConns = 10
	}
}

// Validate checks if the exporter configuration is valid.
func (e *ExporterConfig) Validate() error {
	switch e.Type {
	case ExporterSQLite:
		if e.DB == nil {
			return fmt.Errorf("sqlite exporter requires db")
		}
		return e.DB.Validate()
	case ExporterPostgres:
		if e.DSN == "" {
			return fmt.Errorf("postgres exporter requires dsn")
		}
	case ExporterLog:
	default:
		return fmt.Errorf("unknown exporter type %q (supported: sqlite, postgres, log)", e.Type)
	}
	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components:
	//   - pipeline: Range driver and job execution
	//   - chain-source: Block, transaction and log loading
	//   - reorg-detector: Reorganization detection
	//   - checkpoint: Checkpoint persistence
	//   - buffer: Record buffering and flush decisions
	//   - executor: Worker pools
	//   - multicall: Batched contract reads
	//   - exporter: Storage sinks
	//   - jobs: Job implementations
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[intcommon.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := intcommon.AllComponents[intcommon.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[intcommon.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return intcommon.ToLowerWithTrim(level)
	}
	return intcommon.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return intcommon.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// IsNil reports whether the receiver is a nil pointer.
func (l *LoggingConfig) IsNil() bool {
	return l == nil
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// JobConfig represents the configuration for a single job.
type JobConfig struct {
	// Name is a unique identifier for this job
	Name string `yaml:"name" json:"name" toml:"name"`

	// Type selects the registered job factory
	Type string `yaml:"type" json:"type" toml:"type"`

	// StartBlock is the block number before which the job ignores data
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`

	// Contracts contains the list of contracts the job watches
	Contracts []ContractConfig `yaml:"contracts,omitempty" json:"contracts,omitempty" toml:"contracts,omitempty"`

	// CacheRetentionBlocks bounds job caches by block count (0 = job default)
	CacheRetentionBlocks uint64 `yaml:"cache_retention_blocks,omitempty" json:"cache_retention_blocks,omitempty" toml:"cache_retention_blocks,omitempty"` //nolint:lll
}

// ContractConfig represents a contract and its events.
type ContractConfig struct {
	// Address is the contract address to monitor
	Address string `yaml:"address" json:"address" toml:"address"`

	// Events is the list of event signatures to match
	// Format: "EventName(type1,type2,...)"
	Events []string `yaml:"events,omitempty" json:"events,omitempty" toml:"events,omitempty"`
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Chain.ApplyDefaults()
	c.Checkpoint.ApplyDefaults()
	c.Buffer.ApplyDefaults()
	c.MultiCall.ApplyDefaults()

	for i := range c.Exporters {
		c.Exporters[i].ApplyDefaults()
	}

	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Chain.Validate(); err != nil {
		return fmt.Errorf("chain.%w", err)
	}

	if err := c.Checkpoint.Validate(); err != nil {
		return fmt.Errorf("checkpoint.%w", err)
	}

	if err := c.Buffer.Validate(); err != nil {
		return fmt.Errorf("buffer.%w", err)
	}

	if err := c.MultiCall.Validate(); err != nil {
		return fmt.Errorf("multicall.%w", err)
	}

	if len(c.Exporters) == 0 {
		return fmt.Errorf("at least one exporter must be configured")
	}
	for i := range c.Exporters {
		if err := c.Exporters[i].Validate(); err != nil {
			return fmt.Errorf("exporters[%d]: %w", i, err)
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	if len(c.Jobs) == 0 {
		return fmt.Errorf("at least one job must be configured")
	}

	jobNames := make(map[string]bool)
	for i, job := range c.Jobs {
		if job.Name == "" {
			return fmt.Errorf("jobs[%d]: name is required", i)
		}
		if job.Type == "" {
			return fmt.Errorf("jobs[%d] (%s): type is required", i, job.Name)
		}

		if jobNames[job.Name] {
			return fmt.Errorf("jobs[%d]: duplicate job name '%s'", i, job.Name)
		}
		jobNames[job.Name] = true

		for j, contract := range job.Contracts {
			if !common.IsHexAddress(contract.Address) {
				return fmt.Errorf("jobs[%d] (%s), contract[%d]: invalid address %q", i, job.Name, j, contract.Address)
			}
		}
	}

	return nil
}
