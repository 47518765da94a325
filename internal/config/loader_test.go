package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/goran-ethernal/ChainPipeline/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestLoadFromYAML(t *testing.T) {
	cfg, err := LoadFromYAML("../../config.example.yaml")
	if err != nil {
		t.Fatalf("failed to load YAML config: %v", err)
	}

	validateConfig(t, cfg, "YAML")
}

func TestLoadFromJSON(t *testing.T) {
	cfg, err := LoadFromJSON("../../config.example.json")
	if err != nil {
		t.Fatalf("failed to load JSON config: %v", err)
	}

	validateConfig(t, cfg, "JSON")
}

func TestLoadFromTOML(t *testing.T) {
	cfg, err := LoadFromTOML("../../config.example.toml")
	if err != nil {
		t.Fatalf("failed to load TOML config: %v", err)
	}

	validateConfig(t, cfg, "TOML")
}

func TestLoadFromFile_YAML(t *testing.T) {
	cfg, err := LoadFromFile("../../config.example.yaml")
	if err != nil {
		t.Fatalf("failed to auto-load YAML config: %v", err)
	}

	validateConfig(t, cfg, "auto-detected YAML")
}

func TestLoadFromFile_JSON(t *testing.T) {
	cfg, err := LoadFromFile("../../config.example.json")
	if err != nil {
		t.Fatalf("failed to auto-load JSON config: %v", err)
	}

	validateConfig(t, cfg, "auto-detected JSON")
}

func TestLoadFromFile_TOML(t *testing.T) {
	cfg, err := LoadFromFile("../../config.example.toml")
	if err != nil {
		t.Fatalf("failed to auto-load TOML config: %v", err)
	}

	validateConfig(t, cfg, "auto-detected TOML")
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	_, err := LoadFromFile("config.txt")
	require.Contains(t, err.Error(), "unsupported config file format")
}

// validateConfig checks that the loaded config has expected values
func validateConfig(t *testing.T, cfg *config.Config, format string) {
	t.Helper()

	// Test chain config
	require.NotEmpty(t, cfg.Chain.RPCURL, "[%s] chain.rpc_url should not be empty", format)

	// Test defaults applied
	require.NotZero(t, cfg.Chain.ChunkSize, "[%s] chain.chunk_size should not be zero", format)
	require.NotEmpty(t, cfg.Chain.Finality, "[%s] finality should have default value applied", format)
	require.NotNil(t, cfg.Chain.Retry, "[%s] chain.retry should have default value applied", format)

	// Test checkpoint database config
	require.NotEmpty(t, cfg.Checkpoint.DB.Path, "[%s] checkpoint.db.path should not be empty", format)
	require.NotEmpty(t, cfg.Checkpoint.DB.JournalMode, "[%s] db.journal_mode should have default value", format)
	require.NotEmpty(t, cfg.Checkpoint.DB.Synchronous, "[%s] db.synchronous should have default value", format)

	// Test buffer and multicall
	require.Equal(t, config.DefaultAnchorKind, cfg.Buffer.AnchorKind, "[%s] buffer.anchor_kind", format)
	require.Positive(t, cfg.Buffer.SizeThreshold, "[%s] buffer.size_threshold", format)
	require.Positive(t, cfg.MultiCall.MaxBatchSize, "[%s] multicall.max_batch_size", format)
	require.Equal(t, config.DefaultMultiCall3Address, cfg.MultiCall.Address, "[%s] multicall.address", format)

	// Test exporters
	require.NotEmpty(t, cfg.Exporters, "[%s] there should be at least one exporter configured", format)

	// Test jobs
	require.Len(t, cfg.Jobs, 3, "[%s] expected three jobs", format)

	for i, job := range cfg.Jobs {
		require.NotEmpty(t, job.Name, "[%s] jobs[%d].name should not be empty", format, i)
		require.NotEmpty(t, job.Type, "[%s] jobs[%d].type should not be empty", format, i)

		for j, contract := range job.Contracts {
			require.NotEmpty(t, contract.Address, "[%s] jobs[%d].contract[%d].address should not be empty", format, i, j)
		}
	}
}

func validTestConfig() *config.Config {
	return &config.Config{
		Chain: config.ChainConfig{
			RPCURL: "https://test.com",
		},
		Checkpoint: config.CheckpointConfig{
			DB: config.DatabaseConfig{
				Path: "./test.db",
			},
		},
		Exporters: []config.ExporterConfig{
			{Type: "log"},
		},
		Jobs: []config.JobConfig{
			{
				Name: "transfers",
				Type: "erc20_transfer",
				Contracts: []config.ContractConfig{
					{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"},
				},
			},
		},
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := validTestConfig()
	cfg.Exporters = append(cfg.Exporters, config.ExporterConfig{
		Type: " SQLite ",
		DB:   &config.DatabaseConfig{Path: "./records.db"},
	})

	cfg.ApplyDefaults()

	require.Equal(t, uint64(100), cfg.Chain.ChunkSize)
	require.Equal(t, "finalized", cfg.Chain.Finality)
	require.Equal(t, 5, cfg.Chain.Retry.MaxAttempts)

	require.Equal(t, "WAL", cfg.Checkpoint.DB.JournalMode)
	require.Equal(t, "NORMAL", cfg.Checkpoint.DB.Synchronous)
	require.Equal(t, 5000, cfg.Checkpoint.DB.BusyTimeout)
	require.Equal(t, 25, cfg.Checkpoint.DB.MaxOpenConnections)

	require.Equal(t, "block", cfg.Buffer.AnchorKind)
	require.Equal(t, 1000, cfg.Buffer.SizeThreshold)
	require.Equal(t, 5, cfg.Buffer.ExportWorkers)
	require.Equal(t, time.Minute, cfg.Buffer.MaxAge.Duration)
	require.NotNil(t, cfg.Buffer.ExportRetry)

	require.Equal(t, config.DefaultMultiCall3Address, cfg.MultiCall.Address)
	require.Equal(t, 100, cfg.MultiCall.MaxBatchSize)
	require.Equal(t, 3, cfg.MultiCall.Retry.MaxAttempts)

	require.Equal(t, "sqlite", cfg.Exporters[1].Type)
	require.Equal(t, "WAL", cfg.Exporters[1].DB.JournalMode)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(cfg *config.Config) {},
		},
		{
			name:    "missing rpc_url",
			mutate:  func(cfg *config.Config) { cfg.Chain.RPCURL = "" },
			wantErr: "chain.rpc_url is required",
		},
		{
			name:    "invalid finality",
			mutate:  func(cfg *config.Config) { cfg.Chain.Finality = "invalid" },
			wantErr: "chain.finality",
		},
		{
			name: "end block before start block",
			mutate: func(cfg *config.Config) {
				cfg.Chain.StartBlock = 100
				cfg.Chain.EndBlock = 50
			},
			wantErr: "end_block",
		},
		{
			name:    "missing checkpoint db path",
			mutate:  func(cfg *config.Config) { cfg.Checkpoint.DB.Path = "" },
			wantErr: "checkpoint.db",
		},
		{
			name:    "invalid multicall address",
			mutate:  func(cfg *config.Config) { cfg.MultiCall.Address = "0x1234" },
			wantErr: "multicall.address",
		},
		{
			name:    "no exporters",
			mutate:  func(cfg *config.Config) { cfg.Exporters = nil },
			wantErr: "at least one exporter",
		},
		{
			name:    "unknown exporter",
			mutate:  func(cfg *config.Config) { cfg.Exporters = []config.ExporterConfig{{Type: "kafka"}} },
			wantErr: "unknown exporter type",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(cfg *config.Config) { cfg.Exporters = []config.ExporterConfig{{Type: "postgres"}} },
			wantErr: "requires dsn",
		},
		{
			name:    "no jobs",
			mutate:  func(cfg *config.Config) { cfg.Jobs = nil },
			wantErr: "at least one job",
		},
		{
			name: "duplicate job name",
			mutate: func(cfg *config.Config) {
				cfg.Jobs = append(cfg.Jobs, config.JobConfig{Name: "transfers", Type: "block"})
			},
			wantErr: "duplicate job name",
		},
		{
			name: "invalid contract address",
			mutate: func(cfg *config.Config) {
				cfg.Jobs[0].Contracts[0].Address = "not-an-address"
			},
			wantErr: "invalid address",
		},
		{
			name: "unknown logging component",
			mutate: func(cfg *config.Config) {
				cfg.Logging = &config.LoggingConfig{ComponentLevels: map[string]string{"downloader": "debug"}}
			},
			wantErr: "unknown component",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			cfg.ApplyDefaults()

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, section := range []string{"chain", "checkpoint", "buffer", "multicall", "exporters", "jobs"} {
		require.Contains(t, props, section)
	}
	require.Contains(t, string(data), "Duration expressed in units")
}
