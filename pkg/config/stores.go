package config

import (
	"context"
	"fmt"

	"github.com/marmos91/ecquota/internal/logger"
	"github.com/marmos91/ecquota/pkg/metrics"
	"github.com/marmos91/ecquota/pkg/store"
	"github.com/marmos91/ecquota/pkg/store/badger"
	"github.com/marmos91/ecquota/pkg/store/memory"
	"github.com/marmos91/ecquota/pkg/store/s3"
	"github.com/mitchellh/mapstructure"
)

// s3YAMLConfig represents S3 configuration loaded from YAML files.
type s3YAMLConfig struct {
	s3.ClientConfig `mapstructure:",squash"`

	Bucket       string `mapstructure:"bucket"`
	KeyPrefix    string `mapstructure:"key_prefix"`
	ListPageSize int32  `mapstructure:"list_page_size"`

	RequestsPerSecond uint `mapstructure:"requests_per_second"`
	Burst             uint `mapstructure:"burst"`
}

// CreateSettingsStore creates the settings store selected by cfg.Type.
//
// This factory decodes the type-specific option map with mapstructure and
// passes it to the store's constructor.
//
// Supported types:
//   - "memory": Uses pkg/store/memory (settings are lost on restart)
//   - "badger": Uses pkg/store/badger (embedded persistent database)
//   - "s3": Uses pkg/store/s3 (Amazon S3 or compatible storage)
func CreateSettingsStore(ctx context.Context, cfg *StoreConfig) (store.SettingsStore, error) {
	switch cfg.Type {
	case "memory":
		return memory.NewMemorySettingsStore(), nil
	case "badger":
		return createBadgerSettingsStore(ctx, cfg.Badger)
	case "s3":
		return createS3SettingsStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown settings store type: %q", cfg.Type)
	}
}

// createBadgerSettingsStore creates a BadgerDB settings store.
func createBadgerSettingsStore(ctx context.Context, options map[string]any) (store.SettingsStore, error) {
	var badgerCfg badger.BadgerSettingsStoreConfig
	if err := mapstructure.Decode(options, &badgerCfg); err != nil {
		return nil, fmt.Errorf("invalid badger config: %w", err)
	}

	if badgerCfg.DBPath == "" && !badgerCfg.InMemory {
		return nil, fmt.Errorf("badger settings store: db_path is required")
	}

	s, err := badger.NewBadgerSettingsStore(ctx, badgerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Info("Badger settings store initialized: path=%s", badgerCfg.DBPath)
	return s, nil
}

// createS3SettingsStore creates an S3-backed settings store.
func createS3SettingsStore(ctx context.Context, options map[string]any) (store.SettingsStore, error) {
	var storeCfg s3YAMLConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 settings store config: %w", err)
	}

	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 settings store: bucket is required")
	}

	// ========================================================================
	// Step 1: Create S3 Client
	// ========================================================================

	client, err := s3.NewClient(ctx, storeCfg.ClientConfig)
	if err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Create S3 Settings Store
	// ========================================================================

	s, err := s3.NewS3SettingsStore(ctx, s3.S3SettingsStoreConfig{
		Client:            client,
		Bucket:            storeCfg.Bucket,
		KeyPrefix:         storeCfg.KeyPrefix,
		ListPageSize:      storeCfg.ListPageSize,
		RequestsPerSecond: storeCfg.RequestsPerSecond,
		Burst:             storeCfg.Burst,
		Metrics:           metrics.NewS3Metrics(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 settings store: %w", err)
	}

	logger.Info("S3 settings store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)

	return s, nil
}
