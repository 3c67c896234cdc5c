package config

import (
	"strings"
	"time"

	"github.com/marmos91/ecquota/pkg/erasure"
	"github.com/marmos91/ecquota/pkg/storage"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by store implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStoreDefaults(&cfg.Store)
	applyNamespaceDefaults(&cfg.Namespace)
	applyErasureCodingDefaults(&cfg.ErasureCoding)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Audit.Interval == 0 {
		cfg.Audit.Interval = 5 * time.Minute
	}
}

// applyStoreDefaults sets settings store defaults.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	// Apply defaults for all store types (for config file generation)
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/tmp/ecquota-settings"
	}
}

// applyNamespaceDefaults sets defaults for new files.
func applyNamespaceDefaults(cfg *NamespaceConfig) {
	if cfg.BlockSize == "" {
		cfg.BlockSize = "128MiB"
	}
	if cfg.Replication == 0 {
		cfg.Replication = 3
	}
	if cfg.DefaultStoragePolicy == "" {
		cfg.DefaultStoragePolicy = storage.DefaultPolicy().Name
	}
	cfg.DefaultStoragePolicy = strings.ToUpper(cfg.DefaultStoragePolicy)
}

// applyErasureCodingDefaults sets the default erasure coding policy.
func applyErasureCodingDefaults(cfg *ErasureCodingConfig) {
	if cfg.DefaultPolicy == "" {
		cfg.DefaultPolicy = erasure.DefaultPolicyName
	}
	for i := range cfg.Policies {
		cfg.Policies[i].Codec = strings.ToLower(cfg.Policies[i].Codec)
		if cfg.Policies[i].CellSize == "" {
			cfg.Policies[i].CellSize = "1MiB"
		}
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Audit: AuditConfig{Enabled: true},
		},
		Store: StoreConfig{
			Memory: make(map[string]any),
			Badger: make(map[string]any),
		},
		Directories: []DirectoryConfig{
			{
				Path:                "/ec",
				ErasureCodingPolicy: "default",
				StorageSpaceQuota:   "1TiB",
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
