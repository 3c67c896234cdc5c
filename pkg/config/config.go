package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete ecquota configuration.
//
// This structure captures all configurable aspects of the quota server:
//   - Logging configuration
//   - Server-wide settings (shutdown, metrics)
//   - Settings store selection and configuration (store-specific)
//   - Namespace defaults for new files
//   - Erasure coding policies beyond the built-in ones
//   - Directories to create and configure at startup
//
// Configuration sources (in order of precedence):
//  1. Environment variables (ECQUOTA_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each store implementation defines its own configuration type. The Config
// struct carries one option map per store type and only the map matching
// the selected type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Store selects where directory settings are persisted
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Namespace sets the defaults applied to new files
	Namespace NamespaceConfig `mapstructure:"namespace" yaml:"namespace"`

	// ErasureCoding configures the policy catalog
	ErasureCoding ErasureCodingConfig `mapstructure:"erasure_coding" yaml:"erasure_coding"`

	// Directories are created and configured at startup
	Directories []DirectoryConfig `mapstructure:"directories" yaml:"directories" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Audit configures the periodic quota audit
	Audit AuditConfig `mapstructure:"audit" yaml:"audit"`
}

// AuditConfig configures the periodic quota audit.
type AuditConfig struct {
	// Enabled turns on periodic audits
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval is the time between audits
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"omitempty,gt=0"`

	// Repair overwrites drifted quota counters with the computed usage
	Repair bool `mapstructure:"repair" yaml:"repair"`

	// DryRun logs settings store differences without writing them
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// MetricsConfig configures the metrics HTTP server.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the HTTP endpoint
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port of the metrics endpoint
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// StoreConfig specifies settings store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type StoreConfig struct {
	// Type specifies which settings store implementation to use
	// Valid values: memory, badger, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger s3"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// NamespaceConfig sets the defaults applied to new files.
type NamespaceConfig struct {
	// BlockSize is the preferred block size, e.g. "128MiB"
	BlockSize string `mapstructure:"block_size" yaml:"block_size" validate:"required"`

	// Replication is the replication factor of replicated files
	Replication uint16 `mapstructure:"replication" yaml:"replication" validate:"required,min=1,max=512"`

	// DefaultStoragePolicy applies where no directory sets one
	DefaultStoragePolicy string `mapstructure:"default_storage_policy" yaml:"default_storage_policy" validate:"required"`
}

// ErasureCodingConfig configures the erasure coding policy catalog.
type ErasureCodingConfig struct {
	// DefaultPolicy is used when a directory is set to erasure coding
	// without naming a policy
	DefaultPolicy string `mapstructure:"default_policy" yaml:"default_policy" validate:"required"`

	// Policies are registered in addition to the built-in ones
	Policies []PolicyConfig `mapstructure:"policies" yaml:"policies" validate:"dive"`
}

// PolicyConfig defines a user erasure coding policy.
type PolicyConfig struct {
	// Name overrides the canonical name derived from the parameters
	Name string `mapstructure:"name" yaml:"name,omitempty"`

	// Codec is the erasure codec family
	// Valid values: rs, rs-legacy, xor
	Codec string `mapstructure:"codec" yaml:"codec" validate:"required,oneof=rs rs-legacy xor"`

	// DataUnits is the number of data blocks per group
	DataUnits uint32 `mapstructure:"data_units" yaml:"data_units" validate:"required,min=1"`

	// ParityUnits is the number of parity blocks per group
	ParityUnits uint32 `mapstructure:"parity_units" yaml:"parity_units"`

	// CellSize is the stripe cell size, e.g. "1MiB"
	CellSize string `mapstructure:"cell_size" yaml:"cell_size" validate:"required"`
}

// DirectoryConfig describes a directory to create and configure at startup.
//
// The entry replaces whatever was persisted for the path: omitted quotas
// are unlimited and omitted policies inherit. Byte sizes accept human
// readable forms such as "10GiB".
type DirectoryConfig struct {
	// Path is the absolute directory path
	Path string `mapstructure:"path" yaml:"path" validate:"required,startswith=/"`

	// NamespaceQuota limits files plus directories beneath the path
	NamespaceQuota *int64 `mapstructure:"namespace_quota" yaml:"namespace_quota,omitempty" validate:"omitempty,min=0"`

	// StorageSpaceQuota limits physical bytes beneath the path
	StorageSpaceQuota string `mapstructure:"storage_space_quota" yaml:"storage_space_quota,omitempty"`

	// TypeQuotas limits physical bytes per storage type (e.g. SSD: 1TiB)
	TypeQuotas map[string]string `mapstructure:"type_quotas" yaml:"type_quotas,omitempty"`

	// ErasureCodingPolicy is a policy name, "replication", or "default"
	// for the configured default policy
	ErasureCodingPolicy string `mapstructure:"erasure_coding_policy" yaml:"erasure_coding_policy,omitempty"`

	// StoragePolicy is a storage policy name (HOT, COLD, ALL_SSD, ...)
	StoragePolicy string `mapstructure:"storage_policy" yaml:"storage_policy,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (ECQUOTA_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use ECQUOTA_ prefix and underscores
	// Example: ECQUOTA_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("ECQUOTA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/ecquota/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ecquota")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "ecquota")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
