package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# ecquota Configuration File
#
# Values can be overridden with ECQUOTA_* environment variables, e.g.
# ECQUOTA_LOGGING_LEVEL=DEBUG. Byte sizes accept forms such as "128MiB".

`

// sectionComments are attached above each top-level key of the sample file.
var sectionComments = map[string]string{
	"logging": "Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json),\n" +
		"output (stdout, stderr or a file path, rotated automatically)",
	"server": "Server: graceful shutdown timeout, the Prometheus endpoint and the\n" +
		"periodic audit that verifies quota usage and resyncs the settings store",
	"store": "Settings store: where quotas and policies set on directories are kept.\n" +
		"type is memory, badger or s3. Example s3 section:\n" +
		"  s3:\n" +
		"    region: us-east-1\n" +
		"    bucket: my-bucket\n" +
		"    key_prefix: ecquota/\n" +
		"    endpoint: http://localhost:9000\n" +
		"    requests_per_second: 100",
	"namespace":      "Namespace: defaults for new files",
	"erasure_coding": "Erasure coding: default policy and user-defined policies\n(codec rs, rs-legacy or xor)",
	"directories": "Directories created and configured at startup. Each entry replaces\n" +
		"the persisted settings of its path. erasure_coding_policy may be a\n" +
		"policy name, \"replication\" or \"default\"",
}

// InitConfig writes a sample configuration to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	configPath := GetDefaultConfigPath()
	if err := InitConfigToPath(configPath, force); err != nil {
		return "", err
	}
	return configPath, nil
}

// InitConfigToPath writes a sample configuration to configPath, creating
// parent directories as needed.
func InitConfigToPath(configPath string, force bool) error {
	if !force {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as YAML with a comment above each
// top-level section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	// Encode yields a mapping node whose Content alternates key, value
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	return configHeader + string(out), nil
}
