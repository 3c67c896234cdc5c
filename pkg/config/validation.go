package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/ecquota/pkg/namespace"
	"github.com/marmos91/ecquota/pkg/storage"
	"github.com/marmos91/ecquota/pkg/store"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for rules that need
// to parse values or look at several fields at once.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if _, err := ParseSize(cfg.Namespace.BlockSize); err != nil {
		return fmt.Errorf("namespace.block_size: %w", err)
	}
	if _, err := storage.LookupPolicy(cfg.Namespace.DefaultStoragePolicy); err != nil {
		return fmt.Errorf("namespace.default_storage_policy: %w", err)
	}

	// Building the catalog checks every custom policy and the default name
	catalog, err := BuildCatalog(&cfg.ErasureCoding)
	if err != nil {
		return fmt.Errorf("erasure_coding: %w", err)
	}

	// Directory paths must be unique after normalisation
	paths := make(map[string]bool)
	for i := range cfg.Directories {
		dir := &cfg.Directories[i]
		p := store.CleanPath(dir.Path)
		if paths[p] {
			return fmt.Errorf("directories[%d]: duplicate path %q", i, dir.Path)
		}
		paths[p] = true

		if _, err := dir.Settings(); err != nil {
			return fmt.Errorf("directories[%d]: %w", i, err)
		}

		switch dir.ErasureCodingPolicy {
		case "", DefaultPolicyAlias, namespace.ReplicationPolicyName:
		default:
			if _, err := catalog.LookupByName(dir.ErasureCodingPolicy); err != nil {
				return fmt.Errorf("directories[%d].erasure_coding_policy: %w", i, err)
			}
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		// Return the first validation error with context
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
