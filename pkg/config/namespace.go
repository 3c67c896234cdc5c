package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/ecquota/pkg/erasure"
	"github.com/marmos91/ecquota/pkg/namespace"
	"github.com/marmos91/ecquota/pkg/quota"
	"github.com/marmos91/ecquota/pkg/storage"
	"github.com/marmos91/ecquota/pkg/store"
)

// DefaultPolicyAlias selects the configured default erasure coding policy
// in a DirectoryConfig.
const DefaultPolicyAlias = "default"

// ParseSize parses a byte size such as "128MiB", "10GB" or "4096".
func ParseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return int64(n), nil
}

// BuildCatalog returns the built-in catalog extended with the configured
// policies. It fails when the default policy is not in the result.
func BuildCatalog(cfg *ErasureCodingConfig) (*erasure.Catalog, error) {
	catalog := erasure.NewCatalog()

	for i, pc := range cfg.Policies {
		cellSize, err := ParseSize(pc.CellSize)
		if err != nil {
			return nil, fmt.Errorf("policies[%d].cell_size: %w", i, err)
		}

		_, err = catalog.Register(erasure.Policy{
			Name:        pc.Name,
			Codec:       pc.Codec,
			DataUnits:   pc.DataUnits,
			ParityUnits: pc.ParityUnits,
			CellSize:    uint64(cellSize),
		})
		if err != nil {
			return nil, fmt.Errorf("policies[%d]: %w", i, err)
		}
	}

	if _, err := catalog.LookupByName(cfg.DefaultPolicy); err != nil {
		return nil, fmt.Errorf("default_policy: %w", err)
	}
	return catalog, nil
}

// NamespaceOptions converts the namespace section into namesystem options.
func NamespaceOptions(cfg *Config, catalog *erasure.Catalog, observer quota.Observer) (namespace.Options, error) {
	blockSize, err := ParseSize(cfg.Namespace.BlockSize)
	if err != nil {
		return namespace.Options{}, fmt.Errorf("namespace.block_size: %w", err)
	}
	if blockSize == 0 {
		return namespace.Options{}, fmt.Errorf("namespace.block_size: must be > 0")
	}

	policy, err := storage.LookupPolicy(cfg.Namespace.DefaultStoragePolicy)
	if err != nil {
		return namespace.Options{}, fmt.Errorf("namespace.default_storage_policy: %w", err)
	}

	return namespace.Options{
		Catalog:              catalog,
		BlockSize:            uint64(blockSize),
		Replication:          cfg.Namespace.Replication,
		DefaultStoragePolicy: &policy,
		Observer:             observer,
	}, nil
}

// Settings converts the entry into the form stored and restored by the
// namespace. The "default" policy alias is left unresolved; see
// ResolveDirectories.
func (d *DirectoryConfig) Settings() (store.DirectorySettings, error) {
	s := store.DirectorySettings{
		Path:                store.CleanPath(d.Path),
		NamespaceQuota:      quota.Unlimited,
		StorageSpaceQuota:   quota.Unlimited,
		ErasureCodingPolicy: d.ErasureCodingPolicy,
		StoragePolicy:       strings.ToUpper(d.StoragePolicy),
	}

	if d.NamespaceQuota != nil {
		s.NamespaceQuota = *d.NamespaceQuota
	}

	if d.StorageSpaceQuota != "" {
		q, err := ParseSize(d.StorageSpaceQuota)
		if err != nil {
			return store.DirectorySettings{}, fmt.Errorf("storage_space_quota: %w", err)
		}
		s.StorageSpaceQuota = q
	}

	for name, size := range d.TypeQuotas {
		t, err := storage.ParseStorageType(name)
		if err != nil {
			return store.DirectorySettings{}, fmt.Errorf("type_quotas: %w", err)
		}
		if !t.SupportsTypeQuota() {
			return store.DirectorySettings{}, fmt.Errorf("type_quotas: storage type %s does not support quotas", t)
		}
		q, err := ParseSize(size)
		if err != nil {
			return store.DirectorySettings{}, fmt.Errorf("type_quotas.%s: %w", name, err)
		}
		if s.TypeQuotas == nil {
			s.TypeQuotas = make(map[storage.StorageType]int64)
		}
		s.TypeQuotas[t] = q
	}

	if s.StoragePolicy != "" {
		if _, err := storage.LookupPolicy(s.StoragePolicy); err != nil {
			return store.DirectorySettings{}, fmt.Errorf("storage_policy: %w", err)
		}
	}

	return s, nil
}

// ResolveDirectories converts every bootstrap directory, replacing the
// "default" policy alias with the configured default policy name.
func ResolveDirectories(cfg *Config) ([]store.DirectorySettings, error) {
	out := make([]store.DirectorySettings, 0, len(cfg.Directories))
	for i := range cfg.Directories {
		s, err := cfg.Directories[i].Settings()
		if err != nil {
			return nil, fmt.Errorf("directories[%d]: %w", i, err)
		}
		if s.ErasureCodingPolicy == DefaultPolicyAlias {
			s.ErasureCodingPolicy = cfg.ErasureCoding.DefaultPolicy
		}
		out = append(out, s)
	}
	return out, nil
}
