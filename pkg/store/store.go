// Package store persists administrative directory settings.
//
// Only what an operator configured is stored: quotas, per-type quotas and
// the erasure coding and storage policy names set on a directory. Usage
// counters are derived from the namespace and recomputed at startup, so a
// store never holds them.
package store

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/marmos91/ecquota/pkg/quota"
	"github.com/marmos91/ecquota/pkg/storage"
)

// ErrNotFound is returned by Get for a path with no stored settings.
var ErrNotFound = errors.New("directory settings not found")

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("settings store closed")

// DirectorySettings is the persisted configuration of one directory.
//
// Quota fields use quota.Unlimited for "no limit". A TypeQuotas entry that
// is absent means no per-type limit for that storage type.
type DirectorySettings struct {
	Path string `json:"path"`

	NamespaceQuota    int64                         `json:"namespace_quota"`
	StorageSpaceQuota int64                         `json:"storage_space_quota"`
	TypeQuotas        map[storage.StorageType]int64 `json:"type_quotas,omitempty"`

	// ErasureCodingPolicy is a policy name, "replication" for an explicit
	// replication override, or empty to inherit.
	ErasureCodingPolicy string `json:"erasure_coding_policy,omitempty"`

	// StoragePolicy is a storage policy name, or empty to inherit.
	StoragePolicy string `json:"storage_policy,omitempty"`
}

// IsEmpty reports whether the settings configure nothing, in which case the
// entry should be deleted rather than stored.
func (s DirectorySettings) IsEmpty() bool {
	return s.NamespaceQuota == quota.Unlimited &&
		s.StorageSpaceQuota == quota.Unlimited &&
		len(s.TypeQuotas) == 0 &&
		s.ErasureCodingPolicy == "" &&
		s.StoragePolicy == ""
}

// CleanPath normalises a directory path to the absolute, slash separated
// form used as a store key.
func CleanPath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// SettingsStore persists DirectorySettings keyed by directory path.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type SettingsStore interface {
	// Put creates or replaces the settings of s.Path.
	Put(ctx context.Context, s DirectorySettings) error

	// Get returns the settings of a path, or ErrNotFound.
	Get(ctx context.Context, path string) (DirectorySettings, error)

	// Delete removes the settings of a path. Deleting a missing path is
	// not an error.
	Delete(ctx context.Context, path string) error

	// List returns every stored entry ordered by path.
	List(ctx context.Context) ([]DirectorySettings, error)

	// Healthcheck verifies the backend is reachable.
	Healthcheck(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
