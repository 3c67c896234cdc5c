package namespace

import (
	"context"

	"github.com/marmos91/ecquota/internal/logger"
	"github.com/marmos91/ecquota/pkg/quota"
	"github.com/marmos91/ecquota/pkg/storage"
	"github.com/marmos91/ecquota/pkg/store"
)

func (d *directory) settings() store.DirectorySettings {
	s := store.DirectorySettings{
		Path:              d.Path(),
		NamespaceQuota:    quota.Unlimited,
		StorageSpaceQuota: quota.Unlimited,
	}

	if d.quota != nil {
		limits := d.quota.Limits()
		s.NamespaceQuota = limits.Namespace
		s.StorageSpaceQuota = limits.StorageSpace
		for i, q := range limits.Types {
			if q == quota.Unlimited {
				continue
			}
			if s.TypeQuotas == nil {
				s.TypeQuotas = make(map[storage.StorageType]int64)
			}
			s.TypeQuotas[storage.StorageType(i)] = q
		}
	}

	switch {
	case d.ecReplicate:
		s.ErasureCodingPolicy = ReplicationPolicyName
	case d.ecPolicy != nil:
		s.ErasureCodingPolicy = d.ecPolicy.Name
	}
	if d.storagePolicy != nil {
		s.StoragePolicy = d.storagePolicy.Name
	}
	return s
}

// Settings returns the administrative settings of directory p. The result
// IsEmpty when nothing is configured there.
func (ns *Namesystem) Settings(ctx context.Context, p string) (store.DirectorySettings, error) {
	p, err := cleanPath(p)
	if err != nil {
		return store.DirectorySettings{}, err
	}

	if err := ns.rlock(ctx); err != nil {
		return store.DirectorySettings{}, err
	}
	defer ns.mu.RUnlock()

	dir, err := ns.lookupDir(p)
	if err != nil {
		return store.DirectorySettings{}, err
	}
	return dir.settings(), nil
}

// Snapshot returns the settings of every configured directory, parents
// first.
func (ns *Namesystem) Snapshot(ctx context.Context) ([]store.DirectorySettings, error) {
	if err := ns.rlock(ctx); err != nil {
		return nil, err
	}
	defer ns.mu.RUnlock()

	var out []store.DirectorySettings
	walkDirs(ns.root, func(d *directory) {
		if s := d.settings(); !s.IsEmpty() {
			out = append(out, s)
		}
	})
	return out, nil
}

// Restore replays persisted settings, creating missing directories.
//
// Directories are created first, then policies applied, then quotas, so a
// restored quota never rejects the creation of the directories it covers.
// The whole restore runs under one write lock.
func (ns *Namesystem) Restore(ctx context.Context, settings []store.DirectorySettings) error {
	w, err := ns.lock(ctx)
	if err != nil {
		return err
	}
	defer ns.unlock(w)

	// ========================================================================
	// Step 1: Create directories
	// ========================================================================

	dirs := make([]*directory, len(settings))
	for i, s := range settings {
		p, err := cleanPath(s.Path)
		if err != nil {
			return err
		}
		if err := ns.mkdirsLocked(w, p); err != nil {
			return err
		}
		if dirs[i], err = ns.lookupDir(p); err != nil {
			return err
		}
	}

	// ========================================================================
	// Step 2: Apply policies
	// ========================================================================

	for i, s := range settings {
		d := dirs[i]
		switch s.ErasureCodingPolicy {
		case "":
		case ReplicationPolicyName:
			d.ecPolicy, d.ecReplicate = nil, true
		default:
			policy, err := ns.catalog.LookupByName(s.ErasureCodingPolicy)
			if err != nil {
				return err
			}
			d.ecPolicy, d.ecReplicate = policy, false
		}

		if s.StoragePolicy != "" {
			policy, err := storage.LookupPolicy(s.StoragePolicy)
			if err != nil {
				return newError(ErrInvalidArgument, err.Error(), s.Path)
			}
			d.storagePolicy = &policy
		}
	}

	// ========================================================================
	// Step 3: Apply quotas
	// ========================================================================

	for i, s := range settings {
		d := dirs[i]
		if !validQuota(s.NamespaceQuota) || !validQuota(s.StorageSpaceQuota) {
			return newError(ErrInvalidArgument, "invalid quota", s.Path)
		}
		f := ns.ensureFeature(d)
		f.SetQuota(s.NamespaceQuota, s.StorageSpaceQuota)
		for t, q := range s.TypeQuotas {
			if !t.SupportsTypeQuota() || !validQuota(q) {
				return newError(ErrInvalidArgument, "invalid storage type quota", s.Path)
			}
			f.SetTypeQuota(t, q)
		}
		ns.detachIfUnset(d)
	}

	logger.Info("Restored settings for %d directories", len(settings))
	return nil
}
