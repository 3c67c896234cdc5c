package namespace

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/ecquota/internal/logger"
	"github.com/marmos91/ecquota/pkg/quota"
	"github.com/marmos91/ecquota/pkg/storage"
)

// QuotaUsage reports the quotas and usage of a path.
type QuotaUsage struct {
	Path string

	FileAndDirectoryCount int64
	NamespaceQuota        int64

	SpaceConsumed int64
	SpaceQuota    int64

	TypeConsumed map[storage.StorageType]int64

	// TypeQuota holds only the storage types with a limit.
	TypeQuota map[storage.StorageType]int64
}

// Mismatch is a quota feature whose cached usage disagrees with its
// subtree.
type Mismatch struct {
	Path     string
	Cached   quota.Counts
	Computed quota.Counts
}

func validQuota(q int64) bool {
	return q >= quota.Unlimited
}

// ============================================================================
// Administrative Quota Operations
// ============================================================================

// SetQuota sets the namespace and storage space quotas of directory p.
//
// The quota feature is attached on first use and its usage initialised by
// summing the subtree, the directory itself included. Setting every
// dimension back to quota.Unlimited detaches the feature. A quota below
// current usage is accepted and only rejects future growth.
func (ns *Namesystem) SetQuota(ctx context.Context, p string, namespaceQuota, storageSpaceQuota int64) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}
	if !validQuota(namespaceQuota) || !validQuota(storageSpaceQuota) {
		return newError(ErrInvalidArgument,
			fmt.Sprintf("invalid quota (namespace=%d, storage space=%d)", namespaceQuota, storageSpaceQuota), p)
	}

	w, err := ns.lock(ctx)
	if err != nil {
		return err
	}
	defer ns.unlock(w)

	dir, err := ns.lookupDir(p)
	if err != nil {
		return err
	}

	f := ns.ensureFeature(dir)
	f.SetQuota(namespaceQuota, storageSpaceQuota)
	ns.detachIfUnset(dir)

	logger.Info("Set quota: path=%s namespace=%d storage_space=%s",
		p, namespaceQuota, formatQuota(storageSpaceQuota))
	return nil
}

// SetQuotaByStorageType sets the storage space quota of one storage type on
// directory p. Types that cannot carry a quota are rejected.
func (ns *Namesystem) SetQuotaByStorageType(ctx context.Context, p string, t storage.StorageType, q int64) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}
	if !t.SupportsTypeQuota() {
		return newError(ErrInvalidArgument, "storage type does not support quota: "+t.String(), p)
	}
	if !validQuota(q) {
		return newError(ErrInvalidArgument, fmt.Sprintf("invalid quota %d", q), p)
	}

	w, err := ns.lock(ctx)
	if err != nil {
		return err
	}
	defer ns.unlock(w)

	dir, err := ns.lookupDir(p)
	if err != nil {
		return err
	}

	f := ns.ensureFeature(dir)
	f.SetTypeQuota(t, q)
	ns.detachIfUnset(dir)

	logger.Info("Set storage type quota: path=%s type=%s quota=%s", p, t, formatQuota(q))
	return nil
}

func (ns *Namesystem) ensureFeature(dir *directory) *quota.Feature {
	if dir.quota == nil {
		f := quota.NewFeature(quota.Unlimited, quota.Unlimited)
		f.SetConsumed(subtreeConsumed(dir))
		dir.quota = f
	}
	return dir.quota
}

func (ns *Namesystem) detachIfUnset(dir *directory) {
	if dir.quota != nil && !dir.quota.IsQuotaSet() {
		dir.quota = nil
	}
}

func formatQuota(q int64) string {
	if q == quota.Unlimited {
		return "unlimited"
	}
	return humanize.IBytes(uint64(q))
}

// ============================================================================
// Usage Queries
// ============================================================================

// GetSpaceConsumed returns the storage space used beneath p. Directories
// with a quota answer from their cached counters; any other path is summed
// on demand.
func (ns *Namesystem) GetSpaceConsumed(ctx context.Context, p string) (quota.Usage, error) {
	p, err := cleanPath(p)
	if err != nil {
		return quota.Usage{}, err
	}

	if err := ns.rlock(ctx); err != nil {
		return quota.Usage{}, err
	}
	defer ns.mu.RUnlock()

	n, err := ns.lookup(p)
	if err != nil {
		return quota.Usage{}, err
	}

	if dir, ok := n.(*directory); ok && dir.quota != nil {
		return dir.quota.SpaceConsumed(), nil
	}
	c := subtreeConsumed(n)
	return quota.Usage{StorageSpace: c.StorageSpace, Types: c.Types.Map()}, nil
}

// GetQuotaUsage returns the quotas and usage of p. Paths without a quota
// report every quota as quota.Unlimited.
func (ns *Namesystem) GetQuotaUsage(ctx context.Context, p string) (QuotaUsage, error) {
	p, err := cleanPath(p)
	if err != nil {
		return QuotaUsage{}, err
	}

	if err := ns.rlock(ctx); err != nil {
		return QuotaUsage{}, err
	}
	defer ns.mu.RUnlock()

	n, err := ns.lookup(p)
	if err != nil {
		return QuotaUsage{}, err
	}

	used := subtreeConsumed(n)
	limits := quota.Limits{
		Namespace:    quota.Unlimited,
		StorageSpace: quota.Unlimited,
		Types:        quota.UnlimitedTypes(),
	}
	if dir, ok := n.(*directory); ok && dir.quota != nil {
		used = dir.quota.Consumed()
		limits = dir.quota.Limits()
	}

	qu := QuotaUsage{
		Path:                  p,
		FileAndDirectoryCount: used.Namespace,
		NamespaceQuota:        limits.Namespace,
		SpaceConsumed:         used.StorageSpace,
		SpaceQuota:            limits.StorageSpace,
		TypeConsumed:          used.Types.Map(),
		TypeQuota:             make(map[storage.StorageType]int64),
	}
	for i, q := range limits.Types {
		if q != quota.Unlimited {
			qu.TypeQuota[storage.StorageType(i)] = q
		}
	}
	return qu, nil
}

// VerifyQuotaUsage recomputes the usage of every quota feature from its
// subtree and returns the features whose cached counters disagree. With
// repair set, mismatching counters are overwritten with the computed value.
func (ns *Namesystem) VerifyQuotaUsage(ctx context.Context, repair bool) ([]Mismatch, error) {
	w, err := ns.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer ns.unlock(w)

	var mismatches []Mismatch
	walkDirs(ns.root, func(d *directory) {
		if d.quota == nil {
			return
		}
		computed := subtreeConsumed(d)
		cached := d.quota.Consumed()
		if computed == cached {
			return
		}

		mismatches = append(mismatches, Mismatch{Path: d.Path(), Cached: cached, Computed: computed})
		logger.Warn("Quota usage mismatch: path=%s cached_space=%d computed_space=%d cached_namespace=%d computed_namespace=%d",
			d.Path(), cached.StorageSpace, computed.StorageSpace, cached.Namespace, computed.Namespace)

		if repair {
			d.quota.SetConsumed(computed)
		}
	})
	return mismatches, nil
}
