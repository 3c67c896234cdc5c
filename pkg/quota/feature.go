package quota

import (
	"math"

	"github.com/marmos91/ecquota/pkg/storage"
)

// Limits is a snapshot of a feature's configured quotas.
type Limits struct {
	Namespace    int64
	StorageSpace int64
	Types        TypeCounts
}

// Usage is a snapshot of consumed storage space.
type Usage struct {
	StorageSpace int64
	Types        map[storage.StorageType]int64
}

// Feature holds the quota counters of one directory.
//
// A Feature has no lock of its own. It is only read or mutated while the
// caller holds the namespace lock (shared for reads, exclusive for writes).
type Feature struct {
	namespaceQuota    int64
	storageSpaceQuota int64
	typeQuota         TypeCounts

	used Counts
}

// NewFeature creates a feature with the given namespace and storage space
// quotas and no per-type quota.
func NewFeature(namespaceQuota, storageSpaceQuota int64) *Feature {
	return &Feature{
		namespaceQuota:    namespaceQuota,
		storageSpaceQuota: storageSpaceQuota,
		typeQuota:         UnlimitedTypes(),
	}
}

// SetQuota replaces the namespace and storage space quotas. A quota below
// current usage is accepted; it only rejects future growth.
func (f *Feature) SetQuota(namespaceQuota, storageSpaceQuota int64) {
	f.namespaceQuota = namespaceQuota
	f.storageSpaceQuota = storageSpaceQuota
}

// SetTypeQuota replaces the quota of one storage type.
func (f *Feature) SetTypeQuota(t storage.StorageType, quota int64) {
	if t.Valid() {
		f.typeQuota[t] = quota
	}
}

// Limits returns the configured quotas.
func (f *Feature) Limits() Limits {
	return Limits{
		Namespace:    f.namespaceQuota,
		StorageSpace: f.storageSpaceQuota,
		Types:        f.typeQuota,
	}
}

// IsQuotaSet reports whether any dimension carries a limit. A feature with
// no limit left may be detached from its directory.
func (f *Feature) IsQuotaSet() bool {
	if f.namespaceQuota != Unlimited || f.storageSpaceQuota != Unlimited {
		return true
	}
	return f.typeQuota != UnlimitedTypes()
}

// SpaceConsumed returns the storage space used, total and per type.
func (f *Feature) SpaceConsumed() Usage {
	return Usage{
		StorageSpace: f.used.StorageSpace,
		Types:        f.used.Types.Map(),
	}
}

// NamespaceConsumed returns the number of namespace entries used.
func (f *Feature) NamespaceConsumed() int64 {
	return f.used.Namespace
}

// Consumed returns every usage counter.
func (f *Feature) Consumed() Counts {
	return f.used
}

// SetConsumed overwrites the usage counters, typically with a value
// computed by walking the directory's subtree.
func (f *Feature) SetConsumed(c Counts) {
	f.used = c
}

// AddConsumed applies delta without any check.
func (f *Feature) AddConsumed(delta Counts) {
	f.used = f.used.Add(delta)
}

// Verify checks delta against every limited dimension it grows. path is
// only used to label the returned *ExceededError.
func (f *Feature) Verify(path string, delta Counts) error {
	if err := check(path, Namespace, f.namespaceQuota, f.used.Namespace, delta.Namespace); err != nil {
		return err
	}
	if err := check(path, StorageSpace, f.storageSpaceQuota, f.used.StorageSpace, delta.StorageSpace); err != nil {
		return err
	}
	for i, d := range delta.Types {
		t := storage.StorageType(i)
		if err := check(path, StorageTypeResource(t), f.typeQuota[i], f.used.Types[i], d); err != nil {
			return err
		}
	}
	return nil
}

func check(path string, r Resource, quota, used, delta int64) error {
	if delta <= 0 || quota == Unlimited {
		return nil
	}
	// quota - used cannot overflow while both are non-negative.
	if used <= quota && delta <= quota-used {
		return nil
	}
	attempted := used + delta
	if attempted < used {
		attempted = math.MaxInt64
	}
	return &ExceededError{Path: path, Resource: r, Quota: quota, Attempted: attempted}
}
