package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/ecquota/pkg/erasure"
	"github.com/marmos91/ecquota/pkg/namespace"
	"github.com/marmos91/ecquota/pkg/quota"
	"github.com/marmos91/ecquota/pkg/store"
	"github.com/marmos91/ecquota/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mib = 1024 * 1024

// usageRecorder keeps the last published usage per directory.
type usageRecorder struct {
	mu    sync.Mutex
	usage map[string][2]int64
}

func newUsageRecorder() *usageRecorder {
	return &usageRecorder{usage: make(map[string][2]int64)}
}

func (r *usageRecorder) Committed(string, quota.Counts, int)                 {}
func (r *usageRecorder) Rejected(*quota.ExceededError)                       {}
func (r *usageRecorder) RecordOperation(string, time.Duration, error)      {}
func (r *usageRecorder) RecordStoreOperation(string, time.Duration, error) {}

func (r *usageRecorder) SetDirectoryUsage(path string, ns, ss int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage[path] = [2]int64{ns, ss}
}

func (r *usageRecorder) ForgetDirectory(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.usage, path)
}

func (r *usageRecorder) get(path string) ([2]int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.usage[path]
	return u, ok
}

func newNamesystem(t *testing.T) *namespace.Namesystem {
	t.Helper()
	ns, err := namespace.New(namespace.Options{Catalog: erasure.NewCatalog(), BlockSize: mib})
	require.NoError(t, err)
	return ns
}

func TestAuditReconcilesStore(t *testing.T) {
	ctx := context.Background()
	ns := newNamesystem(t)
	settings := memory.NewMemorySettingsStore()

	require.NoError(t, ns.Mkdirs(ctx, "/ec"))
	require.NoError(t, ns.SetErasureCodingPolicy(ctx, "/ec", "RS-6-3-1024k"))
	require.NoError(t, ns.SetQuota(ctx, "/ec", 100, 10*mib))

	// A leftover entry for a directory that no longer exists
	require.NoError(t, settings.Put(ctx, store.DirectorySettings{
		Path: "/gone", NamespaceQuota: 5, StorageSpaceQuota: quota.Unlimited,
	}))

	a, err := New(ns, settings, nil, Config{})
	require.NoError(t, err)

	stats, err := a.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.OrphanedCount)
	assert.Equal(t, uint64(1), stats.StaleCount)
	assert.Equal(t, uint64(1), stats.DeletedCount)
	assert.Equal(t, uint64(1), stats.WrittenCount)
	assert.Equal(t, uint64(1), stats.QuotaDirectories)

	list, err := settings.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "/ec", list[0].Path)
	assert.Equal(t, "RS-6-3-1024k", list[0].ErasureCodingPolicy)
	assert.Equal(t, int64(10*mib), list[0].StorageSpaceQuota)

	// A second run finds nothing to do
	stats, err = a.RunNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.OrphanedCount)
	assert.Zero(t, stats.StaleCount)
}

func TestAuditDryRun(t *testing.T) {
	ctx := context.Background()
	ns := newNamesystem(t)
	settings := memory.NewMemorySettingsStore()

	require.NoError(t, ns.Mkdirs(ctx, "/q"))
	require.NoError(t, ns.SetQuota(ctx, "/q", 10, quota.Unlimited))

	a, err := New(ns, settings, nil, Config{DryRun: true})
	require.NoError(t, err)

	stats, err := a.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.StaleCount)
	assert.Zero(t, stats.WrittenCount)

	list, err := settings.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAuditPublishesUsage(t *testing.T) {
	ctx := context.Background()
	ns := newNamesystem(t)
	rec := newUsageRecorder()

	require.NoError(t, ns.Mkdirs(ctx, "/ec"))
	require.NoError(t, ns.SetErasureCodingPolicy(ctx, "/ec", "RS-6-3-1024k"))
	require.NoError(t, ns.SetQuota(ctx, "/ec", quota.Unlimited, 100*mib))

	_, err := ns.CreateFile(ctx, "/ec/f", namespace.CreateOptions{})
	require.NoError(t, err)
	_, err = ns.AddBlock(ctx, "/ec/f")
	require.NoError(t, err)

	a, err := New(ns, memory.NewMemorySettingsStore(), rec, Config{})
	require.NoError(t, err)

	_, err = a.RunNow(ctx)
	require.NoError(t, err)

	// The directory and the file, with a full block reserved on 9 units
	u, ok := rec.get("/ec")
	require.True(t, ok)
	assert.Equal(t, [2]int64{2, 9 * mib}, u)

	// Dropping the quota removes the gauges on the next run
	require.NoError(t, ns.SetQuota(ctx, "/ec", quota.Unlimited, quota.Unlimited))
	_, err = a.RunNow(ctx)
	require.NoError(t, err)

	_, ok = rec.get("/ec")
	assert.False(t, ok)
}

func TestAuditRepairsDrift(t *testing.T) {
	ctx := context.Background()
	ns := newNamesystem(t)

	require.NoError(t, ns.Mkdirs(ctx, "/q"))
	require.NoError(t, ns.SetQuota(ctx, "/q", 10, quota.Unlimited))

	a, err := New(ns, memory.NewMemorySettingsStore(), nil, Config{Repair: true})
	require.NoError(t, err)

	// Nothing drifts through the public API
	stats, err := a.RunNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Mismatches)
	assert.Zero(t, stats.Repaired)
}

func TestAuditorStartStop(t *testing.T) {
	ctx := context.Background()
	ns := newNamesystem(t)
	settings := memory.NewMemorySettingsStore()

	require.NoError(t, ns.Mkdirs(ctx, "/q"))
	require.NoError(t, ns.SetQuota(ctx, "/q", 10, quota.Unlimited))

	a, err := New(ns, settings, nil, Config{Enabled: true, Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	a.Start()

	assert.Eventually(t, func() bool {
		_, err := settings.Get(ctx, "/q")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx))
	require.NoError(t, a.Stop(stopCtx))
}

// lockCheckingStore records whether the store lock was held when List ran.
type lockCheckingStore struct {
	store.SettingsStore
	lock       *sync.Mutex
	lockedList bool
}

func (l *lockCheckingStore) List(ctx context.Context) ([]store.DirectorySettings, error) {
	if l.lock.TryLock() {
		l.lock.Unlock()
	} else {
		l.lockedList = true
	}
	return l.SettingsStore.List(ctx)
}

func TestAuditHoldsStoreLockWhileReconciling(t *testing.T) {
	ctx := context.Background()
	ns := newNamesystem(t)
	require.NoError(t, ns.Mkdirs(ctx, "/q"))
	require.NoError(t, ns.SetQuota(ctx, "/q", 10, quota.Unlimited))

	var mu sync.Mutex
	settings := &lockCheckingStore{SettingsStore: memory.NewMemorySettingsStore(), lock: &mu}

	a, err := New(ns, settings, nil, Config{StoreLock: &mu})
	require.NoError(t, err)

	_, err = a.RunNow(ctx)
	require.NoError(t, err)
	assert.True(t, settings.lockedList)

	// Released once the run is over
	require.True(t, mu.TryLock())
	mu.Unlock()
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, memory.NewMemorySettingsStore(), nil, Config{})
	assert.Error(t, err)

	_, err = New(newNamesystem(t), nil, nil, Config{})
	assert.Error(t, err)
}

func TestEqual(t *testing.T) {
	a := store.DirectorySettings{Path: "/a", NamespaceQuota: 1, StorageSpaceQuota: -1}
	b := a
	assert.True(t, Equal(a, b))

	b.StoragePolicy = "COLD"
	assert.False(t, Equal(a, b))
}
