package namespace

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/marmos91/ecquota/pkg/blockgroup"
	"github.com/marmos91/ecquota/pkg/erasure"
	"github.com/marmos91/ecquota/pkg/quota"
	"github.com/marmos91/ecquota/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	kib = 1024
	mib = 1024 * kib
)

func newTestNamesystem(t *testing.T) *Namesystem {
	t.Helper()
	ns, err := New(Options{Catalog: erasure.NewCatalog(), BlockSize: mib})
	require.NoError(t, err)
	return ns
}

// newECDir creates dir with the RS-6-3-1024k policy and an unlimited quota
// so its counters are tracked.
func newECDir(t *testing.T, ns *Namesystem, dir string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, ns.Mkdirs(ctx, dir))
	require.NoError(t, ns.SetErasureCodingPolicy(ctx, dir, "RS-6-3-1024k"))
	require.NoError(t, ns.SetQuota(ctx, dir, quota.Unlimited, 100*mib))
}

func spaceUsed(t *testing.T, ns *Namesystem, p string) quota.Usage {
	t.Helper()
	u, err := ns.GetSpaceConsumed(context.Background(), p)
	require.NoError(t, err)
	return u
}

// ============================================================================
// Allocation and completion
// ============================================================================

func TestStripedAllocateAndComplete(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	newECDir(t, ns, "/ec")

	_, err := ns.CreateFile(ctx, "/ec/file", CreateOptions{Replication: 1})
	require.NoError(t, err)

	blk, err := ns.AddBlock(ctx, "/ec/file")
	require.NoError(t, err)

	// The full block size is reserved for every unit of the group.
	u := spaceUsed(t, ns, "/ec")
	assert.Equal(t, int64(9*mib), u.StorageSpace)
	assert.Equal(t, int64(9*mib), u.Types[storage.Disk])

	// One cell in each internal block: the realized size equals the
	// reservation.
	_, err = ns.CompleteBlock(ctx, "/ec/file", blk.ID, 6*mib)
	require.NoError(t, err)

	u = spaceUsed(t, ns, "/ec")
	assert.Equal(t, int64(9*mib), u.StorageSpace)
	assert.Equal(t, int64(9*mib), u.Types[storage.Disk])

	fi, err := ns.GetFileInfo(ctx, "/ec/file")
	require.NoError(t, err)
	assert.Equal(t, uint64(6*mib), fi.Length)
	assert.Equal(t, "striped(RS-6-3-1024k)", fi.Layout)
}

func TestStripedPartialCell(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	newECDir(t, ns, "/ec")

	_, err := ns.CreateFile(ctx, "/ec/file", CreateOptions{})
	require.NoError(t, err)
	blk, err := ns.AddBlock(ctx, "/ec/file")
	require.NoError(t, err)

	info, err := ns.CompleteBlock(ctx, "/ec/file", blk.ID, mib/2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*mib), info.Committed)

	u := spaceUsed(t, ns, "/ec")
	assert.Equal(t, int64(2*mib), u.StorageSpace)
	assert.Equal(t, int64(2*mib), u.Types[storage.Disk])
}

func TestCompleteTwiceRejected(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	newECDir(t, ns, "/ec")

	_, err := ns.CreateFile(ctx, "/ec/file", CreateOptions{})
	require.NoError(t, err)
	blk, err := ns.AddBlock(ctx, "/ec/file")
	require.NoError(t, err)
	_, err = ns.CompleteBlock(ctx, "/ec/file", blk.ID, mib/2)
	require.NoError(t, err)

	_, err = ns.CompleteBlock(ctx, "/ec/file", blk.ID, mib/2)
	require.ErrorIs(t, err, blockgroup.ErrAlreadyCompleted)
	assert.Equal(t, int64(2*mib), spaceUsed(t, ns, "/ec").StorageSpace)
}

func TestContiguousFile(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	require.NoError(t, ns.Mkdirs(ctx, "/rep"))
	require.NoError(t, ns.SetQuota(ctx, "/rep", quota.Unlimited, 100*mib))

	fi, err := ns.CreateFile(ctx, "/rep/file", CreateOptions{Replication: 2})
	require.NoError(t, err)
	assert.Equal(t, "contiguous(x2)", fi.Layout)

	blk, err := ns.AddBlock(ctx, "/rep/file")
	require.NoError(t, err)
	assert.Equal(t, int64(2*mib), spaceUsed(t, ns, "/rep").StorageSpace)

	_, err = ns.CompleteBlock(ctx, "/rep/file", blk.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(200), spaceUsed(t, ns, "/rep").StorageSpace)
}

func TestReplicationOverridesInheritedPolicy(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	newECDir(t, ns, "/ec")
	require.NoError(t, ns.Mkdirs(ctx, "/ec/plain"))
	require.NoError(t, ns.SetErasureCodingPolicy(ctx, "/ec/plain", ReplicationPolicyName))

	fi, err := ns.CreateFile(ctx, "/ec/plain/f", CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "contiguous(x3)", fi.Layout)

	require.NoError(t, ns.UnsetErasureCodingPolicy(ctx, "/ec/plain"))
	p, err := ns.GetErasureCodingPolicy(ctx, "/ec/plain")
	require.NoError(t, err)
	assert.Equal(t, "RS-6-3-1024k", p.Name)

	// The existing file keeps its layout.
	p, err = ns.GetErasureCodingPolicy(ctx, "/ec/plain/f")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestAbandonBlockRestoresUsage(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	newECDir(t, ns, "/ec")

	_, err := ns.CreateFile(ctx, "/ec/file", CreateOptions{})
	require.NoError(t, err)
	before := spaceUsed(t, ns, "/ec")

	blk, err := ns.AddBlock(ctx, "/ec/file")
	require.NoError(t, err)
	require.NoError(t, ns.AbandonBlock(ctx, "/ec/file", blk.ID))

	assert.Equal(t, before.StorageSpace, spaceUsed(t, ns, "/ec").StorageSpace)

	err = ns.AbandonBlock(ctx, "/ec/file", blk.ID)
	assert.True(t, IsCode(err, ErrBlockNotFound))
}

func TestCloseFile(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	newECDir(t, ns, "/ec")

	_, err := ns.CreateFile(ctx, "/ec/file", CreateOptions{})
	require.NoError(t, err)
	blk, err := ns.AddBlock(ctx, "/ec/file")
	require.NoError(t, err)

	err = ns.CloseFile(ctx, "/ec/file")
	assert.True(t, IsCode(err, ErrInvalidArgument))

	_, err = ns.CompleteBlock(ctx, "/ec/file", blk.ID, mib)
	require.NoError(t, err)
	require.NoError(t, ns.CloseFile(ctx, "/ec/file"))

	_, err = ns.AddBlock(ctx, "/ec/file")
	assert.True(t, IsCode(err, ErrFileClosed))
}

// ============================================================================
// Quota enforcement
// ============================================================================

func TestQuotaBelowUsageRejectsAllocation(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	newECDir(t, ns, "/ec")

	_, err := ns.CreateFile(ctx, "/ec/file", CreateOptions{})
	require.NoError(t, err)
	blk, err := ns.AddBlock(ctx, "/ec/file")
	require.NoError(t, err)
	_, err = ns.CompleteBlock(ctx, "/ec/file", blk.ID, mib/2)
	require.NoError(t, err)

	before := spaceUsed(t, ns, "/ec")
	usage := before.StorageSpace
	diskUsage := before.Types[storage.Disk]
	require.Positive(t, diskUsage)
	require.NoError(t, ns.SetQuota(ctx, "/ec", quota.Unlimited, usage-1))

	_, err = ns.AddBlock(ctx, "/ec/file")
	var qe *quota.ExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "/ec", qe.Path)
	assert.Equal(t, quota.StorageSpace, qe.Resource)
	assert.Equal(t, usage-1, qe.Quota)
	assert.Equal(t, usage+9*mib, qe.Attempted)

	after := spaceUsed(t, ns, "/ec")
	assert.Equal(t, usage, after.StorageSpace)
	assert.Equal(t, diskUsage, after.Types[storage.Disk])
	fi, err := ns.GetFileInfo(ctx, "/ec/file")
	require.NoError(t, err)
	assert.Len(t, fi.Blocks, 1)
}

func TestZeroQuotaIsEnforced(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	require.NoError(t, ns.Mkdirs(ctx, "/z"))
	require.NoError(t, ns.SetQuota(ctx, "/z", quota.Unlimited, 0))

	_, err := ns.CreateFile(ctx, "/z/f", CreateOptions{})
	require.NoError(t, err)

	_, err = ns.AddBlock(ctx, "/z/f")
	require.ErrorIs(t, err, quota.ErrQuotaExceeded)
}

func TestNamespaceQuota(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	require.NoError(t, ns.Mkdirs(ctx, "/q"))

	// The directory itself is one entry.
	require.NoError(t, ns.SetQuota(ctx, "/q", 1, quota.Unlimited))
	_, err := ns.CreateFile(ctx, "/q/f1", CreateOptions{})
	require.ErrorIs(t, err, quota.ErrQuotaExceeded)

	require.NoError(t, ns.SetQuota(ctx, "/q", 3, quota.Unlimited))
	_, err = ns.CreateFile(ctx, "/q/f1", CreateOptions{})
	require.NoError(t, err)

	// Two more directories would need two entries; only one is left.
	err = ns.Mkdirs(ctx, "/q/a/b")
	var qe *quota.ExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, quota.Namespace, qe.Resource)

	_, err = ns.GetFileInfo(ctx, "/q/a")
	assert.True(t, IsCode(err, ErrNotFound))

	require.NoError(t, ns.Mkdirs(ctx, "/q/a"))
	qu, err := ns.GetQuotaUsage(ctx, "/q")
	require.NoError(t, err)
	assert.Equal(t, int64(3), qu.FileAndDirectoryCount)
}

func TestStorageTypeQuota(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	newECDir(t, ns, "/ssd")
	require.NoError(t, ns.SetStoragePolicy(ctx, "/ssd", "ALL_SSD"))
	require.NoError(t, ns.SetQuotaByStorageType(ctx, "/ssd", storage.SSD, 10*mib))

	_, err := ns.CreateFile(ctx, "/ssd/f", CreateOptions{})
	require.NoError(t, err)
	_, err = ns.AddBlock(ctx, "/ssd/f")
	require.NoError(t, err)

	u := spaceUsed(t, ns, "/ssd")
	assert.Equal(t, int64(9*mib), u.Types[storage.SSD])
	assert.Zero(t, u.Types[storage.Disk])

	_, err = ns.AddBlock(ctx, "/ssd/f")
	var qe *quota.ExceededError
	require.True(t, errors.As(err, &qe))
	st, ok := qe.Resource.StorageType()
	require.True(t, ok)
	assert.Equal(t, storage.SSD, st)

	qu, err := ns.GetQuotaUsage(ctx, "/ssd")
	require.NoError(t, err)
	assert.Equal(t, map[storage.StorageType]int64{storage.SSD: 10 * mib}, qu.TypeQuota)

	err = ns.SetQuotaByStorageType(ctx, "/ssd", storage.Provided, 1)
	assert.True(t, IsCode(err, ErrInvalidArgument))
}

func TestNearAndFarAncestors(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	require.NoError(t, ns.Mkdirs(ctx, "/far/mid/near"))
	require.NoError(t, ns.SetErasureCodingPolicy(ctx, "/far", "RS-3-2-1024k"))
	require.NoError(t, ns.SetQuota(ctx, "/far", quota.Unlimited, 1024*mib))
	require.NoError(t, ns.SetQuota(ctx, "/far/mid/near", quota.Unlimited, 512*mib))

	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("/far/mid/near/f%d", i)
		_, err := ns.CreateFile(ctx, name, CreateOptions{})
		require.NoError(t, err)
		blk, err := ns.AddBlock(ctx, name)
		require.NoError(t, err)
		_, err = ns.CompleteBlock(ctx, name, blk.ID, uint64(i+1)*700*kib)
		require.NoError(t, err)
	}

	near := spaceUsed(t, ns, "/far/mid/near")
	far := spaceUsed(t, ns, "/far")
	assert.Equal(t, near, far)

	// Both agree with an independent sum over the files.
	var sum int64
	for i := 0; i < 3; i++ {
		fi, err := ns.GetFileInfo(ctx, fmt.Sprintf("/far/mid/near/f%d", i))
		require.NoError(t, err)
		sum += int64(fi.SpaceConsumed)
	}
	assert.Equal(t, sum, far.StorageSpace)
}

func TestSetQuotaInitialisesFromSubtree(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	require.NoError(t, ns.Mkdirs(ctx, "/d/sub"))
	require.NoError(t, ns.SetErasureCodingPolicy(ctx, "/d", "XOR-2-1-1024k"))

	_, err := ns.CreateFile(ctx, "/d/sub/f", CreateOptions{})
	require.NoError(t, err)
	_, err = ns.AddBlock(ctx, "/d/sub/f")
	require.NoError(t, err)

	require.NoError(t, ns.SetQuota(ctx, "/d", 100, quota.Unlimited))
	qu, err := ns.GetQuotaUsage(ctx, "/d")
	require.NoError(t, err)
	assert.Equal(t, int64(3), qu.FileAndDirectoryCount)
	assert.Equal(t, int64(3*mib), qu.SpaceConsumed)

	// Clearing every limit detaches the feature; usage is still reported.
	require.NoError(t, ns.SetQuota(ctx, "/d", quota.Unlimited, quota.Unlimited))
	settings, err := ns.Settings(ctx, "/d")
	require.NoError(t, err)
	assert.Equal(t, quota.Unlimited, settings.NamespaceQuota)
	qu, err = ns.GetQuotaUsage(ctx, "/d")
	require.NoError(t, err)
	assert.Equal(t, int64(3*mib), qu.SpaceConsumed)
	assert.Equal(t, quota.Unlimited, qu.NamespaceQuota)
}

// ============================================================================
// Deletion
// ============================================================================

func TestDeleteRestoresBaseline(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	newECDir(t, ns, "/ec")
	require.NoError(t, ns.Mkdirs(ctx, "/ec/inner"))
	require.NoError(t, ns.SetQuota(ctx, "/", quota.Unlimited, 1024*mib))
	require.NoError(t, ns.SetQuota(ctx, "/ec/inner", 50, quota.Unlimited))

	rootBefore, err := ns.GetQuotaUsage(ctx, "/")
	require.NoError(t, err)
	ecBefore, err := ns.GetQuotaUsage(ctx, "/ec")
	require.NoError(t, err)

	_, err = ns.CreateFile(ctx, "/ec/inner/file", CreateOptions{})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		blk, err := ns.AddBlock(ctx, "/ec/inner/file")
		require.NoError(t, err)
		_, err = ns.CompleteBlock(ctx, "/ec/inner/file", blk.ID, 3*mib)
		require.NoError(t, err)
	}
	// A block still allocated at delete time is retracted too.
	_, err = ns.AddBlock(ctx, "/ec/inner/file")
	require.NoError(t, err)

	require.NoError(t, ns.Delete(ctx, "/ec/inner/file", false))

	rootAfter, err := ns.GetQuotaUsage(ctx, "/")
	require.NoError(t, err)
	ecAfter, err := ns.GetQuotaUsage(ctx, "/ec")
	require.NoError(t, err)

	assert.Equal(t, rootBefore, rootAfter)
	assert.Equal(t, ecBefore, ecAfter)
}

func TestDeleteDirectory(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	newECDir(t, ns, "/ec")
	require.NoError(t, ns.Mkdirs(ctx, "/ec/a/b"))
	require.NoError(t, ns.SetQuota(ctx, "/ec/a/b", quota.Unlimited, 50*mib))

	_, err := ns.CreateFile(ctx, "/ec/a/b/f", CreateOptions{})
	require.NoError(t, err)
	_, err = ns.AddBlock(ctx, "/ec/a/b/f")
	require.NoError(t, err)

	err = ns.Delete(ctx, "/ec/a", false)
	assert.True(t, IsCode(err, ErrNotEmpty))

	require.NoError(t, ns.Delete(ctx, "/ec/a", true))

	qu, err := ns.GetQuotaUsage(ctx, "/ec")
	require.NoError(t, err)
	assert.Equal(t, int64(1), qu.FileAndDirectoryCount)
	assert.Zero(t, qu.SpaceConsumed)

	err = ns.Delete(ctx, "/", true)
	assert.True(t, IsCode(err, ErrInvalidArgument))
}

// ============================================================================
// Invariants
// ============================================================================

// A random mix of operations never pushes usage above a quota and keeps
// every cached counter equal to its subtree.
func TestRandomOperationsKeepInvariants(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	rng := rand.New(rand.NewSource(7))

	dirs := []string{"/a", "/a/b", "/a/b/c", "/x"}
	for _, d := range dirs {
		require.NoError(t, ns.Mkdirs(ctx, d))
	}
	require.NoError(t, ns.SetErasureCodingPolicy(ctx, "/a", "RS-6-3-1024k"))
	require.NoError(t, ns.SetErasureCodingPolicy(ctx, "/a/b/c", "RS-3-2-1024k"))
	require.NoError(t, ns.SetQuota(ctx, "/", 40, 200*mib))
	require.NoError(t, ns.SetQuota(ctx, "/a", 30, 120*mib))
	require.NoError(t, ns.SetQuota(ctx, "/a/b/c", 10, 40*mib))
	require.NoError(t, ns.SetQuotaByStorageType(ctx, "/a/b", storage.Disk, 70*mib))

	type openBlock struct {
		file string
		id   uint64
	}
	var files []string
	var open []openBlock

	for i := 0; i < 500; i++ {
		switch op := rng.Intn(10); {
		case op < 2:
			name := fmt.Sprintf("%s/f%d", dirs[rng.Intn(len(dirs))], i)
			if _, err := ns.CreateFile(ctx, name, CreateOptions{}); err == nil {
				files = append(files, name)
			}
		case op < 5 && len(files) > 0:
			name := files[rng.Intn(len(files))]
			if blk, err := ns.AddBlock(ctx, name); err == nil {
				open = append(open, openBlock{name, blk.ID})
			} else {
				require.ErrorIs(t, err, quota.ErrQuotaExceeded)
			}
		case op < 8 && len(open) > 0:
			j := rng.Intn(len(open))
			b := open[j]
			open = append(open[:j], open[j+1:]...)
			if rng.Intn(4) == 0 {
				require.NoError(t, ns.AbandonBlock(ctx, b.file, b.id))
			} else {
				_, err := ns.CompleteBlock(ctx, b.file, b.id, uint64(rng.Int63n(mib+1)))
				require.NoError(t, err)
			}
		case len(files) > 0:
			j := rng.Intn(len(files))
			require.NoError(t, ns.Delete(ctx, files[j], false))
			kept := open[:0]
			for _, b := range open {
				if b.file != files[j] {
					kept = append(kept, b)
				}
			}
			open = kept
			files = append(files[:j], files[j+1:]...)
		}

		for _, d := range []string{"/", "/a", "/a/b", "/a/b/c"} {
			qu, err := ns.GetQuotaUsage(ctx, d)
			require.NoError(t, err)
			if qu.NamespaceQuota != quota.Unlimited {
				require.LessOrEqual(t, qu.FileAndDirectoryCount, qu.NamespaceQuota, d)
			}
			if qu.SpaceQuota != quota.Unlimited {
				require.LessOrEqual(t, qu.SpaceConsumed, qu.SpaceQuota, d)
			}
			for st, q := range qu.TypeQuota {
				require.LessOrEqual(t, qu.TypeConsumed[st], q, d)
			}
		}
	}

	mismatches, err := ns.VerifyQuotaUsage(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

// Readers never observe a delta applied to one ancestor but not another.
func TestConcurrentReadersSeeWholeTransactions(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	require.NoError(t, ns.Mkdirs(ctx, "/far/near"))
	require.NoError(t, ns.SetErasureCodingPolicy(ctx, "/far", "RS-6-3-1024k"))
	require.NoError(t, ns.SetQuota(ctx, "/far", quota.Unlimited, 1<<40))
	require.NoError(t, ns.SetQuota(ctx, "/far/near", quota.Unlimited, 1<<40))

	const writers = 4
	var wg sync.WaitGroup
	done := make(chan struct{})

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			name := fmt.Sprintf("/far/near/f%d", w)
			if _, err := ns.CreateFile(ctx, name, CreateOptions{}); err != nil {
				t.Error(err)
				return
			}
			for i := 0; i < 50; i++ {
				blk, err := ns.AddBlock(ctx, name)
				if err != nil {
					t.Error(err)
					return
				}
				if _, err := ns.CompleteBlock(ctx, name, blk.ID, uint64(i)*kib); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}

	var readerWG sync.WaitGroup
	readerWG.Add(1)
	go func() {
		defer readerWG.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			ns.mu.RLock()
			near := ns.root.children["far"].(*directory).children["near"].(*directory).quota.SpaceConsumed()
			far := ns.root.children["far"].(*directory).quota.SpaceConsumed()
			ns.mu.RUnlock()
			if near.StorageSpace != far.StorageSpace {
				t.Errorf("torn read: near=%d far=%d", near.StorageSpace, far.StorageSpace)
				return
			}
		}
	}()

	wg.Wait()
	close(done)
	readerWG.Wait()

	mismatches, err := ns.VerifyQuotaUsage(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestVerifyQuotaUsageRepairs(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	newECDir(t, ns, "/ec")

	_, err := ns.CreateFile(ctx, "/ec/f", CreateOptions{})
	require.NoError(t, err)

	// Corrupt the cached counter directly.
	ns.root.children["ec"].(*directory).quota.AddConsumed(quota.SpaceDelta(5, storage.Disk))

	mismatches, err := ns.VerifyQuotaUsage(ctx, true)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, "/ec", mismatches[0].Path)
	assert.Equal(t, int64(5), mismatches[0].Cached.StorageSpace)
	assert.Zero(t, mismatches[0].Computed.StorageSpace)

	mismatches, err = ns.VerifyQuotaUsage(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

// ============================================================================
// Errors and settings
// ============================================================================

func TestPathErrors(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	require.NoError(t, ns.Mkdirs(ctx, "/d"))
	_, err := ns.CreateFile(ctx, "/d/f", CreateOptions{})
	require.NoError(t, err)

	tests := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{"relative path", ns.Mkdirs(ctx, "d/e"), ErrInvalidArgument},
		{"mkdir under file", ns.Mkdirs(ctx, "/d/f/x"), ErrNotDirectory},
		{"quota on file", ns.SetQuota(ctx, "/d/f", 1, 1), ErrNotDirectory},
		{"quota below sentinel", ns.SetQuota(ctx, "/d", -2, 1), ErrInvalidArgument},
		{"block on directory", func() error { _, err := ns.AddBlock(ctx, "/d"); return err }(), ErrIsDirectory},
		{"missing file", func() error { _, err := ns.AddBlock(ctx, "/d/nope"); return err }(), ErrNotFound},
		{"duplicate file", func() error { _, err := ns.CreateFile(ctx, "/d/f", CreateOptions{}); return err }(), ErrAlreadyExists},
		{"missing parent", func() error { _, err := ns.CreateFile(ctx, "/x/f", CreateOptions{}); return err }(), ErrNotFound},
		{"unknown block", func() error { _, err := ns.CompleteBlock(ctx, "/d/f", 999, 1); return err }(), ErrBlockNotFound},
		{"unknown storage policy", ns.SetStoragePolicy(ctx, "/d", "WARM_ISH"), ErrInvalidArgument},
		{"unset without policy", ns.UnsetErasureCodingPolicy(ctx, "/d"), ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.err)
			assert.True(t, IsCode(tt.err, tt.code), "got %v", tt.err)
		})
	}

	err = ns.SetErasureCodingPolicy(ctx, "/d", "RS-99-1-1k")
	require.ErrorIs(t, err, erasure.ErrUnknownPolicy)
}

func TestCreateParent(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)

	fi, err := ns.CreateFile(ctx, "/a/b/c/f", CreateOptions{CreateParent: true})
	require.NoError(t, err)
	assert.Equal(t, "/a/b/c/f", fi.Path)
	assert.False(t, fi.Closed)

	qu, err := ns.GetQuotaUsage(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, int64(5), qu.FileAndDirectoryCount)
}

func TestContextCancelled(t *testing.T) {
	ns := newTestNamesystem(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, ns.Mkdirs(ctx, "/d"), context.Canceled)
	_, err := ns.GetSpaceConsumed(ctx, "/")
	require.ErrorIs(t, err, context.Canceled)
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamesystem(t)
	newECDir(t, ns, "/ec")
	require.NoError(t, ns.Mkdirs(ctx, "/ec/rep/deep"))
	require.NoError(t, ns.SetErasureCodingPolicy(ctx, "/ec/rep", ReplicationPolicyName))
	require.NoError(t, ns.SetStoragePolicy(ctx, "/ec/rep/deep", "COLD"))
	require.NoError(t, ns.SetQuotaByStorageType(ctx, "/ec/rep/deep", storage.Archive, 5*mib))

	snap, err := ns.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 3)
	assert.Equal(t, "/ec", snap[0].Path)
	assert.Equal(t, "RS-6-3-1024k", snap[0].ErasureCodingPolicy)
	assert.Equal(t, int64(100*mib), snap[0].StorageSpaceQuota)

	restored := newTestNamesystem(t)
	require.NoError(t, restored.Restore(ctx, snap))

	again, err := restored.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, again)

	sp, err := restored.GetStoragePolicy(ctx, "/ec/rep/deep")
	require.NoError(t, err)
	assert.Equal(t, storage.Archive, sp.Type)

	p, err := restored.GetErasureCodingPolicy(ctx, "/ec/rep/deep")
	require.NoError(t, err)
	assert.Nil(t, p)
}
