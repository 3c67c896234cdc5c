// Package testing provides a conformance suite for store.SettingsStore
// implementations.
package testing

import (
	"context"
	"sync"
	"testing"

	"github.com/marmos91/ecquota/pkg/quota"
	"github.com/marmos91/ecquota/pkg/storage"
	"github.com/marmos91/ecquota/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite tests the SettingsStore contract, not implementation
// details, making it reusable across backends (memory, badger, S3).
//
// Usage:
//
//	func TestMySettingsStore(t *testing.T) {
//	    suite := &storetesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) store.SettingsStore {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test. The suite
	// closes it when the test ends.
	NewStore func(t *testing.T) store.SettingsStore
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("PutGet", suite.TestPutGet)
	t.Run("PutReplaces", suite.TestPutReplaces)
	t.Run("GetNotFound", suite.TestGetNotFound)
	t.Run("Delete", suite.TestDelete)
	t.Run("ListOrdered", suite.TestListOrdered)
	t.Run("PathNormalised", suite.TestPathNormalised)
	t.Run("Healthcheck", suite.TestHealthcheck)
	t.Run("Concurrent", suite.TestConcurrent)
}

func (suite *StoreTestSuite) newStore(t *testing.T) store.SettingsStore {
	t.Helper()
	s := suite.NewStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Sample returns fully populated settings for path.
func Sample(path string) store.DirectorySettings {
	return store.DirectorySettings{
		Path:              path,
		NamespaceQuota:    1000,
		StorageSpaceQuota: 10 << 30,
		TypeQuotas: map[storage.StorageType]int64{
			storage.SSD:  1 << 30,
			storage.Disk: 0,
		},
		ErasureCodingPolicy: "RS-6-3-1024k",
		StoragePolicy:       "ALL_SSD",
	}
}

// TestPutGet verifies a stored entry reads back unchanged.
func (suite *StoreTestSuite) TestPutGet(t *testing.T) {
	s := suite.newStore(t)
	ctx := context.Background()

	want := Sample("/data/ec")
	require.NoError(t, s.Put(ctx, want))

	got, err := s.Get(ctx, "/data/ec")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	minimal := store.DirectorySettings{Path: "/plain", NamespaceQuota: quota.Unlimited, StorageSpaceQuota: 5}
	require.NoError(t, s.Put(ctx, minimal))
	got, err = s.Get(ctx, "/plain")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.StorageSpaceQuota)
	assert.Empty(t, got.TypeQuotas)
	assert.Empty(t, got.ErasureCodingPolicy)
}

// TestPutReplaces verifies Put overwrites the previous entry.
func (suite *StoreTestSuite) TestPutReplaces(t *testing.T) {
	s := suite.newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Sample("/a")))

	updated := store.DirectorySettings{Path: "/a", NamespaceQuota: 7, StorageSpaceQuota: quota.Unlimited, StoragePolicy: "COLD"}
	require.NoError(t, s.Put(ctx, updated))

	got, err := s.Get(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.NamespaceQuota)
	assert.Equal(t, "COLD", got.StoragePolicy)
	assert.Empty(t, got.TypeQuotas)
	assert.Empty(t, got.ErasureCodingPolicy)
}

// TestGetNotFound verifies missing paths report store.ErrNotFound.
func (suite *StoreTestSuite) TestGetNotFound(t *testing.T) {
	s := suite.newStore(t)

	_, err := s.Get(context.Background(), "/nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// TestDelete verifies deletion and that deleting a missing path succeeds.
func (suite *StoreTestSuite) TestDelete(t *testing.T) {
	s := suite.newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Sample("/a")))
	require.NoError(t, s.Delete(ctx, "/a"))

	_, err := s.Get(ctx, "/a")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Delete(ctx, "/a"))
}

// TestListOrdered verifies List returns every entry sorted by path.
func (suite *StoreTestSuite) TestListOrdered(t *testing.T) {
	s := suite.newStore(t)
	ctx := context.Background()

	empty, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, p := range []string{"/b", "/a/c", "/", "/a"} {
		require.NoError(t, s.Put(ctx, Sample(p)))
	}

	list, err := s.List(ctx)
	require.NoError(t, err)

	paths := make([]string, len(list))
	for i, e := range list {
		paths[i] = e.Path
	}
	assert.Equal(t, []string{"/", "/a", "/a/c", "/b"}, paths)
}

// TestPathNormalised verifies equivalent spellings address the same entry.
func (suite *StoreTestSuite) TestPathNormalised(t *testing.T) {
	s := suite.newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Sample("a//b/")))

	got, err := s.Get(ctx, "/a/b")
	require.NoError(t, err)
	assert.Equal(t, "/a/b", got.Path)
}

// TestHealthcheck verifies a fresh store is healthy.
func (suite *StoreTestSuite) TestHealthcheck(t *testing.T) {
	s := suite.newStore(t)
	assert.NoError(t, s.Healthcheck(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Healthcheck(ctx), context.Canceled)
}

// TestConcurrent verifies concurrent writers do not lose entries.
func (suite *StoreTestSuite) TestConcurrent(t *testing.T) {
	s := suite.newStore(t)
	ctx := context.Background()

	paths := []string{"/p0", "/p1", "/p2", "/p3", "/p4", "/p5", "/p6", "/p7"}

	var wg sync.WaitGroup
	for _, p := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			assert.NoError(t, s.Put(ctx, Sample(p)))
		}(p)
	}
	wg.Wait()

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, len(paths))
}
