package namespace

import (
	"context"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/marmos91/ecquota/internal/logger"
	"github.com/marmos91/ecquota/pkg/blockgroup"
	"github.com/marmos91/ecquota/pkg/erasure"
	"github.com/marmos91/ecquota/pkg/quota"
	"github.com/marmos91/ecquota/pkg/storage"
)

// CreateOptions tunes a single file creation. Zero values fall back to the
// namesystem defaults.
type CreateOptions struct {
	Replication uint16
	BlockSize   uint64

	// CreateParent creates missing parent directories first.
	CreateParent bool
}

// FileInfo describes a file.
type FileInfo struct {
	ID          uuid.UUID
	Path        string
	Layout      string
	StorageType storage.StorageType
	BlockSize   uint64

	// Length is the sum of completed block lengths.
	Length uint64

	// SpaceConsumed is the storage space currently charged for the file.
	SpaceConsumed uint64

	Blocks  []BlockInfo
	Closed  bool
	ModTime time.Time
}

// BlockInfo describes one block group of a file.
type BlockInfo struct {
	ID        uint64
	State     blockgroup.State
	NumBytes  uint64
	Committed uint64
}

func layoutPolicy(f *file) *erasure.Policy {
	if s, ok := f.layout.(blockgroup.Striped); ok {
		return s.Policy
	}
	return nil
}

func blockInfo(b *blockgroup.BlockGroup) BlockInfo {
	return BlockInfo{ID: b.ID, State: b.State, NumBytes: b.NumBytes, Committed: b.Committed}
}

func (f *file) info() FileInfo {
	fi := FileInfo{
		ID:          f.id,
		Path:        nodePath(f),
		Layout:      f.layout.String(),
		StorageType: f.storageType,
		BlockSize:   f.preferredBlockSize,
		Length:      f.length(),
		Closed:      f.closed,
		ModTime:     f.mtime,
	}
	for _, b := range f.blocks {
		fi.Blocks = append(fi.Blocks, blockInfo(b))
		fi.SpaceConsumed += b.Committed
	}
	return fi
}

// ============================================================================
// File Operations
// ============================================================================

// CreateFile creates an empty, open file.
//
// The file's layout comes from the effective erasure coding policy of its
// parent and its storage type from the effective storage policy; both are
// fixed for the life of the file. The new entry is charged one namespace
// unit against every quota-carrying ancestor.
func (ns *Namesystem) CreateFile(ctx context.Context, p string, opts CreateOptions) (FileInfo, error) {
	p, err := cleanPath(p)
	if err != nil {
		return FileInfo{}, err
	}
	if p == "/" {
		return FileInfo{}, newError(ErrAlreadyExists, "cannot create root", p)
	}

	w, err := ns.lock(ctx)
	if err != nil {
		return FileInfo{}, err
	}
	defer ns.unlock(w)

	// ========================================================================
	// Step 1: Resolve parent and check the name is free
	// ========================================================================

	if opts.CreateParent {
		if err := ns.mkdirsLocked(w, path.Dir(p)); err != nil {
			return FileInfo{}, err
		}
	}

	parent, err := ns.lookupDir(path.Dir(p))
	if err != nil {
		return FileInfo{}, err
	}

	name := path.Base(p)
	if _, exists := parent.children[name]; exists {
		return FileInfo{}, newError(ErrAlreadyExists, "file exists", p)
	}

	// ========================================================================
	// Step 2: Build the file from inherited policies
	// ========================================================================

	blockSize := opts.BlockSize
	if blockSize == 0 {
		blockSize = ns.blockSize
	}

	var layout blockgroup.Layout
	if ec := effectiveErasureCodingPolicy(parent); ec != nil {
		// Re-resolve through the catalog so a policy removed since it was
		// set on the directory fails here rather than at allocation.
		policy, err := ns.catalog.Lookup(ec.ID)
		if err != nil {
			return FileInfo{}, err
		}
		layout = blockgroup.Striped{Policy: policy}
	} else {
		replication := opts.Replication
		if replication == 0 {
			replication = ns.replication
		}
		layout = blockgroup.Contiguous{Replication: replication}
	}

	sp := ns.effectiveStoragePolicy(parent)
	f := &file{
		id:                 uuid.New(),
		name:               name,
		parent:             parent,
		layout:             layout,
		storageType:        sp.Type,
		storagePolicy:      sp,
		preferredBlockSize: blockSize,
		mtime:              time.Now(),
	}

	// ========================================================================
	// Step 3: Charge the namespace entry, then link
	// ========================================================================

	if err := ns.tx.Apply(w, p, quota.NamespaceDelta(1)); err != nil {
		return FileInfo{}, err
	}
	parent.children[name] = f
	parent.mtime = f.mtime

	logger.Debug("Created file: path=%s id=%s layout=%s storage_type=%s", p, f.id, layout, f.storageType)
	return f.info(), nil
}

// AddBlock allocates a new block group at the end of an open file.
//
// The group's provisional size, the preferred block size times the number of
// units (or replicas), is charged before the group exists. If any ancestor
// quota would be exceeded the group is never created.
func (ns *Namesystem) AddBlock(ctx context.Context, p string) (BlockInfo, error) {
	p, err := cleanPath(p)
	if err != nil {
		return BlockInfo{}, err
	}

	w, err := ns.lock(ctx)
	if err != nil {
		return BlockInfo{}, err
	}
	defer ns.unlock(w)

	f, err := ns.lookupFile(p)
	if err != nil {
		return BlockInfo{}, err
	}
	if f.closed {
		return BlockInfo{}, newError(ErrFileClosed, "file is closed", p)
	}

	bg, err := blockgroup.New(ns.nextBlockID, f.layout, f.preferredBlockSize)
	if err != nil {
		return BlockInfo{}, err
	}

	if err := ns.tx.Apply(w, p, quota.SpaceDelta(int64(bg.Committed), f.storageType)); err != nil {
		return BlockInfo{}, err
	}

	ns.nextBlockID++
	f.blocks = append(f.blocks, bg)
	f.mtime = time.Now()

	logger.Debug("Allocated block group: path=%s id=%d provisional=%s",
		p, bg.ID, humanize.IBytes(bg.Committed))
	return blockInfo(bg), nil
}

// CompleteBlock fixes the logical length of an allocated block group and
// replaces its provisional charge with its realized size.
//
// A shrinking adjustment always commits. A growing one, which a striped
// group never produces but a contiguous group with an oversized write can,
// is verified like any other growth. Completing a group twice is rejected
// with blockgroup.ErrAlreadyCompleted.
func (ns *Namesystem) CompleteBlock(ctx context.Context, p string, blockID, numBytes uint64) (BlockInfo, error) {
	p, err := cleanPath(p)
	if err != nil {
		return BlockInfo{}, err
	}

	w, err := ns.lock(ctx)
	if err != nil {
		return BlockInfo{}, err
	}
	defer ns.unlock(w)

	f, err := ns.lookupFile(p)
	if err != nil {
		return BlockInfo{}, err
	}
	_, bg := f.findBlock(blockID)
	if bg == nil {
		return BlockInfo{}, newError(ErrBlockNotFound, "block group not in file", p)
	}

	t, err := bg.Complete(numBytes)
	if err != nil {
		return BlockInfo{}, err
	}
	if err := ns.tx.Apply(w, p, quota.SpaceDelta(t.Delta, f.storageType)); err != nil {
		return BlockInfo{}, err
	}
	t.Commit()
	f.mtime = time.Now()

	logger.Debug("Completed block group: path=%s id=%d length=%s realized=%s delta=%d",
		p, bg.ID, humanize.IBytes(numBytes), humanize.IBytes(bg.Committed), t.Delta)
	return blockInfo(bg), nil
}

// AbandonBlock retracts an allocated, not yet completed block group.
func (ns *Namesystem) AbandonBlock(ctx context.Context, p string, blockID uint64) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}

	w, err := ns.lock(ctx)
	if err != nil {
		return err
	}
	defer ns.unlock(w)

	f, err := ns.lookupFile(p)
	if err != nil {
		return err
	}
	if f.closed {
		return newError(ErrFileClosed, "file is closed", p)
	}
	idx, bg := f.findBlock(blockID)
	if bg == nil {
		return newError(ErrBlockNotFound, "block group not in file", p)
	}
	if bg.State != blockgroup.StateAllocated {
		return newError(ErrInvalidArgument, "only allocated block groups can be abandoned", p)
	}

	t, err := bg.Remove()
	if err != nil {
		return err
	}
	if err := ns.tx.ApplyUnchecked(w, p, quota.SpaceDelta(t.Delta, f.storageType)); err != nil {
		return err
	}
	t.Commit()
	f.blocks = append(f.blocks[:idx], f.blocks[idx+1:]...)
	f.mtime = time.Now()

	logger.Debug("Abandoned block group: path=%s id=%d released=%s", p, blockID, humanize.IBytes(uint64(-t.Delta)))
	return nil
}

// CloseFile closes a file once every block group is completed. Closing an
// already closed file is a no-op.
func (ns *Namesystem) CloseFile(ctx context.Context, p string) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}

	w, err := ns.lock(ctx)
	if err != nil {
		return err
	}
	defer ns.unlock(w)

	f, err := ns.lookupFile(p)
	if err != nil {
		return err
	}
	for _, b := range f.blocks {
		if b.State != blockgroup.StateCompleted {
			return newError(ErrInvalidArgument, "file has incomplete block groups", p)
		}
	}
	f.closed = true
	return nil
}

// GetFileInfo returns a description of the file at p.
func (ns *Namesystem) GetFileInfo(ctx context.Context, p string) (FileInfo, error) {
	p, err := cleanPath(p)
	if err != nil {
		return FileInfo{}, err
	}

	if err := ns.rlock(ctx); err != nil {
		return FileInfo{}, err
	}
	defer ns.mu.RUnlock()

	f, err := ns.lookupFile(p)
	if err != nil {
		return FileInfo{}, err
	}
	return f.info(), nil
}
