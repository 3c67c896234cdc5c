package namespace

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/ecquota/internal/logger"
	"github.com/marmos91/ecquota/pkg/blockgroup"
)

// Delete removes a file or directory.
//
// The whole usage of the removed subtree, one namespace entry per inode plus
// the committed size of every live block group, is retracted from every
// quota-carrying ancestor above p. Retractions are never rejected. Quota
// features inside the subtree disappear with it.
func (ns *Namesystem) Delete(ctx context.Context, p string, recursive bool) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}
	if p == "/" {
		return newError(ErrInvalidArgument, "cannot delete root", p)
	}

	w, err := ns.lock(ctx)
	if err != nil {
		return err
	}
	defer ns.unlock(w)

	n, err := ns.lookup(p)
	if err != nil {
		return err
	}
	if dir, ok := n.(*directory); ok && len(dir.children) > 0 && !recursive {
		return newError(ErrNotEmpty, "directory not empty", p)
	}

	// ========================================================================
	// Step 1: Retract the subtree's usage from every ancestor
	// ========================================================================

	usage := subtreeConsumed(n)
	if err := ns.tx.ApplyUnchecked(w, p, usage.Negate()); err != nil {
		return err
	}

	// ========================================================================
	// Step 2: Move every live block group to Removed
	// ========================================================================

	blocks := 0
	walkFiles(n, func(f *file) {
		for _, b := range f.blocks {
			if b.State == blockgroup.StateRemoved {
				continue
			}
			t, err := b.Remove()
			if err != nil {
				continue
			}
			t.Commit()
			blocks++
		}
	})

	// ========================================================================
	// Step 3: Unlink
	// ========================================================================

	parent := n.parentDir()
	delete(parent.children, n.nodeName())
	parent.mtime = time.Now()

	logger.Info("Deleted %s: inodes=%d block_groups=%d released=%s",
		p, usage.Namespace, blocks, humanize.IBytes(uint64(usage.StorageSpace)))
	return nil
}

// walkFiles calls fn for every file at or beneath n.
func walkFiles(n node, fn func(*file)) {
	switch n := n.(type) {
	case *file:
		fn(n)
	case *directory:
		for _, child := range n.children {
			walkFiles(child, fn)
		}
	}
}

// walkDirs calls fn for every directory at or beneath d, parents first.
func walkDirs(d *directory, fn func(*directory)) {
	fn(d)
	for _, child := range d.sortedChildren() {
		if sub, ok := child.(*directory); ok {
			walkDirs(sub, fn)
		}
	}
}
