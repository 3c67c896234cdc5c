// Package namespace implements the in-memory directory tree whose files own
// erasure coded or replicated block groups, together with the allocation,
// completion and removal protocol that keeps per-directory quota usage in
// step with those block groups.
//
// Every mutation runs under the namespace write lock and pushes its usage
// delta through a quota.Transaction before changing the tree, so a rejected
// operation leaves both the tree and every quota counter untouched.
package namespace

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/marmos91/ecquota/pkg/erasure"
	"github.com/marmos91/ecquota/pkg/quota"
	"github.com/marmos91/ecquota/pkg/storage"
)

// ReplicationPolicyName is the erasure coding policy name that forces plain
// replication beneath a directory.
const ReplicationPolicyName = "replication"

// Default file parameters, used when Options leaves them zero.
const (
	DefaultBlockSize   uint64 = 128 * 1024 * 1024
	DefaultReplication uint16 = 3
)

// Options configures a Namesystem.
type Options struct {
	// Catalog resolves erasure coding policies. Required.
	Catalog *erasure.Catalog

	// BlockSize is the preferred block size of new files.
	BlockSize uint64

	// Replication is the replication factor of new replicated files.
	Replication uint16

	// DefaultStoragePolicy applies where no directory sets one.
	DefaultStoragePolicy *storage.Policy

	// Observer receives quota transaction outcomes.
	Observer quota.Observer
}

// Namesystem is the namespace tree plus its lock.
//
// Thread Safety:
// A single read-write mutex guards the whole tree. Mutations hold it
// exclusively for the full verify-then-commit quota transaction; readers
// hold it shared and therefore observe every transaction either not at all
// or completely.
type Namesystem struct {
	mu   sync.RWMutex
	root *directory

	catalog              *erasure.Catalog
	blockSize            uint64
	replication          uint16
	defaultStoragePolicy *storage.Policy

	tx          quota.Transaction
	nextBlockID uint64
}

// New creates a namesystem holding only the root directory.
func New(opts Options) (*Namesystem, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("namespace: catalog is required")
	}
	if opts.BlockSize == 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.Replication == 0 {
		opts.Replication = DefaultReplication
	}
	if opts.DefaultStoragePolicy == nil {
		def := storage.DefaultPolicy()
		opts.DefaultStoragePolicy = &def
	}

	ns := &Namesystem{
		root:                 newDirectory("", nil),
		catalog:              opts.Catalog,
		blockSize:            opts.BlockSize,
		replication:          opts.Replication,
		defaultStoragePolicy: opts.DefaultStoragePolicy,
		nextBlockID:          1,
	}
	ns.tx = quota.Transaction{Tree: treeView{ns}, Observer: opts.Observer}
	return ns, nil
}

// Catalog returns the erasure coding policy catalog.
func (ns *Namesystem) Catalog() *erasure.Catalog {
	return ns.catalog
}

// ============================================================================
// Locking
// ============================================================================

// writeTx is the proof of holding the write lock handed to quota
// transactions. It is invalidated on unlock.
type writeTx struct {
	held bool
}

func (w *writeTx) HoldsWriteLock() bool {
	return w.held
}

func (ns *Namesystem) lock(ctx context.Context) (*writeTx, error) {
	// Check context before acquiring lock
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ns.mu.Lock()
	return &writeTx{held: true}, nil
}

func (ns *Namesystem) unlock(w *writeTx) {
	w.held = false
	ns.mu.Unlock()
}

func (ns *Namesystem) rlock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ns.mu.RLock()
	return nil
}

// treeView exposes the tree to quota transactions. It is only used while
// the write lock is held.
type treeView struct {
	ns *Namesystem
}

// AncestorsOf returns the directories from the parent of p up to the root.
// p itself need not exist yet, which lets a creation be verified before the
// new node is linked.
func (t treeView) AncestorsOf(p string) ([]quota.Directory, error) {
	if p == "/" {
		return nil, nil
	}
	parent, err := t.ns.lookupDir(path.Dir(p))
	if err != nil {
		return nil, err
	}
	var out []quota.Directory
	for d := parent; d != nil; d = d.parent {
		out = append(out, d)
	}
	return out, nil
}

// ============================================================================
// Path resolution
// ============================================================================

// cleanPath validates and normalises an absolute path.
func cleanPath(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", newError(ErrInvalidArgument, "path must be absolute", p)
	}
	return path.Clean(p), nil
}

func splitPath(p string) []string {
	if p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// lookup resolves a clean path to its node.
func (ns *Namesystem) lookup(p string) (node, error) {
	var cur node = ns.root
	for _, name := range splitPath(p) {
		dir, ok := cur.(*directory)
		if !ok {
			return nil, newError(ErrNotDirectory, "path component is a file", nodePath(cur))
		}
		child, ok := dir.children[name]
		if !ok {
			return nil, newError(ErrNotFound, "no such file or directory", p)
		}
		cur = child
	}
	return cur, nil
}

func (ns *Namesystem) lookupDir(p string) (*directory, error) {
	n, err := ns.lookup(p)
	if err != nil {
		return nil, err
	}
	d, ok := n.(*directory)
	if !ok {
		return nil, newError(ErrNotDirectory, "not a directory", p)
	}
	return d, nil
}

func (ns *Namesystem) lookupFile(p string) (*file, error) {
	n, err := ns.lookup(p)
	if err != nil {
		return nil, err
	}
	f, ok := n.(*file)
	if !ok {
		return nil, newError(ErrIsDirectory, "is a directory", p)
	}
	return f, nil
}

// effectiveErasureCodingPolicy walks up from d to the nearest directory with
// an explicit setting. nil means replication.
func effectiveErasureCodingPolicy(d *directory) *erasure.Policy {
	for cur := d; cur != nil; cur = cur.parent {
		if cur.ecReplicate {
			return nil
		}
		if cur.ecPolicy != nil {
			return cur.ecPolicy
		}
	}
	return nil
}

func (ns *Namesystem) effectiveStoragePolicy(d *directory) *storage.Policy {
	for cur := d; cur != nil; cur = cur.parent {
		if cur.storagePolicy != nil {
			return cur.storagePolicy
		}
	}
	return ns.defaultStoragePolicy
}
