package namespace

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/ecquota/pkg/blockgroup"
	"github.com/marmos91/ecquota/pkg/erasure"
	"github.com/marmos91/ecquota/pkg/quota"
	"github.com/marmos91/ecquota/pkg/storage"
)

// node is an entry of the namespace tree.
type node interface {
	nodeName() string
	parentDir() *directory
}

// directory is a namespace directory.
//
// ecPolicy and storagePolicy are explicit settings on this directory; nil
// means inherit from the parent. ecReplicate overrides an inherited erasure
// coding policy with plain replication.
type directory struct {
	name     string
	parent   *directory
	children map[string]node

	quota *quota.Feature

	ecPolicy      *erasure.Policy
	ecReplicate   bool
	storagePolicy *storage.Policy

	mtime time.Time
}

func newDirectory(name string, parent *directory) *directory {
	return &directory{
		name:     name,
		parent:   parent,
		children: make(map[string]node),
		mtime:    time.Now(),
	}
}

func (d *directory) nodeName() string      { return d.name }
func (d *directory) parentDir() *directory { return d.parent }

// Path implements quota.Directory.
func (d *directory) Path() string {
	return nodePath(d)
}

// QuotaFeature implements quota.Directory.
func (d *directory) QuotaFeature() *quota.Feature {
	return d.quota
}

// sortedChildren returns children ordered by name.
func (d *directory) sortedChildren() []node {
	names := make([]string, 0, len(d.children))
	for name := range d.children {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]node, len(names))
	for i, name := range names {
		out[i] = d.children[name]
	}
	return out
}

// file is a namespace file. Its layout and storage type are fixed at
// creation from the effective policies of its parent.
type file struct {
	id     uuid.UUID
	name   string
	parent *directory

	layout             blockgroup.Layout
	storageType        storage.StorageType
	storagePolicy      *storage.Policy
	preferredBlockSize uint64

	blocks []*blockgroup.BlockGroup
	closed bool

	mtime time.Time
}

func (f *file) nodeName() string      { return f.name }
func (f *file) parentDir() *directory { return f.parent }

func (f *file) findBlock(id uint64) (int, *blockgroup.BlockGroup) {
	for i, b := range f.blocks {
		if b.ID == id {
			return i, b
		}
	}
	return -1, nil
}

// length is the sum of completed block lengths.
func (f *file) length() uint64 {
	var n uint64
	for _, b := range f.blocks {
		if b.State == blockgroup.StateCompleted {
			n += b.NumBytes
		}
	}
	return n
}

// consumed is the file's contribution to every ancestor's usage: one
// namespace entry plus the committed size of every live block group.
func (f *file) consumed() quota.Counts {
	c := quota.NamespaceDelta(1)
	for _, b := range f.blocks {
		if b.State != blockgroup.StateRemoved {
			c = c.Add(quota.SpaceDelta(int64(b.Committed), f.storageType))
		}
	}
	return c
}

// subtreeConsumed sums the usage of n and everything beneath it, counting n
// itself as one namespace entry.
func subtreeConsumed(n node) quota.Counts {
	switch n := n.(type) {
	case *file:
		return n.consumed()
	case *directory:
		c := quota.NamespaceDelta(1)
		for _, child := range n.children {
			c = c.Add(subtreeConsumed(child))
		}
		return c
	default:
		panic("namespace: unknown node type")
	}
}

func nodePath(n node) string {
	var parts []string
	for cur := n; cur != nil && cur.parentDir() != nil; cur = cur.parentDir() {
		parts = append(parts, cur.nodeName())
	}
	if len(parts) == 0 {
		return "/"
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}
