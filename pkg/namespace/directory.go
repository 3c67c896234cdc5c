package namespace

import (
	"context"
	"path"

	"github.com/marmos91/ecquota/internal/logger"
	"github.com/marmos91/ecquota/pkg/erasure"
	"github.com/marmos91/ecquota/pkg/quota"
	"github.com/marmos91/ecquota/pkg/storage"
)

// ============================================================================
// Directory Operations
// ============================================================================

// Mkdirs creates p and any missing parents.
//
// Every created directory is one namespace entry. The whole chain is charged
// in a single transaction, so either all missing directories are created or,
// when a namespace quota would be exceeded, none are. Creating an existing
// directory is a no-op.
func (ns *Namesystem) Mkdirs(ctx context.Context, p string) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}

	w, err := ns.lock(ctx)
	if err != nil {
		return err
	}
	defer ns.unlock(w)

	return ns.mkdirsLocked(w, p)
}

func (ns *Namesystem) mkdirsLocked(w *writeTx, p string) error {
	// ========================================================================
	// Step 1: Find the deepest existing directory
	// ========================================================================

	parts := splitPath(p)
	cur := ns.root
	i := 0
	for ; i < len(parts); i++ {
		child, ok := cur.children[parts[i]]
		if !ok {
			break
		}
		dir, ok := child.(*directory)
		if !ok {
			return newError(ErrNotDirectory, "path component is a file", nodePath(child))
		}
		cur = dir
	}

	missing := parts[i:]
	if len(missing) == 0 {
		return nil
	}

	// ========================================================================
	// Step 2: Charge every missing directory at once
	// ========================================================================

	firstNew := path.Join(nodePath(cur), missing[0])
	if err := ns.tx.Apply(w, firstNew, quota.NamespaceDelta(int64(len(missing)))); err != nil {
		return err
	}

	// ========================================================================
	// Step 3: Link the new directories
	// ========================================================================

	for _, name := range missing {
		dir := newDirectory(name, cur)
		cur.children[name] = dir
		cur = dir
	}

	logger.Debug("Created %d directories: path=%s", len(missing), p)
	return nil
}

// SetErasureCodingPolicy sets the erasure coding policy inherited by files
// created beneath p. ReplicationPolicyName forces replication even when an
// ancestor sets a striped policy. Existing files keep their layout.
func (ns *Namesystem) SetErasureCodingPolicy(ctx context.Context, p, policyName string) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}

	var policy *erasure.Policy
	if policyName != ReplicationPolicyName {
		policy, err = ns.catalog.LookupByName(policyName)
		if err != nil {
			return err
		}
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

	dir.ecPolicy = policy
	dir.ecReplicate = policy == nil

	logger.Info("Set erasure coding policy: path=%s policy=%s", p, policyName)
	return nil
}

// UnsetErasureCodingPolicy removes the explicit setting on p, which then
// inherits from its parent again.
func (ns *Namesystem) UnsetErasureCodingPolicy(ctx context.Context, p string) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
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
	if dir.ecPolicy == nil && !dir.ecReplicate {
		return newError(ErrInvalidArgument, "no erasure coding policy set", p)
	}

	dir.ecPolicy = nil
	dir.ecReplicate = false

	logger.Info("Unset erasure coding policy: path=%s", p)
	return nil
}

// GetErasureCodingPolicy returns the effective policy of p: the layout
// policy of a file, or what a new file created in directory p would get.
// A nil policy means replication.
func (ns *Namesystem) GetErasureCodingPolicy(ctx context.Context, p string) (*erasure.Policy, error) {
	p, err := cleanPath(p)
	if err != nil {
		return nil, err
	}

	if err := ns.rlock(ctx); err != nil {
		return nil, err
	}
	defer ns.mu.RUnlock()

	n, err := ns.lookup(p)
	if err != nil {
		return nil, err
	}

	switch n := n.(type) {
	case *file:
		return layoutPolicy(n), nil
	case *directory:
		return effectiveErasureCodingPolicy(n), nil
	}
	return nil, nil
}

// SetStoragePolicy sets the storage policy inherited by files created
// beneath p. Existing files keep the storage type they were charged to.
func (ns *Namesystem) SetStoragePolicy(ctx context.Context, p, policyName string) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}

	policy, err := storage.LookupPolicy(policyName)
	if err != nil {
		return newError(ErrInvalidArgument, err.Error(), p)
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
	dir.storagePolicy = &policy

	logger.Info("Set storage policy: path=%s policy=%s", p, policy.Name)
	return nil
}

// GetStoragePolicy returns the effective storage policy of p.
func (ns *Namesystem) GetStoragePolicy(ctx context.Context, p string) (storage.Policy, error) {
	p, err := cleanPath(p)
	if err != nil {
		return storage.Policy{}, err
	}

	if err := ns.rlock(ctx); err != nil {
		return storage.Policy{}, err
	}
	defer ns.mu.RUnlock()

	n, err := ns.lookup(p)
	if err != nil {
		return storage.Policy{}, err
	}

	switch n := n.(type) {
	case *file:
		return *n.storagePolicy, nil
	case *directory:
		return *ns.effectiveStoragePolicy(n), nil
	}
	return storage.Policy{}, nil
}
