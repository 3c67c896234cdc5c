package quota

import (
	"errors"
	"fmt"

	"github.com/marmos91/ecquota/internal/logger"
)

// WriteLock is held by a caller that owns the namespace write lock. It is
// passed explicitly into every transaction so the critical section is
// visible at the call site.
type WriteLock interface {
	HoldsWriteLock() bool
}

// Directory is a directory node as seen by the transaction.
type Directory interface {
	Path() string

	// QuotaFeature returns nil when no quota is configured at this level.
	QuotaFeature() *Feature
}

// Tree resolves the ancestor chain of a path.
type Tree interface {
	// AncestorsOf returns the directories from the parent of path up to
	// and including the root, nearest first.
	AncestorsOf(path string) ([]Directory, error)
}

// Observer is notified of transaction outcomes.
type Observer interface {
	// Committed is called once per committed delta with the number of
	// features it was applied to.
	Committed(path string, delta Counts, features int)

	// Rejected is called when verification fails.
	Rejected(err *ExceededError)
}

// Transaction applies deltas to a tree. The zero Observer is allowed.
type Transaction struct {
	Tree     Tree
	Observer Observer
}

// Apply verifies delta against every quota-carrying ancestor of path and,
// only if all of them accept it, commits it to all of them.
//
// A delta that grows no dimension is committed without verification. On
// failure the returned error is an *ExceededError and no feature was
// modified.
func (tx Transaction) Apply(lock WriteLock, path string, delta Counts) error {
	return tx.apply(lock, path, delta, true)
}

// ApplyUnchecked commits delta without verification. It is meant for
// retractions that must succeed regardless of quota.
func (tx Transaction) ApplyUnchecked(lock WriteLock, path string, delta Counts) error {
	return tx.apply(lock, path, delta, false)
}

func (tx Transaction) apply(lock WriteLock, path string, delta Counts, verify bool) error {
	if lock == nil || !lock.HoldsWriteLock() {
		return fmt.Errorf("quota update on %s: %w", path, ErrLockNotHeld)
	}
	if delta.IsZero() {
		return nil
	}

	ancestors, err := tx.Tree.AncestorsOf(path)
	if err != nil {
		return err
	}

	// Step 1: verify every ancestor before touching any of them
	if verify && delta.hasIncrease() {
		for _, dir := range ancestors {
			f := dir.QuotaFeature()
			if f == nil {
				continue
			}
			if err := f.Verify(dir.Path(), delta); err != nil {
				var qe *ExceededError
				if errors.As(err, &qe) && tx.Observer != nil {
					tx.Observer.Rejected(qe)
				}
				logger.Debug("Quota update rejected: path=%s error=%v", path, err)
				return err
			}
		}
	}

	// Step 2: commit the identical delta to all of them
	features := 0
	for _, dir := range ancestors {
		f := dir.QuotaFeature()
		if f == nil {
			continue
		}
		f.AddConsumed(delta)
		features++

		if used := f.Consumed(); used.Namespace < 0 || used.StorageSpace < 0 {
			logger.Warn("Inconsistent quota usage on %s: namespace=%d storage_space=%d",
				dir.Path(), used.Namespace, used.StorageSpace)
		}
	}

	if tx.Observer != nil {
		tx.Observer.Committed(path, delta, features)
	}
	return nil
}

// Apply runs a verified transaction with no observer.
func Apply(lock WriteLock, tree Tree, path string, delta Counts) error {
	return Transaction{Tree: tree}.Apply(lock, path, delta)
}

// ApplyUnchecked runs an unverified transaction with no observer.
func ApplyUnchecked(lock WriteLock, tree Tree, path string, delta Counts) error {
	return Transaction{Tree: tree}.ApplyUnchecked(lock, path, delta)
}
