// Package quota implements per-directory quota counters and the transaction
// that pushes usage deltas up a directory hierarchy.
//
// A Feature is attached to a directory that has a quota configured. Every
// change in namespace or storage usage beneath that directory is expressed
// as a Counts delta and applied with Apply, which first verifies the delta
// against every quota-carrying ancestor and only then commits it to all of
// them. Both phases run under the namespace write lock, so readers holding
// the read lock never see a partially applied delta.
package quota

import (
	"github.com/marmos91/ecquota/pkg/storage"
)

// Unlimited is the quota value meaning "no limit". Zero is a valid quota
// that forbids any additional usage.
const Unlimited int64 = -1

// TypeCounts holds one value per storage type.
type TypeCounts [storage.NumTypes]int64

// UnlimitedTypes returns TypeCounts with every entry set to Unlimited.
func UnlimitedTypes() TypeCounts {
	var tc TypeCounts
	for i := range tc {
		tc[i] = Unlimited
	}
	return tc
}

// Get returns the value for t, or zero for an unknown type.
func (tc TypeCounts) Get(t storage.StorageType) int64 {
	if !t.Valid() {
		return 0
	}
	return tc[t]
}

// Add returns the element-wise sum.
func (tc TypeCounts) Add(o TypeCounts) TypeCounts {
	for i := range tc {
		tc[i] += o[i]
	}
	return tc
}

// IsZero reports whether every entry is zero.
func (tc TypeCounts) IsZero() bool {
	return tc == TypeCounts{}
}

// Map returns the non-zero entries keyed by storage type.
func (tc TypeCounts) Map() map[storage.StorageType]int64 {
	m := make(map[storage.StorageType]int64)
	for i, v := range tc {
		if v != 0 {
			m[storage.StorageType(i)] = v
		}
	}
	return m
}

// Counts is a set of usage values over all quota dimensions. It is used
// both for absolute usage and for deltas.
type Counts struct {
	Namespace    int64
	StorageSpace int64
	Types        TypeCounts
}

// NamespaceDelta returns a delta of n namespace entries.
func NamespaceDelta(n int64) Counts {
	return Counts{Namespace: n}
}

// SpaceDelta returns a delta of space bytes charged to storage type t.
func SpaceDelta(space int64, t storage.StorageType) Counts {
	c := Counts{StorageSpace: space}
	if t.Valid() {
		c.Types[t] = space
	}
	return c
}

// Add returns c + o.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Namespace:    c.Namespace + o.Namespace,
		StorageSpace: c.StorageSpace + o.StorageSpace,
		Types:        c.Types.Add(o.Types),
	}
}

// Negate returns -c.
func (c Counts) Negate() Counts {
	out := Counts{Namespace: -c.Namespace, StorageSpace: -c.StorageSpace}
	for i, v := range c.Types {
		out.Types[i] = -v
	}
	return out
}

// IsZero reports whether the delta changes nothing.
func (c Counts) IsZero() bool {
	return c == Counts{}
}

// hasIncrease reports whether any dimension grows. Deltas that only shrink
// usage can never breach a quota.
func (c Counts) hasIncrease() bool {
	if c.Namespace > 0 || c.StorageSpace > 0 {
		return true
	}
	for _, v := range c.Types {
		if v > 0 {
			return true
		}
	}
	return false
}
