package blockgroup

import (
	"fmt"

	"github.com/marmos91/ecquota/pkg/erasure"
)

// Layout is the closed set of block group kinds. The unexported marker
// keeps implementations inside this package so Provisional and Realized can
// switch exhaustively.
type Layout interface {
	isLayout()
	String() string
}

// Contiguous is a replicated block: every replica stores the whole block.
type Contiguous struct {
	Replication uint16
}

func (Contiguous) isLayout() {}

func (c Contiguous) String() string {
	return fmt.Sprintf("contiguous(x%d)", c.Replication)
}

// Striped is an erasure coded block group.
type Striped struct {
	Policy *erasure.Policy
}

func (Striped) isLayout() {}

func (s Striped) String() string {
	if s.Policy == nil {
		return "striped(<nil>)"
	}
	return "striped(" + s.Policy.Name + ")"
}

// Provisional returns the space reserved for a freshly allocated block
// group of the given layout.
func Provisional(l Layout, preferredBlockSize uint64) (uint64, error) {
	switch l := l.(type) {
	case Contiguous:
		return mulChecked("provisional size", preferredBlockSize, uint64(l.Replication))
	case Striped:
		return ProvisionalSize(l.Policy, preferredBlockSize)
	default:
		panic(fmt.Sprintf("blockgroup: unhandled layout %T", l))
	}
}

// Realized returns the space charged once the group holds numBytes
// logical bytes.
func Realized(l Layout, numBytes uint64) (uint64, error) {
	switch l := l.(type) {
	case Contiguous:
		return mulChecked("realized size", numBytes, uint64(l.Replication))
	case Striped:
		return RealizedSize(l.Policy, numBytes)
	default:
		panic(fmt.Sprintf("blockgroup: unhandled layout %T", l))
	}
}
