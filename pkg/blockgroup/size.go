// Package blockgroup computes the physical space charged for a block group
// and tracks the group through its allocation lifecycle.
//
// Two sizes exist for every group. The provisional size is reserved when the
// group is allocated and its final length is unknown: every internal block is
// assumed to fill the preferred block size. The realized size replaces it at
// completion, once the logical length is fixed. For a striped group the
// realized size is the logical length plus, for every parity unit, one full
// cell per complete stripe and the fullest cell of the trailing partial
// stripe.
package blockgroup

import (
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/marmos91/ecquota/pkg/erasure"
)

// ErrArithmeticOverflow is returned when a size does not fit the signed
// 64-bit accounting domain. It indicates a pathological configuration
// (absurd block size times group size) and is never clamped.
var ErrArithmeticOverflow = errors.New("block group size overflows accounting domain")

// ErrInvalidPolicy is returned for policies that fail basic invariants.
var ErrInvalidPolicy = errors.New("invalid erasure coding policy")

// OverflowError names the operands of an overflowing computation.
type OverflowError struct {
	Op      string
	Operand uint64
	Factor  uint64
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("%s: %d x %d: %v", e.Op, e.Operand, e.Factor, ErrArithmeticOverflow)
}

func (e *OverflowError) Unwrap() error {
	return ErrArithmeticOverflow
}

// mulChecked multiplies and fails if the product exceeds math.MaxInt64.
func mulChecked(op string, a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 || lo > math.MaxInt64 {
		return 0, &OverflowError{Op: op, Operand: a, Factor: b}
	}
	return lo, nil
}

func checkPolicy(p *erasure.Policy) error {
	if p == nil || p.DataUnits == 0 || p.CellSize == 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// ProvisionalSize returns the space reserved when a striped block group is
// allocated: reservedBlockBytes for every unit of the group.
func ProvisionalSize(p *erasure.Policy, reservedBlockBytes uint64) (uint64, error) {
	if err := checkPolicy(p); err != nil {
		return 0, err
	}
	return mulChecked("provisional size", reservedBlockBytes, p.GroupSize())
}

// RealizedSize returns the physical footprint of a striped block group
// holding logicalBytes bytes.
//
// Data units together hold exactly logicalBytes. Each parity unit holds one
// cell per full stripe plus the largest cell of the trailing stripe, and the
// first data cell of a stripe is always the largest, so that cell has
// min(remainder, cellSize) bytes.
func RealizedSize(p *erasure.Policy, logicalBytes uint64) (uint64, error) {
	if err := checkPolicy(p); err != nil {
		return 0, err
	}
	if logicalBytes == 0 {
		return 0, nil
	}
	if logicalBytes > math.MaxInt64 {
		return 0, &OverflowError{Op: "realized size", Operand: logicalBytes, Factor: 1}
	}

	stripeWidth, err := mulChecked("stripe width", p.CellSize, uint64(p.DataUnits))
	if err != nil {
		return 0, err
	}

	fullStripes := logicalBytes / stripeWidth
	remainder := logicalBytes % stripeWidth

	lastCellSize := remainder
	if lastCellSize > p.CellSize {
		lastCellSize = p.CellSize
	}

	// fullStripes*CellSize <= logicalBytes/DataUnits, no overflow possible.
	parityUnitBytes := fullStripes*p.CellSize + lastCellSize

	parityBytes, err := mulChecked("realized parity size", parityUnitBytes, uint64(p.ParityUnits))
	if err != nil {
		return 0, err
	}

	total, carry := bits.Add64(logicalBytes, parityBytes, 0)
	if carry != 0 || total > math.MaxInt64 {
		return 0, &OverflowError{Op: "realized size", Operand: logicalBytes, Factor: p.GroupSize()}
	}
	return total, nil
}
