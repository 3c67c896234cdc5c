// Package erasure holds the erasure coding policy catalog.
//
// A policy describes how a striped file is laid out: the file is cut into
// fixed-size cells which are distributed round-robin over DataUnits data
// blocks, and ParityUnits parity blocks are computed for every stripe. The
// catalog is pure data; encoding and reconstruction live elsewhere.
package erasure

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/klauspost/reedsolomon"
)

// Codec names understood by the catalog.
const (
	CodecRS       = "rs"
	CodecRSLegacy = "rs-legacy"
	CodecXOR      = "xor"
)

// Policy is an immutable erasure coding policy. Policies are shared by
// pointer and must not be modified after registration.
type Policy struct {
	// ID is the catalog identifier stored on files.
	ID uint8 `json:"id"`

	// Name is the human readable identifier, e.g. "RS-6-3-1024k".
	Name string `json:"name"`

	// Codec is the erasure codec family (rs, rs-legacy, xor).
	Codec string `json:"codec"`

	// DataUnits is the number of data blocks in a block group.
	DataUnits uint32 `json:"data_units"`

	// ParityUnits is the number of parity blocks in a block group.
	ParityUnits uint32 `json:"parity_units"`

	// CellSize is the stripe cell size in bytes.
	CellSize uint64 `json:"cell_size"`
}

// GroupSize returns the number of internal blocks in a block group. It is
// computed in 64 bits so that no unit count can wrap it.
func (p *Policy) GroupSize() uint64 {
	return uint64(p.DataUnits) + uint64(p.ParityUnits)
}

// StripeWidth returns the number of logical bytes in one full stripe.
// The caller is expected to have validated the policy first.
func (p *Policy) StripeWidth() uint64 {
	return p.CellSize * uint64(p.DataUnits)
}

func (p *Policy) String() string {
	return p.Name
}

// Validate checks the policy invariants: at least one data unit, a positive
// cell size, a stripe width that fits in 64 bits, and parameters the codec
// can actually build.
func (p *Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("erasure coding policy %d: name is required", p.ID)
	}
	if p.DataUnits < 1 {
		return fmt.Errorf("erasure coding policy %s: data units must be >= 1", p.Name)
	}
	if p.CellSize == 0 {
		return fmt.Errorf("erasure coding policy %s: cell size must be > 0", p.Name)
	}
	if p.CellSize > math.MaxUint64/uint64(p.DataUnits) {
		return fmt.Errorf("erasure coding policy %s: stripe width overflows", p.Name)
	}

	switch p.Codec {
	case CodecRS, CodecRSLegacy:
		if p.ParityUnits > 0 {
			if _, err := reedsolomon.New(int(p.DataUnits), int(p.ParityUnits)); err != nil {
				return fmt.Errorf("erasure coding policy %s: %w", p.Name, err)
			}
		}
	case CodecXOR:
		if p.ParityUnits > 1 {
			return fmt.Errorf("erasure coding policy %s: xor supports at most one parity unit", p.Name)
		}
	default:
		return fmt.Errorf("erasure coding policy %s: unknown codec %q", p.Name, p.Codec)
	}

	return nil
}

// PolicyName builds the canonical policy name, e.g. PolicyName("rs", 6, 3, 1<<20)
// returns "RS-6-3-1024k".
func PolicyName(codec string, data, parity uint32, cellSize uint64) string {
	prefix := strings.ToUpper(codec)
	if codec == CodecRSLegacy {
		prefix = "RS-LEGACY"
	}
	return fmt.Sprintf("%s-%d-%d-%dk", prefix, data, parity, cellSize/1024)
}

// ErrUnknownPolicy is matched by every *UnknownPolicyError.
var ErrUnknownPolicy = errors.New("unknown erasure coding policy")

// UnknownPolicyError is returned when a policy is not in the catalog.
type UnknownPolicyError struct {
	ID   uint8
	Name string
}

func (e *UnknownPolicyError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("unknown erasure coding policy %q", e.Name)
	}
	return fmt.Sprintf("unknown erasure coding policy id %d", e.ID)
}

// Is makes errors.Is(err, ErrUnknownPolicy) work.
func (e *UnknownPolicyError) Is(target error) bool {
	return target == ErrUnknownPolicy
}
