package blockgroup

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a block group.
type State uint8

const (
	// StateAllocated means the provisional size is charged and the
	// logical length is unknown.
	StateAllocated State = iota

	// StateCompleted means the realized size is charged and the logical
	// length is fixed.
	StateCompleted

	// StateRemoved means the group no longer contributes to quota.
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateAllocated:
		return "allocated"
	case StateCompleted:
		return "completed"
	case StateRemoved:
		return "removed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

var (
	// ErrAlreadyCompleted is returned when completing a group twice.
	// The second completion is rejected so its delta can never be
	// charged twice.
	ErrAlreadyCompleted = errors.New("block group already completed")

	// ErrRemoved is returned for any transition out of StateRemoved.
	ErrRemoved = errors.New("block group removed")
)

// BlockGroup is one allocation unit of a file.
type BlockGroup struct {
	ID     uint64
	Layout Layout
	State  State

	// NumBytes is the logical length, fixed at completion.
	NumBytes uint64

	// Committed is the size currently charged to quota: the provisional
	// size while allocated, the realized size once completed, zero once
	// removed.
	Committed uint64
}

// New builds an allocated block group charged with its provisional size.
// The group is not yet attached to anything; the caller charges
// Committed to quota and only keeps the group if that succeeds.
func New(id uint64, layout Layout, preferredBlockSize uint64) (*BlockGroup, error) {
	size, err := Provisional(layout, preferredBlockSize)
	if err != nil {
		return nil, err
	}
	return &BlockGroup{
		ID:        id,
		Layout:    layout,
		State:     StateAllocated,
		Committed: size,
	}, nil
}

// Transition is a planned state change. Delta is the signed storage space
// change to push through the quota transaction; Commit applies the change
// to the group and must only be called after the delta was committed.
type Transition struct {
	group    *BlockGroup
	to       State
	numBytes uint64
	size     uint64

	Delta int64
}

// Size is the size the group will carry after Commit.
func (t *Transition) Size() uint64 {
	return t.size
}

// Commit applies the transition.
func (t *Transition) Commit() {
	t.group.State = t.to
	t.group.Committed = t.size
	if t.to == StateCompleted {
		t.group.NumBytes = t.numBytes
	}
}

// Complete plans the Allocated -> Completed transition.
func (b *BlockGroup) Complete(numBytes uint64) (*Transition, error) {
	switch b.State {
	case StateCompleted:
		return nil, fmt.Errorf("block group %d: %w", b.ID, ErrAlreadyCompleted)
	case StateRemoved:
		return nil, fmt.Errorf("block group %d: %w", b.ID, ErrRemoved)
	}

	realized, err := Realized(b.Layout, numBytes)
	if err != nil {
		return nil, err
	}

	return &Transition{
		group:    b,
		to:       StateCompleted,
		numBytes: numBytes,
		size:     realized,
		Delta:    int64(realized) - int64(b.Committed),
	}, nil
}

// Remove plans the transition to Removed from either other state.
func (b *BlockGroup) Remove() (*Transition, error) {
	if b.State == StateRemoved {
		return nil, fmt.Errorf("block group %d: %w", b.ID, ErrRemoved)
	}
	return &Transition{
		group: b,
		to:    StateRemoved,
		size:  0,
		Delta: -int64(b.Committed),
	}, nil
}
