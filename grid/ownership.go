package grid

import (
	"fmt"
	"slices"
)

// Unassigned marks an index whose owning worker is not yet known.
const Unassigned int32 = -1

// Ownership is the dense rank-per-index map replicated on every worker.
// After the bootstrap broadcast each worker holds an identical copy; later
// mutations are applied on every worker from the same descriptor stream, so
// the copies never diverge.
type Ownership struct {
	space *Space
	ranks []int32
}

// NewOwnership creates an ownership grid over the given index space with
// every entry Unassigned.
func NewOwnership(space *Space) *Ownership {
	ranks := make([]int32, space.Size())
	for i := range ranks {
		ranks[i] = Unassigned
	}
	return &Ownership{space: space, ranks: ranks}
}

// Space returns the index space the grid is laid over.
func (o *Ownership) Space() *Space { return o.space }

// Get returns the rank owning the given index.
func (o *Ownership) Get(idx []uint64) (int32, error) {
	id, err := o.space.ID(idx)
	if err != nil {
		return Unassigned, err
	}
	return o.ranks[id], nil
}

// Set records the rank owning the given index.
func (o *Ownership) Set(idx []uint64, rank int32) error {
	id, err := o.space.ID(idx)
	if err != nil {
		return err
	}
	o.ranks[id] = rank
	return nil
}

// At returns the rank at the given linear id without range checking the
// tuple form. The id must come from the same space.
func (o *Ownership) At(id uint64) int32 { return o.ranks[id] }

// Serialize returns the flat rank sequence in linear-id order (the first
// dimension varies fastest). Serialize and Deserialize are inverses.
func (o *Ownership) Serialize() []int32 {
	return slices.Clone(o.ranks)
}

// Deserialize restores the grid from a flat rank sequence produced by
// Serialize on a grid over an identical space.
func (o *Ownership) Deserialize(flat []int32) error {
	if uint64(len(flat)) != o.space.Size() {
		return fmt.Errorf("ownership grid size mismatch: got %d ranks, space holds %d", len(flat), o.space.Size())
	}
	copy(o.ranks, flat)
	return nil
}

// Equal reports whether two grids hold identical rank assignments.
func (o *Ownership) Equal(other *Ownership) bool {
	return slices.Equal(o.ranks, other.ranks)
}

// Clone returns a deep copy sharing the (immutable) space.
func (o *Ownership) Clone() *Ownership {
	return &Ownership{space: o.space, ranks: slices.Clone(o.ranks)}
}
