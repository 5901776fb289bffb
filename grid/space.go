/*
Package grid implements the D-dimensional coordinate space of the coarse
decomposition and the replicated ownership grid laid over it.

Tile identifiers are linear ids in column-major order, so every worker
derives the same id for the same index tuple and ids can travel in
messages as-is. The default topology is periodic in every dimension.
*/
package grid

import (
	"errors"
	"fmt"
)

var ErrOutOfRange = errors.New("index out of range")

type (
	// Space is an immutable D-dimensional index space. The zero value is
	// not usable; construct with NewSpace.
	Space struct {
		lengths []uint64
		// column-major id coefficients: coeffs[k] = prod(lengths[:k])
		coeffs []uint64
	}
)

// NewSpace creates an index space with the given per-dimension lengths.
func NewSpace(lengths ...uint64) (*Space, error) {
	if len(lengths) == 0 {
		return nil, errors.New("at least one dimension length is required")
	}
	s := &Space{
		lengths: make([]uint64, len(lengths)),
		coeffs:  make([]uint64, len(lengths)),
	}
	c := uint64(1)
	for k, l := range lengths {
		if l == 0 {
			return nil, fmt.Errorf("dimension %d: length must be positive", k)
		}
		s.lengths[k] = l
		s.coeffs[k] = c
		c *= l
	}
	return s, nil
}

// Dims returns the number of dimensions.
func (s *Space) Dims() int { return len(s.lengths) }

// Len returns the length of dimension k.
func (s *Space) Len(k int) uint64 { return s.lengths[k] }

// Lens returns a copy of the per-dimension lengths.
func (s *Space) Lens() []uint64 {
	out := make([]uint64, len(s.lengths))
	copy(out, s.lengths)
	return out
}

// Size returns the total number of indices, i.e. the product of all lengths.
func (s *Space) Size() uint64 {
	n := uint64(1)
	for _, l := range s.lengths {
		n *= l
	}
	return n
}

func (s *Space) validate(idx []uint64) error {
	if len(idx) != len(s.lengths) {
		return fmt.Errorf("%w: got %d indices for %d dimensions", ErrOutOfRange, len(idx), len(s.lengths))
	}
	for k, i := range idx {
		if i >= s.lengths[k] {
			return fmt.Errorf("%w: index #%d [== %d] is outside [0, %d]", ErrOutOfRange, k, i, s.lengths[k]-1)
		}
	}
	return nil
}

// ID maps an index tuple to its linear tile id. The encoding is
// column-major: id = sum(coeffs[k]*idx[k]) with coeffs[k] = prod(lengths[:k]).
func (s *Space) ID(idx []uint64) (uint64, error) {
	if err := s.validate(idx); err != nil {
		return 0, err
	}
	var id uint64
	for k, i := range idx {
		id += s.coeffs[k] * i
	}
	return id, nil
}

// Decode is the inverse of ID.
func (s *Space) Decode(id uint64) []uint64 {
	idx := make([]uint64, len(s.lengths))
	for k, l := range s.lengths {
		idx[k] = id % l
		id /= l
	}
	return idx
}

// Wrap maps any signed coordinate into [0, lengths[dim]) with the periodic
// boundary condition. Equivalent to the Euclidean modulo.
func (s *Space) Wrap(i int64, dim int) uint64 {
	l := int64(s.lengths[dim])
	i %= l
	if i < 0 {
		i += l
	}
	return uint64(i)
}

// Neighbor returns the index offset from idx by the given relative offsets,
// wrapped in every dimension. offsets must have one entry per dimension.
func (s *Space) Neighbor(idx []uint64, offsets []int64) []uint64 {
	out := make([]uint64, len(idx))
	for k := range idx {
		out[k] = s.Wrap(int64(idx[k])+offsets[k], k)
	}
	return out
}

// Neighborhood returns the full 3^D-1 neighborhood around idx, i.e. the
// wrapped neighbor for every offset tuple in {-1,0,1}^D except all-zero.
// The offsets are enumerated in lexicographic order with the first
// dimension most significant; the order is stable.
func (s *Space) Neighborhood(idx []uint64) [][]uint64 {
	d := len(s.lengths)
	total := 1
	for i := 0; i < d; i++ {
		total *= 3
	}
	out := make([][]uint64, 0, total-1)
	offsets := make([]int64, d)
	for i := range offsets {
		offsets[i] = -1
	}
	for {
		zero := true
		for _, o := range offsets {
			if o != 0 {
				zero = false
				break
			}
		}
		if !zero {
			out = append(out, s.Neighbor(idx, offsets))
		}
		// advance, last dimension fastest
		k := d - 1
		for ; k >= 0; k-- {
			if offsets[k] < 1 {
				offsets[k]++
				break
			}
			offsets[k] = -1
		}
		if k < 0 {
			return out
		}
	}
}
