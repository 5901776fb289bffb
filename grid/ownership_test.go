package grid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOwnership_SetGet(t *testing.T) {
	s, err := NewSpace(3, 3)
	require.NoError(t, err)
	o := NewOwnership(s)

	r, err := o.Get([]uint64{1, 1})
	require.NoError(t, err)
	require.Equal(t, Unassigned, r)

	require.NoError(t, o.Set([]uint64{1, 1}, 2))
	r, err = o.Get([]uint64{1, 1})
	require.NoError(t, err)
	require.Equal(t, int32(2), r)

	id, err := s.ID([]uint64{1, 1})
	require.NoError(t, err)
	require.Equal(t, int32(2), o.At(id))

	require.ErrorIs(t, o.Set([]uint64{3, 0}, 1), ErrOutOfRange)
	_, err = o.Get([]uint64{0, 3})
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestOwnership_SerializeRoundTrip(t *testing.T) {
	s, err := NewSpace(2, 3)
	require.NoError(t, err)
	o := NewOwnership(s)
	for i := uint64(0); i < 2; i++ {
		for j := uint64(0); j < 3; j++ {
			require.NoError(t, o.Set([]uint64{i, j}, int32(i+10*j)))
		}
	}

	flat := o.Serialize()
	require.Len(t, flat, 6)
	// linear-id order: first dimension varies fastest
	require.Equal(t, []int32{0, 1, 10, 11, 20, 21}, flat)

	restored := NewOwnership(s)
	require.NoError(t, restored.Deserialize(flat))
	require.True(t, o.Equal(restored))
	require.Equal(t, o.Serialize(), restored.Serialize())
}

func TestOwnership_DeserializeSizeMismatch(t *testing.T) {
	s, err := NewSpace(2, 2)
	require.NoError(t, err)
	o := NewOwnership(s)
	require.Error(t, o.Deserialize([]int32{1, 2, 3}))
}

func TestOwnership_Clone(t *testing.T) {
	s, err := NewSpace(2, 2)
	require.NoError(t, err)
	o := NewOwnership(s)
	require.NoError(t, o.Set([]uint64{0, 0}, 7))

	c := o.Clone()
	require.True(t, o.Equal(c))
	require.NoError(t, c.Set([]uint64{0, 0}, 8))
	require.False(t, o.Equal(c))
}
