package partition

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tesserasim/tessera-core/grid"
	testobserve "github.com/tesserasim/tessera-core/internal/testutils/observability"
	"github.com/tesserasim/tessera-core/network"
	"github.com/tesserasim/tessera-core/network/protocol/tilemeta"
	"github.com/tesserasim/tessera-core/tile"
)

func newTestNode(t *testing.T, g *network.Group, rank int, lengths []uint64, opts ...NodeOption) *Node {
	t.Helper()
	tr, err := g.Transport(rank)
	require.NoError(t, err)
	space, err := grid.NewSpace(lengths...)
	require.NoError(t, err)
	conf, err := NewNodeConf(space, tr, testobserve.Default(t), opts...)
	require.NoError(t, err)
	n, err := NewNode(conf)
	require.NoError(t, err)
	return n
}

func testDescriptor(owner int32, cid uint64, idx, lengths []uint64) tilemeta.Descriptor {
	dims := len(idx)
	mins := make([]float64, dims)
	maxs := make([]float64, dims)
	for k := range maxs {
		maxs[k] = 1
	}
	return tilemeta.Descriptor{
		Owner:   owner,
		CID:     cid,
		Indices: idx,
		Mins:    mins,
		Maxs:    maxs,
		Lengths: lengths,
	}
}

func TestNode_AddTileStampsMetadata(t *testing.T) {
	g, err := network.NewGroup(1)
	require.NoError(t, err)
	n := newTestNode(t, g, 0, []uint64{3, 4})

	tl := tile.New(nil)
	require.NoError(t, n.AddTile(tl, []uint64{2, 3}))

	require.Equal(t, uint64(11), tl.Comm.CID)
	require.Equal(t, int32(0), tl.Comm.Owner)
	require.True(t, tl.Comm.Local)
	require.Equal(t, []uint64{2, 3}, tl.Comm.Indices)
	require.Equal(t, []uint64{3, 4}, tl.Comm.Lengths)
	require.Equal(t, []uint64{3, 4}, tl.Lengths)
	require.Equal(t, []float64{0, 0}, tl.Mins)
	require.Equal(t, []float64{1, 1}, tl.Maxs)

	rank, err := n.Ownership([]uint64{2, 3})
	require.NoError(t, err)
	require.Equal(t, int32(0), rank)

	got, err := n.Tile(11)
	require.NoError(t, err)
	require.Same(t, tl, got)

	// adding again at the same index replaces the record
	other := tile.New(nil)
	require.NoError(t, n.AddTile(other, []uint64{2, 3}))
	got, err = n.Tile(11)
	require.NoError(t, err)
	require.Same(t, other, got)

	require.ErrorIs(t, n.AddTile(tile.New(nil), []uint64{3, 0}), grid.ErrOutOfRange)
}

func TestNode_CreateTile(t *testing.T) {
	g, err := network.NewGroup(2)
	require.NoError(t, err)
	n := newTestNode(t, g, 0, []uint64{4})

	d := testDescriptor(1, 2, []uint64{2}, []uint64{4})
	d.Local = true // received tiles become virtual regardless
	created, err := n.CreateTile(d)
	require.NoError(t, err)
	require.False(t, created.Comm.Local)
	require.Equal(t, uint64(2), created.Comm.CID)
	require.False(t, n.IsLocal(2))

	rank, err := n.Ownership([]uint64{2})
	require.NoError(t, err)
	require.Equal(t, int32(1), rank)
}

func TestNode_UpdateTile(t *testing.T) {
	g, err := network.NewGroup(3)
	require.NoError(t, err)
	n := newTestNode(t, g, 0, []uint64{4})

	require.ErrorIs(t, n.UpdateTile(testDescriptor(1, 2, []uint64{2}, []uint64{4})), ErrUnknownTile)

	_, err = n.CreateTile(testDescriptor(1, 2, []uint64{2}, []uint64{4}))
	require.NoError(t, err)

	upd := testDescriptor(2, 2, []uint64{2}, []uint64{4})
	upd.Types = []int32{7}
	require.NoError(t, n.UpdateTile(upd))

	got, err := n.Tile(2)
	require.NoError(t, err)
	require.Equal(t, int32(2), got.Comm.Owner)
	require.False(t, got.Comm.Local)
	require.True(t, got.IsType(7))

	rank, err := n.Ownership([]uint64{2})
	require.NoError(t, err)
	require.Equal(t, int32(2), rank)
}

func TestNode_Queries(t *testing.T) {
	g, err := network.NewGroup(2)
	require.NoError(t, err)
	n := newTestNode(t, g, 0, []uint64{4})

	require.NoError(t, n.AddTile(tile.New(nil), []uint64{1}))
	require.NoError(t, n.AddTile(tile.New(nil), []uint64{0}))
	_, err = n.CreateTile(testDescriptor(1, 3, []uint64{3}, []uint64{4}))
	require.NoError(t, err)

	require.Equal(t, []uint64{0, 1, 3}, n.TileIDs(true))
	require.Equal(t, []uint64{0, 1}, n.LocalIDs(true))
	require.Equal(t, []uint64{3}, n.VirtualIDs(true))
	require.Empty(t, n.BoundaryIDs(true)) // nothing analyzed yet

	require.True(t, n.IsLocal(0))
	require.False(t, n.IsLocal(3))
	require.False(t, n.IsLocal(2))

	require.Nil(t, n.TilePtr(2))
	_, err = n.Tile(2)
	require.ErrorIs(t, err, ErrUnknownTile)

	got, err := n.TileAt([]uint64{1})
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Comm.CID)
	_, err = n.TileAt([]uint64{4})
	require.ErrorIs(t, err, grid.ErrOutOfRange)
}

func TestNode_SetBounds(t *testing.T) {
	g, err := network.NewGroup(1)
	require.NoError(t, err)
	n := newTestNode(t, g, 0, []uint64{2, 2})

	require.ErrorIs(t, n.SetBounds([]float64{0}, []float64{1, 1}), ErrInvariant)
	require.NoError(t, n.SetBounds([]float64{0, -1}, []float64{2, 3}))
	require.Equal(t, []float64{0, -1}, n.Mins())
	require.Equal(t, 3.0, n.Max(1))
}
