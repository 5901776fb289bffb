package partition

import (
	"fmt"
	"slices"

	"github.com/tesserasim/tessera-core/network/protocol/tilemeta"
	"github.com/tesserasim/tessera-core/tile"
)

// AddTile registers a tile the worker owns at the given index, replacing
// any previous entry there. The tile is stamped with its id, index, owner
// and grid snapshot, and the ownership grid entry is claimed.
func (n *Node) AddTile(t *tile.Tile, idx []uint64) error {
	cid, err := n.space.ID(idx)
	if err != nil {
		return fmt.Errorf("adding tile: %w", err)
	}
	dims := n.Dims()
	t.Comm.CID = cid
	t.Comm.Owner = int32(n.Rank()) /* #nosec G115 group sizes are small */
	t.Comm.Local = true
	t.Comm.Indices = slices.Clone(idx)
	t.Comm.Lengths = n.space.Lens()
	t.Lengths = n.space.Lens()
	if len(t.Mins) != dims || len(t.Maxs) != dims {
		mins := make([]float64, dims)
		maxs := make([]float64, dims)
		for k := range maxs {
			maxs[k] = 1
		}
		t.Mins, t.Maxs = mins, maxs
	}
	t.Comm.Mins = slices.Clone(t.Mins)
	t.Comm.Maxs = slices.Clone(t.Maxs)

	n.tiles[cid] = t
	if err := n.ownership.Set(idx, t.Comm.Owner); err != nil {
		return fmt.Errorf("claiming ownership of tile %d: %w", cid, err)
	}
	return nil
}

// CreateTile builds a fresh virtual mirror from a received descriptor and
// registers it. Used by the exchange when a descriptor arrives for an id
// the registry has never seen.
func (n *Node) CreateTile(d tilemeta.Descriptor) (*tile.Tile, error) {
	d.Local = false
	t := n.conf.tileFactory(d)
	t.LoadMetainfo(d)
	t.Lengths = n.space.Lens()
	n.tiles[d.CID] = t
	if err := n.ownership.Set(d.Indices, d.Owner); err != nil {
		return nil, fmt.Errorf("creating tile %d: %w", d.CID, err)
	}
	return t, nil
}

// UpdateTile overwrites the communication descriptor of an already
// registered tile from a received descriptor.
func (n *Node) UpdateTile(d tilemeta.Descriptor) error {
	t, ok := n.tiles[d.CID]
	if !ok {
		return fmt.Errorf("%w: no tile with id %d", ErrUnknownTile, d.CID)
	}
	t.LoadMetainfo(d)
	if err := n.ownership.Set(t.Index(), d.Owner); err != nil {
		return fmt.Errorf("updating tile %d: %w", d.CID, err)
	}
	return nil
}

// Tile returns the tile with the given id. The registry keeps ownership;
// the reference is a short-lived view.
func (n *Node) Tile(cid uint64) (*tile.Tile, error) {
	t, ok := n.tiles[cid]
	if !ok {
		return nil, fmt.Errorf("%w: no tile with id %d", ErrUnknownTile, cid)
	}
	return t, nil
}

// TilePtr returns the tile with the given id, or nil if absent.
func (n *Node) TilePtr(cid uint64) *tile.Tile {
	return n.tiles[cid]
}

// TileAt returns the tile at the given index tuple.
func (n *Node) TileAt(idx []uint64) (*tile.Tile, error) {
	cid, err := n.space.ID(idx)
	if err != nil {
		return nil, err
	}
	return n.Tile(cid)
}

func (n *Node) tileIDs(sorted bool, keep func(*tile.Tile) bool) []uint64 {
	ids := make([]uint64, 0, len(n.tiles))
	for cid, t := range n.tiles {
		if keep == nil || keep(t) {
			ids = append(ids, cid)
		}
	}
	if sorted {
		slices.Sort(ids)
	}
	return ids
}

// TileIDs returns every registered tile id, ascending when sorted.
func (n *Node) TileIDs(sorted bool) []uint64 {
	return n.tileIDs(sorted, nil)
}

// LocalIDs returns the ids of tiles this worker owns.
func (n *Node) LocalIDs(sorted bool) []uint64 {
	return n.tileIDs(sorted, func(t *tile.Tile) bool { return t.Comm.Local })
}

// VirtualIDs returns the ids of mirror tiles owned elsewhere.
func (n *Node) VirtualIDs(sorted bool) []uint64 {
	return n.tileIDs(sorted, func(t *tile.Tile) bool { return !t.Comm.Local })
}

// BoundaryIDs returns the ids of local tiles with at least one foreign
// neighbor; these are the candidates for outbound replication.
func (n *Node) BoundaryIDs(sorted bool) []uint64 {
	self := int32(n.Rank()) /* #nosec G115 group sizes are small */
	return n.tileIDs(sorted, func(t *tile.Tile) bool {
		return t.Comm.Local && t.Comm.VirtualNeighbors > 0 && t.Comm.Owner == self
	})
}

// IsLocal reports whether the id is registered and owned by this worker.
func (n *Node) IsLocal(cid uint64) bool {
	t, ok := n.tiles[cid]
	return ok && t.Comm.Local
}
