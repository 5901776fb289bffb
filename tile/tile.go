/*
Package tile defines the per-tile record of the coarse decomposition: the
wire-portable communication descriptor, the geometry snapshot, and the
opaque simulation payload.

The payload is a capability interface. The core posts its send and receive
hooks per destination and tag and never inspects the bytes; simulations
compose their state into a value implementing Payload.
*/
package tile

import (
	"context"
	"slices"

	"github.com/tesserasim/tessera-core/network"
	"github.com/tesserasim/tessera-core/network/protocol/tilemeta"
)

type (
	// Payload carries the simulation state of one tile. Both hooks return
	// the pending request handles they posted; the exchange engine tracks
	// and waits them per tag.
	Payload interface {
		SendPayload(ctx context.Context, tr network.Transport, dest, tag int) ([]*network.Request, error)
		RecvPayload(ctx context.Context, tr network.Transport, source, tag int) ([]*network.Request, error)
	}

	// Tile is one cell of the coarse decomposition. The registry owns
	// every tile exclusively; references obtained from lookups are
	// short-lived views.
	Tile struct {
		// Comm is the communication descriptor, kept current by the
		// registry and the boundary analyzer.
		Comm tilemeta.Descriptor
		// Lengths is the global grid extent snapshot.
		Lengths []uint64
		// Mins and Maxs record the tile's physical bounding box.
		Mins []float64
		Maxs []float64
		// Payload is the opaque simulation state, nil for bare mirrors.
		Payload Payload
	}
)

// New creates a tile wrapping the given payload. Metadata is stamped when
// the tile is added to a registry.
func New(p Payload) *Tile {
	return &Tile{Payload: p}
}

// Index returns the tile's index tuple.
func (t *Tile) Index() []uint64 { return t.Comm.Indices }

// CID returns the tile id.
func (t *Tile) CID() uint64 { return t.Comm.CID }

// LoadMetainfo replaces the communication descriptor and refreshes the
// geometry snapshots carried with it.
func (t *Tile) LoadMetainfo(d tilemeta.Descriptor) {
	t.Comm = d.Clone()
	t.Lengths = slices.Clone(d.Lengths)
	t.Mins = slices.Clone(d.Mins)
	t.Maxs = slices.Clone(d.Maxs)
}

// SetBounds records the tile's physical bounding box.
func (t *Tile) SetBounds(mins, maxs []float64) {
	t.Mins = slices.Clone(mins)
	t.Maxs = slices.Clone(maxs)
	t.Comm.Mins = slices.Clone(mins)
	t.Comm.Maxs = slices.Clone(maxs)
}

// IsType reports whether the tile carries the given classification tag.
func (t *Tile) IsType(criteria int32) bool {
	return slices.Contains(t.Comm.Types, criteria)
}

// IsTypes reports whether the tile carries every given tag.
func (t *Tile) IsTypes(criteria []int32) bool {
	for _, c := range criteria {
		if !t.IsType(c) {
			return false
		}
	}
	return true
}

// SendPayload posts the payload's send hook towards dest. Tiles without a
// payload send nothing.
func (t *Tile) SendPayload(ctx context.Context, tr network.Transport, dest, tag int) ([]*network.Request, error) {
	if t.Payload == nil {
		return nil, nil
	}
	return t.Payload.SendPayload(ctx, tr, dest, tag)
}

// RecvPayload posts the payload's receive hook from source. Tiles without
// a payload receive nothing.
func (t *Tile) RecvPayload(ctx context.Context, tr network.Transport, source, tag int) ([]*network.Request, error) {
	if t.Payload == nil {
		return nil, nil
	}
	return t.Payload.RecvPayload(ctx, tr, source, tag)
}
