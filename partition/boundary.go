package partition

import (
	"fmt"
	"slices"

	"github.com/tesserasim/tessera-core/partition/event"
)

// VirtualNeighborhood returns the owning rank of every neighbor of the
// given tile that this worker does not hold locally, in neighborhood
// enumeration order.
func (n *Node) VirtualNeighborhood(cid uint64) ([]int32, error) {
	t, err := n.Tile(cid)
	if err != nil {
		return nil, err
	}
	var owners []int32
	for _, idx := range n.space.Neighborhood(t.Index()) {
		id, err := n.space.ID(idx)
		if err != nil {
			return nil, fmt.Errorf("neighbor of tile %d: %w", cid, err)
		}
		if !n.IsLocal(id) {
			owners = append(owners, n.ownership.At(id))
		}
	}
	return owners, nil
}

// AnalyzeBoundaries classifies every local tile as interior or boundary
// and fills its communication descriptor: the count of foreign neighbors,
// the sorted unique recipient ranks, and the plurality owner among the
// foreign neighbors (smallest rank on ties). Boundary tiles are queued for
// the next metadata exchange, once per id.
//
// The classification depends only on the replicated ownership grid and the
// fixed neighborhood order, so every worker derives the same recipient
// lists and the same plurality owner without coordination.
func (n *Node) AnalyzeBoundaries() error {
	boundary := 0
	for _, cid := range n.LocalIDs(true) {
		owners, err := n.VirtualNeighborhood(cid)
		if err != nil {
			return fmt.Errorf("analyzing boundaries: %w", err)
		}
		t := n.tiles[cid]
		if len(owners) == 0 {
			// purely interior
			t.Comm.VirtualNeighbors = 0
			t.Comm.Communications = 0
			t.Comm.VirtualOwners = nil
			t.Comm.TopVirtualOwner = t.Comm.Owner
			continue
		}
		boundary++

		slices.Sort(owners)
		top := pluralityOwner(owners)
		unique := slices.Clone(slices.Compact(owners))

		t.Comm.TopVirtualOwner = top
		t.Comm.VirtualNeighbors = uint64(len(owners))
		t.Comm.VirtualOwners = unique
		t.Comm.Communications = uint64(len(unique))

		if pos, ok := n.queued[cid]; ok {
			n.sendQueue[pos].Recipients = slices.Clone(unique)
		} else {
			n.queued[cid] = len(n.sendQueue)
			n.sendQueue = append(n.sendQueue, SendEntry{CID: cid, Recipients: slices.Clone(unique)})
		}
	}
	n.log.Debug(fmt.Sprintf("analyzed boundaries: %d boundary tiles, %d queued", boundary, len(n.sendQueue)))
	n.sendEvent(event.BoundariesAnalyzed, boundary)
	return nil
}

// pluralityOwner returns the most frequent rank in a sorted list; on equal
// counts the smaller rank wins because it is seen first.
func pluralityOwner(sorted []int32) int32 {
	top := sorted[0]
	best, run := 0, 0
	for i, r := range sorted {
		if i > 0 && r == sorted[i-1] {
			run++
		} else {
			run = 1
		}
		if run > best {
			best = run
			top = r
		}
	}
	return top
}

// SendQueue returns a copy of the queued (cid, recipients) pairs.
func (n *Node) SendQueue() []SendEntry {
	out := make([]SendEntry, len(n.sendQueue))
	for i, e := range n.sendQueue {
		out[i] = SendEntry{CID: e.CID, Recipients: slices.Clone(e.Recipients)}
	}
	return out
}

// ClearSendQueue empties the send queue. Issue only after the queued
// tiles have been shipped, or before a fresh analyze when the topology
// changed.
func (n *Node) ClearSendQueue() {
	n.sendQueue = n.sendQueue[:0]
	clear(n.queued)
}
