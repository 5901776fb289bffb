package partition

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tesserasim/tessera-core/logger"
	"github.com/tesserasim/tessera-core/network"
	"github.com/tesserasim/tessera-core/network/protocol/tilemeta"
	"github.com/tesserasim/tessera-core/partition/event"
)

// BcastOwnership distributes rank 0's ownership grid to every worker.
// Call after rank 0 has registered the initial distribution and before
// anyone analyzes boundaries; afterwards the grid is identical everywhere.
func (n *Node) BcastOwnership(ctx context.Context) error {
	ctx, span := n.tracer.Start(ctx, "node.BcastOwnership")
	defer span.End()
	defer n.timeOp(ctx, "bcast_ownership")()

	var data []byte
	if n.Rank() == 0 {
		data = encodeRanks(n.ownership.Serialize())
	}
	out, err := n.tr.Bcast(ctx, 0, data)
	if err != nil {
		return fmt.Errorf("broadcasting ownership grid: %w", err)
	}
	if n.Rank() != 0 {
		ranks, err := decodeRanks(out)
		if err != nil {
			return fmt.Errorf("decoding ownership broadcast: %w", err)
		}
		if err := n.ownership.Deserialize(ranks); err != nil {
			return fmt.Errorf("restoring ownership grid: %w", err)
		}
	}
	n.log.DebugContext(ctx, "ownership grid synchronized")
	n.sendEvent(event.OwnershipBroadcast, nil)
	return nil
}

// SendTiles runs the sending half of the metadata exchange: announce to
// every other worker how many descriptors it should expect, then ship one
// descriptor per (queued tile, recipient). All posted sends are completed
// before the call returns; no half-open state is exported.
func (n *Node) SendTiles(ctx context.Context) error {
	ctx, span := n.tracer.Start(ctx, "node.SendTiles")
	defer span.End()
	defer n.timeOp(ctx, "send_tiles")()
	round := uuid.New()

	reqs := make([]*network.Request, 0, n.Size()+len(n.sendQueue))
	for dest := 0; dest < n.Size(); dest++ {
		if dest == n.Rank() {
			continue
		}
		count := int32(0)
		for _, e := range n.sendQueue {
			if slices.Contains(e.Recipients, int32(dest)) { /* #nosec G115 group sizes are small */
				count++
			}
		}
		req, err := n.tr.Isend(ctx, dest, network.TagNTiles, tilemeta.EncodeCount(count))
		if err != nil {
			return fmt.Errorf("announcing %d tiles to rank %d: %w", count, dest, err)
		}
		reqs = append(reqs, req)
	}

	sent := 0
	for _, e := range n.sendQueue {
		t, err := n.Tile(e.CID)
		if err != nil {
			return fmt.Errorf("shipping queued tile: %w", err)
		}
		data, err := t.Comm.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encoding descriptor of tile %d: %w", e.CID, err)
		}
		for _, dest := range e.Recipients {
			req, err := n.tr.Isend(ctx, int(dest), network.TagTileData, data)
			if err != nil {
				return fmt.Errorf("sending tile %d to rank %d: %w", e.CID, dest, err)
			}
			reqs = append(reqs, req)
			sent++
		}
	}

	if err := network.WaitAll(ctx, reqs); err != nil {
		return fmt.Errorf("completing tile sends: %w", err)
	}
	n.tilesSent.Add(ctx, int64(sent))
	n.log.DebugContext(ctx, fmt.Sprintf("sent %d tile descriptors", sent), logger.Round(round))
	n.sendEvent(event.TilesSent, sent)
	return nil
}

// RecvTiles runs the receiving half of the metadata exchange: for every
// other worker take the announced count, then that many descriptors.
// Received tiles are virtual by definition; unseen ids are created through
// the tile factory, known ids are updated in place. A descriptor claiming
// this worker owns a tile the registry has never seen means the replicated
// state has diverged.
func (n *Node) RecvTiles(ctx context.Context) error {
	ctx, span := n.tracer.Start(ctx, "node.RecvTiles")
	defer span.End()
	defer n.timeOp(ctx, "recv_tiles")()

	received := 0
	for source := 0; source < n.Size(); source++ {
		if source == n.Rank() {
			continue
		}
		req, err := n.tr.Irecv(ctx, source, network.TagNTiles)
		if err != nil {
			return fmt.Errorf("posting count receive from rank %d: %w", source, err)
		}
		data, err := req.Wait(ctx)
		if err != nil {
			return fmt.Errorf("receiving tile count from rank %d: %w", source, err)
		}
		count, err := tilemeta.DecodeCount(data)
		if err != nil {
			return fmt.Errorf("tile count from rank %d: %w", source, err)
		}
		n.log.Log(ctx, logger.LevelTrace, fmt.Sprintf("expecting %d tiles from rank %d", count, source))

		for i := int32(0); i < count; i++ {
			req, err := n.tr.Irecv(ctx, source, network.TagTileData)
			if err != nil {
				return fmt.Errorf("posting descriptor receive from rank %d: %w", source, err)
			}
			data, err := req.Wait(ctx)
			if err != nil {
				return fmt.Errorf("receiving descriptor %d/%d from rank %d: %w", i+1, count, source, err)
			}
			var d tilemeta.Descriptor
			if err := d.UnmarshalBinary(data); err != nil {
				return fmt.Errorf("decoding descriptor %d/%d from rank %d: %w", i+1, count, source, err)
			}
			if err := n.acceptDescriptor(d); err != nil {
				return fmt.Errorf("descriptor for tile %d from rank %d: %w", d.CID, source, err)
			}
			received++
		}
	}
	n.tilesRecv.Add(ctx, int64(received))
	n.log.DebugContext(ctx, fmt.Sprintf("received %d tile descriptors", received))
	n.sendEvent(event.TilesReceived, received)
	return nil
}

func (n *Node) acceptDescriptor(d tilemeta.Descriptor) error {
	if err := d.IsValid(); err != nil {
		return fmt.Errorf("invalid descriptor: %w", err)
	}
	if len(d.Indices) != n.Dims() {
		return fmt.Errorf("%w: descriptor spans %d dimensions, grid has %d", ErrInconsistentTopology, len(d.Indices), n.Dims())
	}
	d.Local = false
	if _, ok := n.tiles[d.CID]; ok {
		return n.UpdateTile(d)
	}
	if int(d.Owner) == n.Rank() {
		return fmt.Errorf("%w: received claim of self-ownership for unregistered tile %d", ErrInconsistentTopology, d.CID)
	}
	_, err := n.CreateTile(d)
	return err
}

// SendPayload posts the payload send hooks of every boundary tile towards
// each of its recipients on the given user tag. The posted handles stay
// tracked per tag until waited on or dropped.
func (n *Node) SendPayload(ctx context.Context, tag int) error {
	if err := n.checkUserTag(tag); err != nil {
		return err
	}
	if network.AnyPending(n.sentData[tag]) {
		return fmt.Errorf("%w: payload sends on tag %d still outstanding", ErrPendingRequests, tag)
	}
	var batch []*network.Request
	for _, cid := range n.BoundaryIDs(true) {
		t := n.tiles[cid]
		for _, dest := range t.Comm.VirtualOwners {
			reqs, err := t.SendPayload(ctx, n.tr, int(dest), tag)
			if err != nil {
				return fmt.Errorf("sending payload of tile %d to rank %d: %w", cid, dest, err)
			}
			batch = append(batch, reqs...)
		}
	}
	n.sentData[tag] = batch
	n.payloadReqs.Add(ctx, int64(len(batch)), metric.WithAttributes(attribute.String("dir", "send")))
	n.sendEvent(event.PayloadSent, tag)
	return nil
}

// RecvPayload posts the payload receive hooks of every virtual tile from
// its owner on the given user tag.
func (n *Node) RecvPayload(ctx context.Context, tag int) error {
	if err := n.checkUserTag(tag); err != nil {
		return err
	}
	if network.AnyPending(n.recvData[tag]) {
		return fmt.Errorf("%w: payload receives on tag %d still outstanding", ErrPendingRequests, tag)
	}
	var batch []*network.Request
	for _, cid := range n.VirtualIDs(true) {
		t := n.tiles[cid]
		reqs, err := t.RecvPayload(ctx, n.tr, int(t.Comm.Owner), tag)
		if err != nil {
			return fmt.Errorf("receiving payload of tile %d from rank %d: %w", cid, t.Comm.Owner, err)
		}
		batch = append(batch, reqs...)
	}
	n.recvData[tag] = batch
	n.payloadReqs.Add(ctx, int64(len(batch)), metric.WithAttributes(attribute.String("dir", "recv")))
	return nil
}

// WaitPayload blocks until every posted receive on the tag has completed
// and releases the batch.
func (n *Node) WaitPayload(ctx context.Context, tag int) error {
	if err := network.WaitAll(ctx, n.recvData[tag]); err != nil {
		return fmt.Errorf("completing payload receives on tag %d: %w", tag, err)
	}
	n.recvData[tag] = nil
	n.sendEvent(event.PayloadReceived, tag)
	return nil
}

// WaitSentPayload blocks until every posted send on the tag has completed
// and releases the batch.
func (n *Node) WaitSentPayload(ctx context.Context, tag int) error {
	if err := network.WaitAll(ctx, n.sentData[tag]); err != nil {
		return fmt.Errorf("completing payload sends on tag %d: %w", tag, err)
	}
	n.sentData[tag] = nil
	return nil
}

// DropSentPayload abandons the tracked send handles of the tag. Only safe
// after a barrier that implies their delivery.
func (n *Node) DropSentPayload(tag int) {
	n.sentData[tag] = nil
}

func (n *Node) checkUserTag(tag int) error {
	if tag < network.MinUserTag {
		return fmt.Errorf("%w: tag %d is reserved for the exchange protocol", ErrInvariant, tag)
	}
	return nil
}

func (n *Node) timeOp(ctx context.Context, op string) func() {
	start := time.Now()
	return func() {
		n.exchDur.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("op", op)))
	}
}

func encodeRanks(ranks []int32) []byte {
	b := make([]byte, 0, 4*len(ranks))
	for _, r := range ranks {
		b = binary.BigEndian.AppendUint32(b, uint32(r))
	}
	return b
}

func decodeRanks(b []byte) ([]int32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("rank sequence of %d bytes is not a multiple of 4", len(b))
	}
	out := make([]int32, len(b)/4)
	for i := range out {
		out[i] = int32(binary.BigEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
