package partition

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tesserasim/tessera-core/grid"
	testobserve "github.com/tesserasim/tessera-core/internal/testutils/observability"
	"github.com/tesserasim/tessera-core/network"
	"github.com/tesserasim/tessera-core/network/protocol/tilemeta"
	"github.com/tesserasim/tessera-core/tile"
	"golang.org/x/sync/errgroup"
)

// echoPayload ships a fixed blob and remembers what it received.
type echoPayload struct {
	data     []byte
	received []byte
}

func (p *echoPayload) SendPayload(ctx context.Context, tr network.Transport, dest, tag int) ([]*network.Request, error) {
	req, err := tr.Isend(ctx, dest, tag, p.data)
	if err != nil {
		return nil, err
	}
	return []*network.Request{req}, nil
}

func (p *echoPayload) RecvPayload(ctx context.Context, tr network.Transport, source, tag int) ([]*network.Request, error) {
	req, err := tr.Irecv(ctx, source, tag)
	if err != nil {
		return nil, err
	}
	req.Bind(func(b []byte) error {
		p.received = b
		return nil
	})
	return []*network.Request{req}, nil
}

func echoFactory(tilemeta.Descriptor) *tile.Tile {
	return tile.New(&echoPayload{})
}

type workerSnapshot struct {
	gridHash     []int32
	virtualIDs   []uint64
	virtualOwner map[uint64]int32
	gridOwner    map[uint64]int32
	received     map[uint64][]byte
}

// TestExchange_EndToEnd runs the full bootstrap and one payload round of
// the 1D four-cell world over two in-process workers: only rank 0 knows
// the initial distribution, everyone else learns it from the broadcast.
func TestExchange_EndToEnd(t *testing.T) {
	g, err := network.NewGroup(2)
	require.NoError(t, err)

	var mu sync.Mutex
	snaps := make(map[int]*workerSnapshot)

	worker := func(rank int) error {
		ctx := context.Background()
		tr, err := g.Transport(rank)
		if err != nil {
			return err
		}
		space, err := grid.NewSpace(4)
		if err != nil {
			return err
		}
		conf, err := NewNodeConf(space, tr, testobserve.Default(t), WithTileFactory(echoFactory))
		if err != nil {
			return err
		}
		n, err := NewNode(conf)
		if err != nil {
			return err
		}

		if rank == 0 {
			for j := uint64(0); j < 4; j++ {
				if err := n.OwnershipGrid().Set([]uint64{j}, int32(j/2)); err != nil {
					return err
				}
			}
		}
		for j := uint64(2 * rank); j < uint64(2*rank+2); j++ {
			cid, err := space.ID([]uint64{j})
			if err != nil {
				return err
			}
			p := &echoPayload{data: []byte{byte(cid)}}
			if err := n.AddTile(tile.New(p), []uint64{j}); err != nil {
				return err
			}
		}

		if err := n.BcastOwnership(ctx); err != nil {
			return err
		}
		if err := n.AnalyzeBoundaries(); err != nil {
			return err
		}
		if err := n.SendTiles(ctx); err != nil {
			return err
		}
		if err := n.RecvTiles(ctx); err != nil {
			return err
		}
		n.ClearSendQueue()

		tag := network.MinUserTag
		if err := n.RecvPayload(ctx, tag); err != nil {
			return err
		}
		if err := n.SendPayload(ctx, tag); err != nil {
			return err
		}
		if err := n.WaitPayload(ctx, tag); err != nil {
			return err
		}
		if err := n.WaitSentPayload(ctx, tag); err != nil {
			return err
		}

		snap := &workerSnapshot{
			gridHash:     n.OwnershipGrid().Serialize(),
			virtualIDs:   n.VirtualIDs(true),
			virtualOwner: make(map[uint64]int32),
			gridOwner:    make(map[uint64]int32),
			received:     make(map[uint64][]byte),
		}
		for _, cid := range snap.virtualIDs {
			tl, err := n.Tile(cid)
			if err != nil {
				return err
			}
			if tl.Comm.Local {
				return fmt.Errorf("virtual tile %d marked local", cid)
			}
			snap.virtualOwner[cid] = tl.Comm.Owner
			owner, err := n.Ownership(tl.Index())
			if err != nil {
				return err
			}
			snap.gridOwner[cid] = owner
			snap.received[cid] = tl.Payload.(*echoPayload).received
		}
		mu.Lock()
		snaps[rank] = snap
		mu.Unlock()
		return nil
	}

	var eg errgroup.Group
	for rank := 0; rank < 2; rank++ {
		rank := rank
		eg.Go(func() error { return worker(rank) })
	}
	require.NoError(t, eg.Wait())

	// the replicated grid is identical on both workers
	require.Equal(t, snaps[0].gridHash, snaps[1].gridHash)
	require.Equal(t, []int32{0, 0, 1, 1}, snaps[0].gridHash)

	// each worker mirrors exactly the other's tiles
	require.Equal(t, []uint64{2, 3}, snaps[0].virtualIDs)
	require.Equal(t, []uint64{0, 1}, snaps[1].virtualIDs)

	for rank, snap := range snaps {
		other := int32(1 - rank)
		for _, cid := range snap.virtualIDs {
			require.Equal(t, other, snap.virtualOwner[cid], "rank %d tile %d", rank, cid)
			require.Equal(t, other, snap.gridOwner[cid], "rank %d tile %d", rank, cid)
			require.Equal(t, []byte{byte(cid)}, snap.received[cid], "rank %d tile %d", rank, cid)
		}
	}
}

func TestAcceptDescriptor_InconsistentTopology(t *testing.T) {
	g, err := network.NewGroup(2)
	require.NoError(t, err)
	n := newTestNode(t, g, 0, []uint64{4})

	// a peer claims this worker owns a tile the registry has never seen
	d := testDescriptor(0, 2, []uint64{2}, []uint64{4})
	require.ErrorIs(t, n.acceptDescriptor(d), ErrInconsistentTopology)

	// dimension mismatch against the local grid
	d2 := testDescriptor(1, 2, []uint64{2, 0}, []uint64{4, 1})
	require.ErrorIs(t, n.acceptDescriptor(d2), ErrInconsistentTopology)

	// invalid descriptors are rejected before topology checks
	d3 := testDescriptor(1, 2, []uint64{2}, []uint64{4})
	d3.Communications = 5
	require.Error(t, n.acceptDescriptor(d3))
	require.NotErrorIs(t, n.acceptDescriptor(d3), ErrInconsistentTopology)

	// a descriptor for an already registered tile is a plain update
	_, err = n.CreateTile(testDescriptor(1, 3, []uint64{3}, []uint64{4}))
	require.NoError(t, err)
	require.NoError(t, n.acceptDescriptor(testDescriptor(1, 3, []uint64{3}, []uint64{4})))
}

func TestPayload_ReservedTags(t *testing.T) {
	g, err := network.NewGroup(2)
	require.NoError(t, err)
	n := newTestNode(t, g, 0, []uint64{4})

	ctx := context.Background()
	for _, tag := range []int{network.TagBcast, network.TagNTiles, network.TagTileData} {
		require.ErrorIs(t, n.SendPayload(ctx, tag), ErrInvariant)
		require.ErrorIs(t, n.RecvPayload(ctx, tag), ErrInvariant)
	}
}

func TestRecvPayload_PendingRequests(t *testing.T) {
	g, err := network.NewGroup(2)
	require.NoError(t, err)
	n := newTestNode(t, g, 0, []uint64{4}, WithTileFactory(echoFactory))

	_, err = n.CreateTile(testDescriptor(1, 2, []uint64{2}, []uint64{4}))
	require.NoError(t, err)

	ctx := context.Background()
	tag := network.MinUserTag
	require.NoError(t, n.RecvPayload(ctx, tag))
	// nothing was sent, so the batch is still outstanding
	require.ErrorIs(t, n.RecvPayload(ctx, tag), ErrPendingRequests)

	// a different tag is an independent batch
	require.NoError(t, n.RecvPayload(ctx, tag+1))
}

func TestSendPayload_DropAndRewait(t *testing.T) {
	g, err := network.NewGroup(2)
	require.NoError(t, err)
	n := newTestNode(t, g, 0, []uint64{4})

	ctx := context.Background()
	tag := network.MinUserTag
	// empty batches complete trivially
	require.NoError(t, n.SendPayload(ctx, tag))
	require.NoError(t, n.WaitSentPayload(ctx, tag))
	require.NoError(t, n.SendPayload(ctx, tag))
	n.DropSentPayload(tag)
	require.NoError(t, n.SendPayload(ctx, tag))
	require.NoError(t, n.WaitPayload(ctx, tag))
}
