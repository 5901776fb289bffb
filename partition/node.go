/*
Package partition implements the per-worker node of the spatial
decomposition: the tile registry, the boundary analyzer and the exchange
engine, composed behind the Node facade.

Each worker is a single-threaded cooperative process; concurrency exists
across workers through the transport, not inside a node. The registry,
ownership grid and send queue are therefore unguarded, and all blocking
happens at exchange boundaries.
*/
package partition

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tesserasim/tessera-core/grid"
	"github.com/tesserasim/tessera-core/logger"
	"github.com/tesserasim/tessera-core/network"
	"github.com/tesserasim/tessera-core/partition/event"
	"github.com/tesserasim/tessera-core/tile"
)

type (
	// Node is one worker of the decomposition. It holds every tile the
	// worker sees, local and virtual, plus the replicated ownership grid
	// and the per-round send queue.
	Node struct {
		conf      *NodeConf
		space     *grid.Space
		ownership *grid.Ownership
		tiles     map[uint64]*tile.Tile

		sendQueue []SendEntry
		queued    map[uint64]int // cid -> position in sendQueue

		mins []float64
		maxs []float64

		tr     network.Transport
		log    *slog.Logger
		tracer trace.Tracer

		// per-tag payload request batches
		sentData map[int][]*network.Request
		recvData map[int][]*network.Request

		tilesSent   metric.Int64Counter
		tilesRecv   metric.Int64Counter
		payloadReqs metric.Int64Counter
		exchDur     metric.Float64Histogram
	}

	// SendEntry pairs a queued tile with the recipients captured at
	// analyze time.
	SendEntry struct {
		CID        uint64
		Recipients []int32
	}
)

// NewNode creates a worker node over the configured index space and
// transport. All tiles start unregistered; rank 0 typically populates its
// share and broadcasts the ownership grid before anyone analyzes.
func NewNode(conf *NodeConf) (*Node, error) {
	n := &Node{
		conf:      conf,
		space:     conf.space,
		ownership: grid.NewOwnership(conf.space),
		tiles:     make(map[uint64]*tile.Tile),
		queued:    make(map[uint64]int),
		tr:        conf.transport,
		sentData:  make(map[int][]*network.Request),
		recvData:  make(map[int][]*network.Request),
	}
	n.log = conf.observe.Logger().With(logger.Rank(n.Rank()))
	n.tracer = conf.observe.Tracer("partition.node")
	if err := n.initMetrics(); err != nil {
		return nil, fmt.Errorf("initialize metrics: %w", err)
	}
	n.log.Debug(fmt.Sprintf("node initialized over %dD grid of %d tiles, %d workers", n.Dims(), n.space.Size(), n.Size()))
	return n, nil
}

func (n *Node) initMetrics() (err error) {
	m := n.conf.observe.Meter("partition.node")

	_, err = m.Int64ObservableGauge("registry.tiles", metric.WithDescription("tiles held by the registry"),
		metric.WithInt64Callback(func(_ context.Context, io metric.Int64Observer) error {
			var local, virtual int64
			for _, t := range n.tiles {
				if t.Comm.Local {
					local++
				} else {
					virtual++
				}
			}
			io.Observe(local, metric.WithAttributes(attribute.String("kind", "local")))
			io.Observe(virtual, metric.WithAttributes(attribute.String("kind", "virtual")))
			return nil
		}))
	if err != nil {
		return fmt.Errorf("creating gauge for registry size: %w", err)
	}

	n.tilesSent, err = m.Int64Counter("exchange.tiles.sent", metric.WithDescription("tile descriptors shipped to other workers"))
	if err != nil {
		return fmt.Errorf("creating counter for sent tiles: %w", err)
	}
	n.tilesRecv, err = m.Int64Counter("exchange.tiles.received", metric.WithDescription("tile descriptors received from other workers"))
	if err != nil {
		return fmt.Errorf("creating counter for received tiles: %w", err)
	}
	n.payloadReqs, err = m.Int64Counter("exchange.payload.requests", metric.WithDescription("payload requests posted"), metric.WithUnit("{request}"))
	if err != nil {
		return fmt.Errorf("creating counter for payload requests: %w", err)
	}
	n.exchDur, err = m.Float64Histogram("exchange.time",
		metric.WithDescription("how long one exchange operation took"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(100e-6, 400e-6, 0.0016, 0.006, 0.025, 0.1, 0.4, 1.6))
	if err != nil {
		return fmt.Errorf("creating histogram for exchange time: %w", err)
	}
	return nil
}

// Rank returns this worker's rank.
func (n *Node) Rank() int { return n.tr.Rank() }

// Size returns the number of workers in the group.
func (n *Node) Size() int { return n.tr.Size() }

// Dims returns the number of grid dimensions.
func (n *Node) Dims() int { return n.space.Dims() }

// Len returns the grid length of dimension k.
func (n *Node) Len(k int) uint64 { return n.space.Len(k) }

// Lens returns the per-dimension grid lengths.
func (n *Node) Lens() []uint64 { return n.space.Lens() }

// Space returns the node's index space.
func (n *Node) Space() *grid.Space { return n.space }

// SetBounds records the physical extent of the global grid. The tuples
// must have one entry per dimension.
func (n *Node) SetBounds(mins, maxs []float64) error {
	if len(mins) != n.Dims() || len(maxs) != n.Dims() {
		return fmt.Errorf("%w: bounds arity (%d, %d) does not match %d dimensions", ErrInvariant, len(mins), len(maxs), n.Dims())
	}
	n.mins = slices.Clone(mins)
	n.maxs = slices.Clone(maxs)
	return nil
}

// Min returns the lower physical bound of dimension k.
func (n *Node) Min(k int) float64 { return n.mins[k] }

// Max returns the upper physical bound of dimension k.
func (n *Node) Max(k int) float64 { return n.maxs[k] }

// Mins returns the lower physical bounds.
func (n *Node) Mins() []float64 { return slices.Clone(n.mins) }

// Maxs returns the upper physical bounds.
func (n *Node) Maxs() []float64 { return slices.Clone(n.maxs) }

// Ownership returns the rank owning the given index.
func (n *Node) Ownership(idx []uint64) (int32, error) {
	return n.ownership.Get(idx)
}

// OwnershipGrid exposes the replicated grid, e.g. for assigning the
// initial distribution on rank 0.
func (n *Node) OwnershipGrid() *grid.Ownership { return n.ownership }

func (n *Node) sendEvent(t event.Type, content any) {
	if n.conf.eventHandler != nil {
		n.conf.eventHandler(&event.Event{Type: t, Content: content})
	}
}
