package partition

import (
	"errors"

	"github.com/tesserasim/tessera-core/grid"
	"github.com/tesserasim/tessera-core/network"
	"github.com/tesserasim/tessera-core/network/protocol/tilemeta"
	"github.com/tesserasim/tessera-core/observability"
	"github.com/tesserasim/tessera-core/partition/event"
	"github.com/tesserasim/tessera-core/tile"
)

type (
	// NodeConf carries everything a node needs at construction time.
	// Functions implementing NodeOption override the defaults.
	NodeConf struct {
		space        *grid.Space
		transport    network.Transport
		observe      observability.Observability
		eventHandler event.Handler
		tileFactory  TileFactory
	}

	// TileFactory builds the local mirror tile for a descriptor received
	// from a remote owner. Simulations install a factory producing tiles
	// whose payload can receive their state; the default builds a bare
	// metadata-only mirror.
	TileFactory func(d tilemeta.Descriptor) *tile.Tile

	NodeOption func(*NodeConf)
)

// NewNodeConf validates the required node inputs and applies the options.
func NewNodeConf(space *grid.Space, transport network.Transport, observe observability.Observability, opts ...NodeOption) (*NodeConf, error) {
	if space == nil {
		return nil, errors.New("index space is required")
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if observe == nil {
		return nil, errors.New("observability is required")
	}
	conf := &NodeConf{
		space:       space,
		transport:   transport,
		observe:     observe,
		tileFactory: func(tilemeta.Descriptor) *tile.Tile { return tile.New(nil) },
	}
	for _, opt := range opts {
		opt(conf)
	}
	return conf, nil
}

// WithEventHandler installs a handler for node lifecycle events.
func WithEventHandler(h event.Handler) NodeOption {
	return func(c *NodeConf) { c.eventHandler = h }
}

// WithTileFactory installs the constructor used for virtual mirror tiles.
func WithTileFactory(f TileFactory) NodeOption {
	return func(c *NodeConf) { c.tileFactory = f }
}
