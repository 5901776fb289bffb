package partition

import "errors"

var (
	// ErrUnknownTile is returned by lookups and updates for an absent id.
	ErrUnknownTile = errors.New("unknown tile")
	// ErrInconsistentTopology marks a received descriptor contradicting
	// local state, e.g. claiming self-ownership of an unregistered tile.
	ErrInconsistentTopology = errors.New("inconsistent topology")
	// ErrPendingRequests marks a new exchange initiated while prior
	// handles on the same tag are outstanding.
	ErrPendingRequests = errors.New("pending requests")
	// ErrInvariant marks a programmer error; always fatal.
	ErrInvariant = errors.New("invariant violation")
)
