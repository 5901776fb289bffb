// Package event defines the notifications a node emits as it moves
// through the exchange lifecycle.
package event

import "fmt"

const (
	OwnershipBroadcast Type = iota
	BoundariesAnalyzed
	TilesSent
	TilesReceived
	PayloadSent
	PayloadReceived
	Error
)

type (
	Type int

	Event struct {
		Type    Type
		Content any
	}

	// Handler consumes node events. Dispatch is synchronous with the
	// worker's control flow; handlers must not block.
	Handler func(*Event)
)

func (t Type) String() string {
	switch t {
	case OwnershipBroadcast:
		return "OwnershipBroadcast"
	case BoundariesAnalyzed:
		return "BoundariesAnalyzed"
	case TilesSent:
		return "TilesSent"
	case TilesReceived:
		return "TilesReceived"
	case PayloadSent:
		return "PayloadSent"
	case PayloadReceived:
		return "PayloadReceived"
	case Error:
		return "Error"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}
