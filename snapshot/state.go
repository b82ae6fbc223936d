package snapshot

import (
	"fmt"

	"mdfeed/models"
)

// State of a snapshot's transaction state machine.
type State int

const (
	// Uninitialized snapshots ignore batches until one begins a snapshot.
	Uninitialized State = iota
	// Buffering snapshots hold an open transaction; the committed view is not
	// consistent until it commits.
	Buffering
	// Committed snapshots have applied their last transaction.
	Committed
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Buffering:
		return "buffering"
	case Committed:
		return "committed"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Key identifies an active snapshot on one connection. An empty Source
// accepts records from every source.
type Key struct {
	Kind   models.EventKind
	Symbol string
	Source string
}

func (k Key) String() string {
	if k.Source == "" {
		return fmt.Sprintf("%s/%s", k.Kind, k.Symbol)
	}
	return fmt.Sprintf("%s/%s#%s", k.Kind, k.Symbol, k.Source)
}
