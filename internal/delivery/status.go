package delivery

import (
	"fmt"
	"slices"
)

// Status represents the delivery state of a message.
type Status string

const (
	Sending   Status = "sending"
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Read      Status = "read"
	Failed    Status = "failed"
)

// rank orders the on-path states. Once a message reaches a higher rank it
// never moves back.
var rank = map[Status]int{
	Sending:   0,
	Sent:      1,
	Delivered: 2,
	Read:      3,
}

// validTransitions defines allowed delivery transitions. Failed is an
// off-path state: only an unacknowledged send may fail, and a failed send
// may be retried.
var validTransitions = map[Status][]Status{
	Sending:   {Sent, Failed},
	Sent:      {Delivered, Read},
	Delivered: {Read},
	Read:      {},
	Failed:    {Sending},
}

// Known reports whether s is a recognized delivery status.
func Known(s Status) bool {
	_, ok := rank[s]
	return ok || s == Failed
}

// Advance validates a single transition. Returns an error if the transition
// would regress or skip an illegal edge.
func Advance(from, to Status) error {
	if from == to {
		return nil
	}
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("invalid delivery transition from %s to %s", from, to)
	}
	return nil
}

// Merge reconciles a locally known status with one arriving from the store.
// Change events can arrive out of order, so Merge keeps whichever status is
// further along instead of trusting arrival order. Failed never overrides an
// acknowledged state.
func Merge(current, incoming Status) Status {
	if incoming == Failed {
		if current == Sending || current == Failed {
			return Failed
		}
		return current
	}
	if current == Failed {
		return incoming
	}
	ci, ok := rank[current]
	if !ok {
		return incoming
	}
	ii, ok := rank[incoming]
	if !ok {
		return current
	}
	if ii > ci {
		return incoming
	}
	return current
}

// Tick is the check-mark decoration for a sender's own message.
type Tick string

const (
	TickNone       Tick = ""          // still sending (or failed)
	TickSingle     Tick = "sent"      // single grey check
	TickDouble     Tick = "delivered" // double grey check
	TickDoubleBlue Tick = "read"      // double colored check
)

// TickFor maps a delivery status to its check-mark decoration.
func TickFor(s Status) Tick {
	switch s {
	case Sent:
		return TickSingle
	case Delivered:
		return TickDouble
	case Read:
		return TickDoubleBlue
	default:
		return TickNone
	}
}
