// Package transport implements the region<->controller message streams:
// a fixed-capacity single-producer/single-consumer ring per direction,
// each paired with a doorbell so a blocked reader can be woken from the
// other side, plus the tagged message union the two sides exchange.
package transport

import (
	"github.com/behrlich/mantle/internal/grouper"
	"github.com/behrlich/mantle/internal/ledger"
	"github.com/behrlich/mantle/internal/object"
)

// Kind identifies which variant of Message is populated.
type Kind uint8

const (
	// Start is sent region -> controller to ask for a new cycle: on its
	// first cycle, while stopping, or when its ledger holds operations.
	Start Kind = iota
	// Enter is sent controller -> region at the top of a new cycle.
	Enter
	// Submit is sent region -> controller once the region has finished
	// its cycle's work and committed its ledger.
	Submit
	// Retire is sent controller -> region carrying garbage to finalize.
	Retire
	// Leave is sent controller -> region at the end of every cycle;
	// ControllerStop says whether the region may stop.
	Leave
)

func (k Kind) String() string {
	switch k {
	case Start:
		return "START"
	case Enter:
		return "ENTER"
	case Submit:
		return "SUBMIT"
	case Retire:
		return "RETIRE"
	case Leave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Message is the single type exchanged over a Stream. Only the fields
// relevant to Kind are meaningful; Go has no tagged union, so unlike
// the reference implementation's overlapping struct members this just
// carries every variant's fields side by side.
type Message struct {
	Kind Kind

	// Enter: which cycle the region is entering.
	Cycle uint64

	// Submit: whether the region is ready to stop, and the barriers
	// holding the increments/decrements it committed this cycle.
	Stop       bool
	Increments *ledger.Barrier
	Decrements *ledger.Barrier

	// Retire: the garbage this region is responsible for finalizing.
	Garbage grouper.ObjectGroups[*object.Object]

	// Leave: whether the controller (and therefore the domain) is
	// itself ready to stop.
	ControllerStop bool
}

// StartMessage builds a Start message.
func StartMessage() Message {
	return Message{Kind: Start}
}

// EnterMessage builds an Enter message for the given cycle.
func EnterMessage(cycle uint64) Message {
	return Message{Kind: Enter, Cycle: cycle}
}

// SubmitMessage builds a Submit message.
func SubmitMessage(stop bool, increments, decrements *ledger.Barrier) Message {
	return Message{Kind: Submit, Stop: stop, Increments: increments, Decrements: decrements}
}

// RetireMessage builds a Retire message carrying garbage to finalize.
func RetireMessage(garbage grouper.ObjectGroups[*object.Object]) Message {
	return Message{Kind: Retire, Garbage: garbage}
}

// LeaveMessage builds a Leave message.
func LeaveMessage(stop bool) Message {
	return Message{Kind: Leave, ControllerStop: stop}
}
