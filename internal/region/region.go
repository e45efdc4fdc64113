// Package region implements the user-facing side of a bound thread: the
// state machine that drives the START/ENTER/SUBMIT/RETIRE/LEAVE
// handshake with its controller, owns a thread-local ledger, and
// invokes a finalizer for objects its controller determined are dead.
package region

import (
	"fmt"

	"github.com/behrlich/mantle/internal/ledger"
	"github.com/behrlich/mantle/internal/object"
	"github.com/behrlich/mantle/internal/transport"
)

// State is a region's high-level lifecycle state.
type State uint8

const (
	Running State = iota
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Phase is which leg of one cycle's handshake a region is waiting on.
type Phase uint8

const (
	RecvEnter Phase = iota
	RecvEnterSentStart
	RecvRetire
	RecvLeave
)

func (p Phase) String() string {
	switch p {
	case RecvEnter:
		return "RECV_ENTER"
	case RecvEnterSentStart:
		return "RECV_ENTER_SENT_START"
	case RecvRetire:
		return "RECV_RETIRE"
	case RecvLeave:
		return "RECV_LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Finalizer is invoked once per group of objects a region's controller
// has determined are dead, so related objects can be disposed of
// together instead of one at a time.
type Finalizer interface {
	Finalize(group uint16, objects []*object.Object)
}

// Domain is the subset of a domain a region needs: the shared ledger
// manager and object arena, and the ability to register a fresh
// connection so the domain's run loop starts driving it.
type Domain interface {
	LedgerManager() *ledger.Manager
	Arena() *object.Arena
	Bind(conn *transport.Connection) object.RegionID
}

// Region is a thread-local handle onto the runtime: every Ref[T] bound
// on a given goroutine must go through the same Region, and a Region
// must never be shared across goroutines.
type Region struct {
	domain    Domain
	id        object.RegionID
	finalizer Finalizer

	state State
	phase Phase
	cycle uint64
	depth int

	ledger     *ledger.Ledger
	connection *transport.Connection
	garbage    []transport.Message

	endpoint *transport.Endpoint
}

// New binds a fresh region to domain and blocks (stepping the protocol)
// until it has joined the domain's coherence cycle.
func New(domain Domain, finalizer Finalizer) (*Region, error) {
	conn, err := transport.NewConnection()
	if err != nil {
		return nil, fmt.Errorf("region: failed to create connection: %w", err)
	}

	l, err := ledger.New(domain.LedgerManager())
	if err != nil {
		return nil, fmt.Errorf("region: failed to create ledger: %w", err)
	}

	r := &Region{
		domain:     domain,
		finalizer:  finalizer,
		state:      Running,
		phase:      RecvEnter,
		ledger:     l,
		connection: conn,
		endpoint:   conn.ClientEndpoint(),
	}

	r.id = domain.Bind(conn)

	for r.cycle == 0 {
		const nonBlocking = false
		r.Step(nonBlocking)
	}

	return r, nil
}

// ID returns the region id the domain assigned at bind time.
func (r *Region) ID() object.RegionID { return r.id }

// State returns the region's current lifecycle state.
func (r *Region) State() State { return r.state }

// Phase returns which leg of the handshake the region is waiting on.
func (r *Region) Phase() Phase { return r.phase }

// Cycle returns the coherence cycle the region is currently in.
func (r *Region) Cycle() uint64 { return r.cycle }

// FileDescriptor returns the fd a Selector should watch to know when
// this region has messages waiting.
func (r *Region) FileDescriptor() int {
	return r.endpoint.FileDescriptor()
}

// Stop flags the region as wanting to leave the runtime and blocks
// (stepping the protocol) until its controller confirms it has.
func (r *Region) Stop() {
	if r.state != Running {
		return
	}

	r.state = Stopping
	for r.state != Stopped {
		const nonBlocking = false
		r.Step(nonBlocking)
	}
}

// BindObject registers obj in the domain's arena and associates it with
// this region, returning the arena index pending operations will name
// it by. An object can only be bound once.
func (r *Region) BindObject(obj *object.Object) uint32 {
	idx := r.domain.Arena().Register(obj)
	obj.Bind(r.id, idx)
	return idx
}

// IncrementRef is the hot path: it writes an increment operation into
// the region's ledger.
func (r *Region) IncrementRef(objectIndex uint32, exponent uint8) {
	if r.state == Stopped {
		panic("region: increment after stop")
	}
	r.ledger.IncrementRef(objectIndex, exponent)
}

// DecrementRef is the hot path for decrements.
func (r *Region) DecrementRef(objectIndex uint32, exponent uint8) {
	if r.state == Stopped {
		panic("region: decrement after stop")
	}
	r.ledger.DecrementRef(objectIndex, exponent)
}

// Step advances the region's protocol: it starts a new cycle if one is
// due, processes any messages waiting on its endpoint, and (unless
// already nested inside a finalizer callback) runs any pending
// finalizations. Call it whenever FileDescriptor becomes readable, or
// in a polling loop with nonBlocking true.
func (r *Region) Step(nonBlocking bool) {
	startCycle := r.phase == RecvEnter
	startCycle = startCycle && (r.cycle == 0 || r.state == Stopping || !r.ledger.IsEmpty())
	if startCycle {
		r.endpoint.SendMessage(transport.StartMessage())
		r.phase = RecvEnterSentStart
	}

	for _, message := range r.endpoint.ReceiveMessages(nonBlocking) {
		r.handleMessage(message)
	}

	if r.depth > 0 {
		// Region.Step and Finalizer.Finalize are co-recursive; short
		// circuiting nested calls keeps stack usage bounded.
		return
	}

	r.depth++
	for _, message := range r.garbage {
		message.Garbage.ForEachGroup(func(group uint16) {
			r.finalizer.Finalize(group, message.Garbage.GroupMembers(group))
		})
	}
	r.garbage = r.garbage[:0]
	r.depth--
}

func (r *Region) handleMessage(message transport.Message) {
	switch message.Kind {
	case transport.Enter:
		r.ledger.Step()

		stop := r.state == Stopping
		r.endpoint.SendMessage(transport.SubmitMessage(stop, r.ledgerIncrements(), r.ledgerDecrements()))

		r.cycle = message.Cycle
		r.phase = RecvRetire

	case transport.Retire:
		r.garbage = append(r.garbage, message)
		r.phase = RecvLeave

	case transport.Leave:
		if message.ControllerStop {
			r.state = Stopped
		}
		r.phase = RecvEnter

	default:
		panic(fmt.Sprintf("region: unexpected message %s in phase %s", message.Kind, r.phase))
	}
}

func (r *Region) ledgerIncrements() *ledger.Barrier {
	increments, _ := r.ledger.ReadyBarriers()
	return increments
}

func (r *Region) ledgerDecrements() *ledger.Barrier {
	_, decrements := r.ledger.ReadyBarriers()
	return decrements
}
