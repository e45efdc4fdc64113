package controller

import (
	"fmt"

	"github.com/behrlich/mantle/internal/census"
	"github.com/behrlich/mantle/internal/grouper"
	"github.com/behrlich/mantle/internal/ledger"
	"github.com/behrlich/mantle/internal/object"
	"github.com/behrlich/mantle/internal/transport"
	"github.com/behrlich/mantle/internal/wireop"
)

// Metrics accumulates lifetime counters for a single controller.
type Metrics struct {
	OperationGrouper grouper.OperationGrouperMetrics
	ObjectGrouper    grouper.ObjectGrouperMetrics
	IncrementCount   uint64
	DecrementCount   uint64
}

// Options configures behavior that would otherwise require importing
// the root package's Config from here, which would cycle.
type Options struct {
	// OperationGrouperEnabled, when false, makes every routed operation
	// bypass the merge cache and file directly into the increment or
	// decrement output, trading throughput for simplicity (useful for
	// tests that want to see every individual delta).
	OperationGrouperEnabled bool
}

// RegionController is the domain-side half of one region's lifecycle:
// it owns that region's slot in the controller group, runs the eight-
// phase cycle, and is the only thing that ever mutates objects bound to
// that region (via apply, after routing).
type RegionController struct {
	regionID object.RegionID
	peers    *Group
	manager  *ledger.Manager
	arena    *object.Arena
	opts     Options

	state census.State
	phase census.Phase
	cycle uint64

	submittedIncrements *ledger.Barrier
	submittedDecrements *ledger.Barrier

	operationGrouper *grouper.OperationGrouper
	objectGrouper    *grouper.ObjectGrouper[*object.Object]

	metrics Metrics
}

// New constructs a controller for regionID in the STARTING state, with
// its own operation and object groupers.
func New(regionID object.RegionID, peers *Group, manager *ledger.Manager, arena *object.Arena, opts Options) *RegionController {
	return &RegionController{
		regionID:         regionID,
		peers:            peers,
		manager:          manager,
		arena:            arena,
		opts:             opts,
		state:            census.Starting,
		phase:            census.Start,
		cycle:            1,
		operationGrouper: grouper.New(),
		objectGrouper:    grouper.NewObjectGrouper[*object.Object](),
	}
}

// RegionID returns the region this controller manages.
func (c *RegionController) RegionID() object.RegionID { return c.regionID }

// State implements census.View.
func (c *RegionController) State() census.State { return c.state }

// Phase implements census.View.
func (c *RegionController) Phase() census.Phase { return c.phase }

// Cycle implements census.View.
func (c *RegionController) Cycle() uint64 { return c.cycle }

// Action implements census.View.
func (c *RegionController) Action() census.Action { return census.ActionOf(c.phase) }

// Metrics returns the controller's lifetime counters.
func (c *RegionController) Metrics() Metrics { return c.metrics }

// IsQuiescent reports whether the controller has nothing left cached in
// its operation grouper, i.e. it's safe to stop.
func (c *RegionController) IsQuiescent() bool {
	return !c.operationGrouper.IsDirty()
}

// Start moves a STARTING controller into RUNNING at the given cycle,
// normally the group's current max cycle so a region joining mid-run
// lines up with its peers instead of replaying history.
func (c *RegionController) Start(cycle uint64) {
	if c.state != census.Starting {
		panic("controller: start called outside STARTING state")
	}
	c.transitionCycle(cycle)
	c.transitionState(census.Running)
}

// Stop moves a STOPPING controller into STOPPED. Only valid once every
// controller in the group has confirmed it's quiescent.
func (c *RegionController) Stop() {
	if c.state != census.Stopping {
		panic("controller: stop called outside STOPPING state")
	}
	c.transitionState(census.Stopped)
}

// SendMessage returns the next message this controller owes its region,
// if its current phase calls for one, advancing its phase in the
// process.
func (c *RegionController) SendMessage() (transport.Message, bool) {
	switch c.phase {
	case census.Enter:
		c.transitionPhase(census.Submit)
		return transport.EnterMessage(c.cycle), true

	case census.Retire:
		garbage := c.objectGrouper.Flush()
		c.transitionPhase(census.Leave)
		return transport.RetireMessage(garbage), true

	case census.Leave:
		c.transitionPhase(census.Start)
		if c.state == census.Stopped {
			c.transitionState(census.Shutdown)
		}
		return transport.LeaveMessage(c.state == census.Shutdown), true

	default:
		return transport.Message{}, false
	}
}

// ReceiveMessage folds a message from this controller's region into its
// state machine.
func (c *RegionController) ReceiveMessage(message transport.Message) {
	switch c.phase {
	case census.Start:
		if message.Kind == transport.Start {
			c.transitionPhase(census.StartBarrier)
		}

	case census.Submit:
		if message.Kind != transport.Submit {
			return
		}
		c.transitionPhase(census.SubmitBarrier)

		if message.Stop {
			if c.state != census.Stopped {
				c.transitionState(census.Stopping)
			}
		} else {
			// The region has more work; cancel any shutdown in progress.
			c.transitionState(census.Running)
		}

		c.submittedIncrements = message.Increments
		c.submittedDecrements = message.Decrements

	default:
		// Messages arriving outside their expected phase are dropped.
	}
}

// Synchronize advances this controller past its current phase if the
// group's census shows the condition its phase's action requires.
func (c *RegionController) Synchronize(group *census.Census) {
	nextPhase := c.phase.Next()
	nextAction := census.ActionOf(nextPhase)

	switch {
	case group.AllAction(census.BarrierAll) || group.AllAction(census.BarrierAny):
		if group.MinCycle() != group.MaxCycle() {
			panic("controller: cycle mismatch at a synchronized barrier")
		}
		c.transitionPhase(nextPhase)

	case group.AnyPhase(nextPhase) && nextAction == census.BarrierAny:
		c.transitionPhase(nextPhase)
	}
}

func (c *RegionController) transitionState(next census.State) {
	c.state = next
}

func (c *RegionController) transitionCycle(next uint64) {
	c.cycle = next
}

// transitionPhase moves the controller from its current phase to next,
// running whatever side effect is associated with leaving the current
// phase.
func (c *RegionController) transitionPhase(next census.Phase) {
	if c.phase == next {
		return
	}

	switch c.phase {
	case census.SubmitBarrier:
		c.metrics.IncrementCount += uint64(c.routeOperations(wireop.Increment, c.submittedIncrements))
		c.metrics.DecrementCount += uint64(c.routeOperations(wireop.Decrement, c.submittedDecrements))

	case census.RetireBarrier:
		force := c.state == census.Stopping || c.state == census.Stopped
		c.operationGrouper.Flush(force)

		c.applyOperations(wireop.Increment, c.operationGrouper.Increments())
		c.applyOperations(wireop.Decrement, c.operationGrouper.Decrements())
		c.operationGrouper.Clear()

		c.metrics.OperationGrouper = c.operationGrouper.Metrics()
		c.metrics.ObjectGrouper = c.objectGrouper.Metrics()

	case census.Leave:
		c.transitionCycle(c.cycle + 1)
	}

	c.phase = next
}

// routeOperations drains barrier (one of the two ready barriers a
// SUBMIT message carried) and, for every non-null operation of the
// given sign, files it into the operation grouper of whichever
// controller owns its target object - not necessarily this one.
func (c *RegionController) routeOperations(sign wireop.Type, barrier *ledger.Barrier) int {
	if barrier == nil {
		return 0
	}

	segments, err := c.manager.Drain(barrier)
	if err != nil {
		panic(fmt.Sprintf("controller: failed to drain barrier: %v", err))
	}
	defer c.manager.Release(segments)

	count := 0
	for _, seg := range segments {
		var ops []wireop.Operation
		if sign == wireop.Increment {
			ops = seg.Operations(seg.IncrementCount)
		} else {
			ops = seg.Operations(seg.DecrementCount)
		}

		for _, op := range ops {
			if op.IsNull() || op.Type() != sign {
				continue
			}

			obj := c.arena.Lookup(op.Index())
			if obj == nil {
				continue
			}

			owner := c.peers.At(obj.RegionID())
			flush := !owner.opts.OperationGrouperEnabled
			owner.operationGrouper.Write(op, flush)
			count++
		}
	}
	return count
}

// applyOperations applies every net delta produced by this
// controller's own operation grouper to the objects it owns, pushing
// any that die into the object grouper for the next RETIRE flush.
func (c *RegionController) applyOperations(sign wireop.Type, deltas []grouper.Delta) {
	for _, d := range deltas {
		obj := c.arena.Lookup(d.Index)
		if obj == nil {
			continue
		}

		magnitude := d.Value
		if magnitude < 0 {
			magnitude = -magnitude
		}

		var alive bool
		if sign == wireop.Increment {
			alive = obj.ApplyIncrement(uint32(magnitude))
		} else {
			alive = obj.ApplyDecrement(uint32(magnitude))
		}

		if !alive {
			c.objectGrouper.Write(obj, obj.Group())
			c.arena.Release(d.Index)
		}
	}
}
