// Package census implements the region-controller state/phase/action
// enums and the tally used to synchronize a group of controllers at
// barrier phases, plus the small ring used to keep a short history of
// cycle boundaries.
package census

import "math"

// State is a controller's high-level lifecycle state.
type State uint8

const (
	Starting State = iota
	Running
	Stopping
	Stopped
	Shutdown
	stateCount
)

func (s State) String() string {
	switch s {
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	case Stopped:
		return "STOPPED"
	case Shutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Action is what a controller needs in order to advance past its
// current phase.
type Action uint8

const (
	// Send: the controller is waiting to send a message to its region.
	Send Action = iota
	// Receive: the controller is waiting to receive a message.
	Receive
	// BarrierAny: any controller reaching this phase advances every
	// controller past it.
	BarrierAny
	// BarrierAll: every controller must reach this phase before any of
	// them advances past it.
	BarrierAll
	actionCount
)

func (a Action) String() string {
	switch a {
	case Send:
		return "SEND"
	case Receive:
		return "RECEIVE"
	case BarrierAny:
		return "BARRIER_ANY"
	case BarrierAll:
		return "BARRIER_ALL"
	default:
		return "UNKNOWN"
	}
}

// Phase is which part of the eight-step cycle a controller is in.
type Phase uint8

const (
	Start Phase = iota
	StartBarrier
	Enter
	Submit
	SubmitBarrier
	RetireBarrier
	Retire
	Leave
	PhaseCount
)

func (p Phase) String() string {
	switch p {
	case Start:
		return "START"
	case StartBarrier:
		return "START_BARRIER"
	case Enter:
		return "ENTER"
	case Submit:
		return "SUBMIT"
	case SubmitBarrier:
		return "SUBMIT_BARRIER"
	case RetireBarrier:
		return "RETIRE_BARRIER"
	case Retire:
		return "RETIRE"
	case Leave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Next returns the phase that follows p in the cycle, wrapping from
// Leave back to Start.
func (p Phase) Next() Phase {
	return (p + 1) % PhaseCount
}

// ActionOf returns the action a controller in phase p is waiting on.
func ActionOf(p Phase) Action {
	switch p {
	case Start:
		return Receive
	case StartBarrier:
		return BarrierAny
	case Enter:
		return Send
	case Submit:
		return Receive
	case SubmitBarrier:
		return BarrierAll
	case RetireBarrier:
		return BarrierAll
	case Retire:
		return Send
	case Leave:
		return Send
	default:
		panic("census: unknown phase")
	}
}

// View is the minimal read-only surface a controller exposes so a
// Census can be built without census depending on the controller
// package.
type View interface {
	State() State
	Phase() Phase
	Action() Action
	Cycle() uint64
}

// Census tallies the state/phase/action of a group of controllers at a
// single instant, used both to decide whether every controller (or any
// one of them) has reached a barrier phase and, for a region binding
// mid-run, to pick the cycle it should join at.
type Census struct {
	count    int
	minCycle uint64
	maxCycle uint64
	states   [stateCount]int
	phases   [PhaseCount]int
	actions  [actionCount]int
}

// New builds an empty census.
func New() *Census {
	return &Census{minCycle: math.MaxUint64, maxCycle: 0}
}

// Of builds a census from a single snapshot.
func Of(views ...View) *Census {
	c := New()
	for _, v := range views {
		c.Add(v)
	}
	return c
}

// Add folds one controller's current state into the census.
func (c *Census) Add(v View) {
	c.count++
	if cycle := v.Cycle(); cycle < c.minCycle {
		c.minCycle = cycle
	}
	if cycle := v.Cycle(); cycle > c.maxCycle {
		c.maxCycle = cycle
	}
	c.states[v.State()]++
	c.phases[v.Phase()]++
	c.actions[v.Action()]++
}

// Count returns how many controllers were folded in.
func (c *Census) Count() int { return c.count }

// MinCycle returns the smallest cycle number observed.
func (c *Census) MinCycle() uint64 { return c.minCycle }

// MaxCycle returns the largest cycle number observed.
func (c *Census) MaxCycle() uint64 { return c.maxCycle }

// AnyState reports whether at least one controller is in the given state.
func (c *Census) AnyState(s State) bool { return c.states[s] != 0 }

// AllState reports whether every controller is in the given state.
func (c *Census) AllState(s State) bool { return c.count > 0 && c.states[s] == c.count }

// AnyPhase reports whether at least one controller is in the given phase.
func (c *Census) AnyPhase(p Phase) bool { return c.phases[p] != 0 }

// AllPhase reports whether every controller is in the given phase.
func (c *Census) AllPhase(p Phase) bool { return c.count > 0 && c.phases[p] == c.count }

// AnyAction reports whether at least one controller is waiting on the
// given action.
func (c *Census) AnyAction(a Action) bool { return c.actions[a] != 0 }

// AllAction reports whether every controller is waiting on the given
// action.
func (c *Census) AllAction(a Action) bool { return c.count > 0 && c.actions[a] == c.count }

// Equal reports whether two censuses hold identical tallies, used to
// detect that a synchronization pass has reached a fixed point.
func (c *Census) Equal(other *Census) bool {
	if c.count != other.count || c.minCycle != other.minCycle || c.maxCycle != other.maxCycle {
		return false
	}
	return c.states == other.states && c.phases == other.phases && c.actions == other.actions
}
