// Package object implements the managed heap object: a reference count,
// the id of the region it's bound to, and the group tag used to batch
// its finalization. It also implements the arena, the object-table that
// operations reference by index instead of by pointer.
package object

import "github.com/behrlich/mantle/internal/constants"

// RegionID identifies a region within a domain.
type RegionID uint16

// InvalidRegionID marks an object that hasn't been bound to a region
// yet (or has already been finalized).
const InvalidRegionID = RegionID(constants.InvalidRegionID)

// Group is the 16-bit finalization bucket tag carried by a bound
// object.
type Group = uint16

// Object is one unit of shared, reference-counted heap state. It is not
// safe for concurrent use beyond the specific handoffs the runtime
// guarantees: its reference count is only ever mutated by the domain
// thread applying operations drained from a write barrier, never
// directly by the region thread that holds a handle to it.
type Object struct {
	referenceCount uint32
	regionID       RegionID
	group          Group
	index          uint32
}

// New constructs an unbound object tagged with the given finalization
// group. It must be bound before any handle to it is shared across
// threads.
func New(group Group) *Object {
	return &Object{regionID: InvalidRegionID, group: group}
}

// IsManaged reports whether the object is currently bound to a region.
func (o *Object) IsManaged() bool {
	return o.regionID != InvalidRegionID
}

// RegionID returns the id of the region this object is bound to, or
// InvalidRegionID if unbound.
func (o *Object) RegionID() RegionID {
	return o.regionID
}

// Group returns the object's finalization bucket tag.
func (o *Object) Group() Group {
	return o.group
}

// Index returns the object's slot in the arena it was registered with.
func (o *Object) Index() uint32 {
	return o.index
}

// Base returns the object itself, letting types that embed an Object
// (or a field of one) satisfy a common "has an Object" interface.
func (o *Object) Base() *Object {
	return o
}

// Bind associates the object with a region and the arena slot that a
// pending operation will name it by. An object can only be bound once,
// when a handle to it is first created.
func (o *Object) Bind(regionID RegionID, index uint32) {
	if o.IsManaged() {
		panic("object: already bound to a region")
	}
	o.regionID = regionID
	o.index = index
}

// ApplyIncrement adds delta to the reference count. It always reports
// the object as alive, mirroring ApplyDecrement's signature so a
// caller can dispatch on operation sign uniformly.
func (o *Object) ApplyIncrement(delta uint32) bool {
	o.referenceCount += delta
	return true
}

// ApplyDecrement subtracts delta from the reference count, clamping at
// zero. It reports whether the object is still alive; on death it
// unbinds the object (clearing its region id) so IsManaged reflects its
// finalized state.
func (o *Object) ApplyDecrement(delta uint32) bool {
	if o.referenceCount < delta {
		o.referenceCount = 0
		o.regionID = InvalidRegionID
		return false
	}
	o.referenceCount -= delta
	return true
}

// ReferenceCount returns the object's current reference count. Intended
// for diagnostics and tests; the domain thread is the only writer.
func (o *Object) ReferenceCount() uint32 {
	return o.referenceCount
}
