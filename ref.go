package mantle

import (
	"github.com/behrlich/mantle/internal/constants"
	"github.com/behrlich/mantle/internal/object"
	"github.com/behrlich/mantle/internal/region"
)

// Based is implemented by every type a Ref[T] can hold: it must embed
// or otherwise provide the object.Object bookkeeping the runtime uses
// to track it.
type Based interface {
	Base() *object.Object
}

// Ref[T] is a strong, weighted reference to a T bound into a Region.
// It behaves like a shared_ptr with a twist: instead of carrying a
// live increment for every outstanding Ref, most copies carry only a
// pending decrement whose exponent ("weight") is split in half on
// each Clone. Only when a Ref's weight reaches zero does Clone pay for
// a real increment, refilling the weight to its maximum and amortizing
// that cost across every future split of the new, heavier Ref.
//
// A Ref must never be copied by assignment; use Clone to produce a new
// owning reference, and Close to release one. The zero Ref is empty
// and both Clone and Close are no-ops on it.
type Ref[T Based] struct {
	region *region.Region
	object T
	index  uint32
	weight uint8
	bound  bool
}

// BindRef registers obj with r's arena and returns a Ref owning the
// object's one implicit reference. The returned Ref starts at weight
// zero: nothing has been incremented yet, so its eventual Close (or
// the first Clone, whichever comes first) is what gives the object a
// real, ledger-visible reference count.
func BindRef[T Based](r *region.Region, obj T) Ref[T] {
	idx := r.BindObject(obj.Base())
	return Ref[T]{region: r, object: obj, index: idx, weight: 0, bound: true}
}

// IsValid reports whether h holds a live reference.
func (h *Ref[T]) IsValid() bool {
	return h.bound
}

// Get returns the referenced object, or the zero value of T if h is empty.
func (h *Ref[T]) Get() T {
	return h.object
}

// Weight returns the exponent of h's pending decrement. A freshly
// bound Ref reports weight 0. Every Clone lowers the exponent of both
// Refs by one, halving their pending decrements; cloning a weight-0 Ref
// first refills it to ExponentMax, so both come out at ExponentMax-1.
func (h *Ref[T]) Weight() uint8 {
	return h.weight
}

// Clone produces a second owning Ref to the same object, splitting h's
// pending decrement weight in half between the two. If h's weight has
// been exhausted (split down to zero), Clone first submits a real
// increment at ExponentMax and flushes h's exhausted decrement, then
// splits the fresh weight as usual. An empty h clones to another empty
// Ref.
func (h *Ref[T]) Clone() Ref[T] {
	if !h.bound {
		return Ref[T]{}
	}

	if h.weight == 0 {
		h.region.IncrementRef(h.index, constants.ExponentMax)
		h.region.DecrementRef(h.index, h.weight)
		h.weight = constants.ExponentMax
	}

	h.weight--
	return Ref[T]{region: h.region, object: h.object, index: h.index, weight: h.weight, bound: true}
}

// Close submits h's pending decrement and empties h. Calling Close on
// an empty Ref is a no-op.
func (h *Ref[T]) Close() {
	if !h.bound {
		return
	}

	h.region.DecrementRef(h.index, h.weight)
	*h = Ref[T]{}
}
