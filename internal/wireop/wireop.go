// Package wireop implements the tagged operation encoding described by
// the reference model: a single word carrying a target object, a sign
// (increment/decrement), and a power-of-two exponent.
//
// The reference implementation packs a raw object pointer into the
// high bits of the word, relying on a documented object alignment to
// guarantee the low tag bits are free. That trick is unsafe to replicate
// literally in Go: a uintptr derived from an object's address and then
// stashed only inside a []byte-backed segment mapping is invisible to
// the garbage collector, so the referenced Object could be collected
// out from under a pending operation even though nothing has applied it
// yet. This package instead uses the arena/object-table fallback the
// design explicitly sanctions: operations carry a small object-table
// index rather than a pointer, and the table holds the real *Object
// references, keeping them reachable for as long as any operation (or
// any live handle) might still name them.
package wireop

import "github.com/behrlich/mantle/internal/constants"

// Type is the sign of an operation.
type Type uint8

const (
	Increment Type = iota
	Decrement
)

func (t Type) String() string {
	switch t {
	case Increment:
		return "INCREMENT"
	case Decrement:
		return "DECREMENT"
	default:
		return "UNKNOWN"
	}
}

const (
	exponentShift = 0
	exponentMask  = uint64(constants.ExponentMax) << exponentShift
	typeShift     = constants.ExponentBits
	typeMask      = uint64(1) << typeShift
	tagBits       = constants.TagBits
	indexShift    = tagBits
)

// Operation is a 64-bit word encoding (object table index, sign,
// exponent). The zero value is the null operation (index 0 is reserved
// and never allocated by the arena, see internal/object/arena.go).
type Operation uint64

// Make builds an operation referencing the object at table index index
// with the given type and exponent.
func Make(index uint32, t Type, exponent uint8) Operation {
	if exponent > constants.ExponentMax {
		panic("wireop: exponent out of range")
	}
	word := uint64(index) << indexShift
	word |= uint64(t) << typeShift
	word |= uint64(exponent) << exponentShift
	return Operation(word)
}

// Null returns the no-op/padding operation.
func Null() Operation {
	return Operation(0)
}

// IncrementOp returns an increment operation for the given table index.
func IncrementOp(index uint32, exponent uint8) Operation {
	return Make(index, Increment, exponent)
}

// DecrementOp returns a decrement operation for the given table index.
func DecrementOp(index uint32, exponent uint8) Operation {
	return Make(index, Decrement, exponent)
}

// IsNull reports whether this is the padding operation.
func (op Operation) IsNull() bool {
	return op.Index() == 0
}

// Index returns the object-table index this operation targets.
func (op Operation) Index() uint32 {
	return uint32(uint64(op) >> indexShift)
}

// Type returns the operation's sign.
func (op Operation) Type() Type {
	return Type((uint64(op) & typeMask) >> typeShift)
}

// Exponent returns the operation's magnitude exponent in [0, ExponentMax].
func (op Operation) Exponent() uint8 {
	return uint8((uint64(op) & exponentMask) >> exponentShift)
}

// Magnitude returns 2^exponent.
func (op Operation) Magnitude() uint32 {
	return uint32(1) << op.Exponent()
}

// Value returns the signed delta this operation represents.
func (op Operation) Value() int64 {
	m := int64(op.Magnitude())
	if op.Type() == Decrement {
		return -m
	}
	return m
}

// Batch is a cache-line-sized array of operations. Partially filled
// batches must be padded with Null() before publication.
type Batch [constants.OperationBatchSize]Operation

// At indexes a batch modulo its size, mirroring the reference
// implementation's sequence-modulo addressing.
func (b *Batch) At(sequence uint64) *Operation {
	return &b[sequence%uint64(len(b))]
}

// ForEach iterates every operation in every batch of a slice of batches,
// in order.
func ForEach(batches []Batch, handler func(Operation)) {
	for i := range batches {
		for _, op := range batches[i] {
			handler(op)
		}
	}
}
