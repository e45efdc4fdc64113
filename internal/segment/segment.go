// Package segment implements the write-barrier segment: a private,
// page-aligned memory mapping that holds a contiguous run of pending
// operations, terminated by a guard page used to detect overflow via
// the page-fault mechanism in internal/pagefault.
package segment

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/behrlich/mantle/internal/constants"
	"github.com/behrlich/mantle/internal/wireop"
)

const (
	pageSize    = 4096
	opSize      = 8 // sizeof(wireop.Operation)
	dataBytes   = constants.SegmentCapacity * opSize
	mappingSize = dataBytes + pageSize
)

// Segment is a single write-barrier segment. It is not safe for
// concurrent use: exactly one region thread writes to it, and exactly
// one domain thread reads its committed counters and guard page.
type Segment struct {
	// Prev links to the segment below this one in its barrier's stack.
	Prev *Segment

	// Primed is true while the guard page is write-protected and
	// stamped with this segment's own address.
	Primed bool

	// IncrementCount and DecrementCount record how many operations of
	// each sign were committed into this segment before it stopped
	// being the active one for that sign.
	IncrementCount uint32
	DecrementCount uint32

	mapping []byte
}

// New allocates a fresh segment backed by a private anonymous mapping.
func New() (*Segment, error) {
	mem, err := unix.Mmap(-1, 0, mappingSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("segment: mmap failed: %w", err)
	}
	return &Segment{mapping: mem}, nil
}

// Destroy releases the segment's backing mapping. Only called when the
// segment pool itself is torn down; segments are otherwise recycled.
func (s *Segment) Destroy() error {
	return unix.Munmap(s.mapping)
}

// Base returns the address of the first operation slot, used as this
// segment's stable identity (stamped into the guard page while primed).
func (s *Segment) Base() uintptr {
	return uintptr(unsafe.Pointer(&s.mapping[0]))
}

// Cursor returns a raw pointer to the slot at the given operation
// index. Index may equal SegmentCapacity, in which case the returned
// pointer lands on the first byte of the guard page: writing through
// it while primed is what triggers the page fault.
func (s *Segment) Cursor(index uint32) unsafe.Pointer {
	return unsafe.Pointer(s.Base() + uintptr(index)*opSize)
}

// GuardPage returns the trailing page used for overflow detection.
func (s *Segment) GuardPage() []byte {
	return s.mapping[dataBytes:]
}

// Operations returns the committed operations in this segment, i.e.
// the first count slots (count being IncrementCount or DecrementCount
// depending on which cursor this segment served).
func (s *Segment) Operations(count uint32) []wireop.Operation {
	if count == 0 {
		return nil
	}
	return unsafe.Slice((*wireop.Operation)(unsafe.Pointer(s.Base())), count)
}

// StampAddress writes this segment's own base address into its guard
// page, so the page-fault handler can identify which segment a fault
// belongs to purely from the faulting address.
func (s *Segment) StampAddress() {
	binary.LittleEndian.PutUint64(s.GuardPage(), uint64(s.Base()))
}

// StampedAddress reads back the address previously written by
// StampAddress.
func (s *Segment) StampedAddress() uintptr {
	return uintptr(binary.LittleEndian.Uint64(s.GuardPage()))
}

// Reset clears a segment's metadata before it's returned to the pool.
// The backing mapping is retained to amortize allocation.
func (s *Segment) Reset() {
	s.Prev = nil
	s.Primed = false
	s.IncrementCount = 0
	s.DecrementCount = 0
}
