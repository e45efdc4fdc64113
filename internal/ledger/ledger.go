// Package ledger implements the per-region, phase-partitioned log of
// pending reference-count operations: the write barrier, its segment
// stack, and the manager that resolves guard-page faults to rotate
// segments without locking the hot path.
package ledger

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/behrlich/mantle/internal/constants"
	"github.com/behrlich/mantle/internal/pagefault"
	"github.com/behrlich/mantle/internal/segment"
	"github.com/behrlich/mantle/internal/wireop"
)

// Phase names one of the four rotating roles a barrier can hold in a
// given cycle.
type Phase uint8

const (
	StoreDecrements Phase = iota
	Wait
	StoreIncrements
	Sync
	PhaseCount = 4
)

func (p Phase) String() string {
	switch p {
	case StoreDecrements:
		return "STORE_DECREMENTS"
	case Wait:
		return "WAIT"
	case StoreIncrements:
		return "STORE_INCREMENTS"
	case Sync:
		return "SYNC"
	default:
		return "UNKNOWN"
	}
}

// Barrier is a stack of segments belonging to one ledger slot. Its
// active phase rotates with the ledger's sequence number.
type Barrier struct {
	ledger     *Ledger
	phaseShift uint64
	top        *segment.Segment
}

// Phase reports which of the four cycle phases this barrier currently
// plays.
func (b *Barrier) Phase() Phase {
	return Phase((b.ledger.sequence + b.phaseShift) % PhaseCount)
}

// IsEmpty reports whether the barrier has no attached segments.
func (b *Barrier) IsEmpty() bool {
	return b.top == nil
}

// Back returns the top of the segment stack, or nil if empty.
func (b *Barrier) Back() *segment.Segment {
	return b.top
}

// PushBack attaches a freshly primed, empty segment to the top of the
// stack. If the barrier's phase (after the push) is one of the two
// STORE phases, the ledger's matching cursor is republished to point
// at the new segment.
func (b *Barrier) PushBack(seg *segment.Segment) {
	if seg.Prev != nil || seg.IncrementCount != 0 || seg.DecrementCount != 0 || !seg.Primed {
		panic("ledger: pushed segment must be unattached, empty, and primed")
	}

	seg.Prev = b.top
	b.top = seg

	switch b.Phase() {
	case StoreIncrements:
		b.ledger.setIncrementCursor(seg, 0)
	case StoreDecrements:
		b.ledger.setDecrementCursor(seg, 0)
	}
}

// PopBack detaches and returns the top segment, clearing the matching
// ledger cursor first if this barrier is currently a STORE phase.
func (b *Barrier) PopBack() *segment.Segment {
	switch b.Phase() {
	case StoreIncrements:
		b.ledger.clearIncrementCursor()
	case StoreDecrements:
		b.ledger.clearDecrementCursor()
	}

	top := b.top
	b.top = top.Prev
	return top
}

// Commit snapshots the number of operations written into the top
// segment since it became active, storing it into the segment's
// IncrementCount or DecrementCount. Only valid while the barrier is in
// one of the two STORE phases. If pendingWrite is true (the commit was
// triggered by a guard-page fault rather than a natural cycle
// boundary), the segment's primed flag is cleared first so it can be
// re-primed.
func (b *Barrier) Commit(pendingWrite bool) {
	if pendingWrite {
		b.top.Primed = false
	}

	switch b.Phase() {
	case StoreIncrements:
		b.top.IncrementCount = b.ledger.incrementOffset(b.top)
	case StoreDecrements:
		b.top.DecrementCount = b.ledger.decrementOffset(b.top)
	default:
		panic("ledger: commit only valid during a STORE phase")
	}
}

// Ledger owns exactly four barriers, one per cycle phase, and the
// region-local cursors used by the hot-path increment/decrement entry
// points. A Ledger is owned by exactly one region and must never be
// shared across goroutines.
type Ledger struct {
	sequence uint64

	barriers [PhaseCount]*Barrier
	manager  *Manager

	incrementSegment *segment.Segment
	incrementCursor  unsafe.Pointer
	incrementBase    uint32

	decrementSegment *segment.Segment
	decrementCursor  unsafe.Pointer
	decrementBase    uint32
}

// New creates a ledger attached to the given manager, which allocates
// and primes the four initial segments.
func New(manager *Manager) (*Ledger, error) {
	l := &Ledger{manager: manager}
	for i := 0; i < PhaseCount; i++ {
		l.barriers[i] = &Barrier{ledger: l, phaseShift: uint64(i)}
	}
	for _, b := range l.barriers {
		if err := manager.attach(b); err != nil {
			return nil, fmt.Errorf("ledger: attach failed: %w", err)
		}
	}
	return l, nil
}

// Close detaches and returns all segments to the manager's pool.
func (l *Ledger) Close() {
	for _, b := range l.barriers {
		l.manager.detach(b)
	}
}

// Sequence returns the ledger's current sequence number.
func (l *Ledger) Sequence() uint64 {
	return l.sequence
}

// IsEmpty reports whether no operations have been written into the
// ledger's current active segments since the last Step, i.e. whether
// this cycle has nothing worth submitting.
func (l *Ledger) IsEmpty() bool {
	return l.incrementOffset(l.incrementSegment) == 0 && l.decrementOffset(l.decrementSegment) == 0
}

// Barrier returns the barrier currently playing the given phase.
func (l *Ledger) Barrier(phase Phase) *Barrier {
	idx := (uint64(phase) - l.sequence) % PhaseCount
	b := l.barriers[idx]
	if b.Phase() != phase {
		panic("ledger: barrier/phase bookkeeping is inconsistent")
	}
	return b
}

// IncrementBarrier returns the barrier currently collecting increments.
func (l *Ledger) IncrementBarrier() *Barrier { return l.Barrier(StoreIncrements) }

// DecrementBarrier returns the barrier currently collecting decrements.
func (l *Ledger) DecrementBarrier() *Barrier { return l.Barrier(StoreDecrements) }

// ReadyBarriers returns the two barriers whose collecting turn the last
// Step closed: the one holding increments (now in SYNC) and the one
// holding decrements (now in WAIT). Both hold operations written during
// the same turn; decrements are not held back an extra cycle. A
// controller drains both every step.
func (l *Ledger) ReadyBarriers() (increments, decrements *Barrier) {
	return l.Barrier(Sync), l.Barrier(Wait)
}

// IncrementRef is the hot-path entry point: it writes an increment
// operation at the current cursor and advances it. Not atomic and not
// synchronized; safe only because each ledger is owned by exactly one
// region thread and the domain never dereferences the cursor directly.
func (l *Ledger) IncrementRef(objectIndex uint32, exponent uint8) {
	op := wireop.IncrementOp(objectIndex, exponent)
	*(*wireop.Operation)(l.incrementCursor) = op
	l.incrementCursor = unsafe.Add(l.incrementCursor, 8)
}

// DecrementRef is the hot-path entry point for decrements.
func (l *Ledger) DecrementRef(objectIndex uint32, exponent uint8) {
	op := wireop.DecrementOp(objectIndex, exponent)
	*(*wireop.Operation)(l.decrementCursor) = op
	l.decrementCursor = unsafe.Add(l.decrementCursor, 8)
}

func (l *Ledger) setIncrementCursor(seg *segment.Segment, index uint32) {
	l.incrementSegment = seg
	l.incrementBase = index
	l.incrementCursor = seg.Cursor(index)
}

func (l *Ledger) clearIncrementCursor() {
	l.incrementSegment = nil
	l.incrementCursor = nil
}

func (l *Ledger) setDecrementCursor(seg *segment.Segment, index uint32) {
	l.decrementSegment = seg
	l.decrementBase = index
	l.decrementCursor = seg.Cursor(index)
}

func (l *Ledger) clearDecrementCursor() {
	l.decrementSegment = nil
	l.decrementCursor = nil
}

// incrementOffset reports how many increment slots have been written
// into seg since it became the active increment segment.
func (l *Ledger) incrementOffset(seg *segment.Segment) uint32 {
	if l.incrementSegment != seg {
		return 0
	}
	return uint32((uintptr(l.incrementCursor)-seg.Base())/8) - l.incrementBase
}

func (l *Ledger) decrementOffset(seg *segment.Segment) uint32 {
	if l.decrementSegment != seg {
		return 0
	}
	return uint32((uintptr(l.decrementCursor)-seg.Base())/8) - l.decrementBase
}

// Step commits whatever is pending in the current STORE barriers (as a
// natural cycle boundary, not a fault), advances the sequence number,
// and republishes both cursors to point inside the (now rotated)
// active segments.
func (l *Ledger) Step() {
	l.IncrementBarrier().Commit(false)
	l.DecrementBarrier().Commit(false)
	l.sequence++

	incBarrier := l.IncrementBarrier()
	decBarrier := l.DecrementBarrier()
	if seg := incBarrier.Back(); seg != nil {
		l.setIncrementCursor(seg, 0)
	}
	if seg := decBarrier.Back(); seg != nil {
		l.setDecrementCursor(seg, 0)
	}
}

// Manager owns the segment pool and the userfaultfd handler shared by
// every ledger in the domain. It lives on the domain side.
type Manager struct {
	handler *pagefault.Handler

	mu      sync.Mutex
	pool    []*segment.Segment
	tracked map[uintptr]trackedSegment
}

// trackedSegment records which barrier currently owns a live segment,
// keyed by the segment's base address so a guard-page fault (which only
// carries an address) can be resolved back to a barrier.
type trackedSegment struct {
	segment *segment.Segment
	barrier *Barrier
}

// NewManager creates a manager backed by a fresh page-fault handler.
func NewManager() (*Manager, error) {
	h, err := pagefault.New()
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to create page-fault handler: %w", err)
	}
	return &Manager{handler: h}, nil
}

// Close releases the page-fault handler and every pooled segment.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, seg := range m.pool {
		seg.Destroy()
	}
	m.pool = nil
	return m.handler.Close()
}

// FileDescriptor returns the userfaultfd fd, for registration with a
// Selector.
func (m *Manager) FileDescriptor() int {
	return m.handler.FileDescriptor()
}

// Poll resolves one pending write-protection fault, if any: it
// identifies the overflowing segment from the faulting page, commits
// it, attaches a freshly primed segment in its place, and unprotects
// the faulted page so the stalled write can retry and complete.
func (m *Manager) Poll(nonBlocking bool) error {
	_, err := m.handler.Poll(func(page uintptr, mode pagefault.Mode) {
		if mode != pagefault.WriteProtect {
			panic("ledger: unexpected MISSING fault; only WRITE_PROTECT is registered")
		}

		prevAddr := *(*uint64)(unsafe.Pointer(page))

		m.mu.Lock()
		tracked, ok := m.tracked[uintptr(prevAddr)]
		m.mu.Unlock()
		if !ok {
			panic("ledger: fault did not resolve to a known segment")
		}
		prev, barrier := tracked.segment, tracked.barrier

		barrier.Commit(true)

		next, err := m.allocate()
		if err != nil {
			panic(fmt.Sprintf("ledger: failed to allocate replacement segment: %v", err))
		}
		m.track(next, barrier)
		barrier.PushBack(next)

		if err := m.handler.WriteUnprotectMemory(prev.GuardPage()); err != nil {
			panic(fmt.Sprintf("ledger: failed to unprotect guard page: %v", err))
		}
	})
	return err
}

// attach allocates and primes a fresh segment for a newly constructed
// barrier and pushes it on.
func (m *Manager) attach(b *Barrier) error {
	seg, err := m.allocate()
	if err != nil {
		return err
	}
	m.track(seg, b)
	b.PushBack(seg)
	return nil
}

// detach pops and deallocates every segment attached to a barrier.
func (m *Manager) detach(b *Barrier) {
	for !b.IsEmpty() {
		seg := b.PopBack()
		m.deallocate(seg)
	}
}

// Drain removes every segment attached to a ready (WAIT or SYNC)
// barrier and attaches a freshly primed replacement, so the barrier has
// an empty segment waiting by the time its phase rotates back into a
// STORE role. Segments are returned bottom-first, i.e. in the order
// their operations were originally committed (a barrier only holds more
// than one segment when a guard-page fault rotated it mid-turn). The
// caller must return the drained segments with Release once it has
// read their operations.
func (m *Manager) Drain(b *Barrier) ([]*segment.Segment, error) {
	var segs []*segment.Segment
	for !b.IsEmpty() {
		segs = append(segs, b.PopBack())
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}

	next, err := m.allocate()
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to allocate replacement segment: %w", err)
	}
	m.track(next, b)
	b.PushBack(next)

	return segs, nil
}

// Release returns segments obtained from Drain to the pool once the
// caller has finished reading their operations.
func (m *Manager) Release(segs []*segment.Segment) {
	for _, seg := range segs {
		m.deallocate(seg)
	}
}

func (m *Manager) track(seg *segment.Segment, b *Barrier) {
	m.mu.Lock()
	if m.tracked == nil {
		m.tracked = make(map[uintptr]trackedSegment)
	}
	m.tracked[seg.Base()] = trackedSegment{segment: seg, barrier: b}
	m.mu.Unlock()
}

func (m *Manager) untrack(seg *segment.Segment) {
	m.mu.Lock()
	delete(m.tracked, seg.Base())
	m.mu.Unlock()
}

func (m *Manager) allocate() (*segment.Segment, error) {
	m.mu.Lock()
	var seg *segment.Segment
	if n := len(m.pool); n > 0 {
		seg = m.pool[n-1]
		m.pool = m.pool[:n-1]
	}
	m.mu.Unlock()

	if seg == nil {
		var err error
		seg, err = segment.New()
		if err != nil {
			return nil, err
		}
		if err := m.handler.RegisterMemory(seg.GuardPage(), false, true); err != nil {
			return nil, fmt.Errorf("ledger: failed to register guard page: %w", err)
		}
	}

	if err := m.primeGuardPage(seg); err != nil {
		return nil, err
	}
	return seg, nil
}

func (m *Manager) deallocate(seg *segment.Segment) {
	m.untrack(seg)
	seg.Reset()

	m.mu.Lock()
	m.pool = append(m.pool, seg)
	m.mu.Unlock()
}

func (m *Manager) primeGuardPage(seg *segment.Segment) error {
	if seg.Primed {
		return nil
	}
	seg.StampAddress()
	if err := m.handler.WriteProtectMemory(seg.GuardPage()); err != nil {
		return fmt.Errorf("ledger: failed to write-protect guard page: %w", err)
	}
	seg.Primed = true
	return nil
}
