package census

// SequenceRange is a half-open [Head, Tail) span of sequence numbers.
type SequenceRange struct {
	Head uint64
	Tail uint64
}

// SequenceRangeHistory is a fixed-capacity ring recording the tail of
// each cycle boundary as it's inserted, so a caller can later recover
// the head/tail span of any of the last capacity cycles. A range's
// head is implicitly the previous range's tail, matching how cycles
// tile contiguously.
type SequenceRangeHistory struct {
	nextSlot uint64
	data     []uint64
	mask     uint64
}

// NewSequenceRangeHistory builds a history with the given capacity,
// rounded up to the next power of two, pre-populated with zero ranges.
func NewSequenceRangeHistory(capacity int) *SequenceRangeHistory {
	size := 1
	for size < capacity {
		size *= 2
	}
	return &SequenceRangeHistory{
		data: make([]uint64, size),
		mask: uint64(size - 1),
	}
}

// Capacity returns the number of ranges the history retains.
func (h *SequenceRangeHistory) Capacity() int {
	return len(h.data)
}

// Insert records tail as the end of the most recently completed cycle.
func (h *SequenceRangeHistory) Insert(tail uint64) {
	h.data[h.nextSlot&h.mask] = tail
	h.nextSlot++
}

// Select returns the age-th most recently inserted range: age 0 is the
// most recent, age 1 the one before it, and so on.
func (h *SequenceRangeHistory) Select(age int) SequenceRange {
	prevSlot := h.nextSlot - 1
	headIdx := (prevSlot - uint64(age) - 1) & h.mask
	tailIdx := (prevSlot - uint64(age)) & h.mask
	return SequenceRange{Head: h.data[headIdx], Tail: h.data[tailIdx]}
}
