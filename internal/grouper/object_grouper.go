package grouper

// ObjectGroupCount bounds the number of distinct group tags, matching
// the 16-bit group tag width objects carry.
const ObjectGroupCount = 1 << 16

// ObjectGroups is the output of a flush: a single slice holding every
// object written since the last flush, partitioned and ordered by
// group tag, plus offsets into that slice so a caller can recover each
// group's member span in O(1).
type ObjectGroups[T any] struct {
	Objects     []T
	GroupMin    uint16
	GroupMax    uint16
	groupOffset []uint32
}

// ObjectCount is the total number of objects across every group.
func (g ObjectGroups[T]) ObjectCount() int {
	if len(g.groupOffset) == 0 {
		return 0
	}
	return int(g.groupOffset[int(g.GroupMax)+1])
}

// GroupMemberCount reports how many objects belong to the given group.
func (g ObjectGroups[T]) GroupMemberCount(group uint16) int {
	return int(g.groupOffset[int(group)+1] - g.groupOffset[int(group)])
}

// GroupMembers returns the slice of objects belonging to the given
// group. The returned slice aliases Objects; it is only valid until
// the next write/flush.
func (g ObjectGroups[T]) GroupMembers(group uint16) []T {
	begin := g.groupOffset[group]
	return g.Objects[begin : begin+uint32(g.GroupMemberCount(group))]
}

// ForEachGroup visits every populated group, in ascending order,
// between GroupMin and GroupMax.
func (g ObjectGroups[T]) ForEachGroup(visit func(group uint16)) {
	if len(g.groupOffset) == 0 {
		return
	}
	for group := g.GroupMin; ; group++ {
		if g.GroupMemberCount(group) > 0 {
			visit(group)
		}
		if group == g.GroupMax {
			break
		}
	}
}

// ObjectGrouperMetrics accumulates lifetime counters across flushes.
type ObjectGrouperMetrics struct {
	ObjectCount uint64
	GroupMin    uint16
	GroupMax    uint16
	seeded      bool
}

// ObjectGrouper batches a run of dead objects into per-group-tag
// buckets in O(n), using a two-pass counting sort: the first pass
// tallies how many objects fall in each group and derives prefix
// offsets, the second places every object directly into its final
// slot. This lets a finalizer process one group at a time instead of
// dispatching per object.
type ObjectGrouper[T any] struct {
	input    []T
	groups   []uint16
	groupMin uint16
	groupMax uint16

	buckets [ObjectGroupCount]uint32
	offsets [ObjectGroupCount + 1]uint32
	output  []T

	metrics ObjectGrouperMetrics
}

// NewObjectGrouper constructs an empty grouper.
func NewObjectGrouper[T any]() *ObjectGrouper[T] {
	g := &ObjectGrouper[T]{}
	g.resetRange()
	return g
}

func (g *ObjectGrouper[T]) resetRange() {
	g.groupMin = ^uint16(0)
	g.groupMax = 0
}

// Metrics returns lifetime counters across every flush so far.
func (g *ObjectGrouper[T]) Metrics() ObjectGrouperMetrics {
	return g.metrics
}

// Write stages one dead object with its group tag for the next flush.
func (g *ObjectGrouper[T]) Write(object T, group uint16) {
	g.buckets[group]++
	if group < g.groupMin {
		g.groupMin = group
	}
	if group > g.groupMax {
		g.groupMax = group
	}
	g.input = append(g.input, object)
	g.groups = append(g.groups, group)
}

// Flush partitions every staged object by group tag and returns a view
// over the result. The grouper is left empty, ready for the next round
// of writes.
func (g *ObjectGrouper[T]) Flush() ObjectGroups[T] {
	n := len(g.input)
	if n == 0 {
		return ObjectGroups[T]{}
	}

	g.metrics.ObjectCount += uint64(n)
	if !g.metrics.seeded {
		g.metrics.GroupMin = g.groupMin
		g.metrics.GroupMax = g.groupMax
		g.metrics.seeded = true
	} else {
		if g.groupMin < g.metrics.GroupMin {
			g.metrics.GroupMin = g.groupMin
		}
		if g.groupMax > g.metrics.GroupMax {
			g.metrics.GroupMax = g.groupMax
		}
	}

	if cap(g.output) < n {
		g.output = make([]T, n)
	} else {
		g.output = g.output[:n]
	}
	for i := range g.offsets {
		g.offsets[i] = 0
	}

	// Pass one: prefix offsets per group.
	offset := uint32(0)
	for group := int(g.groupMin); group <= int(g.groupMax); group++ {
		g.offsets[group] = offset
		offset += g.buckets[group]
	}
	g.offsets[int(g.groupMax)+1] = offset

	// Pass two: place each object into its final slot, consuming
	// buckets back-to-front so repeated writes of the same group stay
	// in their original relative order once popped from the end.
	remaining := g.buckets
	for i, object := range g.input {
		group := g.groups[i]
		remaining[group]--
		g.output[g.offsets[group]+remaining[group]] = object
	}

	result := ObjectGroups[T]{
		Objects:     g.output,
		GroupMin:    g.groupMin,
		GroupMax:    g.groupMax,
		groupOffset: g.offsets[:int(g.groupMax)+2],
	}

	g.input = g.input[:0]
	g.groups = g.groups[:0]
	for group := range g.buckets {
		g.buckets[group] = 0
	}
	g.resetRange()

	return result
}
