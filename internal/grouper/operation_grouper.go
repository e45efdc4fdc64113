// Package grouper implements the two merge stages that sit between a
// region's write barrier and its controller: the operation grouper
// nets repeated increments/decrements against the same object before
// they're applied, and the object grouper batches objects that died in
// the same cycle by their group tag for finalization.
package grouper

import (
	"github.com/behrlich/mantle/internal/objectcache"
	"github.com/behrlich/mantle/internal/wireop"
)

// Delta is one object's net pending change along with the sign it
// should be filed under once flushed.
type Delta struct {
	Index uint32
	Value int64
}

// OperationGrouperMetrics accumulates lifetime counters.
type OperationGrouperMetrics struct {
	WrittenCount           uint64
	WrittenIncrementCount  uint64
	WrittenDecrementCount  uint64
	FlushedCount           uint64
	FlushedIncrementCount  uint64
	FlushedDecrementCount  uint64
}

type operationGroup struct {
	delta    int64
	hitCount uint64
	hitDecay uint64
}

// OperationGrouper merges repeated operations on the same object into
// a single net delta, so that a hot object only costs one write per
// cycle instead of one write per operation. It is backed by a small
// set-associative cache; objects evicted from the cache (or flushed
// outright) are appended to the increments or decrements output based
// on the sign of their net delta.
type OperationGrouper struct {
	cache     *objectcache.Cache[operationGroup]
	cacheSize int

	increments []Delta
	decrements []Delta

	metrics OperationGrouperMetrics
}

// New constructs an operation grouper sized per the runtime's
// configured merge-cache dimensions.
func New() *OperationGrouper {
	return &OperationGrouper{cache: objectcache.Default[operationGroup]()}
}

// Metrics returns lifetime counters.
func (g *OperationGrouper) Metrics() OperationGrouperMetrics {
	return g.metrics
}

// IsDirty reports whether any operations are cached but not yet
// flushed into the increments/decrements output.
func (g *OperationGrouper) IsDirty() bool {
	return g.cacheSize > 0
}

// Increments returns the net positive deltas produced by flushes since
// the last Clear.
func (g *OperationGrouper) Increments() []Delta {
	return g.increments
}

// Decrements returns the net negative deltas produced by flushes since
// the last Clear.
func (g *OperationGrouper) Decrements() []Delta {
	return g.decrements
}

// Write merges op into the cache. If flush is true, the operation
// bypasses the cache and is filed directly into the increments or
// decrements output without re-encoding; this is used when the grouper
// is disabled for a cycle. Null operations are ignored.
func (g *OperationGrouper) Write(op wireop.Operation, flush bool) {
	if op.IsNull() {
		return
	}

	if flush {
		if op.Type() == wireop.Increment {
			g.increments = append(g.increments, Delta{Index: op.Index(), Value: op.Value()})
		} else {
			g.decrements = append(g.decrements, Delta{Index: op.Index(), Value: op.Value()})
		}
		return
	}

	cursor := g.chooseWay(op.Index())
	entry := g.cache.Load(cursor)

	switch {
	case entry.Key == op.Index() && entry.Val.hitCount > 0 || entry.Key == op.Index():
		entry.Val.delta += op.Value()
		entry.Val.hitCount++
		if entry.Val.delta != 0 {
			g.cache.Store(cursor, entry)
		} else {
			g.cache.Reset(cursor)
			g.cacheSize--
		}
	case entry.Key != 0:
		g.flushGroup(cursor, true)
		g.cache.Store(cursor, objectcache.Entry[operationGroup]{
			Key: op.Index(),
			Val: operationGroup{delta: op.Value(), hitDecay: 1},
		})
		g.cacheSize++
	default:
		g.cache.Store(cursor, objectcache.Entry[operationGroup]{
			Key: op.Index(),
			Val: operationGroup{delta: op.Value(), hitDecay: 1},
		})
		g.cacheSize++
	}

	g.noteWritten(op)
}

// Flush walks every cache slot, filing each non-empty group into the
// increments/decrements output if it's stale (hit_decay >= hit_count)
// or force is true; otherwise its hit_decay is doubled and it survives
// another cycle.
func (g *OperationGrouper) Flush(force bool) {
	for set := 0; set < g.cache.Sets(); set++ {
		for way := 0; way < g.cache.Ways(); way++ {
			g.flushGroup(g.cache.CursorAt(set, way), force)
		}
	}
}

// Clear empties the increments/decrements output slices, retaining
// their backing arrays.
func (g *OperationGrouper) Clear() {
	g.increments = g.increments[:0]
	g.decrements = g.decrements[:0]
}

// Reset flushes every cached group unconditionally and clears the
// output, returning the grouper to its initial empty state.
func (g *OperationGrouper) Reset() {
	g.Flush(true)
	g.Clear()
}

func (g *OperationGrouper) chooseWay(index uint32) objectcache.Cursor {
	begin, end := g.cache.EqualRange(index)

	for cur := begin; cur != end; {
		if entry := g.cache.Load(cur); entry.Key == index {
			return cur
		}
		var ok bool
		cur, ok = cur.Next(end)
		if !ok {
			break
		}
	}

	for cur := begin; cur != end; {
		if entry := g.cache.Load(cur); entry.Key == 0 {
			return cur
		}
		var ok bool
		cur, ok = cur.Next(end)
		if !ok {
			break
		}
	}

	minCursor := begin
	minMagnitude := int64(-1)
	for cur := begin; cur != end; {
		entry := g.cache.Load(cur)
		magnitude := entry.Val.delta
		if magnitude < 0 {
			magnitude = -magnitude
		}
		if minMagnitude < 0 || magnitude < minMagnitude {
			minCursor = cur
			minMagnitude = magnitude
		}
		var ok bool
		cur, ok = cur.Next(end)
		if !ok {
			break
		}
	}
	return minCursor
}

func (g *OperationGrouper) flushGroup(cursor objectcache.Cursor, force bool) {
	entry := g.cache.Load(cursor)
	if entry.Key == 0 {
		return
	}

	if entry.Val.hitDecay < entry.Val.hitCount && !force {
		entry.Val.hitDecay *= 2
		g.cache.Store(cursor, entry)
		return
	}

	delta := Delta{Index: entry.Key, Value: entry.Val.delta}
	if entry.Val.delta >= 0 {
		g.increments = append(g.increments, delta)
		g.metrics.FlushedIncrementCount++
	} else {
		g.decrements = append(g.decrements, delta)
		g.metrics.FlushedDecrementCount++
	}
	g.metrics.FlushedCount++

	g.resetGroup(cursor)
}

func (g *OperationGrouper) resetGroup(cursor objectcache.Cursor) {
	if entry := g.cache.Load(cursor); entry.Key != 0 {
		g.cache.Reset(cursor)
		g.cacheSize--
	}
}

func (g *OperationGrouper) noteWritten(op wireop.Operation) {
	g.metrics.WrittenCount++
	if op.Type() == wireop.Increment {
		g.metrics.WrittenIncrementCount++
	} else {
		g.metrics.WrittenDecrementCount++
	}
}
