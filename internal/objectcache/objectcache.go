// Package objectcache implements a small, fixed-size set-associative
// cache keyed by object-table index. It backs the operation grouper's
// merge cache, where a run of operations against the same object needs
// to be found and netted without a full map lookup per operation.
package objectcache

import "github.com/behrlich/mantle/internal/constants"

// Cache is a CACHE_SIZE-entry, CACHE_WAYS-way set-associative cache
// mapping an object-table index to a value of type T. It is not safe
// for concurrent use; each grouper owns its own cache.
type Cache[T any] struct {
	size int
	ways int
	sets int

	keys []uint32
	vals []T
	live []bool
}

// New builds a cache with the given total size and associativity. Both
// must be powers of two and size must be a multiple of ways.
func New[T any](size, ways int) *Cache[T] {
	if size <= 0 || ways <= 0 || size%ways != 0 {
		panic("objectcache: size must be a positive multiple of ways")
	}
	if size&(size-1) != 0 || ways&(ways-1) != 0 {
		panic("objectcache: size and ways must be powers of two")
	}

	c := &Cache[T]{
		size: size,
		ways: ways,
		sets: size / ways,
		keys: make([]uint32, size),
		vals: make([]T, size),
		live: make([]bool, size),
	}
	return c
}

// Default constructs a cache sized per the runtime's configured
// operation grouper dimensions.
func Default[T any]() *Cache[T] {
	return New[T](constants.OperationCacheSize, constants.OperationCacheWays)
}

// Cursor addresses one slot: a (set, way) pair flattened to a position.
type Cursor struct {
	pos int
}

// Sets returns the number of sets in the cache.
func (c *Cache[T]) Sets() int { return c.sets }

// Ways returns the cache's associativity.
func (c *Cache[T]) Ways() int { return c.ways }

// CursorAt returns the cursor addressing the given way of the given set.
func (c *Cache[T]) CursorAt(set, way int) Cursor {
	return Cursor{pos: set*c.ways + way}
}

func (c *Cache[T]) setOf(key uint32) int {
	return int(key) & (c.sets - 1)
}

// EqualRange returns the half-open span of cursors [begin, end) that
// might hold an entry for key, i.e. every way of its set.
func (c *Cache[T]) EqualRange(key uint32) (begin, end Cursor) {
	set := c.setOf(key)
	return Cursor{pos: set * c.ways}, Cursor{pos: (set + 1) * c.ways}
}

// Next advances a cursor by one way, returning false once it reaches
// the end of its set (or the cache).
func (cur Cursor) Next(bound Cursor) (Cursor, bool) {
	next := Cursor{pos: cur.pos + 1}
	return next, next.pos < bound.pos
}

// Entry is a single cached (key, value) pair. A zero-value key denotes
// an empty slot, mirroring the reference implementation's use of a null
// object pointer as the empty marker; index 0 is reserved in the
// object table precisely so it can serve this role (see
// internal/wireop's discussion of Operation.IsNull).
type Entry[T any] struct {
	Key uint32
	Val T
}

// Load reads the entry at cur.
func (c *Cache[T]) Load(cur Cursor) Entry[T] {
	if !c.live[cur.pos] {
		var zero T
		return Entry[T]{Val: zero}
	}
	return Entry[T]{Key: c.keys[cur.pos], Val: c.vals[cur.pos]}
}

// Store writes an entry at cur, marking the slot live.
func (c *Cache[T]) Store(cur Cursor, entry Entry[T]) {
	c.keys[cur.pos] = entry.Key
	c.vals[cur.pos] = entry.Val
	c.live[cur.pos] = true
}

// Reset clears the entry at cur.
func (c *Cache[T]) Reset(cur Cursor) {
	var zero T
	c.keys[cur.pos] = 0
	c.vals[cur.pos] = zero
	c.live[cur.pos] = false
}

// ResetAll clears every entry in the cache.
func (c *Cache[T]) ResetAll() {
	for i := range c.live {
		c.live[i] = false
		c.keys[i] = 0
	}
}

// Find locates a live entry for key within its set, returning its
// cursor and true, or a zero cursor and false if absent.
func (c *Cache[T]) Find(key uint32) (Cursor, bool) {
	begin, end := c.EqualRange(key)
	for cur := begin; cur.pos < end.pos; cur.pos++ {
		if c.live[cur.pos] && c.keys[cur.pos] == key {
			return cur, true
		}
	}
	return Cursor{}, false
}

// FindEmpty locates the first empty slot within key's set, returning
// its cursor and true, or false if the set is fully occupied.
func (c *Cache[T]) FindEmpty(key uint32) (Cursor, bool) {
	begin, end := c.EqualRange(key)
	for cur := begin; cur.pos < end.pos; cur.pos++ {
		if !c.live[cur.pos] {
			return cur, true
		}
	}
	return Cursor{}, false
}
