package object

import "sync"

// Arena is the object table operations reference by index rather than
// by pointer (see internal/wireop's doc comment for why). Index 0 is
// reserved so the zero Operation value can serve as the null/padding
// operation.
//
// An Arena is shared by every region bound to the same domain, so
// registration and lookup are mutex-guarded; the hot increment/decrement
// path never touches it, only handle construction and the domain's
// operation-apply step do.
type Arena struct {
	mu      sync.Mutex
	objects []*Object
	free    []uint32
}

// NewArena builds an empty arena with its reserved null slot installed.
func NewArena() *Arena {
	return &Arena{objects: []*Object{nil}}
}

// Register assigns obj a free table index, growing the table if
// necessary, and returns it.
func (a *Arena) Register(obj *Object) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.objects[idx] = obj
		return idx
	}

	idx := uint32(len(a.objects))
	a.objects = append(a.objects, obj)
	return idx
}

// Lookup returns the object registered at index, or nil if index names
// the reserved null slot or has been released.
func (a *Arena) Lookup(index uint32) *Object {
	a.mu.Lock()
	defer a.mu.Unlock()

	if index == 0 || int(index) >= len(a.objects) {
		return nil
	}
	return a.objects[index]
}

// Release frees index for reuse once its object has been finalized.
func (a *Arena) Release(index uint32) {
	if index == 0 {
		panic("object: cannot release the reserved null index")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.objects[index] = nil
	a.free = append(a.free, index)
}

// Len reports the table's current capacity, including released slots.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.objects)
}
