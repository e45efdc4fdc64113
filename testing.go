package mantle

import (
	"sync"

	"github.com/behrlich/mantle/internal/object"
	"github.com/behrlich/mantle/internal/region"
)

// MockFinalizer is a region.Finalizer that records every finalize call
// instead of disposing of anything, for use in tests that drive a
// Domain/Region pair and need to observe when objects die.
type MockFinalizer struct {
	mu          sync.Mutex
	calls       int
	groups      []uint16
	objects     []*object.Object
	finalizedAt map[*object.Object]int
}

// NewMockFinalizer creates an empty MockFinalizer.
func NewMockFinalizer() *MockFinalizer {
	return &MockFinalizer{finalizedAt: make(map[*object.Object]int)}
}

// Finalize implements region.Finalizer.
func (f *MockFinalizer) Finalize(group uint16, objects []*object.Object) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.groups = append(f.groups, group)
	f.objects = append(f.objects, objects...)
	for _, obj := range objects {
		f.finalizedAt[obj] = f.calls
	}
}

// Calls returns the number of times Finalize was invoked.
func (f *MockFinalizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Count returns the total number of objects finalized across every call.
func (f *MockFinalizer) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// Finalized reports whether obj has been finalized.
func (f *MockFinalizer) Finalized(obj *object.Object) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.finalizedAt[obj]
	return ok
}

// Reset clears every recorded call, for reuse across test cases.
func (f *MockFinalizer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = 0
	f.groups = nil
	f.objects = nil
	f.finalizedAt = make(map[*object.Object]int)
}

var _ region.Finalizer = (*MockFinalizer)(nil)
