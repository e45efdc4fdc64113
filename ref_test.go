package mantle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/behrlich/mantle/internal/constants"
	"github.com/behrlich/mantle/internal/domain"
	"github.com/behrlich/mantle/internal/object"
	"github.com/behrlich/mantle/internal/region"
)

func requireUserfaultfd(t *testing.T) {
	t.Helper()
	fd, _, errno := unix.Syscall(unix.SYS_USERFAULTFD, uintptr(unix.O_CLOEXEC|unix.O_NONBLOCK|1), 0, 0)
	if errno != 0 {
		t.Skipf("userfaultfd unavailable: %v", errno)
	}
	unix.Close(int(fd))
}

// refTestObject is a stand-in for a managed heap type: something that
// embeds object.Object and satisfies Based.
type refTestObject struct {
	object.Object
}

func (o *refTestObject) Base() *object.Object { return &o.Object }

func newRefTestRegion(t *testing.T) (*region.Region, *MockFinalizer) {
	t.Helper()
	requireUserfaultfd(t)

	d, err := domain.New(domain.Options{})
	require.NoError(t, err)

	finalizer := NewMockFinalizer()
	r, err := region.New(d, finalizer)
	require.NoError(t, err)

	t.Cleanup(func() {
		r.Stop()
		require.NoError(t, d.Stop())
	})

	return r, finalizer
}

func newRefTestObject() *refTestObject {
	return &refTestObject{Object: *object.New(7)}
}

func drainUntil(t *testing.T, r *region.Region, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		const nonBlocking = true
		r.Step(nonBlocking)
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "timed out waiting for condition")
}

func TestRefBindStartsAtWeightZero(t *testing.T) {
	r, _ := newRefTestRegion(t)

	obj := newRefTestObject()
	h := BindRef(r, obj)
	require.True(t, h.IsValid())
	require.Equal(t, uint8(0), h.Weight())
	h.Close()
}

func TestRefCloneOfNullIsNull(t *testing.T) {
	var h0, h1 Ref[*refTestObject]
	h1 = h0.Clone()
	require.False(t, h0.IsValid())
	require.False(t, h1.IsValid())
}

func TestRefUniqueOwnershipFinalizesOnClose(t *testing.T) {
	r, finalizer := newRefTestRegion(t)

	obj := newRefTestObject()
	h0 := BindRef(r, obj)
	h0.Close()

	require.False(t, h0.IsValid())
	drainUntil(t, r, func() bool { return finalizer.Finalized(obj.Base()) })
}

func TestRefCloneSplitsWeight(t *testing.T) {
	r, _ := newRefTestRegion(t)

	obj := newRefTestObject()
	h0 := BindRef(r, obj)

	h1 := h0.Clone()
	require.Equal(t, uint8(constants.ExponentMax-1), h0.Weight())
	require.Equal(t, uint8(constants.ExponentMax-1), h1.Weight())

	h1.Close()
	h0.Close()
}

func TestRefCloneRefillsWhenWeightExhausted(t *testing.T) {
	r, _ := newRefTestRegion(t)

	obj := newRefTestObject()
	h0 := BindRef(r, obj)

	// One clone moves h0 off weight zero.
	h1 := h0.Clone()
	h1.Close()
	require.NotEqual(t, uint8(0), h0.Weight())

	// Exhaust h0's weight: clone it and immediately close the clone,
	// repeatedly, until the split brings h0's own weight down to zero.
	for h0.Weight() != 0 {
		clone := h0.Clone()
		clone.Close()
	}
	require.Equal(t, uint8(0), h0.Weight())

	// One more clone forces a refill (a real increment plus flushing
	// the exhausted decrement) and then a fresh split.
	h1 = h0.Clone()
	require.Equal(t, uint8(constants.ExponentMax-1), h0.Weight())
	require.Equal(t, uint8(constants.ExponentMax-1), h1.Weight())

	h1.Close()
	h0.Close()
}

func TestRefSharedOwnership(t *testing.T) {
	r, finalizer := newRefTestRegion(t)

	obj := newRefTestObject()
	h0 := BindRef(r, obj)
	require.Equal(t, uint8(0), h0.Weight())

	h1 := h0.Clone()
	require.Equal(t, uint8(constants.ExponentMax-1), h0.Weight())
	require.Equal(t, uint8(constants.ExponentMax-1), h1.Weight())

	var h2 Ref[*refTestObject]
	h2 = h1.Clone()
	require.Equal(t, uint8(constants.ExponentMax-2), h1.Weight())
	require.Equal(t, uint8(constants.ExponentMax-2), h2.Weight())

	h0.Close()
	require.False(t, h0.IsValid())

	h0 = h1
	h1 = Ref[*refTestObject]{}
	require.Equal(t, uint8(constants.ExponentMax-2), h0.Weight())
	require.False(t, h1.IsValid())

	h1 = h2.Clone()
	require.Equal(t, uint8(constants.ExponentMax-3), h1.Weight())
	require.Equal(t, uint8(constants.ExponentMax-3), h2.Weight())

	h0.Close()
	h1.Close()
	h2.Close()

	drainUntil(t, r, func() bool { return finalizer.Finalized(obj.Base()) })
}
