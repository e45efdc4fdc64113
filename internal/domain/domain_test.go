package domain

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

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

type collectingFinalizer struct {
	mu      sync.Mutex
	objects []*object.Object
}

func (f *collectingFinalizer) Finalize(_ uint16, objects []*object.Object) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects = append(f.objects, objects...)
}

func (f *collectingFinalizer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func TestDomainBindAndFinalize(t *testing.T) {
	requireUserfaultfd(t)

	d, err := New(Options{})
	require.NoError(t, err)

	finalizer := &collectingFinalizer{}
	r, err := region.New(d, finalizer)
	require.NoError(t, err)
	require.Equal(t, object.RegionID(0), r.ID())

	obj := object.New(7)
	idx := r.BindObject(obj)
	r.IncrementRef(idx, 0)
	r.DecrementRef(idx, 0)

	deadline := time.Now().Add(5 * time.Second)
	for finalizer.count() == 0 && time.Now().Before(deadline) {
		const nonBlocking = true
		r.Step(nonBlocking)
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, finalizer.count())

	r.Stop()
	require.NoError(t, d.Stop())
}

func TestDomainMultipleRegions(t *testing.T) {
	requireUserfaultfd(t)

	d, err := New(Options{})
	require.NoError(t, err)

	finalizer := &collectingFinalizer{}

	r1, err := region.New(d, finalizer)
	require.NoError(t, err)
	r2, err := region.New(d, finalizer)
	require.NoError(t, err)
	require.NotEqual(t, r1.ID(), r2.ID())

	obj := object.New(0)
	idx := r1.BindObject(obj)
	r1.IncrementRef(idx, 0)
	r1.DecrementRef(idx, 0)
	// Drop the reference the bind itself holds.
	r1.DecrementRef(idx, 0)

	deadline := time.Now().Add(5 * time.Second)
	for finalizer.count() == 0 && time.Now().Before(deadline) {
		const nonBlocking = true
		r1.Step(nonBlocking)
		r2.Step(nonBlocking)
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, finalizer.count())

	r1.Stop()
	r2.Stop()
	require.NoError(t, d.Stop())
}
