package region

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/behrlich/mantle/internal/controller"
	"github.com/behrlich/mantle/internal/ledger"
	"github.com/behrlich/mantle/internal/object"
	"github.com/behrlich/mantle/internal/transport"
)

func requireUserfaultfd(t *testing.T) {
	t.Helper()
	fd, _, errno := unix.Syscall(unix.SYS_USERFAULTFD, uintptr(unix.O_CLOEXEC|unix.O_NONBLOCK|1), 0, 0)
	if errno != 0 {
		t.Skipf("userfaultfd unavailable: %v", errno)
	}
	unix.Close(int(fd))
}

// fakeDomain drives a single region's server endpoint through exactly
// the controller side of the protocol by hand, without a real
// domain's background thread, so region.Step can be tested alone.
type fakeDomain struct {
	manager *ledger.Manager
	arena   *object.Arena
	group   *controller.Group
	server  *transport.Endpoint
	ready   chan struct{}
}

func newFakeDomain(t *testing.T) *fakeDomain {
	t.Helper()
	manager, err := ledger.NewManager()
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	return &fakeDomain{
		manager: manager,
		arena:   object.NewArena(),
		group:   controller.NewGroup(),
		ready:   make(chan struct{}, 1),
	}
}

func (d *fakeDomain) LedgerManager() *ledger.Manager { return d.manager }
func (d *fakeDomain) Arena() *object.Arena            { return d.arena }

func (d *fakeDomain) Bind(conn *transport.Connection) object.RegionID {
	d.server = conn.ServerEndpoint()
	id := object.RegionID(d.group.Len())
	d.group.Add(controller.New(id, d.group, d.manager, d.arena, controller.Options{}))
	d.ready <- struct{}{}
	return id
}

// drive runs the controller side of one full cycle: receive the
// region's START, synchronize to ENTER, send ENTER, receive SUBMIT,
// synchronize to RETIRE, send RETIRE, send LEAVE, synchronize back to
// START.
func (d *fakeDomain) drive(t *testing.T) {
	t.Helper()

	// Block until the region's START arrives, since it may not have been
	// sent yet by the time this runs.
	const blocking = false
	for _, message := range d.server.ReceiveMessages(blocking) {
		d.group.At(0).ReceiveMessage(message)
	}
	controller.Synchronize(d.group)

	if message, ok := d.group.At(0).SendMessage(); ok {
		require.True(t, d.server.SendMessage(message))
	}

	for _, message := range d.server.ReceiveMessages(blocking) {
		d.group.At(0).ReceiveMessage(message)
	}
	controller.Synchronize(d.group)

	if message, ok := d.group.At(0).SendMessage(); ok {
		require.True(t, d.server.SendMessage(message))
	}
	if message, ok := d.group.At(0).SendMessage(); ok {
		require.True(t, d.server.SendMessage(message))
	}
}

type noopFinalizer struct{ objects []*object.Object }

func (f *noopFinalizer) Finalize(_ uint16, objects []*object.Object) {
	f.objects = append(f.objects, objects...)
}

func TestRegionJoinsAtFirstCycle(t *testing.T) {
	requireUserfaultfd(t)
	d := newFakeDomain(t)

	done := make(chan *Region, 1)
	go func() {
		r, err := New(d, &noopFinalizer{})
		require.NoError(t, err)
		done <- r
	}()

	<-d.ready
	d.drive(t)

	r := <-done
	require.Equal(t, object.RegionID(0), r.ID())
	require.Equal(t, uint64(1), r.Cycle())
}
