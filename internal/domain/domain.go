// Package domain implements the runtime's single coherence domain: the
// pinned background thread that multiplexes every bound region's
// connection and the ledger manager's page-fault fd on one selector,
// drives each region's controller through the START/ENTER/SUBMIT/
// RETIRE/LEAVE cycle, and routes operations between controllers as
// regions join and leave.
package domain

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/behrlich/mantle/internal/census"
	"github.com/behrlich/mantle/internal/controller"
	"github.com/behrlich/mantle/internal/doorbell"
	"github.com/behrlich/mantle/internal/ledger"
	"github.com/behrlich/mantle/internal/object"
	"github.com/behrlich/mantle/internal/selector"
	"github.com/behrlich/mantle/internal/transport"
)

// State is a domain's high-level lifecycle state.
type State uint8

const (
	Starting State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Options configures a Domain's background thread and the controllers
// it creates for newly bound regions.
type Options struct {
	// CPUAffinity, if non-empty, pins the domain's background thread to
	// this set of CPUs.
	CPUAffinity []int

	// OperationGrouperEnabled configures every controller this domain
	// creates; see controller.Options.
	OperationGrouperEnabled bool
}

type regionEntry struct {
	id       object.RegionID
	endpoint *transport.Endpoint
}

// Domain owns the object arena and ledger manager shared by every
// region bound to it, and runs the background thread that keeps their
// controllers moving.
type Domain struct {
	mu      sync.Mutex
	state   State
	regions []*regionEntry

	manager     *ledger.Manager
	arena       *object.Arena
	controllers *controller.Group
	doorbell    *doorbell.Doorbell
	selector    *selector.Selector
	opts        Options

	done chan error
}

// New creates a domain and starts its background thread. It blocks
// until the thread has finished initializing (including setting CPU
// affinity, if configured) so a returned error reflects startup
// failure rather than arriving asynchronously.
func New(opts Options) (*Domain, error) {
	manager, err := ledger.NewManager()
	if err != nil {
		return nil, fmt.Errorf("domain: failed to create ledger manager: %w", err)
	}

	db, err := doorbell.New()
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("domain: failed to create doorbell: %w", err)
	}

	sel, err := selector.New()
	if err != nil {
		db.Close()
		manager.Close()
		return nil, fmt.Errorf("domain: failed to create selector: %w", err)
	}

	d := &Domain{
		state:       Starting,
		manager:     manager,
		arena:       object.NewArena(),
		controllers: controller.NewGroup(),
		doorbell:    db,
		selector:    sel,
		opts:        opts,
		done:        make(chan error, 1),
	}

	if err := d.selector.AddWatch(d.doorbell.FileDescriptor(), unsafe.Pointer(d.doorbell)); err != nil {
		sel.Close()
		db.Close()
		manager.Close()
		return nil, fmt.Errorf("domain: failed to watch doorbell: %w", err)
	}
	if err := d.selector.AddWatch(d.manager.FileDescriptor(), unsafe.Pointer(d.manager)); err != nil {
		sel.Close()
		db.Close()
		manager.Close()
		return nil, fmt.Errorf("domain: failed to watch ledger manager: %w", err)
	}

	started := make(chan error, 1)
	go d.threadMain(started)
	if err := <-started; err != nil {
		return nil, err
	}

	return d, nil
}

// State returns the domain's current lifecycle state.
func (d *Domain) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LedgerManager implements region.Domain.
func (d *Domain) LedgerManager() *ledger.Manager { return d.manager }

// Arena implements region.Domain.
func (d *Domain) Arena() *object.Arena { return d.arena }

// Bind implements region.Domain: it registers conn's server endpoint
// so the background thread starts driving it, and wakes that thread in
// case it's parked in a blocking poll.
func (d *Domain) Bind(conn *transport.Connection) object.RegionID {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := object.RegionID(len(d.regions))
	d.regions = append(d.regions, &regionEntry{id: id, endpoint: conn.ServerEndpoint()})
	d.doorbell.Ring(1)
	return id
}

// Stop blocks until every region bound to the domain has stopped and
// the background thread has exited. Callers are responsible for
// calling Region.Stop on each of their regions first; a domain has no
// way to force a region to leave from the outside.
func (d *Domain) Stop() error {
	return <-d.done
}

func (d *Domain) threadMain(started chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if len(d.opts.CPUAffinity) > 0 {
		var mask unix.CPUSet
		for _, cpu := range d.opts.CPUAffinity {
			mask.Set(cpu)
		}
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			started <- fmt.Errorf("domain: failed to set cpu affinity: %w", err)
			return
		}
	}

	d.mu.Lock()
	d.state = Running
	d.mu.Unlock()

	started <- nil

	err := d.run()

	d.mu.Lock()
	d.state = Stopped
	d.mu.Unlock()

	d.done <- err
}

func (d *Domain) run() error {
	running := true
	for running {
		const nonBlocking = false
		for _, userData := range d.selector.Poll(nonBlocking) {
			d.handleEvent(userData)
		}

		// Alternate between letting controllers transmit and updating
		// controller state until a full pass leaves the census unchanged.
		snapshot := d.controllers.Census()
		for {
			running = d.updateControllers(snapshot, running)

			for _, entry := range d.regionsSnapshot() {
				c := d.controllers.At(entry.id)
				for {
					message, ok := c.SendMessage()
					if !ok {
						break
					}
					if !entry.endpoint.SendMessage(message) {
						return fmt.Errorf("domain: region %d's stream is full", entry.id)
					}
				}
			}

			next := d.controllers.Census()
			if snapshot.Equal(next) {
				break
			}
			snapshot = next
		}
	}
	return nil
}

func (d *Domain) handleEvent(userData unsafe.Pointer) {
	const nonBlocking = true

	switch userData {
	case unsafe.Pointer(d.manager):
		d.manager.Poll(nonBlocking)

	case unsafe.Pointer(d.doorbell):
		// A new region was bound; its controller is started below, the
		// next time updateControllers sees START anywhere in the census.
		d.doorbell.Poll(nonBlocking)

	default:
		entry := (*regionEntry)(userData)
		c := d.controllers.At(entry.id)
		for _, message := range entry.endpoint.ReceiveMessages(nonBlocking) {
			c.ReceiveMessage(message)
		}
	}
}

// updateControllers starts controllers for newly bound regions,
// stops controllers once every one of them is quiescent, and lets
// every controller advance past barrier phases the census satisfies.
// It returns whether the domain should keep running.
func (d *Domain) updateControllers(snapshot *census.Census, running bool) bool {
	if d.controllers.Len() == 0 || snapshot.AnyPhase(census.Start) {
		d.mu.Lock()
		switch {
		case d.controllers.Len() < len(d.regions):
			d.startControllersLocked(snapshot)
		case snapshot.AllState(census.Stopping):
			d.stopControllers()
		case snapshot.AllState(census.Shutdown):
			running = false
		}
		d.mu.Unlock()
	}

	d.controllers.Each(func(c *controller.RegionController) {
		c.Synchronize(snapshot)
	})

	return running
}

func (d *Domain) startControllersLocked(snapshot *census.Census) {
	opts := controller.Options{OperationGrouperEnabled: d.opts.OperationGrouperEnabled}

	for id := d.controllers.Len(); id < len(d.regions); id++ {
		entry := d.regions[id]

		c := controller.New(entry.id, d.controllers, d.manager, d.arena, opts)
		c.Start(snapshot.MaxCycle())
		d.controllers.Add(c)

		if err := d.selector.AddWatch(entry.endpoint.FileDescriptor(), unsafe.Pointer(entry)); err != nil {
			panic(fmt.Sprintf("domain: failed to watch region %d: %v", entry.id, err))
		}
	}
}

func (d *Domain) stopControllers() {
	quiescent := true
	d.controllers.Each(func(c *controller.RegionController) {
		if !c.IsQuiescent() {
			quiescent = false
		}
	})

	if quiescent {
		d.controllers.Each(func(c *controller.RegionController) {
			c.Stop()
		})
	}
}

func (d *Domain) regionsSnapshot() []*regionEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*regionEntry(nil), d.regions...)
}
