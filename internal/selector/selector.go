// Package selector multiplexes readiness of many file descriptors
// (doorbells, the page-fault handler, and region connections) onto a
// single epoll instance, returning the opaque user-data registered with
// each ready descriptor.
package selector

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/behrlich/mantle/internal/constants"
)

// Selector is a level-triggered epoll multiplexer. It is safe for one
// goroutine to call Poll while others call AddWatch/ModifyWatch/DeleteWatch,
// but Poll itself is not safe to call concurrently with itself.
type Selector struct {
	epfd int

	mu       sync.Mutex
	userData map[int32]unsafe.Pointer

	events [constants.MaxSelectorEvents]unix.EpollEvent
}

// New creates an empty selector.
func New() (*Selector, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("selector: epoll_create1 failed: %w", err)
	}
	return &Selector{
		epfd:     epfd,
		userData: make(map[int32]unsafe.Pointer),
	}, nil
}

// Close releases the epoll instance.
func (s *Selector) Close() error {
	return unix.Close(s.epfd)
}

// AddWatch registers fd for read readiness, associating it with an
// opaque user-data pointer returned later by Poll.
func (s *Selector) AddWatch(fd int, userData unsafe.Pointer) error {
	s.mu.Lock()
	s.userData[int32(fd)] = userData
	s.mu.Unlock()

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		s.mu.Lock()
		delete(s.userData, int32(fd))
		s.mu.Unlock()
		return fmt.Errorf("selector: epoll_ctl(ADD) failed: %w", err)
	}
	return nil
}

// ModifyWatch updates the user-data associated with an already
// registered fd.
func (s *Selector) ModifyWatch(fd int, userData unsafe.Pointer) {
	s.mu.Lock()
	s.userData[int32(fd)] = userData
	s.mu.Unlock()
}

// DeleteWatch removes fd from the selector.
func (s *Selector) DeleteWatch(fd int) error {
	s.mu.Lock()
	delete(s.userData, int32(fd))
	s.mu.Unlock()

	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("selector: epoll_ctl(DEL) failed: %w", err)
	}
	return nil
}

// Poll waits for ready descriptors and returns the user-data registered
// for each. Readiness is level-triggered: callers must drain the
// associated resource (doorbell, stream, page-fault queue) or Poll will
// keep reporting it ready.
func (s *Selector) Poll(nonBlocking bool) []unsafe.Pointer {
	timeout := -1
	if nonBlocking {
		timeout = 0
	}

	var n int
	for {
		var err error
		n, err = unix.EpollWait(s.epfd, s.events[:], timeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			panic(fmt.Sprintf("selector: epoll_wait failed: %v", err))
		}
		break
	}

	if n == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]unsafe.Pointer, 0, n)
	for i := 0; i < n; i++ {
		if ud, ok := s.userData[s.events[i].Fd]; ok {
			out = append(out, ud)
		}
	}
	return out
}
