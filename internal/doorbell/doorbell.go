// Package doorbell implements the cross-thread wakeup primitive used to
// notify a blocked poller that it has work: an eventfd-backed counter
// that many ringers can add to and exactly one poller drains.
package doorbell

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// Doorbell wraps a non-blocking eventfd counter. Ring is safe to call
// from any number of goroutines; Poll is intended for a single poller.
type Doorbell struct {
	fd int
}

// New creates a doorbell backed by a fresh eventfd.
func New() (*Doorbell, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("doorbell: failed to create eventfd: %w", err)
	}
	return &Doorbell{fd: fd}, nil
}

// FileDescriptor returns the underlying eventfd, for registration with a
// Selector.
func (d *Doorbell) FileDescriptor() int {
	return d.fd
}

// Close releases the eventfd.
func (d *Doorbell) Close() error {
	return unix.Close(d.fd)
}

// Ring adds count to the doorbell's counter, waking any poller blocked
// in Poll. A count of 0 is treated as 1.
func (d *Doorbell) Ring(count uint64) {
	if count == 0 {
		count = 1
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], count)
	for {
		_, err := unix.Write(d.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			panic(fmt.Sprintf("doorbell: ring failed: %v", err))
		}
		return
	}
}

// Poll reads and clears the counter. In blocking mode it waits until the
// counter is non-zero; in non-blocking mode it returns 0 immediately if
// the doorbell has not been rung.
func (d *Doorbell) Poll(nonBlocking bool) uint64 {
	if !nonBlocking {
		waitReadable(d.fd)
	}

	var buf [8]byte
	for {
		n, err := unix.Read(d.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if err == unix.EAGAIN {
				return 0
			}
			panic(fmt.Sprintf("doorbell: poll failed: %v", err))
		}
		if n != 8 {
			panic("doorbell: short read from eventfd")
		}
		return binary.LittleEndian.Uint64(buf[:])
	}
}

// waitReadable blocks until fd is readable using a single-fd poll(2) call.
func waitReadable(fd int) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			panic(fmt.Sprintf("doorbell: wait_for_readable failed: %v", err))
		}
		return
	}
}
