package transport

import (
	"sync/atomic"

	"github.com/behrlich/mantle/internal/constants"
)

// Stream is a fixed-capacity, single-producer/single-consumer ring of
// messages. Send is only ever called by the producer goroutine, Receive
// only ever by the consumer; the shared head/tail counters are the only
// cross-thread state, and are published with acquire/release so a
// consumer never observes a slot's write racing its sequence advance.
type Stream struct {
	ring []Message
	mask uint64

	head atomic.Uint64
	tail atomic.Uint64

	privateHead uint64
	privateTail uint64
}

// NewStream builds a stream with at least minCapacity slots, rounded up
// to the next power of two.
func NewStream(minCapacity int) *Stream {
	if minCapacity <= 0 {
		minCapacity = constants.StreamCapacity
	}
	capacity := 1
	for capacity < minCapacity {
		capacity *= 2
	}
	return &Stream{
		ring: make([]Message, capacity),
		mask: uint64(capacity - 1),
	}
}

// Capacity returns the number of slots in the stream.
func (s *Stream) Capacity() int {
	return len(s.ring)
}

// Send appends message to the stream, returning false if it's full.
// Only safe to call from the stream's single producer.
func (s *Stream) Send(message Message) bool {
	head := s.head.Load()
	if s.privateTail-head == uint64(len(s.ring)) {
		return false
	}

	s.ring[s.privateTail&s.mask] = message
	s.privateTail++
	s.tail.Store(s.privateTail)
	return true
}

// Receive appends every message sent since the last Receive call to
// dst, returning the extended slice. Only safe to call from the
// stream's single consumer.
func (s *Stream) Receive(dst []Message) []Message {
	tail := s.tail.Load()
	count := tail - s.privateHead

	for i := uint64(0); i < count; i++ {
		dst = append(dst, s.ring[(s.privateHead+i)&s.mask])
	}

	s.privateHead += count
	s.head.Store(s.privateHead)
	return dst
}
