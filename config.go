package mantle

import "github.com/behrlich/mantle/internal/constants"

// Config configures a Domain and the regions bound to it.
type Config struct {
	// CPUAffinity pins the domain's background thread to this set of
	// CPUs. Empty means no pinning.
	CPUAffinity []int

	// OperationGrouperEnabled routes committed operations through each
	// controller's set-associative merge cache before applying them,
	// trading a little latency for fewer random-memory writes when many
	// operations target the same object within a cycle.
	OperationGrouperEnabled bool

	// Audit is a toggle for extra runtime assertions. No code in the
	// runtime reads it: over-decrement and object/segment lifecycle
	// checks are not gated on it, and setting it changes no behavior.
	Audit bool

	// SegmentCapacity reports the number of operation slots in a
	// write-barrier segment before a guard-page fault forces a rotation.
	// Like the reference implementation's compile-time define, this is
	// fixed at build time (internal/constants.SegmentCapacity); it's
	// surfaced here for callers that want to reason about batching
	// without reaching into internal/constants.
	SegmentCapacity int

	// StreamCapacity reports the fixed capacity, in messages, of each
	// region<->domain connection stream. Also fixed at build time.
	StreamCapacity int
}

// DefaultConfig returns the runtime's default configuration: operation
// grouping on, audit off, and the reference implementation's
// compile-time segment and stream sizing.
func DefaultConfig() Config {
	return Config{
		OperationGrouperEnabled: true,
		Audit:                   false,
		SegmentCapacity:         constants.SegmentCapacity,
		StreamCapacity:          constants.StreamCapacity,
	}
}
