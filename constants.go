package mantle

import "github.com/behrlich/mantle/internal/constants"

// Re-export the runtime's fixed numeric defaults for callers that want
// to reason about them without reaching into internal/constants.
const (
	SegmentCapacity     = constants.SegmentCapacity
	CacheLineSize       = constants.CacheLineSize
	StreamCapacity      = constants.StreamCapacity
	OperationCacheSize  = constants.OperationCacheSize
	OperationCacheWays  = constants.OperationCacheWays
	ExponentMax         = constants.ExponentMax
	InvalidRegionID     = constants.InvalidRegionID
)
