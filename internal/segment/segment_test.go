package segment

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/mantle/internal/constants"
	"github.com/behrlich/mantle/internal/wireop"
)

func TestSegmentCursorAndOperations(t *testing.T) {
	seg, err := New()
	require.NoError(t, err)
	defer seg.Destroy()

	op := wireop.IncrementOp(9, 2)
	*(*wireop.Operation)(seg.Cursor(0)) = op
	*(*wireop.Operation)(seg.Cursor(1)) = wireop.DecrementOp(11, 0)

	ops := seg.Operations(2)
	require.Len(t, ops, 2)
	require.Equal(t, uint32(9), ops[0].Index())
	require.Equal(t, uint32(11), ops[1].Index())
}

func TestSegmentGuardPageStamping(t *testing.T) {
	seg, err := New()
	require.NoError(t, err)
	defer seg.Destroy()

	seg.StampAddress()
	require.Equal(t, seg.Base(), seg.StampedAddress())
}

func TestSegmentCursorAtCapacityLandsOnGuardPage(t *testing.T) {
	seg, err := New()
	require.NoError(t, err)
	defer seg.Destroy()

	guardStart := uintptr(unsafe.Pointer(&seg.GuardPage()[0]))
	require.Equal(t, guardStart, uintptr(seg.Cursor(constants.SegmentCapacity)))
}

func TestSegmentReset(t *testing.T) {
	seg, err := New()
	require.NoError(t, err)
	defer seg.Destroy()

	seg.Primed = true
	seg.IncrementCount = 3
	seg.DecrementCount = 4
	other := &Segment{}
	seg.Prev = other

	seg.Reset()
	require.False(t, seg.Primed)
	require.Equal(t, uint32(0), seg.IncrementCount)
	require.Equal(t, uint32(0), seg.DecrementCount)
	require.Nil(t, seg.Prev)
}
