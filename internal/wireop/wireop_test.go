package wireop

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/mantle/internal/constants"
)

func TestOperationRoundTrip(t *testing.T) {
	op := IncrementOp(7, 3)
	require.Equal(t, uint32(7), op.Index())
	require.Equal(t, Increment, op.Type())
	require.Equal(t, uint8(3), op.Exponent())
	require.Equal(t, uint32(8), op.Magnitude())
	require.Equal(t, int64(8), op.Value())
	require.False(t, op.IsNull())

	op = DecrementOp(7, 3)
	require.Equal(t, Decrement, op.Type())
	require.Equal(t, int64(-8), op.Value())
}

func TestNullOperation(t *testing.T) {
	null := Null()
	require.True(t, null.IsNull())
	require.Equal(t, uint32(0), null.Index())
}

func TestMaxExponent(t *testing.T) {
	op := IncrementOp(1, constants.ExponentMax)
	require.Equal(t, uint8(constants.ExponentMax), op.Exponent())
	require.Equal(t, uint32(1<<constants.ExponentMax), op.Magnitude())
}

func TestExponentOutOfRangePanics(t *testing.T) {
	require.Panics(t, func() {
		IncrementOp(1, constants.ExponentMax+1)
	})
}

func TestBatchPaddingAndIndexing(t *testing.T) {
	var batch Batch
	require.Len(t, batch, constants.OperationBatchSize)
	for _, op := range batch {
		require.True(t, op.IsNull())
	}

	*batch.At(0) = IncrementOp(1, 0)
	*batch.At(uint64(constants.OperationBatchSize)) = IncrementOp(2, 0) // wraps to slot 0
	require.Equal(t, uint32(2), batch[0].Index())
}

func TestForEach(t *testing.T) {
	batches := []Batch{{}, {}}
	batches[0][0] = IncrementOp(5, 0)
	batches[1][1] = DecrementOp(6, 0)

	var seen []Operation
	ForEach(batches, func(op Operation) {
		if !op.IsNull() {
			seen = append(seen, op)
		}
	})
	require.Len(t, seen, 2)
}
