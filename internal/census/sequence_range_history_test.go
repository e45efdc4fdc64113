package census

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequenceRangeHistorySelect(t *testing.T) {
	h := NewSequenceRangeHistory(4)
	require.Equal(t, 4, h.Capacity())

	for _, tail := range []uint64{0, 0, 0, 0, 1, 2, 3, 4, 5} {
		h.Insert(tail)
	}

	require.Equal(t, SequenceRange{Head: 4, Tail: 5}, h.Select(0))
	require.Equal(t, SequenceRange{Head: 3, Tail: 4}, h.Select(1))
	require.Equal(t, SequenceRange{Head: 2, Tail: 3}, h.Select(2))
}

func TestSequenceRangeHistoryCapacityRoundsUp(t *testing.T) {
	h := NewSequenceRangeHistory(5)
	require.Equal(t, 8, h.Capacity())
}
