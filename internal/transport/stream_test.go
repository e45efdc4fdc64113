package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamSendReceiveOrder(t *testing.T) {
	s := NewStream(4)
	require.Equal(t, 4, s.Capacity())

	require.True(t, s.Send(EnterMessage(1)))
	require.True(t, s.Send(EnterMessage(2)))

	var dst []Message
	dst = s.Receive(dst)
	require.Len(t, dst, 2)
	require.Equal(t, uint64(1), dst[0].Cycle)
	require.Equal(t, uint64(2), dst[1].Cycle)

	dst = s.Receive(dst[:0])
	require.Empty(t, dst)
}

func TestStreamRoundsCapacityUpToPowerOfTwo(t *testing.T) {
	s := NewStream(3)
	require.Equal(t, 4, s.Capacity())
}

func TestStreamSendFailsWhenFull(t *testing.T) {
	s := NewStream(2)
	require.True(t, s.Send(StartMessage()))
	require.True(t, s.Send(StartMessage()))
	require.False(t, s.Send(StartMessage()))

	var dst []Message
	dst = s.Receive(dst)
	require.Len(t, dst, 2)

	require.True(t, s.Send(StartMessage()))
}
