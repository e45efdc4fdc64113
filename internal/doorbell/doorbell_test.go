package doorbell

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoorbellRingAndPoll(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	defer d.Close()

	require.Equal(t, uint64(0), d.Poll(true))

	d.Ring(1)
	d.Ring(2)
	require.Equal(t, uint64(3), d.Poll(true))
	require.Equal(t, uint64(0), d.Poll(true))
}

func TestDoorbellBlockingPoll(t *testing.T) {
	d, err := New()
	require.NoError(t, err)
	defer d.Close()

	done := make(chan uint64, 1)
	go func() {
		done <- d.Poll(false)
	}()

	time.Sleep(10 * time.Millisecond)
	d.Ring(5)

	select {
	case got := <-done:
		require.Equal(t, uint64(5), got)
	case <-time.After(time.Second):
		t.Fatal("blocking poll did not wake up")
	}
}
