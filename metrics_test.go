package mantle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricsInitialState(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot()
	require.Zero(t, snap.CycleCount)
	require.Zero(t, snap.IncrementOps)
}

func TestMetricsRecordCycle(t *testing.T) {
	m := NewMetrics()

	m.RecordCycle(1_000_000, 10, 4) // 1ms, 10 increments, 4 decrements
	m.RecordCycle(2_000_000, 5, 5)
	m.RecordRouted(3)
	m.RecordFinalize(2, 1)

	snap := m.Snapshot()
	require.Equal(t, uint64(2), snap.CycleCount)
	require.Equal(t, uint64(15), snap.IncrementOps)
	require.Equal(t, uint64(9), snap.DecrementOps)
	require.Equal(t, uint64(3), snap.RoutedOps)
	require.Equal(t, uint64(2), snap.FinalizedObjects)
	require.Equal(t, uint64(1), snap.FinalizedGroups)
	require.Equal(t, uint64(1_500_000), snap.AvgLatencyNs)
}

func TestMetricsLatencyHistogram(t *testing.T) {
	m := NewMetrics()
	m.RecordCycle(500, 0, 0)    // falls in the 1us bucket
	m.RecordCycle(50_000, 0, 0) // falls in the 100us bucket

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.LatencyHistogram[0]) // <= 1us
	require.Equal(t, uint64(2), snap.LatencyHistogram[2]) // <= 100us (cumulative)
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordCycle(1000, 1, 1)
	m.Reset()

	snap := m.Snapshot()
	require.Zero(t, snap.CycleCount)
	require.Zero(t, snap.IncrementOps)
}

func TestMetricsObserver(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)

	obs.ObserveCycle(1000, 2, 1)
	obs.ObserveRouted(1)
	obs.ObserveFinalize(1, 1)

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.CycleCount)
	require.Equal(t, uint64(2), snap.IncrementOps)
	require.Equal(t, uint64(1), snap.RoutedOps)
	require.Equal(t, uint64(1), snap.FinalizedObjects)
}

func TestNoOpObserverDoesNothing(t *testing.T) {
	var obs NoOpObserver
	require.NotPanics(t, func() {
		obs.ObserveCycle(1, 1, 1)
		obs.ObserveRouted(1)
		obs.ObserveFinalize(1, 1)
	})
}
