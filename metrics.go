package mantle

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the cycle-latency histogram buckets in
// nanoseconds, covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks runtime-wide operational statistics for a Domain:
// how many increments/decrements were applied, how many were routed
// cross-controller, how many objects were finalized, and how long
// each coherence cycle took.
type Metrics struct {
	IncrementOps atomic.Uint64 // Increments applied across all controllers
	DecrementOps atomic.Uint64 // Decrements applied across all controllers
	RoutedOps    atomic.Uint64 // Operations routed to a peer controller

	FinalizedObjects atomic.Uint64 // Objects finalized (reference count reached zero)
	FinalizedGroups  atomic.Uint64 // Distinct finalization groups flushed

	CycleCount atomic.Uint64 // Coherence cycles completed

	TotalCycleLatencyNs atomic.Uint64 // Cumulative cycle latency in nanoseconds
	LatencyBuckets      [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64 // Runtime start timestamp (UnixNano)
	StopTime  atomic.Int64 // Runtime stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance with its start time set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordCycle records the completion of one coherence cycle: how many
// increments and decrements it applied, and how long it took end to end.
func (m *Metrics) RecordCycle(latencyNs uint64, increments, decrements uint64) {
	m.CycleCount.Add(1)
	m.IncrementOps.Add(increments)
	m.DecrementOps.Add(decrements)
	m.recordLatency(latencyNs)
}

// RecordRouted records operations that were routed to a peer
// controller's operation grouper instead of applied locally.
func (m *Metrics) RecordRouted(count uint64) {
	m.RoutedOps.Add(count)
}

// RecordFinalize records one finalization pass.
func (m *Metrics) RecordFinalize(objects, groups uint64) {
	m.FinalizedObjects.Add(objects)
	m.FinalizedGroups.Add(groups)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalCycleLatencyNs.Add(latencyNs)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the runtime as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics' counters,
// plus a few derived rates.
type MetricsSnapshot struct {
	IncrementOps uint64
	DecrementOps uint64
	RoutedOps    uint64

	FinalizedObjects uint64
	FinalizedGroups  uint64

	CycleCount   uint64
	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	CyclesPerSecond float64
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		IncrementOps:     m.IncrementOps.Load(),
		DecrementOps:     m.DecrementOps.Load(),
		RoutedOps:        m.RoutedOps.Load(),
		FinalizedObjects: m.FinalizedObjects.Load(),
		FinalizedGroups:  m.FinalizedGroups.Load(),
		CycleCount:       m.CycleCount.Load(),
	}

	totalLatencyNs := m.TotalCycleLatencyNs.Load()
	if snap.CycleCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / snap.CycleCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		snap.CyclesPerSecond = float64(snap.CycleCount) / (float64(snap.UptimeNs) / 1e9)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if snap.CycleCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the cycle latency at the given
// percentile (0.0-1.0) using linear interpolation between histogram
// buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalCycles := m.CycleCount.Load()
	if totalCycles == 0 {
		return 0
	}

	targetCount := uint64(float64(totalCycles) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters, useful for testing.
func (m *Metrics) Reset() {
	m.IncrementOps.Store(0)
	m.DecrementOps.Store(0)
	m.RoutedOps.Store(0)
	m.FinalizedObjects.Store(0)
	m.FinalizedGroups.Store(0)
	m.CycleCount.Store(0)
	m.TotalCycleLatencyNs.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection for a Domain.
type Observer interface {
	// ObserveCycle is called each time a coherence cycle completes.
	ObserveCycle(latencyNs uint64, increments, decrements uint64)

	// ObserveRouted is called when operations are routed to a peer
	// controller instead of applied locally.
	ObserveRouted(count uint64)

	// ObserveFinalize is called after each finalization pass.
	ObserveFinalize(objects, groups uint64)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveCycle(uint64, uint64, uint64) {}
func (NoOpObserver) ObserveRouted(uint64)                {}
func (NoOpObserver) ObserveFinalize(uint64, uint64)      {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveCycle(latencyNs uint64, increments, decrements uint64) {
	o.metrics.RecordCycle(latencyNs, increments, decrements)
}

func (o *MetricsObserver) ObserveRouted(count uint64) {
	o.metrics.RecordRouted(count)
}

func (o *MetricsObserver) ObserveFinalize(objects, groups uint64) {
	o.metrics.RecordFinalize(objects, groups)
}

var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = (*NoOpObserver)(nil)
)
