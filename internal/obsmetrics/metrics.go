// Package obsmetrics tracks performance and operational statistics for a
// ringio runtime: per-op-kind counters, a latency histogram, submission
// backlog depth, and fixed-buffer-pool wait behavior. It mirrors the
// counters/histogram/Observer split the teacher uses for block-device I/O,
// generalized from a fixed Read/Write/Discard/Flush op set to an arbitrary
// op-kind string so new op wrappers (fs, net, ...) need no changes here.
package obsmetrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

type opCounters struct {
	ops     atomic.Uint64
	errors  atomic.Uint64
	bytes   atomic.Uint64
	latency atomic.Uint64 // cumulative ns
}

// Metrics tracks performance and operational statistics for a Runtime.
type Metrics struct {
	mu      sync.RWMutex
	byKind  map[string]*opCounters

	// Submission backlog / queue depth statistics.
	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	// Fixed buffer pool contention.
	BufferWaits    atomic.Uint64 // CheckOut calls that had to wait
	BufferNoWaits  atomic.Uint64 // CheckOut calls satisfied immediately

	// Cumulative op counters and histogram, across all op kinds.
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{byKind: make(map[string]*opCounters)}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) counters(kind string) *opCounters {
	m.mu.RLock()
	c, ok := m.byKind[kind]
	m.mu.RUnlock()
	if ok {
		return c
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byKind[kind]; ok {
		return c
	}
	c = &opCounters{}
	m.byKind[kind] = c
	return c
}

// RecordComplete records one completed operation of the given kind.
func (m *Metrics) RecordComplete(kind string, bytes uint64, latencyNs uint64, success bool) {
	c := m.counters(kind)
	c.ops.Add(1)
	if success {
		c.bytes.Add(bytes)
	} else {
		c.errors.Add(1)
	}
	c.latency.Add(latencyNs)

	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// RecordQueueDepth records a sample of the submission backlog depth.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// RecordBufferWait records whether a fixed-buffer check-out had to block.
func (m *Metrics) RecordBufferWait(waited bool) {
	if waited {
		m.BufferWaits.Add(1)
	} else {
		m.BufferNoWaits.Add(1)
	}
}

// Stop marks the runtime as stopped, fixing the uptime used for rate
// calculations in Snapshot.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// KindSnapshot is a per-op-kind slice of a Snapshot.
type KindSnapshot struct {
	Kind         string
	Ops          uint64
	Errors       uint64
	Bytes        uint64
	AvgLatencyNs uint64
}

// Snapshot is a point-in-time view of Metrics.
type Snapshot struct {
	ByKind []KindSnapshot

	AvgQueueDepth float64
	MaxQueueDepth uint32

	BufferWaits   uint64
	BufferNoWaits uint64

	AvgLatencyNs  uint64
	UptimeNs      uint64
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TotalOps   uint64
	TotalBytes uint64
	ErrorRate  float64 // percentage
}

// Snapshot returns a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() Snapshot {
	var snap Snapshot

	m.mu.RLock()
	snap.ByKind = make([]KindSnapshot, 0, len(m.byKind))
	var totalErrors uint64
	for kind, c := range m.byKind {
		ops := c.ops.Load()
		lat := c.latency.Load()
		var avg uint64
		if ops > 0 {
			avg = lat / ops
		}
		ks := KindSnapshot{Kind: kind, Ops: ops, Errors: c.errors.Load(), Bytes: c.bytes.Load(), AvgLatencyNs: avg}
		snap.ByKind = append(snap.ByKind, ks)
		snap.TotalOps += ops
		snap.TotalBytes += ks.Bytes
		totalErrors += ks.Errors
	}
	m.mu.RUnlock()

	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	if qc := m.QueueDepthCount.Load(); qc > 0 {
		snap.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(qc)
	}
	snap.MaxQueueDepth = m.MaxQueueDepth.Load()
	snap.BufferWaits = m.BufferWaits.Load()
	snap.BufferNoWaits = m.BufferNoWaits.Load()

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	start := m.StartTime.Load()
	if stop := m.StopTime.Load(); stop > 0 {
		snap.UptimeNs = uint64(stop - start)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - start)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	if opCount > 0 {
		snap.LatencyP50Ns = m.percentile(0.50)
		snap.LatencyP99Ns = m.percentile(0.99)
		snap.LatencyP999Ns = m.percentile(0.999)
	}

	return snap
}

// percentile estimates the latency at the given percentile (0.0-1.0) by
// linear interpolation between histogram buckets.
func (m *Metrics) percentile(p float64) uint64 {
	total := m.OpCount.Load()
	if total == 0 {
		return 0
	}
	target := uint64(float64(total) * p)

	prevBucket := uint64(0)
	prevCount := uint64(0)
	for i, bucket := range LatencyBuckets {
		count := m.LatencyBuckets[i].Load()
		if count >= target {
			if count == prevCount {
				return bucket
			}
			fraction := float64(target-prevCount) / float64(count-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
		prevCount = count
	}
	return LatencyBuckets[numLatencyBuckets-1]
}
