package mining

import "sync/atomic"

// Metrics aggregates the engine's three monotonically non-decreasing
// counters. Workers report hashes in batches; the submission consumer reports
// outcomes. Reads are safe at any time and never block writers.
type Metrics struct {
	hashesTried     atomic.Uint64
	blocksSubmitted atomic.Uint64
	blocksAccepted  atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	HashesTried     uint64 `json:"hashes_tried"`
	BlocksSubmitted uint64 `json:"blocks_submitted"`
	BlocksAccepted  uint64 `json:"blocks_accepted"`
}

// NewMetrics creates a zeroed aggregator.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// AddHashes adds a batch of completed hash attempts.
func (m *Metrics) AddHashes(n uint64) {
	if n > 0 {
		m.hashesTried.Add(n)
	}
}

// IncSubmitted records one submission attempt, accepted or not.
func (m *Metrics) IncSubmitted() {
	m.blocksSubmitted.Add(1)
}

// IncAccepted records one accepted block.
func (m *Metrics) IncAccepted() {
	m.blocksAccepted.Add(1)
}

// Snapshot returns a consistent-enough copy for display: each counter is read
// atomically, and all only ever increase during a session.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		HashesTried:     m.hashesTried.Load(),
		BlocksSubmitted: m.blocksSubmitted.Load(),
		BlocksAccepted:  m.blocksAccepted.Load(),
	}
}

// Reset zeroes all counters. Called exactly once per session, at the
// Connected to Mining transition.
func (m *Metrics) Reset() {
	m.hashesTried.Store(0)
	m.blocksSubmitted.Store(0)
	m.blocksAccepted.Store(0)
}
