package metrics

import "time"

// Snapshot is a point-in-time read of a node's Raft state, supplied by
// the host loop each collection tick. Using plain fields instead of an
// interface onto *node.Node keeps pkg/metrics free of a dependency on
// pkg/node's internal/raftcore-typed accessors.
type Snapshot struct {
	IsLeader     bool
	Term         uint64
	LastLogIndex uint64
	CommitIndex  uint64
	AppliedIndex uint64
	PeerCount    int
}

// Collector periodically samples a running node's Raft state into the
// package's Prometheus gauges.
type Collector struct {
	sample func() Snapshot
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector that calls sample on each
// tick to obtain the current node state.
func NewCollector(sample func() Snapshot) *Collector {
	return &Collector{sample: sample, stopCh: make(chan struct{})}
}

// Start begins periodic collection on its own goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	s := c.sample()
	if s.IsLeader {
		RaftIsLeader.Set(1)
	} else {
		RaftIsLeader.Set(0)
	}
	RaftTerm.Set(float64(s.Term))
	RaftLastLogIndex.Set(float64(s.LastLogIndex))
	RaftCommitIndex.Set(float64(s.CommitIndex))
	RaftAppliedIndex.Set(float64(s.AppliedIndex))
	RaftPeersTotal.Set(float64(s.PeerCount))
}
