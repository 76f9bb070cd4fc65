package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Raft metrics
	RaftIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quorumkv_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quorumkv_raft_term",
			Help: "Current Raft term",
		},
	)

	RaftPeersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quorumkv_raft_peers_total",
			Help: "Total number of voting peers in the current cluster configuration",
		},
	)

	RaftLastLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quorumkv_raft_last_log_index",
			Help: "Index of the last entry in the in-memory log",
		},
	)

	RaftCommitIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quorumkv_raft_commit_index",
			Help: "Highest log index known to be committed",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quorumkv_raft_applied_index",
			Help: "Highest log index applied to the user state machine",
		},
	)

	RaftElectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quorumkv_raft_elections_total",
			Help: "Total number of election timeouts handled by this node",
		},
	)

	// Proposal and query metrics
	ProposalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorumkv_proposals_total",
			Help: "Total number of command proposals by outcome",
		},
		[]string{"outcome"},
	)

	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorumkv_queries_total",
			Help: "Total number of linearisable queries by outcome",
		},
		[]string{"outcome"},
	)

	ProposalCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quorumkv_proposal_commit_duration_seconds",
			Help:    "Time from proposal to commit in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Storage metrics
	StorageAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quorumkv_storage_append_duration_seconds",
			Help:    "Time taken to append and fsync a journal entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	StorageEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quorumkv_storage_entries_total",
			Help: "Total number of entries appended to the journal",
		},
	)

	SnapshotsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quorumkv_snapshots_total",
			Help: "Total number of snapshots created",
		},
	)

	// Transport metrics
	TransportConnectionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quorumkv_transport_connections_total",
			Help: "Total number of currently open peer connections",
		},
	)

	TransportMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorumkv_transport_messages_total",
			Help: "Total number of line-framed messages by direction",
		},
		[]string{"direction"},
	)

	// JSON-RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorumkv_rpc_requests_total",
			Help: "Total number of JSON-RPC requests by method and status",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quorumkv_rpc_request_duration_seconds",
			Help:    "JSON-RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(RaftIsLeader)
	prometheus.MustRegister(RaftTerm)
	prometheus.MustRegister(RaftPeersTotal)
	prometheus.MustRegister(RaftLastLogIndex)
	prometheus.MustRegister(RaftCommitIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftElectionsTotal)
	prometheus.MustRegister(ProposalsTotal)
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(ProposalCommitDuration)
	prometheus.MustRegister(StorageAppendDuration)
	prometheus.MustRegister(StorageEntriesTotal)
	prometheus.MustRegister(SnapshotsTotal)
	prometheus.MustRegister(TransportConnectionsTotal)
	prometheus.MustRegister(TransportMessagesTotal)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
