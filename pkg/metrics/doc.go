/*
Package metrics provides Prometheus metrics collection and exposition for
quorumkv.

The package defines and registers metrics using the Prometheus client
library, giving observability into Raft state, proposal/query throughput,
journal writes, and transport connection counts. Metrics are exposed via
an HTTP endpoint for scraping.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Categories               │          │
	│  │                                              │          │
	│  │  Raft: leader status, term, log/commit/apply│          │
	│  │        index, peer count, elections         │          │
	│  │  Proposal/query: outcome counts, commit      │          │
	│  │        latency                               │          │
	│  │  Storage: append latency, entries, snapshots│          │
	│  │  Transport: open connections, message count │          │
	│  │  JSON-RPC: request count and latency         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint               │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Collector

Collector polls a running node on a fixed interval via a caller-supplied
Snapshot function and updates the Raft gauges. The host loop in
cmd/quorumkvd owns the Collector's lifecycle, calling Start once the node
is running and Stop on shutdown.

# Health

health.go tracks per-component readiness (raft, storage, transport) via
RegisterComponent/UpdateComponent, and exposes /healthz, /readyz, and
/livez HTTP handlers for operators and orchestrators.

# Timer

Timer is a small helper for observing durations into histograms:

	t := metrics.NewTimer()
	defer t.ObserveDuration(metrics.ProposalCommitDuration)
*/
package metrics
