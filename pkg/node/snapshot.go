package node

import (
	"fmt"

	"github.com/quorumkv/quorumkv/internal/raftcore"
	"github.com/quorumkv/quorumkv/pkg/conv"
	"github.com/quorumkv/quorumkv/pkg/jsonvalue"
)

// StripMemoryLog tells RaftCore that the log prefix up to upTo is now
// covered by a snapshot, and drops RecentCommands keys at or below it.
// upTo must be <= AppliedIndex; otherwise this is a no-op returning
// false.
func (n *Node) StripMemoryLog(upTo raftcore.LogIndex) bool {
	if upTo > n.appliedIndex {
		return false
	}
	pos, cfg, ok := n.core.GetPositionAndConfig(upTo)
	if !ok {
		return false
	}
	n.core.HandleSnapshotInstalled(pos, cfg)
	for k := range n.recentCommands {
		if k <= upTo {
			delete(n.recentCommands, k)
		}
	}
	return true
}

// InstallSnapshot adopts a full snapshot received from a peer: the log,
// configuration, membership machine, and applied index are reset to the
// snapshot position, and RecentCommands is re-seeded from the log-entries
// suffix carried inline. The opaque user-machine JSON is returned for the
// host to restore; the host is also responsible for making the snapshot
// durable (FileStorage.SaveSnapshot) before acting on it. A snapshot at
// or behind the current applied index is refused.
func (n *Node) InstallSnapshot(raw jsonvalue.Value, snap conv.InstallSnapshotRpc) (jsonvalue.Value, bool) {
	if snap.Position.Index <= n.appliedIndex {
		return jsonvalue.Value{}, false
	}

	term := n.core.CurrentTerm()
	if snap.Term > term {
		term = snap.Term
	}
	log := make([]raftcore.LogEntry, len(snap.LogEntries))
	for i, ewp := range snap.LogEntries {
		log[i] = ewp.Entry
	}
	n.core.Initialize(term, nil, log, snap.Position.Index, snap.Position.Term, snap.Config, snap.Position.Index)

	n.recentCommands = conv.RecentCommands{}
	values, err := conv.GetSnapshotCommandValues(raw, snap)
	if err != nil {
		return jsonvalue.Value{}, false
	}
	for _, cv := range values {
		n.recentCommands[cv.Position.Index] = cv.Value
	}

	n.nodes = map[raftcore.NodeID]bool{}
	for _, id := range snap.Nodes {
		n.nodes[id] = true
	}
	for _, id := range snap.Config.Voters {
		n.nodes[id] = true
	}
	for _, id := range snap.Config.NewVoters {
		n.nodes[id] = true
	}

	n.appliedIndex = snap.Position.Index
	n.pendingQueries = map[raftcore.LogPosition][]queryEntry{}
	if len(snap.Config.Voters) > 0 {
		n.initialized = true
	}
	n.pushAction(Action{Kind: ActionNotifyEvent, Event: "snapshot.installed"})
	return snap.UserMachine, true
}

// CreateSnapshot produces a single InstallSnapshotRpc JsonValue fully
// describing position, node state, config, the membership machine, the
// opaque user machine, and any log-entries suffix beyond appliedIndex.
// Succeeds only if appliedIndex equals both the node's own applied index
// and the current commit index.
func (n *Node) CreateSnapshot(appliedIndex raftcore.LogIndex, userMachine jsonvalue.Value) (jsonvalue.Value, bool) {
	if appliedIndex != n.appliedIndex || appliedIndex != n.core.CommitIndex() {
		return jsonvalue.Value{}, false
	}
	pos, cfg, ok := n.core.GetPositionAndConfig(appliedIndex)
	if !ok {
		return jsonvalue.Value{}, false
	}

	var suffix []raftcore.EntryWithPosition
	for idx := appliedIndex + 1; idx <= n.core.LastLogIndex(); idx++ {
		ewp, ok := n.core.GetEntryAndPosition(idx)
		if !ok {
			break
		}
		suffix = append(suffix, ewp)
	}

	snap := conv.InstallSnapshotRpc{
		From:        n.core.ID(),
		Term:        n.core.CurrentTerm(),
		Position:    pos,
		NodeID:      n.core.ID(),
		VotedFor:    n.core.VotedFor(),
		Config:      cfg,
		UserMachine: userMachine,
		Nodes:       n.sortedNodes(),
		LogEntries:  suffix,
	}
	val, err := conv.FmtInstallSnapshot(snap, n.recentCommands)
	if err != nil {
		panic(fmt.Sprintf("node: bug: %v", err))
	}
	return val, true
}
