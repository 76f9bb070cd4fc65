package node

import (
	"fmt"

	"github.com/quorumkv/quorumkv/internal/raftcore"
	"github.com/quorumkv/quorumkv/pkg/conv"
	"github.com/quorumkv/quorumkv/pkg/jsonvalue"
)

// Load scans a journal in order (as produced by FileStorage.LoadEntries)
// and reconstructs node state: identity, term, voted_for, log, config,
// and the user machine's snapshot (if any). Every Command entry's
// payload is recovered from the same journal line it was read from and
// re-seeded into RecentCommands, so a replayed command can be applied
// (or later re-committed) without the "missing from RecentCommands" bug
// check ever firing. After load, generation becomes lastSeenGeneration+1
// and a new NodeGeneration storage-append action is enqueued; initialized
// is set iff the resulting config is non-empty. Returns the embedded
// user-machine JSON from the most recent snapshot, or the zero Value if
// none was ever taken.
func (n *Node) Load(entries []jsonvalue.Value) (jsonvalue.Value, error) {
	var (
		generationSeen uint64
		term           raftcore.Term
		votedFor       *raftcore.NodeID
		log            []raftcore.LogEntry
		logBase        raftcore.LogIndex
		baseTerm       raftcore.Term
		config         raftcore.ClusterConfig
		commitIndex    raftcore.LogIndex
		userMachine    jsonvalue.Value
		nodes          = map[raftcore.NodeID]bool{}
		recentCommands = conv.RecentCommands{}
	)

	for _, raw := range entries {
		entry, err := conv.ParseStorageEntry(raw)
		if err != nil {
			return jsonvalue.Value{}, fmt.Errorf("load journal: %w", err)
		}
		switch entry.Kind {
		case conv.StorageNodeGeneration:
			if entry.Generation > generationSeen {
				generationSeen = entry.Generation
			}
		case conv.StorageTerm:
			term = entry.Term
		case conv.StorageVotedFor:
			votedFor = entry.VotedFor
		case conv.StorageLogEntries:
			log = appendLogSuffix(log, logBase, entry.PrevIndex, entry.Entries)
			if cfg, ok := lastClusterConfig(entry.Entries); ok {
				config = cfg
			}
			values, err := conv.GetStorageCommandValues(raw, entry)
			if err != nil {
				return jsonvalue.Value{}, fmt.Errorf("load journal: %w", err)
			}
			for _, cv := range values {
				recentCommands[cv.Position.Index] = cv.Value
			}
		case conv.StorageInstallSnapshot:
			snap := entry.Snapshot
			logBase = snap.Position.Index
			baseTerm = snap.Position.Term
			log = entriesOnly(snap.LogEntries)
			config = snap.Config
			commitIndex = snap.Position.Index
			userMachine = snap.UserMachine
			nodes = map[raftcore.NodeID]bool{}
			for _, id := range snap.Nodes {
				nodes[id] = true
			}
			recentCommands = conv.RecentCommands{}
			values, err := conv.GetSnapshotCommandValues(raw, snap)
			if err != nil {
				return jsonvalue.Value{}, fmt.Errorf("load journal: %w", err)
			}
			for _, cv := range values {
				recentCommands[cv.Position.Index] = cv.Value
			}
		}
	}

	for _, v := range config.Voters {
		nodes[v] = true
	}
	for _, v := range config.NewVoters {
		nodes[v] = true
	}

	// A single-voter cluster whose sole voter is this node never needs a
	// second node's acknowledgement to reach quorum, so every entry its
	// own durable log already holds was committed the instant it was
	// appended; restoring that here lets the pending-command replay below
	// reconstruct the user machine without waiting on a fresh election.
	lastLogIndex := logBase + raftcore.LogIndex(len(log))
	if !config.IsJoint() && len(config.Voters) == 1 && config.Voters[0] == n.core.ID() && lastLogIndex > commitIndex {
		commitIndex = lastLogIndex
	}

	n.generation = generationSeen + 1
	n.core.SetGeneration(n.generation)
	n.core.Initialize(term, votedFor, log, logBase, baseTerm, config, commitIndex)
	n.nodes = nodes
	n.initialized = len(config.Voters) > 0
	n.recentCommands = recentCommands

	// appliedIndex starts at the pre-replay baseline (the snapshot
	// position, or 0 with none) so emitCommitActions below walks forward
	// over every entry the journal shows as committed, applying each
	// Command it finds using the RecentCommands just restored.
	n.appliedIndex = logBase
	n.emitCommitActions()

	v, err := conv.FmtStorageNodeGeneration(n.generation)
	if err != nil {
		return jsonvalue.Value{}, fmt.Errorf("load journal: %w", err)
	}
	n.pushAction(Action{Kind: ActionAppendStorageEntry, StorageValue: v})

	return userMachine, nil
}

// appendLogSuffix replaces any existing suffix starting at prevIndex+1
// with the newly loaded entries, matching the AppendEntries semantics
// replayed from the journal.
func appendLogSuffix(log []raftcore.LogEntry, logBase, prevIndex raftcore.LogIndex, entries []raftcore.EntryWithPosition) []raftcore.LogEntry {
	keep := int(prevIndex - logBase)
	if keep < 0 {
		keep = 0
	}
	if keep > len(log) {
		keep = len(log)
	}
	out := log[:keep]
	for _, ewp := range entries {
		out = append(out, ewp.Entry)
	}
	return out
}

func entriesOnly(entries []raftcore.EntryWithPosition) []raftcore.LogEntry {
	out := make([]raftcore.LogEntry, len(entries))
	for i, e := range entries {
		out[i] = e.Entry
	}
	return out
}

func lastClusterConfig(entries []raftcore.EntryWithPosition) (raftcore.ClusterConfig, bool) {
	var cfg raftcore.ClusterConfig
	found := false
	for _, e := range entries {
		if e.Entry.Kind == raftcore.EntryClusterConfig {
			cfg = e.Entry.Config
			found = true
		}
	}
	return cfg, found
}
