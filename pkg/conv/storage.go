package conv

import (
	"encoding/json"
	"fmt"

	"github.com/quorumkv/quorumkv/internal/raftcore"
	"github.com/quorumkv/quorumkv/pkg/jsonvalue"
)

// StorageEntryKind tags one line of the append-only journal.
type StorageEntryKind int

const (
	StorageNodeGeneration StorageEntryKind = iota
	StorageTerm
	StorageVotedFor
	StorageLogEntries
	StorageInstallSnapshot
)

// StorageEntry is a parsed journal line, one per append-only record.
type StorageEntry struct {
	Kind StorageEntryKind

	Generation uint64 // StorageNodeGeneration

	Term raftcore.Term // StorageTerm, StorageLogEntries (predecessor term)

	VotedFor *raftcore.NodeID // StorageVotedFor

	// StorageLogEntries
	PrevIndex raftcore.LogIndex
	Entries   []raftcore.EntryWithPosition

	// StorageInstallSnapshot
	Snapshot InstallSnapshotRpc
}

// InstallSnapshotRpc is a full snapshot: position, persisted node state,
// cluster config, membership machine, opaque user machine, and any log
// suffix beyond the snapshot position.
type InstallSnapshotRpc struct {
	From        raftcore.NodeID
	Term        raftcore.Term
	Position    raftcore.LogPosition
	NodeID      raftcore.NodeID
	VotedFor    *raftcore.NodeID
	Config      raftcore.ClusterConfig
	UserMachine jsonvalue.Value
	Nodes       []raftcore.NodeID
	LogEntries  []raftcore.EntryWithPosition
}

type nodeGenerationWire struct {
	Type       string `json:"type"`
	Generation uint64 `json:"generation"`
}

type storageTermWire struct {
	Type string `json:"type"`
	Term uint64 `json:"term"`
}

type votedForWire struct {
	Type   string  `json:"type"`
	NodeID *uint64 `json:"node_id"`
}

type logEntriesWire struct {
	Type    string `json:"type"`
	Term    uint64 `json:"term"`
	Index   uint64 `json:"index"`
	Entries []any  `json:"entries"`
}

type nodeStateWire struct {
	NodeID   uint64  `json:"node_id"`
	Term     uint64  `json:"term"`
	VotedFor *uint64 `json:"voted_for"`
}

type clusterConfigWire struct {
	Voters    []uint64 `json:"voters"`
	NewVoters []uint64 `json:"new_voters"`
}

type machineWire struct {
	Nodes []uint64 `json:"nodes"`
}

type installSnapshotWire struct {
	Type        string            `json:"type"`
	From        uint64            `json:"from"`
	Term        uint64            `json:"term"`
	Position    logPositionWire   `json:"position"`
	NodeState   nodeStateWire     `json:"node_state"`
	Config      clusterConfigWire `json:"config"`
	UserMachine json.RawMessage   `json:"user_machine"`
	Machine     machineWire       `json:"machine"`
	LogEntries  []any             `json:"log_entries"`
}

// FmtStorageNodeGeneration renders a NodeGeneration journal line.
func FmtStorageNodeGeneration(generation uint64) (jsonvalue.Value, error) {
	return jsonvalue.From(nodeGenerationWire{Type: "NodeGeneration", Generation: generation})
}

// FmtStorageTerm renders a Term journal line.
func FmtStorageTerm(term raftcore.Term) (jsonvalue.Value, error) {
	return jsonvalue.From(storageTermWire{Type: "Term", Term: uint64(term)})
}

// FmtStorageVotedFor renders a VotedFor journal line; node_id is null
// when the vote is cleared.
func FmtStorageVotedFor(votedFor *raftcore.NodeID) (jsonvalue.Value, error) {
	var node *uint64
	if votedFor != nil {
		v := uint64(*votedFor)
		node = &v
	}
	return jsonvalue.From(votedForWire{Type: "VotedFor", NodeID: node})
}

// FmtStorageLogEntries renders a LogEntries journal line: a run of log
// entries appended at a known predecessor position.
func FmtStorageLogEntries(prevPosition raftcore.LogPosition, entries []raftcore.EntryWithPosition, commands RecentCommands) (jsonvalue.Value, error) {
	entryValues := make([]any, 0, len(entries))
	for _, ewp := range entries {
		e, err := fmtLogEntry(ewp.Position, ewp.Entry, commands)
		if err != nil {
			return jsonvalue.Value{}, err
		}
		entryValues = append(entryValues, e)
	}
	return jsonvalue.From(logEntriesWire{
		Type:    "LogEntries",
		Term:    uint64(prevPosition.Term),
		Index:   uint64(prevPosition.Index),
		Entries: entryValues,
	})
}

// FmtInstallSnapshot renders a full InstallSnapshotRpc journal line /
// wire message.
func FmtInstallSnapshot(snap InstallSnapshotRpc, commands RecentCommands) (jsonvalue.Value, error) {
	logEntries := make([]any, 0, len(snap.LogEntries))
	for _, ewp := range snap.LogEntries {
		e, err := fmtLogEntry(ewp.Position, ewp.Entry, commands)
		if err != nil {
			return jsonvalue.Value{}, err
		}
		logEntries = append(logEntries, e)
	}
	var votedFor *uint64
	if snap.VotedFor != nil {
		v := uint64(*snap.VotedFor)
		votedFor = &v
	}
	return jsonvalue.From(installSnapshotWire{
		Type: "InstallSnapshotRpc",
		From: uint64(snap.From),
		Term: uint64(snap.Term),
		Position: logPositionWire{
			Term: uint64(snap.Position.Term), Index: uint64(snap.Position.Index),
		},
		NodeState: nodeStateWire{
			NodeID: uint64(snap.NodeID), Term: uint64(snap.Term), VotedFor: votedFor,
		},
		Config: clusterConfigWire{
			Voters: nodeIDs(snap.Config.Voters), NewVoters: nodeIDs(snap.Config.NewVoters),
		},
		UserMachine: json.RawMessage(snap.UserMachine.Bytes()),
		Machine:     machineWire{Nodes: nodeIDs(snap.Nodes)},
		LogEntries:  logEntries,
	})
}

type wireStorageEntry struct {
	Type       string          `json:"type"`
	Generation uint64          `json:"generation"`
	Term       uint64          `json:"term"`
	Index      uint64          `json:"index"`
	NodeID     *uint64         `json:"node_id"`
	Entries    []wireEntry     `json:"entries"`
	From       uint64          `json:"from"`
	Position   logPositionWire `json:"position"`
	NodeState  struct {
		NodeID   uint64  `json:"node_id"`
		Term     uint64  `json:"term"`
		VotedFor *uint64 `json:"voted_for"`
	} `json:"node_state"`
	Config struct {
		Voters    []uint64 `json:"voters"`
		NewVoters []uint64 `json:"new_voters"`
	} `json:"config"`
	UserMachine json.RawMessage `json:"user_machine"`
	Machine     struct {
		Nodes []uint64 `json:"nodes"`
	} `json:"machine"`
	LogEntries []wireEntry `json:"log_entries"`
}

// ParseStorageEntry decodes a single journal line into a StorageEntry.
func ParseStorageEntry(value jsonvalue.Value) (StorageEntry, error) {
	var w wireStorageEntry
	if err := value.Decode(&w); err != nil {
		return StorageEntry{}, fmt.Errorf("parse storage entry: %w", err)
	}
	switch w.Type {
	case "NodeGeneration":
		return StorageEntry{Kind: StorageNodeGeneration, Generation: w.Generation}, nil
	case "Term":
		return StorageEntry{Kind: StorageTerm, Term: raftcore.Term(w.Term)}, nil
	case "VotedFor":
		var vf *raftcore.NodeID
		if w.NodeID != nil {
			id := raftcore.NodeID(*w.NodeID)
			vf = &id
		}
		return StorageEntry{Kind: StorageVotedFor, VotedFor: vf}, nil
	case "LogEntries":
		entries := make([]raftcore.EntryWithPosition, 0, len(w.Entries))
		idx := raftcore.LogIndex(w.Index) + 1
		term := raftcore.Term(w.Term)
		for _, we := range w.Entries {
			entry, err := wireToEntry(we, &term)
			if err != nil {
				return StorageEntry{}, err
			}
			entries = append(entries, raftcore.EntryWithPosition{Position: raftcore.LogPosition{Term: term, Index: idx}, Entry: entry})
			idx++
		}
		return StorageEntry{Kind: StorageLogEntries, Term: raftcore.Term(w.Term), PrevIndex: raftcore.LogIndex(w.Index), Entries: entries}, nil
	case "InstallSnapshotRpc":
		snap, err := parseSnapshot(w)
		if err != nil {
			return StorageEntry{}, err
		}
		return StorageEntry{Kind: StorageInstallSnapshot, Snapshot: snap}, nil
	default:
		return StorageEntry{}, fmt.Errorf("parse storage entry: unknown type %q", w.Type)
	}
}

// GetStorageCommandValues extracts (position, payload) pairs for every
// Command entry in a LogEntries journal record, reading the inline
// "value" member from the same raw JSON the entry was parsed from and
// pairing it with the position conv.ParseStorageEntry already computed.
// Returns nil if entry is not a StorageLogEntries record.
func GetStorageCommandValues(raw jsonvalue.Value, entry StorageEntry) ([]CommandValue, error) {
	if entry.Kind != StorageLogEntries {
		return nil, nil
	}
	var w wireStorageEntry
	if err := raw.Decode(&w); err != nil {
		return nil, fmt.Errorf("extract command values: %w", err)
	}
	return pairCommandValues(w.Entries, entry.Entries)
}

// GetSnapshotCommandValues is GetStorageCommandValues for the log-entries
// suffix carried inline on an InstallSnapshotRpc journal record.
func GetSnapshotCommandValues(raw jsonvalue.Value, snap InstallSnapshotRpc) ([]CommandValue, error) {
	var w wireStorageEntry
	if err := raw.Decode(&w); err != nil {
		return nil, fmt.Errorf("extract command values: %w", err)
	}
	return pairCommandValues(w.LogEntries, snap.LogEntries)
}

func pairCommandValues(wire []wireEntry, positioned []raftcore.EntryWithPosition) ([]CommandValue, error) {
	var out []CommandValue
	for i, we := range wire {
		if we.Type != "Command" {
			continue
		}
		val, err := jsonvalue.Raw(we.Value)
		if err != nil {
			return nil, fmt.Errorf("extract command values: %w", err)
		}
		out = append(out, CommandValue{Position: positioned[i].Position, Value: val})
	}
	return out, nil
}

func parseSnapshot(w wireStorageEntry) (InstallSnapshotRpc, error) {
	var votedFor *raftcore.NodeID
	if w.NodeState.VotedFor != nil {
		id := raftcore.NodeID(*w.NodeState.VotedFor)
		votedFor = &id
	}
	cfg := raftcore.ClusterConfig{
		Voters:    make([]raftcore.NodeID, len(w.Config.Voters)),
		NewVoters: make([]raftcore.NodeID, len(w.Config.NewVoters)),
	}
	for i, v := range w.Config.Voters {
		cfg.Voters[i] = raftcore.NodeID(v)
	}
	for i, v := range w.Config.NewVoters {
		cfg.NewVoters[i] = raftcore.NodeID(v)
	}
	nodes := make([]raftcore.NodeID, len(w.Machine.Nodes))
	for i, v := range w.Machine.Nodes {
		nodes[i] = raftcore.NodeID(v)
	}
	logEntries := make([]raftcore.EntryWithPosition, 0, len(w.LogEntries))
	idx := raftcore.LogIndex(w.Position.Index) + 1
	term := raftcore.Term(w.Position.Term)
	for _, we := range w.LogEntries {
		entry, err := wireToEntry(we, &term)
		if err != nil {
			return InstallSnapshotRpc{}, err
		}
		logEntries = append(logEntries, raftcore.EntryWithPosition{Position: raftcore.LogPosition{Term: term, Index: idx}, Entry: entry})
		idx++
	}
	userMachine, err := jsonvalue.Raw(w.UserMachine)
	if err != nil {
		return InstallSnapshotRpc{}, fmt.Errorf("parse storage entry: %w", err)
	}
	return InstallSnapshotRpc{
		From:        raftcore.NodeID(w.From),
		Term:        raftcore.Term(w.Term),
		Position:    raftcore.LogPosition{Term: raftcore.Term(w.Position.Term), Index: raftcore.LogIndex(w.Position.Index)},
		NodeID:      raftcore.NodeID(w.NodeState.NodeID),
		VotedFor:    votedFor,
		Config:      cfg,
		UserMachine: userMachine,
		Nodes:       nodes,
		LogEntries:  logEntries,
	}, nil
}
