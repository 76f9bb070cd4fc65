// Package conv implements bidirectional JSON <-> Raft conversion: messages,
// log entries, storage entries, and the ProposalId/QueryMessage wire
// shapes, all at the exact forms fixed by the external interfaces section
// of the specification this library implements. Command payloads are not
// embedded in the Raft data itself; they travel alongside the message in a
// parallel entries[].value array that GetCommandValues pairs with the
// log-entry tags, so a command's JSON flows from proposer to followers
// without ever being copied into the raftcore data structures.
package conv

import (
	"encoding/json"
	"fmt"

	"github.com/quorumkv/quorumkv/internal/raftcore"
	"github.com/quorumkv/quorumkv/pkg/jsonvalue"
)

// RecentCommands is the side table threaded through conversion so Command
// log entries can be paired with their JSON payload.
type RecentCommands = map[raftcore.LogIndex]jsonvalue.Value

type logPositionWire struct {
	Term  uint64 `json:"term"`
	Index uint64 `json:"index"`
}

// The writers below marshal field-ordered structs, never maps, so every
// emitted record keeps the documented field order (encoding/json emits
// struct fields in declaration order but sorts map keys).

type termEntryWire struct {
	Type string `json:"type"`
	Term uint64 `json:"term"`
}

type clusterConfigEntryWire struct {
	Type      string   `json:"type"`
	Voters    []uint64 `json:"voters"`
	NewVoters []uint64 `json:"new_voters"`
}

type commandEntryWire struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func fmtLogEntry(pos raftcore.LogPosition, entry raftcore.LogEntry, commands RecentCommands) (any, error) {
	switch entry.Kind {
	case raftcore.EntryTerm:
		return termEntryWire{Type: "Term", Term: uint64(entry.Term)}, nil
	case raftcore.EntryClusterConfig:
		return clusterConfigEntryWire{
			Type:      "ClusterConfig",
			Voters:    nodeIDs(entry.Config.Voters),
			NewVoters: nodeIDs(entry.Config.NewVoters),
		}, nil
	case raftcore.EntryCommand:
		val, ok := commands[pos.Index]
		if !ok {
			panic(fmt.Sprintf("conv: bug: command entry at index %d missing from RecentCommands", pos.Index))
		}
		return commandEntryWire{Type: "Command", Value: json.RawMessage(val.Bytes())}, nil
	default:
		return nil, fmt.Errorf("format log entry: unknown kind %d", entry.Kind)
	}
}

func nodeIDs(ids []raftcore.NodeID) []uint64 {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out
}

type requestVoteCallWire struct {
	Type      string `json:"type"`
	From      uint64 `json:"from"`
	Term      uint64 `json:"term"`
	LastTerm  uint64 `json:"last_term"`
	LastIndex uint64 `json:"last_index"`
}

type requestVoteReplyWire struct {
	Type        string `json:"type"`
	From        uint64 `json:"from"`
	Term        uint64 `json:"term"`
	VoteGranted bool   `json:"vote_granted"`
}

type appendEntriesCallWire struct {
	Type        string `json:"type"`
	From        uint64 `json:"from"`
	Term        uint64 `json:"term"`
	CommitIndex uint64 `json:"commit_index"`
	PrevTerm    uint64 `json:"prev_term"`
	PrevIndex   uint64 `json:"prev_index"`
	Entries     []any  `json:"entries"`
}

type appendEntriesReplyWire struct {
	Type       string `json:"type"`
	From       uint64 `json:"from"`
	Term       uint64 `json:"term"`
	Generation uint64 `json:"generation"`
	LastTerm   uint64 `json:"last_term"`
	LastIndex  uint64 `json:"last_index"`
}

// FmtMessage renders a Raft message to its canonical JsonValue wire form.
func FmtMessage(msg raftcore.Message, commands RecentCommands) (jsonvalue.Value, error) {
	from := uint64(msg.Type.From)
	term := uint64(msg.Type.Term)
	switch msg.Kind {
	case raftcore.MsgRequestVoteCall:
		return jsonvalue.From(requestVoteCallWire{
			Type: "RequestVoteCall", From: from, Term: term,
			LastTerm:  uint64(msg.LastPosition.Term),
			LastIndex: uint64(msg.LastPosition.Index),
		})
	case raftcore.MsgRequestVoteReply:
		return jsonvalue.From(requestVoteReplyWire{
			Type: "RequestVoteReply", From: from, Term: term,
			VoteGranted: msg.VoteGranted,
		})
	case raftcore.MsgAppendEntriesCall:
		entries := make([]any, 0, len(msg.Entries))
		for _, ewp := range msg.Entries {
			e, err := fmtLogEntry(ewp.Position, ewp.Entry, commands)
			if err != nil {
				return jsonvalue.Value{}, err
			}
			entries = append(entries, e)
		}
		return jsonvalue.From(appendEntriesCallWire{
			Type: "AppendEntriesCall", From: from, Term: term,
			CommitIndex: uint64(msg.CommitIndex),
			PrevTerm:    uint64(msg.PrevPosition.Term),
			PrevIndex:   uint64(msg.PrevPosition.Index),
			Entries:     entries,
		})
	case raftcore.MsgAppendEntriesReply:
		return jsonvalue.From(appendEntriesReplyWire{
			Type: "AppendEntriesReply", From: from, Term: term,
			Generation: msg.Generation,
			LastTerm:   uint64(msg.LastPosition.Term),
			LastIndex:  uint64(msg.LastPosition.Index),
		})
	default:
		return jsonvalue.Value{}, fmt.Errorf("format raft message: unknown kind %d", msg.Kind)
	}
}

type wireEntry struct {
	Type      string   `json:"type"`
	Term      uint64   `json:"term"`
	Voters    []uint64 `json:"voters"`
	NewVoters []uint64 `json:"new_voters"`
	Value     json.RawMessage `json:"value"`
}

type wireMessage struct {
	Type        string      `json:"type"`
	From        uint64      `json:"from"`
	Term        uint64      `json:"term"`
	LastTerm    uint64      `json:"last_term"`
	LastIndex   uint64      `json:"last_index"`
	VoteGranted bool        `json:"vote_granted"`
	CommitIndex uint64      `json:"commit_index"`
	PrevTerm    uint64      `json:"prev_term"`
	PrevIndex   uint64      `json:"prev_index"`
	Generation  uint64      `json:"generation"`
	Entries     []wireEntry `json:"entries"`
}

// JSONToMessage parses a Raft message back into its raftcore form,
// excluding command values: for Command entries only the structural tag
// is validated here, the payload must be extracted separately via
// GetCommandValues using the same raw bytes.
func JSONToMessage(raw jsonvalue.Value) (raftcore.Message, error) {
	var w wireMessage
	if err := raw.Decode(&w); err != nil {
		return raftcore.Message{}, fmt.Errorf("parse raft message: %w", err)
	}
	header := raftcore.MessageHeader{From: raftcore.NodeID(w.From), Term: raftcore.Term(w.Term)}
	switch w.Type {
	case "RequestVoteCall":
		return raftcore.Message{
			Type: header, Kind: raftcore.MsgRequestVoteCall,
			LastPosition: raftcore.LogPosition{Term: raftcore.Term(w.LastTerm), Index: raftcore.LogIndex(w.LastIndex)},
		}, nil
	case "RequestVoteReply":
		return raftcore.Message{Type: header, Kind: raftcore.MsgRequestVoteReply, VoteGranted: w.VoteGranted}, nil
	case "AppendEntriesCall":
		entries := make([]raftcore.EntryWithPosition, 0, len(w.Entries))
		idx := raftcore.LogIndex(w.PrevIndex) + 1
		term := raftcore.Term(w.PrevTerm)
		for _, we := range w.Entries {
			entry, err := wireToEntry(we, &term)
			if err != nil {
				return raftcore.Message{}, err
			}
			entries = append(entries, raftcore.EntryWithPosition{
				Position: raftcore.LogPosition{Term: term, Index: idx},
				Entry:    entry,
			})
			idx++
		}
		return raftcore.Message{
			Type: header, Kind: raftcore.MsgAppendEntriesCall,
			CommitIndex:  raftcore.LogIndex(w.CommitIndex),
			PrevPosition: raftcore.LogPosition{Term: raftcore.Term(w.PrevTerm), Index: raftcore.LogIndex(w.PrevIndex)},
			Entries:      entries,
		}, nil
	case "AppendEntriesReply":
		return raftcore.Message{
			Type: header, Kind: raftcore.MsgAppendEntriesReply,
			Generation:   w.Generation,
			LastPosition: raftcore.LogPosition{Term: raftcore.Term(w.LastTerm), Index: raftcore.LogIndex(w.LastIndex)},
		}, nil
	default:
		return raftcore.Message{}, fmt.Errorf("parse raft message: unknown type %q", w.Type)
	}
}

// wireToEntry decodes one wire entry into its raftcore form. Only the Term
// entry kind carries an explicit term on the wire; Command and ClusterConfig
// entries are implicitly stamped with whatever term is currently running, so
// *term is threaded through a run of entries and only advanced by a Term
// marker, then stamped onto every entry (including the Term marker itself)
// to match the term raftcore records on every LogEntry.
func wireToEntry(we wireEntry, term *raftcore.Term) (raftcore.LogEntry, error) {
	switch we.Type {
	case "Term":
		*term = raftcore.Term(we.Term)
		return raftcore.LogEntry{Kind: raftcore.EntryTerm, Term: *term}, nil
	case "ClusterConfig":
		// An empty voter list on the wire decodes to a nil slice, the same
		// value an unset ClusterConfig field holds, so a round trip is exact.
		var cfg raftcore.ClusterConfig
		for _, v := range we.Voters {
			cfg.Voters = append(cfg.Voters, raftcore.NodeID(v))
		}
		for _, v := range we.NewVoters {
			cfg.NewVoters = append(cfg.NewVoters, raftcore.NodeID(v))
		}
		return raftcore.LogEntry{Kind: raftcore.EntryClusterConfig, Term: *term, Config: cfg}, nil
	case "Command":
		if we.Value == nil {
			return raftcore.LogEntry{}, fmt.Errorf("parse log entry: command entry missing value")
		}
		return raftcore.LogEntry{Kind: raftcore.EntryCommand, Term: *term}, nil
	default:
		return raftcore.LogEntry{}, fmt.Errorf("parse log entry: unknown type %q", we.Type)
	}
}

// GetCommandValues extracts (position, payload) pairs for every Command
// entry in an AppendEntriesCall message, reading the parallel "value"
// member from the same raw JSON the message was parsed from. Returns nil
// if msg is not an AppendEntriesCall.
func GetCommandValues(raw jsonvalue.Value, msg raftcore.Message) ([]CommandValue, error) {
	if msg.Kind != raftcore.MsgAppendEntriesCall {
		return nil, nil
	}
	var w wireMessage
	if err := raw.Decode(&w); err != nil {
		return nil, fmt.Errorf("extract command values: %w", err)
	}
	var out []CommandValue
	for i, we := range w.Entries {
		if we.Type != "Command" {
			continue
		}
		val, err := jsonvalue.Raw(we.Value)
		if err != nil {
			return nil, fmt.Errorf("extract command values: %w", err)
		}
		out = append(out, CommandValue{Position: msg.Entries[i].Position, Value: val})
	}
	return out, nil
}

// CommandValue pairs a log position with the command payload carried
// alongside it on the wire.
type CommandValue struct {
	Position raftcore.LogPosition
	Value    jsonvalue.Value
}
