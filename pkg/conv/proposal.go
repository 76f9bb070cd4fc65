package conv

import (
	"encoding/json"
	"fmt"

	"github.com/quorumkv/quorumkv/internal/raftcore"
	"github.com/quorumkv/quorumkv/pkg/jsonvalue"
)

// ProposalID is the triple (node_id, generation, local_seqno), totally
// ordered lexicographically, that uniquely identifies a proposal across
// the cluster and across restarts.
type ProposalID struct {
	NodeID     raftcore.NodeID
	Generation uint64
	LocalSeqno uint64
}

// Less reports whether p sorts before other, lexicographically by
// (node_id, generation, local_seqno).
func (p ProposalID) Less(other ProposalID) bool {
	if p.NodeID != other.NodeID {
		return p.NodeID < other.NodeID
	}
	if p.Generation != other.Generation {
		return p.Generation < other.Generation
	}
	return p.LocalSeqno < other.LocalSeqno
}

// MarshalJSON renders the [node_id, generation, local_seqno] array form.
func (p ProposalID) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]uint64{uint64(p.NodeID), p.Generation, p.LocalSeqno})
}

// UnmarshalJSON parses the [node_id, generation, local_seqno] array form.
func (p *ProposalID) UnmarshalJSON(b []byte) error {
	var arr [3]uint64
	if err := json.Unmarshal(b, &arr); err != nil {
		return fmt.Errorf("parse proposal id: %w", err)
	}
	p.NodeID = raftcore.NodeID(arr[0])
	p.Generation = arr[1]
	p.LocalSeqno = arr[2]
	return nil
}

// CommandEnvelope is the internal proposal envelope stored as a Command
// log entry's payload. Tag is one of "Apply", "Query", or the historical
// "AddNode".
type CommandEnvelope struct {
	Type       string          `json:"type"`
	ProposalID *ProposalID     `json:"proposal_id,omitempty"`
	Command    json.RawMessage `json:"command,omitempty"`
	NodeID     *uint64         `json:"id,omitempty"`
}

// ApplyEnvelope builds a Command::Apply envelope.
func ApplyEnvelope(pid ProposalID, command jsonvalue.Value) (jsonvalue.Value, error) {
	env := CommandEnvelope{Type: "Apply", ProposalID: &pid, Command: json.RawMessage(command.Bytes())}
	return jsonvalue.From(env)
}

// QueryEnvelope builds the bodyless Command::Query marker.
func QueryEnvelope() (jsonvalue.Value, error) {
	return jsonvalue.From(CommandEnvelope{Type: "Query"})
}

// ParseCommandEnvelope decodes a Command log entry's payload.
func ParseCommandEnvelope(value jsonvalue.Value) (CommandEnvelope, error) {
	var env CommandEnvelope
	if err := value.Decode(&env); err != nil {
		return CommandEnvelope{}, fmt.Errorf("parse command envelope: %w", err)
	}
	return env, nil
}

// QueryMessage is the two-phase linearisable-read redirect/proposed pair
// exchanged between a forwarding follower and the leader.
type QueryMessage struct {
	Type       string          `json:"type"`
	From       *uint64         `json:"from,omitempty"`
	ProposalID ProposalID      `json:"proposal_id"`
	Term       *uint64         `json:"term,omitempty"`
	Index      *uint64         `json:"index,omitempty"`
	Request    json.RawMessage `json:"request"`
}

// RedirectMessage builds a QueryMessage::Redirect.
func RedirectMessage(from raftcore.NodeID, pid ProposalID, request jsonvalue.Value) (jsonvalue.Value, error) {
	f := uint64(from)
	return jsonvalue.From(QueryMessage{Type: "Redirect", From: &f, ProposalID: pid, Request: json.RawMessage(request.Bytes())})
}

// ProposedMessage builds a QueryMessage::Proposed.
func ProposedMessage(pid ProposalID, position raftcore.LogPosition, request jsonvalue.Value) (jsonvalue.Value, error) {
	term := uint64(position.Term)
	index := uint64(position.Index)
	return jsonvalue.From(QueryMessage{Type: "Proposed", ProposalID: pid, Term: &term, Index: &index, Request: json.RawMessage(request.Bytes())})
}

// ParseQueryMessage decodes a QueryMessage from its wire JSON.
func ParseQueryMessage(value jsonvalue.Value) (QueryMessage, error) {
	var qm QueryMessage
	if err := value.Decode(&qm); err != nil {
		return QueryMessage{}, fmt.Errorf("parse query message: %w", err)
	}
	if qm.Type != "Redirect" && qm.Type != "Proposed" {
		return QueryMessage{}, fmt.Errorf("parse query message: unknown type %q", qm.Type)
	}
	return qm, nil
}
