package conv

import (
	"testing"

	"github.com/quorumkv/quorumkv/internal/raftcore"
	"github.com/quorumkv/quorumkv/pkg/jsonvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFmtMessageRoundTripRequestVoteCall(t *testing.T) {
	msg := raftcore.Message{
		Type:         raftcore.MessageHeader{From: 2, Term: 5},
		Kind:         raftcore.MsgRequestVoteCall,
		LastPosition: raftcore.LogPosition{Term: 4, Index: 9},
	}
	v, err := FmtMessage(msg, nil)
	require.NoError(t, err)

	got, err := JSONToMessage(v)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestFmtMessageRoundTripAppendEntriesCallWithCommand(t *testing.T) {
	commands := RecentCommands{10: jsonvalue.MustFrom(map[string]any{"k": "v"})}
	msg := raftcore.Message{
		Type:         raftcore.MessageHeader{From: 1, Term: 3},
		Kind:         raftcore.MsgAppendEntriesCall,
		CommitIndex:  8,
		PrevPosition: raftcore.LogPosition{Term: 3, Index: 9},
		Entries: []raftcore.EntryWithPosition{
			{Position: raftcore.LogPosition{Term: 3, Index: 10}, Entry: raftcore.LogEntry{Kind: raftcore.EntryCommand, Term: 3}},
		},
	}
	v, err := FmtMessage(msg, commands)
	require.NoError(t, err)

	got, err := JSONToMessage(v)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	values, err := GetCommandValues(v, got)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, raftcore.LogPosition{Term: 3, Index: 10}, values[0].Position)
	assert.True(t, jsonvalue.Equal(commands[10], values[0].Value))
}

func TestFmtMessageRoundTripClusterConfig(t *testing.T) {
	// The predecessor position's term (1) is what a ClusterConfig entry's
	// own position term is reconstructed from, since the wire form carries
	// no per-entry term for anything but a Term marker.
	msg := raftcore.Message{
		Type:         raftcore.MessageHeader{From: 1, Term: 1},
		Kind:         raftcore.MsgAppendEntriesCall,
		PrevPosition: raftcore.LogPosition{Term: 1, Index: 0},
		Entries: []raftcore.EntryWithPosition{
			{Position: raftcore.LogPosition{Term: 1, Index: 1}, Entry: raftcore.LogEntry{
				Kind:   raftcore.EntryClusterConfig,
				Term:   1,
				Config: raftcore.ClusterConfig{Voters: []raftcore.NodeID{1, 2, 3}},
			}},
		},
	}
	v, err := FmtMessage(msg, nil)
	require.NoError(t, err)

	got, err := JSONToMessage(v)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestProposalIDRoundTripAndOrdering(t *testing.T) {
	pid := ProposalID{NodeID: 2, Generation: 3, LocalSeqno: 7}
	v, err := jsonvalue.From(pid)
	require.NoError(t, err)
	assert.JSONEq(t, `[2,3,7]`, v.String())

	var got ProposalID
	require.NoError(t, v.Decode(&got))
	assert.Equal(t, pid, got)

	assert.True(t, ProposalID{NodeID: 1}.Less(ProposalID{NodeID: 2}))
	assert.True(t, ProposalID{NodeID: 1, Generation: 1}.Less(ProposalID{NodeID: 1, Generation: 2}))
	assert.True(t, ProposalID{NodeID: 1, Generation: 1, LocalSeqno: 1}.Less(ProposalID{NodeID: 1, Generation: 1, LocalSeqno: 2}))
	assert.False(t, ProposalID{NodeID: 2}.Less(ProposalID{NodeID: 1}))
}

func TestApplyEnvelopeRoundTrip(t *testing.T) {
	pid := ProposalID{NodeID: 1, Generation: 0, LocalSeqno: 1}
	req := jsonvalue.MustFrom(map[string]any{"op": "put", "key": "a", "value": "1"})
	env, err := ApplyEnvelope(pid, req)
	require.NoError(t, err)

	parsed, err := ParseCommandEnvelope(env)
	require.NoError(t, err)
	assert.Equal(t, "Apply", parsed.Type)
	require.NotNil(t, parsed.ProposalID)
	assert.Equal(t, pid, *parsed.ProposalID)
}

func TestQueryEnvelopeHasNoProposalID(t *testing.T) {
	env, err := QueryEnvelope()
	require.NoError(t, err)
	parsed, err := ParseCommandEnvelope(env)
	require.NoError(t, err)
	assert.Equal(t, "Query", parsed.Type)
	assert.Nil(t, parsed.ProposalID)
}

func TestQueryMessageRedirectProposedRoundTrip(t *testing.T) {
	pid := ProposalID{NodeID: 2, Generation: 0, LocalSeqno: 1}
	req := jsonvalue.MustFrom(map[string]any{"op": "get", "key": "a"})

	redirect, err := RedirectMessage(2, pid, req)
	require.NoError(t, err)
	qm, err := ParseQueryMessage(redirect)
	require.NoError(t, err)
	assert.Equal(t, "Redirect", qm.Type)
	require.NotNil(t, qm.From)
	assert.Equal(t, uint64(2), *qm.From)

	pos := raftcore.LogPosition{Term: 4, Index: 5}
	proposed, err := ProposedMessage(pid, pos, req)
	require.NoError(t, err)
	qm2, err := ParseQueryMessage(proposed)
	require.NoError(t, err)
	assert.Equal(t, "Proposed", qm2.Type)
	require.NotNil(t, qm2.Term)
	require.NotNil(t, qm2.Index)
	assert.Equal(t, uint64(4), *qm2.Term)
	assert.Equal(t, uint64(5), *qm2.Index)
}

func TestStorageEntryRoundTripLogEntries(t *testing.T) {
	commands := RecentCommands{2: jsonvalue.MustFrom(map[string]any{"x": 1})}
	prev := raftcore.LogPosition{Term: 1, Index: 0}
	entries := []raftcore.EntryWithPosition{
		{Position: raftcore.LogPosition{Term: 1, Index: 1}, Entry: raftcore.LogEntry{Kind: raftcore.EntryTerm, Term: 1}},
		{Position: raftcore.LogPosition{Term: 1, Index: 2}, Entry: raftcore.LogEntry{Kind: raftcore.EntryCommand, Term: 1}},
	}
	v, err := FmtStorageLogEntries(prev, entries, commands)
	require.NoError(t, err)

	parsed, err := ParseStorageEntry(v)
	require.NoError(t, err)
	assert.Equal(t, StorageLogEntries, parsed.Kind)
	assert.Equal(t, raftcore.LogIndex(0), parsed.PrevIndex)
	require.Len(t, parsed.Entries, 2)
	assert.Equal(t, raftcore.EntryTerm, parsed.Entries[0].Entry.Kind)
	assert.Equal(t, raftcore.EntryCommand, parsed.Entries[1].Entry.Kind)
}

func TestStorageEntryRoundTripSnapshot(t *testing.T) {
	votedFor := raftcore.NodeID(2)
	snap := InstallSnapshotRpc{
		From:        1,
		Term:        3,
		Position:    raftcore.LogPosition{Term: 3, Index: 5},
		NodeID:      1,
		VotedFor:    &votedFor,
		Config:      raftcore.ClusterConfig{Voters: []raftcore.NodeID{1, 2, 3}},
		UserMachine: jsonvalue.MustFrom(map[string]any{"a": "1"}),
		Nodes:       []raftcore.NodeID{1, 2, 3},
	}
	v, err := FmtInstallSnapshot(snap, nil)
	require.NoError(t, err)

	parsed, err := ParseStorageEntry(v)
	require.NoError(t, err)
	require.Equal(t, StorageInstallSnapshot, parsed.Kind)
	got := parsed.Snapshot
	assert.Equal(t, snap.Position, got.Position)
	assert.Equal(t, snap.Config.Voters, got.Config.Voters)
	assert.Equal(t, snap.Nodes, got.Nodes)
	require.NotNil(t, got.VotedFor)
	assert.Equal(t, votedFor, *got.VotedFor)
	assert.True(t, jsonvalue.Equal(snap.UserMachine, got.UserMachine))
}

// Wire records keep their documented member order byte-for-byte, not
// just structurally: the writers marshal field-ordered structs, and the
// canonical text is what crosses the network and the journal verbatim.
func TestFmtMessagePreservesFieldOrder(t *testing.T) {
	msg := raftcore.Message{
		Type:         raftcore.MessageHeader{From: 2, Term: 5},
		Kind:         raftcore.MsgRequestVoteCall,
		LastPosition: raftcore.LogPosition{Term: 4, Index: 9},
	}
	v, err := FmtMessage(msg, nil)
	require.NoError(t, err)
	assert.Equal(t,
		`{"type":"RequestVoteCall","from":2,"term":5,"last_term":4,"last_index":9}`,
		v.String())
}

func TestFmtStorageVotedForNil(t *testing.T) {
	v, err := FmtStorageVotedFor(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"VotedFor","node_id":null}`, v.String())

	parsed, err := ParseStorageEntry(v)
	require.NoError(t, err)
	assert.Nil(t, parsed.VotedFor)
}
