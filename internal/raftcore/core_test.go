package raftcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(c *Core) []Action {
	return c.DrainActions()
}

func actionsOfKind(actions []Action, kind ActionKind) []Action {
	var out []Action
	for _, a := range actions {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func TestCreateClusterTransitionsToFollower(t *testing.T) {
	c := New(1)
	c.CreateCluster([]NodeID{1, 2, 3})
	assert.Equal(t, Follower, c.RoleValue())
	assert.Equal(t, LogIndex(1), c.LastLogIndex())

	actions := drain(c)
	require.NotEmpty(t, actionsOfKind(actions, ActionAppendLogEntries))
	require.NotEmpty(t, actionsOfKind(actions, ActionSetElectionTimeout))
}

func TestSingleNodeElectsSelfLeaderImmediately(t *testing.T) {
	c := New(1)
	c.CreateCluster([]NodeID{1})
	drain(c)

	c.HandleElectionTimeout()
	assert.Equal(t, Leader, c.RoleValue())
}

func TestThreeNodeElection(t *testing.T) {
	a, b, cc := New(1), New(2), New(3)
	members := []NodeID{1, 2, 3}
	a.CreateCluster(members)
	b.CreateCluster(members)
	cc.CreateCluster(members)
	drain(a)
	drain(b)
	drain(cc)

	a.HandleElectionTimeout()
	actions := drain(a)
	var voteCall Message
	for _, act := range actions {
		if act.Kind == ActionBroadcastMessage {
			voteCall = act.Message
		}
	}
	require.Equal(t, MsgRequestVoteCall, voteCall.Kind)

	b.HandleMessage(voteCall)
	bActions := drain(b)
	cc.HandleMessage(voteCall)
	ccActions := drain(cc)

	for _, act := range bActions {
		if act.Kind == ActionSendMessage {
			a.HandleMessage(act.Message)
		}
	}
	for _, act := range ccActions {
		if act.Kind == ActionSendMessage {
			a.HandleMessage(act.Message)
		}
	}
	drain(a)
	assert.Equal(t, Leader, a.RoleValue())
}

func TestProposeCommandOnlyAdvancesOnLeader(t *testing.T) {
	c := New(1)
	c.CreateCluster([]NodeID{1})
	drain(c)
	c.HandleElectionTimeout()
	drain(c)
	require.Equal(t, Leader, c.RoleValue())

	// Index 1 is the initial ClusterConfig entry and index 2 the leader's
	// Term marker, so the first command lands at index 3.
	pos := c.ProposeCommand()
	assert.Equal(t, LogIndex(3), pos.Index)
}

func TestGetCommitStatusBoundaries(t *testing.T) {
	c := New(1)
	c.CreateCluster([]NodeID{1})
	drain(c)
	c.HandleElectionTimeout()
	drain(c)

	pos := c.ProposeCommand()
	// single-node cluster: the leader's own match satisfies quorum
	// immediately, with no peer reply to wait for.
	drain(c)
	assert.Equal(t, Committed, c.GetCommitStatus(pos))

	assert.Equal(t, Unknown, c.GetCommitStatus(LogPosition{Term: 0, Index: 0}))
	assert.Equal(t, InProgress, c.GetCommitStatus(LogPosition{Term: pos.Term, Index: pos.Index + 100}))
}

// electLeader runs the standard three-node vote exchange and returns the
// elected leader and its two followers.
func electLeader(t *testing.T) (leader, follower1, follower2 *Core) {
	t.Helper()
	a, b, cc := New(1), New(2), New(3)
	members := []NodeID{1, 2, 3}
	a.CreateCluster(members)
	b.CreateCluster(members)
	cc.CreateCluster(members)
	drain(a)
	drain(b)
	drain(cc)

	a.HandleElectionTimeout()
	actions := drain(a)
	var voteCall Message
	for _, act := range actions {
		if act.Kind == ActionBroadcastMessage {
			voteCall = act.Message
		}
	}
	require.Equal(t, MsgRequestVoteCall, voteCall.Kind)

	b.HandleMessage(voteCall)
	bActions := drain(b)
	cc.HandleMessage(voteCall)
	ccActions := drain(cc)

	for _, act := range bActions {
		if act.Kind == ActionSendMessage {
			a.HandleMessage(act.Message)
		}
	}
	for _, act := range ccActions {
		if act.Kind == ActionSendMessage {
			a.HandleMessage(act.Message)
		}
	}
	drain(a)
	require.Equal(t, Leader, a.RoleValue())
	return a, b, cc
}

func TestAppendEntriesReplyEchoesFollowerGeneration(t *testing.T) {
	leader, follower, _ := electLeader(t)
	follower.SetGeneration(7)

	leader.Heartbeat()
	var callToFollower Message
	for _, act := range drain(leader) {
		if act.Kind == ActionSendMessage && act.Dest == follower.ID() {
			callToFollower = act.Message
		}
	}
	require.Equal(t, MsgAppendEntriesCall, callToFollower.Kind)

	follower.HandleMessage(callToFollower)
	var reply Message
	for _, act := range drain(follower) {
		if act.Kind == ActionSendMessage {
			reply = act.Message
		}
	}
	require.Equal(t, MsgAppendEntriesReply, reply.Kind)
	assert.Equal(t, uint64(7), reply.Generation)
}

func TestStaleAppendEntriesReplyDiscarded(t *testing.T) {
	leader, follower, _ := electLeader(t)
	follower.SetGeneration(9)

	pos := leader.ProposeCommand()
	drain(leader)
	leader.Heartbeat()
	var callToFollower Message
	for _, act := range drain(leader) {
		if act.Kind == ActionSendMessage && act.Dest == follower.ID() {
			callToFollower = act.Message
		}
	}
	require.Equal(t, MsgAppendEntriesCall, callToFollower.Kind)

	follower.HandleMessage(callToFollower)
	var upToDateReply Message
	for _, act := range drain(follower) {
		if act.Kind == ActionSendMessage {
			upToDateReply = act.Message
		}
	}
	require.Equal(t, uint64(9), upToDateReply.Generation)

	leader.HandleMessage(upToDateReply)
	assert.Equal(t, Committed, leader.GetCommitStatus(pos))

	// A reply from an older incarnation of the follower arrives late,
	// reporting a position far behind what was already acknowledged. If
	// it were processed rather than discarded it would decrement the
	// follower's nextIndex and trigger a redundant AppendEntriesCall.
	staleReply := Message{
		Type:         MessageHeader{From: follower.ID(), Term: leader.CurrentTerm()},
		Kind:         MsgAppendEntriesReply,
		Generation:   3,
		LastPosition: LogPosition{Term: 0, Index: 0},
	}
	leader.HandleMessage(staleReply)
	assert.Empty(t, drain(leader))
	assert.Equal(t, Committed, leader.GetCommitStatus(pos))
}

func TestHandleSnapshotInstalledTruncatesPrefix(t *testing.T) {
	c := New(1)
	c.CreateCluster([]NodeID{1})
	drain(c)

	cfg := ClusterConfig{Voters: []NodeID{1}}
	c.HandleSnapshotInstalled(LogPosition{Term: 1, Index: 1}, cfg)
	assert.Equal(t, LogIndex(1), c.LastLogIndex())
	assert.Equal(t, LogIndex(1), c.CommitIndex())
}
