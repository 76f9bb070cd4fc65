// Package node implements Node, the consensus wrapper that layers onto
// RaftCore: proposal identity across restarts, leader-forwarding of
// writes and linearisable reads, cluster-membership learning, in-memory
// log trimming, and snapshot materialisation. Node is deterministic and
// performs no I/O; it only produces a stream of Actions for the host to
// perform.
package node

import (
	"fmt"
	"sort"

	"github.com/quorumkv/quorumkv/internal/raftcore"
	"github.com/quorumkv/quorumkv/pkg/conv"
	"github.com/quorumkv/quorumkv/pkg/jsonvalue"
)

type queryEntry struct {
	proposalID conv.ProposalID
	request    jsonvalue.Value
}

// Node is not safe for concurrent use; it is designed to live on a single
// owning goroutine alongside its LineFramedTcpSocket and FileStorage.
type Node struct {
	core *raftcore.Core

	generation uint64
	localSeqno uint64

	initialized  bool
	appliedIndex raftcore.LogIndex

	recentCommands conv.RecentCommands
	pendingQueries map[raftcore.LogPosition][]queryEntry

	// nodes is the membership state machine: the set of node ids recorded
	// as members by InitCluster, Load, InstallSnapshot, and committed
	// ClusterConfig entries.
	nodes map[raftcore.NodeID]bool

	actions     []Action
	afterCommit []Action
}

// Start creates an uninitialised node at generation 0, enqueuing the
// NodeGeneration(0) storage-append action.
func Start(id raftcore.NodeID) *Node {
	n := &Node{
		core:           raftcore.New(id),
		recentCommands: conv.RecentCommands{},
		pendingQueries: map[raftcore.LogPosition][]queryEntry{},
		nodes:          map[raftcore.NodeID]bool{},
	}
	v, err := conv.FmtStorageNodeGeneration(0)
	if err != nil {
		panic(fmt.Sprintf("node: bug: %v", err))
	}
	n.pushAction(Action{Kind: ActionAppendStorageEntry, StorageValue: v})
	return n
}

// ID returns the node's own identifier.
func (n *Node) ID() raftcore.NodeID { return n.core.ID() }

// Role returns the node's current Raft role.
func (n *Node) Role() raftcore.Role { return n.core.RoleValue() }

// Generation returns the node's current incarnation counter.
func (n *Node) Generation() uint64 { return n.generation }

// Initialized reports whether the node has joined a cluster, either via
// InitCluster, Load, or by receiving its first valid Raft message.
func (n *Node) Initialized() bool { return n.initialized }

// AppliedIndex returns the highest log index applied to the user machine
// so far.
func (n *Node) AppliedIndex() raftcore.LogIndex { return n.appliedIndex }

// CommitIndex returns the highest log index RaftCore currently considers
// committed.
func (n *Node) CommitIndex() raftcore.LogIndex { return n.core.CommitIndex() }

// LastLogIndex returns the index of the last entry in the in-memory log.
func (n *Node) LastLogIndex() raftcore.LogIndex { return n.core.LastLogIndex() }

// CurrentTerm returns RaftCore's current term.
func (n *Node) CurrentTerm() raftcore.Term { return n.core.CurrentTerm() }

// PeerCount returns the number of voting members in the current cluster
// configuration, counting joint-consensus sets as their union.
func (n *Node) PeerCount() int {
	cfg := n.core.Config()
	seen := map[raftcore.NodeID]bool{}
	for _, v := range cfg.Voters {
		seen[v] = true
	}
	for _, v := range cfg.NewVoters {
		seen[v] = true
	}
	return len(seen)
}

// InitCluster requires self to be a member of members; it transitions the
// node from uninitialised to a single-term leaderless follower with an
// initial ClusterConfig entry. Returns false if already initialised or if
// self is absent from members.
func (n *Node) InitCluster(members []raftcore.NodeID) bool {
	if n.initialized {
		return false
	}
	found := false
	for _, m := range members {
		if m == n.core.ID() {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	n.core.CreateCluster(members)
	for _, m := range members {
		n.nodes[m] = true
	}
	n.initialized = true
	return true
}

// HandleTimeout delegates to RaftCore's election-timeout handler.
func (n *Node) HandleTimeout() {
	n.core.HandleElectionTimeout()
}

func (n *Node) ensureInitialized() {
	if !n.initialized {
		n.initialized = true
	}
}

// nextProposalID allocates the next ProposalID for this incarnation,
// bumping local_seqno.
func (n *Node) nextProposalID() conv.ProposalID {
	n.localSeqno++
	return conv.ProposalID{NodeID: n.core.ID(), Generation: n.generation, LocalSeqno: n.localSeqno}
}

// isOwnProposal reports whether pid was issued by this node in its
// current incarnation.
func (n *Node) isOwnProposal(pid conv.ProposalID) bool {
	return pid.NodeID == n.core.ID() && pid.Generation == n.generation
}

func (n *Node) fmtMessage(msg raftcore.Message) (jsonvalue.Value, error) {
	return conv.FmtMessage(msg, n.recentCommands)
}

func (n *Node) fmtStorageTerm(term raftcore.Term) (jsonvalue.Value, error) {
	return conv.FmtStorageTerm(term)
}

func (n *Node) fmtStorageVotedFor(votedFor *raftcore.NodeID) (jsonvalue.Value, error) {
	return conv.FmtStorageVotedFor(votedFor)
}

func (n *Node) fmtStorageLogEntries(prev raftcore.LogPosition, entries []raftcore.EntryWithPosition) (jsonvalue.Value, error) {
	return conv.FmtStorageLogEntries(prev, entries, n.recentCommands)
}

func (n *Node) sortedNodes() []raftcore.NodeID {
	out := make([]raftcore.NodeID, 0, len(n.nodes))
	for id := range n.nodes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// maybeSyncMembership compares the membership machine's node set to the
// Raft config's voters and, if the leader is not already mid joint
// consensus, proposes a joint configuration (the current voters, with
// the node set as NewVoters). Only the joint entry is proposed here;
// neither Node nor RaftCore proposes the follow-up configuration that
// names the new voters alone.
func (n *Node) maybeSyncMembership() {
	if n.core.RoleValue() != raftcore.Leader {
		return
	}
	cfg := n.core.Config()
	if cfg.IsJoint() {
		return
	}
	want := n.sortedNodes()
	if sameVoters(cfg.Voters, want) {
		return
	}
	n.pushAction(Action{Kind: ActionNotifyEvent, Event: "config.joint"})
	n.core.ProposeConfig(raftcore.ClusterConfig{Voters: cfg.Voters, NewVoters: want})
}

func sameVoters(a, b []raftcore.NodeID) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]raftcore.NodeID(nil), a...)
	sb := append([]raftcore.NodeID(nil), b...)
	sort.Slice(sa, func(i, j int) bool { return sa[i] < sa[j] })
	sort.Slice(sb, func(i, j int) bool { return sb[i] < sb[j] })
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
