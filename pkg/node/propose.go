package node

import (
	"fmt"

	"github.com/quorumkv/quorumkv/internal/raftcore"
	"github.com/quorumkv/quorumkv/pkg/conv"
	"github.com/quorumkv/quorumkv/pkg/jsonvalue"
)

// ProposeCommand allocates a fresh ProposalID, wraps request in a
// Command::Apply envelope, and either appends it to the local log
// (leader) or forwards it to the known leader (follower). If no leader is
// known the proposal is silently dropped; the client is expected to
// notice via timeout.
func (n *Node) ProposeCommand(request jsonvalue.Value) conv.ProposalID {
	pid := n.nextProposalID()
	env, err := conv.ApplyEnvelope(pid, request)
	if err != nil {
		panic(fmt.Sprintf("node: bug: %v", err))
	}

	switch {
	case n.core.RoleValue() == raftcore.Leader:
		pos := n.core.ProposeCommand()
		n.recentCommands[pos.Index] = env
	case n.core.LeaderID() != nil:
		n.pushAction(Action{Kind: ActionSendMessage, Dest: *n.core.LeaderID(), WireValue: env})
	default:
		// dropped: no leader known, caller must treat as a timeout
	}
	return pid
}

// ProposeQuery implements Raft read-linearisability: on the leader, bind
// the query to the next position that will be broadcast (reusing a
// pending broadcast position is a batching optimisation this
// implementation does not attempt; every query appends its own
// Command::Query tag, which is correct but less efficient under high
// query concurrency). Non-leader callers forward via a two-hop
// Redirect/Proposed round trip so the proposing follower learns the
// committed position to wait for.
func (n *Node) ProposeQuery(request jsonvalue.Value) conv.ProposalID {
	pid := n.nextProposalID()

	switch {
	case n.core.RoleValue() == raftcore.Leader:
		pos := n.leaderQueryPosition()
		n.bindPendingQuery(pos, pid, request)
	case n.core.LeaderID() != nil:
		redirect, err := conv.RedirectMessage(n.core.ID(), pid, request)
		if err != nil {
			panic(fmt.Sprintf("node: bug: %v", err))
		}
		n.pushAction(Action{Kind: ActionSendMessage, Dest: *n.core.LeaderID(), WireValue: redirect})
	default:
		// dropped: no leader known
	}
	return pid
}

// leaderQueryPosition appends a Command::Query tag at a fresh log
// position and records its (bodyless) envelope, so emitCommitActions
// recognises the position as a Query marker rather than a missing entry.
func (n *Node) leaderQueryPosition() raftcore.LogPosition {
	pos := n.core.ProposeCommand()
	env, err := conv.QueryEnvelope()
	if err != nil {
		panic(fmt.Sprintf("node: bug: %v", err))
	}
	n.recentCommands[pos.Index] = env
	return pos
}

func (n *Node) bindPendingQuery(pos raftcore.LogPosition, pid conv.ProposalID, request jsonvalue.Value) {
	n.pendingQueries[pos] = append(n.pendingQueries[pos], queryEntry{proposalID: pid, request: request})
}

// handleRedirectedCommand processes a Command envelope forwarded from a
// non-leader node. If this node is the leader it accepts the proposal
// under the original ProposalID (preserving proposer identity); if it
// knows of a different leader it forwards the envelope there; otherwise
// it is dropped.
func (n *Node) handleRedirectedCommand(raw jsonvalue.Value) (bool, error) {
	env, err := conv.ParseCommandEnvelope(raw)
	if err != nil {
		return false, nil
	}
	if env.Type != "Apply" || env.ProposalID == nil {
		return false, nil
	}
	n.ensureInitialized()
	switch {
	case n.core.RoleValue() == raftcore.Leader:
		pos := n.core.ProposeCommand()
		n.recentCommands[pos.Index] = raw
	case n.core.LeaderID() != nil:
		n.pushAction(Action{Kind: ActionSendMessage, Dest: *n.core.LeaderID(), WireValue: raw})
	default:
		// dropped
	}
	return true, nil
}

// handleQueryMessage processes an inter-node QueryMessage: Redirect (a
// follower forwarding a query to the leader) or Proposed (the leader
// telling the forwarding follower which position to wait on).
func (n *Node) handleQueryMessage(raw jsonvalue.Value) (bool, error) {
	qm, err := conv.ParseQueryMessage(raw)
	if err != nil {
		return false, nil
	}
	n.ensureInitialized()
	request, err := jsonvalue.Raw(qm.Request)
	if err != nil {
		return false, fmt.Errorf("handle query message: %w", err)
	}
	switch qm.Type {
	case "Redirect":
		if n.core.RoleValue() == raftcore.Leader {
			pos := n.leaderQueryPosition()
			n.bindPendingQuery(pos, qm.ProposalID, request)
			proposed, err := conv.ProposedMessage(qm.ProposalID, pos, request)
			if err != nil {
				return false, fmt.Errorf("handle query message: %w", err)
			}
			from := raftcore.NodeID(0)
			if qm.From != nil {
				from = raftcore.NodeID(*qm.From)
			}
			n.pushAction(Action{Kind: ActionSendMessage, Dest: from, WireValue: proposed})
		} else if n.core.LeaderID() != nil {
			n.pushAction(Action{Kind: ActionSendMessage, Dest: *n.core.LeaderID(), WireValue: raw})
		}
	case "Proposed":
		if qm.Term == nil || qm.Index == nil {
			return false, fmt.Errorf("handle query message: Proposed missing position")
		}
		pos := raftcore.LogPosition{Term: raftcore.Term(*qm.Term), Index: raftcore.LogIndex(*qm.Index)}
		n.bindPendingQuery(pos, qm.ProposalID, request)
	}
	return true, nil
}
