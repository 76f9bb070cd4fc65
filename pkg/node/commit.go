package node

import (
	"fmt"

	"github.com/quorumkv/quorumkv/internal/raftcore"
)

// emitCommitActions walks every index between the last applied index and
// the current commit index, in order, emitting an Apply action for each
// committed Command::Apply entry. Command::Query markers are skipped here
// (their Apply fires through emitQueryActions instead); ClusterConfig and
// Term entries never produce an Apply action, but a committed
// ClusterConfig is folded into the membership machine and may complete a
// joint-consensus transition.
func (n *Node) emitCommitActions() {
	for idx := n.appliedIndex + 1; idx <= n.core.CommitIndex(); idx++ {
		ewp, ok := n.core.GetEntryAndPosition(idx)
		if !ok {
			break
		}
		switch ewp.Entry.Kind {
		case raftcore.EntryCommand:
			env, ok := n.recentCommands[idx]
			if !ok {
				panic(fmt.Sprintf("node: bug: committed command at index %d missing from RecentCommands", idx))
			}
			parsed, err := parseEnvelope(env)
			if err != nil {
				panic(fmt.Sprintf("node: bug: %v", err))
			}
			switch parsed.Type {
			case "Apply":
				isOwn := parsed.ProposalID != nil && n.isOwnProposal(*parsed.ProposalID)
				a := Action{
					Kind:       ActionApply,
					IsProposer: isOwn,
					Index:      idx,
					Request:    parsed.Request,
				}
				if isOwn {
					a.ProposalID = *parsed.ProposalID
				}
				n.pushAction(a)
			case "Query":
				// handled via pendingQueries / emitQueryActions
			default:
				panic(fmt.Sprintf("node: bug: unknown command envelope type %q at index %d", parsed.Type, idx))
			}
		case raftcore.EntryClusterConfig:
			n.applyClusterConfigCommit(ewp.Entry.Config)
		}
		n.appliedIndex = idx
	}
	n.maybeSyncMembership()
}

func (n *Node) applyClusterConfigCommit(cfg raftcore.ClusterConfig) {
	n.nodes = map[raftcore.NodeID]bool{}
	for _, v := range cfg.Voters {
		n.nodes[v] = true
	}
	if !cfg.IsJoint() {
		n.pushAction(Action{Kind: ActionNotifyEvent, Event: "config.settled"})
	}
}

// emitQueryActions drains pendingQueries in position order. A position
// still InProgress stops the scan (later positions cannot have committed
// ahead of it); Rejected or Unknown discards every entry bound to that
// position; Committed emits an Apply action for each.
func (n *Node) emitQueryActions() {
	for {
		pos, entries, ok := n.nextPendingQueryPosition()
		if !ok {
			return
		}
		status := n.core.GetCommitStatus(pos)
		if status == raftcore.InProgress {
			return
		}
		delete(n.pendingQueries, pos)
		if status == raftcore.Rejected || status == raftcore.Unknown {
			continue
		}
		for _, qe := range entries {
			// Only the proposing node answers a query; a leader that
			// tracked a redirected follower's query fires nothing here
			// (the follower learned the position via Proposed and emits
			// its own Apply on commit).
			if !n.isOwnProposal(qe.proposalID) {
				continue
			}
			n.pushAction(Action{
				Kind:       ActionApply,
				IsProposer: true,
				ProposalID: qe.proposalID,
				Index:      pos.Index,
				Request:    qe.request,
			})
		}
	}
}

func (n *Node) nextPendingQueryPosition() (raftcore.LogPosition, []queryEntry, bool) {
	var best raftcore.LogPosition
	found := false
	for pos := range n.pendingQueries {
		if !found || pos.Index < best.Index {
			best = pos
			found = true
		}
	}
	if !found {
		return raftcore.LogPosition{}, nil, false
	}
	return best, n.pendingQueries[best], true
}
