package node

import (
	"github.com/quorumkv/quorumkv/internal/raftcore"
	"github.com/quorumkv/quorumkv/pkg/conv"
	"github.com/quorumkv/quorumkv/pkg/jsonvalue"
)

// ActionKind tags a member of Node's public action stream.
type ActionKind int

const (
	ActionSetTimeout ActionKind = iota
	ActionAppendStorageEntry
	ActionBroadcastMessage
	ActionSendMessage
	ActionSendSnapshot
	ActionApply
	ActionNotifyEvent
)

// Action is one element of the action stream the host must drain and act
// upon: append to storage, send, broadcast, apply a committed command, or
// take a snapshot. Node never performs any of these itself.
type Action struct {
	Kind ActionKind

	Role raftcore.Role // ActionSetTimeout

	StorageValue jsonvalue.Value // ActionAppendStorageEntry

	WireValue jsonvalue.Value  // ActionBroadcastMessage, ActionSendMessage
	Dest      raftcore.NodeID  // ActionSendMessage, ActionSendSnapshot

	IsProposer bool              // ActionApply
	ProposalID conv.ProposalID  // ActionApply, valid iff IsProposer
	Index      raftcore.LogIndex // ActionApply
	Request    jsonvalue.Value   // ActionApply: the original request envelope

	Event string // ActionNotifyEvent
}

func (n *Node) pushAction(a Action) {
	n.actions = append(n.actions, a)
}

// NextAction pops the next pending action, or reports ok=false if none is
// currently pending. Callers should drain in a loop until ok is false.
// Every call that might have produced more work (a raftcore state change,
// a newly committed index, a resolved query) refills the queue once
// before reporting empty, so the pipeline stays correct across repeated
// calls rather than running only on the first drain after a mutation.
func (n *Node) NextAction() (Action, bool) {
	if len(n.actions) == 0 {
		n.refill()
		if len(n.actions) == 0 {
			return Action{}, false
		}
	}
	a := n.actions[0]
	n.actions = n.actions[1:]
	return a, true
}

// refill runs the heartbeat-on-commit check and translates any pending
// low-level raftcore actions plus commit/query emission, in the fixed
// order the action-ordering guarantees require.
func (n *Node) refill() {
	n.maybeHeartbeatOnCommit()
	n.translateCoreActions()
	n.emitCommitActions()
	n.emitQueryActions()
	n.enqueueAfterCommitActions()
}

func (n *Node) maybeHeartbeatOnCommit() {
	if n.appliedIndex < n.core.CommitIndex() && n.core.RoleValue() == raftcore.Leader {
		n.core.Heartbeat()
	}
}

func (n *Node) translateCoreActions() {
	for _, a := range n.core.DrainActions() {
		switch a.Kind {
		case raftcore.ActionSetElectionTimeout:
			n.pushAction(Action{Kind: ActionSetTimeout, Role: a.Role})
			if a.Role == raftcore.Leader {
				// RaftCore arms the timer with the Leader role when it
				// has just become leader.
				n.pushAction(Action{Kind: ActionNotifyEvent, Event: "leader.elected"})
			}
		case raftcore.ActionSaveCurrentTerm:
			v, err := n.fmtStorageTerm(a.Term)
			if err != nil {
				panic(err)
			}
			n.pushAction(Action{Kind: ActionAppendStorageEntry, StorageValue: v})
		case raftcore.ActionSaveVotedFor:
			v, err := n.fmtStorageVotedFor(a.VotedFor)
			if err != nil {
				panic(err)
			}
			n.pushAction(Action{Kind: ActionAppendStorageEntry, StorageValue: v})
		case raftcore.ActionAppendLogEntries:
			v, err := n.fmtStorageLogEntries(a.PrevPosition, a.Entries)
			if err != nil {
				panic(err)
			}
			n.pushAction(Action{Kind: ActionAppendStorageEntry, StorageValue: v})
		case raftcore.ActionBroadcastMessage:
			v, err := n.fmtMessage(a.Message)
			if err != nil {
				panic(err)
			}
			n.pushAction(Action{Kind: ActionBroadcastMessage, WireValue: v})
		case raftcore.ActionSendMessage:
			v, err := n.fmtMessage(a.Message)
			if err != nil {
				panic(err)
			}
			n.pushAction(Action{Kind: ActionSendMessage, Dest: a.Dest, WireValue: v})
		case raftcore.ActionInstallSnapshot:
			// Deferred: SendSnapshot needs the current applied user
			// machine, which only the host can supply, so it is queued
			// for after the commit actions below have run.
			n.afterCommit = append(n.afterCommit, Action{Kind: ActionSendSnapshot, Dest: a.Dest})
		}
	}
}

func (n *Node) enqueueAfterCommitActions() {
	n.actions = append(n.actions, n.afterCommit...)
	n.afterCommit = nil
}
